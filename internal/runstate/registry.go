package runstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
)

type activeRun struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type stopRequest struct {
	reason StopReason
	detail string
}

// Registry holds the live abort signals, pending stop reasons, and last
// broadcast state per dialog id.
type Registry struct {
	mu        sync.Mutex
	active    map[string]*activeRun
	stops     map[string]stopRequest
	last      map[string]State
	events    *bus.Bus
}

func NewRegistry(events *bus.Bus) *Registry {
	return &Registry{
		active: make(map[string]*activeRun),
		stops:  make(map[string]stopRequest),
		last:   make(map[string]State),
		events: events,
	}
}

// BeginRun registers the drive's abort signal for a dialog. Exactly one run
// may be live per dialog; a second registration is a driver bug.
func (r *Registry) BeginRun(parent context.Context, dialogID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.active[dialogID]; live {
		return nil, fmt.Errorf("dialog %s already has a live run", dialogID)
	}
	ctx, cancel := context.WithCancel(parent)
	r.active[dialogID] = &activeRun{ctx: ctx, cancel: cancel}
	return ctx, nil
}

// EndRun clears the dialog's abort signal. Safe to call when no run is live.
func (r *Registry) EndRun(dialogID string) {
	r.mu.Lock()
	run, ok := r.active[dialogID]
	delete(r.active, dialogID)
	r.mu.Unlock()
	if ok {
		run.cancel()
	}
}

// HasActiveRun reports whether a drive is in flight for the dialog.
func (r *Registry) HasActiveRun(dialogID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[dialogID]
	return ok
}

// RequestStop stores the stop reason and fires the abort signal if a run is
// live. Returns whether a run was interrupted in flight.
func (r *Registry) RequestStop(dialogID string, reason StopReason, detail string) bool {
	r.mu.Lock()
	r.stops[dialogID] = stopRequest{reason: reason, detail: detail}
	run, live := r.active[dialogID]
	r.mu.Unlock()

	slog.Info("stop requested", "dialog", dialogID, "reason", reason, "in_flight", live)
	if live {
		run.cancel()
	}
	return live
}

// StopReason returns the pending stop request, if any.
func (r *Registry) StopReason(dialogID string) (StopReason, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stops[dialogID]
	return s.reason, s.detail, ok
}

// ClearStop drops the stored stop request (on resume or fresh user input).
func (r *Registry) ClearStop(dialogID string) {
	r.mu.Lock()
	delete(r.stops, dialogID)
	r.mu.Unlock()
}

// InterruptionFor maps an abort into the interrupted state for this dialog.
// The broadcast variant must match the stored stop reason when one exists;
// aborts with no stored reason are system stops.
func (r *Registry) InterruptionFor(dialogID, fallbackDetail string) State {
	if reason, detail, ok := r.StopReason(dialogID); ok {
		return Interrupted(reason, detail)
	}
	return Interrupted(StopSystem, fallbackDetail)
}

// Broadcast publishes a run-state transition, deduplicating repeats.
func (r *Registry) Broadcast(rootID, dialogID string, st State) {
	r.mu.Lock()
	if prev, ok := r.last[dialogID]; ok && prev == st {
		r.mu.Unlock()
		return
	}
	r.last[dialogID] = st
	r.mu.Unlock()

	if r.events != nil {
		r.events.Publish(bus.Event{
			Type:     bus.EventRunState,
			RootID:   rootID,
			DialogID: dialogID,
			Payload:  st,
		})
	}
}

// LastBroadcast returns the most recently broadcast state for a dialog.
func (r *Registry) LastBroadcast(dialogID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.last[dialogID]
	return st, ok
}

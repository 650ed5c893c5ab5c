// Package sched runs the global drive scheduler: a single loop that turns
// needs-drive flags and queued requests into drive invocations, fanning out
// one goroutine per dialog.
package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/drive"
	"github.com/nextlevelbuilder/teamdrive/internal/runstate"
	"github.com/nextlevelbuilder/teamdrive/internal/store"
)

// DriveFunc invokes one drive; wired to Driver.DriveStream.
type DriveFunc func(ctx context.Context, d *dialog.Dialog, prompt *dialog.Prompt, flags drive.Flags) (*drive.Outputs, error)

// PostDriveFunc observes a finished drive; wired to the sub-dialog manager's
// answer delivery.
type PostDriveFunc func(d *dialog.Dialog, req drive.Request, out *drive.Outputs)

// Scheduler serializes drive dispatch per dialog while letting distinct
// dialogs drive in parallel.
type Scheduler struct {
	Arena     *dialog.Arena
	Store     *store.Store
	Drive     DriveFunc
	PostDrive PostDriveFunc

	mu       sync.Mutex
	queue    []drive.Request
	flagged  map[string]bool
	inFlight map[string]bool
	trigger  chan struct{}

	wg sync.WaitGroup
}

func New(arena *dialog.Arena, st *store.Store, driveFn DriveFunc) *Scheduler {
	return &Scheduler{
		Arena:    arena,
		Store:    st,
		Drive:    driveFn,
		flagged:  make(map[string]bool),
		inFlight: make(map[string]bool),
		trigger:  make(chan struct{}, 1),
	}
}

func (s *Scheduler) wake() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// MarkNeedsDrive flags a dialog for a scheduler-initiated drive.
func (s *Scheduler) MarkNeedsDrive(dialogID string) {
	s.mu.Lock()
	s.flagged[dialogID] = true
	s.mu.Unlock()
	s.wake()
}

// Enqueue schedules an explicit drive request, such as a freshly spawned
// sub-dialog's assignment.
func (s *Scheduler) Enqueue(req drive.Request) {
	s.mu.Lock()
	s.queue = append(s.queue, req)
	s.mu.Unlock()
	s.wake()
}

// Run dispatches until ctx is cancelled, then waits for in-flight drives.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-s.trigger:
		}
		for _, req := range s.collect() {
			s.dispatch(ctx, req)
		}
	}
}

// collect drains the explicit queue and converts flags into nil-prompt
// requests, skipping dialogs already in flight.
func (s *Scheduler) collect() []drive.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []drive.Request
	var keep []drive.Request
	for _, req := range s.queue {
		if s.inFlight[req.DialogID] {
			keep = append(keep, req)
			continue
		}
		s.inFlight[req.DialogID] = true
		out = append(out, req)
	}
	s.queue = keep

	for id := range s.flagged {
		if s.inFlight[id] {
			continue
		}
		delete(s.flagged, id)
		s.inFlight[id] = true
		out = append(out, drive.Request{
			DialogID: id,
			Flags:    drive.Flags{WaitInQueue: true},
		})
	}
	return out
}

func (s *Scheduler) dispatch(ctx context.Context, req drive.Request) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, req.DialogID)
			more := s.flagged[req.DialogID]
			s.mu.Unlock()
			if more {
				s.wake()
			}
		}()
		s.runOne(ctx, req)
	}()
}

func (s *Scheduler) runOne(ctx context.Context, req drive.Request) {
	d, err := s.Arena.Get(req.DialogID)
	if err != nil {
		slog.Warn("sched: unknown dialog", "dialog", req.DialogID)
		return
	}

	// Interrupted and stop-requested dialogs never restart from the
	// scheduler; their flag is consumed so they stay parked until the
	// operator resumes them.
	latest, err := s.Store.LoadLatest(d.ID.Self)
	if err != nil {
		slog.Error("sched: load latest failed", "dialog", d.ID.Self, "error", err)
		return
	}
	if req.Prompt == nil && !req.Flags.AllowResumeFromInterrupted {
		switch latest.RunState.Kind {
		case runstate.KindInterrupted, runstate.KindProceedingStopRequested:
			s.clearFlag(d.ID.Self)
			return
		}
	}

	out, err := s.Drive(ctx, d, req.Prompt, req.Flags)
	switch {
	case err == nil:
		s.clearFlag(d.ID.Self)
	case errors.Is(err, drive.ErrDialogBusy):
		// Re-flag; the in-flight drive's post pass will pick it up.
		s.MarkNeedsDrive(d.ID.Self)
		return
	default:
		if _, ok := runstate.AsInterrupted(err); ok {
			s.clearFlag(d.ID.Self)
		} else {
			slog.Error("sched: drive failed", "dialog", d.ID.Self, "error", err)
		}
	}

	if s.PostDrive != nil && out != nil {
		s.PostDrive(d, req, out)
	}
}

func (s *Scheduler) clearFlag(dialogID string) {
	if _, err := s.Store.MutateLatest(dialogID, func(st *store.LatestState) {
		st.NeedsDrive = false
	}); err != nil {
		slog.Warn("sched: clear needs-drive failed", "dialog", dialogID, "error", err)
	}
}

// Restore re-flags dialogs whose persisted snapshot still carries needs-drive,
// used at process start.
func (s *Scheduler) Restore() {
	for _, d := range s.Arena.All() {
		latest, err := s.Store.LoadLatest(d.ID.Self)
		if err == nil && latest.NeedsDrive {
			s.MarkNeedsDrive(d.ID.Self)
		}
	}
}

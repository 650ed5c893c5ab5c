// Package bus is the typed, fire-and-forget event channel between the driver
// core and its observers (control server, CLI, tests).
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Event types published by the driver.
const (
	EventRunState          = "dlg_run_state_evt"
	EventNewQ4H            = "new_q4h_asked"
	EventQ4HAnswered       = "q4h_answered"
	EventDiligenceBudget   = "diligence_budget_evt"
	EventLLMRetry          = "llm_retry_evt"
	EventTeammateCallStart = "teammate_call_start_evt"
	EventGeneratingStart   = "generating_start_evt"
	EventGeneratingFinish  = "generating_finish_evt"
	EventDebug             = "debug_evt"
)

// Event is one dialog lifecycle notification.
type Event struct {
	Type     string    `json:"type"`
	RootID   string    `json:"root_id"`
	DialogID string    `json:"dialog_id"`
	Payload  any       `json:"payload,omitempty"`
	At       time.Time `json:"at"`
}

type subscriber struct {
	rootID string // empty = all roots
	ch     chan Event
}

// Bus delivers events to per-root and global subscribers. Publish never
// blocks: a subscriber that falls behind loses events (its buffer drops the
// newest) rather than stalling the driver.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe returns a channel of events for one root dialog, or for every
// dialog when rootID is empty. The returned cancel func closes the channel
// (the close is the end-of-stream sentinel).
func (b *Bus) Subscribe(rootID string) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	sub := &subscriber{rootID: rootID, ch: make(chan Event, 256)}
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish fans the event out to matching subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.rootID != "" && sub.rootID != ev.RootID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			slog.Debug("bus: subscriber full, dropping event", "type", ev.Type, "root", ev.RootID)
		}
	}
}

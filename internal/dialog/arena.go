package dialog

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Arena owns every dialog in the process, keyed by self id. Sub-dialogs keep
// only their caller's id (SupdialogID) and are resolved on demand, so there is
// no cyclic root↔sub ownership.
type Arena struct {
	mu      sync.RWMutex
	dialogs map[string]*Dialog
}

func NewArena() *Arena {
	return &Arena{dialogs: make(map[string]*Dialog)}
}

// CreateRoot opens a new root dialog owned by agentID.
func (a *Arena) CreateRoot(agentID string) *Dialog {
	id := uuid.NewString()
	d := &Dialog{
		ID:      ID{Self: id, Root: id},
		AgentID: agentID,
		Status:  StatusRunning,
		Course:  1,
	}
	a.mu.Lock()
	a.dialogs[id] = d
	a.mu.Unlock()
	return d
}

// CreateSub opens a sub-dialog under the given root, spawned by caller.
func (a *Arena) CreateSub(rootID, callerID, agentID string) *Dialog {
	d := &Dialog{
		ID:          ID{Self: uuid.NewString(), Root: rootID},
		AgentID:     agentID,
		SupdialogID: callerID,
		Status:      StatusRunning,
		Course:      1,
	}
	a.mu.Lock()
	a.dialogs[d.ID.Self] = d
	a.mu.Unlock()
	return d
}

// Get resolves a dialog by self id.
func (a *Arena) Get(selfID string) (*Dialog, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d, ok := a.dialogs[selfID]
	if !ok {
		return nil, fmt.Errorf("dialog %s not found", selfID)
	}
	return d, nil
}

// Supdialog resolves the caller of a sub-dialog, or nil for roots.
func (a *Arena) Supdialog(d *Dialog) (*Dialog, error) {
	if d.SupdialogID == "" {
		return nil, nil
	}
	return a.Get(d.SupdialogID)
}

// Roots returns all root dialogs.
func (a *Arena) Roots() []*Dialog {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*Dialog
	for _, d := range a.dialogs {
		if d.ID.IsRoot() {
			out = append(out, d)
		}
	}
	return out
}

// All returns every dialog in the arena.
func (a *Arena) All() []*Dialog {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Dialog, 0, len(a.dialogs))
	for _, d := range a.dialogs {
		out = append(out, d)
	}
	return out
}

// Package subdialog creates child dialogs for teammate calls, persists their
// pending anchor records, and delivers terminal answers back to the caller's
// tool-result slot.
package subdialog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/drive"
	"github.com/nextlevelbuilder/teamdrive/internal/mindset"
	"github.com/nextlevelbuilder/teamdrive/internal/provider"
	"github.com/nextlevelbuilder/teamdrive/internal/runstate"
	"github.com/nextlevelbuilder/teamdrive/internal/store"
)

// Call types persisted on pending records.
const (
	CallTypeSessionless = "A" // tellask_sessionless: fresh child, caller suspends
	CallTypeSession     = "B" // tellask: reusable session child
	CallTypeBack        = "C" // tellask_back: sub-dialog addressing its caller
)

// Queue schedules drives; implemented by the global scheduler.
type Queue interface {
	Enqueue(req drive.Request)
	MarkNeedsDrive(dialogID string)
}

// Manager is the sub-dialog fan-out and reply plumbing.
type Manager struct {
	Arena  *dialog.Arena
	Minds  *mindset.Loader
	Store  *store.Store
	Events *bus.Bus
	Queue  Queue
}

func (m *Manager) publish(d *dialog.Dialog, typ string, payload any) {
	if m.Events != nil {
		m.Events.Publish(bus.Event{Type: typ, RootID: d.ID.Root, DialogID: d.ID.Self, Payload: payload})
	}
}

func (m *Manager) roster(targetID string) (*mindset.Member, error) {
	team, err := m.Minds.Team()
	if err != nil {
		return nil, err
	}
	member, ok := team.Member(targetID)
	if !ok {
		return nil, fmt.Errorf("agent %q is not on the team roster", targetID)
	}
	return member, nil
}

// assignmentPrompt formats the child's opening prompt.
func assignmentPrompt(callerAgent, content string) string {
	return fmt.Sprintf("Assignment from teammate %s:\n\n%s", callerAgent, content)
}

func (m *Manager) appendPending(caller *dialog.Dialog, sub *dialog.Dialog, callID, callType, target, content string) error {
	return m.Store.WithRootTxn(caller.ID.Root, func() error {
		return m.Store.AppendPendingSubdialog(store.PendingSubdialog{
			SubdialogID:    sub.ID.Self,
			CallerDialogID: caller.ID.Self,
			CallID:         callID,
			CallType:       callType,
			TargetAgentID:  target,
			TellaskContent: content,
			Course:         caller.Course,
			CreatedAt:      time.Now(),
		})
	})
}

// SpawnSessionless implements the drive.Spawner hook for tellask_sessionless.
func (m *Manager) SpawnSessionless(ctx context.Context, caller *dialog.Dialog, call provider.ToolCall, args map[string]any) error {
	target, _ := args["target_agent_id"].(string)
	content, _ := args["tellask_content"].(string)
	if _, err := m.roster(target); err != nil {
		return err
	}

	sub := m.Arena.CreateSub(caller.ID.Root, caller.ID.Self, target)
	if err := m.appendPending(caller, sub, call.ID, CallTypeSessionless, target, content); err != nil {
		return err
	}
	if _, err := m.Store.MutateLatest(sub.ID.Self, func(st *store.LatestState) {
		st.Status = string(dialog.StatusRunning)
		st.RunState = runstate.Idle()
	}); err != nil {
		return err
	}

	slog.Info("subdialog spawned", "caller", caller.ID.Self, "sub", sub.ID.Self, "agent", target)
	m.Queue.Enqueue(drive.Request{
		DialogID: sub.ID.Self,
		Prompt: &dialog.Prompt{
			Content: assignmentPrompt(caller.AgentID, content),
			Origin:  dialog.OriginUser,
		},
		Flags: drive.Flags{SuppressDiligencePush: true, WaitInQueue: true},
	})
	return nil
}

// SpawnSession implements the drive.Spawner hook for tellask. An existing
// running session child for the same caller/target pair is reused.
func (m *Manager) SpawnSession(ctx context.Context, caller *dialog.Dialog, call provider.ToolCall, args map[string]any) error {
	target, _ := args["target_agent_id"].(string)
	content, _ := args["tellask_content"].(string)
	if _, err := m.roster(target); err != nil {
		return err
	}

	var sub *dialog.Dialog
	for _, cand := range m.Arena.All() {
		if cand.SupdialogID == caller.ID.Self && cand.AgentID == target && cand.Status == dialog.StatusRunning {
			sub = cand
			break
		}
	}
	if sub == nil {
		sub = m.Arena.CreateSub(caller.ID.Root, caller.ID.Self, target)
	}
	if err := m.appendPending(caller, sub, call.ID, CallTypeSession, target, content); err != nil {
		return err
	}

	m.Queue.Enqueue(drive.Request{
		DialogID: sub.ID.Self,
		Prompt: &dialog.Prompt{
			Content: assignmentPrompt(caller.AgentID, content),
			Origin:  dialog.OriginUser,
		},
		Flags: drive.Flags{SuppressDiligencePush: true, WaitInQueue: true},
	})
	return nil
}

// TellaskBack routes a sub-dialog's question to its caller. The caller's
// eventual answer is steered back to this call slot via the reply target.
func (m *Manager) TellaskBack(ctx context.Context, caller *dialog.Dialog, call provider.ToolCall, args map[string]any) error {
	content, _ := args["tellask_content"].(string)
	sup, err := m.Arena.Supdialog(caller)
	if err != nil {
		return err
	}
	if sup == nil {
		return fmt.Errorf("tellask_back from a root dialog")
	}
	// The asking sub-dialog holds the pending record: it is the one waiting,
	// and the caller's eventual answer is matched against its list.
	if err := m.appendPending(caller, sup, call.ID, CallTypeBack, sup.AgentID, content); err != nil {
		return err
	}

	m.Queue.Enqueue(drive.Request{
		DialogID: sup.ID.Self,
		Prompt: &dialog.Prompt{
			Content: assignmentPrompt(caller.AgentID, content),
			Origin:  dialog.OriginUser,
			SubdialogReplyTarget: &dialog.ReplyTarget{
				OwnerDialogID: caller.ID.Self,
				CallType:      CallTypeBack,
				CallID:        call.ID,
			},
		},
		Flags: drive.Flags{SuppressDiligencePush: true, WaitInQueue: true},
	})
	return nil
}

var _ drive.Spawner = (*Manager)(nil)

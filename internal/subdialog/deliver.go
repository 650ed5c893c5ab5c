package subdialog

import (
	"fmt"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/drive"
	"github.com/nextlevelbuilder/teamdrive/internal/runstate"
	"github.com/nextlevelbuilder/teamdrive/internal/store"

	"log/slog"
)

// DeliverAnswer inspects a finished sub-dialog drive and, when its last saying
// is a terminal answer, materializes it into the caller's pending tool-call
// slot. Returns without error when nothing is deliverable yet.
func (m *Manager) DeliverAnswer(sub *dialog.Dialog, replyTarget *dialog.ReplyTarget, out *drive.Outputs) error {
	if out == nil || out.LastSayingContent == "" {
		return nil
	}
	// Roots only reply through an explicit reply target (a tellask_back they
	// were driven to answer).
	if sub.ID.IsRoot() && replyTarget == nil {
		return nil
	}

	// A queued follow-up or an open human question means the sub-dialog is
	// not done; its eventual final saying will be delivered later.
	if sub.HasUpNext() || m.Store.HasOpenQ4H(sub.ID.Self) {
		return nil
	}

	// Tool calls after the last saying mean work is still in flight. The one
	// exception is nested delegation: the sub-dialog ended its drive by
	// tellasking another teammate, and its saying still stands as the answer.
	if out.LastFunctionCallGenseq > out.LastSayingGenseq && !tailCallsAreTellask(sub, out.LastSayingGenseq) {
		return nil
	}

	if out.LastSayingGenseq <= 0 {
		return fmt.Errorf("subdialog %s produced saying content without a generation sequence", sub.ID.Self)
	}

	answer := out.LastSayingContent

	// Targeted delivery: a reply target pins the answer to a specific call
	// slot on a specific owner dialog.
	if replyTarget != nil {
		owner, err := m.Arena.Get(replyTarget.OwnerDialogID)
		if err == nil {
			delivered, err := m.deliverTo(owner, sub, replyTarget.CallID, answer)
			if err != nil {
				return err
			}
			if delivered {
				return nil
			}
		}
	}

	// Assigned-caller delivery: find the caller's pending record for this sub.
	sup, err := m.Arena.Supdialog(sub)
	if err != nil || sup == nil {
		m.diagnoseUndelivered(sub, answer)
		return nil
	}
	delivered, err := m.deliverTo(sup, sub, "", answer)
	if err != nil {
		return err
	}
	if !delivered {
		m.diagnoseUndelivered(sub, answer)
	}
	return nil
}

// deliverTo appends the answer into caller's log against the pending record
// for sub (optionally restricted to callID), removes the record, and flags the
// caller for a drive. Returns false when no matching record exists.
func (m *Manager) deliverTo(caller *dialog.Dialog, sub *dialog.Dialog, callID, answer string) (bool, error) {
	var rec *store.PendingSubdialog
	err := m.Store.WithRootTxn(caller.ID.Root, func() error {
		recs, err := m.Store.PendingSubdialogs(caller.ID.Self)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if r.SubdialogID != sub.ID.Self {
				continue
			}
			if callID != "" && r.CallID != callID {
				continue
			}
			removed, err := m.Store.RemovePendingSubdialog(caller.ID.Self, r.SubdialogID)
			if err != nil {
				return err
			}
			rec = removed
			return nil
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	// The caller may be mid-drive; the lock serializes the log append.
	caller.Lock()
	genseq := caller.Genseq()
	caller.Append(
		dialog.TellaskResult(rec.CallID, answer, genseq, caller.Course),
		dialog.FuncResult(rec.CallID, dialog.ToolTellask, answer, genseq, caller.Course),
	)
	caller.Unlock()

	if rec.CallType == CallTypeSessionless {
		m.retire(sub)
	}

	// A caller parked blocked on this record becomes drivable again once the
	// record is gone; recompute its run state from the remaining inventory.
	unblocked := runstate.ComputeIdle(
		m.Store.HasOpenQ4H(caller.ID.Self),
		m.Store.HasPendingSubdialogs(caller.ID.Self),
	)
	var wasBlocked bool
	if _, err := m.Store.MutateLatest(caller.ID.Self, func(st *store.LatestState) {
		st.NeedsDrive = true
		if st.RunState.Kind == runstate.KindBlocked {
			wasBlocked = true
			st.RunState = unblocked
		}
	}); err != nil {
		slog.Warn("subdialog: flag caller needs-drive failed", "caller", caller.ID.Self, "error", err)
	} else if wasBlocked {
		m.publish(caller, bus.EventRunState, unblocked)
	}
	m.Queue.MarkNeedsDrive(caller.ID.Self)

	slog.Info("subdialog answer delivered",
		"sub", sub.ID.Self, "caller", caller.ID.Self, "call_id", rec.CallID, "call_type", rec.CallType)
	return true, nil
}

// retire marks a sessionless sub-dialog dead once its answer has landed.
func (m *Manager) retire(sub *dialog.Dialog) {
	sub.Status = dialog.StatusCompleted
	if _, err := m.Store.MutateLatest(sub.ID.Self, func(st *store.LatestState) {
		st.Status = string(dialog.StatusCompleted)
		st.RunState = runstate.Dead()
	}); err != nil {
		slog.Warn("subdialog: retire failed", "sub", sub.ID.Self, "error", err)
	}
	m.publish(sub, bus.EventRunState, runstate.Dead())
}

// diagnoseUndelivered publishes a debug event with the pending inventory so a
// lost answer is observable without crashing the run.
func (m *Manager) diagnoseUndelivered(sub *dialog.Dialog, answer string) {
	inventory := map[string][]store.PendingSubdialog{}
	if sup, err := m.Arena.Supdialog(sub); err == nil && sup != nil {
		if recs, err := m.Store.PendingSubdialogs(sup.ID.Self); err == nil {
			inventory[sup.ID.Self] = recs
		}
	}
	slog.Warn("subdialog answer had no pending record", "sub", sub.ID.Self)
	m.publish(sub, bus.EventDebug, map[string]any{
		"reason":            "subdialog_answer_unmatched",
		"subdialog_id":      sub.ID.Self,
		"answer_preview":    preview(answer, 120),
		"pending_inventory": inventory,
	})
}

// tailCallsAreTellask reports whether every func_call after afterGenseq is a
// teammate-call tool.
func tailCallsAreTellask(sub *dialog.Dialog, afterGenseq int64) bool {
	sawCall := false
	for _, msg := range sub.Messages() {
		if msg.Kind != dialog.KindFuncCall || msg.Genseq <= afterGenseq {
			continue
		}
		if !dialog.IsTellaskName(msg.CallName) {
			return false
		}
		sawCall = true
	}
	return sawCall
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

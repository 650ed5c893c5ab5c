package drive

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/store"
)

// Q4HKindBudgetExhausted marks the human question raised when the keep-going
// budget runs out.
const Q4HKindBudgetExhausted = "keep_going_budget_exhausted"

const budgetExhaustedText = "The keep-going budget for this dialog is exhausted. " +
	"Answer this question to let me continue, or start a new request."

// nextDiligence decides whether to auto-continue the dialog. Returns a
// synthetic prompt to keep driving, or exhausted=true when the budget ran out
// and a human question was raised. Both nil/false means diligence is disabled
// or spent quietly.
func (dr *Driver) nextDiligence(d *dialog.Dialog, flags Flags, lang string) (p *dialog.Prompt, exhausted bool, err error) {
	if !d.ID.IsRoot() || d.DisableDiligencePush || flags.SuppressDiligencePush {
		return nil, false, nil
	}

	text, disabled := dr.Minds.DiligenceText(lang)
	if disabled {
		return nil, false, nil
	}

	team, err := dr.Minds.Team()
	if err != nil {
		return nil, false, err
	}
	max := team.DiligencePushMax(d.AgentID)

	latest, err := dr.Store.LoadLatest(d.ID.Self)
	if err != nil {
		return nil, false, err
	}
	remaining := max
	if latest.DiligencePushRemainingBudget != nil {
		remaining = *latest.DiligencePushRemainingBudget
	}

	switch {
	case max < 1 && remaining < 1:
		// Disabled outright; no event.
		return nil, false, nil

	case max >= 1 && min(remaining, max) < 1:
		// Budget spent: raise a human question and stop pushing.
		q := store.Q4H{
			ID:             "q4h-" + uuid.NewString()[:8],
			TellaskContent: budgetExhaustedText,
			AskedAt:        time.Now(),
			Course:         d.Course,
			MessageIndex:   d.MessageCount(),
			Kind:           Q4HKindBudgetExhausted,
		}
		if err := dr.Store.AppendQ4H(d.ID.Self, q); err != nil {
			return nil, false, err
		}
		remaining = 0
		if err := dr.persistBudget(d, remaining); err != nil {
			return nil, false, err
		}
		dr.publish(d, bus.EventNewQ4H, map[string]any{"q4h_id": q.ID, "kind": q.Kind})
		dr.publishBudget(d, max, remaining)
		slog.Info("diligence budget exhausted", "dialog", d.ID.Self, "q4h", q.ID)
		return nil, true, nil

	default:
		remaining--
		if err := dr.persistBudget(d, remaining); err != nil {
			return nil, false, err
		}
		dr.publishBudget(d, max, remaining)
		return &dialog.Prompt{Content: text, Origin: dialog.OriginDiligencePush}, false, nil
	}
}

func (dr *Driver) persistBudget(d *dialog.Dialog, remaining int) error {
	_, err := dr.Store.MutateLatest(d.ID.Self, func(st *store.LatestState) {
		r := remaining
		st.DiligencePushRemainingBudget = &r
	})
	return err
}

func (dr *Driver) publishBudget(d *dialog.Dialog, max, remaining int) {
	injected := max - remaining
	if injected < 0 {
		injected = 0
	}
	dr.publish(d, bus.EventDiligenceBudget, map[string]any{
		"max_inject_count": max,
		"injected_count":   injected,
		"remaining_count":  remaining,
	})
}

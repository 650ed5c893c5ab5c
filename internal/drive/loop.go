package drive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/policy"
	"github.com/nextlevelbuilder/teamdrive/internal/provider"
)

const cautionRemediationText = "Context health has entered caution: the conversation is close to the " +
	"model's optimal window. Summarize intermediate results, drop stale detail, and prefer compact tool output."

// generation collects everything one model call produced.
type generation struct {
	mu       sync.Mutex
	thinking strings.Builder
	saying   strings.Builder
	calls    []provider.ToolCall
}

func (g *generation) receiver() *provider.Receiver {
	return &provider.Receiver{
		OnThinkingChunk: func(s string) {
			g.mu.Lock()
			g.thinking.WriteString(s)
			g.mu.Unlock()
		},
		OnSayingChunk: func(s string) {
			g.mu.Lock()
			g.saying.WriteString(s)
			g.mu.Unlock()
		},
		OnToolCall: func(tc provider.ToolCall) {
			g.mu.Lock()
			g.calls = append(g.calls, tc)
			g.mu.Unlock()
		},
	}
}

// iterate is the drive loop body: generations alternate with tool rounds
// until a break condition is reached.
func (dr *Driver) iterate(ctx context.Context, d *dialog.Dialog, prompt *dialog.Prompt, flags Flags, out *Outputs) error {
	lang := dr.DefaultLang
	if prompt != nil && prompt.UserLanguageCode != "" {
		lang = prompt.UserLanguageCode
	}

	llmCfg, err := dr.Minds.LLM()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	modelCfg, _ := llmCfg.Model("")

	pending := prompt
	lastRoundHadResults := false

	for iteration := 1; ; iteration++ {
		if err := dr.checkAbort(ctx, d); err != nil {
			return err
		}
		genseq := d.NextGenseq()

		// Caution remediation: one synthetic prompt per dialog instance,
		// only after a tool round while the snapshot reads caution.
		if lastRoundHadResults && !d.CautionInjected() &&
			d.Health != nil && !d.Health.Unavailable && d.Health.Level == provider.HealthCaution {
			remediation := dialog.Prompt{Content: cautionRemediationText, Origin: dialog.OriginHealth}
			if pending == nil {
				pending = &remediation
			} else {
				d.PushUpNext(remediation)
			}
			d.MarkCautionInjected()
			slog.Info("drive: caution remediation injected", "dialog", d.ID.Self)
		}

		eff, err := dr.Policy.Build(d, dr.Tools, lang)
		if err != nil {
			return err
		}

		// Persist the pending prompt before generating.
		if pending != nil {
			if len(pending.Q4HAnswerCallIDs) > 0 {
				d.Append(dialog.Message{
					Kind:    dialog.KindEnvironment,
					Role:    dialog.RoleUser,
					Content: fmt.Sprintf("The operator's next message answers open question %s.", strings.Join(pending.Q4HAnswerCallIDs, ", ")),
					Genseq:  genseq,
					Course:  d.Course,
				})
			}
			d.Append(dialog.Prompting(pending.Content, genseq, d.Course))
			if pending.SubdialogReplyTarget != nil {
				d.Append(dialog.Message{
					Kind:    dialog.KindCallAnchor,
					Content: fmt.Sprintf("reply target %s/%s on %s", pending.SubdialogReplyTarget.CallType, pending.SubdialogReplyTarget.CallID, pending.SubdialogReplyTarget.OwnerDialogID),
					CallID:  pending.SubdialogReplyTarget.CallID,
					Genseq:  genseq,
					Course:  d.Course,
				})
			}
			pending = nil
		}

		ctxMsgs := dr.assembleContext(d, eff, lang)

		req := provider.GenRequest{
			SystemPrompt: eff.SystemPrompt,
			Messages:     ctxMsgs,
			Tools:        eff.Tools.Defs(),
			Model:        llmCfg.DefaultModel,
			Genseq:       genseq,
		}

		genCtx, genSpan := dr.tracer().Start(ctx, "generation",
			trace.WithAttributes(
				attribute.String("dialog.id", d.ID.Self),
				attribute.Int64("genseq", genseq),
			))

		dr.publish(d, bus.EventGeneratingStart, map[string]any{"genseq": genseq})
		gen := &generation{}
		res, genErr := dr.Caller.GenToReceiver(genCtx, d.ID.Self, req, gen.receiver())
		dr.publish(d, bus.EventGeneratingFinish, map[string]any{"genseq": genseq})
		genSpan.End()

		if genErr != nil {
			if ctx.Err() != nil {
				return dr.abortErr(d)
			}
			return fmt.Errorf("LLM failed: %w", genErr)
		}

		// Context-health projection after every generation.
		var meta *provider.ModelMeta
		if modelCfg != nil {
			meta = modelCfg.Meta()
		}
		health := provider.EvaluateHealth(res.Usage, meta)
		d.Health = &health

		// Persist the assistant output.
		if t := gen.thinking.String(); t != "" {
			d.Append(dialog.Message{Kind: dialog.KindThinking, Role: dialog.RoleAssistant, Content: t, Genseq: genseq, Course: d.Course})
		}
		if s := gen.saying.String(); s != "" {
			d.Append(dialog.Saying(s, genseq, d.Course))
			out.LastSayingContent = s
			out.LastSayingGenseq = genseq
		}

		// Policy check: tool-less generation where the policy mandates one.
		if kind := eff.CheckViolation(gen.calls); kind != policy.ViolationNone {
			text := policy.ViolationText(kind)
			d.Append(dialog.Saying(text, genseq, d.Course))
			out.LastSayingContent = text
			out.LastSayingGenseq = genseq
			slog.Warn("drive: policy violation ended drive", "dialog", d.ID.Self, "kind", kind)
			return nil
		}

		// Tool round.
		suspend, err := dr.executeToolRound(ctx, d, eff, gen.calls, genseq)
		if err != nil {
			return err
		}
		if suspend {
			return nil
		}
		lastRoundHadResults = len(gen.calls) > 0

		// Decision: queued prompt > tool results to observe > diligence.
		if next := d.PopUpNext(); next != nil {
			pending = next
			continue
		}
		if lastRoundHadResults {
			continue
		}

		dp, exhausted, err := dr.nextDiligence(d, flags, lang)
		if err != nil {
			return err
		}
		if exhausted {
			return nil
		}
		if dp != nil {
			pending = dp
			continue
		}
		return nil
	}
}

// assembleContext builds the provider message array in the fixed order:
// prepended policy context, projected dialog log, current reminders,
// language-preference guide.
func (dr *Driver) assembleContext(d *dialog.Dialog, eff *policy.Effective, lang string) []provider.Message {
	var msgs []provider.Message
	for _, m := range eff.Prepended {
		msgs = append(msgs, provider.Message{Role: dialog.RoleUser, Content: m.Content})
	}
	msgs = append(msgs, dialog.ProjectForProvider(d.Messages(), "")...)
	if rems := d.Reminders(); len(rems) > 0 {
		var sb strings.Builder
		sb.WriteString("Current reminders:\n")
		for _, r := range rems {
			fmt.Fprintf(&sb, "- [%s] %s\n", r.ID, r.Content)
		}
		msgs = append(msgs, provider.Message{Role: dialog.RoleUser, Content: sb.String()})
	}
	if lang != "" {
		msgs = append(msgs, provider.Message{
			Role:    dialog.RoleUser,
			Content: fmt.Sprintf("Reply in the operator's preferred language: %s.", lang),
		})
	}
	return msgs
}

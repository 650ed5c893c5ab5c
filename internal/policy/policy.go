// Package policy builds the effective system prompt and tool list for a drive
// and detects policy violations in model output.
package policy

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/mindset"
	"github.com/nextlevelbuilder/teamdrive/internal/provider"
	"github.com/nextlevelbuilder/teamdrive/internal/tools"
)

// ViolationKind classifies a post-generation policy breach.
type ViolationKind string

const (
	// ViolationNone means the generation was compliant.
	ViolationNone ViolationKind = ""
	// ViolationFBRToolless: the member mandates fresh-boots reasoning (at
	// least one tool call per generation) but none was produced.
	ViolationFBRToolless ViolationKind = "fbr_toolless"
)

// Effective is the resolved policy for one drive iteration.
type Effective struct {
	SystemPrompt    string
	Member          *mindset.Member
	Tools           *tools.Registry
	Prepended       []dialog.Message // policy context injected before the log
	RequireToolCall bool
}

// Builder assembles effective policies from the mindset.
type Builder struct {
	Minds *mindset.Loader
}

// Build resolves the effective policy for a dialog owned by member.
func (b *Builder) Build(d *dialog.Dialog, base *tools.Registry, lang string) (*Effective, error) {
	team, err := b.Minds.Team()
	if err != nil {
		return nil, err
	}
	member, ok := team.Member(d.AgentID)
	if !ok {
		return nil, fmt.Errorf("policy: agent %q is not on the team roster", d.AgentID)
	}

	eff := &Effective{
		Member:          member,
		Tools:           base.Clone(),
		RequireToolCall: member.FreshBootsReasoning,
	}

	// Shell tools only for shell specialists and hidden members.
	if !team.IsShellSpecialist(member.ID) && !member.Hidden {
		for _, name := range eff.Tools.Names() {
			if name == "shell" || strings.HasPrefix(name, "shell_") {
				eff.Tools.Remove(name)
			}
		}
	}

	// Toolsets allow-list restricts the base registry; intrinsics and
	// teammate calls are injected afterwards and never filtered.
	if len(member.Toolsets) > 0 {
		allowed := make(map[string]bool, len(member.Toolsets))
		for _, n := range member.Toolsets {
			allowed[n] = true
		}
		for _, name := range eff.Tools.Names() {
			if !allowed[name] {
				eff.Tools.Remove(name)
			}
		}
	}

	// Intrinsic driver tools and teammate-call definitions.
	for _, t := range tools.IntrinsicTools() {
		eff.Tools.Register(t)
	}
	for _, t := range tools.TellaskTools(!d.ID.IsRoot()) {
		eff.Tools.Register(t)
	}
	if d.ID.IsRoot() {
		eff.Tools.Register(tools.ChangeMindTool())
	}

	eff.SystemPrompt = b.systemPrompt(team, member, lang, eff.Tools)
	eff.Prepended = b.prepended(team, member, d)
	return eff, nil
}

func (b *Builder) systemPrompt(team *mindset.Team, member *mindset.Member, lang string, reg *tools.Registry) string {
	var sb strings.Builder

	if persona := b.Minds.Persona(member.ID, lang); persona != "" {
		sb.WriteString(persona)
		sb.WriteString("\n\n")
	} else {
		fmt.Fprintf(&sb, "You are %s", member.Name)
		if member.Role != "" {
			fmt.Fprintf(&sb, ", the team's %s", member.Role)
		}
		sb.WriteString(".\n\n")
	}
	if knowledge := b.Minds.Knowledge(member.ID, lang); knowledge != "" {
		sb.WriteString("## Knowledge\n")
		sb.WriteString(knowledge)
		sb.WriteString("\n\n")
	}
	if lessons := b.Minds.Lessons(member.ID, lang); lessons != "" {
		sb.WriteString("## Lessons\n")
		sb.WriteString(lessons)
		sb.WriteString("\n\n")
	}
	if env := b.Minds.EnvIntro(); env != "" {
		sb.WriteString("## Environment\n")
		sb.WriteString(env)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Team\n")
	for _, m := range team.Members {
		if m.Hidden || m.ID == member.ID {
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s)", m.Name, m.ID)
		if m.Role != "" {
			fmt.Fprintf(&sb, ": %s", m.Role)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nAddress teammates with the tellask tools; their replies arrive as tool results.\n")

	sb.WriteString("\n## Tool rules\n")
	fmt.Fprintf(&sb, "Available tools: %s.\n", strings.Join(reg.Names(), ", "))
	sb.WriteString("Call at most what you need; results are appended to the conversation.\n")
	if member.FreshBootsReasoning {
		sb.WriteString("You must issue at least one tool call per generation.\n")
	}
	return sb.String()
}

func (b *Builder) prepended(team *mindset.Team, member *mindset.Member, d *dialog.Dialog) []dialog.Message {
	var msgs []dialog.Message
	genseq := d.Genseq()

	if !team.IsShellSpecialist(member.ID) && !member.Hidden {
		msgs = append(msgs, dialog.Message{
			Kind:    dialog.KindTransientGuide,
			Role:    dialog.RoleUser,
			Content: "Shell access is reserved for shell specialists; ask a specialist teammate when a command is needed.",
			Genseq:  genseq,
			Course:  d.Course,
		})
	}
	return msgs
}

// CheckViolation inspects a finished generation against the effective policy.
func (e *Effective) CheckViolation(calls []provider.ToolCall) ViolationKind {
	if e.RequireToolCall && len(calls) == 0 {
		return ViolationFBRToolless
	}
	return ViolationNone
}

// ViolationText renders the synthetic assistant utterance that terminates the
// drive after a violation.
func ViolationText(kind ViolationKind) string {
	switch kind {
	case ViolationFBRToolless:
		return "I stopped this round: my reasoning policy requires grounding each step in a tool call, " +
			"but I produced none. Please rephrase or narrow the request."
	default:
		return "I stopped this round due to a policy violation."
	}
}

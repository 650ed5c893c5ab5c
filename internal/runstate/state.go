// Package runstate tracks per-dialog run state, live abort signals, and stop
// reasons, broadcasting transitions over the event bus.
package runstate

import "fmt"

// Kind is the top-level run-state variant.
type Kind string

const (
	KindIdleWaitingUser         Kind = "idle_waiting_user"
	KindProceeding              Kind = "proceeding"
	KindProceedingStopRequested Kind = "proceeding_stop_requested"
	KindInterrupted             Kind = "interrupted"
	KindBlocked                 Kind = "blocked"
	KindDead                    Kind = "dead"
)

// StopReason classifies why a run was (or will be) interrupted.
type StopReason string

const (
	StopEmergency StopReason = "emergency_stop"
	StopUser      StopReason = "user_stop"
	StopSystem    StopReason = "system_stop"
)

// BlockKind refines the blocked variant.
type BlockKind string

const (
	BlockNeedsHumanInput        BlockKind = "needs_human_input"
	BlockWaitingForSubdialogs   BlockKind = "waiting_for_subdialogs"
	BlockNeedsHumanAndSubdialog BlockKind = "needs_human_input_and_subdialogs"
)

// State is a flattened run-state variant: StopReason/Detail are meaningful for
// interrupted and stop-requested, Block for blocked.
type State struct {
	Kind       Kind       `yaml:"kind" json:"kind"`
	StopReason StopReason `yaml:"stop_reason,omitempty" json:"stop_reason,omitempty"`
	Detail     string     `yaml:"detail,omitempty" json:"detail,omitempty"`
	Block      BlockKind  `yaml:"block,omitempty" json:"block,omitempty"`
}

func Idle() State       { return State{Kind: KindIdleWaitingUser} }
func Proceeding() State { return State{Kind: KindProceeding} }
func Dead() State       { return State{Kind: KindDead} }

func Interrupted(reason StopReason, detail string) State {
	return State{Kind: KindInterrupted, StopReason: reason, Detail: detail}
}

func Blocked(kind BlockKind) State {
	return State{Kind: KindBlocked, Block: kind}
}

func (s State) String() string {
	switch s.Kind {
	case KindInterrupted:
		if s.Detail != "" {
			return fmt.Sprintf("%s{%s: %s}", s.Kind, s.StopReason, s.Detail)
		}
		return fmt.Sprintf("%s{%s}", s.Kind, s.StopReason)
	case KindBlocked:
		return fmt.Sprintf("%s{%s}", s.Kind, s.Block)
	default:
		return string(s.Kind)
	}
}

// ComputeIdle picks the post-drive resting state from persisted suspensions.
func ComputeIdle(pendingQ4H, pendingSubdialogs bool) State {
	switch {
	case pendingQ4H && pendingSubdialogs:
		return Blocked(BlockNeedsHumanAndSubdialog)
	case pendingQ4H:
		return Blocked(BlockNeedsHumanInput)
	case pendingSubdialogs:
		return Blocked(BlockWaitingForSubdialogs)
	default:
		return Idle()
	}
}

// CanDrive reports whether a dialog in this state may be driven without a
// fresh human prompt.
func (s State) CanDrive() bool {
	switch s.Kind {
	case KindBlocked, KindDead, KindInterrupted, KindProceedingStopRequested:
		return false
	}
	return true
}

// Package drive implements the per-dialog drive loop: the state machine that
// alternates model generations with tool rounds, injects synthetic prompts,
// and decides when to suspend.
package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/mindset"
	"github.com/nextlevelbuilder/teamdrive/internal/policy"
	"github.com/nextlevelbuilder/teamdrive/internal/provider"
	"github.com/nextlevelbuilder/teamdrive/internal/runstate"
	"github.com/nextlevelbuilder/teamdrive/internal/store"
	"github.com/nextlevelbuilder/teamdrive/internal/tools"
)

// ErrDialogBusy is returned when the dialog is locked and the caller declined
// to wait in queue.
var ErrDialogBusy = errors.New("dialog is locked by another drive")

// Flags tune a single drive invocation.
type Flags struct {
	SuppressDiligencePush      bool
	AllowResumeFromInterrupted bool
	WaitInQueue                bool
}

// Request is a queued drive invocation, consumed by the global scheduler.
type Request struct {
	DialogID string
	Prompt   *dialog.Prompt
	Flags    Flags
}

// Outputs summarizes a finished drive for the sub-dialog manager.
type Outputs struct {
	LastSayingContent      string
	LastSayingGenseq       int64
	LastFunctionCallGenseq int64
}

// Spawner is the teammate fan-out hook, implemented by the sub-dialog manager.
type Spawner interface {
	// SpawnSessionless creates a fresh sub-dialog for a tellask_sessionless
	// call and schedules its drive. The parent drive suspends afterwards.
	SpawnSessionless(ctx context.Context, caller *dialog.Dialog, call provider.ToolCall, args map[string]any) error

	// SpawnSession routes a tellask call to the (possibly reused) session
	// sub-dialog with the target agent. The parent keeps driving; the reply
	// materializes later through answer delivery.
	SpawnSession(ctx context.Context, caller *dialog.Dialog, call provider.ToolCall, args map[string]any) error

	// TellaskBack routes a sub-dialog's question back to its caller.
	TellaskBack(ctx context.Context, caller *dialog.Dialog, call provider.ToolCall, args map[string]any) error
}

// Driver owns one process's drive machinery. All dependencies are injected so
// multiple drivers can coexist in tests.
type Driver struct {
	Arena   *dialog.Arena
	Minds   *mindset.Loader
	Policy  *policy.Builder
	Tools   *tools.Registry
	Caller  *provider.Caller
	Store   *store.Store
	Runs    *runstate.Registry
	Events  *bus.Bus
	Spawner Spawner
	Tracer  trace.Tracer

	// DefaultLang is the operator's preferred language code, used for
	// mindset file resolution and the language-preference guide.
	DefaultLang string
}

func (dr *Driver) tracer() trace.Tracer {
	if dr.Tracer != nil {
		return dr.Tracer
	}
	return otel.Tracer("teamdrive/drive")
}

func (dr *Driver) publish(d *dialog.Dialog, typ string, payload any) {
	if dr.Events != nil {
		dr.Events.Publish(bus.Event{
			Type:     typ,
			RootID:   d.ID.Root,
			DialogID: d.ID.Self,
			Payload:  payload,
		})
	}
}

// abortErr converts a fired abort signal into the dialog's interruption.
func (dr *Driver) abortErr(d *dialog.Dialog) error {
	st := dr.Runs.InterruptionFor(d.ID.Self, "abort signal fired")
	return &runstate.InterruptedError{Reason: st.StopReason, Detail: st.Detail}
}

func (dr *Driver) checkAbort(ctx context.Context, d *dialog.Dialog) error {
	if ctx.Err() != nil {
		return dr.abortErr(d)
	}
	return nil
}

// DriveStream runs the dialog until it suspends, errors, or has nothing left
// to do. prompt may be nil (scheduler-initiated drives).
func (dr *Driver) DriveStream(ctx context.Context, d *dialog.Dialog, prompt *dialog.Prompt, flags Flags) (*Outputs, error) {
	// Preflight (a): lock acquisition.
	if flags.WaitInQueue {
		d.Lock()
	} else if !d.TryLock() {
		return nil, ErrDialogBusy
	}
	defer d.Unlock()

	// Preflight (c): persisted latest-state gates.
	latest, err := dr.Store.LoadLatest(d.ID.Self)
	if err != nil {
		return nil, err
	}
	switch latest.RunState.Kind {
	case runstate.KindDead:
		if !d.ID.IsRoot() {
			return nil, fmt.Errorf("dialog %s is dead", d.ID.Self)
		}
	case runstate.KindProceedingStopRequested:
		if !flags.AllowResumeFromInterrupted {
			return nil, fmt.Errorf("dialog %s has a stop request in flight", d.ID.Self)
		}
		latest.RunState = runstate.Idle()
	case runstate.KindInterrupted:
		userPrompt := prompt != nil && prompt.Origin == dialog.OriginUser
		if !flags.AllowResumeFromInterrupted && !userPrompt {
			return nil, fmt.Errorf("dialog %s is interrupted; resume requires user input", d.ID.Self)
		}
		latest.RunState = runstate.Idle()
	}
	// Preflight (d): without a prompt, a blocked dialog cannot be driven. A
	// blocked snapshot may be stale (a teammate answer lands without a drive),
	// so recompute drivability from the live inventory before refusing.
	if prompt == nil && !latest.RunState.CanDrive() {
		if latest.RunState.Kind == runstate.KindBlocked {
			latest.RunState = runstate.ComputeIdle(
				dr.Store.HasOpenQ4H(d.ID.Self),
				dr.Store.HasPendingSubdialogs(d.ID.Self),
			)
		}
		if !latest.RunState.CanDrive() {
			return nil, fmt.Errorf("dialog %s is not drivable (%s)", d.ID.Self, latest.RunState)
		}
	}

	if prompt != nil && prompt.Origin == dialog.OriginUser {
		dr.Runs.ClearStop(d.ID.Self)
	}

	// Register the abort signal for this run.
	runCtx, err := dr.Runs.BeginRun(ctx, d.ID.Self)
	if err != nil {
		return nil, err
	}
	defer dr.Runs.EndRun(d.ID.Self)

	driveCtx, driveSpan := dr.tracer().Start(runCtx, "drive",
		trace.WithAttributes(
			attribute.String("dialog.id", d.ID.Self),
			attribute.String("dialog.root", d.ID.Root),
			attribute.String("agent.id", d.AgentID),
		))
	defer driveSpan.End()

	dr.setRunState(d, runstate.Proceeding())

	out := &Outputs{}
	driveErr := dr.iterate(driveCtx, d, prompt, flags, out)

	final := dr.finalState(d, driveErr)
	dr.setRunState(d, final)

	if _, err := dr.Store.MutateLatest(d.ID.Self, func(st *store.LatestState) {
		st.Status = string(d.Status)
		st.RunState = final
		st.MessageCount = d.MessageCount()
		st.FunctionCallCount = d.FunctionCallCount()
	}); err != nil {
		slog.Error("drive: persist latest failed", "dialog", d.ID.Self, "error", err)
	}

	out.LastFunctionCallGenseq = d.LastFunctionCallGenseq()
	if driveErr != nil {
		return out, driveErr
	}
	return out, nil
}

// finalState maps the drive exit path onto the persisted run state.
func (dr *Driver) finalState(d *dialog.Dialog, driveErr error) runstate.State {
	if driveErr != nil {
		if ie, ok := runstate.AsInterrupted(driveErr); ok {
			return runstate.Interrupted(ie.Reason, ie.Detail)
		}
		return runstate.Interrupted(runstate.StopSystem, driveErr.Error())
	}
	return runstate.ComputeIdle(
		dr.Store.HasOpenQ4H(d.ID.Self),
		dr.Store.HasPendingSubdialogs(d.ID.Self),
	)
}

func (dr *Driver) setRunState(d *dialog.Dialog, st runstate.State) {
	dr.Runs.Broadcast(d.ID.Root, d.ID.Self, st)
}

package drive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/policy"
	"github.com/nextlevelbuilder/teamdrive/internal/provider"
	"github.com/nextlevelbuilder/teamdrive/internal/runstate"
	"github.com/nextlevelbuilder/teamdrive/internal/tools"
)

// executeToolRound runs the generation's tool calls strictly left to right.
// Teammate-call tools are intercepted: tellask_sessionless spawns a child and
// suspends the drive immediately (remaining calls are not executed); tellask
// and tellask_back are persisted for later reply materialization.
func (dr *Driver) executeToolRound(ctx context.Context, d *dialog.Dialog, eff *policy.Effective, calls []provider.ToolCall, genseq int64) (suspend bool, err error) {
	for _, call := range calls {
		if err := dr.checkAbort(ctx, d); err != nil {
			return false, err
		}

		d.Append(dialog.FuncCall(call.ID, call.Name, call.Arguments, genseq, d.Course))
		d.SetLastFunctionCallGenseq(genseq)
		dr.auditCall(d, call, genseq)

		if dialog.IsTellaskName(call.Name) {
			done, err := dr.interceptTellask(ctx, d, call, genseq)
			if err != nil {
				return false, err
			}
			if done {
				return true, nil
			}
			continue
		}

		result := dr.invokeTool(ctx, d, eff, call)
		if result == nil {
			// Tool raised the abort; surface as interruption.
			return false, dr.abortErr(d)
		}
		d.Append(dialog.FuncResult(call.ID, call.Name, result.Content, genseq, d.Course))
		dr.auditResult(d, call, result, genseq)
	}
	return false, nil
}

// interceptTellask handles one teammate-call tool. Returns done=true when the
// drive must suspend (sessionless dispatch).
func (dr *Driver) interceptTellask(ctx context.Context, d *dialog.Dialog, call provider.ToolCall, genseq int64) (done bool, err error) {
	args, verr := parseTellaskArgs(call)
	if verr != nil {
		d.Append(dialog.FuncResult(call.ID, call.Name, "Invalid arguments: "+verr.Error(), genseq, d.Course))
		return false, nil
	}

	dr.publish(d, bus.EventTeammateCallStart, map[string]any{
		"call_id":      call.ID,
		"call_name":    call.Name,
		"target_agent": args["target_agent_id"],
	})

	if dr.Spawner == nil {
		d.Append(dialog.FuncResult(call.ID, call.Name, "Teammate calls are not available in this driver.", genseq, d.Course))
		return false, nil
	}

	switch call.Name {
	case dialog.ToolTellaskSessionless:
		if err := dr.Spawner.SpawnSessionless(ctx, d, call, args); err != nil {
			if _, ok := runstate.AsInterrupted(err); ok {
				return false, err
			}
			d.Append(dialog.FuncResult(call.ID, call.Name, "Teammate dispatch failed: "+err.Error(), genseq, d.Course))
			return false, nil
		}
		// The parent waits for the child; no further calls this round.
		return true, nil
	case dialog.ToolTellask:
		if err := dr.Spawner.SpawnSession(ctx, d, call, args); err != nil {
			d.Append(dialog.FuncResult(call.ID, call.Name, "Teammate dispatch failed: "+err.Error(), genseq, d.Course))
		}
		// Persisted only; the projection supplies a pending placeholder
		// until the child's reply is delivered.
		return false, nil
	default: // tellask_back
		if err := dr.Spawner.TellaskBack(ctx, d, call, args); err != nil {
			d.Append(dialog.FuncResult(call.ID, call.Name, "Teammate dispatch failed: "+err.Error(), genseq, d.Course))
		}
		return false, nil
	}
}

// parseTellaskArgs validates the teammate-call argument shape.
func parseTellaskArgs(call provider.ToolCall) (map[string]any, error) {
	schema := &tools.Tool{
		Name:           call.Name,
		ArgsValidation: tools.ValidationPassthrough,
	}
	args, err := tools.ValidateArgs(schema, call.Arguments)
	if err != nil {
		return nil, err
	}
	content, _ := args["tellask_content"].(string)
	if content == "" {
		return nil, fmt.Errorf("tellask_content is required")
	}
	if call.Name != dialog.ToolTellaskBack {
		if target, _ := args["target_agent_id"].(string); target == "" {
			return nil, fmt.Errorf("target_agent_id is required")
		}
	}
	return args, nil
}

// invokeTool dispatches a regular tool call, folding every non-interrupt
// failure into the result content so the model can observe it. A nil return
// means the tool raised while the abort signal was set.
func (dr *Driver) invokeTool(ctx context.Context, d *dialog.Dialog, eff *policy.Effective, call provider.ToolCall) *tools.Result {
	tool, ok := eff.Tools.Get(call.Name)
	if !ok {
		return tools.ErrorResult(tools.NotFoundText(call.Name))
	}

	args, err := tools.ValidateArgs(tool, call.Arguments)
	if err != nil {
		return tools.ErrorResult("Invalid arguments: " + err.Error())
	}

	start := time.Now()
	result, callErr := tool.Call(ctx, &tools.CallContext{
		Dialog:  d,
		AgentID: d.AgentID,
		Args:    args,
	})
	if callErr != nil {
		if ctx.Err() != nil {
			return nil
		}
		if _, ok := runstate.AsInterrupted(callErr); ok {
			return nil
		}
		slog.Warn("tool call failed", "dialog", d.ID.Self, "tool", call.Name, "error", callErr)
		return tools.ErrorResult("Tool failed: " + callErr.Error())
	}
	if result == nil {
		result = tools.NewResult("")
	}
	slog.Debug("tool call", "dialog", d.ID.Self, "tool", call.Name, "elapsed", time.Since(start))
	return result
}

func (dr *Driver) auditCall(d *dialog.Dialog, call provider.ToolCall, genseq int64) {
	if err := dr.Store.AppendEvent(d.ID.Self, d.Course, map[string]any{
		"event":   "func_call",
		"call_id": call.ID,
		"name":    call.Name,
		"args":    call.Arguments,
		"genseq":  genseq,
	}); err != nil {
		slog.Warn("drive: audit append failed", "dialog", d.ID.Self, "error", err)
	}
}

func (dr *Driver) auditResult(d *dialog.Dialog, call provider.ToolCall, result *tools.Result, genseq int64) {
	if err := dr.Store.AppendEvent(d.ID.Self, d.Course, map[string]any{
		"event":    "func_result",
		"call_id":  call.ID,
		"name":     call.Name,
		"is_error": result.IsError,
		"genseq":   genseq,
	}); err != nil {
		slog.Warn("drive: audit append failed", "dialog", d.ID.Self, "error", err)
	}
}

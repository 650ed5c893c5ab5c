package tools

import (
	"context"
	"fmt"
	"strings"
)

func strArg(tc *CallContext, key string) string {
	v, _ := tc.Args[key].(string)
	return v
}

// IntrinsicTools returns the driver-injected tools every agent carries:
// reminder CRUD and mind clearing. change_mind is injected separately because
// it is root-only.
func IntrinsicTools() []*Tool {
	return []*Tool{
		{
			Name:        "add_reminder",
			Description: "Add a short reminder note to keep across generations.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string"},
				},
				"required": []any{"content"},
			},
			Call: func(ctx context.Context, tc *CallContext) (*Result, error) {
				content := strings.TrimSpace(strArg(tc, "content"))
				if content == "" {
					return ErrorResult("reminder content is empty"), nil
				}
				id := tc.Dialog.AddReminder(content)
				return NewResult(fmt.Sprintf("Reminder %s added.", id)), nil
			},
		},
		{
			Name:        "update_reminder",
			Description: "Replace the content of an existing reminder.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":      map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []any{"id", "content"},
			},
			Call: func(ctx context.Context, tc *CallContext) (*Result, error) {
				if tc.Dialog.UpdateReminder(strArg(tc, "id"), strArg(tc, "content")) {
					return NewResult("Reminder updated."), nil
				}
				return ErrorResult(fmt.Sprintf("reminder %s not found", strArg(tc, "id"))), nil
			},
		},
		{
			Name:        "delete_reminder",
			Description: "Delete a reminder by id.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string"},
				},
				"required": []any{"id"},
			},
			Call: func(ctx context.Context, tc *CallContext) (*Result, error) {
				if tc.Dialog.DeleteReminder(strArg(tc, "id")) {
					return NewResult("Reminder deleted."), nil
				}
				return ErrorResult(fmt.Sprintf("reminder %s not found", strArg(tc, "id"))), nil
			},
		},
		{
			Name:        "clear_mind",
			Description: "Drop all reminders and start a fresh course when the current context is no longer useful.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Call: func(ctx context.Context, tc *CallContext) (*Result, error) {
				for _, r := range tc.Dialog.Reminders() {
					tc.Dialog.DeleteReminder(r.ID)
				}
				course := tc.Dialog.NewCourse()
				return NewResult(fmt.Sprintf("Mind cleared; course %d started.", course)), nil
			},
		},
		{
			Name:        "recall_taskdoc",
			Description: "Recall the current task document into context.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Call: func(ctx context.Context, tc *CallContext) (*Result, error) {
				return NewResult("No task document is attached to this dialog."), nil
			},
		},
	}
}

// ChangeMindTool is injected for root dialogs only. It lets the owning agent
// swap its working focus without losing the dialog.
func ChangeMindTool() *Tool {
	return &Tool{
		Name:        "change_mind",
		Description: "Switch the dialog's working focus. Root dialogs only.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"focus": map[string]any{"type": "string"},
			},
			"required": []any{"focus"},
		},
		Call: func(ctx context.Context, tc *CallContext) (*Result, error) {
			if !tc.Dialog.ID.IsRoot() {
				return ErrorResult("change_mind is only available on root dialogs"), nil
			}
			return NewResult(fmt.Sprintf("Focus changed to: %s", strArg(tc, "focus"))), nil
		},
	}
}

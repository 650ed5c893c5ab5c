package tools

import "context"

// TellaskTools returns the teammate-call tool definitions. Their Call funcs
// are never dispatched: the tool round executor intercepts these names and
// routes them through the sub-dialog manager. forSubdialog additionally
// exposes tellask_back, which only makes sense below a root.
func TellaskTools(forSubdialog bool) []*Tool {
	contentProp := map[string]any{
		"type":        "string",
		"description": "What to tell or ask the teammate.",
	}
	targetProp := map[string]any{
		"type":        "string",
		"description": "Roster id of the teammate to address.",
	}
	interceptOnly := func(ctx context.Context, tc *CallContext) (*Result, error) {
		return ErrorResult("teammate calls are handled by the driver"), nil
	}

	out := []*Tool{
		{
			Name: "tellask",
			Description: "Tell or ask a teammate in an ongoing session. The reply arrives later " +
				"as this call's tool result; until then it reads as pending.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tellask_content": contentProp,
					"target_agent_id": targetProp,
				},
				"required": []any{"tellask_content", "target_agent_id"},
			},
			Call: interceptOnly,
		},
		{
			Name: "tellask_sessionless",
			Description: "Hand a self-contained assignment to a teammate. Your turn ends here; " +
				"you resume when their answer arrives as this call's tool result.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tellask_content": contentProp,
					"target_agent_id": targetProp,
				},
				"required": []any{"tellask_content", "target_agent_id"},
			},
			Call: interceptOnly,
		},
	}
	if forSubdialog {
		out = append(out, &Tool{
			Name:        "tellask_back",
			Description: "Ask the teammate who assigned you this work a clarifying question.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tellask_content": contentProp,
				},
				"required": []any{"tellask_content"},
			},
			Call: interceptOnly,
		})
	}
	return out
}

package dialog

import "github.com/nextlevelbuilder/teamdrive/internal/provider"

// PendingTeammateText is the synthetic tool-result body used while a teammate
// sub-dialog has not answered yet.
const PendingTeammateText = "PENDING: teammate response not yet available."

// ProjectForProvider converts the dialog log into provider-context messages,
// honoring strict tool_use/tool_result adjacency:
//
//   - ui_markdown and tellask_result entries are skipped
//   - any persisted func_result for a teammate-call tool is skipped; a
//     synthetic result is generated instead, directly after its call
//   - a teammate func_call is followed by either the matching tellask_result
//     content (child already answered) or a pending placeholder
//
// pendingText overrides the placeholder body; empty selects the default.
func ProjectForProvider(msgs []Message, pendingText string) []provider.Message {
	if pendingText == "" {
		pendingText = PendingTeammateText
	}

	// Index teammate replies by call id for synthetic result lookup.
	tellaskReplies := make(map[string]string)
	for _, m := range msgs {
		if m.Kind == KindTellaskResult && m.CallID != "" {
			tellaskReplies[m.CallID] = m.Content
		}
	}

	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case KindUIMarkdown, KindTellaskResult, KindCallAnchor, KindThinking:
			continue
		case KindPrompting, KindEnvironment, KindTransientGuide:
			out = append(out, provider.Message{Role: RoleUser, Content: m.Content})
		case KindSaying:
			out = append(out, provider.Message{Role: RoleAssistant, Content: m.Content})
		case KindFuncCall:
			out = append(out, provider.Message{
				Role: RoleAssistant,
				ToolCalls: []provider.ToolCall{{
					ID:        m.CallID,
					Name:      m.CallName,
					Arguments: m.CallArgs,
				}},
			})
			if IsTellaskName(m.CallName) {
				content, ok := tellaskReplies[m.CallID]
				if !ok {
					content = pendingText
				}
				out = append(out, provider.Message{
					Role:       RoleTool,
					Content:    content,
					ToolCallID: m.CallID,
				})
			}
		case KindFuncResult:
			if IsTellaskName(m.CallName) {
				// Replaced by the synthetic result emitted after the call.
				continue
			}
			out = append(out, provider.Message{
				Role:       RoleTool,
				Content:    m.Content,
				ToolCallID: m.CallID,
			})
		}
	}
	return out
}

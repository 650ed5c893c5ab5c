package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectSkipsNonProviderKinds(t *testing.T) {
	msgs := []Message{
		Prompting("hi", 1, 1),
		{Kind: KindThinking, Role: RoleAssistant, Content: "hmm", Genseq: 1, Course: 1},
		{Kind: KindUIMarkdown, Content: "**render**", Genseq: 1, Course: 1},
		{Kind: KindCallAnchor, Content: "anchor", Genseq: 1, Course: 1},
		Saying("hello", 1, 1),
	}
	out := ProjectForProvider(msgs, "")
	require.Len(t, out, 2)
	assert.Equal(t, RoleUser, out[0].Role)
	assert.Equal(t, "hi", out[0].Content)
	assert.Equal(t, RoleAssistant, out[1].Role)
	assert.Equal(t, "hello", out[1].Content)
}

func TestProjectToolAdjacency(t *testing.T) {
	msgs := []Message{
		Prompting("run it", 1, 1),
		FuncCall("c1", "shell", `{"command":"ls"}`, 1, 1),
		FuncResult("c1", "shell", "a.txt", 1, 1),
		Saying("done", 2, 1),
	}
	out := ProjectForProvider(msgs, "")
	require.Len(t, out, 4)

	require.Len(t, out[1].ToolCalls, 1)
	assert.Equal(t, "c1", out[1].ToolCalls[0].ID)
	// Tool result directly follows its call.
	assert.Equal(t, RoleTool, out[2].Role)
	assert.Equal(t, "c1", out[2].ToolCallID)
	assert.Equal(t, "a.txt", out[2].Content)
}

func TestProjectTellaskPendingPlaceholder(t *testing.T) {
	msgs := []Message{
		Prompting("delegate", 1, 1),
		FuncCall("c1", ToolTellask, `{"tellask_content":"do x","target_agent_id":"bob"}`, 1, 1),
	}
	out := ProjectForProvider(msgs, "")
	require.Len(t, out, 3)
	assert.Equal(t, RoleTool, out[2].Role)
	assert.Equal(t, "c1", out[2].ToolCallID)
	assert.Equal(t, PendingTeammateText, out[2].Content)
}

func TestProjectTellaskAnsweredUsesReply(t *testing.T) {
	msgs := []Message{
		FuncCall("c1", ToolTellaskSessionless, `{}`, 1, 1),
		TellaskResult("c1", "the answer", 1, 1),
	}
	out := ProjectForProvider(msgs, "")
	require.Len(t, out, 2)
	assert.Equal(t, "the answer", out[1].Content)
	assert.Equal(t, "c1", out[1].ToolCallID)
}

func TestProjectSkipsPersistedTellaskFuncResult(t *testing.T) {
	// A tellask func_result in the log must not produce a second tool message:
	// the synthetic result after the call already covers the slot.
	msgs := []Message{
		FuncCall("c1", ToolTellask, `{}`, 1, 1),
		FuncResult("c1", ToolTellask, "dup", 1, 1),
		TellaskResult("c1", "real reply", 1, 1),
	}
	out := ProjectForProvider(msgs, "")
	require.Len(t, out, 2)
	assert.Equal(t, "real reply", out[1].Content)
}

func TestProjectCustomPendingText(t *testing.T) {
	msgs := []Message{FuncCall("c1", ToolTellask, `{}`, 1, 1)}
	out := ProjectForProvider(msgs, "still working")
	require.Len(t, out, 2)
	assert.Equal(t, "still working", out[1].Content)
}

package subdialog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/drive"
	"github.com/nextlevelbuilder/teamdrive/internal/mindset"
	"github.com/nextlevelbuilder/teamdrive/internal/provider"
	"github.com/nextlevelbuilder/teamdrive/internal/runstate"
	"github.com/nextlevelbuilder/teamdrive/internal/store"
)

type fakeQueue struct {
	enqueued []drive.Request
	flagged  []string
}

func (q *fakeQueue) Enqueue(req drive.Request)      { q.enqueued = append(q.enqueued, req) }
func (q *fakeQueue) MarkNeedsDrive(dialogID string) { q.flagged = append(q.flagged, dialogID) }

const teamYAML = `
defaults:
  diligence_push_max: 5
members:
  - id: alice
    name: Alice
  - id: bob
    name: Bob
`

func newManager(t *testing.T) (*Manager, *fakeQueue) {
	t.Helper()
	ws := t.TempDir()
	mindsDir := filepath.Join(ws, ".minds")
	require.NoError(t, os.MkdirAll(mindsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mindsDir, "team.yaml"), []byte(teamYAML), 0o644))
	minds, err := mindset.NewLoader(ws)
	require.NoError(t, err)
	t.Cleanup(minds.Close)

	st, err := store.New(ws)
	require.NoError(t, err)

	q := &fakeQueue{}
	m := &Manager{
		Arena:  dialog.NewArena(),
		Minds:  minds,
		Store:  st,
		Events: bus.New(),
		Queue:  q,
	}
	return m, q
}

func TestSpawnSessionless(t *testing.T) {
	m, q := newManager(t)
	caller := m.Arena.CreateRoot("alice")

	call := provider.ToolCall{ID: "c1", Name: dialog.ToolTellaskSessionless}
	args := map[string]any{"target_agent_id": "bob", "tellask_content": "summarize the report"}
	require.NoError(t, m.SpawnSessionless(context.Background(), caller, call, args))

	recs, err := m.Store.PendingSubdialogs(caller.ID.Self)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, CallTypeSessionless, recs[0].CallType)
	assert.Equal(t, "c1", recs[0].CallID)
	assert.Equal(t, "bob", recs[0].TargetAgentID)

	require.Len(t, q.enqueued, 1)
	req := q.enqueued[0]
	assert.Equal(t, recs[0].SubdialogID, req.DialogID)
	assert.True(t, req.Flags.SuppressDiligencePush)
	assert.True(t, req.Flags.WaitInQueue)
	assert.Contains(t, req.Prompt.Content, "Assignment from teammate alice")
	assert.Contains(t, req.Prompt.Content, "summarize the report")

	sub, err := m.Arena.Get(recs[0].SubdialogID)
	require.NoError(t, err)
	assert.Equal(t, caller.ID.Self, sub.SupdialogID)
	assert.Equal(t, caller.ID.Root, sub.ID.Root)
}

func TestSpawnSessionlessUnknownAgent(t *testing.T) {
	m, q := newManager(t)
	caller := m.Arena.CreateRoot("alice")

	call := provider.ToolCall{ID: "c1", Name: dialog.ToolTellaskSessionless}
	err := m.SpawnSessionless(context.Background(), caller, call, map[string]any{
		"target_agent_id": "nobody", "tellask_content": "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "roster")
	assert.Empty(t, q.enqueued)
	assert.False(t, m.Store.HasPendingSubdialogs(caller.ID.Self))
}

func TestSpawnSessionReusesRunningChild(t *testing.T) {
	m, q := newManager(t)
	caller := m.Arena.CreateRoot("alice")

	args := map[string]any{"target_agent_id": "bob", "tellask_content": "first"}
	require.NoError(t, m.SpawnSession(context.Background(), caller, provider.ToolCall{ID: "c1"}, args))
	args["tellask_content"] = "second"
	require.NoError(t, m.SpawnSession(context.Background(), caller, provider.ToolCall{ID: "c2"}, args))

	require.Len(t, q.enqueued, 2)
	assert.Equal(t, q.enqueued[0].DialogID, q.enqueued[1].DialogID, "session child reused")

	recs, err := m.Store.PendingSubdialogs(caller.ID.Self)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestTellaskBack(t *testing.T) {
	m, q := newManager(t)
	root := m.Arena.CreateRoot("alice")
	sub := m.Arena.CreateSub(root.ID.Self, root.ID.Self, "bob")

	call := provider.ToolCall{ID: "back1", Name: dialog.ToolTellaskBack}
	require.NoError(t, m.TellaskBack(context.Background(), sub, call, map[string]any{
		"tellask_content": "which format do you want?",
	}))

	require.Len(t, q.enqueued, 1)
	req := q.enqueued[0]
	assert.Equal(t, root.ID.Self, req.DialogID)
	require.NotNil(t, req.Prompt.SubdialogReplyTarget)
	assert.Equal(t, sub.ID.Self, req.Prompt.SubdialogReplyTarget.OwnerDialogID)
	assert.Equal(t, CallTypeBack, req.Prompt.SubdialogReplyTarget.CallType)
	assert.Equal(t, "back1", req.Prompt.SubdialogReplyTarget.CallID)

	// The pending record hangs off the asking side, naming the answerer.
	recs, err := m.Store.PendingSubdialogs(sub.ID.Self)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, CallTypeBack, recs[0].CallType)
	assert.Equal(t, root.ID.Self, recs[0].SubdialogID)
}

func TestTellaskBackFromRoot(t *testing.T) {
	m, _ := newManager(t)
	root := m.Arena.CreateRoot("alice")
	err := m.TellaskBack(context.Background(), root, provider.ToolCall{ID: "c1"}, map[string]any{"tellask_content": "x"})
	assert.Error(t, err)
}

func spawnForDelivery(t *testing.T, m *Manager) (caller, sub *dialog.Dialog) {
	t.Helper()
	caller = m.Arena.CreateRoot("alice")
	require.NoError(t, m.SpawnSessionless(context.Background(), caller,
		provider.ToolCall{ID: "c1", Name: dialog.ToolTellaskSessionless},
		map[string]any{"target_agent_id": "bob", "tellask_content": "do x"}))
	recs, err := m.Store.PendingSubdialogs(caller.ID.Self)
	require.NoError(t, err)
	sub, err = m.Arena.Get(recs[0].SubdialogID)
	require.NoError(t, err)
	return caller, sub
}

func TestDeliverAnswerHappyPath(t *testing.T) {
	m, q := newManager(t)
	caller, sub := spawnForDelivery(t, m)

	out := &drive.Outputs{LastSayingContent: "here is x", LastSayingGenseq: 3}
	require.NoError(t, m.DeliverAnswer(sub, nil, out))

	// Pending record consumed, answer landed in the caller's slot.
	assert.False(t, m.Store.HasPendingSubdialogs(caller.ID.Self))
	msgs := caller.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, dialog.KindTellaskResult, msgs[0].Kind)
	assert.Equal(t, "here is x", msgs[0].Content)
	assert.Equal(t, "c1", msgs[0].CallID)
	assert.Equal(t, dialog.KindFuncResult, msgs[1].Kind)

	// Sessionless child retires once the answer is delivered.
	assert.Equal(t, dialog.StatusCompleted, sub.Status)
	assert.Equal(t, []string{caller.ID.Self}, q.flagged)

	latest, err := m.Store.LoadLatest(caller.ID.Self)
	require.NoError(t, err)
	assert.True(t, latest.NeedsDrive)
}

func TestDeliverAnswerUnblocksCaller(t *testing.T) {
	m, _ := newManager(t)
	caller, sub := spawnForDelivery(t, m)
	_, err := m.Store.MutateLatest(caller.ID.Self, func(st *store.LatestState) {
		st.RunState = runstate.Blocked(runstate.BlockWaitingForSubdialogs)
	})
	require.NoError(t, err)

	out := &drive.Outputs{LastSayingContent: "here is x", LastSayingGenseq: 3}
	require.NoError(t, m.DeliverAnswer(sub, nil, out))

	// The caller was parked on this record; delivery recomputes its state so
	// the scheduler's promptless drive is not refused.
	latest, err := m.Store.LoadLatest(caller.ID.Self)
	require.NoError(t, err)
	assert.Equal(t, runstate.Idle(), latest.RunState)
	assert.True(t, latest.NeedsDrive)
}

func TestDeliverAnswerNoSaying(t *testing.T) {
	m, _ := newManager(t)
	caller, sub := spawnForDelivery(t, m)

	require.NoError(t, m.DeliverAnswer(sub, nil, nil))
	require.NoError(t, m.DeliverAnswer(sub, nil, &drive.Outputs{}))
	assert.True(t, m.Store.HasPendingSubdialogs(caller.ID.Self))
	assert.Empty(t, caller.Messages())
}

func TestDeliverAnswerBlockedByOpenQ4H(t *testing.T) {
	m, _ := newManager(t)
	caller, sub := spawnForDelivery(t, m)
	require.NoError(t, m.Store.AppendQ4H(sub.ID.Self, store.Q4H{ID: "q1", TellaskContent: "?", AskedAt: time.Now()}))

	out := &drive.Outputs{LastSayingContent: "partial", LastSayingGenseq: 2}
	require.NoError(t, m.DeliverAnswer(sub, nil, out))
	assert.True(t, m.Store.HasPendingSubdialogs(caller.ID.Self))
}

func TestDeliverAnswerBlockedByTrailingToolWork(t *testing.T) {
	m, _ := newManager(t)
	caller, sub := spawnForDelivery(t, m)
	sub.Append(dialog.FuncCall("t1", "shell", "{}", 5, 1))

	out := &drive.Outputs{LastSayingContent: "not final", LastSayingGenseq: 4, LastFunctionCallGenseq: 5}
	require.NoError(t, m.DeliverAnswer(sub, nil, out))
	assert.True(t, m.Store.HasPendingSubdialogs(caller.ID.Self))
}

func TestDeliverAnswerNestedDelegationException(t *testing.T) {
	m, _ := newManager(t)
	caller, sub := spawnForDelivery(t, m)
	// The child ended its drive by delegating onward; its saying still stands.
	sub.Append(dialog.FuncCall("t1", dialog.ToolTellask, "{}", 5, 1))

	out := &drive.Outputs{LastSayingContent: "delegated answer", LastSayingGenseq: 4, LastFunctionCallGenseq: 5}
	require.NoError(t, m.DeliverAnswer(sub, nil, out))
	assert.False(t, m.Store.HasPendingSubdialogs(caller.ID.Self))
	require.NotEmpty(t, caller.Messages())
	assert.Equal(t, "delegated answer", caller.Messages()[0].Content)
}

func TestDeliverAnswerMissingGenseq(t *testing.T) {
	m, _ := newManager(t)
	_, sub := spawnForDelivery(t, m)
	err := m.DeliverAnswer(sub, nil, &drive.Outputs{LastSayingContent: "x"})
	assert.Error(t, err)
}

func TestDeliverAnswerUnmatchedPublishesDiagnostic(t *testing.T) {
	m, _ := newManager(t)
	caller, sub := spawnForDelivery(t, m)
	ch, cancel := m.Events.Subscribe(caller.ID.Root)
	defer cancel()

	// Drop the pending record so the answer has nowhere to land.
	_, err := m.Store.RemovePendingSubdialog(caller.ID.Self, sub.ID.Self)
	require.NoError(t, err)

	out := &drive.Outputs{LastSayingContent: "orphan answer", LastSayingGenseq: 2}
	require.NoError(t, m.DeliverAnswer(sub, nil, out))
	assert.Empty(t, caller.Messages())

	require.Len(t, ch, 1)
	ev := <-ch
	assert.Equal(t, bus.EventDebug, ev.Type)
}

func TestDeliverAnswerViaReplyTarget(t *testing.T) {
	m, q := newManager(t)
	root := m.Arena.CreateRoot("alice")
	sub := m.Arena.CreateSub(root.ID.Self, root.ID.Self, "bob")

	// tellask_back: the pending record sits on the sub's side, the root answers.
	require.NoError(t, m.TellaskBack(context.Background(), sub, provider.ToolCall{ID: "back1"}, map[string]any{
		"tellask_content": "which format?",
	}))
	target := q.enqueued[0].Prompt.SubdialogReplyTarget
	require.NotNil(t, target)

	out := &drive.Outputs{LastSayingContent: "use yaml", LastSayingGenseq: 7}
	require.NoError(t, m.DeliverAnswer(root, target, out))

	msgs := sub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "use yaml", msgs[0].Content)
	assert.Equal(t, "back1", msgs[0].CallID)
	assert.False(t, m.Store.HasPendingSubdialogs(sub.ID.Self))
	assert.Contains(t, q.flagged, sub.ID.Self)
}

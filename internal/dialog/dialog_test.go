package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaRootAndSub(t *testing.T) {
	a := NewArena()
	root := a.CreateRoot("alice")
	assert.True(t, root.ID.IsRoot())
	assert.Equal(t, 1, root.Course)

	sub := a.CreateSub(root.ID.Root, root.ID.Self, "bob")
	assert.False(t, sub.ID.IsRoot())
	assert.Equal(t, root.ID.Self, sub.ID.Root)
	assert.Equal(t, root.ID.Self, sub.SupdialogID)

	sup, err := a.Supdialog(sub)
	require.NoError(t, err)
	assert.Same(t, root, sup)

	sup, err = a.Supdialog(root)
	require.NoError(t, err)
	assert.Nil(t, sup)

	assert.Len(t, a.Roots(), 1)
	assert.Len(t, a.All(), 2)
}

func TestGenseqMonotonic(t *testing.T) {
	d := &Dialog{}
	assert.Equal(t, int64(1), d.NextGenseq())
	assert.Equal(t, int64(2), d.NextGenseq())
	assert.Equal(t, int64(2), d.Genseq())

	d.SetLastFunctionCallGenseq(2)
	d.SetLastFunctionCallGenseq(1) // never regresses
	assert.Equal(t, int64(2), d.LastFunctionCallGenseq())
}

func TestUpNextFIFO(t *testing.T) {
	d := &Dialog{}
	assert.Nil(t, d.PopUpNext())
	d.PushUpNext(Prompt{Content: "first"})
	d.PushUpNext(Prompt{Content: "second"})
	assert.True(t, d.HasUpNext())

	p := d.PopUpNext()
	require.NotNil(t, p)
	assert.Equal(t, "first", p.Content)
	assert.Equal(t, "second", d.PopUpNext().Content)
	assert.False(t, d.HasUpNext())
}

func TestReminders(t *testing.T) {
	d := &Dialog{}
	id := d.AddReminder("check the logs")
	require.NotEmpty(t, id)

	assert.True(t, d.UpdateReminder(id, "check the metrics"))
	assert.False(t, d.UpdateReminder("nope", "x"))

	rems := d.Reminders()
	require.Len(t, rems, 1)
	assert.Equal(t, "check the metrics", rems[0].Content)

	assert.True(t, d.DeleteReminder(id))
	assert.Empty(t, d.Reminders())
}

func TestNewCourseAndCounts(t *testing.T) {
	d := &Dialog{Course: 1}
	d.Append(
		Prompting("a", 1, 1),
		FuncCall("c1", "shell", "{}", 1, 1),
		FuncResult("c1", "shell", "ok", 1, 1),
		FuncCall("c2", "shell", "{}", 2, 1),
	)
	assert.Equal(t, 4, d.MessageCount())
	assert.Equal(t, 2, d.FunctionCallCount())
	assert.Equal(t, 2, d.NewCourse())

	last := d.LastMessage()
	require.NotNil(t, last)
	assert.Equal(t, "c2", last.CallID)
}

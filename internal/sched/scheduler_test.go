package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/drive"
	"github.com/nextlevelbuilder/teamdrive/internal/runstate"
	"github.com/nextlevelbuilder/teamdrive/internal/store"
)

type driveRecorder struct {
	mu    sync.Mutex
	calls []drive.Request
	done  chan struct{} // signalled once per recorded call
	fn    DriveFunc
}

func newRecorder(fn DriveFunc) *driveRecorder {
	return &driveRecorder{done: make(chan struct{}, 16), fn: fn}
}

func (r *driveRecorder) drive(ctx context.Context, d *dialog.Dialog, prompt *dialog.Prompt, flags drive.Flags) (*drive.Outputs, error) {
	r.mu.Lock()
	r.calls = append(r.calls, drive.Request{DialogID: d.ID.Self, Prompt: prompt, Flags: flags})
	r.mu.Unlock()
	defer func() { r.done <- struct{}{} }()
	if r.fn != nil {
		return r.fn(ctx, d, prompt, flags)
	}
	return &drive.Outputs{}, nil
}

func (r *driveRecorder) wait(t *testing.T, n int) []drive.Request {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for drive call %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]drive.Request(nil), r.calls...)
}

func newScheduler(t *testing.T, rec *driveRecorder) (*Scheduler, *dialog.Arena, context.CancelFunc) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	arena := dialog.NewArena()
	s := New(arena, st, rec.drive)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return s, arena, cancel
}

func TestMarkNeedsDriveRunsDialog(t *testing.T) {
	rec := newRecorder(nil)
	s, arena, _ := newScheduler(t, rec)
	d := arena.CreateRoot("alice")

	s.MarkNeedsDrive(d.ID.Self)
	calls := rec.wait(t, 1)
	require.Len(t, calls, 1)
	assert.Equal(t, d.ID.Self, calls[0].DialogID)
	assert.Nil(t, calls[0].Prompt)
	assert.True(t, calls[0].Flags.WaitInQueue)
}

func TestEnqueueCarriesPromptAndFlags(t *testing.T) {
	rec := newRecorder(nil)
	s, arena, _ := newScheduler(t, rec)
	d := arena.CreateRoot("alice")

	s.Enqueue(drive.Request{
		DialogID: d.ID.Self,
		Prompt:   &dialog.Prompt{Content: "go", Origin: dialog.OriginUser},
		Flags:    drive.Flags{SuppressDiligencePush: true, WaitInQueue: true},
	})
	calls := rec.wait(t, 1)
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Prompt)
	assert.Equal(t, "go", calls[0].Prompt.Content)
	assert.True(t, calls[0].Flags.SuppressDiligencePush)
}

func TestFlagSkipsInterruptedDialog(t *testing.T) {
	rec := newRecorder(nil)
	s, arena, _ := newScheduler(t, rec)
	parked := arena.CreateRoot("alice")
	live := arena.CreateRoot("bob")

	_, err := s.Store.MutateLatest(parked.ID.Self, func(st *store.LatestState) {
		st.RunState = runstate.Interrupted(runstate.StopUser, "")
		st.NeedsDrive = true
	})
	require.NoError(t, err)

	s.MarkNeedsDrive(parked.ID.Self)
	s.MarkNeedsDrive(live.ID.Self)

	calls := rec.wait(t, 1)
	require.Len(t, calls, 1)
	assert.Equal(t, live.ID.Self, calls[0].DialogID)

	// The parked dialog's flag is consumed and the persisted flag cleared.
	latest, err := s.Store.LoadLatest(parked.ID.Self)
	require.NoError(t, err)
	assert.False(t, latest.NeedsDrive)
}

func TestResumeRequestReachesInterruptedDialog(t *testing.T) {
	rec := newRecorder(nil)
	s, arena, _ := newScheduler(t, rec)
	d := arena.CreateRoot("alice")

	_, err := s.Store.MutateLatest(d.ID.Self, func(st *store.LatestState) {
		st.RunState = runstate.Interrupted(runstate.StopUser, "")
	})
	require.NoError(t, err)

	// The resume flag overrides the parked-dialog skip.
	s.Enqueue(drive.Request{
		DialogID: d.ID.Self,
		Flags:    drive.Flags{AllowResumeFromInterrupted: true, WaitInQueue: true},
	})
	calls := rec.wait(t, 1)
	require.Len(t, calls, 1)
	assert.Equal(t, d.ID.Self, calls[0].DialogID)
	assert.True(t, calls[0].Flags.AllowResumeFromInterrupted)
}

func TestBusyDriveIsReflagged(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	rec := newRecorder(nil)
	rec.fn = func(ctx context.Context, d *dialog.Dialog, prompt *dialog.Prompt, flags drive.Flags) (*drive.Outputs, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return nil, drive.ErrDialogBusy
		}
		return &drive.Outputs{}, nil
	}
	s, arena, _ := newScheduler(t, rec)
	d := arena.CreateRoot("alice")

	s.MarkNeedsDrive(d.ID.Self)
	rec.wait(t, 2)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestPostDriveObservesOutputs(t *testing.T) {
	rec := newRecorder(func(ctx context.Context, d *dialog.Dialog, prompt *dialog.Prompt, flags drive.Flags) (*drive.Outputs, error) {
		return &drive.Outputs{LastSayingContent: "answer", LastSayingGenseq: 1}, nil
	})

	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	arena := dialog.NewArena()
	s := New(arena, st, rec.drive)

	post := make(chan *drive.Outputs, 1)
	s.PostDrive = func(d *dialog.Dialog, req drive.Request, out *drive.Outputs) {
		post <- out
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	d := arena.CreateRoot("alice")
	s.MarkNeedsDrive(d.ID.Self)

	select {
	case out := <-post:
		assert.Equal(t, "answer", out.LastSayingContent)
	case <-time.After(2 * time.Second):
		t.Fatal("post-drive hook never fired")
	}
}

func TestRestoreReflagsPersistedNeedsDrive(t *testing.T) {
	rec := newRecorder(nil)
	s, arena, _ := newScheduler(t, rec)
	d := arena.CreateRoot("alice")
	_, err := s.Store.MutateLatest(d.ID.Self, func(st *store.LatestState) {
		st.NeedsDrive = true
	})
	require.NoError(t, err)

	s.Restore()
	calls := rec.wait(t, 1)
	require.Len(t, calls, 1)
	assert.Equal(t, d.ID.Self, calls[0].DialogID)
}

func TestParallelDialogsSingleFlightPerDialog(t *testing.T) {
	block := make(chan struct{})
	rec := newRecorder(func(ctx context.Context, d *dialog.Dialog, prompt *dialog.Prompt, flags drive.Flags) (*drive.Outputs, error) {
		<-block
		return &drive.Outputs{}, nil
	})
	s, arena, _ := newScheduler(t, rec)
	d1 := arena.CreateRoot("alice")
	d2 := arena.CreateRoot("bob")

	s.MarkNeedsDrive(d1.ID.Self)
	s.MarkNeedsDrive(d2.ID.Self)
	// A second flag for an in-flight dialog must not start a second drive.
	time.Sleep(50 * time.Millisecond)
	s.MarkNeedsDrive(d1.ID.Self)
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	started := len(rec.calls)
	rec.mu.Unlock()
	assert.Equal(t, 2, started)

	close(block)
	// The re-flag is honored after the first drive finishes.
	calls := rec.wait(t, 3)
	assert.Len(t, calls, 3)
}

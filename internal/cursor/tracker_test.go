package cursor

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/and161185/collabify/internal/model"
)

// testLoop stands in for the engine loop: timer callbacks are queued and
// executed on the test goroutine.
type testLoop struct{ ch chan func() }

func newTestLoop() *testLoop { return &testLoop{ch: make(chan func(), 16)} }

func (l *testLoop) post(f func()) { l.ch <- f }

func (l *testLoop) runOne(t *testing.T) {
	t.Helper()
	select {
	case f := <-l.ch:
		f()
	case <-time.After(time.Second):
		t.Fatal("no callback posted")
	}
}

func (l *testLoop) idle(t *testing.T) {
	t.Helper()
	select {
	case <-l.ch:
		t.Fatal("unexpected callback")
	case <-time.After(50 * time.Millisecond):
	}
}

func u(id string) model.UserIdentity { return model.UserIdentity{UserID: id, DisplayName: id} }

func newTracker(t *testing.T) (*Tracker, *clockwork.FakeClock, *testLoop, *int) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	l := newTestLoop()
	changes := 0
	tr := New(fc, WithPost(l.post), WithOnChange(func() { changes++ }))
	t.Cleanup(tr.Stop)
	return tr, fc, l, &changes
}

func TestTracker_TTL(t *testing.T) {
	tr, fc, l, changes := newTracker(t)
	p := model.Position{X: 1, Y: 2}
	require.True(t, tr.Observe(u("u1"), p))
	require.Equal(t, 1, *changes)

	fc.Advance(2999 * time.Millisecond)
	cur := tr.Current()
	require.Len(t, cur, 1)
	require.Equal(t, p, cur[0].Position)
	l.idle(t)

	fc.Advance(time.Millisecond)
	// Expired at query time even before the eviction callback has run.
	require.Empty(t, tr.Current())

	l.runOne(t)
	require.Empty(t, tr.entries)
	require.Equal(t, 2, *changes)
}

func TestTracker_RefreshNotEvicted(t *testing.T) {
	tr, fc, l, _ := newTracker(t)
	p1 := model.Position{X: 1, Y: 1}
	p2 := model.Position{X: 2, Y: 2}

	tr.Observe(u("u1"), p1)
	fc.Advance(2900 * time.Millisecond)
	tr.Observe(u("u1"), p2)
	fc.Advance(200 * time.Millisecond)
	l.idle(t)

	cur := tr.Current()
	require.Len(t, cur, 1)
	require.Equal(t, "u1", cur[0].Owner.UserID)
	require.Equal(t, p2, cur[0].Position)

	fc.Advance(2800 * time.Millisecond)
	l.runOne(t)
	require.Empty(t, tr.Current())
}

func TestTracker_StaleEvictionIgnored(t *testing.T) {
	tr, _, _, _ := newTracker(t)
	tr.Observe(u("u1"), model.Position{})
	stale := tr.entries["u1"].seq
	tr.Observe(u("u1"), model.Position{X: 5})

	// A callback armed for the first observe that slipped past Stop.
	tr.evict("u1", stale)
	require.Len(t, tr.Current(), 1)
	require.Equal(t, 5.0, tr.Current()[0].Position.X)
}

func TestTracker_OnePerUser(t *testing.T) {
	tr, _, _, _ := newTracker(t)
	tr.Observe(u("u1"), model.Position{X: 1})
	tr.Observe(u("u2"), model.Position{X: 2})
	tr.Observe(u("u1"), model.Position{X: 3})
	require.Len(t, tr.Current(), 2)
}

func TestTracker_LocalRejected(t *testing.T) {
	tr, _, _, changes := newTracker(t)
	tr.SetLocal("me")
	require.False(t, tr.Observe(u("me"), model.Position{}))
	require.False(t, tr.Observe(model.UserIdentity{}, model.Position{}))
	require.Empty(t, tr.Current())
	require.Zero(t, *changes)
}

func TestTracker_SetLocalDropsExisting(t *testing.T) {
	tr, _, _, _ := newTracker(t)
	tr.Observe(u("u1"), model.Position{})
	tr.SetLocal("u1")
	require.Empty(t, tr.Current())
}

func TestTracker_StopCancelsEvictions(t *testing.T) {
	tr, fc, l, changes := newTracker(t)
	tr.Observe(u("u1"), model.Position{})
	tr.Stop()
	fc.Advance(10 * time.Second)
	l.idle(t)
	require.Empty(t, tr.Current())
	require.False(t, tr.Observe(u("u2"), model.Position{}))
	require.Equal(t, 1, *changes)
}

func TestTracker_Forget(t *testing.T) {
	tr, fc, l, changes := newTracker(t)
	tr.Observe(u("u1"), model.Position{})
	tr.Forget("u1")
	tr.Forget("absent")
	require.Empty(t, tr.Current())
	require.Equal(t, 2, *changes)
	fc.Advance(5 * time.Second)
	l.idle(t)
}

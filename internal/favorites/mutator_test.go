package favorites

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/backdrop/internal/library"
	"github.com/five82/backdrop/internal/notify"
	"github.com/five82/backdrop/internal/state"
)

type write struct {
	id       string
	favorite bool
	reply    chan error
}

// gatedWriter holds every write until the test answers it.
type gatedWriter struct {
	writes chan write
}

func newGatedWriter() *gatedWriter {
	return &gatedWriter{writes: make(chan write, 16)}
}

func (g *gatedWriter) SetFavorite(ctx context.Context, _, id string, favorite bool) error {
	w := write{id: id, favorite: favorite, reply: make(chan error, 1)}
	g.writes <- w
	select {
	case err := <-w.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedWriter) next(t *testing.T) write {
	t.Helper()
	select {
	case w := <-g.writes:
		return w
	case <-time.After(3 * time.Second):
		t.Fatalf("no write issued")
		return write{}
	}
}

func (g *gatedWriter) none(t *testing.T) {
	t.Helper()
	select {
	case w := <-g.writes:
		t.Fatalf("unexpected write %+v", w)
	case <-time.After(50 * time.Millisecond):
	}
}

type toasts struct {
	mu   sync.Mutex
	list []notify.Severity
}

func (n *toasts) Enqueue(_ string, severity notify.Severity) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, severity)
	return "id"
}

func (n *toasts) count(severity notify.Severity) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.list {
		if s == severity {
			c++
		}
	}
	return c
}

func snapshot(ids ...string) state.Snapshot {
	snap := state.Snapshot{UserID: "u1", Exists: true, Favorites: map[string]struct{}{}, FavoriteOrder: ids}
	for _, id := range ids {
		snap.Favorites[id] = struct{}{}
	}
	return snap
}

func newMutator(t *testing.T, w Writer, n notify.Notifier, clock clockwork.Clock) *Mutator {
	t.Helper()
	m := New(Options{UserID: "u1", Writer: w, Notifier: n, Clock: clock})
	t.Cleanup(m.Close)
	return m
}

func TestToggle_FlipsSynchronouslyAndCommits(t *testing.T) {
	w := newGatedWriter()
	m := newMutator(t, w, nil, clockwork.NewFakeClock())

	got, err := m.Toggle("w1")
	require.NoError(t, err)
	assert.True(t, got)
	assert.True(t, m.IsFavorite("w1"))
	assert.Equal(t, Pending, m.State("w1"))

	wr := w.next(t)
	assert.Equal(t, write{id: "w1", favorite: true}, write{id: wr.id, favorite: wr.favorite})
	wr.reply <- nil

	require.Eventually(t, func() bool { return m.State("w1") == Idle }, time.Second, time.Millisecond)
	assert.True(t, m.IsFavorite("w1"))
	assert.Equal(t, []string{"w1"}, m.Favorites())
}

func TestToggle_PairCoalescesToOriginalState(t *testing.T) {
	w := newGatedWriter()
	m := newMutator(t, w, nil, clockwork.NewFakeClock())

	first, _ := m.Toggle("w1")
	second, _ := m.Toggle("w1")
	assert.True(t, first)
	assert.False(t, second)
	assert.False(t, m.IsFavorite("w1"))

	// The in-flight add lands, then one follow-up removes it again.
	add := w.next(t)
	assert.True(t, add.favorite)
	add.reply <- nil
	remove := w.next(t)
	assert.False(t, remove.favorite)
	remove.reply <- nil

	require.Eventually(t, func() bool { return m.State("w1") == Idle }, time.Second, time.Millisecond)
	assert.False(t, m.IsFavorite("w1"))
	w.none(t)
}

func TestToggle_TripleToggleIssuesOneFollowUp(t *testing.T) {
	w := newGatedWriter()
	m := newMutator(t, w, nil, clockwork.NewFakeClock())

	m.Toggle("w1")
	m.Toggle("w1")
	m.Toggle("w1")
	assert.True(t, m.IsFavorite("w1"))

	// Desired equals the in-flight value, so nothing follows.
	w.next(t).reply <- nil
	require.Eventually(t, func() bool { return m.State("w1") == Idle }, time.Second, time.Millisecond)
	w.none(t)
	assert.True(t, m.IsFavorite("w1"))
}

func TestToggle_FailureRollsBackAndNotifies(t *testing.T) {
	w := newGatedWriter()
	n := &toasts{}
	var events []Event
	var mu sync.Mutex
	m := New(Options{UserID: "u1", Writer: w, Notifier: n, Clock: clockwork.NewFakeClock(), OnChange: func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}})
	defer m.Close()
	m.Reconcile(snapshot("w1"))

	got, _ := m.Toggle("w1")
	assert.False(t, got)
	w.next(t).reply <- &library.NetworkError{Op: "set favorite", Err: errors.New("offline")}

	require.Eventually(t, func() bool { return m.State("w1") == Idle }, time.Second, time.Millisecond)
	assert.True(t, m.IsFavorite("w1"), "value should revert to pre-toggle")
	assert.Equal(t, 1, n.count(notify.Error))

	mu.Lock()
	defer mu.Unlock()
	last := events[len(events)-1]
	assert.Equal(t, RolledBack, last.Phase)
	assert.True(t, last.Favorite)
}

func TestToggle_FailedWriteToggledBackSettlesQuietly(t *testing.T) {
	w := newGatedWriter()
	n := &toasts{}
	var events []Event
	var mu sync.Mutex
	m := New(Options{UserID: "u1", Writer: w, Notifier: n, Clock: clockwork.NewFakeClock(), OnChange: func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}})
	defer m.Close()

	m.Toggle("w1")
	m.Toggle("w1")
	assert.False(t, m.IsFavorite("w1"))
	w.next(t).reply <- &library.NetworkError{Op: "set favorite", Err: errors.New("offline")}

	require.Eventually(t, func() bool { return m.State("w1") == Idle }, time.Second, time.Millisecond)
	assert.False(t, m.IsFavorite("w1"))
	assert.Zero(t, n.count(notify.Error))
	w.none(t)

	mu.Lock()
	defer mu.Unlock()
	last := events[len(events)-1]
	assert.Equal(t, Idle, last.Phase)
	assert.NoError(t, last.Err)
}

func TestToggle_OfflineTimesOutAndReverts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := newGatedWriter()
	n := &toasts{}
	m := newMutator(t, w, n, clock)

	got, err := m.Toggle("w42")
	require.NoError(t, err)
	assert.True(t, got)
	assert.True(t, m.IsFavorite("w42"))
	pendingWrite := w.next(t)

	clock.Advance(DefaultTimeout - time.Millisecond)
	assert.Equal(t, Pending, m.State("w42"))
	clock.Advance(time.Millisecond)

	require.Eventually(t, func() bool { return m.State("w42") == Idle }, time.Second, time.Millisecond)
	assert.False(t, m.IsFavorite("w42"))
	assert.Equal(t, 1, n.count(notify.Error))

	// A late success for the abandoned write is ignored.
	pendingWrite.reply <- nil
	time.Sleep(20 * time.Millisecond)
	assert.False(t, m.IsFavorite("w42"))
}

func TestReconcile_SkipsPendingIDs(t *testing.T) {
	w := newGatedWriter()
	m := newMutator(t, w, nil, clockwork.NewFakeClock())
	m.Reconcile(snapshot("a"))

	m.Toggle("b")
	wr := w.next(t)

	// The snapshot predates the write: b is absent, c is new, a was removed.
	m.Reconcile(snapshot("c"))
	assert.True(t, m.IsFavorite("b"), "pending id keeps its optimistic value")
	assert.True(t, m.IsFavorite("c"))
	assert.False(t, m.IsFavorite("a"))

	wr.reply <- nil
	require.Eventually(t, func() bool { return m.State("b") == Idle }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"b", "c"}, m.Favorites())
}

func TestReconcile_NewerSnapshotWinsOnRollback(t *testing.T) {
	w := newGatedWriter()
	m := newMutator(t, w, nil, clockwork.NewFakeClock())

	m.Toggle("w1")
	wr := w.next(t)
	m.Reconcile(snapshot("w1"))
	wr.reply <- errors.New("boom")

	require.Eventually(t, func() bool { return m.State("w1") == Idle }, time.Second, time.Millisecond)
	assert.True(t, m.IsFavorite("w1"))
}

func TestToggle_Guards(t *testing.T) {
	n := &toasts{}
	anon := New(Options{Writer: newGatedWriter(), Notifier: n})
	defer anon.Close()
	_, err := anon.Toggle("w1")
	assert.ErrorIs(t, err, library.ErrAuthRequired)
	assert.Equal(t, 1, n.count(notify.Info))

	m := newMutator(t, newGatedWriter(), nil, clockwork.NewFakeClock())
	_, err = m.Toggle(" ")
	var verr *library.ValidationError
	assert.ErrorAs(t, err, &verr)
}

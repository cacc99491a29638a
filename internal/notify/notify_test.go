package notify

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ExpiresAfterTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := New(Options{Clock: clock})
	defer q.Close()

	q.Enqueue("saved", Success)
	require.Equal(t, 1, q.Len())
	assert.Equal(t, clock.Now().Add(DefaultTTL), q.Messages()[0].ExpiresAt)

	clock.Advance(DefaultTTL - time.Millisecond)
	assert.Equal(t, 1, q.Len())
	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
}

func TestQueue_DismissAfterExpiryKeepsNewerMessage(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := New(Options{Clock: clock, TTL: time.Second})
	defer q.Close()

	old := q.Enqueue("first", Info)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

	newer := q.Enqueue("second", Error)
	assert.NotEqual(t, old, newer)

	q.Dismiss(old)
	q.Dismiss(old)
	q.Dismiss("no-such-id")

	msgs := q.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, newer, msgs[0].ID)
	assert.Equal(t, Error, msgs[0].Severity)
}

func TestQueue_DismissStopsTimerAndNotifies(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var changes atomic.Int32
	q := New(Options{Clock: clock, OnChange: func() { changes.Add(1) }})
	defer q.Close()

	a := q.Enqueue("a", Info)
	q.Enqueue("b", Info)
	q.Dismiss(a)

	assert.Equal(t, int32(3), changes.Load())
	require.Len(t, q.Messages(), 1)
	assert.Equal(t, "b", q.Messages()[0].Text)
}

func TestQueue_CloseDropsMessages(t *testing.T) {
	q := New(Options{Clock: clockwork.NewFakeClock()})
	q.Enqueue("a", Info)
	q.Close()
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Enqueue("late", Info))
}

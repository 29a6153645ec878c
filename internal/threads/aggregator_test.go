// ABOUTME: Tests for the thread aggregator state machine.
// ABOUTME: Covers open/append/close, restarts, pass-through, and reminders.

package threads

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(delay time.Duration, remind func(chatID, userID int64)) *Aggregator {
	return New(delay, remind, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPassThroughOutsideThread(t *testing.T) {
	a := newTestAggregator(time.Minute, nil)

	out := a.Handle(1, 100, "just a normal message")
	assert.False(t, out.Buffered)
	assert.False(t, out.HasFlushed)
	assert.False(t, a.Active(100))
}

func TestThreadCollectAndClose(t *testing.T) {
	a := newTestAggregator(time.Minute, nil)

	out := a.Handle(1, 100, "1/ hello")
	assert.True(t, out.Buffered)
	assert.False(t, out.HasFlushed)
	assert.True(t, a.Active(100))

	out = a.Handle(1, 100, "world")
	assert.True(t, out.Buffered)
	assert.False(t, out.HasFlushed)

	out = a.Handle(1, 100, "x/ done")
	require.True(t, out.HasFlushed)
	assert.Equal(t, "1/ hello\nworld\nx/ done", out.Flushed)
	assert.False(t, a.Active(100))
}

func TestEndMarkerVariants(t *testing.T) {
	for _, closing := range []string{"x/ finished", "/x", "// that is all", "and done //"} {
		a := newTestAggregator(time.Minute, nil)
		a.Handle(1, 100, "1/ start")

		out := a.Handle(1, 100, closing)
		assert.True(t, out.HasFlushed, "closing message %q", closing)
		assert.False(t, a.Active(100))
	}
}

func TestNewStartMarkerRestartsThread(t *testing.T) {
	a := newTestAggregator(time.Minute, nil)

	a.Handle(1, 100, "1/ first thread")
	a.Handle(1, 100, "more of first")

	out := a.Handle(1, 100, "2/ second thread")
	require.True(t, out.HasFlushed)
	assert.Equal(t, "1/ first thread\nmore of first", out.Flushed)
	assert.True(t, out.Buffered)
	assert.True(t, a.Active(100))

	out = a.Handle(1, 100, "x/")
	require.True(t, out.HasFlushed)
	assert.Equal(t, "2/ second thread\nx/", out.Flushed)
}

func TestThreadsAreIndependentPerUser(t *testing.T) {
	a := newTestAggregator(time.Minute, nil)

	a.Handle(1, 100, "1/ alpha")
	out := a.Handle(2, 200, "plain message from someone else")
	assert.False(t, out.Buffered)

	out = a.Handle(1, 100, "x/")
	require.True(t, out.HasFlushed)
	assert.Equal(t, "1/ alpha\nx/", out.Flushed)
}

func TestCancelDiscardsThread(t *testing.T) {
	a := newTestAggregator(time.Minute, nil)

	assert.False(t, a.Cancel(100))

	a.Handle(1, 100, "1/ something")
	assert.True(t, a.Cancel(100))
	assert.False(t, a.Active(100))

	// The buffered content is gone; the next plain message passes through.
	out := a.Handle(1, 100, "hello")
	assert.False(t, out.Buffered)
}

func TestIdleReminderFiresOnce(t *testing.T) {
	var mu sync.Mutex
	var reminders []int64
	remind := func(chatID, userID int64) {
		mu.Lock()
		reminders = append(reminders, userID)
		mu.Unlock()
	}

	a := newTestAggregator(30*time.Millisecond, remind)
	a.Handle(7, 100, "1/ open thread")

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int64{100}, reminders, "one reminder per thread")
	mu.Unlock()
	assert.True(t, a.Active(100), "the thread stays open; no auto-flush")

	// More activity followed by another quiet spell must not nudge again.
	a.Handle(7, 100, "more content")
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int64{100}, reminders, "a thread is reminded at most once")
	mu.Unlock()

	// Closing and opening a fresh thread earns a fresh reminder.
	a.Handle(7, 100, "x/")
	a.Handle(7, 100, "2/ new thread")
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int64{100, 100}, reminders)
	mu.Unlock()
}

func TestReminderSuppressedByActivityAndClose(t *testing.T) {
	var mu sync.Mutex
	count := 0
	remind := func(chatID, userID int64) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	a := newTestAggregator(50*time.Millisecond, remind)
	a.Handle(1, 100, "1/ open")
	time.Sleep(20 * time.Millisecond)
	a.Handle(1, 100, "still typing") // rearms the timer
	time.Sleep(20 * time.Millisecond)
	a.Handle(1, 100, "x/") // closes before any reminder was due

	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 0, count, "no reminder for an active or closed thread")
	mu.Unlock()
}

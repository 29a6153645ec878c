// ABOUTME: Tests for the process tracker.
// ABOUTME: Covers registration, status transitions, and graceful termination.

package claude

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	return NewTracker(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTrackerRegisterDuplicate(t *testing.T) {
	tr := newTestTracker()

	require.NoError(t, tr.Register("p1", 100, "claude -p hi"))
	err := tr.Register("p1", 100, "claude -p hi")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestTrackerStatusTransitions(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Register("p1", 100, "cmd"))

	status, ok := tr.Status("p1")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, status)

	tr.MarkDone("p1", StatusCompleted)
	status, _ = tr.Status("p1")
	assert.Equal(t, StatusCompleted, status)

	// A terminal state is not overwritten by a later MarkDone.
	tr.MarkDone("p1", StatusKilled)
	status, _ = tr.Status("p1")
	assert.Equal(t, StatusCompleted, status)

	_, ok = tr.Status("missing")
	assert.False(t, ok)
}

func TestTrackerTerminateKeepsKilledStatus(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Register("p1", 100, "cmd"))

	// No process attached: terminate just settles the handle.
	require.NoError(t, tr.Terminate(context.Background(), "p1", time.Second))
	status, _ := tr.Status("p1")
	assert.Equal(t, StatusKilled, status)

	// The normal completion path afterwards keeps the killed state.
	tr.MarkDone("p1", StatusCompleted)
	status, _ = tr.Status("p1")
	assert.Equal(t, StatusKilled, status)
}

func TestTrackerTerminateIdempotent(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Register("p1", 100, "cmd"))

	require.NoError(t, tr.Terminate(context.Background(), "p1", time.Second))
	require.NoError(t, tr.Terminate(context.Background(), "p1", time.Second))
	require.NoError(t, tr.Terminate(context.Background(), "unknown", time.Second))
}

func TestTrackerTerminateRealProcess(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Register("p1", 100, "sleep 30"))

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	tr.Attach("p1", cmd.Process)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		tr.MarkDone("p1", StatusCompleted)
		close(done)
	}()

	require.NoError(t, tr.Terminate(context.Background(), "p1", 5*time.Second))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit after terminate")
	}

	status, _ := tr.Status("p1")
	assert.Equal(t, StatusKilled, status)
}

func TestTrackerListAndRunning(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Register("p1", 100, "cmd one"))
	require.NoError(t, tr.Register("p2", 200, "cmd two"))
	tr.MarkDone("p2", StatusCompleted)

	assert.Len(t, tr.List(), 2)

	running := tr.Running()
	require.Len(t, running, 1)
	assert.Equal(t, "p1", running[0].ID)
	assert.Equal(t, int64(100), running[0].UserID)
}

func TestTrackerFindByPrefix(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Register("abc-123", 1, "cmd"))
	require.NoError(t, tr.Register("abd-456", 1, "cmd"))

	assert.Len(t, tr.FindByPrefix("ab"), 2)
	assert.Equal(t, []string{"abc-123"}, tr.FindByPrefix("abc"))
	assert.Empty(t, tr.FindByPrefix("zzz"))
}

func TestTrackerRemove(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Register("p1", 1, "cmd"))
	tr.Remove("p1")

	_, ok := tr.Status("p1")
	assert.False(t, ok)
	assert.Empty(t, tr.List())
}

func TestTrackerTerminateAll(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Register("p1", 1, "cmd"))
	require.NoError(t, tr.Register("p2", 2, "cmd"))
	require.NoError(t, tr.Register("p3", 3, "cmd"))
	tr.MarkDone("p3", StatusCompleted)

	killed := tr.TerminateAll(context.Background(), time.Second)
	assert.Equal(t, 2, killed)
	assert.Empty(t, tr.Running())
}

// ABOUTME: Registry of running agent processes with graceful termination.
// ABOUTME: Tracks handle status transitions and escalates SIGTERM to SIGKILL.

package claude

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Status is the lifecycle state of a tracked process.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusKilled    Status = "killed"
)

// ErrAlreadyRegistered is returned when a handle ID is registered twice.
var ErrAlreadyRegistered = errors.New("process already registered")

// Handle describes one tracked process.
type Handle struct {
	ID        string
	UserID    int64
	Command   string
	StartedAt time.Time

	mu     sync.Mutex
	status Status
	proc   *os.Process
	done   chan struct{}
	closed bool
}

// HandleInfo is a read-only snapshot of a tracked process.
type HandleInfo struct {
	ID        string
	UserID    int64
	Command   string
	StartedAt time.Time
	Status    Status
}

// Tracker maintains the set of live agent processes. All methods are safe
// for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	logger  *slog.Logger
}

// NewTracker creates an empty process tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		handles: make(map[string]*Handle),
		logger:  logger.With("component", "tracker"),
	}
}

// Register adds a handle in the running state. The process itself may be
// attached later, once it has actually started.
func (t *Tracker) Register(id string, userID int64, command string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.handles[id]; ok {
		return ErrAlreadyRegistered
	}
	t.handles[id] = &Handle{
		ID:        id,
		UserID:    userID,
		Command:   command,
		StartedAt: time.Now(),
		status:    StatusRunning,
		done:      make(chan struct{}),
	}
	t.logger.Debug("process registered", "process_id", id, "user_id", userID)
	return nil
}

// Attach binds the started OS process to a registered handle so that
// Terminate can signal it.
func (t *Tracker) Attach(id string, proc *os.Process) {
	t.mu.RLock()
	h, ok := t.handles[id]
	t.mu.RUnlock()
	if !ok {
		return
	}
	h.mu.Lock()
	h.proc = proc
	h.mu.Unlock()
}

// MarkDone records that the process exited. If the handle was already
// moved to a terminal state (for example killed), that state is kept.
// The done channel is closed either way, releasing any Terminate waiters.
func (t *Tracker) MarkDone(id string, status Status) {
	t.mu.RLock()
	h, ok := t.handles[id]
	t.mu.RUnlock()
	if !ok {
		return
	}
	h.mu.Lock()
	if h.status == StatusRunning {
		h.status = status
	}
	if !h.closed {
		h.closed = true
		close(h.done)
	}
	h.mu.Unlock()
}

// Status reports the current state of a handle.
func (t *Tracker) Status(id string) (Status, bool) {
	t.mu.RLock()
	h, ok := t.handles[id]
	t.mu.RUnlock()
	if !ok {
		return "", false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, true
}

// List returns snapshots of all tracked handles.
func (t *Tracker) List() []HandleInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	infos := make([]HandleInfo, 0, len(t.handles))
	for _, h := range t.handles {
		h.mu.Lock()
		infos = append(infos, HandleInfo{
			ID:        h.ID,
			UserID:    h.UserID,
			Command:   h.Command,
			StartedAt: h.StartedAt,
			Status:    h.status,
		})
		h.mu.Unlock()
	}
	return infos
}

// Running returns snapshots of handles still in the running state.
func (t *Tracker) Running() []HandleInfo {
	var running []HandleInfo
	for _, info := range t.List() {
		if info.Status == StatusRunning {
			running = append(running, info)
		}
	}
	return running
}

// FindByPrefix returns the IDs of tracked handles whose ID starts with
// the given prefix.
func (t *Tracker) FindByPrefix(prefix string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []string
	for id := range t.handles {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Remove drops a handle from the registry.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	delete(t.handles, id)
	t.mu.Unlock()
}

// Terminate stops a running process: SIGTERM first, then SIGKILL once the
// grace period elapses. It is idempotent; terminating an unknown or
// already-finished handle is a no-op.
func (t *Tracker) Terminate(ctx context.Context, id string, grace time.Duration) error {
	t.mu.RLock()
	h, ok := t.handles[id]
	t.mu.RUnlock()
	if !ok {
		return nil
	}

	h.mu.Lock()
	if h.status != StatusRunning {
		h.mu.Unlock()
		return nil
	}
	h.status = StatusKilled
	proc := h.proc
	if proc == nil {
		// Never attached; nothing to signal.
		if !h.closed {
			h.closed = true
			close(h.done)
		}
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	t.logger.Info("terminating process", "process_id", id, "grace", grace)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(grace):
	}

	t.logger.Warn("process did not exit in time, killing", "process_id", id)
	_ = proc.Kill()

	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// TerminateAll stops every running process and reports how many were
// signaled.
func (t *Tracker) TerminateAll(ctx context.Context, grace time.Duration) int {
	running := t.Running()
	for _, info := range running {
		_ = t.Terminate(ctx, info.ID, grace)
	}
	return len(running)
}

// ABOUTME: In-memory store.Store used by package tests.
// ABOUTME: Mirrors the SQLite store's semantics without touching disk.

package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/nashef/claude-telegram-bot/internal/store"
)

// MemStore is a thread-safe in-memory implementation of store.Store.
type MemStore struct {
	mu        sync.Mutex
	config    map[string]string
	sessions  map[int64]*store.Session
	processes map[string]*store.Process
	state     map[string]string
	errs      []*store.ErrorRecord
	nextErrID int64
}

// New creates an empty MemStore.
func New() *MemStore {
	return &MemStore{
		config:    make(map[string]string),
		sessions:  make(map[int64]*store.Session),
		processes: make(map[string]*store.Process),
		state:     make(map[string]string),
	}
}

func (m *MemStore) GetConfig(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.config[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (m *MemStore) SetConfig(ctx context.Context, key, value string) error {
	m.mu.Lock()
	m.config[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemStore) DeleteConfig(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.config[key]
	delete(m.config, key)
	return ok, nil
}

func (m *MemStore) GetSession(ctx context.Context, userID int64) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

func (m *MemStore) SetSession(ctx context.Context, userID int64, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if sess, ok := m.sessions[userID]; ok {
		sess.SessionID = sessionID
		sess.LastUsed = now
		return nil
	}
	m.sessions[userID] = &store.Session{
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: now,
		LastUsed:  now,
	}
	return nil
}

func (m *MemStore) ClearSession(ctx context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[userID]
	delete(m.sessions, userID)
	return ok, nil
}

func (m *MemStore) TrackProcess(ctx context.Context, p *store.Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *p
	m.processes[p.ProcessID] = &copied
	return nil
}

func (m *MemStore) UpdateProcessStatus(ctx context.Context, processID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[processID]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	now := time.Now()
	p.EndedAt = &now
	return nil
}

func (m *MemStore) ListActiveProcesses(ctx context.Context) ([]*store.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*store.Process
	for _, p := range m.processes {
		if p.Status == store.ProcessRunning {
			copied := *p
			active = append(active, &copied)
		}
	}
	return active, nil
}

func (m *MemStore) GetState(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (m *MemStore) SetState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	m.state[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemStore) IsPaused(ctx context.Context) bool {
	v, _ := m.GetState(ctx, store.StatePaused)
	return v == "true"
}

func (m *MemStore) IsDebug(ctx context.Context) bool {
	v, _ := m.GetState(ctx, store.StateDebug)
	return v == "true"
}

func (m *MemStore) LogError(ctx context.Context, rec *store.ErrorRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextErrID++
	copied := *rec
	copied.ID = m.nextErrID
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	m.errs = append(m.errs, &copied)
}

func (m *MemStore) RecentErrors(ctx context.Context, limit int) ([]*store.ErrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := append([]*store.ErrorRecord(nil), m.errs...)
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

func (m *MemStore) PurgeErrors(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var kept []*store.ErrorRecord
	var purged int64
	for _, rec := range m.errs {
		if rec.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	m.errs = kept
	return purged, nil
}

func (m *MemStore) Close() error { return nil }

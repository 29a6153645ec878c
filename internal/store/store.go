// ABOUTME: Store interface and data types for claude-telegram-bot persistence.
// ABOUTME: Defines session, process, bot-state and error-log records and their operations.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Process status values.
const (
	ProcessRunning   = "running"
	ProcessCompleted = "completed"
	ProcessKilled    = "killed"
)

// Session links a Telegram user to their Claude session.
type Session struct {
	UserID    int64
	SessionID string
	CreatedAt time.Time
	LastUsed  time.Time
}

// Process records one Claude invocation for audit and the /ps command.
type Process struct {
	ProcessID string
	UserID    int64
	Command   string // truncated to 500 chars
	StartedAt time.Time
	Status    string // running, completed, killed
	EndedAt   *time.Time
}

// ErrorRecord is one persisted error, surfaced by /errors.
type ErrorRecord struct {
	ID        int64
	UserID    int64
	Kind      string
	Message   string
	Handler   string
	CreatedAt time.Time
}

// Well-known bot state keys.
const (
	StatePaused = "paused"
	StateDebug  = "debug_mode"
)

// Store defines persistence for sessions, process status, bot state,
// configuration overrides and the error log.
type Store interface {
	// Config key-value overrides
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	DeleteConfig(ctx context.Context, key string) (bool, error)

	// Per-user Claude sessions
	GetSession(ctx context.Context, userID int64) (*Session, error)
	SetSession(ctx context.Context, userID int64, sessionID string) error
	ClearSession(ctx context.Context, userID int64) (bool, error)

	// Process tracking
	TrackProcess(ctx context.Context, p *Process) error
	UpdateProcessStatus(ctx context.Context, processID, status string) error
	ListActiveProcesses(ctx context.Context) ([]*Process, error)

	// Bot state (pause flag, debug flag)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	IsPaused(ctx context.Context) bool
	IsDebug(ctx context.Context) bool

	// Error log, bounded by age via PurgeErrors. LogError is best-effort
	// and never returns an error.
	LogError(ctx context.Context, rec *ErrorRecord)
	RecentErrors(ctx context.Context, limit int) ([]*ErrorRecord, error)
	PurgeErrors(ctx context.Context, olderThan time.Duration) (int64, error)

	// Close releases any resources held by the store
	Close() error
}

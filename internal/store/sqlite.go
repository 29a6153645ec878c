// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides session/process/state persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// maxCommandLen bounds stored process command text.
const maxCommandLen = 500

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			user_id INTEGER PRIMARY KEY,
			session_id TEXT,
			created_at DATETIME NOT NULL,
			last_used DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS processes (
			process_id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			command TEXT,
			started_at DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			ended_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_processes_status
			ON processes(status);

		CREATE TABLE IF NOT EXISTS bot_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS error_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER,
			kind TEXT,
			message TEXT,
			handler TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_error_logs_created
			ON error_logs(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// GetConfig returns the configuration value for key, or ErrNotFound.
func (s *SQLiteStore) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting config %q: %w", key, err)
	}
	return value, nil
}

// SetConfig inserts or replaces a configuration value.
func (s *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting config %q: %w", key, err)
	}
	return nil
}

// DeleteConfig removes a configuration value, reporting whether it existed.
func (s *SQLiteStore) DeleteConfig(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM config WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("deleting config %q: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetSession returns the stored Claude session for a user, or ErrNotFound.
// The row's last_used timestamp is refreshed on read.
func (s *SQLiteStore) GetSession(ctx context.Context, userID int64) (*Session, error) {
	sess := &Session{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id, created_at, last_used FROM sessions WHERE user_id = ?", userID).
		Scan(&sess.SessionID, &sess.CreatedAt, &sess.LastUsed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session for user %d: %w", userID, err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET last_used = ? WHERE user_id = ?", time.Now().UTC(), userID); err != nil {
		s.logger.Warn("failed to touch session", "user_id", userID, "error", err)
	}
	return sess, nil
}

// SetSession inserts or updates the Claude session for a user.
func (s *SQLiteStore) SetSession(ctx context.Context, userID int64, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, session_id, created_at, last_used) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET session_id = excluded.session_id, last_used = excluded.last_used`,
		userID, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("setting session for user %d: %w", userID, err)
	}
	return nil
}

// ClearSession removes a user's session, reporting whether one existed.
func (s *SQLiteStore) ClearSession(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID)
	if err != nil {
		return false, fmt.Errorf("clearing session for user %d: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// TrackProcess records a newly started Claude invocation.
func (s *SQLiteStore) TrackProcess(ctx context.Context, p *Process) error {
	command := p.Command
	if len(command) > maxCommandLen {
		command = command[:maxCommandLen]
	}
	startedAt := p.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	status := p.Status
	if status == "" {
		status = ProcessRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processes (process_id, user_id, command, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		p.ProcessID, p.UserID, command, startedAt, status)
	if err != nil {
		return fmt.Errorf("tracking process %s: %w", p.ProcessID, err)
	}
	return nil
}

// UpdateProcessStatus transitions a process to completed or killed,
// stamping ended_at for terminal states.
func (s *SQLiteStore) UpdateProcessStatus(ctx context.Context, processID, status string) error {
	var endedAt any
	if status == ProcessCompleted || status == ProcessKilled {
		endedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE processes SET status = ?, ended_at = ? WHERE process_id = ?",
		status, endedAt, processID)
	if err != nil {
		return fmt.Errorf("updating process %s: %w", processID, err)
	}
	return nil
}

// ListActiveProcesses returns all processes still marked running.
func (s *SQLiteStore) ListActiveProcesses(ctx context.Context) ([]*Process, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT process_id, user_id, command, started_at, status, ended_at
		FROM processes WHERE status = ? ORDER BY started_at`, ProcessRunning)
	if err != nil {
		return nil, fmt.Errorf("listing active processes: %w", err)
	}
	defer rows.Close()

	var procs []*Process
	for rows.Next() {
		p := &Process{}
		var command sql.NullString
		var endedAt sql.NullTime
		if err := rows.Scan(&p.ProcessID, &p.UserID, &command, &p.StartedAt, &p.Status, &endedAt); err != nil {
			return nil, fmt.Errorf("scanning process row: %w", err)
		}
		p.Command = command.String
		if endedAt.Valid {
			t := endedAt.Time
			p.EndedAt = &t
		}
		procs = append(procs, p)
	}
	return procs, rows.Err()
}

// GetState returns a bot state value, or ErrNotFound.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM bot_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting bot state %q: %w", key, err)
	}
	return value, nil
}

// SetState inserts or replaces a bot state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting bot state %q: %w", key, err)
	}
	return nil
}

// IsPaused reports whether message intake is paused. Missing state means not paused.
func (s *SQLiteStore) IsPaused(ctx context.Context) bool {
	v, err := s.GetState(ctx, StatePaused)
	return err == nil && v == "true"
}

// IsDebug reports whether debug logging is enabled.
func (s *SQLiteStore) IsDebug(ctx context.Context) bool {
	v, err := s.GetState(ctx, StateDebug)
	return err == nil && v == "true"
}

// LogError persists an error record. Failures are logged and swallowed;
// error logging must never become a new failure.
func (s *SQLiteStore) LogError(ctx context.Context, rec *ErrorRecord) {
	message := rec.Message
	if len(message) > 1000 {
		message = message[:1000]
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_logs (user_id, kind, message, handler, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.UserID, rec.Kind, message, rec.Handler, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to persist error record", "kind", rec.Kind, "error", err)
	}
}

// RecentErrors returns up to limit error records, newest first.
func (s *SQLiteStore) RecentErrors(ctx context.Context, limit int) ([]*ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, message, handler, created_at
		FROM error_logs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent errors: %w", err)
	}
	defer rows.Close()

	var recs []*ErrorRecord
	for rows.Next() {
		rec := &ErrorRecord{}
		var userID sql.NullInt64
		var kind, message, handler sql.NullString
		if err := rows.Scan(&rec.ID, &userID, &kind, &message, &handler, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning error row: %w", err)
		}
		rec.UserID = userID.Int64
		rec.Kind = kind.String
		rec.Message = message.String
		rec.Handler = handler.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// PurgeErrors deletes error records older than the given age and returns
// how many were removed.
func (s *SQLiteStore) PurgeErrors(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, "DELETE FROM error_logs WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging errors: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("purged old error logs", "count", n)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

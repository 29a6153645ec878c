// Package store provides persistent storage for the bot using SQLite.
//
// # Data Models
//
//   - Session: per-user Claude session id with last-used tracking
//   - Process: one Claude invocation (running, completed, killed)
//   - ErrorRecord: persisted errors surfaced by the /errors command
//   - config / bot_state: key-value tables for overrides and runtime flags
//
// SQLiteStore implements the Store interface using modernc.org/sqlite with
// WAL mode and automatic schema creation. Error logging is best-effort:
// a failed insert is logged and swallowed, never escalated.
package store

// ABOUTME: Slash command handlers: status, session, pause, and process control.
// ABOUTME: Commands execute immediately and never pass through the work queue.

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nashef/claude-telegram-bot/internal/store"
)

const helpText = `Available commands:
/status - bot and queue status
/clear - start a fresh Claude session
/pause - stop processing new messages
/resume - resume processing
/ps - list running Claude processes
/kill <id> - terminate a process by id prefix
/killall - terminate all running processes
/debug [on|off] - toggle debug logging
/errors - show recent errors
/restart - restart the bot
/help - this message`

func (b *Bot) handleCommand(ctx context.Context, chatID, userID int64, text string, log *slog.Logger) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	// Strip the @botname suffix used in group chats.
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	args := fields[1:]
	log.Info("command", "cmd", cmd)

	switch cmd {
	case "/start":
		b.reply(ctx, chatID, "👋 Hello! Send me a message and I will pass it to Claude.\nUse /help to see what else I can do.")
	case "/help":
		b.reply(ctx, chatID, helpText)
	case "/status":
		b.cmdStatus(ctx, chatID, userID)
	case "/clear":
		b.cmdClear(ctx, chatID, userID, log)
	case "/pause":
		b.cmdSetPaused(ctx, chatID, true, log)
	case "/resume":
		b.cmdSetPaused(ctx, chatID, false, log)
	case "/ps":
		b.cmdPs(ctx, chatID)
	case "/kill":
		b.cmdKill(ctx, chatID, args, log)
	case "/killall":
		b.cmdKillAll(ctx, chatID, log)
	case "/debug":
		b.cmdDebug(ctx, chatID, args, log)
	case "/errors":
		b.cmdErrors(ctx, chatID)
	case "/restart":
		b.cmdRestart(ctx, chatID, log)
	default:
		b.reply(ctx, chatID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) cmdStatus(ctx context.Context, chatID, userID int64) {
	var sb strings.Builder
	sb.WriteString("📊 Status\n")
	fmt.Fprintf(&sb, "Uptime: %s\n", time.Since(b.startedAt).Round(time.Second))
	fmt.Fprintf(&sb, "Queue: %d waiting\n", b.queue.Len())
	fmt.Fprintf(&sb, "Running processes: %d\n", len(b.tracker.Running()))

	if b.store.IsPaused(ctx) {
		sb.WriteString("State: ⏸ paused\n")
	} else {
		sb.WriteString("State: ▶️ active\n")
	}
	if b.store.IsDebug(ctx) {
		sb.WriteString("Debug: on\n")
	}

	if sess, err := b.store.GetSession(ctx, userID); err == nil {
		fmt.Fprintf(&sb, "Session: %s\n", shortID(sess.SessionID))
	} else {
		sb.WriteString("Session: none\n")
	}
	if b.agg.Active(userID) {
		sb.WriteString("Thread: open 🧵\n")
	}

	b.reply(ctx, chatID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) cmdClear(ctx context.Context, chatID, userID int64, log *slog.Logger) {
	hadThread := b.agg.Cancel(userID)
	if b.forgetSession != nil {
		b.forgetSession(userID)
	}
	hadSession, err := b.store.ClearSession(ctx, userID)
	if err != nil {
		log.Error("clear session", "error", err)
		b.reply(ctx, chatID, "❌ Could not clear the session.")
		return
	}
	switch {
	case hadSession && hadThread:
		b.reply(ctx, chatID, "🗑 Session and open thread cleared. The next message starts fresh.")
	case hadSession:
		b.reply(ctx, chatID, "🗑 Session cleared. The next message starts fresh.")
	case hadThread:
		b.reply(ctx, chatID, "🗑 Open thread discarded.")
	default:
		b.reply(ctx, chatID, "Nothing to clear.")
	}
}

func (b *Bot) cmdSetPaused(ctx context.Context, chatID int64, paused bool, log *slog.Logger) {
	value := "false"
	if paused {
		value = "true"
	}
	if err := b.store.SetState(ctx, store.StatePaused, value); err != nil {
		log.Error("set paused", "error", err)
		b.reply(ctx, chatID, "❌ Could not change the pause state.")
		return
	}
	if paused {
		b.reply(ctx, chatID, "⏸ Paused. Queued work still runs; new messages are rejected until /resume.")
	} else {
		b.reply(ctx, chatID, "▶️ Resumed.")
	}
}

func (b *Bot) cmdPs(ctx context.Context, chatID int64) {
	running := b.tracker.Running()
	if len(running) == 0 {
		b.reply(ctx, chatID, "No running processes.")
		return
	}
	var sb strings.Builder
	sb.WriteString("🏃 Running processes:\n")
	for _, p := range running {
		fmt.Fprintf(&sb, "%s  %s  %s\n",
			shortID(p.ID),
			time.Since(p.StartedAt).Round(time.Second),
			truncateCmd(p.Command))
	}
	b.reply(ctx, chatID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) cmdKill(ctx context.Context, chatID int64, args []string, log *slog.Logger) {
	if len(args) == 0 {
		b.reply(ctx, chatID, "Usage: /kill <process id prefix> (see /ps)")
		return
	}
	prefix := args[0]
	matches := b.tracker.FindByPrefix(prefix)
	switch len(matches) {
	case 0:
		b.reply(ctx, chatID, fmt.Sprintf("No process matches %q.", prefix))
	case 1:
		id := matches[0]
		if err := b.tracker.Terminate(ctx, id, 5*time.Second); err != nil {
			log.Error("kill process", "process_id", id, "error", err)
			b.reply(ctx, chatID, "❌ Could not terminate the process.")
			return
		}
		if err := b.store.UpdateProcessStatus(ctx, id, store.ProcessKilled); err != nil {
			log.Warn("update killed status", "error", err)
		}
		b.reply(ctx, chatID, fmt.Sprintf("💀 Terminated %s.", shortID(id)))
	default:
		b.reply(ctx, chatID, fmt.Sprintf("%q matches %d processes; be more specific.", prefix, len(matches)))
	}
}

func (b *Bot) cmdKillAll(ctx context.Context, chatID int64, log *slog.Logger) {
	running := b.tracker.Running()
	killed := b.tracker.TerminateAll(ctx, 5*time.Second)
	for _, p := range running {
		if err := b.store.UpdateProcessStatus(ctx, p.ID, store.ProcessKilled); err != nil {
			log.Warn("update killed status", "process_id", p.ID, "error", err)
		}
	}
	b.reply(ctx, chatID, fmt.Sprintf("💀 Terminated %d process(es).", killed))
}

// cmdDebug flips debug mode and with it the handler's log level. With no
// argument it toggles; "on" and "off" set it explicitly.
func (b *Bot) cmdDebug(ctx context.Context, chatID int64, args []string, log *slog.Logger) {
	var enable bool
	switch {
	case len(args) == 0:
		enable = !b.store.IsDebug(ctx)
	case args[0] == "on":
		enable = true
	case args[0] == "off":
		enable = false
	default:
		b.reply(ctx, chatID, "Usage: /debug [on|off]")
		return
	}

	value := "false"
	if enable {
		value = "true"
	}
	if err := b.store.SetState(ctx, store.StateDebug, value); err != nil {
		log.Error("toggle debug", "error", err)
		b.reply(ctx, chatID, "❌ Could not toggle debug mode.")
		return
	}
	if b.cfg.LogLevel != nil {
		if enable {
			b.cfg.LogLevel.Set(slog.LevelDebug)
		} else {
			b.cfg.LogLevel.Set(slog.LevelInfo)
		}
	}
	if enable {
		b.reply(ctx, chatID, "🐛 Debug mode on. Logging at debug level.")
	} else {
		b.reply(ctx, chatID, "Debug mode off. Logging at info level.")
	}
}

func (b *Bot) cmdErrors(ctx context.Context, chatID int64) {
	recs, err := b.store.RecentErrors(ctx, 10)
	if err != nil {
		b.reply(ctx, chatID, "❌ Could not read the error log.")
		return
	}
	if len(recs) == 0 {
		b.reply(ctx, chatID, "No recent errors. 🎉")
		return
	}
	var sb strings.Builder
	sb.WriteString("⚠️ Recent errors:\n")
	for _, rec := range recs {
		fmt.Fprintf(&sb, "[%s] %s: %s\n",
			rec.CreatedAt.Format("01-02 15:04"),
			rec.Kind,
			truncateCmd(rec.Message))
	}
	b.reply(ctx, chatID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) cmdRestart(ctx context.Context, chatID int64, log *slog.Logger) {
	if b.requestRestart == nil {
		b.reply(ctx, chatID, "Restart is not available.")
		return
	}
	b.reply(ctx, chatID, "♻️ Restarting...")
	log.Info("restart requested")
	b.requestRestart()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateCmd(s string) string {
	const max = 60
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// ABOUTME: Telegram update loop: authorization, threading, and queue intake.
// ABOUTME: Dispatches slash commands and turns messages and files into work items.

package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nashef/claude-telegram-bot/internal/classify"
	"github.com/nashef/claude-telegram-bot/internal/claude"
	"github.com/nashef/claude-telegram-bot/internal/heartbeat"
	"github.com/nashef/claude-telegram-bot/internal/queue"
	"github.com/nashef/claude-telegram-bot/internal/security"
	"github.com/nashef/claude-telegram-bot/internal/store"
	"github.com/nashef/claude-telegram-bot/internal/telegram"
	"github.com/nashef/claude-telegram-bot/internal/threads"
)

const (
	pollTimeout   = 30 * time.Second
	pollRetryWait = 2 * time.Second
)

// API is the Telegram surface the bot consumes. Satisfied by
// telegram.Client.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
	SendPlainMessage(ctx context.Context, chatID int64, text string) (int64, error)
	GetFile(ctx context.Context, fileID string) (telegram.File, error)
	DownloadFile(ctx context.Context, filePath string, dst io.Writer) error
}

// Config tunes the intake loop.
type Config struct {
	WorkingDir    string
	WakeUpEnabled bool
	WakeUpPrompt  string
	PrimaryChatID int64
	// LogLevel, when set, is adjusted by the /debug command.
	LogLevel *slog.LevelVar
}

// Bot polls Telegram for updates and feeds the work queue.
type Bot struct {
	cfg       Config
	api       API
	queue     *queue.Queue
	store     store.Store
	validator *security.Validator
	agg       *threads.Aggregator
	tracker   *claude.Tracker
	activity  *heartbeat.Tracker
	logger    *slog.Logger

	// requestRestart asks the supervisor to restart all subsystems.
	requestRestart func()
	// forgetSession drops the worker's cached session for a user when the
	// conversation is cleared.
	forgetSession func(userID int64)

	startedAt time.Time
	offset    int64
}

// New creates a bot. requestRestart and forgetSession may be nil when no
// supervisor or worker is attached.
func New(cfg Config, api API, q *queue.Queue, st store.Store, validator *security.Validator, agg *threads.Aggregator, tracker *claude.Tracker, activity *heartbeat.Tracker, requestRestart func(), forgetSession func(userID int64), logger *slog.Logger) *Bot {
	return &Bot{
		cfg:            cfg,
		api:            api,
		queue:          q,
		store:          st,
		validator:      validator,
		agg:            agg,
		tracker:        tracker,
		activity:       activity,
		requestRestart: requestRestart,
		forgetSession:  forgetSession,
		logger:         logger.With("component", "bot"),
		startedAt:      time.Now(),
	}
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot started", "allowed_users", len(b.validator.AllowedUsers()))
	b.wakeUp()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		updates, err := b.api.GetUpdates(ctx, b.offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("poll failed", "error", err)
			wait := pollRetryWait
			if cat, _ := classify.Categorize(err); cat == classify.RateLimit {
				wait = 10 * time.Second
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			b.handleUpdate(ctx, u)
		}
	}
}

// wakeUp queues a one-time greeting prompt for the primary conversation.
func (b *Bot) wakeUp() {
	if !b.cfg.WakeUpEnabled || b.cfg.PrimaryChatID == 0 {
		return
	}
	users := b.validator.AllowedUsers()
	if len(users) == 0 {
		return
	}
	item := &queue.Item{
		Prompt: b.cfg.WakeUpPrompt,
		ChatID: b.cfg.PrimaryChatID,
		UserID: users[0],
		Source: queue.SourceWakeUp,
	}
	if err := b.queue.Enqueue(item); err != nil {
		b.logger.Warn("enqueue wake-up", "error", err)
		return
	}
	b.activity.Touch(item.ChatID, item.UserID)
	b.logger.Info("wake-up prompt queued", "chat_id", item.ChatID)
}

func (b *Bot) handleUpdate(ctx context.Context, u telegram.Update) {
	msg := u.Message
	if msg == nil || msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID
	log := b.logger.With("user_id", userID, "chat_id", chatID)

	if !b.validator.IsAuthorized(userID) {
		log.Warn("unauthorized message rejected", "username", msg.From.Username)
		b.reply(ctx, chatID, "⛔ You are not authorized to use this bot.")
		return
	}

	if strings.HasPrefix(msg.Text, "/") {
		b.handleCommand(ctx, chatID, userID, msg.Text, log)
		return
	}

	if !b.validator.CheckRateLimit(userID) {
		log.Warn("rate limit exceeded")
		b.reply(ctx, chatID, "🚫 Rate limit exceeded. Please slow down.")
		return
	}
	if b.store.IsPaused(ctx) {
		b.reply(ctx, chatID, "⏸ The bot is paused. Use /resume to continue.")
		return
	}

	if msg.Document != nil || len(msg.Photo) > 0 {
		b.handleAttachment(ctx, chatID, userID, msg, log)
		return
	}
	if msg.Text == "" {
		return
	}

	b.activity.Touch(chatID, userID)

	out := b.agg.Handle(chatID, userID, msg.Text)
	if out.HasFlushed {
		b.enqueue(ctx, chatID, userID, out.Flushed, queue.SourceUserText, log)
	}
	if out.Buffered {
		return
	}
	b.enqueue(ctx, chatID, userID, msg.Text, queue.SourceUserText, log)
}

func (b *Bot) enqueue(ctx context.Context, chatID, userID int64, prompt string, source queue.Source, log *slog.Logger) {
	item := &queue.Item{Prompt: prompt, ChatID: chatID, UserID: userID, Source: source}
	if err := b.queue.Enqueue(item); err != nil {
		log.Error("enqueue failed", "error", err)
		b.reply(ctx, chatID, "❌ The bot is shutting down and cannot accept new requests.")
		return
	}
	log.Debug("item queued", "source", string(source), "queue_len", b.queue.Len())
}

// handleAttachment downloads the file into the agent's working directory
// and queues a notice describing it.
func (b *Bot) handleAttachment(ctx context.Context, chatID, userID int64, msg *telegram.Message, log *slog.Logger) {
	fileID, name := attachmentRef(msg)
	if fileID == "" {
		return
	}

	path, err := b.downloadTo(ctx, fileID, name)
	if err != nil {
		log.Error("attachment download failed", "file", name, "error", err)
		_, userMsg := classify.Categorize(err)
		b.reply(ctx, chatID, "❌ "+userMsg)
		return
	}
	log.Info("attachment saved", "path", path)

	prompt := fmt.Sprintf("The user sent a file, saved at %s.", path)
	if msg.Caption != "" {
		prompt += " They said: " + msg.Caption
	}
	b.activity.Touch(chatID, userID)
	b.enqueue(ctx, chatID, userID, prompt, queue.SourceAttachment, log)
}

func (b *Bot) downloadTo(ctx context.Context, fileID, name string) (string, error) {
	f, err := b.api.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(b.cfg.WorkingDir, "tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filepath.Base(name))

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if err := b.api.DownloadFile(ctx, f.FilePath, dst); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// attachmentRef picks the file to fetch: the document itself, or the
// largest photo rendition.
func attachmentRef(msg *telegram.Message) (fileID, name string) {
	if msg.Document != nil {
		name = msg.Document.FileName
		if name == "" {
			name = msg.Document.FileID
		}
		return msg.Document.FileID, name
	}
	if len(msg.Photo) > 0 {
		best := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		return best.FileID, "photo_" + best.FileID + ".jpg"
	}
	return "", ""
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.SendPlainMessage(ctx, chatID, text); err != nil {
		b.logger.Warn("reply failed", "chat_id", chatID, "error", err)
	}
}

// RemindThread nudges a user whose thread has gone quiet. Wired as the
// aggregator's reminder callback.
func (b *Bot) RemindThread(chatID, userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b.logger.Debug("thread reminder", "user_id", userID)
	b.reply(ctx, chatID, "🧵 Your thread is still open. Send a message ending with // to close it.")
}

// NotifyAllowedUsers sends a plain message to every allowed user. Used by
// the supervisor for crash notices.
func (b *Bot) NotifyAllowedUsers(ctx context.Context, text string) {
	chatID := b.cfg.PrimaryChatID
	if chatID != 0 {
		b.reply(ctx, chatID, text)
		return
	}
	for _, userID := range b.validator.AllowedUsers() {
		b.reply(ctx, userID, text)
	}
}

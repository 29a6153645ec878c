// ABOUTME: Sequential worker that drains the queue one prompt at a time.
// ABOUTME: Manages session continuity, progress updates, and failure reporting.

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nashef/claude-telegram-bot/internal/classify"
	"github.com/nashef/claude-telegram-bot/internal/claude"
	"github.com/nashef/claude-telegram-bot/internal/heartbeat"
	"github.com/nashef/claude-telegram-bot/internal/markdown"
	"github.com/nashef/claude-telegram-bot/internal/queue"
	"github.com/nashef/claude-telegram-bot/internal/store"
	"github.com/nashef/claude-telegram-bot/internal/telegram"
	"github.com/nashef/claude-telegram-bot/internal/throttle"
)

const (
	processingText = "⏳ Processing..."
	typingInterval = 4 * time.Second
	previewLen     = 200
)

// Transport is the outbound messaging surface the worker needs. Satisfied
// by telegram.Client.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
	SendPlainMessage(ctx context.Context, chatID int64, text string) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

// Config tunes the worker loop.
type Config struct {
	WorkingDir string
	// HeartbeatThreshold bounds each dequeue wait; on expiry the worker
	// synthesizes a heartbeat for the most recent conversation. Zero
	// disables synthesis.
	HeartbeatThreshold time.Duration
	HeartbeatPrompt    string
	ThrottleInterval   time.Duration
}

// Worker consumes the queue strictly one item at a time. Failures are
// reported to the user and logged; the loop itself never stops on them.
type Worker struct {
	cfg       Config
	queue     *queue.Queue
	store     store.Store
	invoker   claude.Invoker
	tracker   *claude.Tracker
	transport Transport
	activity  *heartbeat.Tracker
	logger    *slog.Logger

	render func(string) string

	mu           sync.Mutex
	sessionCache map[int64]string
	processed    int
}

// New creates a worker. It does not start consuming until Run is called.
func New(cfg Config, q *queue.Queue, st store.Store, invoker claude.Invoker, tracker *claude.Tracker, transport Transport, activity *heartbeat.Tracker, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:          cfg,
		queue:        q,
		store:        st,
		invoker:      invoker,
		tracker:      tracker,
		transport:    transport,
		activity:     activity,
		logger:       logger.With("component", "worker"),
		render:       markdown.ToTelegramHTML,
		sessionCache: make(map[int64]string),
	}
}

// Run loops until the context is cancelled or the queue is closed and
// drained.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "working_dir", w.cfg.WorkingDir)
	for {
		item, err := w.queue.Dequeue(ctx, w.cfg.HeartbeatThreshold)
		switch {
		case errors.Is(err, queue.ErrClosed):
			w.logger.Info("queue closed, worker exiting")
			return nil
		case errors.Is(err, queue.ErrTimeout):
			w.synthesizeHeartbeat(ctx)
			continue
		case err != nil:
			return err
		}

		w.process(ctx, item)
	}
}

// Processed reports how many items the worker has handled.
func (w *Worker) Processed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed
}

// synthesizeHeartbeat runs a heartbeat prompt for the most recently active
// conversation. Nothing happens before the first real item or while the
// bot is paused.
func (w *Worker) synthesizeHeartbeat(ctx context.Context) {
	w.mu.Lock()
	ready := w.processed > 0
	w.mu.Unlock()
	if !ready || w.cfg.HeartbeatThreshold <= 0 {
		return
	}
	if w.store.IsPaused(ctx) {
		return
	}
	conv, ok := w.activity.MostRecent()
	if !ok {
		return
	}

	w.logger.Debug("queue idle, synthesizing heartbeat", "chat_id", conv.ChatID)
	w.process(ctx, &queue.Item{
		Prompt: w.cfg.HeartbeatPrompt,
		ChatID: conv.ChatID,
		UserID: conv.UserID,
		Source: queue.SourceHeartbeat,
	})
}

func (w *Worker) process(ctx context.Context, item *queue.Item) {
	log := w.logger.With("user_id", item.UserID, "source", string(item.Source))
	log.Info("processing item", "prompt_len", len(item.Prompt))

	processID := uuid.NewString()
	command := commandSummary(item.Prompt)
	if err := w.tracker.Register(processID, item.UserID, command); err != nil {
		log.Error("register process", "error", err)
	}
	if err := w.store.TrackProcess(ctx, &store.Process{
		ProcessID: processID,
		UserID:    item.UserID,
		Command:   command,
		StartedAt: time.Now(),
		Status:    store.ProcessRunning,
	}); err != nil {
		log.Warn("track process", "error", err)
	}

	statusID, err := w.transport.SendPlainMessage(ctx, item.ChatID, processingText)
	if err != nil {
		log.Warn("send processing message", "error", err)
	}

	typingDone := make(chan struct{})
	go w.typeWhileWorking(ctx, item.ChatID, typingDone)

	th := throttle.New(w.cfg.ThrottleInterval, func(ev claude.Event) {
		if statusID == 0 {
			return
		}
		if text := progressText(ev); text != "" {
			_ = w.transport.EditMessageText(ctx, item.ChatID, statusID, text)
		}
	}, w.logger)

	result, invokeErr := w.invoker.Invoke(ctx, &claude.Request{
		Prompt:     item.Prompt,
		WorkingDir: w.cfg.WorkingDir,
		SessionID:  w.resolveSession(ctx, item.UserID),
		ProcessID:  processID,
		OnEvent:    th.Handle,
	})
	close(typingDone)

	w.finishProcess(ctx, processID, log)

	if invokeErr != nil {
		w.reportFailure(ctx, item, statusID, invokeErr, log)
		return
	}

	w.rememberSession(ctx, item.UserID, result.SessionID, log)
	w.deliver(ctx, item.ChatID, statusID, result, log)

	w.activity.Touch(item.ChatID, item.UserID)
	w.mu.Lock()
	w.processed++
	w.mu.Unlock()
	log.Info("item done", "duration", result.Duration, "is_error", result.IsError)
}

// typeWhileWorking keeps the typing indicator alive until done closes.
func (w *Worker) typeWhileWorking(ctx context.Context, chatID int64, done <-chan struct{}) {
	_ = w.transport.SendChatAction(ctx, chatID, telegram.ActionTyping)
	ticker := time.NewTicker(typingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.transport.SendChatAction(ctx, chatID, telegram.ActionTyping)
		}
	}
}

// resolveSession prefers the persisted session, falling back to the
// in-memory cache when the store has none or cannot answer.
func (w *Worker) resolveSession(ctx context.Context, userID int64) string {
	sess, err := w.store.GetSession(ctx, userID)
	if err == nil && sess != nil {
		return sess.SessionID
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		w.logger.Warn("session lookup failed, using cache", "user_id", userID, "error", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionCache[userID]
}

// ForgetSession drops a user's cached session so a cleared conversation
// cannot be resurrected from the cache.
func (w *Worker) ForgetSession(userID int64) {
	w.mu.Lock()
	delete(w.sessionCache, userID)
	w.mu.Unlock()
}

func (w *Worker) rememberSession(ctx context.Context, userID int64, sessionID string, log *slog.Logger) {
	if sessionID == "" {
		return
	}
	w.mu.Lock()
	w.sessionCache[userID] = sessionID
	w.mu.Unlock()
	if err := w.store.SetSession(ctx, userID, sessionID); err != nil {
		log.Warn("persist session", "error", err)
	}
}

// finishProcess mirrors the tracker's terminal status into the store and
// drops the handle.
func (w *Worker) finishProcess(ctx context.Context, processID string, log *slog.Logger) {
	status := store.ProcessCompleted
	if s, ok := w.tracker.Status(processID); ok && s == claude.StatusKilled {
		status = store.ProcessKilled
	}
	if err := w.store.UpdateProcessStatus(ctx, processID, status); err != nil {
		log.Warn("update process status", "error", err)
	}
	w.tracker.Remove(processID)
}

// deliver edits the status message into the first chunk of the response and
// sends the rest as follow-up messages.
func (w *Worker) deliver(ctx context.Context, chatID, statusID int64, result *claude.Result, log *slog.Logger) {
	content := strings.TrimSpace(result.Content)
	if content == "" {
		content = "✅ Done."
	}

	chunks := w.renderChunks(content)
	for i, rendered := range chunks {
		if i == 0 && statusID != 0 {
			if err := w.transport.EditMessageText(ctx, chatID, statusID, rendered); err == nil {
				continue
			}
		}
		if _, err := w.transport.SendMessage(ctx, chatID, rendered); err != nil {
			if isTooLong(err) {
				w.sendPlainSplit(ctx, chatID, rendered, log)
				continue
			}
			log.Error("deliver chunk", "chunk", i, "error", err)
		}
	}
}

// renderChunks splits content so every rendered piece fits Telegram's
// limit. HTML escaping and tags grow text past the raw rune count, so any
// chunk that renders over the limit is re-split at a smaller size.
func (w *Worker) renderChunks(content string) []string {
	var out []string
	var emit func(raw string, limit int)
	emit = func(raw string, limit int) {
		for _, chunk := range telegram.SplitMessageAt(raw, limit) {
			rendered := w.render(chunk)
			if utf8.RuneCountInString(rendered) <= telegram.MaxMessageLen || limit <= 64 {
				out = append(out, rendered)
				continue
			}
			emit(chunk, limit/2)
		}
	}
	emit(content, telegram.MaxMessageLen)
	return out
}

// sendPlainSplit is the last resort when the API still rejects a chunk as
// too long (Telegram counts UTF-16 units, not runes). Formatting is
// sacrificed for that chunk; content is not.
func (w *Worker) sendPlainSplit(ctx context.Context, chatID int64, text string, log *slog.Logger) {
	for _, part := range telegram.SplitMessageAt(text, telegram.MaxMessageLen/2) {
		if _, err := w.transport.SendPlainMessage(ctx, chatID, part); err != nil {
			log.Error("deliver chunk", "error", err)
		}
	}
}

func isTooLong(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "too long")
}

func (w *Worker) reportFailure(ctx context.Context, item *queue.Item, statusID int64, err error, log *slog.Logger) {
	category, userMsg := classify.Categorize(err)
	log.Error("item failed", "category", string(category), "error", err)

	w.store.LogError(ctx, &store.ErrorRecord{
		UserID:  item.UserID,
		Kind:    string(category),
		Message: err.Error(),
		Handler: "worker",
	})

	text := "❌ " + userMsg
	if statusID != 0 {
		if editErr := w.transport.EditMessageText(ctx, item.ChatID, statusID, text); editErr == nil {
			return
		}
	}
	if _, sendErr := w.transport.SendPlainMessage(ctx, item.ChatID, text); sendErr != nil {
		log.Error("report failure", "error", sendErr)
	}
}

// progressText renders a streaming event as a short status line.
func progressText(ev claude.Event) string {
	switch ev.Type {
	case claude.EventAssistant:
		return "💭 " + truncate(ev.Content, previewLen)
	case claude.EventToolUse:
		return fmt.Sprintf("🔧 Using %s...", ev.ToolName)
	case claude.EventToolResult:
		if ev.IsError {
			return "⚠️ Tool reported an error, continuing..."
		}
		return ""
	default:
		return ""
	}
}

func commandSummary(prompt string) string {
	return "claude -p " + truncate(prompt, 120)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

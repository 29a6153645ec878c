// ABOUTME: Wires the store, queue, worker, bot, and heartbeat into one runtime.
// ABOUTME: One Run call is one supervised generation with ordered teardown.

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nashef/claude-telegram-bot/internal/bot"
	"github.com/nashef/claude-telegram-bot/internal/claude"
	"github.com/nashef/claude-telegram-bot/internal/config"
	"github.com/nashef/claude-telegram-bot/internal/heartbeat"
	"github.com/nashef/claude-telegram-bot/internal/queue"
	"github.com/nashef/claude-telegram-bot/internal/security"
	"github.com/nashef/claude-telegram-bot/internal/store"
	"github.com/nashef/claude-telegram-bot/internal/supervisor"
	"github.com/nashef/claude-telegram-bot/internal/telegram"
	"github.com/nashef/claude-telegram-bot/internal/threads"
	"github.com/nashef/claude-telegram-bot/internal/worker"
)

const (
	errorRetention = 7 * 24 * time.Hour
	shutdownGrace  = 5 * time.Second
)

// App builds and runs one generation of the bot's subsystems.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	logLevel *slog.LevelVar

	// notifier is set while a generation is running so the supervisor can
	// reach users between generations.
	notifier func(ctx context.Context, text string)
}

// New creates an App from a validated configuration. logLevel is the root
// handler's level; the /debug command adjusts it at runtime and may be nil.
func New(cfg *config.Config, logger *slog.Logger, logLevel *slog.LevelVar) *App {
	return &App{cfg: cfg, logger: logger.With("component", "app"), logLevel: logLevel}
}

// Notify sends a message to the operator chat, if a transport exists.
func (a *App) Notify(ctx context.Context, text string) {
	if a.notifier != nil {
		a.notifier(ctx, text)
	}
}

// Run starts every subsystem and blocks until the context ends, a restart
// is requested, or a subsystem fails. It returns supervisor.ErrRestart for
// deliberate restarts and nil for a clean shutdown.
func (a *App) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	cfg := a.cfg

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			a.logger.Warn("close store", "error", closeErr)
		}
	}()

	if purged, purgeErr := st.PurgeErrors(ctx, errorRetention); purgeErr != nil {
		a.logger.Warn("purge error log", "error", purgeErr)
	} else if purged > 0 {
		a.logger.Info("purged old errors", "count", purged)
	}

	q := queue.New()
	tracker := claude.NewTracker(a.logger)
	executor := claude.NewExecutor(claude.Config{
		Binary:       cfg.Claude.Binary,
		Model:        cfg.Claude.Model,
		AllowedTools: cfg.Claude.AllowedTools,
		MaxTurns:     cfg.Claude.MaxTurns,
		Timeout:      cfg.Claude.Timeout,
	}, tracker, a.logger)
	validator := security.NewValidator(cfg.Telegram.AllowedUsers, cfg.Limits.RateRequests, cfg.Limits.RateWindow)
	activity := heartbeat.NewTracker()
	client := telegram.NewClient(cfg.Telegram.Token, a.logger)

	restartCh := make(chan struct{}, 1)
	requestRestart := func() {
		select {
		case restartCh <- struct{}{}:
		default:
		}
	}

	// Debug mode is persisted; restore the log level it implies.
	if a.logLevel != nil && st.IsDebug(ctx) {
		a.logLevel.Set(slog.LevelDebug)
	}

	heartbeatThreshold := time.Duration(0)
	if cfg.Heartbeat.Enabled {
		heartbeatThreshold = cfg.Heartbeat.Threshold
	}

	w := worker.New(worker.Config{
		WorkingDir:         cfg.Claude.WorkingDir,
		HeartbeatThreshold: heartbeatThreshold,
		HeartbeatPrompt:    cfg.Heartbeat.Message,
	}, q, st, executor, tracker, client, activity, a.logger)

	// The aggregator's reminder callback needs the bot, which needs the
	// aggregator; the closure resolves the cycle.
	var b *bot.Bot
	agg := threads.New(cfg.Threads.ReminderDelay, func(chatID, userID int64) {
		b.RemindThread(chatID, userID)
	}, a.logger)

	b = bot.New(bot.Config{
		WorkingDir:    cfg.Claude.WorkingDir,
		WakeUpEnabled: cfg.WakeUp.Enabled,
		WakeUpPrompt:  cfg.WakeUp.Prompt,
		PrimaryChatID: cfg.Telegram.PrimaryChatID,
		LogLevel:      a.logLevel,
	}, client, q, st, validator, agg, tracker, activity, requestRestart, w.ForgetSession, a.logger)
	// Kept after teardown so the supervisor can still send crash notices;
	// the transport is stateless HTTP.
	a.notifier = b.NotifyAllowedUsers

	monitor := heartbeat.NewMonitor(activity, heartbeatThreshold, heartbeat.DefaultPoll, func(conv heartbeat.Conversation) {
		item := &queue.Item{
			Prompt: cfg.Heartbeat.Message,
			ChatID: conv.ChatID,
			UserID: conv.UserID,
			Source: queue.SourceHeartbeat,
		}
		if enqErr := q.Enqueue(item); enqErr != nil {
			a.logger.Warn("enqueue heartbeat", "error", enqErr)
		}
	}, func() bool {
		return st.IsPaused(context.Background())
	}, a.logger)

	botCtx, stopBot := context.WithCancel(ctx)
	defer stopBot()
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	var g errgroup.Group
	subsystemErr := make(chan error, 2)

	g.Go(func() error {
		runErr := runRecovered(botCtx, "bot", b.Run, a.logger)
		if runErr != nil {
			subsystemErr <- runErr
		}
		return runErr
	})
	g.Go(func() error {
		runErr := runRecovered(workerCtx, "worker", w.Run, a.logger)
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			subsystemErr <- runErr
		}
		return runErr
	})
	monitor.Start()

	a.logger.Info("all subsystems running")

	restart := false
	var failure error
	select {
	case <-ctx.Done():
	case <-restartCh:
		restart = true
	case failure = <-subsystemErr:
	}

	// Teardown order: stop intake first, then timers, then drain the
	// worker, and finally kill whatever is still running.
	a.logger.Info("shutting down", "restart", restart)
	stopBot()
	monitor.Stop()
	agg.Stop()
	q.Close()

	drained := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cfg.Claude.Timeout + shutdownGrace):
		a.logger.Warn("worker did not drain in time, cancelling")
		stopWorker()
		<-drained
	}
	stopWorker()

	shutCtx, cancel := context.WithTimeout(context.Background(), 2*shutdownGrace)
	defer cancel()
	if n := tracker.TerminateAll(shutCtx, shutdownGrace); n > 0 {
		a.logger.Warn("terminated leftover processes", "count", n)
	}

	switch {
	case restart:
		return supervisor.ErrRestart
	case failure != nil:
		return failure
	default:
		return nil
	}
}

// runRecovered converts a subsystem panic into an error so the supervisor
// can count it as a crash.
func runRecovered(ctx context.Context, name string, run func(context.Context) error, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("subsystem panicked", "subsystem", name, "panic", r)
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return run(ctx)
}

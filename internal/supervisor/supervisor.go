// ABOUTME: Restarts the bot's subsystems after crashes, with a crash-loop guard.
// ABOUTME: Counts recent crashes in a ring buffer and gives up on tight loops.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRestart is returned by a run cycle to request a deliberate restart.
// Deliberate restarts do not count toward the crash-loop guard.
var ErrRestart = errors.New("restart requested")

// ringCapacity bounds how many crash timestamps are retained.
const ringCapacity = 10

// crashRing is a fixed-size ring of crash times.
type crashRing struct {
	times [ringCapacity]time.Time
	next  int
	count int
}

func (r *crashRing) record(t time.Time) {
	r.times[r.next] = t
	r.next = (r.next + 1) % ringCapacity
	if r.count < ringCapacity {
		r.count++
	}
}

// countSince reports how many recorded crashes fall within the window
// ending at now.
func (r *crashRing) countSince(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for i := 0; i < r.count; i++ {
		if !r.times[i].Before(cutoff) {
			n++
		}
	}
	return n
}

// Config tunes restart pacing and the crash-loop guard.
type Config struct {
	Backoff        time.Duration
	CrashWindow    time.Duration
	CrashThreshold int
}

// Supervisor runs one subsystem generation at a time, restarting on
// failure until the context ends or a crash loop is detected.
type Supervisor struct {
	cfg    Config
	run    func(ctx context.Context) error
	notify func(ctx context.Context, text string)
	logger *slog.Logger

	ring crashRing
	now  func() time.Time
}

// New creates a supervisor around a run function. run builds and operates
// one full generation of subsystems and returns when they stop; notify
// delivers crash notices to the operator and may be nil.
func New(cfg Config, run func(ctx context.Context) error, notify func(ctx context.Context, text string), logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		run:    run,
		notify: notify,
		logger: logger.With("component", "supervisor"),
		now:    time.Now,
	}
}

// Run supervises until the context is cancelled, the subsystems exit
// cleanly, or crashes come too fast. In the last case the final error is
// returned.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		err := s.run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			s.logger.Info("subsystems exited cleanly")
			return nil
		}
		if errors.Is(err, ErrRestart) {
			s.logger.Info("restarting on request")
			continue
		}

		now := s.now()
		s.ring.record(now)
		recent := s.ring.countSince(now, s.cfg.CrashWindow)
		s.logger.Error("subsystems crashed", "error", err, "recent_crashes", recent)

		if recent >= s.cfg.CrashThreshold {
			s.sendNotice(fmt.Sprintf(
				"🚨 Crash loop detected: %d crashes within %s. Not restarting. Last error: %v",
				recent, s.cfg.CrashWindow, err))
			return fmt.Errorf("crash loop: %d crashes within %s: %w", recent, s.cfg.CrashWindow, err)
		}

		s.sendNotice(fmt.Sprintf("⚠️ The bot crashed and is restarting: %v", err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.Backoff):
		}
	}
}

func (s *Supervisor) sendNotice(text string) {
	if s.notify == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.notify(ctx, text)
}

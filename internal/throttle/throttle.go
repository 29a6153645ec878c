// ABOUTME: Rate-limits user-visible progress updates from a streaming agent run.
// ABOUTME: Every event is logged; at most one per interval reaches the display.

package throttle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nashef/claude-telegram-bot/internal/claude"
)

// DefaultInterval is the minimum spacing between display updates.
const DefaultInterval = time.Second

// Throttler forwards streaming events to a log sink unconditionally and to
// a display callback at most once per interval. The final result event is
// never displayed as a progress update; its content is delivered separately.
type Throttler struct {
	interval time.Duration
	display  func(claude.Event)
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// New creates a throttler. A non-positive interval falls back to
// DefaultInterval.
func New(interval time.Duration, display func(claude.Event), logger *slog.Logger) *Throttler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Throttler{
		interval: interval,
		display:  display,
		logger:   logger.With("component", "throttle"),
		now:      time.Now,
	}
}

// Handle processes one streaming event.
func (t *Throttler) Handle(ev claude.Event) {
	t.log(ev)

	if ev.Type == claude.EventResult {
		return
	}
	if t.display == nil {
		return
	}

	t.mu.Lock()
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.mu.Unlock()
		return
	}
	t.last = now
	t.mu.Unlock()

	t.display(ev)
}

func (t *Throttler) log(ev claude.Event) {
	switch ev.Type {
	case claude.EventInit:
		t.logger.Debug("stream event", "type", ev.Type.String(), "session_id", ev.SessionID)
	case claude.EventToolUse:
		t.logger.Debug("stream event", "type", ev.Type.String(), "tool", ev.ToolName)
	case claude.EventResult:
		t.logger.Debug("stream event", "type", ev.Type.String(), "is_error", ev.IsError)
	default:
		t.logger.Debug("stream event", "type", ev.Type.String(), "len", len(ev.Content))
	}
}

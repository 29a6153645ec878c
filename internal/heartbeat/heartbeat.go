// ABOUTME: Tracks per-conversation activity and nudges idle conversations.
// ABOUTME: The monitor polls the tracker and enqueues heartbeat prompts.

package heartbeat

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultPoll is how often the monitor checks for idle conversations.
const DefaultPoll = 10 * time.Second

// Conversation identifies one chat/user pair known to the tracker.
type Conversation struct {
	ChatID int64
	UserID int64
}

// Tracker records the last activity time per conversation. Safe for
// concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries map[Conversation]time.Time
	now     func() time.Time
}

// NewTracker creates an empty activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[Conversation]time.Time),
		now:     time.Now,
	}
}

// Touch records activity for a conversation, deferring its next heartbeat.
func (t *Tracker) Touch(chatID, userID int64) {
	t.mu.Lock()
	t.entries[Conversation{ChatID: chatID, UserID: userID}] = t.now()
	t.mu.Unlock()
}

// MostRecent returns the conversation with the latest activity.
func (t *Tracker) MostRecent() (Conversation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best Conversation
	var bestAt time.Time
	found := false
	for conv, at := range t.entries {
		if !found || at.After(bestAt) {
			best, bestAt, found = conv, at, true
		}
	}
	return best, found
}

// Idle returns every conversation whose last activity is at least threshold
// ago.
func (t *Tracker) Idle(threshold time.Duration) []Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var idle []Conversation
	for conv, at := range t.entries {
		if now.Sub(at) >= threshold {
			idle = append(idle, conv)
		}
	}
	return idle
}

// Monitor periodically wakes idle conversations. Touch resets the clock, so
// an idle conversation is nudged again after each further threshold of
// silence.
type Monitor struct {
	tracker   *Tracker
	threshold time.Duration
	poll      time.Duration
	notify    func(Conversation)
	paused    func() bool
	logger    *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewMonitor creates a monitor. notify is called for each conversation whose
// idle time crossed the threshold; paused may be nil.
func NewMonitor(tracker *Tracker, threshold, poll time.Duration, notify func(Conversation), paused func() bool, logger *slog.Logger) *Monitor {
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Monitor{
		tracker:   tracker,
		threshold: threshold,
		poll:      poll,
		notify:    notify,
		paused:    paused,
		logger:    logger.With("component", "heartbeat"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the polling loop. A zero threshold disables the monitor.
func (m *Monitor) Start() {
	if m.threshold <= 0 {
		close(m.done)
		return
	}
	go m.run()
}

// Stop halts the loop and waits for it to finish.
func (m *Monitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	m.logger.Info("heartbeat monitor started", "threshold", m.threshold, "poll", m.poll)
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	if m.paused != nil && m.paused() {
		return
	}
	for _, conv := range m.tracker.Idle(m.threshold) {
		m.logger.Debug("conversation idle, sending heartbeat", "chat_id", conv.ChatID, "user_id", conv.UserID)
		// Counts as activity so the next nudge waits a full threshold.
		m.tracker.Touch(conv.ChatID, conv.UserID)
		m.notify(conv)
	}
}

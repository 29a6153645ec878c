// ABOUTME: Collects marker-delimited message threads into single prompts.
// ABOUTME: Tracks per-user collection state and sends one idle reminder per lull.

package threads

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultReminderDelay is how long a thread may sit idle before the user
// is nudged to close it.
const DefaultReminderDelay = 20 * time.Second

// startMarker matches messages like "1/ first part" that open a thread.
var startMarker = regexp.MustCompile(`^[0-9]+/`)

// endMarkers close a thread when a message starts or ends with one of them.
var endMarkers = []string{"x/", "/x", "//"}

// Outcome reports what the aggregator did with a message.
type Outcome struct {
	// Flushed is a completed thread prompt ready to process. Set when an
	// end marker arrived, or when a new start marker displaced an open
	// thread.
	Flushed string
	// HasFlushed distinguishes an empty flush from none at all.
	HasFlushed bool
	// Buffered is true when the message was absorbed into a thread and
	// should not be processed on its own.
	Buffered bool
}

type session struct {
	chatID   int64
	parts    []string
	gen      int
	timer    *time.Timer
	reminded bool
}

// Aggregator implements the per-user thread state machine. Messages outside
// a thread pass through untouched.
type Aggregator struct {
	mu       sync.Mutex
	sessions map[int64]*session
	delay    time.Duration
	remind   func(chatID, userID int64)
	logger   *slog.Logger
}

// New creates an aggregator. remind is called from a timer goroutine when an
// open thread has seen no messages for the reminder delay; it may be nil.
func New(delay time.Duration, remind func(chatID, userID int64), logger *slog.Logger) *Aggregator {
	if delay <= 0 {
		delay = DefaultReminderDelay
	}
	return &Aggregator{
		sessions: make(map[int64]*session),
		delay:    delay,
		remind:   remind,
		logger:   logger.With("component", "threads"),
	}
}

// Handle feeds one message through the state machine.
func (a *Aggregator) Handle(chatID, userID int64, text string) Outcome {
	trimmed := strings.TrimSpace(text)

	a.mu.Lock()
	defer a.mu.Unlock()

	sess, collecting := a.sessions[userID]

	if collecting {
		if isEnd(trimmed) {
			sess.parts = append(sess.parts, text)
			prompt := strings.Join(sess.parts, "\n")
			a.closeLocked(userID, sess)
			a.logger.Debug("thread closed", "user_id", userID, "parts", len(sess.parts))
			return Outcome{Flushed: prompt, HasFlushed: true, Buffered: true}
		}
		if isStart(trimmed) {
			// A fresh start marker displaces the open thread.
			prompt := strings.Join(sess.parts, "\n")
			a.closeLocked(userID, sess)
			a.openLocked(chatID, userID, text)
			a.logger.Debug("thread restarted", "user_id", userID)
			return Outcome{Flushed: prompt, HasFlushed: true, Buffered: true}
		}
		sess.parts = append(sess.parts, text)
		a.rearmLocked(userID, sess)
		return Outcome{Buffered: true}
	}

	if isStart(trimmed) {
		a.openLocked(chatID, userID, text)
		a.logger.Debug("thread opened", "user_id", userID)
		return Outcome{Buffered: true}
	}

	return Outcome{}
}

// Active reports whether the user has an open thread.
func (a *Aggregator) Active(userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[userID]
	return ok
}

// Cancel discards the user's open thread, if any, returning whether one
// existed.
func (a *Aggregator) Cancel(userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok := a.sessions[userID]
	if ok {
		a.closeLocked(userID, sess)
	}
	return ok
}

// Stop cancels all open threads and their timers.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for userID, sess := range a.sessions {
		a.closeLocked(userID, sess)
	}
}

func (a *Aggregator) openLocked(chatID, userID int64, first string) {
	sess := &session{chatID: chatID, parts: []string{first}}
	a.sessions[userID] = sess
	a.rearmLocked(userID, sess)
}

func (a *Aggregator) closeLocked(userID int64, sess *session) {
	sess.gen++
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	delete(a.sessions, userID)
}

// rearmLocked restarts the one-shot idle reminder for an open thread. The
// generation guard keeps a stale timer from reminding about a thread that
// was closed or had newer activity. Each thread gets at most one reminder;
// once it has fired, later activity does not arm another.
func (a *Aggregator) rearmLocked(userID int64, sess *session) {
	if a.remind == nil || sess.reminded {
		return
	}
	sess.gen++
	gen := sess.gen
	if sess.timer != nil {
		sess.timer.Stop()
	}
	sess.timer = time.AfterFunc(a.delay, func() {
		a.mu.Lock()
		cur, ok := a.sessions[userID]
		fire := ok && cur.gen == gen
		var chatID int64
		if fire {
			chatID = cur.chatID
			cur.reminded = true
		}
		a.mu.Unlock()
		if fire {
			a.remind(chatID, userID)
		}
	})
}

func isStart(trimmed string) bool {
	return startMarker.MatchString(trimmed)
}

func isEnd(trimmed string) bool {
	for _, m := range endMarkers {
		if strings.HasPrefix(trimmed, m) || strings.HasSuffix(trimmed, m) {
			return true
		}
	}
	return false
}

// ABOUTME: Authorization allow-list and sliding-window rate limiting for inbound messages.
// ABOUTME: Both checks surface as boolean predicates consumed by the message handlers.

package security

import (
	"sync"
	"time"
)

// Validator answers "may this user talk to the bot" and "is this user
// sending too fast". Authorization is a fixed allow-list; rate limiting
// is a per-user sliding window.
type Validator struct {
	allowed map[int64]bool

	mu       sync.Mutex
	requests map[int64][]time.Time
	limit    int
	window   time.Duration

	now func() time.Time
}

// NewValidator creates a validator for the given allow-list.
// limit requests are permitted per user within window.
func NewValidator(allowedUsers []int64, limit int, window time.Duration) *Validator {
	allowed := make(map[int64]bool, len(allowedUsers))
	for _, id := range allowedUsers {
		allowed[id] = true
	}
	return &Validator{
		allowed:  allowed,
		requests: make(map[int64][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// IsAuthorized reports whether the user is on the allow-list.
func (v *Validator) IsAuthorized(userID int64) bool {
	return v.allowed[userID]
}

// AllowedUsers returns the allow-list, for notification fan-out.
func (v *Validator) AllowedUsers() []int64 {
	ids := make([]int64, 0, len(v.allowed))
	for id := range v.allowed {
		ids = append(ids, id)
	}
	return ids
}

// CheckRateLimit records a request for the user and reports whether it is
// within the allowed rate. Timestamps older than the window are discarded.
func (v *Validator) CheckRateLimit(userID int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	cutoff := now.Add(-v.window)

	recent := v.requests[userID][:0]
	for _, t := range v.requests[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= v.limit {
		v.requests[userID] = recent
		return false
	}

	v.requests[userID] = append(recent, now)
	return true
}

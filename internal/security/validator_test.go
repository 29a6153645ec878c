// ABOUTME: Tests for the authorization allow-list and rate limiter.
// ABOUTME: Validates window expiry using an injected clock.

package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidator_IsAuthorized(t *testing.T) {
	v := NewValidator([]int64{100, 200}, 10, time.Minute)

	assert.True(t, v.IsAuthorized(100))
	assert.True(t, v.IsAuthorized(200))
	assert.False(t, v.IsAuthorized(300))
}

func TestValidator_RateLimit(t *testing.T) {
	v := NewValidator([]int64{1}, 3, time.Minute)

	assert.True(t, v.CheckRateLimit(1))
	assert.True(t, v.CheckRateLimit(1))
	assert.True(t, v.CheckRateLimit(1))
	assert.False(t, v.CheckRateLimit(1), "fourth request inside the window should be rejected")

	// Other users have their own window
	assert.True(t, v.CheckRateLimit(2))
}

func TestValidator_RateLimitWindowSlides(t *testing.T) {
	v := NewValidator([]int64{1}, 2, time.Minute)

	now := time.Now()
	v.now = func() time.Time { return now }

	assert.True(t, v.CheckRateLimit(1))
	assert.True(t, v.CheckRateLimit(1))
	assert.False(t, v.CheckRateLimit(1))

	// Advance past the window: old entries expire
	now = now.Add(61 * time.Second)
	assert.True(t, v.CheckRateLimit(1))
}

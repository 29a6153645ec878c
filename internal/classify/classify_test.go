// ABOUTME: Tests for error categorization.
// ABOUTME: Covers kind-based checks, substring fallbacks, and the generic default.

package classify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"deadline exceeded", context.DeadlineExceeded, Timeout},
		{"wrapped deadline", fmt.Errorf("invoking agent: %w", context.DeadlineExceeded), Timeout},
		{"permission", os.ErrPermission, Permission},
		{"not exist", os.ErrNotExist, NotFound},
		{"exit error", &ExitError{Code: 1, Err: errors.New("boom")}, ClaudeError},
		{"claude hint", errors.New("claude stream ended unexpectedly"), ClaudeError},
		{"claude timeout hint", errors.New("claude request timeout"), Timeout},
		{"api rate hint", errors.New("api rate limit exceeded"), RateLimit},
		{"plain timeout hint", errors.New("operation timed out"), Timeout},
		{"connection hint", errors.New("connection refused"), Network},
		{"forbidden hint", errors.New("403 forbidden"), Permission},
		{"not found hint", errors.New("chat not found"), NotFound},
		{"invalid hint", errors.New("invalid payload"), InvalidInput},
		{"unclassified", errors.New("something odd"), Generic},
		{"nil", nil, Generic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := Categorize(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestCategorize_RateLimitRetryDelay(t *testing.T) {
	cat, msg := Categorize(&RateLimitError{RetryAfterSeconds: 30, Err: errors.New("429")})
	assert.Equal(t, RateLimit, cat)
	assert.Contains(t, msg, "30 seconds")

	// Unknown delay falls back to a sane default
	cat, msg = Categorize(&RateLimitError{Err: errors.New("429")})
	assert.Equal(t, RateLimit, cat)
	assert.Contains(t, msg, "60 seconds")
}

func TestCategorize_GenericIsDeterministic(t *testing.T) {
	_, first := Categorize(errors.New("mystery"))
	_, second := Categorize(errors.New("another mystery"))
	assert.Equal(t, first, second)
}

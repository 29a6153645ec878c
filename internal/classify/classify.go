// ABOUTME: Error classification for user-facing failure messages.
// ABOUTME: Maps Go error kinds and message substrings onto a small category taxonomy.

package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Category identifies a class of failure for reporting purposes.
type Category string

const (
	Network      Category = "network"
	Timeout      Category = "timeout"
	RateLimit    Category = "rate_limit"
	Permission   Category = "permission"
	NotFound     Category = "not_found"
	InvalidInput Category = "invalid_input"
	ClaudeError  Category = "claude_error"
	Generic      Category = "generic"
)

// RateLimitError carries a suggested retry delay when the upstream told us one.
type RateLimitError struct {
	RetryAfterSeconds int
	Err               error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry after %ds): %v", e.RetryAfterSeconds, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ExitError marks a failure of the external agent process itself.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("agent exited with code %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Categorize inspects an error and returns its category together with a short
// user-facing message. The error kind is checked first; substring hints are a
// fallback for errors that only carry a message. The generic category always
// has a deterministic message.
func Categorize(err error) (Category, string) {
	if err == nil {
		return Generic, "An error occurred. Please try again."
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		retry := rateErr.RetryAfterSeconds
		if retry <= 0 {
			retry = 60
		}
		return RateLimit, fmt.Sprintf("Rate limit reached. Please wait %d seconds.", retry)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout, "Request timed out. Please try again with a simpler request."
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout, "Request timed out. Please try again with a simpler request."
		}
		return Network, "Network connection issue. Please try again in a moment."
	}

	if errors.Is(err, os.ErrPermission) {
		return Permission, "Access denied. Insufficient permissions."
	}
	if errors.Is(err, os.ErrNotExist) {
		return NotFound, "File not found. Please check the file path."
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return ClaudeError, "Claude encountered an error. Please try again."
	}

	// Substring inspection as a last resort for errors that only carry text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "claude") || strings.Contains(msg, "api"):
		switch {
		case strings.Contains(msg, "timeout"):
			return Timeout, "Claude is taking too long. Please try a simpler request."
		case strings.Contains(msg, "rate") || strings.Contains(msg, "limit"):
			return RateLimit, "Claude API limit reached. Please wait a moment."
		default:
			return ClaudeError, "Claude encountered an error. Please try again."
		}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return Timeout, "Request timed out. Please try again with a simpler request."
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return Network, "Network connection issue. Please try again in a moment."
	case strings.Contains(msg, "forbidden") || strings.Contains(msg, "unauthorized"):
		return Permission, "Permission denied. Please check bot permissions."
	case strings.Contains(msg, "not found"):
		return NotFound, "Resource not found. Please try again."
	case strings.Contains(msg, "invalid"):
		return InvalidInput, "Invalid input or data format. Please check your message."
	}

	return Generic, "An error occurred. Please try again."
}

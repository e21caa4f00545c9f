package dispatcher

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/local/pdfsplitter/internal/limiter"
	"github.com/local/pdfsplitter/internal/pdfdoc"
	"github.com/local/pdfsplitter/internal/splitplan"
)

// IsTransient reports whether err may succeed on a later attempt.
func IsTransient(err error) bool { return isTransientError(err) }

// isTransientError checks if error is transient and the task should be retried
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if isFatalError(err) {
		return false
	}

	// Timeout errors, or the source host is cooling down
	if errors.Is(err, context.DeadlineExceeded) || limiter.IsOpen(err) {
		return true
	}

	// HTTP errors while fetching the source
	var httpErr *pdfdoc.HTTPError
	if errors.As(err, &httpErr) {
		// 5xx server errors are transient
		if httpErr.StatusCode >= 500 && httpErr.StatusCode < 600 {
			return true
		}
		// 429 rate limit is transient
		return httpErr.StatusCode == 429
	}

	// Network errors (connection issues, timeouts)
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof")
}

// isFatalError checks if error is fatal and should not be retried
func isFatalError(err error) bool {
	if err == nil {
		return false
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}
	var cancelled *CancelledError
	if errors.As(err, &cancelled) {
		return true
	}

	// Rejected selections and unusable documents never get better.
	var inputErr *splitplan.InputError
	if errors.As(err, &inputErr) {
		return true
	}
	if errors.Is(err, splitplan.ErrInvalidPageCount) ||
		errors.Is(err, splitplan.ErrUnknownMode) ||
		errors.Is(err, pdfdoc.ErrNotPDF) ||
		errors.Is(err, fs.ErrNotExist) {
		return true
	}

	// HTTP 4xx errors (except 429)
	var httpErr *pdfdoc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "invalid s3 url") ||
		strings.Contains(errStr, "malformed")
}

// retryDelay is exponential backoff from base: base, 2*base, 4*base ... capped at limit.
func retryDelay(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

package gateway

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"time"

	"github.com/user/phaseseg/internal/phase"
)

// RetryPolicy controls how failed runs are retried with exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy retries a run three times, starting at 1s and doubling
// up to 30s. Runs mostly fail on locked SQLite files or half-written inputs,
// both of which clear within seconds.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// ShouldRetry returns true if the error is retryable and the attempt count
// has not exceeded MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt > p.MaxAttempts {
		return false
	}
	return p.isRetryable(err)
}

// permanentError marks an error that no retry can fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the retry policy gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

var (
	// transientMarkers identify I/O and SQLite contention that may clear up.
	transientMarkers = []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"database is locked",
		"sqlite_busy",
	}
	// permanentMarkers identify bad input or configuration.
	permanentMarkers = []string{
		"invalid",
		"unsupported",
		"unauthorized",
		"forbidden",
	}
)

func containsAny(msg string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// isRetryable classifies errors as retryable or permanent. Schema errors,
// missing inputs, cancellation and Permanent errors stop immediately.
// Unknown errors default to retryable.
func (p *RetryPolicy) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	var schemaErr *phase.SchemaError
	switch {
	case errors.As(err, &perm),
		errors.As(err, &schemaErr),
		errors.Is(err, os.ErrNotExist),
		errors.Is(err, context.Canceled):
		return false
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, transientMarkers) {
		return true
	}
	return !containsAny(msg, permanentMarkers)
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn up to MaxAttempts times, sleeping between retries with
// exponential backoff. Returns nil on success or the last error if all
// attempts fail or the error is non-retryable.
func (p *RetryPolicy) Execute(fn func() error) error {
	return p.ExecuteContext(context.Background(), func(int) error { return fn() })
}

// ExecuteContext is Execute with cancellation between attempts. fn receives
// the 1-indexed attempt number.
func (p *RetryPolicy) ExecuteContext(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		if attempt < p.MaxAttempts {
			select {
			case <-time.After(p.NextDelay(attempt)):
			case <-ctx.Done():
				return lastErr
			}
		}
	}
	return lastErr
}

// Package sqlretry implements the retry policy used for WorkerSQL remote
// calls: bounded attempts, exponential backoff capped at a max delay, and
// additive jitter to avoid synchronized retry storms.
//
// The actual retry loop is driven by github.com/avast/retry-go; this package
// supplies the error classification, the delay math, and the terminal error
// reported on retry exhaustion.
package sqlretry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	retry "github.com/avast/retry-go"

	"github.com/workersql/workersql-go/log"
	"github.com/workersql/workersql-go/sqlerror"
)

// Defaults applied by New for zero-value Config fields.
const (
	DefaultMaxAttempts       = 3
	DefaultInitialDelay      = 1 * time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Up to 30% additive jitter on every computed delay.
const maxJitterRatio = 0.3

// Config validation errors returned by New.
var (
	ErrInvalidMaxAttempts       = errors.New("sqlretry: maxAttempts must be >= 1")
	ErrInvalidInitialDelay      = errors.New("sqlretry: initialDelay must be > 0")
	ErrInvalidMaxDelay          = errors.New("sqlretry: maxDelay must be >= initialDelay")
	ErrInvalidBackoffMultiplier = errors.New("sqlretry: backoffMultiplier must be > 1")
)

// DefaultRetryableCodes returns the WorkerSQL error codes that are considered
// transient when no explicit set is configured.
func DefaultRetryableCodes() []string {
	return []string{
		sqlerror.CodeConnectionError,
		sqlerror.CodeTimeoutError,
		sqlerror.CodeResourceLimit,
	}
}

// Message fragments that mark an unstructured error as transient.
// Matched case-insensitively by IsRetryable.
var transientMarkers = []string{
	"connection",
	"timeout",
	"refused",
	"reset",
	"unreachable",
}

// Config configures a Strategy.
//
// The zero value is usable: New fills every zero field with the Default*
// value for it.
type Config struct {
	// MaxAttempts bounds the total number of invocations per Execute call,
	// the first attempt included.
	MaxAttempts int

	// InitialDelay is the backoff delay after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff delay (before jitter).
	MaxDelay time.Duration

	// BackoffMultiplier is the factor applied to the delay per attempt.
	BackoffMultiplier float64

	// RetryableCodes is the set of WorkerSQL error codes treated as
	// transient. Empty means DefaultRetryableCodes.
	RetryableCodes []string
}

// Strategy decides retryability of failures, computes backoff delays and runs
// operations under a bounded-attempt loop.
//
// A Strategy is stateless after construction and safe for concurrent use;
// concurrency comes from independent callers each running their own Execute.
type Strategy struct {
	cfg   Config
	codes map[string]struct{}
}

// New creates a Strategy, applying defaults to zero-value fields and
// validating the result.
func New(cfg Config) (*Strategy, error) {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.BackoffMultiplier == 0 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if len(cfg.RetryableCodes) == 0 {
		cfg.RetryableCodes = DefaultRetryableCodes()
	}

	switch {
	case cfg.MaxAttempts < 1:
		return nil, ErrInvalidMaxAttempts
	case cfg.InitialDelay < 0:
		return nil, ErrInvalidInitialDelay
	case cfg.MaxDelay < cfg.InitialDelay:
		return nil, ErrInvalidMaxDelay
	case cfg.BackoffMultiplier <= 1:
		return nil, ErrInvalidBackoffMultiplier
	}

	codes := make(map[string]struct{}, len(cfg.RetryableCodes))
	for _, code := range cfg.RetryableCodes {
		codes[code] = struct{}{}
	}
	return &Strategy{
		cfg:   cfg,
		codes: codes,
	}, nil
}

// IsRetryable reports whether err is worth another attempt.
//
// The decision chain is:
//
// 1. An explicit RetryableError implementation wins (this is how
// Unrecoverable overrides everything else).
//
// 2. A structured *sqlerror.Error is retryable iff its code is in the
// configured retryable set.
//
// 3. Any other error is retryable iff its message contains one of the
// transient network markers ("connection", "timeout", "refused", "reset",
// "unreachable"), case-insensitively.
func (s *Strategy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var re RetryableError
	if errors.As(err, &re) {
		if v := re.Retryable(); v != 0 {
			return v > 0
		}
	}

	var se *sqlerror.Error
	if errors.As(err, &se) {
		_, ok := s.codes[se.Code]
		return ok
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// CalculateDelay returns the backoff delay for the given zero-indexed
// attempt: min(initialDelay * multiplier^attempt, maxDelay).
//
// Pure function, no side effects.
func (s *Strategy) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(s.cfg.InitialDelay) * math.Pow(s.cfg.BackoffMultiplier, float64(attempt))
	if delay >= float64(s.cfg.MaxDelay) {
		return s.cfg.MaxDelay
	}
	return time.Duration(delay)
}

// AddJitter perturbs delay by up to +30%. The result is always >= delay.
func (s *Strategy) AddJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Float64()*maxJitterRatio*float64(delay))
}

// Execute runs fn up to MaxAttempts times.
//
// On success it returns nil immediately. A non-retryable failure is
// propagated unchanged after its first occurrence. When the attempt budget is
// exhausted on a retryable failure, Execute returns a terminal
// *sqlerror.Error with code CONNECTION_ERROR whose message carries the
// attempt count and the optional label, whose details embed the original
// error, and which unwraps to the original error.
//
// Between attempts Execute blocks the calling goroutine for the jittered
// backoff delay. The wait is cut short if ctx is canceled, in which case the
// context error is returned.
//
// label is a short operation name used in logs and the terminal error
// message, e.g. "query". It may be empty.
func (s *Strategy) Execute(ctx context.Context, label string, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(uint(s.cfg.MaxAttempts)),
		retry.RetryIf(s.IsRetryable),
		retry.DelayType(s.delayType),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debugw(
				"workersql: operation failed, will retry",
				"operation", label,
				"attempt", n+1,
				"maxAttempts", s.cfg.MaxAttempts,
				"err", err,
			)
		}),
	)
	if err == nil {
		return nil
	}
	if !s.IsRetryable(err) {
		// Permanent failures (and context errors) pass through unchanged.
		return err
	}

	msg := fmt.Sprintf("failed after %d attempts", s.cfg.MaxAttempts)
	if label != "" {
		msg = fmt.Sprintf("%s: failed after %d attempts", label, s.cfg.MaxAttempts)
	}
	return &sqlerror.Error{
		Code:    sqlerror.CodeConnectionError,
		Message: msg,
		Details: map[string]interface{}{
			"original_error": err.Error(),
			"attempts":       s.cfg.MaxAttempts,
		},
		Cause: err,
	}
}

// delayType is the retry-go DelayTypeFunc: jittered exponential backoff, with
// any Retry-After hint from the error as a floor.
func (s *Strategy) delayType(n uint, err error, _ *retry.Config) time.Duration {
	delay := s.AddJitter(s.CalculateDelay(int(n)))

	var rae RetryAfterError
	if errors.As(err, &rae) {
		if min := rae.RetryAfterDuration(); min > delay {
			delay = min
		}
	}
	return delay
}

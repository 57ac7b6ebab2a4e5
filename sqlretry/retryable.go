package sqlretry

import (
	"time"
)

// RetryableError defines an optional error interface to return retryable
// info, overriding the Strategy's own classification.
type RetryableError interface {
	error

	// Retryable should return 0 if there's not enough information to make a
	// decision, >0 to indicate that it's retryable, and <0 that it's not.
	Retryable() int
}

// RetryAfterError defines a type of errors that carry retry-after information
// (for example, HTTP's Retry-After header).
//
// transport.ClientError implements this interface. When the error that caused
// a retry carries a retry-after duration > 0, the backoff delay is at least
// that duration.
type RetryAfterError interface {
	error

	// If RetryAfterDuration returns a duration <= 0,
	// it's considered as not having retry-after info.
	RetryAfterDuration() time.Duration
}

type retryableWrapper struct {
	err       error
	retryable int
}

func (e retryableWrapper) Error() string {
	return e.err.Error()
}

func (e retryableWrapper) Unwrap() error {
	return e.err
}

func (e retryableWrapper) Retryable() int {
	return e.retryable
}

var _ RetryableError = retryableWrapper{}

// Unrecoverable wraps an error and marks it as non-retryable, no matter what
// its code or message would otherwise classify as.
//
// It properly implements the error unwrapping API, so the original error
// stays reachable through errors.Is/errors.As.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return retryableWrapper{
		err:       err,
		retryable: -1,
	}
}

package sqlerror

import (
	"errors"
	"fmt"
	"strings"
)

// Make sure both Batch and *Batch satisfy error interface.
var (
	_ error = Batch{}
	_ error = (*Batch)(nil)
)

// Batch is an error that can contain multiple errors.
//
// It's used by cleanup paths that close several resources and need to report
// every failure instead of the last one, for example closing all transports
// during pool shutdown.
//
// The zero value of Batch is valid (with no errors) and ready to use.
//
// This type is not thread-safe.
type Batch struct {
	errors []error
}

func (b Batch) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "sqlerror.Batch: total %d error(s) in this batch", len(b.errors))
	for i, err := range b.errors {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%+v", err)
	}
	return sb.String()
}

// Len returns the size of the batch.
func (b Batch) Len() int {
	return len(b.errors)
}

// As implements helper interface for errors.As.
//
// If v is a pointer to either Batch or *Batch, *v will be set to this error.
// Otherwise it tries errors.As against all errors in the batch, returning the
// first match.
func (b Batch) As(v interface{}) bool {
	if target, ok := v.(*Batch); ok {
		*target = b
		return true
	}
	if target, ok := v.(**Batch); ok {
		*target = &b
		return true
	}
	for _, err := range b.errors {
		if errors.As(err, v) {
			return true
		}
	}
	return false
}

// Is implements helper interface for errors.Is.
//
// It calls errors.Is against all errors in the batch until a match is found.
func (b Batch) Is(target error) bool {
	for _, err := range b.errors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Add adds errors into the batch.
//
// If an error is itself a Batch, its underlying error(s) will be added
// instead of the Batch itself. Nil errors are skipped.
func (b *Batch) Add(errs ...error) {
	for _, err := range errs {
		if err == nil {
			continue
		}

		var batch Batch
		if errors.As(err, &batch) {
			b.errors = append(b.errors, batch.errors...)
		} else {
			b.errors = append(b.errors, err)
		}
	}
}

// AddPrefix adds errors into the batch, prefixing each error message with
// "prefix: ". Nil errors are skipped.
//
// It's useful in Closer implementations that need to call multiple Closers.
func (b *Batch) AddPrefix(prefix string, errs ...error) {
	if prefix == "" {
		b.Add(errs...)
		return
	}

	for _, err := range errs {
		if err == nil {
			continue
		}

		var batch Batch
		if errors.As(err, &batch) {
			for _, err := range batch.errors {
				b.errors = append(b.errors, prefixError(prefix, err))
			}
		} else {
			b.errors = append(b.errors, prefixError(prefix, err))
		}
	}
}

// Compile compiles the batch.
//
// If the batch contains zero errors, Compile returns nil.
// If the batch contains exactly one error, that underlying error is returned.
// Otherwise the batch itself is returned.
func (b Batch) Compile() error {
	switch len(b.errors) {
	case 0:
		return nil
	case 1:
		return b.errors[0]
	default:
		return b
	}
}

// GetErrors returns a copy of the underlying error(s).
func (b Batch) GetErrors() []error {
	errs := make([]error, len(b.errors))
	copy(errs, b.errors)
	return errs
}

// NOTE: prefix could contain format verbs (e.g. "conn_%d"), so this can't be
// implemented with fmt.Errorf(prefix+": %w", err).
func prefixError(prefix string, err error) error {
	return &prefixedError{
		msg: prefix + ": " + err.Error(),
		err: err,
	}
}

type prefixedError struct {
	msg string
	err error
}

func (e *prefixedError) Error() string {
	return e.msg
}

func (e *prefixedError) Unwrap() error {
	return e.err
}

package connpool

import (
	"errors"
	"fmt"
)

// ErrNilOpener is returned by New when no TransportOpener is given.
var ErrNilOpener = errors.New("connpool: nil transport opener")

// ConfigError is the error type returned by New when the bounds passed in
// won't work.
type ConfigError struct {
	MinConnections int
	MaxConnections int
}

var _ error = (*ConfigError)(nil)

func (e *ConfigError) Error() string {
	return fmt.Sprintf(
		"connpool: minConnections (%d) and maxConnections (%d) must both be >= 1 with min <= max",
		e.MinConnections,
		e.MaxConnections,
	)
}

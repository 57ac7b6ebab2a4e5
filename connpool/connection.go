package connpool

import (
	"io"
	"time"
)

// Transport is the minimal interface the pool needs from the transport
// handles it manages. The pool never inspects payloads; sending requests is
// between the caller and the concrete transport type.
type Transport interface {
	io.Closer

	IsOpen() bool
}

// TransportOpener defines a generator for transports.
//
// The returned transport must be ready for use (already opened).
type TransportOpener func() (Transport, error)

// PooledConnection is a leasable wrapper around one Transport plus the
// bookkeeping the pool keeps about it.
//
// All mutable fields are guarded by the owning pool's lock; callers only ever
// read the immutable identity and the transport.
type PooledConnection struct {
	id        string
	transport Transport

	inUse     bool
	createdAt time.Time
	lastUsed  time.Time
	useCount  int64
}

// ID returns the process-unique identifier of this connection,
// assigned at creation. Pass it to Pool.Release when done.
func (c *PooledConnection) ID() string {
	return c.id
}

// Transport returns the transport leased with this connection.
//
// The transport is exclusively owned by the pool; it's only valid to use it
// between the Acquire that returned this connection and the matching Release.
func (c *PooledConnection) Transport() Transport {
	return c.transport
}

// Package connpool provides a bounded pool of reusable WorkerSQL transports
// shared safely across concurrent callers.
//
// A caller leases a connection with Acquire, uses its Transport for exactly
// one request at a time, and returns it with Release. The pool pre-warms
// MinConnections transports, grows lazily up to MaxConnections, and runs a
// background health sweep that evicts connections idle beyond IdleTimeout
// (never below MinConnections, never a leased one).
//
// Acquire on an exhausted pool waits by polling; no FIFO fairness is
// guaranteed among waiters. Close waits up to a grace period for leases to be
// released, then closes every transport regardless -- callers must not use a
// leased connection after Close returns.
package connpool

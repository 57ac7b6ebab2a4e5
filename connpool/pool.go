package connpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/workersql/workersql-go/internal/prometheusint"
	"github.com/workersql/workersql-go/log"
	"github.com/workersql/workersql-go/sqlerror"
)

// Defaults applied by New for zero-value Config fields.
const (
	DefaultMinConnections      = 1
	DefaultMaxConnections      = 10
	DefaultIdleTimeout         = 5 * time.Minute
	DefaultConnectionTimeout   = 30 * time.Second
	DefaultHealthCheckInterval = time.Minute
	DefaultCloseGracePeriod    = 5 * time.Second
)

// pollInterval is how often a blocked Acquire re-checks the pool, and how
// often Close re-checks the active count during the drain wait.
const pollInterval = 100 * time.Millisecond

// Config is the configuration struct for creating a new Pool.
//
// The zero value is usable: New fills every zero field with the Default*
// value for it.
type Config struct {
	// Name labels this pool's prometheus metrics. Defaults to "workersql".
	Name string

	// MinConnections transports are opened eagerly by New and kept alive by
	// the health sweep. MaxConnections bounds lazy growth.
	MinConnections int
	MaxConnections int

	// IdleTimeout is how long a connection may sit unleased before the
	// health sweep may evict it.
	IdleTimeout time.Duration

	// ConnectionTimeout bounds how long Acquire waits on an exhausted pool
	// before failing with TIMEOUT_ERROR.
	ConnectionTimeout time.Duration

	// HealthCheckInterval is the period of the background sweep.
	// Zero means DefaultHealthCheckInterval; a negative value disables the
	// sweep entirely.
	HealthCheckInterval time.Duration

	// CloseGracePeriod is how long Close waits for leased connections to be
	// released before force-closing them. Zero means
	// DefaultCloseGracePeriod; a negative value skips the wait.
	CloseGracePeriod time.Duration
}

func (cfg Config) validate() error {
	if cfg.MinConnections < 1 || cfg.MaxConnections < 1 || cfg.MinConnections > cfg.MaxConnections {
		return &ConfigError{
			MinConnections: cfg.MinConnections,
			MaxConnections: cfg.MaxConnections,
		}
	}
	return nil
}

// Pool owns a bounded collection of PooledConnections.
//
// All methods are safe for concurrent use.
type Pool struct {
	cfg    Config
	opener TransportOpener

	mu          sync.Mutex
	connections map[string]*PooledConnection
	closed      bool

	active *prometheusint.HighWatermarkValue

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Pool, opens MinConnections transports eagerly, and starts the
// background health sweep (unless disabled).
func New(cfg Config, opener TransportOpener) (*Pool, error) {
	if cfg.Name == "" {
		cfg.Name = "workersql"
	}
	if cfg.MinConnections == 0 {
		cfg.MinConnections = DefaultMinConnections
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.CloseGracePeriod == 0 {
		cfg.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opener == nil {
		return nil, ErrNilOpener
	}

	p := &Pool{
		cfg:         cfg,
		opener:      opener,
		connections: make(map[string]*PooledConnection, cfg.MaxConnections),
		active:      new(prometheusint.HighWatermarkValue),
	}

	p.mu.Lock()
	for i := 0; i < cfg.MinConnections; i++ {
		if _, err := p.createLocked(); err != nil {
			for id, conn := range p.connections {
				if closeErr := conn.transport.Close(); closeErr != nil {
					log.Errorw("workersql: failed to close transport during pool init rollback", "id", id, "err", closeErr)
				}
				delete(p.connections, id)
			}
			p.mu.Unlock()
			return nil, fmt.Errorf("connpool: opening initial connections: %w", err)
		}
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	if cfg.HealthCheckInterval > 0 {
		p.stopCh = make(chan struct{})
		p.wg.Add(1)
		go p.sweepLoop()
	}
	return p, nil
}

// Acquire leases a connection from the pool.
//
// It prefers the most recently used idle connection, opens a new transport if
// none is idle and the pool is below MaxConnections, and otherwise polls
// until one is released or ConnectionTimeout elapses.
//
// It fails with a CONNECTION_ERROR once the pool is closed, with a
// TIMEOUT_ERROR when the wait exceeds ConnectionTimeout, and with ctx.Err()
// if ctx is canceled while waiting. No FIFO fairness is guaranteed among
// concurrent waiters.
func (p *Pool) Acquire(ctx context.Context) (*PooledConnection, error) {
	start := time.Now()
	waited := false

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, sqlerror.New(sqlerror.CodeConnectionError, "connection pool is closed")
		}

		if conn := p.idleLocked(); conn != nil {
			p.leaseLocked(conn)
			p.mu.Unlock()
			return conn, nil
		}

		if len(p.connections) < p.cfg.MaxConnections {
			conn, err := p.createLocked()
			if err != nil {
				p.mu.Unlock()
				return nil, sqlerror.Wrap(sqlerror.CodeConnectionError, "failed to open new transport", err)
			}
			p.leaseLocked(conn)
			p.mu.Unlock()
			return conn, nil
		}
		p.mu.Unlock()

		if !waited {
			waited = true
			exhaustedWaitsCounter.WithLabelValues(p.cfg.Name).Inc()
		}

		if time.Since(start) >= p.cfg.ConnectionTimeout {
			acquireTimeoutsCounter.WithLabelValues(p.cfg.Name).Inc()
			return nil, sqlerror.New(sqlerror.CodeTimeoutError, "timeout waiting for connection")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release returns the connection with the given id to the pool.
//
// It never blocks. Releasing an unknown id, or the same id twice, is a no-op.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, ok := p.connections[id]
	if !ok || !conn.inUse {
		// Stale or duplicate release. Tolerated.
		return
	}
	conn.inUse = false
	conn.lastUsed = time.Now()
	p.active.Dec()
	p.updateGaugesLocked()
}

// Close closes the pool and all transports in it.
//
// New acquisitions fail immediately once Close is entered. The background
// sweep is stopped and joined first, then Close waits up to CloseGracePeriod
// for leased connections to be released. Any transport still leased after
// that is closed out from under its holder; close failures are collected and
// returned as a batch without masking each other.
//
// Close is idempotent; second and later calls return nil.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// Join the sweeper first so post-close state is deterministic.
	if p.stopCh != nil {
		close(p.stopCh)
		p.wg.Wait()
	}

	if grace := p.cfg.CloseGracePeriod; grace > 0 {
		deadline := time.Now().Add(grace)
		for p.activeCount() > 0 && time.Now().Before(deadline) {
			time.Sleep(pollInterval)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var batch sqlerror.Batch
	for id, conn := range p.connections {
		if conn.inUse {
			log.Warnw("workersql: force-closing transport still leased at pool shutdown", "id", id)
		}
		batch.AddPrefix("connpool: closing transport", conn.transport.Close())
		delete(p.connections, id)
	}
	p.active.Set(0)
	p.updateGaugesLocked()
	return batch.Compile()
}

func (p *Pool) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := 0
	for _, conn := range p.connections {
		if conn.inUse {
			active++
		}
	}
	return active
}

// idleLocked returns the most recently used idle connection, or nil.
//
// Most-recently-used keeps the working set hot: a release immediately
// followed by an acquire returns the same connection, and cold connections
// stay idle long enough for the sweep to evict them.
func (p *Pool) idleLocked() *PooledConnection {
	var newest *PooledConnection
	for _, conn := range p.connections {
		if conn.inUse {
			continue
		}
		if newest == nil || conn.lastUsed.After(newest.lastUsed) {
			newest = conn
		}
	}
	return newest
}

func (p *Pool) leaseLocked(conn *PooledConnection) {
	conn.inUse = true
	conn.lastUsed = time.Now()
	conn.useCount++
	p.active.Inc()
	p.updateGaugesLocked()
}

func (p *Pool) createLocked() (*PooledConnection, error) {
	t, err := p.opener()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	conn := &PooledConnection{
		id:        uuid.Must(uuid.NewV4()).String(),
		transport: t,
		createdAt: now,
		lastUsed:  now,
	}
	p.connections[conn.id] = conn
	connectionsCreatedCounter.WithLabelValues(p.cfg.Name).Inc()
	return conn, nil
}

func (p *Pool) sweepLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep evicts connections idle beyond IdleTimeout, least recently used
// first, keeping at least MinConnections. Leased connections are never
// evicted.
func (p *Pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var expired []*PooledConnection
	for _, conn := range p.connections {
		if !conn.inUse && now.Sub(conn.lastUsed) > p.cfg.IdleTimeout {
			expired = append(expired, conn)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].lastUsed.Before(expired[j].lastUsed)
	})

	for _, conn := range expired {
		if len(p.connections) <= p.cfg.MinConnections {
			break
		}
		delete(p.connections, conn.id)
		evictionsCounter.WithLabelValues(p.cfg.Name).Inc()
		if err := conn.transport.Close(); err != nil {
			log.Errorw("workersql: failed to close evicted transport", "id", conn.id, "err", err)
		} else {
			log.Debugw("workersql: evicted idle connection", "id", conn.id, "idle", now.Sub(conn.lastUsed))
		}
	}
	p.updateGaugesLocked()
}

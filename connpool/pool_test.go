package connpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/workersql/workersql-go/sqlerror"
)

type fakeTransport struct {
	mu       sync.Mutex
	open     bool
	closeErr error
}

func (t *fakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	return t.closeErr
}

// countingOpener returns an opener that tracks how many transports it made.
func countingOpener(opened *int64) TransportOpener {
	return func() (Transport, error) {
		atomic.AddInt64(opened, 1)
		return &fakeTransport{open: true}, nil
	}
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *int64) {
	t.Helper()
	var opened int64
	pool, err := New(cfg, countingOpener(&opened))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		pool.Close()
	})
	return pool, &opened
}

func TestNewOpensMinConnections(t *testing.T) {
	pool, opened := newTestPool(t, Config{
		MinConnections: 3,
		MaxConnections: 5,
	})

	if got := atomic.LoadInt64(opened); got != 3 {
		t.Errorf("opened got %d, want 3", got)
	}
	stats := pool.Stats()
	if stats.Total != 3 || stats.Active != 0 || stats.Idle != 3 {
		t.Errorf("stats got %+v, want total 3, active 0, idle 3", stats)
	}
	if stats.MinConnections != 3 || stats.MaxConnections != 5 {
		t.Errorf("stats bounds got %+v, want min 3, max 5", stats)
	}
}

func TestNewConfigValidation(t *testing.T) {
	opener := func() (Transport, error) {
		return &fakeTransport{open: true}, nil
	}

	for _, c := range []struct {
		label string
		cfg   Config
	}{
		{
			label: "negative-min",
			cfg:   Config{MinConnections: -1, MaxConnections: 5},
		},
		{
			label: "negative-max",
			cfg:   Config{MinConnections: 1, MaxConnections: -1},
		},
		{
			label: "min-above-max",
			cfg:   Config{MinConnections: 6, MaxConnections: 5},
		},
	} {
		t.Run(c.label, func(t *testing.T) {
			_, err := New(c.cfg, opener)
			var configErr *ConfigError
			if !errors.As(err, &configErr) {
				t.Errorf("New got %v, want *ConfigError", err)
			}
		})
	}

	t.Run("nil-opener", func(t *testing.T) {
		if _, err := New(Config{}, nil); !errors.Is(err, ErrNilOpener) {
			t.Errorf("New got %v, want ErrNilOpener", err)
		}
	})
}

func TestNewRollsBackOnOpenerFailure(t *testing.T) {
	boom := errors.New("boom")
	var opened []*fakeTransport
	opener := func() (Transport, error) {
		if len(opened) == 2 {
			return nil, boom
		}
		ft := &fakeTransport{open: true}
		opened = append(opened, ft)
		return ft, nil
	}

	if _, err := New(Config{MinConnections: 3, MaxConnections: 5}, opener); !errors.Is(err, boom) {
		t.Fatalf("New got %v, want wrapped %v", err, boom)
	}
	for i, ft := range opened {
		if ft.IsOpen() {
			t.Errorf("transport %d left open after rollback", i)
		}
	}
}

func TestAcquireRelease(t *testing.T) {
	pool, opened := newTestPool(t, Config{
		MinConnections: 1,
		MaxConnections: 2,
	})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !conn.Transport().IsOpen() {
		t.Error("acquired connection holds a closed transport")
	}
	if stats := pool.Stats(); stats.Active != 1 || stats.Idle != 0 {
		t.Errorf("stats got %+v, want active 1, idle 0", stats)
	}

	pool.Release(conn.ID())
	if stats := pool.Stats(); stats.Active != 0 || stats.Idle != 1 {
		t.Errorf("stats got %+v, want active 0, idle 1", stats)
	}

	// A release immediately followed by an acquire reuses the warm
	// connection instead of opening another one.
	again, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again.ID() != conn.ID() {
		t.Errorf("reacquire got id %q, want %q", again.ID(), conn.ID())
	}
	if got := atomic.LoadInt64(opened); got != 1 {
		t.Errorf("opened got %d, want 1", got)
	}
}

func TestAcquireGrowsToMax(t *testing.T) {
	pool, opened := newTestPool(t, Config{
		MinConnections: 1,
		MaxConnections: 3,
	})

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		conn, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if seen[conn.ID()] {
			t.Fatalf("acquire %d returned duplicate id %q", i, conn.ID())
		}
		seen[conn.ID()] = true
	}
	if got := atomic.LoadInt64(opened); got != 3 {
		t.Errorf("opened got %d, want 3", got)
	}
	if stats := pool.Stats(); stats.Total != 3 || stats.Active != 3 {
		t.Errorf("stats got %+v, want total 3, active 3", stats)
	}
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections:    1,
		MaxConnections:    1,
		ConnectionTimeout: 300 * time.Millisecond,
	})

	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err := pool.Acquire(context.Background())
	elapsed := time.Since(start)
	if got := sqlerror.CodeOf(err); got != sqlerror.CodeTimeoutError {
		t.Fatalf("Acquire got %v, want code %q", err, sqlerror.CodeTimeoutError)
	}
	if elapsed < 300*time.Millisecond {
		t.Errorf("Acquire failed after %v, want at least the 300ms timeout", elapsed)
	}
}

func TestAcquireUnblocksOnRelease(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections:    1,
		MaxConnections:    1,
		ConnectionTimeout: 5 * time.Second,
	})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(150 * time.Millisecond)
		pool.Release(conn.ID())
	}()

	again, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again.ID() != conn.ID() {
		t.Errorf("got id %q, want the released %q", again.ID(), conn.ID())
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections:    1,
		MaxConnections:    1,
		ConnectionTimeout: 5 * time.Second,
	})

	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire got %v, want context.DeadlineExceeded", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections: 1,
		MaxConnections: 2,
	})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pool.Release(conn.ID())
	pool.Release(conn.ID())
	pool.Release("no-such-id")

	if stats := pool.Stats(); stats.Active != 0 || stats.Total != 1 {
		t.Errorf("stats got %+v, want active 0, total 1", stats)
	}
}

func TestUseCountSurvivesReuse(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections: 1,
		MaxConnections: 1,
	})

	var id string
	for i := 0; i < 4; i++ {
		conn, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		id = conn.ID()
		pool.Release(id)
	}

	detailed := pool.DetailedStats()
	if len(detailed.Connections) != 1 {
		t.Fatalf("connections got %d, want 1", len(detailed.Connections))
	}
	cs := detailed.Connections[0]
	if cs.ID != id || cs.UseCount != 4 {
		t.Errorf("connection stats got %+v, want id %q with use count 4", cs, id)
	}
	if detailed.TotalRequests != 4 {
		t.Errorf("TotalRequests got %d, want 4", detailed.TotalRequests)
	}
	if detailed.PeakActive != 1 {
		t.Errorf("PeakActive got %d, want 1", detailed.PeakActive)
	}
}

func TestSweepEvictsIdleDownToMin(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections:      2,
		MaxConnections:      5,
		IdleTimeout:         100 * time.Millisecond,
		HealthCheckInterval: 50 * time.Millisecond,
	})

	// Grow to max, then idle everything.
	conns := make([]*PooledConnection, 0, 5)
	for i := 0; i < 5; i++ {
		conn, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		pool.Release(conn.ID())
	}

	deadline := time.Now().Add(2 * time.Second)
	for pool.Stats().Total > 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if stats := pool.Stats(); stats.Total != 2 || stats.Idle != 2 {
		t.Errorf("stats got %+v, want the sweep to keep exactly min connections", stats)
	}
}

func TestSweepEvictsLeastRecentlyUsedFirst(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections:      2,
		MaxConnections:      4,
		IdleTimeout:         200 * time.Millisecond,
		HealthCheckInterval: 100 * time.Millisecond,
	})

	conns := make([]*PooledConnection, 0, 4)
	for i := 0; i < 4; i++ {
		conn, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		conns = append(conns, conn)
	}
	// Staggered releases give every connection a distinct lastUsed stamp,
	// oldest first.
	for _, conn := range conns {
		pool.Release(conn.ID())
		time.Sleep(50 * time.Millisecond)
	}

	deadline := time.Now().Add(3 * time.Second)
	for pool.Stats().Total > 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	detailed := pool.DetailedStats()
	if len(detailed.Connections) != 2 {
		t.Fatalf("connections got %d, want 2 after the sweep", len(detailed.Connections))
	}
	survivors := make(map[string]bool, len(detailed.Connections))
	for _, cs := range detailed.Connections {
		survivors[cs.ID] = true
	}
	for _, conn := range conns[:2] {
		if survivors[conn.ID()] {
			t.Errorf("connection %s survived, want the least recently used evicted first", conn.ID())
		}
	}
	for _, conn := range conns[2:] {
		if !survivors[conn.ID()] {
			t.Errorf("connection %s evicted, want the most recently used kept", conn.ID())
		}
	}
}

func TestSweepSkipsLeasedConnections(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections:      1,
		MaxConnections:      3,
		IdleTimeout:         50 * time.Millisecond,
		HealthCheckInterval: 30 * time.Millisecond,
	})

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pool.Release(second.ID())

	time.Sleep(300 * time.Millisecond)

	if !first.Transport().IsOpen() {
		t.Error("leased connection was closed by the sweep")
	}
	if stats := pool.Stats(); stats.Active != 1 {
		t.Errorf("stats got %+v, want the lease to survive the sweep", stats)
	}
}

func TestClose(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections: 2,
		MaxConnections: 4,
	})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pool.Release(conn.ID())

	if err := pool.Close(); err != nil {
		t.Fatalf("Close got %v, want nil", err)
	}
	if stats := pool.Stats(); stats.Total != 0 {
		t.Errorf("stats got %+v, want empty pool after Close", stats)
	}
	if conn.Transport().IsOpen() {
		t.Error("transport left open after Close")
	}

	_, err = pool.Acquire(context.Background())
	if got := sqlerror.CodeOf(err); got != sqlerror.CodeConnectionError {
		t.Errorf("Acquire after Close got %v, want code %q", err, sqlerror.CodeConnectionError)
	}

	if err := pool.Close(); err != nil {
		t.Errorf("second Close got %v, want nil", err)
	}
}

func TestCloseForcesLeasedConnections(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections:   1,
		MaxConnections:   1,
		CloseGracePeriod: -1,
	})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("Close got %v, want nil", err)
	}
	if conn.Transport().IsOpen() {
		t.Error("leased transport left open after forced Close")
	}
}

func TestCloseWaitsForLeases(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections:   1,
		MaxConnections:   1,
		CloseGracePeriod: 2 * time.Second,
	})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(200 * time.Millisecond)
		pool.Release(conn.ID())
	}()

	start := time.Now()
	if err := pool.Close(); err != nil {
		t.Fatalf("Close got %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed >= 2*time.Second {
		t.Errorf("Close took the full grace period (%v), want early return on release", elapsed)
	}
}

func TestCloseCollectsTransportErrors(t *testing.T) {
	boom := errors.New("flush failed")
	var calls int
	opener := func() (Transport, error) {
		calls++
		return &fakeTransport{open: true, closeErr: boom}, nil
	}
	pool, err := New(Config{MinConnections: 2, MaxConnections: 2}, opener)
	if err != nil {
		t.Fatal(err)
	}

	err = pool.Close()
	if !errors.Is(err, boom) {
		t.Errorf("Close got %v, want to carry %v", err, boom)
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		MinConnections:    2,
		MaxConnections:    8,
		ConnectionTimeout: 5 * time.Second,
	})

	const goroutines = 16
	var wg sync.WaitGroup
	errCh := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				conn, err := pool.Acquire(context.Background())
				if err != nil {
					errCh <- fmt.Errorf("acquire: %w", err)
					return
				}
				time.Sleep(time.Millisecond)
				pool.Release(conn.ID())
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	stats := pool.Stats()
	if stats.Active != 0 {
		t.Errorf("stats got %+v, want all connections released", stats)
	}
	if stats.Total > 8 {
		t.Errorf("stats got %+v, want total within the max bound", stats)
	}
}

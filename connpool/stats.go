package connpool

import (
	"sort"
	"time"
)

// Stats is a consistent snapshot of the pool's counters.
type Stats struct {
	Total          int
	Active         int
	Idle           int
	MinConnections int
	MaxConnections int
}

// ConnectionStats describes one pooled connection in a DetailedStats
// snapshot.
type ConnectionStats struct {
	ID        string
	InUse     bool
	CreatedAt time.Time
	LastUsed  time.Time
	UseCount  int64
	Age       time.Duration
	IdleFor   time.Duration
}

// DetailedStats extends Stats with usage aggregates and a per-connection
// breakdown.
type DetailedStats struct {
	Stats

	// TotalRequests is the sum of use counts across all live connections.
	TotalRequests int64

	// AverageUseCount is TotalRequests divided by Total, 0 for an empty pool.
	AverageUseCount float64

	// PeakActive is the high watermark of concurrently leased connections
	// over the pool's lifetime.
	PeakActive int64

	OldestCreatedAt time.Time
	NewestCreatedAt time.Time

	// Connections is ordered by creation time, oldest first.
	Connections []ConnectionStats
}

// Stats returns a consistent snapshot taken under the pool lock.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	active := 0
	for _, conn := range p.connections {
		if conn.inUse {
			active++
		}
	}
	return Stats{
		Total:          len(p.connections),
		Active:         active,
		Idle:           len(p.connections) - active,
		MinConnections: p.cfg.MinConnections,
		MaxConnections: p.cfg.MaxConnections,
	}
}

// DetailedStats returns an extended consistent snapshot taken under the pool
// lock.
func (p *Pool) DetailedStats() DetailedStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	stats := DetailedStats{
		Stats:       p.statsLocked(),
		PeakActive:  p.active.Max(),
		Connections: make([]ConnectionStats, 0, len(p.connections)),
	}

	for _, conn := range p.connections {
		stats.TotalRequests += conn.useCount
		if stats.OldestCreatedAt.IsZero() || conn.createdAt.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = conn.createdAt
		}
		if conn.createdAt.After(stats.NewestCreatedAt) {
			stats.NewestCreatedAt = conn.createdAt
		}
		stats.Connections = append(stats.Connections, ConnectionStats{
			ID:        conn.id,
			InUse:     conn.inUse,
			CreatedAt: conn.createdAt,
			LastUsed:  conn.lastUsed,
			UseCount:  conn.useCount,
			Age:       now.Sub(conn.createdAt),
			IdleFor:   now.Sub(conn.lastUsed),
		})
	}
	if stats.Total > 0 {
		stats.AverageUseCount = float64(stats.TotalRequests) / float64(stats.Total)
	}
	sort.Slice(stats.Connections, func(i, j int) bool {
		if stats.Connections[i].CreatedAt.Equal(stats.Connections[j].CreatedAt) {
			return stats.Connections[i].ID < stats.Connections[j].ID
		}
		return stats.Connections[i].CreatedAt.Before(stats.Connections[j].CreatedAt)
	})
	return stats
}

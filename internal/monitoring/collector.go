// Package monitoring watches the review backlog and the quality of certificates
// waiting for review, and posts webhook alerts when either drifts out of
// bounds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/model"
)

// MetricsSnapshot holds a point-in-time view of the review workload.
type MetricsSnapshot struct {
	Counts map[model.State]int `json:"counts"`
	Total  int                 `json:"total"`

	// Pending review metrics.
	PendingReview     int     `json:"pending_review"`
	PendingScored     int     `json:"pending_scored"`
	PendingAvgQuality float64 `json:"pending_avg_quality"`

	CollectedAt time.Time `json:"collected_at"`
}

// Source is the read side the collector aggregates. *query.Service
// satisfies it.
type Source interface {
	CountsByState(ctx context.Context) (map[model.State]int, error)
	QualityStats(ctx context.Context, state model.State) (*model.QualityStats, error)
}

// Collector gathers metrics from the query service.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot of workflow metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	counts, err := c.src.CountsByState(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: counts by state")
	}

	snap := &MetricsSnapshot{
		Counts:        counts,
		PendingReview: counts[model.StatePendingReview],
		CollectedAt:   c.now(),
	}
	for _, n := range counts {
		snap.Total += n
	}

	stats, err := c.src.QualityStats(ctx, model.StatePendingReview)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: quality stats")
	}
	if stats != nil {
		snap.PendingScored = stats.Scored
		snap.PendingAvgQuality = stats.Average
	}
	return snap, nil
}

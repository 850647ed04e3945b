// Package monitoring checks the health of the evaluation and request
// lifecycle and raises operational alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealradar/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Evaluation metrics.
	TotalPosts         int      `json:"total_posts"`
	EvaluatedPosts     int      `json:"evaluated_posts"`
	PendingEvaluations int      `json:"pending_evaluations"`
	FailedEvaluations  int      `json:"failed_evaluations"`
	EvalFailRate       float64  `json:"eval_fail_rate"`
	HighValueDeals     int      `json:"high_value_deals"`
	AvgScore           *float64 `json:"avg_score,omitempty"`

	// Request metrics.
	ActiveRequests int `json:"active_requests"`
	LapsedRequests int `json:"lapsed_requests"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store              store.Store
	highValueThreshold float64
	now                func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store, highValueThreshold float64) *Collector {
	return &Collector{
		store:              st,
		highValueThreshold: highValueThreshold,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// Collect gathers a snapshot of system metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{CollectedAt: now}

	stats, err := c.store.Stats(ctx, c.highValueThreshold)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: stats")
	}
	snap.TotalPosts = stats.TotalPosts
	snap.EvaluatedPosts = stats.EvaluatedPosts
	snap.PendingEvaluations = stats.PendingEvaluations
	snap.FailedEvaluations = stats.FailedEvaluations
	snap.HighValueDeals = stats.HighValueDeals
	snap.AvgScore = stats.AvgScore

	if finished := stats.EvaluatedPosts + stats.FailedEvaluations; finished > 0 {
		snap.EvalFailRate = float64(stats.FailedEvaluations) / float64(finished)
	}

	active, err := c.store.ListActiveRequests(ctx, now)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: active requests")
	}
	snap.ActiveRequests = len(active)

	lapsed, err := c.store.ListLapsedRequests(ctx, now)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: lapsed requests")
	}
	snap.LapsedRequests = len(lapsed)

	return snap, nil
}

package worker

import (
	"context"
	"log/slog"
	"time"
)

// RunPruner removes finished runs older than a cutoff.
type RunPruner interface {
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Pruner deletes finished runs and their snapshots based on a retention period.
type Pruner struct {
	retention time.Duration
	runs      RunPruner
	now       func() time.Time
}

// NewPruner creates a new Pruner worker. A non-positive retention disables it.
func NewPruner(retention time.Duration, runs RunPruner) *Pruner {
	return &Pruner{
		retention: retention,
		runs:      runs,
		now:       time.Now,
	}
}

// Interval is how often the pruner checks: a tenth of the retention,
// clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, 1*time.Hour)
	return max(interval, 1*time.Minute)
}

// Start runs the pruner loop until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune deletes runs that finished before now minus the retention period.
func (p *Pruner) Prune(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)
	n, err := p.runs.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("[Pruner] failed to prune runs", "cutoff", cutoff, "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("[Pruner] pruned finished runs", "count", n, "cutoff", cutoff)
	}
	return n
}

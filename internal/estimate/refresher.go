// Package estimate keeps cached segment sizes fresh.
//
// Refresher re-evaluates every live segment and writes the count back as the
// segment's estimate. Scheduler runs the refresher on a cron schedule.
// A failed evaluation never overwrites the cached count: the UI keeps showing
// the last known size with its timestamp. A count computed for a definition
// that was edited meanwhile is dropped and the segment counted as skipped.
package estimate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/segmentkeeper/internal/core/metrics"
	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/segments"
	"github.com/solatis/segmentkeeper/internal/types"
)

// DefaultConcurrency bounds parallel evaluations per run.
const DefaultConcurrency = 4

// Evaluator is the part of rules.Engine the refresher needs.
type Evaluator interface {
	Evaluate(ctx context.Context, def *types.SegmentDefinition) (*rules.EvaluationResult, error)
}

// RunStats summarizes one refresh run.
type RunStats struct {
	Segments  int
	Refreshed int
	Skipped   int // edited during evaluation; their estimate is left alone
	Failed    int
}

// Refresher re-estimates stored segments.
type Refresher struct {
	repo        segments.Repository
	eval        Evaluator
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Collector
}

// NewRefresher creates a refresher. concurrency <= 0 uses DefaultConcurrency.
func NewRefresher(repo segments.Repository, eval Evaluator, concurrency int, logger *zap.Logger, collector *metrics.Collector) *Refresher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		repo:        repo,
		eval:        eval,
		concurrency: concurrency,
		logger:      logger,
		metrics:     collector,
	}
}

// RefreshAll re-estimates every segment of every workspace.
// Per-segment failures are logged and counted; only listing failures and
// cancellation end the run early.
func (r *Refresher) RefreshAll(ctx context.Context) (RunStats, error) {
	stats, err := r.refreshAll(ctx)
	r.metrics.RecordReestimateRun(err, stats.Refreshed, stats.Failed)
	return stats, err
}

func (r *Refresher) refreshAll(ctx context.Context) (RunStats, error) {
	workspaces, err := r.repo.Workspaces(ctx)
	if err != nil {
		return RunStats{}, fmt.Errorf("list workspaces: %w", err)
	}

	var total RunStats
	for _, ws := range workspaces {
		stats, err := r.RefreshWorkspace(ctx, ws)
		total.Segments += stats.Segments
		total.Refreshed += stats.Refreshed
		total.Skipped += stats.Skipped
		total.Failed += stats.Failed
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// RefreshWorkspace re-estimates the segments of one workspace with bounded
// concurrency.
func (r *Refresher) RefreshWorkspace(ctx context.Context, workspace string) (RunStats, error) {
	summaries, err := r.repo.List(ctx, workspace)
	if err != nil {
		return RunStats{}, fmt.Errorf("list segments of %s: %w", workspace, err)
	}

	var refreshed, skipped, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for _, s := range summaries {
		if ctx.Err() != nil {
			break
		}
		id := s.ID
		g.Go(func() error {
			err := r.refreshOne(ctx, workspace, id)
			switch {
			case err == nil:
				refreshed.Add(1)
			case errors.Is(err, segments.ErrStaleEstimate):
				skipped.Add(1)
				r.logger.Debug("segment edited during re-estimation, keeping its estimate",
					zap.String("workspace", workspace),
					zap.String("segment_id", string(id)))
			default:
				failed.Add(1)
				r.logger.Warn("segment re-estimation failed",
					zap.String("workspace", workspace),
					zap.String("segment_id", string(id)),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := RunStats{
		Segments:  len(summaries),
		Refreshed: int(refreshed.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (r *Refresher) refreshOne(ctx context.Context, workspace string, id types.SegmentID) error {
	def, err := r.repo.Load(ctx, workspace, id)
	if err != nil {
		return err
	}
	res, err := r.eval.Evaluate(ctx, def)
	if err != nil {
		return err
	}
	return r.repo.UpdateEstimate(ctx, workspace, id, def.UpdatedAt, res.MatchedCount, res.EvaluatedAt)
}

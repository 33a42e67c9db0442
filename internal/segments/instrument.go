package segments

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/segmentkeeper/internal/core/metrics"
	"github.com/solatis/segmentkeeper/internal/types"
)

// Instrumented decorates a Repository with metrics and debug logging.
type Instrumented struct {
	next    Repository
	metrics *metrics.Collector
	logger  *zap.Logger
}

// Instrument wraps next. Either collector or logger may be nil.
func Instrument(next Repository, collector *metrics.Collector, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{next: next, metrics: collector, logger: logger}
}

func (r *Instrumented) observe(op string, id types.SegmentID, err error) {
	r.metrics.RecordRepositoryOp(op, err)
	if err != nil {
		r.logger.Debug("segment repository operation failed",
			zap.String("op", op),
			zap.String("segment_id", string(id)),
			zap.Error(err))
	}
}

func (r *Instrumented) Save(ctx context.Context, def *types.SegmentDefinition) (types.SegmentID, error) {
	id, err := r.next.Save(ctx, def)
	r.observe("save", id, err)
	return id, err
}

func (r *Instrumented) Load(ctx context.Context, workspace string, id types.SegmentID) (*types.SegmentDefinition, error) {
	d, err := r.next.Load(ctx, workspace, id)
	r.observe("load", id, err)
	return d, err
}

func (r *Instrumented) List(ctx context.Context, workspace string) ([]types.SegmentSummary, error) {
	out, err := r.next.List(ctx, workspace)
	r.observe("list", "", err)
	return out, err
}

func (r *Instrumented) Delete(ctx context.Context, workspace string, id types.SegmentID) error {
	err := r.next.Delete(ctx, workspace, id)
	r.observe("delete", id, err)
	return err
}

func (r *Instrumented) UpdateEstimate(ctx context.Context, workspace string, id types.SegmentID, version time.Time, count int, at time.Time) error {
	err := r.next.UpdateEstimate(ctx, workspace, id, version, count, at)
	r.observe("update_estimate", id, err)
	return err
}

func (r *Instrumented) Workspaces(ctx context.Context) ([]string, error) {
	out, err := r.next.Workspaces(ctx)
	r.observe("workspaces", "", err)
	return out, err
}

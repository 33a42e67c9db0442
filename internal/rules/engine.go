// internal/rules/engine.go
package rules

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/solatis/segmentkeeper/internal/core/metrics"
	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Segment evaluation.
 *
 * Engine turns a SegmentDefinition into a live count and a bounded member
 * preview by compiling it and querying a ContactStore.
 *
 * Evaluation flow:
 *   1. Validate groups (names are not required; drafts may be unnamed)
 *   2. Compile against the engine clock
 *   3. Apply the evaluation timeout to ctx
 *   4. Count, then Sample when a preview is requested
 *   5. Classify failures into types.EvaluatorError
 *
 * Failure classification:
 *   - ctx deadline/cancel or types.ErrTimeout -> Timeout
 *   - types.ErrInvalidPredicate               -> InvalidPredicate
 *   - anything else                           -> StoreUnavailable
 *
 * StoreUnavailable is retried once with exponential backoff; the other kinds
 * are surfaced immediately. MatchedCount always comes from Count, never from
 * the sample length.
 *
 * The engine holds no mutable state. Concurrent Evaluate calls only share
 * the store, which must tolerate concurrent reads.
 */

// ContactStore is the outbound query contract of the engine.
type ContactStore interface {
	// Count returns the number of workspace contacts matching expr.
	Count(ctx context.Context, workspace string, expr *Expr) (int, error)

	// Sample returns up to limit matching contact ids in a stable order.
	Sample(ctx context.Context, workspace string, expr *Expr, limit int) ([]string, error)
}

// EvaluationResult is the outcome of one evaluation.
type EvaluationResult struct {
	SegmentID     types.SegmentID `json:"segmentId,omitempty"`
	MatchedCount  int             `json:"matchedCount"`
	SampleMembers []string        `json:"sampleMembers,omitempty"`
	EvaluatedAt   time.Time       `json:"evaluatedAt"`
	Expression    string          `json:"expression"`
}

const (
	DefaultSampleSize = 25
	DefaultTimeout    = 10 * time.Second
	DefaultRetryDelay = 200 * time.Millisecond

	// storeAttempts is one try plus one retry for StoreUnavailable.
	storeAttempts = 2
)

// Engine evaluates segment definitions against a ContactStore.
type Engine struct {
	store      ContactStore
	now        func() time.Time
	sampleSize int
	timeout    time.Duration
	retryDelay time.Duration
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now, used to resolve relative temporal values.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSampleSize sets the preview size; 0 disables sampling.
func WithSampleSize(n int) Option {
	return func(e *Engine) {
		if n < 0 {
			n = 0
		}
		if n > types.MaxSampleSize {
			n = types.MaxSampleSize
		}
		e.sampleSize = n
	}
}

// WithTimeout bounds each evaluation; 0 leaves only the caller's deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithRetryDelay sets the initial backoff before the StoreUnavailable retry.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.retryDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// NewEngine creates an evaluator over store.
func NewEngine(store ContactStore, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		now:        time.Now,
		sampleSize: DefaultSampleSize,
		timeout:    DefaultTimeout,
		retryDelay: DefaultRetryDelay,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate counts the contacts matching def and samples up to the configured
// preview size. The definition is not modified.
func (e *Engine) Evaluate(ctx context.Context, def *types.SegmentDefinition) (*EvaluationResult, error) {
	start := time.Now()
	result, outcome, err := e.evaluate(ctx, def)

	matched := 0
	if result != nil {
		matched = result.MatchedCount
	}
	e.metrics.RecordEvaluation(outcome, time.Since(start), matched)

	if err != nil {
		e.logger.Warn("segment evaluation failed",
			zap.String("segment_id", segmentID(def)),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}
	e.logger.Debug("segment evaluated",
		zap.String("segment_id", segmentID(def)),
		zap.Int("matched", result.MatchedCount),
		zap.String("expr", result.Expression),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (e *Engine) evaluate(ctx context.Context, def *types.SegmentDefinition) (*EvaluationResult, string, error) {
	evaluatedAt := e.now().UTC()
	compiled, err := Compile(def, evaluatedAt)
	if err != nil {
		return nil, "invalid", err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	workspace := compiled.WorkspaceID
	expr := compiled.Expr

	count, err := retryStore(ctx, e.newBackOff(), func() (int, error) {
		return e.store.Count(ctx, workspace, expr)
	})
	if err != nil {
		ee := classify(ctx, compiled.SegmentID, err)
		return nil, string(ee.Kind), ee
	}

	var sample []string
	if e.sampleSize > 0 && count > 0 {
		sample, err = retryStore(ctx, e.newBackOff(), func() ([]string, error) {
			return e.store.Sample(ctx, workspace, expr, e.sampleSize)
		})
		if err != nil {
			ee := classify(ctx, compiled.SegmentID, err)
			return nil, string(ee.Kind), ee
		}
	}

	return &EvaluationResult{
		SegmentID:     compiled.SegmentID,
		MatchedCount:  count,
		SampleMembers: sample,
		EvaluatedAt:   evaluatedAt,
		Expression:    expr.String(),
	}, metrics.OutcomeSuccess, nil
}

func (e *Engine) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryDelay
	return b
}

// retryStore runs op, retrying only errors that classify as StoreUnavailable.
func retryStore[T any](ctx context.Context, b backoff.BackOff, op func() (T, error)) (T, error) {
	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !retryable(ctx, err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(storeAttempts))

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return res, err
}

func retryable(ctx context.Context, err error) bool {
	return classifyKind(ctx, err) == types.EvalStoreUnavailable
}

func classify(ctx context.Context, id types.SegmentID, err error) *types.EvaluatorError {
	return &types.EvaluatorError{Kind: classifyKind(ctx, err), SegmentID: id, Err: err}
}

func classifyKind(ctx context.Context, err error) types.EvaluatorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, types.ErrTimeout),
		ctx.Err() != nil:
		return types.EvalTimeout
	case errors.Is(err, types.ErrInvalidPredicate):
		return types.EvalInvalidPredicate
	default:
		return types.EvalStoreUnavailable
	}
}

func segmentID(def *types.SegmentDefinition) string {
	if def == nil {
		return ""
	}
	return string(def.ID)
}

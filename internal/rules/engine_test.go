package rules

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/solatis/segmentkeeper/internal/core/metrics"
	"github.com/solatis/segmentkeeper/internal/types"
)

// fakeStore scripts Count/Sample results per call.
type fakeStore struct {
	countCalls  atomic.Int32
	sampleCalls atomic.Int32
	count       func(ctx context.Context, call int32) (int, error)
	sample      func(ctx context.Context, limit int) ([]string, error)
}

func (f *fakeStore) Count(ctx context.Context, _ string, _ *Expr) (int, error) {
	call := f.countCalls.Add(1)
	return f.count(ctx, call)
}

func (f *fakeStore) Sample(ctx context.Context, _ string, _ *Expr, limit int) ([]string, error) {
	f.sampleCalls.Add(1)
	if f.sample == nil {
		return nil, nil
	}
	return f.sample(ctx, limit)
}

func engineDefinition() *types.SegmentDefinition {
	return &types.SegmentDefinition{
		ID:          "seg-1",
		WorkspaceID: "acme",
		Groups: []types.RuleGroup{{ID: "g1", Rules: []types.Rule{
			{ID: "r1", Field: types.FieldPlatform, Operator: types.OpIs, Value: "TikTok"},
			{ID: "r2", Field: types.FieldEngagement, Operator: types.OpGreaterThan, Value: "50"},
		}}},
	}
}

func newTestEngine(store ContactStore, opts ...Option) *Engine {
	base := []Option{
		WithClock(func() time.Time { return compileNow }),
		WithRetryDelay(time.Millisecond),
	}
	return NewEngine(store, append(base, opts...)...)
}

func TestEngineEvaluate(t *testing.T) {
	store := &fakeStore{
		count: func(context.Context, int32) (int, error) { return 40, nil },
		sample: func(_ context.Context, limit int) ([]string, error) {
			return []string{"c-1", "c-2"}, nil
		},
	}
	def := engineDefinition()
	before := def.Clone()

	res, err := newTestEngine(store, WithSampleSize(2)).Evaluate(context.Background(), def)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.MatchedCount != 40 {
		t.Errorf("MatchedCount = %d, want 40", res.MatchedCount)
	}
	if len(res.SampleMembers) != 2 {
		t.Errorf("len(SampleMembers) = %d, want 2", len(res.SampleMembers))
	}
	if res.SegmentID != "seg-1" {
		t.Errorf("SegmentID = %s, want seg-1", res.SegmentID)
	}
	if !res.EvaluatedAt.Equal(compileNow) {
		t.Errorf("EvaluatedAt = %v, want %v", res.EvaluatedAt, compileNow)
	}
	want := `AND(CMP(platform is "TikTok"), CMP(engagement greater_than 50))`
	if res.Expression != want {
		t.Errorf("Expression = %s, want %s", res.Expression, want)
	}
	if State(def, before) != types.StatePersisted {
		t.Error("Evaluate() modified the definition")
	}
}

func TestEngineSkipsSample(t *testing.T) {
	tests := []struct {
		name       string
		count      int
		sampleSize int
	}{
		{"sampling disabled", 10, 0},
		{"nothing matched", 0, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{count: func(context.Context, int32) (int, error) { return tt.count, nil }}
			if _, err := newTestEngine(store, WithSampleSize(tt.sampleSize)).Evaluate(context.Background(), engineDefinition()); err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if n := store.sampleCalls.Load(); n != 0 {
				t.Errorf("Sample called %d times, want 0", n)
			}
		})
	}
}

func TestEngineFailures(t *testing.T) {
	unavailable := func(context.Context, int32) (int, error) {
		return 0, types.ErrStoreUnavailable
	}

	tests := []struct {
		name      string
		count     func(context.Context, int32) (int, error)
		timeout   time.Duration
		wantKind  types.EvaluatorKind
		wantCalls int32
	}{
		{
			name:      "store unavailable retried once",
			count:     unavailable,
			wantKind:  types.EvalStoreUnavailable,
			wantCalls: 2,
		},
		{
			name: "unclassified errors are store outages",
			count: func(context.Context, int32) (int, error) {
				return 0, errors.New("connection reset by peer")
			},
			wantKind:  types.EvalStoreUnavailable,
			wantCalls: 2,
		},
		{
			name: "invalid predicate not retried",
			count: func(context.Context, int32) (int, error) {
				return 0, types.ErrInvalidPredicate
			},
			wantKind:  types.EvalInvalidPredicate,
			wantCalls: 1,
		},
		{
			name: "store timeout not retried",
			count: func(context.Context, int32) (int, error) {
				return 0, types.ErrTimeout
			},
			wantKind:  types.EvalTimeout,
			wantCalls: 1,
		},
		{
			name: "deadline exceeded",
			count: func(ctx context.Context, _ int32) (int, error) {
				<-ctx.Done()
				return 0, ctx.Err()
			},
			timeout:   10 * time.Millisecond,
			wantKind:  types.EvalTimeout,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{count: tt.count}
			opts := []Option{}
			if tt.timeout > 0 {
				opts = append(opts, WithTimeout(tt.timeout))
			}

			res, err := newTestEngine(store, opts...).Evaluate(context.Background(), engineDefinition())
			if res != nil {
				t.Errorf("Evaluate() result = %+v, want nil", res)
			}

			var ee *types.EvaluatorError
			if !errors.As(err, &ee) {
				t.Fatalf("Evaluate() error = %v, want *EvaluatorError", err)
			}
			if ee.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", ee.Kind, tt.wantKind)
			}
			if ee.SegmentID != "seg-1" {
				t.Errorf("SegmentID = %s, want seg-1", ee.SegmentID)
			}
			if n := store.countCalls.Load(); n != tt.wantCalls {
				t.Errorf("Count called %d times, want %d", n, tt.wantCalls)
			}
		})
	}
}

func TestEngineRetryRecovers(t *testing.T) {
	store := &fakeStore{count: func(_ context.Context, call int32) (int, error) {
		if call == 1 {
			return 0, types.ErrStoreUnavailable
		}
		return 7, nil
	}}

	res, err := newTestEngine(store, WithSampleSize(0)).Evaluate(context.Background(), engineDefinition())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.MatchedCount != 7 {
		t.Errorf("MatchedCount = %d, want 7", res.MatchedCount)
	}
}

func TestEngineValidationError(t *testing.T) {
	store := &fakeStore{count: func(context.Context, int32) (int, error) { return 1, nil }}
	def := engineDefinition()
	def.Groups[0].Rules[1].Value = "lots"

	_, err := newTestEngine(store).Evaluate(context.Background(), def)
	if !errors.Is(err, types.ErrInvalidValue) {
		t.Errorf("Evaluate() error = %v, want ErrInvalidValue", err)
	}
	if n := store.countCalls.Load(); n != 0 {
		t.Errorf("Count called %d times for invalid definition, want 0", n)
	}
}

func TestEngineRecordsMetrics(t *testing.T) {
	collector := metrics.NewCollector("", nil)
	store := &fakeStore{count: func(context.Context, int32) (int, error) { return 3, nil }}

	engine := newTestEngine(store, WithMetrics(collector), WithSampleSize(0))
	if _, err := engine.Evaluate(context.Background(), engineDefinition()); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	n, err := testutil.GatherAndCount(collector.Registry(), "segmentkeeper_evaluations_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("evaluations_total series = %d, want 1", n)
	}
}

func TestWithSampleSizeClamps(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-1, 0},
		{10, 10},
		{types.MaxSampleSize + 1, types.MaxSampleSize},
	}
	for _, tt := range tests {
		e := NewEngine(nil, WithSampleSize(tt.in))
		if e.sampleSize != tt.want {
			t.Errorf("WithSampleSize(%d) = %d, want %d", tt.in, e.sampleSize, tt.want)
		}
	}
}

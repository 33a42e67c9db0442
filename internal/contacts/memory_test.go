package contacts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

func TestMemoryStoreCount(t *testing.T) {
	store := newFixtureMemoryStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		groups []types.RuleGroup
		want   int
	}{
		{"tiktok", []types.RuleGroup{group(rule(types.FieldPlatform, types.OpIs, "TikTok"))}, 120},
		{"tiktok case-insensitive", []types.RuleGroup{group(rule(types.FieldPlatform, types.OpIs, "tiktok"))}, 120},
		{"tiktok engaged", []types.RuleGroup{tiktokEngaged()}, 40},
		{"engagement equal boundary", []types.RuleGroup{group(
			rule(types.FieldPlatform, types.OpIs, "TikTok"),
			rule(types.FieldEngagement, types.OpEqual, "50"),
		)}, 1},
		{"berlin", []types.RuleGroup{berlin()}, 30},
		{"tiktok engaged or berlin", []types.RuleGroup{tiktokEngaged(), berlin()}, 60},
		{"missing location never matches is_not", []types.RuleGroup{group(
			rule(types.FieldLocation, types.OpIsNot, "Nowhere"),
		)}, 570},
		{"active within 7d", []types.RuleGroup{group(rule(types.FieldLastActivity, types.OpWithin, "7d"))}, 8 * 17},
		{"no match", []types.RuleGroup{group(rule(types.FieldPlatform, types.OpIs, "MySpace"))}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Count(ctx, testWorkspace, compileGroups(t, tt.groups...))
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Count() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMemoryStoreWorkspaceIsolation(t *testing.T) {
	store := newFixtureMemoryStore(t)
	expr := compileGroups(t, group(rule(types.FieldPlatform, types.OpIs, "TikTok")))

	got, err := store.Count(context.Background(), "other", expr)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if got != 0 {
		t.Errorf("Count(other workspace) = %d, want 0", got)
	}
}

func TestMemoryStoreSample(t *testing.T) {
	store := newFixtureMemoryStore(t)
	expr := compileGroups(t, tiktokEngaged())

	got, err := store.Sample(context.Background(), testWorkspace, expr, 3)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	want := []string{"c-0000", "c-0001", "c-0002"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Sample() mismatch (-want +got):\n%s", diff)
	}

	none, err := store.Sample(context.Background(), testWorkspace, expr, 0)
	if err != nil || none != nil {
		t.Errorf("Sample(limit 0) = %v, %v, want nil, nil", none, err)
	}
}

func TestMemoryStoreAddReplaces(t *testing.T) {
	store := NewMemoryStore()
	c := types.Contact{ID: "c-1", WorkspaceID: testWorkspace, Attributes: map[types.FieldKind]any{types.FieldPlatform: "TikTok"}}
	if err := store.Add(c); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	c.Attributes = map[types.FieldKind]any{types.FieldPlatform: "Instagram"}
	if err := store.Add(c); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if n := store.Len(testWorkspace); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}
	got, _ := store.Count(context.Background(), testWorkspace, compileGroups(t, group(rule(types.FieldPlatform, types.OpIs, "Instagram"))))
	if got != 1 {
		t.Errorf("Count(Instagram) = %d, want 1", got)
	}

	if err := store.Add(types.Contact{WorkspaceID: testWorkspace}); err == nil {
		t.Error("Add(contact without id) succeeded, want error")
	}
}

func TestMemoryStoreAddRejectsWholeBatch(t *testing.T) {
	store := NewMemoryStore()
	tiktok := map[types.FieldKind]any{types.FieldPlatform: "TikTok"}
	if err := store.Add(types.Contact{ID: "c-2", WorkspaceID: testWorkspace, Attributes: tiktok}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	err := store.Add(
		types.Contact{ID: "c-1", WorkspaceID: testWorkspace, Attributes: tiktok},
		types.Contact{WorkspaceID: testWorkspace, Attributes: tiktok},
	)
	if err == nil {
		t.Fatal("Add(batch with a contact without id) succeeded, want error")
	}
	if n := store.Len(testWorkspace); n != 1 {
		t.Errorf("Len() after rejected batch = %d, want 1", n)
	}

	if err := store.Add(types.Contact{ID: "c-0", WorkspaceID: testWorkspace, Attributes: tiktok}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	got, err := store.Sample(context.Background(), testWorkspace, compileGroups(t, group(rule(types.FieldPlatform, types.OpIs, "TikTok"))), 10)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if diff := cmp.Diff([]string{"c-0", "c-2"}, got); diff != "" {
		t.Errorf("Sample() mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryStoreCancellation(t *testing.T) {
	store := newFixtureMemoryStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Count(ctx, testWorkspace, compileGroups(t, tiktokEngaged()))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Count() error = %v, want context.Canceled", err)
	}
}

func TestMemoryStoreMaxScan(t *testing.T) {
	store := newFixtureMemoryStore(t)
	store.MaxScan = 100

	_, err := store.Count(context.Background(), testWorkspace, compileGroups(t, tiktokEngaged()))
	if !errors.Is(err, types.ErrTimeout) {
		t.Errorf("Count() error = %v, want ErrTimeout", err)
	}
}

func TestMemoryStoreRejectsUnsupportedComparison(t *testing.T) {
	store := newFixtureMemoryStore(t)
	expr := rules.Cmp(rules.Comparison{
		Field:    types.FieldEngagement,
		Operator: types.OpContains,
		Operand:  rules.Operand{Kind: rules.ValueNumeric, Number: 1},
	})

	_, err := store.Count(context.Background(), testWorkspace, expr)
	if !errors.Is(err, types.ErrInvalidPredicate) {
		t.Errorf("Count() error = %v, want ErrInvalidPredicate", err)
	}
}

func TestEngineScenarios(t *testing.T) {
	store := newFixtureMemoryStore(t)
	engine := rules.NewEngine(store, rules.WithClock(func() time.Time { return fixtureNow }))
	ctx := context.Background()

	tests := []struct {
		name string
		def  *types.SegmentDefinition
		want int
	}{
		{"one group AND", definition(tiktokEngaged()), 40},
		{"two groups OR with overlap", definition(tiktokEngaged(), berlin()), 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := engine.Evaluate(ctx, tt.def)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if res.MatchedCount != tt.want {
				t.Errorf("MatchedCount = %d, want %d", res.MatchedCount, tt.want)
			}
			if len(res.SampleMembers) > rules.DefaultSampleSize {
				t.Errorf("len(SampleMembers) = %d, want <= %d", len(res.SampleMembers), rules.DefaultSampleSize)
			}

			again, err := engine.Evaluate(ctx, tt.def)
			if err != nil {
				t.Fatalf("second Evaluate() error = %v", err)
			}
			if diff := cmp.Diff(res, again); diff != "" {
				t.Errorf("Evaluate() not idempotent (-first +second):\n%s", diff)
			}
		})
	}
}

func TestEngineMaxScanIsTimeout(t *testing.T) {
	store := newFixtureMemoryStore(t)
	store.MaxScan = 10
	engine := rules.NewEngine(store, rules.WithClock(func() time.Time { return fixtureNow }))

	_, err := engine.Evaluate(context.Background(), definition(tiktokEngaged()))
	var ee *types.EvaluatorError
	if !errors.As(err, &ee) {
		t.Fatalf("Evaluate() error = %v, want *EvaluatorError", err)
	}
	if ee.Kind != types.EvalTimeout {
		t.Errorf("Kind = %s, want %s", ee.Kind, types.EvalTimeout)
	}
}

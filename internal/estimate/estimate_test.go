package estimate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/solatis/segmentkeeper/internal/core/db"
	"github.com/solatis/segmentkeeper/internal/core/metrics"
	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/segments"
	"github.com/solatis/segmentkeeper/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var evalNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeEvaluator counts rules: matched = 10 * rule count, or fails for
// segments whose name starts with "broken".
type fakeEvaluator struct {
	calls atomic.Int32
}

func (f *fakeEvaluator) Evaluate(_ context.Context, def *types.SegmentDefinition) (*rules.EvaluationResult, error) {
	f.calls.Add(1)
	if len(def.Name) >= 6 && def.Name[:6] == "broken" {
		return nil, &types.EvaluatorError{Kind: types.EvalStoreUnavailable, SegmentID: def.ID}
	}
	return &rules.EvaluationResult{
		SegmentID:    def.ID,
		MatchedCount: 10 * def.RuleCount(),
		EvaluatedAt:  evalNow,
	}, nil
}

func newSQLRepository(t *testing.T) segments.Repository {
	t.Helper()
	ctx := context.Background()

	conn, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "segments.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := db.MigrateUp(ctx, conn); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	q, err := db.LoadQueries(conn)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}
	return segments.NewSQLRepository(q)
}

func seed(t *testing.T, repo segments.Repository, workspace string, names ...string) []types.SegmentID {
	t.Helper()
	var ids []types.SegmentID
	for _, name := range names {
		id, err := repo.Save(context.Background(), &types.SegmentDefinition{
			WorkspaceID: workspace,
			Name:        name,
			Groups: []types.RuleGroup{{Rules: []types.Rule{
				{Field: types.FieldPlatform, Operator: types.OpIs, Value: "TikTok"},
			}}},
		})
		if err != nil {
			t.Fatalf("Save(%s) error = %v", name, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestRefreshAll(t *testing.T) {
	repo := segments.NewMemoryRepository()
	acme := seed(t, repo, "acme", "fans", "broken one", "locals")
	globex := seed(t, repo, "globex", "everyone")

	// A previously cached estimate must survive a failed re-estimation
	broken, err := repo.Load(context.Background(), "acme", acme[1])
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := repo.UpdateEstimate(context.Background(), "acme", acme[1], broken.UpdatedAt, 99, evalNow.Add(-time.Hour)); err != nil {
		t.Fatalf("UpdateEstimate() error = %v", err)
	}

	collector := metrics.NewCollector("", nil)
	eval := &fakeEvaluator{}
	r := NewRefresher(repo, eval, 2, nil, collector)

	stats, err := r.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}
	want := RunStats{Segments: 4, Refreshed: 3, Failed: 1}
	if stats != want {
		t.Errorf("RefreshAll() = %+v, want %+v", stats, want)
	}

	for _, c := range []struct {
		ws   string
		id   types.SegmentID
		want int
	}{
		{"acme", acme[0], 10},
		{"acme", acme[1], 99},
		{"acme", acme[2], 10},
		{"globex", globex[0], 10},
	} {
		def, err := repo.Load(context.Background(), c.ws, c.id)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if def.EstimatedCount == nil || *def.EstimatedCount != c.want {
			t.Errorf("%s EstimatedCount = %v, want %d", def.Name, def.EstimatedCount, c.want)
		}
	}

	n, err := testutil.GatherAndCount(collector.Registry(), "segmentkeeper_reestimate_runs_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("reestimate_runs_total series = %d, want 1", n)
	}
}

// editingEvaluator re-saves the segment with an extra group and a fresh
// estimate while its first evaluation is in flight.
type editingEvaluator struct {
	fakeEvaluator
	repo    segments.Repository
	once    sync.Once
	saveErr error
}

func (e *editingEvaluator) Evaluate(ctx context.Context, def *types.SegmentDefinition) (*rules.EvaluationResult, error) {
	e.once.Do(func() {
		edited := def.Clone()
		edited.Groups = append(edited.Groups, types.RuleGroup{Rules: []types.Rule{
			{Field: types.FieldLocation, Operator: types.OpContains, Value: "berlin"},
		}})
		edited.SetEstimate(999, evalNow)
		_, e.saveErr = e.repo.Save(ctx, edited)
	})
	return e.fakeEvaluator.Evaluate(ctx, def)
}

func TestRefreshKeepsEstimateOfEditedSegment(t *testing.T) {
	for name, repo := range map[string]segments.Repository{
		"memory": segments.NewMemoryRepository(),
		"sql":    newSQLRepository(t),
	} {
		t.Run(name, func(t *testing.T) {
			ids := seed(t, repo, "acme", "fans")
			eval := &editingEvaluator{repo: repo}

			stats, err := NewRefresher(repo, eval, 1, nil, nil).RefreshAll(context.Background())
			if err != nil {
				t.Fatalf("RefreshAll() error = %v", err)
			}
			if eval.saveErr != nil {
				t.Fatalf("Save() during evaluation error = %v", eval.saveErr)
			}
			want := RunStats{Segments: 1, Skipped: 1}
			if stats != want {
				t.Errorf("RefreshAll() = %+v, want %+v", stats, want)
			}

			def, err := repo.Load(context.Background(), "acme", ids[0])
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(def.Groups) != 2 {
				t.Errorf("len(Groups) = %d, want 2", len(def.Groups))
			}
			if def.EstimatedCount == nil || *def.EstimatedCount != 999 {
				t.Errorf("EstimatedCount = %v, want 999 from the edit", def.EstimatedCount)
			}
		})
	}
}

func TestRefreshCancelled(t *testing.T) {
	repo := segments.NewMemoryRepository()
	seed(t, repo, "acme", "fans", "locals")
	eval := &fakeEvaluator{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRefresher(repo, eval, 1, nil, nil).RefreshWorkspace(ctx, "acme")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RefreshWorkspace() error = %v, want context.Canceled", err)
	}
	if n := eval.calls.Load(); n != 0 {
		t.Errorf("Evaluate called %d times after cancellation, want 0", n)
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"", false},
		{"0 3 * * *", false},
		{"@every 1h", false},
		{"every morning", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		if err := ValidateSchedule(tt.schedule); (err != nil) != tt.wantErr {
			t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.schedule, err, tt.wantErr)
		}
	}
}

func TestSchedulerDisabled(t *testing.T) {
	s := NewScheduler(NewRefresher(segments.NewMemoryRepository(), &fakeEvaluator{}, 1, nil, nil), "", nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true with empty schedule")
	}
	if s.NextRun() != nil {
		t.Error("NextRun() != nil with empty schedule")
	}
	s.Stop()
}

func TestSchedulerRuns(t *testing.T) {
	repo := segments.NewMemoryRepository()
	seed(t, repo, "acme", "fans")
	eval := &fakeEvaluator{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(NewRefresher(repo, eval, 1, nil, nil), "@every 1s", nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}
	if s.NextRun() == nil {
		t.Error("NextRun() = nil while running")
	}

	deadline := time.Now().Add(5 * time.Second)
	for eval.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if eval.calls.Load() == 0 {
		t.Fatal("scheduler did not run within 5s")
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(NewRefresher(segments.NewMemoryRepository(), &fakeEvaluator{}, 1, nil, nil), "0 3 * * *", nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.IsRunning() {
		t.Error("scheduler still running after context cancellation")
	}
}

func TestSchedulerInvalid(t *testing.T) {
	s := NewScheduler(NewRefresher(segments.NewMemoryRepository(), &fakeEvaluator{}, 1, nil, nil), "not a schedule", nil)
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start() with invalid schedule succeeded")
		s.Stop()
	}
}

// Package segments persists segment definitions and their cached size
// snapshots.
//
// Two Repository implementations share one contract: MemoryRepository for
// tests and single-process use, SQLRepository over the segments table.
// Repositories never share references with callers; every definition crossing
// the boundary is deep-copied.
package segments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

// DefaultWorkspace is used for definitions saved without a workspace.
const DefaultWorkspace = "default"

// Repository stores segment definitions per workspace.
type Repository interface {
	// Save validates and stores def. A definition without an ID is created;
	// one with an ID replaces the stored version (last writer wins).
	Save(ctx context.Context, def *types.SegmentDefinition) (types.SegmentID, error)

	// Load returns the live definition with id.
	Load(ctx context.Context, workspace string, id types.SegmentID) (*types.SegmentDefinition, error)

	// List returns summaries ordered by UpdatedAt descending, then id.
	List(ctx context.Context, workspace string) ([]types.SegmentSummary, error)

	// Delete soft-deletes id. Its name becomes available again.
	Delete(ctx context.Context, workspace string, id types.SegmentID) error

	// UpdateEstimate caches a count snapshot without touching UpdatedAt.
	// The write only happens while the stored UpdatedAt still equals version,
	// the UpdatedAt of the definition the count was computed for; otherwise
	// it fails with a RepoConflict wrapping ErrStaleEstimate.
	UpdateEstimate(ctx context.Context, workspace string, id types.SegmentID, version time.Time, count int, at time.Time) error

	// Workspaces lists workspaces with at least one live segment.
	Workspaces(ctx context.Context) ([]string, error)
}

// ErrStaleEstimate reports that a segment was edited after the definition
// an estimate was computed for had been loaded.
var ErrStaleEstimate = errors.New("segment changed since the estimate was computed")

// Option configures a repository.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// prepare validates def and returns the copy that will be stored. Names are
// stored trimmed so uniqueness ignores surrounding whitespace.
func prepare(def *types.SegmentDefinition) (*types.SegmentDefinition, error) {
	if err := rules.ValidateDefinition(def); err != nil {
		return nil, err
	}
	out := def.Clone()
	out.Name = strings.TrimSpace(out.Name)
	if out.WorkspaceID == "" {
		out.WorkspaceID = DefaultWorkspace
	}
	out.AssignIDs()
	return out, nil
}

// stamp returns now at storage precision, strictly after prev.
func stamp(now func() time.Time, prev time.Time) time.Time {
	t := now().UTC().Truncate(time.Microsecond)
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

func conflict(id types.SegmentID, name string) error {
	return &types.RepositoryError{
		Kind:      types.RepoConflict,
		SegmentID: id,
		Err:       &nameTakenError{name: name},
	}
}

func staleEstimate(id types.SegmentID) error {
	return &types.RepositoryError{
		Kind:      types.RepoConflict,
		SegmentID: id,
		Err:       ErrStaleEstimate,
	}
}

type nameTakenError struct{ name string }

func (e *nameTakenError) Error() string {
	return fmt.Sprintf("name %q is already used in this workspace", e.name)
}

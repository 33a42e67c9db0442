package segments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/solatis/segmentkeeper/internal/types"
)

// MemoryRepository keeps definitions in process memory. Deleted segments
// are dropped outright, which is indistinguishable from a soft delete through
// the Repository contract.
type MemoryRepository struct {
	mu       sync.RWMutex
	segments map[string]map[types.SegmentID]*types.SegmentDefinition
	opts     options
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository(opts ...Option) *MemoryRepository {
	return &MemoryRepository{
		segments: make(map[string]map[types.SegmentID]*types.SegmentDefinition),
		opts:     buildOptions(opts),
	}
}

func (r *MemoryRepository) Save(_ context.Context, def *types.SegmentDefinition) (types.SegmentID, error) {
	stored, err := prepare(def)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ws := r.segments[stored.WorkspaceID]
	if ws == nil {
		ws = make(map[types.SegmentID]*types.SegmentDefinition)
		r.segments[stored.WorkspaceID] = ws
	}

	if stored.ID == "" {
		stored.ID = types.NewSegmentID()
		if r.nameTaken(ws, stored.ID, stored.Name) {
			return "", conflict(stored.ID, stored.Name)
		}
		stored.CreatedAt = stamp(r.opts.now, time.Time{})
		stored.UpdatedAt = stored.CreatedAt
		ws[stored.ID] = stored
		return stored.ID, nil
	}

	prev, ok := ws[stored.ID]
	if !ok {
		return "", types.NotFound(stored.ID)
	}
	if r.nameTaken(ws, stored.ID, stored.Name) {
		return "", conflict(stored.ID, stored.Name)
	}
	stored.CreatedAt = prev.CreatedAt
	stored.UpdatedAt = stamp(r.opts.now, prev.UpdatedAt)
	ws[stored.ID] = stored
	return stored.ID, nil
}

func (r *MemoryRepository) nameTaken(ws map[types.SegmentID]*types.SegmentDefinition, self types.SegmentID, name string) bool {
	for id, d := range ws {
		if id != self && d.Name == name {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) Load(_ context.Context, workspace string, id types.SegmentID) (*types.SegmentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.segments[workspace][id]
	if !ok {
		return nil, types.NotFound(id)
	}
	return d.Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, workspace string) ([]types.SegmentSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.SegmentSummary, 0, len(r.segments[workspace]))
	for _, d := range r.segments[workspace] {
		out = append(out, d.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (r *MemoryRepository) Delete(_ context.Context, workspace string, id types.SegmentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.segments[workspace][id]; !ok {
		return types.NotFound(id)
	}
	delete(r.segments[workspace], id)
	return nil
}

func (r *MemoryRepository) UpdateEstimate(_ context.Context, workspace string, id types.SegmentID, version time.Time, count int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.segments[workspace][id]
	if !ok {
		return types.NotFound(id)
	}
	if !d.UpdatedAt.Equal(version) {
		return staleEstimate(id)
	}
	d.SetEstimate(count, at.Truncate(time.Microsecond))
	return nil
}

func (r *MemoryRepository) Workspaces(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for w, ws := range r.segments {
		if len(ws) > 0 {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out, nil
}

func sortSummaries(s []types.SegmentSummary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].UpdatedAt.After(s[j].UpdatedAt)
		}
		return s[i].ID < s[j].ID
	})
}

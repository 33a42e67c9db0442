// Package contacts implements the contact stores segments are evaluated
// against: an in-memory store for tests and small deployments, and a SQL
// store that renders compiled expressions into parameterized queries.
package contacts

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

// ChunkSize is the number of contacts scanned between cancellation checks.
const ChunkSize = 1024

// MemoryStore holds contacts per workspace in id order.
// Reads take a shared lock so concurrent evaluations never block each other.
type MemoryStore struct {
	mu         sync.RWMutex
	workspaces map[string][]types.Contact
	index      map[string]map[string]int // workspace -> id -> position

	// MaxScan aborts a scan with types.ErrTimeout once this many contacts
	// have been visited; 0 means unlimited.
	MaxScan int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces: make(map[string][]types.Contact),
		index:      make(map[string]map[string]int),
	}
}

// Add inserts or replaces contacts by workspace and id. A batch containing a
// contact without an id is rejected as a whole.
func (s *MemoryStore) Add(contacts ...types.Contact) error {
	for i, c := range contacts {
		if c.ID == "" {
			return fmt.Errorf("contact %d: contact without id", i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]bool)
	for _, c := range contacts {
		idx, ok := s.index[c.WorkspaceID]
		if !ok {
			idx = make(map[string]int)
			s.index[c.WorkspaceID] = idx
		}
		if pos, exists := idx[c.ID]; exists {
			s.workspaces[c.WorkspaceID][pos] = cloneContact(c)
		} else {
			idx[c.ID] = len(s.workspaces[c.WorkspaceID])
			s.workspaces[c.WorkspaceID] = append(s.workspaces[c.WorkspaceID], cloneContact(c))
		}
		touched[c.WorkspaceID] = true
	}

	for w := range touched {
		ws := s.workspaces[w]
		sort.Slice(ws, func(i, j int) bool { return ws[i].ID < ws[j].ID })
		for i, c := range ws {
			s.index[w][c.ID] = i
		}
	}
	return nil
}

// Len returns the number of contacts in workspace.
func (s *MemoryStore) Len(workspace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workspaces[workspace])
}

// Count implements rules.ContactStore.
func (s *MemoryStore) Count(ctx context.Context, workspace string, expr *rules.Expr) (int, error) {
	n := 0
	err := s.scan(ctx, workspace, expr, func(types.Contact) bool {
		n++
		return true
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Sample implements rules.ContactStore. Members come back in id order.
func (s *MemoryStore) Sample(ctx context.Context, workspace string, expr *rules.Expr, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	var ids []string
	err := s.scan(ctx, workspace, expr, func(c types.Contact) bool {
		ids = append(ids, c.ID)
		return len(ids) < limit
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// scan calls fn for each matching contact until fn returns false.
func (s *MemoryStore) scan(ctx context.Context, workspace string, expr *rules.Expr, fn func(types.Contact) bool) error {
	if err := checkSupported(expr); err != nil {
		return err
	}
	match := rules.Predicate(expr)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ws := s.workspaces[workspace]
	for i, c := range ws {
		if i%ChunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if s.MaxScan > 0 && i >= s.MaxScan {
			return fmt.Errorf("%w: scanned %d contacts", types.ErrTimeout, s.MaxScan)
		}
		if match(c) && !fn(c) {
			return nil
		}
	}
	return nil
}

// checkSupported rejects comparisons the field table does not allow, so the
// memory store fails the same way the SQL store does.
func checkSupported(expr *rules.Expr) error {
	if expr == nil {
		return fmt.Errorf("%w: empty expression", types.ErrInvalidPredicate)
	}
	for _, cmp := range expr.Leaves() {
		if !rules.IsAllowed(cmp.Field, cmp.Operator) {
			return fmt.Errorf("%w: %s %s", types.ErrInvalidPredicate, cmp.Field, cmp.Operator)
		}
	}
	return nil
}

func cloneContact(c types.Contact) types.Contact {
	attrs := make(map[types.FieldKind]any, len(c.Attributes))
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	c.Attributes = attrs
	return c
}

package segments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/solatis/segmentkeeper/internal/core/db"
	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * SQL-backed segment repository.
 *
 * Statements are dotsql named queries (internal/core/db/queries/segments.sql).
 * Rule groups are stored as the JSON "filters" document; timestamps as
 * fixed-width UTC text (timestampFormat) so ORDER BY updated_at is time order
 * on every driver.
 *
 * Name uniqueness is enforced twice: a lookup before writing gives a clean
 * Conflict, and the partial unique index catches concurrent writers.
 */

const timestampFormat = "2006-01-02T15:04:05.000000Z"

// SQLRepository stores segments in the segments table.
type SQLRepository struct {
	q    *db.Queries
	opts options
}

// NewSQLRepository creates a repository over loaded queries.
func NewSQLRepository(q *db.Queries, opts ...Option) *SQLRepository {
	return &SQLRepository{q: q, opts: buildOptions(opts)}
}

type segmentRow struct {
	ID             string         `db:"segment_id"`
	WorkspaceID    string         `db:"workspace_id"`
	Name           string         `db:"name"`
	Description    string         `db:"description"`
	Filters        string         `db:"filters"`
	EstimatedCount sql.NullInt64  `db:"estimated_count"`
	EstimatedAt    sql.NullString `db:"estimated_at"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

func (r *SQLRepository) Save(ctx context.Context, def *types.SegmentDefinition) (types.SegmentID, error) {
	stored, err := prepare(def)
	if err != nil {
		return "", err
	}

	filters, err := json.Marshal(stored.Groups)
	if err != nil {
		return "", types.StorageFailure(stored.ID, fmt.Errorf("encode filters: %w", err))
	}

	if stored.ID == "" {
		return r.insert(ctx, stored, string(filters))
	}
	return r.update(ctx, stored, string(filters))
}

func (r *SQLRepository) insert(ctx context.Context, d *types.SegmentDefinition, filters string) (types.SegmentID, error) {
	d.ID = types.NewSegmentID()
	if err := r.checkName(ctx, d); err != nil {
		return "", err
	}

	now := stamp(r.opts.now, time.Time{})
	count, at := estimateColumns(d)
	_, err := r.q.ExecContext(ctx, "insert-segment",
		string(d.ID), d.WorkspaceID, d.Name, d.Description, filters,
		count, at, formatTime(now), formatTime(now))
	if err != nil {
		return "", writeError(d, err)
	}
	return d.ID, nil
}

func (r *SQLRepository) update(ctx context.Context, d *types.SegmentDefinition, filters string) (types.SegmentID, error) {
	var prev segmentRow
	if err := r.q.GetContext(ctx, "get-segment", &prev, string(d.ID), d.WorkspaceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", types.NotFound(d.ID)
		}
		return "", types.StorageFailure(d.ID, err)
	}
	if err := r.checkName(ctx, d); err != nil {
		return "", err
	}

	prevUpdated, err := parseTime(prev.UpdatedAt)
	if err != nil {
		return "", types.StorageFailure(d.ID, err)
	}
	count, at := estimateColumns(d)
	res, err := r.q.ExecContext(ctx, "update-segment",
		d.Name, d.Description, filters, count, at, formatTime(stamp(r.opts.now, prevUpdated)),
		string(d.ID), d.WorkspaceID)
	if err != nil {
		return "", writeError(d, err)
	}
	if err := expectRow(d.ID, res); err != nil {
		return "", err
	}
	return d.ID, nil
}

func (r *SQLRepository) checkName(ctx context.Context, d *types.SegmentDefinition) error {
	var owner string
	err := r.q.GetContext(ctx, "find-segment-by-name", &owner, d.WorkspaceID, d.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return types.StorageFailure(d.ID, err)
	case owner != string(d.ID):
		return conflict(d.ID, d.Name)
	default:
		return nil
	}
}

func (r *SQLRepository) Load(ctx context.Context, workspace string, id types.SegmentID) (*types.SegmentDefinition, error) {
	var row segmentRow
	if err := r.q.GetContext(ctx, "get-segment", &row, string(id), workspace); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NotFound(id)
		}
		return nil, types.StorageFailure(id, err)
	}
	d, err := row.definition()
	if err != nil {
		return nil, types.StorageFailure(id, err)
	}
	return d, nil
}

func (r *SQLRepository) List(ctx context.Context, workspace string) ([]types.SegmentSummary, error) {
	var rows []segmentRow
	if err := r.q.SelectContext(ctx, "list-segments", &rows, workspace); err != nil {
		return nil, types.StorageFailure("", err)
	}

	out := make([]types.SegmentSummary, 0, len(rows))
	for _, row := range rows {
		d, err := row.definition()
		if err != nil {
			return nil, types.StorageFailure(types.SegmentID(row.ID), err)
		}
		out = append(out, d.Summary())
	}
	// Text ordering matches time ordering; re-sort only to pin the id tiebreak
	sortSummaries(out)
	return out, nil
}

func (r *SQLRepository) Delete(ctx context.Context, workspace string, id types.SegmentID) error {
	now := r.opts.now().UTC()
	res, err := r.q.ExecContext(ctx, "soft-delete-segment", formatTime(now), string(id), workspace)
	if err != nil {
		return types.StorageFailure(id, err)
	}
	return expectRow(id, res)
}

func (r *SQLRepository) UpdateEstimate(ctx context.Context, workspace string, id types.SegmentID, version time.Time, count int, at time.Time) error {
	res, err := r.q.ExecContext(ctx, "update-segment-estimate",
		count, formatTime(at), string(id), workspace, formatTime(version))
	if err != nil {
		return types.StorageFailure(id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.StorageFailure(id, err)
	}
	if n > 0 {
		return nil
	}

	// No row matched: either the segment is gone or it was edited
	var row segmentRow
	if err := r.q.GetContext(ctx, "get-segment", &row, string(id), workspace); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.NotFound(id)
		}
		return types.StorageFailure(id, err)
	}
	return staleEstimate(id)
}

func (r *SQLRepository) Workspaces(ctx context.Context) ([]string, error) {
	var out []string
	if err := r.q.SelectContext(ctx, "list-segment-workspaces", &out); err != nil {
		return nil, types.StorageFailure("", err)
	}
	return out, nil
}

func (row segmentRow) definition() (*types.SegmentDefinition, error) {
	d := &types.SegmentDefinition{
		ID:          types.SegmentID(row.ID),
		WorkspaceID: row.WorkspaceID,
		Name:        row.Name,
		Description: row.Description,
	}
	if err := json.Unmarshal([]byte(row.Filters), &d.Groups); err != nil {
		return nil, fmt.Errorf("decode filters: %w", err)
	}

	var err error
	if d.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return nil, err
	}
	if row.EstimatedCount.Valid && row.EstimatedAt.Valid {
		at, err := parseTime(row.EstimatedAt.String)
		if err != nil {
			return nil, err
		}
		d.SetEstimate(int(row.EstimatedCount.Int64), at)
	}
	return d, nil
}

func estimateColumns(d *types.SegmentDefinition) (count, at any) {
	if d.EstimatedCount == nil || d.EstimatedAt == nil {
		return nil, nil
	}
	return *d.EstimatedCount, formatTime(*d.EstimatedAt)
}

func expectRow(id types.SegmentID, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return types.StorageFailure(id, err)
	}
	if n == 0 {
		return types.NotFound(id)
	}
	return nil
}

func writeError(d *types.SegmentDefinition, err error) error {
	if isUniqueViolation(err) {
		return conflict(d.ID, d.Name)
	}
	return types.StorageFailure(d.ID, err)
}

// isUniqueViolation recognizes unique index failures of both drivers.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timestampFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

// SQLStore evaluates compiled expressions against the contacts table.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open, migrated connection.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Count implements rules.ContactStore.
func (s *SQLStore) Count(ctx context.Context, workspace string, expr *rules.Expr) (int, error) {
	where, args, err := Translate(expr, s.db.DriverName())
	if err != nil {
		return 0, err
	}

	query := s.db.Rebind("SELECT COUNT(*) FROM contacts WHERE workspace_id = ? AND " + where)
	var n int
	if err := s.db.GetContext(ctx, &n, query, append([]any{workspace}, args...)...); err != nil {
		return 0, storeError(ctx, err)
	}
	return n, nil
}

// Sample implements rules.ContactStore. Members come back in id order.
func (s *SQLStore) Sample(ctx context.Context, workspace string, expr *rules.Expr, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	where, args, err := Translate(expr, s.db.DriverName())
	if err != nil {
		return nil, err
	}

	query := s.db.Rebind("SELECT contact_id FROM contacts WHERE workspace_id = ? AND " + where +
		" ORDER BY contact_id LIMIT ?")
	args = append([]any{workspace}, args...)
	args = append(args, limit)

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, storeError(ctx, err)
	}
	return ids, nil
}

const upsertContact = `
INSERT INTO contacts (contact_id, workspace_id, platform, location, engagement, last_activity, signup_date, email_consent, sms_consent, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (workspace_id, contact_id) DO UPDATE SET
    platform = excluded.platform,
    location = excluded.location,
    engagement = excluded.engagement,
    last_activity = excluded.last_activity,
    signup_date = excluded.signup_date,
    email_consent = excluded.email_consent,
    sms_consent = excluded.sms_consent,
    updated_at = excluded.updated_at`

// Upsert writes contacts in one transaction. A contact is identified by its
// workspace and id, so the same id may exist in several workspaces.
func (s *SQLStore) Upsert(ctx context.Context, contacts ...types.Contact) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeError(ctx, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(upsertContact))
	if err != nil {
		return storeError(ctx, err)
	}
	defer stmt.Close()

	driver := s.db.DriverName()
	now := time.Now()
	for _, c := range contacts {
		if c.ID == "" {
			return fmt.Errorf("contact without id")
		}
		_, err := stmt.ExecContext(ctx,
			c.ID, c.WorkspaceID,
			textColumn(c, types.FieldPlatform),
			textColumn(c, types.FieldLocation),
			numericColumn(c, types.FieldEngagement),
			timeColumn(c, types.FieldLastActivity, driver),
			timeColumn(c, types.FieldSignupDate, driver),
			boolColumn(c, types.FieldEmailConsent),
			boolColumn(c, types.FieldSMSConsent),
			timeArg(now, driver),
		)
		if err != nil {
			return storeError(ctx, fmt.Errorf("contact %s: %w", c.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError(ctx, err)
	}
	return nil
}

// storeError keeps context errors recognizable and marks everything else
// as a store outage.
func storeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
}

func textColumn(c types.Contact, f types.FieldKind) any {
	if v, ok := c.Attribute(f); ok {
		if s, isText := v.(string); isText {
			return s
		}
	}
	return nil
}

func numericColumn(c types.Contact, f types.FieldKind) any {
	if v, ok := c.Attribute(f); ok {
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return nil
}

func timeColumn(c types.Contact, f types.FieldKind, driver string) any {
	if v, ok := c.Attribute(f); ok {
		if t, isTime := v.(time.Time); isTime {
			return timeArg(t, driver)
		}
	}
	return nil
}

func boolColumn(c types.Contact, f types.FieldKind) any {
	if v, ok := c.Attribute(f); ok {
		if b, isBool := v.(bool); isBool {
			return b
		}
	}
	return nil
}

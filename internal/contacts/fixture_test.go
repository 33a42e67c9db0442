package contacts

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/solatis/segmentkeeper/internal/core/db"
	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

const testWorkspace = "acme"

var fixtureNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fixtureContacts builds 1000 contacts:
//   - 0..119 are TikTok; 0..39 have engagement > 50, contact 40 has exactly 50
//   - 30..39 and 200..219 are in Berlin (30 total, 10 overlapping the TikTok/engagement set)
//   - odd contacts from 120 on have no location
//   - last_activity is i%60 days before fixtureNow
func fixtureContacts() []types.Contact {
	platforms := []string{"Instagram", "Facebook", "YouTube"}
	out := make([]types.Contact, 0, 1000)
	for i := 0; i < 1000; i++ {
		attrs := map[types.FieldKind]any{
			types.FieldLastActivity: fixtureNow.Add(-time.Duration(i%60) * 24 * time.Hour),
			types.FieldSignupDate:   time.Date(2024, time.Month(i%12+1), 1, 0, 0, 0, 0, time.UTC),
			types.FieldEmailConsent: i%2 == 0,
		}
		if i%5 != 0 {
			attrs[types.FieldSMSConsent] = i%3 == 0
		}

		switch {
		case i < 40:
			attrs[types.FieldPlatform] = "TikTok"
			attrs[types.FieldEngagement] = float64(51 + i)
		case i < 120:
			attrs[types.FieldPlatform] = "TikTok"
			attrs[types.FieldEngagement] = float64(i % 50)
			if i == 40 {
				attrs[types.FieldEngagement] = 50.0
			}
		default:
			attrs[types.FieldPlatform] = platforms[i%len(platforms)]
			attrs[types.FieldEngagement] = float64(i % 100)
		}

		switch {
		case (i >= 30 && i < 40) || (i >= 200 && i < 220):
			attrs[types.FieldLocation] = "Berlin, DE"
		case i < 120 || i%2 == 0:
			attrs[types.FieldLocation] = "Paris, FR"
		}

		out = append(out, types.Contact{
			ID:          fmt.Sprintf("c-%04d", i),
			WorkspaceID: testWorkspace,
			Attributes:  attrs,
		})
	}
	return out
}

func newFixtureMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	if err := s.Add(fixtureContacts()...); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return s
}

func newFixtureSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	conn, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "contacts.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := db.MigrateUp(ctx, conn); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	s := NewSQLStore(conn)
	if err := s.Upsert(ctx, fixtureContacts()...); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return s
}

func rule(field types.FieldKind, op types.OperatorKind, value string) types.Rule {
	return types.Rule{ID: types.NewRuleID(), Field: field, Operator: op, Value: value}
}

func group(rs ...types.Rule) types.RuleGroup {
	return types.RuleGroup{ID: types.NewGroupID(), Rules: rs}
}

func compileGroups(t *testing.T, groups ...types.RuleGroup) *rules.Expr {
	t.Helper()
	expr, err := rules.CompileGroups(groups, fixtureNow)
	if err != nil {
		t.Fatalf("CompileGroups() error = %v", err)
	}
	return expr
}

func definition(groups ...types.RuleGroup) *types.SegmentDefinition {
	return &types.SegmentDefinition{
		ID:          types.NewSegmentID(),
		WorkspaceID: testWorkspace,
		Name:        "fixture",
		Groups:      groups,
	}
}

// tiktokEngaged is the 40-contact group used by the scenarios.
func tiktokEngaged() types.RuleGroup {
	return group(
		rule(types.FieldPlatform, types.OpIs, "TikTok"),
		rule(types.FieldEngagement, types.OpGreaterThan, "50"),
	)
}

// berlin is the 30-contact group that overlaps tiktokEngaged by 10.
func berlin() types.RuleGroup {
	return group(rule(types.FieldLocation, types.OpContains, "berlin"))
}

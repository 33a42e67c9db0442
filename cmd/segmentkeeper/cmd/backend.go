package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/solatis/segmentkeeper/internal/contacts"
	"github.com/solatis/segmentkeeper/internal/core/config"
	"github.com/solatis/segmentkeeper/internal/core/db"
	"github.com/solatis/segmentkeeper/internal/core/metrics"
	"github.com/solatis/segmentkeeper/internal/rules"
)

// openDatabase opens the configured database and refuses to continue while
// migrations are pending.
func openDatabase(ctx context.Context, cfg *config.ServiceConfig) (*sqlx.DB, error) {
	if err := requireDatabaseURL(cfg); err != nil {
		return nil, err
	}
	database, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			database.Close()
			return nil, fmt.Errorf("migration %s not applied - run 'segmentkeeper migrate up' first", s.ID)
		}
	}
	return database, nil
}

// openContacts builds the configured contact store. The memory backend is
// seeded from contacts.file when set.
func openContacts(cfg *config.ServiceConfig, database *sqlx.DB, logger *zap.Logger) (rules.ContactStore, error) {
	switch cfg.Contacts.Backend {
	case config.ContactsMemory:
		store := contacts.NewMemoryStore()
		if cfg.Contacts.File == "" {
			logger.Warn("memory contact store has no seed file; every segment will count 0")
			return store, nil
		}
		f, err := os.Open(cfg.Contacts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open contacts file: %w", err)
		}
		defer f.Close()
		records, err := contacts.ReadRecords(f, cfg.SegmentAPI.DefaultWorkspace)
		if err != nil {
			return nil, fmt.Errorf("failed to read contacts file: %w", err)
		}
		if err := store.Add(records...); err != nil {
			return nil, fmt.Errorf("failed to load contacts: %w", err)
		}
		logger.Info("contacts loaded into memory",
			zap.String("file", cfg.Contacts.File),
			zap.Int("contacts", len(records)))
		return store, nil
	default:
		if database == nil {
			return nil, fmt.Errorf("sql contact store requires a database")
		}
		return contacts.NewSQLStore(database), nil
	}
}

func newEngine(cfg *config.ServiceConfig, store rules.ContactStore, logger *zap.Logger, collector *metrics.Collector) *rules.Engine {
	return rules.NewEngine(store,
		rules.WithSampleSize(cfg.Evaluator.SampleSize),
		rules.WithTimeout(cfg.Evaluator.Timeout),
		rules.WithRetryDelay(cfg.Evaluator.RetryBackoff),
		rules.WithLogger(logger.Named("evaluator")),
		rules.WithMetrics(collector),
	)
}

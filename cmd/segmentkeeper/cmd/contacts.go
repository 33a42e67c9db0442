package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/segmentkeeper/internal/contacts"
)

// importBatchSize bounds the contacts written per transaction.
const importBatchSize = 500

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage the SQL contact store",
}

var contactsImportCmd = &cobra.Command{
	Use:   "import <contacts.jsonl>",
	Short: "Upsert contacts from a JSON lines file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open contacts file: %w", err)
		}
		defer f.Close()

		workspace, _ := cmd.Flags().GetString("workspace")
		if workspace == "" {
			workspace = cfg.SegmentAPI.DefaultWorkspace
		}
		records, err := contacts.ReadRecords(f, workspace)
		if err != nil {
			return err
		}

		database, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		store := contacts.NewSQLStore(database)
		for start := 0; start < len(records); start += importBatchSize {
			end := min(start+importBatchSize, len(records))
			if err := store.Upsert(ctx, records[start:end]...); err != nil {
				return fmt.Errorf("failed to import contacts %d-%d: %w", start, end, err)
			}
		}
		logger.Info("contacts imported", zap.String("file", args[0]), zap.Int("contacts", len(records)))
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d contacts\n", len(records))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(contactsCmd)
	contactsCmd.AddCommand(contactsImportCmd)
	contactsImportCmd.Flags().String("workspace", "", "workspace for records without one (defaults to segment_api.default_workspace)")
}

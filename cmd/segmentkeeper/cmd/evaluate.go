package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/segmentkeeper/internal/core/config"
	"github.com/solatis/segmentkeeper/internal/types"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <definition.json>",
	Short: "Count the contacts matching a segment definition file",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().String("workspace", "", "workspace to evaluate in (defaults to the definition's, then the configured default)")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
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

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read definition: %w", err)
	}
	var def types.SegmentDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return fmt.Errorf("failed to parse definition: %w", err)
	}
	if ws, _ := cmd.Flags().GetString("workspace"); ws != "" {
		def.WorkspaceID = ws
	}
	if def.WorkspaceID == "" {
		def.WorkspaceID = cfg.SegmentAPI.DefaultWorkspace
	}

	var database *sqlx.DB
	if cfg.Contacts.Backend == config.ContactsSQL {
		database, err = openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer database.Close()
	}

	store, err := openContacts(cfg, database, logger)
	if err != nil {
		return err
	}
	result, err := newEngine(cfg, store, logger, nil).Evaluate(ctx, &def)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

package commands

import (
	"database/sql"
	"fmt"

	"examprep/internal/observability"
	"examprep/internal/services"

	"github.com/spf13/cobra"
)

// DatabaseCommands returns the database management commands
func DatabaseCommands(hintService services.GenerationHintServiceInterface, logger *observability.Logger, db *sql.DB) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands.

Available commands:
  stats        - Show database statistics
  prune-hints  - Remove expired generation hints`,
	}

	dbCmd.AddCommand(statsCmd(logger, db))
	dbCmd.AddCommand(pruneHintsCmd(hintService, logger))

	return dbCmd
}

func statsCmd(logger *observability.Logger, db *sql.DB) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Long:  `Show row counts for learners, items, attempts, calibrations, and hints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			logger.Info(ctx, "Showing database statistics", map[string]interface{}{"database": getDatabaseInfo(db)})

			counts := []struct {
				label string
				query string
			}{
				{"learners", "SELECT COUNT(*) FROM learners"},
				{"items", "SELECT COUNT(*) FROM items"},
				{"active items", "SELECT COUNT(*) FROM items WHERE status = 'active'"},
				{"attempts", "SELECT COUNT(*) FROM attempts"},
				{"calibrated items", "SELECT COUNT(*) FROM calibration_records"},
				{"flagged items", "SELECT COUNT(*) FROM calibration_records WHERE flagged_critical"},
				{"generation hints", "SELECT COUNT(*) FROM generation_hints"},
				{"expired hints", "SELECT COUNT(*) FROM generation_hints WHERE expires_at <= NOW()"},
			}

			for _, c := range counts {
				var n int
				if err := db.QueryRowContext(ctx, c.query).Scan(&n); err != nil {
					return err
				}
				fmt.Printf("%-18s %d\n", c.label+":", n)
			}
			return nil
		},
	}
}

func pruneHintsCmd(hintService services.GenerationHintServiceInterface, logger *observability.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "prune-hints",
		Short: "Remove expired generation hints",
		Long:  `Delete generation hints whose TTL has elapsed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			pruned, err := hintService.PruneExpired(ctx)
			if err != nil {
				logger.Error(ctx, "Hint pruning failed", err, nil)
				return err
			}

			fmt.Printf("Pruned %d expired hints\n", pruned)
			return nil
		},
	}
}

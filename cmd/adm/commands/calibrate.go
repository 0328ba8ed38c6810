// Package commands provides CLI commands for the admin tool
package commands

import (
	"context"
	"fmt"

	"examprep/internal/config"
	"examprep/internal/observability"
	"examprep/internal/services"

	"github.com/spf13/cobra"
)

// CalibrationCommands returns the item calibration commands
func CalibrationCommands(calibrationService services.CalibrationServiceInterface, logger *observability.Logger) *cobra.Command {
	calibrateCmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Item calibration commands",
		Long: `Item calibration commands.

Available commands:
  item   - Calibrate a single item by ID
  batch  - Calibrate all items with enough pooled responses`,
	}

	calibrateCmd.AddCommand(calibrateItemCmd(calibrationService, logger))
	calibrateCmd.AddCommand(calibrateBatchCmd(calibrationService, logger))

	return calibrateCmd
}

func calibrateItemCmd(calibrationService services.CalibrationServiceInterface, logger *observability.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "item [item-id]",
		Short: "Calibrate a single item",
		Long:  `Recompute difficulty, discrimination, and distractor analysis for one item from its pooled responses.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), config.CLICalibrateTimeout)
			defer cancel()

			itemID, err := parsePositiveInt(args[0])
			if err != nil {
				return err
			}

			record, err := calibrationService.CalibrateItem(ctx, itemID)
			if err != nil {
				logger.Error(ctx, "Calibration failed", err, map[string]interface{}{"item_id": itemID})
				return err
			}

			fmt.Printf("Item %d calibrated\n", record.ItemID)
			fmt.Printf("  difficulty:      %s (p=%.3f)\n", record.DifficultyLevel, record.PValue)
			fmt.Printf("  discrimination:  %.3f\n", record.DiscriminationIndex)
			fmt.Printf("  responses:       %d\n", record.ResponseCount)
			fmt.Printf("  95%% CI:          [%.3f, %.3f]\n", record.CILow, record.CIHigh)
			if record.LowDiscrimination || record.FlaggedCritical {
				fmt.Printf("  flags:           low_discrimination=%t critical=%t\n", record.LowDiscrimination, record.FlaggedCritical)
			}
			return nil
		},
	}
}

func calibrateBatchCmd(calibrationService services.CalibrationServiceInterface, logger *observability.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "batch",
		Short: "Calibrate all items past the response threshold",
		Long:  `Discover items whose pooled response count crosses the calibration threshold and recalibrate them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), config.CLICalibrateTimeout)
			defer cancel()

			records, err := calibrationService.CalibrateBatch(ctx, nil)
			if err != nil {
				logger.Error(ctx, "Batch calibration failed", err, nil)
				return err
			}

			fmt.Printf("Calibrated %d items\n", len(records))
			for _, record := range records {
				fmt.Printf("  item %d: %s (p=%.3f, D=%.3f, n=%d)\n",
					record.ItemID, record.DifficultyLevel, record.PValue,
					record.DiscriminationIndex, record.ResponseCount)
			}
			return nil
		},
	}
}

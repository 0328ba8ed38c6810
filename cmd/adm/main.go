// Package main provides the main entry point for the engine admin CLI tool.
package main

import (
	"context"
	"fmt"
	"os"

	"examprep/cmd/adm/commands"
	"examprep/internal/config"
	"examprep/internal/database"
	"examprep/internal/observability"
	"examprep/internal/services"

	"github.com/spf13/cobra"
)

func main() {
	ctx := context.Background()

	// Set default config file if not already set
	if os.Getenv("EXAMPREP_CONFIG_FILE") == "" {
		// Try to find the config file in common locations
		defaultPaths := []string{
			"../config.yaml",    // From cmd/adm/
			"../../config.yaml", // From cmd/adm/ (alternative)
			"config.yaml",       // Current directory
		}

		for _, path := range defaultPaths {
			if _, err := os.Stat(path); err == nil {
				if err := os.Setenv("EXAMPREP_CONFIG_FILE", path); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to set EXAMPREP_CONFIG_FILE environment variable: %v\n", err)
					os.Exit(1)
				}
				break
			}
		}
	}

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Quiet the admin tool: errors only, no telemetry export
	cfg.Server.LogLevel = "error"
	cfg.OpenTelemetry.EnableTracing = false
	cfg.OpenTelemetry.EnableMetrics = false
	cfg.OpenTelemetry.EnableLogging = false

	_, _, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "examprep-admin")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}

	// Initialize database connection (no migrations for admin tool)
	dbManager := database.NewManager(logger)
	db, err := dbManager.InitDBWithoutMigrations(cfg.Database)
	if err != nil {
		logger.Error(ctx, "Failed to connect to database", err, map[string]interface{}{"db_url": maskDatabaseURL(cfg.Database.URL)})
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn(ctx, "Warning: failed to close database connection", map[string]interface{}{"error": err.Error()})
		}
	}()

	// Initialize services
	itemStore := services.NewItemStore(db, cfg, logger)
	responseLedger := services.NewResponseLedger(db, cfg, logger)
	masteryService := services.NewMasteryServiceWithLogger(responseLedger, itemStore, cfg, logger)
	calibrationService := services.NewCalibrationServiceWithLogger(responseLedger, itemStore, cfg, logger)
	hintService := services.NewGenerationHintServiceWithLogger(db, masteryService, cfg, logger)

	// Create the root command
	rootCmd := &cobra.Command{
		Use:   "adm",
		Short: "Exam Prep Engine Administration Tool",
		Long: `Exam Prep Engine Administration Tool

A CLI tool for administering the selection and calibration engine.
Provides commands for item calibration, hint maintenance, and database inspection.`,

		Run: func(cmd *cobra.Command, _ []string) {
			// Show help if no subcommand provided
			if err := cmd.Help(); err != nil {
				fmt.Printf("Error showing help: %v\n", err)
			}
		},
	}

	rootCmd.AddCommand(commands.CalibrationCommands(calibrationService, logger))
	rootCmd.AddCommand(commands.DatabaseCommands(hintService, logger, db))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// maskDatabaseURL masks credentials in the database URL for display
func maskDatabaseURL(url string) string {
	for i := 0; i < len(url); i++ {
		if url[i] == '@' {
			return "postgres://***:***@" + url[i+1:]
		}
	}
	return url
}

// Package cli is the aegishub command line interface.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/app"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/config"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/version"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "aegishub",
	Short: "Aegis Hub emergency-response coordination service",
	Long:  `aegishub runs the incident intake, triage, assignment and dispatch service.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, dispatch workers and background sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger := app.NewLogger(cfg.LogLevel)

		a, err := app.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		if cfg.StoreKind == "memory" {
			if err := app.SeedDemoFleet(cmd.Context(), a.Store); err != nil {
				return fmt.Errorf("seed demo fleet: %w", err)
			}
			logger.Info().Msg("demo fleet seeded")
		}
		return a.Run(cmd.Context())
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute workload counters once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := app.NewLogger(cfg.LogLevel)

		a, err := app.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Store.Close()

		discrepancies, err := a.Ledger.Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		for _, d := range discrepancies {
			fmt.Printf("%s %s: %d -> %d\n", d.EntityKind, d.EntityID, d.Recorded, d.Actual)
		}
		fmt.Printf("%d counter(s) corrected\n", len(discrepancies))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aegishub %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

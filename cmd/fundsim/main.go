// Package main is the entry point for fundsim, the fund portfolio rebalancing simulator.
//
// The binary serves the HTTP API with its scheduled ranking analysis, and
// exposes one-shot commands for simulating, ranking, resetting and seeding
// portfolios against the same fund database.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/di"
	"github.com/aristath/fundsim/pkg/logger"
)

// app is what every command needs once configuration is loaded
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	container *di.Container
	jobs      *di.JobInstances
}

func (a *app) Close() {
	if err := a.container.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close fund database")
	}
}

var logLevel string

// bootstrap loads configuration, builds the logger and wires the container
func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})
	logger.SetGlobalLogger(log)

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to wire dependencies: %w", err)
	}
	return &app{cfg: cfg, log: log, container: container, jobs: jobs}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fundsim",
		Short: "Fund portfolio rebalancing simulator",
		Long: `fundsim simulates weekly rebalancing of client portfolios under the
LowRisk, MediumRisk and HighRisk strategies and ranks portfolios and managers
by performance.

Configuration comes from the environment (FUNDSIM_*), optionally through a .env file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(),
		newSimulateCmd(),
		newRankCmd(),
		newResetCmd(),
		newImportCmd(),
		newOnboardCmd(),
		newBackupCmd(),
	)
	return root
}

// dateFlag parses a YYYY-MM-DD flag value, falling back to def when empty
func dateFlag(name, value string, def time.Time) (time.Time, error) {
	if value == "" {
		return def, nil
	}
	t, err := config.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q, expected YYYY-MM-DD", name, value)
	}
	return t, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

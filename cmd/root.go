package cmd

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/board-sim/board-sim/sim"
	"github.com/board-sim/board-sim/sim/sampling"
	"github.com/board-sim/board-sim/sim/store"
	"github.com/board-sim/board-sim/sim/strategy"
)

var (
	// Flags shared by every command
	logLevel string // Log verbosity level
	dbDriver string // Store driver (sqlite, postgres)
	dbDSN    string // Store data source name
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "board-sim",
	Short: "Monte Carlo simulator for team bingo boards",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// registries builds the strategy and time registries every command shares.
func registries() (*sim.StrategyRegistry, *sampling.TimeRegistry) {
	return strategy.NewDefaultRegistry(), sampling.NewTimeRegistry()
}

// openStore opens the store named by the --db-driver and --db-dsn flags.
func openStore(ctx context.Context) *store.Store {
	st, err := store.Open(ctx, dbDriver, dbDSN)
	if err != nil {
		logrus.Fatalf("Could not open %s store: %v", dbDriver, err)
	}
	return st
}

// loadEvent reads and validates an event file.
func loadEvent(path string) *sim.EventFile {
	if path == "" {
		logrus.Fatalf("Event file not provided. Use --event.")
	}
	ev, err := sim.LoadEventFile(path)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	strategies, times := registries()
	if err := ev.Validate(strategies, times); err != nil {
		logrus.Fatalf("Invalid event file %s: %v", path, err)
	}
	return ev
}

// init sets up CLI flags shared by every subcommand
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", store.DriverSQLite, "Store driver (sqlite, postgres)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db-dsn", "boardsim.db", "Store data source name (sqlite path or postgres DSN)")
}

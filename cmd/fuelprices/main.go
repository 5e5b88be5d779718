// Package main provides the entry point for the fuel price aggregator CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuelprices/internal/config"
	"github.com/andygrunwald/fuelprices/internal/fuelprices"
	"github.com/andygrunwald/fuelprices/internal/geocode"
)

var (
	// Version is set at build time.
	Version = "dev"
	// Commit is set at build time.
	Commit = "none"
	// BuildDate is set at build time.
	BuildDate = "unknown"
)

var cfg = config.DefaultConfig()

// globalFlags are applied on top of the config file and environment.
var globalFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	httpAddr    string
	postgresDSN string
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "fuelprices",
		Short: "Fuel Prices - Find the cheapest fuel around you",
		Long: `Fuel Prices aggregates fuel station prices from several public
upstreams (UK CMA open data retailers, DirectLease, Tankerkoenig) into one
in-memory cache and answers "which stations near this point sell this fuel,
cheapest first".

Features:
  - Country based provider selection with reverse geocoding
  - Scheduled cache refresh with a bounded number of concurrent updates
  - Optional PostgreSQL price history
  - Prometheus metrics and status endpoint`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&globalFlags.configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.logLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.logFormat, "log-format", cfg.LogFormat, "Log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.httpAddr, "http-addr", cfg.HTTPAddr, "HTTP server address for /metrics, /status and the query API")
	rootCmd.PersistentFlags().StringVar(&globalFlags.postgresDSN, "postgres-dsn", "", "PostgreSQL connection string for the price history")

	// Add subcommands
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, the environment and explicit
// flags, in that order.
func loadConfig(cmd *cobra.Command, args []string) error {
	if globalFlags.configPath != "" {
		if err := cfg.LoadFile(globalFlags.configPath); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = globalFlags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = globalFlags.logFormat
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = globalFlags.httpAddr
	}
	if flags.Changed("postgres-dsn") {
		cfg.PostgresDSN = globalFlags.postgresDSN
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setupLogger() zerolog.Logger {
	var logger zerolog.Logger

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set log format
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Logger()
	}

	return logger
}

// newFuelPrices builds the geocoder and the orchestrator with every
// configured provider.
func newFuelPrices(logger zerolog.Logger) (*fuelprices.FuelPrices, *geocode.Gateway, error) {
	geocoder := geocode.New(
		fmt.Sprintf("fuelprices/%s", Version),
		logger,
		geocode.WithBaseURL(cfg.GeocodeURL),
		geocode.WithTimeout(cfg.Timeout()),
	)

	fp, err := fuelprices.Create(fuelprices.Options{
		Areas:          cfg.Areas,
		Providers:      cfg.EnabledProviders(),
		CountryCode:    cfg.CountryCode,
		UpdateInterval: cfg.UpdateInterval(),
		Timeout:        cfg.Timeout(),
		Concurrency:    int64(cfg.Concurrency),
		Geocoder:       geocoder,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating fuel prices: %w", err)
	}
	return fp, geocoder, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuelprices/internal/database"
	"github.com/andygrunwald/fuelprices/internal/http"
	"github.com/andygrunwald/fuelprices/internal/scheduler"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the fuel price service",
		Long: `Starts the HTTP query API together with an internal scheduler that asks
every provider to refresh its cache once it is due.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			fp, geocoder, err := newFuelPrices(logger)
			if err != nil {
				return err
			}

			providerNames := make([]string, 0)
			for _, p := range fp.GetProviders() {
				providerNames = append(providerNames, p.Name())
			}

			logger.Info().
				Str("version", Version).
				Str("commit", Commit).
				Str("buildDate", BuildDate).
				Str("httpAddr", cfg.HTTPAddr).
				Dur("updateInterval", cfg.UpdateInterval()).
				Dur("scheduleTick", cfg.ScheduleTick).
				Strs("providers", providerNames).
				Msg("starting fuel price service")

			// Connect to the price history database when configured
			var history http.HistoryStatus
			if cfg.PostgresDSN != "" {
				db, err := database.New(cfg.PostgresDSN, logger)
				if err != nil {
					return fmt.Errorf("connecting to database: %w", err)
				}
				defer db.Close()

				if err := db.EnsureSchema(cmd.Context()); err != nil {
					return fmt.Errorf("ensuring database schema: %w", err)
				}
				fp.SetHistoryStore(db)
				history = db
			}

			// Create scheduler
			sched := scheduler.New(fp, cfg.ScheduleTick, logger)

			// Create HTTP server
			httpServer := http.NewServer(cfg.HTTPAddr, fp, sched, history, logger)

			// Wire Prometheus metrics
			fp.SetPrometheusMetrics(httpServer.Metrics())
			geocoder.SetMetrics(httpServer.Metrics())

			// Setup signal handling
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			// Start HTTP server in goroutine
			go func() {
				if err := httpServer.Start(); err != nil {
					logger.Error().Err(err).Msg("HTTP server error")
					cancel()
				}
			}()

			// Start scheduler in goroutine
			go func() {
				if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("scheduler error")
					cancel()
				}
			}()

			// Wait for signal
			select {
			case sig := <-sigCh:
				logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
			case <-ctx.Done():
			}
			cancel()

			// Graceful shutdown
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("HTTP server shutdown error")
			}

			logger.Info().Msg("shutdown complete")
			return nil
		},
	}

	return cmd
}

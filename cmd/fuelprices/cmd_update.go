package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuelprices/internal/database"
	"github.com/andygrunwald/fuelprices/internal/fuelprices"
)

func updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Run a one-time forced update",
		Long: `Forces every configured provider to refresh its cache once and prints the
number of cached locations per provider. Useful for testing provider
configuration. With --postgres-dsn the fetched prices are stored as history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			fp, _, err := newFuelPrices(logger)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if cfg.PostgresDSN != "" {
				db, err := database.New(cfg.PostgresDSN, logger)
				if err != nil {
					return fmt.Errorf("connecting to database: %w", err)
				}
				defer db.Close()

				if err := db.EnsureSchema(ctx); err != nil {
					return fmt.Errorf("ensuring database schema: %w", err)
				}
				fp.SetHistoryStore(db)
			}

			logger.Info().Int("providers", len(fp.GetProviders())).Msg("running forced update")
			updateErr := fp.Update(ctx, true)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tLOCATIONS\tSTATUS")
			for _, p := range fp.GetProviders() {
				status := "ok"
				if m := fp.GetMetrics(p.Name()); m != nil {
					if snap := m.GetSnapshot(); snap.LastError != nil {
						status = *snap.LastError
					}
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", p.Name(), fp.CachedLocations(p.Name()), status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			var ue *fuelprices.UpdateError
			if errors.As(updateErr, &ue) {
				for name, status := range ue.Failed {
					logger.Error().Str("provider", name).Int("status", status).Msg("provider update failed")
				}
			}
			if updateErr != nil {
				return fmt.Errorf("updating: %w", updateErr)
			}

			logger.Info().Msg("update completed")
			return nil
		},
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuelprices/internal/fuelprices"
	"github.com/andygrunwald/fuelprices/internal/models"
)

func searchCmd() *cobra.Command {
	var lat, lng, radius float64
	var provider, fuelType string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search fuel locations around a point",
		Long: `Updates the configured providers once and prints the locations within
--radius miles of the point as JSON. With --fuel only locations selling that
fuel are printed, cheapest first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			if radius <= 0 {
				return fmt.Errorf("--radius must be positive")
			}

			fp, _, err := newFuelPrices(logger)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if err := fp.Update(ctx, false); err != nil {
				logger.Warn().Err(err).Msg("some providers failed to update")
			}

			point := models.Coordinates{Latitude: lat, Longitude: lng}
			var result any
			if fuelType != "" {
				result, err = fp.FindFuelFromPoint(ctx, point, radius, fuelType, provider)
			} else {
				result, err = locationViews(fp.FindFuelLocationsFromPoint(ctx, point, radius, provider))
			}
			if errors.Is(err, fuelprices.ErrUnmappedRegion) {
				return fmt.Errorf("no provider covers %v,%v: %w", lat, lng, err)
			}
			if err != nil {
				return fmt.Errorf("searching: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude of the point (required)")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude of the point (required)")
	cmd.Flags().Float64Var(&radius, "radius", 5, "Search radius in miles")
	cmd.Flags().StringVar(&provider, "provider", "", "Only query this provider")
	cmd.Flags().StringVar(&fuelType, "fuel", "", "Fuel type, e.g. E10, B7 or DIESEL")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")

	return cmd
}

type locationResult struct {
	Location models.LocationView `json:"location"`
	Distance float64             `json:"distance"`
}

func locationViews(found []models.LocationDistance, err error) ([]locationResult, error) {
	if err != nil {
		return nil, err
	}
	out := make([]locationResult, 0, len(found))
	for _, ld := range found {
		out = append(out, locationResult{Location: ld.Location.View(), Distance: ld.Distance})
	}
	return out, nil
}

// Package api provides the provider interface and the shared source
// implementation used by all fuel price upstreams.
package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuelprices/internal/models"
)

// Provider defines the interface for fuel price providers.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Update refreshes the cache when due (or when forced) and returns every
	// cached location. Empty areas fall back to the configured ones.
	Update(ctx context.Context, areas []models.Area, force bool) ([]*models.FuelLocation, error)

	// GetSite returns a cached location, building its fuels first if needed.
	GetSite(ctx context.Context, id string) (*models.FuelLocation, error)

	// SearchSites returns locations strictly within radius miles of point.
	SearchSites(ctx context.Context, point models.Coordinates, radius float64) ([]models.LocationDistance, error)

	// NextUpdate returns the earliest time a non-forced update will fetch.
	NextUpdate() time.Time

	// Locations returns every cached location.
	Locations() []*models.FuelLocation
}

// Upstream is the provider specific part of a Source: it fetches and parses
// the locations of one area. Upstreams that ignore areas receive the zero Area.
type Upstream interface {
	FetchArea(ctx context.Context, area models.Area) ([]*models.FuelLocation, error)
}

// AfterUpdater is implemented by upstreams that need a pass over the cache
// once a cycle's results have been merged.
type AfterUpdater interface {
	AfterUpdate(ctx context.Context, src *Source)
}

// Geocoder resolves coordinates to a place.
type Geocoder interface {
	ReverseLookup(ctx context.Context, c models.Coordinates) (*models.Place, error)
}

// Options are the construction options shared by every provider.
type Options struct {
	// Areas are the areas of interest.
	Areas []models.Area
	// UpdateInterval overrides the provider's default interval when set.
	UpdateInterval time.Duration
	// Timeout bounds every upstream call.
	Timeout time.Duration
	// Geocoder is required by providers that query by postcode.
	Geocoder Geocoder
	// Settings holds provider specific configuration.
	Settings map[string]any
	// BaseURL overrides the upstream endpoint.
	BaseURL string
	Logger  zerolog.Logger
	Now     func() time.Time
}

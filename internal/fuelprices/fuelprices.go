// Package fuelprices orchestrates the configured providers: it fans updates
// out under a shared concurrency gate and answers point queries across them.
package fuelprices

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/semaphore"

	"github.com/andygrunwald/fuelprices/internal/api"
	"github.com/andygrunwald/fuelprices/internal/api/registry"
	"github.com/andygrunwald/fuelprices/internal/models"
)

// DefaultConcurrency is the number of permits of the update gate.
const DefaultConcurrency = 4

// PrometheusRecorder receives update metrics.
type PrometheusRecorder interface {
	RecordProviderUpdate(provider, status string, duration float64)
	RecordLastSuccess(provider string, timestamp float64)
	RecordCachedLocations(provider string, count float64)
	RecordHistoryRows(provider string, count float64)
}

// HistoryStore persists price observations.
type HistoryStore interface {
	InsertObservations(ctx context.Context, obs []models.PriceObservation) (int64, error)
}

// Options configures a FuelPrices instance.
type Options struct {
	// Areas are passed to every provider update.
	Areas []models.Area
	// Providers maps provider names to their settings. When empty, the
	// auto-mapped providers of CountryCode are used.
	Providers   map[string]map[string]any
	CountryCode string
	// UpdateInterval and Timeout are handed to every provider.
	UpdateInterval time.Duration
	Timeout        time.Duration
	// Concurrency is the number of permits of the update gate.
	Concurrency int64
	Registry    *registry.Registry
	Geocoder    api.Geocoder
	Logger      zerolog.Logger
}

// FuelMatch is one location offering the requested fuel.
type FuelMatch struct {
	Location models.LocationView `json:"location"`
	FuelType string              `json:"fuel_type"`
	Cost     decimal.Decimal     `json:"cost"`
	Distance float64             `json:"distance"`
}

// FuelPrices orchestrates the configured providers.
type FuelPrices struct {
	registry *registry.Registry
	geocoder api.Geocoder
	areas    []models.Area
	sem      *semaphore.Weighted
	logger   zerolog.Logger

	mu              sync.RWMutex
	providers       map[string]api.Provider
	providerMetrics map[string]*Metrics
	accessed        map[string]string
	prometheus      PrometheusRecorder
	history         HistoryStore
}

// New creates a FuelPrices without providers.
func New(opts Options) *FuelPrices {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Registry == nil {
		opts.Registry = registry.Default()
	}
	return &FuelPrices{
		registry:        opts.Registry,
		geocoder:        opts.Geocoder,
		areas:           slices.Clone(opts.Areas),
		sem:             semaphore.NewWeighted(opts.Concurrency),
		logger:          opts.Logger.With().Str("component", "fuelprices").Logger(),
		providers:       make(map[string]api.Provider),
		providerMetrics: make(map[string]*Metrics),
		accessed:        make(map[string]string),
	}
}

// Create builds a FuelPrices with every configured provider from the registry.
// Unknown, disabled and unconfigured providers are logged and skipped.
func Create(opts Options) (*FuelPrices, error) {
	f := New(opts)

	names := slices.Sorted(maps.Keys(opts.Providers))
	if len(names) == 0 {
		names = f.registry.AutoMapped(opts.CountryCode)
	}

	for _, name := range names {
		entry, ok := f.registry.Lookup(name)
		if !ok {
			f.logger.Error().Str("provider", name).Msg("provider is not valid for this application")
			continue
		}
		if !entry.Enabled {
			f.logger.Error().Str("provider", name).Msg("provider has been disabled")
			continue
		}
		// a name listed without settings does not count as configured
		settings := opts.Providers[name]
		if entry.RequiresConfig() && settings == nil {
			f.logger.Error().Str("provider", name).Msg("provider is not available, not configured")
			continue
		}

		popts := api.Options{
			Areas:          opts.Areas,
			UpdateInterval: opts.UpdateInterval,
			Timeout:        opts.Timeout,
			Geocoder:       opts.Geocoder,
			Settings:       settings,
			Logger:         opts.Logger,
		}
		if u, ok := settings["base_url"].(string); ok {
			popts.BaseURL = u
		}
		p, err := entry.New(popts)
		if err != nil {
			return nil, fmt.Errorf("creating provider %s: %w", name, err)
		}
		f.RegisterProvider(p)
	}

	if len(f.providers) == 0 {
		f.logger.Warn().Str("country", opts.CountryCode).Msg("no providers configured")
	}
	return f, nil
}

// RegisterProvider adds a provider.
func (f *FuelPrices) RegisterProvider(p api.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[p.Name()] = p
	f.providerMetrics[p.Name()] = &Metrics{}
}

// SetPrometheusMetrics sets the Prometheus recorder.
func (f *FuelPrices) SetPrometheusMetrics(m PrometheusRecorder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prometheus = m
}

// SetHistoryStore sets the store that receives price observations after
// each successful provider update.
func (f *FuelPrices) SetHistoryStore(h HistoryStore) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = h
}

// GetProviders returns all registered providers sorted by name.
func (f *FuelPrices) GetProviders() []api.Provider {
	f.mu.RLock()
	defer f.mu.RUnlock()
	providers := make([]api.Provider, 0, len(f.providers))
	for _, name := range slices.Sorted(maps.Keys(f.providers)) {
		providers = append(providers, f.providers[name])
	}
	return providers
}

// GetMetrics returns the metrics for a provider.
func (f *FuelPrices) GetMetrics(providerName string) *Metrics {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.providerMetrics[providerName]
}

func (f *FuelPrices) provider(name string) (api.Provider, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownProvider)
	}
	return p, nil
}

// Update updates every provider concurrently. Timeouts and invalid responses
// are logged only; every other failure is collected into an *UpdateError
// once all providers have finished.
func (f *FuelPrices) Update(ctx context.Context, force bool) error {
	p := pool.NewWithResults[error]()
	for _, provider := range f.GetProviders() {
		p.Go(func() error {
			return f.updateProvider(ctx, provider, force)
		})
	}

	var errs []error
	for _, err := range p.Wait() {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return newUpdateError(errs)
	}
	return nil
}

func (f *FuelPrices) updateProvider(ctx context.Context, provider api.Provider, force bool) error {
	name := provider.Name()
	logger := f.logger.With().Str("provider", name).Logger()

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: waiting for update slot: %w", name, err)
	}
	defer f.sem.Release(1)

	due := force || !providerNow(provider).Before(provider.NextUpdate())
	start := time.Now()
	locations, err := provider.Update(ctx, f.areas, force)
	duration := time.Since(start)

	if !due {
		return nil
	}

	f.recordUpdate(name, start, duration, len(locations), err)

	if err != nil {
		switch {
		case api.IsTimeout(err):
			logger.Warn().Err(err).Msg("timeout updating provider")
			return nil
		case errors.Is(err, api.ErrInvalidResponse):
			logger.Error().Err(err).Msg("invalid response updating provider")
			return nil
		}
		logger.Error().Err(err).Dur("duration", duration).Msg("failed to update provider")
		return err
	}

	logger.Info().
		Int("count", len(locations)).
		Dur("duration", duration).
		Msg("updated provider")

	f.writeHistory(ctx, name, locations)
	return nil
}

// providerNow reads the provider's own clock, so the due check agrees with
// the one the provider makes.
func providerNow(p api.Provider) time.Time {
	if c, ok := p.(interface{ Now() time.Time }); ok {
		return c.Now()
	}
	return time.Now()
}

func (f *FuelPrices) recordUpdate(name string, at time.Time, duration time.Duration, count int, err error) {
	if m := f.GetMetrics(name); m != nil {
		m.record(at, duration, count, err)
	}

	f.mu.RLock()
	prom := f.prometheus
	f.mu.RUnlock()
	if prom == nil {
		return
	}

	status := "success"
	switch {
	case err == nil:
	case api.IsTimeout(err):
		status = "timeout"
	case errors.Is(err, api.ErrInvalidResponse):
		status = "invalid"
	default:
		status = "error"
	}
	prom.RecordProviderUpdate(name, status, duration.Seconds())
	if err == nil {
		prom.RecordLastSuccess(name, float64(at.Unix()))
		prom.RecordCachedLocations(name, float64(count))
	}
}

func (f *FuelPrices) writeHistory(ctx context.Context, name string, locations []*models.FuelLocation) {
	f.mu.RLock()
	store, prom := f.history, f.prometheus
	f.mu.RUnlock()
	if store == nil {
		return
	}

	observedAt := time.Now()
	var obs []models.PriceObservation
	for _, loc := range locations {
		obs = append(obs, loc.Observations(observedAt)...)
	}
	if len(obs) == 0 {
		return
	}

	n, err := store.InsertObservations(ctx, obs)
	if err != nil {
		f.logger.Error().Err(err).Str("provider", name).Msg("failed to write price history")
		return
	}
	if prom != nil {
		prom.RecordHistoryRows(name, float64(n))
	}
}

// FindFuelLocationsFromPoint returns locations strictly within radius miles of
// point. A named provider is queried directly; otherwise the country of point
// selects the providers.
func (f *FuelPrices) FindFuelLocationsFromPoint(ctx context.Context, point models.Coordinates, radius float64, providerName string) ([]models.LocationDistance, error) {
	f.logger.Debug().
		Float64("lat", point.Latitude).
		Float64("lng", point.Longitude).
		Float64("radius", radius).
		Str("provider", providerName).
		Msg("searching fuel locations")

	if providerName != "" {
		p, err := f.provider(providerName)
		if err != nil {
			return nil, err
		}
		return p.SearchSites(ctx, point, radius)
	}

	if f.geocoder == nil {
		return nil, ErrNoGeocoder
	}
	place, err := f.geocoder.ReverseLookup(ctx, point)
	if err != nil {
		return nil, fmt.Errorf("resolving country: %w", err)
	}
	country := strings.ToUpper(place.CountryCode)
	names := f.registry.ForCountry(country)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnmappedRegion, country)
	}

	var providers []api.Provider
	for _, name := range names {
		if p, err := f.provider(name); err == nil {
			providers = append(providers, p)
		}
	}

	results := make([][]models.LocationDistance, len(providers))
	wp := pool.New()
	for i, p := range providers {
		wp.Go(func() {
			matches, err := p.SearchSites(ctx, point, radius)
			if err != nil {
				f.logger.Warn().Err(err).Str("provider", p.Name()).Msg("search failed")
				return
			}
			results[i] = matches
		})
	}
	wp.Wait()

	return slices.Concat(results...), nil
}

// FindFuelFromPoint returns the locations around point offering fuelType at a
// cost above zero, cheapest first. Ties keep discovery order.
func (f *FuelPrices) FindFuelFromPoint(ctx context.Context, point models.Coordinates, radius float64, fuelType, providerName string) ([]FuelMatch, error) {
	locations, err := f.FindFuelLocationsFromPoint(ctx, point, radius, providerName)
	if err != nil {
		return nil, err
	}

	wp := pool.New()
	for _, ld := range locations {
		wp.Go(func() {
			if err := f.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer f.sem.Release(1)
			loc := ld.Location
			if _, err := f.GetFuelLocation(ctx, loc.ID(), loc.Meta().Provider); err != nil {
				f.logger.Warn().Err(err).Str("site", loc.ID()).Msg("failed to build fuel location")
			}
		})
	}
	wp.Wait()

	var matches []FuelMatch
	for _, ld := range locations {
		fuel, ok := ld.Location.Fuel(fuelType)
		if !ok || !fuel.IsPriced() {
			continue
		}
		matches = append(matches, FuelMatch{
			Location: ld.Location.View(),
			FuelType: fuel.Type,
			Cost:     fuel.Cost,
			Distance: ld.Distance,
		})
	}
	slices.SortStableFunc(matches, func(a, b FuelMatch) int {
		return a.Cost.Cmp(b.Cost)
	})
	return matches, nil
}

// GetFuelLocation returns a single location, building its fuels if due. The
// owning provider is remembered on first access; an empty providerName falls
// back to it.
func (f *FuelPrices) GetFuelLocation(ctx context.Context, id, providerName string) (*models.FuelLocation, error) {
	f.mu.Lock()
	if providerName == "" {
		providerName = f.accessed[id]
	}
	if _, ok := f.providers[providerName]; ok {
		if _, seen := f.accessed[id]; !seen {
			f.accessed[id] = providerName
		}
	}
	f.mu.Unlock()

	if providerName == "" {
		return nil, fmt.Errorf("%s: %w", id, api.ErrSiteNotFound)
	}
	p, err := f.provider(providerName)
	if err != nil {
		return nil, err
	}
	return p.GetSite(ctx, id)
}

// AccessedProvider returns the provider remembered for id.
func (f *FuelPrices) AccessedProvider(id string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	name, ok := f.accessed[id]
	return name, ok
}

// CachedLocations returns the number of locations cached by a provider.
func (f *FuelPrices) CachedLocations(providerName string) int {
	p, err := f.provider(providerName)
	if err != nil {
		return 0
	}
	return len(p.Locations())
}

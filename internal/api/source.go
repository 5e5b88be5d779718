package api

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/andygrunwald/fuelprices/internal/models"
)

const (
	// DefaultUpdateInterval is used when a SourceConfig has no interval.
	DefaultUpdateInterval = 24 * time.Hour
	// DefaultTimeout bounds every upstream call.
	DefaultTimeout = 30 * time.Second
	// TimeoutBackoff delays the next update after a timed out cycle.
	TimeoutBackoff = 30 * time.Minute
	// FailureBackoff delays the next update after a failed cycle.
	FailureBackoff = 60 * time.Minute
	// CacheMaxAge is how long a record may go unread before its fuels are dropped.
	CacheMaxAge = 48 * time.Hour

	maxAreaWorkers = 4
)

// SourceConfig configures a Source.
type SourceConfig struct {
	// Name is the provider identifier.
	Name string
	// UpdateInterval is the delay between successful updates.
	UpdateInterval time.Duration
	// Jitter, when set, is added to every successful schedule.
	Jitter func() time.Duration
	// Timeout bounds each upstream call.
	Timeout time.Duration
	// Areas are the configured areas of interest.
	Areas []models.Area
	// SplitAreas fetches every area separately with isolated failures.
	SplitAreas bool
	// SearchFallback runs a forced single-area update when a search is empty.
	SearchFallback bool
	// Logger is scoped with the provider name.
	Logger zerolog.Logger
	// Now overrides the clock.
	Now func() time.Time
}

// Source is the shared provider implementation: it owns the location cache,
// the update schedule and the fetch, merge and evict pipeline.
type Source struct {
	cfg      SourceConfig
	upstream Upstream
	logger   zerolog.Logger
	now      func() time.Time

	// updateMu serializes update cycles.
	updateMu sync.Mutex

	mu         sync.RWMutex
	cache      map[string]*models.FuelLocation
	order      []string
	nextUpdate time.Time
	lastErrors []error
}

// NewSource creates a Source around an upstream.
func NewSource(cfg SourceConfig, upstream Upstream) *Source {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Source{
		cfg:      cfg,
		upstream: upstream,
		logger:   cfg.Logger.With().Str("provider", cfg.Name).Logger(),
		now:      cfg.Now,
		cache:    make(map[string]*models.FuelLocation),
	}
}

// Name returns the provider identifier.
func (s *Source) Name() string {
	return s.cfg.Name
}

// Logger returns the provider scoped logger.
func (s *Source) Logger() zerolog.Logger {
	return s.logger
}

// Timeout returns the per-call upstream timeout.
func (s *Source) Timeout() time.Duration {
	return s.cfg.Timeout
}

// Now returns the current time of the source clock.
func (s *Source) Now() time.Time {
	return s.now()
}

// Areas returns the configured areas.
func (s *Source) Areas() []models.Area {
	return slices.Clone(s.cfg.Areas)
}

// NextUpdate returns the earliest time a non-forced update will fetch.
func (s *Source) NextUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextUpdate
}

// LastErrors returns the per-area errors of the last split update.
func (s *Source) LastErrors() []error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.lastErrors)
}

// Lookup returns a cached location without building it.
func (s *Source) Lookup(id string) (*models.FuelLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.cache[id]
	return loc, ok
}

// Locations returns every cached location in insertion order.
func (s *Source) Locations() []*models.FuelLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.FuelLocation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.cache[id])
	}
	return out
}

// InArea reports whether c lies in any configured area.
func (s *Source) InArea(c models.Coordinates) bool {
	for _, a := range s.cfg.Areas {
		if a.Contains(c) {
			return true
		}
	}
	return false
}

// Update refreshes the cache if due or forced.
func (s *Source) Update(ctx context.Context, areas []models.Area, force bool) ([]*models.FuelLocation, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	now := s.now()
	if !force && now.Before(s.NextUpdate()) {
		s.logger.Debug().Time("nextUpdate", s.NextUpdate()).Msg("update not due, skipping")
		return s.Locations(), nil
	}

	if len(areas) == 0 {
		areas = s.cfg.Areas
	}

	if evicted := s.evict(now); evicted > 0 {
		s.logger.Debug().Int("count", evicted).Msg("evicted stale fuel data")
	}

	start := time.Now()
	var results []*models.FuelLocation
	if s.cfg.SplitAreas {
		var failed bool
		results, failed = s.fetchSplit(ctx, areas)
		if failed {
			s.setNextUpdate(now.Add(FailureBackoff))
			s.logger.Warn().
				Int("areas", len(areas)).
				Time("nextUpdate", now.Add(FailureBackoff)).
				Msg("all areas failed, backing off")
			return s.Locations(), nil
		}
	} else {
		var err error
		results, err = s.fetch(ctx, models.Area{})
		if err != nil {
			return s.fail(now, err)
		}
	}

	s.merge(ctx, results)

	if u, ok := s.upstream.(AfterUpdater); ok {
		u.AfterUpdate(ctx, s)
	}

	next := now.Add(s.cfg.UpdateInterval)
	if s.cfg.Jitter != nil {
		next = next.Add(s.cfg.Jitter())
	}
	s.setNextUpdate(next)

	s.logger.Info().
		Int("count", len(results)).
		Dur("duration", time.Since(start)).
		Time("nextUpdate", next).
		Msg("updated locations")

	return s.Locations(), nil
}

func (s *Source) fetch(ctx context.Context, area models.Area) ([]*models.FuelLocation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.upstream.FetchArea(ctx, area)
}

type areaResult struct {
	area      models.Area
	locations []*models.FuelLocation
	err       error
}

// fetchSplit fetches each area concurrently. failed is true only if there
// was at least one area and every area failed.
func (s *Source) fetchSplit(ctx context.Context, areas []models.Area) ([]*models.FuelLocation, bool) {
	p := pool.NewWithResults[areaResult]().WithMaxGoroutines(maxAreaWorkers)
	for _, area := range areas {
		p.Go(func() areaResult {
			locs, err := s.fetch(ctx, area)
			return areaResult{area: area, locations: locs, err: err}
		})
	}

	var (
		results []*models.FuelLocation
		errs    []error
	)
	for _, r := range p.Wait() {
		if r.err != nil {
			s.logger.Warn().
				Err(r.err).
				Float64("lat", r.area.Latitude).
				Float64("lng", r.area.Longitude).
				Float64("radius", r.area.Radius).
				Msg("failed to fetch area")
			errs = append(errs, r.err)
			continue
		}
		results = append(results, r.locations...)
	}

	s.mu.Lock()
	s.lastErrors = errs
	s.mu.Unlock()

	return results, len(areas) > 0 && len(errs) == len(areas)
}

// fail applies the backoff for err and returns the error to report.
func (s *Source) fail(now time.Time, err error) ([]*models.FuelLocation, error) {
	if IsTimeout(err) {
		s.setNextUpdate(now.Add(TimeoutBackoff))
		s.logger.Warn().Err(err).Msg("update timed out")
		if !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%s: %w: %w", s.cfg.Name, ErrTimeout, err)
		}
		return nil, err
	}

	s.setNextUpdate(now.Add(FailureBackoff))
	s.logger.Error().Err(err).Msg("update failed")
	return nil, err
}

func (s *Source) merge(ctx context.Context, results []*models.FuelLocation) {
	for _, incoming := range results {
		id := incoming.ID()

		s.mu.Lock()
		existing, ok := s.cache[id]
		if !ok {
			s.cache[id] = incoming
			s.order = append(s.order, id)
		}
		s.mu.Unlock()

		if !ok {
			continue
		}
		if err := existing.Merge(ctx, incoming); err != nil {
			s.logger.Warn().Err(err).Str("site", id).Msg("failed to merge location")
		}
	}
}

func (s *Source) evict(now time.Time) int {
	evicted := 0
	for _, loc := range s.Locations() {
		if loc.EvictIfStale(now, CacheMaxAge) {
			evicted++
		}
	}
	return evicted
}

func (s *Source) setNextUpdate(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUpdate = t
}

// GetSite returns a cached location after a dynamic build if one is due.
func (s *Source) GetSite(ctx context.Context, id string) (*models.FuelLocation, error) {
	loc, ok := s.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSiteNotFound)
	}
	if err := loc.DynamicBuild(ctx); err != nil {
		return nil, err
	}
	return loc, nil
}

// SearchSites returns cached locations strictly within radius miles of point,
// nearest first. Matches are built dynamically; build failures are logged.
func (s *Source) SearchSites(ctx context.Context, point models.Coordinates, radius float64) ([]models.LocationDistance, error) {
	matches := s.scan(point, radius)

	if len(matches) == 0 && s.cfg.SearchFallback {
		s.logger.Debug().
			Float64("lat", point.Latitude).
			Float64("lng", point.Longitude).
			Float64("radius", radius).
			Msg("no cached locations, running fallback update")
		area := models.Area{Latitude: point.Latitude, Longitude: point.Longitude, Radius: radius}
		if _, err := s.Update(ctx, []models.Area{area}, true); err != nil {
			return nil, fmt.Errorf("fallback update: %w", err)
		}
		matches = s.scan(point, radius)
	}

	for _, m := range matches {
		if err := m.Location.DynamicBuild(ctx); err != nil {
			s.logger.Warn().Err(err).Str("site", m.Location.ID()).Msg("dynamic build failed")
		}
	}
	return matches, nil
}

func (s *Source) scan(point models.Coordinates, radius float64) []models.LocationDistance {
	var out []models.LocationDistance
	for _, loc := range s.Locations() {
		d := models.Distance(point, loc.Position())
		if d < radius {
			out = append(out, models.LocationDistance{Location: loc, Distance: d})
		}
	}
	slices.SortStableFunc(out, func(a, b models.LocationDistance) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	return out
}

package models

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

var (
	// ErrNotImplemented is returned when a record asks for a dynamic build but
	// its provider has no way to perform one.
	ErrNotImplemented = errors.New("dynamic build not implemented")
	// ErrFuelNotFound is returned by FuelOrErr for an unknown fuel type.
	ErrFuelNotFound = errors.New("fuel not found")
)

// now is swapped in tests.
var now = time.Now

// Meta holds the typed bookkeeping flags of a location.
type Meta struct {
	// Provider is the name of the owning provider.
	Provider string
	// UpstreamID is the identifier used by the upstream service.
	UpstreamID string
	// PreventCacheCleanup exempts the record from staleness eviction.
	PreventCacheCleanup bool
	// DynamicBuild marks records whose fuels are fetched lazily per site.
	DynamicBuild bool
}

// BuildResult is the detail returned by a Builder.
// Empty strings leave the existing value untouched.
type BuildResult struct {
	Name       string
	Address    string
	PostalCode string
	Brand      string
	Fuels      []Fuel
	// NextUpdate is the earliest time the next build may run.
	NextUpdate time.Time
}

// Builder fetches per-site detail for dynamically built records.
// A Builder may return a non-nil result together with an error; the result
// is applied before the error is reported.
type Builder interface {
	Build(ctx context.Context, meta Meta) (*BuildResult, error)
}

// LocationParams describes a new FuelLocation.
type LocationParams struct {
	Provider            string
	UpstreamID          string
	Name                string
	Address             string
	PostalCode          string
	Brand               string
	Currency            string
	Latitude            float64
	Longitude           float64
	Fuels               []Fuel
	NextUpdate          time.Time
	PreventCacheCleanup bool
	DynamicBuild        bool
	Props               map[string]any
	Builder             Builder
}

// LocationID returns the globally unique id of a provider's site.
func LocationID(provider, upstreamID string) string {
	return fmt.Sprintf("%s_%s", provider, upstreamID)
}

// FuelLocation is a cached fuel station.
// All access goes through methods; the record is safe for concurrent use.
type FuelLocation struct {
	mu sync.RWMutex
	// buildMu serializes dynamic builds without blocking readers.
	buildMu sync.Mutex

	id          string
	name        string
	address     string
	postalCode  string
	brand       string
	currency    string
	latitude    float64
	longitude   float64
	fuels       []Fuel
	lastUpdated time.Time
	nextUpdate  time.Time
	lastAccess  time.Time
	meta        Meta
	props       map[string]any
	builder     Builder
}

// NewFuelLocation creates a location. Duplicate fuel types keep the last entry.
func NewFuelLocation(p LocationParams) *FuelLocation {
	l := &FuelLocation{
		id:          LocationID(p.Provider, p.UpstreamID),
		name:        p.Name,
		address:     p.Address,
		postalCode:  p.PostalCode,
		brand:       p.Brand,
		currency:    p.Currency,
		latitude:    p.Latitude,
		longitude:   p.Longitude,
		lastUpdated: now(),
		nextUpdate:  p.NextUpdate,
		meta: Meta{
			Provider:            p.Provider,
			UpstreamID:          p.UpstreamID,
			PreventCacheCleanup: p.PreventCacheCleanup,
			DynamicBuild:        p.DynamicBuild,
		},
		props:   maps.Clone(p.Props),
		builder: p.Builder,
	}
	for _, f := range p.Fuels {
		l.upsertFuel(f)
	}
	return l
}

// ID returns the location id.
func (l *FuelLocation) ID() string {
	return l.id
}

// Position returns the coordinates of the location.
func (l *FuelLocation) Position() Coordinates {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Coordinates{Latitude: l.latitude, Longitude: l.longitude}
}

// Meta returns the bookkeeping flags.
func (l *FuelLocation) Meta() Meta {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meta
}

// NextUpdate returns the earliest time of the next dynamic build.
func (l *FuelLocation) NextUpdate() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextUpdate
}

// ResetNextUpdate forces the next dynamic build to run.
func (l *FuelLocation) ResetNextUpdate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextUpdate = time.Time{}
}

// LastAccess returns when the record was last read by a caller.
// The zero time means never.
func (l *FuelLocation) LastAccess() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastAccess
}

// MarkAccessed sets the last access time.
func (l *FuelLocation) MarkAccessed(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastAccess = t
}

// FuelCount returns the number of fuels without touching the access time.
func (l *FuelLocation) FuelCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fuels)
}

// Fuel looks up a fuel by type.
func (l *FuelLocation) Fuel(fuelType string) (Fuel, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastAccess = now()
	if i := l.fuelIndex(fuelType); i >= 0 {
		return l.fuels[i].clone(), true
	}
	return Fuel{}, false
}

// FuelOrErr is like Fuel but returns ErrFuelNotFound for unknown types.
func (l *FuelLocation) FuelOrErr(fuelType string) (Fuel, error) {
	f, ok := l.Fuel(fuelType)
	if !ok {
		return Fuel{}, fmt.Errorf("%s at %s: %w", fuelType, l.id, ErrFuelNotFound)
	}
	return f, nil
}

// Fuels returns a copy of all fuels in insertion order.
func (l *FuelLocation) Fuels() []Fuel {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastAccess = now()
	out := make([]Fuel, len(l.fuels))
	for i, f := range l.fuels {
		out[i] = f.clone()
	}
	return out
}

// ClearFuels drops every fuel of the location.
func (l *FuelLocation) ClearFuels() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fuels = nil
}

// EvictIfStale clears the fuels when the record was last accessed at least
// maxAge before t. Never accessed and cleanup-exempt records are kept.
func (l *FuelLocation) EvictIfStale(t time.Time, maxAge time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.meta.PreventCacheCleanup || l.lastAccess.IsZero() || len(l.fuels) == 0 {
		return false
	}
	if t.Sub(l.lastAccess) < maxAge {
		return false
	}
	l.fuels = nil
	return true
}

// Merge folds incoming into l: scalars are replaced, fuels are upserted by
// type and never removed, next_update never moves backwards.
// If incoming needs a dynamic build and l already has fuels, incoming is built
// first. A build error is returned after the merge has been applied.
func (l *FuelLocation) Merge(ctx context.Context, incoming *FuelLocation) error {
	if incoming == nil || incoming == l {
		return nil
	}

	var buildErr error
	if incoming.Meta().DynamicBuild && l.FuelCount() > 0 {
		buildErr = incoming.DynamicBuild(ctx)
	}

	in := incoming.snapshot()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.name = in.name
	l.address = in.address
	l.postalCode = in.postalCode
	l.brand = in.brand
	l.currency = in.currency
	l.latitude = in.latitude
	l.longitude = in.longitude
	l.meta = in.meta
	if in.builder != nil {
		l.builder = in.builder
	}
	if l.props == nil && len(in.props) > 0 {
		l.props = make(map[string]any, len(in.props))
	}
	maps.Copy(l.props, in.props)
	for _, f := range in.fuels {
		l.upsertFuel(f)
	}
	if in.nextUpdate.After(l.nextUpdate) {
		l.nextUpdate = in.nextUpdate
	}
	l.lastUpdated = now()

	if buildErr != nil {
		return fmt.Errorf("building %s before merge: %w", in.id, buildErr)
	}
	return nil
}

// DynamicBuild refreshes the fuels of a dynamically built record through its
// Builder. It is a no-op for static records and for records that still have
// fuels before their next_update.
func (l *FuelLocation) DynamicBuild(ctx context.Context) error {
	l.mu.RLock()
	dynamic := l.meta.DynamicBuild
	builder := l.builder
	l.mu.RUnlock()

	if !dynamic {
		return nil
	}
	if builder == nil {
		return fmt.Errorf("%s: %w", l.id, ErrNotImplemented)
	}

	l.buildMu.Lock()
	defer l.buildMu.Unlock()

	l.mu.RLock()
	fresh := len(l.fuels) > 0 && l.nextUpdate.After(now())
	meta := l.meta
	l.mu.RUnlock()
	if fresh {
		return nil
	}

	res, err := builder.Build(ctx, meta)
	if res != nil {
		l.applyBuild(res)
	}
	if err != nil {
		return fmt.Errorf("building %s: %w", l.id, err)
	}
	return nil
}

func (l *FuelLocation) applyBuild(res *BuildResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if res.Name != "" {
		l.name = res.Name
	}
	if res.Address != "" {
		l.address = res.Address
	}
	if res.PostalCode != "" {
		l.postalCode = res.PostalCode
	}
	if res.Brand != "" {
		l.brand = res.Brand
	}
	for _, f := range res.Fuels {
		l.upsertFuel(f)
	}
	if !res.NextUpdate.IsZero() {
		l.nextUpdate = res.NextUpdate
	}
	l.lastUpdated = now()
}

// View returns a JSON-ready snapshot and records the access.
func (l *FuelLocation) View() LocationView {
	l.mu.Lock()
	l.lastAccess = now()
	l.mu.Unlock()
	return l.snapshotView()
}

func (l *FuelLocation) snapshotView() LocationView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fuels := make([]FuelView, len(l.fuels))
	for i, f := range l.fuels {
		fuels[i] = f.view()
	}
	return LocationView{
		ID:          l.id,
		Name:        l.name,
		Address:     l.address,
		PostalCode:  l.postalCode,
		Brand:       l.brand,
		Currency:    l.currency,
		Latitude:    l.latitude,
		Longitude:   l.longitude,
		Fuels:       fuels,
		LastUpdated: l.lastUpdated,
		NextUpdate:  l.nextUpdate,
		Provider:    l.meta.Provider,
		Props:       maps.Clone(l.props),
	}
}

// Observations returns the priced fuels of l as history rows. Unlike View it
// does not count as an access.
func (l *FuelLocation) Observations(at time.Time) []PriceObservation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []PriceObservation
	for _, f := range l.fuels {
		if !f.IsPriced() {
			continue
		}
		out = append(out, PriceObservation{
			LocationID: l.id,
			Provider:   l.meta.Provider,
			FuelType:   f.Type,
			Cost:       f.Cost,
			Currency:   l.currency,
			Latitude:   l.latitude,
			Longitude:  l.longitude,
			ObservedAt: at,
		})
	}
	return out
}

// snapshot copies the mergeable state of l.
func (l *FuelLocation) snapshot() *FuelLocation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fuels := make([]Fuel, len(l.fuels))
	for i, f := range l.fuels {
		fuels[i] = f.clone()
	}
	return &FuelLocation{
		id:         l.id,
		name:       l.name,
		address:    l.address,
		postalCode: l.postalCode,
		brand:      l.brand,
		currency:   l.currency,
		latitude:   l.latitude,
		longitude:  l.longitude,
		fuels:      fuels,
		nextUpdate: l.nextUpdate,
		meta:       l.meta,
		props:      maps.Clone(l.props),
		builder:    l.builder,
	}
}

// upsertFuel expects l.mu to be held for writing.
func (l *FuelLocation) upsertFuel(f Fuel) {
	if i := l.fuelIndex(f.Type); i >= 0 {
		l.fuels[i].Update(f.Type, f.Cost, f.Props)
		return
	}
	l.fuels = append(l.fuels, NewFuel(f.Type, f.Cost, f.Props))
}

func (l *FuelLocation) fuelIndex(fuelType string) int {
	for i := range l.fuels {
		if l.fuels[i].Type == fuelType {
			return i
		}
	}
	return -1
}

// LocationView is the JSON representation of a FuelLocation.
type LocationView struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Address     string         `json:"address"`
	PostalCode  string         `json:"postal_code"`
	Brand       string         `json:"brand"`
	Currency    string         `json:"currency"`
	Latitude    float64        `json:"latitude"`
	Longitude   float64        `json:"longitude"`
	Fuels       []FuelView     `json:"available_fuels"`
	LastUpdated time.Time      `json:"last_updated"`
	NextUpdate  time.Time      `json:"next_update"`
	Provider    string         `json:"provider"`
	Props       map[string]any `json:"props,omitempty"`
}

// LocationDistance pairs a location with its distance from a query point in miles.
type LocationDistance struct {
	Location *FuelLocation
	Distance float64
}

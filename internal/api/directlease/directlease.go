// Package directlease provides the DirectLease tank service provider for the
// Netherlands and Belgium. Stations are discovered in bulk; their fuel prices
// are fetched per station on demand.
package directlease

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"resty.dev/v3"

	"github.com/andygrunwald/fuelprices/internal/api"
	"github.com/andygrunwald/fuelprices/internal/models"
	"github.com/andygrunwald/fuelprices/internal/useragent"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "directlease"
	// DefaultBaseURL is the tank service API root.
	DefaultBaseURL = "https://tankservice.app-it-up.com/Tankservice/v2"

	placesPath   = "/places?fmt=web&country=NL&country=BE&lang=en"
	stationPath  = "/places/%s?_v48&lang=en"
	currency     = "EUR"
	unknown      = "Unknown"
	buildBackoff = 24 * time.Hour
)

var (
	fuelTypePattern = regexp.MustCompile(`\(([^)]+)\)`)
	thousand        = decimal.NewFromInt(1000)
)

type place struct {
	ID    json.Number `json:"id"`
	Name  *string     `json:"name"`
	Lat   float64     `json:"lat"`
	Lng   float64     `json:"lng"`
	Brand *string     `json:"brand"`
	City  string      `json:"city"`
}

type stationDetail struct {
	Name       string        `json:"name"`
	Brand      string        `json:"brand"`
	Address    string        `json:"address"`
	PostalCode string        `json:"postalCode"`
	Fuels      []stationFuel `json:"fuels"`
}

type stationFuel struct {
	Name  string              `json:"name"`
	Price decimal.NullDecimal `json:"price"`
}

// Provider implements the DirectLease provider.
type Provider struct {
	*api.Source
	client  *resty.Client
	baseURL string
}

// New creates a DirectLease provider.
func New(opts api.Options) *Provider {
	baseURL := DefaultBaseURL
	if opts.BaseURL != "" {
		baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	interval := opts.UpdateInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	p := &Provider{
		baseURL: baseURL,
		client: api.NewHTTPClient(opts.Timeout, map[string]string{
			"User-Agent": useragent.Android,
		}, opts.Logger),
	}
	p.Source = api.NewSource(api.SourceConfig{
		Name:           ProviderName,
		UpdateInterval: interval,
		Jitter:         jitter,
		Timeout:        opts.Timeout,
		Areas:          opts.Areas,
		Logger:         opts.Logger,
		Now:            opts.Now,
	}, p)
	return p
}

// jitter spreads requests to avoid overloading the API and IP lockouts.
func jitter() time.Duration {
	return time.Duration(rand.IntN(240)+1)*time.Minute + time.Duration(rand.IntN(60)+1)*time.Second
}

// FetchArea discovers stations. Stations already cached are skipped so their
// prices are only refreshed through dynamic builds.
func (p *Provider) FetchArea(ctx context.Context, _ models.Area) ([]*models.FuelLocation, error) {
	url := p.baseURL + placesPath
	body, err := p.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching places: %w", err)
	}

	var places []place
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, api.InvalidResponse(ProviderName, err)
	}

	locations := make([]*models.FuelLocation, 0, len(places))
	for _, pl := range places {
		id := pl.ID.String()
		if id == "" {
			continue
		}
		if _, ok := p.Lookup(models.LocationID(ProviderName, id)); ok {
			continue
		}

		brand := unknown
		if pl.Brand != nil {
			brand = *pl.Brand
		}
		var name string
		switch {
		case pl.Name != nil:
			name = *pl.Name
		case pl.Brand != nil:
			name = *pl.Brand + " " + pl.City
		default:
			name = "Unknown site " + id
		}

		locations = append(locations, models.NewFuelLocation(models.LocationParams{
			Provider:     ProviderName,
			UpstreamID:   id,
			Name:         name,
			Address:      unknown,
			PostalCode:   unknown,
			Brand:        brand,
			Currency:     currency,
			Latitude:     pl.Lat,
			Longitude:    pl.Lng,
			DynamicBuild: true,
			Builder:      p,
		}))
	}
	return locations, nil
}

// AfterUpdate eagerly builds stations inside the configured areas and
// stations that already carry prices.
func (p *Provider) AfterUpdate(ctx context.Context, src *api.Source) {
	logger := p.Logger()
	for _, loc := range src.Locations() {
		if !src.InArea(loc.Position()) && loc.FuelCount() == 0 {
			continue
		}
		err := loc.DynamicBuild(ctx)
		if err == nil {
			continue
		}
		var blocked *api.ServiceBlockedError
		if errors.As(err, &blocked) {
			logger.Error().Err(err).Msg("IP blocked by DirectLease, stopping station builds")
			return
		}
		logger.Warn().Err(err).Str("site", loc.ID()).Msg("station build failed")
	}
}

// Build fetches the prices of one station.
func (p *Provider) Build(ctx context.Context, meta models.Meta) (*models.BuildResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	url := p.baseURL + fmt.Sprintf(stationPath, meta.UpstreamID)
	logger := p.Logger()
	logger.Debug().Str("site", meta.UpstreamID).Str("url", url).Msg("requesting station prices")

	next := p.Now().Add(buildBackoff + jitter())

	body, err := p.get(ctx, url)
	if err != nil {
		var failed *api.UpdateFailedError
		if errors.As(err, &failed) {
			return &models.BuildResult{NextUpdate: next}, err
		}
		return nil, err
	}

	var detail stationDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return &models.BuildResult{NextUpdate: next}, api.InvalidResponse(ProviderName, err)
	}

	return &models.BuildResult{
		Name:       detail.Name,
		Address:    detail.Address,
		PostalCode: detail.PostalCode,
		Brand:      detail.Brand,
		Fuels:      parseFuels(detail.Fuels),
		NextUpdate: next,
	}, nil
}

// parseFuels converts station fuels. Prices are published in thousandths;
// a null price yields a zero cost marked unavailable.
func parseFuels(raw []stationFuel) []models.Fuel {
	fuels := make([]models.Fuel, 0, len(raw))
	for _, f := range raw {
		fuelType := FuelType(f.Name)
		if !f.Price.Valid {
			fuels = append(fuels, models.NewFuel(fuelType, decimal.Zero, map[string]any{"unavailable": true}))
			continue
		}
		fuels = append(fuels, models.NewFuel(fuelType, f.Price.Decimal.Div(thousand), nil))
	}
	return fuels
}

// FuelType extracts the grade code in parentheses, e.g. "Euro 95 (E10)" is
// "E10". Names without one are used whole. The result is upper case.
func FuelType(name string) string {
	if m := fuelTypePattern.FindStringSubmatch(name); m != nil {
		return strings.ToUpper(m[1])
	}
	return strings.ToUpper(name)
}

func (p *Provider) get(ctx context.Context, url string) ([]byte, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("X-Checksum", Checksum(url, p.Now(), uuid.New())).
		Get(url)
	if err != nil {
		if api.IsTimeout(err) {
			return nil, fmt.Errorf("%s: %w: %w", ProviderName, api.ErrTimeout, err)
		}
		return nil, err
	}

	if err := api.ClassifyStatus(ProviderName, resp.StatusCode(), resp.String(), resp.Header()); err != nil {
		var failed *api.UpdateFailedError
		if errors.As(err, &failed) && failed.Status == http.StatusForbidden {
			return nil, &api.ServiceBlockedError{UpdateFailedError: failed}
		}
		return nil, err
	}
	return resp.Bytes(), nil
}

// Checksum builds the X-Checksum header for url. deviceID stands in for the
// app's per-install identifier.
func Checksum(url string, t time.Time, deviceID uuid.UUID) string {
	parts := strings.Split(url, "/")
	path := "/"
	if len(parts) > 3 {
		path += strings.Join(parts[3:], "/")
	}
	dateID := t.Format("20060102") + "_" + deviceID.String()
	ts := t.Unix()

	sum := sha1.Sum(fmt.Appendf(nil, "%s/%d/%s/X-Checksum", dateID, ts, path))
	return fmt.Sprintf("%s/%d/%s", dateID, ts, hex.EncodeToString(sum[:]))
}

// Package cma provides the shared parser for the UK retailer open data
// fuel price feeds and one provider per participating retailer.
package cma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"resty.dev/v3"

	"github.com/andygrunwald/fuelprices/internal/api"
	"github.com/andygrunwald/fuelprices/internal/models"
)

// Currency is the currency of every UK feed.
const Currency = "GBP"

var (
	tenThousand = decimal.NewFromInt(10000)
	thousand    = decimal.NewFromInt(1000)
	hundred     = decimal.NewFromInt(100)
	ten         = decimal.NewFromInt(10)
)

// feed is the open data document published by each retailer.
type feed struct {
	LastUpdated string    `json:"last_updated"`
	Stations    []station `json:"stations"`
}

type station struct {
	SiteID   siteID                         `json:"site_id"`
	Brand    string                         `json:"brand"`
	Address  string                         `json:"address"`
	Postcode string                         `json:"postcode"`
	Location stationLocation                `json:"location"`
	Prices   map[string]decimal.NullDecimal `json:"prices"`
}

type stationLocation struct {
	Latitude  json.Number `json:"latitude"`
	Longitude json.Number `json:"longitude"`
}

// siteID accepts both string and numeric ids.
type siteID string

func (s *siteID) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(b, []byte(`"`)) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = siteID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = siteID(n.String())
	return nil
}

// Provider is a retailer feed provider.
type Provider struct {
	*api.Source
	retailer Retailer
	url      string
	client   *resty.Client
}

// New creates a provider for a retailer.
func New(r Retailer, opts api.Options) *Provider {
	timeout := opts.Timeout
	if r.Timeout > 0 {
		timeout = r.Timeout
	}
	url := r.URL
	if opts.BaseURL != "" {
		url = opts.BaseURL
	}

	p := &Provider{
		retailer: r,
		url:      url,
		client:   api.NewHTTPClient(timeout, r.Headers, opts.Logger),
	}
	p.Source = api.NewSource(api.SourceConfig{
		Name:           r.Name,
		UpdateInterval: opts.UpdateInterval,
		Timeout:        timeout,
		Areas:          opts.Areas,
		Logger:         opts.Logger,
		Now:            opts.Now,
	}, p)
	return p
}

// FetchArea downloads and parses the whole feed. The area is ignored.
func (p *Provider) FetchArea(ctx context.Context, _ models.Area) ([]*models.FuelLocation, error) {
	logger := p.Logger()
	logger.Debug().Str("url", p.url).Msg("fetching feed")

	body, err := api.Get(ctx, p.client, p.Name(), p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	return ParseResponse(p.Name(), body)
}

// ParseResponse converts a feed document into locations.
func ParseResponse(provider string, body []byte) ([]*models.FuelLocation, error) {
	var doc feed
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, api.InvalidResponse(provider, err)
	}
	if doc.Stations == nil {
		return nil, api.InvalidResponse(provider, errors.New("missing stations"))
	}

	locations := make([]*models.FuelLocation, 0, len(doc.Stations))
	for _, st := range doc.Stations {
		if st.SiteID == "" {
			continue
		}
		lat, errLat := st.Location.Latitude.Float64()
		lng, errLng := st.Location.Longitude.Float64()
		if err := errors.Join(errLat, errLng); err != nil {
			return nil, api.InvalidResponse(provider, fmt.Errorf("site %s coordinates: %w", st.SiteID, err))
		}

		locations = append(locations, models.NewFuelLocation(models.LocationParams{
			Provider:            provider,
			UpstreamID:          string(st.SiteID),
			Name:                strings.TrimSpace(st.Brand + " " + st.Postcode),
			Address:             st.Address,
			PostalCode:          st.Postcode,
			Brand:               st.Brand,
			Currency:            Currency,
			Latitude:            lat,
			Longitude:           lng,
			Fuels:               ParseFuels(st.Prices),
			PreventCacheCleanup: true,
		}))
	}
	return locations, nil
}

// ParseFuels converts a price map into fuels sorted by type. Prices are
// normalized to pence with one decimal place; a null price becomes zero.
func ParseFuels(prices map[string]decimal.NullDecimal) []models.Fuel {
	types := make([]string, 0, len(prices))
	for t := range prices {
		types = append(types, t)
	}
	slices.Sort(types)

	fuels := make([]models.Fuel, 0, len(types))
	for _, t := range types {
		cost := decimal.Zero
		if p := prices[t]; p.Valid {
			cost = NormalizePence(p.Decimal)
		}
		fuels = append(fuels, models.NewFuel(t, cost, nil))
	}
	return fuels
}

// NormalizePence brings a price published in tenths of pence, hundredths of
// pence or pounds to pence.
func NormalizePence(v decimal.Decimal) decimal.Decimal {
	if v.GreaterThan(tenThousand) {
		v = v.Div(hundred).Round(1)
	}
	if v.GreaterThan(thousand) {
		v = v.Div(ten).Round(1)
	}
	if v.LessThan(hundred) {
		v = v.Mul(hundred).Round(1)
	}
	return v
}

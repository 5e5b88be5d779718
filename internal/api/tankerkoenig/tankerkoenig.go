// Package tankerkoenig provides the TankerKoenig provider for Germany.
// Each configured area is reverse geocoded to a postcode, which is then used
// to query the stations around it.
package tankerkoenig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"resty.dev/v3"

	"github.com/andygrunwald/fuelprices/internal/api"
	"github.com/andygrunwald/fuelprices/internal/models"
	"github.com/andygrunwald/fuelprices/internal/useragent"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "tankerkoenig"
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://tankerkoenig.de/ajax_v3_public"

	stationsPath = "/get_stations_near_postcode.php"
	countryCode  = "de"
	currency     = "EUR"
)

// ErrGeocoderRequired is returned by New without a geocoder.
var ErrGeocoderRequired = errors.New("tankerkoenig requires a geocoder")

type response struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Data    struct {
		Stations []station `json:"stations"`
	} `json:"data"`
}

type station struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Brand        string                     `json:"brand"`
	Street       string                     `json:"street"`
	HouseNumber  flexString                 `json:"house_number"`
	PostCode     flexString                 `json:"post_code"`
	Lat          float64                    `json:"lat"`
	Lng          float64                    `json:"lng"`
	Prices       map[string]json.RawMessage `json:"prices"`
	OpeningTimes struct {
		OpeningTimes []any `json:"openingTimes"`
	} `json:"openingTimes"`
}

// flexString accepts strings, numbers and null.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if bytes.HasPrefix(b, []byte(`"`)) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

// Provider implements the TankerKoenig provider.
type Provider struct {
	*api.Source
	client   *resty.Client
	baseURL  string
	geocoder api.Geocoder
}

// New creates a TankerKoenig provider.
func New(opts api.Options) (*Provider, error) {
	if opts.Geocoder == nil {
		return nil, ErrGeocoderRequired
	}
	baseURL := DefaultBaseURL
	if opts.BaseURL != "" {
		baseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	p := &Provider{
		baseURL:  baseURL,
		geocoder: opts.Geocoder,
		client: api.NewHTTPClient(opts.Timeout, map[string]string{
			"User-Agent": useragent.Desktop,
		}, opts.Logger),
	}
	p.Source = api.NewSource(api.SourceConfig{
		Name:           ProviderName,
		UpdateInterval: opts.UpdateInterval,
		Timeout:        opts.Timeout,
		Areas:          opts.Areas,
		SplitAreas:     true,
		SearchFallback: true,
		Logger:         opts.Logger,
		Now:            opts.Now,
	}, p)
	return p, nil
}

// FetchArea queries the stations around the postcode of the area centre.
// Areas outside Germany yield no locations.
func (p *Provider) FetchArea(ctx context.Context, area models.Area) ([]*models.FuelLocation, error) {
	logger := p.Logger()

	place, err := p.geocoder.ReverseLookup(ctx, area.Center())
	if err != nil {
		return nil, fmt.Errorf("geocoding area: %w", err)
	}
	if !strings.EqualFold(place.CountryCode, countryCode) {
		logger.Debug().
			Str("country", place.CountryCode).
			Float64("lat", area.Latitude).
			Float64("lng", area.Longitude).
			Msg("skipping area outside DE")
		return nil, nil
	}
	if place.Postcode == "" {
		return nil, fmt.Errorf("no postcode for %.5f,%.5f", area.Latitude, area.Longitude)
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"postcode": place.Postcode,
			"radius":   strconv.FormatFloat(models.MilesToKilometers(area.Radius), 'f', -1, 64),
		}).
		Get(p.baseURL + stationsPath)
	if err != nil {
		if api.IsTimeout(err) {
			return nil, fmt.Errorf("%s: %w: %w", ProviderName, api.ErrTimeout, err)
		}
		return nil, fmt.Errorf("fetching stations: %w", err)
	}
	if err := api.ClassifyStatus(ProviderName, resp.StatusCode(), resp.String(), resp.Header()); err != nil {
		return nil, err
	}

	return ParseResponse(resp.Bytes())
}

// ParseResponse converts a stations response into locations.
func ParseResponse(body []byte) ([]*models.FuelLocation, error) {
	var doc response
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, api.InvalidResponse(ProviderName, err)
	}
	if !doc.OK {
		return nil, api.InvalidResponse(ProviderName, fmt.Errorf("request rejected: %s", doc.Message))
	}

	locations := make([]*models.FuelLocation, 0, len(doc.Data.Stations))
	for _, st := range doc.Data.Stations {
		if st.ID == "" {
			continue
		}
		address := strings.Join(strings.Fields(fmt.Sprintf("%s %s %s", st.HouseNumber, st.Street, st.PostCode)), " ")
		var props map[string]any
		if len(st.OpeningTimes.OpeningTimes) > 0 {
			props = map[string]any{"opening_times": st.OpeningTimes.OpeningTimes}
		}

		locations = append(locations, models.NewFuelLocation(models.LocationParams{
			Provider:            ProviderName,
			UpstreamID:          st.ID,
			Name:                st.Name,
			Address:             address,
			PostalCode:          string(st.PostCode),
			Brand:               st.Brand,
			Currency:            currency,
			Latitude:            st.Lat,
			Longitude:           st.Lng,
			Fuels:               ParseFuels(st.Prices),
			PreventCacheCleanup: true,
			Props:               props,
		}))
	}
	return locations, nil
}

// ParseFuels converts the price map. Keys containing "_" carry metadata and
// are skipped, as are null and non-numeric values.
func ParseFuels(prices map[string]json.RawMessage) []models.Fuel {
	types := make([]string, 0, len(prices))
	for k := range prices {
		if !strings.Contains(k, "_") {
			types = append(types, k)
		}
	}
	slices.Sort(types)

	fuels := make([]models.Fuel, 0, len(types))
	for _, k := range types {
		raw := prices[k]
		if bytes.Equal(raw, []byte("null")) {
			continue
		}
		var cost decimal.Decimal
		if err := json.Unmarshal(raw, &cost); err != nil {
			continue
		}
		fuels = append(fuels, models.NewFuel(strings.ToUpper(k), cost, nil))
	}
	return fuels
}

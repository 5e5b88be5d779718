// Package geocode provides a rate limited reverse geocoding gateway backed
// by a Nominatim compatible service.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	"github.com/andygrunwald/fuelprices/internal/api"
	"github.com/andygrunwald/fuelprices/internal/models"
)

const (
	// DefaultBaseURL is the public Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	// DefaultTimeout bounds a single lookup.
	DefaultTimeout = 15 * time.Second

	earthRadiusKm = 6371.0
	providerName  = "geocode"
)

// ErrNoResult is returned when the service knows nothing about a point.
var ErrNoResult = errors.New("no geocode result")

// Recorder receives one observation per upstream lookup.
type Recorder interface {
	RecordGeocodeRequest(status string, duration float64)
}

type reverseResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// Gateway serializes reverse lookups behind a single token bucket
// (capacity 1, one token per second) shared by every caller.
type Gateway struct {
	client  *resty.Client
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter
	logger  zerolog.Logger

	// mu makes callers queue in order instead of racing for tokens.
	mu       sync.Mutex
	recorder Recorder
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBaseURL points the gateway at another Nominatim instance.
func WithBaseURL(u string) Option {
	return func(g *Gateway) { g.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per-lookup timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithLimiter replaces the default 1 request per second limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// New creates a Gateway. userAgent identifies the application as the
// Nominatim usage policy requires.
func New(userAgent string, logger zerolog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logger.With().Str("component", "geocode").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client = api.NewHTTPClient(g.timeout, map[string]string{"User-Agent": userAgent}, g.logger)
	return g
}

// SetMetrics attaches a recorder for lookup metrics.
func (g *Gateway) SetMetrics(r Recorder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorder = r
}

// ReverseLookup resolves coordinates to a country and postcode.
// Lookups are serialized and wait for the shared rate limiter.
func (g *Gateway) ReverseLookup(ctx context.Context, c models.Coordinates) (*models.Place, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for geocode rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.logger.Debug().
		Float64("lat", c.Latitude).
		Float64("lng", c.Longitude).
		Msg("reverse geocoding")

	start := time.Now()
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format":         "jsonv2",
			"lat":            strconv.FormatFloat(c.Latitude, 'f', -1, 64),
			"lon":            strconv.FormatFloat(c.Longitude, 'f', -1, 64),
			"addressdetails": "1",
		}).
		Get(g.baseURL + "/reverse")
	duration := time.Since(start)

	if err != nil {
		if api.IsTimeout(err) {
			g.record("timeout", duration)
			return nil, fmt.Errorf("%s: %w: %w", providerName, api.ErrTimeout, err)
		}
		g.record("error", duration)
		return nil, fmt.Errorf("executing reverse lookup: %w", err)
	}
	if err := api.ClassifyStatus(providerName, resp.StatusCode(), resp.String(), resp.Header()); err != nil {
		g.record("error", duration)
		return nil, err
	}

	var body reverseResponse
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		g.record("error", duration)
		return nil, api.InvalidResponse(providerName, err)
	}
	if body.Error != "" || body.Address == nil {
		g.record("empty", duration)
		return nil, fmt.Errorf("%.5f,%.5f: %w", c.Latitude, c.Longitude, ErrNoResult)
	}

	g.record("success", duration)
	return &models.Place{
		CountryCode: body.Address["country_code"],
		Postcode:    body.Address["postcode"],
		DisplayName: body.DisplayName,
		Address:     body.Address,
	}, nil
}

func (g *Gateway) record(status string, d time.Duration) {
	if g.recorder != nil {
		g.recorder.RecordGeocodeRequest(status, d.Seconds())
	}
}

// Box is a latitude/longitude bounding box in degrees.
type Box struct {
	LatMin float64
	LonMin float64
	LatMax float64
	LonMax float64
}

// Contains reports whether c lies inside the box.
func (b Box) Contains(c models.Coordinates) bool {
	return c.Latitude >= b.LatMin && c.Latitude <= b.LatMax &&
		c.Longitude >= b.LonMin && c.Longitude <= b.LonMax
}

// BoundingBox returns the square box of half side halfSideMiles centred on
// lat/lon.
func BoundingBox(lat, lon, halfSideMiles float64) (Box, error) {
	if halfSideMiles <= 0 {
		return Box{}, fmt.Errorf("half side must be positive, got %v", halfSideMiles)
	}
	if lat < -90 || lat > 90 {
		return Box{}, fmt.Errorf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return Box{}, fmt.Errorf("longitude %v out of range", lon)
	}

	halfSideKm := models.MilesToKilometers(halfSideMiles)
	latRad := lat * math.Pi / 180
	lonRad := lon * math.Pi / 180
	parallelRadius := earthRadiusKm * math.Cos(latRad)

	deg := func(r float64) float64 { return r * 180 / math.Pi }
	return Box{
		LatMin: deg(latRad - halfSideKm/earthRadiusKm),
		LatMax: deg(latRad + halfSideKm/earthRadiusKm),
		LonMin: deg(lonRad - halfSideKm/parallelRadius),
		LonMax: deg(lonRad + halfSideKm/parallelRadius),
	}, nil
}

package tankerkoenig

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andygrunwald/fuelprices/internal/api"
	"github.com/andygrunwald/fuelprices/internal/models"
)

type fakeGeocoder struct {
	mu     sync.Mutex
	places map[models.Coordinates]*models.Place
	calls  int
}

func (g *fakeGeocoder) ReverseLookup(ctx context.Context, c models.Coordinates) (*models.Place, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	p, ok := g.places[c]
	if !ok {
		return nil, errors.New("unknown point")
	}
	return p, nil
}

const stationsBody = `{
	"ok": true,
	"data": {
		"stations": [
			{
				"id": "51d4b477-a095-1aa0-e100-80009459e03a",
				"name": "JET BERLIN",
				"brand": "JET",
				"street": "Alexanderstr.",
				"house_number": 7,
				"post_code": "10178",
				"lat": 52.5213,
				"lng": 13.4168,
				"prices": {"e5": 1.779, "e10": 1.719, "diesel": 1.659, "e5_change": "up", "lpg": null},
				"openingTimes": {"openingTimes": [{"text": "Mo-Fr", "start": "06:00", "end": "22:00"}]}
			}
		]
	}
}`

var berlin = models.Coordinates{Latitude: 52.52, Longitude: 13.405}
var paris = models.Coordinates{Latitude: 48.8566, Longitude: 2.3522}

func TestNew_RequiresGeocoder(t *testing.T) {
	if _, err := New(api.Options{Logger: zerolog.Nop()}); !errors.Is(err, ErrGeocoderRequired) {
		t.Errorf("New() error = %v, want ErrGeocoderRequired", err)
	}
}

func TestParseFuels(t *testing.T) {
	locs, err := ParseResponse([]byte(stationsBody))
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("len(locs) = %d, want 1", len(locs))
	}
	v := locs[0].View()
	if v.Address != "7 Alexanderstr. 10178" {
		t.Errorf("Address = %q, want %q", v.Address, "7 Alexanderstr. 10178")
	}
	if v.Currency != "EUR" {
		t.Errorf("Currency = %q, want EUR", v.Currency)
	}
	if _, ok := v.Props["opening_times"]; !ok {
		t.Error("opening_times prop missing")
	}

	want := []struct {
		typ  string
		cost string
	}{
		{"DIESEL", "1.659"},
		{"E10", "1.719"},
		{"E5", "1.779"},
	}
	if len(v.Fuels) != len(want) {
		t.Fatalf("fuels = %+v, want %d entries", v.Fuels, len(want))
	}
	for i, w := range want {
		if v.Fuels[i].Type != w.typ || !v.Fuels[i].Cost.Equal(decimal.RequireFromString(w.cost)) {
			t.Errorf("fuel[%d] = %s %s, want %s %s", i, v.Fuels[i].Type, v.Fuels[i].Cost, w.typ, w.cost)
		}
	}
}

func TestParseResponse_NotOK(t *testing.T) {
	_, err := ParseResponse([]byte(`{"ok": false, "message": "invalid postcode"}`))
	if !errors.Is(err, api.ErrInvalidResponse) {
		t.Errorf("ParseResponse() error = %v, want ErrInvalidResponse", err)
	}
}

func TestProvider_Update(t *testing.T) {
	var gotPostcode, gotRadius string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPostcode = r.URL.Query().Get("postcode")
		gotRadius = r.URL.Query().Get("radius")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(stationsBody))
	}))
	defer server.Close()

	geo := &fakeGeocoder{places: map[models.Coordinates]*models.Place{
		berlin: {CountryCode: "de", Postcode: "10178"},
		paris:  {CountryCode: "fr", Postcode: "75001"},
	}}
	areas := []models.Area{
		{Latitude: berlin.Latitude, Longitude: berlin.Longitude, Radius: 5},
		{Latitude: paris.Latitude, Longitude: paris.Longitude, Radius: 5},
	}
	p, err := New(api.Options{BaseURL: server.URL, Geocoder: geo, Areas: areas, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	locs, err := p.Update(context.Background(), nil, true)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(locs) != 1 {
		t.Errorf("len(locs) = %d, want 1", len(locs))
	}
	if gotPostcode != "10178" {
		t.Errorf("postcode = %q, want 10178", gotPostcode)
	}
	if radius, err := strconv.ParseFloat(gotRadius, 64); err != nil || math.Abs(radius-8.04672) > 1e-6 {
		t.Errorf("radius = %q, want 8.04672 km", gotRadius)
	}
	if geo.calls != 2 {
		t.Errorf("geocoder calls = %d, want 2", geo.calls)
	}
	if len(p.LastErrors()) != 0 {
		t.Errorf("LastErrors() = %v, want none", p.LastErrors())
	}
}

func TestProvider_SearchFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(stationsBody))
	}))
	defer server.Close()

	geo := &fakeGeocoder{places: map[models.Coordinates]*models.Place{
		berlin: {CountryCode: "de", Postcode: "10178"},
	}}
	p, err := New(api.Options{BaseURL: server.URL, Geocoder: geo, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	matches, err := p.SearchSites(context.Background(), berlin, 2)
	if err != nil {
		t.Fatalf("SearchSites() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(matches))
	}
	if matches[0].Distance >= 2 {
		t.Errorf("Distance = %.2f, want < 2", matches[0].Distance)
	}
}

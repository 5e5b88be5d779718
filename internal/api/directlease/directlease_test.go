package directlease

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andygrunwald/fuelprices/internal/api"
	"github.com/andygrunwald/fuelprices/internal/models"
)

func TestChecksum(t *testing.T) {
	ts := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	id := uuid.MustParse("6f1c2c1e-8f7d-4a52-9a7c-3c1d2b3e4f50")
	url := "https://tankservice.app-it-up.com/Tankservice/v2/places/123?_v48&lang=en"

	got := Checksum(url, ts, id)

	prefix := "20250402_6f1c2c1e-8f7d-4a52-9a7c-3c1d2b3e4f50/1743588000/"
	if !strings.HasPrefix(got, prefix) {
		t.Fatalf("Checksum() = %q, want prefix %q", got, prefix)
	}
	base := "20250402_6f1c2c1e-8f7d-4a52-9a7c-3c1d2b3e4f50/1743588000//Tankservice/v2/places/123?_v48&lang=en/X-Checksum"
	sum := sha1.Sum([]byte(base))
	if want := prefix + hex.EncodeToString(sum[:]); got != want {
		t.Errorf("Checksum() = %q, want %q", got, want)
	}
}

func TestFuelType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Euro 95 (E10)", "E10"},
		{"Diesel (b7)", "B7"},
		{"LPG", "LPG"},
		{"Super plus", "SUPER PLUS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FuelType(tt.name); got != tt.want {
				t.Errorf("FuelType(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func newServer(t *testing.T, stationCalls *atomic.Int32, placesStatus int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Checksum") == "" {
			t.Error("X-Checksum header missing")
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/places":
			if placesStatus != http.StatusOK {
				w.WriteHeader(placesStatus)
				return
			}
			w.Write([]byte(`[
				{"id": 101, "name": "Tango Utrecht", "lat": 52.0907, "lng": 5.1214, "brand": "Tango", "city": "Utrecht"},
				{"id": 202, "lat": 50.8503, "lng": 4.3517, "brand": "Total", "city": "Brussel"},
				{"id": 303, "lat": 51.2194, "lng": 4.4025, "city": "Antwerpen"}
			]`))
		case strings.HasPrefix(r.URL.Path, "/places/"):
			stationCalls.Add(1)
			w.Write([]byte(`{
				"name": "Tango Utrecht Centrum",
				"brand": "Tango",
				"address": "Catharijnesingel 1",
				"postalCode": "3511 GB",
				"fuels": [
					{"name": "Euro 95 (E10)", "price": 1899},
					{"name": "Diesel (B7)", "price": 1659},
					{"name": "LPG", "price": null}
				]
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestProvider_UpdateAndBuild(t *testing.T) {
	var stationCalls atomic.Int32
	server := newServer(t, &stationCalls, http.StatusOK)
	defer server.Close()

	utrecht := models.Area{Latitude: 52.09, Longitude: 5.12, Radius: 5}
	p := New(api.Options{BaseURL: server.URL, Areas: []models.Area{utrecht}, Logger: zerolog.Nop()})

	locs, err := p.Update(context.Background(), nil, true)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(locs) != 3 {
		t.Fatalf("len(locs) = %d, want 3", len(locs))
	}
	// only the in-area station is built eagerly
	if n := stationCalls.Load(); n != 1 {
		t.Errorf("station calls = %d, want 1", n)
	}

	site, err := p.GetSite(context.Background(), "directlease_101")
	if err != nil {
		t.Fatalf("GetSite() error = %v", err)
	}
	view := site.View()
	if view.PostalCode != "3511 GB" {
		t.Errorf("PostalCode = %q, want 3511 GB", view.PostalCode)
	}
	e10, ok := site.Fuel("E10")
	if !ok {
		t.Fatal("E10 missing")
	}
	if !e10.Cost.Equal(decimal.RequireFromString("1.899")) {
		t.Errorf("E10 cost = %s, want 1.899", e10.Cost)
	}
	lpg, _ := site.Fuel("LPG")
	if !lpg.Cost.IsZero() || lpg.Props["unavailable"] != true {
		t.Errorf("LPG = %+v, want zero cost marked unavailable", lpg)
	}
	if !site.NextUpdate().After(time.Now().Add(24 * time.Hour)) {
		t.Errorf("NextUpdate() = %v, want more than a day ahead", site.NextUpdate())
	}
	// fresh, no second request
	if n := stationCalls.Load(); n != 1 {
		t.Errorf("station calls after GetSite = %d, want 1", n)
	}

	other, _ := p.Lookup("directlease_202")
	if other.View().Name != "Total Brussel" {
		t.Errorf("fallback name = %q, want %q", other.View().Name, "Total Brussel")
	}
	unnamed, _ := p.Lookup("directlease_303")
	if v := unnamed.View(); v.Name != "Unknown site 303" || v.Brand != "Unknown" {
		t.Errorf("unnamed station = %q/%q, want Unknown site 303/Unknown", v.Name, v.Brand)
	}
}

func TestProvider_Blocked(t *testing.T) {
	var stationCalls atomic.Int32
	server := newServer(t, &stationCalls, http.StatusForbidden)
	defer server.Close()

	p := New(api.Options{BaseURL: server.URL, Logger: zerolog.Nop()})

	_, err := p.Update(context.Background(), nil, true)
	var blocked *api.ServiceBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("Update() error = %v, want *api.ServiceBlockedError", err)
	}
	var failed *api.UpdateFailedError
	if !errors.As(err, &failed) || failed.Status != http.StatusForbidden {
		t.Errorf("errors.As(*UpdateFailedError) = %v, want status 403", err)
	}
}

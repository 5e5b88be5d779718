package cma

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andygrunwald/fuelprices/internal/api"
)

const sampleFeed = `{
	"last_updated": "01/05/2025 08:00:00",
	"stations": [
		{
			"site_id": "gcprtbhpnryy",
			"brand": "TESCO",
			"address": "Pound Lane, Thatcham",
			"postcode": "RG19 3TH",
			"location": {"latitude": 51.403, "longitude": "-1.257"},
			"prices": {"E10": 134.9, "B7": 1419, "E5": null, "SDV": 1.559}
		},
		{
			"site_id": 42,
			"brand": "TESCO",
			"address": "High Street",
			"postcode": "OX1 1AA",
			"location": {"latitude": 51.75, "longitude": -1.25},
			"prices": {"E10": 13990}
		}
	]
}`

func TestNormalizePence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"134.9", "134.9"},
		{"1.359", "135.9"},
		{"1359", "135.9"},
		{"13590", "135.9"},
		{"0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizePence(decimal.RequireFromString(tt.in))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("NormalizePence(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	locs, err := ParseResponse("tesco", []byte(sampleFeed))
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("len(locs) = %d, want 2", len(locs))
	}

	first := locs[0].View()
	if first.ID != "tesco_gcprtbhpnryy" {
		t.Errorf("ID = %q, want tesco_gcprtbhpnryy", first.ID)
	}
	if first.Name != "TESCO RG19 3TH" {
		t.Errorf("Name = %q, want %q", first.Name, "TESCO RG19 3TH")
	}
	if first.Currency != "GBP" {
		t.Errorf("Currency = %q, want GBP", first.Currency)
	}
	if first.Longitude != -1.257 {
		t.Errorf("Longitude = %v, want -1.257", first.Longitude)
	}
	if !locs[0].Meta().PreventCacheCleanup {
		t.Error("PreventCacheCleanup = false, want true")
	}

	want := map[string]string{"B7": "141.9", "E10": "134.9", "E5": "0", "SDV": "155.9"}
	if len(first.Fuels) != len(want) {
		t.Fatalf("len(Fuels) = %d, want %d", len(first.Fuels), len(want))
	}
	for _, f := range first.Fuels {
		if !f.Cost.Equal(decimal.RequireFromString(want[f.Type])) {
			t.Errorf("%s cost = %s, want %s", f.Type, f.Cost, want[f.Type])
		}
	}
	if first.Fuels[0].Type != "B7" {
		t.Errorf("first fuel = %s, want B7 (sorted)", first.Fuels[0].Type)
	}

	if locs[1].ID() != "tesco_42" {
		t.Errorf("numeric site id = %q, want tesco_42", locs[1].ID())
	}
}

func TestParseResponse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>maintenance</html>`},
		{"missing stations", `{"last_updated": "x"}`},
		{"bad coordinates", `{"stations": [{"site_id": "1", "location": {"latitude": "north", "longitude": 1}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse("asda", []byte(tt.body))
			if !errors.Is(err, api.ErrInvalidResponse) {
				t.Errorf("ParseResponse() error = %v, want ErrInvalidResponse", err)
			}
		})
	}
}

func TestProvider_Update(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Sec-Fetch-Mode") != "navigate" {
			t.Errorf("Sec-Fetch-Mode = %q, want navigate", r.Header.Get("Sec-Fetch-Mode"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	r, ok := RetailerByName("tesco")
	if !ok {
		t.Fatal("tesco retailer missing")
	}
	p := New(r, api.Options{BaseURL: server.URL, Logger: zerolog.Nop()})

	locs, err := p.Update(context.Background(), nil, true)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(locs) != 2 {
		t.Errorf("len(locs) = %d, want 2", len(locs))
	}
	if p.Name() != "tesco" {
		t.Errorf("Name() = %q, want tesco", p.Name())
	}
}

func TestProvider_UpdateForbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	r, _ := RetailerByName("asda")
	p := New(r, api.Options{BaseURL: server.URL, Logger: zerolog.Nop()})

	_, err := p.Update(context.Background(), nil, true)
	var failed *api.UpdateFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Update() error = %v, want *api.UpdateFailedError", err)
	}
	if failed.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", failed.Status)
	}
}

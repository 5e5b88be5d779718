package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func withClock(t *testing.T, ts time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = prev })
}

type stubBuilder struct {
	calls int
	res   *BuildResult
	err   error
}

func (b *stubBuilder) Build(ctx context.Context, meta Meta) (*BuildResult, error) {
	b.calls++
	return b.res, b.err
}

func TestLocationID(t *testing.T) {
	if got := LocationID("asda", "123"); got != "asda_123" {
		t.Errorf("LocationID() = %q, want %q", got, "asda_123")
	}
}

func TestNewFuel_NegativeCostIsZero(t *testing.T) {
	f := NewFuel("B7", dec("-1.5"), nil)
	if !f.Cost.IsZero() {
		t.Errorf("Cost = %s, want 0", f.Cost)
	}
	if f.IsPriced() {
		t.Error("IsPriced() = true, want false")
	}
}

func TestNewFuelLocation_DeduplicatesFuels(t *testing.T) {
	loc := NewFuelLocation(LocationParams{
		Provider:   "x",
		UpstreamID: "1",
		Fuels: []Fuel{
			NewFuel("B7", dec("1.40"), nil),
			NewFuel("B7", dec("1.50"), nil),
		},
	})

	if loc.FuelCount() != 1 {
		t.Fatalf("FuelCount() = %d, want 1", loc.FuelCount())
	}
	f, _ := loc.Fuel("B7")
	if !f.Cost.Equal(dec("1.50")) {
		t.Errorf("B7 cost = %s, want 1.50", f.Cost)
	}
}

func TestFuelLocation_Merge(t *testing.T) {
	existing := NewFuelLocation(LocationParams{
		Provider:   "x",
		UpstreamID: "1",
		Name:       "Old",
		Fuels:      []Fuel{NewFuel("B7", dec("1.40"), nil)},
	})
	incoming := NewFuelLocation(LocationParams{
		Provider:   "x",
		UpstreamID: "1",
		Name:       "New",
		Fuels: []Fuel{
			NewFuel("B7", dec("1.45"), nil),
			NewFuel("E10", dec("1.30"), nil),
		},
	})

	if err := existing.Merge(context.Background(), incoming); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	fuels := existing.Fuels()
	if len(fuels) != 2 {
		t.Fatalf("len(fuels) = %d, want 2", len(fuels))
	}
	want := []struct {
		typ  string
		cost string
	}{
		{"B7", "1.45"},
		{"E10", "1.30"},
	}
	for i, w := range want {
		if fuels[i].Type != w.typ || !fuels[i].Cost.Equal(dec(w.cost)) {
			t.Errorf("fuels[%d] = %s %s, want %s %s", i, fuels[i].Type, fuels[i].Cost, w.typ, w.cost)
		}
	}
	if existing.View().Name != "New" {
		t.Errorf("Name = %q, want %q", existing.View().Name, "New")
	}

	// idempotent
	if err := existing.Merge(context.Background(), incoming); err != nil {
		t.Fatalf("second Merge() error = %v", err)
	}
	if existing.FuelCount() != 2 {
		t.Errorf("FuelCount() after second merge = %d, want 2", existing.FuelCount())
	}
}

func TestFuelLocation_MergeKeepsFuelsAndNextUpdate(t *testing.T) {
	later := time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	existing := NewFuelLocation(LocationParams{
		Provider:   "x",
		UpstreamID: "1",
		Fuels:      []Fuel{NewFuel("SDV", dec("1.60"), nil)},
		NextUpdate: later,
	})
	incoming := NewFuelLocation(LocationParams{
		Provider:   "x",
		UpstreamID: "1",
		Fuels:      []Fuel{NewFuel("E5", dec("1.55"), nil)},
		NextUpdate: earlier,
	})

	if err := existing.Merge(context.Background(), incoming); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if _, ok := existing.Fuel("SDV"); !ok {
		t.Error("SDV removed by merge")
	}
	if !existing.NextUpdate().Equal(later) {
		t.Errorf("NextUpdate() = %v, want %v", existing.NextUpdate(), later)
	}
}

func TestFuelLocation_MergeBuildsDynamicIncoming(t *testing.T) {
	b := &stubBuilder{res: &BuildResult{Fuels: []Fuel{NewFuel("E10", dec("1.80"), nil)}}}
	existing := NewFuelLocation(LocationParams{
		Provider:     "directlease",
		UpstreamID:   "7",
		DynamicBuild: true,
		Fuels:        []Fuel{NewFuel("E10", dec("1.70"), nil)},
		Builder:      b,
	})
	incoming := NewFuelLocation(LocationParams{
		Provider:     "directlease",
		UpstreamID:   "7",
		DynamicBuild: true,
		Builder:      b,
	})

	if err := existing.Merge(context.Background(), incoming); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if b.calls != 1 {
		t.Errorf("builder calls = %d, want 1", b.calls)
	}
	f, _ := existing.Fuel("E10")
	if !f.Cost.Equal(dec("1.80")) {
		t.Errorf("E10 cost = %s, want 1.80", f.Cost)
	}
}

func TestFuelLocation_DynamicBuild(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	withClock(t, base)

	t.Run("static record is a no-op", func(t *testing.T) {
		loc := NewFuelLocation(LocationParams{Provider: "x", UpstreamID: "1"})
		if err := loc.DynamicBuild(context.Background()); err != nil {
			t.Errorf("DynamicBuild() error = %v", err)
		}
	})

	t.Run("missing builder", func(t *testing.T) {
		loc := NewFuelLocation(LocationParams{Provider: "x", UpstreamID: "1", DynamicBuild: true})
		err := loc.DynamicBuild(context.Background())
		if !errors.Is(err, ErrNotImplemented) {
			t.Errorf("DynamicBuild() error = %v, want ErrNotImplemented", err)
		}
	})

	t.Run("builds empty record and advances next update", func(t *testing.T) {
		next := base.Add(24 * time.Hour)
		b := &stubBuilder{res: &BuildResult{
			Brand:      "Tango",
			Fuels:      []Fuel{NewFuel("EURO95", dec("1.899"), nil)},
			NextUpdate: next,
		}}
		loc := NewFuelLocation(LocationParams{Provider: "x", UpstreamID: "1", DynamicBuild: true, Builder: b})

		if err := loc.DynamicBuild(context.Background()); err != nil {
			t.Fatalf("DynamicBuild() error = %v", err)
		}
		if loc.FuelCount() != 1 {
			t.Errorf("FuelCount() = %d, want 1", loc.FuelCount())
		}
		if !loc.NextUpdate().Equal(next) {
			t.Errorf("NextUpdate() = %v, want %v", loc.NextUpdate(), next)
		}

		// fresh now, second call skipped
		if err := loc.DynamicBuild(context.Background()); err != nil {
			t.Fatalf("DynamicBuild() error = %v", err)
		}
		if b.calls != 1 {
			t.Errorf("builder calls = %d, want 1", b.calls)
		}
	})

	t.Run("error still applies next update", func(t *testing.T) {
		next := base.Add(time.Hour)
		boom := errors.New("blocked")
		b := &stubBuilder{res: &BuildResult{NextUpdate: next}, err: boom}
		loc := NewFuelLocation(LocationParams{Provider: "x", UpstreamID: "1", DynamicBuild: true, Builder: b})

		err := loc.DynamicBuild(context.Background())
		if !errors.Is(err, boom) {
			t.Errorf("DynamicBuild() error = %v, want %v", err, boom)
		}
		if !loc.NextUpdate().Equal(next) {
			t.Errorf("NextUpdate() = %v, want %v", loc.NextUpdate(), next)
		}
	})
}

func TestFuelLocation_EvictIfStale(t *testing.T) {
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	maxAge := 48 * time.Hour

	tests := []struct {
		name      string
		prevent   bool
		access    time.Time
		wantEvict bool
	}{
		{"never accessed", false, time.Time{}, false},
		{"recently accessed", false, base.Add(-time.Hour), false},
		{"stale", false, base.Add(-maxAge), true},
		{"stale but exempt", true, base.Add(-72 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := NewFuelLocation(LocationParams{
				Provider:            "x",
				UpstreamID:          "1",
				PreventCacheCleanup: tt.prevent,
				Fuels:               []Fuel{NewFuel("B7", dec("1.40"), nil)},
			})
			loc.MarkAccessed(tt.access)

			if got := loc.EvictIfStale(base, maxAge); got != tt.wantEvict {
				t.Errorf("EvictIfStale() = %v, want %v", got, tt.wantEvict)
			}
			wantFuels := 1
			if tt.wantEvict {
				wantFuels = 0
			}
			if loc.FuelCount() != wantFuels {
				t.Errorf("FuelCount() = %d, want %d", loc.FuelCount(), wantFuels)
			}
		})
	}
}

func TestFuelLocation_ReadsStampAccess(t *testing.T) {
	ts := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	withClock(t, ts)

	loc := NewFuelLocation(LocationParams{Provider: "x", UpstreamID: "1"})
	_ = loc.Meta()
	_ = loc.Position()
	if !loc.LastAccess().IsZero() {
		t.Fatal("bookkeeping reads stamped last access")
	}

	if _, err := loc.FuelOrErr("B7"); !errors.Is(err, ErrFuelNotFound) {
		t.Errorf("FuelOrErr() error = %v, want ErrFuelNotFound", err)
	}
	if !loc.LastAccess().Equal(ts) {
		t.Errorf("LastAccess() = %v, want %v", loc.LastAccess(), ts)
	}
}

func TestDistance(t *testing.T) {
	london := Coordinates{Latitude: 51.5074, Longitude: -0.1278}
	paris := Coordinates{Latitude: 48.8566, Longitude: 2.3522}

	d := Distance(london, paris)
	if d < 212 || d > 215 {
		t.Errorf("Distance(london, paris) = %.2f, want ~213.5 miles", d)
	}
	if Distance(london, london) != 0 {
		t.Errorf("Distance to self = %v, want 0", Distance(london, london))
	}

	area := Area{Latitude: london.Latitude, Longitude: london.Longitude, Radius: 10}
	if !area.Contains(london) {
		t.Error("area does not contain its centre")
	}
	if area.Contains(paris) {
		t.Error("area contains a point 200 miles away")
	}
}

package pipeline

import (
	"context"
	"os"
	"testing"
	"time"

	"finnscout/internal/config"
	"finnscout/internal/enrich"
	"finnscout/internal/geo"
	"finnscout/internal/gmaps"
	"finnscout/internal/listing"
	"finnscout/internal/mailbox"
	"finnscout/internal/ratelimit"
	"finnscout/internal/store"
)

const alertEmail = `
<html><body>
<div class="sf-search-ad">
  <a href="https://www.finn.no/realestate/lettings/ad.html?finnkode=439665457">Lys 2-roms leilighet 55 m²</a>
  <div>Storgata 5, Oslo</div>
  <div>13 000 kr</div>
</div>
<div class="sf-search-ad">
  <a href="https://www.finn.no/realestate/lettings/ad.html?finnkode=439665458">Hybel</a>
  <div>Ullevål</div>
  <div>9 000 kr</div>
</div>
</body></html>`

type fakeSource struct {
	msgs   []mailbox.Message
	marked []uint32
}

func (f *fakeSource) Fetch(_ context.Context, _ int, _ []string, _ bool) ([]mailbox.Message, error) {
	return f.msgs, nil
}

func (f *fakeSource) MarkProcessed(_ context.Context, uids []uint32) error {
	f.marked = append(f.marked, uids...)
	return nil
}

func (f *fakeSource) Close() error { return nil }

type fakeMaps struct{}

func (fakeMaps) Geocode(_ context.Context, address, _ string) (*geo.LatLng, error) {
	if address == "Storgata 5, Oslo" {
		return &geo.LatLng{Lat: 59.914, Lng: 10.753}, nil
	}
	return nil, nil
}

func (fakeMaps) DistanceMatrix(_ context.Context, _, _ geo.LatLng, mode gmaps.Mode) (*gmaps.RouteResult, error) {
	if mode == gmaps.ModeWalking {
		return &gmaps.RouteResult{DistanceKm: 0.4, DurationMinutes: 6}, nil
	}
	return &gmaps.RouteResult{DistanceKm: 7.2, DurationMinutes: 31}, nil
}

func (fakeMaps) PlaceTextSearch(_ context.Context, _ string, loc geo.LatLng, _ int) ([]gmaps.Place, error) {
	return []gmaps.Place{{Name: "Kiwi Storgata", PlaceID: "pid-kiwi", Location: loc}}, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Shared.SkipAmbiguousAddresses = true
	cfg.Shared.PlaceCategories = map[string]config.PlaceCategoryCfg{
		"grocery": {Keywords: []string{"Kiwi"}, ColumnPrefix: "grocery"},
	}
	cfg.Rental.CompletionPolicy = "all_categories"
	return cfg
}

func testRun(t *testing.T, cfg *config.Config, src mailbox.Source) *Run {
	t.Helper()

	limiter := ratelimit.NewLimiter(1000, 100*time.Second, 0.80, 0.90, 0.95,
		ratelimit.WithClock(time.Now, func(context.Context, time.Duration) error { return nil }))
	budgets := enrich.NewBudgets(cfg.APISafety, nil)

	run, err := NewRun(cfg, Options{PropertyType: "rental", SkipNotify: true}, src, nil, budgets, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	run.Enricher = enrich.New(fakeMaps{}, enrich.NewCaller(limiter, nil), budgets,
		run.Checker, cfg.Shared, nil, nil, cfg.Test.Limit, nil)
	return run
}

func TestExecuteFullRun(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{msgs: []mailbox.Message{{
		UID:     7,
		Subject: "2 nye treff",
		Date:    time.Now().Add(-24 * time.Hour),
		HTML:    alertEmail,
	}}}

	run := testRun(t, cfg, src)
	sum, err := run.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if sum.EmailsFetched != 1 || sum.ListingsParsed != 2 {
		t.Errorf("fetch counts: %d emails, %d listings", sum.EmailsFetched, sum.ListingsParsed)
	}
	if sum.ListingsNew != 2 {
		t.Errorf("new listings = %d, want 2", sum.ListingsNew)
	}
	// Only the unambiguous address is geocoded; "Ullevål" is set aside.
	if sum.Geocode.Attempted != 1 || sum.Geocode.Succeeded != 1 {
		t.Errorf("geocode stats = %+v", sum.Geocode)
	}
	if sum.Exported != 1 {
		t.Errorf("exported = %d, want 1", sum.Exported)
	}
	if len(src.marked) != 1 || src.marked[0] != 7 {
		t.Errorf("marked uids = %v, want [7]", src.marked)
	}

	// The processed table holds the enriched listing.
	processed, err := run.Store.Load(store.KindProcessed)
	if err != nil {
		t.Fatal(err)
	}
	if len(processed) != 1 {
		t.Fatalf("processed rows = %d, want 1", len(processed))
	}
	l := processed[0]
	if l.FinnCode != "439665457" {
		t.Errorf("processed finn code = %s", l.FinnCode)
	}
	if l.TransitTimeToWork == nil || *l.TransitTimeToWork != 31 {
		t.Errorf("commute = %v", l.TransitTimeToWork)
	}
	if l.Places["grocery"] == nil || l.Places["grocery"].NearestName != "Kiwi Storgata" {
		t.Errorf("place = %+v", l.Places["grocery"])
	}
	if l.ProcessingStatus != listing.StatusCompleted {
		t.Errorf("status = %q", l.ProcessingStatus)
	}

	// The ambiguous listing landed in the side table.
	ambiguous, err := run.Store.Load(store.KindAmbiguous)
	if err != nil {
		t.Fatal(err)
	}
	if len(ambiguous) != 1 || ambiguous[0].FinnCode != "439665458" {
		t.Errorf("ambiguous table = %+v", ambiguous)
	}

	// Report exists.
	if _, err := os.Stat(run.reportPath()); err != nil {
		t.Errorf("missing report: %v", err)
	}
}

func TestExecuteSecondRunIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{msgs: []mailbox.Message{{
		UID: 7, Subject: "2 nye treff", Date: time.Now().Add(-24 * time.Hour), HTML: alertEmail,
	}}}

	first := testRun(t, cfg, src)
	if _, err := first.Execute(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := testRun(t, cfg, src)
	sum, err := second.Execute(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if sum.ListingsNew != 0 {
		t.Errorf("second run found %d new listings, want 0", sum.ListingsNew)
	}
	if sum.Geocode.Attempted != 0 {
		t.Errorf("second run re-geocoded: %+v", sum.Geocode)
	}
	if sum.Distance.Attempted != 0 {
		t.Errorf("second run recomputed commutes: %+v", sum.Distance)
	}
}

func TestExecuteTestModeIsolation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Test.Enabled = true
	src := &fakeSource{msgs: []mailbox.Message{{
		UID: 7, Subject: "2 nye treff", Date: time.Now().Add(-24 * time.Hour), HTML: alertEmail,
	}}}

	run := testRun(t, cfg, src)
	if _, err := run.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(src.marked) != 0 {
		t.Error("test mode must not mark emails processed")
	}
	if _, err := os.Stat(run.Store.Path(store.KindProcessed)); err != nil {
		t.Errorf("test table missing: %v", err)
	}
}

func TestExecuteCeilingRaiseRequalifies(t *testing.T) {
	cfg := testConfig(t)
	run := testRun(t, cfg, nil)

	// A listing finished under a 60 minute ceiling with a 70 minute commute:
	// excluded, so its place categories were never enriched.
	seed := &listing.Listing{
		FinnCode:    "439665457",
		Address:     "Storgata 5, Oslo",
		FirstSeenAt: time.Now().Add(-72 * time.Hour),
	}
	seed.SetCoordinates(geo.LatLng{Lat: 59.914, Lng: 10.753})
	seed.TransitTimeToWork = ptrF(70)
	seed.DistanceToWorkKm = ptrF(15)
	seed.WorkLocationUsed = &geo.LatLng{Lat: cfg.Shared.WorkLat, Lng: cfg.Shared.WorkLng}
	seed.MaxTravelTimeUsed = ptrF(60)
	if err := run.Store.Save(store.KindComplete, []*listing.Listing{seed}); err != nil {
		t.Fatal(err)
	}

	cfg.Shared.MaxTransitTimeMinutes = 75
	run = testRun(t, cfg, nil)
	sum, err := run.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if sum.Requalified != 1 {
		t.Errorf("requalified = %d, want 1", sum.Requalified)
	}
	if sum.Places.Attempted != 1 || sum.Places.Succeeded != 1 {
		t.Errorf("places stats = %+v", sum.Places)
	}
	// Neither the coordinates nor the commute are recomputed.
	if sum.Geocode.Attempted != 0 || sum.Distance.Attempted != 0 {
		t.Errorf("requalification re-ran earlier stages: geocode %+v, distance %+v",
			sum.Geocode, sum.Distance)
	}

	processed, err := run.Store.Load(store.KindProcessed)
	if err != nil {
		t.Fatal(err)
	}
	if len(processed) != 1 {
		t.Fatalf("processed rows = %d, want 1", len(processed))
	}
	l := processed[0]
	if l.Places["grocery"] == nil || l.Places["grocery"].NearestName != "Kiwi Storgata" {
		t.Errorf("place not enriched after requalification: %+v", l.Places["grocery"])
	}
	if l.MaxTravelTimeUsed == nil || *l.MaxTravelTimeUsed != 75 {
		t.Errorf("recorded ceiling = %v, want 75", l.MaxTravelTimeUsed)
	}
}

func ptrF(v float64) *float64 { return &v }

func TestRegistryResolve(t *testing.T) {
	r := DefaultRegistry()

	t.Run("full pipeline order", func(t *testing.T) {
		stages, err := r.Resolve()
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"fetch", "merge", "geocode", "distance", "places", "finalize", "export"}
		if len(stages) != len(want) {
			t.Fatalf("got %d stages", len(stages))
		}
		for i, s := range stages {
			if s.Name() != want[i] {
				t.Errorf("stage %d = %s, want %s", i, s.Name(), want[i])
			}
		}
	})

	t.Run("subset pulls dependencies", func(t *testing.T) {
		stages, err := r.Resolve("geocode")
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"fetch", "merge", "geocode"}
		if len(stages) != len(want) {
			t.Fatalf("got %d stages, want %d", len(stages), len(want))
		}
		for i, s := range stages {
			if s.Name() != want[i] {
				t.Errorf("stage %d = %s, want %s", i, s.Name(), want[i])
			}
		}
	})

	t.Run("unknown stage", func(t *testing.T) {
		if _, err := r.Resolve("nonexistent"); err == nil {
			t.Error("expected error for unknown stage")
		}
	})
}

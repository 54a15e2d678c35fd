package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"finnscout/internal/config"
	"finnscout/internal/geo"
	"finnscout/internal/listing"
)

func ptr[T any](v T) *T { return &v }

func testCategories() map[string]config.PlaceCategoryCfg {
	return map[string]config.PlaceCategoryCfg{
		"grocery": {ColumnPrefix: "grocery"},
		"gym":     {ColumnPrefix: "gym", CalculateTransit: true},
	}
}

func sample() *listing.Listing {
	l := &listing.Listing{
		FinnCode:         "439665457",
		Title:            "Lys 2-roms leilighet 55 m²",
		Address:          "Storgata 5, Oslo",
		Price:            ptr(13000),
		Size:             "55",
		RawLink:          "https://www.finn.no/realestate/lettings/ad.html?finnkode=439665457",
		CanonicalLink:    "https://www.finn.no/realestate/lettings/ad.html?finnkode=439665457",
		FirstSeenAt:      time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC),
		ProcessingStatus: listing.StatusCompleted,
	}
	l.SetCoordinates(geo.LatLng{Lat: 59.914, Lng: 10.753})
	l.DistanceToWorkKm = ptr(7.2)
	l.TransitTimeToWork = ptr(31.0)
	l.WorkLocationUsed = &geo.LatLng{Lat: 59.9139, Lng: 10.7522}
	l.MaxTravelTimeUsed = ptr(60.0)
	pr := l.Place("grocery")
	pr.NearestName = "Kiwi Storgata"
	pr.WalkingMinutes = ptr(6.0)
	return l
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir(), "rental", false, testCategories(), nil)

	want := sample()
	if err := s.Save(KindProcessed, []*listing.Listing{want}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(KindProcessed)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}

	l := got[0]
	if l.FinnCode != want.FinnCode || l.Title != want.Title || l.Address != want.Address {
		t.Errorf("descriptive fields mangled: %+v", l)
	}
	if l.Price == nil || *l.Price != 13000 {
		t.Errorf("price = %v", l.Price)
	}
	if !l.FirstSeenAt.Equal(want.FirstSeenAt) {
		t.Errorf("FirstSeenAt = %v, want %v", l.FirstSeenAt, want.FirstSeenAt)
	}
	if l.Latitude == nil || *l.Latitude != 59.914 {
		t.Errorf("latitude = %v", l.Latitude)
	}
	if l.GeocodeStatus != listing.GeocodeSuccess {
		t.Errorf("geocode status = %q", l.GeocodeStatus)
	}
	if l.TransitTimeToWork == nil || *l.TransitTimeToWork != 31.0 {
		t.Errorf("transit = %v", l.TransitTimeToWork)
	}
	if l.WorkLocationUsed == nil || l.WorkLocationUsed.Lat != 59.9139 {
		t.Errorf("work location = %+v", l.WorkLocationUsed)
	}
	pr, ok := l.Places["grocery"]
	if !ok || pr.NearestName != "Kiwi Storgata" || pr.WalkingMinutes == nil || *pr.WalkingMinutes != 6.0 {
		t.Errorf("grocery place = %+v", pr)
	}
	if _, ok := l.Places["gym"]; ok {
		t.Error("empty gym columns must load as absent, not zero-valued")
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := New(t.TempDir(), "rental", false, testCategories(), nil)
	got, err := s.Load(KindComplete)
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestPathNaming(t *testing.T) {
	tests := []struct {
		propertyType string
		testMode     bool
		kind         Kind
		want         string
	}{
		{"rental", false, KindProcessed, "processed_properties.csv"},
		{"sales", false, KindProcessed, "sales_processed_properties.csv"},
		{"rental", false, KindComplete, "complete_properties.csv"},
		{"rental", true, KindProcessed, filepath.Join("test_output", "processed_properties_test.csv")},
		{"sales", true, KindLatest, filepath.Join("test_output", "sales_latest_properties_test.csv")},
	}
	for _, tt := range tests {
		s := New("out", tt.propertyType, tt.testMode, nil, nil)
		want := filepath.Join("out", tt.want)
		if got := s.Path(tt.kind); got != want {
			t.Errorf("Path(%s/%s,test=%v) = %q, want %q", tt.propertyType, tt.kind, tt.testMode, got, want)
		}
	}
}

func TestHeaderStable(t *testing.T) {
	s := New(t.TempDir(), "rental", false, testCategories(), nil)
	if err := s.Save(KindLatest, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(s.Path(KindLatest))
	if err != nil {
		t.Fatal(err)
	}
	header := strings.SplitN(string(data), "\n", 2)[0]

	// Categories sort by name, so grocery columns precede gym columns.
	gi := strings.Index(header, "nearest_grocery")
	yi := strings.Index(header, "nearest_gym")
	if gi == -1 || yi == -1 || gi > yi {
		t.Errorf("category column order wrong in header: %q", header)
	}
	if !strings.HasPrefix(header, "finn_code,title,address") {
		t.Errorf("unexpected leading columns: %q", header)
	}
}

func TestLoadToleratesOldSchema(t *testing.T) {
	dir := t.TempDir()
	// A file written before the gym category existed.
	old := New(dir, "rental", false, map[string]config.PlaceCategoryCfg{
		"grocery": {ColumnPrefix: "grocery"},
	}, nil)
	if err := old.Save(KindProcessed, []*listing.Listing{sample()}); err != nil {
		t.Fatal(err)
	}

	s := New(dir, "rental", false, testCategories(), nil)
	got, err := s.Load(KindProcessed)
	if err != nil {
		t.Fatalf("Load with extended schema: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows", len(got))
	}
	if _, ok := got[0].Places["gym"]; ok {
		t.Error("gym data cannot exist in the old file")
	}
	if pr := got[0].Places["grocery"]; pr == nil || pr.NearestName != "Kiwi Storgata" {
		t.Errorf("grocery place lost: %+v", got[0].Places["grocery"])
	}
}

package completion

import (
	"testing"

	"finnscout/internal/config"
	"finnscout/internal/geo"
	"finnscout/internal/listing"
)

func ptr[T any](v T) *T { return &v }

func testChecker() *Checker {
	return &Checker{
		Categories: map[string]config.PlaceCategoryCfg{
			"grocery": {ColumnPrefix: "grocery"},
			"gym":     {ColumnPrefix: "gym", CalculateTransit: true},
		},
		Policy:        PolicyAllCategories,
		MaxTravelTime: 60,
		WorkLocation:  geo.LatLng{Lat: 59.9139, Lng: 10.7522},
	}
}

func geocoded() *listing.Listing {
	l := &listing.Listing{FinnCode: "439665457", Address: "Storgata 5, Oslo"}
	l.SetCoordinates(geo.LatLng{Lat: 59.914, Lng: 10.753})
	return l
}

func TestNeedsGeocoding(t *testing.T) {
	c := testChecker()
	skip := NewSkipSet("Havnegata 99, Nowhere")

	tests := []struct {
		name string
		l    *listing.Listing
		want bool
	}{
		{"fresh listing", &listing.Listing{Address: "Storgata 5, Oslo"}, true},
		{"already geocoded", geocoded(), false},
		{"unknown address", &listing.Listing{Address: listing.AddressUnknown}, false},
		{"previously failed", &listing.Listing{Address: "Storgata 5, Oslo", GeocodeStatus: listing.GeocodeFailed}, false},
		{"on skip list", &listing.Listing{Address: "havnegata 99, nowhere"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.NeedsGeocoding(tt.l, skip); got != tt.want {
				t.Errorf("NeedsGeocoding = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNeedsDistance(t *testing.T) {
	c := testChecker()

	l := geocoded()
	if !c.NeedsDistance(l) {
		t.Error("geocoded listing without commute must need distance")
	}

	l.TransitTimeToWork = ptr(31.0)
	l.WorkLocationUsed = &c.WorkLocation
	if c.NeedsDistance(l) {
		t.Error("computed commute against current workplace must not need distance")
	}

	// Workplace reconfigured a few kilometers away: stale.
	l.WorkLocationUsed = &geo.LatLng{Lat: 59.8940, Lng: 10.6282}
	if !c.NeedsDistance(l) {
		t.Error("commute against moved workplace must be recomputed")
	}

	// Within ~100m counts as the same workplace.
	l.WorkLocationUsed = &geo.LatLng{Lat: 59.91395, Lng: 10.75225}
	if c.NeedsDistance(l) {
		t.Error("sub-tolerance workplace drift must not trigger recompute")
	}

	if c.NeedsDistance(&listing.Listing{Address: "Storgata 5, Oslo"}) {
		t.Error("ungeocoded listing cannot need distance")
	}
}

func TestThresholdRelaxed(t *testing.T) {
	c := testChecker()
	c.MaxTravelTime = 75

	// Enriched when the ceiling was 60 with a 70 minute commute: it was
	// excluded then, but fits under the raised ceiling now.
	l := geocoded()
	l.TransitTimeToWork = ptr(70.0)
	l.MaxTravelTimeUsed = ptr(60.0)
	if !c.ThresholdRelaxed(l) {
		t.Error("70min commute under a 60->75 ceiling raise must be requeued")
	}

	// A commute that fit under the old ceiling is unaffected.
	l.TransitTimeToWork = ptr(45.0)
	if c.ThresholdRelaxed(l) {
		t.Error("commute within the old ceiling must not be requeued")
	}

	// Still over even the raised ceiling.
	l.TransitTimeToWork = ptr(80.0)
	if c.ThresholdRelaxed(l) {
		t.Error("commute over the new ceiling must stay excluded")
	}
}

func TestNeedsPlaces(t *testing.T) {
	c := testChecker()

	l := geocoded()
	l.TransitTimeToWork = ptr(31.0)
	if !c.NeedsPlaces(l) {
		t.Error("listing without any place data must need places")
	}

	l.Place("grocery").WalkingMinutes = ptr(6.0)
	if !c.NeedsPlaces(l) {
		t.Error("gym category still missing")
	}

	l.Place("gym").WalkingMinutes = ptr(12.0)
	if !c.NeedsPlaces(l) {
		t.Error("gym requires transit minutes too")
	}

	l.Place("gym").TransitMinutes = ptr(8.0)
	if c.NeedsPlaces(l) {
		t.Error("all categories satisfied, nothing to do")
	}

	far := geocoded()
	far.TransitTimeToWork = ptr(90.0)
	if c.NeedsPlaces(far) {
		t.Error("listing over the travel ceiling must skip the place stage")
	}
}

func TestClassify(t *testing.T) {
	c := testChecker()

	t.Run("incomplete until geocoded", func(t *testing.T) {
		l := &listing.Listing{Address: "Storgata 5, Oslo"}
		if got := c.Classify(l); got != listing.StatusIncomplete {
			t.Errorf("status = %v", got)
		}
	})

	t.Run("failed geocode is terminal", func(t *testing.T) {
		l := &listing.Listing{Address: "Storgata 5, Oslo", GeocodeStatus: listing.GeocodeFailed}
		if got := c.Classify(l); got != listing.StatusCompleted {
			t.Errorf("status = %v", got)
		}
	})

	t.Run("over ceiling is complete", func(t *testing.T) {
		l := geocoded()
		l.TransitTimeToWork = ptr(90.0)
		if got := c.Classify(l); got != listing.StatusCompleted {
			t.Errorf("status = %v", got)
		}
	})

	t.Run("all categories policy needs every category", func(t *testing.T) {
		l := geocoded()
		l.TransitTimeToWork = ptr(31.0)
		l.Place("grocery").WalkingMinutes = ptr(6.0)
		if got := c.Classify(l); got != listing.StatusIncomplete {
			t.Errorf("status = %v", got)
		}
		l.Place("gym").WalkingMinutes = ptr(12.0)
		l.Place("gym").TransitMinutes = ptr(8.0)
		if got := c.Classify(l); got != listing.StatusCompleted {
			t.Errorf("status = %v", got)
		}
	})

	t.Run("geocoded policy stops at commute", func(t *testing.T) {
		relaxed := testChecker()
		relaxed.Policy = PolicyGeocoded
		l := geocoded()
		l.TransitTimeToWork = ptr(31.0)
		if got := relaxed.Classify(l); got != listing.StatusCompleted {
			t.Errorf("status = %v", got)
		}
	})
}

func TestSkipSet(t *testing.T) {
	s := NewSkipSet()
	s.Add("Storgata 5, Oslo")

	if !s.Contains("storgata 5, oslo") {
		t.Error("lookup must be case-insensitive")
	}
	if !s.Contains("  Storgata 5, Oslo  ") {
		t.Error("lookup must trim whitespace")
	}
	if s.Contains("Storgata 7, Oslo") {
		t.Error("unrelated address matched")
	}
	if got := len(s.Addresses()); got != 1 {
		t.Errorf("Addresses() len = %d, want 1", got)
	}
}

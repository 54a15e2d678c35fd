// Package listing defines the Listing record and the pure helpers that
// normalize raw scraped fields: finn-code extraction, address ambiguity
// classification and price cleaning.
package listing

import (
	"time"

	"finnscout/internal/geo"
)

// AddressUnknown is the sentinel stored when no address could be parsed.
const AddressUnknown = "Unknown"

// GeocodeStatus tracks the outcome of the geocoding stage for one listing.
type GeocodeStatus string

const (
	GeocodeUnattempted GeocodeStatus = ""
	GeocodeSuccess     GeocodeStatus = "Success"
	GeocodeFailed      GeocodeStatus = "Failed"
)

// Status is the derived completeness classification. It is recomputed from
// field presence on every run and never treated as a source of truth.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
)

// PlaceResult holds the nearest-place enrichment for one configured category.
type PlaceResult struct {
	NearestName    string
	WalkingMinutes *float64
	TransitMinutes *float64
}

// Listing is one property advertisement, accumulated across runs.
//
// Nullable enrichment fields are pointers so that "never computed" is
// distinguishable from a computed zero.
type Listing struct {
	// FinnCode is the stable numeric identifier extracted from the listing
	// URL and used as the dedup key. Empty when no identifier was derivable;
	// such listings are retained but never matched against others.
	FinnCode string

	Title         string
	Address       string
	Price         *int
	Size          string
	RawLink       string
	CanonicalLink string

	// FirstSeenAt is set when the listing is first parsed and preserved
	// verbatim by every later merge.
	FirstSeenAt time.Time

	AddressAmbiguous bool

	Latitude      *float64
	Longitude     *float64
	GeocodeStatus GeocodeStatus

	DistanceToWorkKm  *float64
	TransitTimeToWork *float64 // minutes

	// WorkLocationUsed snapshots the work coordinate that distance data was
	// computed against, so stale results can be detected when it moves.
	WorkLocationUsed *geo.LatLng
	// MaxTravelTimeUsed is the travel-time threshold (minutes) in force when
	// place eligibility was last evaluated.
	MaxTravelTimeUsed *float64

	// Places holds per-category nearest-place results, keyed by category name.
	Places map[string]*PlaceResult

	ProcessingStatus Status
}

// Coordinates returns the geocoded position and whether one is present.
func (l *Listing) Coordinates() (geo.LatLng, bool) {
	if l.Latitude == nil || l.Longitude == nil {
		return geo.LatLng{}, false
	}
	return geo.LatLng{Lat: *l.Latitude, Lng: *l.Longitude}, true
}

// SetCoordinates records a successful geocode result.
func (l *Listing) SetCoordinates(p geo.LatLng) {
	lat, lng := p.Lat, p.Lng
	l.Latitude = &lat
	l.Longitude = &lng
	l.GeocodeStatus = GeocodeSuccess
}

// Place returns the enrichment record for a category, allocating it on first
// use so orchestrators can write results field by field.
func (l *Listing) Place(category string) *PlaceResult {
	if l.Places == nil {
		l.Places = make(map[string]*PlaceResult)
	}
	p, ok := l.Places[category]
	if !ok {
		p = &PlaceResult{}
		l.Places[category] = p
	}
	return p
}

// Clone returns a deep copy. Merge works on copies so re-running it over the
// same inputs has no side effects.
func (l *Listing) Clone() *Listing {
	c := *l
	c.Price = clonePtr(l.Price)
	c.Latitude = clonePtr(l.Latitude)
	c.Longitude = clonePtr(l.Longitude)
	c.DistanceToWorkKm = clonePtr(l.DistanceToWorkKm)
	c.TransitTimeToWork = clonePtr(l.TransitTimeToWork)
	c.WorkLocationUsed = clonePtr(l.WorkLocationUsed)
	c.MaxTravelTimeUsed = clonePtr(l.MaxTravelTimeUsed)
	if l.Places != nil {
		c.Places = make(map[string]*PlaceResult, len(l.Places))
		for k, v := range l.Places {
			p := PlaceResult{
				NearestName:    v.NearestName,
				WalkingMinutes: clonePtr(v.WalkingMinutes),
				TransitMinutes: clonePtr(v.TransitMinutes),
			}
			c.Places[k] = &p
		}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

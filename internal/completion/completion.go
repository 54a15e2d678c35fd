// Package completion decides which enrichment work a listing still needs
// and whether it counts as fully processed. The decisions are pure functions
// of the listing and configuration, so re-runs converge instead of
// re-spending API calls on finished records.
package completion

import (
	"strings"
	"sync"

	"finnscout/internal/config"
	"finnscout/internal/geo"
	"finnscout/internal/listing"
)

// Policy selects what "complete" means for a property type.
type Policy string

const (
	// PolicyAllCategories requires the work commute plus every configured
	// place category.
	PolicyAllCategories Policy = "all_categories"
	// PolicyGeocoded requires only coordinates and the work commute.
	PolicyGeocoded Policy = "geocoded"
)

// ParsePolicy maps a config string to a Policy, defaulting unknown values to
// the stricter one.
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyGeocoded {
		return PolicyGeocoded
	}
	return PolicyAllCategories
}

// workMovedToleranceKm is how far the configured workplace may drift from
// the one a listing was enriched against before commutes are recomputed.
// Roughly 100 meters; re-running the distance stage for a reconfigured
// coordinate that points at the same building would be waste.
const workMovedToleranceKm = 0.1

// Checker evaluates listings against the current configuration.
type Checker struct {
	Categories    map[string]config.PlaceCategoryCfg
	Policy        Policy
	MaxTravelTime float64
	WorkLocation  geo.LatLng
}

// NewChecker builds a Checker for one property type.
func NewChecker(shared config.SharedCfg, ns config.NamespaceCfg) *Checker {
	return &Checker{
		Categories:    shared.PlaceCategories,
		Policy:        ParsePolicy(ns.CompletionPolicy),
		MaxTravelTime: shared.MaxTravelTime(),
		WorkLocation:  shared.WorkLocation(),
	}
}

// NeedsGeocoding reports whether the geocode stage should attempt l.
// Listings without a usable address, already-failed listings and addresses
// on the skip list are not retried.
func (c *Checker) NeedsGeocoding(l *listing.Listing, skip *SkipSet) bool {
	if _, ok := l.Coordinates(); ok {
		return false
	}
	if l.Address == listing.AddressUnknown {
		return false
	}
	if l.GeocodeStatus == listing.GeocodeFailed {
		return false
	}
	if skip != nil && skip.Contains(l.Address) {
		return false
	}
	return true
}

// NeedsDistance reports whether the work commute must be computed or
// recomputed. A commute computed against a workplace that has since moved
// is stale.
func (c *Checker) NeedsDistance(l *listing.Listing) bool {
	if _, ok := l.Coordinates(); !ok {
		return false
	}
	if l.TransitTimeToWork == nil {
		return true
	}
	if l.WorkLocationUsed != nil && geo.Haversine(*l.WorkLocationUsed, c.WorkLocation) > workMovedToleranceKm {
		return true
	}
	return false
}

// WithinTravelTime reports whether l's commute is inside the configured
// ceiling. Listings without a computed commute are not within it.
func (c *Checker) WithinTravelTime(l *listing.Listing) bool {
	return l.TransitTimeToWork != nil && *l.TransitTimeToWork <= c.MaxTravelTime
}

// ThresholdRelaxed reports whether l was excluded under a lower travel-time
// ceiling than the current one. Such listings re-enter the place stage even
// though they were finished under the old configuration.
func (c *Checker) ThresholdRelaxed(l *listing.Listing) bool {
	if l.TransitTimeToWork == nil || l.MaxTravelTimeUsed == nil {
		return false
	}
	return *l.TransitTimeToWork > *l.MaxTravelTimeUsed && *l.TransitTimeToWork <= c.MaxTravelTime
}

// NeedsPlaces reports whether any place category still lacks data for l.
// Listings outside the travel-time ceiling skip the place stage entirely
// unless the ceiling was relaxed past their commute.
func (c *Checker) NeedsPlaces(l *listing.Listing) bool {
	if _, ok := l.Coordinates(); !ok {
		return false
	}
	if !c.WithinTravelTime(l) {
		return false
	}
	for name, cat := range c.Categories {
		if c.categoryIncomplete(l, name, cat) {
			return true
		}
	}
	return false
}

func (c *Checker) categoryIncomplete(l *listing.Listing, name string, cat config.PlaceCategoryCfg) bool {
	pr, ok := l.Places[name]
	if !ok || pr == nil {
		return true
	}
	if pr.WalkingMinutes == nil {
		return true
	}
	if cat.CalculateTransit && pr.TransitMinutes == nil {
		return true
	}
	return false
}

// Classify returns the listing's processing status under the checker's
// policy. Listings whose commute exceeds the ceiling count as completed;
// they are excluded from exports, not pending.
func (c *Checker) Classify(l *listing.Listing) listing.Status {
	if _, hasCoords := l.Coordinates(); !hasCoords {
		// A listing that cannot be geocoded will never progress; failed
		// geocodes are terminal.
		if l.GeocodeStatus == listing.GeocodeFailed || l.Address == listing.AddressUnknown {
			return listing.StatusCompleted
		}
		return listing.StatusIncomplete
	}
	if l.TransitTimeToWork == nil {
		return listing.StatusIncomplete
	}
	if !c.WithinTravelTime(l) {
		return listing.StatusCompleted
	}
	if c.Policy == PolicyGeocoded {
		return listing.StatusCompleted
	}
	for name, cat := range c.Categories {
		if c.categoryIncomplete(l, name, cat) {
			return listing.StatusIncomplete
		}
	}
	return listing.StatusCompleted
}

// SkipSet is a case-insensitive set of addresses known to fail geocoding.
// It is shared across goroutines during the geocode stage.
type SkipSet struct {
	mu    sync.RWMutex
	addrs map[string]struct{}
}

// NewSkipSet builds a SkipSet seeded with the given addresses.
func NewSkipSet(addrs ...string) *SkipSet {
	s := &SkipSet{addrs: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

// Add records an address as unresolvable.
func (s *SkipSet) Add(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addrs[normalize(addr)] = struct{}{}
}

// Contains reports whether addr is on the skip list.
func (s *SkipSet) Contains(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.addrs[normalize(addr)]
	return ok
}

// Addresses returns the skip list contents for persistence.
func (s *SkipSet) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.addrs))
	for a := range s.addrs {
		out = append(out, a)
	}
	return out
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Package enrich runs the Google Maps stages over a set of listings:
// geocoding addresses, computing the work commute and finding nearby places
// per configured category. Every stage is resumable; listings that already
// carry the data are skipped, so interrupted runs pick up where they left
// off without re-spending API calls.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"finnscout/internal/completion"
	"finnscout/internal/config"
	"finnscout/internal/geo"
	"finnscout/internal/gmaps"
	"finnscout/internal/listing"
	"finnscout/internal/ratelimit"
)

// mapsAPI is the slice of gmaps.Client the enricher uses.
type mapsAPI interface {
	Geocode(ctx context.Context, address, region string) (*geo.LatLng, error)
	DistanceMatrix(ctx context.Context, origin, dest geo.LatLng, mode gmaps.Mode) (*gmaps.RouteResult, error)
	PlaceTextSearch(ctx context.Context, query string, location geo.LatLng, radiusMeters int) ([]gmaps.Place, error)
}

// Budgets caps each API for one run.
type Budgets struct {
	Geocode  *ratelimit.Budget
	Distance *ratelimit.Budget
	Places   *ratelimit.Budget
}

// NewBudgets builds the per-API budgets from configuration.
func NewBudgets(cfg config.APISafetyCfg, logger *slog.Logger) Budgets {
	return Budgets{
		Geocode:  ratelimit.NewBudget("geocode", cfg.MaxGeocodeCalls, cfg.WarnAt, cfg.HardStopOnLimit, logger),
		Distance: ratelimit.NewBudget("distance_matrix", cfg.MaxDistanceCalls, cfg.WarnAt, cfg.HardStopOnLimit, logger),
		Places:   ratelimit.NewBudget("places", cfg.MaxPlacesCalls, cfg.WarnAt, cfg.HardStopOnLimit, logger),
	}
}

// StageCounts reports what one stage did.
type StageCounts struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	CacheHits int
}

// Enricher drives the three stages.
type Enricher struct {
	api     mapsAPI
	caller  *Caller
	budgets Budgets
	checker *completion.Checker
	shared  config.SharedCfg
	cache   PlaceCache
	skip    *completion.SkipSet
	log     *slog.Logger

	// limit caps listings touched per stage; zero means unlimited.
	limit int
}

// New builds an Enricher. cache and logger may be nil; skip may be nil when
// no addresses are known bad.
func New(api mapsAPI, caller *Caller, budgets Budgets, checker *completion.Checker,
	shared config.SharedCfg, cache PlaceCache, skip *completion.SkipSet, limit int, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Enricher{
		api:     api,
		caller:  caller,
		budgets: budgets,
		checker: checker,
		shared:  shared,
		cache:   cache,
		skip:    skip,
		limit:   limit,
		log:     logger,
	}
}

// GeocodeAll resolves coordinates for every listing that needs them. A
// geocode that returns no result marks the listing failed and records its
// address in the skip set. Budget exhaustion ends the stage; it is an error
// only when the budget is configured to hard stop.
func (e *Enricher) GeocodeAll(ctx context.Context, listings []*listing.Listing) (StageCounts, error) {
	var counts StageCounts
	for _, l := range listings {
		if !e.checker.NeedsGeocoding(l, e.skip) {
			counts.Skipped++
			continue
		}
		if e.limit > 0 && counts.Attempted >= e.limit {
			break
		}
		counts.Attempted++

		var loc *geo.LatLng
		err := e.caller.Do(ctx, e.budgets.Geocode, "geocode", func(ctx context.Context) error {
			var err error
			loc, err = e.api.Geocode(ctx, l.Address, e.shared.GeocodeRegion)
			return err
		})
		if err != nil {
			if IsBudgetExhausted(err) {
				return counts, e.budgetStop("geocode", e.budgets.Geocode, err)
			}
			counts.Failed++
			e.log.Warn("geocode failed", "finn_code", l.FinnCode, "address", l.Address, "error", err)
			continue
		}

		if loc == nil {
			l.GeocodeStatus = listing.GeocodeFailed
			if e.skip != nil {
				e.skip.Add(l.Address)
			}
			counts.Failed++
			e.log.Info("address not resolvable", "finn_code", l.FinnCode, "address", l.Address)
			continue
		}
		l.SetCoordinates(*loc)
		counts.Succeeded++
	}
	return counts, nil
}

// DistanceAll computes the work commute (transit time and distance) for
// every geocoded listing that lacks one, recording the workplace and
// ceiling it was computed against.
func (e *Enricher) DistanceAll(ctx context.Context, listings []*listing.Listing) (StageCounts, error) {
	var counts StageCounts
	work := e.shared.WorkLocation()

	for _, l := range listings {
		if !e.checker.NeedsDistance(l) {
			counts.Skipped++
			continue
		}
		if e.limit > 0 && counts.Attempted >= e.limit {
			break
		}
		counts.Attempted++

		coords, _ := l.Coordinates()
		var route *gmaps.RouteResult
		err := e.caller.Do(ctx, e.budgets.Distance, "distance_to_work", func(ctx context.Context) error {
			var err error
			route, err = e.api.DistanceMatrix(ctx, coords, work, gmaps.ModeTransit)
			return err
		})
		if err != nil {
			if IsBudgetExhausted(err) {
				return counts, e.budgetStop("distance_matrix", e.budgets.Distance, err)
			}
			counts.Failed++
			e.log.Warn("distance to work failed", "finn_code", l.FinnCode, "error", err)
			continue
		}

		if route == nil {
			// No transit route at all. Record an unreachable commute so the
			// listing is not retried every run.
			unreachable := math.Inf(1)
			l.TransitTimeToWork = &unreachable
		} else {
			t := route.DurationMinutes
			d := route.DistanceKm
			l.TransitTimeToWork = &t
			l.DistanceToWorkKm = &d
		}
		workUsed := work
		maxUsed := e.checker.MaxTravelTime
		l.WorkLocationUsed = &workUsed
		l.MaxTravelTimeUsed = &maxUsed
		counts.Succeeded++
	}
	return counts, nil
}

// PlacesAll fills in nearby places per configured category for listings
// within the travel-time ceiling. Results are cached by rounded location,
// so listings in the same building cost one set of lookups.
func (e *Enricher) PlacesAll(ctx context.Context, listings []*listing.Listing) (StageCounts, error) {
	var counts StageCounts

	catNames := make([]string, 0, len(e.shared.PlaceCategories))
	for name := range e.shared.PlaceCategories {
		catNames = append(catNames, name)
	}
	sort.Strings(catNames)

	for _, l := range listings {
		if !e.checker.NeedsPlaces(l) {
			counts.Skipped++
			continue
		}
		if e.limit > 0 && counts.Attempted >= e.limit {
			break
		}
		counts.Attempted++

		coords, _ := l.Coordinates()
		ok := true
		for _, name := range catNames {
			cat := e.shared.PlaceCategories[name]
			pr := l.Places[name]
			if pr != nil && pr.WalkingMinutes != nil && (!cat.CalculateTransit || pr.TransitMinutes != nil) {
				continue
			}
			if err := e.enrichCategory(ctx, l, coords, name, cat, &counts); err != nil {
				if IsBudgetExhausted(err) {
					return counts, e.budgetStop("places", e.budgets.Places, err)
				}
				ok = false
				e.log.Warn("place lookup failed", "finn_code", l.FinnCode, "category", name, "error", err)
			}
		}
		if ok {
			counts.Succeeded++
		} else {
			counts.Failed++
		}
	}
	return counts, nil
}

func (e *Enricher) enrichCategory(ctx context.Context, l *listing.Listing, coords geo.LatLng,
	name string, cat config.PlaceCategoryCfg, counts *StageCounts) error {

	key := placeCacheKey(coords.Lat, coords.Lng, name, e.shared.SearchRadiusMeters)
	if hit, ok := e.cache.Get(ctx, key); ok {
		counts.CacheHits++
		applyCached(l, name, hit)
		return nil
	}

	nearest, err := e.findNearest(ctx, coords, cat.Keywords)
	if err != nil {
		return err
	}
	if nearest == nil {
		// Nothing in range. Cache the absence so the next run costs nothing.
		e.cache.Set(ctx, key, &cachedPlace{})
		l.Place(name)
		return nil
	}

	result := &cachedPlace{NearestName: nearest.Name}

	var walk *gmaps.RouteResult
	err = e.caller.Do(ctx, e.budgets.Distance, "walking_time", func(ctx context.Context) error {
		var err error
		walk, err = e.api.DistanceMatrix(ctx, coords, nearest.Location, gmaps.ModeWalking)
		return err
	})
	if err != nil {
		return err
	}
	if walk != nil {
		w := walk.DurationMinutes
		result.WalkingMinutes = &w
	}

	if cat.CalculateTransit {
		var transit *gmaps.RouteResult
		err = e.caller.Do(ctx, e.budgets.Distance, "transit_time", func(ctx context.Context) error {
			var err error
			transit, err = e.api.DistanceMatrix(ctx, coords, nearest.Location, gmaps.ModeTransit)
			return err
		})
		if err != nil {
			return err
		}
		if transit != nil {
			tm := transit.DurationMinutes
			result.TransitMinutes = &tm
		}
	}

	e.cache.Set(ctx, key, result)
	applyCached(l, name, result)
	return nil
}

// findNearest searches each keyword and picks the closest hit by straight
// line distance. One Places call per keyword.
func (e *Enricher) findNearest(ctx context.Context, coords geo.LatLng, keywords []string) (*gmaps.Place, error) {
	var best *gmaps.Place
	bestDist := math.Inf(1)
	seen := make(map[string]struct{})

	for _, kw := range keywords {
		var hits []gmaps.Place
		err := e.caller.Do(ctx, e.budgets.Places, "place_search", func(ctx context.Context) error {
			var err error
			hits, err = e.api.PlaceTextSearch(ctx, kw, coords, e.shared.SearchRadiusMeters)
			return err
		})
		if err != nil {
			return nil, err
		}
		for i := range hits {
			// Keyword searches overlap; count each place once.
			if _, dup := seen[hits[i].PlaceID]; dup {
				continue
			}
			seen[hits[i].PlaceID] = struct{}{}
			if d := geo.Haversine(coords, hits[i].Location); d < bestDist {
				bestDist = d
				best = &hits[i]
			}
		}
	}
	return best, nil
}

func applyCached(l *listing.Listing, category string, v *cachedPlace) {
	pr := l.Place(category)
	pr.NearestName = v.NearestName
	if v.WalkingMinutes != nil {
		w := *v.WalkingMinutes
		pr.WalkingMinutes = &w
	}
	if v.TransitMinutes != nil {
		tm := *v.TransitMinutes
		pr.TransitMinutes = &tm
	}
}

// budgetStop converts budget exhaustion into a stage outcome: an error when
// the exhausted budget hard stops, a logged soft stop otherwise.
func (e *Enricher) budgetStop(stage string, b *ratelimit.Budget, err error) error {
	if b.HardStop {
		return fmt.Errorf("%s stage stopped: %w", stage, err)
	}
	e.log.Warn("api budget exhausted, stage stopped", "stage", stage, "error", err)
	return nil
}

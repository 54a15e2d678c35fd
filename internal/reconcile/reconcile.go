// Package reconcile merges freshly parsed listings into persisted state.
// The rule throughout: enrichment data that cost API calls is never
// overwritten by a re-parse, while descriptive fields from the email may
// fill gaps in what was stored.
package reconcile

import (
	"log/slog"
	"sort"

	"finnscout/internal/listing"
)

// Result summarizes one merge for run tracking.
type Result struct {
	Listings []*listing.Listing

	New      int
	Matched  int
	Improved int // matched listings whose descriptive fields got better
	Unkeyed  int // incoming listings without a finn code
}

// Merge folds incoming listings into persisted ones. Identity is the finn
// code; listings without one fall back to raw-link matching. Persisted
// records keep their enrichment and FirstSeenAt; incoming records contribute
// descriptive fields the persisted copy lacks. Persisted listings absent
// from incoming are retained untouched, since alert emails only ever show a
// window of results.
func Merge(persisted, incoming []*listing.Listing, logger *slog.Logger) *Result {
	if logger == nil {
		logger = slog.Default()
	}

	byCode := make(map[string]*listing.Listing)
	byLink := make(map[string]*listing.Listing)
	res := &Result{}

	for _, p := range persisted {
		c := p.Clone()
		res.Listings = append(res.Listings, c)
		if c.FinnCode != "" {
			byCode[c.FinnCode] = c
		} else if c.RawLink != "" {
			byLink[c.RawLink] = c
		}
	}

	for _, in := range incoming {
		var existing *listing.Listing
		if in.FinnCode != "" {
			existing = byCode[in.FinnCode]
		} else {
			res.Unkeyed++
			if in.RawLink != "" {
				existing = byLink[in.RawLink]
			}
		}

		if existing == nil {
			c := in.Clone()
			res.Listings = append(res.Listings, c)
			res.New++
			if c.FinnCode != "" {
				byCode[c.FinnCode] = c
			} else if c.RawLink != "" {
				byLink[c.RawLink] = c
			}
			continue
		}

		res.Matched++
		if fillDescriptive(existing, in) {
			res.Improved++
			logger.Debug("listing improved by re-parse",
				"finn_code", existing.FinnCode, "address", existing.Address)
		}
	}

	sort.SliceStable(res.Listings, func(i, j int) bool {
		return res.Listings[i].FirstSeenAt.Before(res.Listings[j].FirstSeenAt)
	})
	return res
}

// fillDescriptive copies descriptive fields from in where dst lacks them,
// reporting whether anything changed. An address upgrade from Unknown to a
// real street resets the geocode outcome so the listing re-enters the
// geocode stage.
func fillDescriptive(dst, in *listing.Listing) bool {
	changed := false

	if dst.Title == "" && in.Title != "" {
		dst.Title = in.Title
		changed = true
	}
	if (dst.Address == "" || dst.Address == listing.AddressUnknown) &&
		in.Address != "" && in.Address != listing.AddressUnknown {
		dst.Address = in.Address
		dst.AddressAmbiguous = in.AddressAmbiguous
		if _, ok := dst.Coordinates(); !ok {
			dst.GeocodeStatus = listing.GeocodeUnattempted
		}
		changed = true
	}
	if dst.Price == nil && in.Price != nil {
		p := *in.Price
		dst.Price = &p
		changed = true
	}
	if dst.Size == "" && in.Size != "" {
		dst.Size = in.Size
		changed = true
	}
	if dst.CanonicalLink == "" && in.CanonicalLink != "" {
		dst.CanonicalLink = in.CanonicalLink
		changed = true
	}
	if !in.FirstSeenAt.IsZero() && (dst.FirstSeenAt.IsZero() || in.FirstSeenAt.Before(dst.FirstSeenAt)) {
		dst.FirstSeenAt = in.FirstSeenAt
		changed = true
	}
	return changed
}

// ImportBulk folds listings from a pre-enrichment bulk source (such as a
// scraped master list) into the complete table. A bulk listing is added only
// when its finn code is absent from both the complete and the processed
// table; bulk rows never carry trustworthy enrichment, so coordinates and
// downstream fields start empty regardless of what the source file held.
// Returns the merged table and the number of rows added.
func ImportBulk(complete, processed, bulk []*listing.Listing, logger *slog.Logger) ([]*listing.Listing, int) {
	if logger == nil {
		logger = slog.Default()
	}

	known := make(map[string]struct{}, len(complete)+len(processed))
	for _, l := range complete {
		if l.FinnCode != "" {
			known[l.FinnCode] = struct{}{}
		}
	}
	for _, l := range processed {
		if l.FinnCode != "" {
			known[l.FinnCode] = struct{}{}
		}
	}

	out := complete
	added := 0
	for _, b := range bulk {
		if b.FinnCode == "" {
			logger.Debug("bulk listing without finn code skipped", "link", b.RawLink)
			continue
		}
		if _, ok := known[b.FinnCode]; ok {
			continue
		}
		c := b.Clone()
		stripEnrichment(c)
		out = append(out, c)
		known[c.FinnCode] = struct{}{}
		added++
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
	})
	logger.Info("bulk listings imported", "candidates", len(bulk), "added", added)
	return out, added
}

func stripEnrichment(l *listing.Listing) {
	l.Latitude = nil
	l.Longitude = nil
	l.GeocodeStatus = listing.GeocodeUnattempted
	l.DistanceToWorkKm = nil
	l.TransitTimeToWork = nil
	l.WorkLocationUsed = nil
	l.MaxTravelTimeUsed = nil
	l.Places = nil
	l.ProcessingStatus = listing.StatusIncomplete
}

// Backfill copies enrichment fields from fully processed records onto the
// matching records in the master table. The processed table is the source
// of truth for anything that cost an API call.
func Backfill(master, processed []*listing.Listing) int {
	byCode := make(map[string]*listing.Listing, len(processed))
	for _, p := range processed {
		if p.FinnCode != "" {
			byCode[p.FinnCode] = p
		}
	}

	updated := 0
	for _, m := range master {
		p, ok := byCode[m.FinnCode]
		if !ok {
			continue
		}
		if copyEnrichment(m, p) {
			updated++
		}
	}
	return updated
}

func copyEnrichment(dst, src *listing.Listing) bool {
	changed := false

	// A hand-edited table can carry one coordinate without the other;
	// half a position is no position.
	if dst.Latitude == nil && src.Latitude != nil && src.Longitude != nil {
		lat, lng := *src.Latitude, *src.Longitude
		dst.Latitude, dst.Longitude = &lat, &lng
		dst.GeocodeStatus = src.GeocodeStatus
		changed = true
	}
	if dst.GeocodeStatus == listing.GeocodeUnattempted && src.GeocodeStatus != listing.GeocodeUnattempted {
		dst.GeocodeStatus = src.GeocodeStatus
		changed = true
	}
	if dst.DistanceToWorkKm == nil && src.DistanceToWorkKm != nil {
		v := *src.DistanceToWorkKm
		dst.DistanceToWorkKm = &v
		changed = true
	}
	if dst.TransitTimeToWork == nil && src.TransitTimeToWork != nil {
		v := *src.TransitTimeToWork
		dst.TransitTimeToWork = &v
		changed = true
	}
	if dst.WorkLocationUsed == nil && src.WorkLocationUsed != nil {
		loc := *src.WorkLocationUsed
		dst.WorkLocationUsed = &loc
		changed = true
	}
	if dst.MaxTravelTimeUsed == nil && src.MaxTravelTimeUsed != nil {
		v := *src.MaxTravelTimeUsed
		dst.MaxTravelTimeUsed = &v
		changed = true
	}
	for name, pr := range src.Places {
		if pr == nil {
			continue
		}
		existing, ok := dst.Places[name]
		if ok && existing != nil && existing.WalkingMinutes != nil {
			continue
		}
		cp := *pr
		if pr.WalkingMinutes != nil {
			w := *pr.WalkingMinutes
			cp.WalkingMinutes = &w
		}
		if pr.TransitMinutes != nil {
			tm := *pr.TransitMinutes
			cp.TransitMinutes = &tm
		}
		dst.Place(name)
		dst.Places[name] = &cp
		changed = true
	}
	return changed
}

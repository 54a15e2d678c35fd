package export

import (
	"sort"
	"strconv"
	"time"

	"finnscout/internal/config"
	"finnscout/internal/listing"
)

// exportColumns is the fixed part of the report, in output order.
var exportColumns = []string{
	"finn_code",
	"title",
	"address",
	"price",
	"size_m2",
	"distance_to_work_km",
	"transit_time_to_work_minutes",
	"link",
	"first_seen_at",
}

// Columns returns the full ordered column list for the given categories.
func Columns(cats map[string]config.PlaceCategoryCfg) []string {
	cols := append([]string(nil), exportColumns...)
	for _, c := range sortedCategories(cats) {
		cols = append(cols,
			"nearest_"+c.prefix,
			"walking_time_"+c.prefix+"_minutes")
		if c.transit {
			cols = append(cols, "transit_time_"+c.prefix+"_minutes")
		}
	}
	return cols
}

type catCol struct {
	name    string
	prefix  string
	transit bool
}

func sortedCategories(cats map[string]config.PlaceCategoryCfg) []catCol {
	out := make([]catCol, 0, len(cats))
	for name, c := range cats {
		prefix := c.ColumnPrefix
		if prefix == "" {
			prefix = name
		}
		out = append(out, catCol{name: name, prefix: prefix, transit: c.CalculateTransit})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// valuer renders listing fields as the strings the filter and sort engines
// compare. It carries the prefix-to-category mapping so place columns
// resolve even when a category's column prefix differs from its name.
type valuer struct {
	prefixToCat map[string]string
}

func newValuer(cats map[string]config.PlaceCategoryCfg) *valuer {
	v := &valuer{prefixToCat: make(map[string]string, len(cats))}
	for _, c := range sortedCategories(cats) {
		v.prefixToCat[c.prefix] = c.name
	}
	return v
}

func (v *valuer) value(l *listing.Listing, column string) string {
	switch column {
	case "finn_code":
		return l.FinnCode
	case "title":
		return l.Title
	case "address":
		return l.Address
	case "address_ambiguous":
		return strconv.FormatBool(l.AddressAmbiguous)
	case "price":
		if l.Price == nil {
			return ""
		}
		return strconv.Itoa(*l.Price)
	case "size_m2":
		return l.Size
	case "link":
		if l.CanonicalLink != "" {
			return l.CanonicalLink
		}
		return l.RawLink
	case "first_seen_at":
		if l.FirstSeenAt.IsZero() {
			return ""
		}
		return l.FirstSeenAt.UTC().Format(time.RFC3339)
	case "latitude":
		return floatStr(l.Latitude)
	case "longitude":
		return floatStr(l.Longitude)
	case "geocode_status":
		return string(l.GeocodeStatus)
	case "distance_to_work_km":
		return floatStr(l.DistanceToWorkKm)
	case "transit_time_to_work_minutes":
		return floatStr(l.TransitTimeToWork)
	case "processing_status":
		return string(l.ProcessingStatus)
	}

	// Per-category columns.
	for prefix, cat := range v.prefixToCat {
		pr := l.Places[cat]
		if pr == nil {
			continue
		}
		switch column {
		case "nearest_" + prefix:
			return pr.NearestName
		case "walking_time_" + prefix + "_minutes":
			return floatStr(pr.WalkingMinutes)
		case "transit_time_" + prefix + "_minutes":
			return floatStr(pr.TransitMinutes)
		}
	}
	return ""
}

func floatStr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Package export turns the processed listing table into the xlsx report the
// alerts end in: filtered by the configured rules, sorted, and optionally
// mailed out.
package export

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"finnscout/internal/config"
	"finnscout/internal/listing"
)

// Apply filters and sorts listings per the export configuration. The input
// slice is not modified.
func Apply(listings []*listing.Listing, cfg config.ExportCfg, cats map[string]config.PlaceCategoryCfg) ([]*listing.Listing, error) {
	groups, err := groupRules(cfg.Filters)
	if err != nil {
		return nil, err
	}
	v := newValuer(cats)

	out := make([]*listing.Listing, 0, len(listings))
	for _, l := range listings {
		if matchesAll(v, l, groups) {
			out = append(out, l)
		}
	}
	sortListings(v, out, cfg.Sort)
	return out, nil
}

// groupRules validates the rules and splits them into AND-ed groups of
// OR-ed conditions. A rule with Or set joins the preceding group.
func groupRules(rules []config.FilterRule) ([][]config.FilterRule, error) {
	var groups [][]config.FilterRule
	for i, r := range rules {
		if !validOp(r.Op) {
			return nil, fmt.Errorf("filter rule %d: unknown operator %q", i+1, r.Op)
		}
		if r.Or {
			if len(groups) == 0 {
				return nil, fmt.Errorf("filter rule %d: or without a preceding rule", i+1)
			}
			groups[len(groups)-1] = append(groups[len(groups)-1], r)
			continue
		}
		groups = append(groups, []config.FilterRule{r})
	}
	return groups, nil
}

func matchesAll(v *valuer, l *listing.Listing, groups [][]config.FilterRule) bool {
	for _, group := range groups {
		anyTrue := false
		for _, r := range group {
			if evalRule(v, l, r) {
				anyTrue = true
				break
			}
		}
		if !anyTrue {
			return false
		}
	}
	return true
}

func validOp(op string) bool {
	switch op {
	case "<=", ">=", "<", ">", "==", "!=", "contains", "startswith", "is_empty", "is_not_empty":
		return true
	}
	return false
}

func evalRule(v *valuer, l *listing.Listing, r config.FilterRule) bool {
	val := v.value(l, r.Column)

	switch r.Op {
	case "is_empty":
		return val == ""
	case "is_not_empty":
		return val != ""
	case "contains":
		return strings.Contains(strings.ToLower(val), strings.ToLower(r.Value))
	case "startswith":
		return strings.HasPrefix(strings.ToLower(val), strings.ToLower(r.Value))
	}

	// Relational operators compare numerically when both sides parse;
	// otherwise they fall back to string comparison. A rule against an
	// absent value never matches, so missing data is excluded rather than
	// accidentally included.
	if val == "" {
		return false
	}
	lv, lerr := strconv.ParseFloat(val, 64)
	rv, rerr := strconv.ParseFloat(r.Value, 64)
	if lerr == nil && rerr == nil {
		return compareFloat(lv, rv, r.Op)
	}
	return compareString(val, r.Value, r.Op)
}

func compareFloat(a, b float64, op string) bool {
	switch op {
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case ">":
		return a > b
	case "==":
		return a == b
	case "!=":
		return a != b
	}
	return false
}

func compareString(a, b, op string) bool {
	switch op {
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case ">":
		return a > b
	case "==":
		return a == b
	case "!=":
		return a != b
	}
	return false
}

// sortListings orders by the configured keys in sequence, numeric-aware.
// Listings missing a sort value go last regardless of direction.
func sortListings(v *valuer, listings []*listing.Listing, rules []config.SortRule) {
	if len(rules) == 0 {
		return
	}
	sort.SliceStable(listings, func(i, j int) bool {
		for _, r := range rules {
			a := v.value(listings[i], r.Column)
			b := v.value(listings[j], r.Column)
			if a == b {
				continue
			}
			if a == "" {
				return false
			}
			if b == "" {
				return true
			}

			var less bool
			av, aerr := strconv.ParseFloat(a, 64)
			bv, berr := strconv.ParseFloat(b, 64)
			if aerr == nil && berr == nil {
				less = av < bv
			} else {
				less = a < b
			}
			if r.Descending {
				return !less
			}
			return less
		}
		return false
	})
}

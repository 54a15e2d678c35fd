package listing

import "strings"

// vaguePlaces are area names that geocode to a city or suburb centroid
// rather than a street address. An address that is nothing but one of these
// is too imprecise to trust.
var vaguePlaces = map[string]struct{}{
	"oslo":       {},
	"bærum":      {},
	"baerum":     {},
	"asker":      {},
	"lillestrøm": {},
	"lørenskog":  {},
	"sandvika":   {},
	"lysaker":    {},
	"fornebu":    {},
	"ullevål":    {},
	"drammen":    {},
	"bekkestua":  {},
	"kolbotn":    {},
	"stabekk":    {},
	"ski":        {},
	"nordstrand": {},
	"majorstuen": {},
	"grünerløkka": {},
}

// IsAddressAmbiguous reports whether an address string is too vague for
// reliable geocoding. The check is deliberately loose: it does not require a
// numeric street number, since many valid Norwegian addresses (named farms,
// lettered entrances) lack one.
func IsAddressAmbiguous(address string) bool {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == "" || addr == strings.ToLower(AddressUnknown) {
		return true
	}
	if _, vague := vaguePlaces[addr]; vague {
		return true
	}
	// Without a comma there is no street/city separation to anchor on.
	if !strings.Contains(addr, ",") {
		return true
	}
	pre := strings.TrimSpace(addr[:strings.Index(addr, ",")])
	if _, vague := vaguePlaces[pre]; vague {
		return true
	}
	// A single token cannot carry both a street and a place.
	if len(strings.Fields(addr)) < 2 {
		return true
	}
	return false
}

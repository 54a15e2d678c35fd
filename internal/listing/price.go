package listing

import (
	"regexp"
	"strconv"
	"strings"
)

var sizeRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*m(?:²|2)`)

// CleanPrice normalizes a locale-formatted currency string to an integer
// amount, e.g. "13 000 kr" -> 13000. Returns nil for the Unknown sentinel
// and for anything that does not parse as a number.
func CleanPrice(raw string) *int {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, AddressUnknown) {
		return nil
	}
	s = strings.ReplaceAll(s, "kr", "")
	s = strings.ReplaceAll(s, " ", "") // non-breaking space
	s = strings.ReplaceAll(s, " ", "") // narrow non-breaking space
	s = strings.ReplaceAll(s, " ", "")
	// Thousands-separator dots, e.g. "1.250.000".
	if strings.Count(s, ".") > 1 {
		s = strings.ReplaceAll(s, ".", "")
	}
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int(f)
	return &n
}

// ExtractSize pulls the square-meter figure out of a listing title, e.g.
// "Lys 2-roms, 45 m² på Majorstuen" -> "45". Empty when the title carries
// no area token.
func ExtractSize(title string) string {
	m := sizeRe.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	return m[1]
}

package listing

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Finn alert emails carry the listing URL in several shapes: a direct ad URL
// with a finnkode query parameter, a short numeric path, a click-tracking
// redirect that percent-encodes the real URL after a fixed path marker, and
// an occasional malformed URL where the domain prefix appears twice with no
// separator. ExtractFinnCode normalizes all of them to the bare numeric code.

const (
	redirectMarker = "/urlsend/"
	domainPrefix   = "https://www.finn.no"
)

var (
	finnkodeParamRe   = regexp.MustCompile(`(?i)finnkode[=:](\d+)`)
	shortPathRe       = regexp.MustCompile(`finn\.no/(\d{6,12})(?:[/?#]|$)`)
	encodedFinnkodeRe = regexp.MustCompile(`(?i)finnkode%3D(\d+)`)
)

// ExtractFinnCode derives the stable listing identifier from any supported
// URL shape. It returns "" when no code can be found; callers must treat
// that as "cannot dedupe, keep as-is", never as an error.
func ExtractFinnCode(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	repaired := repairDoublePrefix(strings.TrimSpace(rawURL))
	decoded := decodeRedirect(repaired)

	if m := finnkodeParamRe.FindStringSubmatch(decoded); m != nil {
		return m[1]
	}
	if m := shortPathRe.FindStringSubmatch(decoded); m != nil {
		return m[1]
	}
	// The redirect payload is sometimes double-encoded; if decoding changed
	// the URL, re-scan both forms for a still-encoded finnkode.
	if decoded != repaired {
		if m := encodedFinnkodeRe.FindStringSubmatch(decoded); m != nil {
			return m[1]
		}
		if m := encodedFinnkodeRe.FindStringSubmatch(repaired); m != nil {
			return m[1]
		}
	}
	return ""
}

// CanonicalURL builds the direct ad URL for a finn-code. The path segment
// differs between the rental and sale verticals.
func CanonicalURL(finnCode string, propertyType string) string {
	segment := "realestate/lettings"
	if propertyType == "sales" {
		segment = "realestate/homes"
	}
	return fmt.Sprintf("%s/%s/ad.html?finnkode=%s", domainPrefix, segment, finnCode)
}

// decodeRedirect unwraps one layer of click-tracking indirection: everything
// after the redirect marker is the percent-encoded target URL. The input is
// returned unchanged when no marker is present or unescaping fails.
func decodeRedirect(u string) string {
	idx := strings.Index(u, redirectMarker)
	if idx < 0 {
		return u
	}
	payload := u[idx+len(redirectMarker):]
	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		return u
	}
	return decoded
}

// repairDoublePrefix fixes the known malformation where the finn.no domain
// prefix is concatenated twice without a separator.
func repairDoublePrefix(u string) string {
	return strings.Replace(u, domainPrefix+domainPrefix, domainPrefix, 1)
}

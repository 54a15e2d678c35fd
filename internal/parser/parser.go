// Package parser extracts property listings from Finn.no alert email HTML.
//
// Finn has shipped two markup generations for these emails. The old layout
// wraps each listing in an element with class "sf-search-ad"; the new layout
// marks listing headings with "sf-realestate-heading". Both appear in real
// mailboxes at once, so the parser tries the new layout first and falls
// back to the old one.
package parser

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"finnscout/internal/listing"
)

const (
	newLayoutMarker = ".sf-realestate-heading"
	oldLayoutMarker = ".sf-search-ad"

	// Finn uses this in place of an address when the advertiser is private.
	privatePlaceholder = "Privat"
)

// Parser turns one alert email body into listing records.
type Parser struct {
	log *slog.Logger
	now func() time.Time
}

// New returns a Parser. logger may be nil.
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{log: logger, now: time.Now}
}

// Parse extracts every listing it can from the email HTML. One broken
// listing block never discards the rest of the email; it is logged and
// skipped. An email with no recognizable layout yields an empty slice, not
// an error, since digest mails without listings are routine.
func (p *Parser) Parse(html string, propertyType string) ([]*listing.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing email HTML: %w", err)
	}

	var out []*listing.Listing
	if doc.Find(newLayoutMarker).Length() > 0 {
		out = p.parseNewLayout(doc, propertyType)
	} else if doc.Find(oldLayoutMarker).Length() > 0 {
		out = p.parseOldLayout(doc, propertyType)
	} else {
		p.log.Debug("no listing layout markers in email", "property_type", propertyType)
	}
	return out, nil
}

// parseNewLayout handles the current markup, where the heading anchor carries
// the link and title, and the surrounding container holds address and price
// spans.
func (p *Parser) parseNewLayout(doc *goquery.Document, propertyType string) []*listing.Listing {
	var out []*listing.Listing
	doc.Find(newLayoutMarker).Each(func(i int, heading *goquery.Selection) {
		l := p.safeExtract(i, func() *listing.Listing {
			anchor := heading
			if !heading.Is("a") {
				anchor = heading.Find("a").First()
			}
			href, ok := anchor.Attr("href")
			if !ok || href == "" {
				return nil
			}

			l := newListing(href, propertyType, p.now())
			l.Title = cleanText(anchor.Text())

			// Address and price live in sibling text nodes within the card.
			// Fragment order flips around the price line: before it the card
			// lists street then locality, after it locality then street.
			card := heading.Closest("td, div")
			var street, location string
			priceSeen := false
			card.Find("span, p").Each(func(_ int, s *goquery.Selection) {
				text := cleanText(s.Text())
				switch {
				case text == "" || text == l.Title || text == privatePlaceholder:
				case isPriceText(text):
					if l.Price == nil {
						l.Price = listing.CleanPrice(text)
					}
					priceSeen = true
				case priceSeen && location == "":
					location = text
				case street == "":
					street = text
				case location == "":
					location = text
				}
			})
			l.Address = composeAddress(street, location)
			finishListing(l)
			return l
		})
		if l != nil {
			out = append(out, l)
		}
	})
	return out
}

// parseOldLayout handles the legacy markup, where each .sf-search-ad block is
// a self-contained card with an anchor, an address line, and a price line.
func (p *Parser) parseOldLayout(doc *goquery.Document, propertyType string) []*listing.Listing {
	var out []*listing.Listing
	doc.Find(oldLayoutMarker).Each(func(i int, card *goquery.Selection) {
		l := p.safeExtract(i, func() *listing.Listing {
			anchor := card.Find("a[href]").First()
			href, ok := anchor.Attr("href")
			if !ok || href == "" {
				return nil
			}

			l := newListing(href, propertyType, p.now())
			l.Title = cleanText(anchor.Text())

			card.Find("div, span, p").Each(func(_ int, s *goquery.Selection) {
				// Only leaf nodes; containers repeat their children's text.
				if s.Children().Length() > 0 {
					return
				}
				text := cleanText(s.Text())
				switch {
				case text == "" || text == l.Title:
				case isPriceText(text):
					if l.Price == nil {
						l.Price = listing.CleanPrice(text)
					}
				case l.Address == "":
					l.Address = text
				}
			})
			finishListing(l)
			return l
		})
		if l != nil {
			out = append(out, l)
		}
	})
	return out
}

// safeExtract isolates one listing block so a panic in goquery traversal of
// malformed markup costs only that block.
func (p *Parser) safeExtract(index int, fn func() *listing.Listing) (l *listing.Listing) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("skipping malformed listing block", "index", index, "panic", r)
			l = nil
		}
	}()
	l = fn()
	if l == nil {
		p.log.Debug("listing block without link, skipped", "index", index)
	}
	return l
}

func newListing(href, propertyType string, seenAt time.Time) *listing.Listing {
	l := &listing.Listing{
		RawLink:     href,
		FirstSeenAt: seenAt,
	}
	if code := listing.ExtractFinnCode(href); code != "" {
		l.FinnCode = code
		l.CanonicalLink = listing.CanonicalURL(code, propertyType)
	}
	return l
}

// finishListing derives the fields that depend on the extracted text.
func finishListing(l *listing.Listing) {
	if l.Address == "" || l.Address == privatePlaceholder {
		l.Address = listing.AddressUnknown
	}
	l.AddressAmbiguous = listing.IsAddressAmbiguous(l.Address)
	if l.Size == "" {
		l.Size = listing.ExtractSize(l.Title)
	}
}

// composeAddress joins the street and locality lines the new layout splits,
// producing "Storgata 5, Oslo". Either part may be missing.
func composeAddress(street, location string) string {
	street = strings.TrimSuffix(strings.TrimSpace(street), ",")
	location = strings.TrimSpace(location)
	switch {
	case street == "" && location == "":
		return ""
	case street == "":
		return location
	case location == "":
		return street
	case strings.Contains(street, ","):
		// Street line already carries the locality.
		return street
	default:
		return street + ", " + location
	}
}

func isPriceText(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "kr") && strings.ContainsAny(text, "0123456789")
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

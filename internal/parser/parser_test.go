package parser

import (
	"testing"

	"finnscout/internal/listing"
)

const oldLayoutEmail = `
<html><body><table>
<tr><td class="sf-search-ad">
  <a href="https://www.finn.no/realestate/lettings/ad.html?finnkode=439665457">Lys 2-roms leilighet 55 m²</a>
  <div>Storgata 5, Oslo</div>
  <div>13 000 kr</div>
</td></tr>
<tr><td class="sf-search-ad">
  <a href="https://enurl.finn.no/u/urlsend/abc123?url=https%3A%2F%2Fwww.finn.no%2Frealestate%2Flettings%2Fad.html%3Ffinnkode%3D398877123">Koselig hybel</a>
  <div>Ullevål</div>
  <div>9 500 kr</div>
</td></tr>
<tr><td class="sf-search-ad">
  <div>Malformed card without any link</div>
  <div>7 000 kr</div>
</td></tr>
<tr><td class="sf-search-ad">
  <a href="https://www.finn.no/realestate/lettings/ad.html?finnkode=412000999">Rom i kollektiv</a>
  <div>Privat</div>
  <div>6 800 kr</div>
</td></tr>
</table></body></html>`

const newLayoutEmail = `
<html><body><table>
<tr><td>
  <a class="sf-realestate-heading" href="https://www.finn.no/realestate/homes/ad.html?finnkode=350222111">Moderne 3-roms 72 m2</a>
  <span>Kantorveien 8,</span>
  <span>Kolbotn</span>
  <span>4 250 000 kr</span>
</td></tr>
<tr><td>
  <a class="sf-realestate-heading" href="https://www.finn.no/350222112">Enebolig med utsikt</a>
  <span>Gamle Drammensvei 40,</span>
  <span>Stabekk</span>
  <span>8 900 000 kr</span>
</td></tr>
<tr><td>
  <a class="sf-realestate-heading" href="https://www.finn.no/realestate/homes/ad.html?finnkode=412999888">Selveier med balkong</a>
  <span>3 600 000 kr</span>
  <span>Privat</span>
  <span>Majorstuen</span>
  <span>Storgata 5</span>
</td></tr>
</table></body></html>`

func TestParseOldLayout(t *testing.T) {
	p := New(nil)
	got, err := p.Parse(oldLayoutEmail, "rental")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d listings, want 3 (card without link must be skipped)", len(got))
	}

	first := got[0]
	if first.FinnCode != "439665457" {
		t.Errorf("finn code = %q", first.FinnCode)
	}
	if first.Title != "Lys 2-roms leilighet 55 m²" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Address != "Storgata 5, Oslo" {
		t.Errorf("address = %q", first.Address)
	}
	if first.AddressAmbiguous {
		t.Error("full street address flagged ambiguous")
	}
	if first.Price == nil || *first.Price != 13000 {
		t.Errorf("price = %v, want 13000", first.Price)
	}
	if first.Size != "55" {
		t.Errorf("size = %q, want 55", first.Size)
	}
	if first.CanonicalLink != "https://www.finn.no/realestate/lettings/ad.html?finnkode=439665457" {
		t.Errorf("canonical link = %q", first.CanonicalLink)
	}

	second := got[1]
	if second.FinnCode != "398877123" {
		t.Errorf("redirect-wrapped finn code = %q", second.FinnCode)
	}
	if !second.AddressAmbiguous {
		t.Error("bare locality should be ambiguous")
	}

	private := got[2]
	if private.Address != listing.AddressUnknown {
		t.Errorf("Privat placeholder address = %q, want %q", private.Address, listing.AddressUnknown)
	}
	if !private.AddressAmbiguous {
		t.Error("unknown address must be ambiguous")
	}
}

func TestParseNewLayout(t *testing.T) {
	p := New(nil)
	got, err := p.Parse(newLayoutEmail, "sales")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d listings, want 3", len(got))
	}

	first := got[0]
	if first.FinnCode != "350222111" {
		t.Errorf("finn code = %q", first.FinnCode)
	}
	if first.Address != "Kantorveien 8, Kolbotn" {
		t.Errorf("composed address = %q", first.Address)
	}
	if first.AddressAmbiguous {
		t.Error("street plus locality flagged ambiguous")
	}
	if first.Price == nil || *first.Price != 4250000 {
		t.Errorf("price = %v, want 4250000", first.Price)
	}
	if first.Size != "72" {
		t.Errorf("size = %q, want 72", first.Size)
	}
	if first.CanonicalLink != "https://www.finn.no/realestate/homes/ad.html?finnkode=350222111" {
		t.Errorf("sales canonical link = %q", first.CanonicalLink)
	}

	second := got[1]
	if second.FinnCode != "350222112" {
		t.Errorf("short-path finn code = %q", second.FinnCode)
	}
	if second.Address != "Gamle Drammensvei 40, Stabekk" {
		t.Errorf("address = %q", second.Address)
	}

	// When the price line leads the card, the fragments after it run
	// locality first, then street, with the Privat placeholder ignored.
	third := got[2]
	if third.FinnCode != "412999888" {
		t.Errorf("finn code = %q", third.FinnCode)
	}
	if third.Address != "Storgata 5, Majorstuen" {
		t.Errorf("price-first card address = %q, want %q", third.Address, "Storgata 5, Majorstuen")
	}
	if third.AddressAmbiguous {
		t.Error("street plus locality flagged ambiguous")
	}
	if third.Price == nil || *third.Price != 3600000 {
		t.Errorf("price = %v, want 3600000", third.Price)
	}
}

func TestParseNoMarkers(t *testing.T) {
	p := New(nil)
	got, err := p.Parse("<html><body><p>Ingen nye treff denne uken.</p></body></html>", "rental")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d listings from a markerless email, want 0", len(got))
	}
}

func TestParseKeepsListingWithoutFinnCode(t *testing.T) {
	// A link whose identifier cannot be derived still yields a record; the
	// reconciler falls back to link-based matching for these.
	html := `<div class="sf-search-ad">
	  <a href="https://www.finn.no/realestate/lettings/search.html">Se alle treff</a>
	  <div>Oslo</div>
	</div>`

	p := New(nil)
	got, err := p.Parse(html, "rental")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d listings, want 1", len(got))
	}
	if got[0].FinnCode != "" {
		t.Errorf("finn code = %q, want empty", got[0].FinnCode)
	}
	if got[0].RawLink == "" {
		t.Error("raw link must be preserved for unkeyed listings")
	}
}

package listing

import "testing"

func TestCleanPrice(t *testing.T) {
	intPtr := func(n int) *int { return &n }

	tests := []struct {
		name string
		raw  string
		want *int
	}{
		{"plain with unit", "13 000 kr", intPtr(13000)},
		{"non-breaking spaces", "13 000 kr", intPtr(13000)},
		{"narrow non-breaking space", "5 500 kr", intPtr(5500)},
		{"unknown sentinel", "Unknown", nil},
		{"empty", "", nil},
		{"bare number", "9500", intPtr(9500)},
		{"sale price with thousand dots", "4.250.000 kr", intPtr(4250000)},
		{"decimal truncates", "12500.5", intPtr(12500)},
		{"garbage", "ring for pris", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanPrice(tt.raw)
			switch {
			case got == nil && tt.want == nil:
			case got == nil || tt.want == nil:
				t.Errorf("CleanPrice(%q) = %v, want %v", tt.raw, fmtPtr(got), fmtPtr(tt.want))
			case *got != *tt.want:
				t.Errorf("CleanPrice(%q) = %d, want %d", tt.raw, *got, *tt.want)
			}
		})
	}
}

func fmtPtr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func TestExtractSize(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Lys 2-roms, 45 m² på Majorstuen", "45"},
		{"Hybel 18m2 sentralt", "18"},
		{"Flott leilighet uten oppgitt areal", ""},
		{"Stor enebolig 230 m² med hage", "230"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			if got := ExtractSize(tt.title); got != tt.want {
				t.Errorf("ExtractSize(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

// Package store persists listing tables as CSV files under the output
// directory. CSV is deliberate: the files double as a spreadsheet-friendly
// audit trail, and the processed table is the durable source of truth the
// pipeline reconciles against on every run.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"finnscout/internal/config"
	"finnscout/internal/geo"
	"finnscout/internal/listing"
)

// Kind names one of the persisted tables.
type Kind string

const (
	// KindLatest holds every listing seen in the most recent fetch.
	KindLatest Kind = "latest"
	// KindComplete holds all known listings with whatever data they have.
	KindComplete Kind = "complete"
	// KindProcessed holds only fully enriched listings. It is the dedup
	// source of truth.
	KindProcessed Kind = "processed"
	// KindAmbiguous holds listings set aside for an unresolvable address.
	KindAmbiguous Kind = "ambiguous"
)

// Store reads and writes the listing tables for one property type. The
// place-category columns are part of the schema, so a Store is bound to one
// category configuration.
type Store struct {
	dir          string
	propertyType string
	testMode     bool
	categories   []categoryCol
	log          *slog.Logger
}

type categoryCol struct {
	name   string
	prefix string
}

// New builds a Store rooted at dir. Category columns are derived from the
// configured place categories and kept in sorted order so the header is
// stable across runs.
func New(dir, propertyType string, testMode bool, cats map[string]config.PlaceCategoryCfg, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	cols := make([]categoryCol, 0, len(cats))
	for name, c := range cats {
		prefix := c.ColumnPrefix
		if prefix == "" {
			prefix = name
		}
		cols = append(cols, categoryCol{name: name, prefix: prefix})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].name < cols[j].name })

	return &Store{
		dir:          dir,
		propertyType: propertyType,
		testMode:     testMode,
		categories:   cols,
		log:          logger,
	}
}

// Path returns the CSV path for a table. Sales tables carry a "sales_"
// prefix; rental tables are unprefixed, matching the files accumulated
// before sales support existed. Test mode isolates state in a test_output
// subdirectory with a "_test" suffix.
func (s *Store) Path(kind Kind) string {
	name := string(kind) + "_properties"
	if s.propertyType == "sales" {
		name = "sales_" + name
	}
	dir := s.dir
	if s.testMode {
		dir = filepath.Join(dir, "test_output")
		name += "_test"
	}
	return filepath.Join(dir, name+".csv")
}

// fixed columns preceding the per-category ones
var baseColumns = []string{
	"finn_code", "title", "address", "address_ambiguous", "price", "size_m2",
	"raw_link", "canonical_link", "first_seen_at",
	"latitude", "longitude", "geocode_status",
	"distance_to_work_km", "transit_time_to_work_minutes",
	"work_lat_used", "work_lng_used", "max_travel_time_used",
	"processing_status",
}

func (s *Store) header() []string {
	h := append([]string(nil), baseColumns...)
	for _, c := range s.categories {
		h = append(h,
			"nearest_"+c.prefix,
			"walking_time_"+c.prefix+"_minutes",
			"transit_time_"+c.prefix+"_minutes")
	}
	return h
}

// Load reads a table. A missing file is an empty table, not an error.
// Extra columns from older category configurations are ignored; missing
// category columns load as absent data.
func (s *Store) Load(kind Kind) ([]*listing.Listing, error) {
	return s.LoadFile(s.Path(kind))
}

// LoadFile reads any CSV using this store's schema tolerance. It backs Load
// and also reads externally produced files such as bulk master lists.
func (s *Store) LoadFile(path string) ([]*listing.Listing, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s header: %w", path, err)
	}
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[col] = i
	}

	var out []*listing.Listing
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", path, line, err)
		}
		out = append(out, s.fromRecord(record, idx))
	}
	s.log.Debug("loaded listing table", "path", path, "rows", len(out))
	return out, nil
}

// Save writes a table atomically, replacing the previous file. A failed
// write is retried once; these files may live on synced network volumes
// where writes occasionally hiccup.
func (s *Store) Save(kind Kind, listings []*listing.Listing) error {
	path := s.Path(kind)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			s.log.Warn("retrying table save", "kind", kind, "error", lastErr)
			time.Sleep(time.Second)
		}
		if lastErr = s.writeFile(path, listings); lastErr == nil {
			s.log.Debug("saved listing table", "kind", kind, "path", path, "rows", len(listings))
			return nil
		}
	}
	return fmt.Errorf("saving %s table %s: %w", kind, path, lastErr)
}

func (s *Store) writeFile(path string, listings []*listing.Listing) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".finnscout-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(s.header()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	for _, l := range listings {
		if err := w.Write(s.toRecord(l)); err != nil {
			tmp.Close()
			return fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}

func (s *Store) toRecord(l *listing.Listing) []string {
	var workLat, workLng *float64
	if l.WorkLocationUsed != nil {
		workLat, workLng = &l.WorkLocationUsed.Lat, &l.WorkLocationUsed.Lng
	}
	rec := []string{
		l.FinnCode,
		l.Title,
		l.Address,
		strconv.FormatBool(l.AddressAmbiguous),
		formatInt(l.Price),
		l.Size,
		l.RawLink,
		l.CanonicalLink,
		formatTime(l.FirstSeenAt),
		formatFloat(l.Latitude),
		formatFloat(l.Longitude),
		string(l.GeocodeStatus),
		formatFloat(l.DistanceToWorkKm),
		formatFloat(l.TransitTimeToWork),
		formatFloat(workLat),
		formatFloat(workLng),
		formatFloat(l.MaxTravelTimeUsed),
		string(l.ProcessingStatus),
	}
	for _, c := range s.categories {
		pr := l.Places[c.name]
		if pr == nil {
			rec = append(rec, "", "", "")
			continue
		}
		rec = append(rec, pr.NearestName, formatFloat(pr.WalkingMinutes), formatFloat(pr.TransitMinutes))
	}
	return rec
}

func (s *Store) fromRecord(record []string, idx map[string]int) *listing.Listing {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	l := &listing.Listing{
		FinnCode:          get("finn_code"),
		Title:             get("title"),
		Address:           get("address"),
		AddressAmbiguous:  get("address_ambiguous") == "true",
		Price:             parseInt(get("price")),
		Size:              get("size_m2"),
		RawLink:           get("raw_link"),
		CanonicalLink:     get("canonical_link"),
		FirstSeenAt:       parseTime(get("first_seen_at")),
		Latitude:          parseFloat(get("latitude")),
		Longitude:         parseFloat(get("longitude")),
		GeocodeStatus:     listing.GeocodeStatus(get("geocode_status")),
		DistanceToWorkKm:  parseFloat(get("distance_to_work_km")),
		TransitTimeToWork: parseFloat(get("transit_time_to_work_minutes")),
		MaxTravelTimeUsed: parseFloat(get("max_travel_time_used")),
		ProcessingStatus:  listing.Status(get("processing_status")),
	}
	if lat, lng := parseFloat(get("work_lat_used")), parseFloat(get("work_lng_used")); lat != nil && lng != nil {
		l.WorkLocationUsed = &geo.LatLng{Lat: *lat, Lng: *lng}
	}
	for _, c := range s.categories {
		nearest := get("nearest_" + c.prefix)
		walking := parseFloat(get("walking_time_" + c.prefix + "_minutes"))
		transit := parseFloat(get("transit_time_" + c.prefix + "_minutes"))
		if nearest == "" && walking == nil && transit == nil {
			continue
		}
		pr := l.Place(c.name)
		pr.NearestName = nearest
		pr.WalkingMinutes = walking
		pr.TransitMinutes = transit
	}
	return l
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func parseInt(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// Package summary tracks what one pipeline run did and appends it to a
// durable run history, so quota surprises and silent regressions show up in
// a file instead of a bill.
package summary

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// StageStats are the counters one stage reports.
type StageStats struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	CacheHits int `json:"cache_hits,omitempty"`
}

// Summary is the record of one run.
type Summary struct {
	RunID        string    `json:"run_id"`
	PropertyType string    `json:"property_type"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	TestMode     bool      `json:"test_mode,omitempty"`

	EmailsFetched   int `json:"emails_fetched"`
	ListingsParsed  int `json:"listings_parsed"`
	ListingsNew     int `json:"listings_new"`
	ListingsMatched int `json:"listings_matched"`
	// Requalified counts listings pulled back into the place stage by a
	// raised travel-time ceiling.
	Requalified int `json:"requalified,omitempty"`

	Geocode  StageStats `json:"geocode"`
	Distance StageStats `json:"distance"`
	Places   StageStats `json:"places"`

	APICalls map[string]int `json:"api_calls"`

	Exported int      `json:"exported"`
	Errors   []string `json:"errors,omitempty"`
}

// Tracker accumulates a Summary during a run.
type Tracker struct {
	s   Summary
	log *slog.Logger
	now func() time.Time
}

// NewTracker starts tracking a run. logger may be nil.
func NewTracker(propertyType string, testMode bool, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{log: logger, now: time.Now}
	t.s = Summary{
		RunID:        uuid.NewString(),
		PropertyType: propertyType,
		TestMode:     testMode,
		StartedAt:    t.now(),
		APICalls:     make(map[string]int),
	}
	return t
}

// RunID returns the run's identifier for log correlation.
func (t *Tracker) RunID() string { return t.s.RunID }

// Fetched records the email and parse counts.
func (t *Tracker) Fetched(emails, listings int) {
	t.s.EmailsFetched = emails
	t.s.ListingsParsed = listings
}

// Merged records the reconciliation outcome.
func (t *Tracker) Merged(newCount, matched int) {
	t.s.ListingsNew = newCount
	t.s.ListingsMatched = matched
}

// Stage records one enrichment stage's counters.
func (t *Tracker) Stage(name string, stats StageStats) {
	switch name {
	case "geocode":
		t.s.Geocode = stats
	case "distance":
		t.s.Distance = stats
	case "places":
		t.s.Places = stats
	}
}

// APICalls records how many calls each budget consumed.
func (t *Tracker) APICalls(name string, used int) {
	t.s.APICalls[name] = used
}

// Requalified records how many listings a raised travel-time ceiling pulled
// back into the place stage.
func (t *Tracker) Requalified(count int) {
	t.s.Requalified = count
}

// Exported records the final report size.
func (t *Tracker) Exported(rows int) {
	t.s.Exported = rows
}

// Error appends a non-fatal error to the run record.
func (t *Tracker) Error(err error) {
	if err != nil {
		t.s.Errors = append(t.s.Errors, err.Error())
	}
}

// Finish stamps the end time and returns the completed summary.
func (t *Tracker) Finish() Summary {
	t.s.FinishedAt = t.now()
	t.log.Info("run finished",
		"run_id", t.s.RunID,
		"property_type", t.s.PropertyType,
		"duration", t.s.FinishedAt.Sub(t.s.StartedAt).Round(time.Millisecond),
		"emails", t.s.EmailsFetched,
		"parsed", t.s.ListingsParsed,
		"new", t.s.ListingsNew,
		"geocoded", t.s.Geocode.Succeeded,
		"exported", t.s.Exported,
		"errors", len(t.s.Errors))
	return t.s
}

// historyFile is the JSON array the run history accumulates in.
const historyFile = "run_history.json"

// AppendHistory adds s to the run history under dir, creating the file on
// first use. History writes are best effort for the caller, but corruption
// of the existing file is surfaced rather than silently overwritten.
func AppendHistory(dir string, s Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}
	path := filepath.Join(dir, historyFile)

	var history []Summary
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("reading run history: %w", err)
	default:
		if err := json.Unmarshal(data, &history); err != nil {
			return fmt.Errorf("run history %s is corrupt: %w", path, err)
		}
	}

	history = append(history, s)
	out, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run history: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("writing run history: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadHistory reads the run history under dir. A missing file is an empty
// history.
func LoadHistory(dir string) ([]Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, historyFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading run history: %w", err)
	}
	var history []Summary
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decoding run history: %w", err)
	}
	return history, nil
}

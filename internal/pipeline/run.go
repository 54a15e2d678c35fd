// Package pipeline wires the stages of one finnscout run: fetch alert
// emails, reconcile listings against persisted state, enrich through the
// Maps APIs and export the report. Stages declare dependencies and are
// resolved through a registry, so a partial run executes exactly what it
// needs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"finnscout/internal/completion"
	"finnscout/internal/config"
	"finnscout/internal/enrich"
	"finnscout/internal/export"
	"finnscout/internal/listing"
	"finnscout/internal/mailbox"
	"finnscout/internal/parser"
	"finnscout/internal/reconcile"
	"finnscout/internal/store"
	"finnscout/internal/summary"
)

// Options configures one run.
type Options struct {
	PropertyType string
	// Stages narrows the run to the named stages plus their dependencies.
	// Empty means the full pipeline.
	Stages []string
	// SkipNotify suppresses the report email even when SMTP is configured.
	SkipNotify bool
}

// Run is the shared state stages operate on.
type Run struct {
	Cfg       *config.Config
	Namespace config.NamespaceCfg
	Opts      Options

	Source   mailbox.Source
	Parser   *parser.Parser
	Store    *store.Store
	Enricher *enrich.Enricher
	Checker  *completion.Checker
	Tracker  *summary.Tracker
	Budgets  enrich.Budgets

	Log *slog.Logger

	// Mutable state handed from stage to stage.
	messages []mailbox.Message
	parsed   []*listing.Listing
	master   []*listing.Listing // complete table, every known listing
	working  []*listing.Listing // listings eligible for enrichment
	exported int
}

// NewRun assembles run state from configuration and injected collaborators.
// source may be nil when the fetch stage is not part of the run.
func NewRun(cfg *config.Config, opts Options, source mailbox.Source,
	enricher *enrich.Enricher, budgets enrich.Budgets, logger *slog.Logger) (*Run, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ns, err := cfg.Namespace(opts.PropertyType)
	if err != nil {
		return nil, err
	}

	tracker := summary.NewTracker(opts.PropertyType, cfg.Test.Enabled, logger)
	log := logger.With("run_id", tracker.RunID(), "property_type", opts.PropertyType)

	return &Run{
		Cfg:       cfg,
		Namespace: ns,
		Opts:      opts,
		Source:    source,
		Parser:    parser.New(log),
		Store:     store.New(cfg.OutputDir, opts.PropertyType, cfg.Test.Enabled, cfg.Shared.PlaceCategories, log),
		Enricher:  enricher,
		Checker:   completion.NewChecker(cfg.Shared, ns),
		Tracker:   tracker,
		Budgets:   budgets,
		Log:       log,
	}, nil
}

// DefaultRegistry returns the standard stage set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	stages := []Stage{
		&stageFunc{name: "fetch", desc: "fetch and parse alert emails", fn: runFetch},
		&stageFunc{name: "merge", deps: []string{"fetch"}, desc: "reconcile listings with persisted state", fn: runMerge},
		&stageFunc{name: "geocode", deps: []string{"merge"}, desc: "resolve addresses to coordinates", fn: runGeocode},
		&stageFunc{name: "distance", deps: []string{"geocode"}, desc: "compute work commutes", fn: runDistance},
		&stageFunc{name: "places", deps: []string{"distance"}, desc: "find nearby places per category", fn: runPlaces},
		&stageFunc{name: "finalize", deps: []string{"places"}, desc: "classify completion and persist tables", fn: runFinalize},
		&stageFunc{name: "export", deps: []string{"finalize"}, desc: "write and send the report", fn: runExport},
	}
	for _, s := range stages {
		// Registration of the fixed stage set cannot collide.
		_ = r.Register(s)
	}
	return r
}

// Execute resolves and runs the requested stages in dependency order. The
// run summary is appended to history regardless of outcome.
func (run *Run) Execute(ctx context.Context) (summary.Summary, error) {
	stages, err := DefaultRegistry().Resolve(run.Opts.Stages...)
	if err != nil {
		return summary.Summary{}, err
	}

	var failed error
	for _, s := range stages {
		run.Log.Info("stage starting", "stage", s.Name())
		start := time.Now()
		if err := s.Run(ctx, run); err != nil {
			failed = fmt.Errorf("stage %s: %w", s.Name(), err)
			run.Tracker.Error(failed)
			break
		}
		run.Log.Debug("stage finished", "stage", s.Name(), "took", time.Since(start).Round(time.Millisecond))
	}

	run.Tracker.APICalls("geocode", run.Budgets.Geocode.Used())
	run.Tracker.APICalls("distance_matrix", run.Budgets.Distance.Used())
	run.Tracker.APICalls("places", run.Budgets.Places.Used())
	run.Tracker.Exported(run.exported)

	sum := run.Tracker.Finish()
	if err := summary.AppendHistory(run.historyDir(), sum); err != nil {
		run.Log.Warn("could not record run history", "error", err)
	}
	return sum, failed
}

func (run *Run) historyDir() string {
	if run.Cfg.Test.Enabled {
		return filepath.Join(run.Cfg.OutputDir, "test_output")
	}
	return run.Cfg.OutputDir
}

func runFetch(ctx context.Context, run *Run) error {
	if run.Source == nil {
		// Fetch was skipped; downstream stages work from persisted state.
		run.Log.Info("no mail source, continuing with persisted listings only")
		return nil
	}

	msgs, err := run.Source.Fetch(ctx, run.Namespace.DaysBack, run.Namespace.SubjectKeywords, run.Namespace.ReprocessEmails)
	if err != nil {
		return fmt.Errorf("fetching emails: %w", err)
	}
	run.messages = msgs

	for _, m := range msgs {
		listings, err := run.Parser.Parse(m.HTML, run.Opts.PropertyType)
		if err != nil {
			run.Log.Warn("unparseable email", "uid", m.UID, "subject", m.Subject, "error", err)
			run.Tracker.Error(err)
			continue
		}
		// Listings inherit the email's arrival time as first seen.
		for _, l := range listings {
			if !m.Date.IsZero() {
				l.FirstSeenAt = m.Date
			}
		}
		run.parsed = append(run.parsed, listings...)
	}

	run.Tracker.Fetched(len(msgs), len(run.parsed))
	run.Log.Info("emails parsed", "emails", len(msgs), "listings", len(run.parsed))
	return nil
}

func runMerge(_ context.Context, run *Run) error {
	persisted, err := run.Store.Load(store.KindComplete)
	if err != nil {
		return err
	}

	res := reconcile.Merge(persisted, run.parsed, run.Log)
	run.master = res.Listings
	run.Tracker.Merged(res.New, res.Matched)

	// Ambiguous addresses go to a side table for manual review instead of
	// burning geocode calls on guesses.
	if run.Cfg.Shared.SkipAmbiguousAddresses {
		var eligible, ambiguous []*listing.Listing
		for _, l := range run.master {
			if l.AddressAmbiguous && l.Latitude == nil {
				ambiguous = append(ambiguous, l)
			} else {
				eligible = append(eligible, l)
			}
		}
		run.working = eligible
		if err := run.Store.Save(store.KindAmbiguous, ambiguous); err != nil {
			return err
		}
		run.Log.Info("ambiguous addresses set aside", "count", len(ambiguous))
	} else {
		run.working = run.master
	}

	if len(run.parsed) > 0 {
		if err := run.Store.Save(store.KindLatest, run.parsed); err != nil {
			return err
		}
	}
	return run.Store.Save(store.KindComplete, run.master)
}

func runGeocode(ctx context.Context, run *Run) error {
	counts, err := run.Enricher.GeocodeAll(ctx, run.working)
	run.Tracker.Stage("geocode", summary.StageStats(counts))
	return err
}

func runDistance(ctx context.Context, run *Run) error {
	counts, err := run.Enricher.DistanceAll(ctx, run.working)
	run.Tracker.Stage("distance", summary.StageStats(counts))
	return err
}

func runPlaces(ctx context.Context, run *Run) error {
	// A raised travel-time ceiling pulls previously excluded listings back
	// into the place stage; surface that in the summary so a config change
	// explains the extra API spend.
	requalified := 0
	for _, l := range run.working {
		if run.Checker.ThresholdRelaxed(l) {
			requalified++
		}
	}
	run.Tracker.Requalified(requalified)
	if requalified > 0 {
		run.Log.Info("raised travel-time ceiling requalified listings", "count", requalified)
	}

	counts, err := run.Enricher.PlacesAll(ctx, run.working)
	run.Tracker.Stage("places", summary.StageStats(counts))
	return err
}

func runFinalize(ctx context.Context, run *Run) error {
	ceiling := run.Checker.MaxTravelTime
	var processed []*listing.Listing
	for _, l := range run.master {
		l.ProcessingStatus = run.Checker.Classify(l)
		if l.ProcessingStatus == listing.StatusCompleted && l.TransitTimeToWork != nil {
			// Record the ceiling the listing was judged under, so a later
			// ceiling raise can requeue it.
			c := ceiling
			l.MaxTravelTimeUsed = &c
			processed = append(processed, l)
		}
	}

	reconcile.Backfill(run.master, processed)
	if err := run.Store.Save(store.KindComplete, run.master); err != nil {
		return err
	}
	if err := run.Store.Save(store.KindProcessed, processed); err != nil {
		return err
	}

	// Only mark emails handled once their listings are durably stored.
	if run.Source != nil && len(run.messages) > 0 && !run.Cfg.Test.Enabled {
		uids := make([]uint32, 0, len(run.messages))
		for _, m := range run.messages {
			uids = append(uids, m.UID)
		}
		if err := run.Source.MarkProcessed(ctx, uids); err != nil {
			// Not fatal; worst case the next run re-reads them and the
			// merge dedupes.
			run.Log.Warn("could not mark emails processed", "error", err)
			run.Tracker.Error(err)
		}
	}
	return nil
}

func runExport(_ context.Context, run *Run) error {
	processed, err := run.Store.Load(store.KindProcessed)
	if err != nil {
		return err
	}

	// Exclude listings that were completed by exclusion (over the ceiling
	// or unresolvable) rather than enriched.
	var exportable []*listing.Listing
	for _, l := range processed {
		if l.TransitTimeToWork != nil && run.Checker.WithinTravelTime(l) {
			exportable = append(exportable, l)
		}
	}

	rows, err := export.Apply(exportable, run.Cfg.Export, run.Cfg.Shared.PlaceCategories)
	if err != nil {
		return fmt.Errorf("applying export rules: %w", err)
	}
	run.exported = len(rows)

	path := run.reportPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	if err := export.WriteXLSX(path, rows, run.Cfg.Shared.PlaceCategories, run.Log); err != nil {
		return err
	}

	if run.Opts.SkipNotify || run.Cfg.Test.Enabled {
		run.Log.Info("notification skipped", "path", path)
		return nil
	}
	err = export.Notify(run.Cfg.SMTP, run.Opts.PropertyType, len(rows), run.Log,
		path, run.Store.Path(store.KindProcessed))
	if err != nil {
		// The report exists on disk; a failed email should not fail the run.
		run.Log.Warn("report email failed", "error", err)
		run.Tracker.Error(err)
	}
	return nil
}

func (run *Run) reportPath() string {
	name := fmt.Sprintf("finn_%s_report_%s", run.Opts.PropertyType, time.Now().Format("2006-01-02"))
	dir := run.Cfg.OutputDir
	if run.Cfg.Test.Enabled {
		dir = filepath.Join(dir, "test_output")
		name += "_test"
	}
	return filepath.Join(dir, name+".xlsx")
}

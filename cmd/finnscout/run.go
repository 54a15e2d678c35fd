package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"finnscout/internal/completion"
	"finnscout/internal/config"
	"finnscout/internal/enrich"
	"finnscout/internal/gmaps"
	"finnscout/internal/mailbox"
	"finnscout/internal/pipeline"
	"finnscout/internal/ratelimit"
)

var (
	runPropertyType string
	runStages       []string
	runSkipFetch    bool
	runSkipNotify   bool
	runTestMode     bool
	runTestLimit    int
	runDaysBack     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enrichment pipeline",
	Long: `Run the pipeline for one property type.

By default all stages run in order: fetch, merge, geocode, distance,
places, finalize, export. Use --stages to run a subset; dependencies of
the named stages are always included.

Examples:
  finnscout run                          # full rental run
  finnscout run --type sales             # full sales run
  finnscout run --stages geocode         # fetch, merge and geocode only
  finnscout run --skip-fetch             # re-enrich persisted listings, no IMAP
  finnscout run --test                   # capped run writing to test_output/`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if runTestMode {
			cfg.Test.Enabled = true
		}
		if runTestLimit > 0 {
			cfg.Test.Limit = runTestLimit
		}
		if runDaysBack > 0 {
			cfg.Rental.DaysBack = runDaysBack
			cfg.Sales.DaysBack = runDaysBack
		}
		ns, err := cfg.Namespace(runPropertyType)
		if err != nil {
			return err
		}
		if !ns.Enabled {
			return fmt.Errorf("property type %q is disabled in configuration", runPropertyType)
		}
		if err := cfg.Validate(validationStages(cfg)...); err != nil {
			return err
		}

		var source mailbox.Source
		if !runSkipFetch {
			imapSrc, err := mailbox.Connect(cfg.Email, logger)
			if err != nil {
				return fmt.Errorf("connect imap: %w", err)
			}
			defer imapSrc.Close()
			source = imapSrc
		}

		rl := cfg.RateLimit
		limiter := ratelimit.NewLimiter(
			rl.CallsPerWindow, time.Duration(rl.WindowSeconds)*time.Second,
			rl.SoftDelayAt, rl.HardDelayAt, rl.BlockAt,
			ratelimit.WithLogger(logger),
		)
		budgets := enrich.NewBudgets(cfg.APISafety, logger)

		var cache enrich.PlaceCache
		if cfg.RedisURL != "" {
			cache, err = enrich.NewRedisCache(cfg.RedisURL, logger)
			if err != nil {
				logger.Warn("redis unavailable, using in-memory place cache", "error", err)
				cache = nil
			}
		}

		var limit int
		if cfg.Test.Enabled {
			limit = cfg.Test.Limit
		}
		maps := gmaps.NewClient(config.ResolveEnvVars(cfg.Google.APIKey), logger)
		checker := completion.NewChecker(cfg.Shared, ns)
		enricher := enrich.New(maps, enrich.NewCaller(limiter, logger), budgets,
			checker, cfg.Shared, cache, completion.NewSkipSet(), limit, logger)

		run, err := pipeline.NewRun(cfg, pipeline.Options{
			PropertyType: runPropertyType,
			Stages:       runStages,
			SkipNotify:   runSkipNotify,
		}, source, enricher, budgets, logger)
		if err != nil {
			return err
		}

		_, err = run.Execute(ctx)
		return err
	},
}

// validationStages maps the run configuration to the credential groups it
// will exercise.
func validationStages(cfg *config.Config) []config.Stage {
	stages := []config.Stage{config.StageEnrich}
	if !runSkipFetch {
		stages = append(stages, config.StageFetch)
	}
	if !runSkipNotify && !cfg.Test.Enabled {
		stages = append(stages, config.StageNotify)
	}
	return stages
}

func init() {
	runCmd.Flags().StringVarP(&runPropertyType, "type", "t", "rental", "property type: rental or sales")
	runCmd.Flags().StringSliceVar(&runStages, "stages", nil, "stages to run (default: all)")
	runCmd.Flags().BoolVar(&runSkipFetch, "skip-fetch", false, "skip IMAP, enrich persisted listings only")
	runCmd.Flags().BoolVar(&runSkipNotify, "skip-notify", false, "skip emailing the report")
	runCmd.Flags().BoolVar(&runTestMode, "test", false, "test mode: cap listings and write to test_output/")
	runCmd.Flags().IntVar(&runTestLimit, "test-limit", 0, "override the test-mode listing cap")
	runCmd.Flags().IntVar(&runDaysBack, "days-back", 0, "override how many days of email to fetch")

	rootCmd.AddCommand(runCmd)
}

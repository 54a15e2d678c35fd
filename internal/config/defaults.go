package config

// DefaultConfig returns the configuration used when config.yaml is absent or
// partial. The rate limit and budget numbers are deliberately conservative;
// raising them is a config decision, not a code change.
func DefaultConfig() *Config {
	return &Config{
		OutputDir: "output",
		Google: GoogleCfg{
			APIKey: "${GOOGLE_API_KEY}",
		},
		Email: EmailCfg{
			Server: "imap.gmail.com",
			Port:   993,
			Folder: "INBOX",

			Password: "${IMAP_PASSWORD}",
		},
		SMTP: SMTPCfg{
			Host:     "smtp.gmail.com",
			Port:     587,
			Password: "${SMTP_PASSWORD}",
		},
		Shared: SharedCfg{
			// Oslo city center until the real workplace is configured.
			WorkLat:               59.9139,
			WorkLng:               10.7522,
			MaxTransitTimeMinutes: 60,
			SearchRadiusMeters:    1500,
			GeocodeRegion:         "no",
			PlaceCategories: map[string]PlaceCategoryCfg{
				"grocery": {
					Keywords:         []string{"Kiwi", "Rema 1000", "Coop", "Meny"},
					CalculateTransit: false,
					ColumnPrefix:     "grocery",
				},
				"gym": {
					Keywords:         []string{"SATS", "Evo Fitness"},
					CalculateTransit: true,
					ColumnPrefix:     "gym",
				},
			},
		},
		Rental: NamespaceCfg{
			Enabled:          true,
			DaysBack:         7,
			SubjectKeywords:  []string{"nye treff", "leie"},
			CompletionPolicy: "all_categories",
		},
		Sales: NamespaceCfg{
			Enabled:          false,
			DaysBack:         7,
			SubjectKeywords:  []string{"nye treff", "salg"},
			// Sale listings count as processed once geocoded; category
			// coverage matters less when the commute already rules them
			// in or out.
			CompletionPolicy: "geocoded",
		},
		RateLimit: RateLimitCfg{
			CallsPerWindow: 90,
			WindowSeconds:  100,
			SoftDelayAt:    0.80,
			HardDelayAt:    0.90,
			BlockAt:        0.95,
		},
		APISafety: APISafetyCfg{
			MaxGeocodeCalls:  100,
			MaxDistanceCalls: 500,
			MaxPlacesCalls:   200,
			WarnAt:           0.80,
			HardStopOnLimit:  true,
		},
		Export: ExportCfg{
			Filters: []FilterRule{},
			Sort: []SortRule{
				{Column: "transit_time_to_work_minutes"},
			},
		},
		Test: TestCfg{
			Limit: 5,
		},
	}
}

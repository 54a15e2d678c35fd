package config

// Config is the root configuration for finnscout.
type Config struct {
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`

	Google GoogleCfg `mapstructure:"google" yaml:"google"`
	Email  EmailCfg  `mapstructure:"email" yaml:"email"`
	SMTP   SMTPCfg   `mapstructure:"smtp" yaml:"smtp"`

	Shared SharedCfg    `mapstructure:"shared" yaml:"shared"`
	Rental NamespaceCfg `mapstructure:"rental" yaml:"rental"`
	Sales  NamespaceCfg `mapstructure:"sales" yaml:"sales"`

	RateLimit RateLimitCfg `mapstructure:"rate_limit" yaml:"rate_limit"`
	APISafety APISafetyCfg `mapstructure:"api_safety" yaml:"api_safety"`
	Export    ExportCfg    `mapstructure:"export" yaml:"export"`
	Test      TestCfg      `mapstructure:"test" yaml:"test"`

	// RedisURL enables the shared place cache when set (redis://host:port/db).
	// Empty means the in-memory per-run cache is used instead.
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`
}

// GoogleCfg holds Google Maps Platform settings.
type GoogleCfg struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// EmailCfg holds the IMAP mailbox the alert emails arrive in.
type EmailCfg struct {
	Server   string `mapstructure:"server" yaml:"server"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Folder   string `mapstructure:"folder" yaml:"folder"`
}

// SMTPCfg holds the outgoing mail settings for export notification.
type SMTPCfg struct {
	Host     string   `mapstructure:"host" yaml:"host"`
	Port     int      `mapstructure:"port" yaml:"port"`
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"password"`
	From     string   `mapstructure:"from" yaml:"from"`
	To       []string `mapstructure:"to" yaml:"to"`
}

// SharedCfg holds enrichment parameters common to both property types.
type SharedCfg struct {
	WorkLat                float64 `mapstructure:"work_lat" yaml:"work_lat"`
	WorkLng                float64 `mapstructure:"work_lng" yaml:"work_lng"`
	MaxTransitTimeMinutes  float64 `mapstructure:"max_transit_time_minutes" yaml:"max_transit_time_minutes"`
	SearchRadiusMeters     int     `mapstructure:"search_radius_meters" yaml:"search_radius_meters"`
	GeocodeRegion          string  `mapstructure:"geocode_region" yaml:"geocode_region"`
	SkipAmbiguousAddresses bool    `mapstructure:"skip_ambiguous_addresses" yaml:"skip_ambiguous_addresses"`

	PlaceCategories map[string]PlaceCategoryCfg `mapstructure:"place_categories" yaml:"place_categories"`
}

// PlaceCategoryCfg describes one nearby-place search, e.g. grocery stores.
type PlaceCategoryCfg struct {
	Keywords []string `mapstructure:"keywords" yaml:"keywords"`
	// CalculateTransit adds a transit leg to the nearest place on top of the
	// walking leg. Transit queries are the expensive part of the place stage,
	// so it is opt-in per category.
	CalculateTransit bool   `mapstructure:"calculate_transit" yaml:"calculate_transit"`
	ColumnPrefix     string `mapstructure:"column_prefix" yaml:"column_prefix"`
}

// NamespaceCfg holds settings that differ between rentals and sales.
type NamespaceCfg struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	DaysBack        int      `mapstructure:"days_back" yaml:"days_back"`
	ReprocessEmails bool     `mapstructure:"reprocess_emails" yaml:"reprocess_emails"`
	SubjectKeywords []string `mapstructure:"subject_keywords" yaml:"subject_keywords"`
	// CompletionPolicy decides when a listing counts as fully processed:
	// "all_categories" requires every configured place category, "geocoded"
	// only requires coordinates and the work commute.
	CompletionPolicy string `mapstructure:"completion_policy" yaml:"completion_policy"`
}

// RateLimitCfg tunes the sliding-window limiter in front of the Maps APIs.
type RateLimitCfg struct {
	CallsPerWindow int     `mapstructure:"calls_per_window" yaml:"calls_per_window"`
	WindowSeconds  int     `mapstructure:"window_seconds" yaml:"window_seconds"`
	SoftDelayAt    float64 `mapstructure:"soft_delay_at" yaml:"soft_delay_at"`
	HardDelayAt    float64 `mapstructure:"hard_delay_at" yaml:"hard_delay_at"`
	BlockAt        float64 `mapstructure:"block_at" yaml:"block_at"`
}

// APISafetyCfg caps spending per run, independent of the rate limiter.
type APISafetyCfg struct {
	MaxGeocodeCalls  int     `mapstructure:"max_geocode_calls" yaml:"max_geocode_calls"`
	MaxDistanceCalls int     `mapstructure:"max_distance_calls" yaml:"max_distance_calls"`
	MaxPlacesCalls   int     `mapstructure:"max_places_calls" yaml:"max_places_calls"`
	WarnAt           float64 `mapstructure:"warn_at" yaml:"warn_at"`
	HardStopOnLimit  bool    `mapstructure:"hard_stop_on_limit" yaml:"hard_stop_on_limit"`
}

// ExportCfg controls the xlsx export content.
type ExportCfg struct {
	Filters []FilterRule `mapstructure:"filters" yaml:"filters"`
	Sort    []SortRule   `mapstructure:"sort" yaml:"sort"`
}

// FilterRule is one condition on an export column. Rules with Or set are
// grouped with the preceding rule into a single any-of condition; rules
// without it are combined with AND.
type FilterRule struct {
	Column string `mapstructure:"column" yaml:"column"`
	Op     string `mapstructure:"op" yaml:"op"`
	Value  string `mapstructure:"value" yaml:"value"`
	Or     bool   `mapstructure:"or" yaml:"or"`
}

// SortRule orders the export by a column.
type SortRule struct {
	Column     string `mapstructure:"column" yaml:"column"`
	Descending bool   `mapstructure:"descending" yaml:"descending"`
}

// TestCfg isolates dry runs from production state.
type TestCfg struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Limit caps how many listings each enrichment stage touches. Zero means
	// no cap.
	Limit int `mapstructure:"limit" yaml:"limit"`
}

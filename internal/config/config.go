// Package config loads the typed finnscout configuration from config.yaml,
// environment variables and defaults, and validates it once at startup so
// the pipeline never has to defend against missing settings mid-run.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredential is returned by Validate when a required secret is
// absent. Credential problems must surface before any API call is attempted.
var ErrMissingCredential = errors.New("missing credential")

// Load reads configuration into a Config struct. cfgFile overrides the
// default search path (working directory, then ~/.finnscout). A .env file in
// the working directory is honored for the ${ENV_VAR} references secrets use.
func Load(cfgFile string) (*Config, error) {
	// Best effort; absence of .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FINNSCOUT")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.finnscout")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("google", d.Google)
	v.SetDefault("email", d.Email)
	v.SetDefault("smtp", d.SMTP)
	v.SetDefault("shared", d.Shared)
	v.SetDefault("rental", d.Rental)
	v.SetDefault("sales", d.Sales)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("api_safety", d.APISafety)
	v.SetDefault("export", d.Export)
	v.SetDefault("test", d.Test)
	v.SetDefault("redis_url", d.RedisURL)
}

var envRefPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a config value.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envRefPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// Stage identifies a pipeline stage for credential validation, so partial
// re-runs do not demand credentials they will not use.
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageEnrich Stage = "enrich"
	StageNotify Stage = "notify"
)

// Validate checks that every credential needed by the given stages is
// present. It fails fast with ErrMissingCredential, naming the first gap.
func (c *Config) Validate(stages ...Stage) error {
	for _, s := range stages {
		switch s {
		case StageFetch:
			if c.Email.Username == "" {
				return fmt.Errorf("%w: email.username", ErrMissingCredential)
			}
			if ResolveEnvVars(c.Email.Password) == "" {
				return fmt.Errorf("%w: email.password (set %s)", ErrMissingCredential, refName(c.Email.Password, "the IMAP password"))
			}
		case StageEnrich:
			if ResolveEnvVars(c.Google.APIKey) == "" {
				return fmt.Errorf("%w: google.api_key (set %s)", ErrMissingCredential, refName(c.Google.APIKey, "the Google API key"))
			}
		case StageNotify:
			if c.SMTP.Host == "" {
				return fmt.Errorf("%w: smtp.host", ErrMissingCredential)
			}
			if ResolveEnvVars(c.SMTP.Password) == "" {
				return fmt.Errorf("%w: smtp.password (set %s)", ErrMissingCredential, refName(c.SMTP.Password, "the SMTP password"))
			}
		}
	}
	return nil
}

func refName(value, fallback string) string {
	if m := envRefPattern.FindStringSubmatch(value); m != nil {
		return m[1]
	}
	return fallback
}

// Namespace returns the per-property-type section, or an error for an
// unknown type.
func (c *Config) Namespace(propertyType string) (NamespaceCfg, error) {
	switch propertyType {
	case "rental":
		return c.Rental, nil
	case "sales":
		return c.Sales, nil
	default:
		return NamespaceCfg{}, fmt.Errorf("unknown property type %q (want rental or sales)", propertyType)
	}
}

// WriteDefault writes a commented starter configuration to path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := []byte(`# finnscout configuration
# Secrets use ${ENV_VAR} syntax and are resolved from the environment (or a
# .env file in the working directory) at load time:
#   export GOOGLE_API_KEY=xxx IMAP_PASSWORD=xxx SMTP_PASSWORD=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}

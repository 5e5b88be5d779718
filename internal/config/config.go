// Package config provides configuration structures and loading for the fuel
// price aggregator.
package config

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"github.com/andygrunwald/fuelprices/internal/geocode"
	"github.com/andygrunwald/fuelprices/internal/models"
)

// Settings holds the scalar settings that may be overridden from the
// environment.
type Settings struct {
	// PostgreSQL connection string for the price history. Empty disables it.
	PostgresDSN string `mapstructure:"postgres_dsn" env:"POSTGRES_DSN"`
	// Log level (debug, info, warn, error)
	LogLevel string `mapstructure:"log_level" env:"LOG_LEVEL"`
	// Log format (json, console)
	LogFormat string `mapstructure:"log_format" env:"LOG_FORMAT"`
	// HTTP server address
	HTTPAddr string `mapstructure:"http_addr" env:"HTTP_ADDR"`
	// Country whose auto-mapped providers are used when no providers are listed
	CountryCode string `mapstructure:"country_code" env:"COUNTRY_CODE"`
	// Provider update interval in hours
	UpdateIntervalHours int `mapstructure:"update_interval" env:"UPDATE_INTERVAL_HOURS"`
	// Upstream request timeout in seconds
	TimeoutSeconds int `mapstructure:"timeout" env:"TIMEOUT_SECONDS"`
	// Permits of the update gate
	Concurrency int `mapstructure:"concurrency" env:"CONCURRENCY"`
	// How often the scheduler asks providers to update
	ScheduleTick time.Duration `mapstructure:"schedule_tick" env:"SCHEDULE_TICK"`
	// Nominatim compatible reverse geocoding endpoint
	GeocodeURL string `mapstructure:"geocode_url" env:"GEOCODE_URL"`
	// Additional provider names, enabled without settings
	ProviderNames []string `mapstructure:"-" env:"PROVIDERS" envSeparator:","`
}

// Config holds all configuration for the fuel price aggregator.
type Config struct {
	Settings `mapstructure:",squash"`

	// Areas are pre-warmed on every update.
	Areas []models.Area `mapstructure:"areas"`
	// Providers maps provider names to their settings.
	Providers map[string]map[string]any `mapstructure:"providers"`
	// Global holds settings shared by every provider.
	Global map[string]any `mapstructure:"global"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{
			LogLevel:            "info",
			LogFormat:           "json",
			HTTPAddr:            ":8080",
			UpdateIntervalHours: 24,
			TimeoutSeconds:      30,
			Concurrency:         4,
			ScheduleTick:        time.Minute,
			GeocodeURL:          geocode.DefaultBaseURL,
		},
		Providers: make(map[string]map[string]any),
	}
}

// LoadFile merges a YAML configuration file into c. Keys missing from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("unmarshaling config file: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables. Unset
// variables keep the current values.
func (c *Config) LoadFromEnv() error {
	if err := env.Parse(&c.Settings); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	for i, a := range c.Areas {
		if a.Latitude < -90 || a.Latitude > 90 {
			errs = append(errs, fmt.Errorf("areas[%d]: latitude %v out of range", i, a.Latitude))
		}
		if a.Longitude < -180 || a.Longitude > 180 {
			errs = append(errs, fmt.Errorf("areas[%d]: longitude %v out of range", i, a.Longitude))
		}
		if a.Radius <= 0 {
			errs = append(errs, fmt.Errorf("areas[%d]: radius must be positive", i))
		}
	}
	if c.UpdateIntervalHours <= 0 {
		errs = append(errs, errors.New("update_interval must be positive"))
	}
	if c.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.ScheduleTick <= 0 {
		errs = append(errs, errors.New("schedule_tick must be positive"))
	}
	if c.CountryCode != "" && len(c.CountryCode) != 2 {
		errs = append(errs, fmt.Errorf("country_code %q is not a two letter code", c.CountryCode))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log_format %q must be json or console", c.LogFormat))
	}

	return errors.Join(errs...)
}

// UpdateInterval returns the provider update interval.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalHours) * time.Hour
}

// Timeout returns the upstream request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EnabledProviders returns the configured providers and their settings.
// Names only listed in ProviderNames map to nil settings, which marks them
// as not configured. Global settings are merged under each configured
// provider's own.
func (c *Config) EnabledProviders() map[string]map[string]any {
	out := make(map[string]map[string]any, len(c.Providers)+len(c.ProviderNames))
	for _, name := range c.ProviderNames {
		if name = strings.TrimSpace(name); name != "" {
			out[name] = nil
		}
	}
	for name, settings := range c.Providers {
		if settings == nil {
			settings = map[string]any{}
		}
		merged := maps.Clone(c.Global)
		if merged == nil {
			merged = make(map[string]any, len(settings))
		}
		maps.Copy(merged, settings)
		out[name] = merged
	}
	return out
}

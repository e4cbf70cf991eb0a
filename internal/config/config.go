// Package config loads settings from the environment, with an optional .env
// file for local development. Every key is prefixed HOMEBASE_.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/dukerupert/homebase/internal/logging"
)

type Config struct {
	Port     string
	DBPath   string
	LogLevel string
	BaseURL  string

	MaxOccurrences int
	FeedLookback   time.Duration
	FeedLookahead  time.Duration
	FeedRateLimit  int

	SyncSchedule string
	SyncHorizon  time.Duration
	SyncTimeout  time.Duration
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("HOMEBASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", "homebase.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BASE_URL", "")

	v.SetDefault("MAX_OCCURRENCES", 10000)
	v.SetDefault("FEED_LOOKBACK", "720h")
	v.SetDefault("FEED_LOOKAHEAD", "4320h")
	v.SetDefault("FEED_RATE_LIMIT", 60)

	v.SetDefault("SYNC_SCHEDULE", "*/15 * * * *")
	v.SetDefault("SYNC_HORIZON", "2160h")
	v.SetDefault("SYNC_TIMEOUT", "15s")
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:           v.GetString("PORT"),
		DBPath:         v.GetString("DB_PATH"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		BaseURL:        strings.TrimRight(v.GetString("BASE_URL"), "/"),
		MaxOccurrences: v.GetInt("MAX_OCCURRENCES"),
		FeedLookback:   v.GetDuration("FEED_LOOKBACK"),
		FeedLookahead:  v.GetDuration("FEED_LOOKAHEAD"),
		FeedRateLimit:  v.GetInt("FEED_RATE_LIMIT"),
		SyncSchedule:   v.GetString("SYNC_SCHEDULE"),
		SyncHorizon:    v.GetDuration("SYNC_HORIZON"),
		SyncTimeout:    v.GetDuration("SYNC_TIMEOUT"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("HOMEBASE_PORT is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("HOMEBASE_DB_PATH is required"))
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("HOMEBASE_LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.MaxOccurrences <= 0 {
		errs = append(errs, errors.New("HOMEBASE_MAX_OCCURRENCES must be positive"))
	}
	if c.FeedLookback <= 0 || c.FeedLookahead <= 0 {
		errs = append(errs, errors.New("HOMEBASE_FEED_LOOKBACK and HOMEBASE_FEED_LOOKAHEAD must be positive"))
	}
	if c.FeedRateLimit <= 0 {
		errs = append(errs, errors.New("HOMEBASE_FEED_RATE_LIMIT must be positive"))
	}
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		errs = append(errs, fmt.Errorf("HOMEBASE_SYNC_SCHEDULE: %w", err))
	}
	if c.SyncHorizon <= 0 || c.SyncTimeout <= 0 {
		errs = append(errs, errors.New("HOMEBASE_SYNC_HORIZON and HOMEBASE_SYNC_TIMEOUT must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

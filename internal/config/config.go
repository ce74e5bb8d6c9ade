package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for out-of-range settings
var ErrInvalid = errors.New("invalid configuration")

// Config 应用配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Sleep     SleepConfig     `yaml:"sleep"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port            string `yaml:"port"`
	JWTSecret       string `yaml:"jwt_secret"`        // Empty disables token auth
	RateLimit       int    `yaml:"rate_limit"`        // Requests per window per client
	RateLimitWindow int    `yaml:"rate_limit_window"` // Seconds
}

// DatabaseConfig configures the SQLite store
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// TrackingConfig configures the session engine and reclassification policy
type TrackingConfig struct {
	FootTripMinutes     int     `yaml:"foot_trip_minutes"`     // Walking/running trips shorter than this become stays
	NearbyRadiusMeters  float64 `yaml:"nearby_radius_meters"`  // Trips that never leave this radius become stays
	DefaultRadiusMeters float64 `yaml:"default_radius_meters"` // Radius for synthesized places
	MaxSampleAccuracy   float64 `yaml:"max_sample_accuracy"`   // Meters, 0 accepts every fix
	SoftwareGeofencing  bool    `yaml:"software_geofencing"`   // Derive geofence events from location samples
	RecoveryCapHours    int     `yaml:"recovery_cap_hours"`    // Longest span a recovered open visit may be given
}

// SleepConfig configures sleep inference
type SleepConfig struct {
	MinHours          float64 `yaml:"min_hours"`
	MaxHours          float64 `yaml:"max_hours"`
	WindowStartHour   int     `yaml:"window_start_hour"`   // Local hour the nightly window opens
	WindowLengthHours int     `yaml:"window_length_hours"` // Nightly window length
	Timezone          string  `yaml:"timezone"`            // IANA name, "Local" for the host zone
}

// SchedulerConfig configures periodic jobs
type SchedulerConfig struct {
	SleepBackfillSchedule string `yaml:"sleep_backfill_schedule"` // Cron expression with seconds, empty disables
	LookbackHours         int    `yaml:"lookback_hours"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":8080",
			RateLimit:       600,
			RateLimitWindow: 60,
		},
		Database: DatabaseConfig{
			Path: "./data/lifecycle/lifecycle.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracking: TrackingConfig{
			FootTripMinutes:     15,
			NearbyRadiusMeters:  100,
			DefaultRadiusMeters: 200,
			RecoveryCapHours:    12,
		},
		Sleep: SleepConfig{
			MinHours:          2,
			MaxHours:          12,
			WindowStartHour:   21,
			WindowLengthHours: 9,
			Timezone:          "Local",
		},
		Scheduler: SchedulerConfig{
			SleepBackfillSchedule: "0 30 6 * * *",
			LookbackHours:         48,
		},
	}
}

// Load 加载配置: defaults, then the YAML file at path (if any), then environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Server.JWTSecret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		c.Sleep.Timezone = tz
	}
	if schedule, ok := os.LookupEnv("SLEEP_BACKFILL_SCHEDULE"); ok {
		c.Scheduler.SleepBackfillSchedule = schedule
	}
	if v := os.Getenv("SOFTWARE_GEOFENCING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tracking.SoftwareGeofencing = b
		}
	}
}

// Validate checks thresholds, the timezone and the cron expression
func (c *Config) Validate() error {
	if c.Tracking.FootTripMinutes <= 0 {
		return fmt.Errorf("%w: tracking.foot_trip_minutes must be positive", ErrInvalid)
	}
	if c.Tracking.NearbyRadiusMeters <= 0 || c.Tracking.DefaultRadiusMeters <= 0 {
		return fmt.Errorf("%w: tracking radii must be positive", ErrInvalid)
	}
	if c.Tracking.MaxSampleAccuracy < 0 {
		return fmt.Errorf("%w: tracking.max_sample_accuracy must not be negative", ErrInvalid)
	}
	if c.Tracking.RecoveryCapHours <= 0 {
		return fmt.Errorf("%w: tracking.recovery_cap_hours must be positive", ErrInvalid)
	}
	if c.Sleep.MinHours <= 0 || c.Sleep.MaxHours < c.Sleep.MinHours {
		return fmt.Errorf("%w: sleep duration bounds %.1f-%.1f", ErrInvalid, c.Sleep.MinHours, c.Sleep.MaxHours)
	}
	if c.Sleep.WindowStartHour < 0 || c.Sleep.WindowStartHour > 23 {
		return fmt.Errorf("%w: sleep.window_start_hour %d", ErrInvalid, c.Sleep.WindowStartHour)
	}
	if c.Sleep.WindowLengthHours <= 0 || c.Sleep.WindowLengthHours > 24 {
		return fmt.Errorf("%w: sleep.window_length_hours %d", ErrInvalid, c.Sleep.WindowLengthHours)
	}
	if _, err := c.Sleep.Location(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Scheduler.SleepBackfillSchedule != "" {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.Scheduler.SleepBackfillSchedule); err != nil {
			return fmt.Errorf("%w: scheduler.sleep_backfill_schedule: %v", ErrInvalid, err)
		}
	}
	if c.Scheduler.LookbackHours <= 0 {
		return fmt.Errorf("%w: scheduler.lookback_hours must be positive", ErrInvalid)
	}
	return nil
}

// Location resolves the configured timezone
func (s SleepConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// FootTripDuration returns the short foot trip threshold
func (t TrackingConfig) FootTripDuration() time.Duration {
	return time.Duration(t.FootTripMinutes) * time.Minute
}

// RecoveryCap returns the longest span a recovered open visit may be given
func (t TrackingConfig) RecoveryCap() time.Duration {
	return time.Duration(t.RecoveryCapHours) * time.Hour
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when ROTA_CONFIG_PATH is unset.
const DefaultPath = "configs/config.yaml"

// DefaultToleranceMinutes is the auto-approval window for timesheets.
const DefaultToleranceMinutes = 15

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// RemindersConfig controls the shift-start reminder loop.
type RemindersConfig struct {
	Enabled              bool `yaml:"enabled"`
	HoursBefore          int  `yaml:"hours_before"`
	CheckIntervalMinutes int  `yaml:"check_interval_minutes"`
	MaxConcurrent        int  `yaml:"max_concurrent"`
}

// SchedulingConfig holds the knobs that can change while the service runs.
type SchedulingConfig struct {
	ToleranceMinutes   *int    `yaml:"tolerance_minutes"`
	DefaultRadiusMiles float64 `yaml:"default_radius_miles"`
	RequireCoordinates bool    `yaml:"require_coordinates"`
}

// Policy is the resolved, hot-reloadable scheduling policy.
type Policy struct {
	ToleranceMinutes   int
	DefaultRadiusMiles float64
	RequireCoordinates bool
}

type Config struct {
	Telegram struct {
		BotToken      string  `yaml:"bot_token"`
		Debug         bool    `yaml:"debug"`
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"telegram"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address        string `yaml:"address"`
		Password       string `yaml:"password"`
		DB             int    `yaml:"db"`
		LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
	} `yaml:"redis"`

	API struct {
		Port   int    `yaml:"port"`
		APIKey string `yaml:"api_key"`
	} `yaml:"api"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Scheduling SchedulingConfig `yaml:"scheduling"`

	Reminders RemindersConfig `yaml:"reminders"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads the YAML file at path, expanding ${ENV_VAR} placeholders, and
// makes sure the database directory exists.
func Load(path string) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/rota.db"
	}
	return &cfg, nil
}

// Validate rejects values no default can repair.
func (c *Config) Validate() error {
	if t := c.Scheduling.ToleranceMinutes; t != nil && *t < 0 {
		return fmt.Errorf("scheduling.tolerance_minutes must not be negative, got %d", *t)
	}
	if c.Scheduling.DefaultRadiusMiles < 0 {
		return fmt.Errorf("scheduling.default_radius_miles must not be negative, got %g", c.Scheduling.DefaultRadiusMiles)
	}
	return nil
}

// Policy resolves the scheduling section with defaults applied.
func (c *Config) Policy() Policy {
	p := Policy{
		ToleranceMinutes:   DefaultToleranceMinutes,
		DefaultRadiusMiles: c.Scheduling.DefaultRadiusMiles,
		RequireCoordinates: c.Scheduling.RequireCoordinates,
	}
	if c.Scheduling.ToleranceMinutes != nil {
		p.ToleranceMinutes = *c.Scheduling.ToleranceMinutes
	}
	return p
}

func (c *Config) APIPort() int {
	if c.API.Port <= 0 {
		return 8080
	}
	return c.API.Port
}

func (c *Config) HealthPort() int {
	if c.Monitoring.HealthCheckPort <= 0 {
		return 8081
	}
	return c.Monitoring.HealthCheckPort
}

func (c *Config) PrometheusPort() int {
	if c.Monitoring.PrometheusPort <= 0 {
		return 9090
	}
	return c.Monitoring.PrometheusPort
}

func (c *Config) LockTTL() time.Duration {
	if c.Redis.LockTTLSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}

// NotifyRate is the Telegram send budget; the Bot API allows about 30
// messages per second per bot.
func (c *Config) NotifyRate() (perSecond float64, burst int) {
	perSecond, burst = c.Telegram.RatePerSecond, c.Telegram.Burst
	if perSecond <= 0 {
		perSecond = 25
	}
	if burst <= 0 {
		burst = 5
	}
	return perSecond, burst
}

func (b BackupConfig) Interval() time.Duration {
	if b.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IntervalHours) * time.Hour
}

func (b BackupConfig) Dir() string {
	if b.Path == "" {
		return "backups"
	}
	return b.Path
}

func (r RemindersConfig) Lead() time.Duration {
	if r.HoursBefore <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(r.HoursBefore) * time.Hour
}

func (r RemindersConfig) CheckInterval() time.Duration {
	if r.CheckIntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(r.CheckIntervalMinutes) * time.Minute
}

func (r RemindersConfig) Concurrency() int {
	if r.MaxConcurrent <= 0 {
		return 10
	}
	return r.MaxConcurrent
}

// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the client configuration.
type Config struct {
	Coordinator CoordinatorConfig       `yaml:"coordinator"`
	Room        RoomConfig              `yaml:"room"`
	Sync        SyncConfig              `yaml:"sync"`
	Player      PlayerConfig            `yaml:"player"`
	Filters     map[string]FilterConfig `yaml:"filters"`
	Log         LogConfig               `yaml:"log"`
}

// CoordinatorConfig represents the coordinator endpoints.
type CoordinatorConfig struct {
	APIURL           string          `yaml:"api_url" validate:"required,url"`
	WSURL            string          `yaml:"ws_url" validate:"required,url"`
	RequestTimeoutMs int             `yaml:"request_timeout_ms" default:"5000" validate:"gte=100,lte=60000"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig represents reconnect backoff settings.
type ReconnectConfig struct {
	MaxAttempts int `yaml:"max_attempts" default:"5" validate:"gte=0,lte=100"`
	BaseDelayMs int `yaml:"base_delay_ms" default:"1000" validate:"gte=10,lte=60000"`
}

// RoomConfig identifies the room and the local member.
type RoomConfig struct {
	Code     string `yaml:"code" validate:"required"`
	UserName string `yaml:"user_name" validate:"required,max=32"`
}

// SyncConfig represents reconciliation tunables.
type SyncConfig struct {
	DriftThresholdMs   int `yaml:"drift_threshold_ms" default:"1000" validate:"gte=100,lte=10000"`
	WatchdogPollMs     int `yaml:"watchdog_poll_ms" default:"200" validate:"gte=50,lte=2000"`
	WatchdogBudgetMs   int `yaml:"watchdog_budget_ms" default:"5000" validate:"gte=500,lte=60000"`
	PublishIntervalMs  int `yaml:"publish_interval_ms" default:"200" validate:"gte=50,lte=5000"`
	MinTrackDurationMs int `yaml:"min_track_duration_ms" default:"1000" validate:"gte=0,lte=10000"`
}

// PlayerConfig selects and configures the local player.
type PlayerConfig struct {
	Type        string `yaml:"type" default:"virtual" validate:"oneof=virtual mpv"`
	MPVSocket   string `yaml:"mpv_socket" default:"/tmp/19room-mpv.sock"`
	MPVPollMs   int    `yaml:"mpv_poll_ms" default:"250" validate:"gte=50,lte=5000"`
	URLTemplate string `yaml:"url_template" default:"https://www.youtube.com/watch?v=%s"`
}

// LogConfig represents logger settings. Status output goes to stdout, so
// logs default to stderr.
type LogConfig struct {
	Output  string `yaml:"output" default:"stderr"`
	Level   string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	File    string `yaml:"file"`
	NoColor bool   `yaml:"no_color"`
}

// FilterConfig represents a broadcast filter's configuration.
type FilterConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values, and overrides
// (typically command-line flags) take precedence over both.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()
	for _, o := range overrides {
		o(&cfg)
	}

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ROOM_API_URL"); v != "" {
		c.Coordinator.APIURL = v
	}
	if v := os.Getenv("ROOM_WS_URL"); v != "" {
		c.Coordinator.WSURL = v
	}
	if v := os.Getenv("ROOM_CODE"); v != "" {
		c.Room.Code = v
	}
	if v := os.Getenv("ROOM_USER_NAME"); v != "" {
		c.Room.UserName = v
	}
	if v := os.Getenv("ROOM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if out := c.Log.Output; out != "stdout" && out != "stderr" && out != "discard" && c.Log.File == "" {
		return errors.Newf("log.file is required when log.output is %q", out)
	}

	if c.Sync.WatchdogBudgetMs <= c.Sync.WatchdogPollMs {
		return errors.Newf("watchdog_budget_ms (%d) must be greater than watchdog_poll_ms (%d)",
			c.Sync.WatchdogBudgetMs, c.Sync.WatchdogPollMs)
	}

	return nil
}

// IsFilterEnabled checks if an optional filter is enabled.
// Filters without an entry are enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return true
}

// RequestTimeout returns the coordinator request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Coordinator.RequestTimeoutMs) * time.Millisecond
}

// ReconnectBaseDelay returns the first reconnect delay.
func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.Coordinator.Reconnect.BaseDelayMs) * time.Millisecond
}

// DriftThreshold returns the tolerated drift.
func (c *Config) DriftThreshold() time.Duration {
	return time.Duration(c.Sync.DriftThresholdMs) * time.Millisecond
}

// WatchdogPoll returns the startup watchdog poll interval.
func (c *Config) WatchdogPoll() time.Duration {
	return time.Duration(c.Sync.WatchdogPollMs) * time.Millisecond
}

// WatchdogBudget returns the startup watchdog budget.
func (c *Config) WatchdogBudget() time.Duration {
	return time.Duration(c.Sync.WatchdogBudgetMs) * time.Millisecond
}

// PublishInterval returns the leader clock publication interval.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.Sync.PublishIntervalMs) * time.Millisecond
}

// MinTrackDuration returns the shortest duration an ended track must report.
func (c *Config) MinTrackDuration() time.Duration {
	return time.Duration(c.Sync.MinTrackDurationMs) * time.Millisecond
}

// MPVPoll returns the mpv property poll interval.
func (c *Config) MPVPoll() time.Duration {
	return time.Duration(c.Player.MPVPollMs) * time.Millisecond
}

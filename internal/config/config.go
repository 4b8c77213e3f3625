// Package config provides configuration loading, defaults, and validation
// for the messengerd service. Values come from defaults, an optional
// config.yaml, and MSG_* environment variables, in that order of precedence.
package config

import (
	"time"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Graph       GraphConfig       `mapstructure:"graph"`
	Messenger   MessengerConfig   `mapstructure:"messenger"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// LogConfig controls log level and output format.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"   validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  validate:"min=1s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=1s"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// GraphConfig holds Facebook Graph API settings. AppID is this application's
// id as registered with the platform; it is what the thread ownership check
// compares the owning app against.
type GraphConfig struct {
	BaseURL        string        `mapstructure:"base_url"        validate:"required,url"`
	APIVersion     string        `mapstructure:"api_version"     validate:"required"`
	AppID          string        `mapstructure:"app_id"          validate:"required"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"    validate:"min=1s,max=1m"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"min=1s,max=1m"`
}

// MessengerConfig holds channel-level settings.
type MessengerConfig struct {
	// PublicBaseURL is the externally reachable base URL of this service.
	// Attachment URLs pointing at loopback hosts are rewritten onto it so
	// the platform can fetch them.
	PublicBaseURL string `mapstructure:"public_base_url" validate:"required,url"`
	VerifyToken   string `mapstructure:"verify_token"    validate:"required"`
	Channel       string `mapstructure:"channel"         validate:"required"`
}

// IdempotencyConfig selects and tunes the duplicate-send guard.
type IdempotencyConfig struct {
	Backend    string        `mapstructure:"backend"     validate:"oneof=memory redis"`
	TTL        time.Duration `mapstructure:"ttl"         validate:"min=1s"`
	MaxEntries int           `mapstructure:"max_entries" validate:"min=1"`
	RedisURL   string        `mapstructure:"redis_url"   validate:"required_if=Backend redis,omitempty,url"`
}

// TaskConfig enables and schedules a single background task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// Package config loads and validates the schedule importer YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Defaults applied by validate when a setting is omitted.
const (
	DefaultTimezone       = "UTC"
	DefaultActor          = "schedule-import"
	DefaultLanguage       = "en"
	DefaultDaemonSchedule = "*/15 * * * *"
	DefaultAttempts       = 3
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// Database is the state store DSN: a SQLite path, "sqlite://path" or a
	// "postgres://" URL. Empty means the default SQLite file.
	Database string `yaml:"database"`

	// Timezone is the IANA zone imported times are normalized into.
	// Defaults to UTC.
	Timezone string `yaml:"timezone"`

	// Actor is recorded as creator or updater of imported shifts.
	Actor string `yaml:"actor"`

	// Language selects the operator message catalogue ("en" or "de").
	Language string `yaml:"language"`

	Fetch         FetchConfig         `yaml:"fetch"`
	Lock          LockConfig          `yaml:"lock"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Notifications NotificationsConfig `yaml:"notifications"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`

	location *time.Location
}

// FetchConfig tunes the feed download.
type FetchConfig struct {
	// Timeout bounds a single HTTP attempt. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout"`

	// Attempts is the number of tries for connection errors and 5xx
	// responses. Defaults to 3.
	Attempts int `yaml:"attempts"`

	UserAgent string `yaml:"user_agent"`

	// MaxBytes caps the feed size. Zero keeps the fetcher default.
	MaxBytes int64 `yaml:"max_bytes"`

	// MaxOccurrences caps recurrence expansion per iCalendar event.
	MaxOccurrences int `yaml:"max_occurrences"`
}

// LockConfig selects how imports of one source are serialized.
type LockConfig struct {
	// RedisURL switches from the in-process lock to a Redis lock shared by
	// every importer using the same database, e.g. "redis://localhost:6379/0".
	RedisURL string `yaml:"redis_url"`

	// TTL bounds how long a crashed importer can hold a Redis lock.
	TTL time.Duration `yaml:"ttl"`
}

// DaemonConfig configures scheduled imports.
type DaemonConfig struct {
	// Schedule is a standard five-field cron expression or a descriptor such
	// as "@hourly". Defaults to every 15 minutes.
	Schedule string `yaml:"schedule"`
}

// NotificationsConfig configures where shift change notifications go besides
// the log.
type NotificationsConfig struct {
	// WebhookURL receives every notification as a JSON POST. Optional.
	WebhookURL string `yaml:"webhook_url"`

	// Attempts is the number of delivery tries per notification. Defaults to 3.
	Attempts int `yaml:"attempts"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "scheduleimport".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/scheduleimport/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "scheduleimport", "config.yaml"), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write validates c and saves it as YAML at path, creating parent
// directories. The file is private to the user because it may hold
// credentials in the database DSN or telemetry headers.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// Location returns the parsed Timezone.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// validate fills in defaults and checks that every field is well-formed.
func (c *Config) validate() error {
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	c.location = loc

	if c.Actor == "" {
		c.Actor = DefaultActor
	}

	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Language != "en" && c.Language != "de" {
		return fmt.Errorf("language %q is not supported (en, de)", c.Language)
	}

	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.Timeout < time.Second {
		return fmt.Errorf("fetch.timeout %v is too short (minimum 1s)", c.Fetch.Timeout)
	}
	if c.Fetch.Attempts == 0 {
		c.Fetch.Attempts = DefaultAttempts
	}
	if c.Fetch.Attempts < 1 || c.Fetch.Attempts > 10 {
		return fmt.Errorf("fetch.attempts %d out of range (1-10)", c.Fetch.Attempts)
	}
	if c.Fetch.MaxBytes < 0 {
		return fmt.Errorf("fetch.max_bytes must not be negative")
	}
	if c.Fetch.MaxOccurrences < 0 {
		return fmt.Errorf("fetch.max_occurrences must not be negative")
	}

	if c.Lock.RedisURL != "" {
		u, err := url.Parse(c.Lock.RedisURL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			return fmt.Errorf("lock.redis_url %q must be a redis:// or rediss:// URL", c.Lock.RedisURL)
		}
	}
	if c.Lock.TTL < 0 {
		return fmt.Errorf("lock.ttl must not be negative")
	}

	if c.Daemon.Schedule == "" {
		c.Daemon.Schedule = DefaultDaemonSchedule
	}
	if _, err := cron.ParseStandard(c.Daemon.Schedule); err != nil {
		return fmt.Errorf("daemon.schedule %q: %w", c.Daemon.Schedule, err)
	}

	if c.Notifications.WebhookURL != "" {
		u, err := url.ParseRequestURI(c.Notifications.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("notifications.webhook_url %q must be a valid http or https URL", c.Notifications.WebhookURL)
		}
	}
	if c.Notifications.Attempts == 0 {
		c.Notifications.Attempts = DefaultAttempts
	}
	if c.Notifications.Attempts < 1 || c.Notifications.Attempts > 10 {
		return fmt.Errorf("notifications.attempts %d out of range (1-10)", c.Notifications.Attempts)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

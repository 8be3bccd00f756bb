// Package config loads application configuration from defaults, an optional YAML file and
// INCIDENTS_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/sla"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are separated by a
// double underscore: INCIDENTS_SERVER__METRICS_PORT sets server.metrics_port.
const EnvPrefix = "INCIDENTS_"

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	Storage       StorageConfig       `koanf:"storage"`
	SLA           SLAConfig           `koanf:"sla"`
	Maintenance   MaintenanceConfig   `koanf:"maintenance"`
	Auth          AuthConfig          `koanf:"auth"`
	CORS          CORSConfig          `koanf:"cors"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// DatabaseConfig contains PostgreSQL settings. Used when storage.driver is postgres.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gte=1"`
	Migrate         bool          `koanf:"migrate"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// StorageConfig selects the store implementation.
type StorageConfig struct {
	Driver string `koanf:"driver" validate:"oneof=memory postgres"`
}

// SLAConfig overrides entries of the built-in priority and SLA duration tables.
type SLAConfig struct {
	PriorityByType  map[string]string `koanf:"priority_by_type"`
	DurationHours   map[string]int    `koanf:"duration_hours"`
	DefaultPriority string            `koanf:"default_priority"`
}

// MaintenanceConfig contains maintenance job settings.
type MaintenanceConfig struct {
	Enabled            bool          `koanf:"enabled"`
	Schedule           string        `koanf:"schedule"`
	Retention          time.Duration `koanf:"retention" validate:"gte=0"`
	Tenant             string        `koanf:"tenant"`
	TriggerMinInterval time.Duration `koanf:"trigger_min_interval" validate:"gte=0"`
}

// AuthConfig contains bearer token settings. When disabled, write routes are public.
type AuthConfig struct {
	Enabled   bool          `koanf:"enabled"`
	SecretKey string        `koanf:"secret_key"`
	Issuer    string        `koanf:"issuer"`
	TokenTTL  time.Duration `koanf:"token_ttl" validate:"gte=0"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// NotificationsConfig contains escalation alert settings.
type NotificationsConfig struct {
	Mattermost MattermostConfig `koanf:"mattermost"`
}

// MattermostConfig contains Mattermost webhook settings. Alerts are off without a webhook URL.
type MattermostConfig struct {
	WebhookURL    string        `koanf:"webhook_url" validate:"omitempty,url"`
	Username      string        `koanf:"username"`
	IconURL       string        `koanf:"icon_url" validate:"omitempty,url"`
	Timeout       time.Duration `koanf:"timeout" validate:"gte=0"`
	RatePerMinute int           `koanf:"rate_per_minute" validate:"gte=0"`
	MaxAttempts   int           `koanf:"max_attempts" validate:"gte=0"`
	QueueSize     int           `koanf:"queue_size" validate:"gte=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			RequestTimeout:    60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			Migrate:         true,
			MigrationsPath:  "migrations",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Driver: StoragePostgres,
		},
		Maintenance: MaintenanceConfig{
			Enabled:            true,
			Schedule:           "*/5 * * * *",
			Retention:          30 * 24 * time.Hour,
			TriggerMinInterval: 10 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:   "incident-tracker",
			TokenTTL: 24 * time.Hour,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Notifications: NotificationsConfig{
			Mattermost: MattermostConfig{
				Timeout:       10 * time.Second,
				RatePerMinute: 30,
				MaxAttempts:   3,
				QueueSize:     256,
			},
		},
	}
}

// Load reads configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	return load(path, env.Provider(EnvPrefix, ".", envKey))
}

func load(path string, envProvider koanf.Provider) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if envProvider != nil {
		if err := k.Load(envProvider, nil); err != nil {
			return nil, fmt.Errorf("load environment: %w", err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps INCIDENTS_SERVER__METRICS_PORT to server.metrics_port.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Storage.Driver == StoragePostgres && c.Database.URL == "" {
		return errors.New("invalid config: database.url is required for postgres storage")
	}
	if c.Auth.Enabled && c.Auth.SecretKey == "" {
		return errors.New("invalid config: auth.secret_key is required when auth is enabled")
	}
	if _, err := c.SLA.EngineConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EngineConfig overlays the configured entries on the built-in SLA tables.
// Keys and values are matched case-insensitively.
func (s SLAConfig) EngineConfig() (sla.Config, error) {
	cfg := sla.DefaultConfig()

	for t, p := range s.PriorityByType {
		priority, ok := domain.ParsePriority(p)
		if !ok {
			return sla.Config{}, fmt.Errorf("sla: unknown priority %q for type %s", p, t)
		}
		cfg.PriorityByType[domain.IncidentType(strings.ToUpper(t))] = priority
	}

	for p, hours := range s.DurationHours {
		priority, ok := domain.ParsePriority(p)
		if !ok {
			return sla.Config{}, fmt.Errorf("sla: unknown priority %q in duration table", p)
		}
		cfg.DurationHours[priority] = hours
	}

	if s.DefaultPriority != "" {
		def, ok := domain.ParsePriority(s.DefaultPriority)
		if !ok {
			return sla.Config{}, fmt.Errorf("sla: unknown default priority %q", s.DefaultPriority)
		}
		cfg.DefaultPriority = def
	}

	if err := cfg.Validate(); err != nil {
		return sla.Config{}, err
	}
	return cfg, nil
}

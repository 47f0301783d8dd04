package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/newthinker/quoted/internal/collector"
	"github.com/newthinker/quoted/internal/core"
	"github.com/newthinker/quoted/internal/notifier"
	"github.com/newthinker/quoted/internal/settings"
	"github.com/newthinker/quoted/internal/storage/archive"
)

type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Engine    EngineConfig              `mapstructure:"engine"`
	Watchlist []string                  `mapstructure:"watchlist"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	Notify    NotifyConfig              `mapstructure:"notify"`
	Log       LogConfig                 `mapstructure:"log"`
}

type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"` // empty disables auth
}

type StorageConfig struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// Archive converts the storage section for archive.New.
func (s StorageConfig) Archive() archive.Config {
	return archive.Config{
		Type: s.Type,
		Path: s.Path,
		S3: archive.S3Config{
			Bucket:    s.S3.Bucket,
			Endpoint:  s.S3.Endpoint,
			Region:    s.S3.Region,
			AccessKey: s.S3.AccessKey,
			SecretKey: s.S3.SecretKey,
			Prefix:    s.S3.Prefix,
		},
	}
}

// ProviderConfig configures one quote provider. Quotas of zero leave the
// persisted provider settings unchanged.
type ProviderConfig struct {
	Enabled           bool           `mapstructure:"enabled"`
	APIKey            string         `mapstructure:"api_key"`
	RequestsPerMinute int            `mapstructure:"requests_per_minute"`
	RequestsPerDay    int            `mapstructure:"requests_per_day"`
	RequestsPerMonth  int            `mapstructure:"requests_per_month"`
	MaxBatch          int            `mapstructure:"max_batch"`
	Extra             map[string]any `mapstructure:"extra"`
}

// Collector converts the section for collector.Init.
func (p ProviderConfig) Collector() collector.Config {
	return collector.Config{
		APIKey:   p.APIKey,
		MaxBatch: p.MaxBatch,
		Extra:    p.Extra,
	}
}

// SettingsUpdate returns the fields this section sets explicitly.
func (p ProviderConfig) SettingsUpdate() settings.Update {
	var u settings.Update
	if p.APIKey != "" {
		u.APIKey = &p.APIKey
	}
	if p.RequestsPerMinute > 0 {
		u.RequestsPerMinute = &p.RequestsPerMinute
	}
	if p.RequestsPerDay > 0 {
		u.RequestsPerDay = &p.RequestsPerDay
	}
	if p.RequestsPerMonth > 0 {
		u.RequestsPerMonth = &p.RequestsPerMonth
	}
	return u
}

type EngineConfig struct {
	Provider     string `mapstructure:"provider"`
	Workers      int    `mapstructure:"workers"`
	MaxBatch     int    `mapstructure:"max_batch"`
	HistoryYears int    `mapstructure:"history_years"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// NotifyConfig selects the engine events reported to notifiers.
type NotifyConfig struct {
	Events    []string          `mapstructure:"events"` // empty means notifier.DefaultEvents
	Notifiers []notifier.Config `mapstructure:"notifiers"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads configuration from file on top of Defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Type: "localfs",
			Path: "data",
		},
		Engine: EngineConfig{
			Provider:     "yahoo",
			Workers:      4,
			MaxBatch:     100,
			HistoryYears: 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}

	// Storage validation
	switch c.Storage.Type {
	case "", "localfs":
		if c.Storage.Path == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("storage path required for localfs"))
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("s3 bucket required when storage type is s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown storage type: %s", c.Storage.Type))
	}

	// Engine validation
	if c.Engine.Provider == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("engine provider required"))
	}
	if c.Engine.Workers < 0 || c.Engine.MaxBatch < 0 || c.Engine.HistoryYears < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("engine workers, max_batch and history_years cannot be negative"))
	}
	if p, ok := c.Providers[c.Engine.Provider]; ok && !p.Enabled {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("engine provider %s is disabled", c.Engine.Provider))
	}

	// Provider validation
	for name, p := range c.Providers {
		if p.RequestsPerMinute < 0 || p.RequestsPerDay < 0 || p.RequestsPerMonth < 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("provider %s: request limits cannot be negative", name))
		}
		if p.MaxBatch < 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("provider %s: max_batch cannot be negative", name))
		}
	}

	for i, n := range c.Notify.Notifiers {
		switch n.Type {
		case "webhook", "telegram":
		default:
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("notifier %d: unknown type %q", i, n.Type))
		}
	}

	for i, symbol := range c.Watchlist {
		if strings.TrimSpace(symbol) == "" {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("watchlist entry %d is empty", i))
		}
	}

	return nil
}

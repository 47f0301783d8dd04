package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/quoted/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestLoad_FromFile(t *testing.T) {
	cfgPath := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9090

storage:
  type: localfs
  path: "/tmp/quoted"

providers:
  eastmoney:
    enabled: true
    requests_per_minute: 30
    max_batch: 80
    extra:
      quote_url: "http://localhost:1234"

engine:
  provider: eastmoney
  workers: 2

watchlist:
  - 600519.SH
  - 000001.SZ
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Type != "localfs" {
		t.Errorf("expected localfs, got %s", cfg.Storage.Type)
	}

	p, ok := cfg.Providers["eastmoney"]
	require.True(t, ok)
	assert.True(t, p.Enabled)
	assert.Equal(t, 30, p.RequestsPerMinute)
	assert.Equal(t, 80, p.MaxBatch)
	assert.Equal(t, "http://localhost:1234", p.Extra["quote_url"])

	assert.Equal(t, "eastmoney", cfg.Engine.Provider)
	assert.Equal(t, 2, cfg.Engine.Workers)
	// unset keys keep their defaults
	assert.Equal(t, 100, cfg.Engine.MaxBatch)
	assert.Equal(t, 20, cfg.Engine.HistoryYears)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, []string{"600519.SH", "000001.SZ"}, cfg.Watchlist)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("QUOTED_TEST_KEY", "secret")
	cfgPath := writeConfig(t, `
providers:
  yahoo:
    enabled: true
    api_key: "${QUOTED_TEST_KEY}"
`)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Providers["yahoo"].APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Engine.Provider != "yahoo" {
		t.Errorf("expected default provider yahoo, got %s", cfg.Engine.Provider)
	}
	assert.NoError(t, cfg.Validate())
}

func TestStorageConfig_Archive(t *testing.T) {
	s := StorageConfig{Type: "s3", S3: S3Config{Bucket: "b", Region: "us-east-1", Prefix: "quotes"}}
	a := s.Archive()
	assert.Equal(t, "s3", a.Type)
	assert.Equal(t, "b", a.S3.Bucket)
	assert.Equal(t, "us-east-1", a.S3.Region)
	assert.Equal(t, "quotes", a.S3.Prefix)
}

func TestProviderConfig_SettingsUpdate(t *testing.T) {
	u := ProviderConfig{APIKey: "k", RequestsPerDay: 500}.SettingsUpdate()
	require.NotNil(t, u.APIKey)
	assert.Equal(t, "k", *u.APIKey)
	require.NotNil(t, u.RequestsPerDay)
	assert.Equal(t, 500, *u.RequestsPerDay)
	assert.Nil(t, u.Name)
	assert.Nil(t, u.RequestsPerMinute)
	assert.Nil(t, u.RequestsPerMonth)
}

func TestProviderConfig_Collector(t *testing.T) {
	c := ProviderConfig{APIKey: "k", MaxBatch: 7, Extra: map[string]any{"base_url": "x"}}.Collector()
	assert.Equal(t, "k", c.APIKey)
	assert.Equal(t, 7, c.MaxBatch)
	assert.Equal(t, "x", c.Extra["base_url"])
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config { return *Defaults() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid port - zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "invalid port - too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "localfs without path",
			mutate:  func(c *Config) { c.Storage.Path = "" },
			wantErr: core.ErrConfigMissing,
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Storage.Type = "s3" },
			wantErr: core.ErrConfigMissing,
		},
		{
			name:    "unknown storage",
			mutate:  func(c *Config) { c.Storage.Type = "ftp" },
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "missing provider",
			mutate:  func(c *Config) { c.Engine.Provider = "" },
			wantErr: core.ErrConfigMissing,
		},
		{
			name:    "negative workers",
			mutate:  func(c *Config) { c.Engine.Workers = -1 },
			wantErr: core.ErrConfigInvalid,
		},
		{
			name: "disabled engine provider",
			mutate: func(c *Config) {
				c.Providers = map[string]ProviderConfig{"yahoo": {Enabled: false}}
			},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name: "negative limit",
			mutate: func(c *Config) {
				c.Providers = map[string]ProviderConfig{"yahoo": {Enabled: true, RequestsPerDay: -5}}
			},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "empty watchlist entry",
			mutate:  func(c *Config) { c.Watchlist = []string{"AAPL", " "} },
			wantErr: core.ErrConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

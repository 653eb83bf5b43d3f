package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsWithUserAgent(t *testing.T) {
	t.Setenv("EVEDATA_USER_AGENT", "evedata/1.0 (dev@example.com)")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "https://esi.evetech.net", cfg.ESI.BaseURL)
	assert.Equal(t, 100, cfg.ESI.RateLimit)
	assert.Equal(t, 60*time.Second, cfg.ESI.RateWindow)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.MaxEntryAge)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_MissingUserAgent(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_agent")
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9090"
esi:
  user_agent: "evedata/1.0 (dev@example.com)"
  rate_limit: 50
cache:
  backend: redis
  redis:
    addr: "redis.internal:6379"
    db: 3
logging:
  level: debug
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.ESI.RateLimit)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 3, cfg.Cache.Redis.DB)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)

	// File values merge over defaults, untouched sections keep theirs.
	assert.Equal(t, 3, cfg.ESI.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9090"
esi:
  user_agent: "evedata/1.0 (dev@example.com)"
`)

	t.Setenv("EVEDATA_ADDR", ":7070")
	t.Setenv("EVEDATA_ESI_RATE_WINDOW", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.ESI.RateWindow)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "{not yaml::::")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "cache.backend",
		},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.Cache.Backend = "redis"
				c.Cache.Redis.Addr = ""
			},
			wantErr: "cache.redis.addr",
		},
		{
			name:    "missing manifest URL",
			mutate:  func(c *Config) { c.SDE.ManifestURL = "" },
			wantErr: "sde.manifest_url",
		},
		{
			name:    "missing work dir",
			mutate:  func(c *Config) { c.SDE.WorkDir = "" },
			wantErr: "sde.work_dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.ESI.UserAgent = "evedata/1.0 (dev@example.com)"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"EUREC4A_CATALOG", "EUREC4A_SEGMENTS", "STORAGE_PATH", "RETENTION_DAYS",
		"COMPRESSION_LEVEL", "STORAGE_IN_MEMORY", "LISTEN_ADDR", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	// keep a stray .env of the developer out of the test
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultCatalog, cfg.Namespace())
}

func TestLoadYAMLAndEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "eurec4a.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":9000"
storage:
  path: /var/lib/eurec4a
  retention_days: 7
  cache_ttl: 1m
catalog:
  location: ./catalog.yml
  namespace: local
fetch:
  rate_per_second: 1
`), 0o644))

	t.Setenv("RETENTION_DAYS", "14")
	t.Setenv("EUREC4A_SEGMENTS", "./all_flights.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "/var/lib/eurec4a", cfg.Storage.Path)
	assert.Equal(t, 14, cfg.Storage.RetentionDays, "environment overrides the file")
	assert.Equal(t, time.Minute, cfg.Storage.CacheTTL)
	assert.Equal(t, 3, cfg.Storage.CompressionLevel, "unset keys keep their default")
	assert.Equal(t, "./all_flights.yaml", cfg.Segments.Location)
	assert.Equal(t, "local", cfg.Namespace())
	assert.Equal(t, 1.0, cfg.ToFetchConfig().RatePerSecond)

	sc := cfg.ToStorageConfig()
	assert.Equal(t, "/var/lib/eurec4a", sc.Path)
	assert.Equal(t, 14, sc.RetentionDays)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("EUREC4A_CATALOG")
	require.NoError(t, os.WriteFile(".env", []byte("EUREC4A_CATALOG=./from-dotenv.yml\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("EUREC4A_CATALOG") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "./from-dotenv.yml", cfg.Catalog.Location)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"listen address":    func(c *Config) { c.Server.ListenAddr = "" },
		"storage path":      func(c *Config) { c.Storage.Path = "" },
		"retention":         func(c *Config) { c.Storage.RetentionDays = 0 },
		"compression level": func(c *Config) { c.Storage.CompressionLevel = 5 },
		"cache capacity":    func(c *Config) { c.Storage.CacheCapacity = 0 },
		"catalog":           func(c *Config) { c.Catalog.Location = "" },
		"segments":          func(c *Config) { c.Segments.Location = "" },
		"fetch rate":        func(c *Config) { c.Fetch.RatePerSecond = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Storage.Path = ""
	cfg.Storage.InMemory = true
	assert.NoError(t, cfg.Validate(), "in-memory storage needs no path")
}

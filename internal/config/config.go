package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/d70-t/how-to-eurec4a/pkg/fetch"
	"github.com/d70-t/how-to-eurec4a/pkg/storage"
)

const (
	// DefaultCatalog is the published EUREC4A intake catalog
	DefaultCatalog = "https://raw.githubusercontent.com/eurec4a/eurec4a-intake/master/catalog.yml"
	// DefaultSegments is the published flight segmentation of all platforms
	DefaultSegments = "https://github.com/eurec4a/flight-phase-separation/releases/download/latest/all_flights.yaml"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Segments SegmentsConfig `yaml:"segments"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Path             string        `yaml:"path"`
	RetentionDays    int           `yaml:"retention_days"`
	CompressionLevel int           `yaml:"compression_level"`
	InMemory         bool          `yaml:"in_memory"`
	CacheCapacity    int           `yaml:"cache_capacity"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// CatalogConfig locates the intake catalog
type CatalogConfig struct {
	Location string `yaml:"location"`
	// Namespace scopes stored series; defaults to the catalog location.
	Namespace string `yaml:"namespace"`
}

// SegmentsConfig locates the flight segmentation
type SegmentsConfig struct {
	Location string `yaml:"location"`
	// Version is part of the memoization key; bump it to force a reload.
	Version string `yaml:"version"`
}

// FetchConfig tunes remote downloads
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxElapsedTime time.Duration `yaml:"max_elapsed_time"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Burst          int           `yaml:"burst"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			Timeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			Path:             "./data",
			RetentionDays:    30,
			CompressionLevel: 3,
			CacheCapacity:    256,
			CacheTTL:         10 * time.Minute,
		},
		Catalog: CatalogConfig{
			Location: DefaultCatalog,
		},
		Segments: SegmentsConfig{
			Location: DefaultSegments,
			Version:  "latest",
		},
		Fetch: FetchConfig{
			Timeout:        5 * time.Minute,
			MaxElapsedTime: 2 * time.Minute,
			RatePerSecond:  4,
			Burst:          4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment. A .env file in the working
// directory is loaded first; variables already set take precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := DefaultConfig()

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
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Catalog.Location = getEnv("EUREC4A_CATALOG", c.Catalog.Location)
	c.Segments.Location = getEnv("EUREC4A_SEGMENTS", c.Segments.Location)
	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Storage.RetentionDays = getEnvInt("RETENTION_DAYS", c.Storage.RetentionDays)
	c.Storage.CompressionLevel = getEnvInt("COMPRESSION_LEVEL", c.Storage.CompressionLevel)
	c.Storage.InMemory = getEnvBool("STORAGE_IN_MEMORY", c.Storage.InMemory)
	c.Server.ListenAddr = getEnv("LISTEN_ADDR", c.Server.ListenAddr)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		RetentionDays:    c.Storage.RetentionDays,
		CompressionLevel: c.Storage.CompressionLevel,
		InMemory:         c.Storage.InMemory,
	}
}

// ToFetchConfig converts to fetch.Config
func (c *Config) ToFetchConfig() fetch.Config {
	return fetch.Config{
		Timeout:        c.Fetch.Timeout,
		MaxElapsedTime: c.Fetch.MaxElapsedTime,
		RatePerSecond:  c.Fetch.RatePerSecond,
		Burst:          c.Fetch.Burst,
	}
}

// Namespace returns the storage namespace of the configured catalog
func (c *Config) Namespace() string {
	if c.Catalog.Namespace != "" {
		return c.Catalog.Namespace
	}
	return c.Catalog.Location
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Storage.Path == "" && !c.Storage.InMemory {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.RetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Storage.CacheCapacity < 1 {
		return fmt.Errorf("cache capacity must be at least 1")
	}

	if c.Catalog.Location == "" {
		return fmt.Errorf("catalog location is required")
	}

	if c.Segments.Location == "" {
		return fmt.Errorf("segments location is required")
	}

	if c.Fetch.RatePerSecond <= 0 {
		return fmt.Errorf("fetch rate must be positive")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

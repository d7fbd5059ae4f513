package feedsearch

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendSQLite = "sqlite"
)

const DefaultConfigFile = "./feedsearch.yaml"

var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration loaded from defaults, a YAML file and
// environment variables.
type Config struct {
	// Server settings
	ServerAddr        string `yaml:"server_addr"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	LogLevel          string `yaml:"log_level"`

	// Store settings
	StoreBackend string `yaml:"store_backend"`
	PebblePath   string `yaml:"pebble_path"`
	// BlevePath is the text index directory for the pebble backend.
	// Empty keeps the index in memory.
	BlevePath  string `yaml:"bleve_path"`
	SQLitePath string `yaml:"sqlite_path"`

	// Cache settings
	ResultCacheTTL  time.Duration `yaml:"result_cache_ttl"`
	ResultCacheSize int           `yaml:"result_cache_size"`
	MaxCachedPage   int           `yaml:"max_cached_page"`
	FollowCacheTTL  time.Duration `yaml:"follow_cache_ttl"`
	IndexFlagTTL    time.Duration `yaml:"index_flag_ttl"`

	// View counter settings
	ViewQueueSize int           `yaml:"view_queue_size"`
	ViewWorkers   int           `yaml:"view_workers"`
	ViewTimeout   time.Duration `yaml:"view_timeout"`
}

// LoadConfig loads configuration from:
// 1. Default values
// 2. YAML file at FEEDSEARCH_CONFIG_FILE (if exists)
// 3. Environment variables (override)
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(getEnv("FEEDSEARCH_CONFIG_FILE", DefaultConfigFile))
}

// LoadConfigFrom is LoadConfig with an explicit YAML path.  A missing file
// is not an error.
func LoadConfigFrom(configFile string) (*Config, error) {
	config := &Config{
		ServerAddr:        "0.0.0.0:8235",
		PrometheusEnabled: true,
		LogLevel:          "info",

		StoreBackend: BackendPebble,
		PebblePath:   "./feedsearch.pebble",
		BlevePath:    "./feedsearch.bleve",
		SQLitePath:   "./feedsearch.db",

		ResultCacheTTL:  DefaultResultCacheTTL,
		ResultCacheSize: DefaultResultCacheSize,
		MaxCachedPage:   DefaultMaxCachedPage,
		FollowCacheTTL:  DefaultFollowCacheTTL,
		IndexFlagTTL:    DefaultIndexFlagTTL,

		ViewQueueSize: 1024,
		ViewWorkers:   4,
		ViewTimeout:   5 * time.Second,
	}

	if _, err := os.Stat(configFile); err == nil {
		if err := loadConfigYAML(configFile, config); err != nil {
			return nil, err
		}
	}

	config.ServerAddr = getEnv("FEEDSEARCH_SERVER_ADDR", config.ServerAddr)
	config.PrometheusEnabled = getEnvBool("FEEDSEARCH_PROMETHEUS_ENABLED", config.PrometheusEnabled)
	config.LogLevel = getEnv("FEEDSEARCH_LOG_LEVEL", config.LogLevel)

	config.StoreBackend = getEnv("FEEDSEARCH_STORE_BACKEND", config.StoreBackend)
	config.PebblePath = getEnv("FEEDSEARCH_PEBBLE_PATH", config.PebblePath)
	config.BlevePath = getEnv("FEEDSEARCH_BLEVE_PATH", config.BlevePath)
	config.SQLitePath = getEnv("FEEDSEARCH_SQLITE_PATH", config.SQLitePath)

	config.ResultCacheTTL = getEnvDuration("FEEDSEARCH_RESULT_CACHE_TTL", config.ResultCacheTTL)
	config.ResultCacheSize = getEnvInt("FEEDSEARCH_RESULT_CACHE_SIZE", config.ResultCacheSize)
	config.MaxCachedPage = getEnvInt("FEEDSEARCH_MAX_CACHED_PAGE", config.MaxCachedPage)
	config.FollowCacheTTL = getEnvDuration("FEEDSEARCH_FOLLOW_CACHE_TTL", config.FollowCacheTTL)
	config.IndexFlagTTL = getEnvDuration("FEEDSEARCH_INDEX_FLAG_TTL", config.IndexFlagTTL)

	config.ViewQueueSize = getEnvInt("FEEDSEARCH_VIEW_QUEUE_SIZE", config.ViewQueueSize)
	config.ViewWorkers = getEnvInt("FEEDSEARCH_VIEW_WORKERS", config.ViewWorkers)
	config.ViewTimeout = getEnvDuration("FEEDSEARCH_VIEW_TIMEOUT", config.ViewTimeout)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadConfigYAML overlays the keys present in the YAML file onto config.
func loadConfigYAML(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config YAML file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	backends := []string{BackendMemory, BackendPebble, BackendSQLite}
	if !slices.Contains(backends, c.StoreBackend) {
		return fmt.Errorf("%w: store backend %q not in %v", ErrInvalidConfig, c.StoreBackend, backends)
	}
	if c.ResultCacheTTL <= 0 || c.FollowCacheTTL <= 0 || c.IndexFlagTTL <= 0 {
		return fmt.Errorf("%w: cache ttls must be positive", ErrInvalidConfig)
	}
	return nil
}

// SearchServiceOptions builds service options from the config.
func (c *Config) SearchServiceOptions() *SearchServiceOptions {
	return &SearchServiceOptions{
		Results: &ResultCacheOptions{
			TTL:           c.ResultCacheTTL,
			Size:          c.ResultCacheSize,
			MaxCachedPage: c.MaxCachedPage,
		},
		Follows: &FollowSetResolverOptions{
			TTL: c.FollowCacheTTL,
		},
		Probe: &IndexCapabilityProbeOptions{
			TTL: c.IndexFlagTTL,
		},
		Views: &ViewCounterOptions{
			QueueSize: c.ViewQueueSize,
			Workers:   c.ViewWorkers,
			Timeout:   c.ViewTimeout,
		},
	}
}

// Helper functions to get environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

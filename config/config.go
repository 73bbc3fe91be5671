package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete core configuration
type Config struct {
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Throttle ThrottleConfig `yaml:"throttle" json:"throttle"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level            string            `yaml:"level" json:"level"`
	Format           string            `yaml:"format" json:"format"` // json or text
	Output           string            `yaml:"output" json:"output"` // stdout, stderr, or file path
	SanitizePatterns []string          `yaml:"sanitize_patterns" json:"sanitize_patterns"`
	ComponentLevels  map[string]string `yaml:"component_levels" json:"component_levels"`
}

// CacheConfig contains cache engine and storage adapter configuration.
// Type selects the adapter; the remaining fields are backend-specific
// connection settings, only read by the adapter they belong to.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Type      string        `yaml:"type" json:"type"` // memory, sqlite, redis, dynamodb, postgres
	Retention time.Duration `yaml:"retention" json:"retention"`
	Limit     int           `yaml:"limit" json:"limit"` // max entries, 0 = unbounded

	// sqlite
	Filename string `yaml:"filename" json:"filename"`

	// redis
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// dynamodb
	Table  string `yaml:"table" json:"table"`
	Region string `yaml:"region" json:"region"`

	// postgres
	URL       string `yaml:"url" json:"url"`
	TableName string `yaml:"table_name" json:"table_name"`
}

// ThrottleConfig contains request throttling configuration.
// Limit and Window are required; the remaining knobs default per
// ThrottleConfig defaults in setDefaults.
type ThrottleConfig struct {
	Enabled             bool          `yaml:"enabled" json:"enabled"`
	Limit               int           `yaml:"limit" json:"limit"`
	Window              time.Duration `yaml:"window" json:"window"`
	BurstLimit          int           `yaml:"burst_limit" json:"burst_limit"`
	BurstWindow         time.Duration `yaml:"burst_window" json:"burst_window"`
	BanThreshold        int           `yaml:"ban_threshold" json:"ban_threshold"`
	BanDuration         time.Duration `yaml:"ban_duration" json:"ban_duration"`
	ViolationDecay      time.Duration `yaml:"violation_decay" json:"violation_decay"`
	UARotationThreshold int           `yaml:"ua_rotation_threshold" json:"ua_rotation_threshold"`
	Namespace           string        `yaml:"namespace" json:"namespace"`
	FailureMode         string        `yaml:"failure_mode" json:"failure_mode"` // fail-open or fail-closed
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Load loads configuration from file with environment variable overrides
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	cfg.setDefaults()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

// Get returns the global configuration
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	// Logging defaults
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Logging.Output = "stdout"

	// Cache defaults
	c.Cache.Enabled = true
	c.Cache.Type = "memory"
	c.Cache.Retention = 10 * time.Minute
	c.Cache.Limit = 0
	c.Cache.DB = 0
	c.Cache.KeyPrefix = "cache"
	c.Cache.TableName = "cache_entries"

	// Throttle defaults
	c.Throttle.Enabled = true
	c.Throttle.BurstLimit = 20
	c.Throttle.BurstWindow = 1 * time.Second
	c.Throttle.BanThreshold = 5
	c.Throttle.BanDuration = 24 * time.Hour
	c.Throttle.ViolationDecay = 1 * time.Hour
	c.Throttle.UARotationThreshold = 5
	c.Throttle.Namespace = "throttle"
	c.Throttle.FailureMode = "fail-open"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate logging config
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'text')", c.Logging.Format)
	}

	// Validate cache config
	switch c.Cache.Type {
	case "memory":
	case "sqlite":
		if c.Cache.Filename == "" {
			return fmt.Errorf("sqlite cache backend requires a filename")
		}
	case "redis":
		if c.Cache.Addr == "" {
			return fmt.Errorf("redis cache backend requires an address")
		}
	case "dynamodb":
		if c.Cache.Table == "" {
			return fmt.Errorf("dynamodb cache backend requires a table name")
		}
		if c.Cache.Region == "" {
			return fmt.Errorf("dynamodb cache backend requires a region")
		}
	case "postgres":
		if c.Cache.URL == "" {
			return fmt.Errorf("postgres cache backend requires a connection URL")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be 'memory', 'sqlite', 'redis', 'dynamodb', or 'postgres')", c.Cache.Type)
	}
	if c.Cache.Retention < 0 {
		return fmt.Errorf("cache retention must not be negative")
	}
	if c.Cache.Limit < 0 {
		return fmt.Errorf("cache limit must not be negative")
	}

	// Validate throttle config
	if c.Throttle.Enabled {
		if c.Throttle.Limit <= 0 {
			return fmt.Errorf("throttle limit must be positive")
		}
		if c.Throttle.Window <= 0 {
			return fmt.Errorf("throttle window must be positive")
		}
		if c.Throttle.FailureMode != "fail-open" && c.Throttle.FailureMode != "fail-closed" {
			return fmt.Errorf("invalid failure mode: %s (must be 'fail-open' or 'fail-closed')", c.Throttle.FailureMode)
		}
	}

	return nil
}

// loadFromFile loads configuration from a YAML or JSON file
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides
// Environment variables should be prefixed with CORE_
func applyEnvOverrides(cfg *Config) error {
	prefix := "CORE_"

	// Logging overrides
	if val := os.Getenv(prefix + "LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(prefix + "LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv(prefix + "LOG_OUTPUT"); val != "" {
		cfg.Logging.Output = val
	}

	// Cache overrides
	if val := os.Getenv(prefix + "CACHE_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid CACHE_ENABLED: %w", err)
		}
		cfg.Cache.Enabled = enabled
	}
	if val := os.Getenv(prefix + "CACHE_TYPE"); val != "" {
		cfg.Cache.Type = val
	}
	if val := os.Getenv(prefix + "CACHE_RETENTION"); val != "" {
		retention, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid CACHE_RETENTION: %w", err)
		}
		cfg.Cache.Retention = retention
	}
	if val := os.Getenv(prefix + "CACHE_LIMIT"); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid CACHE_LIMIT: %w", err)
		}
		cfg.Cache.Limit = limit
	}
	if val := os.Getenv(prefix + "CACHE_FILENAME"); val != "" {
		cfg.Cache.Filename = val
	}
	if val := os.Getenv(prefix + "REDIS_ADDR"); val != "" {
		cfg.Cache.Addr = val
	}
	if val := os.Getenv(prefix + "REDIS_PASSWORD"); val != "" {
		cfg.Cache.Password = val
	}
	if val := os.Getenv(prefix + "REDIS_DB"); val != "" {
		db, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.Cache.DB = db
	}
	if val := os.Getenv(prefix + "DYNAMODB_TABLE"); val != "" {
		cfg.Cache.Table = val
	}
	if val := os.Getenv(prefix + "DYNAMODB_REGION"); val != "" {
		cfg.Cache.Region = val
	}
	if val := os.Getenv(prefix + "POSTGRES_URL"); val != "" {
		cfg.Cache.URL = val
	}

	// Throttle overrides
	if val := os.Getenv(prefix + "THROTTLE_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid THROTTLE_ENABLED: %w", err)
		}
		cfg.Throttle.Enabled = enabled
	}
	if val := os.Getenv(prefix + "THROTTLE_LIMIT"); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid THROTTLE_LIMIT: %w", err)
		}
		cfg.Throttle.Limit = limit
	}
	if val := os.Getenv(prefix + "THROTTLE_WINDOW"); val != "" {
		window, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid THROTTLE_WINDOW: %w", err)
		}
		cfg.Throttle.Window = window
	}
	if val := os.Getenv(prefix + "THROTTLE_FAILURE_MODE"); val != "" {
		cfg.Throttle.FailureMode = val
	}

	return nil
}

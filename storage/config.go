package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds buffer pool configuration
type Config struct {
	// Buffer Pool Configuration
	BufferPoolSize    int    `json:"buffer_pool_size"`   // Number of frames in the pool
	ReplacementPolicy string `json:"replacement_policy"` // clock, lru, mru or 2q

	// Disk Configuration
	DataDirectory string `json:"data_directory"` // Directory for relation files
	UseMmap       bool   `json:"use_mmap"`       // Memory-mapped disk manager
	Compression   string `json:"compression"`    // Page compression (none, snappy, lz4)

	// Background Writer Configuration
	BgWriterEnabled   bool          `json:"bgwriter_enabled"`
	BgWriterDelay     time.Duration `json:"bgwriter_delay"`      // Delay between active rounds
	BgWriterMaxPages  int           `json:"bgwriter_max_pages"`  // Max pages flushed per round
	BgWriterHibernate time.Duration `json:"bgwriter_hibernate"`  // Max sleep while idle

	// Performance Configuration
	EnableMetrics bool   `json:"enable_metrics"`
	LogLevel      string `json:"log_level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		BufferPoolSize:    128,
		ReplacementPolicy: "2q", // 2Q resists scan pollution better than plain LRU
		DataDirectory:     "./data",
		UseMmap:           false,
		Compression:       "none",
		BgWriterEnabled:   true,
		BgWriterDelay:     200 * time.Millisecond,
		BgWriterMaxPages:  100,
		BgWriterHibernate: 10 * time.Second,
		EnableMetrics:     true,
		LogLevel:          "info",
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from environment variables,
// falling back to defaults for anything unset
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if val := os.Getenv("HEXPOOL_BUFFER_POOL_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			config.BufferPoolSize = size
		}
	}

	if val := os.Getenv("HEXPOOL_REPLACEMENT_POLICY"); val != "" {
		config.ReplacementPolicy = val
	}

	if val := os.Getenv("HEXPOOL_DATA_DIRECTORY"); val != "" {
		config.DataDirectory = val
	}

	if val := os.Getenv("HEXPOOL_USE_MMAP"); val != "" {
		config.UseMmap = val == "true" || val == "1"
	}

	if val := os.Getenv("HEXPOOL_COMPRESSION"); val != "" {
		config.Compression = val
	}

	if val := os.Getenv("HEXPOOL_BGWRITER_ENABLED"); val != "" {
		config.BgWriterEnabled = val == "true" || val == "1"
	}

	if val := os.Getenv("HEXPOOL_BGWRITER_DELAY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.BgWriterDelay = d
		}
	}

	if val := os.Getenv("HEXPOOL_BGWRITER_MAX_PAGES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.BgWriterMaxPages = n
		}
	}

	if val := os.Getenv("HEXPOOL_ENABLE_METRICS"); val != "" {
		config.EnableMetrics = val == "true" || val == "1"
	}

	if val := os.Getenv("HEXPOOL_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	return config
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BufferPoolSize <= 0 {
		return fmt.Errorf("buffer pool size must be greater than 0")
	}

	if _, err := ParsePolicy(c.ReplacementPolicy); err != nil {
		return err
	}

	if c.DataDirectory == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	switch c.Compression {
	case "none", "snappy", "lz4":
	default:
		return fmt.Errorf("invalid compression algorithm: %s (must be none, snappy or lz4)", c.Compression)
	}

	if c.BgWriterEnabled {
		if c.BgWriterDelay <= 0 {
			return fmt.Errorf("bgwriter delay must be positive")
		}
		if c.BgWriterMaxPages <= 0 {
			return fmt.Errorf("bgwriter max pages must be positive")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Policy parses the configured replacement policy. Call Validate first.
func (c *Config) Policy() PolicyKind {
	p, err := ParsePolicy(c.ReplacementPolicy)
	if err != nil {
		return PolicyTwoQ
	}
	return p
}

// CompressionType maps the configured algorithm to the codec constant
func (c *Config) CompressionType() CompressionType {
	switch c.Compression {
	case "snappy":
		return CompressionSnappy
	case "lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// NewLogger builds a production zap logger at the configured level
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

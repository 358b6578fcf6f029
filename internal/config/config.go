// Package config loads the recordindex server configuration from YAML
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nainya/recordindex/internal/logger"
	"github.com/nainya/recordindex/pkg/repository"
	"github.com/nainya/recordindex/pkg/storage"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete server configuration
type Config struct {
	DBPath   string        `yaml:"db_path"`
	GrpcPort int           `yaml:"grpc_port"`
	HTTPPort int           `yaml:"http_port"`
	Log      LogConfig     `yaml:"log"`
	Scan     ScanConfig    `yaml:"scan"`
	Storage  StorageConfig `yaml:"storage"`
}

// LogConfig configures the zerolog logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	Caller bool   `yaml:"caller"`
}

// ScanConfig holds scan defaults and server-side throttling
type ScanConfig struct {
	DefaultCaching  int     `yaml:"default_caching"`
	BlockCachePages int     `yaml:"block_cache_pages"`
	RateLimit       float64 `yaml:"rate_limit"` // scans per second, 0 disables throttling
	Burst           int     `yaml:"burst"`
}

// StorageConfig selects how record bodies are stored
type StorageConfig struct {
	Compression string `yaml:"compression"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		DBPath:   "recordindex.db",
		GrpcPort: 50051,
		HTTPPort: 9090,
		Log: LogConfig{
			Level: "info",
		},
		Scan: ScanConfig{
			DefaultCaching:  storage.DefaultCaching,
			BlockCachePages: 1024,
			Burst:           1,
		},
		Storage: StorageConfig{
			Compression: "zstd",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and names
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path is required", ErrInvalidConfig)
	}
	for name, port := range map[string]int{"grpc_port": c.GrpcPort, "http_port": c.HTTPPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalidConfig, name, port)
		}
	}
	if c.GrpcPort != 0 && c.GrpcPort == c.HTTPPort {
		return fmt.Errorf("%w: grpc_port and http_port are both %d", ErrInvalidConfig, c.GrpcPort)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Scan.DefaultCaching < 1 {
		return fmt.Errorf("%w: scan.default_caching must be at least 1", ErrInvalidConfig)
	}
	if c.Scan.BlockCachePages < 0 {
		return fmt.Errorf("%w: scan.block_cache_pages must not be negative", ErrInvalidConfig)
	}
	if c.Scan.RateLimit < 0 {
		return fmt.Errorf("%w: scan.rate_limit must not be negative", ErrInvalidConfig)
	}
	if c.Scan.RateLimit > 0 && c.Scan.Burst < 1 {
		return fmt.Errorf("%w: scan.burst must be at least 1 when rate_limit is set", ErrInvalidConfig)
	}
	if _, err := repository.ParseCompression(c.Storage.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoggerConfig converts the log section for logger.NewLogger
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Pretty:     c.Log.Pretty,
		WithCaller: c.Log.Caller,
	}
}

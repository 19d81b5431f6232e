// Package config loads the worker configuration from file, environment
// and defaults.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PAGEDFS_*), for keys the configuration file sets
//  2. Configuration file (YAML)
//  3. Default values
//
// Without a configuration file the defaults are used as they are and the
// environment is not read.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/marmos91/pagedfs/internal/bytesize"
)

// Config is the static configuration of a pagedfs worker.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Store configures the paged block store.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Master configures the block master connection.
	Master MasterConfig `mapstructure:"master" yaml:"master"`

	// UFS configures the underlying file system.
	UFS UFSConfig `mapstructure:"ufs" yaml:"ufs"`

	// Load configures the load job pipeline.
	Load LoadConfig `mapstructure:"load" yaml:"load"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format" yaml:"format"`

	// Output is where logs go: stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint. When
// Enabled is false no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port the metrics endpoint listens on.
	Port int `mapstructure:"port" yaml:"port"`
}

// StorageDirConfig describes one cache storage directory.
type StorageDirConfig struct {
	// Path is the directory root on the local file system.
	Path string `mapstructure:"path" yaml:"path"`

	// Capacity bounds the bytes cached in this directory. Accepts
	// human-readable sizes like "10Gi".
	Capacity bytesize.ByteSize `mapstructure:"capacity" yaml:"capacity"`
}

// StoreConfig configures the paged block store.
type StoreConfig struct {
	// PageSize is the byte size of every cache page. Required, > 0.
	PageSize bytesize.ByteSize `mapstructure:"page_size" yaml:"page_size"`

	// Dirs lists the storage directories pages spread across.
	Dirs []StorageDirConfig `mapstructure:"dirs" yaml:"dirs"`

	// RemoveBlockTimeout bounds the exclusive lock wait during block
	// removal.
	RemoveBlockTimeout time.Duration `mapstructure:"remove_block_timeout" yaml:"remove_block_timeout"`

	// Tier and Medium are the storage labels reported to the master.
	Tier   string `mapstructure:"tier" yaml:"tier"`
	Medium string `mapstructure:"medium" yaml:"medium"`
}

// MasterConfig configures the block master client pool.
type MasterConfig struct {
	// Address is the master's host:port.
	Address string `mapstructure:"address" yaml:"address"`

	// PoolSize is the number of pooled master clients.
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size"`
}

// UFSConfig configures the underlying file system.
type UFSConfig struct {
	// Type selects the backend: local or s3.
	Type string `mapstructure:"type" yaml:"type"`

	// Root is the local UFS root directory (local type).
	Root string `mapstructure:"root" yaml:"root"`

	// Bucket, Region and Endpoint configure the S3 backend.
	Bucket   string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Region   string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// StreamTTL is how long idle UFS input streams stay cached.
	StreamTTL time.Duration `mapstructure:"stream_ttl" yaml:"stream_ttl"`
}

// LoadConfig configures the load job pipeline.
type LoadConfig struct {
	// BatchSize is the number of files one prepared batch holds.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// Concurrency bounds in-flight worker RPCs per job.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// Load loads configuration from file, environment, and defaults.
// When no config file is found the defaults are returned unchanged.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v, configPath)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := Default()
		return cfg, Validate(cfg)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// PAGEDFS_LOGGING_LEVEL=DEBUG etc.
	v.SetEnvPrefix("PAGEDFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

func readConfigFile(v *viper.Viper, configPath string) (bool, error) {
	if configPath == "" {
		return false, nil
	}
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// decodeHooks converts config file values into ByteSize and Duration
// fields, so sizes can be written as "64Ki" and timeouts as "60s".
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			return bytesize.Parse(value)
		case int:
			return bytesize.ByteSize(value), nil
		case int64:
			return bytesize.ByteSize(value), nil
		case uint64:
			return bytesize.ByteSize(value), nil
		case float64:
			return bytesize.ByteSize(value), nil
		default:
			return data, nil
		}
	}
}

// Validate checks the configuration for inconsistencies.
func Validate(cfg *Config) error {
	switch strings.ToUpper(cfg.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid logging level %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format %q", cfg.Logging.Format)
	}
	if cfg.Store.PageSize == 0 {
		return fmt.Errorf("store.page_size is required and must be > 0")
	}
	if len(cfg.Store.Dirs) == 0 {
		return fmt.Errorf("store.dirs must list at least one storage directory")
	}
	for i, dir := range cfg.Store.Dirs {
		if dir.Path == "" {
			return fmt.Errorf("store.dirs[%d].path is required", i)
		}
		if dir.Capacity == 0 {
			return fmt.Errorf("store.dirs[%d].capacity must be > 0", i)
		}
		if uint64(dir.Capacity) < uint64(cfg.Store.PageSize) {
			return fmt.Errorf("store.dirs[%d].capacity smaller than one page", i)
		}
	}
	if cfg.Store.RemoveBlockTimeout <= 0 {
		return fmt.Errorf("store.remove_block_timeout must be > 0")
	}
	switch cfg.UFS.Type {
	case "local":
		if cfg.UFS.Root == "" {
			return fmt.Errorf("ufs.root is required for the local ufs")
		}
	case "s3":
		if cfg.UFS.Bucket == "" {
			return fmt.Errorf("ufs.bucket is required for the s3 ufs")
		}
	default:
		return fmt.Errorf("invalid ufs type %q", cfg.UFS.Type)
	}
	if cfg.Master.PoolSize <= 0 {
		return fmt.Errorf("master.pool_size must be > 0")
	}
	if cfg.Load.BatchSize <= 0 {
		return fmt.Errorf("load.batch_size must be > 0")
	}
	return nil
}

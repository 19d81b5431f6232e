package config

import (
	"strings"
	"time"

	"github.com/marmos91/pagedfs/internal/bytesize"
)

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in defaults for any unset field. Zero values are
// replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyStoreDefaults(&cfg.Store)
	applyMasterDefaults(&cfg.Master)
	applyUFSDefaults(&cfg.UFS)
	applyLoadDefaults(&cfg.Load)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.PageSize == 0 {
		cfg.PageSize = 64 * bytesize.KiB
	}
	if len(cfg.Dirs) == 0 {
		cfg.Dirs = []StorageDirConfig{{
			Path:     "/var/lib/pagedfs/cache",
			Capacity: 1 * bytesize.GiB,
		}}
	}
	if cfg.RemoveBlockTimeout == 0 {
		cfg.RemoveBlockTimeout = 60 * time.Second
	}
	if cfg.Tier == "" {
		cfg.Tier = "MEM"
	}
	if cfg.Medium == "" {
		cfg.Medium = "MEM"
	}
}

func applyMasterDefaults(cfg *MasterConfig) {
	if cfg.Address == "" {
		cfg.Address = "localhost:19998"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 4
	}
}

func applyUFSDefaults(cfg *UFSConfig) {
	if cfg.Type == "" {
		cfg.Type = "local"
	}
	if cfg.Type == "local" && cfg.Root == "" {
		cfg.Root = "/var/lib/pagedfs/ufs"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.StreamTTL == 0 {
		cfg.StreamTTL = 5 * time.Minute
	}
}

func applyLoadDefaults(cfg *LoadConfig) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 200
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 8
	}
}

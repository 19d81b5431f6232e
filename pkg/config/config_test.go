package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pagedfs/internal/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 64*bytesize.KiB, cfg.Store.PageSize)
	assert.Equal(t, 60*time.Second, cfg.Store.RemoveBlockTimeout)
	assert.Equal(t, "MEM", cfg.Store.Tier)
	assert.Equal(t, "local", cfg.UFS.Type)
	assert.Equal(t, 200, cfg.Load.BatchSize)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
store:
  page_size: 4Ki
  remove_block_timeout: 100ms
  dirs:
    - path: /tmp/pagedfs/d0
      capacity: 10Mi
    - path: /tmp/pagedfs/d1
      capacity: 512Ki
ufs:
  type: local
  root: /tmp/ufs
load:
  batch_size: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 4*bytesize.KiB, cfg.Store.PageSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Store.RemoveBlockTimeout)
	require.Len(t, cfg.Store.Dirs, 2)
	assert.Equal(t, 10*bytesize.MiB, cfg.Store.Dirs[0].Capacity)
	assert.Equal(t, "/tmp/ufs", cfg.UFS.Root)
	assert.Equal(t, 50, cfg.Load.BatchSize)
	// untouched sections get defaults
	assert.Equal(t, 4, cfg.Master.PoolSize)
	assert.Equal(t, 5*time.Minute, cfg.UFS.StreamTTL)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "LOUD" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero page size", func(c *Config) { c.Store.PageSize = 0 }},
		{"no dirs", func(c *Config) { c.Store.Dirs = nil }},
		{"dir without path", func(c *Config) { c.Store.Dirs[0].Path = "" }},
		{"capacity below page", func(c *Config) {
			c.Store.Dirs[0].Capacity = c.Store.PageSize / 2
		}},
		{"bad ufs type", func(c *Config) { c.UFS.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.UFS.Type = "s3"; c.UFS.Bucket = "" }},
		{"zero batch size", func(c *Config) { c.Load.BatchSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateAcceptsDefault(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

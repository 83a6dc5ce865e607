package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 20, cfg.Extraction.PageLimit)
	assert.Equal(t, "\n", cfg.Extraction.Separator)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.False(t, cfg.PrintPreviewDisabled())

	_, set := cfg.RendererBackendOverride()
	assert.False(t, set)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlData := `
extraction:
  page_limit: 5
policy:
  print_preview_disabled: true
  renderer_backend_override: true
session:
  prepare_timeout: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))

	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_URL", "redis://cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Extraction.PageLimit)
	assert.True(t, cfg.PrintPreviewDisabled())
	enabled, set := cfg.RendererBackendOverride()
	assert.True(t, set)
	assert.True(t, enabled)
	assert.Equal(t, 3*time.Second, cfg.Session.PrepareTimeout)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "cache:6379", cfg.Store.Redis.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero page limit", func(c *Config) { c.Extraction.PageLimit = 0 }, true},
		{"unknown ocr engine", func(c *Config) { c.OCR.Engine = "magic" }, true},
		{"vision without key", func(c *Config) { c.OCR.Engine = "vision" }, true},
		{"vision with key", func(c *Config) {
			c.OCR.Engine = "vision"
			c.OCR.Vision.APIKey = "sk-or-test"
		}, false},
		{"unknown store", func(c *Config) { c.Store.Driver = "disk" }, true},
		{"negative timeout", func(c *Config) { c.Session.PrepareTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

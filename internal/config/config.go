// Package config provides unified configuration loading for the preview
// extractor. Supports YAML files, .env files, environment variables and
// programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/preview-extractor/internal/domain"
)

// Config holds all configuration for the extractor.
type Config struct {
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Render        RenderConfig        `yaml:"render"`
	Raster        RasterConfig        `yaml:"raster"`
	OCR           OCRConfig           `yaml:"ocr"`
	Store         StoreConfig         `yaml:"store"`
	Policy        PolicyConfig        `yaml:"policy"`
	Session       SessionConfig       `yaml:"session"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ExtractionConfig bounds the text extraction loop.
type ExtractionConfig struct {
	PageLimit        int    `yaml:"page_limit"`
	Separator        string `yaml:"separator"`
	MaxDocumentBytes int64  `yaml:"max_document_bytes"`
}

// RenderConfig holds the preview request geometry.
type RenderConfig struct {
	PageWidthMicrons  int  `yaml:"page_width_microns"`
	PageHeightMicrons int  `yaml:"page_height_microns"`
	DPI               int  `yaml:"dpi"`
	PrintBackgrounds  bool `yaml:"print_backgrounds"`
}

// RasterConfig holds bitmap conversion and capture settings.
type RasterConfig struct {
	DPI             int `yaml:"dpi"`
	OverrideDPI     int `yaml:"override_dpi"`
	CaptureMaxWidth int `yaml:"capture_max_width"`
}

// OCRConfig selects and configures the text recognizer.
type OCRConfig struct {
	Engine    string       `yaml:"engine"` // tesseract or vision
	Languages []string     `yaml:"languages"`
	Vision    VisionConfig `yaml:"vision"`
}

// VisionConfig holds the vision model settings.
type VisionConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// StoreConfig holds page store backend settings.
type StoreConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// PolicyConfig mirrors the host's preview preferences.
type PolicyConfig struct {
	PrintPreviewDisabled bool `yaml:"print_preview_disabled"`
	// RendererBackendOverride is unset when nil.
	RendererBackendOverride *bool `yaml:"renderer_backend_override"`
}

// SessionConfig holds render session settings.
type SessionConfig struct {
	// PrepareTimeout bounds the wait for a renderer frame; zero waits forever.
	PrepareTimeout time.Duration `yaml:"prepare_timeout"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies .env and
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError("read config file", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}
	}

	_ = godotenv.Load() // Ignore error if .env doesn't exist

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("validate config", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Extraction: ExtractionConfig{
			PageLimit:        20,
			Separator:        "\n",
			MaxDocumentBytes: 256 * 1024 * 1024,
		},
		Render: RenderConfig{
			PageWidthMicrons:  domain.DefaultPageWidthMicrons,
			PageHeightMicrons: domain.DefaultPageHeightMicrons,
			DPI:               domain.DefaultDPI,
		},
		Raster: RasterConfig{
			DPI:             150,
			OverrideDPI:     300,
			CaptureMaxWidth: 1024,
		},
		OCR: OCRConfig{
			Engine:    "tesseract",
			Languages: []string{"eng"},
		},
		Store: StoreConfig{
			Driver:     "memory",
			TTL:        30 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "pe:",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Extraction.PageLimit < 1 {
		return fmt.Errorf("page_limit must be positive, got %d", c.Extraction.PageLimit)
	}

	if c.Extraction.MaxDocumentBytes <= 0 {
		return fmt.Errorf("max_document_bytes must be positive")
	}

	if c.Render.DPI <= 0 || c.Raster.DPI <= 0 {
		return fmt.Errorf("dpi must be positive")
	}

	if c.Raster.CaptureMaxWidth < 1 {
		return fmt.Errorf("capture_max_width must be positive")
	}

	if c.OCR.Engine != "tesseract" && c.OCR.Engine != "vision" {
		return fmt.Errorf("invalid ocr engine: %s", c.OCR.Engine)
	}

	if c.OCR.Engine == "vision" && c.OCR.Vision.APIKey == "" {
		return fmt.Errorf("vision ocr engine requires an api key (OPENROUTER_API_KEY)")
	}

	if c.Store.Driver != "memory" && c.Store.Driver != "redis" {
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}

	if c.Session.PrepareTimeout < 0 {
		return fmt.Errorf("prepare_timeout must not be negative")
	}

	return nil
}

// PrintPreviewDisabled implements domain.Policy.
func (c *Config) PrintPreviewDisabled() bool {
	return c.Policy.PrintPreviewDisabled
}

// RendererBackendOverride implements domain.Policy.
func (c *Config) RendererBackendOverride() (bool, bool) {
	if c.Policy.RendererBackendOverride == nil {
		return false, false
	}
	return *c.Policy.RendererBackendOverride, true
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PREVIEW_PAGE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Extraction.PageLimit = n
		}
	}

	if v := os.Getenv("PREVIEW_DISABLED"); v != "" {
		cfg.Policy.PrintPreviewDisabled = v == "true" || v == "1"
	}

	if v := os.Getenv("PREVIEW_RENDERER_BACKEND_OVERRIDE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Policy.RendererBackendOverride = &b
		}
	}

	if v := os.Getenv("PREVIEW_OCR_ENGINE"); v != "" {
		cfg.OCR.Engine = v
	}

	if v := os.Getenv("PREVIEW_OCR_LANGUAGES"); v != "" {
		cfg.OCR.Languages = strings.Split(v, ",")
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.OCR.Vision.APIKey = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.OCR.Vision.Model = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.Driver = "redis"
		cfg.Store.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

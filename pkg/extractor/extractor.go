// Package extractor is the public API of the preview extractor: it opens a
// local document and extracts its text or captures its pages.
package extractor

import (
	"context"
	"sync"

	"github.com/spherical/preview-extractor/internal/cache"
	"github.com/spherical/preview-extractor/internal/compositor"
	"github.com/spherical/preview-extractor/internal/config"
	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/extract"
	"github.com/spherical/preview-extractor/internal/observability"
	"github.com/spherical/preview-extractor/internal/ocr"
	"github.com/spherical/preview-extractor/internal/pipeline"
	"github.com/spherical/preview-extractor/internal/raster"
	"github.com/spherical/preview-extractor/internal/renderer"
	"github.com/spherical/preview-extractor/internal/session"
	"github.com/spherical/preview-extractor/internal/store"
)

// Re-export event and config types for public API
type (
	StreamEvent = domain.StreamEvent
	EventType   = domain.EventType
	Config      = config.Config
	ErrorKind   = domain.ErrorKind
)

// Event type constants
const (
	EventStart          = domain.EventStart
	EventPageComposited = domain.EventPageComposited
	EventDocumentReady  = domain.EventDocumentReady
	EventPageComplete   = domain.EventPageComplete
	EventError          = domain.EventError
	EventComplete       = domain.EventComplete
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config { return config.DefaultConfig() }

// LoadConfig loads configuration from a YAML file plus environment.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// KindOf reports the failure kind of an error returned by the client.
func KindOf(err error) ErrorKind { return domain.KindOf(err) }

// Option configures a Client.
type Option func(*options)

type options struct {
	logger *observability.Logger
	events chan<- StreamEvent
}

// WithEvents streams progress events to ch. Events are dropped when ch is
// full.
func WithEvents(ch chan<- StreamEvent) Option {
	return func(o *options) { o.events = ch }
}

// WithLogger sets the logger. By default one is built from the
// observability section of the configuration.
func WithLogger(logger *observability.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Client extracts text or page images from one local document. Calls are
// serialised: a call blocks until the previous one returns.
type Client struct {
	coord  *extract.Coordinator
	doc    *renderer.Local
	blobs  cache.BlobStore
	logger *observability.Logger

	mu sync.Mutex
}

// NewClient opens the document at path and wires the extraction stack
// described by cfg. A nil cfg uses DefaultConfig.
func NewClient(ctx context.Context, path string, cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("validate config", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = observability.NewLogger(observability.LogConfig{
			Level:  cfg.Observability.LogLevel,
			Format: cfg.Observability.LogFormat,
		})
	}
	logger := o.logger

	doc, err := renderer.Open(path, logger)
	if err != nil {
		return nil, err
	}

	recognizer, err := ocr.New(cfg.OCR, cfg.Raster.DPI, logger)
	if err != nil {
		return nil, err
	}

	blobs, err := newBlobStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	converter := raster.NewConverter(raster.Config{
		DPI:         cfg.Raster.DPI,
		OverrideDPI: cfg.Raster.OverrideDPI,
	}, logger)

	deps := session.Dependencies{
		Source:     doc,
		Policy:     cfg,
		Renderer:   doc,
		Compositor: compositor.NewPDF(logger),
		Pipeline:   pipeline.New(converter, recognizer, logger),
		Registry:   store.NewRegistry(),
		Pages:      store.NewPageStore(blobs, cfg.Store.TTL),
		Logger:     logger,
	}

	var coordOpts []extract.Option
	if o.events != nil {
		coordOpts = append(coordOpts, extract.WithEvents(o.events))
	}

	logger.Info().
		Str("document", doc.URL()).
		Bool("paginated", doc.IsPaginatedDocument()).
		Str("store", cfg.Store.Driver).
		Str("ocr", cfg.OCR.Engine).
		Msg("Extractor ready")

	return &Client{
		coord:  extract.NewCoordinator(deps, sessionConfig(cfg), coordOpts...),
		doc:    doc,
		blobs:  blobs,
		logger: logger,
	}, nil
}

func newBlobStore(ctx context.Context, cfg config.StoreConfig) (cache.BlobStore, error) {
	if cfg.Driver != "redis" {
		return cache.NewMemoryStore(cfg.MaxEntries), nil
	}
	blobs, err := cache.NewRedisStore(ctx, cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, domain.ConfigError("connect page store", err)
	}
	return blobs, nil
}

func sessionConfig(cfg *Config) session.Config {
	return session.Config{
		PageLimit:         cfg.Extraction.PageLimit,
		Separator:         cfg.Extraction.Separator,
		CaptureMaxWidth:   cfg.Raster.CaptureMaxWidth,
		MaxDocumentBytes:  cfg.Extraction.MaxDocumentBytes,
		PageWidthMicrons:  cfg.Render.PageWidthMicrons,
		PageHeightMicrons: cfg.Render.PageHeightMicrons,
		DPI:               cfg.Render.DPI,
		PrintBackgrounds:  cfg.Render.PrintBackgrounds,
		PrepareTimeout:    cfg.Session.PrepareTimeout,
	}
}

// Title returns the document title.
func (c *Client) Title() string { return c.doc.Title() }

// IsPaginated reports whether the document is a PDF.
func (c *Client) IsPaginated() bool { return c.doc.IsPaginatedDocument() }

// ExtractText renders the document and recognizes the text of its first
// pages. Cancelling ctx aborts the extraction.
func (c *Client) ExtractText(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	c.coord.Extract(ctx, func(text string, err error) {
		ch <- result{text, err}
	})
	r := <-ch
	return r.text, r.err
}

// CapturePages renders every page of a PDF document to PNG.
func (c *Client) CapturePages(ctx context.Context) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type result struct {
		images [][]byte
		err    error
	}
	ch := make(chan result, 1)
	c.coord.CapturePDF(ctx, func(images [][]byte, err error) {
		ch <- result{images, err}
	})
	r := <-ch
	return r.images, r.err
}

// Close waits for a call in flight to return and releases the page store.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coord.Cancel()
	c.coord.Wait()
	return c.blobs.Close()
}

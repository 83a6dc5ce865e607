// Package raster implements the bitmap converter service on top of MuPDF.
// Each connection is served by its own worker goroutine that owns the
// opened document; closing the connection stops the worker.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/observability"
)

// Default render resolutions.
const (
	DefaultDPI         = 150
	DefaultOverrideDPI = 300
)

// Config holds converter settings.
type Config struct {
	DPI int
	// OverrideDPI is used instead of DPI when the backend override is on.
	OverrideDPI int
}

// Converter opens MuPDF-backed connections.
type Converter struct {
	cfg    Config
	logger *observability.Logger
}

// NewConverter creates a converter.
func NewConverter(cfg Config, logger *observability.Logger) *Converter {
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.OverrideDPI <= 0 {
		cfg.OverrideDPI = DefaultOverrideDPI
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Converter{cfg: cfg, logger: logger.WithComponent("raster")}
}

// Connect starts a worker and returns a connection to it.
func (c *Converter) Connect(ctx context.Context) (domain.BitmapConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn := &Connection{
		requests: make(chan func(*worker)),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	w := &worker{cfg: c.cfg, logger: c.logger}
	go w.serve(conn.requests, conn.quit, conn.done)
	return conn, nil
}

// Connection is a handle to one worker. Calls after Close, or after the
// worker has stopped, return an error wrapping domain.ErrServiceDisconnected.
type Connection struct {
	requests chan func(*worker)
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// call runs fn on the worker and waits for it to finish.
func (c *Connection) call(ctx context.Context, fn func(*worker)) error {
	finished := make(chan struct{})
	job := func(w *worker) {
		defer close(finished)
		fn(w)
	}

	select {
	case c.requests <- job:
	case <-c.done:
		return domain.ErrServiceDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-c.done:
		return domain.ErrServiceDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetBackendOverride switches the render resolution for later calls.
func (c *Connection) SetBackendOverride(enabled bool) {
	_ = c.call(context.Background(), func(w *worker) { w.override = enabled })
}

// PageCount opens region and returns its page count.
func (c *Connection) PageCount(ctx context.Context, region domain.Region) (int, bool, error) {
	var (
		count int
		err   error
	)
	if callErr := c.call(ctx, func(w *worker) { count, err = w.pageCount(region) }); callErr != nil {
		return 0, false, fmt.Errorf("page count: %w", callErr)
	}
	if err != nil {
		return 0, false, err
	}
	return count, count > 0, nil
}

// Bitmap renders page index of region.
func (c *Connection) Bitmap(ctx context.Context, region domain.Region, index int) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	if callErr := c.call(ctx, func(w *worker) { img, err = w.bitmap(region, index) }); callErr != nil {
		return nil, fmt.Errorf("bitmap %d: %w", index, callErr)
	}
	return img, err
}

// Close disconnects and waits for the worker to release the document.
func (c *Connection) Close() error {
	c.once.Do(func() { close(c.quit) })
	<-c.done
	return nil
}

type worker struct {
	cfg      Config
	logger   *observability.Logger
	override bool

	doc    *fitz.Document
	region domain.Region
}

func (w *worker) serve(requests <-chan func(*worker), quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer w.release()
	for {
		select {
		case job := <-requests:
			w.run(job)
		case <-quit:
			return
		}
	}
}

// run isolates MuPDF panics so a bad document drops only this connection.
func (w *worker) run(job func(*worker)) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Str("panic", fmt.Sprint(r)).Msg("Raster worker recovered from panic")
		}
	}()
	job(w)
}

func (w *worker) open(region domain.Region) error {
	if w.doc != nil && bytes.Equal(w.region, region) {
		return nil
	}
	w.release()

	doc, err := fitz.NewFromMemory(region)
	if err != nil {
		return domain.ConversionError("Failed to open document", err)
	}
	w.doc = doc
	w.region = region
	return nil
}

func (w *worker) release() {
	if w.doc != nil {
		w.doc.Close()
		w.doc = nil
		w.region = nil
	}
}

func (w *worker) pageCount(region domain.Region) (int, error) {
	if err := w.open(region); err != nil {
		return 0, err
	}
	return w.doc.NumPage(), nil
}

func (w *worker) bitmap(region domain.Region, index int) (image.Image, error) {
	if err := w.open(region); err != nil {
		return nil, err
	}
	if index < 0 || index >= w.doc.NumPage() {
		return nil, domain.ValidationError(fmt.Sprintf("page %d out of range", index), nil)
	}

	dpi := w.cfg.DPI
	if w.override {
		dpi = w.cfg.OverrideDPI
	}
	img, err := w.doc.ImageDPI(index, float64(dpi))
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("Failed to render page %d", index), err)
	}
	w.logger.Debug().Int("page", index).Int("dpi", dpi).Msg("Rendered page")
	return img, nil
}

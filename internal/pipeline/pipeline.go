// Package pipeline rasterizes an assembled document page by page and turns
// the pages into either recognized text or encoded page images.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/observability"
)

// DefaultPageLimit bounds the number of pages recognized in text mode.
const DefaultPageLimit = 20

// DefaultSeparator joins the text of consecutive pages.
const DefaultSeparator = "\n"

// Completion receives the outcome of one run. It is either a
// TextCompletion or an ImagesCompletion; the variant picks the mode.
type Completion interface {
	mode() domain.ExtractionMode
}

// TextCompletion receives the recognized text of a text-mode run.
type TextCompletion func(text string, err error)

// ImagesCompletion receives the encoded pages of a capture run.
type ImagesCompletion func(images [][]byte, err error)

func (TextCompletion) mode() domain.ExtractionMode   { return domain.ModeText }
func (ImagesCompletion) mode() domain.ExtractionMode { return domain.ModeRawPageImages }

// ModeOf returns the extraction mode selected by c.
func ModeOf(c Completion) domain.ExtractionMode {
	return c.mode()
}

// Fail delivers err through c regardless of its variant.
func Fail(c Completion, err error) {
	switch done := c.(type) {
	case TextCompletion:
		done("", err)
	case ImagesCompletion:
		done(nil, err)
	default:
		panic(fmt.Sprintf("pipeline: unknown completion %T", c))
	}
}

// Options tune one run.
type Options struct {
	PageLimit       int
	Separator       string
	CaptureMaxWidth int
	// BackendOverride is applied to the connection when OverrideSet is true.
	BackendOverride bool
	OverrideSet     bool
	// OnPage is called after each page has been consumed.
	OnPage func(index, count int)
}

func (o Options) withDefaults() Options {
	if o.PageLimit <= 0 {
		o.PageLimit = DefaultPageLimit
	}
	if o.Separator == "" {
		o.Separator = DefaultSeparator
	}
	if o.CaptureMaxWidth <= 0 {
		o.CaptureMaxWidth = DefaultCaptureMaxWidth
	}
	return o
}

// Pipeline drives the bitmap converter and the recognizer for one document.
type Pipeline struct {
	converter  domain.BitmapConverter
	recognizer domain.Recognizer
	logger     *observability.Logger
}

// New creates a pipeline. recognizer may be nil when only capture runs are
// expected.
func New(converter domain.BitmapConverter, recognizer domain.Recognizer, logger *observability.Logger) *Pipeline {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Pipeline{
		converter:  converter,
		recognizer: recognizer,
		logger:     logger.WithComponent("pipeline"),
	}
}

// Run rasterizes region and delivers the outcome through done exactly once.
// Pages are fetched strictly in order, one at a time.
func (p *Pipeline) Run(ctx context.Context, region domain.Region, opts Options, done Completion) {
	opts = opts.withDefaults()
	start := time.Now()

	switch d := done.(type) {
	case TextCompletion:
		text, err := p.runText(ctx, region, opts)
		p.logger.Info().
			Str("mode", domain.ModeText.String()).
			Int("chars", len(text)).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("Raster pipeline finished")
		d(text, err)
	case ImagesCompletion:
		images, err := p.runImages(ctx, region, opts)
		p.logger.Info().
			Str("mode", domain.ModeRawPageImages.String()).
			Int("pages", len(images)).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("Raster pipeline finished")
		d(images, err)
	default:
		panic(fmt.Sprintf("pipeline: unknown completion %T", done))
	}
}

func (p *Pipeline) connect(ctx context.Context, opts Options) (domain.BitmapConnection, error) {
	conn, err := p.converter.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if opts.OverrideSet {
		conn.SetBackendOverride(opts.BackendOverride)
	}
	return conn, nil
}

func (p *Pipeline) runText(ctx context.Context, region domain.Region, opts Options) (string, error) {
	if p.recognizer == nil {
		return "", domain.ConfigError("no text recognizer configured", nil)
	}

	conn, err := p.connect(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Warn().Err(err).Msg("Bitmap converter unavailable, returning empty text")
		return "", nil
	}
	defer conn.Close()

	count, ok, err := conn.PageCount(ctx, region)
	if err != nil || !ok || count <= 0 {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Debug().Int("count", count).Bool("ok", ok).Err(err).Msg("No pages to recognize")
		return "", nil
	}

	var entries []string
	joined := func() string { return strings.Join(entries, opts.Separator) }

	for i := 0; i < count && i < opts.PageLimit; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		bitmap, err := conn.Bitmap(ctx, region, i)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, domain.ErrServiceDisconnected) {
				p.logger.Warn().Int("page", i).Msg("Bitmap converter disconnected, returning partial text")
			} else {
				p.logger.Warn().Int("page", i).Err(err).Msg("Bitmap fetch failed, returning partial text")
			}
			return joined(), nil
		}
		if !validBitmap(bitmap) {
			p.logger.Debug().Int("page", i).Msg("Invalid bitmap, stopping early")
			return joined(), nil
		}

		text, err := p.recognizer.Recognize(ctx, bitmap)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			p.logger.Warn().Int("page", i).Err(err).Msg("Recognition failed, returning partial text")
			return joined(), nil
		}
		if text != "" {
			entries = append(entries, text)
		}
		if opts.OnPage != nil {
			opts.OnPage(i, count)
		}
	}

	return joined(), nil
}

func (p *Pipeline) runImages(ctx context.Context, region domain.Region, opts Options) ([][]byte, error) {
	conn, err := p.connect(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Fail(domain.KindBitmapConverterDisconnected, "connect to bitmap converter", err)
	}
	defer conn.Close()

	count, ok, err := conn.PageCount(ctx, region)
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, domain.ErrServiceDisconnected):
		return nil, domain.Fail(domain.KindBitmapConverterDisconnected, "page count", err)
	case err != nil || !ok || count <= 0:
		return nil, domain.Fail(domain.KindFailedToGetPageCount, fmt.Sprintf("page count %d", count), err)
	}

	images := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bitmap, err := conn.Bitmap(ctx, region, i)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, domain.ErrServiceDisconnected) {
				return nil, domain.Fail(domain.KindBitmapConverterDisconnected, fmt.Sprintf("page %d", i), err)
			}
			return nil, domain.Fail(domain.KindInvalidBitmap, fmt.Sprintf("page %d", i), err)
		}
		if !validBitmap(bitmap) {
			return nil, domain.Fail(domain.KindInvalidBitmap, fmt.Sprintf("page %d", i), nil)
		}

		encoded, err := EncodePage(bitmap, opts.CaptureMaxWidth)
		if err != nil {
			return nil, domain.Fail(domain.KindFailedToEncode, fmt.Sprintf("page %d", i), err)
		}
		images = append(images, encoded)
		if opts.OnPage != nil {
			opts.OnPage(i, count)
		}
	}

	return images, nil
}

func validBitmap(img image.Image) bool {
	return img != nil && !img.Bounds().Empty()
}

// Package ocr selects and instruments the text recognizer used by text
// extraction.
package ocr

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/spherical/preview-extractor/internal/config"
	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/llm"
	"github.com/spherical/preview-extractor/internal/observability"
	"github.com/spherical/preview-extractor/internal/ocr/tesseract"
)

// Engine names accepted in configuration.
const (
	EngineTesseract = "tesseract"
	EngineVision    = "vision"
)

// New builds the recognizer named by cfg.Engine. dpi is the resolution the
// bitmaps are rendered at.
func New(cfg config.OCRConfig, dpi int, logger *observability.Logger) (domain.Recognizer, error) {
	if logger == nil {
		logger = observability.Nop()
	}

	var inner domain.Recognizer
	switch cfg.Engine {
	case EngineTesseract, "":
		inner = tesseract.New(cfg.Languages, dpi)
	case EngineVision:
		if cfg.Vision.APIKey == "" {
			return nil, domain.ConfigError("vision engine requires an API key", nil)
		}
		inner = llm.NewClient(cfg.Vision.APIKey, cfg.Vision.Model, llm.WithLogger(logger))
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown ocr engine %q", cfg.Engine), nil)
	}

	engine := cfg.Engine
	if engine == "" {
		engine = EngineTesseract
	}
	return Instrument(inner, engine, logger), nil
}

// Instrument wraps r so every call is logged with its duration.
func Instrument(r domain.Recognizer, engine string, logger *observability.Logger) domain.Recognizer {
	return &instrumented{
		inner:  r,
		logger: logger.With().Str("component", "ocr").Str("engine", engine).Logger(),
	}
}

type instrumented struct {
	inner  domain.Recognizer
	logger *observability.Logger
}

func (r *instrumented) Recognize(ctx context.Context, img image.Image) (string, error) {
	start := time.Now()
	text, err := r.inner.Recognize(ctx, img)
	if err != nil {
		r.logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Recognition failed")
		return "", err
	}
	r.logger.Debug().Int("chars", len(text)).Dur("elapsed", time.Since(start)).Msg("Page recognized")
	return text, nil
}

package session

import (
	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/store"
)

// BuildSettings returns the fixed preview request for one session. Text
// extraction renders grayscale; page capture renders color.
func BuildSettings(cfg Config, mode domain.ExtractionMode, requestID int, id store.SessionID, src domain.DocumentSource) domain.PrintSettings {
	width, height := cfg.PageWidthMicrons, cfg.PageHeightMicrons
	if width <= 0 || height <= 0 {
		width, height = domain.DefaultPageWidthMicrons, domain.DefaultPageHeightMicrons
	}
	dpi := cfg.DPI
	if dpi <= 0 {
		dpi = domain.DefaultDPI
	}

	colorModel := domain.ColorModelGrayscale
	if mode == domain.ModeRawPageImages {
		colorModel = domain.ColorModelColor
	}

	paginated := src.IsPaginatedDocument()
	return domain.PrintSettings{
		PageWidthMicrons:  width,
		PageHeightMicrons: height,
		Landscape:         false,
		MarginsType:       domain.MarginsDefault,
		Duplex:            domain.DuplexSimplex,
		Copies:            1,
		Collate:           true,
		Color:             colorModel,
		DPI:               dpi,
		ScaleFactor:       100,
		HeaderFooter:      false,
		PrintBackgrounds:  cfg.PrintBackgrounds,
		PagesPerSheet:     1,
		IsFirstRequest:    true,
		RequestID:         requestID,
		PreviewUIID:       uint64(id),
		Title:             src.Title(),
		URL:               src.URL(),
		IsPaginated:       paginated,
		PreviewModifiable: !paginated,
	}
}

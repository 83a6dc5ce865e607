package domain

import (
	"fmt"
	"time"
)

// ExtractionMode selects the output shape of one extraction.
type ExtractionMode int

const (
	ModeText ExtractionMode = iota
	ModeRawPageImages
)

func (m ExtractionMode) String() string {
	switch m {
	case ModeText:
		return "text"
	case ModeRawPageImages:
		return "raw_page_images"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Region is a transferable block of document bytes (a PDF, or a page
// metafile) handed between services.
type Region []byte

// IsValid reports whether the region carries any bytes.
func (r Region) IsValid() bool {
	return len(r) > 0
}

// Clone copies the region so the receiver owns its bytes.
func (r Region) Clone() Region {
	if r == nil {
		return nil
	}
	out := make(Region, len(r))
	copy(out, r)
	return out
}

// Frame identifies the renderer frame that produced a document.
type Frame struct {
	ID string
}

// PageContent is one renderer page metafile waiting to be composited.
type PageContent struct {
	Index   int
	Content Region
}

// Page geometry defaults, in microns (A4 portrait).
const (
	DefaultPageWidthMicrons  = 210000
	DefaultPageHeightMicrons = 297000
	DefaultDPI               = 300
)

// MarginType mirrors print preview margin presets.
type MarginType string

const (
	MarginsDefault MarginType = "default"
	MarginsNone    MarginType = "none"
	MarginsMinimum MarginType = "minimum"
)

// ColorModel selects the color depth of the raster target.
type ColorModel string

const (
	ColorModelColor     ColorModel = "color"
	ColorModelGrayscale ColorModel = "grayscale"
)

// DuplexMode mirrors print preview duplex presets.
type DuplexMode string

const (
	DuplexSimplex DuplexMode = "simplex"
)

// PrintSettings is the payload of one preview request.
type PrintSettings struct {
	PageWidthMicrons  int        `json:"page_width_microns" yaml:"page_width_microns"`
	PageHeightMicrons int        `json:"page_height_microns" yaml:"page_height_microns"`
	Landscape         bool       `json:"landscape" yaml:"landscape"`
	MarginsType       MarginType `json:"margins_type" yaml:"margins_type"`
	Duplex            DuplexMode `json:"duplex" yaml:"duplex"`
	Copies            int        `json:"copies" yaml:"copies"`
	Collate           bool       `json:"collate" yaml:"collate"`
	Color             ColorModel `json:"color" yaml:"color"`
	DPI               int        `json:"dpi" yaml:"dpi"`
	ScaleFactor       int        `json:"scale_factor" yaml:"scale_factor"`
	HeaderFooter      bool       `json:"header_footer_enabled" yaml:"header_footer_enabled"`
	PrintBackgrounds  bool       `json:"should_print_backgrounds" yaml:"should_print_backgrounds"`
	PagesPerSheet     int        `json:"pages_per_sheet" yaml:"pages_per_sheet"`
	IsFirstRequest    bool       `json:"is_first_request" yaml:"is_first_request"`
	RequestID         int        `json:"preview_request_id" yaml:"preview_request_id"`
	PreviewUIID       uint64     `json:"preview_ui_id" yaml:"preview_ui_id"`
	Title             string     `json:"title" yaml:"title"`
	URL               string     `json:"url" yaml:"url"`
	IsPaginated       bool       `json:"is_paginated" yaml:"is_paginated"`
	PreviewModifiable bool       `json:"preview_modifiable" yaml:"preview_modifiable"`
}

// Validate reports the first reason the settings cannot be rendered.
func (s PrintSettings) Validate() error {
	switch {
	case s.PageWidthMicrons <= 0 || s.PageHeightMicrons <= 0:
		return fmt.Errorf("page size %dx%d microns", s.PageWidthMicrons, s.PageHeightMicrons)
	case s.DPI <= 0:
		return fmt.Errorf("dpi %d", s.DPI)
	case s.Copies < 1:
		return fmt.Errorf("copies %d", s.Copies)
	case s.ScaleFactor <= 0:
		return fmt.Errorf("scale factor %d", s.ScaleFactor)
	case s.PagesPerSheet < 1:
		return fmt.Errorf("pages per sheet %d", s.PagesPerSheet)
	}
	return nil
}

// RendererEventType is the kind of a renderer-originated event.
type RendererEventType string

const (
	RendererPrepareAck       RendererEventType = "prepare_ack"
	RendererPagePreviewed    RendererEventType = "page_previewed"
	RendererDocumentReady    RendererEventType = "document_ready"
	RendererPreviewFailed    RendererEventType = "preview_failed"
	RendererPreviewCancelled RendererEventType = "preview_cancelled"
	RendererSettingsInvalid  RendererEventType = "settings_invalid"
)

// RendererEvent is one message on a preview event endpoint.
type RendererEvent struct {
	Type          RendererEventType
	PreviewUIID   uint64
	RequestID     int
	PageIndex     int
	Region        Region
	ExpectedPages int
	Reason        string
}

// EventType represents the type of stream event
type EventType string

const (
	EventStart          EventType = "start"
	EventPageComposited EventType = "page_composited"
	EventDocumentReady  EventType = "document_ready"
	EventPageComplete   EventType = "page_complete"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// StreamEvent represents a progress event emitted during extraction
type StreamEvent struct {
	Type       EventType   `json:"type"`
	RequestID  int         `json:"request_id"`
	PageNumber int         `json:"page_number,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

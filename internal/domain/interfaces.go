package domain

import (
	"context"
	"image"
)

// DocumentSource answers questions about the document being extracted.
type DocumentSource interface {
	Title() string
	URL() string
	IsPaginatedDocument() bool
}

// Policy exposes the host's preview preferences.
type Policy interface {
	PrintPreviewDisabled() bool
	// RendererBackendOverride returns the override value and whether one is set.
	RendererBackendOverride() (enabled bool, ok bool)
}

// Renderer is the frame-level print preview interface of the document's
// renderer.
type Renderer interface {
	// Frame returns the frame currently hosting the document, if any.
	Frame() (Frame, bool)
	// RequestPreview dispatches a preview request and returns the endpoint
	// on which the renderer reports progress for it. The channel is closed
	// when the renderer has nothing more to say about the request.
	RequestPreview(ctx context.Context, settings PrintSettings) (<-chan RendererEvent, error)
	// ClosePreview tells the renderer the preview for previewUIID can be
	// torn down.
	ClosePreview(ctx context.Context, previewUIID uint64) error
}

// Compositor merges per-page metafiles into one document.
type Compositor interface {
	PrepareDocument(ctx context.Context, docID string, frame Frame) error
	CompositePage(ctx context.Context, docID string, frame Frame, page PageContent) (Region, error)
	FinishDocument(ctx context.Context, docID string, expectedPages int) (Region, error)
}

// BitmapConverter opens connections to the page rasterization service.
type BitmapConverter interface {
	Connect(ctx context.Context) (BitmapConnection, error)
}

// BitmapConnection is one live connection to the rasterization service.
// Calls return an error wrapping ErrServiceDisconnected once the peer is gone.
type BitmapConnection interface {
	SetBackendOverride(enabled bool)
	// PageCount returns the number of pages, or ok=false when the document
	// could not be measured.
	PageCount(ctx context.Context, region Region) (count int, ok bool, err error)
	Bitmap(ctx context.Context, region Region, index int) (image.Image, error)
	Close() error
}

// Recognizer turns a page bitmap into text.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

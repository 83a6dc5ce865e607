// Package renderer plays the part of the browser tab: it holds one local
// document and answers print preview requests for it with a stream of
// renderer events.
//
// PDF documents are split into single-page PDFs with pdfcpu. HTML and
// Markdown documents are laid out by MuPDF and every page is emitted as a
// PNG metafile for the compositor.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/observability"
)

// Kind is the content type of a local document.
type Kind int

const (
	KindPDF Kind = iota
	KindHTML
	KindMarkdown
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindHTML:
		return "html"
	case KindMarkdown:
		return "markdown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindFromPath detects the document kind from the file extension.
func KindFromPath(path string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindPDF, nil
	case ".html", ".htm", ".xhtml":
		return KindHTML, nil
	case ".md", ".markdown":
		return KindMarkdown, nil
	default:
		return 0, domain.ValidationError(fmt.Sprintf("unsupported document type %q", filepath.Ext(path)), nil)
	}
}

var errSuperseded = errors.New("superseded by a newer preview request")

type stream struct {
	previewUIID uint64
	cancel      context.CancelCauseFunc
}

// Local is a Renderer and DocumentSource backed by one local file.
type Local struct {
	kind   Kind
	data   []byte
	title  string
	url    string
	logger *observability.Logger

	mu       sync.Mutex
	frame    domain.Frame
	attached bool
	current  *stream
}

// Open loads the document at path.
func Open(path string, logger *observability.Logger) (*Local, error) {
	kind, err := KindFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.IOError("Failed to read document", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return New(kind, data, u.String(), logger), nil
}

// New wraps an in-memory document.
func New(kind Kind, data []byte, docURL string, logger *observability.Logger) *Local {
	if logger == nil {
		logger = observability.Nop()
	}
	l := &Local{
		kind:     kind,
		data:     data,
		url:      docURL,
		frame:    domain.Frame{ID: uuid.NewString()},
		attached: true,
		logger:   logger.WithComponent("renderer"),
	}
	l.title = documentTitle(kind, data, docURL)
	return l
}

// Title implements domain.DocumentSource.
func (l *Local) Title() string { return l.title }

// URL implements domain.DocumentSource.
func (l *Local) URL() string { return l.url }

// IsPaginatedDocument implements domain.DocumentSource.
func (l *Local) IsPaginatedDocument() bool { return l.kind == KindPDF }

// Kind returns the document kind.
func (l *Local) Kind() Kind { return l.kind }

// Frame implements domain.Renderer.
func (l *Local) Frame() (domain.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame, l.attached
}

// DetachFrame simulates the preview surface going away: later Frame calls
// report no frame.
func (l *Local) DetachFrame() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attached = false
}

// RequestPreview implements domain.Renderer. A newer request cancels the
// stream of the previous one with a PreviewCancelled event.
func (l *Local) RequestPreview(ctx context.Context, settings domain.PrintSettings) (<-chan domain.RendererEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	events := make(chan domain.RendererEvent, 1)
	streamCtx, cancel := context.WithCancelCause(ctx)
	s := &stream{previewUIID: settings.PreviewUIID, cancel: cancel}

	l.mu.Lock()
	if l.current != nil {
		l.current.cancel(errSuperseded)
	}
	l.current = s
	l.mu.Unlock()

	p := &producer{
		l:        l,
		ctx:      streamCtx,
		settings: settings,
		events:   events,
		logger: l.logger.With().
			Uint64("preview_ui_id", settings.PreviewUIID).
			Int("request_id", settings.RequestID).
			Logger(),
	}
	go func() {
		defer l.finish(s)
		p.run()
	}()
	return events, nil
}

// ClosePreview implements domain.Renderer.
func (l *Local) ClosePreview(ctx context.Context, previewUIID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil && l.current.previewUIID == previewUIID {
		l.current.cancel(context.Canceled)
		l.current = nil
	}
	l.logger.Debug().Uint64("preview_ui_id", previewUIID).Msg("Preview closed")
	return nil
}

func (l *Local) finish(s *stream) {
	s.cancel(nil)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == s {
		l.current = nil
	}
}

type producer struct {
	l        *Local
	ctx      context.Context
	settings domain.PrintSettings
	events   chan domain.RendererEvent
	logger   *observability.Logger
}

func (p *producer) run() {
	defer close(p.events)

	if err := p.settings.Validate(); err != nil {
		p.final(domain.RendererSettingsInvalid, err.Error())
		return
	}

	if !p.emit(domain.RendererEvent{Type: domain.RendererPrepareAck}) {
		p.interrupted()
		return
	}

	var err error
	switch p.l.kind {
	case KindPDF:
		err = p.renderPDF()
	default:
		err = p.renderMarkup()
	}

	switch {
	case p.ctx.Err() != nil:
		p.interrupted()
	case err != nil:
		p.logger.Warn().Err(err).Msg("Preview failed")
		p.final(domain.RendererPreviewFailed, err.Error())
	}
}

// emit delivers ev unless the stream is cancelled first.
func (p *producer) emit(ev domain.RendererEvent) bool {
	ev.PreviewUIID = p.settings.PreviewUIID
	ev.RequestID = p.settings.RequestID
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.events <- ev:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// final replaces any undelivered event with ev; the stream is over either
// way.
func (p *producer) final(t domain.RendererEventType, reason string) {
	ev := domain.RendererEvent{
		Type:        t,
		PreviewUIID: p.settings.PreviewUIID,
		RequestID:   p.settings.RequestID,
		Reason:      reason,
	}
	for {
		select {
		case p.events <- ev:
			return
		default:
		}
		select {
		case <-p.events:
		default:
		}
	}
}

func (p *producer) interrupted() {
	if errors.Is(context.Cause(p.ctx), errSuperseded) {
		p.logger.Debug().Msg("Preview superseded")
		p.final(domain.RendererPreviewCancelled, errSuperseded.Error())
	}
}

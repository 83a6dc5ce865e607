// Package sessiontest provides scripted renderer, compositor, policy and
// document source fakes for session and coordinator tests.
package sessiontest

import (
	"context"
	"fmt"
	"sync"

	"github.com/spherical/preview-extractor/internal/domain"
)

// Source is a fixed DocumentSource.
type Source struct {
	Paginated bool
	Name      string
	Location  string
}

func (s Source) Title() string             { return s.Name }
func (s Source) URL() string               { return s.Location }
func (s Source) IsPaginatedDocument() bool { return s.Paginated }

// Policy is a fixed Policy.
type Policy struct {
	Disabled bool
	Override *bool
}

func (p Policy) PrintPreviewDisabled() bool { return p.Disabled }

func (p Policy) RendererBackendOverride() (bool, bool) {
	if p.Override == nil {
		return false, false
	}
	return *p.Override, true
}

// PDFScript is the event sequence of a paginated document with n pages.
func PDFScript(n int) []domain.RendererEvent {
	events := []domain.RendererEvent{{Type: domain.RendererPrepareAck}}
	for i := 0; i < n; i++ {
		events = append(events, domain.RendererEvent{
			Type:          domain.RendererPagePreviewed,
			PageIndex:     i,
			Region:        domain.Region(fmt.Sprintf("pdf-page-%d", i)),
			ExpectedPages: n,
		})
	}
	return append(events, domain.RendererEvent{
		Type:          domain.RendererDocumentReady,
		Region:        domain.Region("pdf-document"),
		ExpectedPages: n,
	})
}

// HTMLScript is the event sequence of an HTML document with n pages.
func HTMLScript(n int) []domain.RendererEvent {
	events := PDFScript(n)
	for i := range events {
		if events[i].Type == domain.RendererPagePreviewed {
			events[i].Region = domain.Region(fmt.Sprintf("metafile-%d", events[i].PageIndex))
		}
	}
	events[len(events)-1].Region = nil
	return events
}

// Renderer replays a script of events for every preview request. Events
// with zero PreviewUIID and RequestID are stamped with the request's ids.
type Renderer struct {
	Script []domain.RendererEvent
	// Scripts replaces Script for specific request ids.
	Scripts map[int][]domain.RendererEvent
	// Hold keeps the stream open after the script for these request ids.
	Hold       map[int]bool
	NoFrame    bool
	RequestErr error

	mu       sync.Mutex
	requests []domain.PrintSettings
	closed   []uint64
}

// Frame implements domain.Renderer.
func (r *Renderer) Frame() (domain.Frame, bool) {
	if r.NoFrame {
		return domain.Frame{}, false
	}
	return domain.Frame{ID: "frame-1"}, true
}

// RequestPreview implements domain.Renderer.
func (r *Renderer) RequestPreview(ctx context.Context, settings domain.PrintSettings) (<-chan domain.RendererEvent, error) {
	r.mu.Lock()
	r.requests = append(r.requests, settings)
	hold := r.Hold[settings.RequestID]
	script, ok := r.Scripts[settings.RequestID]
	if !ok {
		script = r.Script
	}
	r.mu.Unlock()

	if r.RequestErr != nil {
		return nil, r.RequestErr
	}

	ch := make(chan domain.RendererEvent, len(script))
	for _, ev := range script {
		if ev.PreviewUIID == 0 && ev.RequestID == 0 {
			ev.PreviewUIID = settings.PreviewUIID
			ev.RequestID = settings.RequestID
		}
		ch <- ev
	}
	if !hold {
		close(ch)
	}
	return ch, nil
}

// ClosePreview implements domain.Renderer.
func (r *Renderer) ClosePreview(ctx context.Context, previewUIID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, previewUIID)
	return nil
}

// Requests returns the settings of every preview request.
func (r *Renderer) Requests() []domain.PrintSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PrintSettings(nil), r.requests...)
}

// Closed returns the preview ids passed to ClosePreview.
func (r *Renderer) Closed() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.closed...)
}

// Compositor records calls and returns deterministic regions.
type Compositor struct {
	PrepareErr   error
	CompositeErr error
	FinishErr    error

	mu        sync.Mutex
	open      map[string]int
	composed  []int
	finished  []int
	discarded int
}

func (c *Compositor) PrepareDocument(ctx context.Context, docID string, frame domain.Frame) error {
	if c.PrepareErr != nil {
		return c.PrepareErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		c.open = make(map[string]int)
	}
	c.open[docID] = 0
	return nil
}

func (c *Compositor) CompositePage(ctx context.Context, docID string, frame domain.Frame, page domain.PageContent) (domain.Region, error) {
	if c.CompositeErr != nil {
		return nil, c.CompositeErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.open[docID]; !ok {
		return nil, fmt.Errorf("document %s not prepared", docID)
	}
	c.open[docID]++
	c.composed = append(c.composed, page.Index)
	return domain.Region("composited-" + string(page.Content)), nil
}

func (c *Compositor) FinishDocument(ctx context.Context, docID string, expectedPages int) (domain.Region, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.open[docID]
	delete(c.open, docID)
	if c.FinishErr != nil {
		return nil, c.FinishErr
	}
	if !ok || n != expectedPages {
		return nil, fmt.Errorf("expected %d pages, composited %d", expectedPages, n)
	}
	c.finished = append(c.finished, expectedPages)
	return domain.Region("merged-document"), nil
}

// DiscardDocument drops an unfinished document.
func (c *Compositor) DiscardDocument(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.open[docID]; ok {
		delete(c.open, docID)
		c.discarded++
	}
}

// Composed returns the composited page indices in call order.
func (c *Compositor) Composed() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.composed...)
}

// Open returns the number of prepared, unfinished documents.
func (c *Compositor) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

// Discarded returns how many documents were discarded.
func (c *Compositor) Discarded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discarded
}

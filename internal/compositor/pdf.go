// Package compositor merges rendered page metafiles into one PDF document
// using pdfcpu.
package compositor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/observability"
)

type document struct {
	frame domain.Frame
	pages map[int][]byte
}

// PDF implements domain.Compositor. Each page metafile (a PNG) becomes a
// single-page PDF; FinishDocument merges them in page order.
type PDF struct {
	mu     sync.Mutex
	docs   map[string]*document
	conf   *model.Configuration
	logger *observability.Logger
}

// NewPDF creates a compositor.
func NewPDF(logger *observability.Logger) *PDF {
	if logger == nil {
		logger = observability.Nop()
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDF{
		docs:   make(map[string]*document),
		conf:   conf,
		logger: logger.WithComponent("compositor"),
	}
}

// PrepareDocument opens a document that will accept pages from frame.
func (c *PDF) PrepareDocument(ctx context.Context, docID string, frame domain.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.docs[docID]; exists {
		return domain.ValidationError(fmt.Sprintf("document %s already prepared", docID), nil)
	}
	c.docs[docID] = &document{frame: frame, pages: make(map[int][]byte)}
	c.logger.Debug().Str("doc_id", docID).Str("frame", frame.ID).Msg("Document prepared")
	return nil
}

// CompositePage converts one page metafile and records it under its index.
func (c *PDF) CompositePage(ctx context.Context, docID string, frame domain.Frame, page domain.PageContent) (domain.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !page.Content.IsValid() {
		return nil, domain.ValidationError(fmt.Sprintf("page %d has no content", page.Index), nil)
	}

	c.mu.Lock()
	doc, ok := c.docs[docID]
	c.mu.Unlock()
	if !ok {
		return nil, domain.ValidationError(fmt.Sprintf("document %s not prepared", docID), nil)
	}
	if doc.frame != frame {
		return nil, domain.ValidationError(fmt.Sprintf("page from frame %s, document bound to %s", frame.ID, doc.frame.ID), nil)
	}

	var out bytes.Buffer
	imgs := []io.Reader{bytes.NewReader(page.Content)}
	if err := api.ImportImages(nil, &out, imgs, pdfcpu.DefaultImportConfig(), c.conf); err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("Failed to composite page %d", page.Index), err)
	}

	region := domain.Region(out.Bytes())
	c.mu.Lock()
	doc.pages[page.Index] = region
	c.mu.Unlock()

	c.logger.Debug().Str("doc_id", docID).Int("page", page.Index).Int("bytes", len(region)).Msg("Page composited")
	return region.Clone(), nil
}

// FinishDocument merges the composited pages. All pages 0..expectedPages-1
// must be present. The document is released either way.
func (c *PDF) FinishDocument(ctx context.Context, docID string, expectedPages int) (domain.Region, error) {
	c.mu.Lock()
	doc, ok := c.docs[docID]
	delete(c.docs, docID)
	c.mu.Unlock()
	if !ok {
		return nil, domain.ValidationError(fmt.Sprintf("document %s not prepared", docID), nil)
	}

	if expectedPages <= 0 || len(doc.pages) != expectedPages {
		return nil, domain.ValidationError(fmt.Sprintf("expected %d pages, composited %d", expectedPages, len(doc.pages)), nil)
	}

	indices := make([]int, 0, len(doc.pages))
	for i := range doc.pages {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	readers := make([]io.ReadSeeker, 0, len(indices))
	for want, got := range indices {
		if want != got {
			return nil, domain.ValidationError(fmt.Sprintf("page %d missing", want), nil)
		}
		readers = append(readers, bytes.NewReader(doc.pages[got]))
	}

	if len(readers) == 1 {
		return domain.Region(doc.pages[0]).Clone(), nil
	}

	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, c.conf); err != nil {
		return nil, domain.ConversionError("Failed to merge pages", err)
	}

	c.logger.Info().Str("doc_id", docID).Int("pages", expectedPages).Int("bytes", out.Len()).Msg("Document finished")
	return domain.Region(out.Bytes()), nil
}

// DiscardDocument drops a document that will never be finished.
func (c *PDF) DiscardDocument(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, docID)
}

// Pending returns the number of open documents.
func (c *PDF) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

// PageCount returns the number of pages in a PDF region.
func PageCount(region domain.Region) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(region), conf)
	if err != nil {
		return 0, domain.ConversionError("Failed to count pages", err)
	}
	return n, nil
}

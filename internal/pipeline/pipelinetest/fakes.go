// Package pipelinetest provides in-memory bitmap converters and recognizers
// for tests.
package pipelinetest

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/spherical/preview-extractor/internal/domain"
)

// Page returns a small bitmap that encodes its page index in its width.
func Page(index int) image.Image {
	img := image.NewGray(image.Rect(0, 0, index+1, 2))
	img.SetGray(0, 0, color.Gray{Y: 200})
	return img
}

// IndexOf recovers the page index of a bitmap made by Page.
func IndexOf(img image.Image) int {
	return img.Bounds().Dx() - 1
}

// Pages returns n bitmaps made by Page.
func Pages(n int) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		out[i] = Page(i)
	}
	return out
}

// Converter is a scripted BitmapConverter. A nil entry in Bitmaps yields an
// empty bitmap for that page.
type Converter struct {
	Bitmaps []image.Image
	// Count overrides len(Bitmaps) when CountSet is true.
	Count    int
	CountSet bool
	CountErr error
	// DisconnectAfter drops the connection once that many bitmaps have
	// been served. Negative never disconnects.
	DisconnectAfter int
	ConnectErr      error

	mu        sync.Mutex
	requested []int
	override  *bool
	connects  int
	closed    int
}

// NewConverter serves the given bitmaps and never disconnects.
func NewConverter(bitmaps []image.Image) *Converter {
	return &Converter{Bitmaps: bitmaps, DisconnectAfter: -1}
}

// Connect implements domain.BitmapConverter.
func (c *Converter) Connect(ctx context.Context) (domain.BitmapConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return nil, c.ConnectErr
	}
	c.connects++
	return &conn{c: c}, nil
}

// Requested returns the page indices fetched so far, in order.
func (c *Converter) Requested() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.requested...)
}

// Override returns the backend override applied to the last connection.
func (c *Converter) Override() (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.override == nil {
		return false, false
	}
	return *c.override, true
}

// Closed returns how many connections were closed.
func (c *Converter) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type conn struct {
	c      *Converter
	served int
	gone   bool
}

func (k *conn) SetBackendOverride(enabled bool) {
	k.c.mu.Lock()
	defer k.c.mu.Unlock()
	k.c.override = &enabled
}

func (k *conn) PageCount(ctx context.Context, region domain.Region) (int, bool, error) {
	if k.gone {
		return 0, false, domain.ErrServiceDisconnected
	}
	if k.c.CountErr != nil {
		return 0, false, k.c.CountErr
	}
	if k.c.CountSet {
		return k.c.Count, k.c.Count > 0, nil
	}
	return len(k.c.Bitmaps), true, nil
}

func (k *conn) Bitmap(ctx context.Context, region domain.Region, index int) (image.Image, error) {
	if k.c.DisconnectAfter >= 0 && k.served >= k.c.DisconnectAfter {
		k.gone = true
	}
	if k.gone {
		return nil, fmt.Errorf("page %d: %w", index, domain.ErrServiceDisconnected)
	}

	k.c.mu.Lock()
	k.c.requested = append(k.c.requested, index)
	k.c.mu.Unlock()

	k.served++
	if index >= len(k.c.Bitmaps) || k.c.Bitmaps[index] == nil {
		return image.NewGray(image.Rectangle{}), nil
	}
	return k.c.Bitmaps[index], nil
}

func (k *conn) Close() error {
	k.c.mu.Lock()
	defer k.c.mu.Unlock()
	k.c.closed++
	return nil
}

// Recognizer returns "page-N" for bitmaps made by Page, or the text set in
// Texts for that index.
type Recognizer struct {
	Texts map[int]string
	Err   error

	mu    sync.Mutex
	calls int
}

// Recognize implements domain.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	idx := IndexOf(img)
	if text, ok := r.Texts[idx]; ok {
		return text, nil
	}
	return fmt.Sprintf("page-%d", idx), nil
}

// Calls returns the number of Recognize calls.
func (r *Recognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

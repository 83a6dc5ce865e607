package renderer

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/preview-extractor/internal/domain"
)

func testPDF(t *testing.T, pages int) []byte {
	t.Helper()
	var imgs []io.Reader
	for i := 0; i < pages; i++ {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 20+i, 30))))
		imgs = append(imgs, &buf)
	}
	var out bytes.Buffer
	require.NoError(t, api.ImportImages(nil, &out, imgs, pdfcpu.DefaultImportConfig(), relaxedConfig()))
	return out.Bytes()
}

func settings(uiID uint64, requestID int) domain.PrintSettings {
	return domain.PrintSettings{
		PageWidthMicrons:  domain.DefaultPageWidthMicrons,
		PageHeightMicrons: domain.DefaultPageHeightMicrons,
		MarginsType:       domain.MarginsDefault,
		Duplex:            domain.DuplexSimplex,
		Copies:            1,
		Color:             domain.ColorModelGrayscale,
		DPI:               72,
		ScaleFactor:       100,
		PagesPerSheet:     1,
		IsFirstRequest:    true,
		RequestID:         requestID,
		PreviewUIID:       uiID,
	}
}

func collect(t *testing.T, ch <-chan domain.RendererEvent) []domain.RendererEvent {
	t.Helper()
	var out []domain.RendererEvent
	timeout := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream did not close")
		}
	}
}

func types(events []domain.RendererEvent) []domain.RendererEventType {
	out := make([]domain.RendererEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestLocal_PDFPreview(t *testing.T) {
	r := New(KindPDF, testPDF(t, 2), "file:///tmp/report.pdf", nil)
	assert.True(t, r.IsPaginatedDocument())
	assert.Equal(t, "report.pdf", r.Title())

	ch, err := r.RequestPreview(context.Background(), settings(7, 1))
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, []domain.RendererEventType{
		domain.RendererPrepareAck,
		domain.RendererPagePreviewed,
		domain.RendererPagePreviewed,
		domain.RendererDocumentReady,
	}, types(events))

	for i, ev := range events {
		assert.Equal(t, uint64(7), ev.PreviewUIID)
		assert.Equal(t, 1, ev.RequestID)
		if ev.Type == domain.RendererPagePreviewed {
			assert.Equal(t, i-1, ev.PageIndex)
			n, err := api.PageCount(bytes.NewReader(ev.Region), relaxedConfig())
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		}
	}
	assert.Equal(t, 2, events[3].ExpectedPages)
	assert.True(t, events[3].Region.IsValid())
}

func TestLocal_InvalidSettings(t *testing.T) {
	r := New(KindPDF, testPDF(t, 1), "file:///tmp/a.pdf", nil)
	s := settings(1, 1)
	s.DPI = 0

	ch, err := r.RequestPreview(context.Background(), s)
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, domain.RendererSettingsInvalid, events[0].Type)
	assert.NotEmpty(t, events[0].Reason)
}

func TestLocal_BrokenPDFFails(t *testing.T) {
	r := New(KindPDF, []byte("%PDF-1.4 garbage"), "file:///tmp/a.pdf", nil)
	ch, err := r.RequestPreview(context.Background(), settings(1, 1))
	require.NoError(t, err)
	events := collect(t, ch)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.RendererPreviewFailed, events[len(events)-1].Type)
}

func TestLocal_NewerRequestCancelsOlder(t *testing.T) {
	r := New(KindPDF, testPDF(t, 3), "file:///tmp/a.pdf", nil)
	ctx := context.Background()

	first, err := r.RequestPreview(ctx, settings(1, 1))
	require.NoError(t, err)
	ack := <-first
	require.Equal(t, domain.RendererPrepareAck, ack.Type)

	second, err := r.RequestPreview(ctx, settings(2, 2))
	require.NoError(t, err)

	older := collect(t, first)
	require.NotEmpty(t, older)
	assert.Equal(t, domain.RendererPreviewCancelled, older[len(older)-1].Type)

	newer := collect(t, second)
	assert.Equal(t, domain.RendererDocumentReady, newer[len(newer)-1].Type)
}

func TestLocal_ClosePreviewEndsStreamQuietly(t *testing.T) {
	r := New(KindPDF, testPDF(t, 3), "file:///tmp/a.pdf", nil)
	ch, err := r.RequestPreview(context.Background(), settings(5, 1))
	require.NoError(t, err)
	<-ch

	require.NoError(t, r.ClosePreview(context.Background(), 5))
	for _, ev := range collect(t, ch) {
		assert.NotEqual(t, domain.RendererPreviewCancelled, ev.Type)
		assert.NotEqual(t, domain.RendererDocumentReady, ev.Type)
	}
}

func TestLocal_MarkdownPreview(t *testing.T) {
	r := New(KindMarkdown, []byte("# Quarterly report\n\nRevenue grew.\n"), "file:///tmp/q.md", nil)
	assert.False(t, r.IsPaginatedDocument())
	assert.Equal(t, "Quarterly report", r.Title())

	ch, err := r.RequestPreview(context.Background(), settings(3, 1))
	require.NoError(t, err)
	events := collect(t, ch)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, domain.RendererPrepareAck, events[0].Type)

	last := events[len(events)-1]
	require.Equal(t, domain.RendererDocumentReady, last.Type)
	assert.Equal(t, len(events)-2, last.ExpectedPages)

	_, err = png.DecodeConfig(bytes.NewReader(events[1].Region))
	assert.NoError(t, err, "html pages are emitted as png metafiles")
}

func TestLocal_DetachFrame(t *testing.T) {
	r := New(KindHTML, []byte("<html></html>"), "file:///tmp/a.html", nil)
	_, ok := r.Frame()
	assert.True(t, ok)
	r.DetachFrame()
	_, ok = r.Frame()
	assert.False(t, ok)
}

func TestKindFromPath(t *testing.T) {
	tests := map[string]Kind{
		"a.pdf":   KindPDF,
		"b.HTML":  KindHTML,
		"c.xhtml": KindHTML,
		"d.md":    KindMarkdown,
	}
	for p, want := range tests {
		got, err := KindFromPath(p)
		require.NoError(t, err, p)
		assert.Equal(t, want, got, p)
	}
	_, err := KindFromPath("e.docx")
	assert.Error(t, err)
}

func TestDocumentTitle(t *testing.T) {
	assert.Equal(t, "Hello", documentTitle(KindHTML, []byte("<html><head><title> Hello </title></head></html>"), "file:///x/y.html"))
	assert.Equal(t, "y.html", documentTitle(KindHTML, []byte("<html></html>"), "file:///x/y.html"))
	assert.Equal(t, "Intro", documentTitle(KindMarkdown, []byte("text\n\n## Intro\n"), "file:///x/y.md"))
}

func TestMarkupSource(t *testing.T) {
	src, name, err := markupSource(KindMarkdown, []byte("# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"), "Title", settings(1, 1))
	require.NoError(t, err)
	assert.Equal(t, "document.xhtml", name)
	assert.Contains(t, string(src), "<h1>Title</h1>")
	assert.Contains(t, string(src), "<table>")
	assert.Contains(t, string(src), "size: 210.0mm 297.0mm")

	raw := []byte("<html><body>x</body></html>")
	src, name, err = markupSource(KindHTML, raw, "", settings(1, 1))
	require.NoError(t, err)
	assert.Equal(t, "document.html", name)
	assert.Equal(t, raw, src)
}

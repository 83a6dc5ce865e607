package extractor

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/observability"
)

func writePDF(t *testing.T, pages int) string {
	t.Helper()
	var imgs []io.Reader
	for i := 0; i < pages; i++ {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 40, 60))))
		imgs = append(imgs, &buf)
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	var out bytes.Buffer
	require.NoError(t, api.ImportImages(nil, &out, imgs, pdfcpu.DefaultImportConfig(), conf))

	path := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewClient_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, filepath.Join(t.TempDir(), "missing.pdf"), nil, WithLogger(observability.Nop()))
	assert.Error(t, err)

	_, err = NewClient(ctx, writeFile(t, "notes.docx", "x"), nil, WithLogger(observability.Nop()))
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Extraction.PageLimit = 0
	_, err = NewClient(ctx, writeFile(t, "notes.md", "# Notes"), cfg, WithLogger(observability.Nop()))
	require.Error(t, err)
	var de *domain.DomainError
	assert.ErrorAs(t, err, &de)
}

func TestClient_CapturePages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Raster.CaptureMaxWidth = 200

	events := make(chan StreamEvent, 64)
	client, err := NewClient(context.Background(), writePDF(t, 2), cfg,
		WithLogger(observability.Nop()), WithEvents(events))
	require.NoError(t, err)

	assert.True(t, client.IsPaginated())
	assert.Equal(t, "scan.pdf", client.Title())

	images, err := client.CapturePages(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 2)
	for _, data := range images {
		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.LessOrEqual(t, img.Bounds().Dx(), 200)
	}

	require.NoError(t, client.Close())
	close(events)

	var last StreamEvent
	for ev := range events {
		last = ev
	}
	assert.Equal(t, EventComplete, last.Type)
}

func TestClient_CaptureRequiresPDF(t *testing.T) {
	client, err := NewClient(context.Background(), writeFile(t, "notes.md", "# Notes\n\nHello"), nil,
		WithLogger(observability.Nop()))
	require.NoError(t, err)
	defer client.Close()

	assert.False(t, client.IsPaginated())
	_, err = client.CapturePages(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotPdfContent)
	assert.Equal(t, domain.KindNotPdfContent, KindOf(err))
}

func TestClient_PreviewDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.PrintPreviewDisabled = true

	client, err := NewClient(context.Background(), writePDF(t, 1), cfg, WithLogger(observability.Nop()))
	require.NoError(t, err)
	defer client.Close()

	text, err := client.ExtractText(context.Background())
	assert.Empty(t, text)
	assert.ErrorIs(t, err, domain.ErrPrintPreviewDisabled)
}

//go:build integration

package extractor

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/preview-extractor/internal/observability"
)

func init() {
	_ = godotenv.Load("../../.env")
}

const markdownDoc = `# Quarterly Report

Revenue grew steadily across every region.

| Region | Growth |
|--------|--------|
| North  | 12%    |
| South  | 9%     |
`

// TestExtractText_Markdown runs the full flow from a Markdown document to
// recognized text.
func TestExtractText_Markdown(t *testing.T) {
	cfg := DefaultConfig()

	switch {
	case os.Getenv("OPENROUTER_API_KEY") != "":
		cfg.OCR.Engine = "vision"
		cfg.OCR.Vision.APIKey = os.Getenv("OPENROUTER_API_KEY")
		cfg.OCR.Vision.Model = os.Getenv("LLM_MODEL")
	default:
		if _, err := exec.LookPath("tesseract"); err != nil {
			t.Skip("neither OPENROUTER_API_KEY nor tesseract available")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	events := make(chan StreamEvent, 256)
	client, err := NewClient(ctx, writeFile(t, "report.md", markdownDoc), cfg,
		WithLogger(observability.DefaultLogger()), WithEvents(events))
	require.NoError(t, err)
	assert.Equal(t, "Quarterly Report", client.Title())

	start := time.Now()
	text, err := client.ExtractText(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Close())
	close(events)

	t.Logf("Extracted %d characters in %v", len(text), time.Since(start))
	assert.Contains(t, strings.ToLower(text), "quarterly")

	var pages int
	for ev := range events {
		if ev.Type == EventPageComplete {
			pages++
		}
	}
	assert.Positive(t, pages)
}

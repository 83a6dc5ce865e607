package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/preview-extractor/internal/domain"
)

func TestRootCommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "extract")
	assert.Contains(t, names, "capture")

	for _, name := range []string{"config", "verbose", "no-color"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
	assert.NotNil(t, extractCmd.Flags().Lookup("output"))
	assert.NotNil(t, captureCmd.Flags().Lookup("dir"))
}

func TestCapture_RejectsMarkdown(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(doc, []byte("# Notes"), 0o644))

	rootCmd.SetArgs([]string{"capture", "--no-color", "-d", filepath.Join(dir, "out"), doc})
	err := rootCmd.Execute()

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotPdfContent)
	_, statErr := os.Stat(filepath.Join(dir, "out"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtract_RequiresFile(t *testing.T) {
	rootCmd.SetArgs([]string{"extract"})
	assert.Error(t, rootCmd.Execute())
}

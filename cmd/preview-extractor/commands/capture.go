package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spherical/preview-extractor/cmd/preview-extractor/ui"
	"github.com/spherical/preview-extractor/pkg/extractor"
)

var captureOutputDir string

var captureCmd = &cobra.Command{
	Use:   "capture <file>",
	Short: "Capture every page of a PDF as PNG images",
	Long: `Render a PDF through a print preview and write each page as page-N.png
into the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVarP(&captureOutputDir, "dir", "d", ".", "output directory for page images")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	var images [][]byte
	err := withClient(args[0], func(ctx context.Context, client *extractor.Client) error {
		var err error
		images, err = client.CapturePages(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("capture pages: %w", err)
	}

	if err := os.MkdirAll(captureOutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	for i, data := range images {
		path := filepath.Join(captureOutputDir, fmt.Sprintf("page-%d.png", i+1))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write page %d: %w", i+1, err)
		}
		ui.Detail("Wrote %s (%d bytes)", path, len(data))
	}

	ui.Success("Captured %d pages into %s", len(images), captureOutputDir)
	return nil
}

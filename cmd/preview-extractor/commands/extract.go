package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/preview-extractor/cmd/preview-extractor/ui"
	"github.com/spherical/preview-extractor/pkg/extractor"
)

var extractOutputPath string

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Recognize the text of a document",
	Long: `Render the document through a print preview and recognize the text of its
first pages. The text is written to stdout unless --output is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractOutputPath, "output", "o", "", "write text to this file instead of stdout")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	var text string
	err := withClient(args[0], func(ctx context.Context, client *extractor.Client) error {
		var err error
		text, err = client.ExtractText(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	if text == "" {
		ui.Warning("No text recognized")
	}

	if extractOutputPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	}

	if err := os.WriteFile(extractOutputPath, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	ui.Success("Text saved to %s", extractOutputPath)
	return nil
}

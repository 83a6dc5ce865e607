package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/preview-extractor/cmd/preview-extractor/ui"
	"github.com/spherical/preview-extractor/pkg/extractor"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	cfg *extractor.Config
)

var rootCmd = &cobra.Command{
	Use:   "preview-extractor",
	Short: "Extract text and page images from documents through a print preview",
	Long: `preview-extractor renders a local document (PDF, HTML or Markdown) the way a
print preview does, then recognizes the text of its first pages or captures
every page of a PDF as a PNG image.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(noColor, verbose)

		loaded, err := extractor.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			loaded.Observability.LogLevel = "debug"
		} else if loaded.Observability.LogLevel == "info" {
			loaded.Observability.LogLevel = "warn"
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// withClient opens path, runs fn with progress display and closes the
// client.
func withClient(path string, fn func(ctx context.Context, client *extractor.Client) error) error {
	ctx, stop := signalContext()
	defer stop()

	events := make(chan extractor.StreamEvent, 256)
	client, err := extractor.NewClient(ctx, path, cfg, extractor.WithEvents(events))
	if err != nil {
		return err
	}

	ui.Info("Document: %s", client.Title())
	done := trackProgress(events)

	runErr := fn(ctx, client)
	closeErr := client.Close()
	close(events)
	<-done

	if runErr != nil {
		if kind := extractor.KindOf(runErr); kind != "" {
			ui.Error("%s", kind)
		}
		return runErr
	}
	return closeErr
}

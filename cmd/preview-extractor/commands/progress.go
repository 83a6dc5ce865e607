package commands

import (
	"fmt"

	"github.com/spherical/preview-extractor/cmd/preview-extractor/ui"
	"github.com/spherical/preview-extractor/pkg/extractor"
)

// trackProgress renders events until the channel is closed. The returned
// channel is closed once rendering has stopped.
func trackProgress(events <-chan extractor.StreamEvent) <-chan struct{} {
	done := make(chan struct{})
	spin := ui.NewSpinner("Rendering preview...")
	spin.Start()

	go func() {
		defer close(done)

		var bar *ui.ProgressBar
		stopSpinner := func() {
			if spin != nil {
				spin.Stop()
				spin = nil
			}
		}
		defer stopSpinner()

		for ev := range events {
			switch ev.Type {
			case extractor.EventStart:
				ui.Detail("%v", ev.Payload)

			case extractor.EventPageComposited:
				if spin != nil {
					spin.UpdateMessage(fmt.Sprintf("Rendered page %d...", ev.PageNumber))
				}

			case extractor.EventDocumentReady:
				stopSpinner()
				if total, ok := ev.Payload.(int); ok && total > 0 {
					ui.Detail("Preview ready, %d pages", total)
				}

			case extractor.EventPageComplete:
				stopSpinner()
				total, _ := ev.Payload.(int)
				if bar == nil && total > 0 {
					bar = ui.NewProgressBar(total, "Processing")
				}
				if bar != nil {
					bar.Set(ev.PageNumber)
				}

			case extractor.EventError:
				stopSpinner()
				ui.Error("%v", ev.Payload)

			case extractor.EventComplete:
				stopSpinner()
				if bar != nil {
					bar.Finish()
				}
			}
		}
	}()

	return done
}

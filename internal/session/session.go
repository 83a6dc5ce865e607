// Package session runs one extraction attempt end to end: policy check,
// preview request, page compositing, document assembly and rasterization.
//
// A Session is driven by a single goroutine calling Run. Every remote call
// is made from that goroutine, one at a time, and renderer events are
// consumed in order from one channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/observability"
	"github.com/spherical/preview-extractor/internal/pipeline"
	"github.com/spherical/preview-extractor/internal/store"
)

// State is a step of the session state machine.
type State int32

const (
	StateIdle State = iota
	StatePolicyCheck
	StateRequestingPreview
	StatePreparingDocument
	StateCompositingPages
	StateFinalizingDocument
	StateRasterizing
	StateCompleted
	StateFailed
)

var stateNames = [...]string{
	"idle",
	"policy_check",
	"requesting_preview",
	"preparing_document",
	"compositing_pages",
	"finalizing_document",
	"rasterizing",
	"completed",
	"failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Dependencies are the collaborators shared by the sessions of one
// coordinator.
type Dependencies struct {
	Source     domain.DocumentSource
	Policy     domain.Policy
	Renderer   domain.Renderer
	Compositor domain.Compositor
	Pipeline   *pipeline.Pipeline
	Registry   *store.Registry
	Pages      *store.PageStore
	Logger     *observability.Logger
	// Progress receives progress events. Optional.
	Progress func(domain.StreamEvent)
}

// Config holds per-session tunables.
type Config struct {
	PageLimit        int
	Separator        string
	CaptureMaxWidth  int
	MaxDocumentBytes int64

	PageWidthMicrons  int
	PageHeightMicrons int
	DPI               int
	PrintBackgrounds  bool

	// PrepareTimeout bounds the wait for a renderer frame after the
	// prepare acknowledgment. Zero waits until the context ends.
	PrepareTimeout time.Duration
}

// discarder is implemented by compositors that can drop an unfinished
// document.
type discarder interface {
	DiscardDocument(docID string)
}

// Session is one extraction attempt. It must not be reused.
type Session struct {
	deps      Dependencies
	cfg       Config
	requestID int
	done      pipeline.Completion
	mode      domain.ExtractionMode
	logger    *observability.Logger

	state      atomic.Int32
	id         store.SessionID
	registered bool
	requested  bool
	outcome    func()

	// document assembly
	paginated bool
	docID     string
	frame     domain.Frame
	prepared  bool
	stalled   bool
	lastIndex int
	expected  int
	finished  bool
}

// New creates a session that will report through done. The variant of done
// selects the extraction mode.
func New(deps Dependencies, cfg Config, requestID int, done pipeline.Completion) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	mode := pipeline.ModeOf(done)
	return &Session{
		deps:      deps,
		cfg:       cfg,
		requestID: requestID,
		done:      done,
		mode:      mode,
		lastIndex: -1,
		logger: logger.With().
			Str("component", "session").
			Int("request_id", requestID).
			Str("mode", mode.String()).
			Logger(),
	}
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ID returns the registered SessionID, or zero before registration.
func (s *Session) ID() store.SessionID {
	return s.id
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	s.logger.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("Session state changed")
}

// Run drives the session to a terminal state. The outcome is delivered
// through the completion exactly once, after the session's registry and
// page store entries have been removed.
func (s *Session) Run(ctx context.Context) {
	start := time.Now()
	defer func() {
		s.cleanup(ctx)
		s.logger.Info().
			Str("state", s.State().String()).
			Dur("elapsed", time.Since(start)).
			Msg("Session finished")
		if s.outcome != nil {
			s.outcome()
		}
	}()

	s.setState(StatePolicyCheck)
	if s.deps.Policy != nil && s.deps.Policy.PrintPreviewDisabled() {
		s.fail(domain.Fail(domain.KindPrintPreviewDisabled, "print preview is disabled by policy", nil))
		return
	}
	s.id = s.deps.Registry.Register()
	s.registered = true
	s.logger = s.logger.With().Uint64("session_id", uint64(s.id)).Logger()

	s.setState(StateRequestingPreview)
	s.paginated = s.deps.Source.IsPaginatedDocument()
	settings := BuildSettings(s.cfg, s.mode, s.requestID, s.id, s.deps.Source)
	events, err := s.deps.Renderer.RequestPreview(ctx, settings)
	if err != nil {
		if ctx.Err() != nil {
			s.fail(ctx.Err())
			return
		}
		s.fail(domain.Fail(domain.KindPrintPreviewFailed, "request preview", err))
		return
	}
	s.requested = true

	if err := s.assemble(ctx, events); err != nil {
		s.fail(err)
		return
	}

	s.rasterize(ctx)
}

// assemble consumes renderer events until the complete document is stored.
func (s *Session) assemble(ctx context.Context, events <-chan domain.RendererEvent) error {
	var stallTimeout <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stallTimeout:
			return domain.Fail(domain.KindPrintPreviewFailed,
				fmt.Sprintf("no renderer frame after %v", s.cfg.PrepareTimeout), nil)
		case ev, ok := <-events:
			if !ok {
				return domain.Fail(domain.KindPrintPreviewFailed, "renderer closed the event stream", nil)
			}
			if ev.PreviewUIID != uint64(s.id) || ev.RequestID != s.requestID {
				s.logger.Debug().
					Uint64("event_preview_ui_id", ev.PreviewUIID).
					Int("event_request_id", ev.RequestID).
					Msg("Ignoring event for another preview")
				continue
			}

			done, err := s.handle(ctx, ev)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			if s.stalled && stallTimeout == nil && s.cfg.PrepareTimeout > 0 {
				timer := time.NewTimer(s.cfg.PrepareTimeout)
				defer timer.Stop()
				stallTimeout = timer.C
			}
		}
	}
}

// handle applies one renderer event. It reports true once the complete
// document has been stored.
func (s *Session) handle(ctx context.Context, ev domain.RendererEvent) (bool, error) {
	switch ev.Type {
	case domain.RendererPreviewFailed:
		return false, domain.Fail(domain.KindPrintPreviewFailed, ev.Reason, nil)
	case domain.RendererPreviewCancelled:
		return false, domain.Fail(domain.KindPrintPreviewCancelled, ev.Reason, nil)
	case domain.RendererSettingsInvalid:
		return false, domain.Fail(domain.KindPrinterSettingsInvalid, ev.Reason, nil)
	}

	if s.stalled {
		s.logger.Debug().Str("event", string(ev.Type)).Msg("Session stalled without a frame, dropping event")
		return false, nil
	}

	switch ev.Type {
	case domain.RendererPrepareAck:
		return false, s.prepare(ctx)
	case domain.RendererPagePreviewed:
		return false, s.storePage(ctx, ev)
	case domain.RendererDocumentReady:
		return true, s.finalize(ctx, ev)
	default:
		s.logger.Warn().Str("event", string(ev.Type)).Msg("Unknown renderer event")
		return false, nil
	}
}

func (s *Session) prepare(ctx context.Context) error {
	s.setState(StatePreparingDocument)
	if s.prepared {
		return nil
	}
	if s.paginated {
		s.prepared = true
		return nil
	}

	frame, ok := s.deps.Renderer.Frame()
	if !ok {
		s.stalled = true
		s.logger.Warn().Msg("No renderer frame, preview presumed closed")
		return nil
	}

	docID := uuid.NewString()
	if err := s.deps.Compositor.PrepareDocument(ctx, docID, frame); err != nil {
		return s.remoteFailure(ctx, "prepare document", err)
	}
	s.docID = docID
	s.frame = frame
	s.prepared = true
	return nil
}

func (s *Session) storePage(ctx context.Context, ev domain.RendererEvent) error {
	s.setState(StateCompositingPages)
	if err := s.validatePage(ev); err != nil {
		return domain.Fail(domain.KindPrintPreviewFailed, "invalid page event", err)
	}

	page := ev.Region
	if !s.paginated {
		composited, err := s.deps.Compositor.CompositePage(ctx, s.docID, s.frame, domain.PageContent{
			Index:   ev.PageIndex,
			Content: ev.Region,
		})
		if err != nil {
			return s.remoteFailure(ctx, fmt.Sprintf("composite page %d", ev.PageIndex), err)
		}
		page = composited
	}

	if err := s.deps.Pages.PutPage(ctx, s.id, ev.PageIndex, page); err != nil {
		return domain.Fail(domain.KindPrintPreviewFailed, "store page", err)
	}
	s.lastIndex = ev.PageIndex
	if ev.ExpectedPages > 0 {
		s.expected = ev.ExpectedPages
	}
	s.progress(domain.EventPageComposited, ev.PageIndex+1, nil)
	return nil
}

func (s *Session) validatePage(ev domain.RendererEvent) error {
	switch {
	case !s.prepared:
		return errors.New("page before prepare acknowledgment")
	case ev.PageIndex < 0:
		return fmt.Errorf("negative page index %d", ev.PageIndex)
	case ev.PageIndex < s.lastIndex:
		return fmt.Errorf("page index %d after %d", ev.PageIndex, s.lastIndex)
	case s.expected > 0 && ev.PageIndex >= s.expected:
		return fmt.Errorf("page index %d beyond %d expected pages", ev.PageIndex, s.expected)
	case ev.ExpectedPages > 0 && ev.PageIndex >= ev.ExpectedPages:
		return fmt.Errorf("page index %d beyond %d expected pages", ev.PageIndex, ev.ExpectedPages)
	case !ev.Region.IsValid():
		return fmt.Errorf("page %d has an empty region", ev.PageIndex)
	}
	return nil
}

func (s *Session) finalize(ctx context.Context, ev domain.RendererEvent) error {
	s.setState(StateFinalizingDocument)
	if !s.prepared {
		return domain.Fail(domain.KindPrintPreviewFailed, "document ready before prepare acknowledgment", nil)
	}

	doc := ev.Region
	if !s.paginated {
		merged, err := s.deps.Compositor.FinishDocument(ctx, s.docID, ev.ExpectedPages)
		s.finished = true
		if err != nil {
			return s.remoteFailure(ctx, "finish document", err)
		}
		doc = merged
	}

	if err := s.deps.Pages.PutDocument(ctx, s.id, doc); err != nil {
		return domain.Fail(domain.KindPrintPreviewFailed, "store document", err)
	}
	s.progress(domain.EventDocumentReady, 0, ev.ExpectedPages)
	return nil
}

func (s *Session) rasterize(ctx context.Context) {
	s.setState(StateRasterizing)

	blob, err := s.deps.Pages.Document(ctx, s.id)
	if err != nil && !errors.Is(err, store.ErrNoEntry) {
		s.fail(domain.Fail(domain.KindNoDataForSession, "read document", err))
		return
	}
	if !blob.IsValid() {
		s.fail(domain.Fail(domain.KindNoDataForSession, "no document stored for session", nil))
		return
	}

	region, err := s.transferable(blob)
	if err != nil {
		s.fail(err)
		return
	}

	opts := pipeline.Options{
		PageLimit:       s.cfg.PageLimit,
		Separator:       s.cfg.Separator,
		CaptureMaxWidth: s.cfg.CaptureMaxWidth,
		OnPage: func(index, count int) {
			s.progress(domain.EventPageComplete, index+1, count)
		},
	}
	if s.deps.Policy != nil {
		opts.BackendOverride, opts.OverrideSet = s.deps.Policy.RendererBackendOverride()
	}

	s.deps.Pipeline.Run(ctx, region, opts, s.capture())
}

// transferable copies blob into a region the converter may own.
func (s *Session) transferable(blob domain.Region) (domain.Region, error) {
	if s.cfg.MaxDocumentBytes > 0 && int64(len(blob)) > s.cfg.MaxDocumentBytes {
		return nil, domain.Fail(domain.KindAllocationFailed,
			fmt.Sprintf("document of %d bytes exceeds %d", len(blob), s.cfg.MaxDocumentBytes), nil)
	}
	return blob.Clone(), nil
}

// capture returns a completion of the session's variant that records the
// pipeline outcome for delivery after cleanup.
func (s *Session) capture() pipeline.Completion {
	switch d := s.done.(type) {
	case pipeline.TextCompletion:
		return pipeline.TextCompletion(func(text string, err error) {
			s.settle(err, func() { d(text, err) })
		})
	case pipeline.ImagesCompletion:
		return pipeline.ImagesCompletion(func(images [][]byte, err error) {
			s.settle(err, func() { d(images, err) })
		})
	default:
		panic(fmt.Sprintf("session: unknown completion %T", s.done))
	}
}

func (s *Session) fail(err error) {
	s.settle(err, func() { pipeline.Fail(s.done, err) })
}

func (s *Session) settle(err error, deliver func()) {
	if s.outcome != nil {
		s.logger.Error().Err(err).Msg("Session settled twice, dropping second outcome")
		return
	}
	s.outcome = deliver
	if err != nil {
		s.setState(StateFailed)
		s.logger.Warn().Str("kind", string(domain.KindOf(err))).Err(err).Msg("Session failed")
		s.progress(domain.EventError, 0, err.Error())
		return
	}
	s.setState(StateCompleted)
}

// remoteFailure maps a collaborator error to PrintPreviewFailed unless the
// session is being torn down.
func (s *Session) remoteFailure(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return domain.Fail(domain.KindPrintPreviewFailed, op, err)
}

func (s *Session) cleanup(ctx context.Context) {
	bg := context.WithoutCancel(ctx)

	if s.docID != "" && !s.finished {
		if d, ok := s.deps.Compositor.(discarder); ok {
			d.DiscardDocument(s.docID)
		}
	}

	if s.registered {
		if err := s.deps.Pages.Remove(bg, s.id); err != nil {
			s.logger.Error().Err(err).Msg("Failed to remove session pages")
		}
		s.deps.Registry.Release(s.id)
		s.registered = false
	}

	if s.requested && !s.paginated {
		if err := s.deps.Renderer.ClosePreview(bg, uint64(s.id)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close preview")
		}
	}
}

func (s *Session) progress(t domain.EventType, page int, payload interface{}) {
	if s.deps.Progress == nil {
		return
	}
	s.deps.Progress(domain.StreamEvent{
		Type:       t,
		RequestID:  s.requestID,
		PageNumber: page,
		Payload:    payload,
		Timestamp:  time.Now(),
	})
}

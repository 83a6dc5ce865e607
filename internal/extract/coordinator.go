// Package extract is the public entry point of extraction: it owns at most
// one render session at a time and delivers at most one visible result.
package extract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/observability"
	"github.com/spherical/preview-extractor/internal/pipeline"
	"github.com/spherical/preview-extractor/internal/session"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithEvents sends progress events to ch. Sends never block; events are
// dropped when ch is full.
func WithEvents(ch chan<- domain.StreamEvent) Option {
	return func(c *Coordinator) { c.events = ch }
}

// Coordinator starts extractions. Starting a new one supersedes the one in
// flight: the superseded session's continuation never fires and its context
// is cancelled so it can clean up.
type Coordinator struct {
	deps   session.Dependencies
	cfg    session.Config
	logger *observability.Logger
	events chan<- domain.StreamEvent

	mu            sync.Mutex
	generation    uint64
	nextRequestID int
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewCoordinator creates a coordinator. deps.Progress is owned by the
// coordinator and is overwritten.
func NewCoordinator(deps session.Dependencies, cfg session.Config, opts ...Option) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = observability.Nop()
	}
	c := &Coordinator{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.WithComponent("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract starts a text extraction of the current document.
func (c *Coordinator) Extract(ctx context.Context, done func(text string, err error)) {
	c.start(ctx, pipeline.TextCompletion(done))
}

// CapturePDF starts a page image capture of the current document. The
// document must already be paginated; otherwise done receives
// NotPdfContent before CapturePDF returns and nothing else happens.
func (c *Coordinator) CapturePDF(ctx context.Context, done func(images [][]byte, err error)) {
	if !c.deps.Source.IsPaginatedDocument() {
		c.logger.Info().Str("url", c.deps.Source.URL()).Msg("Capture rejected, document is not a PDF")
		done(nil, domain.Fail(domain.KindNotPdfContent, "document is not paginated", nil))
		return
	}
	c.start(ctx, pipeline.ImagesCompletion(done))
}

// Cancel supersedes the extraction in flight without starting another.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Wait blocks until every session started so far, superseded ones
// included, has unwound.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) start(ctx context.Context, done pipeline.Completion) {
	traceID := uuid.NewString()
	ctx = observability.ContextWithTraceID(ctx, traceID)

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.nextRequestID++
	requestID := c.nextRequestID
	if c.cancel != nil {
		c.cancel()
	}
	sctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	mode := pipeline.ModeOf(done)
	logger := c.logger.WithContext(ctx).With().
		Int("request_id", requestID).
		Str("mode", mode.String()).
		Logger()
	logger.Info().Msg("Extraction started")

	deps := c.deps
	deps.Logger = deps.Logger.WithContext(ctx)
	deps.Progress = func(ev domain.StreamEvent) {
		if c.isCurrent(gen) {
			c.emit(ev)
		}
	}

	c.emit(domain.StreamEvent{
		Type:      domain.EventStart,
		RequestID: requestID,
		Payload:   fmt.Sprintf("Starting %s extraction of %s", mode, c.deps.Source.URL()),
		Timestamp: time.Now(),
	})

	s := session.New(deps, c.cfg, requestID, c.guard(gen, requestID, done, logger))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		s.Run(sctx)
	}()
}

func (c *Coordinator) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

// release drops the coordinator's reference to generation gen if it is
// still current, reporting whether it was.
func (c *Coordinator) release(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.cancel = nil
	return true
}

// guard wraps done so it only fires while gen is still the current
// generation.
func (c *Coordinator) guard(gen uint64, requestID int, done pipeline.Completion, logger *observability.Logger) pipeline.Completion {
	settle := func(err error) bool {
		if !c.release(gen) {
			logger.Debug().Err(err).Msg("Dropping result of superseded extraction")
			return false
		}
		ev := domain.StreamEvent{Type: domain.EventComplete, RequestID: requestID, Timestamp: time.Now()}
		if err != nil {
			ev.Type = domain.EventError
			ev.Payload = err.Error()
			logger.Warn().Str("kind", string(domain.KindOf(err))).Err(err).Msg("Extraction failed")
		} else {
			logger.Info().Msg("Extraction complete")
		}
		c.emit(ev)
		return true
	}

	switch d := done.(type) {
	case pipeline.TextCompletion:
		return pipeline.TextCompletion(func(text string, err error) {
			if settle(err) {
				d(text, err)
			}
		})
	case pipeline.ImagesCompletion:
		return pipeline.ImagesCompletion(func(images [][]byte, err error) {
			if settle(err) {
				d(images, err)
			}
		})
	default:
		panic(fmt.Sprintf("extract: unknown completion %T", done))
	}
}

func (c *Coordinator) emit(ev domain.StreamEvent) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn().Str("event", string(ev.Type)).Msg("Event channel full, dropping event")
	}
}

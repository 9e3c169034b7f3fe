// Package session drives one conversational turn at a time: it submits
// the query, opens the answer stream, and routes events into the
// conversation store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/capitalize-ai/docchat/internal/conversation"
	"github.com/capitalize-ai/docchat/internal/model"
	"github.com/capitalize-ai/docchat/internal/stream"
	"github.com/capitalize-ai/docchat/pkg/logger"
	"github.com/capitalize-ai/docchat/pkg/metrics"
)

// ErrBusy is returned by Submit while a turn is already in flight.
var ErrBusy = errors.New("a turn is already in flight")

// Backend is the slice of the backend client the controller needs.
type Backend interface {
	SubmitQuery(ctx context.Context, message, conversationID string) (model.ChatResponse, error)
	StreamURL(jobID string) string
}

// Transport is an open answer stream that can be torn down.
type Transport interface {
	Cancel()
}

// Opener establishes an answer stream. Swapped out in tests.
type Opener func(ctx context.Context, url string, handlers stream.Handlers, opts stream.Options) Transport

// Options tune the controller.
type Options struct {
	// Stream is passed through to every opened connection.
	Stream stream.Options
	// Logger overrides the global logger.
	Logger *logger.Logger
	// Opener overrides the real stream dialer.
	Opener Opener
}

// Controller serializes turns against one conversation store. At most
// one stream connection is open per controller; a generation counter
// keeps late callbacks from a torn-down connection out of the store.
type Controller struct {
	backend Backend
	store   *conversation.Store
	opener  Opener
	opts    stream.Options
	log     *logger.Logger
	tracer  trace.Tracer

	mu          sync.Mutex
	inFlight    bool
	generation  uint64
	conn        Transport
	assistantID string
	turnStart   time.Time
	turnTokens  int
	span        trace.Span
}

// New creates a controller over the given backend and store.
func New(backend Backend, store *conversation.Store, opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}
	opener := opts.Opener
	if opener == nil {
		opener = func(ctx context.Context, url string, handlers stream.Handlers, o stream.Options) Transport {
			return stream.Open(ctx, url, handlers, o)
		}
	}
	return &Controller{
		backend: backend,
		store:   store,
		opener:  opener,
		opts:    opts.Stream,
		log:     log,
		tracer:  otel.Tracer("docchat/session"),
	}
}

// InFlight reports whether a turn is currently active.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Submit starts a new turn: records the user message, opens an assistant
// placeholder, submits the query, and begins streaming. Returns ErrBusy
// while a turn is in flight. ctx scopes the whole turn, not just the
// submission request.
func (c *Controller) Submit(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	c.generation++
	gen := c.generation
	c.inFlight = true
	c.turnStart = time.Now()
	c.turnTokens = 0
	c.mu.Unlock()

	c.store.ClearError()
	c.store.CreateMessage(model.RoleUser, text)
	assistantID := c.store.CreateMessage(model.RoleAssistant, "")
	c.store.SetStreaming(assistantID, true)

	ctx, span := c.tracer.Start(ctx, "session.turn")

	c.mu.Lock()
	if c.generation != gen || !c.inFlight {
		// Cancelled before the turn was fully registered; converge the
		// placeholder here since finish could not see it yet.
		c.mu.Unlock()
		c.store.SetStreaming(assistantID, false)
		span.End()
		return nil
	}
	c.assistantID = assistantID
	c.span = span
	c.mu.Unlock()

	resp, err := c.backend.SubmitQuery(ctx, text, c.store.ActiveID())
	if err != nil {
		c.store.SetError(err.Error())
		c.store.SetMessageError(assistantID, err.Error())
		c.finish(gen, "submit_failed", false)
		return fmt.Errorf("starting turn: %w", err)
	}
	span.SetAttributes(attribute.String("job_id", resp.JobID))

	handlers := stream.Handlers{
		OnEvent: func(ev model.StreamEvent) { c.handleEvent(gen, ev) },
		OnError: func(err error) { c.handleTransportError(gen, err) },
		OnClose: func(reason stream.CloseReason) { c.handleClose(gen, reason) },
	}

	c.mu.Lock()
	if c.generation != gen || !c.inFlight {
		// Cancelled while the submission request was in progress.
		c.mu.Unlock()
		return nil
	}
	c.conn = c.opener(ctx, c.backend.StreamURL(resp.JobID), handlers, c.opts)
	c.mu.Unlock()

	c.log.Info("turn started", "job_id", resp.JobID, "assistant_message_id", assistantID)
	return nil
}

// Cancel tears down the active turn. Safe to call when idle or repeatedly.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if !c.inFlight {
		c.mu.Unlock()
		return
	}
	gen := c.generation
	c.mu.Unlock()

	c.finish(gen, "cancelled", true)
}

// handleEvent routes one stream event into the store. Events from a
// superseded generation are dropped.
func (c *Controller) handleEvent(gen uint64, ev model.StreamEvent) {
	c.mu.Lock()
	if c.generation != gen || !c.inFlight {
		c.mu.Unlock()
		return
	}
	id := c.assistantID
	c.mu.Unlock()

	switch ev := ev.(type) {
	case model.TextChunkEvent:
		c.store.AppendText(id, ev.Content)

	case model.ToolCallStartEvent:
		c.store.AddToolCall(id, model.ToolCall{
			ToolType:    ev.ToolType,
			ToolName:    ev.ToolName,
			Description: ev.Description,
			Status:      model.ToolCallRunning,
		})

	case model.ToolCallEndEvent:
		status := model.ToolCallSucceeded
		if !ev.Success {
			status = model.ToolCallFailed
		}
		c.store.UpdateToolCallStatus(id, ev.ToolName, status, ev.ResultSummary)

	case model.CitationEvent:
		c.store.AddCitation(id, ev.Citation)

	case model.UIBlockEvent:
		c.store.AddUIBlock(id, ev.Block)

	case model.ErrorEvent:
		c.store.SetError(ev.Message)
		if !ev.Recoverable {
			c.store.SetMessageError(id, ev.Message)
			c.finish(gen, "error", true)
		}

	case model.DoneEvent:
		c.mu.Lock()
		c.turnTokens = ev.TotalTokens
		c.mu.Unlock()
		c.finish(gen, "done", false)

	default:
		c.log.Warn("unhandled event kind", "kind", ev.Kind())
	}
}

func (c *Controller) handleTransportError(gen uint64, err error) {
	c.mu.Lock()
	if c.generation != gen || !c.inFlight {
		c.mu.Unlock()
		return
	}
	id := c.assistantID
	c.mu.Unlock()

	c.store.SetError(err.Error())
	c.store.SetMessageError(id, err.Error())
	c.finish(gen, "failed", false)
}

func (c *Controller) handleClose(gen uint64, reason stream.CloseReason) {
	c.finish(gen, string(reason), false)
}

// finish converges the turn to not-in-flight exactly once per
// generation, no matter how many termination paths race to it.
func (c *Controller) finish(gen uint64, status string, tearDown bool) {
	c.mu.Lock()
	if c.generation != gen || !c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = false
	c.generation++
	conn := c.conn
	c.conn = nil
	id := c.assistantID
	c.assistantID = ""
	tokens := c.turnTokens
	started := c.turnStart
	span := c.span
	c.span = nil
	c.mu.Unlock()

	if tearDown && conn != nil {
		conn.Cancel()
	}
	if id != "" {
		c.store.SetStreaming(id, false)
	}
	c.store.SaveCurrent()

	if span != nil {
		span.SetAttributes(attribute.String("status", status))
		span.End()
	}

	metrics.RecordTurn(status, tokens)
	c.log.Info("turn finished",
		"status", status,
		"duration", time.Since(started),
		"tokens", tokens,
	)
}

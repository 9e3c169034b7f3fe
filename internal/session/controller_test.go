package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/docchat/internal/conversation"
	"github.com/capitalize-ai/docchat/internal/model"
	"github.com/capitalize-ai/docchat/internal/stream"
	"github.com/capitalize-ai/docchat/pkg/logger"
)

type fakeBackend struct {
	mu        sync.Mutex
	jobID     string
	submitErr error
	messages  []string
}

func (f *fakeBackend) SubmitQuery(ctx context.Context, message, conversationID string) (model.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return model.ChatResponse{}, f.submitErr
	}
	f.messages = append(f.messages, message)
	return model.ChatResponse{JobID: f.jobID, Status: model.JobQueued}, nil
}

func (f *fakeBackend) StreamURL(jobID string) string {
	return "http://backend/api/chat/" + jobID + "/stream"
}

type fakeConn struct {
	mu        sync.Mutex
	cancelled int
}

func (f *fakeConn) Cancel() {
	f.mu.Lock()
	f.cancelled++
	f.mu.Unlock()
}

func (f *fakeConn) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

type fakeOpener struct {
	mu       sync.Mutex
	handlers []stream.Handlers
	conns    []*fakeConn
	urls     []string
}

func (f *fakeOpener) open(ctx context.Context, url string, handlers stream.Handlers, opts stream.Options) Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn := &fakeConn{}
	f.handlers = append(f.handlers, handlers)
	f.conns = append(f.conns, conn)
	f.urls = append(f.urls, url)
	return conn
}

func (f *fakeOpener) last(t *testing.T) (stream.Handlers, *fakeConn) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.handlers, "no stream was opened")
	return f.handlers[len(f.handlers)-1], f.conns[len(f.conns)-1]
}

func (f *fakeOpener) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func newTestController(backend *fakeBackend) (*Controller, *fakeOpener, *conversation.Store) {
	store := conversation.NewStore(logger.NewNop(), 0)
	opener := &fakeOpener{}
	ctrl := New(backend, store, Options{
		Logger: logger.NewNop(),
		Opener: opener.open,
	})
	return ctrl, opener, store
}

// assistantMessage returns the latest assistant message in the store.
func assistantMessage(t *testing.T, store *conversation.Store) model.Message {
	t.Helper()
	msgs := store.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return msgs[i]
		}
	}
	t.Fatal("no assistant message in store")
	return model.Message{}
}

func TestController_FullTurn(t *testing.T) {
	backend := &fakeBackend{jobID: "job-1"}
	ctrl, opener, store := newTestController(backend)

	require.NoError(t, ctrl.Submit(context.Background(), "What is X?"))
	assert.True(t, ctrl.InFlight())
	assert.Equal(t, "http://backend/api/chat/job-1/stream", opener.urls[0])

	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "What is X?", msgs[0].Content)
	assert.True(t, msgs[1].Streaming)

	handlers, _ := opener.last(t)
	handlers.OnEvent(model.TextChunkEvent{Content: "X is"})
	handlers.OnEvent(model.TextChunkEvent{Content: " a thing."})
	handlers.OnEvent(model.CitationEvent{Citation: model.Citation{ID: 1, DocumentName: "x.pdf", PageNumber: 1, TextSnippet: "X"}})
	handlers.OnEvent(model.DoneEvent{TotalTokens: 42})
	handlers.OnClose(stream.CloseDone)

	assert.False(t, ctrl.InFlight())
	final := assistantMessage(t, store)
	assert.Equal(t, "X is a thing.", final.Content)
	require.Len(t, final.Citations, 1)
	assert.Equal(t, 1, final.Citations[0].ID)
	assert.False(t, final.Streaming)
	assert.Empty(t, store.LastError())

	// The completed turn was flushed into history.
	history := store.History()
	require.Len(t, history, 1)
	assert.Equal(t, "What is X?", history[0].Title)
}

func TestController_RejectsConcurrentSubmit(t *testing.T) {
	backend := &fakeBackend{jobID: "job-1"}
	ctrl, opener, _ := newTestController(backend)

	require.NoError(t, ctrl.Submit(context.Background(), "first"))
	assert.ErrorIs(t, ctrl.Submit(context.Background(), "second"), ErrBusy)
	assert.Equal(t, 1, opener.opens())
	assert.Equal(t, []string{"first"}, backend.messages)
}

func TestController_ToolCallLifecycle(t *testing.T) {
	backend := &fakeBackend{jobID: "job-1"}
	ctrl, opener, store := newTestController(backend)

	require.NoError(t, ctrl.Submit(context.Background(), "search something"))
	handlers, _ := opener.last(t)

	handlers.OnEvent(model.ToolCallStartEvent{
		ToolType:    model.ToolTypeSearchDocuments,
		ToolName:    "search",
		Description: "Searching documents...",
	})

	msg := assistantMessage(t, store)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, model.ToolCallRunning, msg.ToolCalls[0].Status)

	handlers.OnEvent(model.ToolCallEndEvent{
		ToolType:      model.ToolTypeSearchDocuments,
		ToolName:      "search",
		Success:       false,
		ResultSummary: "timeout",
	})

	msg = assistantMessage(t, store)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, model.ToolCallFailed, msg.ToolCalls[0].Status)
	assert.Equal(t, "timeout", msg.ToolCalls[0].ResultSummary)
}

func TestController_UnrecoverableErrorStopsTurn(t *testing.T) {
	backend := &fakeBackend{jobID: "job-1"}
	ctrl, opener, store := newTestController(backend)

	require.NoError(t, ctrl.Submit(context.Background(), "What is X?"))
	handlers, conn := opener.last(t)

	handlers.OnEvent(model.TextChunkEvent{Content: "partial"})
	handlers.OnEvent(model.ErrorEvent{Message: "backend exploded", Recoverable: false})

	assert.False(t, ctrl.InFlight())
	assert.Equal(t, "backend exploded", store.LastError())
	assert.Equal(t, 1, conn.cancelCount())

	msg := assistantMessage(t, store)
	assert.False(t, msg.Streaming)
	assert.Equal(t, "backend exploded", msg.Error)
	assert.Equal(t, "partial", msg.Content)

	// Late events from the dead stream are dropped.
	handlers.OnEvent(model.TextChunkEvent{Content: " ghost"})
	assert.Equal(t, "partial", assistantMessage(t, store).Content)
}

func TestController_RecoverableErrorContinuesStreaming(t *testing.T) {
	backend := &fakeBackend{jobID: "job-1"}
	ctrl, opener, store := newTestController(backend)

	require.NoError(t, ctrl.Submit(context.Background(), "What is X?"))
	handlers, conn := opener.last(t)

	handlers.OnEvent(model.ErrorEvent{Message: "retrying tool", Recoverable: true})
	assert.True(t, ctrl.InFlight())
	assert.Equal(t, "retrying tool", store.LastError())
	assert.Zero(t, conn.cancelCount())

	handlers.OnEvent(model.TextChunkEvent{Content: "recovered"})
	handlers.OnEvent(model.DoneEvent{})

	assert.False(t, ctrl.InFlight())
	assert.Equal(t, "recovered", assistantMessage(t, store).Content)
}

func TestController_TeardownIsIdempotent(t *testing.T) {
	backend := &fakeBackend{jobID: "job-1"}
	ctrl, opener, store := newTestController(backend)

	require.NoError(t, ctrl.Submit(context.Background(), "What is X?"))
	handlers, _ := opener.last(t)

	handlers.OnEvent(model.DoneEvent{TotalTokens: 7})
	handlers.OnClose(stream.CloseDone)
	handlers.OnClose(stream.CloseDone)
	handlers.OnError(errors.New("late transport error"))

	assert.False(t, ctrl.InFlight())
	assert.False(t, assistantMessage(t, store).Streaming)
	// The late transport error must not pollute the finished turn.
	assert.Empty(t, store.LastError())
	assert.Len(t, store.History(), 1)
}

func TestController_TransportFailureConvergesTurn(t *testing.T) {
	backend := &fakeBackend{jobID: "job-1"}
	ctrl, opener, store := newTestController(backend)

	require.NoError(t, ctrl.Submit(context.Background(), "What is X?"))
	handlers, _ := opener.last(t)

	handlers.OnEvent(model.TextChunkEvent{Content: "partial"})
	handlers.OnError(stream.ErrRetriesExhausted)
	handlers.OnClose(stream.CloseFailed)

	assert.False(t, ctrl.InFlight())
	assert.Contains(t, store.LastError(), "retries exhausted")
	msg := assistantMessage(t, store)
	assert.False(t, msg.Streaming)
	assert.Equal(t, "partial", msg.Content)
}

func TestController_CancelConvergesSynchronously(t *testing.T) {
	backend := &fakeBackend{jobID: "job-1"}
	ctrl, opener, store := newTestController(backend)

	require.NoError(t, ctrl.Submit(context.Background(), "What is X?"))
	handlers, conn := opener.last(t)
	handlers.OnEvent(model.TextChunkEvent{Content: "partial"})

	ctrl.Cancel()

	assert.False(t, ctrl.InFlight())
	assert.Equal(t, 1, conn.cancelCount())
	assert.False(t, assistantMessage(t, store).Streaming)

	ctrl.Cancel() // safe when idle
	assert.Equal(t, 1, conn.cancelCount())
}

func TestController_StaleCallbacksCannotTouchNewTurn(t *testing.T) {
	backend := &fakeBackend{jobID: "job-1"}
	ctrl, opener, store := newTestController(backend)

	require.NoError(t, ctrl.Submit(context.Background(), "first question"))
	oldHandlers, _ := opener.last(t)
	oldHandlers.OnEvent(model.TextChunkEvent{Content: "live"})
	ctrl.Cancel()

	backend.jobID = "job-2"
	require.NoError(t, ctrl.Submit(context.Background(), "second question"))

	// Late callbacks from the cancelled connection arrive now.
	oldHandlers.OnEvent(model.TextChunkEvent{Content: " stale"})
	oldHandlers.OnClose(stream.CloseFailed)

	assert.True(t, ctrl.InFlight(), "stale close must not end the new turn")

	msgs := store.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "live", msgs[1].Content)
	assert.Empty(t, msgs[3].Content)

	// The live connection still works after the stale noise.
	newHandlers, _ := opener.last(t)
	newHandlers.OnEvent(model.TextChunkEvent{Content: "fresh"})
	newHandlers.OnEvent(model.DoneEvent{})

	assert.False(t, ctrl.InFlight())
	msgs = store.Messages()
	assert.Equal(t, "fresh", msgs[3].Content)
}

func TestController_SubmitFailureSurfacesError(t *testing.T) {
	backend := &fakeBackend{submitErr: errors.New("connection refused")}
	ctrl, opener, store := newTestController(backend)

	err := ctrl.Submit(context.Background(), "What is X?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	assert.False(t, ctrl.InFlight())
	assert.Zero(t, opener.opens())
	assert.Equal(t, "connection refused", store.LastError())

	msg := assistantMessage(t, store)
	assert.False(t, msg.Streaming)
	assert.Equal(t, "connection refused", msg.Error)
}

func TestController_SubmitAfterFinishedTurn(t *testing.T) {
	backend := &fakeBackend{jobID: "job-1"}
	ctrl, opener, store := newTestController(backend)

	require.NoError(t, ctrl.Submit(context.Background(), "first"))
	handlers, _ := opener.last(t)
	handlers.OnEvent(model.DoneEvent{})

	require.NoError(t, ctrl.Submit(context.Background(), "second"))
	assert.True(t, ctrl.InFlight())
	assert.Equal(t, 2, opener.opens())
	assert.Len(t, store.Messages(), 4)
}

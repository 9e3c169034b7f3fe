package conversation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/docchat/internal/model"
	"github.com/capitalize-ai/docchat/pkg/logger"
)

func newTestStore() *Store {
	return NewStore(logger.NewNop(), 0)
}

func TestStore_AppendTextConcatenatesInOrder(t *testing.T) {
	s := newTestStore()
	id := s.CreateMessage(model.RoleAssistant, "")

	chunks := []string{"X is", " a", " thing."}
	for _, c := range chunks {
		s.AppendText(id, c)
	}

	msg, ok := s.Message(id)
	require.True(t, ok)
	assert.Equal(t, "X is a thing.", msg.Content)
}

func TestStore_AppendTextUnknownIDIsNoop(t *testing.T) {
	s := newTestStore()
	id := s.CreateMessage(model.RoleAssistant, "keep")

	s.AppendText("no-such-id", "lost")

	msg, _ := s.Message(id)
	assert.Equal(t, "keep", msg.Content)
	assert.Len(t, s.Messages(), 1)
}

func TestStore_AddToolCallDedupesByName(t *testing.T) {
	s := newTestStore()
	id := s.CreateMessage(model.RoleAssistant, "")

	s.AddToolCall(id, model.ToolCall{ToolName: "search", Description: "first", Status: model.ToolCallRunning})
	s.AddToolCall(id, model.ToolCall{ToolName: "read", Description: "other", Status: model.ToolCallRunning})
	// Duplicate name: silently dropped, stored entry and position unchanged.
	s.AddToolCall(id, model.ToolCall{ToolName: "search", Description: "second", Status: model.ToolCallFailed})

	msg, _ := s.Message(id)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "search", msg.ToolCalls[0].ToolName)
	assert.Equal(t, "first", msg.ToolCalls[0].Description)
	assert.Equal(t, model.ToolCallRunning, msg.ToolCalls[0].Status)
	assert.Equal(t, "read", msg.ToolCalls[1].ToolName)
}

func TestStore_UpdateToolCallStatus(t *testing.T) {
	s := newTestStore()
	id := s.CreateMessage(model.RoleAssistant, "")
	s.AddToolCall(id, model.ToolCall{ToolName: "search", Status: model.ToolCallRunning})

	s.UpdateToolCallStatus(id, "search", model.ToolCallFailed, "timeout")

	msg, _ := s.Message(id)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, model.ToolCallFailed, msg.ToolCalls[0].Status)
	assert.Equal(t, "timeout", msg.ToolCalls[0].ResultSummary)
}

func TestStore_UpdateToolCallStatusUnknownNameIsNoop(t *testing.T) {
	s := newTestStore()
	id := s.CreateMessage(model.RoleAssistant, "")
	s.AddToolCall(id, model.ToolCall{ToolName: "search", Status: model.ToolCallRunning})

	s.UpdateToolCallStatus(id, "analyze", model.ToolCallSucceeded, "done")

	msg, _ := s.Message(id)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "search", msg.ToolCalls[0].ToolName)
	assert.Equal(t, model.ToolCallRunning, msg.ToolCalls[0].Status)
	assert.Empty(t, msg.ToolCalls[0].ResultSummary)
}

func TestStore_AddCitationKeepsDuplicates(t *testing.T) {
	s := newTestStore()
	id := s.CreateMessage(model.RoleAssistant, "")

	cite := model.Citation{ID: 1, DocumentName: "report.pdf", PageNumber: 2, TextSnippet: "x"}
	s.AddCitation(id, cite)
	s.AddCitation(id, cite)

	msg, _ := s.Message(id)
	assert.Len(t, msg.Citations, 2)
}

func TestStore_GenerateTitle(t *testing.T) {
	tests := []struct {
		name     string
		messages func(s *Store)
		want     string
	}{
		{
			name:     "no messages",
			messages: func(s *Store) {},
			want:     "New Conversation",
		},
		{
			name: "assistant only",
			messages: func(s *Store) {
				s.CreateMessage(model.RoleAssistant, "hello there")
			},
			want: "New Conversation",
		},
		{
			name: "short user message trimmed",
			messages: func(s *Store) {
				s.CreateMessage(model.RoleUser, "  What is X?  ")
			},
			want: "What is X?",
		},
		{
			name: "long user message truncated",
			messages: func(s *Store) {
				s.CreateMessage(model.RoleUser, strings.Repeat("a", 60))
			},
			want: strings.Repeat("a", 50) + "...",
		},
		{
			name: "exactly fifty characters untouched",
			messages: func(s *Store) {
				s.CreateMessage(model.RoleUser, strings.Repeat("b", 50))
			},
			want: strings.Repeat("b", 50),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			tt.messages(s)
			assert.Equal(t, tt.want, s.GenerateTitle())
		})
	}
}

func TestStore_SaveCurrentUpsertsInPlace(t *testing.T) {
	s := newTestStore()
	s.CreateMessage(model.RoleUser, "What is X?")

	s.SaveCurrent()
	require.Len(t, s.History(), 1)

	s.CreateMessage(model.RoleAssistant, "X is a thing.")
	s.SaveCurrent()

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, s.ActiveID(), history[0].ID)
	assert.Len(t, history[0].Messages, 2)
	assert.Equal(t, "What is X?", history[0].Title)
}

func TestStore_SaveCurrentNoopWithoutMessages(t *testing.T) {
	s := newTestStore()
	s.SaveCurrent()
	assert.Empty(t, s.History())
}

func TestStore_HistoryBoundedAtLimit(t *testing.T) {
	s := NewStore(logger.NewNop(), 50)

	var firstID string
	for i := 0; i < 55; i++ {
		s.StartNew()
		s.CreateMessage(model.RoleUser, fmt.Sprintf("question %d", i))
		s.SaveCurrent()
		if i == 0 {
			firstID = s.ActiveID()
		}
	}

	history := s.History()
	require.Len(t, history, 50)
	// Newest first; the oldest entries fell off the end.
	assert.Equal(t, "question 54", history[0].Title)
	for _, c := range history {
		assert.NotEqual(t, firstID, c.ID)
	}
}

func TestStore_LoadFlushesCurrentFirst(t *testing.T) {
	s := newTestStore()

	s.CreateMessage(model.RoleUser, "first conversation")
	firstID := s.ActiveID()
	s.SaveCurrent()

	s.StartNew()
	s.CreateMessage(model.RoleUser, "second conversation")
	secondID := s.ActiveID()

	// Loading the first must save the unsaved second one on the way.
	require.NoError(t, s.Load(firstID))

	assert.Equal(t, firstID, s.ActiveID())
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "first conversation", msgs[0].Content)

	history := s.History()
	require.Len(t, history, 2)
	ids := []string{history[0].ID, history[1].ID}
	assert.Contains(t, ids, secondID)
}

func TestStore_LoadUnknownID(t *testing.T) {
	s := newTestStore()
	s.CreateMessage(model.RoleUser, "hello")

	err := s.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// Current list untouched by the failed load.
	assert.Len(t, s.Messages(), 1)
}

func TestStore_DeleteConversation(t *testing.T) {
	s := newTestStore()
	s.CreateMessage(model.RoleUser, "keep me around")
	id := s.ActiveID()
	s.SaveCurrent()

	require.NoError(t, s.Delete(id))
	assert.Empty(t, s.History())
	// Deleting the active conversation does not clear the live messages.
	assert.Len(t, s.Messages(), 1)

	assert.ErrorIs(t, s.Delete(id), ErrNotFound)
}

func TestStore_StartNewAllocatesFreshConversation(t *testing.T) {
	s := newTestStore()
	s.CreateMessage(model.RoleUser, "first")
	firstID := s.ActiveID()

	s.StartNew()
	assert.Empty(t, s.Messages())
	assert.Empty(t, s.ActiveID())

	s.CreateMessage(model.RoleUser, "second")
	assert.NotEqual(t, firstID, s.ActiveID())

	// The first conversation was flushed to history on the way out.
	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, firstID, history[0].ID)
}

func TestStore_SerializeHydrateRoundTrip(t *testing.T) {
	s := newTestStore()
	s.SetDarkMode(true)
	s.CreateMessage(model.RoleUser, "What is X?")
	id := s.CreateMessage(model.RoleAssistant, "")
	s.AppendText(id, "X is a thing.")
	s.AddCitation(id, model.Citation{ID: 1, DocumentName: "x.pdf", PageNumber: 3, TextSnippet: "X"})
	activeID := s.ActiveID()

	blob, err := s.Serialize()
	require.NoError(t, err)

	restored := newTestStore()
	require.NoError(t, restored.Hydrate(blob))

	assert.True(t, restored.DarkMode())
	assert.Equal(t, activeID, restored.ActiveID())

	msgs := restored.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "X is a thing.", msgs[1].Content)
	require.Len(t, msgs[1].Citations, 1)
	assert.Equal(t, "x.pdf", msgs[1].Citations[0].DocumentName)

	history := restored.History()
	require.Len(t, history, 1)
	assert.Equal(t, "What is X?", history[0].Title)
}

func TestStore_HydrateTruncatesOversizedHistory(t *testing.T) {
	big := NewStore(logger.NewNop(), 60)
	for i := 0; i < 55; i++ {
		big.StartNew()
		big.CreateMessage(model.RoleUser, fmt.Sprintf("q%d", i))
		big.SaveCurrent()
	}
	blob, err := big.Serialize()
	require.NoError(t, err)

	small := NewStore(logger.NewNop(), 50)
	require.NoError(t, small.Hydrate(blob))
	assert.Len(t, small.History(), 50)
}

func TestStore_SubscribeNotifiesOnMutation(t *testing.T) {
	s := newTestStore()

	var fired int
	unsubscribe := s.Subscribe(func() { fired++ })

	id := s.CreateMessage(model.RoleAssistant, "")
	s.AppendText(id, "x")
	assert.Equal(t, 2, fired)

	unsubscribe()
	s.AppendText(id, "y")
	assert.Equal(t, 2, fired)
}

func TestStore_ErrorSlot(t *testing.T) {
	s := newTestStore()
	assert.Empty(t, s.LastError())

	s.SetError("model overloaded")
	assert.Equal(t, "model overloaded", s.LastError())

	s.ClearError()
	assert.Empty(t, s.LastError())

	s.SetError("stream interrupted")
	s.Reset()
	assert.Empty(t, s.LastError())
}

func TestStore_MessagesReturnsCopies(t *testing.T) {
	s := newTestStore()
	id := s.CreateMessage(model.RoleAssistant, "original")
	s.AddToolCall(id, model.ToolCall{ToolName: "search", Status: model.ToolCallRunning})

	snapshot := s.Messages()
	snapshot[0].Content = "mutated"
	snapshot[0].ToolCalls[0].Status = model.ToolCallFailed

	msg, _ := s.Message(id)
	assert.Equal(t, "original", msg.Content)
	assert.Equal(t, model.ToolCallRunning, msg.ToolCalls[0].Status)
}

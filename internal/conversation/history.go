package conversation

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/capitalize-ai/docchat/internal/model"
)

// ErrNotFound is returned when a conversation id is not in the history.
var ErrNotFound = errors.New("conversation not found")

const (
	titleMaxLen  = 50
	defaultTitle = "New Conversation"
)

// generateTitle derives a conversation title from the first user message:
// trimmed, truncated to 50 characters with an ellipsis when longer, the
// fixed default when no user message exists.
func generateTitle(messages []model.Message) string {
	for _, m := range messages {
		if m.Role != model.RoleUser {
			continue
		}
		title := strings.TrimSpace(m.Content)
		if title == "" {
			break
		}
		runes := []rune(title)
		if len(runes) > titleMaxLen {
			return string(runes[:titleMaxLen]) + "..."
		}
		return title
	}
	return defaultTitle
}

// GenerateTitle derives the title for the active message list.
func (s *Store) GenerateTitle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return generateTitle(s.messages)
}

// SaveCurrent upserts the active conversation into the history: existing
// entries update in place, new ones insert at the front and evict beyond
// the limit. A no-op when there are no messages.
func (s *Store) SaveCurrent() {
	s.mu.Lock()
	s.saveCurrentLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) saveCurrentLocked() {
	if len(s.messages) == 0 {
		return
	}
	if s.activeID == "" {
		// Should not occur: CreateMessage allocates the id.
		s.activeID = newID()
		s.createdAt = time.Now()
	}

	conv := model.Conversation{
		ID:        s.activeID,
		Title:     generateTitle(s.messages),
		Messages:  cloneMessages(s.messages),
		CreatedAt: s.createdAt,
		UpdatedAt: time.Now(),
	}

	for i := range s.history {
		if s.history[i].ID == conv.ID {
			conv.CreatedAt = s.history[i].CreatedAt
			s.history[i] = conv
			return
		}
	}

	s.history = append([]model.Conversation{conv}, s.history...)
	if len(s.history) > s.limit {
		evicted := len(s.history) - s.limit
		s.history = s.history[:s.limit]
		s.log.Debug("evicted conversations from history", "count", evicted)
	}
}

// Load switches the active message list to a stored conversation,
// saving the current one first.
func (s *Store) Load(id string) error {
	s.mu.Lock()
	s.saveCurrentLocked()

	var found *model.Conversation
	for i := range s.history {
		if s.history[i].ID == id {
			found = &s.history[i]
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		return ErrNotFound
	}

	s.messages = cloneMessages(found.Messages)
	s.activeID = found.ID
	s.createdAt = found.CreatedAt
	s.lastError = ""
	s.mu.Unlock()

	s.log.Debug("loaded conversation", "conversation_id", id)
	s.notify()
	return nil
}

// Delete removes a conversation from the history. Deleting the active
// conversation does not clear the active message list.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	idx := -1
	for i := range s.history {
		if s.history[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.history = append(s.history[:idx], s.history[idx+1:]...)
	s.mu.Unlock()

	s.log.Debug("deleted conversation", "conversation_id", id)
	s.notify()
	return nil
}

// History returns a copy of the stored conversations, newest first.
func (s *Store) History() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, len(s.history))
	for i := range s.history {
		out[i] = cloneConversation(s.history[i])
	}
	return out
}

// persistedState is the serialized shape of everything that survives a
// restart.
type persistedState struct {
	Conversations []model.Conversation `json:"conversations"`
	ActiveID      string               `json:"active_conversation_id,omitempty"`
	DarkMode      bool                 `json:"dark_mode"`
}

// Serialize captures the history, active conversation id, and theme flag
// as one JSON blob. The active message list is flushed first so the blob
// is self-contained.
func (s *Store) Serialize() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCurrentLocked()
	return json.Marshal(persistedState{
		Conversations: s.history,
		ActiveID:      s.activeID,
		DarkMode:      s.darkMode,
	})
}

// Hydrate replaces the store's persisted fields from a serialized blob.
// The active message list is restored from the active conversation when
// it is present in the history.
func (s *Store) Hydrate(data []byte) error {
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	s.mu.Lock()
	s.history = state.Conversations
	if len(s.history) > s.limit {
		s.history = s.history[:s.limit]
	}
	s.darkMode = state.DarkMode
	s.activeID = state.ActiveID
	s.messages = nil
	s.createdAt = time.Time{}
	for i := range s.history {
		if s.history[i].ID == state.ActiveID {
			s.messages = cloneMessages(s.history[i].Messages)
			s.createdAt = s.history[i].CreatedAt
			break
		}
	}
	count := len(s.history)
	s.mu.Unlock()

	s.log.Debug("hydrated state", "conversations", count)
	s.notify()
	return nil
}

func cloneMessages(in []model.Message) []model.Message {
	out := make([]model.Message, len(in))
	for i := range in {
		out[i] = cloneMessage(in[i])
	}
	return out
}

func cloneConversation(c model.Conversation) model.Conversation {
	out := c
	out.Messages = cloneMessages(c.Messages)
	return out
}

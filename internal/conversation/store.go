// Package conversation owns the in-memory conversation state: the
// active message list, the bounded conversation history, and the
// operations that fold stream events into both.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/docchat/internal/model"
	"github.com/capitalize-ai/docchat/pkg/logger"
	"github.com/capitalize-ai/docchat/pkg/metrics"
)

// DefaultHistoryLimit bounds the retained conversation history.
const DefaultHistoryLimit = 50

// Store is a single-writer container for conversation state. All
// mutations serialize on one mutex because tool-call dedup and status
// updates are check-then-act sequences.
type Store struct {
	mu sync.Mutex

	log *logger.Logger

	messages  []model.Message
	activeID  string
	createdAt time.Time
	history   []model.Conversation
	limit     int

	darkMode  bool
	lastError string

	subs    map[int]func()
	nextSub int
}

// NewStore creates an empty store. limit bounds the history; zero or
// negative takes DefaultHistoryLimit.
func NewStore(log *logger.Logger, limit int) *Store {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if log == nil {
		log = logger.Global()
	}
	return &Store{
		log:   log,
		limit: limit,
		subs:  make(map[int]func()),
	}
}

// CreateMessage appends a fresh message with the given role and content
// and returns its id. The first message of a conversation also allocates
// the conversation id.
func (s *Store) CreateMessage(role model.Role, content string) string {
	s.mu.Lock()
	if s.activeID == "" {
		s.activeID = newID()
		s.createdAt = time.Now()
		metrics.ConversationsTotal.Inc()
	}
	msg := model.Message{
		ID:        newID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues(string(role)).Inc()
	s.notify()
	return msg.ID
}

// AppendText concatenates text onto the message's content. Unknown ids
// are ignored.
func (s *Store) AppendText(id, text string) {
	s.mu.Lock()
	if msg := s.find(id); msg != nil {
		msg.Content += text
	}
	s.mu.Unlock()
	s.notify()
}

// AddCitation appends a citation unconditionally. Citation numbering is
// producer-controlled, so duplicates are kept.
func (s *Store) AddCitation(id string, c model.Citation) {
	s.mu.Lock()
	if msg := s.find(id); msg != nil {
		msg.Citations = append(msg.Citations, c)
	}
	s.mu.Unlock()
	s.notify()
}

// AddUIBlock appends a display block unconditionally.
func (s *Store) AddUIBlock(id string, b model.UIBlock) {
	s.mu.Lock()
	if msg := s.find(id); msg != nil {
		msg.UIBlocks = append(msg.UIBlocks, b)
	}
	s.mu.Unlock()
	s.notify()
}

// AddToolCall appends a tool call unless the message already holds one
// with the same name, in which case the call is silently dropped.
func (s *Store) AddToolCall(id string, tc model.ToolCall) {
	s.mu.Lock()
	if msg := s.find(id); msg != nil {
		exists := false
		for i := range msg.ToolCalls {
			if msg.ToolCalls[i].ToolName == tc.ToolName {
				exists = true
				break
			}
		}
		if !exists {
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
	}
	s.mu.Unlock()
	s.notify()
}

// UpdateToolCallStatus updates the named tool call's status and result
// summary. A missing message or name is a no-op: the matching start may
// have been lost in transit.
func (s *Store) UpdateToolCallStatus(id, toolName string, status model.ToolCallStatus, resultSummary string) {
	s.mu.Lock()
	if msg := s.find(id); msg != nil {
		for i := range msg.ToolCalls {
			if msg.ToolCalls[i].ToolName == toolName {
				msg.ToolCalls[i].Status = status
				if resultSummary != "" {
					msg.ToolCalls[i].ResultSummary = resultSummary
				}
				break
			}
		}
	}
	s.mu.Unlock()
	s.notify()
}

// SetStreaming flips the message's streaming flag.
func (s *Store) SetStreaming(id string, v bool) {
	s.mu.Lock()
	if msg := s.find(id); msg != nil {
		msg.Streaming = v
	}
	s.mu.Unlock()
	s.notify()
}

// SetMessageError records an error string on the message.
func (s *Store) SetMessageError(id, errMsg string) {
	s.mu.Lock()
	if msg := s.find(id); msg != nil {
		msg.Error = errMsg
	}
	s.mu.Unlock()
	s.notify()
}

// Reset clears the active message list. The conversation id and history
// are untouched.
func (s *Store) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.lastError = ""
	s.mu.Unlock()
	s.notify()
}

// StartNew saves the current conversation into history, then begins an
// empty one with no allocated id.
func (s *Store) StartNew() {
	s.mu.Lock()
	s.saveCurrentLocked()
	s.messages = nil
	s.activeID = ""
	s.createdAt = time.Time{}
	s.lastError = ""
	s.mu.Unlock()
	s.notify()
}

// Messages returns a copy of the active message list.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	for i := range s.messages {
		out[i] = cloneMessage(s.messages[i])
	}
	return out
}

// Message returns a copy of one message by id.
func (s *Store) Message(id string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg := s.find(id); msg != nil {
		return cloneMessage(*msg), true
	}
	return model.Message{}, false
}

// ActiveID returns the active conversation id, empty if none allocated.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SetDarkMode flips the persisted theme flag.
func (s *Store) SetDarkMode(v bool) {
	s.mu.Lock()
	s.darkMode = v
	s.mu.Unlock()
	s.notify()
}

// DarkMode reports the persisted theme flag.
func (s *Store) DarkMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.darkMode
}

// SetError publishes to the single visible error slot.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	s.notify()
}

// ClearError empties the visible error slot.
func (s *Store) ClearError() {
	s.SetError("")
}

// LastError reads the visible error slot, empty when clear.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Subscribe registers a change callback fired after every mutation. The
// returned function unsubscribes. Callbacks run outside the store lock.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// find returns the live message with the given id. Callers hold s.mu.
func (s *Store) find(id string) *model.Message {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return &s.messages[i]
		}
	}
	return nil
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// cloneMessage copies a message and its slices so callers never share
// backing arrays with the live state.
func cloneMessage(m model.Message) model.Message {
	out := m
	if m.Citations != nil {
		out.Citations = append([]model.Citation(nil), m.Citations...)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = append([]model.ToolCall(nil), m.ToolCalls...)
	}
	if m.UIBlocks != nil {
		out.UIBlocks = append([]model.UIBlock(nil), m.UIBlocks...)
	}
	return out
}

package model

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of a stream event.
type EventType string

const (
	EventTypeTextChunk     EventType = "text_chunk"
	EventTypeToolCallStart EventType = "tool_call_start"
	EventTypeToolCallEnd   EventType = "tool_call_end"
	EventTypeCitation      EventType = "citation"
	EventTypeUIBlock       EventType = "ui_block"
	EventTypeError         EventType = "error"
	EventTypeDone          EventType = "done"
)

// ToolType identifies a tool the answering backend can invoke.
type ToolType string

const (
	ToolTypeSearchDocuments ToolType = "search_documents"
	ToolTypeReadPDF         ToolType = "read_pdf"
	ToolTypeAnalyzeContent  ToolType = "analyze_content"
)

// StreamEvent is one event from an answer stream. Concrete types are
// TextChunkEvent, ToolCallStartEvent, ToolCallEndEvent, CitationEvent,
// UIBlockEvent, ErrorEvent, and DoneEvent.
type StreamEvent interface {
	Kind() EventType
}

// TextChunkEvent carries a fragment of assistant answer text.
type TextChunkEvent struct {
	Content string `json:"content"`
}

func (TextChunkEvent) Kind() EventType { return EventTypeTextChunk }

// ToolCallStartEvent announces that the backend started a tool invocation.
type ToolCallStartEvent struct {
	ToolType    ToolType `json:"tool_type"`
	ToolName    string   `json:"tool_name"`
	Description string   `json:"description"`
}

func (ToolCallStartEvent) Kind() EventType { return EventTypeToolCallStart }

// ToolCallEndEvent announces that a tool invocation finished.
type ToolCallEndEvent struct {
	ToolType      ToolType `json:"tool_type"`
	ToolName      string   `json:"tool_name"`
	Success       bool     `json:"success"`
	ResultSummary string   `json:"result_summary,omitempty"`
}

func (ToolCallEndEvent) Kind() EventType { return EventTypeToolCallEnd }

// CitationEvent attaches a source reference to the in-progress answer.
type CitationEvent struct {
	Citation Citation `json:"citation"`
}

func (CitationEvent) Kind() EventType { return EventTypeCitation }

// UIBlockEvent attaches a structured display block to the in-progress answer.
type UIBlockEvent struct {
	Block UIBlock `json:"block"`
}

func (UIBlockEvent) Kind() EventType { return EventTypeUIBlock }

// ErrorEvent reports a failure in the answering backend. Recoverable
// errors may be followed by further events; unrecoverable ones end the turn.
type ErrorEvent struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func (ErrorEvent) Kind() EventType { return EventTypeError }

// DoneEvent marks the end of an answer stream.
type DoneEvent struct {
	TotalTokens int `json:"total_tokens,omitempty"`
}

func (DoneEvent) Kind() EventType { return EventTypeDone }

// DecodeEvent parses the JSON payload of a stream frame into its typed
// event. kind comes from the frame's event field; when empty, the
// payload's embedded "event" key is used instead.
func DecodeEvent(kind string, data []byte) (StreamEvent, error) {
	if kind == "" {
		var probe struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("probing event kind: %w", err)
		}
		kind = probe.Event
	}

	switch EventType(kind) {
	case EventTypeTextChunk:
		var ev TextChunkEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding text_chunk: %w", err)
		}
		return ev, nil
	case EventTypeToolCallStart:
		var ev ToolCallStartEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding tool_call_start: %w", err)
		}
		return ev, nil
	case EventTypeToolCallEnd:
		var ev ToolCallEndEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding tool_call_end: %w", err)
		}
		return ev, nil
	case EventTypeCitation:
		var ev CitationEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding citation: %w", err)
		}
		return ev, nil
	case EventTypeUIBlock:
		var ev UIBlockEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding ui_block: %w", err)
		}
		return ev, nil
	case EventTypeError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding error event: %w", err)
		}
		return ev, nil
	case EventTypeDone:
		var ev DoneEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding done event: %w", err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

// EncodeEvent serializes a stream event to the JSON payload used on the
// wire, with the embedded "event" key set to the event's kind.
func EncodeEvent(ev StreamEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["event"] = string(ev.Kind())
	return json.Marshal(fields)
}

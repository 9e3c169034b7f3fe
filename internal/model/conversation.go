// Package model defines data structures for the document chat client.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCallStatus tracks the lifecycle of a tool invocation.
type ToolCallStatus string

const (
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallSucceeded ToolCallStatus = "succeeded"
	ToolCallFailed    ToolCallStatus = "failed"
)

// Citation is a reference to a location in a source document.
type Citation struct {
	ID           int    `json:"id"`
	DocumentName string `json:"document_name"`
	PageNumber   int    `json:"page_number"`
	TextSnippet  string `json:"text_snippet"`
	StartChar    *int   `json:"start_char,omitempty"`
	EndChar      *int   `json:"end_char,omitempty"`
}

// ToolCall records one backend tool invocation attached to a message.
type ToolCall struct {
	ToolType      ToolType       `json:"tool_type"`
	ToolName      string         `json:"tool_name"`
	Description   string         `json:"description"`
	Status        ToolCallStatus `json:"status"`
	ResultSummary string         `json:"result_summary,omitempty"`
}

// UIBlockType identifies the kind of a structured display block.
type UIBlockType string

const (
	UIBlockInfoCard UIBlockType = "info_card"
	UIBlockTable    UIBlockType = "table"
	UIBlockChart    UIBlockType = "chart"
)

// InfoCardData is the payload of an info card block.
type InfoCardData struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Icon    string `json:"icon,omitempty"`
}

// TableData is the payload of a table block.
type TableData struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	Caption string     `json:"caption,omitempty"`
}

// ChartData is the payload of a chart block. ChartType is one of
// "bar", "line", or "pie".
type ChartData struct {
	ChartType string    `json:"chart_type"`
	Labels    []string  `json:"labels"`
	Values    []float64 `json:"values"`
	Title     string    `json:"title,omitempty"`
}

// UIBlock is a structured display block attached to a message. Exactly
// one of InfoCard, Table, or Chart is set, matching Type.
type UIBlock struct {
	Type     UIBlockType
	InfoCard *InfoCardData
	Table    *TableData
	Chart    *ChartData
}

// uiBlockWire is the {type, data} envelope used on the wire and in
// persisted state.
type uiBlockWire struct {
	Type UIBlockType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes the {type, data} envelope into the typed payload.
func (b *UIBlock) UnmarshalJSON(raw []byte) error {
	var wire uiBlockWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}

	b.Type = wire.Type
	b.InfoCard, b.Table, b.Chart = nil, nil, nil

	switch wire.Type {
	case UIBlockInfoCard:
		var data InfoCardData
		if err := json.Unmarshal(wire.Data, &data); err != nil {
			return fmt.Errorf("decoding info_card data: %w", err)
		}
		b.InfoCard = &data
	case UIBlockTable:
		var data TableData
		if err := json.Unmarshal(wire.Data, &data); err != nil {
			return fmt.Errorf("decoding table data: %w", err)
		}
		b.Table = &data
	case UIBlockChart:
		var data ChartData
		if err := json.Unmarshal(wire.Data, &data); err != nil {
			return fmt.Errorf("decoding chart data: %w", err)
		}
		b.Chart = &data
	default:
		return fmt.Errorf("unknown ui block type %q", wire.Type)
	}
	return nil
}

// MarshalJSON re-emits the {type, data} envelope.
func (b UIBlock) MarshalJSON() ([]byte, error) {
	var data any
	switch b.Type {
	case UIBlockInfoCard:
		data = b.InfoCard
	case UIBlockTable:
		data = b.Table
	case UIBlockChart:
		data = b.Chart
	default:
		return nil, fmt.Errorf("unknown ui block type %q", b.Type)
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(uiBlockWire{Type: b.Type, Data: body})
}

// Message is one turn entry in a conversation.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	UIBlocks  []UIBlock  `json:"ui_blocks,omitempty"`
	Streaming bool       `json:"streaming,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Conversation is an ordered exchange of messages with a derived title.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

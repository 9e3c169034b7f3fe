package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_TextChunk(t *testing.T) {
	ev, err := DecodeEvent("text_chunk", []byte(`{"event":"text_chunk","content":"The report says"}`))
	require.NoError(t, err)

	chunk, ok := ev.(TextChunkEvent)
	require.True(t, ok, "expected TextChunkEvent, got %T", ev)
	assert.Equal(t, "The report says", chunk.Content)
	assert.Equal(t, EventTypeTextChunk, ev.Kind())
}

func TestDecodeEvent_ToolCallPair(t *testing.T) {
	start, err := DecodeEvent("tool_call_start", []byte(`{
		"event": "tool_call_start",
		"tool_type": "search_documents",
		"tool_name": "search_documents_1",
		"description": "Searching documents..."
	}`))
	require.NoError(t, err)

	s, ok := start.(ToolCallStartEvent)
	require.True(t, ok)
	assert.Equal(t, ToolTypeSearchDocuments, s.ToolType)
	assert.Equal(t, "search_documents_1", s.ToolName)
	assert.Equal(t, "Searching documents...", s.Description)

	end, err := DecodeEvent("tool_call_end", []byte(`{
		"event": "tool_call_end",
		"tool_type": "search_documents",
		"tool_name": "search_documents_1",
		"success": true,
		"result_summary": "Found 3 relevant pages"
	}`))
	require.NoError(t, err)

	e, ok := end.(ToolCallEndEvent)
	require.True(t, ok)
	assert.Equal(t, s.ToolName, e.ToolName)
	assert.True(t, e.Success)
	assert.Equal(t, "Found 3 relevant pages", e.ResultSummary)
}

func TestDecodeEvent_Citation(t *testing.T) {
	ev, err := DecodeEvent("citation", []byte(`{
		"event": "citation",
		"citation": {
			"id": 1,
			"document_name": "annual_report.pdf",
			"page_number": 12,
			"text_snippet": "revenue grew 14%",
			"start_char": 120,
			"end_char": 136
		}
	}`))
	require.NoError(t, err)

	c, ok := ev.(CitationEvent)
	require.True(t, ok)
	assert.Equal(t, 1, c.Citation.ID)
	assert.Equal(t, "annual_report.pdf", c.Citation.DocumentName)
	assert.Equal(t, 12, c.Citation.PageNumber)
	require.NotNil(t, c.Citation.StartChar)
	assert.Equal(t, 120, *c.Citation.StartChar)
}

func TestDecodeEvent_CitationWithoutHighlightRange(t *testing.T) {
	ev, err := DecodeEvent("citation", []byte(`{
		"citation": {"id": 2, "document_name": "notes.pdf", "page_number": 3, "text_snippet": "see appendix"}
	}`))
	require.NoError(t, err)

	c := ev.(CitationEvent)
	assert.Nil(t, c.Citation.StartChar)
	assert.Nil(t, c.Citation.EndChar)
}

func TestDecodeEvent_UIBlockVariants(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		check func(t *testing.T, b UIBlock)
	}{
		{
			name: "info card",
			data: `{"block":{"type":"info_card","data":{"title":"Summary","content":"Q3 was strong","icon":"📈"}}}`,
			check: func(t *testing.T, b UIBlock) {
				require.Equal(t, UIBlockInfoCard, b.Type)
				require.NotNil(t, b.InfoCard)
				assert.Equal(t, "Summary", b.InfoCard.Title)
				assert.Equal(t, "📈", b.InfoCard.Icon)
			},
		},
		{
			name: "table",
			data: `{"block":{"type":"table","data":{"headers":["Quarter","Revenue"],"rows":[["Q1","10"],["Q2","12"]],"caption":"Revenue by quarter"}}}`,
			check: func(t *testing.T, b UIBlock) {
				require.Equal(t, UIBlockTable, b.Type)
				require.NotNil(t, b.Table)
				assert.Equal(t, []string{"Quarter", "Revenue"}, b.Table.Headers)
				assert.Len(t, b.Table.Rows, 2)
			},
		},
		{
			name: "chart",
			data: `{"block":{"type":"chart","data":{"chart_type":"bar","labels":["Q1","Q2"],"values":[10,12],"title":"Revenue"}}}`,
			check: func(t *testing.T, b UIBlock) {
				require.Equal(t, UIBlockChart, b.Type)
				require.NotNil(t, b.Chart)
				assert.Equal(t, "bar", b.Chart.ChartType)
				assert.Equal(t, []float64{10, 12}, b.Chart.Values)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent("ui_block", []byte(tt.data))
			require.NoError(t, err)

			block, ok := ev.(UIBlockEvent)
			require.True(t, ok)
			tt.check(t, block.Block)
		})
	}
}

func TestDecodeEvent_ErrorAndDone(t *testing.T) {
	ev, err := DecodeEvent("error", []byte(`{"event":"error","message":"model overloaded","recoverable":true}`))
	require.NoError(t, err)
	errEv := ev.(ErrorEvent)
	assert.Equal(t, "model overloaded", errEv.Message)
	assert.True(t, errEv.Recoverable)

	ev, err = DecodeEvent("done", []byte(`{"event":"done","total_tokens":482}`))
	require.NoError(t, err)
	done := ev.(DoneEvent)
	assert.Equal(t, 482, done.TotalTokens)

	ev, err = DecodeEvent("done", []byte(`{"event":"done"}`))
	require.NoError(t, err)
	assert.Zero(t, ev.(DoneEvent).TotalTokens)
}

func TestDecodeEvent_KindFallsBackToPayload(t *testing.T) {
	ev, err := DecodeEvent("", []byte(`{"event":"text_chunk","content":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, EventTypeTextChunk, ev.Kind())
}

func TestDecodeEvent_UnknownKind(t *testing.T) {
	_, err := DecodeEvent("heartbeat", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat")
}

func TestDecodeEvent_MalformedPayload(t *testing.T) {
	_, err := DecodeEvent("text_chunk", []byte(`{"content":`))
	require.Error(t, err)
}

func TestEncodeEvent_EmbedsKind(t *testing.T) {
	data, err := EncodeEvent(TextChunkEvent{Content: "hello"})
	require.NoError(t, err)

	ev, err := DecodeEvent("", data)
	require.NoError(t, err)
	assert.Equal(t, TextChunkEvent{Content: "hello"}, ev)
}

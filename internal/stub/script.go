package stub

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/capitalize-ai/docchat/internal/model"
)

// ScriptStep is one scripted event and the pause before it plays. A
// zero delay falls back to the server's configured chunk delay.
type ScriptStep struct {
	Event model.StreamEvent
	Delay time.Duration
}

// Script is the ordered event sequence a job plays back.
type Script []ScriptStep

// scriptStepWire is the on-disk form of a step.
type scriptStepWire struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	DelayMS int             `json:"delay_ms"`
}

// LoadScript reads a script file: a JSON array of
// {kind, payload, delay_ms} steps ending with a done event.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}

	var steps []scriptStepWire
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if len(steps) == 0 {
		return nil, errors.New("script has no steps")
	}

	script := make(Script, 0, len(steps))
	for i, step := range steps {
		ev, err := model.DecodeEvent(step.Kind, step.Payload)
		if err != nil {
			return nil, fmt.Errorf("script step %d: %w", i, err)
		}
		script = append(script, ScriptStep{
			Event: ev,
			Delay: time.Duration(step.DelayMS) * time.Millisecond,
		})
	}

	for i, step := range script[:len(script)-1] {
		if step.Event.Kind() == model.EventTypeDone {
			return nil, fmt.Errorf("done event at step %d must be last", i)
		}
	}
	if script[len(script)-1].Event.Kind() != model.EventTypeDone {
		return nil, errors.New("script must end with a done event")
	}

	return script, nil
}

// Default answer fixtures. The citation snippet is verbatim text from
// the canned product manual so citations resolve against /api/pdfs.
const (
	defaultAnswer = "Based on the indexed documents, the standard warranty covers parts" +
		" and labor for 24 months from the date of purchase. Extended coverage" +
		" adds accidental damage protection and runs for 48 months; details are" +
		" on page 12 of the product manual."
	warrantySnippet = "The standard warranty covers parts and labor for 24 months" +
		" from the date of purchase."
)

// DefaultScript builds the built-in answer played when no script file
// is configured. The sequence exercises every event kind a real
// answering run produces: tool lifecycle, chunked text, a citation,
// display blocks, then done.
func DefaultScript(message string) Script {
	script := Script{
		{
			Event: model.ToolCallStartEvent{
				ToolType:    model.ToolTypeSearchDocuments,
				ToolName:    "search_documents",
				Description: "🔍 Searching documents...",
			},
			Delay: 150 * time.Millisecond,
		},
		{
			Event: model.ToolCallEndEvent{
				ToolType:      model.ToolTypeSearchDocuments,
				ToolName:      "search_documents",
				Success:       true,
				ResultSummary: "Found 3 relevant passages in product-manual.pdf",
			},
			Delay: 400 * time.Millisecond,
		},
	}

	for _, chunk := range chunkText(answerFor(message), 4) {
		script = append(script, ScriptStep{Event: model.TextChunkEvent{Content: chunk}})
	}

	script = append(script,
		ScriptStep{Event: model.CitationEvent{Citation: model.Citation{
			ID:           1,
			DocumentName: "product-manual.pdf",
			PageNumber:   12,
			TextSnippet:  warrantySnippet,
		}}},
		ScriptStep{Event: model.UIBlockEvent{Block: model.UIBlock{
			Type: model.UIBlockInfoCard,
			InfoCard: &model.InfoCardData{
				Title:   "Warranty at a glance",
				Content: "24 months parts and labor, extendable to 48 months.",
				Icon:    "shield",
			},
		}}},
		ScriptStep{Event: model.UIBlockEvent{Block: model.UIBlock{
			Type: model.UIBlockTable,
			Table: &model.TableData{
				Headers: []string{"Plan", "Coverage", "Term"},
				Rows: [][]string{
					{"Standard", "Parts and labor", "24 months"},
					{"Extended", "Parts, labor, accidental damage", "48 months"},
				},
				Caption: "Coverage comparison",
			},
		}}},
		ScriptStep{Event: model.DoneEvent{TotalTokens: 384}},
	)

	return script
}

// answerFor echoes a truncated form of the question so developers can
// see which submission produced the stream.
func answerFor(message string) string {
	question := strings.TrimSpace(message)
	if runes := []rune(question); len(runes) > 80 {
		question = string(runes[:80]) + "..."
	}
	if question == "" {
		return defaultAnswer
	}
	return fmt.Sprintf("You asked: %q. %s", question, defaultAnswer)
}

// chunkText splits text into groups of n words, preserving spacing at
// chunk boundaries so concatenation reproduces the original text.
func chunkText(text string, n int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	for i := 0; i < len(words); i += n {
		end := i + n
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

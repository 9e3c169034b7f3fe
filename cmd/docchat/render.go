package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/capitalize-ai/docchat/internal/conversation"
	"github.com/capitalize-ai/docchat/internal/model"
)

// renderer streams one assistant message to stdout as the store folds
// events into it. It subscribes to the store once and stays idle until
// begin points it at a message.
type renderer struct {
	store *conversation.Store

	mu      sync.Mutex
	active  string       // message ID being rendered; empty when idle
	printed int          // bytes of content already written
	started map[int]bool // tool call indexes whose start line printed
	settled map[int]bool // tool call indexes whose settle line printed
	midLine bool
	doneCh  chan struct{}
}

func newRenderer(store *conversation.Store) *renderer {
	r := &renderer{
		store:  store,
		doneCh: make(chan struct{}, 1),
	}
	store.Subscribe(r.onChange)
	return r
}

// begin starts rendering the message with the given ID. The manual
// onChange call catches up on anything that streamed in before the
// subscription saw it.
func (r *renderer) begin(msgID string) {
	r.mu.Lock()
	r.active = msgID
	r.printed = 0
	r.started = make(map[int]bool)
	r.settled = make(map[int]bool)
	r.midLine = false
	select {
	case <-r.doneCh: // drop a stale signal from a cancelled turn
	default:
	}
	r.mu.Unlock()

	r.onChange()
}

// done signals once the active message has settled.
func (r *renderer) done() <-chan struct{} {
	return r.doneCh
}

func (r *renderer) onChange() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == "" {
		return
	}
	msg, ok := r.store.Message(r.active)
	if !ok {
		return
	}

	r.renderProgress(msg)
	if !msg.Streaming {
		r.finish(msg)
	}
}

// renderProgress prints whatever the message gained since the last
// notification: tool lines, then the new slice of answer text.
func (r *renderer) renderProgress(msg model.Message) {
	for i, tc := range msg.ToolCalls {
		if !r.started[i] {
			r.started[i] = true
			r.breakLine()
			fmt.Printf("  [tool] %s\n", tc.Description)
		}
		if tc.Status != model.ToolCallRunning && !r.settled[i] {
			r.settled[i] = true
			r.breakLine()
			summary := tc.ResultSummary
			if summary == "" {
				if tc.Status == model.ToolCallFailed {
					summary = "failed"
				} else {
					summary = "done"
				}
			}
			fmt.Printf("  [tool] %s: %s\n", tc.ToolName, summary)
		}
	}

	if len(msg.Content) > r.printed {
		fmt.Print(msg.Content[r.printed:])
		r.printed = len(msg.Content)
		r.midLine = !strings.HasSuffix(msg.Content, "\n")
	}
}

// finish prints the settled message's citations, blocks, and errors,
// then releases the repl.
func (r *renderer) finish(msg model.Message) {
	r.breakLine()

	for _, c := range msg.Citations {
		fmt.Printf("  [%d] %s p.%d: %s\n", c.ID, c.DocumentName, c.PageNumber, c.TextSnippet)
	}
	for _, b := range msg.UIBlocks {
		printBlock(b)
	}
	if msg.Error != "" {
		fmt.Printf("[error] %s\n", msg.Error)
	}
	// Recoverable errors leave the message intact but are still worth
	// surfacing.
	if last := r.store.LastError(); last != "" && last != msg.Error {
		fmt.Printf("[warning] %s\n", last)
	}

	r.active = ""
	select {
	case r.doneCh <- struct{}{}:
	default:
	}
}

func (r *renderer) breakLine() {
	if r.midLine {
		fmt.Println()
		r.midLine = false
	}
}

func printBlock(b model.UIBlock) {
	switch b.Type {
	case model.UIBlockInfoCard:
		if b.InfoCard != nil {
			fmt.Printf("  [card] %s: %s\n", b.InfoCard.Title, b.InfoCard.Content)
		}
	case model.UIBlockTable:
		if b.Table != nil {
			if b.Table.Caption != "" {
				fmt.Printf("  [table] %s\n", b.Table.Caption)
			}
			fmt.Printf("    %s\n", strings.Join(b.Table.Headers, " | "))
			for _, row := range b.Table.Rows {
				fmt.Printf("    %s\n", strings.Join(row, " | "))
			}
		}
	case model.UIBlockChart:
		if b.Chart != nil {
			title := b.Chart.Title
			if title == "" {
				title = b.Chart.ChartType
			}
			fmt.Printf("  [chart] %s (%d points)\n", title, len(b.Chart.Values))
		}
	}
}

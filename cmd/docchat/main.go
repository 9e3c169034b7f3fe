// Package main is the interactive terminal client for the document
// chat service.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/capitalize-ai/docchat/internal/backend"
	"github.com/capitalize-ai/docchat/internal/config"
	"github.com/capitalize-ai/docchat/internal/conversation"
	"github.com/capitalize-ai/docchat/internal/model"
	"github.com/capitalize-ai/docchat/internal/session"
	"github.com/capitalize-ai/docchat/internal/state"
	"github.com/capitalize-ai/docchat/internal/stream"
	"github.com/capitalize-ai/docchat/pkg/logger"
	"github.com/capitalize-ai/docchat/pkg/tracing"
)

func main() {
	cfg := config.Load()

	// Flags override environment configuration.
	backendURL := flag.String("backend", cfg.BackendURL, "Answering backend URL")
	stateBackend := flag.String("state", cfg.StateBackend, "State store: file, sqlite, or nats")
	statePath := flag.String("state-path", cfg.StatePath, "State file or database path")
	flag.Parse()
	cfg.BackendURL = *backendURL
	cfg.StateBackend = *stateBackend
	cfg.StatePath = *statePath

	log, err := logger.NewCLI(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "docchat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	stateStore, err := state.Open(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open state store: %v\n", err)
		os.Exit(1)
	}
	defer stateStore.Close()

	store := conversation.NewStore(log, cfg.HistoryLimit)
	if data, err := stateStore.Load(ctx); err == nil {
		if err := store.Hydrate(data); err != nil {
			log.Warn("failed to hydrate saved state", "error", err)
		}
	} else if !errors.Is(err, state.ErrNoState) {
		log.Warn("failed to load saved state", "error", err)
	}

	client := backend.New(cfg.BackendURL, &http.Client{Timeout: cfg.RequestTimeout}, log)
	controller := session.New(client, store, session.Options{
		Stream: stream.Options{
			MaxRetries:     cfg.MaxRetries,
			RetryBaseDelay: cfg.RetryBaseDelay,
			Logger:         log,
		},
		Logger: log,
	})

	// Ctrl+C during a turn cancels the turn; at the prompt it exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	r := &repl{
		ctx:        ctx,
		store:      store,
		controller: controller,
		client:     client,
		stateStore: stateStore,
		log:        log,
		render:     newRenderer(store),
		sigCh:      sigCh,
	}

	fmt.Printf("docchat connected to %s\n", cfg.BackendURL)
	if n := len(store.Messages()); n > 0 {
		fmt.Printf("Resumed a conversation with %d messages. /history for more.\n", n)
	}
	fmt.Println("Type a question and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	if err := r.run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Persist on the way out, even when the run context is gone.
	r.saveState(context.Background())
	fmt.Println("\nGoodbye!")
}

// repl drives the interactive loop. Turns block the loop until the
// stream settles, so at most one submission is ever in flight.
type repl struct {
	ctx        context.Context
	store      *conversation.Store
	controller *session.Controller
	client     *backend.Client
	stateStore state.Store
	log        *logger.Logger
	render     *renderer
	sigCh      chan os.Signal

	listed []model.Conversation // last /history listing, for /load and /delete
}

func (r *repl) run() error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else if err := scanner.Err(); err != nil {
				errCh <- err
			} else {
				errCh <- io.EOF
			}
		}()

		var input string
		select {
		case <-r.ctx.Done():
			return nil
		case <-r.sigCh:
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := r.dispatch(input); quit {
				return nil
			}
			fmt.Println()
			continue
		}

		r.submit(input)
		fmt.Println()
	}
}

// submit sends one question and blocks until its stream settles.
func (r *repl) submit(text string) {
	if err := r.controller.Submit(r.ctx, text); err != nil {
		if errors.Is(err, session.ErrBusy) {
			fmt.Println("[busy] a turn is already streaming; /cancel to stop it")
		} else {
			fmt.Printf("[error] %v\n", err)
		}
		return
	}

	// The assistant placeholder is the newest message.
	msgs := r.store.Messages()
	r.render.begin(msgs[len(msgs)-1].ID)

	select {
	case <-r.render.done():
	case <-r.sigCh:
		r.controller.Cancel()
		fmt.Println("\n[cancelled]")
	case <-r.ctx.Done():
		r.controller.Cancel()
	}

	r.saveState(r.ctx)
}

func (r *repl) dispatch(input string) (quit bool) {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		printHelp()
	case "/new":
		r.store.StartNew()
		r.saveState(r.ctx)
		fmt.Println("Started a new conversation.")
	case "/history":
		r.showHistory()
	case "/load":
		r.loadConversation(args)
	case "/delete":
		r.deleteConversation(args)
	case "/cancel":
		r.controller.Cancel()
		fmt.Println("Cancelled.")
	case "/theme":
		dark := !r.store.DarkMode()
		r.store.SetDarkMode(dark)
		r.saveState(r.ctx)
		if dark {
			fmt.Println("Theme: dark")
		} else {
			fmt.Println("Theme: light")
		}
	case "/docs":
		r.listDocuments()
	case "/upload":
		r.uploadDocument(args)
	case "/rmdoc":
		r.removeDocument(args)
	case "/page":
		r.showPage(args)
	case "/search":
		r.searchDocument(args)
	default:
		fmt.Printf("Unknown command %s. /help for commands.\n", cmd)
	}
	return false
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /new                     Start a new conversation")
	fmt.Println("  /history                 List saved conversations")
	fmt.Println("  /load <n>                Switch to conversation n from /history")
	fmt.Println("  /delete <n>              Delete conversation n from /history")
	fmt.Println("  /cancel                  Cancel the in-flight turn")
	fmt.Println("  /theme                   Toggle the saved dark mode flag")
	fmt.Println("  /docs                    List available documents")
	fmt.Println("  /upload <path>           Upload a PDF")
	fmt.Println("  /rmdoc <filename>        Delete a document")
	fmt.Println("  /page <filename> <n>     Show the text of one page")
	fmt.Println("  /search <filename> <q>   Search within a document")
	fmt.Println("  /help                    Show this help")
	fmt.Println("  /quit                    Exit")
}

func (r *repl) showHistory() {
	r.listed = r.store.History()
	if len(r.listed) == 0 {
		fmt.Println("No saved conversations.")
		return
	}
	for i, conv := range r.listed {
		marker := " "
		if conv.ID == r.store.ActiveID() {
			marker = "*"
		}
		fmt.Printf("%s %2d. %s (%d messages, %s)\n",
			marker, i+1, conv.Title, len(conv.Messages), conv.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

// pickConversation resolves a /history index argument.
func (r *repl) pickConversation(args []string, usage string) (model.Conversation, bool) {
	if len(args) != 1 {
		fmt.Printf("Usage: %s <number from /history>\n", usage)
		return model.Conversation{}, false
	}
	if len(r.listed) == 0 {
		r.listed = r.store.History()
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(r.listed) {
		fmt.Printf("Pick a number between 1 and %d (see /history).\n", len(r.listed))
		return model.Conversation{}, false
	}
	return r.listed[n-1], true
}

func (r *repl) loadConversation(args []string) {
	conv, ok := r.pickConversation(args, "/load")
	if !ok {
		return
	}
	if err := r.store.Load(conv.ID); err != nil {
		fmt.Printf("[error] %v\n", err)
		return
	}
	r.listed = nil
	r.saveState(r.ctx)

	fmt.Printf("Loaded %q.\n", conv.Title)
	for _, msg := range r.store.Messages() {
		if msg.Role == model.RoleUser {
			fmt.Printf("> %s\n", msg.Content)
		} else {
			fmt.Println(msg.Content)
		}
	}
}

func (r *repl) deleteConversation(args []string) {
	conv, ok := r.pickConversation(args, "/delete")
	if !ok {
		return
	}
	if err := r.store.Delete(conv.ID); err != nil {
		fmt.Printf("[error] %v\n", err)
		return
	}
	r.listed = nil
	r.saveState(r.ctx)
	fmt.Printf("Deleted %q.\n", conv.Title)
}

func (r *repl) listDocuments() {
	docs, err := r.client.ListDocuments(r.ctx)
	if err != nil {
		fmt.Printf("[error] %v\n", err)
		return
	}
	if len(docs) == 0 {
		fmt.Println("No documents available.")
		return
	}
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = d.Filename
		}
		fmt.Printf("  %s: %s (%d pages, %s)\n", d.Filename, title, d.PageCount, formatBytes(d.SizeBytes))
	}
}

func (r *repl) uploadDocument(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: /upload <path to .pdf>")
		return
	}
	f, err := os.Open(args[0])
	if err != nil {
		fmt.Printf("[error] %v\n", err)
		return
	}
	defer f.Close()

	result, err := r.client.UploadDocument(r.ctx, filepath.Base(args[0]), f)
	if err != nil {
		fmt.Printf("[error] %v\n", err)
		return
	}
	fmt.Printf("Uploaded %s (%d pages).\n", result.Filename, result.PageCount)
}

func (r *repl) removeDocument(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: /rmdoc <filename>")
		return
	}
	if err := r.client.DeleteDocument(r.ctx, args[0]); err != nil {
		fmt.Printf("[error] %v\n", err)
		return
	}
	fmt.Printf("Deleted %s.\n", args[0])
}

func (r *repl) showPage(args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: /page <filename> <page number>")
		return
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Println("Usage: /page <filename> <page number>")
		return
	}
	page, err := r.client.DocumentPage(r.ctx, args[0], n)
	if err != nil {
		fmt.Printf("[error] %v\n", err)
		return
	}
	fmt.Printf("%s, page %d (%d words):\n%s\n", page.Filename, page.PageNumber, page.WordCount, page.Text)
}

func (r *repl) searchDocument(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: /search <filename> <query>")
		return
	}
	query := strings.Join(args[1:], " ")
	result, err := r.client.SearchDocument(r.ctx, args[0], query, 10)
	if err != nil {
		fmt.Printf("[error] %v\n", err)
		return
	}
	if len(result.Results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, m := range result.Results {
		fmt.Printf("  p.%d: ...%s...\n", m.PageNumber, m.Context)
	}
}

// saveState serializes the conversation store into the state backend.
func (r *repl) saveState(ctx context.Context) {
	data, err := r.store.Serialize()
	if err != nil {
		r.log.Warn("failed to serialize state", "error", err)
		return
	}
	if err := r.stateStore.Save(ctx, data); err != nil {
		r.log.Warn("failed to save state", "error", err)
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

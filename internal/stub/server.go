package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/docchat/internal/config"
	"github.com/capitalize-ai/docchat/internal/middleware"
	"github.com/capitalize-ai/docchat/internal/model"
	"github.com/capitalize-ai/docchat/pkg/logger"
	"github.com/capitalize-ai/docchat/pkg/metrics"
)

// Server is the stub answering backend. It accepts chat submissions,
// plays back a scripted event stream per job, and serves a canned
// document library.
type Server struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *Registry
	docs     *DocLibrary
	script   Script // nil plays the built-in default answer

	lifecycle context.Context // bounds script playback, set by Start
}

// NewServer creates a stub server. When cfg.StubScriptPath is set the
// script file is loaded once and every job plays it.
func NewServer(cfg *config.Config, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Global()
	}

	var script Script
	if cfg.StubScriptPath != "" {
		loaded, err := LoadScript(cfg.StubScriptPath)
		if err != nil {
			return nil, fmt.Errorf("loading script: %w", err)
		}
		script = loaded
		log.Info("loaded answer script", "path", cfg.StubScriptPath, "steps", len(script))
	}

	return &Server{
		cfg:      cfg,
		log:      log,
		registry: NewRegistry(cfg.StubEventTTL, log),
		docs:     NewDocLibrary(),
		script:   script,
	}, nil
}

// Start launches background buffer sweeping and records ctx as the
// bound on script playback. Call it once, before serving requests.
func (s *Server) Start(ctx context.Context) {
	s.lifecycle = ctx
	go s.registry.Run(ctx)
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(s.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow)).
			Post("/chat", s.handleChat)
		r.Get("/chat/{jobID}/status", s.handleStatus)
		r.Get("/chat/{jobID}/stream", s.handleStream)

		r.Route("/pdfs", func(r chi.Router) {
			r.Get("/", s.handleListDocs)
			r.Post("/upload", s.handleUpload)
			r.Route("/{filename}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteDoc)
				r.Get("/page/{page}", s.handlePage)
				r.Get("/search", s.handleSearch)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleChat handles POST /api/chat: register a job and play its
// script asynchronously.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateChatMessage(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := uuid.NewString()
	job := s.registry.Create(jobID)
	go s.runJob(job, req.Message)

	s.log.Info("queued chat job",
		"job_id", jobID,
		"conversation_id", req.ConversationID,
	)
	writeJSON(w, http.StatusOK, model.ChatResponse{JobID: jobID, Status: model.JobQueued})
}

// runJob plays the configured script into the job's buffer, pacing
// steps by their delay or the configured chunk delay.
func (s *Server) runJob(job *Job, message string) {
	ctx := s.lifecycle
	if ctx == nil {
		ctx = context.Background()
	}

	job.Start()

	script := s.script
	if script == nil {
		script = DefaultScript(message)
	}

	for _, step := range script {
		delay := step.Delay
		if delay <= 0 {
			delay = s.cfg.StubChunkDelay
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				job.Fail("server shutting down")
				return
			case <-time.After(delay):
			}
		}
		if err := job.Publish(step.Event); err != nil {
			s.log.Error("publish failed", "job_id", job.ID, "error", err)
			return
		}
	}

	s.log.Info("job completed", "job_id", job.ID, "events", len(script))
}

// handleStatus handles GET /api/chat/{jobID}/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job not found: %s", jobID))
		return
	}
	writeJSON(w, http.StatusOK, job.Status())
}

// handleStream handles GET /api/chat/{jobID}/stream: replay the job's
// buffered events, then follow live appends until done.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	job, ok := s.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job not found: %s", jobID))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Flush headers now so subscribers connect before the first event.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.StubSubscribersActive.Inc()
	defer metrics.StubSubscribersActive.Dec()

	s.log.Info("stream subscriber connected", "job_id", jobID)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	cursor := 0
	for {
		entries, done, notify := job.EventsFrom(cursor)
		for _, ev := range entries {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := sendSSEEvent(w, flusher, ev.Kind, ev.Data); err != nil {
				s.log.Warn("subscriber write failed", "job_id", jobID, "error", err)
				return
			}
		}
		cursor += len(entries)

		if done {
			s.log.Info("stream complete", "job_id", jobID, "events", cursor)
			return
		}

		select {
		case <-ctx.Done():
			s.log.Info("stream subscriber disconnected", "job_id", jobID)
			return
		case <-notify:
		case <-heartbeat.C:
			// SSE comment keeps idle connections alive; clients skip it.
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleListDocs handles GET /api/pdfs.
func (s *Server) handleListDocs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.docs.List())
}

// handleUpload handles POST /api/pdfs/upload. The content is counted
// and discarded; the library registers synthesized pages.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No filename provided")
		return
	}
	defer file.Close()

	if err := middleware.ValidateFilename(header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/pdf" {
		writeError(w, http.StatusBadRequest, "Invalid file type. Only PDFs are allowed.")
		return
	}

	size, err := io.Copy(io.Discard, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read upload")
		return
	}

	result := s.docs.Upload(header.Filename, size)
	s.log.Info("document uploaded", "filename", result.Filename, "size_bytes", size)
	writeJSON(w, http.StatusOK, result)
}

// handleDeleteDoc handles DELETE /api/pdfs/{filename}.
func (s *Server) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	filename := filenameParam(r)
	if !s.docs.Delete(filename) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("PDF not found: %s", filename))
		return
	}

	s.log.Info("document deleted", "filename", filename)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("PDF '%s' deleted successfully", filename),
	})
}

// handlePage handles GET /api/pdfs/{filename}/page/{page}.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	filename := filenameParam(r)
	pageNumber, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page number")
		return
	}

	page, ok := s.docs.Page(filename, pageNumber)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Page %d not found in %s", pageNumber, filename))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleSearch handles GET /api/pdfs/{filename}/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	filename := filenameParam(r)

	query := r.URL.Query().Get("query")
	if err := middleware.ValidateSearchQuery(query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	maxResults := 10
	if v := r.URL.Query().Get("max_results"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxResults = n
		}
	}

	result, ok := s.docs.Search(filename, query, maxResults)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("PDF not found: %s", filename))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// filenameParam extracts the filename URL parameter, unescaping any
// percent-encoding the client applied.
func filenameParam(r *http.Request) string {
	filename := chi.URLParam(r, "filename")
	if unescaped, err := url.PathUnescape(filename); err == nil {
		return unescaped
	}
	return filename
}

// sendSSEEvent writes one pre-encoded SSE frame and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response in the backend's
// {"detail": ...} shape.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

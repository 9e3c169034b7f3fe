// Package stream maintains one server-push event connection per answer
// job, with retry and cancellation semantics.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/capitalize-ai/docchat/internal/model"
	"github.com/capitalize-ai/docchat/pkg/logger"
	"github.com/capitalize-ai/docchat/pkg/metrics"
)

// ErrRetriesExhausted is delivered to OnError when the connection could
// not be re-established within the configured retry budget.
var ErrRetriesExhausted = errors.New("stream retries exhausted")

// State is the connection lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// CloseReason says why a connection reached StateClosed.
type CloseReason string

const (
	CloseDone      CloseReason = "done"
	CloseCancelled CloseReason = "cancelled"
	CloseFailed    CloseReason = "failed"
)

// Handlers receive connection callbacks. All handlers are invoked from a
// single goroutine owned by the connection, so they never run
// concurrently with each other.
type Handlers struct {
	// OnEvent fires once per decoded frame, including the terminal done.
	OnEvent func(model.StreamEvent)
	// OnError fires on terminal transport failure (retries exhausted).
	OnError func(error)
	// OnClose fires exactly once when the connection reaches a terminal
	// state, except after Cancel, which suppresses all callbacks.
	OnClose func(CloseReason)
}

// Options tune connection behavior. Zero values take defaults.
type Options struct {
	// MaxRetries bounds reconnection attempts after a transport error.
	MaxRetries int
	// RetryBaseDelay scales the linear backoff: delay = base * attempt.
	RetryBaseDelay time.Duration
	// HTTPClient overrides http.DefaultClient.
	HTTPClient *http.Client
	// Logger overrides the global logger.
	Logger *logger.Logger
}

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = time.Second
)

// Conn is one push connection for a single answer job.
type Conn struct {
	url      string
	handlers Handlers
	client   *http.Client
	log      *logger.Logger

	maxRetries     int
	retryBaseDelay time.Duration

	cancelRun context.CancelFunc

	mu        sync.Mutex
	state     State
	reason    CloseReason
	cancelled bool
	closed    bool
}

// Open establishes a push connection to url and starts delivering
// events. It returns immediately; all progress is reported through
// handlers. The connection stops when a done frame arrives, when retries
// exhaust, when ctx is cancelled, or when Cancel is called.
func Open(ctx context.Context, url string, handlers Handlers, opts Options) *Conn {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBaseDelay
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		url:            url,
		handlers:       handlers,
		client:         client,
		log:            log,
		maxRetries:     opts.MaxRetries,
		retryBaseDelay: opts.RetryBaseDelay,
		cancelRun:      cancel,
		state:          StateIdle,
	}

	go c.run(runCtx)
	return c
}

// Cancel tears the connection down and suppresses all further callbacks,
// including any reconnection already scheduled. It is idempotent and
// safe to call after natural termination.
func (c *Conn) Cancel() {
	c.mu.Lock()
	already := c.cancelled || c.closed
	c.cancelled = true
	if !c.closed {
		c.state = StateClosed
		c.reason = CloseCancelled
		c.closed = true
	}
	c.mu.Unlock()

	c.cancelRun()
	if !already {
		c.log.Debug("stream cancelled", "url", c.url)
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason returns why the connection closed. Zero until StateClosed.
func (c *Conn) Reason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Conn) run(ctx context.Context) {
	started := time.Now()
	attempt := 0

	for {
		if !c.setState(StateConnecting) {
			return
		}

		opened, done, err := c.consume(ctx)
		if done {
			metrics.RecordStream(string(CloseDone), time.Since(started).Seconds())
			c.deliverClose(CloseDone)
			return
		}
		if ctx.Err() != nil {
			c.settleCancelled()
			metrics.RecordStream(string(CloseCancelled), time.Since(started).Seconds())
			return
		}

		if opened {
			attempt = 0
		}
		attempt++
		if attempt > c.maxRetries {
			c.log.Warn("stream failed, retries exhausted",
				"url", c.url,
				"attempts", attempt-1,
				"error", err,
			)
			metrics.RecordStream(string(CloseFailed), time.Since(started).Seconds())
			c.deliverError(fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt-1, err))
			c.deliverClose(CloseFailed)
			return
		}

		if !c.setState(StateReconnecting) {
			return
		}
		metrics.StreamReconnectsTotal.Inc()

		delay := c.retryBaseDelay * time.Duration(attempt)
		c.log.Info("stream dropped, reconnecting",
			"url", c.url,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.settleCancelled()
			metrics.RecordStream(string(CloseCancelled), time.Since(started).Seconds())
			return
		case <-timer.C:
		}
	}
}

// consume performs one connection attempt and reads frames until the
// stream ends. opened reports whether the server accepted the stream,
// done whether a terminal done frame arrived.
func (c *Conn) consume(ctx context.Context) (opened, done bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, false, fmt.Errorf("connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, false, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return false, false, fmt.Errorf("unexpected content type %q", ct)
	}

	if !c.setState(StateOpen) {
		return true, false, nil
	}
	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()
	c.log.Debug("stream open", "url", c.url)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventKind string
	var dataLines []string

	for scanner.Scan() {
		if ctx.Err() != nil {
			return true, false, ctx.Err()
		}

		line := scanner.Text()

		// Blank line dispatches the accumulated frame.
		if line == "" {
			if len(dataLines) > 0 {
				if c.dispatch(eventKind, strings.Join(dataLines, "\n")) {
					return true, true, nil
				}
			}
			eventKind = ""
			dataLines = nil
			continue
		}

		// Comment lines keep the connection warm; skip them.
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventKind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return true, false, fmt.Errorf("reading stream: %w", err)
	}
	return true, false, errors.New("stream ended before done")
}

// dispatch decodes one frame and delivers it. Decode failures are logged
// and the frame dropped. Returns true when the frame was a done event.
func (c *Conn) dispatch(kind, data string) bool {
	ev, err := model.DecodeEvent(kind, []byte(data))
	if err != nil {
		metrics.StreamParseFailuresTotal.Inc()
		c.log.Warn("dropping undecodable frame",
			"url", c.url,
			"kind", kind,
			"error", err,
		)
		return false
	}

	metrics.StreamEventsTotal.WithLabelValues(string(ev.Kind())).Inc()
	c.deliverEvent(ev)
	return ev.Kind() == model.EventTypeDone
}

// settleCancelled marks the connection closed without callbacks, used
// when the owning context is cancelled out from under the run loop.
func (c *Conn) settleCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	if !c.closed {
		c.state = StateClosed
		c.reason = CloseCancelled
		c.closed = true
	}
}

// setState transitions to next unless the connection was cancelled or
// closed, in which case it reports false and the caller must stop.
func (c *Conn) setState(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled || c.closed {
		return false
	}
	c.state = next
	return true
}

func (c *Conn) deliverEvent(ev model.StreamEvent) {
	c.mu.Lock()
	suppressed := c.cancelled || c.closed
	c.mu.Unlock()
	if suppressed || c.handlers.OnEvent == nil {
		return
	}
	c.handlers.OnEvent(ev)
}

func (c *Conn) deliverError(err error) {
	c.mu.Lock()
	suppressed := c.cancelled || c.closed
	c.mu.Unlock()
	if suppressed || c.handlers.OnError == nil {
		return
	}
	c.handlers.OnError(err)
}

// deliverClose settles the terminal state and fires OnClose at most once
// for the connection's lifetime.
func (c *Conn) deliverClose(reason CloseReason) {
	c.mu.Lock()
	if c.cancelled || c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.reason = reason
	c.closed = true
	c.mu.Unlock()

	if c.handlers.OnClose != nil {
		c.handlers.OnClose(reason)
	}
}

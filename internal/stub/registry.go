// Package stub implements a development stand-in for the answering
// backend. It serves the same HTTP surface and replays scripted event
// streams instead of computing answers.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/capitalize-ai/docchat/internal/model"
	"github.com/capitalize-ai/docchat/pkg/logger"
)

// bufferedEvent is one encoded SSE frame held in a job's replay buffer.
type bufferedEvent struct {
	Kind string
	Data []byte
}

// Job tracks one answering job: its lifecycle state plus the ordered
// buffer of every event published so far. Stream subscribers replay the
// buffer from a cursor and wait on the notify channel for appends, so a
// subscriber that connects late, or falls behind, catches up from the
// buffer without losing or duplicating events.
type Job struct {
	ID string

	mu          sync.Mutex
	status      model.JobState
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
	errMsg      string
	events      []bufferedEvent
	done        bool
	notify      chan struct{}
	expiresAt   time.Time
	ttl         time.Duration
}

// Registry holds live jobs and evicts them after their buffers expire.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	ttl  time.Duration
	log  *logger.Logger
}

// NewRegistry creates a job registry whose buffers expire ttl after the
// last published event.
func NewRegistry(ttl time.Duration, log *logger.Logger) *Registry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = logger.Global()
	}
	return &Registry{
		jobs: make(map[string]*Job),
		ttl:  ttl,
		log:  log,
	}
}

// Create registers a new queued job.
func (r *Registry) Create(id string) *Job {
	now := time.Now()
	job := &Job{
		ID:        id,
		status:    model.JobQueued,
		createdAt: now,
		notify:    make(chan struct{}),
		expiresAt: now.Add(r.ttl),
		ttl:       r.ttl,
	}

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	return job
}

// Get returns the job with the given ID.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Run sweeps expired job buffers until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, job := range r.jobs {
		job.mu.Lock()
		expired := now.After(job.expiresAt)
		job.mu.Unlock()
		if expired {
			delete(r.jobs, id)
			r.log.Debug("evicted expired job", "job_id", id)
		}
	}
}

// Start marks the job as picked up by a worker.
func (j *Job) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != model.JobQueued {
		return
	}
	now := time.Now()
	j.status = model.JobStarted
	j.startedAt = &now
}

// Publish encodes an event and appends it to the buffer. A done event
// completes the job; nothing can be published after it.
func (j *Job) Publish(ev model.StreamEvent) error {
	data, err := model.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Kind(), err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.done {
		return fmt.Errorf("job %s already completed", j.ID)
	}

	j.events = append(j.events, bufferedEvent{Kind: string(ev.Kind()), Data: data})
	j.expiresAt = time.Now().Add(j.ttl)

	if ev.Kind() == model.EventTypeDone {
		j.done = true
		now := time.Now()
		j.completedAt = &now
		if j.status != model.JobFailed {
			j.status = model.JobFinished
		}
	}

	// Wake every waiting subscriber.
	close(j.notify)
	j.notify = make(chan struct{})
	return nil
}

// Fail records a terminal failure and notifies subscribers with an
// unrecoverable error event followed by done.
func (j *Job) Fail(message string) {
	j.mu.Lock()
	j.status = model.JobFailed
	j.errMsg = message
	j.mu.Unlock()

	j.Publish(model.ErrorEvent{Message: message, Recoverable: false})
	j.Publish(model.DoneEvent{})
}

// EventsFrom returns the buffered events at and after cursor, whether
// the job has completed, and a channel closed on the next append.
func (j *Job) EventsFrom(cursor int) ([]bufferedEvent, bool, <-chan struct{}) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(j.events) {
		cursor = len(j.events)
	}
	return j.events[cursor:], j.done, j.notify
}

// Status reports the job's lifecycle state.
func (j *Job) Status() model.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	return model.JobStatus{
		JobID:       j.ID,
		Status:      j.status,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
		Error:       j.errMsg,
	}
}

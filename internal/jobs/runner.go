// Package jobs runs document jobs in the background with bounded
// concurrency and per-job cancellation.
package jobs

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
	"github.com/elwassit-org/api-translation-wasslago/internal/pipeline"
)

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("job runner is shut down")

// DefaultMaxConcurrent bounds the number of jobs running at once.
const DefaultMaxConcurrent = 4

// Executor runs a single job to completion.
type Executor interface {
	Run(ctx context.Context, job pipeline.Job) (*pipeline.Result, error)
}

// Ack is the synchronous acknowledgment of a submitted job.
type Ack struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
}

// Runner executes jobs asynchronously. Jobs beyond the concurrency bound
// wait for a free slot.
type Runner struct {
	exec   Executor
	slots  chan struct{}
	logger *observability.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]context.CancelFunc
	closed bool
}

// NewRunner creates a runner allowing maxConcurrent jobs at once.
func NewRunner(exec Executor, maxConcurrent int, logger *observability.Logger) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		exec:   exec,
		slots:  make(chan struct{}, maxConcurrent),
		logger: logger.WithOperation("jobs"),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]context.CancelFunc),
	}
}

// Submit starts job in the background. A missing document id is generated.
func (r *Runner) Submit(job pipeline.Job) (Ack, error) {
	if job.DocumentID == "" {
		job.DocumentID = uuid.NewString()
	}
	if err := job.Validate(); err != nil {
		return Ack{}, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Ack{}, ErrClosed
	}
	if _, exists := r.jobs[job.DocumentID]; exists {
		r.mu.Unlock()
		return Ack{}, domain.ValidationError("document "+job.DocumentID+" is already being processed", nil)
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.jobs[job.DocumentID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go r.execute(ctx, cancel, job)

	r.logger.Info().
		Str("document_id", job.DocumentID).
		Str("identity", job.Identity).
		Msg("Job submitted")

	return Ack{
		Status:     string(domain.StatusProcessing),
		Message:    "PDF is being processed in background.",
		DocumentID: job.DocumentID,
	}, nil
}

func (r *Runner) execute(ctx context.Context, cancel context.CancelFunc, job pipeline.Job) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.jobs, job.DocumentID)
		r.mu.Unlock()
		cancel()
	}()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("document_id", job.DocumentID).
				Interface("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("Job panicked")
		}
	}()

	// A job cancelled while queued still runs, so that it reports its
	// failure and releases its workspace.
	select {
	case r.slots <- struct{}{}:
		defer func() { <-r.slots }()
	case <-ctx.Done():
	}

	if _, err := r.exec.Run(ctx, job); err != nil {
		r.logger.Warn().Str("document_id", job.DocumentID).Err(err).Msg("Job failed")
		return
	}
	r.logger.Info().Str("document_id", job.DocumentID).Msg("Job finished")
}

// Cancel aborts a queued or running job.
func (r *Runner) Cancel(documentID string) error {
	r.mu.Lock()
	cancel, ok := r.jobs[documentID]
	r.mu.Unlock()
	if !ok {
		return domain.ErrJobNotFound
	}
	cancel()
	r.logger.Info().Str("document_id", documentID).Msg("Job cancellation requested")
	return nil
}

// Active returns the number of jobs queued or running.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Shutdown rejects new jobs, cancels running ones and waits for them to
// finish or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

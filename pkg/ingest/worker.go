package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

const (
	// pollInterval is how long an idle worker sleeps between queue polls.
	pollInterval = time.Second

	// jobLease bounds how long a claimed job may sit without progress
	// before housekeeping hands it to another worker.
	jobLease = 5 * time.Minute

	baseRetryDelay = 30 * time.Second
	maxRetryDelay  = 10 * time.Minute
)

// Handler processes one kind of queued job. Run errors schedule a retry
// with backoff; Exhausted, if set, runs after the final failed attempt for
// terminal cleanup such as marking a document failed.
type Handler struct {
	Run       func(ctx context.Context, job *types.Job) error
	Exhausted func(ctx context.Context, job *types.Job, runErr error)
}

// Pool drains the durable job queue with a fixed set of workers. Each
// worker claims one due job at a time; kinds with no registered handler
// are never claimed, so several pools can share a queue.
type Pool struct {
	queue    store.JobQueue
	size     int
	handlers map[types.JobKind]Handler
	kinds    []types.JobKind
	logger   zerolog.Logger
}

// NewPool creates a pool with size workers.
func NewPool(queue store.JobQueue, size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{
		queue:    queue,
		size:     size,
		handlers: make(map[types.JobKind]Handler),
		logger:   log.WithComponent("worker"),
	}
}

// Handle registers the handler for a job kind. Must be called before Run.
func (p *Pool) Handle(kind types.JobKind, h Handler) {
	if _, dup := p.handlers[kind]; !dup {
		p.kinds = append(p.kinds, kind)
	}
	p.handlers[kind] = h
}

// Run starts the workers and housekeeping loop, blocking until ctx is
// cancelled. In-flight jobs finish before Run returns; their next poll
// sees the cancelled context and exits.
func (p *Pool) Run(ctx context.Context) error {
	if len(p.kinds) == 0 {
		return fmt.Errorf("no job handlers registered")
	}
	p.logger.Info().Int("workers", p.size).Int("kinds", len(p.kinds)).Msg("Starting worker pool")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			p.work(ctx, workerID)
			return nil
		})
	}
	g.Go(func() error {
		p.housekeeping(ctx)
		return nil
	})
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, workerID, p.kinds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Str("worker", workerID).Msg("Failed to claim job")
			sleep(ctx, pollInterval)
			continue
		}
		if job == nil {
			sleep(ctx, pollInterval)
			continue
		}
		p.dispatch(ctx, workerID, job)
	}
}

func (p *Pool) dispatch(ctx context.Context, workerID string, job *types.Job) {
	handler, ok := p.handlers[job.Kind]
	if !ok {
		// Unreachable while Dequeue filters on registered kinds; drop the
		// job rather than spin on it.
		p.logger.Error().Str("kind", string(job.Kind)).Msg("Claimed job with no handler")
		p.complete(ctx, job, "dropped")
		return
	}

	logger := p.logger.With().
		Str("worker", workerID).
		Str("job_id", job.ID.String()).
		Str("kind", string(job.Kind)).
		Int("attempt", job.Attempts).
		Logger()

	start := time.Now()
	err := handler.Run(ctx, job)
	if err == nil {
		p.complete(ctx, job, "succeeded")
		logger.Info().Dur("took", time.Since(start)).Msg("Job finished")
		return
	}

	terminal := job.Attempts >= job.MaxAttempts
	if terminal && handler.Exhausted != nil {
		handler.Exhausted(ctx, job, err)
	}
	delay := retryDelay(job.Attempts)
	if failErr := p.queue.FailJob(ctx, job.ID, err.Error(), delay); failErr != nil {
		logger.Error().Err(failErr).Msg("Failed to record job failure")
	}
	if terminal {
		metrics.JobsTotal.WithLabelValues(string(job.Kind), "failed").Inc()
		logger.Error().Err(err).Msg("Job failed permanently")
		return
	}
	logger.Warn().Err(err).Dur("retry_in", delay).Msg("Job failed, will retry")
}

func (p *Pool) complete(ctx context.Context, job *types.Job, status string) {
	if err := p.queue.CompleteJob(ctx, job.ID); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to complete job")
		return
	}
	metrics.JobsTotal.WithLabelValues(string(job.Kind), status).Inc()
}

// housekeeping requeues jobs whose workers died mid-run and keeps the
// queue-depth gauge current.
func (p *Pool) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.queue.RequeueStaleJobs(ctx, jobLease); err != nil {
				p.logger.Error().Err(err).Msg("Failed to requeue stale jobs")
			} else if n > 0 {
				p.logger.Warn().Int("count", n).Msg("Requeued stale jobs")
			}
			if depth, err := p.queue.PendingJobCount(ctx); err == nil {
				metrics.JobQueueDepth.Set(float64(depth))
			}
		}
	}
}

// retryDelay doubles per attempt: 30s, 1m, 2m, ... capped at maxRetryDelay.
func retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := baseRetryDelay << (attempts - 1)
	if delay > maxRetryDelay || delay <= 0 {
		return maxRetryDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// IngestHandler returns the queue handler for document processing jobs.
func (s *Service) IngestHandler() Handler {
	return Handler{
		Run: func(ctx context.Context, job *types.Job) error {
			var payload types.IngestPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("failed to decode ingest payload: %w", err)
			}
			return s.ProcessDocument(ctx, payload.DocumentID)
		},
		Exhausted: func(ctx context.Context, job *types.Job, runErr error) {
			var payload types.IngestPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return
			}
			doc, err := s.store.GetDocumentAny(ctx, payload.DocumentID)
			if err != nil {
				return
			}
			s.failDocument(ctx, doc, runErr)
		},
	}
}

// ReembedHandler returns the queue handler for re-embedding jobs the index
// reconciler schedules when it finds vectors of the wrong dimension. Each
// named document is fully reprocessed under the current model.
func (s *Service) ReembedHandler() Handler {
	return Handler{
		Run: func(ctx context.Context, job *types.Job) error {
			var payload types.ReembedPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("failed to decode re-embed payload: %w", err)
			}
			for _, documentID := range payload.DocumentIDs {
				if err := s.process(ctx, documentID, true); err != nil {
					return fmt.Errorf("failed to re-embed document %s: %w", documentID, err)
				}
			}
			return nil
		},
	}
}

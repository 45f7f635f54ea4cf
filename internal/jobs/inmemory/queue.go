// Package inmemory implements the job queue and store with channels and
// maps for single-instance deployments.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/dvloznov/voice-ledger/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultWorkers is the consumer concurrency when none is given.
const DefaultWorkers = 2

// Queue is a buffered channel queue with retrying workers. It is safe for
// concurrent use.
type Queue struct {
	jobChan   chan *jobs.ArchiveOutputJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool

	store   jobs.Store
	workers int
	backoff time.Duration
	log     zerolog.Logger
}

// NewQueue creates a queue holding up to bufferSize pending jobs. store may
// be nil.
func NewQueue(bufferSize, workers int, store jobs.Store, log zerolog.Logger) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		jobChan:   make(chan *jobs.ArchiveOutputJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   workers,
		backoff:   time.Second,
		log:       log,
	}
}

// Publish enqueues job, filling in id, status and defaults. It blocks while
// the buffer is full.
func (q *Queue) Publish(ctx context.Context, job *jobs.ArchiveOutputJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.StatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = jobs.DefaultMaxAttempts
	}

	q.save(ctx, job)

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	}
}

// Start launches the workers. It returns immediately.
func (q *Queue) Start(ctx context.Context, handler jobs.Handler) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return jobs.ErrQueueClosed
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			q.process(ctx, job, handler)
		}
	}
}

func (q *Queue) process(ctx context.Context, job *jobs.ArchiveOutputJob, handler jobs.Handler) {
	started := time.Now().UTC()
	job.Status = jobs.StatusRunning
	job.StartedAt = &started
	job.Attempts++
	q.save(ctx, job)

	err := handler(ctx, job)

	completed := time.Now().UTC()
	job.CompletedAt = &completed

	if err == nil {
		job.Status = jobs.StatusCompleted
		job.Error = ""
		q.save(ctx, job)
		return
	}

	job.Error = err.Error()
	if job.Attempts >= job.MaxAttempts {
		job.Status = jobs.StatusFailed
		q.save(ctx, job)
		q.log.Error().Err(err).Str("job_id", job.JobID).Int("attempts", job.Attempts).Msg("archive job failed")
		return
	}

	job.Status = jobs.StatusRetrying
	q.save(ctx, job)
	q.log.Warn().Err(err).Str("job_id", job.JobID).Int("attempts", job.Attempts).Msg("archive job will retry")

	retry := *job
	retry.Status = jobs.StatusPending
	retry.StartedAt = nil
	retry.CompletedAt = nil
	time.AfterFunc(time.Duration(job.Attempts)*q.backoff, func() {
		if err := q.Publish(ctx, &retry); err != nil {
			q.log.Debug().Err(err).Str("job_id", retry.JobID).Msg("retry dropped")
		}
	})
}

func (q *Queue) save(ctx context.Context, job *jobs.ArchiveOutputJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		q.log.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to save job state")
	}
}

// Stop closes the queue and waits for in-flight jobs or ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue without a deadline.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)

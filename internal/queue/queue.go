// Package queue runs background jobs with bounded retries and exponential backoff.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/rs/zerolog"
)

var (
	ErrQueueStarted    = errors.New("queue: already started")
	ErrQueueStopped    = errors.New("queue: stopped")
	ErrEnqueueCanceled = errors.New("queue: enqueue canceled")
	ErrQueueFull       = errors.New("queue: full")
)

// Job is one unit of background work. Kind labels the job in logs and metrics.
type Job struct {
	ID             string
	Kind           string
	MaxRetries     int
	AttemptTimeout time.Duration
	Run            func(context.Context) error
}

// Backoff computes delay = Initial * Multiplier^attempt, capped at Max, with ±Jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Delay returns the wait before retry number attempt (0-based)
func (b Backoff) Delay(attempt int) time.Duration {
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := time.Duration(float64(b.Initial) * math.Pow(mult, float64(attempt)))
	if b.Max > 0 && (d > b.Max || d < 0) {
		d = b.Max
	}
	if b.Jitter > 0 && d > 0 {
		offset := (rand.Float64()*2 - 1) * float64(d) * b.Jitter
		d = time.Duration(float64(d) + offset)
	}
	if d < time.Millisecond && b.Initial > 0 {
		d = time.Millisecond
	}
	return d
}

// Observer is notified of job outcomes
type Observer interface {
	JobFinished(kind string, outcome string, attempts int)
}

type Queue struct {
	mu       sync.Mutex
	jobs     chan queuedJob
	started  bool
	stopping bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	backoff  Backoff
	observer Observer
	logger   zerolog.Logger

	nextID    atomic.Uint64
	inFlight  atomic.Int64
	enqueued  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
	dropped   atomic.Uint64
}

type queuedJob struct {
	job     Job
	attempt int
}

type Stats struct {
	Started   bool   `json:"started"`
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
	InFlight  int64  `json:"inFlight"`
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
	Dropped   uint64 `json:"dropped"`
}

func New(buffer int, backoff Backoff, logger zerolog.Logger) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{
		jobs:    make(chan queuedJob, buffer),
		backoff: backoff,
		logger:  logger.With().Str("component", "queue").Logger(),
	}
}

// SetObserver installs a hook for job outcomes
func (q *Queue) SetObserver(o Observer) {
	q.observer = o
}

func (q *Queue) Enqueue(job Job) (string, error) {
	return q.EnqueueContext(context.Background(), job)
}

func (q *Queue) EnqueueContext(ctx context.Context, job Job) (string, error) {
	job, err := q.prepare(job)
	if err != nil {
		return "", err
	}

	select {
	case q.jobs <- queuedJob{job: job}:
		q.enqueued.Add(1)
		return job.ID, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrEnqueueCanceled, ctx.Err())
	}
}

// TryEnqueue adds job without waiting for buffer space. When the buffer is
// full the job is dropped and ErrQueueFull returned.
func (q *Queue) TryEnqueue(job Job) (string, error) {
	job, err := q.prepare(job)
	if err != nil {
		return "", err
	}

	select {
	case q.jobs <- queuedJob{job: job}:
		q.enqueued.Add(1)
		return job.ID, nil
	default:
		q.dropped.Add(1)
		q.logger.Warn().
			Str("job_id", job.ID).
			Str("kind", job.Kind).
			Int("capacity", cap(q.jobs)).
			Msg("queue full, job dropped")
		q.finish(job, "dropped", 0)
		return "", ErrQueueFull
	}
}

func (q *Queue) prepare(job Job) (Job, error) {
	if err := validateJob(job); err != nil {
		return job, err
	}
	if job.ID == "" {
		job.ID = fmt.Sprintf("q-%d", q.nextID.Add(1))
	}

	q.mu.Lock()
	stopping := q.stopping
	q.mu.Unlock()
	if stopping {
		return job, ErrQueueStopped
	}
	return job, nil
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()

	return Stats{
		Started:   started,
		Depth:     len(q.jobs),
		Capacity:  cap(q.jobs),
		InFlight:  q.inFlight.Load(),
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Retried:   q.retried.Load(),
		Dropped:   q.dropped.Load(),
	}
}

func (q *Queue) Start(parent context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return ErrQueueStarted
	}
	ctx, cancel := context.WithCancel(parent)
	q.cancel = cancel
	q.started = true
	q.stopping = false
	q.mu.Unlock()

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.logger.Info().Int("workers", workers).Int("buffer", cap(q.jobs)).Msg("queue started")
	return nil
}

// Stop waits up to timeout for queued and in-flight jobs to drain, then cancels the workers
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	cancel := q.cancel
	q.cancel = nil
	q.started = false
	q.stopping = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.stopping = false
		q.mu.Unlock()
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for len(q.jobs) > 0 || q.inFlight.Load() > 0 {
		select {
		case <-deadline.C:
			cancel()
			q.wg.Wait()
			return fmt.Errorf("queue: stop timeout after %s with %d jobs pending", timeout, len(q.jobs))
		case <-ticker.C:
		}
	}
	cancel()
	q.wg.Wait()
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q.jobs:
			q.inFlight.Add(1)
			q.runOnce(ctx, item)
			q.inFlight.Add(-1)
		}
	}
}

func (q *Queue) runOnce(parent context.Context, item queuedJob) {
	attempt := item.attempt + 1
	runCtx := parent
	cancel := func() {}
	if item.job.AttemptTimeout > 0 {
		runCtx, cancel = context.WithTimeout(parent, item.job.AttemptTimeout)
	}
	err := item.job.Run(runCtx)
	cancel()
	if err == nil {
		q.completed.Add(1)
		q.finish(item.job, "completed", attempt)
		return
	}

	if parent.Err() != nil {
		return
	}

	permanent := apperr.CodeOf(err) != apperr.CodeInternal && !apperr.IsRetryable(err)
	if permanent || attempt >= item.job.MaxRetries+1 {
		q.failed.Add(1)
		q.logger.Error().Err(err).
			Str("job_id", item.job.ID).
			Str("kind", item.job.Kind).
			Int("attempts", attempt).
			Msg("job failed")
		q.finish(item.job, "failed", attempt)
		return
	}

	q.retried.Add(1)
	delay := q.backoff.Delay(item.attempt)
	q.logger.Warn().Err(err).
		Str("job_id", item.job.ID).
		Str("kind", item.job.Kind).
		Int("attempt", attempt).
		Dur("retry_in", delay).
		Msg("job attempt failed, retrying")

	// Retries are scheduled off the worker so a backoff never stalls other jobs
	q.inFlight.Add(1)
	go func() {
		defer q.inFlight.Add(-1)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-parent.Done():
			return
		case <-timer.C:
		}
		select {
		case <-parent.Done():
		case q.jobs <- queuedJob{job: item.job, attempt: attempt}:
		}
	}()
}

func (q *Queue) finish(job Job, outcome string, attempts int) {
	if q.observer != nil {
		q.observer.JobFinished(job.Kind, outcome, attempts)
	}
}

func validateJob(job Job) error {
	if job.Run == nil {
		return errors.New("queue: job run callback is required")
	}
	if job.MaxRetries < 0 {
		return errors.New("queue: max retries cannot be negative")
	}
	if job.AttemptTimeout < 0 {
		return errors.New("queue: attempt timeout cannot be negative")
	}
	return nil
}

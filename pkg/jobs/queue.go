package jobs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned by Enqueue before Start or after Stop.
	ErrNotStarted = errors.New("queue not started")
	// ErrFull is returned when the target lane has no room left.
	ErrFull = errors.New("queue full")
)

// Job represents a queued background task. Jobs sharing a Key are handled by
// the same worker, one after the other, in enqueue order.
type Job struct {
	ID       string
	Type     string
	Key      string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Stats are running totals since the queue was built.
type Stats struct {
	Enqueued  uint64
	Processed uint64
	Retried   uint64
	Failed    uint64
	Dropped   uint64
}

// Queue is an in-memory dispatcher. Each worker drains its own lane so keyed
// jobs keep their order; unkeyed jobs are spread round-robin.
type Queue struct {
	name       string
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	lanes []chan Job
	next  atomic.Uint64

	enqueued  atomic.Uint64
	processed atomic.Uint64
	retried   atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewQueue builds a new queue.
func NewQueue(name string, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	lanes := make([]chan Job, cfg.Workers)
	for i := range lanes {
		lanes[i] = make(chan Job, cfg.BufferSize)
	}
	return &Queue{
		name:       name,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger.With(zap.String("queue", name)),
		handlers:   make(map[string]Handler),
		lanes:      lanes,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Handle registers the handler for a job type, replacing any previous one.
func (q *Queue) Handle(jobType string, handler Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[jobType] = handler
}

// Start launches one worker per lane. Calling it again is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for _, lane := range q.lanes {
		q.wg.Add(1)
		go q.work(lane)
	}
	q.started = true
	q.logger.Info("queue started", zap.Int("workers", len(q.lanes)))
}

// Stop cancels the workers and waits for them. Jobs still buffered are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.cancel()
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("queue stopped", zap.Uint64("processed", q.processed.Load()), zap.Uint64("dropped", q.dropped.Load()))
}

// Enqueue hands a job to its lane without blocking. A full lane fails the
// call so request paths never wait on background work.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	ctx, started := q.ctx, q.started
	q.mu.Unlock()
	if !started {
		return fmt.Errorf("%s: %w", q.name, ErrNotStarted)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", q.name, ErrNotStarted)
	case q.lanes[q.laneFor(job.Key)] <- job:
		q.enqueued.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		return fmt.Errorf("%s: %w", q.name, ErrFull)
	}
}

// Stats returns the running totals.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Retried:   q.retried.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
	}
}

func (q *Queue) laneFor(key string) int {
	n := len(q.lanes)
	if n == 1 {
		return 0
	}
	if key == "" {
		return int(q.next.Add(1) % uint64(n))
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (q *Queue) work(lane chan Job) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-lane:
			q.run(job)
		}
	}
}

// run handles a job inline, retrying with a doubling delay. Retrying in the
// worker keeps later jobs of the same key behind the failing one.
func (q *Queue) run(job Job) {
	handler := q.handlerFor(job.Type)
	if handler == nil {
		q.logger.Warn("no handler for job type", zap.String("type", job.Type), zap.String("job_id", job.ID))
		q.failed.Add(1)
		return
	}

	delay := q.retryDelay
	for {
		err := handler(q.ctx, job)
		if err == nil {
			q.processed.Add(1)
			return
		}
		job.Attempt++
		if job.Attempt > q.maxRetries {
			q.failed.Add(1)
			q.logger.Error("job exceeded retries", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
			return
		}
		q.retried.Add(1)
		q.logger.Warn("job failed, retrying",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempt", job.Attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-q.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay *= 2
	}
}

func (q *Queue) handlerFor(jobType string) Handler {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	return q.handlers[jobType]
}

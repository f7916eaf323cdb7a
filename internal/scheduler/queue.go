package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when a task cannot be accepted
var ErrQueueFull = errors.New("task queue full")

// ErrQueueStopped is returned when a task is submitted after Stop
var ErrQueueStopped = errors.New("task queue stopped")

// Task is one unit of background work. Run must be safe to call again after a failure.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type job struct {
	task    Task
	attempt int
}

// QueueOptions tunes the background queue
type QueueOptions struct {
	Workers        int
	Capacity       int
	MaxAttempts    int
	TaskTimeout    time.Duration
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
}

// Queue runs background tasks on a fixed pool of workers and retries failures with
// exponential backoff
type Queue struct {
	jobs           chan job
	workers        int
	maxAttempts    int
	taskTimeout    time.Duration
	retryBaseDelay time.Duration
	maxRetryDelay  time.Duration
	logger         *zap.Logger

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	pending sync.WaitGroup
}

// NewQueue creates a new queue; call Start to run its workers
func NewQueue(logger *zap.Logger, opts QueueOptions) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 5 * time.Minute
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.MaxRetryDelay <= 0 {
		opts.MaxRetryDelay = 5 * time.Minute
	}

	return &Queue{
		jobs:           make(chan job, opts.Capacity),
		workers:        opts.Workers,
		maxAttempts:    opts.MaxAttempts,
		taskTimeout:    opts.TaskTimeout,
		retryBaseDelay: opts.RetryBaseDelay,
		maxRetryDelay:  opts.MaxRetryDelay,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

// Start launches the workers
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	q.logger.Info("Started task queue", zap.Int("workers", q.workers))
}

// Submit enqueues a task without blocking
func (q *Queue) Submit(task Task) error {
	return q.enqueue(job{task: task, attempt: 1})
}

func (q *Queue) enqueue(j job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}
	select {
	case q.jobs <- j:
		q.pending.Add(1)
		tasksQueued.Inc()
		return nil
	default:
		tasksFinished.WithLabelValues("dropped").Inc()
		q.logger.Warn("Task queue full, dropping task", zap.String("task", j.task.Name))
		return ErrQueueFull
	}
}

// Wait blocks until every accepted task, including scheduled retries, has finished
func (q *Queue) Wait() {
	q.pending.Wait()
}

// Stop stops accepting tasks and waits for running tasks to return.
// Queued tasks and pending retries are abandoned.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("Stopped task queue")
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case j := <-q.jobs:
			q.run(j)
		}
	}
}

func (q *Queue) run(j job) {
	defer q.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), q.taskTimeout)
	err := j.task.Run(ctx)
	cancel()

	if err == nil {
		tasksFinished.WithLabelValues("ok").Inc()
		return
	}

	if j.attempt >= q.maxAttempts {
		tasksFinished.WithLabelValues("failed").Inc()
		q.logger.Error("Task failed permanently",
			zap.String("task", j.task.Name),
			zap.Int("attempts", j.attempt),
			zap.Error(err))
		return
	}

	delay := q.retryDelay(j.attempt)
	tasksRetried.Inc()
	q.logger.Warn("Task failed, retrying",
		zap.String("task", j.task.Name),
		zap.Int("attempt", j.attempt),
		zap.Duration("delay", delay),
		zap.Error(err))

	next := job{task: j.task, attempt: j.attempt + 1}
	q.pending.Add(1)
	time.AfterFunc(delay, func() {
		defer q.pending.Done()
		if err := q.enqueue(next); err != nil {
			tasksFinished.WithLabelValues("failed").Inc()
		}
	})
}

// retryDelay doubles the base delay per attempt up to the maximum
func (q *Queue) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := q.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.maxRetryDelay {
			return q.maxRetryDelay
		}
	}
	if delay > q.maxRetryDelay {
		return q.maxRetryDelay
	}
	return delay
}

package tasks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Task is a unit of background work. Run is retried with linear backoff
// until it succeeds or MaxAttempts is spent.
type Task struct {
	Name        string
	MaxAttempts int
	Run         func(ctx context.Context) error
}

type job struct {
	task    Task
	attempt int
}

// Queue is a bounded in-process worker pool for work that must not block a
// request, like re-registering a charge after a provider hiccup. Work is lost
// on shutdown; everything enqueued here must also be recoverable by a
// scheduler sweep.
type Queue struct {
	log     *zap.Logger
	ch      chan job
	backoff time.Duration
	workers int

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.backoff = d
		}
	}
}

func New(log *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		log:     log.Named("tasks"),
		ch:      make(chan job, 256),
		backoff: 5 * time.Second,
		workers: 2,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var Module = fx.Module("tasks",
	fx.Provide(func(log *zap.Logger) *Queue { return New(log) }),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, q *Queue) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			q.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			q.Stop()
			return nil
		},
	})
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Stop cancels the workers and waits for in-flight tasks to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	q.wg.Wait()
}

// Enqueue hands a task to the pool. Returns false when the queue is full so
// callers can fall back to their own recovery path.
func (q *Queue) Enqueue(task Task) bool {
	if task.Run == nil {
		return false
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = 3
	}
	select {
	case q.ch <- job{task: task, attempt: 1}:
		return true
	default:
		q.log.Warn("task queue full, dropping task", zap.String("task", task.Name))
		return false
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q.ch:
			q.run(ctx, item)
		}
	}
}

func (q *Queue) run(ctx context.Context, item job) {
	err := item.task.Run(ctx)
	if err == nil {
		return
	}

	log := q.log.With(
		zap.String("task", item.task.Name),
		zap.Int("attempt", item.attempt),
		zap.Error(err),
	)
	if item.attempt >= item.task.MaxAttempts {
		log.Warn("task exhausted retries")
		return
	}
	log.Info("task failed, retrying")

	// linear backoff, interruptible by shutdown
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(item.attempt) * q.backoff):
	}

	item.attempt++
	select {
	case q.ch <- item:
	default:
		log.Warn("task queue full, dropping retry")
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirinyoku/tixflow/internal/monitoring"
)

var (
	ErrQueueFull = errors.New("task queue is full")
	ErrDuplicate = errors.New("task with the same key is already queued")
	ErrClosed    = errors.New("worker pool is closed")
)

// Task is a unit of background work. Run is retried with backoff until it
// succeeds, returns a Permanent error, or MaxAttempts is reached.
type Task struct {
	Name string
	// Key deduplicates tasks while one with the same key is queued or running.
	Key         string
	MaxAttempts int
	Run         func(ctx context.Context) error
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

type Pool struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Task

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

func NewPool(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}

	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}

	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}

	return &Pool{
		cfg:     cfg,
		logger:  logger,
		queue:   make(chan Task, cfg.QueueSize),
		pending: map[string]struct{}{},
	}
}

// Submit enqueues t without blocking.
//
// Returns:
//   - error: worker.ErrDuplicate if a task with t.Key is queued or running.
//   - error: worker.ErrQueueFull if the queue has no room.
//   - error: worker.ErrClosed after shutdown started.
func (p *Pool) Submit(t Task) error {
	const op = "worker.Pool.Submit"

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("%s:%w", op, ErrClosed)
	}

	if t.Key != "" {
		if _, ok := p.pending[t.Key]; ok {
			monitoring.TrackTask(t.Name, "duplicate")
			return fmt.Errorf("%s:%w", op, ErrDuplicate)
		}
	}

	select {
	case p.queue <- t:
	default:
		monitoring.TrackTask(t.Name, "dropped")
		p.logger.Error("task queue full", "task", t.Name, "key", t.Key)
		return fmt.Errorf("%s:%w", op, ErrQueueFull)
	}

	if t.Key != "" {
		p.pending[t.Key] = struct{}{}
	}

	return nil
}

// Run starts the workers and blocks until ctx is done and every queued task
// has been processed. Tasks run with a context detached from ctx's
// cancellation so that shutdown does not abort them halfway; once ctx is done
// a failing task is not retried again.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	drainCtx := context.WithoutCancel(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range p.queue {
				p.execute(ctx, drainCtx, t)
			}
		}()
	}

	<-ctx.Done()

	p.mu.Lock()
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	wg.Wait()

	return nil
}

func (p *Pool) execute(ctx, drainCtx context.Context, t Task) {
	defer p.release(t.Key)

	attempts := t.MaxAttempts
	if attempts <= 0 {
		attempts = p.cfg.MaxAttempts
	}

	backoff := p.cfg.BaseBackoff

	for attempt := 1; ; attempt++ {
		err := t.Run(drainCtx)
		if err == nil {
			monitoring.TrackTask(t.Name, "ok")
			return
		}

		var perm permanentError
		if errors.As(err, &perm) || attempt >= attempts || ctx.Err() != nil {
			monitoring.TrackTask(t.Name, "failed")
			p.logger.Error("task failed",
				"task", t.Name,
				"key", t.Key,
				"attempt", attempt,
				"error", err,
			)
			return
		}

		monitoring.TrackTask(t.Name, "retry")
		p.logger.Warn("task failed, retrying",
			"task", t.Name,
			"key", t.Key,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}

		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}
}

func (p *Pool) release(key string) {
	if key == "" {
		return
	}

	p.mu.Lock()
	delete(p.pending, key)
	p.mu.Unlock()
}

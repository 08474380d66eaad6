// Package engine implements the Task Engine (§4.3): one dispatcher
// polling the Store for the next runnable task and a bounded worker pool
// (reusing pkg/scheduler, the teacher's worker-pool/future primitive)
// executing registered operation handlers against the host.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/models"
	"github.com/Makr91/zoneweaver-api/internal/store"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
	"github.com/Makr91/zoneweaver-api/pkg/scheduler"
)

// Handler executes the operation carried by task. Returning a
// *errors.HandlerError with Retryable=true causes the engine to
// re-schedule the task with backoff (§4.3.5); any other non-nil error,
// or a HandlerError with Retryable=false, is terminal. Handlers must
// observe ctx.Done() at I/O checkpoints so cooperative cancellation
// (§4.3.4) works.
type Handler func(ctx context.Context, task *models.Task) error

// Config tunes dispatcher cadence and retry policy.
type Config struct {
	Workers        int
	PollInterval   time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	return c
}

// Engine is the Task Engine's dispatcher plus worker pool.
type Engine struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	logger    *zap.SugaredLogger
	cfg       Config

	mu       sync.RWMutex
	handlers map[models.Operation]Handler

	cancel context.CancelFunc
	done   chan struct{}
}

func New(st *store.Store, cfg Config, logger *zap.SugaredLogger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		store:     st,
		scheduler: scheduler.NewScheduler(cfg.Workers),
		logger:    logger,
		cfg:       cfg,
		handlers:  map[models.Operation]Handler{},
		done:      make(chan struct{}),
	}
}

// Register binds op to h. Registration is expected at startup, before
// Start is called.
func (e *Engine) Register(op models.Operation, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[op] = h
}

func (e *Engine) handlerFor(op models.Operation) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[op]
	return h, ok
}

// Start runs the dispatcher loop until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	dispatchCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-dispatchCtx.Done():
				return
			case <-ticker.C:
				e.dispatchOnce(dispatchCtx)
			}
		}
	}()
}

func (e *Engine) dispatchOnce(ctx context.Context) {
	for {
		task, err := e.store.Tasks.ClaimNext(ctx)
		if errors.Is(err, store.ErrNoRunnableTask) {
			return
		}
		if err != nil {
			e.logger.Errorw("claim next task failed", "error", err)
			return
		}

		t := task
		e.scheduler.AddWork(func(workCtx context.Context) (any, error) {
			e.execute(workCtx, t)
			return nil, nil
		})
	}
}

func (e *Engine) execute(ctx context.Context, task *models.Task) {
	handler, ok := e.handlerFor(task.Operation)
	if !ok {
		e.fail(ctx, task, "no handler registered for operation "+string(task.Operation))
		return
	}

	err := handler(ctx, task)
	if err == nil {
		if completeErr := e.store.Tasks.Complete(ctx, task.ID); completeErr != nil {
			e.logger.Errorw("mark task completed failed", "task_id", task.ID, "error", completeErr)
		}
		return
	}

	if srvErrors.IsRetryable(err) && task.Attempts+1 < e.cfg.MaxAttempts {
		delay := backoffDelay(e.cfg.RetryBaseDelay, task.Attempts)
		if retryErr := e.store.Tasks.Retry(ctx, task.ID, err.Error(), delay); retryErr != nil {
			e.logger.Errorw("retry task failed", "task_id", task.ID, "error", retryErr)
		}
		return
	}

	e.fail(ctx, task, err.Error())
}

func (e *Engine) fail(ctx context.Context, task *models.Task, message string) {
	if err := e.store.Tasks.Fail(ctx, task.ID, message); err != nil {
		e.logger.Errorw("mark task failed failed", "task_id", task.ID, "error", err)
	}
}

// backoffDelay grows geometrically with the attempt count, the
// "increasing backoff" called for in §4.3.5.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	const cap = 5 * time.Minute
	if d > cap {
		return cap
	}
	return d
}

// Stop cancels the dispatcher loop and drains the worker pool, the
// ordering called for in SPEC_FULL.md's graceful shutdown section.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	e.scheduler.Close()
}

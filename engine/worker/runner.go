// Package worker runs the durable task queue: it claims work, dispatches
// to per-type handlers, and enforces the retry policy in one place.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"xsell/database/model"
	"xsell/engine/service"
	"xsell/logger"
	"xsell/panel"
	"xsell/util/common"
)

// Handler processes one task. Handlers must be idempotent: the queue is
// at-least-once and the same task can arrive twice.
type Handler func(task *model.Task) error

// ExhaustedFunc runs once when a task spends its attempt budget, so the
// affected record can be marked failed.
type ExhaustedFunc func(task *model.Task)

const (
	pollInterval  = time.Second
	staleLeaseAge = 5 * time.Minute
	backoffBase   = 2 * time.Second
)

// Runner owns the worker pool. Retry bounds are fixed at construction;
// handlers decide nothing about retries, they just return errors.
type Runner struct {
	taskService service.TaskService

	handlers    map[string]Handler
	onExhausted map[string]ExhaustedFunc

	workers     int
	maxAttempts int

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunner(workers, maxAttempts int) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		handlers:    make(map[string]Handler),
		onExhausted: make(map[string]ExhaustedFunc),
		workers:     workers,
		maxAttempts: maxAttempts,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register installs the handler for one task type. Must happen before
// Start.
func (r *Runner) Register(taskType string, h Handler) {
	r.handlers[taskType] = h
}

// RegisterExhausted installs the exhaustion hook for one task type.
func (r *Runner) RegisterExhausted(taskType string, f ExhaustedFunc) {
	r.onExhausted[taskType] = f
}

// Start launches the worker pool and the stale-lease janitor.
func (r *Runner) Start() {
	if !r.running.CompareAndSwap(false, true) {
		return
	}

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.workLoop(i)
	}

	r.wg.Add(1)
	go r.janitorLoop()

	logger.Infof("task runner started with %d workers", r.workers)
}

// Stop drains the pool. In-flight tasks finish; unclaimed ones stay
// queued for the next start.
func (r *Runner) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	r.cancel()
	r.wg.Wait()
	logger.Info("task runner stopped")
}

func (r *Runner) workLoop(id int) {
	defer r.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			// Drain everything due before sleeping again
			for {
				task, err := r.taskService.Claim()
				if err != nil {
					logger.Warningf("worker %d: claim failed: %v", id, err)
					break
				}
				if task == nil {
					break
				}
				r.dispatch(task)

				select {
				case <-r.ctx.Done():
					return
				default:
				}
			}
		}
	}
}

func (r *Runner) janitorLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			n, err := r.taskService.RequeueStale(staleLeaseAge)
			if err != nil {
				logger.Warningf("stale task requeue failed: %v", err)
			} else if n > 0 {
				logger.Noticef("requeued %d stale tasks", n)
			}
		}
	}
}

// dispatch runs one claimed task and settles it. Failures classified as
// fatal (auth, validation, or a handler wrapping its error with
// common.Fatal) stop retrying immediately; everything else retries until
// the budget is spent.
func (r *Runner) dispatch(task *model.Task) {
	defer common.Recover("task dispatch")

	h, ok := r.handlers[task.Type]
	if !ok {
		logger.Errorf("no handler for task type %q (task %d)", task.Type, task.Id)
		_ = r.taskService.Fail(task, "no handler registered", r.maxAttempts, backoffBase, true)
		r.exhaust(task)
		return
	}

	err := h(task)
	if err == nil {
		if cerr := r.taskService.Complete(task); cerr != nil {
			logger.Warningf("failed to complete task %d: %v", task.Id, cerr)
		}
		return
	}

	fatal := common.IsFatal(err) || !panel.IsRetryable(err)
	logger.Warningf("task %d (%s) attempt %d failed: %v", task.Id, task.Type, task.Attempts, err)

	if ferr := r.taskService.Fail(task, err.Error(), r.maxAttempts, backoffBase, fatal); ferr != nil {
		logger.Errorf("failed to settle task %d: %v", task.Id, ferr)
		return
	}
	if task.Status == model.TaskFailed {
		r.exhaust(task)
	}
}

func (r *Runner) exhaust(task *model.Task) {
	if f, ok := r.onExhausted[task.Type]; ok {
		f(task)
	}
}

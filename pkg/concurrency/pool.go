// Package concurrency wraps alitto/pond with standardized config and
// monitoring, adapted from the teacher's pkg/concurrency.WorkerPool.
package concurrency

import (
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond"

	"market_maker/internal/core"
)

// PoolConfig holds configuration for a worker pool.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool // If true, Submit() returns error instead of blocking when full
}

// WorkerPool wraps alitto/pond with monitoring and standardized config.
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.Logger
	mu     sync.RWMutex
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(cfg PoolConfig, logger core.Logger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	opts := []pond.Option{
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
	}
	if logger != nil {
		opts = append(opts, pond.PanicHandler(func(p interface{}) {
			logger.Error("worker pool panic recovered", "pool", cfg.Name, "panic", p)
		}))
	}

	pool := pond.New(cfg.MaxWorkers, cfg.MaxCapacity, opts...)

	wp := &WorkerPool{pool: pool, config: cfg}
	if logger != nil {
		wp.logger = logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)
	}
	return wp
}

// Submit adds a task to the pool.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("worker pool '%s' is full (capacity: %d)", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}
	wp.pool.Submit(task)
	return nil
}

// SubmitWait runs every task concurrently (bounded by the pool) and blocks
// until all of them finish.
func (wp *WorkerPool) SubmitWait(tasks ...func()) {
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, task := range tasks {
		t := task
		wp.pool.Submit(func() {
			defer wg.Done()
			t()
		})
	}
	wg.Wait()
}

// Stop stops the pool gracefully, waiting for in-flight tasks to finish.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats returns pool statistics for health/metrics reporting.
func (wp *WorkerPool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running_workers":  wp.pool.RunningWorkers(),
		"idle_workers":     wp.pool.IdleWorkers(),
		"submitted_tasks":  wp.pool.SubmittedTasks(),
		"waiting_tasks":    wp.pool.WaitingTasks(),
		"successful_tasks": wp.pool.SuccessfulTasks(),
		"failed_tasks":     wp.pool.FailedTasks(),
	}
}

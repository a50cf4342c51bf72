// Package workers provides the bounded worker pool that runs independent
// backtest window optimizations in parallel. Each job is pure with respect
// to its inputs, so the pool needs no coordination beyond the queue itself.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work.
type Task interface {
	Execute() error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Name          string
	NumWorkers    int
	QueueSize     int
	TaskTimeout   time.Duration
	PanicRecovery bool
}

// DefaultPoolConfig returns sensible defaults. Optimization jobs are CPU
// bound, so the worker count tracks the CPU count.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:          name,
		NumWorkers:    runtime.NumCPU(),
		QueueSize:     1024,
		TaskTimeout:   5 * time.Minute,
		PanicRecovery: true,
	}
}

// Pool manages a fixed set of worker goroutines draining a task queue.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	recovered int64
}

// NewPool creates a pool; call Start before submitting.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers. Safe to call once; later calls are no-ops.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
	)
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Submit enqueues a task, blocking when the queue is full. Returns an error
// once the pool has been stopped.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return fmt.Errorf("pool %q is not running", p.config.Name)
	}
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.taskQueue <- task:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	}
}

// Stop drains nothing: it cancels workers after in-flight tasks finish their
// current Execute call.
func (p *Pool) Stop() {
	if !p.running.Swap(false) {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped",
		zap.String("name", p.config.Name),
		zap.Int64("completed", atomic.LoadInt64(&p.completed)),
		zap.Int64("failed", atomic.LoadInt64(&p.failed)),
	)
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Recovered int64 `json:"recovered"`
}

// GetStats returns the current counters.
func (p *Pool) GetStats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
		Recovered: atomic.LoadInt64(&p.recovered),
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.execute(logger, task)
		}
	}
}

func (p *Pool) execute(logger *zap.Logger, task Task) {
	if p.config.PanicRecovery {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.recovered, 1)
				atomic.AddInt64(&p.failed, 1)
				logger.Error("worker recovered from panic", zap.Any("panic", r))
			}
		}()
	}

	if err := task.Execute(); err != nil {
		atomic.AddInt64(&p.failed, 1)
		logger.Debug("task failed", zap.Error(err))
		return
	}
	atomic.AddInt64(&p.completed, 1)
}

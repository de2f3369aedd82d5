// Package workerpool provides a bounded worker pool for the harvest phase.
// The RxNav REST API answers one request at a time with significant latency,
// so seeds are fanned out across a fixed number of workers; the pool size is
// the rate-limit knob.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of harvest work, typically one seed identifier.
type Task struct {
	ID  string
	Run func(ctx context.Context) error
}

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the task queue
	QueueSize int
	// DrainTimeout bounds how long Drain waits for in-flight tasks
	DrainTimeout time.Duration
}

// DefaultConfig returns defaults sized for the public RxNav rate limits.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    1024,
		DrainTimeout: 5 * time.Minute,
	}
}

// ErrorFunc is invoked for every task that returns a non-nil error.
// It runs on the worker goroutine and must be safe for concurrent use.
type ErrorFunc func(taskID string, err error)

// Pool manages a pool of workers for concurrent task processing
type Pool struct {
	config  Config
	logger  *zap.Logger
	onError ErrorFunc

	taskChan chan *Task
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	queueDepth     int64
}

// New creates a new worker pool. onError may be nil.
func New(cfg Config, onError ErrorFunc, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	if onError == nil {
		onError = func(string, error) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:   cfg,
		logger:   logger,
		onError:  onError,
		taskChan: make(chan *Task, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit adds a task to the queue, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, task *Task) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	case p.taskChan <- task:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		atomic.AddInt64(&p.queueDepth, 1)
		return nil
	}
}

// Drain closes the queue and waits for all accepted tasks to finish.
// The pool cannot be reused afterwards.
func (p *Pool) Drain() error {
	close(p.taskChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool drained",
			zap.Int64("completed", atomic.LoadInt64(&p.tasksCompleted)),
			zap.Int64("failed", atomic.LoadInt64(&p.tasksFailed)))
		return nil
	case <-time.After(p.config.DrainTimeout):
		p.cancel()
		return fmt.Errorf("worker pool drain timed out after %s", p.config.DrainTimeout)
	}
}

// Stop aborts outstanding work without waiting for the queue.
func (p *Pool) Stop() {
	p.cancel()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))

	for task := range p.taskChan {
		atomic.AddInt64(&p.queueDepth, -1)

		select {
		case <-p.ctx.Done():
			atomic.AddInt64(&p.tasksFailed, 1)
			p.onError(task.ID, p.ctx.Err())
			continue
		default:
		}

		if err := task.Run(p.ctx); err != nil {
			atomic.AddInt64(&p.tasksFailed, 1)
			p.onError(task.ID, err)
			continue
		}
		atomic.AddInt64(&p.tasksCompleted, 1)
	}

	p.logger.Debug("worker stopped", zap.Int("worker_id", id))
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	QueueDepth     int64
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		QueueDepth:     atomic.LoadInt64(&p.queueDepth),
		Workers:        p.config.Workers,
	}
}

package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when the job queue is full
	ErrQueueFull = errors.New("worker queue full")

	// ErrPoolStopped is returned by Submit after Shutdown
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Job is a unit of work run by one worker
type Job struct {
	ID  string
	Run func(ctx context.Context) error
}

// PoolMetrics receives pool gauges
type PoolMetrics interface {
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetQueueDepth(depth int)
}

// Pool manages a pool of worker goroutines draining a bounded job queue
type Pool struct {
	size    int
	metrics PoolMetrics
	logger  *zap.Logger
	health  *HealthMonitor

	mu      sync.RWMutex
	queue   chan Job
	stopped bool

	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool. metrics may be nil.
func NewPool(
	size int,
	queueSize int,
	metrics PoolMetrics,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:    size,
		metrics: metrics,
		logger:  logger,
		queue:   make(chan Job, queueSize),
		workers: make([]*worker, size),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < size; i++ {
		pool.workers[i] = &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    pool,
			status:  WorkerStatusStopped,
			lastJob: time.Now(),
		}
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Health returns the pool health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool",
		zap.Int("size", p.size),
		zap.Int("queue_size", cap(p.queue)))

	for _, w := range p.workers {
		w.setStatus(WorkerStatusIdle)
		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Submit queues a job without blocking
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- job:
		p.recordQueueDepth()
		p.logger.Debug("job queued",
			zap.String("job_id", job.ID),
			zap.Int("queue_depth", len(p.queue)))
		return nil
	default:
		p.logger.Warn("worker queue full, rejecting job",
			zap.String("job_id", job.ID),
			zap.Int("queue_size", cap(p.queue)))
		return ErrQueueFull
	}
}

// QueueDepth returns the number of queued jobs
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// QueueCapacity returns the size of the job queue
func (p *Pool) QueueCapacity() int {
	return cap(p.queue)
}

// Shutdown stops accepting jobs and waits for queued and running jobs.
// When ctx expires first, running jobs are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()

	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

func (p *Pool) recordQueueDepth() {
	if p.metrics != nil {
		p.metrics.SetQueueDepth(len(p.queue))
	}
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	if status == WorkerStatusBusy {
		w.lastJob = time.Now()
	}
	w.mu.Unlock()
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()
	defer w.setStatus(WorkerStatusStopped)

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for job := range w.pool.queue {
		w.pool.recordQueueDepth()
		w.handle(ctx, job)
	}

	w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
}

// handle runs one job, recovering from panics
func (w *worker) handle(ctx context.Context, job Job) {
	w.setStatus(WorkerStatusBusy)
	defer w.setStatus(WorkerStatusIdle)

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("job panicked",
				zap.String("worker_id", w.id),
				zap.String("job_id", job.ID),
				zap.Any("panic", r))
		}
	}()

	w.pool.logger.Info("executing job",
		zap.String("worker_id", w.id),
		zap.String("job_id", job.ID))

	if err := job.Run(ctx); err != nil {
		w.pool.logger.Warn("job failed",
			zap.String("worker_id", w.id),
			zap.String("job_id", job.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}

	w.pool.logger.Info("job completed",
		zap.String("worker_id", w.id),
		zap.String("job_id", job.ID),
		zap.Duration("duration", time.Since(start)))
}

package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/logger"
)

var (
	// ErrQueueFull is returned by Submit when the pool cannot take more work
	ErrQueueFull = errors.New("job queue is full")
	// ErrPoolStopped is returned by Submit before Start or after Stop
	ErrPoolStopped = errors.New("worker pool is not running")
)

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers          int           // concurrent jobs
	QueueSize        int           // jobs buffered before Submit returns ErrQueueFull
	MaxJobsPerMinute int           // job start rate, 0 = unlimited
	StopTimeout      time.Duration // how long Stop waits for running jobs
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:     4,
		QueueSize:   64,
		StopTimeout: 30 * time.Second,
	}
}

// WorkerPool runs submitted jobs on a fixed number of goroutines. Submit
// never blocks, so the scheduler loop stays free of device I/O.
type WorkerPool struct {
	registry *HandlerRegistry
	limiter  *rate.Limiter
	config   WorkerPoolConfig
	jobs     chan *Job

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu            sync.Mutex
	running       bool
	activeWorkers int
	jobsProcessed int64
	jobsFailed    int64

	logger *zap.SugaredLogger
}

// NewWorkerPool creates a stopped pool routing jobs through registry
func NewWorkerPool(cfg WorkerPoolConfig, registry *HandlerRegistry, log *zap.SugaredLogger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	if registry == nil {
		registry = NewHandlerRegistry()
	}

	wp := &WorkerPool{
		registry: registry,
		config:   cfg,
		jobs:     make(chan *Job, cfg.QueueSize),
		logger:   logger.Component(log, "pulse.worker"),
	}
	if cfg.MaxJobsPerMinute > 0 {
		wp.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MaxJobsPerMinute)), 1)
	}
	return wp
}

// Registry returns the handler registry. Register handlers before Start.
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.config.Workers
}

// Start launches the workers. Jobs run with contexts derived from ctx.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	if wp.running {
		wp.mu.Unlock()
		return
	}
	wp.parentCtx = ctx
	wp.ctx, wp.cancel = context.WithCancel(ctx)
	wp.running = true
	wp.mu.Unlock()

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.config.Workers)
	}

	for i := 0; i < wp.config.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Infow("Worker pool started",
		"workers", wp.config.Workers,
		"queue_size", wp.config.QueueSize,
		"max_jobs_per_minute", wp.config.MaxJobsPerMinute,
		"handlers", wp.registry.Names())
}

// Submit queues job without blocking
func (wp *WorkerPool) Submit(job *Job) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if !wp.running {
		return ErrPoolStopped
	}
	if !wp.registry.Has(job.HandlerName) {
		return errors.NewConfigurationError("no handler registered for handler name: %s", job.HandlerName)
	}
	select {
	case wp.jobs <- job:
		return nil
	default:
		return errors.Wrapf(ErrQueueFull, "cannot queue job %s (%d pending)", job.ID, len(wp.jobs))
	}
}

// Stop cancels running jobs and waits up to StopTimeout for workers to
// exit. Jobs still queued are dropped.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	wp.cancel()
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped", "dropped", wp.drain())
	case <-time.After(wp.config.StopTimeout):
		wp.logger.Warnw("Worker pool stop timed out, jobs may still be finishing",
			"timeout", wp.config.StopTimeout)
	}
}

func (wp *WorkerPool) drain() int {
	n := 0
	for {
		select {
		case <-wp.jobs:
			n++
		default:
			return n
		}
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	ctx := wp.ctx
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-wp.jobs:
			wp.process(ctx, id, job)
		}
	}
}

func (wp *WorkerPool) process(ctx context.Context, workerID int, job *Job) {
	if ctx.Err() != nil {
		return
	}
	if wp.limiter != nil {
		if err := wp.limiter.Wait(ctx); err != nil {
			wp.logger.Debugw("Job dropped while rate limited", "job_id", job.ID, logger.FieldError, err)
			return
		}
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	start := time.Now()
	err := wp.execute(ctx, job)

	wp.mu.Lock()
	wp.jobsProcessed++
	if err != nil {
		wp.jobsFailed++
	}
	wp.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		wp.logger.Errorw("Job failed",
			"worker_id", workerID,
			"job_id", job.ID,
			"handler", job.HandlerName,
			"source", job.Source,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
			logger.FieldError, err)
		return
	}
	wp.logger.Debugw("Job finished",
		"worker_id", workerID,
		"job_id", job.ID,
		"handler", job.HandlerName,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
}

// execute runs the handler, converting a panic into an error so one bad
// job cannot take a worker down
func (wp *WorkerPool) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler %s panicked: %v", job.HandlerName, r)
		}
	}()
	return wp.registry.Execute(logger.WithComponent(ctx, job.HandlerName), job)
}

// Stats returns processed and failed job counts since creation
func (wp *WorkerPool) Stats() (processed, failed int64) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.jobsProcessed, wp.jobsFailed
}

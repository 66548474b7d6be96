// Package worker runs queue jobs. A Pool polls the queue from a fixed
// number of goroutines, hands each claimed job to the handler registered
// for its type and acknowledges the outcome. A sweeper goroutine releases
// jobs whose worker died.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	clerrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var (
	// ErrPoolRunning is returned when Start is called twice
	ErrPoolRunning = errors.New("worker pool already running")

	// ErrNoHandlers is returned when a pool is started without handlers
	ErrNoHandlers = errors.New("worker pool has no job handlers")
)

const (
	DefaultWorkerCount   = 4
	DefaultPollInterval  = time.Second
	DefaultSweepInterval = 5 * time.Minute

	sweepLockKey = "queue:sweep"
)

// Handler runs one job. The returned value is stored as the job result.
type Handler func(ctx context.Context, job *models.QueueJob) (any, error)

// JobQueue is the part of the queue a pool drives
type JobQueue interface {
	Dequeue(ctx context.Context, workerID string, jobTypes ...models.JobType) (*models.QueueJob, error)
	MarkCompleted(ctx context.Context, job *models.QueueJob, result any) (*models.QueueJob, error)
	MarkFailed(ctx context.Context, job *models.QueueJob, cause error) (*models.QueueJob, error)
	ResetStuckJobs(ctx context.Context, timeout time.Duration) (int, error)
}

// Locker runs fn only when no other instance holds key
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
}

type Config struct {
	// Prefix of the worker ids, defaults to the hostname
	Name string

	WorkerCount int

	// How long an idle worker waits before polling again
	PollInterval time.Duration

	// How often stuck jobs are swept, zero disables the sweeper
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.New().String()[:8]
	}

	return Config{
		Name:          hostname,
		WorkerCount:   DefaultWorkerCount,
		PollInterval:  DefaultPollInterval,
		SweepInterval: DefaultSweepInterval,
	}
}

// Pool processes queue jobs with a fixed number of goroutines
type Pool struct {
	queue    JobQueue
	locker   Locker
	handlers map[models.JobType]Handler
	config   Config
	logger   ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}

	running bool
	mu      sync.RWMutex
}

// NewPool creates a pool. locker may be nil, in which case every instance
// sweeps on its own schedule.
func NewPool(queue JobQueue, locker Locker, config Config, logger ectologger.Logger) *Pool {
	defaults := DefaultConfig()
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.SweepInterval < 0 {
		config.SweepInterval = 0
	}

	return &Pool{
		queue:    queue,
		locker:   locker,
		handlers: map[models.JobType]Handler{},
		config:   config,
		logger:   logger,
	}
}

// Register sets the handler for jobType, replacing any previous one
func (p *Pool) Register(jobType models.JobType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = handler
}

// WorkerID returns the id worker n claims jobs under
func (p *Pool) WorkerID(n int) string {
	return fmt.Sprintf("%s-%d", p.config.Name, n)
}

// Start launches the workers and the sweeper and returns immediately
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPoolRunning
	}
	if len(p.handlers) == 0 {
		p.mu.Unlock()
		return ErrNoHandlers
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.stoppedC = make(chan struct{})
	p.mu.Unlock()

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"name":           p.config.Name,
		"workers":        p.config.WorkerCount,
		"poll_interval":  p.config.PollInterval.String(),
		"sweep_interval": p.config.SweepInterval.String(),
		"job_types":      p.jobTypes(),
	}).Info("Starting worker pool")

	var wg sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, p.WorkerID(i))
	}

	if p.config.SweepInterval > 0 {
		wg.Add(1)
		go p.sweepLoop(ctx, &wg)
	}

	go func() {
		wg.Wait()
		close(p.stoppedC)
	}()

	return nil
}

// Stop asks the workers to finish their current job and waits for them
// until ctx expires
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.WithContext(ctx).Info("Stopping worker pool...")
	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.WithContext(ctx).Info("Worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Worker pool shutdown timed out")
		return ctx.Err()
	}
	return nil
}

func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup, workerID string) {
	defer wg.Done()

	ctx = appctx.SetWorkerID(ctx, workerID)
	p.logger.WithContext(ctx).Debugf("Worker %s started", workerID)

	for {
		select {
		case <-p.stopCh:
			p.logger.WithContext(ctx).Debugf("Worker %s stopping", workerID)
			return
		case <-ctx.Done():
			return
		default:
		}

		processed, err := p.ProcessNext(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			p.logger.WithContext(ctx).WithError(err).Warnf("Worker %s failed to dequeue", workerID)
		}
		if processed {
			continue
		}

		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(p.config.PollInterval):
		}
	}
}

// ProcessNext claims and runs at most one job as workerID. It reports
// whether a job was claimed; handler failures are recorded on the job and
// are not returned.
func (p *Pool) ProcessNext(ctx context.Context, workerID string) (bool, error) {
	job, err := p.queue.Dequeue(ctx, workerID, p.jobTypes()...)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	p.process(ctx, job)
	return true, nil
}

func (p *Pool) process(ctx context.Context, job *models.QueueJob) {
	ctx, span := tracing.StartSpan(ctx, "worker.Pool.process")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"attempt":  job.Attempts,
	})

	metrics.RecordJobStart()
	start := time.Now()

	result, err := p.run(ctx, job)
	status := string(models.JobStatusCompleted)

	if err != nil {
		tracing.RecordError(span, err)
		failed, markErr := p.queue.MarkFailed(ctx, job, err)
		switch {
		case clerrors.IsKind(markErr, clerrors.KindQueueExhausted):
			status = string(models.JobStatusFailed)
		case markErr != nil:
			status = string(models.JobStatusFailed)
			log.WithError(markErr).Error("Failed to record job failure")
		default:
			status = string(failed.Status)
		}
	} else if _, markErr := p.queue.MarkCompleted(ctx, job, result); markErr != nil {
		status = string(models.JobStatusFailed)
		log.WithError(markErr).Error("Failed to mark job completed")
	} else {
		log.Debugf("Job completed in %s", time.Since(start))
	}

	metrics.RecordJobEnd(string(job.JobType), status, time.Since(start))
}

func (p *Pool) run(ctx context.Context, job *models.QueueJob) (result any, err error) {
	p.mu.RLock()
	handler, ok := p.handlers[job.JobType]
	p.mu.RUnlock()
	if !ok {
		return nil, clerrors.Newf(clerrors.KindInternal, "no handler registered for job type %s", job.JobType)
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithContext(ctx).WithFields(map[string]any{
				"job_id": job.ID,
				"stack":  string(debug.Stack()),
			}).Errorf("Job handler panicked: %v", r)
			err = clerrors.Newf(clerrors.KindInternal, "job handler panicked: %v", r)
		}
	}()

	return handler(ctx, job)
}

func (p *Pool) jobTypes() []models.JobType {
	p.mu.RLock()
	defer p.mu.RUnlock()
	types := make([]models.JobType, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}
	return types
}

func (p *Pool) sweepLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Sweep(ctx); err != nil {
				p.logger.WithContext(ctx).WithError(err).Warn("Stuck job sweep failed")
			}
		}
	}
}

// Sweep releases stuck jobs once across all instances sharing the locker.
// It returns zero without sweeping when another instance holds the lock.
func (p *Pool) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "worker.Pool.Sweep")
	defer span.End()

	if p.locker == nil {
		reset, err := p.queue.ResetStuckJobs(ctx, 0)
		return reset, tracing.RecordError(span, err)
	}

	reset := 0
	ttl := p.config.SweepInterval
	if ttl <= 0 {
		ttl = DefaultSweepInterval
	}
	ran, err := p.locker.TryWithLock(ctx, sweepLockKey, ttl, func(ctx context.Context) error {
		n, err := p.queue.ResetStuckJobs(ctx, 0)
		reset = n
		return err
	})
	if err != nil {
		return reset, tracing.RecordError(span, err)
	}
	if !ran {
		p.logger.WithContext(ctx).Debug("Skipping sweep, another instance holds the lock")
	}
	return reset, nil
}

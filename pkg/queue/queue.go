// Package queue is a durable priority queue of matching work backed by the
// queue_jobs table. Delivery is at-least-once: a job whose worker dies is
// handed out again once the stuck-job sweep releases it.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Store persists queue jobs and performs the atomic claim
type Store interface {
	Insert(ctx context.Context, job *models.QueueJob) (*models.QueueJob, error)
	Get(ctx context.Context, id string) (*models.QueueJob, error)
	Claim(ctx context.Context, workerID string, jobTypes []models.JobType, now time.Time) (*models.QueueJob, error)
	Complete(ctx context.Context, id, workerID string, result json.RawMessage) (*models.QueueJob, error)
	// Fail moves a processing job to retry, or to failed when retry is
	// false or its attempts are used up.
	Fail(ctx context.Context, id, workerID, message string, retryAt time.Time, retry bool) (*models.QueueJob, error)
	ResetStuck(ctx context.Context, cutoff time.Time) ([]models.QueueJob, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
}

type Config struct {
	MaxAttempts  int
	RetryDelay   time.Duration // fixed delay before a failed job is retried
	StuckTimeout time.Duration // processing time after which a claim is considered dead
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  models.DefaultMaxAttempts,
		RetryDelay:   5 * time.Minute,
		StuckTimeout: 60 * time.Minute,
	}
}

type Queue struct {
	store  Store
	hooks  *events.Hooks
	config Config
	logger ectologger.Logger
	now    func() time.Time
}

func NewQueue(store Store, hooks *events.Hooks, config Config, logger ectologger.Logger) *Queue {
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.StuckTimeout <= 0 {
		config.StuckTimeout = defaults.StuckTimeout
	}
	return &Queue{
		store:  store,
		hooks:  hooks,
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (q *Queue) Config() Config {
	return q.config
}

// Enqueue stores a job for payload
func (q *Queue) Enqueue(ctx context.Context, payload models.JobPayload, opts models.EnqueueOptions) (*models.QueueJob, error) {
	raw, err := models.EncodePayload(payload)
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, err, "failed to encode job payload")
	}
	return q.enqueue(ctx, payload.JobType(), raw, opts)
}

// EnqueueRaw validates raw against the schema of jobType before storing it
func (q *Queue) EnqueueRaw(ctx context.Context, jobType models.JobType, raw json.RawMessage, opts models.EnqueueOptions) (*models.QueueJob, error) {
	if _, err := models.DecodePayload(jobType, raw); err != nil {
		return nil, errors.Wrap(errors.KindValidation, err, "invalid job payload")
	}
	return q.enqueue(ctx, jobType, raw, opts)
}

func (q *Queue) enqueue(ctx context.Context, jobType models.JobType, raw json.RawMessage, opts models.EnqueueOptions) (*models.QueueJob, error) {
	ctx, span := tracing.StartSpan(ctx, "queue.Queue.Enqueue")
	defer span.End()

	job := &models.QueueJob{
		JobType:     jobType,
		Payload:     database.NewJSONB(raw),
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.config.MaxAttempts
	}
	if opts.ScheduledAt != nil {
		job.ScheduledAt = opts.ScheduledAt.UTC()
	} else {
		job.ScheduledAt = q.now()
	}

	job, err := q.store.Insert(ctx, job)
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}

	q.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":       job.ID,
		"job_type":     job.JobType,
		"priority":     job.Priority,
		"scheduled_at": job.ScheduledAt,
	}).Debug("Enqueued job")

	return job, nil
}

// Dequeue claims the next due job for workerID, optionally restricted to
// jobTypes. It returns nil without error when nothing is due.
func (q *Queue) Dequeue(ctx context.Context, workerID string, jobTypes ...models.JobType) (*models.QueueJob, error) {
	ctx, span := tracing.StartSpan(ctx, "queue.Queue.Dequeue")
	defer span.End()

	if workerID == "" {
		return nil, errors.New(errors.KindValidation, "worker id is required to dequeue")
	}

	job, err := q.store.Claim(ctx, workerID, jobTypes, q.now())
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}
	return job, nil
}

// MarkCompleted finishes job with an optional result
func (q *Queue) MarkCompleted(ctx context.Context, job *models.QueueJob, result any) (*models.QueueJob, error) {
	ctx, span := tracing.StartSpan(ctx, "queue.Queue.MarkCompleted")
	defer span.End()

	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "failed to encode job result")
		}
		raw = b
	}

	completed, err := q.store.Complete(ctx, job.ID, owner(job), raw)
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}
	return completed, nil
}

// MarkFailed records a failed attempt. A job with attempts left is retried
// after the fixed retry delay. A KindValidation cause fails the job at once.
// An exhausted job becomes failed, raises a notification and is returned
// together with a KindQueueExhausted error.
func (q *Queue) MarkFailed(ctx context.Context, job *models.QueueJob, cause error) (*models.QueueJob, error) {
	ctx, span := tracing.StartSpan(ctx, "queue.Queue.MarkFailed")
	defer span.End()

	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}

	// a payload that failed validation fails the same way on every attempt
	retry := !errors.IsKind(cause, errors.KindValidation)
	failed, err := q.store.Fail(ctx, job.ID, owner(job), message, q.now().Add(q.config.RetryDelay), retry)
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}

	log := q.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":       failed.ID,
		"job_type":     failed.JobType,
		"attempts":     failed.Attempts,
		"max_attempts": failed.MaxAttempts,
	})

	if failed.Status != models.JobStatusFailed {
		log.WithError(cause).Warnf("Job failed, retrying at %s", failed.ScheduledAt.Format(time.RFC3339))
		return failed, nil
	}

	if !retry {
		log.WithError(cause).Error("Job rejected, not retrying")
		return failed, nil
	}

	log.WithError(cause).Error("Job exhausted its attempts")
	q.exhausted(ctx, failed)
	return failed, errors.Newf(errors.KindQueueExhausted, "job %s failed after %d attempts", failed.ID, failed.Attempts).
		AddMeta("job_id", failed.ID)
}

func (q *Queue) exhausted(ctx context.Context, job *models.QueueJob) {
	metrics.RecordJobExhausted(string(job.JobType))

	details := map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
	}
	if job.LastError != nil {
		details["last_error"] = *job.LastError
	}
	q.hooks.Notify(ctx, models.Notification{
		Metric:    models.MetricQueueExhausted,
		Value:     float64(job.Attempts),
		Threshold: float64(job.MaxAttempts),
		Details:   details,
	})
}

// ResetStuckJobs releases jobs that stayed in processing longer than
// timeout, or the configured stuck timeout when timeout is zero. It
// returns how many jobs went back to pending; jobs that had no attempts
// left are failed and reported as exhausted instead.
func (q *Queue) ResetStuckJobs(ctx context.Context, timeout time.Duration) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "queue.Queue.ResetStuckJobs")
	defer span.End()

	if timeout <= 0 {
		timeout = q.config.StuckTimeout
	}

	jobs, err := q.store.ResetStuck(ctx, q.now().Add(-timeout))
	if err != nil {
		return 0, tracing.RecordError(span, err)
	}

	reset := 0
	for i := range jobs {
		if jobs[i].Status == models.JobStatusFailed {
			q.exhausted(ctx, &jobs[i])
			continue
		}
		reset++
	}
	metrics.RecordStuckJobsReset(reset)

	if len(jobs) > 0 {
		q.logger.WithContext(ctx).WithFields(map[string]any{
			"reset":   reset,
			"failed":  len(jobs) - reset,
			"timeout": timeout.String(),
		}).Warn("Released stuck jobs")
	}

	return reset, nil
}

func (q *Queue) Stats(ctx context.Context) (*models.QueueStats, error) {
	return q.store.Stats(ctx)
}

func (q *Queue) Get(ctx context.Context, id string) (*models.QueueJob, error) {
	return q.store.Get(ctx, id)
}

func owner(job *models.QueueJob) string {
	if job.WorkerID == nil {
		return ""
	}
	return *job.WorkerID
}

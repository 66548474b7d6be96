package queuejob

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const table = "queue_jobs"

var columns = []string{
	"id", "job_type", "payload", "priority", "status", "attempts", "max_attempts", "scheduled_at",
	"worker_id", "claimed_at", "last_error", "result", "created_at", "updated_at", "completed_at",
}

var returning = " RETURNING " + strings.Join(columns, ", ")

// Repository handles queue job persistence. Claims rely on row locks with
// SKIP LOCKED so concurrent workers never receive the same job.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new queue job repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert stores a new pending job
func (r *Repository) Insert(ctx context.Context, job *models.QueueJob) (*models.QueueJob, error) {
	ctx, span := tracing.StartSpan(ctx, "queuejob.Repository.Insert")
	defer span.End()

	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = models.DefaultMaxAttempts
	}
	if job.Result.Data == nil {
		job.Result.Data = json.RawMessage("null")
	}
	job.Status = models.JobStatusPending
	job.Attempts = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	ib := database.NewInsertBuilder(table)
	ib.Cols("id", "job_type", "payload", "priority", "status", "attempts", "max_attempts", "scheduled_at", "result", "created_at", "updated_at")
	ib.Values(job.ID, job.JobType, job.Payload, job.Priority, job.Status, job.Attempts, job.MaxAttempts, job.ScheduledAt, job.Result, job.CreatedAt, job.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("job_type", job.JobType).Error("Failed to insert queue job")
		return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to enqueue job"))
	}

	return job, nil
}

// Get retrieves a job by id
func (r *Repository) Get(ctx context.Context, id string) (*models.QueueJob, error) {
	ctx, span := tracing.StartSpan(ctx, "queuejob.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var job models.QueueJob
	if err := r.db.Conn(ctx).GetContext(ctx, &job, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf(errors.KindNotFound, "queue job %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("job_id", id).Error("Failed to get queue job")
		return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to get queue job"))
	}

	return &job, nil
}

// Claim atomically takes the next due job for workerID: pending or retry,
// scheduled at or before now, highest priority first and oldest schedule
// within a priority. It returns nil when nothing is due.
func (r *Repository) Claim(ctx context.Context, workerID string, jobTypes []models.JobType, now time.Time) (*models.QueueJob, error) {
	ctx, span := tracing.StartSpan(ctx, "queuejob.Repository.Claim")
	defer span.End()

	args := []any{workerID, now, pq.Array([]string{string(models.JobStatusPending), string(models.JobStatusRetry)})}
	typeFilter := ""
	if len(jobTypes) > 0 {
		types := make([]string, len(jobTypes))
		for i, t := range jobTypes {
			types[i] = string(t)
		}
		args = append(args, pq.Array(types))
		typeFilter = "AND job_type = ANY($4)"
	}

	query := `
		UPDATE queue_jobs
		SET status = 'processing', worker_id = $1, claimed_at = $2, attempts = attempts + 1, updated_at = $2
		WHERE id = (
			SELECT id FROM queue_jobs
			WHERE status = ANY($3)
			AND scheduled_at <= $2
			AND attempts < max_attempts
			` + typeFilter + `
			ORDER BY priority DESC, scheduled_at ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)` + returning

	var job models.QueueJob
	if err := r.db.Conn(ctx).GetContext(ctx, &job, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("worker_id", workerID).Error("Failed to claim queue job")
		return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to claim queue job"))
	}

	return &job, nil
}

// Complete marks a processing job completed. When workerID is set the job
// must still be owned by that worker.
func (r *Repository) Complete(ctx context.Context, id, workerID string, result json.RawMessage) (*models.QueueJob, error) {
	ctx, span := tracing.StartSpan(ctx, "queuejob.Repository.Complete")
	defer span.End()

	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	now := time.Now().UTC()

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("status", models.JobStatusCompleted),
		ub.Assign("result", database.NewJSONB(result)),
		ub.Assign("completed_at", now),
		ub.Assign("updated_at", now),
	)
	where := []string{ub.Equal("id", id), ub.Equal("status", models.JobStatusProcessing)}
	if workerID != "" {
		where = append(where, ub.Equal("worker_id", workerID))
	}
	ub.Where(where...)

	query, args := ub.Build()
	job, err := r.transition(ctx, query+returning, args, id, models.JobStatusCompleted)
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}
	return job, nil
}

// Fail records a failed attempt. A job with attempts left moves to retry,
// scheduled at retryAt and released by its worker; otherwise it becomes
// failed for good.
func (r *Repository) Fail(ctx context.Context, id, workerID, message string, retryAt time.Time, retry bool) (*models.QueueJob, error) {
	ctx, span := tracing.StartSpan(ctx, "queuejob.Repository.Fail")
	defer span.End()

	now := time.Now().UTC()
	args := []any{message, retryAt, now, id, retry}
	ownerFilter := ""
	if workerID != "" {
		args = append(args, workerID)
		ownerFilter = "AND worker_id = $6"
	}

	// a job retries only while retry is set and it has attempts left
	query := `
		UPDATE queue_jobs SET
			status = CASE WHEN $5 AND attempts < max_attempts THEN 'retry' ELSE 'failed' END,
			scheduled_at = CASE WHEN $5 AND attempts < max_attempts THEN $2 ELSE scheduled_at END,
			worker_id = CASE WHEN $5 AND attempts < max_attempts THEN NULL ELSE worker_id END,
			claimed_at = CASE WHEN $5 AND attempts < max_attempts THEN NULL ELSE claimed_at END,
			completed_at = CASE WHEN $5 AND attempts < max_attempts THEN NULL ELSE $3 END,
			last_error = $1,
			updated_at = $3
		WHERE id = $4 AND status = 'processing' ` + ownerFilter + returning

	job, err := r.transition(ctx, query, args, id, models.JobStatusFailed)
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}
	return job, nil
}

func (r *Repository) transition(ctx context.Context, query string, args []any, id string, target models.JobStatus) (*models.QueueJob, error) {
	var job models.QueueJob
	err := r.db.Conn(ctx).GetContext(ctx, &job, query, args...)
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.WithContext(ctx).WithError(err).WithField("job_id", id).Errorf("Failed to move queue job to %s", target)
		return nil, errors.FromStore(err, errors.KindInternal, "failed to update queue job")
	}

	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	owner := ""
	if current.WorkerID != nil {
		owner = *current.WorkerID
	}
	return nil, errors.Newf(errors.KindInvalidTransition, "queue job %s is %s and cannot move to %s", id, current.Status, target).
		AddMeta("job_id", id).
		AddMeta("worker_id", owner)
}

// ResetStuck releases processing jobs claimed before cutoff. Jobs with
// attempts left go back to pending without an owner; jobs that used their
// last attempt are failed.
func (r *Repository) ResetStuck(ctx context.Context, cutoff time.Time) ([]models.QueueJob, error) {
	ctx, span := tracing.StartSpan(ctx, "queuejob.Repository.ResetStuck")
	defer span.End()

	now := time.Now().UTC()
	query := `
		UPDATE queue_jobs SET
			status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'failed' END,
			worker_id = NULL,
			claimed_at = NULL,
			last_error = COALESCE(last_error, 'processing timed out'),
			completed_at = CASE WHEN attempts < max_attempts THEN NULL ELSE $2 END,
			updated_at = $2
		WHERE status = 'processing' AND claimed_at < $1` + returning

	jobs := []models.QueueJob{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &jobs, query, cutoff, now); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to reset stuck queue jobs")
		return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to reset stuck queue jobs"))
	}

	return jobs, nil
}

type countRow struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

// Stats counts jobs by status and type, and processing jobs by worker
func (r *Repository) Stats(ctx context.Context) (*models.QueueStats, error) {
	ctx, span := tracing.StartSpan(ctx, "queuejob.Repository.Stats")
	defer span.End()

	stats := &models.QueueStats{
		StatusCounts:  map[models.JobStatus]int{},
		JobTypeCounts: map[models.JobType]int{},
		WorkerCounts:  map[string]int{},
	}

	queries := []struct {
		query string
		apply func(countRow)
	}{
		{
			query: "SELECT status AS key, COUNT(*) AS count FROM queue_jobs GROUP BY status",
			apply: func(row countRow) { stats.StatusCounts[models.JobStatus(row.Key)] = row.Count },
		},
		{
			query: "SELECT job_type AS key, COUNT(*) AS count FROM queue_jobs GROUP BY job_type",
			apply: func(row countRow) { stats.JobTypeCounts[models.JobType(row.Key)] = row.Count },
		},
		{
			query: "SELECT worker_id AS key, COUNT(*) AS count FROM queue_jobs WHERE status = 'processing' AND worker_id IS NOT NULL GROUP BY worker_id",
			apply: func(row countRow) { stats.WorkerCounts[row.Key] = row.Count },
		},
	}

	for _, q := range queries {
		var rows []countRow
		if err := r.db.Conn(ctx).SelectContext(ctx, &rows, q.query); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to read queue stats")
			return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to read queue stats"))
		}
		for _, row := range rows {
			q.apply(row)
		}
	}

	return stats, nil
}

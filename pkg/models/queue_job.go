package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
)

// JobStatus is the lifecycle state of a queue job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetry      JobStatus = "retry"
)

// JobType selects the payload schema and the handler of a job
type JobType string

const (
	JobTypeMatchSKU         JobType = "match_sku"
	JobTypeRematchMapping   JobType = "rematch_mapping"
	JobTypeRetentionCleanup JobType = "retention_cleanup"
)

// JobPriority is a scheduling tier. Higher tiers are dequeued first.
type JobPriority int

const (
	JobPriorityLow    JobPriority = 0
	JobPriorityNormal JobPriority = 5
	JobPriorityHigh   JobPriority = 10
)

const DefaultMaxAttempts = 3

// QueueJob is a durable unit of asynchronous work
type QueueJob struct {
	ID          string                          `json:"id" db:"id"`
	JobType     JobType                         `json:"job_type" db:"job_type"`
	Payload     database.JSONB[json.RawMessage] `json:"payload" db:"payload"`
	Priority    JobPriority                     `json:"priority" db:"priority"`
	Status      JobStatus                       `json:"status" db:"status"`
	Attempts    int                             `json:"attempts" db:"attempts"`
	MaxAttempts int                             `json:"max_attempts" db:"max_attempts"`
	ScheduledAt time.Time                       `json:"scheduled_at" db:"scheduled_at"`
	WorkerID    *string                         `json:"worker_id,omitempty" db:"worker_id"`
	ClaimedAt   *time.Time                      `json:"claimed_at,omitempty" db:"claimed_at"`
	LastError   *string                         `json:"last_error,omitempty" db:"last_error"`
	Result      database.JSONB[json.RawMessage] `json:"result,omitempty" db:"result"`
	CreatedAt   time.Time                       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time                       `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time                      `json:"completed_at,omitempty" db:"completed_at"`
}

// CanRetry reports whether a failed attempt leaves room for another.
func (j *QueueJob) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Decode returns the typed payload of the job.
func (j *QueueJob) Decode() (JobPayload, error) {
	return DecodePayload(j.JobType, j.Payload.Data)
}

// JobPayload is implemented by every job payload variant
type JobPayload interface {
	JobType() JobType
}

// MatchSKUPayload asks a worker to match a freshly ingested record
type MatchSKUPayload struct {
	Record SourceRecord `json:"record"`
}

func (MatchSKUPayload) JobType() JobType { return JobTypeMatchSKU }

// RematchMappingPayload asks a worker to rescore an existing pending mapping
type RematchMappingPayload struct {
	MappingID string `json:"mapping_id"`
}

func (RematchMappingPayload) JobType() JobType { return JobTypeRematchMapping }

// RetentionCleanupPayload asks a worker to purge old rejected mappings
type RetentionCleanupPayload struct {
	OlderThanDays int `json:"older_than_days"`
}

func (RetentionCleanupPayload) JobType() JobType { return JobTypeRetentionCleanup }

func EncodePayload(p JobPayload) (json.RawMessage, error) {
	return json.Marshal(p)
}

func DecodePayload(jobType JobType, raw json.RawMessage) (JobPayload, error) {
	var (
		payload JobPayload
		err     error
	)
	switch jobType {
	case JobTypeMatchSKU:
		var p MatchSKUPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case JobTypeRematchMapping:
		var p RematchMappingPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case JobTypeRetentionCleanup:
		var p RetentionCleanupPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", jobType, err)
	}
	return payload, nil
}

// EnqueueOptions control scheduling of a new job
type EnqueueOptions struct {
	Priority    JobPriority
	ScheduledAt *time.Time
	MaxAttempts int
}

// EnqueueJobRequest is the HTTP body for enqueuing a job
type EnqueueJobRequest struct {
	JobType     JobType         `json:"job_type" validate:"required,oneof=match_sku rematch_mapping retention_cleanup"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
	Priority    JobPriority     `json:"priority"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	MaxAttempts int             `json:"max_attempts" validate:"gte=0,lte=20"`
}

// QueueStats summarises the queue for operational dashboards
type QueueStats struct {
	StatusCounts  map[JobStatus]int `json:"status_counts"`
	JobTypeCounts map[JobType]int   `json:"job_type_counts"`
	WorkerCounts  map[string]int    `json:"worker_counts"`
}

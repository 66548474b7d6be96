package worker

import (
	"context"
	"time"

	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
)

// RecordMatcher matches new records and rescores pending mappings
type RecordMatcher interface {
	MatchRecord(ctx context.Context, record models.SourceRecord) (*matching.Result, error)
	Rematch(ctx context.Context, mappingID string) (*matching.Result, error)
}

// RetentionStore purges rejected mappings
type RetentionStore interface {
	DeleteRejectedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MatchResult is stored on completed match and rematch jobs
type MatchResult struct {
	MappingID  string                    `json:"mapping_id"`
	Status     models.VerificationStatus `json:"status"`
	MasterID   *string                   `json:"master_id,omitempty"`
	Confidence float64                   `json:"confidence"`
	Candidates int                       `json:"candidates"`
	Duplicate  bool                      `json:"duplicate,omitempty"`
	Skipped    string                    `json:"skipped,omitempty"`
}

func matchResult(r *matching.Result) MatchResult {
	return MatchResult{
		MappingID:  r.Mapping.ID,
		Status:     r.Mapping.VerificationStatus,
		MasterID:   r.Mapping.MasterID,
		Confidence: r.Mapping.ConfidenceScore,
		Candidates: len(r.Candidates),
		Duplicate:  r.Duplicate,
	}
}

// RetentionResult is stored on completed retention jobs
type RetentionResult struct {
	Deleted int64     `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
}

// MatchSKU runs the matcher for a match_sku job
func MatchSKU(matcher RecordMatcher) Handler {
	return func(ctx context.Context, job *models.QueueJob) (any, error) {
		payload, err := decode[models.MatchSKUPayload](job)
		if err != nil {
			return nil, err
		}

		result, err := matcher.MatchRecord(ctx, payload.Record)
		if err != nil {
			return nil, err
		}
		return matchResult(result), nil
	}
}

// RematchMapping rescores the mapping of a rematch_mapping job. A mapping
// that no longer exists completes the job without retrying.
func RematchMapping(matcher RecordMatcher) Handler {
	return func(ctx context.Context, job *models.QueueJob) (any, error) {
		payload, err := decode[models.RematchMappingPayload](job)
		if err != nil {
			return nil, err
		}

		result, err := matcher.Rematch(ctx, payload.MappingID)
		if errors.IsKind(err, errors.KindNotFound) {
			return MatchResult{MappingID: payload.MappingID, Skipped: "mapping not found"}, nil
		}
		if err != nil {
			return nil, err
		}
		return matchResult(result), nil
	}
}

// RetentionCleanup deletes rejected mappings older than the job's window,
// or defaultDays when the job does not name one
func RetentionCleanup(store RetentionStore, defaultDays int, now func() time.Time) Handler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return func(ctx context.Context, job *models.QueueJob) (any, error) {
		payload, err := decode[models.RetentionCleanupPayload](job)
		if err != nil {
			return nil, err
		}

		days := payload.OlderThanDays
		if days <= 0 {
			days = defaultDays
		}
		if days <= 0 {
			return nil, errors.New(errors.KindValidation, "retention window must be positive")
		}

		cutoff := now().AddDate(0, 0, -days)
		deleted, err := store.DeleteRejectedBefore(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		return RetentionResult{Deleted: deleted, Cutoff: cutoff}, nil
	}
}

func decode[T models.JobPayload](job *models.QueueJob) (T, error) {
	var zero T
	payload, err := job.Decode()
	if err != nil {
		return zero, errors.Wrap(errors.KindValidation, err, "invalid job payload")
	}
	typed, ok := payload.(T)
	if !ok {
		return zero, errors.Newf(errors.KindValidation, "job %s has payload %T", job.ID, payload)
	}
	return typed, nil
}

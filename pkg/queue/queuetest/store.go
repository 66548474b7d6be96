// Package queuetest provides an in-memory queue store with the same claim
// semantics as the Postgres repository, for tests of queue consumers.
package queuetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
)

type Store struct {
	mu   sync.Mutex
	jobs map[string]*models.QueueJob
	seq  int
	// order keeps insertion order for the created_at tie-break
	order map[string]int
}

func NewStore() *Store {
	return &Store{
		jobs:  map[string]*models.QueueJob{},
		order: map[string]int{},
	}
}

func (s *Store) Insert(_ context.Context, job *models.QueueJob) (*models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	job.Status = models.JobStatusPending
	job.Attempts = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	cp := *job
	s.jobs[job.ID] = &cp
	s.seq++
	s.order[job.ID] = s.seq
	return job, nil
}

func (s *Store) Get(_ context.Context, id string) (*models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "queue job %s not found", id)
	}
	cp := *job
	return &cp, nil
}

func (s *Store) Claim(_ context.Context, workerID string, jobTypes []models.JobType, now time.Time) (*models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.QueueJob
	for _, job := range s.jobs {
		if job.Status != models.JobStatusPending && job.Status != models.JobStatusRetry {
			continue
		}
		if job.ScheduledAt.After(now) || job.Attempts >= job.MaxAttempts {
			continue
		}
		if len(jobTypes) > 0 && !contains(jobTypes, job.JobType) {
			continue
		}
		due = append(due, job)
	}
	if len(due) == 0 {
		return nil, nil
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return s.order[a.ID] < s.order[b.ID]
	})

	job := due[0]
	job.Status = models.JobStatusProcessing
	job.WorkerID = &workerID
	claimed := now
	job.ClaimedAt = &claimed
	job.Attempts++
	job.UpdatedAt = now

	cp := *job
	return &cp, nil
}

func (s *Store) Complete(_ context.Context, id, workerID string, result json.RawMessage) (*models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(id, workerID, models.JobStatusCompleted)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusCompleted
	job.Result = database.NewJSONB(result)
	job.CompletedAt = &now
	job.UpdatedAt = now

	cp := *job
	return &cp, nil
}

func (s *Store) Fail(_ context.Context, id, workerID, message string, retryAt time.Time, retry bool) (*models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(id, workerID, models.JobStatusFailed)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job.LastError = &message
	job.UpdatedAt = now
	if retry && job.Attempts < job.MaxAttempts {
		job.Status = models.JobStatusRetry
		job.ScheduledAt = retryAt
		job.WorkerID = nil
		job.ClaimedAt = nil
	} else {
		job.Status = models.JobStatusFailed
		job.CompletedAt = &now
	}

	cp := *job
	return &cp, nil
}

func (s *Store) owned(id, workerID string, target models.JobStatus) (*models.QueueJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "queue job %s not found", id)
	}
	if job.Status != models.JobStatusProcessing || (workerID != "" && (job.WorkerID == nil || *job.WorkerID != workerID)) {
		return nil, errors.Newf(errors.KindInvalidTransition, "queue job %s is %s and cannot move to %s", id, job.Status, target)
	}
	return job, nil
}

func (s *Store) ResetStuck(_ context.Context, cutoff time.Time) ([]models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var reset []models.QueueJob
	for _, job := range s.jobs {
		if job.Status != models.JobStatusProcessing || job.ClaimedAt == nil || !job.ClaimedAt.Before(cutoff) {
			continue
		}
		if job.Attempts < job.MaxAttempts {
			job.Status = models.JobStatusPending
		} else {
			job.Status = models.JobStatusFailed
			job.CompletedAt = &now
		}
		job.WorkerID = nil
		job.ClaimedAt = nil
		job.UpdatedAt = now
		reset = append(reset, *job)
	}
	return reset, nil
}

func (s *Store) Stats(_ context.Context) (*models.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &models.QueueStats{
		StatusCounts:  map[models.JobStatus]int{},
		JobTypeCounts: map[models.JobType]int{},
		WorkerCounts:  map[string]int{},
	}
	for _, job := range s.jobs {
		stats.StatusCounts[job.Status]++
		stats.JobTypeCounts[job.JobType]++
		if job.Status == models.JobStatusProcessing && job.WorkerID != nil {
			stats.WorkerCounts[*job.WorkerID]++
		}
	}
	return stats, nil
}

// SetClaimedAt backdates the claim of a processing job
func (s *Store) SetClaimedAt(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.ClaimedAt = &at
	}
}

// Jobs returns a snapshot of every stored job
func (s *Store) Jobs() []models.QueueJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]models.QueueJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return s.order[jobs[i].ID] < s.order[jobs[j].ID] })
	return jobs
}

func contains(types []models.JobType, t models.JobType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

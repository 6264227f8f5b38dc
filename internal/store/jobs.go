package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"horse.fit/stipend/internal/db"
	"horse.fit/stipend/internal/globaltime"
)

type JobKind string

const (
	JobKindGeneral       JobKind = "general"
	JobKindProfileScoped JobKind = "profile-scoped"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

const maxJobErrorLength = 4000

// DiscoveryJob is the lifecycle record of one search-and-extract run.
type DiscoveryJob struct {
	JobID        int64
	UUID         string
	Kind         JobKind
	UserID       *string
	Query        string
	Status       JobStatus
	ResultCount  int
	ErrorMessage *string
	ScheduledAt  time.Time
	CompletedAt  *time.Time
}

// CreateJob inserts a pending job row owned by the calling run.
func (s *Store) CreateJob(ctx context.Context, kind JobKind, userID *string, query string) (DiscoveryJob, error) {
	const q = `
INSERT INTO fund.discovery_jobs (kind, user_id, query, status, result_count, scheduled_at, created_at, updated_at)
VALUES ($1, $2, $3, 'pending', 0, $4, $4, $4)
RETURNING job_id, discovery_job_uuid
`
	now := globaltime.UTC()
	job := DiscoveryJob{
		Kind:        kind,
		UserID:      nullableString(userID),
		Query:       query,
		Status:      JobStatusPending,
		ScheduledAt: now,
	}
	err := s.pool.QueryRow(ctx, q, string(kind), job.UserID, query, now).Scan(&job.JobID, &job.UUID)
	if err != nil {
		return DiscoveryJob{}, fmt.Errorf("insert discovery job: %w", err)
	}
	return job, nil
}

// MarkJobRunning transitions pending -> running. Terminal rows are never
// reopened, so the guard is on the current status.
func (s *Store) MarkJobRunning(ctx context.Context, jobID int64) error {
	const q = `
UPDATE fund.discovery_jobs
SET status = 'running', updated_at = $2
WHERE job_id = $1 AND status = 'pending'
`
	tag, err := s.pool.Exec(ctx, q, jobID, globaltime.UTC())
	if err != nil {
		return fmt.Errorf("mark job running job_id=%d: %w", jobID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("job_id=%d is not pending", jobID)
	}
	return nil
}

// MarkJobCompleted transitions running -> completed with the result count.
func (s *Store) MarkJobCompleted(ctx context.Context, jobID int64, resultCount int) error {
	const q = `
UPDATE fund.discovery_jobs
SET status = 'completed', result_count = $2, completed_at = $3, updated_at = $3, error_message = NULL
WHERE job_id = $1 AND status = 'running'
`
	tag, err := s.pool.Exec(ctx, q, jobID, resultCount, globaltime.UTC())
	if err != nil {
		return fmt.Errorf("mark job completed job_id=%d: %w", jobID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("job_id=%d is not running", jobID)
	}
	return nil
}

// MarkJobFailed transitions a non-terminal job to failed, capturing a
// truncated error message.
func (s *Store) MarkJobFailed(ctx context.Context, jobID int64, cause error) error {
	const q = `
UPDATE fund.discovery_jobs
SET status = 'failed', error_message = $2, completed_at = $3, updated_at = $3
WHERE job_id = $1 AND status IN ('pending', 'running')
`
	msg := "unknown failure"
	if cause != nil {
		msg = strings.TrimSpace(cause.Error())
	}
	if len(msg) > maxJobErrorLength {
		msg = msg[:maxJobErrorLength]
	}

	tag, err := s.pool.Exec(ctx, q, jobID, msg, globaltime.UTC())
	if err != nil {
		return fmt.Errorf("mark job failed job_id=%d: %w", jobID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("job_id=%d is already terminal", jobID)
	}
	return nil
}

// GetJobByUUID returns a job for the API surface.
func (s *Store) GetJobByUUID(ctx context.Context, jobUUID string) (DiscoveryJob, bool, error) {
	const q = `
SELECT job_id, discovery_job_uuid, kind, user_id, query, status, result_count, error_message, scheduled_at, completed_at
FROM fund.discovery_jobs
WHERE discovery_job_uuid = $1
`
	var job DiscoveryJob
	var kind, status string
	err := s.pool.QueryRow(ctx, q, jobUUID).Scan(
		&job.JobID,
		&job.UUID,
		&kind,
		&job.UserID,
		&job.Query,
		&status,
		&job.ResultCount,
		&job.ErrorMessage,
		&job.ScheduledAt,
		&job.CompletedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return DiscoveryJob{}, false, nil
		}
		return DiscoveryJob{}, false, fmt.Errorf("get discovery job uuid=%s: %w", jobUUID, err)
	}
	job.Kind = JobKind(kind)
	job.Status = JobStatus(status)
	return job, true, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackhunterking/legal-memo-backend/pkg/logger"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/entity"
)

// EnsureJob creates the job row for a finalized recording if it does not
// exist yet. Safe to call repeatedly.
func (s *storage) EnsureJob(ctx context.Context, recordingID uuid.UUID) error {
	query := `
		INSERT INTO jobs (id, recording_id, status, attempts)
		VALUES ($1, $2, 'pending', 0)
		ON CONFLICT (recording_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, s.ids.Next(), recordingID); err != nil {
		return fmt.Errorf("failed to ensure job: %w", err)
	}
	return nil
}

// ClaimJob transitions the job to processing with a conditional update so
// that two workers can never both win. The claim succeeds only from pending
// or failed.
func (s *storage) ClaimJob(ctx context.Context, recordingID uuid.UUID) (*entity.Job, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE jobs
		SET status = 'processing', step = 'converting', attempts = attempts + 1,
			last_error = '', started_at = now(), completed_at = NULL
		WHERE recording_id = $1 AND status IN ('pending', 'failed')
		RETURNING id, recording_id, status, step, attempts, last_error, started_at, completed_at
	`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, recordingID))
	if errors.Is(err, sql.ErrNoRows) {
		log.Debug("job claim lost", "recording_id", recordingID)
		return nil, ErrNotClaimed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	log.Info("job claimed", "recording_id", recordingID, "attempt", job.Attempts)

	return job, nil
}

func (s *storage) SetJobStep(ctx context.Context, recordingID uuid.UUID, step entity.JobStep) error {
	query := `UPDATE jobs SET step = $2 WHERE recording_id = $1`
	if _, err := s.db.ExecContext(ctx, query, recordingID, step); err != nil {
		return fmt.Errorf("failed to set job step: %w", err)
	}
	return nil
}

func (s *storage) CompleteJob(ctx context.Context, recordingID uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = 'completed', step = NULL, last_error = '', completed_at = now()
		WHERE recording_id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, recordingID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (s *storage) FailJob(ctx context.Context, recordingID uuid.UUID, lastError string) error {
	query := `
		UPDATE jobs
		SET status = 'failed', step = NULL, last_error = $2, completed_at = now()
		WHERE recording_id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, recordingID, lastError); err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

func (s *storage) GetJob(ctx context.Context, recordingID uuid.UUID) (*entity.Job, error) {
	query := `
		SELECT id, recording_id, status, step, attempts, last_error, started_at, completed_at
		FROM jobs WHERE recording_id = $1
	`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, recordingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *storage) ListJobsByStatus(ctx context.Context, status entity.JobStatus) ([]entity.Job, error) {
	query := `
		SELECT id, recording_id, status, step, attempts, last_error, started_at, completed_at
		FROM jobs WHERE status = $1
		ORDER BY started_at DESC NULLS LAST
	`
	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job  entity.Job
		step sql.NullString
	)
	err := row.Scan(&job.ID, &job.RecordingID, &job.Status, &step,
		&job.Attempts, &job.LastError, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	if step.Valid {
		s := entity.JobStep(step.String)
		job.Step = &s
	}
	return &job, nil
}

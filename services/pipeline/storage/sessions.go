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

// CreateSession inserts the session only when the recording has no other
// active one. The conditional insert takes the place of an external lock.
func (s *storage) CreateSession(ctx context.Context, session *entity.StreamingSession) error {
	log := logger.FromContext(ctx)

	if session.ID == uuid.Nil {
		session.ID = s.ids.Next()
	}

	query := `
		INSERT INTO streaming_sessions (id, recording_id, external_id, status, chunks_processed, last_activity_at, expires_at, created_at)
		SELECT $1, $2, $3, 'active', 0, now(), $4, now()
		WHERE NOT EXISTS (
			SELECT 1 FROM streaming_sessions
			WHERE recording_id = $2 AND status = 'active' AND expires_at > now()
		)
	`
	res, err := s.db.ExecContext(ctx, query, session.ID, session.RecordingID,
		session.ExternalID, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if affected == 0 {
		return ErrActiveSession
	}
	log.Info("streaming session created",
		"session_id", session.ID,
		"recording_id", session.RecordingID)

	return nil
}

func (s *storage) GetSession(ctx context.Context, id uuid.UUID) (*entity.StreamingSession, error) {
	query := `
		SELECT id, recording_id, external_id, status, chunks_processed, last_activity_at, expires_at, created_at
		FROM streaming_sessions WHERE id = $1
	`
	var session entity.StreamingSession
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.RecordingID, &session.ExternalID, &session.Status,
		&session.ChunksProcessed, &session.LastActivityAt, &session.ExpiresAt,
		&session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// TouchSession bumps the chunk counter and activity timestamp. Callers fire
// this from a detached goroutine; a failure must never block the chunk.
func (s *storage) TouchSession(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE streaming_sessions
		SET chunks_processed = chunks_processed + 1, last_activity_at = now()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (s *storage) SetSessionStatus(ctx context.Context, id uuid.UUID, status entity.SessionStatus) error {
	query := `UPDATE streaming_sessions SET status = $2 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("failed to set session status: %w", err)
	}
	return nil
}

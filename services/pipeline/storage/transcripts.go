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

// PersistTranscript replaces the transcript and every segment for the
// recording in one transaction, so a reader never observes the recording
// with zero segments mid-swap and a retried job never appends to a stale
// set.
func (s *storage) PersistTranscript(ctx context.Context, transcript *entity.Transcript, segments []entity.Segment) error {
	log := logger.FromContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM transcripts WHERE recording_id = $1`, transcript.RecordingID); err != nil {
		return fmt.Errorf("failed to delete prior transcript: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM transcript_segments WHERE recording_id = $1`, transcript.RecordingID); err != nil {
		return fmt.Errorf("failed to delete prior segments: %w", err)
	}

	if transcript.ID == uuid.Nil {
		transcript.ID = s.ids.Next()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcripts (id, recording_id, full_text, summary, external_job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, transcript.ID, transcript.RecordingID, transcript.FullText,
		transcript.Summary, transcript.ExternalJobID); err != nil {
		return fmt.Errorf("failed to insert transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_segments (id, recording_id, speaker, text, start_ms, end_ms, confidence, from_stream)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare segment insert: %w", err)
	}
	defer stmt.Close()

	for _, seg := range segments {
		id := seg.ID
		if id == uuid.Nil {
			id = s.ids.Next()
		}
		if _, err := stmt.ExecContext(ctx, id, transcript.RecordingID,
			seg.Speaker, seg.Text, seg.StartMs, seg.EndMs, seg.Confidence, false); err != nil {
			return fmt.Errorf("failed to insert segment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}
	log.Info("transcript persisted",
		"recording_id", transcript.RecordingID,
		"segments", len(segments))

	return nil
}

func (s *storage) GetTranscript(ctx context.Context, recordingID uuid.UUID) (*entity.Transcript, error) {
	query := `
		SELECT id, recording_id, full_text, summary, external_job_id, created_at
		FROM transcripts WHERE recording_id = $1
	`
	var t entity.Transcript
	err := s.db.QueryRowContext(ctx, query, recordingID).Scan(
		&t.ID, &t.RecordingID, &t.FullText, &t.Summary, &t.ExternalJobID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return &t, nil
}

func (s *storage) ListSegments(ctx context.Context, recordingID uuid.UUID) ([]entity.Segment, error) {
	query := `
		SELECT id, recording_id, speaker, text, start_ms, end_ms, confidence, from_stream
		FROM transcript_segments WHERE recording_id = $1
		ORDER BY start_ms
	`
	rows, err := s.db.QueryContext(ctx, query, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []entity.Segment
	for rows.Next() {
		var seg entity.Segment
		if err := rows.Scan(&seg.ID, &seg.RecordingID, &seg.Speaker, &seg.Text,
			&seg.StartMs, &seg.EndMs, &seg.Confidence, &seg.FromStream); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// AppendSegment adds one streaming-sourced segment. The batch pipeline
// overwrites these on completion.
func (s *storage) AppendSegment(ctx context.Context, seg *entity.Segment) error {
	if seg.ID == uuid.Nil {
		seg.ID = s.ids.Next()
	}
	query := `
		INSERT INTO transcript_segments (id, recording_id, speaker, text, start_ms, end_ms, confidence, from_stream)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
	`
	if _, err := s.db.ExecContext(ctx, query, seg.ID, seg.RecordingID,
		seg.Speaker, seg.Text, seg.StartMs, seg.EndMs, seg.Confidence); err != nil {
		return fmt.Errorf("failed to append segment: %w", err)
	}
	return nil
}

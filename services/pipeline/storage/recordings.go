package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackhunterking/legal-memo-backend/pkg/logger"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/entity"
)

func (s *storage) CreateRecording(ctx context.Context, rec *entity.Recording) error {
	log := logger.FromContext(ctx)

	if rec.ID == uuid.Nil {
		rec.ID = s.ids.Next()
	}
	if rec.Status == "" {
		rec.Status = entity.RecordingUploading
	}

	query := `
		INSERT INTO recordings (
			id, account_id, title, contact_name, contact_company, meeting_type,
			language, expected_speakers, status, raw_audio_path, duration_seconds,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.AccountID, rec.Title, rec.ContactName, rec.ContactCompany,
		rec.MeetingType, rec.Language, rec.ExpectedSpeakers, rec.Status,
		rec.RawAudioPath, rec.DurationSeconds,
	)
	if err != nil {
		log.Error("failed to create recording", "error", err)
		return fmt.Errorf("failed to create recording: %w", err)
	}

	return nil
}

func (s *storage) GetRecording(ctx context.Context, id uuid.UUID) (*entity.Recording, error) {
	query := `
		SELECT id, account_id, title, contact_name, contact_company, meeting_type,
			language, expected_speakers, detected_speakers, speaker_mismatch,
			speaker_names, status, error_message, raw_audio_path, converted_audio_path,
			duration_seconds, speech_model, used_streaming, created_at, updated_at
		FROM recordings WHERE id = $1
	`

	var (
		rec          entity.Recording
		speakerNames sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.AccountID, &rec.Title, &rec.ContactName, &rec.ContactCompany,
		&rec.MeetingType, &rec.Language, &rec.ExpectedSpeakers, &rec.DetectedSpeakers,
		&rec.SpeakerMismatch, &speakerNames, &rec.Status, &rec.ErrorMessage,
		&rec.RawAudioPath, &rec.ConvertedPath, &rec.DurationSeconds,
		&rec.SpeechModel, &rec.UsedStreaming, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}

	if speakerNames.Valid {
		if err := json.Unmarshal([]byte(speakerNames.String), &rec.SpeakerNames); err != nil {
			return nil, fmt.Errorf("failed to decode speaker names: %w", err)
		}
	}

	return &rec, nil
}

func (s *storage) UpdateRecordingStatus(ctx context.Context, id uuid.UUID, status entity.RecordingStatus, errMsg string) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE recordings SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, status, errMsg); err != nil {
		log.Error("failed to update recording status", "error", err, "status", status)
		return fmt.Errorf("failed to update recording status: %w", err)
	}
	log.Debug("recording status updated", "recording_id", id, "status", status)

	return nil
}

func (s *storage) SetConvertedPath(ctx context.Context, id uuid.UUID, path string) error {
	query := `
		UPDATE recordings SET converted_audio_path = $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, path); err != nil {
		return fmt.Errorf("failed to set converted audio path: %w", err)
	}
	return nil
}

func (s *storage) SetTranscriptionOutcome(ctx context.Context, id uuid.UUID, detected int, mismatch bool, model string) error {
	query := `
		UPDATE recordings
		SET detected_speakers = $2, speaker_mismatch = $3, speech_model = $4, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, detected, mismatch, model); err != nil {
		return fmt.Errorf("failed to set transcription outcome: %w", err)
	}
	return nil
}

// SetSpeakerNames stores the label to name mapping, or NULL when the map is
// empty. A partial mapping is never written.
func (s *storage) SetSpeakerNames(ctx context.Context, id uuid.UUID, names map[string]string) error {
	var value any
	if len(names) > 0 {
		encoded, err := json.Marshal(names)
		if err != nil {
			return fmt.Errorf("failed to encode speaker names: %w", err)
		}
		value = string(encoded)
	}

	query := `
		UPDATE recordings SET speaker_names = $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, value); err != nil {
		return fmt.Errorf("failed to set speaker names: %w", err)
	}
	return nil
}

func (s *storage) SetUsedStreaming(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE recordings SET used_streaming = TRUE, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark recording as streamed: %w", err)
	}
	return nil
}

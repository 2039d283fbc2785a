package storage

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS recordings (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		contact_name TEXT NOT NULL DEFAULT '',
		contact_company TEXT NOT NULL DEFAULT '',
		meeting_type TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'en',
		expected_speakers INT NOT NULL DEFAULT 2,
		detected_speakers INT NOT NULL DEFAULT 0,
		speaker_mismatch BOOLEAN NOT NULL DEFAULT FALSE,
		speaker_names JSONB,
		status TEXT NOT NULL DEFAULT 'uploading',
		error_message TEXT NOT NULL DEFAULT '',
		raw_audio_path TEXT NOT NULL DEFAULT '',
		converted_audio_path TEXT NOT NULL DEFAULT '',
		duration_seconds INT NOT NULL DEFAULT 0,
		speech_model TEXT NOT NULL DEFAULT '',
		used_streaming BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS recordings_status_idx ON recordings (status)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		recording_id UUID NOT NULL UNIQUE REFERENCES recordings (id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'pending',
		step TEXT,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status)`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		id UUID PRIMARY KEY,
		recording_id UUID NOT NULL UNIQUE REFERENCES recordings (id) ON DELETE CASCADE,
		full_text TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		external_job_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transcript_segments (
		id UUID PRIMARY KEY,
		recording_id UUID NOT NULL REFERENCES recordings (id) ON DELETE CASCADE,
		speaker TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		start_ms INT NOT NULL,
		end_ms INT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		from_stream BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS transcript_segments_recording_idx
		ON transcript_segments (recording_id, start_ms)`,
	`CREATE TABLE IF NOT EXISTS streaming_sessions (
		id UUID PRIMARY KEY,
		recording_id UUID NOT NULL REFERENCES recordings (id) ON DELETE CASCADE,
		external_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		chunks_processed INT NOT NULL DEFAULT 0,
		last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS usage_ledger (
		idempotency_key TEXT PRIMARY KEY,
		account_id UUID NOT NULL,
		minutes INT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates every table the pipeline needs. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

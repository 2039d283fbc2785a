package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackhunterking/legal-memo-backend/pkg/gen"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/entity"
)

var (
	// ErrNotClaimed means another worker already holds the job, or the job
	// is not in a claimable state.
	ErrNotClaimed = errors.New("job not claimable")

	// ErrActiveSession means the recording already has an active streaming
	// session.
	ErrActiveSession = errors.New("recording already has an active session")

	ErrNotFound = errors.New("not found")
)

type Storage interface {
	CreateRecording(ctx context.Context, rec *entity.Recording) error
	GetRecording(ctx context.Context, id uuid.UUID) (*entity.Recording, error)
	UpdateRecordingStatus(ctx context.Context, id uuid.UUID, status entity.RecordingStatus, errMsg string) error
	SetConvertedPath(ctx context.Context, id uuid.UUID, path string) error
	SetTranscriptionOutcome(ctx context.Context, id uuid.UUID, detected int, mismatch bool, model string) error
	SetSpeakerNames(ctx context.Context, id uuid.UUID, names map[string]string) error
	SetUsedStreaming(ctx context.Context, id uuid.UUID) error

	EnsureJob(ctx context.Context, recordingID uuid.UUID) error
	ClaimJob(ctx context.Context, recordingID uuid.UUID) (*entity.Job, error)
	SetJobStep(ctx context.Context, recordingID uuid.UUID, step entity.JobStep) error
	CompleteJob(ctx context.Context, recordingID uuid.UUID) error
	FailJob(ctx context.Context, recordingID uuid.UUID, lastError string) error
	GetJob(ctx context.Context, recordingID uuid.UUID) (*entity.Job, error)
	ListJobsByStatus(ctx context.Context, status entity.JobStatus) ([]entity.Job, error)

	PersistTranscript(ctx context.Context, transcript *entity.Transcript, segments []entity.Segment) error
	GetTranscript(ctx context.Context, recordingID uuid.UUID) (*entity.Transcript, error)
	ListSegments(ctx context.Context, recordingID uuid.UUID) ([]entity.Segment, error)
	AppendSegment(ctx context.Context, seg *entity.Segment) error

	CreateSession(ctx context.Context, session *entity.StreamingSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*entity.StreamingSession, error)
	TouchSession(ctx context.Context, id uuid.UUID) error
	SetSessionStatus(ctx context.Context, id uuid.UUID, status entity.SessionStatus) error

	RecordUsage(ctx context.Context, key string, accountID uuid.UUID, minutes int) error
}

type storage struct {
	db  *sql.DB
	ids gen.UUIDGenerator
}

func New(db *sql.DB) Storage {
	return &storage{
		db:  db,
		ids: gen.UUID(),
	}
}

package entity

import (
	"time"

	"github.com/google/uuid"
)

type RecordingStatus string

const (
	RecordingUploading    RecordingStatus = "uploading"
	RecordingQueued       RecordingStatus = "queued"
	RecordingConverting   RecordingStatus = "converting"
	RecordingTranscribing RecordingStatus = "transcribing"
	RecordingReady        RecordingStatus = "ready"
	RecordingFailed       RecordingStatus = "failed"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

type JobStep string

const (
	StepConverting   JobStep = "converting"
	StepTranscribing JobStep = "transcribing"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionExpired   SessionStatus = "expired"
)

type Recording struct {
	ID               uuid.UUID
	AccountID        uuid.UUID
	Title            string
	ContactName      string
	ContactCompany   string
	MeetingType      string
	Language         string
	ExpectedSpeakers int
	DetectedSpeakers int
	SpeakerMismatch  bool
	SpeakerNames     map[string]string
	Status           RecordingStatus
	ErrorMessage     string
	RawAudioPath     string
	ConvertedPath    string
	DurationSeconds  int
	SpeechModel      string
	UsedStreaming    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Job struct {
	ID          uuid.UUID
	RecordingID uuid.UUID
	Status      JobStatus
	Step        *JobStep
	Attempts    int
	LastError   string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

type Transcript struct {
	ID            uuid.UUID
	RecordingID   uuid.UUID
	FullText      string
	Summary       string
	ExternalJobID string
	CreatedAt     time.Time
}

type Segment struct {
	ID          uuid.UUID
	RecordingID uuid.UUID
	Speaker     string
	Text        string
	StartMs     int
	EndMs       int
	Confidence  float64
	FromStream  bool
}

type StreamingSession struct {
	ID              uuid.UUID
	RecordingID     uuid.UUID
	ExternalID      string
	Status          SessionStatus
	ChunksProcessed int
	LastActivityAt  time.Time
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Expired reports whether the session is past its expiry. There is no
// background sweeper; readers compute this lazily.
func (s *StreamingSession) Expired(now time.Time) bool {
	return s.Status == SessionActive && now.After(s.ExpiresAt)
}

type RecordingView struct {
	Recording *Recording
	Job       *Job
	Segments  []Segment
}

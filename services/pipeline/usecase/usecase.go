package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jackhunterking/legal-memo-backend/pkg/logger"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/clients/speech"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/consts"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/entity"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/media"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/storage"
)

var (
	// ErrNotRetryable means retry was requested for a recording that is not
	// in the failed state.
	ErrNotRetryable = errors.New("recording is not in a retryable state")

	// ErrAudioMissing means the raw audio is absent or empty, which is fatal
	// before any external work starts.
	ErrAudioMissing = errors.New("recording audio is missing or empty")
)

// Transcoder converts raw audio into the normalized format the speech
// service accepts.
type Transcoder interface {
	Convert(ctx context.Context, audio []byte, sourceFormat string) ([]byte, error)
}

// Transcriber runs batch transcription with diarization.
type Transcriber interface {
	Transcribe(ctx context.Context, req speech.SubmitRequest) (*speech.Result, error)
}

// Completer runs one text-generation call. Both advisory stages share it.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type Usecase interface {
	ProcessRecording(ctx context.Context, recordingID uuid.UUID) error
	Retry(ctx context.Context, recordingID uuid.UUID) error
	Status(ctx context.Context, recordingID uuid.UUID) (*entity.RecordingView, error)
	ListJobs(ctx context.Context, status entity.JobStatus) ([]entity.Job, error)
}

type usecase struct {
	storage     storage.Storage
	media       media.Store
	transcoder  Transcoder
	transcriber Transcriber
	llm         Completer
}

func New(stg storage.Storage, med media.Store, transcoder Transcoder, transcriber Transcriber, llm Completer) Usecase {
	return &usecase{
		storage:     stg,
		media:       med,
		transcoder:  transcoder,
		transcriber: transcriber,
		llm:         llm,
	}
}

// ProcessRecording drives one recording through the whole batch pipeline:
// convert, transcribe, identify speakers, summarize, persist. The job claim
// guarantees a single processor; every failure leaves the job and recording
// in failed with one human-readable message. A rerun starts from scratch:
// partial artifacts from a crashed attempt are never reused.
func (u *usecase) ProcessRecording(ctx context.Context, recordingID uuid.UUID) error {
	log := logger.With(ctx, "recording_id", recordingID.String())
	ctx = logger.WithContext(ctx, log)

	rec, err := u.storage.GetRecording(ctx, recordingID)
	if err != nil {
		return fmt.Errorf("failed to load recording: %w", err)
	}

	raw, err := u.loadRawAudio(rec)
	if err != nil {
		log.Error("raw audio check failed", "error", err)
		u.fail(ctx, recordingID, err.Error())
		return err
	}

	job, err := u.storage.ClaimJob(ctx, recordingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotClaimed) {
			log.Info("job already claimed, skipping")
			return err
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}
	log.Info("processing recording", "attempt", job.Attempts)

	if err := u.run(ctx, rec, raw); err != nil {
		u.fail(ctx, recordingID, err.Error())
		return err
	}

	if err := u.storage.CompleteJob(ctx, recordingID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if err := u.storage.UpdateRecordingStatus(ctx, recordingID, entity.RecordingReady, ""); err != nil {
		return fmt.Errorf("failed to mark recording ready: %w", err)
	}
	log.Info("recording ready")

	u.recordUsage(ctx, rec)

	return nil
}

func (u *usecase) run(ctx context.Context, rec *entity.Recording, raw []byte) error {
	log := logger.FromContext(ctx)

	// Stage 1: convert. The claim already set step=converting.
	if err := u.storage.UpdateRecordingStatus(ctx, rec.ID, entity.RecordingConverting, ""); err != nil {
		return fmt.Errorf("failed to update recording status: %w", err)
	}

	converted, err := u.transcoder.Convert(ctx, raw, sourceFormat(rec.RawAudioPath))
	if err != nil {
		return err
	}

	// Persist the normalized audio before moving on, so a crash past this
	// point never re-transcodes.
	convertedPath, err := u.media.Write(rec.ID.String()+"."+consts.FormatM4A, converted)
	if err != nil {
		return fmt.Errorf("failed to store converted audio: %w", err)
	}
	if err := u.storage.SetConvertedPath(ctx, rec.ID, convertedPath); err != nil {
		return err
	}
	log.Debug("converted audio stored", "path", convertedPath)

	// Stage 2: transcribe + diarize.
	if err := u.storage.SetJobStep(ctx, rec.ID, entity.StepTranscribing); err != nil {
		return err
	}
	if err := u.storage.UpdateRecordingStatus(ctx, rec.ID, entity.RecordingTranscribing, ""); err != nil {
		return err
	}

	audioURL, err := u.media.SignedURL(convertedPath, consts.SignedURLTTL)
	if err != nil {
		return fmt.Errorf("failed to sign audio url: %w", err)
	}

	language := rec.Language
	if language == "" {
		language = consts.DefaultLanguage
	}
	result, err := u.transcriber.Transcribe(ctx, speech.SubmitRequest{
		AudioURL:         audioURL,
		ExpectedSpeakers: rec.ExpectedSpeakers,
		Language:         language,
		Model:            speech.ChooseModel(language),
	})
	if err != nil {
		return err
	}

	// Speaker-count mismatch is informational: it never alters labels and
	// never fails the job.
	detected := result.DistinctSpeakers()
	mismatch := rec.ExpectedSpeakers > 0 && detected != rec.ExpectedSpeakers
	if err := u.storage.SetTranscriptionOutcome(ctx, rec.ID, detected, mismatch, result.Model); err != nil {
		return err
	}
	if mismatch {
		log.Warn("speaker count mismatch",
			"expected", rec.ExpectedSpeakers,
			"detected", detected)
	}

	// Stage 3: advisory speaker identification.
	names := u.enhanceSpeakers(ctx, rec, result.Text)
	if err := u.storage.SetSpeakerNames(ctx, rec.ID, names); err != nil {
		return err
	}

	// Stage 4: summarize (sentinel text on failure, never an error).
	summary := u.summarize(ctx, rec, result, names)

	// Stage 5: persist the authoritative transcript and segment set.
	segments := make([]entity.Segment, 0, len(result.Utterances))
	for _, utt := range result.Utterances {
		segments = append(segments, entity.Segment{
			RecordingID: rec.ID,
			Speaker:     utt.Speaker,
			Text:        utt.Text,
			StartMs:     utt.StartMs,
			EndMs:       utt.EndMs,
			Confidence:  utt.Confidence,
		})
	}
	transcript := &entity.Transcript{
		RecordingID:   rec.ID,
		FullText:      result.Text,
		Summary:       summary,
		ExternalJobID: result.ID,
	}
	if err := u.storage.PersistTranscript(ctx, transcript, segments); err != nil {
		return err
	}

	return nil
}

// Retry re-enters the pipeline from queued. Only failed recordings qualify.
func (u *usecase) Retry(ctx context.Context, recordingID uuid.UUID) error {
	rec, err := u.storage.GetRecording(ctx, recordingID)
	if err != nil {
		return fmt.Errorf("failed to load recording: %w", err)
	}
	if rec.Status != entity.RecordingFailed {
		return ErrNotRetryable
	}

	if err := u.storage.UpdateRecordingStatus(ctx, recordingID, entity.RecordingQueued, ""); err != nil {
		return err
	}
	return u.ProcessRecording(ctx, recordingID)
}

func (u *usecase) Status(ctx context.Context, recordingID uuid.UUID) (*entity.RecordingView, error) {
	rec, err := u.storage.GetRecording(ctx, recordingID)
	if err != nil {
		return nil, err
	}

	job, err := u.storage.GetJob(ctx, recordingID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	segments, err := u.storage.ListSegments(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	// Render stored speaker names over the anonymous labels.
	for i := range segments {
		if name, ok := rec.SpeakerNames[segments[i].Speaker]; ok {
			segments[i].Speaker = name
		}
	}

	return &entity.RecordingView{Recording: rec, Job: job, Segments: segments}, nil
}

func (u *usecase) ListJobs(ctx context.Context, status entity.JobStatus) ([]entity.Job, error) {
	return u.storage.ListJobsByStatus(ctx, status)
}

func (u *usecase) loadRawAudio(rec *entity.Recording) ([]byte, error) {
	if rec.RawAudioPath == "" {
		return nil, ErrAudioMissing
	}
	raw, err := u.media.Read(rec.RawAudioPath)
	if err != nil || len(raw) == 0 {
		return nil, ErrAudioMissing
	}
	return raw, nil
}

// fail moves the job and the recording to failed with the same message. The
// message is what the end user sees.
func (u *usecase) fail(ctx context.Context, recordingID uuid.UUID, msg string) {
	log := logger.FromContext(ctx)
	if err := u.storage.FailJob(ctx, recordingID, msg); err != nil {
		log.Error("failed to mark job failed", "error", err)
	}
	if err := u.storage.UpdateRecordingStatus(ctx, recordingID, entity.RecordingFailed, msg); err != nil {
		log.Error("failed to mark recording failed", "error", err)
	}
	log.Warn("recording failed", "message", msg)
}

// recordUsage charges whole minutes, rounded up. Best-effort: a billing
// write failure is logged, never surfaced.
func (u *usecase) recordUsage(ctx context.Context, rec *entity.Recording) {
	log := logger.FromContext(ctx)

	minutes := billableMinutes(rec.DurationSeconds)
	if minutes == 0 {
		return
	}

	key := "usage:" + rec.ID.String()
	if err := u.storage.RecordUsage(ctx, key, rec.AccountID, minutes); err != nil {
		log.Error("failed to record usage", "error", err, "minutes", minutes)
		return
	}
	log.Info("usage recorded", "minutes", minutes)
}

func billableMinutes(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}

func sourceFormat(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return consts.FormatM4A
	}
	return strings.ToLower(ext)
}

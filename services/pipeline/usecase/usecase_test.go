package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackhunterking/legal-memo-backend/services/pipeline/clients/speech"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/entity"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/storage"
)

// fakeStore is an in-memory Storage covering the methods the pipeline
// exercises. Claim semantics mirror the conditional update in the real
// store.
type fakeStore struct {
	mu          sync.Mutex
	recordings  map[uuid.UUID]*entity.Recording
	jobs        map[uuid.UUID]*entity.Job
	transcripts map[uuid.UUID]*entity.Transcript
	segments    map[uuid.UUID][]entity.Segment
	usage       map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		recordings:  make(map[uuid.UUID]*entity.Recording),
		jobs:        make(map[uuid.UUID]*entity.Job),
		transcripts: make(map[uuid.UUID]*entity.Transcript),
		segments:    make(map[uuid.UUID][]entity.Segment),
		usage:       make(map[string]int),
	}
}

func (f *fakeStore) CreateRecording(_ context.Context, rec *entity.Recording) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	f.recordings[rec.ID] = rec
	return nil
}

func (f *fakeStore) GetRecording(_ context.Context, id uuid.UUID) (*entity.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recordings[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) UpdateRecordingStatus(_ context.Context, id uuid.UUID, status entity.RecordingStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recordings[id]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.ErrorMessage = errMsg
	return nil
}

func (f *fakeStore) SetConvertedPath(_ context.Context, id uuid.UUID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recordings[id]; ok {
		rec.ConvertedPath = path
	}
	return nil
}

func (f *fakeStore) SetTranscriptionOutcome(_ context.Context, id uuid.UUID, detected int, mismatch bool, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recordings[id]; ok {
		rec.DetectedSpeakers = detected
		rec.SpeakerMismatch = mismatch
		rec.SpeechModel = model
	}
	return nil
}

func (f *fakeStore) SetSpeakerNames(_ context.Context, id uuid.UUID, names map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recordings[id]; ok {
		rec.SpeakerNames = names
	}
	return nil
}

func (f *fakeStore) SetUsedStreaming(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recordings[id]; ok {
		rec.UsedStreaming = true
	}
	return nil
}

func (f *fakeStore) EnsureJob(_ context.Context, recordingID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[recordingID]; !ok {
		f.jobs[recordingID] = &entity.Job{
			ID:          uuid.New(),
			RecordingID: recordingID,
			Status:      entity.JobPending,
		}
	}
	return nil
}

func (f *fakeStore) ClaimJob(_ context.Context, recordingID uuid.UUID) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[recordingID]
	if !ok || (job.Status != entity.JobPending && job.Status != entity.JobFailed) {
		return nil, storage.ErrNotClaimed
	}
	now := time.Now()
	step := entity.StepConverting
	job.Status = entity.JobProcessing
	job.Step = &step
	job.Attempts++
	job.StartedAt = &now
	cp := *job
	return &cp, nil
}

func (f *fakeStore) SetJobStep(_ context.Context, recordingID uuid.UUID, step entity.JobStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[recordingID]; ok {
		job.Step = &step
	}
	return nil
}

func (f *fakeStore) CompleteJob(_ context.Context, recordingID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[recordingID]; ok {
		now := time.Now()
		job.Status = entity.JobCompleted
		job.CompletedAt = &now
	}
	return nil
}

func (f *fakeStore) FailJob(_ context.Context, recordingID uuid.UUID, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[recordingID]; ok {
		job.Status = entity.JobFailed
		job.LastError = lastError
	}
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, recordingID uuid.UUID) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[recordingID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) ListJobsByStatus(_ context.Context, status entity.JobStatus) ([]entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.Job
	for _, job := range f.jobs {
		if job.Status == status {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (f *fakeStore) PersistTranscript(_ context.Context, transcript *entity.Transcript, segments []entity.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[transcript.RecordingID] = transcript
	f.segments[transcript.RecordingID] = append([]entity.Segment(nil), segments...)
	return nil
}

func (f *fakeStore) GetTranscript(_ context.Context, recordingID uuid.UUID) (*entity.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.transcripts[recordingID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return tr, nil
}

func (f *fakeStore) ListSegments(_ context.Context, recordingID uuid.UUID) ([]entity.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.Segment(nil), f.segments[recordingID]...), nil
}

func (f *fakeStore) AppendSegment(_ context.Context, seg *entity.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments[seg.RecordingID] = append(f.segments[seg.RecordingID], *seg)
	return nil
}

func (f *fakeStore) CreateSession(context.Context, *entity.StreamingSession) error {
	return nil
}

func (f *fakeStore) GetSession(context.Context, uuid.UUID) (*entity.StreamingSession, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeStore) TouchSession(context.Context, uuid.UUID) error { return nil }

func (f *fakeStore) SetSessionStatus(context.Context, uuid.UUID, entity.SessionStatus) error {
	return nil
}

func (f *fakeStore) RecordUsage(_ context.Context, key string, _ uuid.UUID, minutes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.usage[key]; ok {
		return nil
	}
	f.usage[key] = minutes
	return nil
}

type fakeMedia struct {
	files map[string][]byte
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{files: make(map[string][]byte)}
}

func (m *fakeMedia) Write(name string, data []byte) (string, error) {
	m.files[name] = data
	return name, nil
}

func (m *fakeMedia) Read(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return data, nil
}

func (m *fakeMedia) SignedURL(path string, _ time.Duration) (string, error) {
	return "https://media.test/" + path, nil
}

type fakeTranscoder struct {
	out     []byte
	err     error
	calls   int
	formats []string
}

func (t *fakeTranscoder) Convert(_ context.Context, _ []byte, sourceFormat string) ([]byte, error) {
	t.calls++
	t.formats = append(t.formats, sourceFormat)
	if t.err != nil {
		return nil, t.err
	}
	return t.out, nil
}

type fakeTranscriber struct {
	result *speech.Result
	err    error
	calls  int
	lastRq speech.SubmitRequest
}

func (t *fakeTranscriber) Transcribe(_ context.Context, req speech.SubmitRequest) (*speech.Result, error) {
	t.calls++
	t.lastRq = req
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}

// fakeCompleter replays canned responses in call order: first the speaker
// stage, then the summary stage.
type fakeCompleter struct {
	responses []string
	errs      []error
	calls     int
}

func (c *fakeCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", fmt.Errorf("unexpected completion call %d", i)
}

type fixture struct {
	store       *fakeStore
	media       *fakeMedia
	transcoder  *fakeTranscoder
	transcriber *fakeTranscriber
	completer   *fakeCompleter
	usecase     Usecase
	recording   *entity.Recording
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newFakeStore()
	med := newFakeMedia()
	med.files["raw/rec.webm"] = []byte("raw-audio-bytes")

	rec := &entity.Recording{
		ID:               uuid.New(),
		AccountID:        uuid.New(),
		Title:            "Initial consultation",
		ContactName:      "Dana Reyes",
		ContactCompany:   "Reyes Holdings",
		Language:         "en",
		ExpectedSpeakers: 2,
		Status:           entity.RecordingQueued,
		RawAudioPath:     "raw/rec.webm",
		DurationSeconds:  90,
	}
	require.NoError(t, store.CreateRecording(context.Background(), rec))
	require.NoError(t, store.EnsureJob(context.Background(), rec.ID))

	transcoder := &fakeTranscoder{out: []byte("normalized-audio")}
	transcriber := &fakeTranscriber{
		result: &speech.Result{
			ID:    "ext-123",
			Text:  "Hi, this is Dana Reyes. Thanks for taking the call.",
			Model: speech.ModelEnglish,
			Utterances: []speech.Utterance{
				{Speaker: "A", Text: "Hi, this is Dana Reyes.", StartMs: 0, EndMs: 2100, Confidence: 0.95},
				{Speaker: "B", Text: "Thanks for taking the call.", StartMs: 2300, EndMs: 4000, Confidence: 0.91},
			},
		},
	}
	completer := &fakeCompleter{
		responses: []string{
			`{"A": "Dana Reyes", "B": "Attorney"}`,
			"## Summary\nIntroductory call.",
		},
	}

	return &fixture{
		store:       store,
		media:       med,
		transcoder:  transcoder,
		transcriber: transcriber,
		completer:   completer,
		usecase:     New(store, med, transcoder, transcriber, completer),
		recording:   rec,
	}
}

func TestProcessRecordingHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.usecase.ProcessRecording(ctx, f.recording.ID))

	rec, err := f.store.GetRecording(ctx, f.recording.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RecordingReady, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
	assert.Equal(t, 2, rec.DetectedSpeakers)
	assert.False(t, rec.SpeakerMismatch)
	assert.Equal(t, speech.ModelEnglish, rec.SpeechModel)
	assert.Equal(t, map[string]string{"A": "Dana Reyes", "B": "Attorney"}, rec.SpeakerNames)
	assert.NotEmpty(t, rec.ConvertedPath)

	job, err := f.store.GetJob(ctx, f.recording.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)

	tr, err := f.store.GetTranscript(ctx, f.recording.ID)
	require.NoError(t, err)
	assert.Equal(t, "ext-123", tr.ExternalJobID)
	assert.Equal(t, "## Summary\nIntroductory call.", tr.Summary)

	segments, err := f.store.ListSegments(ctx, f.recording.ID)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "A", segments[0].Speaker)
	assert.False(t, segments[0].FromStream)

	// 90 seconds rounds up to two billable minutes.
	assert.Equal(t, 2, f.store.usage["usage:"+f.recording.ID.String()])

	// Source format came from the raw file extension.
	require.Len(t, f.transcoder.formats, 1)
	assert.Equal(t, "webm", f.transcoder.formats[0])

	// The speech request carried the signed URL and the english model.
	assert.Contains(t, f.transcriber.lastRq.AudioURL, "https://media.test/")
	assert.Equal(t, speech.ModelEnglish, f.transcriber.lastRq.Model)
	assert.Equal(t, 2, f.transcriber.lastRq.ExpectedSpeakers)
}

func TestProcessRecordingMissingAudio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.recordings[f.recording.ID].RawAudioPath = ""

	err := f.usecase.ProcessRecording(ctx, f.recording.ID)
	require.ErrorIs(t, err, ErrAudioMissing)

	rec, _ := f.store.GetRecording(ctx, f.recording.ID)
	assert.Equal(t, entity.RecordingFailed, rec.Status)
	assert.NotEmpty(t, rec.ErrorMessage)

	job, _ := f.store.GetJob(ctx, f.recording.ID)
	assert.Equal(t, entity.JobFailed, job.Status)

	assert.Zero(t, f.transcoder.calls)
	assert.Zero(t, f.transcriber.calls)
}

func TestProcessRecordingConversionFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.transcoder.err = errors.New("conversion failed: unsupported codec")

	err := f.usecase.ProcessRecording(ctx, f.recording.ID)
	require.Error(t, err)

	rec, _ := f.store.GetRecording(ctx, f.recording.ID)
	assert.Equal(t, entity.RecordingFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "conversion failed")

	// Nothing downstream of the failed stage ran or persisted.
	assert.Zero(t, f.transcriber.calls)
	_, err = f.store.GetTranscript(ctx, f.recording.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	segments, _ := f.store.ListSegments(ctx, f.recording.ID)
	assert.Empty(t, segments)

	// A failed run bills nothing.
	assert.Empty(t, f.store.usage)
}

func TestProcessRecordingAlreadyClaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.jobs[f.recording.ID].Status = entity.JobProcessing

	err := f.usecase.ProcessRecording(ctx, f.recording.ID)
	require.ErrorIs(t, err, storage.ErrNotClaimed)
	assert.Zero(t, f.transcoder.calls)
}

func TestProcessRecordingSpeakerMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.recordings[f.recording.ID].ExpectedSpeakers = 3

	require.NoError(t, f.usecase.ProcessRecording(ctx, f.recording.ID))

	rec, _ := f.store.GetRecording(ctx, f.recording.ID)
	assert.Equal(t, entity.RecordingReady, rec.Status, "mismatch must not fail the run")
	assert.True(t, rec.SpeakerMismatch)
	assert.Equal(t, 2, rec.DetectedSpeakers)

	// Labels stay as diarized; the mismatch is advisory only.
	segments, _ := f.store.ListSegments(ctx, f.recording.ID)
	assert.Equal(t, "A", segments[0].Speaker)
	assert.Equal(t, "B", segments[1].Speaker)
}

func TestProcessRecordingNoExpectedSpeakers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.recordings[f.recording.ID].ExpectedSpeakers = 0

	require.NoError(t, f.usecase.ProcessRecording(ctx, f.recording.ID))

	rec, _ := f.store.GetRecording(ctx, f.recording.ID)
	assert.False(t, rec.SpeakerMismatch, "zero expected means no mismatch check")
}

func TestAdvisoryStagesNeverFailTheRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.completer.responses = nil
	f.completer.errs = []error{
		errors.New("llm unavailable"),
		errors.New("llm unavailable"),
	}

	require.NoError(t, f.usecase.ProcessRecording(ctx, f.recording.ID))

	rec, _ := f.store.GetRecording(ctx, f.recording.ID)
	assert.Equal(t, entity.RecordingReady, rec.Status)
	assert.Nil(t, rec.SpeakerNames)

	tr, err := f.store.GetTranscript(ctx, f.recording.ID)
	require.NoError(t, err)
	assert.Equal(t, SummaryUnavailable, tr.Summary)
}

func TestRetryOnlyFromFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.usecase.Retry(ctx, f.recording.ID)
	assert.ErrorIs(t, err, ErrNotRetryable, "queued recording is not retryable")

	f.store.recordings[f.recording.ID].Status = entity.RecordingFailed
	f.store.jobs[f.recording.ID].Status = entity.JobFailed

	require.NoError(t, f.usecase.Retry(ctx, f.recording.ID))

	rec, _ := f.store.GetRecording(ctx, f.recording.ID)
	assert.Equal(t, entity.RecordingReady, rec.Status)
	job, _ := f.store.GetJob(ctx, f.recording.ID)
	assert.Equal(t, entity.JobCompleted, job.Status)
}

func TestRetryReplacesSegments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.usecase.ProcessRecording(ctx, f.recording.ID))
	first, _ := f.store.ListSegments(ctx, f.recording.ID)
	require.Len(t, first, 2)

	// Force a second full run with a different diarization outcome.
	f.store.recordings[f.recording.ID].Status = entity.RecordingFailed
	f.store.jobs[f.recording.ID].Status = entity.JobFailed
	f.transcriber.result = &speech.Result{
		ID:    "ext-456",
		Text:  "Only one voice this time.",
		Model: speech.ModelEnglish,
		Utterances: []speech.Utterance{
			{Speaker: "A", Text: "Only one voice this time.", StartMs: 0, EndMs: 1800, Confidence: 0.9},
		},
	}
	f.completer.calls = 0
	f.completer.responses = []string{
		`{"A": "Dana Reyes"}`,
		"## Summary\nFollow-up call.",
	}

	require.NoError(t, f.usecase.Retry(ctx, f.recording.ID))

	second, _ := f.store.ListSegments(ctx, f.recording.ID)
	require.Len(t, second, 1, "rerun replaces the segment set, never appends")
	tr, _ := f.store.GetTranscript(ctx, f.recording.ID)
	assert.Equal(t, "ext-456", tr.ExternalJobID)
}

func TestStatusRendersSpeakerNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.usecase.ProcessRecording(ctx, f.recording.ID))

	view, err := f.usecase.Status(ctx, f.recording.ID)
	require.NoError(t, err)
	require.Len(t, view.Segments, 2)
	assert.Equal(t, "Dana Reyes", view.Segments[0].Speaker)
	assert.Equal(t, "Attorney", view.Segments[1].Speaker)

	// Stored rows keep the anonymous labels.
	stored, _ := f.store.ListSegments(ctx, f.recording.ID)
	assert.Equal(t, "A", stored[0].Speaker)
}

func TestBillableMinutes(t *testing.T) {
	cases := []struct {
		seconds int
		want    int
	}{
		{0, 0},
		{-10, 0},
		{1, 1},
		{59, 1},
		{60, 1},
		{61, 2},
		{90, 2},
		{3600, 60},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, billableMinutes(tc.seconds), "seconds=%d", tc.seconds)
	}
}

func TestSourceFormat(t *testing.T) {
	assert.Equal(t, "webm", sourceFormat("raw/rec.webm"))
	assert.Equal(t, "mp3", sourceFormat("audio.MP3"))
	assert.Equal(t, "m4a", sourceFormat("noextension"))
}

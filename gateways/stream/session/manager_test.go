package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackhunterking/legal-memo-backend/gateways/stream/clients/realtime"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/consts"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/entity"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/storage"
)

// fakeSessionStore covers the storage surface the manager touches.
type fakeSessionStore struct {
	mu         sync.Mutex
	recordings map[uuid.UUID]*entity.Recording
	sessions   map[uuid.UUID]*entity.StreamingSession
	segments   []entity.Segment
	touches    int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		recordings: make(map[uuid.UUID]*entity.Recording),
		sessions:   make(map[uuid.UUID]*entity.StreamingSession),
	}
}

func (f *fakeSessionStore) CreateRecording(_ context.Context, rec *entity.Recording) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordings[rec.ID] = rec
	return nil
}

func (f *fakeSessionStore) GetRecording(_ context.Context, id uuid.UUID) (*entity.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recordings[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeSessionStore) UpdateRecordingStatus(context.Context, uuid.UUID, entity.RecordingStatus, string) error {
	return nil
}

func (f *fakeSessionStore) SetConvertedPath(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeSessionStore) SetTranscriptionOutcome(context.Context, uuid.UUID, int, bool, string) error {
	return nil
}

func (f *fakeSessionStore) SetSpeakerNames(context.Context, uuid.UUID, map[string]string) error {
	return nil
}

func (f *fakeSessionStore) SetUsedStreaming(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recordings[id]; ok {
		rec.UsedStreaming = true
	}
	return nil
}

func (f *fakeSessionStore) EnsureJob(context.Context, uuid.UUID) error { return nil }

func (f *fakeSessionStore) ClaimJob(context.Context, uuid.UUID) (*entity.Job, error) {
	return nil, storage.ErrNotClaimed
}

func (f *fakeSessionStore) SetJobStep(context.Context, uuid.UUID, entity.JobStep) error { return nil }
func (f *fakeSessionStore) CompleteJob(context.Context, uuid.UUID) error                { return nil }
func (f *fakeSessionStore) FailJob(context.Context, uuid.UUID, string) error            { return nil }

func (f *fakeSessionStore) GetJob(context.Context, uuid.UUID) (*entity.Job, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeSessionStore) ListJobsByStatus(context.Context, entity.JobStatus) ([]entity.Job, error) {
	return nil, nil
}

func (f *fakeSessionStore) PersistTranscript(context.Context, *entity.Transcript, []entity.Segment) error {
	return nil
}

func (f *fakeSessionStore) GetTranscript(context.Context, uuid.UUID) (*entity.Transcript, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeSessionStore) ListSegments(context.Context, uuid.UUID) ([]entity.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.Segment(nil), f.segments...), nil
}

func (f *fakeSessionStore) AppendSegment(_ context.Context, seg *entity.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, *seg)
	return nil
}

func (f *fakeSessionStore) CreateSession(_ context.Context, session *entity.StreamingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.RecordingID == session.RecordingID && s.Status == entity.SessionActive {
			return storage.ErrActiveSession
		}
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.Status = entity.SessionActive
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeSessionStore) GetSession(_ context.Context, id uuid.UUID) (*entity.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) TouchSession(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.ChunksProcessed++
		s.LastActivityAt = time.Now()
		f.touches++
	}
	return nil
}

func (f *fakeSessionStore) SetSessionStatus(_ context.Context, id uuid.UUID, status entity.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeSessionStore) RecordUsage(context.Context, string, uuid.UUID, int) error { return nil }

type fakeRelayer struct {
	results []*realtime.RelayResult
	err     error
	calls   int
}

func (r *fakeRelayer) RelayChunk(context.Context, []byte) (*realtime.RelayResult, error) {
	i := r.calls
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if i < len(r.results) {
		return r.results[i], nil
	}
	return &realtime.RelayResult{}, nil
}

type fakeChunkTranscoder struct {
	calls int
	err   error
}

func (t *fakeChunkTranscoder) Convert(_ context.Context, audio []byte, _ string) ([]byte, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return audio, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startedSession(t *testing.T) (*Manager, *fakeSessionStore, *fakeRelayer, *fakeChunkTranscoder, *entity.StreamingSession, uuid.UUID) {
	t.Helper()

	store := newFakeSessionStore()
	relayer := &fakeRelayer{}
	tc := &fakeChunkTranscoder{}
	mgr := New(store, relayer, tc, testLogger())

	accountID := uuid.New()
	rec := &entity.Recording{ID: uuid.New(), AccountID: accountID, Status: entity.RecordingUploading}
	require.NoError(t, store.CreateRecording(context.Background(), rec))

	sess, err := mgr.Start(context.Background(), rec.ID, accountID)
	require.NoError(t, err)

	return mgr, store, relayer, tc, sess, accountID
}

func TestStartRejectsForeignRecording(t *testing.T) {
	store := newFakeSessionStore()
	mgr := New(store, &fakeRelayer{}, &fakeChunkTranscoder{}, testLogger())

	rec := &entity.Recording{ID: uuid.New(), AccountID: uuid.New()}
	require.NoError(t, store.CreateRecording(context.Background(), rec))

	_, err := mgr.Start(context.Background(), rec.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestStartRejectsSecondActiveSession(t *testing.T) {
	mgr, store, _, _, _, accountID := startedSession(t)

	var recID uuid.UUID
	for id := range store.recordings {
		recID = id
	}
	_, err := mgr.Start(context.Background(), recID, accountID)
	assert.ErrorIs(t, err, storage.ErrActiveSession)
}

func TestProcessChunkAccumulatesTurns(t *testing.T) {
	mgr, store, relayer, tc, sess, _ := startedSession(t)
	relayer.results = []*realtime.RelayResult{
		{Finals: []realtime.Final{
			{Speaker: "A", Text: "Hello", StartMs: 0, EndMs: 900, Confidence: 0.9},
		}},
		{Finals: []realtime.Final{
			{Speaker: "A", Text: "there", StartMs: 1500, EndMs: 2000, Confidence: 0.7},
			{Speaker: "B", Text: "Hi", StartMs: 2100, EndMs: 2400, Confidence: 0.95},
		}},
	}

	res, err := mgr.ProcessChunk(context.Background(), sess.ID, []byte("pcm"), "wav")
	require.NoError(t, err)
	require.Len(t, res.Turns, 1)

	res, err = mgr.ProcessChunk(context.Background(), sess.ID, []byte("pcm"), "wav")
	require.NoError(t, err)
	require.Len(t, res.Turns, 2)
	assert.Equal(t, "Hello there", res.Turns[0].Text)
	assert.Equal(t, "Hi", res.Turns[1].Text)

	// wav chunks are never converted.
	assert.Zero(t, tc.calls)

	// Every final landed in the shared segment store, marked as streamed.
	segments, _ := store.ListSegments(context.Background(), uuid.Nil)
	require.Len(t, segments, 3)
	for _, seg := range segments {
		assert.True(t, seg.FromStream)
		assert.Equal(t, sess.RecordingID, seg.RecordingID)
	}
}

func TestProcessChunkConvertsCompressedAudio(t *testing.T) {
	mgr, _, _, tc, sess, _ := startedSession(t)

	_, err := mgr.ProcessChunk(context.Background(), sess.ID, []byte("opus"), "webm")
	require.NoError(t, err)
	assert.Equal(t, 1, tc.calls)
}

func TestProcessChunkPartialClearedByFinal(t *testing.T) {
	mgr, _, relayer, _, sess, _ := startedSession(t)
	relayer.results = []*realtime.RelayResult{
		{Partial: "Hel"},
		{Partial: "Hello th"},
		{Finals: []realtime.Final{{Speaker: "A", Text: "Hello there", StartMs: 0, EndMs: 2000, Confidence: 0.9}}},
	}

	res, err := mgr.ProcessChunk(context.Background(), sess.ID, []byte("a"), "wav")
	require.NoError(t, err)
	assert.Equal(t, "Hel", res.Partial)

	res, err = mgr.ProcessChunk(context.Background(), sess.ID, []byte("a"), "wav")
	require.NoError(t, err)
	assert.Equal(t, "Hello th", res.Partial, "newer partial replaces the old one wholesale")

	res, err = mgr.ProcessChunk(context.Background(), sess.ID, []byte("a"), "wav")
	require.NoError(t, err)
	assert.Empty(t, res.Partial, "a finalized turn clears the partial")
	require.Len(t, res.Turns, 1)
}

func TestProcessChunkRelayFailureKeepsSessionAlive(t *testing.T) {
	mgr, store, relayer, _, sess, _ := startedSession(t)
	relayer.err = errors.New("dial failed")

	res, err := mgr.ProcessChunk(context.Background(), sess.ID, []byte("a"), "wav")
	require.NoError(t, err, "a failed chunk is skipped, not fatal")
	assert.Empty(t, res.Turns)

	got, _ := store.GetSession(context.Background(), sess.ID)
	assert.Equal(t, entity.SessionActive, got.Status)

	// The next chunk goes through once the relay recovers.
	relayer.err = nil
	relayer.results = []*realtime.RelayResult{
		{Finals: []realtime.Final{{Speaker: "A", Text: "Back", StartMs: 0, EndMs: 500, Confidence: 0.9}}},
	}
	relayer.calls = 0
	res, err = mgr.ProcessChunk(context.Background(), sess.ID, []byte("a"), "wav")
	require.NoError(t, err)
	require.Len(t, res.Turns, 1)
}

func TestProcessChunkExpiredSession(t *testing.T) {
	mgr, store, _, _, sess, _ := startedSession(t)
	store.sessions[sess.ID].ExpiresAt = time.Now().Add(-time.Minute)

	_, err := mgr.ProcessChunk(context.Background(), sess.ID, []byte("a"), "wav")
	require.ErrorIs(t, err, ErrSessionExpired)

	got, _ := store.GetSession(context.Background(), sess.ID)
	assert.Equal(t, entity.SessionExpired, got.Status)

	// Once expired the session never accepts chunks again.
	_, err = mgr.ProcessChunk(context.Background(), sess.ID, []byte("a"), "wav")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestStopCompletesSessionAndMarksRecording(t *testing.T) {
	mgr, store, _, _, sess, _ := startedSession(t)

	stopped, err := mgr.Stop(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionCompleted, stopped.Status)

	rec, _ := store.GetRecording(context.Background(), sess.RecordingID)
	assert.True(t, rec.UsedStreaming)

	// A completed session can be started again for the same recording.
	_, err = mgr.Start(context.Background(), sess.RecordingID, rec.AccountID)
	assert.NoError(t, err)
}

func TestSessionTTLMatchesPolicy(t *testing.T) {
	_, _, _, _, sess, _ := startedSession(t)
	remaining := time.Until(sess.ExpiresAt)
	assert.InDelta(t, consts.SessionTTL.Seconds(), remaining.Seconds(), 5)
}

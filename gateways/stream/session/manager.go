// Package session tracks live transcription sessions: lifecycle against the
// shared store, per-chunk relay to the speech service, and in-memory turn
// accumulation.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackhunterking/legal-memo-backend/gateways/stream/clients/realtime"
	"github.com/jackhunterking/legal-memo-backend/pkg/logger"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/consts"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/entity"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/storage"
)

var (
	ErrNotOwner       = errors.New("recording does not belong to this account")
	ErrSessionExpired = errors.New("session has expired")
	ErrSessionClosed  = errors.New("session is not active")
)

// Relayer sends one audio chunk over the duplex connection and returns
// whatever the service produced for it.
type Relayer interface {
	RelayChunk(ctx context.Context, audio []byte) (*realtime.RelayResult, error)
}

// Transcoder converts a compressed chunk to the raw sample format the
// streaming service requires. Same external service as the batch path.
type Transcoder interface {
	Convert(ctx context.Context, audio []byte, sourceFormat string) ([]byte, error)
}

// ChunkResult is what one chunk produced: the latest partial text and the
// full accumulated turn list.
type ChunkResult struct {
	Partial string `json:"partial"`
	Turns   []Turn `json:"turns"`
}

type Manager struct {
	storage    storage.Storage
	relayer    Relayer
	transcoder Transcoder
	log        *slog.Logger

	mu     sync.Mutex
	states map[uuid.UUID]*sessionState
}

type sessionState struct {
	recordingID uuid.UUID
	turns       []Turn
	partial     string
	// persisted counts how many finals were already appended to storage,
	// so the authoritative batch overwrite later has nothing to dedupe.
	persisted int
}

func New(stg storage.Storage, relayer Relayer, transcoder Transcoder, log *slog.Logger) *Manager {
	return &Manager{
		storage:    stg,
		relayer:    relayer,
		transcoder: transcoder,
		log:        log,
		states:     make(map[uuid.UUID]*sessionState),
	}
}

// Start validates ownership and opens a session. The streaming entry point
// re-validates ownership itself because it does not sit behind the batch
// trigger's upstream checks.
func (m *Manager) Start(ctx context.Context, recordingID, accountID uuid.UUID) (*entity.StreamingSession, error) {
	log := logger.FromContext(ctx)

	rec, err := m.storage.GetRecording(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	if rec.AccountID != accountID {
		log.Warn("session start rejected",
			"recording_id", recordingID,
			"account_id", accountID)
		return nil, ErrNotOwner
	}

	session := &entity.StreamingSession{
		RecordingID: recordingID,
		ExpiresAt:   time.Now().Add(consts.SessionTTL),
	}
	if err := m.storage.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	session.Status = entity.SessionActive

	m.mu.Lock()
	m.states[session.ID] = &sessionState{recordingID: recordingID}
	m.mu.Unlock()

	log.Info("streaming session started",
		"session_id", session.ID,
		"recording_id", recordingID)

	return session, nil
}

// ProcessChunk relays one audio chunk and folds its results into the
// session's turn list. A failed relay yields empty results for this chunk
// only; the session stays alive.
func (m *Manager) ProcessChunk(ctx context.Context, sessionID uuid.UUID, audio []byte, format string) (*ChunkResult, error) {
	log := logger.FromContext(ctx)

	session, err := m.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Expired(time.Now()) {
		// Expiry is lazy: the first reader past the deadline marks it.
		if err := m.storage.SetSessionStatus(ctx, sessionID, entity.SessionExpired); err != nil {
			log.Error("failed to mark session expired", "error", err)
		}
		return nil, ErrSessionExpired
	}
	if session.Status != entity.SessionActive {
		return nil, ErrSessionClosed
	}

	if needsConversion(format) {
		converted, err := m.transcoder.Convert(ctx, audio, format)
		if err != nil {
			log.Warn("chunk conversion failed, skipping chunk", "error", err)
			return m.snapshot(sessionID), nil
		}
		audio = converted
	}

	result, err := m.relayer.RelayChunk(ctx, audio)
	if err != nil {
		log.Warn("chunk relay failed, skipping chunk", "error", err)
		return m.snapshot(sessionID), nil
	}

	out := m.fold(sessionID, session.RecordingID, result)

	// Bookkeeping is fire-and-forget: a failed counter write must never
	// block the next chunk.
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.storage.TouchSession(bgCtx, sessionID); err != nil {
			m.log.Error("failed to touch session",
				slog.String("session_id", sessionID.String()),
				slog.String("error", err.Error()))
		}
	}()

	m.persistFinals(ctx, sessionID, session.RecordingID, result.Finals)

	return out, nil
}

// Stop completes the session. An in-flight relay is never killed; callers
// stop sending chunks and then call Stop.
func (m *Manager) Stop(ctx context.Context, sessionID uuid.UUID) (*entity.StreamingSession, error) {
	log := logger.FromContext(ctx)

	session, err := m.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	status := entity.SessionCompleted
	if session.Expired(time.Now()) {
		status = entity.SessionExpired
	}
	if err := m.storage.SetSessionStatus(ctx, sessionID, status); err != nil {
		return nil, err
	}
	session.Status = status

	if err := m.storage.SetUsedStreaming(ctx, session.RecordingID); err != nil {
		log.Error("failed to mark recording as streamed", "error", err)
	}

	m.mu.Lock()
	delete(m.states, sessionID)
	m.mu.Unlock()

	log.Info("streaming session stopped",
		"session_id", sessionID,
		"status", status,
		"chunks_processed", session.ChunksProcessed)

	return session, nil
}

func (m *Manager) Get(ctx context.Context, sessionID uuid.UUID) (*entity.StreamingSession, *ChunkResult, error) {
	session, err := m.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, m.snapshot(sessionID), nil
}

// fold merges the relay result into the session's accumulated turns under
// the lock and returns a snapshot.
func (m *Manager) fold(sessionID, recordingID uuid.UUID, result *realtime.RelayResult) *ChunkResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[sessionID]
	if !ok {
		// Gateway restarted mid-session: rebuild state lazily.
		state = &sessionState{recordingID: recordingID}
		m.states[sessionID] = state
	}

	for _, f := range result.Finals {
		state.turns = appendFinal(state.turns, f)
	}
	if len(result.Finals) > 0 {
		state.partial = ""
	} else if result.Partial != "" {
		state.partial = result.Partial
	}

	return &ChunkResult{
		Partial: state.partial,
		Turns:   append([]Turn(nil), state.turns...),
	}
}

func (m *Manager) snapshot(sessionID uuid.UUID) *ChunkResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[sessionID]
	if !ok {
		return &ChunkResult{}
	}
	return &ChunkResult{
		Partial: state.partial,
		Turns:   append([]Turn(nil), state.turns...),
	}
}

// persistFinals appends finalized utterances to the shared segment store.
// Streaming only appends; batch completion later replaces the whole set.
func (m *Manager) persistFinals(ctx context.Context, sessionID, recordingID uuid.UUID, finals []realtime.Final) {
	log := logger.FromContext(ctx)

	for _, f := range finals {
		seg := &entity.Segment{
			RecordingID: recordingID,
			Speaker:     f.Speaker,
			Text:        f.Text,
			StartMs:     f.StartMs,
			EndMs:       f.EndMs,
			Confidence:  f.Confidence,
			FromStream:  true,
		}
		if err := m.storage.AppendSegment(ctx, seg); err != nil {
			log.Error("failed to append streaming segment",
				"session_id", sessionID,
				"error", err)
			continue
		}
	}

	m.mu.Lock()
	if state, ok := m.states[sessionID]; ok {
		state.persisted += len(finals)
	}
	m.mu.Unlock()
}

func needsConversion(format string) bool {
	switch strings.ToLower(format) {
	case "", consts.FormatWAV, "pcm", "pcm16":
		return false
	default:
		return true
	}
}

package handler

import (
	"errors"
	"io"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jackhunterking/legal-memo-backend/gateways/stream/session"
	pkgjson "github.com/jackhunterking/legal-memo-backend/pkg/json"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/storage"
)

// maxChunkBytes bounds a single audio chunk body.
const maxChunkBytes = 8 << 20

type Handler struct {
	manager *session.Manager
	log     *slog.Logger
}

func New(manager *session.Manager, log *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		log:     log,
	}
}

type SessionResponse struct {
	SessionID       string `json:"session_id"`
	RecordingID     string `json:"recording_id"`
	Status          string `json:"status"`
	ChunksProcessed int    `json:"chunks_processed"`
	ExpiresAt       string `json:"expires_at"`
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	pkgjson.WriteJSON(w, http.StatusOK, map[string]bool{"status": true})
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	h.log.Info("start session request received", slog.String("remote_addr", r.RemoteAddr))

	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		pkgjson.WriteError(w, http.StatusUnauthorized, errors.New("missing account"))
		return
	}

	recordingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, errors.New("recording id must be a valid UUID"))
		return
	}

	sess, err := h.manager.Start(r.Context(), recordingID, accountID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			pkgjson.WriteError(w, http.StatusNotFound, errors.New("recording not found"))
		case errors.Is(err, session.ErrNotOwner):
			pkgjson.WriteError(w, http.StatusForbidden, err)
		case errors.Is(err, storage.ErrActiveSession):
			pkgjson.WriteError(w, http.StatusConflict, errors.New("recording already has an active session"))
		default:
			h.log.Error("failed to start session", slog.String("error", err.Error()))
			pkgjson.WriteError(w, http.StatusInternalServerError, errors.New("failed to start session"))
		}
		return
	}

	h.log.Info("session started",
		slog.String("session_id", sess.ID.String()),
		slog.String("recording_id", recordingID.String()))

	pkgjson.WriteJSON(w, http.StatusCreated, SessionResponse{
		SessionID:       sess.ID.String(),
		RecordingID:     sess.RecordingID.String(),
		Status:          string(sess.Status),
		ChunksProcessed: sess.ChunksProcessed,
		ExpiresAt:       sess.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// ProcessChunk accepts raw audio in the request body. The source format is
// announced via the X-Audio-Format header; wav and pcm pass straight
// through, anything else is converted first.
func (h *Handler) ProcessChunk(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, errors.New("session_id must be a valid UUID"))
		return
	}

	audio, err := io.ReadAll(io.LimitReader(r.Body, maxChunkBytes+1))
	if err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, errors.New("failed to read audio body"))
		return
	}
	if len(audio) == 0 {
		pkgjson.WriteError(w, http.StatusBadRequest, errors.New("empty audio chunk"))
		return
	}
	if len(audio) > maxChunkBytes {
		pkgjson.WriteError(w, http.StatusRequestEntityTooLarge, errors.New("audio chunk too large"))
		return
	}

	format := r.Header.Get("X-Audio-Format")

	result, err := h.manager.ProcessChunk(r.Context(), sessionID, audio, format)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			pkgjson.WriteError(w, http.StatusNotFound, errors.New("session not found"))
		case errors.Is(err, session.ErrSessionExpired):
			pkgjson.WriteError(w, http.StatusGone, err)
		case errors.Is(err, session.ErrSessionClosed):
			pkgjson.WriteError(w, http.StatusConflict, err)
		default:
			h.log.Error("failed to process chunk",
				slog.String("session_id", sessionID.String()),
				slog.String("error", err.Error()))
			pkgjson.WriteError(w, http.StatusInternalServerError, errors.New("failed to process chunk"))
		}
		return
	}

	pkgjson.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, errors.New("session_id must be a valid UUID"))
		return
	}

	sess, err := h.manager.Stop(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			pkgjson.WriteError(w, http.StatusNotFound, errors.New("session not found"))
			return
		}
		h.log.Error("failed to stop session",
			slog.String("session_id", sessionID.String()),
			slog.String("error", err.Error()))
		pkgjson.WriteError(w, http.StatusInternalServerError, errors.New("failed to stop session"))
		return
	}

	h.log.Info("session stopped",
		slog.String("session_id", sessionID.String()),
		slog.Int("chunks_processed", sess.ChunksProcessed))

	pkgjson.WriteJSON(w, http.StatusOK, SessionResponse{
		SessionID:       sess.ID.String(),
		RecordingID:     sess.RecordingID.String(),
		Status:          string(sess.Status),
		ChunksProcessed: sess.ChunksProcessed,
		ExpiresAt:       sess.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, errors.New("session_id must be a valid UUID"))
		return
	}

	sess, result, err := h.manager.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			pkgjson.WriteError(w, http.StatusNotFound, errors.New("session not found"))
			return
		}
		h.log.Error("failed to get session", slog.String("error", err.Error()))
		pkgjson.WriteError(w, http.StatusInternalServerError, errors.New("failed to get session"))
		return
	}

	pkgjson.WriteJSON(w, http.StatusOK, map[string]any{
		"session": SessionResponse{
			SessionID:       sess.ID.String(),
			RecordingID:     sess.RecordingID.String(),
			Status:          string(sess.Status),
			ChunksProcessed: sess.ChunksProcessed,
			ExpiresAt:       sess.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		},
		"partial": result.Partial,
		"turns":   result.Turns,
	})
}

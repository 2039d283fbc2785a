package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/jackhunterking/legal-memo-backend/pkg/json"
	"github.com/jackhunterking/legal-memo-backend/pkg/logger"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/entity"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/storage"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/usecase"
)

type Server struct {
	port    int
	usecase usecase.Usecase
	storage storage.Storage
	log     *slog.Logger
}

func New(port int, usc usecase.Usecase, stg storage.Storage, log *slog.Logger) *Server {
	return &Server{
		port:    port,
		usecase: usc,
		storage: stg,
		log:     log,
	}
}

func (s *Server) router() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	router.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", s.healthCheck)
		api.Route("/recordings/{id}", func(rec chi.Router) {
			rec.Post("/process", s.processRecording)
			rec.Post("/retry", s.retryRecording)
			rec.Get("/status", s.recordingStatus)
		})
		api.Get("/jobs", s.listJobs)
	})

	return router
}

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("pipeline service started", slog.String("address", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		s.log.Info("start shutdown", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.log.Info("closing server due to context cancellation")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return fmt.Errorf("failed to gracefully shutdown server: %w", err)
	}
	s.log.Info("server shutdown completed")

	return nil
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	json.WriteJSON(w, http.StatusOK, map[string]bool{"status": true})
}

// processRecording accepts the trigger, makes sure the job row exists, and
// runs the pipeline on a detached context so the response never waits on
// external services.
func (s *Server) processRecording(w http.ResponseWriter, r *http.Request) {
	recordingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		json.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid recording id"))
		return
	}

	ctx := r.Context()
	if _, err := s.storage.GetRecording(ctx, recordingID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			json.WriteError(w, http.StatusNotFound, fmt.Errorf("recording not found"))
			return
		}
		json.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.storage.EnsureJob(ctx, recordingID); err != nil {
		json.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	go s.runDetached(recordingID)

	json.WriteJSON(w, http.StatusAccepted, map[string]any{
		"recording_id": recordingID,
		"status":       "accepted",
	})
}

func (s *Server) retryRecording(w http.ResponseWriter, r *http.Request) {
	recordingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		json.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid recording id"))
		return
	}

	rec, err := s.storage.GetRecording(r.Context(), recordingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			json.WriteError(w, http.StatusNotFound, fmt.Errorf("recording not found"))
			return
		}
		json.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if rec.Status != entity.RecordingFailed {
		json.WriteError(w, http.StatusConflict, usecase.ErrNotRetryable)
		return
	}

	go func() {
		ctx := logger.WithContext(context.Background(), s.log)
		if err := s.usecase.Retry(ctx, recordingID); err != nil {
			s.log.Error("retry finished with error",
				slog.String("recording_id", recordingID.String()),
				slog.String("error", err.Error()))
		}
	}()

	json.WriteJSON(w, http.StatusAccepted, map[string]any{
		"recording_id": recordingID,
		"status":       "retrying",
	})
}

func (s *Server) runDetached(recordingID uuid.UUID) {
	ctx := logger.WithContext(context.Background(), s.log)
	if err := s.usecase.ProcessRecording(ctx, recordingID); err != nil {
		if errors.Is(err, storage.ErrNotClaimed) {
			return
		}
		s.log.Error("pipeline run finished with error",
			slog.String("recording_id", recordingID.String()),
			slog.String("error", err.Error()))
	}
}

type segmentResponse struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	StartMs    int     `json:"start_ms"`
	EndMs      int     `json:"end_ms"`
	Confidence float64 `json:"confidence"`
	FromStream bool    `json:"from_stream"`
}

type statusResponse struct {
	RecordingID      string            `json:"recording_id"`
	Status           string            `json:"status"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	SpeakerMismatch  bool              `json:"speaker_mismatch"`
	DetectedSpeakers int               `json:"detected_speakers"`
	ExpectedSpeakers int               `json:"expected_speakers"`
	SpeakerNames     map[string]string `json:"speaker_names,omitempty"`
	UsedStreaming    bool              `json:"used_streaming"`
	JobStatus        string            `json:"job_status,omitempty"`
	JobStep          string            `json:"job_step,omitempty"`
	JobAttempts      int               `json:"job_attempts,omitempty"`
	Segments         []segmentResponse `json:"segments"`
}

func (s *Server) recordingStatus(w http.ResponseWriter, r *http.Request) {
	recordingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		json.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid recording id"))
		return
	}

	view, err := s.usecase.Status(r.Context(), recordingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			json.WriteError(w, http.StatusNotFound, fmt.Errorf("recording not found"))
			return
		}
		json.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	resp := statusResponse{
		RecordingID:      view.Recording.ID.String(),
		Status:           string(view.Recording.Status),
		ErrorMessage:     view.Recording.ErrorMessage,
		SpeakerMismatch:  view.Recording.SpeakerMismatch,
		DetectedSpeakers: view.Recording.DetectedSpeakers,
		ExpectedSpeakers: view.Recording.ExpectedSpeakers,
		SpeakerNames:     view.Recording.SpeakerNames,
		UsedStreaming:    view.Recording.UsedStreaming,
		Segments:         make([]segmentResponse, 0, len(view.Segments)),
	}
	if view.Job != nil {
		resp.JobStatus = string(view.Job.Status)
		resp.JobAttempts = view.Job.Attempts
		if view.Job.Step != nil {
			resp.JobStep = string(*view.Job.Step)
		}
	}
	for _, seg := range view.Segments {
		resp.Segments = append(resp.Segments, segmentResponse{
			Speaker:    seg.Speaker,
			Text:       seg.Text,
			StartMs:    seg.StartMs,
			EndMs:      seg.EndMs,
			Confidence: seg.Confidence,
			FromStream: seg.FromStream,
		})
	}

	json.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := entity.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = entity.JobPending
	}

	jobs, err := s.usecase.ListJobs(r.Context(), status)
	if err != nil {
		json.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	json.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

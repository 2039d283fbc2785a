// Package stream is the real-time transcription gateway. It shares the
// recording store with the batch pipeline so segments captured live show up
// in the same transcript view.
package stream

import (
	"context"
	"database/sql"
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

	config "github.com/jackhunterking/legal-memo-backend/config/stream"
	"github.com/jackhunterking/legal-memo-backend/gateways/stream/clients/realtime"
	"github.com/jackhunterking/legal-memo-backend/gateways/stream/handler"
	"github.com/jackhunterking/legal-memo-backend/gateways/stream/session"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/clients/transcode"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/storage"
)

type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	manager *session.Manager
	handler *handler.Handler
}

func New(cfg *config.Config, db *sql.DB, log *slog.Logger) (*Server, error) {
	log.Debug("creating realtime client", slog.String("url", cfg.RealtimeURL))
	rt := realtime.New(cfg.RealtimeAPIKey, cfg.RealtimeURL, log)

	log.Debug("creating transcode client", slog.String("url", cfg.Transcode.URL))
	tc := transcode.New(cfg.Transcode.APIKey, cfg.Transcode.URL, log)

	stg := storage.New(db)
	mgr := session.New(stg, rt, tc, log)
	h := handler.New(mgr, log)

	log.Info("stream gateway instance created")
	return &Server{
		cfg:     cfg,
		log:     log,
		manager: mgr,
		handler: h,
	}, nil
}

func (s *Server) router() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Audio-Format"},
		MaxAge:         300,
	}))

	router.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", s.handler.HealthCheck)
		api.Group(func(authed chi.Router) {
			authed.Use(handler.Auth(s.cfg.JWTSecret))
			authed.Post("/recordings/{id}/stream/start", s.handler.StartSession)
			authed.Post("/stream/sessions/{session_id}/chunks", s.handler.ProcessChunk)
			authed.Post("/stream/sessions/{session_id}/stop", s.handler.StopSession)
			authed.Get("/stream/sessions/{session_id}", s.handler.GetSession)
		})
	})

	return router
}

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("stream gateway started", slog.String("address", srv.Addr))
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

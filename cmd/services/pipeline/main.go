package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	config "github.com/jackhunterking/legal-memo-backend/config/pipeline"
	"github.com/jackhunterking/legal-memo-backend/pkg/logger"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/clients/llm"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/clients/speech"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/clients/transcode"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/media"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/server"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/storage"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/usecase"
)

func main() {
	_ = godotenv.Load()

	log := logger.New(logger.Config{
		Level:      slog.LevelDebug,
		Output:     os.Stderr,
		AddSource:  true,
		JSONFormat: false,
	})

	cfg := config.MustLoad()
	log.Info("configuration loaded",
		slog.Int("port", cfg.Port),
		slog.String("transcode_url", cfg.Transcode.URL),
		slog.String("speech_url", cfg.Speech.URL),
		slog.Bool("openai_key_set", cfg.OpenAIKey != ""))

	ctx := logger.WithContext(context.Background(), log)
	rootCtx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("application terminated with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("application terminated successfully")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database ready")

	stg := storage.New(db)
	med := media.NewFSStore(cfg.MediaDir, cfg.MediaBaseURL, cfg.MediaSignKey)

	transcoder := transcode.New(cfg.Transcode.APIKey, cfg.Transcode.URL, log)
	transcriber := speech.New(cfg.Speech.APIKey, cfg.Speech.URL, log)
	completer := llm.New(cfg.OpenAIKey, log)

	usc := usecase.New(stg, med, transcoder, transcriber, completer)
	srv := server.New(cfg.Port, usc, stg, log)

	return srv.Start(ctx)
}

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

	config "github.com/jackhunterking/legal-memo-backend/config/stream"
	"github.com/jackhunterking/legal-memo-backend/gateways/stream"
	"github.com/jackhunterking/legal-memo-backend/pkg/logger"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/storage"
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
		slog.String("realtime_url", cfg.RealtimeURL),
		slog.String("transcode_url", cfg.Transcode.URL))

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

	srv, err := stream.New(cfg, db, log)
	if err != nil {
		return fmt.Errorf("failed to create stream gateway: %w", err)
	}

	return srv.Start(ctx)
}

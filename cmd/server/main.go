package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danuarta/mailarchive-backend/internal/api"
	"github.com/danuarta/mailarchive-backend/internal/classify"
	"github.com/danuarta/mailarchive-backend/internal/config"
	"github.com/danuarta/mailarchive-backend/internal/database"
	"github.com/danuarta/mailarchive-backend/internal/ingest"
	"github.com/danuarta/mailarchive-backend/internal/repository"
	"github.com/danuarta/mailarchive-backend/internal/smtp"
	"github.com/danuarta/mailarchive-backend/internal/storage"
	"github.com/danuarta/mailarchive-backend/internal/websocket"
)

func main() {
	cfg, err := config.LoadWithValidation()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting mail archive server...")
	cfg.LogConfig(logger)

	archive, err := config.LoadArchive(cfg.ArchiveConfigPath)
	if err != nil {
		slog.Error("invalid archive definition", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("archive definition loaded",
		slog.Int("sources", len(archive.Sources)),
		slog.Int("rules", len(archive.Rules)),
		slog.Int("mailing_lists", len(archive.MailingLists)))

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		slog.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	blobs, err := storage.NewLocalStore(cfg.AttachmentStoragePath)
	if err != nil {
		slog.Error("failed to initialize attachment storage", slog.Any("error", err))
		os.Exit(1)
	}

	topicRepo := repository.NewTopicRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	classifier := classify.New(archive.Rules, archive.MailingLists, logger)

	hub := websocket.NewHub(logger)
	go hub.Run()

	coordinator := ingest.NewCoordinator(topicRepo, messageRepo, blobs,
		classifier, archive.Sources, logger)
	coordinator.SetNotifier(hub)

	// SMTP server for direct delivery into the archive
	backend := smtp.NewBackend(&smtp.BackendConfig{
		Archiver:   coordinator,
		Recipients: cfg.ArchiveRecipients,
		Logger:     logger,
	})
	smtpCfg := smtp.LoadServerConfigFromEnv()
	smtpCfg.Addr = fmt.Sprintf(":%d", cfg.SMTPPort)
	smtpServer := smtp.NewSecureServer(backend, smtpCfg)

	go func() {
		slog.Info("SMTP server listening", slog.String("addr", smtpServer.Addr))
		if err := smtpServer.ListenAndServe(); err != nil {
			slog.Error("SMTP server stopped", slog.Any("error", err))
		}
	}()

	// HTTP API
	router := api.NewRouter(&api.RouterConfig{
		DB:             db,
		Blobs:          blobs,
		Coordinator:    coordinator,
		Sources:        archive.Sources,
		Hub:            hub,
		Logger:         logger,
		APIKey:         cfg.APIKey,
		AllowedOrigins: splitOrigins(cfg.AllowedOrigins),
		RateLimit:      int(cfg.RateLimitRequests),
		RateBurst:      cfg.RateLimitBurst,
		EnableAuth:     cfg.APIKey != "",
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		slog.Info("API server listening", slog.String("addr", addr))
		if err := router.Start(addr); err != nil {
			slog.Error("API server stopped", slog.Any("error", err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down API server", slog.Any("error", err))
	}
	if err := smtpServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down SMTP server", slog.Any("error", err))
	}

	slog.Info("Server stopped")
}

// logLevel maps the LOG_LEVEL setting onto slog levels.
func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// splitOrigins turns the comma separated ALLOWED_ORIGINS value into a list.
func splitOrigins(origins string) []string {
	if origins == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

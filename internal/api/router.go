// Package api exposes the archive over HTTP: triggering ingestion
// sessions, browsing topics and messages, downloading attachments and
// streaming live events over WebSocket.
package api

import (
	"log/slog"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/danuarta/mailarchive-backend/internal/api/handlers"
	"github.com/danuarta/mailarchive-backend/internal/api/middleware"
	"github.com/danuarta/mailarchive-backend/internal/ingest"
	"github.com/danuarta/mailarchive-backend/internal/mailsource"
	"github.com/danuarta/mailarchive-backend/internal/repository"
	"github.com/danuarta/mailarchive-backend/internal/storage"
	"github.com/danuarta/mailarchive-backend/internal/websocket"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	DB          *gorm.DB
	Blobs       storage.AttachmentStore
	Coordinator *ingest.Coordinator
	Sources     []mailsource.Descriptor
	Hub         *websocket.Hub
	Logger      *slog.Logger
	// Security configuration
	APIKey         string   // API key for authentication (empty = disabled)
	AllowedOrigins []string // Allowed CORS origins
	RateLimit      int      // Requests per second (0 = use env default)
	RateBurst      int      // Burst size for rate limiter
	EnableAuth     bool     // Enable API key authentication
}

// NewRouter creates and configures the Echo router with all routes
func NewRouter(cfg *RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Security middleware, in order
	e.Use(middleware.Recover())
	e.Use(middleware.SecureHeaders())

	if len(cfg.AllowedOrigins) > 0 {
		os.Setenv("ALLOWED_ORIGINS", strings.Join(cfg.AllowedOrigins, ","))
	}
	e.Use(middleware.SecureCORS())

	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(float64(cfg.RateLimit), cfg.RateBurst, cfg.Logger))
	} else {
		e.Use(middleware.RateLimiter(cfg.Logger))
	}

	if cfg.Logger != nil {
		e.Use(middleware.RequestLogger(cfg.Logger))
	}

	topicRepo := repository.NewTopicRepository(cfg.DB)
	messageRepo := repository.NewMessageRepository(cfg.DB)

	healthHandler := handlers.NewHealthHandler(cfg.DB)
	ingestHandler := handlers.NewIngestHandler(cfg.Coordinator, cfg.Sources, cfg.Logger)
	topicHandler := handlers.NewTopicHandler(topicRepo, messageRepo)
	messageHandler := handlers.NewMessageHandler(messageRepo)
	attachmentHandler := handlers.NewAttachmentHandler(messageRepo, cfg.Blobs)

	// Health routes (no auth required)
	e.GET("/health", healthHandler.Health)
	e.GET("/ready", healthHandler.Ready)

	// Live event stream
	if cfg.Hub != nil {
		wsHandler := handlers.NewWSHandler(cfg.Hub, cfg.Logger)
		e.GET("/ws", wsHandler.Connect)
	}

	// API routes
	api := e.Group("/api")

	if cfg.EnableAuth && cfg.APIKey != "" {
		os.Setenv("API_KEY", cfg.APIKey)
	}
	api.Use(middleware.APIKeyAuth(cfg.Logger))

	// Ingestion session routes
	api.POST("/ingest", ingestHandler.Trigger)
	api.GET("/ingest/status", ingestHandler.Status)

	// Mail source routes
	sources := api.Group("/sources")
	sources.GET("", ingestHandler.ListSources)
	sources.POST("/:name/check", ingestHandler.CheckSource)

	// Topic routes
	topics := api.Group("/topics")
	topics.GET("", topicHandler.List)
	topics.GET("/:topic_id", topicHandler.Get)
	topics.GET("/:topic_id/messages", topicHandler.ListMessages)

	// Message routes
	api.GET("/messages/:message_id", messageHandler.Get)

	// Attachment routes
	attachments := api.Group("/attachments")
	attachments.GET("/:id", attachmentHandler.Get)
	attachments.GET("/:id/download", attachmentHandler.Download)

	return e
}

package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/danuarta/mailarchive-backend/internal/api/response"
	apperrors "github.com/danuarta/mailarchive-backend/internal/errors"
	"github.com/danuarta/mailarchive-backend/internal/ingest"
	"github.com/danuarta/mailarchive-backend/internal/mailsource"
)

// IngestHandler triggers and inspects ingestion sessions
type IngestHandler struct {
	coordinator *ingest.Coordinator
	sources     []mailsource.Descriptor
	logger      *slog.Logger
}

// NewIngestHandler creates a new IngestHandler
func NewIngestHandler(coordinator *ingest.Coordinator, sources []mailsource.Descriptor, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{
		coordinator: coordinator,
		sources:     sources,
		logger:      logger,
	}
}

// StatusResponse describes the coordinator state for API clients
type StatusResponse struct {
	Running    bool                  `json:"running"`
	LastReport *ingest.SessionReport `json:"last_report,omitempty"`
}

// Trigger handles POST /api/ingest. The session runs in the background;
// the call returns as soon as it has started. A session already in
// progress yields 409, never a queued second session.
func (h *IngestHandler) Trigger(c echo.Context) error {
	if h.coordinator.Running() {
		return response.Conflict(c, "ingestion session already in progress", apperrors.CodeSessionInProgress)
	}

	go func() {
		if _, err := h.coordinator.Run(context.Background()); err != nil {
			if !errors.Is(err, ingest.ErrSessionInProgress) {
				h.logger.Error("ingestion session failed", slog.Any("error", err))
			}
		}
	}()

	return response.Accepted(c, nil, "ingestion session started")
}

// Status handles GET /api/ingest/status
func (h *IngestHandler) Status(c echo.Context) error {
	return response.Success(c, StatusResponse{
		Running:    h.coordinator.Running(),
		LastReport: h.coordinator.LastReport(),
	})
}

// sourceView hides credentials from API clients.
type sourceView struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Folder   string `json:"folder,omitempty"`
}

// ListSources handles GET /api/sources
func (h *IngestHandler) ListSources(c echo.Context) error {
	views := make([]sourceView, 0, len(h.sources))
	for _, d := range h.sources {
		views = append(views, sourceView{
			Name:     d.Name,
			Host:     d.Host,
			Port:     d.Port,
			Protocol: d.Protocol,
			Folder:   d.Folder,
		})
	}
	return response.Success(c, views)
}

// CheckResponse is the outcome of a source connectivity check.
type CheckResponse struct {
	Source string          `json:"source"`
	Code   mailsource.Code `json:"code"`
	Unread int             `json:"unread"`
}

// CheckSource handles POST /api/sources/:name/check. It connects to the
// named source without archiving anything and reports the diagnostic
// code and unread count.
func (h *IngestHandler) CheckSource(c echo.Context) error {
	name := c.Param("name")

	for _, d := range h.sources {
		if d.Name != name {
			continue
		}
		unread, err := mailsource.Check(c.Request().Context(), d, h.logger)
		code := mailsource.CodeOK
		if err != nil {
			code = mailsource.CodeOf(err)
			h.logger.Warn("source check failed",
				slog.String("source", name),
				slog.String("code", string(code)),
				slog.Any("error", err))
		}
		return response.Success(c, CheckResponse{Source: name, Code: code, Unread: unread})
	}

	return response.NotFound(c, "mail source not found")
}

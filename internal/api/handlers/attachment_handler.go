package handlers

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/danuarta/mailarchive-backend/internal/api/response"
	"github.com/danuarta/mailarchive-backend/internal/repository"
	"github.com/danuarta/mailarchive-backend/internal/storage"
)

// AttachmentHandler handles attachment-related HTTP requests
type AttachmentHandler struct {
	messageRepo repository.MessageRepository
	blobs       storage.AttachmentStore
}

// NewAttachmentHandler creates a new AttachmentHandler
func NewAttachmentHandler(messageRepo repository.MessageRepository, blobs storage.AttachmentStore) *AttachmentHandler {
	return &AttachmentHandler{
		messageRepo: messageRepo,
		blobs:       blobs,
	}
}

// Get handles GET /api/attachments/:id
func (h *AttachmentHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid attachment ID")
	}

	attachment, err := h.messageRepo.GetAttachment(c.Request().Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "attachment not found")
		}
		return response.InternalError(c, "failed to get attachment")
	}

	return response.Success(c, attachment)
}

// Download handles GET /api/attachments/:id/download, streaming the
// stored blob with the original filename.
func (h *AttachmentHandler) Download(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid attachment ID")
	}

	attachment, err := h.messageRepo.GetAttachment(c.Request().Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "attachment not found")
		}
		return response.InternalError(c, "failed to get attachment")
	}

	blob, err := h.blobs.Get(attachment.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return response.NotFound(c, "attachment blob not found")
		}
		return response.InternalError(c, "failed to open attachment")
	}
	defer blob.Close()

	contentType := attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+attachment.Filename+`"`)
	return c.Stream(200, contentType, blob)
}

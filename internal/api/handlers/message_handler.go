package handlers

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/danuarta/mailarchive-backend/internal/api/response"
	"github.com/danuarta/mailarchive-backend/internal/repository"
	"github.com/danuarta/mailarchive-backend/internal/validator"
)

// MessageHandler handles message-related HTTP requests
type MessageHandler struct {
	messageRepo repository.MessageRepository
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(messageRepo repository.MessageRepository) *MessageHandler {
	return &MessageHandler{messageRepo: messageRepo}
}

// Get handles GET /api/messages/:message_id. The parameter is the mail
// Message-ID, not a database id.
func (h *MessageHandler) Get(c echo.Context) error {
	messageID := c.Param("message_id")
	if messageID == "" {
		return response.BadRequest(c, "message id is required")
	}

	message, err := h.messageRepo.GetByMessageID(c.Request().Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.InternalError(c, "failed to get message")
	}

	return response.Success(c, message)
}

// pagination parses and clamps the shared limit/offset query parameters.
func pagination(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	return validator.ValidatePagination(limit, offset)
}

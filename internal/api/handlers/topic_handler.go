package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/danuarta/mailarchive-backend/internal/api/response"
	"github.com/danuarta/mailarchive-backend/internal/repository"
)

// TopicHandler handles topic-related HTTP requests
type TopicHandler struct {
	topicRepo   repository.TopicRepository
	messageRepo repository.MessageRepository
}

// NewTopicHandler creates a new TopicHandler
func NewTopicHandler(topicRepo repository.TopicRepository, messageRepo repository.MessageRepository) *TopicHandler {
	return &TopicHandler{
		topicRepo:   topicRepo,
		messageRepo: messageRepo,
	}
}

// List handles GET /api/topics
func (h *TopicHandler) List(c echo.Context) error {
	limit, offset := pagination(c)

	topics, total, err := h.topicRepo.List(c.Request().Context(), limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list topics")
	}

	return response.Paginated(c, topics, total, limit, offset)
}

// Get handles GET /api/topics/:topic_id
func (h *TopicHandler) Get(c echo.Context) error {
	topicID := c.Param("topic_id")
	if topicID == "" {
		return response.BadRequest(c, "topic id is required")
	}

	topic, err := h.topicRepo.GetByTopicID(c.Request().Context(), topicID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "topic not found")
		}
		return response.InternalError(c, "failed to get topic")
	}

	return response.Success(c, topic)
}

// ListMessages handles GET /api/topics/:topic_id/messages. Messages come
// back in conversation order, oldest first.
func (h *TopicHandler) ListMessages(c echo.Context) error {
	topicID := c.Param("topic_id")
	if topicID == "" {
		return response.BadRequest(c, "topic id is required")
	}

	if _, err := h.topicRepo.GetByTopicID(c.Request().Context(), topicID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "topic not found")
		}
		return response.InternalError(c, "failed to get topic")
	}

	limit, offset := pagination(c)

	messages, total, err := h.messageRepo.ListByTopic(c.Request().Context(), topicID, limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list messages")
	}

	return response.Paginated(c, messages, total, limit, offset)
}

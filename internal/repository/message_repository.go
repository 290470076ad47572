package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/danuarta/mailarchive-backend/internal/models"
	"github.com/danuarta/mailarchive-backend/internal/topics"
	"gorm.io/gorm"
)

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	LoadKnown(ctx context.Context) (topics.MessageIndex, error)
	CreateWithAttachments(ctx context.Context, message *models.Message, attachments []models.Attachment) error
	GetByMessageID(ctx context.Context, messageID string) (*models.Message, error)
	GetThreadRef(ctx context.Context, messageID string) (*models.ThreadRef, error)
	UpdateTopicLink(ctx context.Context, messageID, newTopicID string) error
	ListByTopic(ctx context.Context, topicID string, limit, offset int) ([]models.Message, int64, error)
	GetAttachment(ctx context.Context, id uint) (*models.Attachment, error)
}

// messageRepository implements MessageRepository using GORM
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new MessageRepository instance
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// LoadKnown loads the minimal projection of every stored message, keyed
// by message id. Loaded once at session start.
func (r *messageRepository) LoadKnown(ctx context.Context) (topics.MessageIndex, error) {
	var rows []struct {
		ID        uint
		MessageID string
		Subject   string
		TopicID   string
	}
	if err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("id", "message_id", "subject", "topic_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load known messages: %w", err)
	}

	index := make(topics.MessageIndex, len(rows))
	for _, row := range rows {
		index[row.MessageID] = topics.MessageRef{
			Subject:     row.Subject,
			TopicID:     row.TopicID,
			LocationRef: fmt.Sprintf("messages/%d", row.ID),
		}
	}
	return index, nil
}

// CreateWithAttachments creates a message with its attachments in a transaction
func (r *messageRepository) CreateWithAttachments(ctx context.Context, message *models.Message, attachments []models.Attachment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateEntry
			}
			return fmt.Errorf("failed to create message: %w", err)
		}

		for i := range attachments {
			attachments[i].MessageID = message.ID
			if err := tx.Create(&attachments[i]).Error; err != nil {
				return fmt.Errorf("failed to create attachment: %w", err)
			}
		}

		return nil
	})
}

// GetByMessageID retrieves a message by its mail message id with attachments
func (r *messageRepository) GetByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	var message models.Message
	result := r.db.WithContext(ctx).Preload("Attachments").
		Where("message_id = ?", messageID).First(&message)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", result.Error)
	}
	return &message, nil
}

// GetThreadRef loads the stored reply pointer and subject of a message,
// the projection used by the reply-chain walk during topic resolution.
func (r *messageRepository) GetThreadRef(ctx context.Context, messageID string) (*models.ThreadRef, error) {
	var row struct {
		MessageID    string
		InReplyTo    string
		TopicSubject string
		TopicID      string
	}
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("message_id", "in_reply_to", "topic_subject", "topic_id").
		Where("message_id = ?", messageID).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get thread ref: %w", result.Error)
	}
	return &models.ThreadRef{
		MessageID:    row.MessageID,
		InReplyTo:    row.InReplyTo,
		TopicSubject: row.TopicSubject,
		TopicID:      row.TopicID,
	}, nil
}

// UpdateTopicLink corrects only the topic linkage of an already archived
// message. Nothing else about the stored message is touched.
func (r *messageRepository) UpdateTopicLink(ctx context.Context, messageID, newTopicID string) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("message_id = ?", messageID).Update("topic_id", newTopicID)
	if result.Error != nil {
		return fmt.Errorf("failed to update message topic link: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAttachment retrieves one attachment row by its database id
func (r *messageRepository) GetAttachment(ctx context.Context, id uint) (*models.Attachment, error) {
	var attachment models.Attachment
	result := r.db.WithContext(ctx).First(&attachment, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attachment: %w", result.Error)
	}
	return &attachment, nil
}

// ListByTopic retrieves messages of a topic ordered by decoded date
func (r *messageRepository) ListByTopic(ctx context.Context, topicID string, limit, offset int) ([]models.Message, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("topic_id = ?", topicID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var result []models.Message
	if err := r.db.WithContext(ctx).Preload("Attachments").
		Where("topic_id = ?", topicID).
		Order("decoded_date ASC").
		Limit(limit).Offset(offset).
		Find(&result).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	return result, total, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/danuarta/mailarchive-backend/internal/models"
	"github.com/danuarta/mailarchive-backend/internal/topics"
	"gorm.io/gorm"
)

// TopicRepository defines the interface for topic data access
type TopicRepository interface {
	LoadKnown(ctx context.Context) (topics.TopicIndex, error)
	Create(ctx context.Context, topic *models.Topic) error
	UpdateFields(ctx context.Context, topicID string, fields map[string]interface{}) error
	GetByTopicID(ctx context.Context, topicID string) (*models.Topic, error)
	List(ctx context.Context, limit, offset int) ([]models.Topic, int64, error)
}

// topicRepository implements TopicRepository using GORM
type topicRepository struct {
	db *gorm.DB
}

// NewTopicRepository creates a new TopicRepository instance
func NewTopicRepository(db *gorm.DB) TopicRepository {
	return &topicRepository{db: db}
}

// LoadKnown loads the minimal projection of every stored topic. It is
// called once at session start; the returned index is owned by the
// session coordinator from then on.
func (r *topicRepository) LoadKnown(ctx context.Context) (topics.TopicIndex, error) {
	var rows []struct {
		ID      uint
		TopicID string
		Subject string
	}
	if err := r.db.WithContext(ctx).Model(&models.Topic{}).
		Select("id", "topic_id", "subject").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load known topics: %w", err)
	}

	index := make(topics.TopicIndex, len(rows))
	for _, row := range rows {
		index[row.TopicID] = topics.TopicRef{
			LocationRef: fmt.Sprintf("topics/%d", row.ID),
			Subject:     row.Subject,
		}
	}
	return index, nil
}

// Create creates a new topic
func (r *topicRepository) Create(ctx context.Context, topic *models.Topic) error {
	result := r.db.WithContext(ctx).Create(topic)
	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create topic: %w", result.Error)
	}
	return nil
}

// UpdateFields applies a partial update to a topic identified by its topic id
func (r *topicRepository) UpdateFields(ctx context.Context, topicID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&models.Topic{}).
		Where("topic_id = ?", topicID).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update topic: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByTopicID retrieves a topic by its topic id
func (r *topicRepository) GetByTopicID(ctx context.Context, topicID string) (*models.Topic, error) {
	var topic models.Topic
	result := r.db.WithContext(ctx).Where("topic_id = ?", topicID).First(&topic)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get topic: %w", result.Error)
	}
	return &topic, nil
}

// List retrieves topics ordered by last update, newest first
func (r *topicRepository) List(ctx context.Context, limit, offset int) ([]models.Topic, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Topic{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count topics: %w", err)
	}

	var result []models.Topic
	if err := r.db.WithContext(ctx).
		Order("last_update_date DESC").
		Limit(limit).Offset(offset).
		Find(&result).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list topics: %w", err)
	}
	return result, total, nil
}

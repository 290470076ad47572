package models

import (
	"time"
)

// Topic represents one reconstructed email conversation
type Topic struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TopicID        string    `gorm:"uniqueIndex;not null;size:254" json:"topic_id"`
	Subject        string    `gorm:"size:254" json:"subject"`
	Author         string    `gorm:"size:254" json:"author,omitempty"`
	StartDate      time.Time `json:"start_date"`
	LastUpdateDate time.Time `json:"last_update_date"`
	Type           string    `gorm:"size:100" json:"type"`
	Tags           string    `gorm:"size:254" json:"tags,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Topic
func (Topic) TableName() string {
	return "topics"
}

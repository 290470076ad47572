package models

// Attachment represents a binary part extracted from an archived message
type Attachment struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	MessageID   uint   `gorm:"not null;index" json:"message_id"`
	Filename    string `gorm:"size:254" json:"filename"`
	ContentType string `gorm:"size:100" json:"content_type"`
	ContentID   string `gorm:"size:254" json:"content_id,omitempty"`
	FilePath    string `gorm:"size:500" json:"file_path"`
	SizeBytes   int64  `json:"size_bytes"`

	// Relationships
	Message Message `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Attachment
func (Attachment) TableName() string {
	return "attachments"
}

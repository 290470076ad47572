package models

import (
	"time"
)

// Message sensitivity values
const (
	SensitivityNormal    = "normal"
	SensitivityEncrypted = "encrypted"
)

// Message represents one archived email, possibly carrying embedded sub-messages
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	MessageID      string    `gorm:"uniqueIndex;not null;size:254" json:"message_id"`
	TopicID        string    `gorm:"index;size:254" json:"topic_id"`
	Subject        string    `gorm:"size:254" json:"subject,omitempty"`
	TopicSubject   string    `gorm:"size:254" json:"topic_subject,omitempty"`
	InReplyTo      string    `json:"in_reply_to,omitempty"`
	References     string    `json:"references,omitempty"`
	From           string    `gorm:"column:from_addr" json:"from"`
	To             string    `gorm:"column:to_addr" json:"to,omitempty"`
	Cc             string    `gorm:"column:cc_addr" json:"cc,omitempty"`
	DateHeader     string    `gorm:"size:254" json:"date_header,omitempty"`
	DecodedDate    time.Time `gorm:"index" json:"decoded_date"`
	Type           string    `gorm:"size:100" json:"type"`
	Sensitivity    string    `gorm:"size:20;default:normal" json:"sensitivity"`
	BodyText       string    `json:"body_text,omitempty"`
	BodyHTML       string    `json:"body_html,omitempty"`
	Tags           string    `gorm:"size:254" json:"tags,omitempty"`
	IsAttachedMail bool      `gorm:"default:false" json:"is_attached_mail"`
	ParentMessage  string    `gorm:"size:254" json:"parent_message,omitempty"`
	IsFirstInTopic bool      `gorm:"default:false" json:"is_first_in_topic"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relationships
	Attachments []Attachment `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

// TableName returns the table name for Message
func (Message) TableName() string {
	return "messages"
}

// ThreadRef is the minimal projection needed by the reply-chain walk:
// the stored in-reply-to pointer and subject of an archived message.
type ThreadRef struct {
	MessageID    string `json:"message_id"`
	InReplyTo    string `json:"in_reply_to"`
	TopicSubject string `json:"topic_subject"`
	TopicID      string `json:"topic_id"`
}

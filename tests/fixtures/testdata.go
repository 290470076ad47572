package fixtures

import (
	"fmt"
	"strings"
	"time"

	"github.com/danuarta/mailarchive-backend/internal/models"
)

// TopicBuilder creates test Topic instances with fluent API
type TopicBuilder struct {
	topic models.Topic
}

// NewTopicBuilder creates a new TopicBuilder with sensible defaults
func NewTopicBuilder() *TopicBuilder {
	now := time.Now().UTC()
	return &TopicBuilder{
		topic: models.Topic{
			TopicID:        "topic-1@example.com",
			Subject:        "Launch plan",
			Author:         "alice@example.com",
			StartDate:      now,
			LastUpdateDate: now,
			Type:           "mail",
		},
	}
}

// WithTopicID sets the topic id
func (b *TopicBuilder) WithTopicID(id string) *TopicBuilder {
	b.topic.TopicID = id
	return b
}

// WithSubject sets the topic subject
func (b *TopicBuilder) WithSubject(subject string) *TopicBuilder {
	b.topic.Subject = subject
	return b
}

// WithAuthor sets the topic author
func (b *TopicBuilder) WithAuthor(author string) *TopicBuilder {
	b.topic.Author = author
	return b
}

// WithType sets the classified type
func (b *TopicBuilder) WithType(t string) *TopicBuilder {
	b.topic.Type = t
	return b
}

// WithDates sets start and last update dates
func (b *TopicBuilder) WithDates(start, last time.Time) *TopicBuilder {
	b.topic.StartDate = start
	b.topic.LastUpdateDate = last
	return b
}

// Build returns the constructed Topic
func (b *TopicBuilder) Build() *models.Topic {
	topic := b.topic
	return &topic
}

// MessageBuilder creates test Message instances with fluent API
type MessageBuilder struct {
	message models.Message
}

// NewMessageBuilder creates a new MessageBuilder with sensible defaults
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		message: models.Message{
			MessageID:      "msg-1@example.com",
			TopicID:        "topic-1@example.com",
			Subject:        "Launch plan",
			TopicSubject:   "Launch plan",
			From:           "alice@example.com",
			To:             "team@example.com",
			DecodedDate:    time.Now().UTC(),
			Type:           "mail",
			Sensitivity:    models.SensitivityNormal,
			BodyText:       "Hello team",
			IsFirstInTopic: true,
		},
	}
}

// WithMessageID sets the mail message id
func (b *MessageBuilder) WithMessageID(id string) *MessageBuilder {
	b.message.MessageID = id
	return b
}

// WithTopicID sets the topic linkage
func (b *MessageBuilder) WithTopicID(id string) *MessageBuilder {
	b.message.TopicID = id
	return b
}

// WithSubject sets subject and topic subject together
func (b *MessageBuilder) WithSubject(subject string) *MessageBuilder {
	b.message.Subject = subject
	b.message.TopicSubject = strings.TrimPrefix(subject, "Re: ")
	return b
}

// WithFrom sets the sender
func (b *MessageBuilder) WithFrom(from string) *MessageBuilder {
	b.message.From = from
	return b
}

// WithInReplyTo sets the reply pointer
func (b *MessageBuilder) WithInReplyTo(id string) *MessageBuilder {
	b.message.InReplyTo = id
	b.message.IsFirstInTopic = false
	return b
}

// WithDecodedDate sets the decoded date
func (b *MessageBuilder) WithDecodedDate(t time.Time) *MessageBuilder {
	b.message.DecodedDate = t
	return b
}

// WithBodyText sets the extracted plain text body
func (b *MessageBuilder) WithBodyText(text string) *MessageBuilder {
	b.message.BodyText = text
	return b
}

// Build returns the constructed Message
func (b *MessageBuilder) Build() *models.Message {
	message := b.message
	return &message
}

// AttachmentBuilder creates test Attachment instances with fluent API
type AttachmentBuilder struct {
	attachment models.Attachment
}

// NewAttachmentBuilder creates a new AttachmentBuilder with sensible defaults
func NewAttachmentBuilder() *AttachmentBuilder {
	return &AttachmentBuilder{
		attachment: models.Attachment{
			Filename:    "document.pdf",
			ContentType: "application/pdf",
			FilePath:    "ab/cdef-document.pdf",
			SizeBytes:   4,
		},
	}
}

// WithMessageID sets the owning message row id
func (b *AttachmentBuilder) WithMessageID(id uint) *AttachmentBuilder {
	b.attachment.MessageID = id
	return b
}

// WithFilename sets the attachment filename
func (b *AttachmentBuilder) WithFilename(name string) *AttachmentBuilder {
	b.attachment.Filename = name
	return b
}

// WithFilePath sets the blob store path
func (b *AttachmentBuilder) WithFilePath(path string) *AttachmentBuilder {
	b.attachment.FilePath = path
	return b
}

// Build returns the constructed Attachment
func (b *AttachmentBuilder) Build() *models.Attachment {
	attachment := b.attachment
	return &attachment
}

// RawMailBuilder assembles raw RFC 5322 messages for ingestion tests
type RawMailBuilder struct {
	messageID string
	subject   string
	from      string
	to        string
	date      string
	inReplyTo string
	headers   []string
	body      string
}

// NewRawMailBuilder creates a RawMailBuilder with sensible defaults
func NewRawMailBuilder() *RawMailBuilder {
	return &RawMailBuilder{
		messageID: "msg-1@example.com",
		subject:   "Launch plan",
		from:      "alice@example.com",
		to:        "team@example.com",
		date:      "Mon, 02 Jan 2006 15:04:05 +0000",
		body:      "Hello team",
	}
}

// WithMessageID sets the Message-Id header value (without brackets)
func (b *RawMailBuilder) WithMessageID(id string) *RawMailBuilder {
	b.messageID = id
	return b
}

// WithSubject sets the Subject header
func (b *RawMailBuilder) WithSubject(subject string) *RawMailBuilder {
	b.subject = subject
	return b
}

// WithFrom sets the From header
func (b *RawMailBuilder) WithFrom(from string) *RawMailBuilder {
	b.from = from
	return b
}

// WithDate sets the Date header
func (b *RawMailBuilder) WithDate(date string) *RawMailBuilder {
	b.date = date
	return b
}

// WithInReplyTo sets the In-Reply-To header (without brackets)
func (b *RawMailBuilder) WithInReplyTo(id string) *RawMailBuilder {
	b.inReplyTo = id
	return b
}

// WithHeader appends an arbitrary extra header line
func (b *RawMailBuilder) WithHeader(name, value string) *RawMailBuilder {
	b.headers = append(b.headers, fmt.Sprintf("%s: %s", name, value))
	return b
}

// WithBody sets the plain text body
func (b *RawMailBuilder) WithBody(body string) *RawMailBuilder {
	b.body = body
	return b
}

// Build returns the assembled raw message bytes
func (b *RawMailBuilder) Build() []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Message-Id: <%s>\r\n", b.messageID)
	fmt.Fprintf(&sb, "Subject: %s\r\n", b.subject)
	fmt.Fprintf(&sb, "From: %s\r\n", b.from)
	fmt.Fprintf(&sb, "To: %s\r\n", b.to)
	fmt.Fprintf(&sb, "Date: %s\r\n", b.date)
	if b.inReplyTo != "" {
		fmt.Fprintf(&sb, "In-Reply-To: <%s>\r\n", b.inReplyTo)
	}
	for _, h := range b.headers {
		sb.WriteString(h)
		sb.WriteString("\r\n")
	}
	sb.WriteString("Content-Type: text/plain\r\n\r\n")
	sb.WriteString(b.body)
	return []byte(sb.String())
}

// Package extract turns raw MIME messages into normalized archive content:
// aggregated plain text, HTML, attachments, inline content-id mappings and
// embedded sub-messages.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/danuarta/mailarchive-backend/internal/validator"
)

// Placeholder bodies stored instead of encrypted content, so that
// restricted material never reaches the archive.
const (
	EncryptedPlaceholderText = "<<<This e-mail was encrypted. Text content and attachments of encrypted e-mails are not published in the mail archive to avoid disclosure of restricted or confidential information.>>>"
	EncryptedPlaceholderHTML = "<i>&lt;&lt;&lt;This e-mail was encrypted. Text content and attachments of encrypted e-mails are not published in the mail archive to avoid disclosure of restricted or confidential information.&gt;&gt;&gt;</i>"
)

// ExtractionFailedMarker is stored as body text when a message body could
// not be walked at all. The message itself is still archived.
const ExtractionFailedMarker = "<<<Failed to extract mail content>>>"

// vcardMarker detects an already-appended vcard so that multi-reply chains
// carrying the same card do not duplicate it.
const vcardMarker = "BEGIN:VCARD"

// Attachment is one binary part routed out of the MIME tree.
type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Content     []byte
}

// Content is the normalized result of walking one MIME body.
type Content struct {
	Text        string
	HTML        string
	Attachments []Attachment
	InlineCIDs  map[string]string
	Embedded    []*Mail
	Encrypted   bool
}

// Mail is a fully parsed message: envelope headers plus extracted content.
// Embedded rfc822 sub-messages are parsed into the same shape.
type Mail struct {
	MessageID   string
	Subject     string
	From        string
	To          string
	Cc          string
	DateHeader  string
	DecodedDate time.Time
	InReplyTo   string
	References  string
	ContentType string

	// TopicID and TopicSubject seed topic resolution; both may be
	// rewritten while the message is being attached to a conversation.
	TopicID      string
	TopicSubject string

	// IsFirstInTopic is set during resolution when no resolvable
	// ancestor conversation was found.
	IsFirstInTopic bool

	Content *Content
}

// Extractor walks MIME part trees. It only carries a logger; extraction
// itself is a pure traversal of the enmime part tree.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Parse reads a raw message and returns the parsed mail with extracted
// content. Body extraction failures never fail the message: the returned
// Mail then carries the diagnostic marker as its text body.
func (e *Extractor) Parse(r io.Reader) (*Mail, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read mail envelope: %w", err)
	}
	return e.parseEnvelope(env), nil
}

func (e *Extractor) parseEnvelope(env *enmime.Envelope) *Mail {
	m := &Mail{
		MessageID:   strings.Trim(env.GetHeader("Message-Id"), "<> "),
		Subject:     env.GetHeader("Subject"),
		From:        env.GetHeader("From"),
		To:          env.GetHeader("To"),
		Cc:          env.GetHeader("Cc"),
		DateHeader:  env.GetHeader("Date"),
		InReplyTo:   strings.Trim(env.GetHeader("In-Reply-To"), "<> "),
		References:  env.GetHeader("References"),
		ContentType: env.GetHeader("Content-Type"),
	}

	if m.DateHeader != "" {
		if d, err := mail.ParseDate(m.DateHeader); err == nil {
			m.DecodedDate = d
		} else {
			e.logger.Warn("could not decode date header",
				slog.String("message_id", m.MessageID),
				slog.String("date", m.DateHeader))
		}
	}

	// Conversation seed: Outlook-style Thread-Index when present,
	// otherwise the message id itself.
	if ti := env.GetHeader("Thread-Index"); ti != "" {
		if len(ti) > 30 {
			ti = ti[:30]
		}
		m.TopicID = ti
	} else {
		m.TopicID = m.MessageID
	}
	if tt := env.GetHeader("Thread-Topic"); tt != "" {
		m.TopicSubject = tt
	} else {
		m.TopicSubject = m.Subject
	}

	m.Content = e.ExtractBody(env.Root, m.ContentType)
	return m
}

// ExtractBody walks a MIME part tree depth-first and aggregates its
// content. contentType is the declared top-level content type, used to
// short-circuit encrypted messages without descending into them.
func (e *Extractor) ExtractBody(root *enmime.Part, contentType string) *Content {
	c := &Content{InlineCIDs: make(map[string]string)}

	if isEncrypted(contentType) {
		c.Text = EncryptedPlaceholderText
		c.HTML = EncryptedPlaceholderHTML
		c.Encrypted = true
		return c
	}

	if root == nil {
		c.Text = ExtractionFailedMarker
		return c
	}

	e.walk(root, c)
	c.Text = strings.TrimSpace(c.Text)
	return c
}

// walk visits one part and its subtree in order, merging results into c.
// A failure on one part is logged and skipped; siblings still contribute.
func (e *Extractor) walk(part *enmime.Part, c *Content) {
	if part == nil {
		return
	}

	ctype := strings.ToLower(part.ContentType)

	switch {
	case isEncrypted(ctype):
		// Nested encrypted wrapper: placeholder only, never descend.
		c.Text = EncryptedPlaceholderText
		c.HTML = EncryptedPlaceholderHTML
		c.Encrypted = true
		return

	case part.FileName != "":
		e.addAttachment(part, c)
		if strings.Contains(ctype, "vcard") && !strings.Contains(c.Text, vcardMarker) {
			c.Text += " " + string(part.Content)
		}

	case strings.HasPrefix(ctype, "message/rfc822"):
		e.addEmbedded(part, c)

	case strings.HasPrefix(ctype, "multipart/"):
		for child := part.FirstChild; child != nil; child = child.NextSibling {
			e.walk(child, c)
		}

	case strings.HasPrefix(ctype, "text/html"):
		c.HTML += string(part.Content)
		e.recordContentID(part, c)

	case strings.HasPrefix(ctype, "text/xml"):
		// Neither readable body text nor an attachment; skip.

	case strings.HasPrefix(ctype, "text/"):
		if len(part.Content) > 0 {
			c.Text += " " + string(part.Content)
		}

	default:
		// Unnamed binary part; keep it as an attachment so nothing is
		// silently dropped.
		if len(part.Content) > 0 {
			e.addAttachment(part, c)
		}
	}
}

// addAttachment routes one part into the attachment list and records its
// content-id so cid: references in HTML can be rewritten later. Filenames
// come from untrusted headers and are sanitized before use.
func (e *Extractor) addAttachment(part *enmime.Part, c *Content) {
	filename := part.FileName
	if filename == "" {
		filename = fmt.Sprintf("part-%s.bin", part.PartID)
	}
	filename = validator.SanitizeFilename(filename)
	c.Attachments = append(c.Attachments, Attachment{
		Filename:    filename,
		ContentType: part.ContentType,
		ContentID:   strings.Trim(part.ContentID, "<>"),
		Content:     part.Content,
	})
	e.recordContentID(part, c)
}

func (e *Extractor) recordContentID(part *enmime.Part, c *Content) {
	cid := strings.Trim(part.ContentID, "<>")
	if cid == "" {
		return
	}
	filename := part.FileName
	if filename == "" {
		filename = fmt.Sprintf("part-%s.bin", part.PartID)
	}
	c.InlineCIDs[cid] = validator.SanitizeFilename(filename)
}

// addEmbedded parses a message/rfc822 part into a full sub-message,
// appends it to the embedded list and folds its plain text into the
// outer aggregation.
func (e *Extractor) addEmbedded(part *enmime.Part, c *Content) {
	var embedded *Mail

	if len(part.Content) > 0 {
		sub, err := e.Parse(bytes.NewReader(part.Content))
		if err != nil {
			e.logger.Warn("failed to parse embedded message, skipping part",
				slog.String("part_id", part.PartID),
				slog.String("error", err.Error()))
			return
		}
		embedded = sub
	} else if part.FirstChild != nil {
		// Some parsers expand rfc822 parts in place instead of keeping
		// the raw bytes; walk the expanded child tree directly.
		sub := &Content{InlineCIDs: make(map[string]string)}
		e.walk(part.FirstChild, sub)
		sub.Text = strings.TrimSpace(sub.Text)
		embedded = &Mail{ContentType: part.ContentType, Content: sub}
	} else {
		return
	}

	c.Embedded = append(c.Embedded, embedded)
	if embedded.Content != nil && embedded.Content.Text != "" {
		c.Text += " " + embedded.Content.Text
	}
}

// isEncrypted reports whether a content type declares an encrypted or
// S/MIME wrapped payload.
func isEncrypted(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "pkcs7-mime") || strings.Contains(ct, "multipart/encrypted")
}

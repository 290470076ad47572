// Package topics reconstructs conversations from noisy mail headers. The
// resolver decides, per incoming message, which known topic it belongs to
// or whether it starts a new one.
package topics

import (
	"context"
	"log/slog"
	"strings"

	"github.com/danuarta/mailarchive-backend/internal/extract"
	"github.com/danuarta/mailarchive-backend/internal/models"
	"github.com/danuarta/mailarchive-backend/internal/similarity"
)

// TopicRef is the known-topic index projection held in memory for the
// duration of an ingestion session.
type TopicRef struct {
	LocationRef string
	Subject     string
}

// MessageRef is the known-message index projection.
type MessageRef struct {
	Subject     string
	TopicID     string
	LocationRef string
}

// TopicIndex maps topicId to its projection.
type TopicIndex map[string]TopicRef

// MessageIndex maps messageId to its projection.
type MessageIndex map[string]MessageRef

// ThreadStore loads the stored reply pointer and subject of an archived
// message, needed while walking a reply chain backwards.
type ThreadStore interface {
	GetThreadRef(ctx context.Context, messageID string) (*models.ThreadRef, error)
}

// Resolution is the outcome of resolving one message.
type Resolution struct {
	TopicID string
	IsNew   bool
}

// Resolver assigns messages to conversations.
type Resolver struct {
	store  ThreadStore
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by the given thread store.
func NewResolver(store ThreadStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve decides which topic m belongs to. The indices are read, never
// mutated; the caller applies index updates after persisting. When no
// existing topic fits, m may be rewritten (topic id reassigned on
// collision, reply pointer cleared) and flagged as first in its topic.
//
// Resolution order, first success wins:
//  1. walk the reply chain backwards through known messages
//  2. direct topic-id hit with a similar subject
//  3. exact subject scan over known topics
//  4. new topic
func (r *Resolver) Resolve(ctx context.Context, m *extract.Mail, knownTopics TopicIndex, knownMessages MessageIndex) Resolution {
	if topicID, ok := r.walkReplyChain(ctx, m, knownMessages); ok {
		return Resolution{TopicID: topicID}
	}

	if ref, ok := knownTopics[m.TopicID]; ok && similarity.Similar(m.TopicSubject, ref.Subject) {
		return Resolution{TopicID: m.TopicID}
	}

	if topicID, ok := r.scanSubjects(m, knownTopics); ok {
		return Resolution{TopicID: topicID}
	}

	// No existing topic. A recycled topic id colliding with an already
	// known topic gets replaced by the message id, which is globally
	// unique by construction.
	if _, collision := knownTopics[m.TopicID]; collision {
		r.logger.Debug("topic id collision, reassigning message id as topic id",
			slog.String("message_id", m.MessageID),
			slog.String("topic_id", m.TopicID))
		m.TopicID = m.MessageID
		m.InReplyTo = ""
	}
	m.IsFirstInTopic = true
	return Resolution{TopicID: m.TopicID, IsNew: true}
}

// walkReplyChain follows in-reply-to pointers backwards through known
// messages while subjects stay similar, and returns the topic of the
// last matched ancestor. The walk is bounded: a repeated message id
// (reply cycle) stops it the same way a missing ancestor does.
func (r *Resolver) walkReplyChain(ctx context.Context, m *extract.Mail, knownMessages MessageIndex) (string, bool) {
	replyID := m.InReplyTo
	subject := m.TopicSubject
	last := ""
	visited := make(map[string]struct{})

	for replyID != "" {
		if _, seen := visited[replyID]; seen {
			r.logger.Warn("reply cycle detected, stopping walk",
				slog.String("message_id", m.MessageID),
				slog.String("reply_id", replyID))
			break
		}
		visited[replyID] = struct{}{}

		if _, known := knownMessages[replyID]; !known {
			break
		}
		ref, err := r.store.GetThreadRef(ctx, replyID)
		if err != nil || ref == nil {
			r.logger.Warn("could not load stored ancestor, stopping walk",
				slog.String("reply_id", replyID))
			break
		}
		if !similarity.Similar(subject, ref.TopicSubject) {
			break
		}
		last = replyID
		replyID = ref.InReplyTo
		subject = ref.TopicSubject
	}

	if last == "" {
		return "", false
	}
	return knownMessages[last].TopicID, true
}

// scanSubjects looks for a known topic whose subject, case-insensitively
// trimmed, equals the message's. A message that claims to start a new
// thread (empty in-reply-to) only attaches when its topic id was already
// seen; some clients recycle a topic id without setting reply headers,
// and this keeps those from spawning duplicate topics.
func (r *Resolver) scanSubjects(m *extract.Mail, knownTopics TopicIndex) (string, bool) {
	want := strings.TrimSpace(m.TopicSubject)
	for topicID, ref := range knownTopics {
		if !strings.EqualFold(strings.TrimSpace(ref.Subject), want) {
			continue
		}
		if m.InReplyTo != "" {
			return topicID, true
		}
		if _, seen := knownTopics[m.TopicID]; seen {
			r.logger.Debug("message claims new thread but topic id was seen, attaching",
				slog.String("message_id", m.MessageID),
				slog.String("topic_id", topicID))
			return topicID, true
		}
	}
	return "", false
}

// Package ingest orchestrates ingestion sessions: fetching raw mail from
// configured sources, driving extraction, classification and topic
// resolution, persisting results and reporting per-source outcomes.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/danuarta/mailarchive-backend/internal/classify"
	"github.com/danuarta/mailarchive-backend/internal/extract"
	"github.com/danuarta/mailarchive-backend/internal/mailsource"
	"github.com/danuarta/mailarchive-backend/internal/models"
	"github.com/danuarta/mailarchive-backend/internal/repository"
	"github.com/danuarta/mailarchive-backend/internal/storage"
	"github.com/danuarta/mailarchive-backend/internal/topics"
)

// ErrSessionInProgress is returned when a session start is attempted
// while another session is running. The caller gets it immediately;
// there is no queueing and no waiting.
var ErrSessionInProgress = errors.New("ingestion session already in progress")

// AttachedMailType is the type recorded on messages extracted from
// message/rfc822 parts.
const AttachedMailType = "Attached Mail"

// SourceOpener creates a source from its descriptor. Swappable in tests.
type SourceOpener func(d mailsource.Descriptor, logger *slog.Logger) (mailsource.Source, error)

// Notifier receives live session events. Implementations must not block.
type Notifier interface {
	SessionStarted()
	MessageArchived(messageID, topicID, subject string)
	SessionFinished(report *SessionReport)
}

// Coordinator runs ingestion sessions. At most one session is RUNNING
// process-wide; the running flag is the only shared mutable state and is
// guarded by an atomic check-and-set.
type Coordinator struct {
	topicRepo   repository.TopicRepository
	messageRepo repository.MessageRepository
	blobs       storage.AttachmentStore
	extractor   *extract.Extractor
	classifier  *classify.Classifier
	resolver    *topics.Resolver
	sources     []mailsource.Descriptor
	openSource  SourceOpener
	notifier    Notifier
	logger      *slog.Logger

	running atomic.Bool

	mu         sync.Mutex
	lastReport *SessionReport
}

// NewCoordinator wires a Coordinator over its collaborators.
func NewCoordinator(
	topicRepo repository.TopicRepository,
	messageRepo repository.MessageRepository,
	blobs storage.AttachmentStore,
	classifier *classify.Classifier,
	sources []mailsource.Descriptor,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		topicRepo:   topicRepo,
		messageRepo: messageRepo,
		blobs:       blobs,
		extractor:   extract.New(logger),
		classifier:  classifier,
		resolver:    topics.NewResolver(messageRepo, logger),
		sources:     sources,
		openSource:  mailsource.Open,
		notifier:    nil,
		logger:      logger,
	}
}

// SetNotifier attaches a live event sink. Must be called before Run.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.notifier = n
}

// SetSourceOpener overrides how sources are opened. Used by tests.
func (c *Coordinator) SetSourceOpener(open SourceOpener) {
	c.openSource = open
}

// LastReport returns the report of the most recent session, or nil when
// none has run yet.
func (c *Coordinator) LastReport() *SessionReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReport
}

// Running reports whether a session is currently in progress.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Run executes one ingestion session over all configured sources. It
// returns ErrSessionInProgress without doing any work when a session is
// already running. Individual source and message failures are isolated;
// only an index load failure before any source is attempted fails the
// session.
func (c *Coordinator) Run(ctx context.Context) (*SessionReport, error) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Info("ingestion session already in progress, refusing to start")
		return nil, ErrSessionInProgress
	}
	defer c.running.Store(false)

	c.logger.Info("starting ingestion session", slog.Int("sources", len(c.sources)))
	if c.notifier != nil {
		c.notifier.SessionStarted()
	}

	report := &SessionReport{State: StateRunning, StartedAt: time.Now().UTC()}

	if ctx.Err() != nil {
		report.State = StateCanceled
		report.Error = ctx.Err().Error()
		report.FinishedAt = time.Now().UTC()
		c.finish(report)
		return report, nil
	}

	sess, err := c.newSession(ctx)
	if err != nil {
		report.State = StateFailed
		report.Error = err.Error()
		report.FinishedAt = time.Now().UTC()
		c.finish(report)
		return report, fmt.Errorf("failed to start ingestion session: %w", err)
	}

	for _, desc := range c.sources {
		if ctx.Err() != nil {
			break
		}
		report.Sources = append(report.Sources, c.runSource(ctx, sess, desc))
	}

	if ctx.Err() != nil {
		report.State = StateCanceled
		report.Error = ctx.Err().Error()
	} else {
		report.State = StateCompleted
	}
	report.FinishedAt = time.Now().UTC()
	c.finish(report)

	c.logger.Info("ingestion session finished",
		slog.String("state", report.State),
		slog.Int("loaded", report.TotalLoaded()),
		slog.Int("failed", report.TotalFailed()))
	return report, nil
}

// ArchiveOne archives a single raw message outside a source pass, e.g.
// one delivered directly over SMTP. It takes the same session lock, so
// it refuses while a full session is running.
func (c *Coordinator) ArchiveOne(ctx context.Context, raw []byte) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrSessionInProgress
	}
	defer c.running.Store(false)

	sess, err := c.newSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to load archive indices: %w", err)
	}

	rep := &SourceReport{Source: "smtp"}
	if err := sess.processMessage(ctx, mailsource.RawMessage{Raw: raw}, rep); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) finish(report *SessionReport) {
	c.mu.Lock()
	c.lastReport = report
	c.mu.Unlock()
	if c.notifier != nil {
		c.notifier.SessionFinished(report)
	}
}

// runSource ingests one configured source. Every failure path is folded
// into the returned report; nothing escapes to abort the session.
func (c *Coordinator) runSource(ctx context.Context, sess *session, desc mailsource.Descriptor) SourceReport {
	rep := SourceReport{Source: desc.Name}
	logger := c.logger.With(slog.String("source", desc.Name))

	src, err := c.openSource(desc, logger)
	if err != nil {
		rep.Code = mailsource.CodeOf(err)
		logger.Warn("could not open source", slog.String("error", err.Error()))
		return rep
	}
	defer src.Close()

	if err := src.Connect(ctx); err != nil {
		rep.Code = mailsource.CodeOf(err)
		logger.Warn("could not connect to source", slog.String("error", err.Error()))
		return rep
	}

	rawMessages, err := src.FetchUnseen(ctx, desc.MaxMessages)
	if err != nil {
		rep.Code = mailsource.CodeOf(err)
		logger.Warn("could not fetch from source", slog.String("error", err.Error()))
		return rep
	}

	rep.Seen = len(rawMessages)
	for _, raw := range rawMessages {
		if ctx.Err() != nil {
			break
		}
		if err := sess.processMessage(ctx, raw, &rep); err != nil {
			rep.Failed++
			logger.Warn("failed to archive message",
				slog.String("message_id", raw.ID),
				slog.String("error", err.Error()))
		}
	}

	logger.Info("source pass finished",
		slog.Int("seen", rep.Seen),
		slog.Int("loaded", rep.Loaded),
		slog.Int("skipped", rep.Skipped),
		slog.Int("failed", rep.Failed))
	return rep
}

// session carries the in-memory index snapshots for one ingestion pass.
// They are loaded once at session start, mutated only here, and thrown
// away when the session ends.
type session struct {
	c             *Coordinator
	knownTopics   topics.TopicIndex
	knownMessages topics.MessageIndex
}

func (c *Coordinator) newSession(ctx context.Context) (*session, error) {
	knownTopics, err := c.topicRepo.LoadKnown(ctx)
	if err != nil {
		return nil, err
	}
	knownMessages, err := c.messageRepo.LoadKnown(ctx)
	if err != nil {
		return nil, err
	}
	return &session{c: c, knownTopics: knownTopics, knownMessages: knownMessages}, nil
}

// processMessage ingests one raw message: parse, classify, dedup,
// resolve, persist, and update the in-memory indices so later messages
// in the same pass resolve against it.
func (s *session) processMessage(ctx context.Context, raw mailsource.RawMessage, rep *SourceReport) error {
	m, err := s.c.extractor.Parse(bytes.NewReader(raw.Raw))
	if err != nil {
		return err
	}

	if m.MessageID == "" {
		m.MessageID = raw.ID
	}
	if m.MessageID == "" {
		// Source gave us nothing to key on; synthesize a stable-enough id
		// so the message is still archived exactly once per fetch.
		m.MessageID = "generated-" + uuid.NewString()
	}
	if m.TopicID == "" {
		m.TopicID = m.MessageID
	}

	fields := classify.Fields{From: m.From, To: m.To, Cc: m.Cc, Subject: m.Subject}
	msgType := s.c.classifier.Classify(fields)
	tags := s.c.classifier.Tags(fields)

	extract.Bound(m)

	// Duplicate: possibly correct the topic linkage, nothing else.
	if known, ok := s.knownMessages[m.MessageID]; ok {
		res := s.c.resolver.Resolve(ctx, m, s.knownTopics, s.knownMessages)
		if !res.IsNew && res.TopicID != known.TopicID {
			s.c.logger.Info("correcting topic link of already archived message",
				slog.String("message_id", m.MessageID),
				slog.String("old_topic", known.TopicID),
				slog.String("new_topic", res.TopicID))
			if err := s.c.messageRepo.UpdateTopicLink(ctx, m.MessageID, res.TopicID); err != nil {
				return err
			}
			known.TopicID = res.TopicID
			s.knownMessages[m.MessageID] = known
		}
		rep.Skipped++
		return nil
	}

	res := s.c.resolver.Resolve(ctx, m, s.knownTopics, s.knownMessages)
	if res.IsNew {
		if err := s.createTopic(ctx, m, msgType, tags); err != nil {
			return err
		}
	} else {
		m.TopicID = res.TopicID
		if err := s.updateTopic(ctx, m); err != nil {
			return err
		}
	}

	if err := s.persistMail(ctx, m, msgType, tags, false, ""); err != nil {
		return err
	}

	rep.Loaded++
	return nil
}

// createTopic records a new conversation and registers it in the
// session index.
func (s *session) createTopic(ctx context.Context, m *extract.Mail, msgType, tags string) error {
	topic := &models.Topic{
		TopicID:        m.TopicID,
		Subject:        m.TopicSubject,
		Author:         m.From,
		StartDate:      m.DecodedDate,
		LastUpdateDate: m.DecodedDate,
		Type:           msgType,
		Tags:           tags,
	}
	if err := s.c.topicRepo.Create(ctx, topic); err != nil {
		return err
	}
	s.knownTopics[m.TopicID] = topics.TopicRef{
		LocationRef: fmt.Sprintf("topics/%d", topic.ID),
		Subject:     m.TopicSubject,
	}
	return nil
}

// updateTopic applies the topic-update rule for a message attached to an
// existing topic. Author, start date and last update date move
// independently; any combination may fire for one message.
func (s *session) updateTopic(ctx context.Context, m *extract.Mail) error {
	topic, err := s.c.topicRepo.GetByTopicID(ctx, m.TopicID)
	if err != nil {
		return err
	}

	isMoreRecent := m.DecodedDate.After(topic.LastUpdateDate)
	isMoreAncient := m.DecodedDate.Before(topic.StartDate)

	if !m.IsFirstInTopic && !isMoreRecent {
		return nil
	}

	fields := map[string]interface{}{}
	if (topic.Author != m.From && isMoreAncient) || topic.Author == "" {
		fields["author"] = m.From
	}
	if topic.StartDate.IsZero() || isMoreAncient {
		fields["start_date"] = m.DecodedDate
	}
	if isMoreRecent {
		fields["last_update_date"] = m.DecodedDate
	}
	if len(fields) == 0 {
		return nil
	}
	return s.c.topicRepo.UpdateFields(ctx, m.TopicID, fields)
}

// persistMail stores one parsed mail with its attachments, then its
// embedded sub-messages as subordinate archived messages.
func (s *session) persistMail(ctx context.Context, m *extract.Mail, msgType, tags string, attached bool, parent string) error {
	sensitivity := models.SensitivityNormal
	if m.Content != nil && m.Content.Encrypted {
		sensitivity = models.SensitivityEncrypted
	}

	record := &models.Message{
		MessageID:      m.MessageID,
		TopicID:        m.TopicID,
		Subject:        m.Subject,
		TopicSubject:   m.TopicSubject,
		InReplyTo:      m.InReplyTo,
		References:     m.References,
		From:           m.From,
		To:             m.To,
		Cc:             m.Cc,
		DateHeader:     m.DateHeader,
		DecodedDate:    m.DecodedDate,
		Type:           msgType,
		Sensitivity:    sensitivity,
		Tags:           tags,
		IsAttachedMail: attached,
		ParentMessage:  parent,
		IsFirstInTopic: m.IsFirstInTopic,
	}
	if m.Content != nil {
		record.BodyText = m.Content.Text
		record.BodyHTML = m.Content.HTML
	}

	attachments, err := s.storeAttachments(m)
	if err != nil {
		return err
	}

	if err := s.c.messageRepo.CreateWithAttachments(ctx, record, attachments); err != nil {
		return err
	}

	s.knownMessages[m.MessageID] = topics.MessageRef{
		Subject:     m.Subject,
		TopicID:     m.TopicID,
		LocationRef: fmt.Sprintf("messages/%d", record.ID),
	}

	if s.c.notifier != nil {
		s.c.notifier.MessageArchived(m.MessageID, m.TopicID, m.Subject)
	}

	// Embedded rfc822 messages become subordinate archived messages in
	// the parent's topic. They never create or resolve topics.
	if m.Content != nil {
		for _, sub := range m.Content.Embedded {
			if sub.MessageID == "" {
				sub.MessageID = "attached-" + uuid.NewString()
			}
			if _, exists := s.knownMessages[sub.MessageID]; exists {
				continue
			}
			sub.TopicID = m.TopicID
			extract.Bound(sub)
			if err := s.persistMail(ctx, sub, AttachedMailType, "", true, m.MessageID); err != nil {
				s.c.logger.Warn("failed to archive embedded message",
					slog.String("parent", m.MessageID),
					slog.String("message_id", sub.MessageID),
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// storeAttachments writes attachment blobs and returns their rows.
func (s *session) storeAttachments(m *extract.Mail) ([]models.Attachment, error) {
	if m.Content == nil || len(m.Content.Attachments) == 0 {
		return nil, nil
	}
	attachments := make([]models.Attachment, 0, len(m.Content.Attachments))
	for _, att := range m.Content.Attachments {
		path, err := s.c.blobs.Save(att.Filename, bytes.NewReader(att.Content))
		if err != nil {
			return nil, fmt.Errorf("failed to store attachment %q: %w", att.Filename, err)
		}
		attachments = append(attachments, models.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			ContentID:   att.ContentID,
			FilePath:    path,
			SizeBytes:   int64(len(att.Content)),
		})
	}
	return attachments, nil
}

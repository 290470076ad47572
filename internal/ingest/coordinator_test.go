package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/danuarta/mailarchive-backend/internal/classify"
	"github.com/danuarta/mailarchive-backend/internal/mailsource"
	"github.com/danuarta/mailarchive-backend/internal/models"
	"github.com/danuarta/mailarchive-backend/internal/repository"
	"github.com/danuarta/mailarchive-backend/internal/storage"
)

// fakeSource serves canned raw messages and records lifecycle calls.
type fakeSource struct {
	messages []mailsource.RawMessage
	connErr  error
	fetchErr error
	closed   bool
	// block, when set, stalls FetchUnseen until the channel is closed.
	block chan struct{}
}

func (f *fakeSource) Connect(ctx context.Context) error { return f.connErr }

func (f *fakeSource) FetchUnseen(ctx context.Context, max int) ([]mailsource.RawMessage, error) {
	if f.block != nil {
		<-f.block
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if max > 0 && len(f.messages) > max {
		return f.messages[:max], nil
	}
	return f.messages, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func rawMail(messageID, subject, from, inReplyTo, date, body string) mailsource.RawMessage {
	raw := fmt.Sprintf("From: %s\r\nTo: team@corp.com\r\nSubject: %s\r\nMessage-Id: <%s>\r\nDate: %s\r\n",
		from, subject, messageID, date)
	if inReplyTo != "" {
		raw += fmt.Sprintf("In-Reply-To: <%s>\r\n", inReplyTo)
	}
	raw += "Content-Type: text/plain; charset=utf-8\r\n\r\n" + body
	return mailsource.RawMessage{ID: messageID, Raw: []byte(raw)}
}

// CoordinatorTestSuite is the test suite for the session coordinator
type CoordinatorTestSuite struct {
	suite.Suite
	db          *gorm.DB
	topicRepo   repository.TopicRepository
	messageRepo repository.MessageRepository
	blobs       storage.AttachmentStore
}

// SetupTest gives every test a fresh in-memory archive
func (s *CoordinatorTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), db.AutoMigrate(&models.Topic{}, &models.Message{}, &models.Attachment{}))

	s.db = db
	s.topicRepo = repository.NewTopicRepository(db)
	s.messageRepo = repository.NewMessageRepository(db)

	blobs, err := storage.NewLocalStore(s.T().TempDir())
	require.NoError(s.T(), err)
	s.blobs = blobs
}

func (s *CoordinatorTestSuite) TearDownTest() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// newCoordinator builds a Coordinator whose sources resolve to fakes.
func (s *CoordinatorTestSuite) newCoordinator(fakes map[string]*fakeSource, rules []classify.Rule) *Coordinator {
	var descriptors []mailsource.Descriptor
	for name := range fakes {
		descriptors = append(descriptors, mailsource.Descriptor{
			Name: name, Host: "mail.corp.com", Port: 993, Protocol: mailsource.ProtocolIMAPS,
		})
	}

	c := NewCoordinator(s.topicRepo, s.messageRepo, s.blobs,
		classify.New(rules, nil, nil), descriptors, slog.Default())
	c.SetSourceOpener(func(d mailsource.Descriptor, _ *slog.Logger) (mailsource.Source, error) {
		return fakes[d.Name], nil
	})
	return c
}

func (s *CoordinatorTestSuite) countRows(model interface{}) int64 {
	var n int64
	s.db.Model(model).Count(&n)
	return n
}

// TestRun_ThreadReconstruction tests that a starter and its reply share a topic
func (s *CoordinatorTestSuite) TestRun_ThreadReconstruction() {
	src := &fakeSource{messages: []mailsource.RawMessage{
		rawMail("m1@corp.com", "Launch plan", "alice@corp.com", "", "Mon, 06 Jan 2025 10:00:00 +0000", "kicking off"),
		rawMail("m2@corp.com", "Re: Launch plan", "bob@corp.com", "m1@corp.com", "Mon, 06 Jan 2025 11:00:00 +0000", "sounds good"),
	}}
	c := s.newCoordinator(map[string]*fakeSource{"corp": src}, nil)

	report, err := c.Run(context.Background())
	require.NoError(s.T(), err)

	assert.Equal(s.T(), StateCompleted, report.State)
	require.Len(s.T(), report.Sources, 1)
	assert.Equal(s.T(), 2, report.Sources[0].Seen)
	assert.Equal(s.T(), 2, report.Sources[0].Loaded)
	assert.EqualValues(s.T(), 1, s.countRows(&models.Topic{}))
	assert.EqualValues(s.T(), 2, s.countRows(&models.Message{}))

	first, err := s.messageRepo.GetByMessageID(context.Background(), "m1@corp.com")
	require.NoError(s.T(), err)
	reply, err := s.messageRepo.GetByMessageID(context.Background(), "m2@corp.com")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), first.TopicID, reply.TopicID)
	assert.True(s.T(), first.IsFirstInTopic)
	assert.False(s.T(), reply.IsFirstInTopic)
	assert.True(s.T(), src.closed)

	topic, err := s.topicRepo.GetByTopicID(context.Background(), first.TopicID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "alice@corp.com", topic.Author)
	assert.True(s.T(), topic.LastUpdateDate.After(topic.StartDate))
}

// TestRun_Idempotent tests that re-ingesting the same messages is a no-op
func (s *CoordinatorTestSuite) TestRun_Idempotent() {
	messages := []mailsource.RawMessage{
		rawMail("m1@corp.com", "Launch plan", "alice@corp.com", "", "Mon, 06 Jan 2025 10:00:00 +0000", "kicking off"),
	}
	c := s.newCoordinator(map[string]*fakeSource{"corp": {messages: messages}}, nil)

	_, err := c.Run(context.Background())
	require.NoError(s.T(), err)

	c2 := s.newCoordinator(map[string]*fakeSource{"corp": {messages: messages}}, nil)
	report, err := c2.Run(context.Background())
	require.NoError(s.T(), err)

	assert.Equal(s.T(), 1, report.Sources[0].Skipped)
	assert.Equal(s.T(), 0, report.Sources[0].Loaded)
	assert.EqualValues(s.T(), 1, s.countRows(&models.Message{}))
	assert.EqualValues(s.T(), 1, s.countRows(&models.Topic{}))
}

// TestRun_FailingSourceDoesNotAbortSession tests source failure isolation
func (s *CoordinatorTestSuite) TestRun_FailingSourceDoesNotAbortSession() {
	broken := &fakeSource{connErr: &mailsource.ConnError{
		Code: mailsource.CodeUnknownHost, Source: "broken",
		Err: fmt.Errorf("no such host")}}
	good := &fakeSource{messages: []mailsource.RawMessage{
		rawMail("m1@corp.com", "still works", "alice@corp.com", "", "Mon, 06 Jan 2025 10:00:00 +0000", "hi"),
	}}
	c := s.newCoordinator(map[string]*fakeSource{"broken": broken, "good": good}, nil)

	report, err := c.Run(context.Background())
	require.NoError(s.T(), err)

	assert.Equal(s.T(), StateCompleted, report.State)
	assert.EqualValues(s.T(), 1, s.countRows(&models.Message{}))

	byName := map[string]SourceReport{}
	for _, sr := range report.Sources {
		byName[sr.Source] = sr
	}
	assert.Equal(s.T(), mailsource.CodeUnknownHost, byName["broken"].Code)
	assert.Equal(s.T(), 1, byName["good"].Loaded)
}

// TestRun_PerMessageFailureIsolated tests that one bad message does not
// stop the rest of the source pass
func (s *CoordinatorTestSuite) TestRun_PerMessageFailureIsolated() {
	src := &fakeSource{messages: []mailsource.RawMessage{
		{ID: "broken", Raw: nil},
		rawMail("m2@corp.com", "good one", "alice@corp.com", "", "Mon, 06 Jan 2025 10:00:00 +0000", "hi"),
	}}
	c := s.newCoordinator(map[string]*fakeSource{"corp": src}, nil)

	report, err := c.Run(context.Background())
	require.NoError(s.T(), err)

	assert.Equal(s.T(), StateCompleted, report.State)
	assert.Equal(s.T(), 1, report.Sources[0].Failed)
	assert.Equal(s.T(), 1, report.Sources[0].Loaded)
}

// TestRun_AlreadyInProgress tests the non-blocking session lock
func (s *CoordinatorTestSuite) TestRun_AlreadyInProgress() {
	block := make(chan struct{})
	src := &fakeSource{block: block}
	c := s.newCoordinator(map[string]*fakeSource{"corp": src}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Run(context.Background())
		assert.NoError(s.T(), err)
	}()

	// Wait until the first session holds the lock.
	require.Eventually(s.T(), c.Running, time.Second, time.Millisecond)

	report, err := c.Run(context.Background())
	assert.ErrorIs(s.T(), err, ErrSessionInProgress)
	assert.Nil(s.T(), report)
	assert.EqualValues(s.T(), 0, s.countRows(&models.Message{}))

	close(block)
	<-done
	assert.False(s.T(), c.Running())
}

// TestRun_Cancellation tests that a canceled context stops between messages
func (s *CoordinatorTestSuite) TestRun_Cancellation() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{messages: []mailsource.RawMessage{
		rawMail("m1@corp.com", "never loaded", "alice@corp.com", "", "Mon, 06 Jan 2025 10:00:00 +0000", "hi"),
	}}
	c := s.newCoordinator(map[string]*fakeSource{"corp": src}, nil)

	report, err := c.Run(ctx)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), StateCanceled, report.State)
	assert.EqualValues(s.T(), 0, s.countRows(&models.Message{}))
	assert.False(s.T(), c.Running())
}

// TestRun_TopicLinkCorrection tests the duplicate topic-merge correction
func (s *CoordinatorTestSuite) TestRun_TopicLinkCorrection() {
	// First pass: the reply arrives alone, starting its own topic.
	reply := rawMail("m2@corp.com", "Re: Launch plan", "bob@corp.com", "m1@corp.com", "Mon, 06 Jan 2025 11:00:00 +0000", "sounds good")
	c := s.newCoordinator(map[string]*fakeSource{"corp": {messages: []mailsource.RawMessage{reply}}}, nil)
	_, err := c.Run(context.Background())
	require.NoError(s.T(), err)

	stored, err := s.messageRepo.GetByMessageID(context.Background(), "m2@corp.com")
	require.NoError(s.T(), err)
	originalTopic := stored.TopicID

	// Second pass: the thread starter appears, then the duplicate reply.
	// Resolution now puts the reply into the starter's topic, so only its
	// linkage is corrected.
	c2 := s.newCoordinator(map[string]*fakeSource{"corp": {messages: []mailsource.RawMessage{
		rawMail("m1@corp.com", "Launch plan", "alice@corp.com", "", "Mon, 06 Jan 2025 10:00:00 +0000", "kicking off"),
		reply,
	}}}, nil)
	report, err := c2.Run(context.Background())
	require.NoError(s.T(), err)

	assert.Equal(s.T(), 1, report.Sources[0].Loaded)
	assert.Equal(s.T(), 1, report.Sources[0].Skipped)
	assert.EqualValues(s.T(), 2, s.countRows(&models.Message{}))

	starter, err := s.messageRepo.GetByMessageID(context.Background(), "m1@corp.com")
	require.NoError(s.T(), err)
	corrected, err := s.messageRepo.GetByMessageID(context.Background(), "m2@corp.com")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), starter.TopicID, corrected.TopicID)
	assert.NotEqual(s.T(), originalTopic, corrected.TopicID)
}

// TestRun_TopicDates tests the topic-update rule for ancient and recent mail
func (s *CoordinatorTestSuite) TestRun_TopicDates() {
	src := &fakeSource{messages: []mailsource.RawMessage{
		rawMail("m2@corp.com", "Budget Q1", "bob@corp.com", "", "Mon, 06 Jan 2025 12:00:00 +0000", "middle"),
		rawMail("m3@corp.com", "Re: Budget Q1", "carol@corp.com", "m2@corp.com", "Mon, 06 Jan 2025 15:00:00 +0000", "newer"),
	}}
	c := s.newCoordinator(map[string]*fakeSource{"corp": src}, nil)
	_, err := c.Run(context.Background())
	require.NoError(s.T(), err)

	msg, err := s.messageRepo.GetByMessageID(context.Background(), "m2@corp.com")
	require.NoError(s.T(), err)
	topic, err := s.topicRepo.GetByTopicID(context.Background(), msg.TopicID)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), 12, topic.StartDate.UTC().Hour())
	assert.Equal(s.T(), 15, topic.LastUpdateDate.UTC().Hour())
	assert.Equal(s.T(), "bob@corp.com", topic.Author)
}

// TestRun_Classification tests that configured rules type new topics
func (s *CoordinatorTestSuite) TestRun_Classification() {
	rules := []classify.Rule{{
		Name:     "Release",
		Patterns: []classify.PatternEntry{{Fields: []string{"subject"}, Pattern: `v\d+\.\d+`}},
	}}
	src := &fakeSource{messages: []mailsource.RawMessage{
		rawMail("m1@corp.com", "Release v2.3 available", "build@corp.com", "", "Mon, 06 Jan 2025 10:00:00 +0000", "shipped"),
	}}
	c := s.newCoordinator(map[string]*fakeSource{"corp": src}, rules)
	_, err := c.Run(context.Background())
	require.NoError(s.T(), err)

	msg, err := s.messageRepo.GetByMessageID(context.Background(), "m1@corp.com")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "Release", msg.Type)
}

// TestRun_AttachmentsStored tests attachment blob storage and rows
func (s *CoordinatorTestSuite) TestRun_AttachmentsStored() {
	raw := "From: alice@corp.com\r\n" +
		"Subject: with attachment\r\n" +
		"Message-Id: <m1@corp.com>\r\n" +
		"Date: Mon, 06 Jan 2025 10:00:00 +0000\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"b\"\r\n\r\n" +
		"--b\r\nContent-Type: text/plain\r\n\r\nsee attached\r\n" +
		"--b\r\nContent-Type: application/pdf; name=\"doc.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"doc.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\nJVBERi0xLjQK\r\n--b--\r\n"
	src := &fakeSource{messages: []mailsource.RawMessage{{ID: "m1@corp.com", Raw: []byte(raw)}}}
	c := s.newCoordinator(map[string]*fakeSource{"corp": src}, nil)
	_, err := c.Run(context.Background())
	require.NoError(s.T(), err)

	msg, err := s.messageRepo.GetByMessageID(context.Background(), "m1@corp.com")
	require.NoError(s.T(), err)
	require.Len(s.T(), msg.Attachments, 1)
	assert.Equal(s.T(), "doc.pdf", msg.Attachments[0].Filename)

	blob, err := s.blobs.Get(msg.Attachments[0].FilePath)
	require.NoError(s.T(), err)
	blob.Close()
}

// TestRun_EncryptedMail tests sensitivity marking and placeholder bodies
func (s *CoordinatorTestSuite) TestRun_EncryptedMail() {
	raw := "From: alice@corp.com\r\n" +
		"Subject: secret\r\n" +
		"Message-Id: <m1@corp.com>\r\n" +
		"Date: Mon, 06 Jan 2025 10:00:00 +0000\r\n" +
		"Content-Type: application/pkcs7-mime; smime-type=enveloped-data\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\nMIAGCSqGSIb3DQ==\r\n"
	src := &fakeSource{messages: []mailsource.RawMessage{{ID: "m1@corp.com", Raw: []byte(raw)}}}
	c := s.newCoordinator(map[string]*fakeSource{"corp": src}, nil)
	_, err := c.Run(context.Background())
	require.NoError(s.T(), err)

	msg, err := s.messageRepo.GetByMessageID(context.Background(), "m1@corp.com")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.SensitivityEncrypted, msg.Sensitivity)
	assert.Contains(s.T(), msg.BodyText, "encrypted")
}

// TestRun_EmbeddedMessage tests that rfc822 parts become subordinate messages
func (s *CoordinatorTestSuite) TestRun_EmbeddedMessage() {
	raw := "From: alice@corp.com\r\n" +
		"Subject: fwd\r\n" +
		"Message-Id: <m1@corp.com>\r\n" +
		"Date: Mon, 06 Jan 2025 10:00:00 +0000\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"b\"\r\n\r\n" +
		"--b\r\nContent-Type: text/plain\r\n\r\nforwarding\r\n" +
		"--b\r\nContent-Type: message/rfc822\r\n\r\n" +
		"From: bob@corp.com\r\nSubject: original\r\nMessage-Id: <orig@corp.com>\r\n" +
		"Content-Type: text/plain\r\n\r\ninner body\r\n" +
		"--b--\r\n"
	src := &fakeSource{messages: []mailsource.RawMessage{{ID: "m1@corp.com", Raw: []byte(raw)}}}
	c := s.newCoordinator(map[string]*fakeSource{"corp": src}, nil)
	_, err := c.Run(context.Background())
	require.NoError(s.T(), err)

	parent, err := s.messageRepo.GetByMessageID(context.Background(), "m1@corp.com")
	require.NoError(s.T(), err)
	child, err := s.messageRepo.GetByMessageID(context.Background(), "orig@corp.com")
	require.NoError(s.T(), err)

	assert.True(s.T(), child.IsAttachedMail)
	assert.Equal(s.T(), "m1@corp.com", child.ParentMessage)
	assert.Equal(s.T(), parent.TopicID, child.TopicID)
	assert.Equal(s.T(), AttachedMailType, child.Type)
	// Only the outer message creates a topic.
	assert.EqualValues(s.T(), 1, s.countRows(&models.Topic{}))
}

// TestArchiveOne tests the single-message entry point used by SMTP delivery
func (s *CoordinatorTestSuite) TestArchiveOne() {
	c := s.newCoordinator(map[string]*fakeSource{}, nil)

	raw := rawMail("smtp-1@corp.com", "delivered directly", "alice@corp.com", "", "Mon, 06 Jan 2025 10:00:00 +0000", "hi")
	require.NoError(s.T(), c.ArchiveOne(context.Background(), raw.Raw))

	msg, err := s.messageRepo.GetByMessageID(context.Background(), "smtp-1@corp.com")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "delivered directly", msg.Subject)
	assert.False(s.T(), c.Running())
}

// TestCoordinatorTestSuite runs the test suite
func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}

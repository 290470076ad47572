package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/danuarta/mailarchive-backend/internal/api/response"
	"github.com/danuarta/mailarchive-backend/internal/models"
	"github.com/danuarta/mailarchive-backend/internal/repository"
)

// TopicHandlerTestSuite is the test suite for topic endpoints
type TopicHandlerTestSuite struct {
	suite.Suite
	db      *gorm.DB
	handler *TopicHandler
	echo    *echo.Echo
}

func (s *TopicHandlerTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), db.AutoMigrate(&models.Topic{}, &models.Message{}, &models.Attachment{}))

	s.db = db
	topicRepo := repository.NewTopicRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	s.handler = NewTopicHandler(topicRepo, messageRepo)
	s.echo = echo.New()
}

func (s *TopicHandlerTestSuite) TearDownTest() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

func (s *TopicHandlerTestSuite) seedTopic(topicID, subject string) {
	require.NoError(s.T(), s.db.Create(&models.Topic{
		TopicID:        topicID,
		Subject:        subject,
		Author:         "alice@corp.com",
		StartDate:      time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC),
		LastUpdateDate: time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC),
		Type:           "mail",
	}).Error)
}

func (s *TopicHandlerTestSuite) seedMessage(messageID, topicID string, date time.Time) {
	require.NoError(s.T(), s.db.Create(&models.Message{
		MessageID:   messageID,
		TopicID:     topicID,
		Subject:     "seeded",
		From:        "alice@corp.com",
		DecodedDate: date,
		Type:        "mail",
	}).Error)
}

// TestList tests GET /api/topics
func (s *TopicHandlerTestSuite) TestList() {
	s.seedTopic("t1", "Launch plan")
	s.seedTopic("t2", "Budget Q1")

	req := httptest.NewRequest(http.MethodGet, "/api/topics", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	require.NoError(s.T(), s.handler.List(c))
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	var resp response.PaginatedResponse
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(s.T(), 2, resp.Meta.Total)
}

// TestGet tests GET /api/topics/:topic_id
func (s *TopicHandlerTestSuite) TestGet() {
	s.seedTopic("t1", "Launch plan")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("topic_id")
	c.SetParamValues("t1")

	require.NoError(s.T(), s.handler.Get(c))
	assert.Equal(s.T(), http.StatusOK, rec.Code)
	assert.Contains(s.T(), rec.Body.String(), "Launch plan")
}

// TestGet_NotFound tests an unknown topic id
func (s *TopicHandlerTestSuite) TestGet_NotFound() {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("topic_id")
	c.SetParamValues("missing")

	require.NoError(s.T(), s.handler.Get(c))
	assert.Equal(s.T(), http.StatusNotFound, rec.Code)
}

// TestListMessages tests conversation ordering, oldest first
func (s *TopicHandlerTestSuite) TestListMessages() {
	s.seedTopic("t1", "Launch plan")
	s.seedMessage("m2", "t1", time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC))
	s.seedMessage("m1", "t1", time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("topic_id")
	c.SetParamValues("t1")

	require.NoError(s.T(), s.handler.ListMessages(c))
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	var resp struct {
		Data []models.Message `json:"data"`
		Meta response.Meta    `json:"meta"`
	}
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(s.T(), resp.Data, 2)
	assert.Equal(s.T(), "m1", resp.Data[0].MessageID)
	assert.Equal(s.T(), "m2", resp.Data[1].MessageID)
}

// TestListMessages_UnknownTopic tests 404 for a missing topic
func (s *TopicHandlerTestSuite) TestListMessages_UnknownTopic() {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("topic_id")
	c.SetParamValues("missing")

	require.NoError(s.T(), s.handler.ListMessages(c))
	assert.Equal(s.T(), http.StatusNotFound, rec.Code)
}

// TestTopicHandlerTestSuite runs the test suite
func TestTopicHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(TopicHandlerTestSuite))
}

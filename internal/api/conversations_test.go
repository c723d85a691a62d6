package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"omnichat-gateway/internal/database"
	"omnichat-gateway/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { sqlDB.Close() })

	handler := NewConversationHandler(db)
	r := gin.New()
	r.GET("/api/conversations", handler.GetConversations)
	r.GET("/api/conversations/:id/messages", handler.GetMessages)
	r.GET("/api/deadletters", handler.GetDeadLetters)
	return r, db
}

func TestGetConversationsScopedToOrganization(t *testing.T) {
	r, db := newTestRouter(t)
	now := time.Now()
	require.NoError(t, db.Create(&models.Conversation{
		OrganizationID: "org-1", Platform: models.PlatformFacebook,
		ConversationKey: "PAGE1_U1", Status: models.ConversationOpen, LastMessageAt: &now,
	}).Error)
	require.NoError(t, db.Create(&models.Conversation{
		OrganizationID: "org-2", Platform: models.PlatformFacebook,
		ConversationKey: "PAGE2_U9", Status: models.ConversationOpen, LastMessageAt: &now,
	}).Error)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/conversations?organization_id=org-1", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got []models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "PAGE1_U1", got[0].ConversationKey)
}

func TestGetConversationsRequiresOrganization(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessagesChronological(t *testing.T) {
	r, db := newTestRouter(t)
	conversation := &models.Conversation{
		OrganizationID: "org-1", Platform: models.PlatformLine,
		ConversationKey: "BOT1_Uabc", Status: models.ConversationOpen,
	}
	require.NoError(t, db.Create(conversation).Error)
	base := time.Now()
	for i, text := range []string{"first", "second", "third"} {
		require.NoError(t, db.Create(&models.Message{
			ConversationID:    conversation.ID,
			PlatformMessageID: fmt.Sprintf("m%d", i),
			SenderType:        models.SenderCustomer,
			Type:              "text",
			Content:           text,
			Status:            models.StatusDelivered,
			CreatedAt:         base.Add(time.Duration(i) * time.Second),
		}).Error)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/conversations/%d/messages", conversation.ID), nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "third", got[2].Content)
}

func TestGetDeadLettersFilteredByPlatform(t *testing.T) {
	r, db := newTestRouter(t)
	require.NoError(t, db.Create(&models.DeadLetterEvent{
		Platform: models.PlatformLine, Error: "configuration error", RawPayload: "{}",
	}).Error)
	require.NoError(t, db.Create(&models.DeadLetterEvent{
		Platform: models.PlatformWhatsApp, Error: "malformed payload", RawPayload: "{}",
	}).Error)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/deadletters?platform=line", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got []models.DeadLetterEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, models.PlatformLine, got[0].Platform)
}

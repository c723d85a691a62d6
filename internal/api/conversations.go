package api

import (
	"net/http"
	"strconv"

	"omnichat-gateway/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ConversationHandler serves the read-only dashboard API over the same store
// the ingestion pipeline writes.
type ConversationHandler struct {
	db *gorm.DB
}

func NewConversationHandler(db *gorm.DB) *ConversationHandler {
	return &ConversationHandler{db: db}
}

// GetConversations lists an organization's conversations, most recently
// active first.
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	orgID := c.Query("organization_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization_id is required"})
		return
	}

	query := h.db.Where("organization_id = ?", orgID)
	if platform := c.Query("platform"); platform != "" {
		query = query.Where("platform = ?", platform)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var conversations []models.Conversation
	if err := query.Order("last_message_at DESC").
		Limit(pageSize(c)).Offset(pageOffset(c)).
		Find(&conversations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Return empty array instead of null
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	c.JSON(http.StatusOK, conversations)
}

// GetMessages lists the messages of one conversation in chronological order.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	var messages []models.Message
	if err := h.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(pageSize(c)).Offset(pageOffset(c)).
		Find(&messages).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

// GetDeadLetters lists dead-lettered events so operators can reconcile them.
func (h *ConversationHandler) GetDeadLetters(c *gin.Context) {
	query := h.db.Order("created_at DESC")
	if platform := c.Query("platform"); platform != "" {
		query = query.Where("platform = ?", platform)
	}

	var entries []models.DeadLetterEvent
	if err := query.Limit(pageSize(c)).Offset(pageOffset(c)).Find(&entries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if entries == nil {
		entries = []models.DeadLetterEvent{}
	}
	c.JSON(http.StatusOK, entries)
}

func pageSize(c *gin.Context) int {
	size, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || size < 1 || size > 200 {
		return 50
	}
	return size
}

func pageOffset(c *gin.Context) int {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

package ingest

import (
	"context"
	"encoding/json"
	"time"

	"omnichat-gateway/internal/models"
	"omnichat-gateway/internal/platform"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageWriter persists one message idempotently. The unique index on
// (conversation_id, platform_message_id) absorbs provider redelivery: a
// duplicate insert is a successful no-op and the conversation counters stay
// untouched. On a genuine insert the message row and the three counter
// mutations commit as a single transaction.
type MessageWriter struct {
	db *gorm.DB
}

func NewMessageWriter(db *gorm.DB) *MessageWriter {
	return &MessageWriter{db: db}
}

// WriteResult reports whether the write created a new row and carries the
// stored message for downstream notification.
type WriteResult struct {
	Created bool
	Message *models.Message
}

func (w *MessageWriter) Write(ctx context.Context, conversation *models.Conversation, ev platform.Event) (*WriteResult, error) {
	contentPayload, _ := json.Marshal(ev.Content)

	status := models.StatusSent
	if ev.SenderType == models.SenderCustomer {
		// An inbound message has by definition reached us.
		status = models.StatusDelivered
	}

	createdAt := ev.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	message := models.Message{
		ConversationID:    conversation.ID,
		PlatformMessageID: ev.MessageExternalID,
		SenderType:        ev.SenderType,
		Type:              ev.MessageType,
		Content:           ev.Content.Text,
		ContentPayload:    string(contentPayload),
		Status:            status,
		CreatedAt:         createdAt,
	}

	created := false
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&message)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Redelivery of a message we already have.
			return nil
		}
		created = true

		updates := map[string]interface{}{
			"message_count":   gorm.Expr("message_count + 1"),
			"last_message_at": createdAt,
		}
		if ev.SenderType == models.SenderCustomer {
			updates["unread_count"] = gorm.Expr("unread_count + 1")
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversation.ID).
			Updates(updates).Error
	})
	if err != nil {
		return nil, storageErr(err)
	}

	if !created {
		// Load the original row so callers still get the stored message.
		if err := w.db.WithContext(ctx).
			Where("conversation_id = ? AND platform_message_id = ?",
				conversation.ID, ev.MessageExternalID).
			First(&message).Error; err != nil {
			return nil, storageErr(err)
		}
	}

	return &WriteResult{Created: created, Message: &message}, nil
}

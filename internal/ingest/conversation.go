package ingest

import (
	"context"
	"errors"

	"omnichat-gateway/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationResolver finds the open conversation for a conversation key or
// creates one. Concurrent deliveries for the same key are settled by the
// partial unique index on (organization, platform, key) where status='open':
// a conflicting insert means another request won, and the winner is re-read.
// No in-process locks are held, so any number of gateway instances can run.
type ConversationResolver struct {
	db *gorm.DB
}

func NewConversationResolver(db *gorm.DB) *ConversationResolver {
	return &ConversationResolver{db: db}
}

func (r *ConversationResolver) Resolve(ctx context.Context, organizationID, platform, conversationKey, customerID string) (*models.Conversation, error) {
	conversation, err := r.findOpen(ctx, organizationID, platform, conversationKey)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageErr(err)
	}

	fresh := models.Conversation{
		OrganizationID:  organizationID,
		Platform:        platform,
		ConversationKey: conversationKey,
		CustomerID:      customerID,
		Status:          models.ConversationOpen,
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
	if res.Error != nil {
		return nil, storageErr(res.Error)
	}
	if res.RowsAffected == 0 {
		// Concurrent insert won; use its row.
		winner, err := r.findOpen(ctx, organizationID, platform, conversationKey)
		if err != nil {
			return nil, storageErr(err)
		}
		return winner, nil
	}
	return &fresh, nil
}

func (r *ConversationResolver) findOpen(ctx context.Context, organizationID, platform, conversationKey string) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND platform = ? AND conversation_key = ? AND status = ?",
			organizationID, platform, conversationKey, models.ConversationOpen).
		Order("created_at DESC").
		First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

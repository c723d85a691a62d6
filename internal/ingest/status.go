package ingest

import (
	"context"
	"time"

	"omnichat-gateway/internal/models"

	"gorm.io/gorm"
)

// statusRank orders the message lifecycle. Updates only ever move a message
// to a higher rank; "failed" and "read" are terminal.
var statusRank = map[string]int{
	models.StatusSending:   0,
	models.StatusSent:      1,
	models.StatusDelivered: 2,
	models.StatusRead:      3,
	models.StatusFailed:    4,
}

// priorStatuses returns the statuses a message may currently hold for a move
// to newStatus to be a forward move. Receipts arrive out of order across
// deliveries, so a backward update simply matches no rows.
func priorStatuses(newStatus string) []string {
	rank, ok := statusRank[newStatus]
	if !ok {
		return nil
	}
	var prior []string
	for status, r := range statusRank {
		if r >= rank {
			continue
		}
		if status == models.StatusFailed || status == models.StatusRead {
			// Terminal states are never receipt targets.
			continue
		}
		prior = append(prior, status)
	}
	return prior
}

// StatusPropagator applies delivery/read receipts to stored messages.
type StatusPropagator struct {
	db *gorm.DB
}

func NewStatusPropagator(db *gorm.DB) *StatusPropagator {
	return &StatusPropagator{db: db}
}

// UpdateByIDs moves the named messages of a conversation to status, skipping
// any message the update would move backward.
func (p *StatusPropagator) UpdateByIDs(ctx context.Context, conversationID uint, platformMessageIDs []string, status string) error {
	prior := priorStatuses(status)
	if len(prior) == 0 || len(platformMessageIDs) == 0 {
		return nil
	}
	err := p.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND platform_message_id IN ? AND status IN ?",
			conversationID, platformMessageIDs, prior).
		Update("status", status).Error
	return storageErr(err)
}

// UpdateByWatermark moves every non-customer message of a conversation
// created at or before the cutoff to status ("everything we sent up to T is
// now delivered/read").
func (p *StatusPropagator) UpdateByWatermark(ctx context.Context, conversationID uint, before time.Time, status string) error {
	prior := priorStatuses(status)
	if len(prior) == 0 {
		return nil
	}
	err := p.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND sender_type <> ? AND created_at <= ? AND status IN ?",
			conversationID, models.SenderCustomer, before, prior).
		Update("status", status).Error
	return storageErr(err)
}

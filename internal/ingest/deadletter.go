package ingest

import (
	"context"
	"log"

	"omnichat-gateway/internal/models"

	"gorm.io/gorm"
)

// DeadLetterStore records events the pipeline gave up on, keeping the raw
// provider payload for manual reconciliation. Recording is itself best-effort:
// if even the dead-letter insert fails, the failure is logged and the batch
// moves on.
type DeadLetterStore struct {
	db *gorm.DB
}

func NewDeadLetterStore(db *gorm.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

func (s *DeadLetterStore) Record(ctx context.Context, platform, eventKind string, rawPayload []byte, cause error) {
	entry := models.DeadLetterEvent{
		Platform:   platform,
		EventKind:  eventKind,
		RawPayload: string(rawPayload),
		Error:      cause.Error(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		log.Printf("Failed to record dead letter (%s, %s): %v", platform, eventKind, err)
	}
}

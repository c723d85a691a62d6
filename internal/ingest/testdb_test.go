package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"omnichat-gateway/internal/database"
	"omnichat-gateway/internal/models"
	"omnichat-gateway/internal/realtime"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a fresh in-memory database per test. The named shared-cache
// DSN keeps all pooled connections on the same in-memory store.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Single connection sidesteps sqlite's write-lock contention in tests.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// capturePublisher records published change events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event realtime.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Events() []realtime.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.ChangeEvent(nil), p.events...)
}

func newTestPipeline(t *testing.T, db *gorm.DB) (*Pipeline, *capturePublisher) {
	t.Helper()
	publisher := &capturePublisher{}
	return &Pipeline{
		Tenants:       NewTenantResolver(db),
		Customers:     NewCustomerResolver(db, nil, 0),
		Conversations: NewConversationResolver(db),
		Messages:      NewMessageWriter(db),
		Statuses:      NewStatusPropagator(db),
		DeadLetters:   NewDeadLetterStore(db),
		Publisher:     publisher,
	}, publisher
}

func seedAccount(t *testing.T, db *gorm.DB, orgID, platform, externalID string) *models.PlatformAccount {
	t.Helper()
	account := &models.PlatformAccount{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Platform:       platform,
		ExternalID:     externalID,
		AccessToken:    "token-" + externalID,
		Active:         true,
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

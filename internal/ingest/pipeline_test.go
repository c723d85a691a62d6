package ingest

import (
	"context"
	"testing"
	"time"

	"omnichat-gateway/internal/config"
	"omnichat-gateway/internal/models"
	"omnichat-gateway/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func facebookTextEvents(t *testing.T, body string) []platform.Event {
	t.Helper()
	processor := platform.NewFacebookProcessor(&config.Config{FacebookAppSecret: "s"})
	events, err := processor.ExtractEvents([]byte(body))
	require.NoError(t, err)
	return events
}

const scenarioAPayload = `{
	"object": "page",
	"entry": [{
		"id": "PAGE1",
		"messaging": [{
			"sender": {"id": "U1"},
			"recipient": {"id": "PAGE1"},
			"timestamp": 1700000000000,
			"message": {"mid": "m1", "text": "Hi"}
		}]
	}]
}`

func TestInboundTextCreatesCustomerConversationMessage(t *testing.T) {
	db := newTestDB(t)
	pipe, publisher := newTestPipeline(t, db)
	seedAccount(t, db, "org-1", models.PlatformFacebook, "PAGE1")

	events := facebookTextEvents(t, scenarioAPayload)
	result := pipe.ProcessBatch(context.Background(), models.PlatformFacebook, events)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.DeadLetter)

	var identity models.CustomerIdentity
	require.NoError(t, db.Where("external_id = ?", "U1").First(&identity).Error)
	assert.Equal(t, "org-1", identity.OrganizationID)
	assert.Equal(t, models.PlatformFacebook, identity.Platform)

	var conversation models.Conversation
	require.NoError(t, db.Where("conversation_key = ?", "PAGE1_U1").First(&conversation).Error)
	assert.Equal(t, models.ConversationOpen, conversation.Status)
	assert.Equal(t, 1, conversation.MessageCount)
	assert.Equal(t, 1, conversation.UnreadCount)
	require.NotNil(t, conversation.LastMessageAt)

	var message models.Message
	require.NoError(t, db.Where("conversation_id = ?", conversation.ID).First(&message).Error)
	assert.Equal(t, platform.TypeText, message.Type)
	assert.Equal(t, "Hi", message.Content)
	assert.Equal(t, models.SenderCustomer, message.SenderType)

	published := publisher.Events()
	require.Len(t, published, 1)
	assert.Equal(t, "org-1", published[0].OrganizationID)
	assert.Equal(t, conversation.ID, published[0].ConversationID)
	assert.Equal(t, message.ID, published[0].MessageID)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	pipe, publisher := newTestPipeline(t, db)
	seedAccount(t, db, "org-1", models.PlatformFacebook, "PAGE1")

	for i := 0; i < 3; i++ {
		events := facebookTextEvents(t, scenarioAPayload)
		result := pipe.ProcessBatch(context.Background(), models.PlatformFacebook, events)
		assert.Equal(t, 1, result.Processed)
	}

	var messageCount int64
	require.NoError(t, db.Model(&models.Message{}).Count(&messageCount).Error)
	assert.Equal(t, int64(1), messageCount)

	var conversation models.Conversation
	require.NoError(t, db.Where("conversation_key = ?", "PAGE1_U1").First(&conversation).Error)
	assert.Equal(t, 1, conversation.MessageCount, "redelivery must not inflate counts")
	assert.Equal(t, 1, conversation.UnreadCount)

	// Exactly one notification: publish happens only on a genuine insert.
	assert.Len(t, publisher.Events(), 1)
}

func TestRepeatedEventsShareOneConversation(t *testing.T) {
	db := newTestDB(t)
	pipe, _ := newTestPipeline(t, db)
	seedAccount(t, db, "org-1", models.PlatformFacebook, "PAGE1")

	for i := 0; i < 5; i++ {
		events := []platform.Event{{
			Platform:               models.PlatformFacebook,
			AccountExternalID:      "PAGE1",
			ConversationExternalID: platform.ConversationKey("PAGE1", "U1"),
			CustomerExternalID:     "U1",
			MessageExternalID:      "m-" + string(rune('a'+i)),
			Kind:                   platform.KindMessageReceived,
			MessageType:            platform.TypeText,
			SenderType:             models.SenderCustomer,
			Content:                platform.Content{Text: "msg"},
			Timestamp:              time.Now(),
		}}
		result := pipe.ProcessBatch(context.Background(), models.PlatformFacebook, events)
		require.Equal(t, 1, result.Processed)
	}

	var conversationCount int64
	require.NoError(t, db.Model(&models.Conversation{}).
		Where("conversation_key = ?", "PAGE1_U1").
		Count(&conversationCount).Error)
	assert.Equal(t, int64(1), conversationCount)

	var conversation models.Conversation
	require.NoError(t, db.Where("conversation_key = ?", "PAGE1_U1").First(&conversation).Error)
	assert.Equal(t, 5, conversation.MessageCount)
}

func TestUnresolvableTenantDeadLettersWithoutMutation(t *testing.T) {
	db := newTestDB(t)
	pipe, publisher := newTestPipeline(t, db)
	// No account seeded: PAGE1 resolves nowhere.

	events := facebookTextEvents(t, scenarioAPayload)
	result := pipe.ProcessBatch(context.Background(), models.PlatformFacebook, events)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.DeadLetter)

	var deadLetter models.DeadLetterEvent
	require.NoError(t, db.First(&deadLetter).Error)
	assert.Equal(t, models.PlatformFacebook, deadLetter.Platform)
	assert.Contains(t, deadLetter.Error, "configuration error")
	assert.NotEmpty(t, deadLetter.RawPayload)

	for _, model := range []interface{}{
		&models.Customer{}, &models.CustomerIdentity{}, &models.Conversation{}, &models.Message{},
	} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		assert.Zero(t, count, "no rows may be written for an unresolvable tenant")
	}
	assert.Empty(t, publisher.Events())
}

func TestTenantIsolation(t *testing.T) {
	db := newTestDB(t)
	pipe, _ := newTestPipeline(t, db)
	seedAccount(t, db, "org-1", models.PlatformFacebook, "PAGE1")
	seedAccount(t, db, "org-2", models.PlatformFacebook, "PAGE2")

	events := facebookTextEvents(t, scenarioAPayload)
	result := pipe.ProcessBatch(context.Background(), models.PlatformFacebook, events)
	assert.Equal(t, 1, result.Processed)

	var org2Rows int64
	require.NoError(t, db.Model(&models.Conversation{}).
		Where("organization_id = ?", "org-2").Count(&org2Rows).Error)
	assert.Zero(t, org2Rows, "an event for org-1's page must not touch org-2")

	var org2Identities int64
	require.NoError(t, db.Model(&models.CustomerIdentity{}).
		Where("organization_id = ?", "org-2").Count(&org2Identities).Error)
	assert.Zero(t, org2Identities)
}

func TestPartialBatchFailure(t *testing.T) {
	db := newTestDB(t)
	pipe, _ := newTestPipeline(t, db)
	seedAccount(t, db, "org-1", models.PlatformFacebook, "PAGE1")

	good := func(mid string) platform.Event {
		return platform.Event{
			Platform:               models.PlatformFacebook,
			AccountExternalID:      "PAGE1",
			ConversationExternalID: platform.ConversationKey("PAGE1", "U1"),
			CustomerExternalID:     "U1",
			MessageExternalID:      mid,
			Kind:                   platform.KindMessageReceived,
			MessageType:            platform.TypeText,
			SenderType:             models.SenderCustomer,
			Content:                platform.Content{Text: "ok"},
			Timestamp:              time.Now(),
		}
	}
	malformed := platform.Event{
		Platform:          models.PlatformFacebook,
		AccountExternalID: "PAGE1",
		Kind:              platform.KindMessageReceived,
		// no customer id, no message id
	}

	result := pipe.ProcessBatch(context.Background(), models.PlatformFacebook,
		[]platform.Event{good("m1"), malformed, good("m3")})
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.DeadLetter)

	var messageCount int64
	require.NoError(t, db.Model(&models.Message{}).Count(&messageCount).Error)
	assert.Equal(t, int64(2), messageCount, "siblings of a failed event must persist")

	var deadLetterCount int64
	require.NoError(t, db.Model(&models.DeadLetterEvent{}).Count(&deadLetterCount).Error)
	assert.Equal(t, int64(1), deadLetterCount)
}

func TestSubscriptionEventCreatesCustomer(t *testing.T) {
	db := newTestDB(t)
	pipe, publisher := newTestPipeline(t, db)
	seedAccount(t, db, "org-1", models.PlatformLine, "BOT1")

	events := []platform.Event{{
		Platform:               models.PlatformLine,
		AccountExternalID:      "BOT1",
		ConversationExternalID: platform.ConversationKey("BOT1", "Uabc"),
		CustomerExternalID:     "Uabc",
		Kind:                   platform.KindUserSubscribed,
		Timestamp:              time.Now(),
	}}
	result := pipe.ProcessBatch(context.Background(), models.PlatformLine, events)
	assert.Equal(t, 1, result.Processed)

	var identity models.CustomerIdentity
	require.NoError(t, db.Where("external_id = ?", "Uabc").First(&identity).Error)

	// No message, no conversation: just the customer and a notification.
	var conversationCount int64
	require.NoError(t, db.Model(&models.Conversation{}).Count(&conversationCount).Error)
	assert.Zero(t, conversationCount)
	require.Len(t, publisher.Events(), 1)
	assert.Equal(t, platform.KindUserSubscribed, publisher.Events()[0].EventKind)
}

func TestReceiptUpdatesMessageStatus(t *testing.T) {
	db := newTestDB(t)
	pipe, _ := newTestPipeline(t, db)
	seedAccount(t, db, "org-1", models.PlatformWhatsApp, "PN1")

	// Agent message already stored (the outbound path lives elsewhere).
	conversation := &models.Conversation{
		OrganizationID:  "org-1",
		Platform:        models.PlatformWhatsApp,
		ConversationKey: "PN1_15557772222",
		Status:          models.ConversationOpen,
	}
	require.NoError(t, db.Create(conversation).Error)
	message := &models.Message{
		ConversationID:    conversation.ID,
		PlatformMessageID: "wamid.out1",
		SenderType:        models.SenderAgent,
		Type:              platform.TypeText,
		Content:           "your order shipped",
		Status:            models.StatusSent,
		CreatedAt:         time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.Create(message).Error)

	events := []platform.Event{{
		Platform:               models.PlatformWhatsApp,
		AccountExternalID:      "PN1",
		ConversationExternalID: "PN1_15557772222",
		CustomerExternalID:     "15557772222",
		Kind:                   platform.KindMessageDelivered,
		MessageIDs:             []string{"wamid.out1"},
		Timestamp:              time.Now(),
	}}
	result := pipe.ProcessBatch(context.Background(), models.PlatformWhatsApp, events)
	assert.Equal(t, 1, result.Processed)

	var updated models.Message
	require.NoError(t, db.First(&updated, message.ID).Error)
	assert.Equal(t, models.StatusDelivered, updated.Status)
}

func TestConversationResolverReusesWinnerOnConflict(t *testing.T) {
	db := newTestDB(t)
	resolver := NewConversationResolver(db)

	first, err := resolver.Resolve(context.Background(), "org-1", models.PlatformFacebook, "PAGE1_U1", "cust-1")
	require.NoError(t, err)
	second, err := resolver.Resolve(context.Background(), "org-1", models.PlatformFacebook, "PAGE1_U1", "cust-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// A resolved conversation frees the key for a new open one.
	require.NoError(t, db.Model(&models.Conversation{}).
		Where("id = ?", first.ID).
		Update("status", models.ConversationResolved).Error)
	third, err := resolver.Resolve(context.Background(), "org-1", models.PlatformFacebook, "PAGE1_U1", "cust-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, models.ConversationOpen, third.Status)
}

func TestTenantResolverNoFallback(t *testing.T) {
	db := newTestDB(t)
	resolver := NewTenantResolver(db)
	seedAccount(t, db, "org-1", models.PlatformFacebook, "PAGE1")

	// An unknown page must not fall back to "any active facebook account".
	_, err := resolver.Resolve(context.Background(), models.PlatformFacebook, "PAGE_OTHER")
	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	// Inactive accounts do not resolve either.
	require.NoError(t, db.Model(&models.PlatformAccount{}).
		Where("external_id = ?", "PAGE1").
		Update("active", false).Error)
	_, err = resolver.Resolve(context.Background(), models.PlatformFacebook, "PAGE1")
	assert.ErrorAs(t, err, &cfgErr)
}

func TestWriterLoadsExistingRowOnDuplicate(t *testing.T) {
	db := newTestDB(t)
	writer := NewMessageWriter(db)
	conversation := &models.Conversation{
		OrganizationID:  "org-1",
		Platform:        models.PlatformFacebook,
		ConversationKey: "PAGE1_U1",
		Status:          models.ConversationOpen,
	}
	require.NoError(t, db.Create(conversation).Error)

	ev := platform.Event{
		MessageExternalID: "m1",
		MessageType:       platform.TypeText,
		SenderType:        models.SenderCustomer,
		Content:           platform.Content{Text: "Hi"},
		Timestamp:         time.Now(),
	}
	first, err := writer.Write(context.Background(), conversation, ev)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := writer.Write(context.Background(), conversation, ev)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Message.ID, second.Message.ID)
}

func TestGormNotFoundMapsToConfigError(t *testing.T) {
	db := newTestDB(t)
	resolver := NewTenantResolver(db)
	_, err := resolver.Resolve(context.Background(), models.PlatformLine, "missing")
	require.Error(t, err)
	assert.NotErrorIs(t, err, gorm.ErrRecordNotFound, "storage internals must not leak")
}

package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"omnichat-gateway/internal/models"
	"omnichat-gateway/internal/platform"
	"omnichat-gateway/internal/realtime"
)

// Pipeline runs one canonical event through tenant resolution, customer and
// conversation upsert, message write or status propagation, and finally the
// realtime notification. It holds no mutable state between calls; every
// resolver re-reads storage, so any number of pipeline instances can process
// deliveries in parallel.
type Pipeline struct {
	Tenants       *TenantResolver
	Customers     *CustomerResolver
	Conversations *ConversationResolver
	Messages      *MessageWriter
	Statuses      *StatusPropagator
	DeadLetters   *DeadLetterStore
	Publisher     realtime.Publisher
}

// BatchResult summarizes one delivery.
type BatchResult struct {
	Processed  int
	DeadLetter int
}

// ProcessBatch handles the events of one webhook delivery in arrival order.
// A failing event is dead-lettered with its raw payload and never aborts its
// siblings.
func (p *Pipeline) ProcessBatch(ctx context.Context, platformName string, events []platform.Event) BatchResult {
	var result BatchResult
	for _, ev := range events {
		err := withRetry(ctx, func() error {
			return p.processEvent(ctx, ev)
		})
		if err != nil {
			log.Printf("Event %s/%s failed: %v", platformName, ev.Kind, err)
			p.DeadLetters.Record(ctx, platformName, ev.Kind, ev.Raw, err)
			result.DeadLetter++
			continue
		}
		result.Processed++
	}
	return result
}

func (p *Pipeline) processEvent(ctx context.Context, ev platform.Event) error {
	account, err := p.Tenants.Resolve(ctx, ev.Platform, ev.AccountExternalID)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case platform.KindMessageReceived, platform.KindPostback:
		return p.handleMessage(ctx, account, ev)
	case platform.KindMessageSent:
		// Message echoes carry a full message body; WhatsApp "sent" statuses
		// are receipts for a message we already hold.
		if ev.MessageExternalID != "" {
			return p.handleMessage(ctx, account, ev)
		}
		return p.handleReceipt(ctx, account, ev)
	case platform.KindMessageDelivered, platform.KindMessageRead, platform.KindMessageFailed:
		return p.handleReceipt(ctx, account, ev)
	case platform.KindUserSubscribed, platform.KindUserUnsubscribed:
		return p.handleSubscription(ctx, account, ev)
	default:
		return &MalformedPayloadError{Reason: fmt.Sprintf("unknown event kind %q", ev.Kind)}
	}
}

func (p *Pipeline) handleMessage(ctx context.Context, account *models.PlatformAccount, ev platform.Event) error {
	if ev.CustomerExternalID == "" || ev.MessageExternalID == "" {
		return &MalformedPayloadError{Reason: "message event without customer or message id"}
	}

	identity, err := p.Customers.Resolve(ctx, account, ev.Platform, ev.CustomerExternalID, ev.CustomerDisplayName)
	if err != nil {
		return err
	}

	conversation, err := p.Conversations.Resolve(ctx,
		account.OrganizationID, ev.Platform, ev.ConversationExternalID, identity.CustomerID)
	if err != nil {
		return err
	}

	res, err := p.Messages.Write(ctx, conversation, ev)
	if err != nil {
		return err
	}

	if res.Created {
		p.publish(ctx, realtime.ChangeEvent{
			OrganizationID: account.OrganizationID,
			ConversationID: conversation.ID,
			MessageID:      res.Message.ID,
			EventKind:      ev.Kind,
			Timestamp:      res.Message.CreatedAt,
		})
	}
	return nil
}

func (p *Pipeline) handleReceipt(ctx context.Context, account *models.PlatformAccount, ev platform.Event) error {
	conversation, err := p.Conversations.Resolve(ctx,
		account.OrganizationID, ev.Platform, ev.ConversationExternalID, "")
	if err != nil {
		return err
	}

	status := receiptStatus(ev.Kind)
	if len(ev.MessageIDs) > 0 {
		err = p.Statuses.UpdateByIDs(ctx, conversation.ID, ev.MessageIDs, status)
	} else if !ev.Watermark.IsZero() {
		err = p.Statuses.UpdateByWatermark(ctx, conversation.ID, ev.Watermark, status)
	} else {
		return &MalformedPayloadError{Reason: "receipt without message ids or watermark"}
	}
	if err != nil {
		return err
	}

	p.publish(ctx, realtime.ChangeEvent{
		OrganizationID: account.OrganizationID,
		ConversationID: conversation.ID,
		EventKind:      ev.Kind,
		Timestamp:      ev.Timestamp,
	})
	return nil
}

// handleSubscription registers the customer on follow/unfollow so the
// organization sees them even before the first message.
func (p *Pipeline) handleSubscription(ctx context.Context, account *models.PlatformAccount, ev platform.Event) error {
	if ev.CustomerExternalID == "" {
		return &MalformedPayloadError{Reason: "subscription event without customer id"}
	}
	if _, err := p.Customers.Resolve(ctx, account, ev.Platform, ev.CustomerExternalID, ev.CustomerDisplayName); err != nil {
		return err
	}

	p.publish(ctx, realtime.ChangeEvent{
		OrganizationID: account.OrganizationID,
		EventKind:      ev.Kind,
		Timestamp:      ev.Timestamp,
	})
	return nil
}

// publish fires the change notification. Failures are logged and swallowed;
// the write this event announces is already committed and stays committed.
func (p *Pipeline) publish(ctx context.Context, event realtime.ChangeEvent) {
	if p.Publisher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	topic := fmt.Sprintf("org.%s.conversation.%d", event.OrganizationID, event.ConversationID)
	if err := p.Publisher.Publish(ctx, topic, event); err != nil {
		log.Printf("Realtime publish failed for %s: %v", topic, err)
	}
}

func receiptStatus(kind string) string {
	switch kind {
	case platform.KindMessageSent:
		return models.StatusSent
	case platform.KindMessageDelivered:
		return models.StatusDelivered
	case platform.KindMessageRead:
		return models.StatusRead
	case platform.KindMessageFailed:
		return models.StatusFailed
	default:
		return ""
	}
}

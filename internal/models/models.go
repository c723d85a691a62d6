package models

import (
	"time"
)

// Platform identifiers shared across the ingestion pipeline.
const (
	PlatformFacebook = "facebook"
	PlatformLine     = "line"
	PlatformWhatsApp = "whatsapp"
)

// Message status lifecycle. Transitions only move forward; "read" and
// "failed" are terminal.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Sender types.
const (
	SenderCustomer = "customer"
	SenderAgent    = "agent"
	SenderBot      = "bot"
	SenderSystem   = "system"
)

// Conversation statuses.
const (
	ConversationOpen     = "open"
	ConversationResolved = "resolved"
)

// PlatformAccount is a connected page/channel/phone-number belonging to an
// organization. Rows are created by the OAuth connection flow; the gateway
// only reads them to resolve which organization owns an inbound event.
type PlatformAccount struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrganizationID string    `gorm:"type:varchar(36);not null;index" json:"organization_id"`
	Platform       string    `gorm:"type:varchar(20);not null;uniqueIndex:ux_platform_accounts_external,priority:1" json:"platform"`
	ExternalID     string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_platform_accounts_external,priority:2" json:"external_id"`
	Name           string    `gorm:"type:varchar(255)" json:"name"`
	AccessToken    string    `gorm:"type:text" json:"-"`
	Active         bool      `gorm:"default:true" json:"active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PlatformAccount) TableName() string {
	return "platform_accounts"
}

// Customer is a person who messaged any of the organization's accounts. One
// customer can carry several platform identities.
type Customer struct {
	ID             string             `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrganizationID string             `gorm:"type:varchar(36);not null;index" json:"organization_id"`
	Identities     []CustomerIdentity `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE;" json:"identities"`
	CreatedAt      time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

// CustomerIdentity is one platform-specific identity of a customer, keyed by
// (organization, platform, external id). Profile fields start empty and are
// filled in by best-effort enrichment.
type CustomerIdentity struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	CustomerID     string     `gorm:"type:varchar(36);not null;index" json:"customer_id"`
	OrganizationID string     `gorm:"type:varchar(36);not null;uniqueIndex:ux_customer_identities_key,priority:1" json:"organization_id"`
	Platform       string     `gorm:"type:varchar(20);not null;uniqueIndex:ux_customer_identities_key,priority:2" json:"platform"`
	ExternalID     string     `gorm:"type:varchar(255);not null;uniqueIndex:ux_customer_identities_key,priority:3" json:"external_id"`
	DisplayName    string     `gorm:"type:varchar(255)" json:"display_name"`
	AvatarURL      string     `gorm:"type:text" json:"avatar_url"`
	Locale         string     `gorm:"type:varchar(20)" json:"locale"`
	Timezone       string     `gorm:"type:varchar(50)" json:"timezone"`
	EnrichedAt     *time.Time `json:"enriched_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CustomerIdentity) TableName() string {
	return "customer_identities"
}

// Conversation groups messages between one customer identity and one platform
// account. ConversationKey is the deterministic composite
// "<accountExternalID>_<customerExternalID>"; the partial unique index keeps
// at most one open conversation per key so concurrent deliveries converge on
// the same row.
type Conversation struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	OrganizationID  string     `gorm:"type:varchar(36);not null;uniqueIndex:ux_conversations_open_key,priority:1" json:"organization_id"`
	Platform        string     `gorm:"type:varchar(20);not null;uniqueIndex:ux_conversations_open_key,priority:2" json:"platform"`
	ConversationKey string     `gorm:"type:varchar(512);not null;uniqueIndex:ux_conversations_open_key,priority:3,where:status = 'open'" json:"conversation_key"`
	CustomerID      string     `gorm:"type:varchar(36);index" json:"customer_id"`
	Status          string     `gorm:"type:varchar(20);not null;default:'open'" json:"status"`
	MessageCount    int        `gorm:"not null;default:0" json:"message_count"`
	UnreadCount     int        `gorm:"not null;default:0" json:"unread_count"`
	LastMessageAt   *time.Time `json:"last_message_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message is one message inside a conversation. PlatformMessageID is unique
// within the conversation and is the dedupe key for provider redelivery.
type Message struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ConversationID    uint      `gorm:"not null;uniqueIndex:ux_messages_platform_id,priority:1" json:"conversation_id"`
	PlatformMessageID string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_messages_platform_id,priority:2" json:"platform_message_id"`
	SenderType        string    `gorm:"type:varchar(20);not null" json:"sender_type"`
	Type              string    `gorm:"type:varchar(50);not null" json:"type"`
	Content           string    `gorm:"type:text" json:"content"`
	// ContentPayload holds the structured content (media ids, coordinates,
	// postback payloads, raw unrecognized attachments) as JSON.
	ContentPayload string    `gorm:"type:text" json:"content_payload"`
	Status         string    `gorm:"type:varchar(20);not null;default:'sent'" json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// DeadLetterEvent records an event the pipeline could not process, together
// with the raw provider payload so operators can reconcile it by hand.
type DeadLetterEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Platform   string    `gorm:"type:varchar(20);not null;index" json:"platform"`
	EventKind  string    `gorm:"type:varchar(50)" json:"event_kind"`
	RawPayload string    `gorm:"type:text" json:"raw_payload"`
	Error      string    `gorm:"type:text" json:"error"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (DeadLetterEvent) TableName() string {
	return "dead_letter_events"
}

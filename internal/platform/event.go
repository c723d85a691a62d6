package platform

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"
)

// Event kinds produced by the processors.
const (
	KindMessageReceived  = "message.received"
	KindMessageSent      = "message.sent"
	KindMessageDelivered = "message.delivered"
	KindMessageRead      = "message.read"
	KindMessageFailed    = "message.failed"
	KindPostback         = "postback"
	KindUserSubscribed   = "user.subscribed"
	KindUserUnsubscribed = "user.unsubscribed"
)

// Canonical message types.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeAudio    = "audio"
	TypeFile     = "file"
	TypeLocation = "location"
	TypeSticker  = "sticker"
	TypeContact  = "contact"
	TypeProduct  = "product"
	TypeTemplate = "template"
)

// Content is the normalized, type-tagged payload of a message. Only the
// fields relevant to the message type are set. RawAttachment keeps the
// provider's untouched attachment JSON whenever the kind is unrecognized, so
// nothing is lost for later reprocessing.
type Content struct {
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	MediaID  string `json:"media_id,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Address   string  `json:"address,omitempty"`

	// LINE stickers carry only these two ids; URL synthesis is a rendering
	// concern and does not happen here.
	StickerPackageID string `json:"sticker_package_id,omitempty"`
	StickerID        string `json:"sticker_id,omitempty"`

	// Machine payload of a button/postback/interactive reply, preserved for
	// downstream automation. Text carries the human-readable label.
	Payload string `json:"payload,omitempty"`

	RawAttachment json.RawMessage `json:"raw_attachment,omitempty"`
}

// Event is the canonical, platform-agnostic representation of one provider
// occurrence inside a webhook delivery.
type Event struct {
	Platform          string
	AccountExternalID string
	// ConversationExternalID is always "<accountExternalID>_<customerExternalID>".
	ConversationExternalID string
	CustomerExternalID     string
	// CustomerDisplayName is set when the payload itself carries a profile
	// name (WhatsApp contacts block); enrichment fills it otherwise.
	CustomerDisplayName string
	MessageExternalID   string
	Kind                string
	MessageType         string
	SenderType          string
	Content             Content
	// MessageIDs and Watermark describe receipt events: either an explicit
	// id list or a "read/delivered up to T" cutoff.
	MessageIDs []string
	Watermark  time.Time
	Timestamp  time.Time
	Raw        json.RawMessage
}

// ConversationKey builds the deterministic conversation id shared by every
// processor and by the conversation resolver. Changing this formula silently
// breaks lookups, so all callers go through it.
func ConversationKey(accountExternalID, customerExternalID string) string {
	return accountExternalID + "_" + customerExternalID
}

// postbackID derives a deterministic dedupe id for postback events, which
// carry no provider message id. The payload hash keeps two different buttons
// clicked in the same millisecond distinct while redeliveries still collapse.
func postbackID(userExternalID string, timestamp int64, payload string) string {
	h := fnv.New32a()
	h.Write([]byte(payload))
	return fmt.Sprintf("postback_%s_%d_%08x", userExternalID, timestamp, h.Sum32())
}

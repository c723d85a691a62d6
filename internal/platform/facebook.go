package platform

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"omnichat-gateway/internal/config"
	"omnichat-gateway/internal/models"
)

// FacebookEvent represents the incoming JSON payload from the Messenger
// Platform. One delivery can bundle several entries, each with several
// messaging events.
type FacebookEvent struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string              `json:"id"`
		Time      int64               `json:"time"`
		Messaging []FacebookMessaging `json:"messaging"`
	} `json:"entry"`
}

type FacebookMessaging struct {
	Sender    struct{ ID string `json:"id"` } `json:"sender"`
	Recipient struct{ ID string `json:"id"` } `json:"recipient"`
	Timestamp int64                           `json:"timestamp"`
	Message   *FacebookMessage                `json:"message,omitempty"`
	Postback  *FacebookPostback               `json:"postback,omitempty"`
	Delivery  *FacebookReceipt                `json:"delivery,omitempty"`
	Read      *FacebookReceipt                `json:"read,omitempty"`
}

type FacebookMessage struct {
	MID         string               `json:"mid"`
	Text        string               `json:"text,omitempty"`
	IsEcho      bool                 `json:"is_echo,omitempty"`
	QuickReply  *FacebookQuickReply  `json:"quick_reply,omitempty"`
	Attachments []FacebookAttachment `json:"attachments,omitempty"`
}

type FacebookQuickReply struct {
	Payload string `json:"payload"`
}

type FacebookAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL         string `json:"url,omitempty"`
		Title       string `json:"title,omitempty"`
		StickerID   int64  `json:"sticker_id,omitempty"`
		Coordinates *struct {
			Lat  float64 `json:"lat"`
			Long float64 `json:"long"`
		} `json:"coordinates,omitempty"`
	} `json:"payload"`
}

type FacebookPostback struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type FacebookReceipt struct {
	MIDs      []string `json:"mids,omitempty"`
	Watermark int64    `json:"watermark"`
}

type FacebookProcessor struct {
	appSecret   string
	verifyToken string
}

func NewFacebookProcessor(cfg *config.Config) *FacebookProcessor {
	return &FacebookProcessor{
		appSecret:   cfg.FacebookAppSecret,
		verifyToken: cfg.FacebookVerifyToken,
	}
}

func (p *FacebookProcessor) Platform() string {
	return models.PlatformFacebook
}

func (p *FacebookProcessor) VerifySignature(body []byte, header http.Header) error {
	return VerifyMetaSignature(p.appSecret, body, header.Get("X-Hub-Signature-256"))
}

func (p *FacebookProcessor) ChallengeToken() string {
	return p.verifyToken
}

func (p *FacebookProcessor) ExtractEvents(body []byte) ([]Event, error) {
	var payload FacebookEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing facebook payload: %w", err)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, m := range entry.Messaging {
			ev, ok := p.convertMessaging(entry.ID, m)
			if !ok {
				continue
			}
			raw, _ := json.Marshal(m)
			ev.Raw = raw
			events = append(events, ev)
		}
	}
	return events, nil
}

func (p *FacebookProcessor) convertMessaging(pageID string, m FacebookMessaging) (Event, bool) {
	ev := Event{
		Platform:          models.PlatformFacebook,
		AccountExternalID: pageID,
		Timestamp:         time.UnixMilli(m.Timestamp),
	}

	switch {
	case m.Message != nil && m.Message.IsEcho:
		// Echo of a message the page itself sent; the customer is the
		// recipient, not the sender.
		ev.Kind = KindMessageSent
		ev.SenderType = models.SenderAgent
		ev.CustomerExternalID = m.Recipient.ID
		ev.MessageExternalID = m.Message.MID
		ev.MessageType, ev.Content = facebookMessageContent(m.Message)
	case m.Message != nil:
		ev.Kind = KindMessageReceived
		ev.SenderType = models.SenderCustomer
		ev.CustomerExternalID = m.Sender.ID
		ev.MessageExternalID = m.Message.MID
		ev.MessageType, ev.Content = facebookMessageContent(m.Message)
	case m.Postback != nil:
		ev.Kind = KindPostback
		ev.SenderType = models.SenderCustomer
		ev.CustomerExternalID = m.Sender.ID
		ev.MessageExternalID = postbackID(m.Sender.ID, m.Timestamp, m.Postback.Payload)
		ev.MessageType = TypeText
		ev.Content = Content{Text: m.Postback.Title, Payload: m.Postback.Payload}
	case m.Delivery != nil:
		ev.Kind = KindMessageDelivered
		ev.CustomerExternalID = m.Sender.ID
		ev.MessageIDs = m.Delivery.MIDs
		ev.Watermark = time.UnixMilli(m.Delivery.Watermark)
	case m.Read != nil:
		ev.Kind = KindMessageRead
		ev.CustomerExternalID = m.Sender.ID
		ev.Watermark = time.UnixMilli(m.Read.Watermark)
	default:
		return Event{}, false
	}

	ev.ConversationExternalID = ConversationKey(pageID, ev.CustomerExternalID)
	return ev, true
}

// facebookMessageContent maps a Messenger message to a canonical type and
// content. Stickers arrive as "image" attachments whose payload carries a
// sticker_id; the id's presence is the only thing distinguishing them from a
// plain image, so it forces the reclassification.
func facebookMessageContent(msg *FacebookMessage) (string, Content) {
	if len(msg.Attachments) == 0 {
		content := Content{Text: msg.Text}
		if msg.QuickReply != nil {
			content.Payload = msg.QuickReply.Payload
		}
		return TypeText, content
	}

	att := msg.Attachments[0]
	switch att.Type {
	case "image":
		if att.Payload.StickerID != 0 {
			return TypeSticker, Content{
				MediaURL:  att.Payload.URL,
				StickerID: strconv.FormatInt(att.Payload.StickerID, 10),
				Caption:   msg.Text,
			}
		}
		return TypeImage, Content{MediaURL: att.Payload.URL, Caption: msg.Text}
	case "video":
		return TypeVideo, Content{MediaURL: att.Payload.URL, Caption: msg.Text}
	case "audio":
		return TypeAudio, Content{MediaURL: att.Payload.URL}
	case "file":
		return TypeFile, Content{MediaURL: att.Payload.URL, Caption: msg.Text}
	case "location":
		content := Content{Address: att.Payload.Title}
		if att.Payload.Coordinates != nil {
			content.Latitude = att.Payload.Coordinates.Lat
			content.Longitude = att.Payload.Coordinates.Long
		}
		return TypeLocation, content
	case "template":
		raw, _ := json.Marshal(att)
		return TypeTemplate, Content{Text: msg.Text, RawAttachment: raw}
	default:
		// Unknown attachment kind: keep the full attachment for later
		// reprocessing instead of dropping it.
		raw, _ := json.Marshal(att)
		return TypeText, Content{
			Text:          "[unsupported attachment: " + att.Type + "]",
			RawAttachment: raw,
		}
	}
}

package platform

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"omnichat-gateway/internal/config"
	"omnichat-gateway/internal/models"
)

// LineEvent represents the LINE Messaging API webhook body. Destination is
// the bot's own user id and doubles as the account external id.
type LineEvent struct {
	Destination string             `json:"destination"`
	Events      []LineWebhookEvent `json:"events"`
}

type LineWebhookEvent struct {
	Type       string       `json:"type"`
	Timestamp  int64        `json:"timestamp"`
	ReplyToken string       `json:"replyToken,omitempty"`
	Source     LineSource   `json:"source"`
	Message    *LineMessage `json:"message,omitempty"`
	Postback   *struct {
		Data string `json:"data"`
	} `json:"postback,omitempty"`
}

type LineSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

type LineMessage struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	FileName  string  `json:"fileName,omitempty"`
	Title     string  `json:"title,omitempty"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	PackageID string  `json:"packageId,omitempty"`
	StickerID string  `json:"stickerId,omitempty"`
}

type LineProcessor struct {
	channelSecret string
}

func NewLineProcessor(cfg *config.Config) *LineProcessor {
	return &LineProcessor{channelSecret: cfg.LineChannelSecret}
}

func (p *LineProcessor) Platform() string {
	return models.PlatformLine
}

func (p *LineProcessor) VerifySignature(body []byte, header http.Header) error {
	return VerifyLineSignature(p.channelSecret, body, header.Get("X-Line-Signature"))
}

// ChallengeToken returns "" because LINE has no subscription handshake.
func (p *LineProcessor) ChallengeToken() string {
	return ""
}

func (p *LineProcessor) ExtractEvents(body []byte) ([]Event, error) {
	var payload LineEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing line payload: %w", err)
	}

	var events []Event
	for _, e := range payload.Events {
		ev, ok := p.convertEvent(payload.Destination, e)
		if !ok {
			continue
		}
		raw, _ := json.Marshal(e)
		ev.Raw = raw
		events = append(events, ev)
	}
	return events, nil
}

func (p *LineProcessor) convertEvent(destination string, e LineWebhookEvent) (Event, bool) {
	ev := Event{
		Platform:           models.PlatformLine,
		AccountExternalID:  destination,
		CustomerExternalID: e.Source.UserID,
		Timestamp:          time.UnixMilli(e.Timestamp),
	}

	switch e.Type {
	case "message":
		if e.Message == nil {
			return Event{}, false
		}
		ev.Kind = KindMessageReceived
		ev.SenderType = models.SenderCustomer
		ev.MessageExternalID = e.Message.ID
		ev.MessageType, ev.Content = lineMessageContent(e.Message)
	case "postback":
		if e.Postback == nil {
			return Event{}, false
		}
		ev.Kind = KindPostback
		ev.SenderType = models.SenderCustomer
		ev.MessageExternalID = postbackID(e.Source.UserID, e.Timestamp, e.Postback.Data)
		ev.MessageType = TypeText
		// LINE postbacks carry no display label, only the machine data.
		ev.Content = Content{Text: "[postback]", Payload: e.Postback.Data}
	case "follow":
		ev.Kind = KindUserSubscribed
	case "unfollow":
		ev.Kind = KindUserUnsubscribed
	default:
		return Event{}, false
	}

	ev.ConversationExternalID = ConversationKey(destination, e.Source.UserID)
	return ev, true
}

// lineMessageContent maps a LINE message to a canonical type. Media messages
// carry no URL, only a content id fetched separately; stickers carry only
// package and sticker ids, which are kept verbatim.
func lineMessageContent(msg *LineMessage) (string, Content) {
	switch msg.Type {
	case "text":
		return TypeText, Content{Text: msg.Text}
	case "image":
		return TypeImage, Content{MediaID: msg.ID}
	case "video":
		return TypeVideo, Content{MediaID: msg.ID}
	case "audio":
		return TypeAudio, Content{MediaID: msg.ID}
	case "file":
		return TypeFile, Content{MediaID: msg.ID, Filename: msg.FileName}
	case "location":
		return TypeLocation, Content{
			Address:   msg.Address,
			Latitude:  msg.Latitude,
			Longitude: msg.Longitude,
		}
	case "sticker":
		return TypeSticker, Content{
			StickerPackageID: msg.PackageID,
			StickerID:        msg.StickerID,
		}
	default:
		raw, _ := json.Marshal(msg)
		return TypeText, Content{
			Text:          "[unsupported message: " + msg.Type + "]",
			RawAttachment: raw,
		}
	}
}

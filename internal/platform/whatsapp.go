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

// WhatsAppEvent represents the incoming JSON payload from the WhatsApp
// Business Cloud API.
type WhatsAppEvent struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Value WhatsAppValue `json:"value"`
			Field string        `json:"field"`
		} `json:"changes"`
	} `json:"entry"`
}

type WhatsAppValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts,omitempty"`
	Messages []WhatsAppMessage `json:"messages,omitempty"`
	Statuses []WhatsAppStatus  `json:"statuses,omitempty"`
}

type WhatsAppMessage struct {
	From        string               `json:"from"`
	ID          string               `json:"id"`
	Timestamp   string               `json:"timestamp"`
	Type        string               `json:"type"`
	Text        *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image       *WhatsAppMedia       `json:"image,omitempty"`
	Video       *WhatsAppMedia       `json:"video,omitempty"`
	Audio       *WhatsAppMedia       `json:"audio,omitempty"`
	Document    *WhatsAppMedia       `json:"document,omitempty"`
	Sticker     *WhatsAppMedia       `json:"sticker,omitempty"`
	Location    *WhatsAppLocation    `json:"location,omitempty"`
	Button      *WhatsAppButton      `json:"button,omitempty"`
	Interactive *WhatsAppInteractive `json:"interactive,omitempty"`
}

// WhatsAppMedia represents a media attachment in a WhatsApp message.
type WhatsAppMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type WhatsAppLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// WhatsAppButton represents a template quick-reply button click.
type WhatsAppButton struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// WhatsAppInteractive represents an interactive message response (buttons, lists).
type WhatsAppInteractive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
	ListReply *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
	} `json:"list_reply,omitempty"`
}

type WhatsAppStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

type WhatsAppProcessor struct {
	appSecret   string
	verifyToken string
}

func NewWhatsAppProcessor(cfg *config.Config) *WhatsAppProcessor {
	return &WhatsAppProcessor{
		appSecret:   cfg.WhatsAppAppSecret,
		verifyToken: cfg.WhatsAppVerifyToken,
	}
}

func (p *WhatsAppProcessor) Platform() string {
	return models.PlatformWhatsApp
}

func (p *WhatsAppProcessor) VerifySignature(body []byte, header http.Header) error {
	return VerifyMetaSignature(p.appSecret, body, header.Get("X-Hub-Signature-256"))
}

func (p *WhatsAppProcessor) ChallengeToken() string {
	return p.verifyToken
}

func (p *WhatsAppProcessor) ExtractEvents(body []byte) ([]Event, error) {
	var payload WhatsAppEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing whatsapp payload: %w", err)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			phoneNumberID := value.Metadata.PhoneNumberID

			// Profile names arrive in a sibling contacts block, keyed by wa_id.
			names := make(map[string]string, len(value.Contacts))
			for _, contact := range value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}

			for _, msg := range value.Messages {
				ev := p.convertMessage(phoneNumberID, msg)
				ev.CustomerDisplayName = names[msg.From]
				raw, _ := json.Marshal(msg)
				ev.Raw = raw
				events = append(events, ev)
			}
			for _, st := range value.Statuses {
				ev, ok := p.convertStatus(phoneNumberID, st)
				if !ok {
					continue
				}
				raw, _ := json.Marshal(st)
				ev.Raw = raw
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

func (p *WhatsAppProcessor) convertMessage(phoneNumberID string, msg WhatsAppMessage) Event {
	msgType, content := whatsappMessageContent(msg)
	kind := KindMessageReceived
	if msg.Button != nil || msg.Interactive != nil {
		kind = KindPostback
	}
	return Event{
		Platform:               models.PlatformWhatsApp,
		AccountExternalID:      phoneNumberID,
		ConversationExternalID: ConversationKey(phoneNumberID, msg.From),
		CustomerExternalID:     msg.From,
		MessageExternalID:      msg.ID,
		Kind:                   kind,
		MessageType:            msgType,
		SenderType:             models.SenderCustomer,
		Content:                content,
		Timestamp:              whatsappTime(msg.Timestamp),
	}
}

func (p *WhatsAppProcessor) convertStatus(phoneNumberID string, st WhatsAppStatus) (Event, bool) {
	ev := Event{
		Platform:               models.PlatformWhatsApp,
		AccountExternalID:      phoneNumberID,
		ConversationExternalID: ConversationKey(phoneNumberID, st.RecipientID),
		CustomerExternalID:     st.RecipientID,
		MessageIDs:             []string{st.ID},
		Timestamp:              whatsappTime(st.Timestamp),
	}
	switch st.Status {
	case "sent":
		ev.Kind = KindMessageSent
	case "delivered":
		ev.Kind = KindMessageDelivered
	case "read":
		ev.Kind = KindMessageRead
	case "failed":
		ev.Kind = KindMessageFailed
	default:
		return Event{}, false
	}
	return ev, true
}

// whatsappMessageContent maps a WhatsApp Cloud message to a canonical type.
// Button clicks and interactive replies normalize to text, keeping the
// machine payload alongside the human-readable label.
func whatsappMessageContent(msg WhatsAppMessage) (string, Content) {
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			return TypeText, Content{Text: msg.Text.Body}
		}
		return TypeText, Content{}
	case "image":
		if msg.Image != nil {
			return TypeImage, Content{MediaID: msg.Image.ID, Caption: msg.Image.Caption}
		}
	case "video":
		if msg.Video != nil {
			return TypeVideo, Content{MediaID: msg.Video.ID, Caption: msg.Video.Caption}
		}
	case "audio":
		if msg.Audio != nil {
			return TypeAudio, Content{MediaID: msg.Audio.ID}
		}
	case "document":
		if msg.Document != nil {
			return TypeFile, Content{
				MediaID:  msg.Document.ID,
				Caption:  msg.Document.Caption,
				Filename: msg.Document.Filename,
			}
		}
	case "sticker":
		if msg.Sticker != nil {
			return TypeSticker, Content{MediaID: msg.Sticker.ID}
		}
	case "location":
		if msg.Location != nil {
			return TypeLocation, Content{
				Latitude:  msg.Location.Latitude,
				Longitude: msg.Location.Longitude,
				Address:   msg.Location.Address,
			}
		}
	case "button":
		if msg.Button != nil {
			return TypeText, Content{Text: msg.Button.Text, Payload: msg.Button.Payload}
		}
	case "interactive":
		if msg.Interactive != nil {
			switch {
			case msg.Interactive.ButtonReply != nil:
				return TypeText, Content{
					Text:    msg.Interactive.ButtonReply.Title,
					Payload: msg.Interactive.ButtonReply.ID,
				}
			case msg.Interactive.ListReply != nil:
				return TypeText, Content{
					Text:    msg.Interactive.ListReply.Title,
					Payload: msg.Interactive.ListReply.ID,
				}
			}
		}
	}

	raw, _ := json.Marshal(msg)
	return TypeText, Content{
		Text:          "[unsupported message: " + msg.Type + "]",
		RawAttachment: raw,
	}
}

func whatsappTime(ts string) time.Time {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0)
}

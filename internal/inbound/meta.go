package inbound

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/leadpilot/pkg/models"
)

// WhatsApp Cloud API payload

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Field string  `json:"field"`
	Value waValue `json:"value"`
}

type waValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []json.RawMessage `json:"messages"`
}

type waMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Button struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive struct {
		ButtonReply struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Image    *waMedia `json:"image"`
	Audio    *waMedia `json:"audio"`
	Video    *waMedia `json:"video"`
	Document *waMedia `json:"document"`
}

type waMedia struct {
	ID      string `json:"id"`
	Link    string `json:"link"`
	Caption string `json:"caption"`
}

func parseWhatsApp(body []byte, now time.Time) ([]models.InboundMessage, error) {
	var p waPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, unparseable("whatsapp", "invalid json: %v", err)
	}
	var out []models.InboundMessage
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			if ch.Field != "" && ch.Field != "messages" {
				continue
			}
			names := map[string]string{}
			for _, c := range ch.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			account := ch.Value.Metadata.PhoneNumberID
			if account == "" {
				account = e.ID
			}
			for _, raw := range ch.Value.Messages {
				var m waMessage
				if err := json.Unmarshal(raw, &m); err != nil {
					return nil, unparseable("whatsapp", "invalid message: %v", err)
				}
				msg := models.InboundMessage{
					Channel:           models.ChannelWhatsApp,
					ExternalAccountID: account,
					ExternalID:        m.ID,
					LeadExternalID:    m.From,
					LeadName:          names[m.From],
					ContentType:       "text",
					Timestamp:         unixOrNow(m.Timestamp, now),
					RawPayload:        raw,
				}
				switch m.Type {
				case "", "text":
					msg.Text = m.Text.Body
				case "button":
					msg.Text = m.Button.Text
				case "interactive":
					msg.Text = firstNonEmpty(m.Interactive.ButtonReply.Title, m.Interactive.ListReply.Title)
				default:
					media := firstMedia(m.Image, m.Audio, m.Video, m.Document)
					msg.ContentType = m.Type
					if media != nil {
						msg.MediaURL = firstNonEmpty(media.Link, media.ID)
						msg.Text = media.Caption
					}
				}
				if err := validate(msg); err != nil {
					return nil, err
				}
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// Messenger and Instagram share the messaging webhook shape

type messagingPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string            `json:"id"`
		Time      int64             `json:"time"`
		Messaging []json.RawMessage `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

func parseMessaging(channel models.Channel, body []byte, now time.Time) ([]models.InboundMessage, error) {
	var p messagingPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, unparseable(string(channel), "invalid json: %v", err)
	}
	var out []models.InboundMessage
	for _, e := range p.Entry {
		for _, raw := range e.Messaging {
			var ev messagingEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, unparseable(string(channel), "invalid messaging event: %v", err)
			}
			// reads, deliveries and our own echoes carry no lead message
			if ev.Message == nil || ev.Message.IsEcho {
				continue
			}
			msg := models.InboundMessage{
				Channel:           channel,
				ExternalAccountID: firstNonEmpty(ev.Recipient.ID, e.ID),
				ExternalID:        ev.Message.MID,
				LeadExternalID:    ev.Sender.ID,
				ContentType:       "text",
				Text:              ev.Message.Text,
				Timestamp:         unixMilliOrNow(ev.Timestamp, now),
				RawPayload:        raw,
			}
			if len(ev.Message.Attachments) > 0 {
				a := ev.Message.Attachments[0]
				msg.MediaURL = a.Payload.URL
				if msg.Text == "" {
					msg.ContentType = firstNonEmpty(a.Type, "attachment")
				}
			}
			if err := validate(msg); err != nil {
				return nil, err
			}
			out = append(out, msg)
		}
	}
	return out, nil
}

func firstMedia(ms ...*waMedia) *waMedia {
	for _, m := range ms {
		if m != nil {
			return m
		}
	}
	return nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func unixOrNow(v string, now time.Time) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || sec <= 0 {
		return now
	}
	return time.Unix(sec, 0).UTC()
}

func unixMilliOrNow(ms int64, now time.Time) time.Time {
	if ms <= 0 {
		return now
	}
	return time.UnixMilli(ms).UTC()
}

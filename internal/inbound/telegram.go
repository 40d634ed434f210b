package inbound

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/leadpilot/pkg/models"
)

type tgUpdate struct {
	UpdateID      int64      `json:"update_id"`
	Message       *tgMessage `json:"message"`
	EditedMessage *tgMessage `json:"edited_message"`
}

type tgMessage struct {
	MessageID int64 `json:"message_id"`
	Date      int64 `json:"date"`
	From      struct {
		ID        int64  `json:"id"`
		IsBot     bool   `json:"is_bot"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Username  string `json:"username"`
	} `json:"from"`
	Chat struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	} `json:"chat"`
	Text    string `json:"text"`
	Caption string `json:"caption"`
	Photo   []struct {
		FileID string `json:"file_id"`
	} `json:"photo"`
	Voice *struct {
		FileID string `json:"file_id"`
	} `json:"voice"`
	Document *struct {
		FileID string `json:"file_id"`
	} `json:"document"`
}

// parseTelegram reads a Bot API update. Telegram updates do not name the bot,
// so the account comes from the webhook route.
func parseTelegram(body []byte, account string, now time.Time) ([]models.InboundMessage, error) {
	var u tgUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, unparseable("telegram", "invalid json: %v", err)
	}
	m := u.Message
	if m == nil {
		// edits and service updates are not new lead messages
		return nil, nil
	}
	if m.From.IsBot {
		return nil, nil
	}
	chat := strconv.FormatInt(m.Chat.ID, 10)
	msg := models.InboundMessage{
		Channel:           models.ChannelTelegram,
		ExternalAccountID: account,
		ExternalID:        chat + ":" + strconv.FormatInt(m.MessageID, 10),
		LeadExternalID:    strconv.FormatInt(m.From.ID, 10),
		LeadName:          strings.TrimSpace(m.From.FirstName + " " + m.From.LastName),
		ContentType:       "text",
		Text:              m.Text,
		Timestamp:         unixOrNow(strconv.FormatInt(m.Date, 10), now),
		RawPayload:        json.RawMessage(body),
	}
	if m.Chat.ID == 0 || m.MessageID == 0 {
		msg.ExternalID = ""
	}
	if m.From.ID == 0 {
		msg.LeadExternalID = ""
	}
	if msg.LeadName == "" && m.From.Username != "" {
		msg.LeadName = "@" + m.From.Username
	}
	switch {
	case len(m.Photo) > 0:
		msg.ContentType = "image"
		msg.MediaURL = m.Photo[len(m.Photo)-1].FileID
		msg.Text = m.Caption
	case m.Voice != nil:
		msg.ContentType = "audio"
		msg.MediaURL = m.Voice.FileID
	case m.Document != nil:
		msg.ContentType = "document"
		msg.MediaURL = m.Document.FileID
		msg.Text = m.Caption
	}
	if err := validate(msg); err != nil {
		return nil, err
	}
	return []models.InboundMessage{msg}, nil
}

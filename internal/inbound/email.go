package inbound

import (
	"encoding/json"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/leadpilot/pkg/models"
)

// emailPayload is the JSON shape posted by the inbound mail relay
type emailPayload struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
	Date      string `json:"date"`
}

var (
	stripTags = bluemonday.StrictPolicy()
	// "Am 12.03.2026 um 10:00 schrieb Max:" and "On ... wrote:" open the quoted thread
	replyHeader = regexp.MustCompile(`(?m)^(Am .+ schrieb .+:|On .+ wrote:)\s*$`)
	blockBreaks = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li)\s*/?>`)
	manyBlanks  = regexp.MustCompile(`\n{3,}`)
)

func parseEmail(body []byte, now time.Time) ([]models.InboundMessage, error) {
	var p emailPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, unparseable("email", "invalid json: %v", err)
	}
	from, err := mail.ParseAddress(p.From)
	if err != nil {
		return nil, unparseable("email", "invalid from address %q", p.From)
	}
	to, err := mail.ParseAddress(p.To)
	if err != nil {
		return nil, unparseable("email", "invalid to address %q", p.To)
	}

	text := p.Text
	if strings.TrimSpace(text) == "" && p.HTML != "" {
		text = htmlToText(p.HTML)
	}
	text = stripQuoted(text)
	if text == "" {
		text = strings.TrimSpace(p.Subject)
	}

	ts := now
	if p.Date != "" {
		if d, err := mail.ParseDate(p.Date); err == nil {
			ts = d.UTC()
		}
	}
	msg := models.InboundMessage{
		Channel:           models.ChannelEmail,
		ExternalAccountID: strings.ToLower(to.Address),
		ExternalID:        strings.Trim(strings.TrimSpace(p.MessageID), "<>"),
		LeadExternalID:    strings.ToLower(from.Address),
		LeadName:          from.Name,
		ContentType:       "text",
		Text:              text,
		Timestamp:         ts,
		RawPayload:        json.RawMessage(body),
	}
	if err := validate(msg); err != nil {
		return nil, err
	}
	return []models.InboundMessage{msg}, nil
}

func htmlToText(s string) string {
	s = blockBreaks.ReplaceAllString(s, "\n")
	return html.UnescapeString(stripTags.Sanitize(s))
}

// stripQuoted drops the quoted thread and the signature below "-- "
func stripQuoted(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if loc := replyHeader.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if line == "-- " || line == "--" {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}
	out := strings.Join(kept, "\n")
	return strings.TrimSpace(manyBlanks.ReplaceAllString(out, "\n\n"))
}

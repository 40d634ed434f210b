// Package notify delivers notifications produced by the core. Delivery is
// fire-and-forget from the caller's point of view: failures are returned for
// logging but never change a decision.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/pkg/models"
)

// Notifier delivers one notification
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n models.Notification) error {
	log.Info().
		Int64("tenant_id", n.TenantID).
		Str("kind", string(n.Kind)).
		Str("title", n.Title).
		Interface("data", n.Data).
		Msg(n.Body)
	return nil
}

// SlackNotifier posts notifications to a Slack channel
type SlackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlackNotifier creates a Slack notifier. apiBase may be empty for the public API.
func NewSlackNotifier(token, channel, apiBase string, client *http.Client) (*SlackNotifier, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("missing slack bot token")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("missing slack channel")
	}
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = "https://slack.com/api"
	}
	base = strings.TrimRight(base, "/") + "/"
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackNotifier{
		api:     slack.New(token, slack.OptionHTTPClient(client), slack.OptionAPIURL(base)),
		channel: channel,
	}, nil
}

func (s *SlackNotifier) Notify(ctx context.Context, n models.Notification) error {
	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(formatSlack(n), false))
	if err != nil {
		return apperr.External("notify.slack", err)
	}
	return nil
}

func formatSlack(n models.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*", emojiFor(n.Kind), n.Title)
	if n.Body != "" {
		b.WriteString("\n")
		b.WriteString(n.Body)
	}
	if lead, ok := n.Data["lead_id"]; ok {
		fmt.Fprintf(&b, "\nLead: `%v`", lead)
	}
	return b.String()
}

func emojiFor(k models.NotificationKind) string {
	switch k {
	case models.NotifyHotLeadAlert:
		return ":fire:"
	case models.NotifyDraftWaiting:
		return ":memo:"
	case models.NotifyHumanNeededAlert:
		return ":raising_hand:"
	case models.NotifyBriefing:
		return ":sunrise:"
	default:
		return ":robot_face:"
	}
}

// Fanout delivers to every notifier and joins their errors
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, nt := range f {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

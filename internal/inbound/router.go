// Package inbound turns channel webhook payloads into canonical inbound messages
// and resolves the tenant that owns each of them.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/capture"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/internal/webhookutils"
	"github.com/leadpilot/pkg/models"
)

// Request is one webhook delivery as seen by the HTTP layer
type Request struct {
	Channel models.Channel
	Headers map[string]string
	Body    []byte
	// Account names the receiving account for channels whose payload does not
	// carry it (Telegram)
	Account string
}

// Routed is a parsed message with the tenant that owns it
type Routed struct {
	TenantID int64
	Message  models.InboundMessage
}

// Signature headers per channel. Meta signs with the app secret.
const (
	HeaderMetaSignature      = "X-Hub-Signature-256"
	HeaderTelegramSecret     = "X-Telegram-Bot-Api-Secret-Token"
	HeaderLeadpilotSignature = "X-Leadpilot-Signature"
)

// Router parses and routes webhooks. secrets maps a channel name to its shared
// secret; channels without a secret are accepted unsigned.
type Router struct {
	mappings    storage.MappingStore
	secrets     map[string]string
	verifyToken string
	now         func() time.Time
	logger      zerolog.Logger
}

func NewRouter(mappings storage.MappingStore, secrets map[string]string, verifyToken string) *Router {
	norm := make(map[string]string, len(secrets))
	for k, v := range secrets {
		norm[strings.ToLower(k)] = v
	}
	return &Router{
		mappings:    mappings,
		secrets:     norm,
		verifyToken: verifyToken,
		now:         time.Now,
		logger:      log.With().Str("component", "inbound").Logger(),
	}
}

// SetClock replaces the ingress clock used for payloads without timestamps
func (r *Router) SetClock(now func() time.Time) { r.now = now }

// SupportedChannel reports whether a webhook route exists for ch
func SupportedChannel(ch models.Channel) bool {
	switch ch {
	case models.ChannelWhatsApp, models.ChannelInstagram, models.ChannelMessenger,
		models.ChannelTelegram, models.ChannelEmail, models.ChannelInbound:
		return true
	}
	return false
}

// Parse verifies and decodes a webhook without resolving tenants
func (r *Router) Parse(req Request) ([]models.InboundMessage, error) {
	if !SupportedChannel(req.Channel) {
		return nil, apperr.Invalid("inbound.Parse", "unsupported channel %q", req.Channel)
	}
	if err := r.verify(req); err != nil {
		return nil, err
	}
	capture.WriteBlob(string(req.Channel), "webhook", "json", req.Body)

	now := r.now().UTC()
	var (
		msgs []models.InboundMessage
		err  error
	)
	switch req.Channel {
	case models.ChannelWhatsApp:
		msgs, err = parseWhatsApp(req.Body, now)
	case models.ChannelInstagram, models.ChannelMessenger:
		msgs, err = parseMessaging(req.Channel, req.Body, now)
	case models.ChannelTelegram:
		msgs, err = parseTelegram(req.Body, req.Account, now)
	case models.ChannelEmail:
		msgs, err = parseEmail(req.Body, now)
	case models.ChannelInbound:
		msgs, err = parseCanonical(req.Body, now)
	}
	if err != nil {
		return nil, err
	}
	capture.WriteJSON(string(req.Channel), "canonical", msgs)
	return msgs, nil
}

// Route parses a webhook and resolves the owning tenant of every message.
// Messages for unknown accounts are logged and dropped; when nothing could be
// routed because of that, ErrNoTenantMapping is returned.
func (r *Router) Route(ctx context.Context, req Request) ([]Routed, error) {
	msgs, err := r.Parse(req)
	if err != nil {
		r.logger.Warn().Err(err).Str("reason", apperr.ReasonUnparseable).Str("channel", string(req.Channel)).Msg("webhook rejected")
		return nil, err
	}
	var (
		out    []Routed
		missed error
	)
	for _, m := range msgs {
		mapping, err := r.mappings.GetTenantForExternal(ctx, m.Channel, m.ExternalAccountID)
		if errors.Is(err, apperr.ErrNoTenantMapping) {
			r.logger.Warn().Str("reason", apperr.ReasonUnknownAccount).Str("channel", string(m.Channel)).Str("account", m.ExternalAccountID).Msg("no tenant for account, dropping message")
			missed = err
			continue
		}
		if err != nil {
			return nil, err
		}
		if req.Channel == models.ChannelInbound && mapping.WebhookSecret != "" {
			sig, _ := webhookutils.GetHeaderCaseInsensitive(req.Headers, HeaderLeadpilotSignature)
			if !webhookutils.ValidHMAC(sig, "sha256=", mapping.WebhookSecret, req.Body) {
				r.logger.Warn().Str("reason", apperr.ReasonSignatureInvalid).Int64("tenant_id", mapping.TenantID).Msg("canonical webhook signature mismatch")
				return nil, apperr.E(apperr.KindUnauthorized, "inbound.Route", errors.New("invalid mapping signature"))
			}
		}
		out = append(out, Routed{TenantID: mapping.TenantID, Message: m})
	}
	if len(out) == 0 && missed != nil {
		return nil, missed
	}
	return out, nil
}

func (r *Router) verify(req Request) error {
	secret := r.secrets[string(req.Channel)]
	if secret == "" {
		return nil
	}
	var ok bool
	switch req.Channel {
	case models.ChannelWhatsApp, models.ChannelInstagram, models.ChannelMessenger:
		sig, _ := webhookutils.GetHeaderCaseInsensitive(req.Headers, HeaderMetaSignature)
		ok = webhookutils.ValidHMAC(sig, "sha256=", secret, req.Body)
	case models.ChannelTelegram:
		tok, _ := webhookutils.GetHeaderCaseInsensitive(req.Headers, HeaderTelegramSecret)
		ok = webhookutils.EqualToken(tok, secret)
	default:
		sig, _ := webhookutils.GetHeaderCaseInsensitive(req.Headers, HeaderLeadpilotSignature)
		ok = webhookutils.ValidHMAC(sig, "sha256=", secret, req.Body)
	}
	if !ok {
		r.logger.Warn().Str("reason", apperr.ReasonSignatureInvalid).Str("channel", string(req.Channel)).Msg("webhook signature mismatch")
		return apperr.E(apperr.KindUnauthorized, "inbound.verify", fmt.Errorf("%s signature invalid", req.Channel))
	}
	return nil
}

// VerifyHandshake answers the Meta subscription handshake. It returns the
// challenge to echo back when mode and token match.
func (r *Router) VerifyHandshake(mode, token, challenge string) (string, error) {
	if mode != "subscribe" || !webhookutils.EqualToken(token, r.verifyToken) {
		return "", apperr.E(apperr.KindUnauthorized, "inbound.VerifyHandshake", errors.New("verify token mismatch"))
	}
	return challenge, nil
}

func parseCanonical(body []byte, now time.Time) ([]models.InboundMessage, error) {
	var m models.InboundMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, unparseable("inbound", "invalid json: %v", err)
	}
	if m.ContentType == "" {
		m.ContentType = "text"
	}
	if m.Channel == "" {
		m.Channel = models.ChannelInbound
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	if len(m.RawPayload) == 0 {
		m.RawPayload = json.RawMessage(body)
	}
	if !SupportedChannel(m.Channel) && m.Channel != models.ChannelLinkedIn {
		return nil, unparseable("inbound", "unknown channel %q", m.Channel)
	}
	if err := validate(m); err != nil {
		return nil, err
	}
	return []models.InboundMessage{m}, nil
}

// validate enforces the fields every canonical message needs
func validate(m models.InboundMessage) error {
	var missing []string
	if m.ExternalAccountID == "" {
		missing = append(missing, "external_account_id")
	}
	if m.ExternalID == "" {
		missing = append(missing, "external_id")
	}
	if m.LeadExternalID == "" {
		missing = append(missing, "lead_external_id")
	}
	if strings.TrimSpace(m.Text) == "" && m.MediaURL == "" {
		missing = append(missing, "text")
	}
	if len(missing) > 0 {
		return unparseable(string(m.Channel), "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func unparseable(channel, format string, args ...any) error {
	return apperr.E(apperr.KindUnparseable, "inbound."+channel, fmt.Errorf(format, args...))
}

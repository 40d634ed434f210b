// Package channels is the outbound side of the channel adapters. The core hands
// a finished message to a Sender and gets back the provider message id.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/retry"
	"github.com/leadpilot/pkg/models"
)

// Sender sends one message synchronously and returns the provider id
type Sender interface {
	Send(ctx context.Context, lead models.Lead, channel models.Channel, content string) (string, error)
}

// HTTPSender posts messages to a per-channel adapter endpoint
type HTTPSender struct {
	endpoints map[models.Channel]string
	token     string
	client    *http.Client
	limit     rate.Limit
	burst     int
	retry     retry.RetryConfig
	logger    zerolog.Logger

	mu       sync.Mutex
	limiters map[models.Channel]*rate.Limiter
}

// Options configures an HTTPSender
type Options struct {
	Endpoints     map[string]string
	Token         string
	RatePerSecond float64
	Burst         int
	Client        *http.Client
	Retry         *retry.RetryConfig
}

func NewHTTPSender(opts Options) *HTTPSender {
	endpoints := make(map[models.Channel]string, len(opts.Endpoints))
	for ch, url := range opts.Endpoints {
		endpoints[models.Channel(strings.ToLower(ch))] = strings.TrimRight(url, "/")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	limit := rate.Limit(opts.RatePerSecond)
	if opts.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	rc := retry.ChannelRetryConfig()
	if opts.Retry != nil {
		rc = *opts.Retry
	}
	return &HTTPSender{
		endpoints: endpoints,
		token:     opts.Token,
		client:    client,
		limit:     limit,
		burst:     burst,
		retry:     rc,
		logger:    log.With().Str("component", "channels").Logger(),
		limiters:  make(map[models.Channel]*rate.Limiter),
	}
}

type sendRequest struct {
	TenantID       int64  `json:"tenant_id"`
	LeadID         string `json:"lead_id"`
	Recipient      string `json:"recipient"`
	Channel        string `json:"channel"`
	Text           string `json:"text"`
	IdempotencyKey string `json:"idempotency_key"`
}

type sendResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// Send waits for the channel's rate limiter, then posts the message. Connection
// failures, 429 and 5xx answers are retried under the same idempotency key so the
// adapter delivers at most once; 4xx answers are not retried.
func (s *HTTPSender) Send(ctx context.Context, lead models.Lead, channel models.Channel, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", apperr.Invalid("channels.send", "empty message")
	}
	endpoint, ok := s.endpoints[channel]
	if !ok {
		return "", apperr.External("channels.send", fmt.Errorf("no adapter configured for channel %s", channel))
	}
	if err := s.limiter(channel).Wait(ctx); err != nil {
		return "", apperr.E(apperr.KindTimeout, "channels.send", err)
	}

	body, err := json.Marshal(sendRequest{
		TenantID:       lead.TenantID,
		LeadID:         lead.ID,
		Recipient:      lead.ExternalID,
		Channel:        string(channel),
		Text:           content,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return "", apperr.E(apperr.KindInternal, "channels.send", err)
	}

	var id string
	result := retry.RetryWithBackoff(ctx, s.retry, func() error {
		var err error
		id, err = s.post(ctx, endpoint+"/send", body)
		return err
	}, &s.logger)
	if !result.Success {
		return "", apperr.External("channels.send", result.LastError)
	}
	return id, nil
}

func (s *HTTPSender) post(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var out sendResponse
	_ = json.Unmarshal(raw, &out)
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("adapter returned %d: %s", resp.StatusCode, out.Error)
	case resp.StatusCode >= 400:
		return "", retry.Permanent(fmt.Errorf("adapter rejected message (%d): %s", resp.StatusCode, out.Error))
	}
	if out.ID == "" {
		return "", retry.Permanent(fmt.Errorf("adapter response without message id"))
	}
	return out.ID, nil
}

func (s *HTTPSender) limiter(ch models.Channel) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[ch]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[ch] = l
	}
	return l
}

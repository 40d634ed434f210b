package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/retry"
	"github.com/leadpilot/pkg/models"
)

func fastRetry() *retry.RetryConfig {
	return &retry.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

var testLead = models.Lead{ID: "lead-1", TenantID: 7, ExternalID: "ig-123", Channel: models.ChannelInstagram}

func TestSendPostsToChannelEndpoint(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"mid.42"}`))
	}))
	defer srv.Close()

	s := NewHTTPSender(Options{
		Endpoints: map[string]string{"Instagram": srv.URL + "/"},
		Token:     "secret",
		Client:    srv.Client(),
		Retry:     fastRetry(),
	})
	id, err := s.Send(context.Background(), testLead, models.ChannelInstagram, "Hallo!")
	require.NoError(t, err)
	assert.Equal(t, "mid.42", id)
	assert.Equal(t, "ig-123", got.Recipient)
	assert.Equal(t, int64(7), got.TenantID)
	assert.Equal(t, "Hallo!", got.Text)
	assert.NotEmpty(t, got.IdempotencyKey)
}

func TestSendRetriesServerErrorsWithSameKey(t *testing.T) {
	var calls atomic.Int32
	keys := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		keys <- req.IdempotencyKey
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"ok"}`))
	}))
	defer srv.Close()

	s := NewHTTPSender(Options{Endpoints: map[string]string{"whatsapp": srv.URL}, Client: srv.Client(), Retry: fastRetry()})
	id, err := s.Send(context.Background(), testLead, models.ChannelWhatsApp, "Hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", id)
	assert.EqualValues(t, 3, calls.Load())

	first := <-keys
	assert.Equal(t, first, <-keys)
	assert.Equal(t, first, <-keys)
}

func TestSendDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"recipient blocked"}`))
	}))
	defer srv.Close()

	s := NewHTTPSender(Options{Endpoints: map[string]string{"telegram": srv.URL}, Client: srv.Client(), Retry: fastRetry()})
	_, err := s.Send(context.Background(), testLead, models.ChannelTelegram, "Hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrExternal))
	assert.Contains(t, err.Error(), "recipient blocked")
	assert.EqualValues(t, 1, calls.Load())
}

func TestSendValidation(t *testing.T) {
	s := NewHTTPSender(Options{})
	_, err := s.Send(context.Background(), testLead, models.ChannelEmail, "  ")
	assert.True(t, errors.Is(err, apperr.ErrInvalid))

	_, err = s.Send(context.Background(), testLead, models.ChannelEmail, "Hallo")
	assert.True(t, errors.Is(err, apperr.ErrExternal))
}

func TestLimiterIsPerChannel(t *testing.T) {
	s := NewHTTPSender(Options{RatePerSecond: 1, Burst: 1})
	a := s.limiter(models.ChannelWhatsApp)
	assert.Same(t, a, s.limiter(models.ChannelWhatsApp))
	assert.NotSame(t, a, s.limiter(models.ChannelTelegram))
	assert.True(t, a.Allow())
	assert.False(t, a.Allow())
	assert.True(t, s.limiter(models.ChannelTelegram).Allow())
}

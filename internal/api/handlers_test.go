package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/learning"
	"github.com/leadpilot/internal/reactivation"
	"github.com/leadpilot/pkg/models"
)

func canonical(account, externalID string) map[string]any {
	return map[string]any{
		"external_account_id": account,
		"external_id":         externalID,
		"lead_external_id":    "lead-ext-1",
		"text":                "Was kostet das Paket?",
	}
}

func TestWebhookProcessesCanonicalPayload(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/webhooks/inbound", canonical("acct-1", "m-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[WebhookResponse](t, rec)
	assert.Equal(t, webhookProcessed, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, models.ActionDraftReview, resp.Results[0].Action)

	require.Len(t, env.inbox.jobs, 1)
	assert.Equal(t, testTenant, env.inbox.jobs[0].TenantID)
	assert.Equal(t, "m-1", env.inbox.jobs[0].Message.ExternalID)
}

func TestWebhookIgnoresWhatItCannotRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/webhooks/inbound", canonical("unknown-acct", "m-2"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webhookIgnored, decode[WebhookResponse](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/webhooks/inbound", `{"text":`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webhookIgnored, decode[WebhookResponse](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/webhooks/inbound", map[string]any{"external_account_id": "acct-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, env.inbox.jobs)

	rec = env.do(t, http.MethodPost, "/webhooks/fax", canonical("acct-1", "m-3"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookStorageFailureAsksForRetry(t *testing.T) {
	env := newTestEnv(t)
	env.inbox.err = apperr.Storage("AppendMessage", errors.New("connection refused"))

	rec := env.do(t, http.MethodPost, "/webhooks/inbound", canonical("acct-1", "m-4"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apperr.ErrStorage.Code, decode[ErrorBody](t, rec).Error.Code)
}

func TestWebhookAnswersQueuedWhenPipelineIsSlow(t *testing.T) {
	env := newTestEnv(t)
	env.server.opts.WebhookWait = 1
	env.inbox.hold = true

	rec := env.do(t, http.MethodPost, "/webhooks/inbound", canonical("acct-1", "m-5"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, webhookQueued, decode[WebhookResponse](t, rec).Status)
}

func TestWebhookHandshake(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAnalyticsTrackingAndOutcome(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/analytics/track/template-used", learning.TemplateUse{LeadID: "l-1", TemplateID: "price_v2", Category: "price_inquiry", Text: "Hallo Max, 490 EUR"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	eventID := decode[map[string]string](t, rec)["event_id"]
	require.NotEmpty(t, eventID)

	stored, err := env.store.GetEvent(context.Background(), testTenant, eventID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, models.EventTemplateUsed, stored.EventType)

	rec = env.do(t, http.MethodPost, "/analytics/events/"+eventID+"/outcome", models.Outcome{GotResponse: true, Positive: true})
	require.Equal(t, http.StatusOK, rec.Code)

	// outcomes attach once
	rec = env.do(t, http.MethodPost, "/analytics/track/outcome", OutcomeRequest{EventID: eventID, Outcome: models.Outcome{Converted: true}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/analytics/track/outcome", OutcomeRequest{LeadID: "l-1", Outcome: models.Outcome{DealClosed: true, DealValue: 1200}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/analytics/track/response", learning.Response{LeadID: "l-1", ResponseTimeHours: -2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/analytics/track/template-used", learning.TemplateUse{LeadID: "l-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordEventUsesTokenTenant(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/analytics/events", map[string]any{
		"tenant_id":   99,
		"event_type":  "decision_made",
		"ai_decision": map[string]any{"confidence": 0.8, "message_text": "Ruf mich an: 0170 1234567"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	e := decode[models.LearningEvent](t, rec)
	assert.Equal(t, testTenant, e.TenantID)
	assert.NotContains(t, e.AIDecision.MessageText, "1234567")

	rec = env.do(t, http.MethodPost, "/analytics/events", map[string]any{"event_type": "guess"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyticsReads(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/analytics/dashboard?period=month", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, learning.PeriodMonth, decode[learning.Dashboard](t, rec).Period)

	rec = env.do(t, http.MethodGet, "/analytics/templates?days=30&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/analytics/templates/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/analytics/aggregates?granularity=daily&from=2026-10-01&to=2026-10-15", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/analytics/aggregates?granularity=hourly", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/analytics/aggregates?from=2026-10-15&to=2026-10-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReactivationEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/reactivation/dormant-leads?min_days=60", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 60, decode[map[string]any](t, rec)["min_days"])

	rec = env.do(t, http.MethodPost, "/reactivation/start", StartRequest{LeadID: "lead-9"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[RunResponse](t, rec)
	require.NotNil(t, run.State)
	assert.Equal(t, "lead-9", run.State.LeadID)
	assert.Empty(t, run.Run.FinalState)

	rec = env.do(t, http.MethodPost, "/reactivation/start", StartRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/reactivation/batch?max_leads=11", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/reactivation/batch?max_leads=2", BatchRequest{LeadIDs: []string{"a", "b", "c"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/reactivation/batch?max_leads=2", BatchRequest{LeadIDs: []string{"a", "b"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [][]string{{"a", "b"}}, env.agent.batches)

	rec = env.do(t, http.MethodPost, "/reactivation/batch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, body["count"])
	assert.EqualValues(t, map[string]any{"no_signal": float64(1)}, body["summary"])

	rec = env.do(t, http.MethodPost, "/reactivation/runs/run-1/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReactivationRunsFromStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state, err := json.Marshal(reactivation.State{TenantID: testTenant, LeadID: "lead-3"})
	require.NoError(t, err)
	r := &models.ReactivationRun{TenantID: testTenant, LeadID: "lead-3", Status: models.RunCompleted, Outcome: models.OutcomeRejected, FinalState: state}
	require.NoError(t, env.store.CreateRun(ctx, r))

	rec := env.do(t, http.MethodGet, "/reactivation/runs?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/reactivation/runs?status=sleeping", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/reactivation/runs/"+r.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[RunResponse](t, rec)
	assert.Equal(t, models.OutcomeRejected, got.Run.Outcome)
	require.NotNil(t, got.State)
	assert.Equal(t, "lead-3", got.State.LeadID)

	rec = env.do(t, http.MethodGet, "/reactivation/runs/other", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

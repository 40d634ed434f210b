package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/autopilot"
	"github.com/leadpilot/internal/inbound"
	"github.com/leadpilot/internal/webhookutils"
	"github.com/leadpilot/pkg/models"
)

// WebhookResponse is returned to channel origins
type WebhookResponse struct {
	Status  string                     `json:"status"`
	Results []*models.ProcessingResult `json:"results,omitempty"`
}

const (
	webhookProcessed = "processed"
	webhookIgnored   = "ignored"
	webhookQueued    = "queued"
)

// verifyWebhook answers the Meta subscription handshake
func (s *Server) verifyWebhook(c echo.Context) error {
	channel := models.Channel(c.Param("channel"))
	if !inbound.SupportedChannel(channel) {
		return respondError(c, apperr.NotFound("api.verifyWebhook", "channel"))
	}
	challenge, err := s.deps.Router.VerifyHandshake(
		c.QueryParam("hub.mode"),
		c.QueryParam("hub.verify_token"),
		c.QueryParam("hub.challenge"),
	)
	if err != nil {
		return c.String(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

type webhookOutcome struct {
	idx int
	res *models.ProcessingResult
	err error
}

// receiveWebhook routes a delivery to its tenants and runs every message through
// the pipeline. Payloads we cannot use are acknowledged so the origin stops
// retrying; a storage failure answers 503 so the origin retries the delivery.
func (s *Server) receiveWebhook(c echo.Context) error {
	channel := models.Channel(c.Param("channel"))
	if !inbound.SupportedChannel(channel) {
		return respondError(c, apperr.NotFound("api.receiveWebhook", "channel"))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return respondError(c, invalid("receiveWebhook", "read body: %v", err))
	}

	ctx := c.Request().Context()
	routed, err := s.deps.Router.Route(ctx, inbound.Request{
		Channel: channel,
		Headers: webhookutils.Flatten(c.Request().Header),
		Body:    body,
		Account: c.QueryParam("account"),
	})
	switch {
	case errors.Is(err, apperr.ErrUnparseable), errors.Is(err, apperr.ErrNoTenantMapping):
		return c.JSON(http.StatusOK, WebhookResponse{Status: webhookIgnored})
	case err != nil:
		return respondError(c, err)
	case len(routed) == 0:
		// status updates and other deliveries without messages
		return c.JSON(http.StatusOK, WebhookResponse{Status: webhookIgnored})
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.WebhookWait)
	defer cancel()

	done := make(chan webhookOutcome, len(routed))
	for i, r := range routed {
		idx := i
		job := autopilot.Job{
			TenantID: r.TenantID,
			Message:  r.Message,
			Done: func(res *models.ProcessingResult, err error) {
				done <- webhookOutcome{idx: idx, res: res, err: err}
			},
		}
		if err := s.deps.Inbound.Submit(waitCtx, job); err != nil {
			if errors.Is(err, autopilot.ErrPoolClosed) {
				return respondError(c, apperr.E(apperr.KindStorage, "api.receiveWebhook", err))
			}
			return c.JSON(http.StatusAccepted, WebhookResponse{Status: webhookQueued})
		}
	}

	results := make([]*models.ProcessingResult, len(routed))
	for range routed {
		select {
		case out := <-done:
			if apperr.KindOf(out.err) == apperr.KindStorage {
				return respondError(c, out.err)
			}
			results[out.idx] = out.res
		case <-waitCtx.Done():
			s.logger.Warn().Str("channel", string(channel)).Int("messages", len(routed)).Msg("webhook answered before pipeline finished")
			return c.JSON(http.StatusAccepted, WebhookResponse{Status: webhookQueued})
		}
	}
	return c.JSON(http.StatusOK, WebhookResponse{Status: webhookProcessed, Results: results})
}

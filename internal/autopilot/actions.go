package autopilot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/pkg/models"
)

// CapabilityFor reports whether settings allow an automatic reply for an intent.
// Intents without a capability flag are never sent automatically.
func CapabilityFor(in models.Intent, s models.AutopilotSettings) (flag string, allowed bool) {
	switch in {
	case models.IntentSimpleInfo:
		return "auto_info_replies", s.AutoInfoReplies
	case models.IntentSpecificQuestion:
		return "auto_simple_questions", s.AutoSimpleQuestions
	case models.IntentScheduling:
		return "auto_scheduling", s.AutoScheduling
	case models.IntentPriceInquiry:
		return "auto_price_replies", s.AutoPriceReplies
	case models.IntentPriceObjection, models.IntentTimeObjection:
		return "auto_objection_handling", s.AutoObjectionHandling
	case models.IntentReadyToBuy:
		return "auto_closing", s.AutoClosing
	default:
		return "", false
	}
}

// followUpIntents get a nudge scheduled regardless of the chosen action
var followUpIntents = map[models.Intent]bool{
	models.IntentTimeObjection: true,
	models.IntentSimpleInfo:    true,
}

func strategyOf(r *run) string {
	switch {
	case r.templateID != "":
		return "template"
	case r.response != "":
		return "generated"
	default:
		return "none"
	}
}

func (e *Engine) execute(ctx context.Context, r *run) {
	if r.action == models.ActionAutoSend {
		e.gateAutoSend(r)
	}
	switch r.action {
	case models.ActionAutoSend:
		e.autoSend(ctx, r)
	case models.ActionSchedule:
		e.scheduleSend(ctx, r)
	case models.ActionDraftReview:
		e.draft(ctx, r)
	case models.ActionHumanNeeded:
		e.notifyHumanNeeded(ctx, r)
	case models.ActionArchive:
		if err := e.store.ArchiveLead(ctx, r.tenantID, r.lead.ID, ArchiveReason); err != nil {
			e.logger.Error().Err(err).Str("reason", apperr.ReasonLeadStatusFailed).Str("lead_id", r.lead.ID).Msg("lead not archived")
		}
	}
}

// gateAutoSend downgrades auto_send when the tenant has not granted the
// capability, runs in observer mode, or is outside its sending window
func (e *Engine) gateAutoSend(r *run) {
	if r.settings.AutonomyLevel == models.AutonomyObserver {
		r.action = models.ActionDraftReview
		r.reasoning += "; observer mode never sends"
		return
	}
	flag, ok := CapabilityFor(r.analysis.Intent, r.settings)
	if !ok {
		r.action = models.ActionDraftReview
		if flag == "" {
			r.reasoning += fmt.Sprintf("; intent %s is never sent automatically", r.analysis.Intent)
		} else {
			r.reasoning += "; capability " + flag + " disabled"
		}
		return
	}
	if w := WindowFor(r.settings); !w.Open(e.now()) {
		r.action = models.ActionSchedule
	}
}

func (e *Engine) autoSend(ctx context.Context, r *run) {
	if e.sender == nil {
		r.action = models.ActionDraftReview
		r.reasoning += "; no channel sender configured"
		e.draft(ctx, r)
		return
	}
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	providerID, err := e.sender.Send(cctx, *r.lead, r.lead.Channel, r.response)
	cancel()
	if err != nil {
		e.logger.Warn().Err(err).Str("reason", apperr.ReasonSendFailed).Str("lead_id", r.lead.ID).Msg("auto send failed, drafting instead")
		r.action = models.ActionDraftReview
		r.reasoning += "; channel send failed"
		e.draft(ctx, r)
		return
	}
	r.result.ResponseSent = true

	_, _, err = e.store.AppendMessage(ctx, &models.Message{
		TenantID:    r.tenantID,
		LeadID:      r.lead.ID,
		Channel:     r.lead.Channel,
		Direction:   models.DirectionOutbound,
		ContentType: "text",
		Text:        r.response,
		ExternalID:  providerID,
		AutoSent:    true,
		Timestamp:   e.now(),
	})
	if err != nil {
		// already delivered, so only the audit copy is missing
		e.logger.Error().Err(err).Str("reason", apperr.ReasonOutboundPersist).Str("lead_id", r.lead.ID).Str("provider_id", providerID).Msg("sent message not persisted")
	}

	if r.analysis.Temperature == models.TemperatureHot && r.settings.NotifyHotLead {
		e.notify(ctx, models.Notification{
			TenantID: r.tenantID,
			Kind:     models.NotifyHotLeadAlert,
			Title:    "Heißer Lead: " + displayName(r.lead),
			Body:     r.inbound.Text,
			Data:     map[string]any{"lead_id": r.lead.ID, "intent": string(r.analysis.Intent), "buying_signals": r.analysis.BuyingSignals},
		})
	}
}

// scheduleSend parks the reply until the next sending window opens
func (e *Engine) scheduleSend(ctx context.Context, r *run) {
	at := WindowFor(r.settings).Next(e.now())
	task := &models.FollowUpTask{
		TenantID:     r.tenantID,
		LeadID:       r.lead.ID,
		Reason:       ReasonScheduledSend,
		Content:      r.response,
		ScheduledFor: at,
		Status:       models.FollowUpPending,
		CreatedAt:    e.now(),
	}
	if err := e.store.ScheduleFollowUp(ctx, task); err != nil {
		e.logger.Warn().Err(err).Str("reason", apperr.ReasonFollowUpFailed).Str("lead_id", r.lead.ID).Msg("could not park reply, drafting instead")
		r.action = models.ActionDraftReview
		e.draft(ctx, r)
		return
	}
	r.result.ScheduledFor = &at
	r.reasoning += "; outside sending window, scheduled for " + at.Format(time.RFC3339)
}

func (e *Engine) draft(ctx context.Context, r *run) {
	now := e.now()
	d := &models.Draft{
		TenantID:       r.tenantID,
		LeadID:         r.lead.ID,
		Source:         models.DraftSourceAutopilot,
		Intent:         r.analysis.Intent,
		Channel:        r.lead.Channel,
		Content:        r.response,
		UserPrompt:     userPrompt(r.lc, r.analysis.Intent, r.score.Score),
		Status:         models.DraftPending,
		Confidence:     float64(r.score.Score) / 100,
		TemplateID:     r.templateID,
		RequiresReview: true,
		CreatedAt:      now,
		ExpiresAt:      now.Add(models.DraftTTL),
	}
	superseded, err := e.store.SaveDraft(ctx, d)
	if err != nil {
		e.logger.Error().Err(err).Str("reason", apperr.ReasonDraftWriteFailed).Str("lead_id", r.lead.ID).Msg("draft not saved")
		r.action = models.ActionHumanNeeded
		r.errCode = apperr.CodeOf(err)
		r.reasoning += "; draft could not be saved"
		e.notifyHumanNeeded(ctx, r)
		return
	}
	r.result.DraftID = d.ID
	if superseded != nil {
		e.publish(eventbus.Event{
			Topic:    eventbus.TopicDraftSuperseded,
			TenantID: r.tenantID,
			LeadID:   r.lead.ID,
			Data:     superseded,
		})
	}
	if r.settings.NotifyHumanNeeded {
		e.notify(ctx, models.Notification{
			TenantID: r.tenantID,
			Kind:     models.NotifyDraftWaiting,
			Title:    "Entwurf wartet auf Freigabe: " + displayName(r.lead),
			Body:     d.UserPrompt,
			Data:     map[string]any{"lead_id": r.lead.ID, "draft_id": d.ID, "confidence": r.score.Score},
		})
	}
}

func (e *Engine) notifyHumanNeeded(ctx context.Context, r *run) {
	e.notify(ctx, models.Notification{
		TenantID: r.tenantID,
		Kind:     models.NotifyHumanNeededAlert,
		Title:    "Bitte übernehmen: " + displayName(r.lead),
		Body:     r.inbound.Text,
		Data: map[string]any{
			"lead_id":    r.lead.ID,
			"intent":     string(r.analysis.Intent),
			"confidence": r.score.Score,
			"reasoning":  r.reasoning,
		},
	})
}

// ReasonScheduledSend marks follow-up tasks that carry a parked reply
const ReasonScheduledSend = "scheduled_send"

func (e *Engine) scheduleFollowUp(ctx context.Context, r *run) {
	if !followUpIntents[r.analysis.Intent] || r.action == models.ActionArchive {
		return
	}
	task := &models.FollowUpTask{
		TenantID:     r.tenantID,
		LeadID:       r.lead.ID,
		Reason:       string(r.analysis.Intent),
		ScheduledFor: e.now().Add(e.opts.FollowUpDelay),
		Status:       models.FollowUpPending,
		CreatedAt:    e.now(),
	}
	if err := e.store.ScheduleFollowUp(ctx, task); err != nil {
		e.logger.Warn().Err(err).Str("reason", apperr.ReasonFollowUpFailed).Str("lead_id", r.lead.ID).Msg("follow-up not scheduled")
	}
}

// updateTemperature writes the detected temperature back to the lead. The lead is
// re-read so counters bumped by this run's message writes are kept.
func (e *Engine) updateTemperature(ctx context.Context, r *run) {
	if r.action == models.ActionArchive || r.analysis.Temperature == "" {
		return
	}
	lead, err := e.store.GetLead(ctx, r.tenantID, r.lead.ID)
	if err != nil {
		e.logger.Warn().Err(err).Str("reason", apperr.ReasonLeadStatusFailed).Str("lead_id", r.lead.ID).Msg("temperature not updated")
		return
	}
	if lead.Temperature == r.analysis.Temperature {
		return
	}
	lead.Temperature = r.analysis.Temperature
	if r.analysis.Temperature == models.TemperatureHot && lead.Status != models.LeadStatusWon {
		lead.Status = models.LeadStatusHot
	}
	if err := e.store.UpdateLead(ctx, lead); err != nil {
		e.logger.Warn().Err(err).Str("reason", apperr.ReasonLeadStatusFailed).Str("lead_id", r.lead.ID).Msg("temperature not updated")
	}
}

func displayName(l *models.Lead) string {
	if n := strings.TrimSpace(l.Name); n != "" {
		return n
	}
	return l.ExternalID
}

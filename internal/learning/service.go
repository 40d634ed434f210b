// Package learning records learning events and rolls them up into aggregates and
// template performance.
package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/logging"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

// Store is the storage surface the learning service needs
type Store interface {
	storage.EventStore
	storage.AggregateStore
	storage.ActionStore
	GetLead(ctx context.Context, tenantID int64, leadID string) (*models.Lead, error)
}

// significantEditDistance is the simhash distance above which a human edit counts
// as a rewrite rather than a touch-up
const significantEditDistance = 12

var eventTypes = map[models.LearningEventType]bool{
	models.EventDecisionMade:      true,
	models.EventDraftApproved:     true,
	models.EventDraftEdited:       true,
	models.EventDraftRejected:     true,
	models.EventDraftSuperseded:   true,
	models.EventTemplateUsed:      true,
	models.EventResponseReceived:  true,
	models.EventOutcome:           true,
	models.EventTimeoutFallback:   true,
	models.EventReactivationDraft: true,
	models.EventReactivationSent:  true,
}

var contextTypes = map[models.ContextType]bool{
	models.ContextInbound:      true,
	models.ContextFollowUp:     true,
	models.ContextGhost:        true,
	models.ContextReactivation: true,
	models.ContextManual:       true,
}

// ValidEventType reports whether t is a known learning event type
func ValidEventType(t models.LearningEventType) bool { return eventTypes[t] }

type Service struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now, logger: logging.For("learning")}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Record validates, anonymizes and persists e. Lead status and temperature are
// filled from the lead when the producer left them empty.
func (s *Service) Record(ctx context.Context, e *models.LearningEvent) error {
	const op = "learning.Record"
	if e == nil {
		return apperr.Invalid(op, "event is required")
	}
	if e.TenantID <= 0 {
		return apperr.Invalid(op, "tenant_id is required")
	}
	if !ValidEventType(e.EventType) {
		return apperr.Invalid(op, "unknown event_type %q", e.EventType)
	}
	if e.ContextType == "" {
		e.ContextType = models.ContextManual
	}
	if !contextTypes[e.ContextType] {
		return apperr.Invalid(op, "unknown context_type %q", e.ContextType)
	}
	if e.AIDecision.Confidence < 0 || e.AIDecision.Confidence > 1 {
		return apperr.Invalid(op, "ai_decision.confidence must be within [0,1]")
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.AIDecision.MessageText = Anonymize(e.AIDecision.MessageText)
	e.AIDecision.WordCount = wordCount(e.AIDecision.MessageText)
	if e.UserAction != nil {
		ua := *e.UserAction
		ua.EditedText = Anonymize(ua.EditedText)
		ua.ReviewerNotes = Anonymize(ua.ReviewerNotes)
		e.UserAction = &ua
	}
	if e.TemplateCategory == "" && e.AIDecision.Intent != "" {
		e.TemplateCategory = string(e.AIDecision.Intent)
	}
	s.resolveLead(ctx, e)

	if err := s.store.AppendEvent(ctx, e); err != nil {
		return fmt.Errorf("record %s event: %w", e.EventType, err)
	}
	return nil
}

func (s *Service) resolveLead(ctx context.Context, e *models.LearningEvent) {
	if e.LeadID == "" || (e.LeadStatus != "" && e.LeadTemperature != "") {
		return
	}
	lead, err := s.store.GetLead(ctx, e.TenantID, e.LeadID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn().Err(err).Str("reason", apperr.ReasonLeadContextFailed).Str("lead_id", e.LeadID).Msg("lead status not resolved for learning event")
		}
		return
	}
	if e.LeadStatus == "" {
		e.LeadStatus = lead.Status
	}
	if e.LeadTemperature == "" {
		e.LeadTemperature = lead.Temperature
	}
	if e.Channel == "" {
		e.Channel = lead.Channel
	}
	if e.Vertical == "" {
		e.Vertical = lead.Industry
	}
}

// AttachOutcome binds a late outcome to an event. A second attach is a conflict.
func (s *Service) AttachOutcome(ctx context.Context, tenantID int64, eventID string, o models.Outcome) error {
	const op = "learning.AttachOutcome"
	if eventID == "" {
		return apperr.Invalid(op, "event id is required")
	}
	if o.ResponseTimeHours < 0 || o.DealValue < 0 {
		return apperr.Invalid(op, "response time and deal value must not be negative")
	}
	if o.Positive && o.Negative {
		return apperr.Invalid(op, "outcome cannot be positive and negative")
	}
	return s.store.AttachOutcome(ctx, tenantID, eventID, o)
}

// TemplateUse describes one use of a template for TrackTemplateUsed
type TemplateUse struct {
	LeadID     string         `json:"lead_id"`
	TemplateID string         `json:"template_id"`
	Category   string         `json:"category,omitempty"`
	Channel    models.Channel `json:"channel,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Text       string         `json:"text,omitempty"`
}

// TrackTemplateUsed records a template_used event and returns its id
func (s *Service) TrackTemplateUsed(ctx context.Context, tenantID int64, u TemplateUse) (string, error) {
	if u.TemplateID == "" {
		return "", apperr.Invalid("learning.TrackTemplateUsed", "template_id is required")
	}
	e := &models.LearningEvent{
		TenantID:         tenantID,
		UserID:           u.UserID,
		EventType:        models.EventTemplateUsed,
		ContextType:      models.ContextManual,
		LeadID:           u.LeadID,
		TemplateID:       u.TemplateID,
		TemplateCategory: u.Category,
		Channel:          u.Channel,
		AIDecision:       models.AIDecision{MessageText: u.Text},
	}
	if err := s.Record(ctx, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

// Response describes a reply from a lead for TrackResponse
type Response struct {
	LeadID            string         `json:"lead_id"`
	TemplateID        string         `json:"template_id,omitempty"`
	Channel           models.Channel `json:"channel,omitempty"`
	ResponseTimeHours float64        `json:"response_time_hours"`
	Positive          bool           `json:"positive"`
}

// TrackResponse records a response_received event carrying its outcome
func (s *Service) TrackResponse(ctx context.Context, tenantID int64, r Response) (string, error) {
	const op = "learning.TrackResponse"
	if r.LeadID == "" {
		return "", apperr.Invalid(op, "lead_id is required")
	}
	if r.ResponseTimeHours < 0 {
		return "", apperr.Invalid(op, "response_time_hours must not be negative")
	}
	e := &models.LearningEvent{
		TenantID:    tenantID,
		EventType:   models.EventResponseReceived,
		ContextType: models.ContextManual,
		LeadID:      r.LeadID,
		TemplateID:  r.TemplateID,
		Channel:     r.Channel,
		Outcome: &models.Outcome{
			GotResponse:       true,
			ResponseTimeHours: r.ResponseTimeHours,
			Positive:          r.Positive,
		},
	}
	if err := s.Record(ctx, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

// TrackOutcome attaches o to eventID when given, otherwise records a standalone
// outcome event for the lead
func (s *Service) TrackOutcome(ctx context.Context, tenantID int64, eventID, leadID, templateID string, o models.Outcome) (string, error) {
	if eventID != "" {
		return eventID, s.AttachOutcome(ctx, tenantID, eventID, o)
	}
	if leadID == "" {
		return "", apperr.Invalid("learning.TrackOutcome", "event_id or lead_id is required")
	}
	oc := o
	e := &models.LearningEvent{
		TenantID:      tenantID,
		EventType:     models.EventOutcome,
		ContextType:   models.ContextManual,
		LeadID:        leadID,
		TemplateID:    templateID,
		Outcome:       &oc,
		IsSignificant: o.DealClosed || o.Converted,
	}
	if err := s.Record(ctx, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

func contextFor(src models.DraftSource) models.ContextType {
	switch src {
	case models.DraftSourceOrchestrator:
		return models.ContextFollowUp
	case models.DraftSourceReactivation:
		return models.ContextReactivation
	}
	return models.ContextInbound
}

// ReviewEvent turns a reviewed or superseded draft into its learning event.
// Approval, edit (correction) and rejection carry the reviewer's user action.
func ReviewEvent(d models.Draft, userID string) (*models.LearningEvent, error) {
	var t models.LearningEventType
	var ua *models.UserAction
	signals := map[string]any{"draft_id": d.ID, "source": string(d.Source)}
	switch d.Status {
	case models.DraftApproved:
		t = models.EventDraftApproved
		ua = &models.UserAction{Kind: "approve", ReviewerNotes: d.ReviewerNotes}
	case models.DraftEdited:
		t = models.EventDraftEdited
		ua = &models.UserAction{Kind: "edit", EditedText: d.EditedContent, ReviewerNotes: d.ReviewerNotes}
		signals["edit_distance"] = EditDistance(d.Content, d.EditedContent)
	case models.DraftRejected:
		t = models.EventDraftRejected
		ua = &models.UserAction{Kind: "reject", ReviewerNotes: d.ReviewerNotes}
	case models.DraftSuperseded:
		t = models.EventDraftSuperseded
	default:
		return nil, apperr.Invalid("learning.ReviewEvent", "draft %s has status %s", d.ID, d.Status)
	}
	if d.RunID != "" {
		signals["run_id"] = d.RunID
	}
	e := &models.LearningEvent{
		TenantID:         d.TenantID,
		UserID:           userID,
		EventType:        t,
		ContextType:      contextFor(d.Source),
		LeadID:           d.LeadID,
		TemplateID:       d.TemplateID,
		TemplateCategory: string(d.Intent),
		Channel:          d.Channel,
		AIDecision: models.AIDecision{
			Intent:      d.Intent,
			Action:      models.ActionDraftReview,
			Confidence:  clamp01(d.Confidence),
			MessageText: d.Content,
		},
		UserAction:      ua,
		LearningSignals: signals,
	}
	switch t {
	case models.EventDraftRejected:
		e.IsSignificant = true
	case models.EventDraftEdited:
		e.IsSignificant = EditDistance(d.Content, d.EditedContent) > significantEditDistance
	}
	if d.ReviewedAt != nil {
		e.CreatedAt = *d.ReviewedAt
	}
	return e, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

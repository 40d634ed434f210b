// Package orchestrator runs the scheduled side of the autopilot: follow-up
// fan-out, ghost detection, draft expiry, briefings and batch reactivation.
// Every job works on one tenant and evaluates times in the tenant's timezone.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/channels"
	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/internal/notify"
	"github.com/leadpilot/internal/reactivation"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

// Reactivator starts reactivation runs for dormant leads
type Reactivator interface {
	ReactivateDormant(ctx context.Context, tenantID int64, minDays, maxLeads int) ([]reactivation.BatchResult, error)
}

// Options tunes the scheduled jobs
type Options struct {
	CallTimeout          time.Duration
	GhostAfterDays       int
	GhostHardDays        int
	GhostArchiveDays     int
	DormantAfterDays     int
	ReactivationMaxLeads int
}

func DefaultOptions() Options {
	return Options{
		CallTimeout:          30 * time.Second,
		GhostAfterDays:       5,
		GhostHardDays:        10,
		GhostArchiveDays:     30,
		DormantAfterDays:     30,
		ReactivationMaxLeads: 10,
	}
}

// Deps are the collaborators of the orchestrator. Only Store is required.
type Deps struct {
	Store       storage.Gateway
	Sender      channels.Sender
	Notifier    notify.Notifier
	Bus         eventbus.Publisher
	Reactivator Reactivator
}

type Orchestrator struct {
	store       storage.Gateway
	sender      channels.Sender
	notifier    notify.Notifier
	bus         eventbus.Publisher
	reactivator Reactivator
	opts        Options
	now         func() time.Time
	logger      zerolog.Logger
}

func New(d Deps, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.GhostAfterDays <= 0 {
		opts.GhostAfterDays = def.GhostAfterDays
	}
	if opts.GhostHardDays <= opts.GhostAfterDays {
		opts.GhostHardDays = def.GhostHardDays
	}
	if opts.GhostArchiveDays <= opts.GhostHardDays {
		opts.GhostArchiveDays = def.GhostArchiveDays
	}
	if opts.DormantAfterDays <= 0 {
		opts.DormantAfterDays = def.DormantAfterDays
	}
	if opts.ReactivationMaxLeads <= 0 {
		opts.ReactivationMaxLeads = def.ReactivationMaxLeads
	}
	o := &Orchestrator{
		store:       d.Store,
		sender:      d.Sender,
		notifier:    d.Notifier,
		bus:         d.Bus,
		reactivator: d.Reactivator,
		opts:        opts,
		now:         time.Now,
		logger:      log.With().Str("component", "orchestrator").Logger(),
	}
	if o.notifier == nil {
		o.notifier = notify.LogNotifier{}
	}
	if o.bus == nil {
		o.bus = eventbus.Discard{}
	}
	return o
}

// SetClock replaces the orchestrator's time source
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// send delivers content and keeps the outbound copy. The returned error is the
// channel error; persisting the copy is best effort.
func (o *Orchestrator) send(ctx context.Context, lead models.Lead, content string) error {
	cctx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	providerID, err := o.sender.Send(cctx, lead, lead.Channel, content)
	cancel()
	if err != nil {
		return err
	}
	_, _, err = o.store.AppendMessage(ctx, &models.Message{
		TenantID:    lead.TenantID,
		LeadID:      lead.ID,
		Channel:     lead.Channel,
		Direction:   models.DirectionOutbound,
		ContentType: "text",
		Text:        content,
		ExternalID:  providerID,
		AutoSent:    true,
		Timestamp:   o.now(),
	})
	if err != nil {
		o.logger.Error().Err(err).Str("reason", apperr.ReasonOutboundPersist).Str("lead_id", lead.ID).Str("provider_id", providerID).Msg("sent message not persisted")
	}
	return nil
}

// saveDraft stores a pending orchestrator draft, publishing any draft it displaced
func (o *Orchestrator) saveDraft(ctx context.Context, lead models.Lead, content, templateID, prompt string) (*models.Draft, error) {
	now := o.now()
	d := &models.Draft{
		TenantID:       lead.TenantID,
		LeadID:         lead.ID,
		Source:         models.DraftSourceOrchestrator,
		Channel:        lead.Channel,
		Content:        content,
		UserPrompt:     prompt,
		Status:         models.DraftPending,
		TemplateID:     templateID,
		RequiresReview: true,
		CreatedAt:      now,
		ExpiresAt:      now.Add(models.DraftTTL),
	}
	superseded, err := o.store.SaveDraft(ctx, d)
	if err != nil {
		return nil, err
	}
	if superseded != nil {
		o.publish(eventbus.Event{Topic: eventbus.TopicDraftSuperseded, TenantID: lead.TenantID, LeadID: lead.ID, Data: superseded})
	}
	return d, nil
}

func (o *Orchestrator) recordDecision(lead models.Lead, ctxType models.ContextType, action models.Action, templateID, text string, signals map[string]any) {
	o.publish(eventbus.Event{
		Topic:    eventbus.TopicLearningEvent,
		TenantID: lead.TenantID,
		LeadID:   lead.ID,
		Data: models.LearningEvent{
			ID:              uuid.NewString(),
			TenantID:        lead.TenantID,
			EventType:       models.EventDecisionMade,
			ContextType:     ctxType,
			LeadID:          lead.ID,
			TemplateID:      templateID,
			Channel:         lead.Channel,
			Vertical:        lead.Industry,
			LeadStatus:      lead.Status,
			LeadTemperature: lead.Temperature,
			AIDecision: models.AIDecision{
				Action:      action,
				Confidence:  1,
				MessageText: text,
				WordCount:   len(strings.Fields(text)),
				Strategy:    string(ctxType),
			},
			LearningSignals: signals,
			CreatedAt:       o.now(),
		},
	})
}

func (o *Orchestrator) publish(ev eventbus.Event) {
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	if !o.bus.Publish(ev) {
		o.logger.Warn().Str("reason", apperr.ReasonEventPublishFailed).Str("topic", ev.Topic).Msg("event not delivered to every subscriber")
	}
}

func (o *Orchestrator) notify(ctx context.Context, n models.Notification) {
	cctx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()
	if err := o.notifier.Notify(cctx, n); err != nil {
		o.logger.Warn().Err(err).Str("reason", apperr.ReasonNotifyFailed).Str("kind", string(n.Kind)).Msg("notification not delivered")
	}
}

func displayName(lead models.Lead) string {
	if name := strings.TrimSpace(lead.Name); name != "" {
		return name
	}
	return "Lead " + lead.ID
}

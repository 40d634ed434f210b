// Package autopilot runs the per-message decision pipeline: resolve the lead,
// persist the inbound message, detect intent, produce a candidate reply, score it
// and execute the chosen action.
package autopilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/channels"
	"github.com/leadpilot/internal/confidence"
	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/internal/intent"
	"github.com/leadpilot/internal/knowledge"
	"github.com/leadpilot/internal/llm"
	"github.com/leadpilot/internal/notify"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

// templateSimilarity is the knowledge strength credited to a standard template
// when no stronger knowledge hit backs the reply
const templateSimilarity = 0.6

// ArchiveReason is recorded on leads archived by the engine
const ArchiveReason = "autopilot_spam"

// Options tunes the engine
type Options struct {
	CallTimeout     time.Duration
	PipelineTimeout time.Duration
	HistoryLimit    int
	FollowUpDelay   time.Duration
	KnowledgeK      int
	MaxTokens       int
}

func DefaultOptions() Options {
	return Options{
		CallTimeout:     30 * time.Second,
		PipelineTimeout: 90 * time.Second,
		HistoryLimit:    20,
		FollowUpDelay:   48 * time.Hour,
		KnowledgeK:      3,
		MaxTokens:       500,
	}
}

// Deps are the collaborators of the engine. Only Store is required.
type Deps struct {
	Store     storage.Gateway
	Detector  *intent.Detector
	Generator llm.Generator
	// Guard screens the lead's text before it reaches the generator
	Guard     llm.Guard
	Knowledge knowledge.Searcher
	Sender    channels.Sender
	Notifier  notify.Notifier
	Bus       eventbus.Publisher
	Locker    LeadLocker
}

// Engine is re-entrant; per-lead ordering comes from the locker
type Engine struct {
	store     storage.Gateway
	detector  *intent.Detector
	generator llm.Generator
	guard     llm.Guard
	knowledge knowledge.Searcher
	sender    channels.Sender
	notifier  notify.Notifier
	bus       eventbus.Publisher
	locker    LeadLocker
	opts      Options
	now       func() time.Time
	logger    zerolog.Logger
}

func NewEngine(d Deps, opts Options) *Engine {
	def := DefaultOptions()
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.PipelineTimeout <= 0 {
		opts.PipelineTimeout = def.PipelineTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = def.HistoryLimit
	}
	if opts.FollowUpDelay <= 0 {
		opts.FollowUpDelay = def.FollowUpDelay
	}
	if opts.KnowledgeK <= 0 {
		opts.KnowledgeK = def.KnowledgeK
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	e := &Engine{
		store:     d.Store,
		detector:  d.Detector,
		generator: d.Generator,
		guard:     d.Guard,
		knowledge: d.Knowledge,
		sender:    d.Sender,
		notifier:  d.Notifier,
		bus:       d.Bus,
		locker:    d.Locker,
		opts:      opts,
		now:       time.Now,
		logger:    log.With().Str("component", "autopilot").Logger(),
	}
	if e.detector == nil {
		e.detector = intent.New(nil)
	}
	if e.notifier == nil {
		e.notifier = notify.LogNotifier{}
	}
	if e.bus == nil {
		e.bus = eventbus.Discard{}
	}
	if e.locker == nil {
		e.locker = NewLocalLocks()
	}
	return e
}

// SetClock replaces the engine's time source
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// run carries the state of one pipeline invocation
type run struct {
	tenantID   int64
	sender     string
	settings   models.AutopilotSettings
	override   *models.LeadOverride
	lead       *models.Lead
	inbound    *models.Message
	priorCount int

	lc         models.LeadContext
	analysis   intent.IntentAnalysis
	response   string
	templateID string
	score      confidence.Result
	forced     models.Action
	action     models.Action
	reasoning  string
	errCode    string

	result *models.ProcessingResult
}

// force pins the action regardless of the score. The first forced reason wins.
func (r *run) force(a models.Action, code, reason string) {
	if r.forced != "" {
		return
	}
	r.forced = a
	r.errCode = code
	r.reasoning = reason
}

// ProcessInbound runs the pipeline for one canonical inbound message. Storage
// failures up to and including the inbound write are returned; everything after
// that degrades to human_needed with the inbound kept.
func (e *Engine) ProcessInbound(ctx context.Context, tenantID int64, in models.InboundMessage) (*models.ProcessingResult, error) {
	started := time.Now()
	pctx, cancel := context.WithTimeout(ctx, e.opts.PipelineTimeout)
	defer cancel()

	settings, err := e.store.LoadSettings(pctx, tenantID)
	if err != nil {
		return nil, err
	}
	lead, _, err := e.store.FindOrCreateLead(pctx, tenantID, in.Channel, in.LeadExternalID, in.LeadName)
	if err != nil {
		return nil, err
	}

	release, err := e.locker.Lock(pctx, lead.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	// reload under the lock so counters reflect earlier runs for this lead
	if lead, err = e.store.GetLead(pctx, tenantID, lead.ID); err != nil {
		return nil, err
	}
	override, err := e.store.LoadOverride(pctx, tenantID, lead.ID)
	if err != nil {
		return nil, err
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "text"
	}
	stored, dup, err := e.store.AppendMessage(pctx, &models.Message{
		TenantID:    tenantID,
		LeadID:      lead.ID,
		Channel:     in.Channel,
		Direction:   models.DirectionInbound,
		ContentType: contentType,
		Text:        in.Text,
		MediaURL:    in.MediaURL,
		ExternalID:  in.ExternalID,
		RawPayload:  in.RawPayload,
		Timestamp:   ts,
	})
	if err != nil {
		return nil, err
	}

	r := &run{
		tenantID:   tenantID,
		settings:   settings,
		override:   override,
		lead:       lead,
		inbound:    stored,
		priorCount: lead.InteractionCount,
		result:     &models.ProcessingResult{LeadID: lead.ID, MessageID: stored.ID},
	}
	if dup {
		r.result.Duplicate = true
		r.result.ProcessingTime = time.Since(started)
		e.logger.Debug().Str("lead_id", lead.ID).Str("external_id", in.ExternalID).Msg("duplicate inbound ignored")
		return r.result, nil
	}
	r.sender = e.senderName(pctx, tenantID)

	e.analyze(pctx, r)

	if err := ctx.Err(); err != nil {
		e.cancelled(ctx, r)
		r.result.ProcessingTime = time.Since(started)
		return r.result, apperr.E(apperr.KindTimeout, "autopilot.process", err)
	}
	if errors.Is(pctx.Err(), context.DeadlineExceeded) {
		e.timeoutFallback(ctx, r)
	} else {
		e.execute(pctx, r)
		e.scheduleFollowUp(pctx, r)
		e.updateTemperature(pctx, r)
	}

	e.finish(ctx, r)
	r.result.ProcessingTime = time.Since(started)
	e.logger.Info().
		Int64("tenant_id", tenantID).
		Str("lead_id", lead.ID).
		Str("intent", string(r.analysis.Intent)).
		Str("action", string(r.action)).
		Int("confidence", r.score.Score).
		Dur("duration", r.result.ProcessingTime).
		Msg("inbound processed")
	return r.result, nil
}

func (e *Engine) senderName(ctx context.Context, tenantID int64) string {
	t, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		e.logger.Warn().Err(err).Str("reason", apperr.ReasonTenantLookupFailed).Int64("tenant_id", tenantID).Msg("signing replies without sender name")
		return ""
	}
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.Name
}

// analyze covers context, detection, response, knowledge and scoring
func (e *Engine) analyze(ctx context.Context, r *run) {
	lc, err := e.store.LoadLeadContext(ctx, r.tenantID, r.lead.ID, e.opts.HistoryLimit)
	if err != nil {
		e.logger.Warn().Err(err).Str("reason", apperr.ReasonLeadContextFailed).Str("lead_id", r.lead.ID).Msg("continuing with default lead context")
		fallback := models.DefaultLeadContext()
		fallback.LeadID, fallback.TenantID, fallback.Name = r.lead.ID, r.tenantID, r.lead.Name
		lc = &fallback
		r.force(models.ActionHumanNeeded, apperr.CodeOf(err), "lead context unavailable")
	}
	r.lc = *lc
	r.lc.InteractionCount = r.priorCount
	if r.override != nil && r.override.IsVIP {
		r.lc.IsVIP = true
	}
	history := make([]models.Message, 0, len(r.lc.RecentMessages))
	for _, m := range r.lc.RecentMessages {
		if m.ID != r.inbound.ID {
			history = append(history, m)
		}
	}
	r.lc.RecentMessages = history

	r.analysis = e.detector.Analyze(r.inbound.Text, history, r.lc)

	archived := isArchiveIntent(r.analysis.Intent)
	if !archived {
		if t, ok := TemplateFor(r.analysis.Intent, r.lc.PreferredFormality); ok {
			r.response = t.Render(r.lc, r.sender)
			r.templateID = t.ID
		} else {
			text, err := e.generate(ctx, r)
			if err != nil {
				e.logger.Warn().Err(err).Str("reason", apperr.ReasonGenerationFailed).Str("lead_id", r.lead.ID).Msg("no candidate response")
				r.force(models.ActionHumanNeeded, apperr.CodeOf(err), "response generation failed")
			} else {
				r.response = text
			}
		}
	}

	var km *confidence.KnowledgeMatch
	if r.response != "" {
		km = e.lookupKnowledge(ctx, r)
	}
	if r.templateID != "" && (km == nil || km.Similarity < templateSimilarity) {
		km = &confidence.KnowledgeMatch{Similarity: templateSimilarity, Source: "template:" + r.templateID}
	}

	r.score = confidence.Calculate(r.analysis, r.response, r.lc, km, r.settings, r.override)
	r.action = r.score.Action
	if r.reasoning == "" {
		r.reasoning = r.score.Reasoning
	}
	switch {
	case archived:
		r.action = models.ActionArchive
		r.reasoning = "intent " + string(r.analysis.Intent) + " is archived without reply"
	case r.forced != "":
		r.action = r.forced
	case r.response == "":
		r.action = models.ActionHumanNeeded
	}
}

func isArchiveIntent(in models.Intent) bool {
	return in == models.IntentSpam || in == models.IntentIrrelevant
}

func (e *Engine) generate(ctx context.Context, r *run) (string, error) {
	if e.generator == nil {
		return "", apperr.External("autopilot.generate", errors.New("no generator configured"))
	}
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	if e.guard != nil {
		if flagged, risk := e.guard.Screen(cctx, r.inbound.Text); flagged {
			return "", apperr.E(apperr.KindCompliance, "autopilot.generate", fmt.Errorf("inbound text flagged as prompt injection (risk %.2f)", risk))
		}
	}
	system, user := buildPrompts(r.lc, r.analysis, r.inbound.Text, r.sender)
	text, err := e.generator.Generate(cctx, system, user, e.opts.MaxTokens)
	if err != nil {
		return "", err
	}
	text = sanitizeGenerated(text, r.sender)
	if text == "" {
		return "", apperr.External("autopilot.generate", errors.New("empty generation"))
	}
	return text, nil
}

func (e *Engine) lookupKnowledge(ctx context.Context, r *run) *confidence.KnowledgeMatch {
	if e.knowledge == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	hits, err := e.knowledge.Search(cctx, r.tenantID, r.inbound.Text, e.opts.KnowledgeK)
	if err != nil {
		e.logger.Warn().Err(err).Str("reason", apperr.ReasonKnowledgeFailed).Str("lead_id", r.lead.ID).Msg("scoring without knowledge match")
		return nil
	}
	if len(hits) == 0 {
		return nil
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h.Similarity > best.Similarity {
			best = h
		}
	}
	return &confidence.KnowledgeMatch{Similarity: best.Similarity, Content: best.Content, Source: best.Source}
}

// detached returns a bounded context that survives cancellation of ctx, used for
// the bookkeeping writes that must land even when the pipeline was interrupted
func (e *Engine) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.opts.CallTimeout)
}

func (e *Engine) timeoutFallback(ctx context.Context, r *run) {
	r.action = models.ActionHumanNeeded
	r.errCode = apperr.ErrTimeout.Code
	r.reasoning = "pipeline deadline exceeded"
	e.logger.Warn().Str("lead_id", r.lead.ID).Dur("budget", e.opts.PipelineTimeout).Msg("pipeline timed out, handing over to a human")

	dctx, cancel := e.detached(ctx)
	defer cancel()
	ev := e.learningEvent(r, models.EventTimeoutFallback)
	e.publish(eventbus.Event{Topic: eventbus.TopicTimeoutFallback, TenantID: r.tenantID, LeadID: r.lead.ID, Data: ev})
	e.notifyHumanNeeded(dctx, r)
}

// cancelled records the interruption; the inbound row stays, nothing is sent or drafted
func (e *Engine) cancelled(ctx context.Context, r *run) {
	r.action = models.ActionCancelled
	r.errCode = apperr.ErrTimeout.Code
	r.reasoning = "pipeline cancelled"
	r.result.Action = models.ActionCancelled
	r.result.Intent = r.analysis.Intent
	r.result.ErrorCode = r.errCode

	dctx, cancel := e.detached(ctx)
	defer cancel()
	e.appendAction(dctx, r)
}

func (e *Engine) finish(ctx context.Context, r *run) {
	res := r.result
	res.Intent = r.analysis.Intent
	res.Action = r.action
	res.Confidence = r.score.Score
	res.Reasoning = r.reasoning
	res.ErrorCode = r.errCode
	res.Recommendations = r.score.Recommendations
	if r.action != models.ActionArchive {
		res.Response = r.response
	}
	if b, err := json.Marshal(r.score.Breakdown); err == nil {
		res.Breakdown = b
	}

	dctx, cancel := e.detached(ctx)
	defer cancel()
	e.appendAction(dctx, r)
	e.publish(eventbus.Event{
		Topic:    eventbus.TopicDecisionMade,
		TenantID: r.tenantID,
		LeadID:   r.lead.ID,
		Data:     e.learningEvent(r, models.EventDecisionMade),
	})
	if r.settings.NotifyEveryAction && r.action != models.ActionHumanNeeded {
		e.notify(dctx, models.Notification{
			TenantID: r.tenantID,
			Kind:     models.NotifyActionTaken,
			Title:    "Autopilot: " + string(r.action),
			Body:     r.reasoning,
			Data:     map[string]any{"lead_id": r.lead.ID, "intent": string(r.analysis.Intent), "confidence": r.score.Score},
		})
	}
}

func (e *Engine) appendAction(ctx context.Context, r *run) {
	err := e.store.AppendAction(ctx, &models.ActionLog{
		TenantID:     r.tenantID,
		LeadID:       r.lead.ID,
		MessageID:    r.inbound.ID,
		Action:       r.action,
		Intent:       r.analysis.Intent,
		Confidence:   r.score.Score,
		ResponseSent: r.result.ResponseSent,
		Reasoning:    r.reasoning,
		CreatedAt:    e.now(),
	})
	if err != nil {
		e.logger.Error().Err(err).Str("reason", apperr.ReasonActionLogFailed).Str("lead_id", r.lead.ID).Msg("action log not written")
	}
}

func (e *Engine) learningEvent(r *run, t models.LearningEventType) models.LearningEvent {
	return models.LearningEvent{
		ID:               uuid.NewString(),
		TenantID:         r.tenantID,
		EventType:        t,
		ContextType:      models.ContextInbound,
		LeadID:           r.lead.ID,
		TemplateID:       r.templateID,
		TemplateCategory: string(r.analysis.Intent),
		Channel:          r.lead.Channel,
		LeadStatus:       r.lead.Status,
		LeadTemperature:  r.analysis.Temperature,
		AIDecision: models.AIDecision{
			Intent:      r.analysis.Intent,
			Action:      r.action,
			Confidence:  float64(r.score.Score) / 100,
			MessageText: r.response,
			WordCount:   len(strings.Fields(r.response)),
			Strategy:    strategyOf(r),
		},
		LearningSignals: map[string]any{
			"intent_confidence": r.analysis.Confidence,
			"sentiment":         string(r.analysis.Sentiment),
			"urgency":           string(r.analysis.Urgency),
			"knowledge_level":   string(r.score.Breakdown.KnowledgeLevel),
			"buying_signals":    r.analysis.BuyingSignals,
			"response_sent":     r.result.ResponseSent,
		},
		IsSignificant: r.action == models.ActionAutoSend || r.analysis.Temperature == models.TemperatureHot,
		CreatedAt:     e.now(),
	}
}

func (e *Engine) publish(ev eventbus.Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	if !e.bus.Publish(ev) {
		e.logger.Warn().Str("reason", apperr.ReasonEventPublishFailed).Str("topic", ev.Topic).Msg("event not delivered to every subscriber")
	}
}

func (e *Engine) notify(ctx context.Context, n models.Notification) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn().Err(err).Str("reason", apperr.ReasonNotifyFailed).Str("kind", string(n.Kind)).Msg("notification not delivered")
	}
}

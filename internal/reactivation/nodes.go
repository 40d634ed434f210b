package reactivation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/compliance"
	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/internal/llm"
	"github.com/leadpilot/internal/signals"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

// Node names double as checkpoint keys
const (
	NodePerception = "perception"
	NodeMemory     = "memory_retrieval"
	NodeSignals    = "signal_detection"
	NodeReasoning  = "reasoning"
	NodeGeneration = "message_generation"
	NodeCompliance = "compliance_check"
	NodeHandoff    = "human_handoff"
	NodeAutoSend   = "auto_send"
	End            = ""
)

const (
	minReactivateConfidence = 0.5
	memoryPlaceholder       = "Keine früheren Gespräche verfügbar."
	fewShotExamples         = 3
)

type nodeFunc func(ctx context.Context, s State) (State, error)

func (a *Agent) perception(ctx context.Context, s State) (State, error) {
	lead, err := a.store.GetLead(ctx, s.TenantID, s.LeadID)
	if err != nil {
		return State{}, err
	}
	settings, err := a.store.LoadSettings(ctx, s.TenantID)
	if err != nil {
		return State{}, err
	}
	recent, err := a.store.ListMessages(ctx, s.TenantID, storage.MessageFilter{LeadID: lead.ID, Limit: 1})
	if err != nil {
		return State{}, err
	}

	persona := lead.PersonaType
	if persona == "" {
		persona = models.PersonaUnknown
	}
	formality := lead.PreferredFormality
	if formality == "" {
		formality = DeriveFormality(persona, lead.Industry)
	}
	channel := lead.PreferredChannel
	if channel == "" {
		channel = lead.Channel
	}
	if channel != models.ChannelEmail && channel != models.ChannelLinkedIn {
		channel = models.ChannelLinkedIn
	}

	days := int(a.now().Sub(lead.LastInteractionAt()).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return State{LeadContext: &Perception{
		Name:                   lead.Name,
		Company:                lead.Company,
		Industry:               lead.Industry,
		Position:               lead.Position,
		Email:                  lead.Email,
		LastInteractionSummary: summarizeLast(recent),
		InteractionCount:       lead.InteractionCount,
		DaysDormant:            days,
		PersonaType:            persona,
		PreferredFormality:     formality,
		PreferredChannel:       channel,
		DealValue:              lead.EstimatedValue,
		HasLinkedInConnection:  lead.HasLinkedInConnection,
		HasEmailConsent:        lead.HasEmailConsent,
		PainPoints:             lead.PainPoints,
		Objections:             lead.Objections,
		AutonomyLevel:          settings.AutonomyLevel,
	}}, nil
}

func summarizeLast(msgs []models.Message) string {
	if len(msgs) == 0 {
		return "Keine bisherigen Nachrichten."
	}
	m := msgs[0]
	dir := "eingehend"
	if m.Direction == models.DirectionOutbound {
		dir = "ausgehend"
	}
	return fmt.Sprintf("%s (%s, %s): %s", m.Channel, dir, m.Timestamp.Format("02.01.2006"), truncate(m.Text, 160))
}

func (a *Agent) memory(ctx context.Context, s State) (State, error) {
	if a.mem == nil {
		return State{RetrievedInteractions: []Interaction{}, MemorySummary: memoryPlaceholder}, nil
	}
	p := s.perception()
	terms := append(append([]string{}, p.PainPoints...), p.Objections...)
	if p.Company != "" {
		terms = append(terms, p.Company)
	}
	query := strings.Join(terms, " ")

	if ix, ok := a.mem.(messageIndexer); ok {
		msgs, err := a.store.ListMessages(ctx, s.TenantID, storage.MessageFilter{LeadID: s.LeadID, Limit: 200})
		if err == nil {
			err = ix.IndexMessages(ctx, s.TenantID, msgs)
		}
		if err != nil {
			a.logger.Warn().Err(err).Str("reason", apperr.ReasonMemoryFailed).Str("run_id", s.RunID).Msg("indexing lead history failed")
		}
	}

	matches, err := a.mem.SearchLead(ctx, s.TenantID, s.LeadID, query, a.opts.MemoryTopK, a.opts.MemoryThreshold)
	if err != nil {
		a.logger.Warn().Err(err).Str("reason", apperr.ReasonMemoryFailed).Str("run_id", s.RunID).Msg("memory retrieval failed")
		return State{RetrievedInteractions: []Interaction{}, MemorySummary: memoryPlaceholder}, nil
	}
	found := make([]Interaction, 0, len(matches))
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		found = append(found, Interaction{Content: m.Content, Source: m.Source, Similarity: m.Similarity})
		parts = append(parts, truncate(m.Content, 120))
	}
	summary := "Keine relevanten früheren Gespräche gefunden."
	if len(parts) > 0 {
		summary = "Frühere Gespräche: " + strings.Join(parts, " | ")
	}
	return State{RetrievedInteractions: found, MemorySummary: summary}, nil
}

func (a *Agent) detectSignals(ctx context.Context, s State) (State, error) {
	if a.signals == nil {
		return State{Signals: []models.Signal{}, SignalSummary: signals.Summarize(nil, 0)}, nil
	}
	p := s.perception()
	sigs := a.signals.Detect(ctx, signals.Target{
		LeadID:   s.LeadID,
		Name:     p.Name,
		Company:  p.Company,
		Email:    p.Email,
		Industry: p.Industry,
	})
	if sigs == nil {
		sigs = []models.Signal{}
	}
	return State{
		Signals:       sigs,
		PrimarySignal: signals.Primary(sigs),
		SignalSummary: signals.Summarize(sigs, 3),
	}, nil
}

// reasoning starts from a deterministic judgement and lets the generator refine it
func (a *Agent) reasoning(ctx context.Context, s State) (State, error) {
	out := heuristicReasoning(s)
	if a.gen == nil {
		return out, nil
	}
	raw, err := a.gen.Generate(ctx, reasoningSystemPrompt, reasoningPrompt(s), 300)
	if err != nil {
		a.logger.Warn().Err(err).Str("reason", apperr.ReasonGenerationFailed).Str("run_id", s.RunID).Msg("reasoning call failed, using heuristic")
		return out, nil
	}
	var reply reasoningReply
	if _, err := llm.ParseJSON(raw, &reply); err != nil {
		a.logger.Warn().Err(err).Str("reason", apperr.ReasonGenerationFailed).Str("run_id", s.RunID).Msg("reasoning reply unparseable, using heuristic")
		return out, nil
	}
	if reply.ShouldReactivate != nil {
		out.ShouldReactivate = reply.ShouldReactivate
	}
	if reply.Strategy.valid() {
		out.Strategy = reply.Strategy
	}
	if reply.Confidence != nil {
		out.ConfidenceScore = math.Max(0, math.Min(1, *reply.Confidence))
	}
	if reply.Tone.valid() {
		out.MessageTone = reply.Tone
	}
	if strings.TrimSpace(reply.Reasoning) != "" {
		out.ReasoningExplanation = strings.TrimSpace(reply.Reasoning)
	}
	return out, nil
}

func heuristicReasoning(s State) State {
	p := s.perception()
	primary := s.PrimarySignal

	conf := 0.0
	if primary != nil {
		conf = primary.RelevanceScore
	}
	if len(s.RetrievedInteractions) > 0 {
		conf += 0.05
	}
	conf = math.Min(1, conf)

	strategy := StrategySoftCheckIn
	why := "Kein starkes Signal, daher unverbindliche Nachfrage."
	switch {
	case primary != nil && primary.RelevanceScore > signals.ActionableRelevance && primary.Type != models.SignalNews && primary.Type != models.SignalWebsiteChange:
		strategy = StrategySignalReference
		why = fmt.Sprintf("Aktuelles Signal (%s): %s", primary.Type, primary.Title)
	case len(s.RetrievedInteractions) > 0:
		strategy = StrategyValueReminder
		why = "Frühere Gespräche zeigen konkreten Bedarf."
	case p.InteractionCount >= 3:
		strategy = StrategyRelationshipRebuild
		why = "Gewachsene Beziehung mit mehreren Interaktionen."
	}

	tone := ToneProfessional
	switch {
	case primary != nil && primary.Type == models.SignalIntent:
		tone = ToneUrgent
	case p.PreferredFormality == models.FormalityDu:
		tone = ToneCasual
	}
	return State{
		ShouldReactivate:     boolPtr(conf >= minReactivateConfidence),
		Strategy:             strategy,
		ConfidenceScore:      conf,
		ReasoningExplanation: why,
		MessageTone:          tone,
	}
}

// selectChannel honours the preference; email needs consent, otherwise the
// message goes out on LinkedIn
func selectChannel(p Perception) models.Channel {
	if p.PreferredChannel == models.ChannelEmail && p.HasEmailConsent {
		return models.ChannelEmail
	}
	return models.ChannelLinkedIn
}

func (a *Agent) generate(ctx context.Context, s State) (State, error) {
	p := s.perception()
	channel := selectChannel(p)

	text := ""
	if a.gen != nil {
		examples := a.fewShot(ctx, s)
		raw, err := a.gen.Generate(ctx, generationSystemPrompt(s, channel), generationUserPrompt(s, examples), a.opts.MaxTokens)
		if err != nil {
			a.logger.Warn().Err(err).Str("reason", apperr.ReasonGenerationFailed).Str("run_id", s.RunID).Msg("message generation failed, using template")
		} else {
			text = strings.TrimSpace(raw)
		}
	}
	if text == "" {
		text = templateMessage(s)
	}
	if channel == models.ChannelEmail && !compliance.HasUnsubscribe(text) {
		text += compliance.UnsubscribeFooter(p.PreferredFormality)
	}
	return State{DraftMessage: text, SuggestedChannel: channel}, nil
}

// fewShot returns approved reactivation drafts of the tenant, newest first
func (a *Agent) fewShot(ctx context.Context, s State) []string {
	drafts, err := a.store.ListDrafts(ctx, s.TenantID, storage.DraftFilter{Status: models.DraftApproved, Limit: 50})
	if err != nil {
		a.logger.Warn().Err(err).Str("reason", apperr.ReasonFewShotFailed).Str("run_id", s.RunID).Msg("few-shot lookup failed")
		return nil
	}
	var out []string
	for _, d := range drafts {
		if d.Source != models.DraftSourceReactivation {
			continue
		}
		text := d.Content
		if d.EditedContent != "" {
			text = d.EditedContent
		}
		out = append(out, text)
		if len(out) == fewShotExamples {
			break
		}
	}
	return out
}

func (a *Agent) checkCompliance(_ context.Context, s State) (State, error) {
	p := s.perception()
	res := a.checker.Check(compliance.Input{
		Text:       s.DraftMessage,
		Channel:    s.SuggestedChannel,
		Formality:  p.PreferredFormality,
		Confidence: s.ConfidenceScore,
	})
	if !res.Passed {
		a.logger.Warn().Str("run_id", s.RunID).Strs("issues", res.Issues).Msg("reactivation message rejected by compliance")
	}
	issues := res.Issues
	if issues == nil {
		issues = []string{}
	}
	return State{
		CompliancePassed: boolPtr(res.Passed),
		ComplianceIssues: issues,
		RequiresReview:   res.RequiresReview,
	}, nil
}

// canAutoSend is the only path to sending without review
func (a *Agent) canAutoSend(s *State) bool {
	p := s.perception()
	return a.sender != nil &&
		s.CompliancePassed != nil && *s.CompliancePassed &&
		!s.RequiresReview &&
		s.ConfidenceScore >= a.opts.AutoSendConfidence &&
		p.DealValue <= a.opts.DealValueLimit &&
		s.SuggestedChannel == models.ChannelLinkedIn &&
		p.HasLinkedInConnection &&
		p.AutonomyLevel != models.AutonomyObserver
}

func (a *Agent) autoSend(ctx context.Context, s State) (State, error) {
	lead, err := a.store.GetLead(ctx, s.TenantID, s.LeadID)
	if err != nil {
		return State{}, err
	}
	providerID, err := a.sender.Send(ctx, *lead, s.SuggestedChannel, s.DraftMessage)
	if err != nil {
		// falls through to human handoff
		a.logger.Warn().Err(err).Str("reason", apperr.ReasonSendFailed).Str("run_id", s.RunID).Msg("reactivation auto-send failed, handing off")
		return State{RequiresReview: true}, nil
	}
	msg, _, err := a.store.AppendMessage(ctx, &models.Message{
		TenantID:    s.TenantID,
		LeadID:      s.LeadID,
		Channel:     s.SuggestedChannel,
		Direction:   models.DirectionOutbound,
		ContentType: "text",
		Text:        s.DraftMessage,
		ExternalID:  providerID,
		AutoSent:    true,
		Timestamp:   a.now(),
	})
	if err != nil {
		// the message left already; report it as sent
		a.logger.Warn().Err(err).Str("reason", apperr.ReasonOutboundPersist).Str("run_id", s.RunID).Msg("sent reactivation message not persisted")
		msg = &models.Message{ID: providerID}
	}
	a.publishEvent(s, models.EventReactivationSent, models.ActionAutoSend)
	return State{SentMessageID: msg.ID}, nil
}

func (a *Agent) handoff(ctx context.Context, s State) (State, error) {
	now := a.now()
	d := &models.Draft{
		TenantID:       s.TenantID,
		LeadID:         s.LeadID,
		Source:         models.DraftSourceReactivation,
		Channel:        s.SuggestedChannel,
		Content:        s.DraftMessage,
		UserPrompt:     s.ReasoningExplanation,
		Confidence:     s.ConfidenceScore,
		TemplateID:     templateID(s.Strategy),
		Signals:        s.Signals,
		RunID:          s.RunID,
		RequiresReview: s.RequiresReview,
		CreatedAt:      now,
		ExpiresAt:      now.Add(models.DraftTTL),
	}
	superseded, err := a.store.SaveDraft(ctx, d)
	if err != nil {
		return State{}, err
	}
	if superseded != nil {
		a.publish(eventbus.Event{Topic: eventbus.TopicDraftSuperseded, TenantID: s.TenantID, LeadID: s.LeadID, Data: *superseded})
	}
	a.publishEvent(s, models.EventReactivationDraft, models.ActionDraftReview)

	p := s.perception()
	if err := a.notifier.Notify(ctx, models.Notification{
		TenantID: s.TenantID,
		Kind:     models.NotifyDraftWaiting,
		Title:    "Reaktivierung: " + p.Name,
		Body:     truncate(s.DraftMessage, 200),
		Data:     map[string]any{"lead_id": s.LeadID, "draft_id": d.ID, "run_id": s.RunID, "strategy": string(s.Strategy)},
	}); err != nil {
		a.logger.Warn().Err(err).Str("reason", apperr.ReasonNotifyFailed).Str("run_id", s.RunID).Msg("draft notification failed")
	}
	return State{DraftID: d.ID}, nil
}

func templateID(s Strategy) string {
	if s == "" {
		return ""
	}
	return "reactivation:" + string(s)
}

func formalIndustry(industry string) bool {
	i := strings.ToLower(industry)
	for _, k := range []string{"finanz", "finance", "bank", "versicherung", "insurance", "legal", "recht", "kanzlei", "law", "steuer"} {
		if strings.Contains(i, k) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

package reactivation

import (
	"time"

	"github.com/leadpilot/pkg/models"
)

// Strategy is how a reactivation message approaches the lead
type Strategy string

const (
	StrategySignalReference     Strategy = "signal_reference"
	StrategyValueReminder       Strategy = "value_reminder"
	StrategyRelationshipRebuild Strategy = "relationship_rebuild"
	StrategySoftCheckIn         Strategy = "soft_check_in"
)

func (s Strategy) valid() bool {
	switch s {
	case StrategySignalReference, StrategyValueReminder, StrategyRelationshipRebuild, StrategySoftCheckIn:
		return true
	}
	return false
}

type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneUrgent       Tone = "urgent"
)

func (t Tone) valid() bool {
	return t == ToneProfessional || t == ToneCasual || t == ToneUrgent
}

// Perception is the aggregated view of the lead built by the first node
type Perception struct {
	Name                   string               `json:"name"`
	Company                string               `json:"company,omitempty"`
	Industry               string               `json:"industry,omitempty"`
	Position               string               `json:"position,omitempty"`
	Email                  string               `json:"email,omitempty"`
	LastInteractionSummary string               `json:"last_interaction_summary"`
	InteractionCount       int                  `json:"interaction_count"`
	DaysDormant            int                  `json:"days_dormant"`
	PersonaType            models.PersonaType   `json:"persona_type"`
	PreferredFormality     models.Formality     `json:"preferred_formality"`
	PreferredChannel       models.Channel       `json:"preferred_channel"`
	DealValue              float64              `json:"deal_value"`
	HasLinkedInConnection  bool                 `json:"has_linkedin_connection"`
	HasEmailConsent        bool                 `json:"has_email_consent"`
	PainPoints             []string             `json:"pain_points,omitempty"`
	Objections             []string             `json:"objections,omitempty"`
	AutonomyLevel          models.AutonomyLevel `json:"autonomy_level"`
}

// Interaction is a past conversation snippet found by memory retrieval
type Interaction struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

// State is the run state. Nodes return a partial State; merge copies every
// field the update sets, so fields only ever get added or refined.
type State struct {
	TenantID  int64     `json:"tenant_id"`
	LeadID    string    `json:"lead_id"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`

	LeadContext *Perception `json:"lead_context,omitempty"`

	RetrievedInteractions []Interaction `json:"retrieved_interactions,omitempty"`
	MemorySummary         string        `json:"memory_summary,omitempty"`

	Signals       []models.Signal `json:"signals,omitempty"`
	PrimarySignal *models.Signal  `json:"primary_signal,omitempty"`
	SignalSummary string          `json:"signal_summary,omitempty"`

	ShouldReactivate     *bool    `json:"should_reactivate,omitempty"`
	Strategy             Strategy `json:"reactivation_strategy,omitempty"`
	ConfidenceScore      float64  `json:"confidence_score,omitempty"`
	ReasoningExplanation string   `json:"reasoning_explanation,omitempty"`

	DraftMessage     string         `json:"draft_message,omitempty"`
	SuggestedChannel models.Channel `json:"suggested_channel,omitempty"`
	MessageTone      Tone           `json:"message_tone,omitempty"`

	CompliancePassed *bool    `json:"compliance_passed,omitempty"`
	ComplianceIssues []string `json:"compliance_issues,omitempty"`
	RequiresReview   bool     `json:"requires_review,omitempty"`

	DraftID       string            `json:"draft_id,omitempty"`
	SentMessageID string            `json:"sent_message_id,omitempty"`
	Outcome       models.RunOutcome `json:"outcome,omitempty"`
	Error         string            `json:"error,omitempty"`
}

func (s *State) merge(u State) {
	if u.LeadContext != nil {
		s.LeadContext = u.LeadContext
	}
	if u.RetrievedInteractions != nil {
		s.RetrievedInteractions = u.RetrievedInteractions
	}
	if u.MemorySummary != "" {
		s.MemorySummary = u.MemorySummary
	}
	if u.Signals != nil {
		s.Signals = u.Signals
	}
	if u.PrimarySignal != nil {
		s.PrimarySignal = u.PrimarySignal
	}
	if u.SignalSummary != "" {
		s.SignalSummary = u.SignalSummary
	}
	if u.ShouldReactivate != nil {
		s.ShouldReactivate = u.ShouldReactivate
	}
	if u.Strategy != "" {
		s.Strategy = u.Strategy
	}
	if u.ConfidenceScore != 0 {
		s.ConfidenceScore = u.ConfidenceScore
	}
	if u.ReasoningExplanation != "" {
		s.ReasoningExplanation = u.ReasoningExplanation
	}
	if u.DraftMessage != "" {
		s.DraftMessage = u.DraftMessage
	}
	if u.SuggestedChannel != "" {
		s.SuggestedChannel = u.SuggestedChannel
	}
	if u.MessageTone != "" {
		s.MessageTone = u.MessageTone
	}
	if u.CompliancePassed != nil {
		s.CompliancePassed = u.CompliancePassed
	}
	if u.ComplianceIssues != nil {
		s.ComplianceIssues = u.ComplianceIssues
	}
	if u.RequiresReview {
		s.RequiresReview = true
	}
	if u.DraftID != "" {
		s.DraftID = u.DraftID
	}
	if u.SentMessageID != "" {
		s.SentMessageID = u.SentMessageID
	}
	if u.Outcome != "" {
		s.Outcome = u.Outcome
	}
	if u.Error != "" {
		s.Error = u.Error
	}
}

func (s *State) perception() Perception {
	if s.LeadContext == nil {
		return Perception{PersonaType: models.PersonaUnknown, PreferredFormality: models.FormalitySie}
	}
	return *s.LeadContext
}

// DeriveFormality picks the address form from persona and industry
func DeriveFormality(persona models.PersonaType, industry string) models.Formality {
	switch persona {
	case models.PersonaCorporate:
		return models.FormalitySie
	case models.PersonaStartup:
		if formalIndustry(industry) {
			return models.FormalitySie
		}
		return models.FormalityDu
	case models.PersonaSolopreneur:
		return models.FormalityDu
	}
	return models.FormalitySie
}

func boolPtr(b bool) *bool { return &b }

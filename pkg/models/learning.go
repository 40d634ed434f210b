package models

import "time"

type LearningEventType string

const (
	EventDecisionMade      LearningEventType = "decision_made"
	EventDraftApproved     LearningEventType = "draft_approved"
	EventDraftEdited       LearningEventType = "draft_edited"
	EventDraftRejected     LearningEventType = "draft_rejected"
	EventDraftSuperseded   LearningEventType = "draft_superseded"
	EventTemplateUsed      LearningEventType = "template_used"
	EventResponseReceived  LearningEventType = "response_received"
	EventOutcome           LearningEventType = "outcome"
	EventTimeoutFallback   LearningEventType = "timeout_fallback"
	EventReactivationDraft LearningEventType = "reactivation_draft"
	EventReactivationSent  LearningEventType = "reactivation_sent"
)

type ContextType string

const (
	ContextInbound      ContextType = "inbound"
	ContextFollowUp     ContextType = "followup"
	ContextGhost        ContextType = "ghost"
	ContextReactivation ContextType = "reactivation"
	ContextManual       ContextType = "manual"
)

// AIDecision captures what the system decided
type AIDecision struct {
	Intent      Intent  `json:"intent,omitempty"`
	Action      Action  `json:"action,omitempty"`
	Confidence  float64 `json:"confidence"`
	MessageText string  `json:"message_text,omitempty"`
	WordCount   int     `json:"word_count"`
	Strategy    string  `json:"strategy,omitempty"`
}

// UserAction captures what a human did with the decision
type UserAction struct {
	Kind          string `json:"kind"`
	EditedText    string `json:"edited_text,omitempty"`
	ReviewerNotes string `json:"reviewer_notes,omitempty"`
}

// Outcome captures the late-bound result of an interaction
type Outcome struct {
	GotResponse       bool    `json:"got_response"`
	ResponseTimeHours float64 `json:"response_time_hours,omitempty"`
	Positive          bool    `json:"positive"`
	Negative          bool    `json:"negative"`
	Converted         bool    `json:"converted"`
	AppointmentBooked bool    `json:"appointment_booked"`
	DealClosed        bool    `json:"deal_closed"`
	DealValue         float64 `json:"deal_value,omitempty"`
}

// LearningEvent is an append-only record consumed by the aggregator
type LearningEvent struct {
	ID               string            `json:"id" db:"id"`
	TenantID         int64             `json:"tenant_id" db:"tenant_id"`
	UserID           string            `json:"user_id,omitempty" db:"user_id"`
	EventType        LearningEventType `json:"event_type" db:"event_type"`
	ContextType      ContextType       `json:"context_type" db:"context_type"`
	LeadID           string            `json:"lead_id,omitempty" db:"lead_id"`
	TemplateID       string            `json:"template_id,omitempty" db:"template_id"`
	TemplateCategory string            `json:"template_category,omitempty" db:"template_category"`
	Channel          Channel           `json:"channel,omitempty" db:"channel"`
	Vertical         string            `json:"vertical,omitempty" db:"vertical"`
	LeadStatus       LeadStatus        `json:"lead_status,omitempty" db:"lead_status"`
	LeadTemperature  Temperature       `json:"lead_temperature,omitempty" db:"lead_temperature"`
	AIDecision       AIDecision        `json:"ai_decision" db:"ai_decision"`
	UserAction       *UserAction       `json:"user_action,omitempty" db:"user_action"`
	Outcome          *Outcome          `json:"outcome,omitempty" db:"outcome"`
	LearningSignals  map[string]any    `json:"learning_signals,omitempty" db:"learning_signals"`
	IsSignificant    bool              `json:"is_significant" db:"is_significant"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
}

type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// ChannelStats is one entry of an aggregate's channel breakdown
type ChannelStats struct {
	Sent        int `json:"sent"`
	Responses   int `json:"responses"`
	Conversions int `json:"conversions"`
}

// AggregateKey is the idempotent upsert key of a LearningAggregate
type AggregateKey struct {
	TenantID    int64       `json:"tenant_id"`
	Granularity Granularity `json:"granularity"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
	TemplateID  string      `json:"template_id,omitempty"`
	Channel     Channel     `json:"channel,omitempty"`
	Vertical    string      `json:"vertical,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
}

// LearningAggregate is a rollup of events over one period
type LearningAggregate struct {
	AggregateKey
	TotalEvents          int                      `json:"total_events"`
	UniqueTemplates      int                      `json:"unique_templates"`
	UniqueLeads          int                      `json:"unique_leads"`
	ResponsesReceived    int                      `json:"responses_received"`
	ResponseRate         float64                  `json:"response_rate"`
	AvgResponseTimeHours float64                  `json:"avg_response_time_hours"`
	PositiveOutcomes     int                      `json:"positive_outcomes"`
	NegativeOutcomes     int                      `json:"negative_outcomes"`
	ConversionRate       float64                  `json:"conversion_rate"`
	AppointmentsBooked   int                      `json:"appointments_booked"`
	DealsClosed          int                      `json:"deals_closed"`
	TotalDealValue       float64                  `json:"total_deal_value"`
	ChannelBreakdown     map[Channel]ChannelStats `json:"channel_breakdown"`
	CategoryBreakdown    map[string]int           `json:"category_breakdown"`
}

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// TemplatePerformance is derived from events and aggregates per template
type TemplatePerformance struct {
	TenantID          int64      `json:"tenant_id"`
	TemplateID        string     `json:"template_id"`
	Category          string     `json:"category,omitempty"`
	TotalUses         int        `json:"total_uses"`
	Responses         int        `json:"responses"`
	Conversions       int        `json:"conversions"`
	Uses30d           int        `json:"uses_30d"`
	Responses30d      int        `json:"responses_30d"`
	Conversions30d    int        `json:"conversions_30d"`
	ResponseRate      float64    `json:"response_rate"`
	ConversionRate    float64    `json:"conversion_rate"`
	ResponseRate30d   float64    `json:"response_rate_30d"`
	ConversionRate30d float64    `json:"conversion_rate_30d"`
	QualityScore      float64    `json:"quality_score"`
	Trend             Trend      `json:"trend"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

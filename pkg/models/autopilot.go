package models

import (
	"encoding/json"
	"time"
)

// Intent is the closed set of pragmatic purposes an inbound message can carry
type Intent string

const (
	IntentSimpleInfo       Intent = "simple_info"
	IntentSpecificQuestion Intent = "specific_question"
	IntentPriceInquiry     Intent = "price_inquiry"
	IntentReadyToBuy       Intent = "ready_to_buy"
	IntentBookingRequest   Intent = "booking_request"
	IntentPriceObjection   Intent = "price_objection"
	IntentTimeObjection    Intent = "time_objection"
	IntentTrustObjection   Intent = "trust_objection"
	IntentComplexObjection Intent = "complex_objection"
	IntentScheduling       Intent = "scheduling"
	IntentReschedule       Intent = "reschedule"
	IntentCancellation     Intent = "cancellation"
	IntentNotInterested    Intent = "not_interested"
	IntentSpam             Intent = "spam"
	IntentIrrelevant       Intent = "irrelevant"
	IntentUnclear          Intent = "unclear"
)

// AllIntents lists the taxonomy in declaration order
var AllIntents = []Intent{
	IntentSimpleInfo, IntentSpecificQuestion, IntentPriceInquiry, IntentReadyToBuy,
	IntentBookingRequest, IntentPriceObjection, IntentTimeObjection, IntentTrustObjection,
	IntentComplexObjection, IntentScheduling, IntentReschedule, IntentCancellation,
	IntentNotInterested, IntentSpam, IntentIrrelevant, IntentUnclear,
}

// Valid reports whether i belongs to the taxonomy
func (i Intent) Valid() bool {
	for _, v := range AllIntents {
		if v == i {
			return true
		}
	}
	return false
}

type AutonomyLevel string

const (
	AutonomyObserver  AutonomyLevel = "observer"
	AutonomyAssistant AutonomyLevel = "assistant"
	AutonomyAutopilot AutonomyLevel = "autopilot"
	AutonomyFullAuto  AutonomyLevel = "full_auto"
)

// AutopilotSettings is the per-tenant policy consulted by the engine
type AutopilotSettings struct {
	TenantID            int64         `json:"tenant_id" db:"tenant_id"`
	AutonomyLevel       AutonomyLevel `json:"autonomy_level" db:"autonomy_level"`
	ConfidenceThreshold int           `json:"confidence_threshold" db:"confidence_threshold"`

	AutoInfoReplies       bool `json:"auto_info_replies" db:"auto_info_replies"`
	AutoSimpleQuestions   bool `json:"auto_simple_questions" db:"auto_simple_questions"`
	AutoFollowups         bool `json:"auto_followups" db:"auto_followups"`
	AutoScheduling        bool `json:"auto_scheduling" db:"auto_scheduling"`
	AutoCalendarBooking   bool `json:"auto_calendar_booking" db:"auto_calendar_booking"`
	AutoPriceReplies      bool `json:"auto_price_replies" db:"auto_price_replies"`
	AutoObjectionHandling bool `json:"auto_objection_handling" db:"auto_objection_handling"`
	AutoClosing           bool `json:"auto_closing" db:"auto_closing"`

	NotifyHotLead      bool `json:"notify_hot_lead" db:"notify_hot_lead"`
	NotifyHumanNeeded  bool `json:"notify_human_needed" db:"notify_human_needed"`
	NotifyDailySummary bool `json:"notify_daily_summary" db:"notify_daily_summary"`
	NotifyEveryAction  bool `json:"notify_every_action" db:"notify_every_action"`

	WorkingHoursStart string `json:"working_hours_start" db:"working_hours_start"`
	WorkingHoursEnd   string `json:"working_hours_end" db:"working_hours_end"`
	SendOnWeekends    bool   `json:"send_on_weekends" db:"send_on_weekends"`
	Timezone          string `json:"timezone" db:"timezone"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultSettings returns the settings a tenant starts with
func DefaultSettings(tenantID int64) AutopilotSettings {
	return AutopilotSettings{
		TenantID:            tenantID,
		AutonomyLevel:       AutonomyAssistant,
		ConfidenceThreshold: 90,
		AutoInfoReplies:     true,
		AutoSimpleQuestions: true,
		AutoFollowups:       false,
		AutoScheduling:      true,
		NotifyHotLead:       true,
		NotifyHumanNeeded:   true,
		NotifyDailySummary:  true,
		WorkingHoursStart:   "08:00",
		WorkingHoursEnd:     "20:00",
		SendOnWeekends:      false,
		Timezone:            "Europe/Berlin",
	}
}

// Location resolves the tenant timezone, falling back to UTC
func (s AutopilotSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type OverrideMode string

const (
	OverrideNormal     OverrideMode = "normal"
	OverrideCareful    OverrideMode = "careful"
	OverrideAggressive OverrideMode = "aggressive"
	OverrideDisabled   OverrideMode = "disabled"
)

// LeadOverride narrows or loosens the engine's decision for one lead
type LeadOverride struct {
	LeadID    string       `json:"lead_id" db:"lead_id"`
	TenantID  int64        `json:"tenant_id" db:"tenant_id"`
	Mode      OverrideMode `json:"mode" db:"mode"`
	IsVIP     bool         `json:"is_vip" db:"is_vip"`
	Reason    string       `json:"reason,omitempty" db:"reason"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

type DraftStatus string

const (
	DraftPending    DraftStatus = "pending"
	DraftApproved   DraftStatus = "approved"
	DraftRejected   DraftStatus = "rejected"
	DraftEdited     DraftStatus = "edited"
	DraftSuperseded DraftStatus = "superseded"
	DraftExpired    DraftStatus = "expired"
)

// DraftTTL is how long a draft stays reviewable
const DraftTTL = 7 * 24 * time.Hour

// DraftSource distinguishes engine drafts from reactivation drafts
type DraftSource string

const (
	DraftSourceAutopilot    DraftSource = "autopilot"
	DraftSourceOrchestrator DraftSource = "orchestrator"
	DraftSourceReactivation DraftSource = "reactivation"
)

// Draft is a proposed outbound message awaiting human action.
// Reactivation drafts additionally carry Signals and RunID.
type Draft struct {
	ID             string      `json:"id" db:"id"`
	TenantID       int64       `json:"tenant_id" db:"tenant_id"`
	LeadID         string      `json:"lead_id" db:"lead_id"`
	Source         DraftSource `json:"source" db:"source"`
	Intent         Intent      `json:"intent,omitempty" db:"intent"`
	Channel        Channel     `json:"channel" db:"channel"`
	Content        string      `json:"content" db:"content"`
	UserPrompt     string      `json:"user_prompt,omitempty" db:"user_prompt"`
	Status         DraftStatus `json:"status" db:"status"`
	Confidence     float64     `json:"confidence" db:"confidence"`
	TemplateID     string      `json:"template_id,omitempty" db:"template_id"`
	Signals        []Signal    `json:"signals,omitempty" db:"signals"`
	RunID          string      `json:"run_id,omitempty" db:"run_id"`
	RequiresReview bool        `json:"requires_review" db:"requires_review"`
	ReviewerNotes  string      `json:"reviewer_notes,omitempty" db:"reviewer_notes"`
	EditedContent  string      `json:"edited_content,omitempty" db:"edited_content"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at" db:"expires_at"`
	ReviewedAt     *time.Time  `json:"reviewed_at,omitempty" db:"reviewed_at"`
}

// Action is the outcome chosen for an inbound message
type Action string

const (
	ActionAutoSend    Action = "auto_send"
	ActionDraftReview Action = "draft_review"
	ActionHumanNeeded Action = "human_needed"
	ActionArchive     Action = "archive"
	ActionSchedule    Action = "schedule"
	ActionCancelled   Action = "cancelled"
)

// ActionLog is the append-only audit record of one decision
type ActionLog struct {
	ID           string    `json:"id" db:"id"`
	TenantID     int64     `json:"tenant_id" db:"tenant_id"`
	LeadID       string    `json:"lead_id" db:"lead_id"`
	MessageID    string    `json:"message_id,omitempty" db:"message_id"`
	Action       Action    `json:"action" db:"action"`
	Intent       Intent    `json:"intent" db:"intent"`
	Confidence   int       `json:"confidence" db:"confidence"`
	ResponseSent bool      `json:"response_sent" db:"response_sent"`
	Reasoning    string    `json:"reasoning,omitempty" db:"reasoning"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// NotificationKind enumerates notification types emitted by the core
type NotificationKind string

const (
	NotifyHotLeadAlert     NotificationKind = "hot_lead_alert"
	NotifyDraftWaiting     NotificationKind = "draft_waiting"
	NotifyHumanNeededAlert NotificationKind = "human_needed_alert"
	NotifyActionTaken      NotificationKind = "action_taken"
	NotifyBriefing         NotificationKind = "briefing"
)

// Notification is what the core hands to the notification collaborator
type Notification struct {
	TenantID int64            `json:"tenant_id"`
	Kind     NotificationKind `json:"kind"`
	Title    string           `json:"title"`
	Body     string           `json:"body"`
	Data     map[string]any   `json:"data,omitempty"`
}

// ProcessingResult is returned by the engine for each inbound message
type ProcessingResult struct {
	LeadID          string          `json:"lead_id"`
	MessageID       string          `json:"message_id"`
	Duplicate       bool            `json:"duplicate"`
	Intent          Intent          `json:"intent"`
	Action          Action          `json:"action"`
	Confidence      int             `json:"confidence"`
	Response        string          `json:"response,omitempty"`
	ResponseSent    bool            `json:"response_sent"`
	DraftID         string          `json:"draft_id,omitempty"`
	ScheduledFor    *time.Time      `json:"scheduled_for,omitempty"`
	Reasoning       string          `json:"reasoning,omitempty"`
	ErrorCode       string          `json:"error_code,omitempty"`
	Breakdown       json.RawMessage `json:"breakdown,omitempty"`
	ProcessingTime  time.Duration   `json:"processing_time"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

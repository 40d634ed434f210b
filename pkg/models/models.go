package models

import (
	"encoding/json"
	"time"
)

// Channel identifies the messaging network a conversation runs on
type Channel string

const (
	ChannelInstagram Channel = "instagram"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelTelegram  Channel = "telegram"
	ChannelEmail     Channel = "email"
	ChannelLinkedIn  Channel = "linkedin"
	ChannelMessenger Channel = "messenger"
	ChannelInbound   Channel = "inbound"
)

// Tenant represents the account (user/company) that owns leads
type Tenant struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ChannelMapping routes inbound messages of an external account to a tenant
type ChannelMapping struct {
	ID                string    `json:"id" db:"id"`
	TenantID          int64     `json:"tenant_id" db:"tenant_id"`
	Channel           Channel   `json:"channel" db:"channel"`
	ExternalAccountID string    `json:"external_account_id" db:"external_account_id"`
	WebhookSecret     string    `json:"-" db:"webhook_secret"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

type LeadStatus string

const (
	LeadStatusNew        LeadStatus = "new"
	LeadStatusContacted  LeadStatus = "contacted"
	LeadStatusInterested LeadStatus = "interested"
	LeadStatusHot        LeadStatus = "hot"
	LeadStatusWon        LeadStatus = "won"
	LeadStatusLost       LeadStatus = "lost"
	LeadStatusArchived   LeadStatus = "archived"
	LeadStatusDormant    LeadStatus = "dormant"
)

type Temperature string

const (
	TemperatureHot  Temperature = "hot"
	TemperatureWarm Temperature = "warm"
	TemperatureCold Temperature = "cold"
	TemperatureDead Temperature = "dead"
)

type PersonaType string

const (
	PersonaCorporate   PersonaType = "corporate"
	PersonaStartup     PersonaType = "startup"
	PersonaSolopreneur PersonaType = "solopreneur"
	PersonaUnknown     PersonaType = "unknown"
)

// Formality is the address form used with a lead (German Sie/Du)
type Formality string

const (
	FormalitySie Formality = "Sie"
	FormalityDu  Formality = "Du"
)

// Lead is a contact identified by (tenant, channel, external id)
type Lead struct {
	ID                    string      `json:"id" db:"id"`
	TenantID              int64       `json:"tenant_id" db:"tenant_id"`
	Channel               Channel     `json:"channel" db:"channel"`
	ExternalID            string      `json:"external_id" db:"external_id"`
	Name                  string      `json:"name" db:"name"`
	Email                 string      `json:"email,omitempty" db:"email"`
	Company               string      `json:"company,omitempty" db:"company"`
	Industry              string      `json:"industry,omitempty" db:"industry"`
	Position              string      `json:"position,omitempty" db:"position"`
	Status                LeadStatus  `json:"status" db:"status"`
	StatusReason          string      `json:"status_reason,omitempty" db:"status_reason"`
	Temperature           Temperature `json:"temperature" db:"temperature"`
	EstimatedValue        float64     `json:"estimated_value" db:"estimated_value"`
	PersonaType           PersonaType `json:"persona_type" db:"persona_type"`
	PreferredFormality    Formality   `json:"preferred_formality,omitempty" db:"preferred_formality"`
	PreferredChannel      Channel     `json:"preferred_channel,omitempty" db:"preferred_channel"`
	HasEmailConsent       bool        `json:"has_email_consent" db:"has_email_consent"`
	HasLinkedInConnection bool        `json:"has_linkedin_connection" db:"has_linkedin_connection"`
	HasComplaints         bool        `json:"has_complaints" db:"has_complaints"`
	WaitingForReply       bool        `json:"waiting_for_reply" db:"waiting_for_reply"`
	PainPoints            []string    `json:"pain_points,omitempty" db:"pain_points"`
	Objections            []string    `json:"objections,omitempty" db:"objections"`
	InteractionCount      int         `json:"interaction_count" db:"interaction_count"`
	LastInboundAt         *time.Time  `json:"last_inbound_at,omitempty" db:"last_inbound_at"`
	LastOutboundAt        *time.Time  `json:"last_outbound_at,omitempty" db:"last_outbound_at"`
	CreatedAt             time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at" db:"updated_at"`
}

// LastInteractionAt returns the most recent inbound or outbound timestamp
func (l *Lead) LastInteractionAt() time.Time {
	var last time.Time
	if l.LastInboundAt != nil && l.LastInboundAt.After(last) {
		last = *l.LastInboundAt
	}
	if l.LastOutboundAt != nil && l.LastOutboundAt.After(last) {
		last = *l.LastOutboundAt
	}
	if last.IsZero() {
		last = l.CreatedAt
	}
	return last
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is an append-only record of a conversational message
type Message struct {
	ID           string          `json:"id" db:"id"`
	TenantID     int64           `json:"tenant_id" db:"tenant_id"`
	LeadID       string          `json:"lead_id" db:"lead_id"`
	Channel      Channel         `json:"channel" db:"channel"`
	Direction    Direction       `json:"direction" db:"direction"`
	ContentType  string          `json:"content_type" db:"content_type"`
	Text         string          `json:"text" db:"text"`
	MediaURL     string          `json:"media_url,omitempty" db:"media_url"`
	ExternalID   string          `json:"external_id,omitempty" db:"external_id"`
	AutoSent     bool            `json:"auto_sent" db:"auto_sent"`
	UserApproved bool            `json:"user_approved" db:"user_approved"`
	RawPayload   json.RawMessage `json:"raw_payload,omitempty" db:"raw_payload"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// InboundMessage is the canonical form of a channel webhook payload
type InboundMessage struct {
	Channel           Channel         `json:"channel"`
	ExternalAccountID string          `json:"external_account_id"`
	ExternalID        string          `json:"external_id"`
	LeadExternalID    string          `json:"lead_external_id"`
	LeadName          string          `json:"lead_name,omitempty"`
	ContentType       string          `json:"content_type"`
	Text              string          `json:"text"`
	MediaURL          string          `json:"media_url,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
	RawPayload        json.RawMessage `json:"raw_payload,omitempty"`
}

// LeadContext is the typed view of a lead used by detection, scoring and generation.
// Every field has a usable zero value; defaults are applied by DefaultLeadContext.
type LeadContext struct {
	LeadID                string      `json:"lead_id"`
	TenantID              int64       `json:"tenant_id"`
	Name                  string      `json:"name"`
	Company               string      `json:"company"`
	Industry              string      `json:"industry"`
	Status                LeadStatus  `json:"status"`
	Temperature           Temperature `json:"temperature"`
	InteractionCount      int         `json:"interaction_count"`
	LastOutboundAt        *time.Time  `json:"last_outbound_at,omitempty"`
	LastInboundAt         *time.Time  `json:"last_inbound_at,omitempty"`
	RecentMessages        []Message   `json:"recent_messages"`
	IsVIP                 bool        `json:"is_vip"`
	HasComplaints         bool        `json:"has_complaints"`
	EstimatedValue        float64     `json:"estimated_value"`
	PersonaType           PersonaType `json:"persona_type"`
	PreferredFormality    Formality   `json:"preferred_formality"`
	PreferredChannel      Channel     `json:"preferred_channel"`
	HasEmailConsent       bool        `json:"has_email_consent"`
	HasLinkedInConnection bool        `json:"has_linkedin_connection"`
	PainPoints            []string    `json:"pain_points"`
	Objections            []string    `json:"objections"`
}

// DefaultLeadContext returns a context carrying the documented defaults:
// status new, temperature warm, persona unknown, formality Sie.
func DefaultLeadContext() LeadContext {
	return LeadContext{
		Status:             LeadStatusNew,
		Temperature:        TemperatureWarm,
		PersonaType:        PersonaUnknown,
		PreferredFormality: FormalitySie,
		RecentMessages:     []Message{},
	}
}

// FollowUpStatus is the lifecycle of a scheduled follow-up
type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "pending"
	FollowUpCompleted FollowUpStatus = "completed"
	FollowUpDrafted   FollowUpStatus = "drafted"
	FollowUpCancelled FollowUpStatus = "cancelled"
)

// FollowUpTask is a follow-up scheduled by the engine or the orchestrator
type FollowUpTask struct {
	ID           string         `json:"id" db:"id"`
	TenantID     int64          `json:"tenant_id" db:"tenant_id"`
	LeadID       string         `json:"lead_id" db:"lead_id"`
	Reason       string         `json:"reason" db:"reason"`
	Content      string         `json:"content,omitempty" db:"content"`
	ScheduledFor time.Time      `json:"scheduled_for" db:"scheduled_for"`
	Status       FollowUpStatus `json:"status" db:"status"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// Package storage is the typed facade over the row store. Every read is tenant scoped;
// callers receive values, never row handles.
package storage

import (
	"context"
	"time"

	"github.com/leadpilot/pkg/models"
)

type MappingStore interface {
	UpsertMapping(ctx context.Context, m *models.ChannelMapping) error
	// GetTenantForExternal returns apperr.ErrNoTenantMapping when no active mapping exists
	GetTenantForExternal(ctx context.Context, channel models.Channel, externalAccountID string) (*models.ChannelMapping, error)
}

type TenantStore interface {
	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, id int64) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
}

type LeadStore interface {
	// FindOrCreateLead returns the lead and whether it was created by this call
	FindOrCreateLead(ctx context.Context, tenantID int64, channel models.Channel, externalID, name string) (*models.Lead, bool, error)
	GetLead(ctx context.Context, tenantID int64, leadID string) (*models.Lead, error)
	UpdateLead(ctx context.Context, lead *models.Lead) error
	ArchiveLead(ctx context.Context, tenantID int64, leadID, reason string) error
	ListLeads(ctx context.Context, tenantID int64, f LeadFilter) ([]models.Lead, error)
	// GhostCandidates lists leads waiting for a reply whose last outbound is before cutoff
	GhostCandidates(ctx context.Context, tenantID int64, cutoff time.Time) ([]models.Lead, error)
	// DormantLeads lists leads with status dormant or no interaction since cutoff
	DormantLeads(ctx context.Context, tenantID int64, cutoff time.Time, limit int) ([]models.Lead, error)
}

type MessageStore interface {
	// AppendMessage is idempotent on (channel, external_id). On a duplicate the
	// stored message is returned with duplicate=true and nothing is written.
	AppendMessage(ctx context.Context, m *models.Message) (stored *models.Message, duplicate bool, err error)
	ListMessages(ctx context.Context, tenantID int64, f MessageFilter) ([]models.Message, error)
	LoadLeadContext(ctx context.Context, tenantID int64, leadID string, limit int) (*models.LeadContext, error)
}

type SettingsStore interface {
	// LoadSettings returns the tenant settings or the defaults when none are stored
	LoadSettings(ctx context.Context, tenantID int64) (models.AutopilotSettings, error)
	SaveSettings(ctx context.Context, s models.AutopilotSettings) error
	// LoadOverride returns nil without error when the lead has no override
	LoadOverride(ctx context.Context, tenantID int64, leadID string) (*models.LeadOverride, error)
	SaveOverride(ctx context.Context, o *models.LeadOverride) error
	DeleteOverride(ctx context.Context, tenantID int64, leadID string) error
}

type DraftStore interface {
	// SaveDraft inserts d as the lead's pending draft. A previously pending draft is
	// moved to superseded and returned.
	SaveDraft(ctx context.Context, d *models.Draft) (superseded *models.Draft, err error)
	GetDraft(ctx context.Context, tenantID int64, id string) (*models.Draft, error)
	ListDrafts(ctx context.Context, tenantID int64, f DraftFilter) ([]models.Draft, error)
	// ReviewDraft moves a pending draft to status. Non-pending drafts yield apperr.ErrConflict.
	ReviewDraft(ctx context.Context, tenantID int64, id string, status models.DraftStatus, editedContent, notes string) (*models.Draft, error)
	// ExpireDrafts marks pending drafts past expires_at as expired
	ExpireDrafts(ctx context.Context, now time.Time) (int, error)
}

type ActionStore interface {
	AppendAction(ctx context.Context, a *models.ActionLog) error
	ListActions(ctx context.Context, tenantID int64, f ActionFilter) ([]models.ActionLog, error)
}

type EventStore interface {
	AppendEvent(ctx context.Context, e *models.LearningEvent) error
	GetEvent(ctx context.Context, tenantID int64, id string) (*models.LearningEvent, error)
	ListEvents(ctx context.Context, tenantID int64, f EventFilter) ([]models.LearningEvent, error)
	// AttachOutcome is one-shot; a second attach yields apperr.ErrConflict
	AttachOutcome(ctx context.Context, tenantID int64, eventID string, o models.Outcome) error
}

type AggregateStore interface {
	UpsertAggregate(ctx context.Context, a *models.LearningAggregate) error
	ListAggregates(ctx context.Context, tenantID int64, f AggregateFilter) ([]models.LearningAggregate, error)
	UpsertTemplatePerformance(ctx context.Context, p *models.TemplatePerformance) error
	GetTemplatePerformance(ctx context.Context, tenantID int64, templateID string) (*models.TemplatePerformance, error)
	ListTemplatePerformance(ctx context.Context, tenantID int64) ([]models.TemplatePerformance, error)
}

type FollowUpStore interface {
	ScheduleFollowUp(ctx context.Context, t *models.FollowUpTask) error
	DueFollowUps(ctx context.Context, tenantID int64, before time.Time) ([]models.FollowUpTask, error)
	UpdateFollowUpStatus(ctx context.Context, tenantID int64, id string, status models.FollowUpStatus) error
}

type RunStore interface {
	CreateRun(ctx context.Context, r *models.ReactivationRun) error
	UpdateRun(ctx context.Context, r *models.ReactivationRun) error
	GetRun(ctx context.Context, tenantID int64, id string) (*models.ReactivationRun, error)
	ListRuns(ctx context.Context, tenantID int64, f RunFilter) ([]models.ReactivationRun, error)
	SaveCheckpoint(ctx context.Context, c *models.Checkpoint) error
	// LatestCheckpoint returns nil without error when the run has none
	LatestCheckpoint(ctx context.Context, runID string) (*models.Checkpoint, error)
}

// Gateway is the full storage surface
type Gateway interface {
	MappingStore
	TenantStore
	LeadStore
	MessageStore
	SettingsStore
	DraftStore
	ActionStore
	EventStore
	AggregateStore
	FollowUpStore
	RunStore
}

type LeadFilter struct {
	Status      models.LeadStatus
	Temperature models.Temperature
	Limit       int
	Offset      int
}

type MessageFilter struct {
	LeadID    string
	Direction models.Direction
	Since     time.Time
	Limit     int
	Offset    int
}

type DraftFilter struct {
	Status models.DraftStatus
	LeadID string
	Limit  int
	Offset int
}

type ActionFilter struct {
	Since  time.Time
	Action models.Action
	LeadID string
	Limit  int
	Offset int
}

// EventFilter selects events with From <= created_at < To
type EventFilter struct {
	From       time.Time
	To         time.Time
	Types      []models.LearningEventType
	TemplateID string
	UserID     string
	LeadID     string
	Limit      int
}

type AggregateFilter struct {
	Granularity models.Granularity
	From        time.Time
	To          time.Time
	TemplateID  string
	Channel     models.Channel
	Limit       int
}

type RunFilter struct {
	LeadID string
	Status models.RunStatus
	Limit  int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func (f EventFilter) hasType(t models.LearningEventType) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, v := range f.Types {
		if v == t {
			return true
		}
	}
	return false
}

// NormalizeKey puts the period bounds in UTC so equal instants compare equal
func NormalizeKey(k models.AggregateKey) models.AggregateKey {
	k.PeriodStart = k.PeriodStart.UTC()
	k.PeriodEnd = k.PeriodEnd.UTC()
	return k
}

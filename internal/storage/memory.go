package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/pkg/models"
)

// MemoryStore is a threadsafe in-memory Gateway for tests and local runs
type MemoryStore struct {
	mu sync.RWMutex

	tenants     map[int64]*models.Tenant
	nextTenant  int64
	mappings    map[string]*models.ChannelMapping // channel|external_account_id
	leads       map[string]*models.Lead
	leadKeys    map[string]string // tenant|channel|external_id -> lead id
	messages    []*models.Message
	msgKeys     map[string]string // channel|external_id -> message id
	msgByID     map[string]*models.Message
	settings    map[int64]models.AutopilotSettings
	overrides   map[string]*models.LeadOverride
	drafts      map[string]*models.Draft
	actions     []*models.ActionLog
	events      []*models.LearningEvent
	eventByID   map[string]*models.LearningEvent
	aggregates  map[models.AggregateKey]*models.LearningAggregate
	templates   map[string]*models.TemplatePerformance // tenant|template
	followUps   map[string]*models.FollowUpTask
	runs        map[string]*models.ReactivationRun
	checkpoints map[string][]*models.Checkpoint

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[int64]*models.Tenant),
		mappings:    make(map[string]*models.ChannelMapping),
		leads:       make(map[string]*models.Lead),
		leadKeys:    make(map[string]string),
		msgKeys:     make(map[string]string),
		msgByID:     make(map[string]*models.Message),
		settings:    make(map[int64]models.AutopilotSettings),
		overrides:   make(map[string]*models.LeadOverride),
		drafts:      make(map[string]*models.Draft),
		eventByID:   make(map[string]*models.LearningEvent),
		aggregates:  make(map[models.AggregateKey]*models.LearningAggregate),
		templates:   make(map[string]*models.TemplatePerformance),
		followUps:   make(map[string]*models.FollowUpTask),
		runs:        make(map[string]*models.ReactivationRun),
		checkpoints: make(map[string][]*models.Checkpoint),
		now:         time.Now,
	}
}

// SetClock replaces the store's time source
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

var _ Gateway = (*MemoryStore)(nil)

func mappingKey(ch models.Channel, account string) string { return string(ch) + "|" + account }

func (s *MemoryStore) UpsertMapping(ctx context.Context, m *models.ChannelMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mappingKey(m.Channel, m.ExternalAccountID)
	if old, ok := s.mappings[key]; ok && old.IsActive && old.TenantID != m.TenantID && m.IsActive {
		return apperr.E(apperr.KindConflict, "storage.UpsertMapping", fmt.Errorf("account %s already mapped", m.ExternalAccountID))
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	cp := *m
	s.mappings[key] = &cp
	return nil
}

func (s *MemoryStore) GetTenantForExternal(ctx context.Context, channel models.Channel, externalAccountID string) (*models.ChannelMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mappings[mappingKey(channel, externalAccountID)]
	if !ok || !m.IsActive {
		return nil, apperr.E(apperr.KindNoTenantMapping, "storage.GetTenantForExternal", fmt.Errorf("%s account %q", channel, externalAccountID))
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		s.nextTenant++
		t.ID = s.nextTenant
	} else if t.ID > s.nextTenant {
		s.nextTenant = t.ID
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, apperr.NotFound("storage.GetTenant", "tenant")
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func leadKey(tenantID int64, ch models.Channel, externalID string) string {
	return fmt.Sprintf("%d|%s|%s", tenantID, ch, externalID)
}

func (s *MemoryStore) FindOrCreateLead(ctx context.Context, tenantID int64, channel models.Channel, externalID, name string) (*models.Lead, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := leadKey(tenantID, channel, externalID)
	if id, ok := s.leadKeys[key]; ok {
		return cloneLead(s.leads[id]), false, nil
	}
	now := s.now()
	if name == "" {
		name = placeholderName(externalID)
	}
	l := &models.Lead{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Channel:     channel,
		ExternalID:  externalID,
		Name:        name,
		Status:      models.LeadStatusNew,
		Temperature: models.TemperatureWarm,
		PersonaType: models.PersonaUnknown,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.leads[l.ID] = l
	s.leadKeys[key] = l.ID
	return cloneLead(l), true, nil
}

func (s *MemoryStore) GetLead(ctx context.Context, tenantID int64, leadID string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[leadID]
	if !ok || l.TenantID != tenantID {
		return nil, apperr.NotFound("storage.GetLead", "lead")
	}
	return cloneLead(l), nil
}

func (s *MemoryStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.leads[lead.ID]
	if !ok || old.TenantID != lead.TenantID {
		return apperr.NotFound("storage.UpdateLead", "lead")
	}
	cp := cloneLead(lead)
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = s.now()
	s.leads[lead.ID] = cp
	return nil
}

func (s *MemoryStore) ArchiveLead(ctx context.Context, tenantID int64, leadID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok || l.TenantID != tenantID {
		return apperr.NotFound("storage.ArchiveLead", "lead")
	}
	l.Status = models.LeadStatusArchived
	l.StatusReason = reason
	l.WaitingForReply = false
	l.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ListLeads(ctx context.Context, tenantID int64, f LeadFilter) ([]models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Lead
	for _, l := range s.leads {
		if l.TenantID != tenantID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.Temperature != "" && l.Temperature != f.Temperature {
			continue
		}
		out = append(out, *cloneLead(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return page(out, f.Offset, f.Limit), nil
}

func (s *MemoryStore) GhostCandidates(ctx context.Context, tenantID int64, cutoff time.Time) ([]models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Lead
	for _, l := range s.leads {
		if l.TenantID != tenantID || !l.WaitingForReply || l.LastOutboundAt == nil {
			continue
		}
		if l.Status == models.LeadStatusArchived || l.Status == models.LeadStatusWon || l.Status == models.LeadStatusLost {
			continue
		}
		if l.LastOutboundAt.Before(cutoff) {
			out = append(out, *cloneLead(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastOutboundAt.Before(*out[j].LastOutboundAt) })
	return out, nil
}

func (s *MemoryStore) DormantLeads(ctx context.Context, tenantID int64, cutoff time.Time, limit int) ([]models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Lead
	for _, l := range s.leads {
		if l.TenantID != tenantID {
			continue
		}
		if l.Status == models.LeadStatusArchived || l.Status == models.LeadStatusWon {
			continue
		}
		if l.Status == models.LeadStatusDormant || l.LastInteractionAt().Before(cutoff) {
			out = append(out, *cloneLead(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastInteractionAt().Before(out[j].LastInteractionAt()) })
	return page(out, 0, limit), nil
}

func msgKey(ch models.Channel, externalID string) string { return string(ch) + "|" + externalID }

func (s *MemoryStore) AppendMessage(ctx context.Context, m *models.Message) (*models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ExternalID != "" {
		if id, ok := s.msgKeys[msgKey(m.Channel, m.ExternalID)]; ok {
			cp := *s.msgByID[id]
			return &cp, true, nil
		}
	}
	l, ok := s.leads[m.LeadID]
	if !ok || l.TenantID != m.TenantID {
		return nil, false, apperr.NotFound("storage.AppendMessage", "lead")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	cp := *m
	s.messages = append(s.messages, &cp)
	s.msgByID[cp.ID] = &cp
	if m.ExternalID != "" {
		s.msgKeys[msgKey(m.Channel, m.ExternalID)] = cp.ID
	}
	touchLead(l, &cp)
	l.UpdatedAt = s.now()
	out := cp
	return &out, false, nil
}

// touchLead updates the interaction counters a new message implies
func touchLead(l *models.Lead, m *models.Message) {
	ts := m.Timestamp
	l.InteractionCount++
	switch m.Direction {
	case models.DirectionInbound:
		l.LastInboundAt = &ts
		l.WaitingForReply = false
	case models.DirectionOutbound:
		l.LastOutboundAt = &ts
		l.WaitingForReply = true
		if l.Status == models.LeadStatusNew {
			l.Status = models.LeadStatusContacted
		}
	}
}

func (s *MemoryStore) ListMessages(ctx context.Context, tenantID int64, f MessageFilter) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.TenantID != tenantID {
			continue
		}
		if f.LeadID != "" && m.LeadID != f.LeadID {
			continue
		}
		if f.Direction != "" && m.Direction != f.Direction {
			continue
		}
		if !f.Since.IsZero() && m.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return page(out, f.Offset, f.Limit), nil
}

func (s *MemoryStore) LoadLeadContext(ctx context.Context, tenantID int64, leadID string, limit int) (*models.LeadContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[leadID]
	if !ok || l.TenantID != tenantID {
		return nil, apperr.NotFound("storage.LoadLeadContext", "lead")
	}
	var recent []models.Message
	for _, m := range s.messages {
		if m.LeadID == leadID {
			recent = append(recent, *m)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Timestamp.Before(recent[j].Timestamp) })
	if limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	lc := contextFromLead(l, recent)
	if o, ok := s.overrides[leadID]; ok {
		lc.IsVIP = o.IsVIP
	}
	return lc, nil
}

// contextFromLead applies the documented defaults to a stored lead
func contextFromLead(l *models.Lead, recent []models.Message) *models.LeadContext {
	lc := models.DefaultLeadContext()
	lc.LeadID = l.ID
	lc.TenantID = l.TenantID
	lc.Name = l.Name
	lc.Company = l.Company
	lc.Industry = l.Industry
	if l.Status != "" {
		lc.Status = l.Status
	}
	if l.Temperature != "" {
		lc.Temperature = l.Temperature
	}
	if l.PersonaType != "" {
		lc.PersonaType = l.PersonaType
	}
	if l.PreferredFormality != "" {
		lc.PreferredFormality = l.PreferredFormality
	}
	lc.PreferredChannel = l.PreferredChannel
	if lc.PreferredChannel == "" {
		lc.PreferredChannel = l.Channel
	}
	lc.InteractionCount = l.InteractionCount
	lc.LastInboundAt = l.LastInboundAt
	lc.LastOutboundAt = l.LastOutboundAt
	lc.HasComplaints = l.HasComplaints
	lc.EstimatedValue = l.EstimatedValue
	lc.HasEmailConsent = l.HasEmailConsent
	lc.HasLinkedInConnection = l.HasLinkedInConnection
	lc.PainPoints = append([]string{}, l.PainPoints...)
	lc.Objections = append([]string{}, l.Objections...)
	if recent != nil {
		lc.RecentMessages = recent
	}
	return &lc
}

func (s *MemoryStore) LoadSettings(ctx context.Context, tenantID int64) (models.AutopilotSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.settings[tenantID]; ok {
		return st, nil
	}
	return models.DefaultSettings(tenantID), nil
}

func (s *MemoryStore) SaveSettings(ctx context.Context, st models.AutopilotSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.UpdatedAt = s.now()
	s.settings[st.TenantID] = st
	return nil
}

func (s *MemoryStore) LoadOverride(ctx context.Context, tenantID int64, leadID string) (*models.LeadOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[leadID]
	if !ok || o.TenantID != tenantID {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) SaveOverride(ctx context.Context, o *models.LeadOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[o.LeadID]
	if !ok || l.TenantID != o.TenantID {
		return apperr.NotFound("storage.SaveOverride", "lead")
	}
	o.UpdatedAt = s.now()
	cp := *o
	s.overrides[o.LeadID] = &cp
	return nil
}

func (s *MemoryStore) DeleteOverride(ctx context.Context, tenantID int64, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[leadID]
	if !ok || o.TenantID != tenantID {
		return apperr.NotFound("storage.DeleteOverride", "override")
	}
	delete(s.overrides, leadID)
	return nil
}

func (s *MemoryStore) SaveDraft(ctx context.Context, d *models.Draft) (*models.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var superseded *models.Draft
	for _, old := range s.drafts {
		if old.LeadID == d.LeadID && old.TenantID == d.TenantID && old.Status == models.DraftPending {
			old.Status = models.DraftSuperseded
			t := now
			old.ReviewedAt = &t
			superseded = cloneDraft(old)
		}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.ExpiresAt.IsZero() {
		d.ExpiresAt = d.CreatedAt.Add(models.DraftTTL)
	}
	d.Status = models.DraftPending
	s.drafts[d.ID] = cloneDraft(d)
	return superseded, nil
}

func (s *MemoryStore) GetDraft(ctx context.Context, tenantID int64, id string) (*models.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[id]
	if !ok || d.TenantID != tenantID {
		return nil, apperr.NotFound("storage.GetDraft", "draft")
	}
	return cloneDraft(d), nil
}

func (s *MemoryStore) ListDrafts(ctx context.Context, tenantID int64, f DraftFilter) ([]models.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Draft
	for _, d := range s.drafts {
		if d.TenantID != tenantID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.LeadID != "" && d.LeadID != f.LeadID {
			continue
		}
		out = append(out, *cloneDraft(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Offset, f.Limit), nil
}

func (s *MemoryStore) ReviewDraft(ctx context.Context, tenantID int64, id string, status models.DraftStatus, editedContent, notes string) (*models.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok || d.TenantID != tenantID {
		return nil, apperr.NotFound("storage.ReviewDraft", "draft")
	}
	if d.Status != models.DraftPending {
		return nil, apperr.E(apperr.KindConflict, "storage.ReviewDraft", fmt.Errorf("draft is %s", d.Status))
	}
	now := s.now()
	d.Status = status
	d.EditedContent = editedContent
	d.ReviewerNotes = notes
	d.ReviewedAt = &now
	return cloneDraft(d), nil
}

func (s *MemoryStore) ExpireDrafts(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.drafts {
		if d.Status == models.DraftPending && !d.ExpiresAt.After(now) {
			d.Status = models.DraftExpired
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendAction(ctx context.Context, a *models.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.MessageID != "" {
		for _, old := range s.actions {
			if old.MessageID == a.MessageID {
				return apperr.E(apperr.KindConflict, "storage.AppendAction", fmt.Errorf("message %s already decided", a.MessageID))
			}
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	cp := *a
	s.actions = append(s.actions, &cp)
	return nil
}

func (s *MemoryStore) ListActions(ctx context.Context, tenantID int64, f ActionFilter) ([]models.ActionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ActionLog
	for _, a := range s.actions {
		if a.TenantID != tenantID {
			continue
		}
		if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
			continue
		}
		if f.Action != "" && a.Action != f.Action {
			continue
		}
		if f.LeadID != "" && a.LeadID != f.LeadID {
			continue
		}
		out = append(out, *a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Offset, f.Limit), nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, e *models.LearningEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	cp := cloneEvent(e)
	s.events = append(s.events, cp)
	s.eventByID[cp.ID] = cp
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, tenantID int64, id string) (*models.LearningEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.eventByID[id]
	if !ok || e.TenantID != tenantID {
		return nil, apperr.NotFound("storage.GetEvent", "event")
	}
	return cloneEvent(e), nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, tenantID int64, f EventFilter) ([]models.LearningEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LearningEvent
	for _, e := range s.events {
		if e.TenantID != tenantID || !f.hasType(e.EventType) {
			continue
		}
		if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
			continue
		}
		if f.TemplateID != "" && e.TemplateID != f.TemplateID {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.LeadID != "" && e.LeadID != f.LeadID {
			continue
		}
		out = append(out, *cloneEvent(e))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) AttachOutcome(ctx context.Context, tenantID int64, eventID string, o models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.eventByID[eventID]
	if !ok || e.TenantID != tenantID {
		return apperr.NotFound("storage.AttachOutcome", "event")
	}
	if e.Outcome != nil {
		return apperr.E(apperr.KindConflict, "storage.AttachOutcome", fmt.Errorf("outcome already attached to %s", eventID))
	}
	oc := o
	e.Outcome = &oc
	return nil
}

func (s *MemoryStore) UpsertAggregate(ctx context.Context, a *models.LearningAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneAggregate(a)
	cp.AggregateKey = NormalizeKey(a.AggregateKey)
	s.aggregates[cp.AggregateKey] = cp
	return nil
}

func (s *MemoryStore) ListAggregates(ctx context.Context, tenantID int64, f AggregateFilter) ([]models.LearningAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LearningAggregate
	for k, a := range s.aggregates {
		if k.TenantID != tenantID {
			continue
		}
		if f.Granularity != "" && k.Granularity != f.Granularity {
			continue
		}
		if !f.From.IsZero() && k.PeriodStart.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && k.PeriodEnd.After(f.To) {
			continue
		}
		if f.TemplateID != "" && k.TemplateID != f.TemplateID {
			continue
		}
		if f.Channel != "" && k.Channel != f.Channel {
			continue
		}
		out = append(out, *cloneAggregate(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return page(out, 0, f.Limit), nil
}

func templateKey(tenantID int64, templateID string) string {
	return fmt.Sprintf("%d|%s", tenantID, templateID)
}

func (s *MemoryStore) UpsertTemplatePerformance(ctx context.Context, p *models.TemplatePerformance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.templates[templateKey(p.TenantID, p.TemplateID)] = &cp
	return nil
}

func (s *MemoryStore) GetTemplatePerformance(ctx context.Context, tenantID int64, templateID string) (*models.TemplatePerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.templates[templateKey(tenantID, templateID)]
	if !ok {
		return nil, apperr.NotFound("storage.GetTemplatePerformance", "template")
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListTemplatePerformance(ctx context.Context, tenantID int64) ([]models.TemplatePerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TemplatePerformance
	for _, p := range s.templates {
		if p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateID < out[j].TemplateID })
	return out, nil
}

func (s *MemoryStore) ScheduleFollowUp(ctx context.Context, t *models.FollowUpTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.FollowUpPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	cp := *t
	s.followUps[t.ID] = &cp
	return nil
}

func (s *MemoryStore) DueFollowUps(ctx context.Context, tenantID int64, before time.Time) ([]models.FollowUpTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FollowUpTask
	for _, t := range s.followUps {
		if t.TenantID == tenantID && t.Status == models.FollowUpPending && !t.ScheduledFor.After(before) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (s *MemoryStore) UpdateFollowUpStatus(ctx context.Context, tenantID int64, id string, status models.FollowUpStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.followUps[id]
	if !ok || t.TenantID != tenantID {
		return apperr.NotFound("storage.UpdateFollowUpStatus", "follow-up")
	}
	t.Status = status
	if status != models.FollowUpPending {
		now := s.now()
		t.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) CreateRun(ctx context.Context, r *models.ReactivationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = s.now()
	}
	cp := cloneRun(r)
	s.runs[r.ID] = cp
	return nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, r *models.ReactivationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.runs[r.ID]
	if !ok || old.TenantID != r.TenantID {
		return apperr.NotFound("storage.UpdateRun", "run")
	}
	s.runs[r.ID] = cloneRun(r)
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, tenantID int64, id string) (*models.ReactivationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok || r.TenantID != tenantID {
		return nil, apperr.NotFound("storage.GetRun", "run")
	}
	return cloneRun(r), nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, tenantID int64, f RunFilter) ([]models.ReactivationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ReactivationRun
	for _, r := range s.runs {
		if r.TenantID != tenantID {
			continue
		}
		if f.LeadID != "" && r.LeadID != f.LeadID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, *cloneRun(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, 0, f.Limit), nil
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, c *models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	cp := *c
	cp.State = append([]byte(nil), c.State...)
	s.checkpoints[c.RunID] = append(s.checkpoints[c.RunID], &cp)
	return nil
}

func (s *MemoryStore) LatestCheckpoint(ctx context.Context, runID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.checkpoints[runID]
	if len(list) == 0 {
		return nil, nil
	}
	cp := *list[len(list)-1]
	cp.State = append([]byte(nil), cp.State...)
	return &cp, nil
}

func page[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return []T{}
		}
		in = in[offset:]
	}
	limit = clampLimit(limit)
	if len(in) > limit {
		in = in[:limit]
	}
	if in == nil {
		return []T{}
	}
	return in
}

func placeholderName(externalID string) string {
	id := externalID
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return "Lead " + id
}

func cloneLead(l *models.Lead) *models.Lead {
	if l == nil {
		return nil
	}
	cp := *l
	cp.PainPoints = append([]string(nil), l.PainPoints...)
	cp.Objections = append([]string(nil), l.Objections...)
	if l.LastInboundAt != nil {
		t := *l.LastInboundAt
		cp.LastInboundAt = &t
	}
	if l.LastOutboundAt != nil {
		t := *l.LastOutboundAt
		cp.LastOutboundAt = &t
	}
	return &cp
}

func cloneDraft(d *models.Draft) *models.Draft {
	cp := *d
	cp.Signals = append([]models.Signal(nil), d.Signals...)
	if d.ReviewedAt != nil {
		t := *d.ReviewedAt
		cp.ReviewedAt = &t
	}
	return &cp
}

func cloneEvent(e *models.LearningEvent) *models.LearningEvent {
	cp := *e
	if e.UserAction != nil {
		ua := *e.UserAction
		cp.UserAction = &ua
	}
	if e.Outcome != nil {
		o := *e.Outcome
		cp.Outcome = &o
	}
	if e.LearningSignals != nil {
		cp.LearningSignals = make(map[string]any, len(e.LearningSignals))
		for k, v := range e.LearningSignals {
			cp.LearningSignals[k] = v
		}
	}
	return &cp
}

func cloneAggregate(a *models.LearningAggregate) *models.LearningAggregate {
	cp := *a
	cp.ChannelBreakdown = make(map[models.Channel]models.ChannelStats, len(a.ChannelBreakdown))
	for k, v := range a.ChannelBreakdown {
		cp.ChannelBreakdown[k] = v
	}
	cp.CategoryBreakdown = make(map[string]int, len(a.CategoryBreakdown))
	for k, v := range a.CategoryBreakdown {
		cp.CategoryBreakdown[k] = v
	}
	return &cp
}

func cloneRun(r *models.ReactivationRun) *models.ReactivationRun {
	cp := *r
	cp.FinalState = append([]byte(nil), r.FinalState...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

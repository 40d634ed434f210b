package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/pkg/models"
)

// PostgresStore implements Gateway over database/sql with lib/pq
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

var _ Gateway = (*PostgresStore)(nil)

const uniqueViolation = "23505"

// classify maps driver errors onto the error taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.E(apperr.KindNotFound, op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperr.E(apperr.KindConflict, op, err)
	}
	return apperr.Storage(op, err)
}

func (s *PostgresStore) UpsertMapping(ctx context.Context, m *models.ChannelMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO channel_mappings (id, tenant_id, channel, external_account_id, webhook_secret, is_active)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (id) DO UPDATE SET webhook_secret=EXCLUDED.webhook_secret, is_active=EXCLUDED.is_active
        RETURNING created_at
    `, m.ID, m.TenantID, string(m.Channel), m.ExternalAccountID, m.WebhookSecret, m.IsActive).Scan(&m.CreatedAt)
	return classify("storage.UpsertMapping", err)
}

func (s *PostgresStore) GetTenantForExternal(ctx context.Context, channel models.Channel, externalAccountID string) (*models.ChannelMapping, error) {
	var m models.ChannelMapping
	var ch string
	err := s.db.QueryRowContext(ctx, `
        SELECT id, tenant_id, channel, external_account_id, webhook_secret, is_active, created_at
        FROM channel_mappings WHERE channel=$1 AND external_account_id=$2 AND is_active
    `, string(channel), externalAccountID).Scan(&m.ID, &m.TenantID, &ch, &m.ExternalAccountID, &m.WebhookSecret, &m.IsActive, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.E(apperr.KindNoTenantMapping, "storage.GetTenantForExternal", fmt.Errorf("%s account %q", channel, externalAccountID))
	}
	if err != nil {
		return nil, apperr.Storage("storage.GetTenantForExternal", err)
	}
	m.Channel = models.Channel(ch)
	return &m, nil
}

func (s *PostgresStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO tenants (name, display_name) VALUES ($1,$2) RETURNING id, created_at
    `, t.Name, t.DisplayName).Scan(&t.ID, &t.CreatedAt)
	return classify("storage.CreateTenant", err)
}

func (s *PostgresStore) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRowContext(ctx, `SELECT id, name, display_name, created_at FROM tenants WHERE id=$1`, id).
		Scan(&t.ID, &t.Name, &t.DisplayName, &t.CreatedAt)
	if err != nil {
		return nil, classify("storage.GetTenant", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, display_name, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, apperr.Storage("storage.ListTenants", err)
	}
	defer rows.Close()
	out := make([]models.Tenant, 0)
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.DisplayName, &t.CreatedAt); err != nil {
			return nil, apperr.Storage("storage.ListTenants", err)
		}
		out = append(out, t)
	}
	return out, apperr.Storage("storage.ListTenants", rows.Err())
}

const leadColumns = `id, tenant_id, channel, external_id, name, email, company, industry, position, status, status_reason,
        temperature, estimated_value, persona_type, preferred_formality, preferred_channel, has_email_consent,
        has_linkedin_connection, has_complaints, waiting_for_reply, pain_points, objections, interaction_count,
        last_inbound_at, last_outbound_at, created_at, updated_at`

func scanLead(scanner interface{ Scan(dest ...any) error }) (*models.Lead, error) {
	var l models.Lead
	var ch, status, temp, persona, formality, prefCh string
	var pains, objections []string
	var lastIn, lastOut sql.NullTime
	if err := scanner.Scan(&l.ID, &l.TenantID, &ch, &l.ExternalID, &l.Name, &l.Email, &l.Company, &l.Industry, &l.Position,
		&status, &l.StatusReason, &temp, &l.EstimatedValue, &persona, &formality, &prefCh, &l.HasEmailConsent,
		&l.HasLinkedInConnection, &l.HasComplaints, &l.WaitingForReply, pq.Array(&pains), pq.Array(&objections),
		&l.InteractionCount, &lastIn, &lastOut, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Channel = models.Channel(ch)
	l.Status = models.LeadStatus(status)
	l.Temperature = models.Temperature(temp)
	l.PersonaType = models.PersonaType(persona)
	l.PreferredFormality = models.Formality(formality)
	l.PreferredChannel = models.Channel(prefCh)
	l.PainPoints = append([]string(nil), pains...)
	l.Objections = append([]string(nil), objections...)
	if lastIn.Valid {
		t := lastIn.Time
		l.LastInboundAt = &t
	}
	if lastOut.Valid {
		t := lastOut.Time
		l.LastOutboundAt = &t
	}
	return &l, nil
}

func (s *PostgresStore) queryLeads(ctx context.Context, op, query string, args ...any) ([]models.Lead, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()
	out := make([]models.Lead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, apperr.Storage(op, err)
		}
		out = append(out, *l)
	}
	return out, apperr.Storage(op, rows.Err())
}

func (s *PostgresStore) FindOrCreateLead(ctx context.Context, tenantID int64, channel models.Channel, externalID, name string) (*models.Lead, bool, error) {
	if name == "" {
		name = placeholderName(externalID)
	}
	var id string
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO leads (id, tenant_id, channel, external_id, name)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (tenant_id, channel, external_id) DO NOTHING
        RETURNING id
    `, uuid.NewString(), tenantID, string(channel), externalID, name).Scan(&id)
	created := true
	if errors.Is(err, sql.ErrNoRows) {
		created = false
	} else if err != nil {
		return nil, false, apperr.Storage("storage.FindOrCreateLead", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE tenant_id=$1 AND channel=$2 AND external_id=$3`,
		tenantID, string(channel), externalID)
	l, err := scanLead(row)
	if err != nil {
		return nil, false, classify("storage.FindOrCreateLead", err)
	}
	return l, created, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, tenantID int64, leadID string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE tenant_id=$1 AND id=$2`, tenantID, leadID)
	l, err := scanLead(row)
	if err != nil {
		return nil, classify("storage.GetLead", err)
	}
	return l, nil
}

func (s *PostgresStore) UpdateLead(ctx context.Context, l *models.Lead) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE leads SET name=$1, email=$2, company=$3, industry=$4, position=$5, status=$6, status_reason=$7,
            temperature=$8, estimated_value=$9, persona_type=$10, preferred_formality=$11, preferred_channel=$12,
            has_email_consent=$13, has_linkedin_connection=$14, has_complaints=$15, waiting_for_reply=$16,
            pain_points=$17, objections=$18, updated_at=now()
        WHERE tenant_id=$19 AND id=$20
    `, l.Name, l.Email, l.Company, l.Industry, l.Position, string(l.Status), l.StatusReason, string(l.Temperature),
		l.EstimatedValue, string(l.PersonaType), string(l.PreferredFormality), string(l.PreferredChannel),
		l.HasEmailConsent, l.HasLinkedInConnection, l.HasComplaints, l.WaitingForReply,
		pq.Array(ensureSliceNotNil(l.PainPoints)), pq.Array(ensureSliceNotNil(l.Objections)), l.TenantID, l.ID)
	return affected("storage.UpdateLead", "lead", res, err)
}

func (s *PostgresStore) ArchiveLead(ctx context.Context, tenantID int64, leadID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE leads SET status='archived', status_reason=$1, waiting_for_reply=FALSE, updated_at=now()
        WHERE tenant_id=$2 AND id=$3
    `, reason, tenantID, leadID)
	return affected("storage.ArchiveLead", "lead", res, err)
}

func (s *PostgresStore) ListLeads(ctx context.Context, tenantID int64, f LeadFilter) ([]models.Lead, error) {
	return s.queryLeads(ctx, "storage.ListLeads", `
        SELECT `+leadColumns+` FROM leads
        WHERE tenant_id=$1 AND ($2='' OR status=$2) AND ($3='' OR temperature=$3)
        ORDER BY updated_at DESC, id LIMIT $4 OFFSET $5
    `, tenantID, string(f.Status), string(f.Temperature), clampLimit(f.Limit), max(f.Offset, 0))
}

func (s *PostgresStore) GhostCandidates(ctx context.Context, tenantID int64, cutoff time.Time) ([]models.Lead, error) {
	return s.queryLeads(ctx, "storage.GhostCandidates", `
        SELECT `+leadColumns+` FROM leads
        WHERE tenant_id=$1 AND waiting_for_reply AND last_outbound_at < $2
          AND status NOT IN ('archived','won','lost')
        ORDER BY last_outbound_at
    `, tenantID, cutoff)
}

func (s *PostgresStore) DormantLeads(ctx context.Context, tenantID int64, cutoff time.Time, limit int) ([]models.Lead, error) {
	return s.queryLeads(ctx, "storage.DormantLeads", `
        SELECT `+leadColumns+` FROM leads
        WHERE tenant_id=$1 AND status NOT IN ('archived','won')
          AND (status='dormant' OR GREATEST(coalesce(last_inbound_at, created_at), coalesce(last_outbound_at, created_at)) < $2)
        ORDER BY GREATEST(coalesce(last_inbound_at, created_at), coalesce(last_outbound_at, created_at))
        LIMIT $3
    `, tenantID, cutoff, clampLimit(limit))
}

const messageColumns = `id, tenant_id, lead_id, channel, direction, content_type, text, media_url, coalesce(external_id,''),
        auto_sent, user_approved, raw_payload, timestamp`

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*models.Message, error) {
	var m models.Message
	var ch, dir string
	var raw []byte
	if err := scanner.Scan(&m.ID, &m.TenantID, &m.LeadID, &ch, &dir, &m.ContentType, &m.Text, &m.MediaURL, &m.ExternalID,
		&m.AutoSent, &m.UserApproved, &raw, &m.Timestamp); err != nil {
		return nil, err
	}
	m.Channel = models.Channel(ch)
	m.Direction = models.Direction(dir)
	if len(raw) > 0 {
		m.RawPayload = append(json.RawMessage(nil), raw...)
	}
	return &m, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, m *models.Message) (*models.Message, bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	var raw any
	if len(m.RawPayload) > 0 {
		raw = []byte(m.RawPayload)
	}
	var id string
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO messages (id, tenant_id, lead_id, channel, direction, content_type, text, media_url, external_id, auto_sent, user_approved, raw_payload, timestamp)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (channel, external_id) WHERE external_id IS NOT NULL DO NOTHING
        RETURNING id
    `, m.ID, m.TenantID, m.LeadID, string(m.Channel), string(m.Direction), m.ContentType, m.Text, m.MediaURL,
		nullIfEmpty(m.ExternalID), m.AutoSent, m.UserApproved, raw, m.Timestamp).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE channel=$1 AND external_id=$2`,
			string(m.Channel), m.ExternalID)
		existing, err := scanMessage(row)
		if err != nil {
			return nil, false, classify("storage.AppendMessage", err)
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, classify("storage.AppendMessage", err)
	}

	if _, err := s.db.ExecContext(ctx, `
        UPDATE leads SET interaction_count = interaction_count + 1,
            last_inbound_at  = CASE WHEN $1='inbound'  THEN $2 ELSE last_inbound_at END,
            last_outbound_at = CASE WHEN $1='outbound' THEN $2 ELSE last_outbound_at END,
            waiting_for_reply = ($1='outbound'),
            status = CASE WHEN $1='outbound' AND status='new' THEN 'contacted' ELSE status END,
            updated_at = now()
        WHERE id=$3
    `, string(m.Direction), m.Timestamp, m.LeadID); err != nil {
		return nil, false, apperr.Storage("storage.AppendMessage", err)
	}
	cp := *m
	return &cp, false, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, tenantID int64, f MessageFilter) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+messageColumns+` FROM messages
        WHERE tenant_id=$1 AND ($2='' OR lead_id::text=$2) AND ($3='' OR direction=$3) AND timestamp >= $4
        ORDER BY timestamp DESC, id LIMIT $5 OFFSET $6
    `, tenantID, f.LeadID, string(f.Direction), f.Since, clampLimit(f.Limit), max(f.Offset, 0))
	if err != nil {
		return nil, apperr.Storage("storage.ListMessages", err)
	}
	defer rows.Close()
	out := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Storage("storage.ListMessages", err)
		}
		out = append(out, *m)
	}
	return out, apperr.Storage("storage.ListMessages", rows.Err())
}

func (s *PostgresStore) LoadLeadContext(ctx context.Context, tenantID int64, leadID string, limit int) (*models.LeadContext, error) {
	lead, err := s.GetLead(ctx, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	recent, err := s.ListMessages(ctx, tenantID, MessageFilter{LeadID: leadID, Limit: limit})
	if err != nil {
		return nil, err
	}
	// newest first from the query; the context wants chronological order
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	lc := contextFromLead(lead, recent)
	o, err := s.LoadOverride(ctx, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	if o != nil {
		lc.IsVIP = o.IsVIP
	}
	return lc, nil
}

func (s *PostgresStore) LoadSettings(ctx context.Context, tenantID int64) (models.AutopilotSettings, error) {
	var raw []byte
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT settings, updated_at FROM autopilot_settings WHERE tenant_id=$1`, tenantID).Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultSettings(tenantID), nil
	}
	if err != nil {
		return models.AutopilotSettings{}, apperr.Storage("storage.LoadSettings", err)
	}
	st := models.DefaultSettings(tenantID)
	if err := json.Unmarshal(raw, &st); err != nil {
		return models.AutopilotSettings{}, apperr.Storage("storage.LoadSettings", err)
	}
	st.TenantID = tenantID
	st.UpdatedAt = updatedAt
	return st, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, st models.AutopilotSettings) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return apperr.Storage("storage.SaveSettings", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO autopilot_settings (tenant_id, settings, updated_at) VALUES ($1,$2,now())
        ON CONFLICT (tenant_id) DO UPDATE SET settings=EXCLUDED.settings, updated_at=now()
    `, st.TenantID, raw)
	return classify("storage.SaveSettings", err)
}

func (s *PostgresStore) LoadOverride(ctx context.Context, tenantID int64, leadID string) (*models.LeadOverride, error) {
	var o models.LeadOverride
	var mode string
	err := s.db.QueryRowContext(ctx, `
        SELECT lead_id, tenant_id, mode, is_vip, reason, updated_at FROM lead_overrides WHERE tenant_id=$1 AND lead_id=$2
    `, tenantID, leadID).Scan(&o.LeadID, &o.TenantID, &mode, &o.IsVIP, &o.Reason, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("storage.LoadOverride", err)
	}
	o.Mode = models.OverrideMode(mode)
	return &o, nil
}

func (s *PostgresStore) SaveOverride(ctx context.Context, o *models.LeadOverride) error {
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO lead_overrides (lead_id, tenant_id, mode, is_vip, reason, updated_at)
        SELECT $1, $2, $3, $4, $5, now() WHERE EXISTS (SELECT 1 FROM leads WHERE id=$1 AND tenant_id=$2)
        ON CONFLICT (lead_id) DO UPDATE SET mode=EXCLUDED.mode, is_vip=EXCLUDED.is_vip, reason=EXCLUDED.reason, updated_at=now()
        RETURNING updated_at
    `, o.LeadID, o.TenantID, string(o.Mode), o.IsVIP, o.Reason).Scan(&o.UpdatedAt)
	return classify("storage.SaveOverride", err)
}

func (s *PostgresStore) DeleteOverride(ctx context.Context, tenantID int64, leadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lead_overrides WHERE tenant_id=$1 AND lead_id=$2`, tenantID, leadID)
	return affected("storage.DeleteOverride", "override", res, err)
}

const draftColumns = `id, tenant_id, lead_id, source, intent, channel, content, user_prompt, status, confidence, template_id,
        signals, run_id, requires_review, reviewer_notes, edited_content, created_at, expires_at, reviewed_at`

func scanDraft(scanner interface{ Scan(dest ...any) error }) (*models.Draft, error) {
	var d models.Draft
	var source, intent, ch, status string
	var signals []byte
	var reviewed sql.NullTime
	if err := scanner.Scan(&d.ID, &d.TenantID, &d.LeadID, &source, &intent, &ch, &d.Content, &d.UserPrompt, &status,
		&d.Confidence, &d.TemplateID, &signals, &d.RunID, &d.RequiresReview, &d.ReviewerNotes, &d.EditedContent,
		&d.CreatedAt, &d.ExpiresAt, &reviewed); err != nil {
		return nil, err
	}
	d.Source = models.DraftSource(source)
	d.Intent = models.Intent(intent)
	d.Channel = models.Channel(ch)
	d.Status = models.DraftStatus(status)
	if len(signals) > 0 {
		if err := json.Unmarshal(signals, &d.Signals); err != nil {
			return nil, err
		}
	}
	if reviewed.Valid {
		t := reviewed.Time
		d.ReviewedAt = &t
	}
	return &d, nil
}

// SaveDraft supersedes and inserts in one transaction. The partial unique index on
// pending drafts makes a concurrent writer fail; it is retried once.
func (s *PostgresStore) SaveDraft(ctx context.Context, d *models.Draft) (*models.Draft, error) {
	superseded, err := s.saveDraftTx(ctx, d)
	if apperr.KindOf(err) == apperr.KindConflict {
		superseded, err = s.saveDraftTx(ctx, d)
	}
	return superseded, err
}

func (s *PostgresStore) saveDraftTx(ctx context.Context, d *models.Draft) (*models.Draft, error) {
	const op = "storage.SaveDraft"
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if d.ExpiresAt.IsZero() {
		d.ExpiresAt = d.CreatedAt.Add(models.DraftTTL)
	}
	d.Status = models.DraftPending
	var signals any
	if len(d.Signals) > 0 {
		raw, err := json.Marshal(d.Signals)
		if err != nil {
			return nil, apperr.Storage(op, err)
		}
		signals = raw
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer tx.Rollback()

	var superseded *models.Draft
	row := tx.QueryRowContext(ctx, `
        UPDATE drafts SET status='superseded', reviewed_at=now()
        WHERE tenant_id=$1 AND lead_id=$2 AND status='pending'
        RETURNING `+draftColumns, d.TenantID, d.LeadID)
	if old, err := scanDraft(row); err == nil {
		superseded = old
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Storage(op, err)
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO drafts (id, tenant_id, lead_id, source, intent, channel, content, user_prompt, status, confidence, template_id,
            signals, run_id, requires_review, created_at, expires_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',$9,$10,$11,$12,$13,$14,$15)
    `, d.ID, d.TenantID, d.LeadID, string(d.Source), string(d.Intent), string(d.Channel), d.Content, d.UserPrompt,
		d.Confidence, d.TemplateID, signals, d.RunID, d.RequiresReview, d.CreatedAt, d.ExpiresAt)
	if err != nil {
		return nil, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return superseded, nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, tenantID int64, id string) (*models.Draft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	d, err := scanDraft(row)
	if err != nil {
		return nil, classify("storage.GetDraft", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDrafts(ctx context.Context, tenantID int64, f DraftFilter) ([]models.Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+draftColumns+` FROM drafts
        WHERE tenant_id=$1 AND ($2='' OR status=$2) AND ($3='' OR lead_id::text=$3)
        ORDER BY created_at DESC, id LIMIT $4 OFFSET $5
    `, tenantID, string(f.Status), f.LeadID, clampLimit(f.Limit), max(f.Offset, 0))
	if err != nil {
		return nil, apperr.Storage("storage.ListDrafts", err)
	}
	defer rows.Close()
	out := make([]models.Draft, 0)
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, apperr.Storage("storage.ListDrafts", err)
		}
		out = append(out, *d)
	}
	return out, apperr.Storage("storage.ListDrafts", rows.Err())
}

func (s *PostgresStore) ReviewDraft(ctx context.Context, tenantID int64, id string, status models.DraftStatus, editedContent, notes string) (*models.Draft, error) {
	const op = "storage.ReviewDraft"
	row := s.db.QueryRowContext(ctx, `
        UPDATE drafts SET status=$1, edited_content=$2, reviewer_notes=$3, reviewed_at=now()
        WHERE tenant_id=$4 AND id=$5 AND status='pending'
        RETURNING `+draftColumns, string(status), editedContent, notes, tenantID, id)
	d, err := scanDraft(row)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Storage(op, err)
	}
	// distinguish a missing draft from one that already left pending
	existing, getErr := s.GetDraft(ctx, tenantID, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, apperr.E(apperr.KindConflict, op, fmt.Errorf("draft is %s", existing.Status))
}

func (s *PostgresStore) ExpireDrafts(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE drafts SET status='expired' WHERE status='pending' AND expires_at <= $1`, now)
	if err != nil {
		return 0, apperr.Storage("storage.ExpireDrafts", err)
	}
	n, err := res.RowsAffected()
	return int(n), apperr.Storage("storage.ExpireDrafts", err)
}

func (s *PostgresStore) AppendAction(ctx context.Context, a *models.ActionLog) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO action_logs (id, tenant_id, lead_id, message_id, action, intent, confidence, response_sent, reasoning, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `, a.ID, a.TenantID, a.LeadID, a.MessageID, string(a.Action), string(a.Intent), a.Confidence, a.ResponseSent, a.Reasoning, a.CreatedAt)
	return classify("storage.AppendAction", err)
}

func (s *PostgresStore) ListActions(ctx context.Context, tenantID int64, f ActionFilter) ([]models.ActionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, tenant_id, lead_id, message_id, action, intent, confidence, response_sent, reasoning, created_at
        FROM action_logs
        WHERE tenant_id=$1 AND created_at >= $2 AND ($3='' OR action=$3) AND ($4='' OR lead_id::text=$4)
        ORDER BY created_at DESC, id LIMIT $5 OFFSET $6
    `, tenantID, f.Since, string(f.Action), f.LeadID, clampLimit(f.Limit), max(f.Offset, 0))
	if err != nil {
		return nil, apperr.Storage("storage.ListActions", err)
	}
	defer rows.Close()
	out := make([]models.ActionLog, 0)
	for rows.Next() {
		var a models.ActionLog
		var action, intent string
		if err := rows.Scan(&a.ID, &a.TenantID, &a.LeadID, &a.MessageID, &action, &intent, &a.Confidence, &a.ResponseSent, &a.Reasoning, &a.CreatedAt); err != nil {
			return nil, apperr.Storage("storage.ListActions", err)
		}
		a.Action = models.Action(action)
		a.Intent = models.Intent(intent)
		out = append(out, a)
	}
	return out, apperr.Storage("storage.ListActions", rows.Err())
}

const eventColumns = `id, tenant_id, user_id, event_type, context_type, lead_id, template_id, template_category, channel, vertical,
        lead_status, lead_temperature, ai_decision, user_action, outcome, learning_signals, is_significant, created_at`

func scanEvent(scanner interface{ Scan(dest ...any) error }) (*models.LearningEvent, error) {
	var e models.LearningEvent
	var evType, ctxType, ch, status, temp string
	var decision, userAction, outcome, signals []byte
	if err := scanner.Scan(&e.ID, &e.TenantID, &e.UserID, &evType, &ctxType, &e.LeadID, &e.TemplateID, &e.TemplateCategory,
		&ch, &e.Vertical, &status, &temp, &decision, &userAction, &outcome, &signals, &e.IsSignificant, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.EventType = models.LearningEventType(evType)
	e.ContextType = models.ContextType(ctxType)
	e.Channel = models.Channel(ch)
	e.LeadStatus = models.LeadStatus(status)
	e.LeadTemperature = models.Temperature(temp)
	if err := json.Unmarshal(decision, &e.AIDecision); err != nil {
		return nil, err
	}
	if len(userAction) > 0 {
		e.UserAction = &models.UserAction{}
		if err := json.Unmarshal(userAction, e.UserAction); err != nil {
			return nil, err
		}
	}
	if len(outcome) > 0 {
		e.Outcome = &models.Outcome{}
		if err := json.Unmarshal(outcome, e.Outcome); err != nil {
			return nil, err
		}
	}
	if len(signals) > 0 {
		if err := json.Unmarshal(signals, &e.LearningSignals); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func marshalOptional(v any, isNil bool) (any, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *models.LearningEvent) error {
	const op = "storage.AppendEvent"
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	decision, err := json.Marshal(e.AIDecision)
	if err != nil {
		return apperr.Storage(op, err)
	}
	userAction, err := marshalOptional(e.UserAction, e.UserAction == nil)
	if err != nil {
		return apperr.Storage(op, err)
	}
	outcome, err := marshalOptional(e.Outcome, e.Outcome == nil)
	if err != nil {
		return apperr.Storage(op, err)
	}
	signals, err := marshalOptional(e.LearningSignals, e.LearningSignals == nil)
	if err != nil {
		return apperr.Storage(op, err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO learning_events (id, tenant_id, user_id, event_type, context_type, lead_id, template_id, template_category,
            channel, vertical, lead_status, lead_temperature, ai_decision, user_action, outcome, learning_signals, is_significant, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
    `, e.ID, e.TenantID, e.UserID, string(e.EventType), string(e.ContextType), e.LeadID, e.TemplateID, e.TemplateCategory,
		string(e.Channel), e.Vertical, string(e.LeadStatus), string(e.LeadTemperature), decision, userAction, outcome, signals,
		e.IsSignificant, e.CreatedAt)
	return classify(op, err)
}

func (s *PostgresStore) GetEvent(ctx context.Context, tenantID int64, id string) (*models.LearningEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM learning_events WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	e, err := scanEvent(row)
	if err != nil {
		return nil, classify("storage.GetEvent", err)
	}
	return e, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, tenantID int64, f EventFilter) ([]models.LearningEvent, error) {
	types := make([]string, 0, len(f.Types))
	for _, t := range f.Types {
		types = append(types, string(t))
	}
	to := f.To
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 1_000_000
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+eventColumns+` FROM learning_events
        WHERE tenant_id=$1 AND created_at >= $2 AND created_at < $3
          AND (cardinality($4::text[]) = 0 OR event_type = ANY($4))
          AND ($5='' OR template_id=$5) AND ($6='' OR user_id=$6) AND ($7='' OR lead_id=$7)
        ORDER BY created_at, id LIMIT $8
    `, tenantID, f.From, to, pq.Array(types), f.TemplateID, f.UserID, f.LeadID, limit)
	if err != nil {
		return nil, apperr.Storage("storage.ListEvents", err)
	}
	defer rows.Close()
	out := make([]models.LearningEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Storage("storage.ListEvents", err)
		}
		out = append(out, *e)
	}
	return out, apperr.Storage("storage.ListEvents", rows.Err())
}

func (s *PostgresStore) AttachOutcome(ctx context.Context, tenantID int64, eventID string, o models.Outcome) error {
	const op = "storage.AttachOutcome"
	raw, err := json.Marshal(o)
	if err != nil {
		return apperr.Storage(op, err)
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE learning_events SET outcome=$1 WHERE tenant_id=$2 AND id=$3 AND outcome IS NULL
    `, raw, tenantID, eventID)
	if err != nil {
		return apperr.Storage(op, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetEvent(ctx, tenantID, eventID); err != nil {
		return err
	}
	return apperr.E(apperr.KindConflict, op, fmt.Errorf("outcome already attached to %s", eventID))
}

func (s *PostgresStore) UpsertAggregate(ctx context.Context, a *models.LearningAggregate) error {
	k := NormalizeKey(a.AggregateKey)
	raw, err := json.Marshal(a)
	if err != nil {
		return apperr.Storage("storage.UpsertAggregate", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO learning_aggregates (tenant_id, granularity, period_start, period_end, template_id, channel, vertical, user_id, data, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
        ON CONFLICT (tenant_id, granularity, period_start, period_end, template_id, channel, vertical, user_id)
        DO UPDATE SET data=EXCLUDED.data, updated_at=now()
    `, k.TenantID, string(k.Granularity), k.PeriodStart, k.PeriodEnd, k.TemplateID, string(k.Channel), k.Vertical, k.UserID, raw)
	return classify("storage.UpsertAggregate", err)
}

func (s *PostgresStore) ListAggregates(ctx context.Context, tenantID int64, f AggregateFilter) ([]models.LearningAggregate, error) {
	to := f.To
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT data FROM learning_aggregates
        WHERE tenant_id=$1 AND ($2='' OR granularity=$2) AND period_start >= $3 AND period_end <= $4
          AND ($5='' OR template_id=$5) AND ($6='' OR channel=$6)
        ORDER BY period_start LIMIT $7
    `, tenantID, string(f.Granularity), f.From, to, f.TemplateID, string(f.Channel), clampLimit(f.Limit))
	if err != nil {
		return nil, apperr.Storage("storage.ListAggregates", err)
	}
	defer rows.Close()
	out := make([]models.LearningAggregate, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperr.Storage("storage.ListAggregates", err)
		}
		var a models.LearningAggregate
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, apperr.Storage("storage.ListAggregates", err)
		}
		out = append(out, a)
	}
	return out, apperr.Storage("storage.ListAggregates", rows.Err())
}

func (s *PostgresStore) UpsertTemplatePerformance(ctx context.Context, p *models.TemplatePerformance) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return apperr.Storage("storage.UpsertTemplatePerformance", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO template_performance (tenant_id, template_id, data, updated_at) VALUES ($1,$2,$3,now())
        ON CONFLICT (tenant_id, template_id) DO UPDATE SET data=EXCLUDED.data, updated_at=now()
    `, p.TenantID, p.TemplateID, raw)
	return classify("storage.UpsertTemplatePerformance", err)
}

func (s *PostgresStore) GetTemplatePerformance(ctx context.Context, tenantID int64, templateID string) (*models.TemplatePerformance, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM template_performance WHERE tenant_id=$1 AND template_id=$2`, tenantID, templateID).Scan(&raw)
	if err != nil {
		return nil, classify("storage.GetTemplatePerformance", err)
	}
	var p models.TemplatePerformance
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperr.Storage("storage.GetTemplatePerformance", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListTemplatePerformance(ctx context.Context, tenantID int64) ([]models.TemplatePerformance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM template_performance WHERE tenant_id=$1 ORDER BY template_id`, tenantID)
	if err != nil {
		return nil, apperr.Storage("storage.ListTemplatePerformance", err)
	}
	defer rows.Close()
	out := make([]models.TemplatePerformance, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperr.Storage("storage.ListTemplatePerformance", err)
		}
		var p models.TemplatePerformance
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, apperr.Storage("storage.ListTemplatePerformance", err)
		}
		out = append(out, p)
	}
	return out, apperr.Storage("storage.ListTemplatePerformance", rows.Err())
}

func (s *PostgresStore) ScheduleFollowUp(ctx context.Context, t *models.FollowUpTask) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.FollowUpPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO follow_up_tasks (id, tenant_id, lead_id, reason, content, scheduled_for, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `, t.ID, t.TenantID, t.LeadID, t.Reason, t.Content, t.ScheduledFor, string(t.Status), t.CreatedAt)
	return classify("storage.ScheduleFollowUp", err)
}

func (s *PostgresStore) DueFollowUps(ctx context.Context, tenantID int64, before time.Time) ([]models.FollowUpTask, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, tenant_id, lead_id, reason, content, scheduled_for, status, created_at, completed_at
        FROM follow_up_tasks WHERE tenant_id=$1 AND status='pending' AND scheduled_for <= $2
        ORDER BY scheduled_for
    `, tenantID, before)
	if err != nil {
		return nil, apperr.Storage("storage.DueFollowUps", err)
	}
	defer rows.Close()
	out := make([]models.FollowUpTask, 0)
	for rows.Next() {
		var t models.FollowUpTask
		var status string
		var completed sql.NullTime
		if err := rows.Scan(&t.ID, &t.TenantID, &t.LeadID, &t.Reason, &t.Content, &t.ScheduledFor, &status, &t.CreatedAt, &completed); err != nil {
			return nil, apperr.Storage("storage.DueFollowUps", err)
		}
		t.Status = models.FollowUpStatus(status)
		if completed.Valid {
			c := completed.Time
			t.CompletedAt = &c
		}
		out = append(out, t)
	}
	return out, apperr.Storage("storage.DueFollowUps", rows.Err())
}

func (s *PostgresStore) UpdateFollowUpStatus(ctx context.Context, tenantID int64, id string, status models.FollowUpStatus) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE follow_up_tasks SET status=$1, completed_at = CASE WHEN $1='pending' THEN NULL ELSE now() END
        WHERE tenant_id=$2 AND id=$3
    `, string(status), tenantID, id)
	return affected("storage.UpdateFollowUpStatus", "follow-up", res, err)
}

const runColumns = `id, tenant_id, lead_id, status, outcome, last_node, final_state, error, started_at, completed_at`

func scanRun(scanner interface{ Scan(dest ...any) error }) (*models.ReactivationRun, error) {
	var r models.ReactivationRun
	var status, outcome string
	var state []byte
	var completed sql.NullTime
	if err := scanner.Scan(&r.ID, &r.TenantID, &r.LeadID, &status, &outcome, &r.LastNode, &state, &r.Error, &r.StartedAt, &completed); err != nil {
		return nil, err
	}
	r.Status = models.RunStatus(status)
	r.Outcome = models.RunOutcome(outcome)
	r.FinalState = append([]byte(nil), state...)
	if completed.Valid {
		c := completed.Time
		r.CompletedAt = &c
	}
	return &r, nil
}

func jsonOrNull(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (s *PostgresStore) CreateRun(ctx context.Context, r *models.ReactivationRun) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO reactivation_runs (id, tenant_id, lead_id, status, outcome, last_node, final_state, error, started_at, completed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `, r.ID, r.TenantID, r.LeadID, string(r.Status), string(r.Outcome), r.LastNode, jsonOrNull(r.FinalState), r.Error, r.StartedAt, r.CompletedAt)
	return classify("storage.CreateRun", err)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, r *models.ReactivationRun) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE reactivation_runs SET status=$1, outcome=$2, last_node=$3, final_state=$4, error=$5, completed_at=$6
        WHERE tenant_id=$7 AND id=$8
    `, string(r.Status), string(r.Outcome), r.LastNode, jsonOrNull(r.FinalState), r.Error, r.CompletedAt, r.TenantID, r.ID)
	return affected("storage.UpdateRun", "run", res, err)
}

func (s *PostgresStore) GetRun(ctx context.Context, tenantID int64, id string) (*models.ReactivationRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM reactivation_runs WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	r, err := scanRun(row)
	if err != nil {
		return nil, classify("storage.GetRun", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, tenantID int64, f RunFilter) ([]models.ReactivationRun, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+runColumns+` FROM reactivation_runs
        WHERE tenant_id=$1 AND ($2='' OR lead_id::text=$2) AND ($3='' OR status=$3)
        ORDER BY started_at DESC LIMIT $4
    `, tenantID, f.LeadID, string(f.Status), clampLimit(f.Limit))
	if err != nil {
		return nil, apperr.Storage("storage.ListRuns", err)
	}
	defer rows.Close()
	out := make([]models.ReactivationRun, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, apperr.Storage("storage.ListRuns", err)
		}
		out = append(out, *r)
	}
	return out, apperr.Storage("storage.ListRuns", rows.Err())
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, c *models.Checkpoint) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO reactivation_checkpoints (run_id, node, state, created_at) VALUES ($1,$2,$3,$4)
        ON CONFLICT (run_id, node) DO UPDATE SET state=EXCLUDED.state, created_at=EXCLUDED.created_at
    `, c.RunID, c.Node, c.State, c.CreatedAt)
	return classify("storage.SaveCheckpoint", err)
}

func (s *PostgresStore) LatestCheckpoint(ctx context.Context, runID string) (*models.Checkpoint, error) {
	var c models.Checkpoint
	err := s.db.QueryRowContext(ctx, `
        SELECT run_id, node, state, created_at FROM reactivation_checkpoints
        WHERE run_id=$1 ORDER BY created_at DESC LIMIT 1
    `, runID).Scan(&c.RunID, &c.Node, &c.State, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("storage.LatestCheckpoint", err)
	}
	return &c, nil
}

func affected(op, entity string, res sql.Result, err error) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage(op, err)
	}
	if n == 0 {
		return apperr.NotFound(op, entity)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// ensureSliceNotNil ensures a string slice is never nil to avoid NOT NULL constraint violations
func ensureSliceNotNil(slice []string) []string {
	if slice == nil {
		return []string{}
	}
	return slice
}

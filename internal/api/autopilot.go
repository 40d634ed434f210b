package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/leadpilot/internal/api/auth"
	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/internal/learning"
	"github.com/leadpilot/internal/orchestrator"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

// queryInt reads an integer query parameter, returning def when it is absent
func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalid("queryInt", "%s must be a non-negative integer", name)
	}
	return n, nil
}

// decodeJSON decodes the request body into v. An empty body leaves v untouched.
func decodeJSON(c echo.Context, v any) error {
	dec := json.NewDecoder(c.Request().Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return invalid("decodeJSON", "invalid json: %v", err)
	}
	return nil
}

func (s *Server) getSettings(c echo.Context) error {
	settings, err := s.deps.Store.LoadSettings(c.Request().Context(), auth.TenantID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, settings)
}

// updateSettings merges the fields present in the body over the stored settings
func (s *Server) updateSettings(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantID(c)
	settings, err := s.deps.Store.LoadSettings(ctx, tenantID)
	if err != nil {
		return respondError(c, err)
	}
	if err := decodeJSON(c, &settings); err != nil {
		return respondError(c, err)
	}
	settings.TenantID = tenantID
	if err := validateSettings(settings); err != nil {
		return respondError(c, err)
	}
	settings.UpdatedAt = s.now().UTC()
	if err := s.deps.Store.SaveSettings(ctx, settings); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, settings)
}

func validateSettings(st models.AutopilotSettings) error {
	const op = "validateSettings"
	switch st.AutonomyLevel {
	case models.AutonomyObserver, models.AutonomyAssistant, models.AutonomyAutopilot, models.AutonomyFullAuto:
	default:
		return invalid(op, "unknown autonomy_level %q", st.AutonomyLevel)
	}
	if st.ConfidenceThreshold < 0 || st.ConfidenceThreshold > 100 {
		return invalid(op, "confidence_threshold must be between 0 and 100")
	}
	start, err := time.Parse("15:04", st.WorkingHoursStart)
	if err != nil {
		return invalid(op, "working_hours_start must be HH:MM")
	}
	end, err := time.Parse("15:04", st.WorkingHoursEnd)
	if err != nil {
		return invalid(op, "working_hours_end must be HH:MM")
	}
	if !end.After(start) {
		return invalid(op, "working_hours_end must be after working_hours_start")
	}
	if st.Timezone != "" {
		if _, err := time.LoadLocation(st.Timezone); err != nil {
			return invalid(op, "unknown timezone %q", st.Timezone)
		}
	}
	return nil
}

// MappingRequest links an external channel account to the caller's tenant
type MappingRequest struct {
	Channel           models.Channel `json:"channel"`
	ExternalAccountID string         `json:"external_account_id"`
	WebhookSecret     string         `json:"webhook_secret,omitempty"`
	IsActive          *bool          `json:"is_active,omitempty"`
}

func (s *Server) upsertMapping(c echo.Context) error {
	var req MappingRequest
	if err := decodeJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	if req.Channel == "" || strings.TrimSpace(req.ExternalAccountID) == "" {
		return respondError(c, invalid("upsertMapping", "channel and external_account_id are required"))
	}
	m := &models.ChannelMapping{
		TenantID:          auth.TenantID(c),
		Channel:           req.Channel,
		ExternalAccountID: strings.TrimSpace(req.ExternalAccountID),
		WebhookSecret:     req.WebhookSecret,
		IsActive:          req.IsActive == nil || *req.IsActive,
	}
	if err := s.deps.Store.UpsertMapping(c.Request().Context(), m); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) getOverride(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantID(c)
	leadID := c.Param("lead")
	if _, err := s.deps.Store.GetLead(ctx, tenantID, leadID); err != nil {
		return respondError(c, err)
	}
	o, err := s.deps.Store.LoadOverride(ctx, tenantID, leadID)
	if err != nil {
		return respondError(c, err)
	}
	if o == nil {
		o = &models.LeadOverride{LeadID: leadID, TenantID: tenantID, Mode: models.OverrideNormal}
	}
	return c.JSON(http.StatusOK, o)
}

// OverrideRequest is the body of the override endpoints
type OverrideRequest struct {
	Mode   models.OverrideMode `json:"mode"`
	IsVIP  bool                `json:"is_vip"`
	Reason string              `json:"reason,omitempty"`
}

func (s *Server) saveOverride(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantID(c)
	leadID := c.Param("lead")

	var req OverrideRequest
	if err := decodeJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	if req.Mode == "" {
		req.Mode = models.OverrideNormal
	}
	switch req.Mode {
	case models.OverrideNormal, models.OverrideCareful, models.OverrideAggressive, models.OverrideDisabled:
	default:
		return respondError(c, invalid("saveOverride", "unknown mode %q", req.Mode))
	}
	if _, err := s.deps.Store.GetLead(ctx, tenantID, leadID); err != nil {
		return respondError(c, err)
	}

	o := &models.LeadOverride{
		LeadID:    leadID,
		TenantID:  tenantID,
		Mode:      req.Mode,
		IsVIP:     req.IsVIP,
		Reason:    req.Reason,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.deps.Store.SaveOverride(ctx, o); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (s *Server) deleteOverride(c echo.Context) error {
	if err := s.deps.Store.DeleteOverride(c.Request().Context(), auth.TenantID(c), c.Param("lead")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func validDraftStatus(st models.DraftStatus) bool {
	switch st {
	case models.DraftPending, models.DraftApproved, models.DraftRejected, models.DraftEdited,
		models.DraftSuperseded, models.DraftExpired:
		return true
	}
	return false
}

func (s *Server) listDrafts(c echo.Context) error {
	f := storage.DraftFilter{
		Status: models.DraftStatus(c.QueryParam("status")),
		LeadID: c.QueryParam("lead_id"),
	}
	if f.Status != "" && !validDraftStatus(f.Status) {
		return respondError(c, invalid("listDrafts", "unknown status %q", f.Status))
	}
	var err error
	if f.Limit, err = queryInt(c, "limit", 50); err != nil {
		return respondError(c, err)
	}
	if f.Offset, err = queryInt(c, "offset", 0); err != nil {
		return respondError(c, err)
	}
	drafts, err := s.deps.Store.ListDrafts(c.Request().Context(), auth.TenantID(c), f)
	if err != nil {
		return respondError(c, err)
	}
	if drafts == nil {
		drafts = []models.Draft{}
	}
	return c.JSON(http.StatusOK, map[string]any{"drafts": drafts, "count": len(drafts)})
}

func (s *Server) getDraft(c echo.Context) error {
	d, err := s.deps.Store.GetDraft(c.Request().Context(), auth.TenantID(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// ReviewRequest is the body of approve and reject
type ReviewRequest struct {
	EditedContent string `json:"edited_content,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// ReviewResponse reports a draft review and, for approvals, the sent message
type ReviewResponse struct {
	Draft   *models.Draft   `json:"draft"`
	Message *models.Message `json:"message,omitempty"`
}

// approveDraft claims the pending draft, sends its content (or the edit) on the
// draft's channel and records the outbound message as user approved. The claim
// comes first so two reviewers can never both send.
func (s *Server) approveDraft(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantID(c)

	var req ReviewRequest
	if err := decodeJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	draft, err := s.deps.Store.GetDraft(ctx, tenantID, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	lead, err := s.deps.Store.GetLead(ctx, tenantID, draft.LeadID)
	if err != nil {
		return respondError(c, err)
	}

	status := models.DraftApproved
	edited := strings.TrimSpace(req.EditedContent)
	if edited != "" && edited != strings.TrimSpace(draft.Content) {
		status = models.DraftEdited
	} else {
		edited = ""
	}
	reviewed, err := s.deps.Store.ReviewDraft(ctx, tenantID, draft.ID, status, edited, req.Notes)
	if err != nil {
		return respondError(c, err)
	}
	s.publishReview(c, reviewed)

	content := reviewed.Content
	if reviewed.Status == models.DraftEdited {
		content = reviewed.EditedContent
	}
	channel := reviewed.Channel
	if channel == "" {
		channel = lead.Channel
	}

	msg, err := s.sendApproved(ctx, *lead, channel, content)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, ReviewResponse{Draft: reviewed, Message: msg})
}

func (s *Server) sendApproved(ctx context.Context, lead models.Lead, channel models.Channel, content string) (*models.Message, error) {
	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	providerID, err := s.deps.Sender.Send(sendCtx, lead, channel, content)
	if err != nil {
		s.logger.Warn().Err(err).Str("reason", apperr.ReasonSendFailed).Str("lead_id", lead.ID).Msg("approved draft not sent")
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.External("api.sendApproved", err)
		}
		return nil, err
	}

	msg := &models.Message{
		TenantID:     lead.TenantID,
		LeadID:       lead.ID,
		Channel:      channel,
		Direction:    models.DirectionOutbound,
		ContentType:  "text",
		Text:         content,
		ExternalID:   providerID,
		UserApproved: true,
		Timestamp:    s.now().UTC(),
	}
	stored, _, err := s.deps.Store.AppendMessage(ctx, msg)
	if err != nil {
		// the message is out; a lost row only skews the history
		s.logger.Warn().Err(err).Str("reason", apperr.ReasonOutboundPersist).Str("lead_id", lead.ID).Msg("approved message not persisted")
		return msg, nil
	}
	return stored, nil
}

func (s *Server) rejectDraft(c echo.Context) error {
	var req ReviewRequest
	if err := decodeJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	reviewed, err := s.deps.Store.ReviewDraft(c.Request().Context(), auth.TenantID(c), c.Param("id"), models.DraftRejected, "", req.Notes)
	if err != nil {
		return respondError(c, err)
	}
	s.publishReview(c, reviewed)
	return c.JSON(http.StatusOK, ReviewResponse{Draft: reviewed})
}

func (s *Server) publishReview(c echo.Context, d *models.Draft) {
	ok := s.deps.Bus.Publish(eventbus.Event{
		Topic:    eventbus.TopicDraftReviewed,
		TenantID: d.TenantID,
		LeadID:   d.LeadID,
		Data:     learning.Review{Draft: *d, UserID: auth.UserID(c)},
		At:       s.now().UTC(),
	})
	if !ok {
		s.logger.Warn().Str("reason", apperr.ReasonEventPublishFailed).Str("draft_id", d.ID).Msg("draft review event dropped")
	}
}

func (s *Server) listActions(c echo.Context) error {
	days, err := queryInt(c, "days", 7)
	if err != nil {
		return respondError(c, err)
	}
	if days == 0 {
		days = 7
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		return respondError(c, err)
	}
	f := storage.ActionFilter{
		Since:  s.now().UTC().AddDate(0, 0, -days),
		Action: models.Action(c.QueryParam("action")),
		LeadID: c.QueryParam("lead_id"),
		Limit:  limit,
	}
	actions, err := s.deps.Store.ListActions(c.Request().Context(), auth.TenantID(c), f)
	if err != nil {
		return respondError(c, err)
	}
	if actions == nil {
		actions = []models.ActionLog{}
	}
	return c.JSON(http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

func (s *Server) getBriefing(c echo.Context) error {
	kind := orchestrator.BriefingKind(c.Param("kind"))
	if kind != orchestrator.BriefingMorning && kind != orchestrator.BriefingEvening {
		return respondError(c, invalid("getBriefing", "kind must be morning or evening"))
	}
	b, err := s.deps.Briefer.BuildBriefing(c.Request().Context(), auth.TenantID(c), kind)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (s *Server) getStats(c echo.Context) error {
	st, err := s.deps.Learning.Stats(c.Request().Context(), auth.TenantID(c), learning.Period(c.QueryParam("period")))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

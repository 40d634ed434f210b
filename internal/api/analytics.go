package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/leadpilot/internal/api/auth"
	"github.com/leadpilot/internal/learning"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

const dashboardTopTemplates = 5

// queryTime accepts RFC 3339 timestamps or plain dates (UTC midnight)
func queryTime(c echo.Context, name string) (time.Time, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, invalid("queryTime", "%s must be a date or RFC 3339 timestamp", name)
	}
	return t, nil
}

func (s *Server) getDashboard(c echo.Context) error {
	d, err := s.deps.Learning.Dashboard(c.Request().Context(), auth.TenantID(c), learning.Period(c.QueryParam("period")), dashboardTopTemplates)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) listTemplates(c echo.Context) error {
	days, err := queryInt(c, "days", 0)
	if err != nil {
		return respondError(c, err)
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return respondError(c, err)
	}
	templates, err := s.deps.Learning.Templates(c.Request().Context(), auth.TenantID(c), c.QueryParam("category"), days, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"templates": templates, "count": len(templates)})
}

func (s *Server) getTemplate(c echo.Context) error {
	p, err := s.deps.Learning.Template(c.Request().Context(), auth.TenantID(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) listAggregates(c echo.Context) error {
	f := storage.AggregateFilter{
		Granularity: models.Granularity(c.QueryParam("granularity")),
		TemplateID:  c.QueryParam("template_id"),
		Channel:     models.Channel(c.QueryParam("channel")),
	}
	switch f.Granularity {
	case "", models.GranularityDaily, models.GranularityWeekly, models.GranularityMonthly:
	default:
		return respondError(c, invalid("listAggregates", "unknown granularity %q", f.Granularity))
	}
	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		return respondError(c, err)
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return respondError(c, err)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return respondError(c, invalid("listAggregates", "to must be after from"))
	}
	if f.Limit, err = queryInt(c, "limit", 100); err != nil {
		return respondError(c, err)
	}
	aggs, err := s.deps.Learning.Aggregates(c.Request().Context(), auth.TenantID(c), f)
	if err != nil {
		return respondError(c, err)
	}
	if aggs == nil {
		aggs = []models.LearningAggregate{}
	}
	return c.JSON(http.StatusOK, map[string]any{"aggregates": aggs, "count": len(aggs)})
}

// recordEvent stores a learning event reported by a client. Tenant and user
// always come from the token.
func (s *Server) recordEvent(c echo.Context) error {
	var e models.LearningEvent
	if err := decodeJSON(c, &e); err != nil {
		return respondError(c, err)
	}
	e.ID = ""
	e.TenantID = auth.TenantID(c)
	e.UserID = auth.UserID(c)
	e.CreatedAt = time.Time{}
	if err := s.deps.Learning.Record(c.Request().Context(), &e); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (s *Server) attachOutcome(c echo.Context) error {
	var o models.Outcome
	if err := decodeJSON(c, &o); err != nil {
		return respondError(c, err)
	}
	if err := s.deps.Learning.AttachOutcome(c.Request().Context(), auth.TenantID(c), c.Param("id"), o); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"event_id": c.Param("id"), "status": "attached"})
}

func (s *Server) trackTemplateUsed(c echo.Context) error {
	var u learning.TemplateUse
	if err := decodeJSON(c, &u); err != nil {
		return respondError(c, err)
	}
	u.UserID = auth.UserID(c)
	id, err := s.deps.Learning.TrackTemplateUsed(c.Request().Context(), auth.TenantID(c), u)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"event_id": id})
}

func (s *Server) trackResponse(c echo.Context) error {
	var r learning.Response
	if err := decodeJSON(c, &r); err != nil {
		return respondError(c, err)
	}
	id, err := s.deps.Learning.TrackResponse(c.Request().Context(), auth.TenantID(c), r)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"event_id": id})
}

// OutcomeRequest either attaches to an existing event or records a new outcome for a lead
type OutcomeRequest struct {
	EventID    string         `json:"event_id,omitempty"`
	LeadID     string         `json:"lead_id,omitempty"`
	TemplateID string         `json:"template_id,omitempty"`
	Outcome    models.Outcome `json:"outcome"`
}

func (s *Server) trackOutcome(c echo.Context) error {
	var req OutcomeRequest
	if err := decodeJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	id, err := s.deps.Learning.TrackOutcome(c.Request().Context(), auth.TenantID(c), req.EventID, req.LeadID, req.TemplateID, req.Outcome)
	if err != nil {
		return respondError(c, err)
	}
	status := http.StatusCreated
	if req.EventID != "" {
		status = http.StatusOK
	}
	return c.JSON(status, map[string]string{"event_id": id})
}

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/leadpilot/internal/api/auth"
	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/reactivation"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

// maxBatchLeads mirrors the per-tenant reactivation quota
const maxBatchLeads = 10

func (s *Server) listDormantLeads(c echo.Context) error {
	minDays, err := queryInt(c, "min_days", s.opts.DormantAfterDays)
	if err != nil {
		return respondError(c, err)
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return respondError(c, err)
	}
	leads, err := s.deps.Reactivator.DormantLeads(c.Request().Context(), auth.TenantID(c), minDays, limit)
	if err != nil {
		return respondError(c, err)
	}
	if leads == nil {
		leads = []models.Lead{}
	}
	return c.JSON(http.StatusOK, map[string]any{"leads": leads, "count": len(leads), "min_days": minDays})
}

// StartRequest starts the graph for one lead
type StartRequest struct {
	LeadID string `json:"lead_id"`
}

// RunResponse is a run with its decoded final state
type RunResponse struct {
	Run   *models.ReactivationRun `json:"run"`
	State *reactivation.State     `json:"state,omitempty"`
}

func runResponse(run *models.ReactivationRun) RunResponse {
	out := RunResponse{Run: run}
	if st, err := reactivation.DecodeState(run); err == nil {
		out.State = st
	}
	cp := *run
	cp.FinalState = nil
	out.Run = &cp
	return out
}

// startReactivation runs the graph synchronously. A failed run is still a
// result; only errors before the run exists are reported as errors.
func (s *Server) startReactivation(c echo.Context) error {
	var req StartRequest
	if err := decodeJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	if strings.TrimSpace(req.LeadID) == "" {
		return respondError(c, invalid("startReactivation", "lead_id is required"))
	}
	run, err := s.deps.Reactivator.Run(c.Request().Context(), auth.TenantID(c), strings.TrimSpace(req.LeadID))
	if run == nil {
		if err == nil {
			err = apperr.E(apperr.KindInternal, "api.startReactivation", errors.New("no run returned"))
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, runResponse(run))
}

func (s *Server) resumeRun(c echo.Context) error {
	run, err := s.deps.Reactivator.Resume(c.Request().Context(), auth.TenantID(c), c.Param("id"))
	if run == nil {
		if err == nil {
			err = apperr.E(apperr.KindInternal, "api.resumeRun", errors.New("no run returned"))
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, runResponse(run))
}

// BatchRequest names the leads of a batch. Without lead ids the batch picks
// dormant leads itself.
type BatchRequest struct {
	LeadIDs []string `json:"lead_ids,omitempty"`
	MinDays int      `json:"min_days,omitempty"`
}

func (s *Server) batchReactivation(c echo.Context) error {
	maxLeads, err := queryInt(c, "max_leads", maxBatchLeads)
	if err != nil {
		return respondError(c, err)
	}
	if maxLeads == 0 || maxLeads > maxBatchLeads {
		return respondError(c, invalid("batchReactivation", "max_leads must be between 1 and %d", maxBatchLeads))
	}
	var req BatchRequest
	if err := decodeJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx := c.Request().Context()
	tenantID := auth.TenantID(c)
	var results []reactivation.BatchResult
	if len(req.LeadIDs) > 0 {
		if len(req.LeadIDs) > maxLeads {
			return respondError(c, invalid("batchReactivation", "at most %d leads per batch", maxLeads))
		}
		results, err = s.deps.Reactivator.RunBatch(ctx, tenantID, req.LeadIDs)
	} else {
		minDays := req.MinDays
		if minDays <= 0 {
			minDays = s.opts.DormantAfterDays
		}
		results, err = s.deps.Reactivator.ReactivateDormant(ctx, tenantID, minDays, maxLeads)
	}
	if err != nil {
		return respondError(c, err)
	}
	if results == nil {
		results = []reactivation.BatchResult{}
	}

	summary := map[string]int{}
	for _, r := range results {
		switch {
		case r.Error != "":
			summary["failed"]++
		case r.Outcome != "":
			summary[string(r.Outcome)]++
		default:
			summary[string(r.Status)]++
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results, "count": len(results), "summary": summary})
}

func (s *Server) listRuns(c echo.Context) error {
	f := storage.RunFilter{
		LeadID: c.QueryParam("lead_id"),
		Status: models.RunStatus(c.QueryParam("status")),
	}
	switch f.Status {
	case "", models.RunStarted, models.RunCompleted, models.RunFailed:
	default:
		return respondError(c, invalid("listRuns", "unknown status %q", f.Status))
	}
	var err error
	if f.Limit, err = queryInt(c, "limit", 50); err != nil {
		return respondError(c, err)
	}
	runs, err := s.deps.Store.ListRuns(c.Request().Context(), auth.TenantID(c), f)
	if err != nil {
		return respondError(c, err)
	}
	for i := range runs {
		runs[i].FinalState = nil
	}
	if runs == nil {
		runs = []models.ReactivationRun{}
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(c echo.Context) error {
	run, err := s.deps.Store.GetRun(c.Request().Context(), auth.TenantID(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, runResponse(run))
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/autopilot"
	"github.com/leadpilot/pkg/models"
)

// FollowUpReport counts what one fan-out did
type FollowUpReport struct {
	TenantID  int64 `json:"tenant_id"`
	Due       int   `json:"due"`
	Sent      int   `json:"sent"`
	Drafted   int   `json:"drafted"`
	Cancelled int   `json:"cancelled"`
	Deferred  int   `json:"deferred"`
	Failed    int   `json:"failed"`
}

type taskOutcome int

const (
	taskSent taskOutcome = iota
	taskDrafted
	taskCancelled
	taskDeferred
	taskFailed
)

func (r *FollowUpReport) add(o taskOutcome) {
	switch o {
	case taskSent:
		r.Sent++
	case taskDrafted:
		r.Drafted++
	case taskCancelled:
		r.Cancelled++
	case taskDeferred:
		r.Deferred++
	default:
		r.Failed++
	}
}

// RunFollowUps handles every pending task of the tenant scheduled up to now.
// With auto_followups the follow-up is sent and the task completed, otherwise a
// draft is created.
func (o *Orchestrator) RunFollowUps(ctx context.Context, tenantID int64) (*FollowUpReport, error) {
	return o.runTasks(ctx, tenantID, false)
}

// DispatchScheduledSends only handles replies the engine parked until the
// sending window opened. It runs on every tick.
func (o *Orchestrator) DispatchScheduledSends(ctx context.Context, tenantID int64) (*FollowUpReport, error) {
	return o.runTasks(ctx, tenantID, true)
}

func (o *Orchestrator) runTasks(ctx context.Context, tenantID int64, scheduledOnly bool) (*FollowUpReport, error) {
	settings, err := o.store.LoadSettings(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	tasks, err := o.store.DueFollowUps(ctx, tenantID, o.now())
	if err != nil {
		return nil, fmt.Errorf("list due follow-ups: %w", err)
	}
	report := &FollowUpReport{TenantID: tenantID}
	for _, task := range tasks {
		if scheduledOnly && task.Reason != autopilot.ReasonScheduledSend {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Due++
		report.add(o.handleTask(ctx, settings, task))
	}
	if report.Due > 0 {
		o.logger.Info().Int64("tenant_id", tenantID).Int("due", report.Due).Int("sent", report.Sent).Int("drafted", report.Drafted).Int("failed", report.Failed).Msg("follow-ups processed")
	}
	return report, nil
}

func (o *Orchestrator) handleTask(ctx context.Context, settings models.AutopilotSettings, task models.FollowUpTask) taskOutcome {
	lead, err := o.store.GetLead(ctx, task.TenantID, task.LeadID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			o.setStatus(ctx, task, models.FollowUpCancelled)
			return taskCancelled
		}
		o.logger.Warn().Err(err).Str("reason", apperr.ReasonFollowUpSendFailed).Str("task_id", task.ID).Msg("follow-up lead not loaded")
		return taskFailed
	}
	switch lead.Status {
	case models.LeadStatusArchived, models.LeadStatusWon, models.LeadStatusLost:
		o.setStatus(ctx, task, models.FollowUpCancelled)
		return taskCancelled
	}

	text, templateID := task.Content, ""
	autoSend := true
	if task.Reason != autopilot.ReasonScheduledSend {
		text, templateID = FollowUpMessage(*lead)
		autoSend = settings.AutoFollowups
	}
	if text == "" {
		o.setStatus(ctx, task, models.FollowUpCancelled)
		return taskCancelled
	}
	if settings.AutonomyLevel == models.AutonomyObserver || o.sender == nil {
		autoSend = false
	}

	if autoSend {
		if !autopilot.WindowFor(settings).Open(o.now()) {
			return taskDeferred
		}
		err := o.send(ctx, *lead, text)
		if err == nil {
			o.setStatus(ctx, task, models.FollowUpCompleted)
			o.recordDecision(*lead, models.ContextFollowUp, models.ActionAutoSend, templateID, text, map[string]any{"task_id": task.ID, "reason": task.Reason})
			return taskSent
		}
		o.logger.Warn().Err(err).Str("reason", apperr.ReasonFollowUpSendFailed).Str("lead_id", lead.ID).Str("task_id", task.ID).Msg("follow-up send failed, drafting instead")
	}

	prompt := fmt.Sprintf("Follow-up an %s prüfen und freigeben.", displayName(*lead))
	d, err := o.saveDraft(ctx, *lead, text, templateID, prompt)
	if err != nil {
		o.logger.Error().Err(err).Str("reason", apperr.ReasonDraftWriteFailed).Str("lead_id", lead.ID).Str("task_id", task.ID).Msg("follow-up draft not saved")
		return taskFailed
	}
	o.setStatus(ctx, task, models.FollowUpDrafted)
	o.recordDecision(*lead, models.ContextFollowUp, models.ActionDraftReview, templateID, text, map[string]any{"task_id": task.ID, "reason": task.Reason, "draft_id": d.ID})
	if settings.NotifyHumanNeeded {
		o.notify(ctx, models.Notification{
			TenantID: lead.TenantID,
			Kind:     models.NotifyDraftWaiting,
			Title:    "Follow-up wartet auf Freigabe: " + displayName(*lead),
			Body:     prompt,
			Data:     map[string]any{"lead_id": lead.ID, "draft_id": d.ID},
		})
	}
	return taskDrafted
}

func (o *Orchestrator) setStatus(ctx context.Context, task models.FollowUpTask, status models.FollowUpStatus) {
	if err := o.store.UpdateFollowUpStatus(ctx, task.TenantID, task.ID, status); err != nil {
		o.logger.Warn().Err(err).Str("reason", apperr.ReasonFollowUpFailed).Str("task_id", task.ID).Str("status", string(status)).Msg("follow-up status not updated")
	}
}

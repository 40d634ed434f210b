package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/leadpilot/internal/apperr"
)

// Job names a scheduled responsibility
type Job string

const (
	JobScheduledSends Job = "scheduled_sends"
	JobFollowUps      Job = "followups"
	JobGhostScan      Job = "ghost_scan"
	JobMorning        Job = "briefing_morning"
	JobEvening        Job = "briefing_evening"
	JobReactivation   Job = "reactivation_batch"
)

// Tenant-local hours of the daily jobs
const (
	MorningHour      = 7
	FollowUpHour     = 9
	ReactivationHour = 10
	EveningHour      = 19
	// GhostEveryHours spaces ghost scans, counted from UTC midnight
	GhostEveryHours = 6
)

// DueJobs lists the jobs that fall into the hour containing now. Daily jobs are
// matched against the tenant's local clock.
func DueJobs(now time.Time, loc *time.Location) []Job {
	jobs := []Job{JobScheduledSends}
	local := now.In(loc)
	switch local.Hour() {
	case MorningHour:
		jobs = append(jobs, JobMorning)
	case FollowUpHour:
		jobs = append(jobs, JobFollowUps)
	case ReactivationHour:
		jobs = append(jobs, JobReactivation)
	case EveningHour:
		jobs = append(jobs, JobEvening)
	}
	if now.UTC().Hour()%GhostEveryHours == 0 {
		jobs = append(jobs, JobGhostScan)
	}
	return jobs
}

// TickReport lists the jobs each tenant ran and the ones that failed
type TickReport struct {
	At     time.Time          `json:"at"`
	Ran    map[int64][]Job    `json:"ran"`
	Failed map[int64][]string `json:"failed,omitempty"`
}

// Tick runs the jobs due in the current hour for every tenant. It is meant to be
// triggered hourly; a failing job is logged and the remaining jobs still run.
func (o *Orchestrator) Tick(ctx context.Context) (*TickReport, error) {
	tenants, err := o.store.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	now := o.now()
	report := &TickReport{At: now, Ran: map[int64][]Job{}, Failed: map[int64][]string{}}
	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		settings, err := o.store.LoadSettings(ctx, t.ID)
		if err != nil {
			o.logger.Warn().Err(err).Str("reason", apperr.ReasonTenantLookupFailed).Int64("tenant_id", t.ID).Msg("tenant skipped in tick")
			report.Failed[t.ID] = append(report.Failed[t.ID], "settings")
			continue
		}
		for _, job := range DueJobs(now, settings.Location()) {
			if err := o.RunJob(ctx, t.ID, job); err != nil {
				o.logger.Warn().Err(err).Str("reason", apperr.ReasonJobFailed).Int64("tenant_id", t.ID).Str("job", string(job)).Msg("scheduled job failed")
				report.Failed[t.ID] = append(report.Failed[t.ID], string(job))
				continue
			}
			report.Ran[t.ID] = append(report.Ran[t.ID], job)
		}
	}
	if _, err := o.ExpireDrafts(ctx); err != nil {
		o.logger.Warn().Err(err).Str("reason", apperr.ReasonJobFailed).Msg("draft expiry failed")
	}
	return report, nil
}

// RunJob runs one job for one tenant right away
func (o *Orchestrator) RunJob(ctx context.Context, tenantID int64, job Job) error {
	var err error
	switch job {
	case JobScheduledSends:
		_, err = o.DispatchScheduledSends(ctx, tenantID)
	case JobFollowUps:
		_, err = o.RunFollowUps(ctx, tenantID)
	case JobGhostScan:
		_, err = o.ScanGhosts(ctx, tenantID)
	case JobMorning:
		_, err = o.SendBriefing(ctx, tenantID, BriefingMorning)
	case JobEvening:
		_, err = o.SendBriefing(ctx, tenantID, BriefingEvening)
	case JobReactivation:
		err = o.RunReactivation(ctx, tenantID)
	default:
		return apperr.Invalid("orchestrator.RunJob", "unknown job %q", job)
	}
	return err
}

// RunReactivation starts a reactivation batch over the tenant's dormant leads
func (o *Orchestrator) RunReactivation(ctx context.Context, tenantID int64) error {
	if o.reactivator == nil {
		return nil
	}
	results, err := o.reactivator.ReactivateDormant(ctx, tenantID, o.opts.DormantAfterDays, o.opts.ReactivationMaxLeads)
	if err != nil {
		return fmt.Errorf("reactivate dormant leads: %w", err)
	}
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	o.logger.Info().Int64("tenant_id", tenantID).Int("runs", len(results)).Int("failed", failed).Msg("reactivation batch finished")
	return nil
}

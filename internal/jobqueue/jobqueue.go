/*
Package jobqueue provides a River-based job queue for the scheduled side of the
autopilot: the hourly orchestrator tick, per-tenant orchestrator jobs, nightly
learning rollups and reactivation runs.

For configuration options, retry policies, and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/logging"
	"github.com/leadpilot/internal/orchestrator"
	"github.com/leadpilot/pkg/models"
)

// Scheduler runs orchestrator work
type Scheduler interface {
	Tick(ctx context.Context) (*orchestrator.TickReport, error)
	RunJob(ctx context.Context, tenantID int64, job orchestrator.Job) error
}

// Aggregator rolls learning events up
type Aggregator interface {
	RunDaily(ctx context.Context, tenantID int64, now time.Time) ([]models.LearningAggregate, error)
	RunWeekly(ctx context.Context, tenantID int64, now time.Time) ([]models.LearningAggregate, error)
	RecomputeTemplates(ctx context.Context, tenantID int64) ([]models.TemplatePerformance, error)
}

// Reactivator runs one agent graph against one lead
type Reactivator interface {
	Run(ctx context.Context, tenantID int64, leadID string) (*models.ReactivationRun, error)
}

// TenantLister enumerates the tenants the nightly jobs iterate over
type TenantLister interface {
	ListTenants(ctx context.Context) ([]models.Tenant, error)
}

// TickJobArgs triggers orchestrator.Tick
type TickJobArgs struct{}

func (TickJobArgs) Kind() string { return "orchestrator_tick" }

// TenantJobArgs runs one orchestrator job for one tenant
type TenantJobArgs struct {
	TenantID int64            `json:"tenant_id"`
	Job      orchestrator.Job `json:"job"`
}

func (TenantJobArgs) Kind() string { return "orchestrator_tenant_job" }

// RollupJobArgs runs the nightly learning rollup. TenantID zero means every tenant.
type RollupJobArgs struct {
	TenantID int64 `json:"tenant_id,omitempty"`
}

func (RollupJobArgs) Kind() string { return "learning_rollup" }

// ReactivationJobArgs runs the agent graph for one lead
type ReactivationJobArgs struct {
	TenantID int64  `json:"tenant_id"`
	LeadID   string `json:"lead_id"`
}

func (ReactivationJobArgs) Kind() string { return "reactivation_run" }

func (ReactivationJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueReactivation, UniqueOpts: river.UniqueOpts{ByArgs: true, ByPeriod: time.Hour}}
}

// TickWorker handles TickJobArgs
type TickWorker struct {
	river.WorkerDefaults[TickJobArgs]
	scheduler Scheduler
	config    *QueueConfig
	logger    zerolog.Logger
}

func (w *TickWorker) Timeout(*river.Job[TickJobArgs]) time.Duration { return w.config.TickTimeout }

func (w *TickWorker) Work(ctx context.Context, job *river.Job[TickJobArgs]) error {
	report, err := w.scheduler.Tick(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator tick: %w", err)
	}
	failed := 0
	for _, jobs := range report.Failed {
		failed += len(jobs)
	}
	w.logger.Info().Int("tenants", len(report.Ran)).Int("failed_jobs", failed).Msg("orchestrator tick finished")
	return nil
}

// TenantJobWorker handles TenantJobArgs
type TenantJobWorker struct {
	river.WorkerDefaults[TenantJobArgs]
	scheduler Scheduler
	config    *QueueConfig
}

func (w *TenantJobWorker) Timeout(*river.Job[TenantJobArgs]) time.Duration { return w.config.JobTimeout }

func (w *TenantJobWorker) Work(ctx context.Context, job *river.Job[TenantJobArgs]) error {
	if job.Args.TenantID <= 0 {
		return river.JobCancel(apperr.Invalid("jobqueue.TenantJob", "tenant_id is required"))
	}
	err := w.scheduler.RunJob(ctx, job.Args.TenantID, job.Args.Job)
	if apperr.KindOf(err) == apperr.KindInvalid {
		return river.JobCancel(err)
	}
	return err
}

// RollupWorker handles RollupJobArgs
type RollupWorker struct {
	river.WorkerDefaults[RollupJobArgs]
	tenants    TenantLister
	aggregator Aggregator
	config     *QueueConfig
	now        func() time.Time
	logger     zerolog.Logger
}

func (w *RollupWorker) Timeout(*river.Job[RollupJobArgs]) time.Duration { return w.config.JobTimeout }

// Work computes yesterday's daily aggregates, the closing week's aggregates on
// Mondays, and the template quality scores. Tenants fail independently; the job
// only errors when every tenant failed.
func (w *RollupWorker) Work(ctx context.Context, job *river.Job[RollupJobArgs]) error {
	ids := []int64{job.Args.TenantID}
	if job.Args.TenantID == 0 {
		tenants, err := w.tenants.ListTenants(ctx)
		if err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
		ids = ids[:0]
		for _, t := range tenants {
			ids = append(ids, t.ID)
		}
	}

	now := w.now()
	var failed int
	var lastErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.rollupTenant(ctx, id, now); err != nil {
			w.logger.Warn().Err(err).Str("reason", apperr.ReasonAggregateFailed).Int64("tenant_id", id).Msg("learning rollup failed")
			failed++
			lastErr = err
		}
	}
	if len(ids) > 0 && failed == len(ids) {
		return fmt.Errorf("learning rollup failed for all %d tenants: %w", failed, lastErr)
	}
	return nil
}

func (w *RollupWorker) rollupTenant(ctx context.Context, tenantID int64, now time.Time) error {
	if _, err := w.aggregator.RunDaily(ctx, tenantID, now); err != nil {
		return fmt.Errorf("daily aggregate: %w", err)
	}
	if _, err := w.aggregator.RunWeekly(ctx, tenantID, now); err != nil {
		return fmt.Errorf("weekly aggregate: %w", err)
	}
	if _, err := w.aggregator.RecomputeTemplates(ctx, tenantID); err != nil {
		return fmt.Errorf("template quality: %w", err)
	}
	return nil
}

// ReactivationWorker handles ReactivationJobArgs
type ReactivationWorker struct {
	river.WorkerDefaults[ReactivationJobArgs]
	agent  Reactivator
	config *QueueConfig
	logger zerolog.Logger
}

func (w *ReactivationWorker) Timeout(*river.Job[ReactivationJobArgs]) time.Duration {
	return w.config.JobTimeout
}

func (w *ReactivationWorker) Work(ctx context.Context, job *river.Job[ReactivationJobArgs]) error {
	run, err := w.agent.Run(ctx, job.Args.TenantID, job.Args.LeadID)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindNotFound, apperr.KindInvalid:
			return river.JobCancel(err)
		case apperr.KindConflict:
			// tenant quota exhausted or the lead already has a run in flight
			return river.JobSnooze(w.config.QuotaSnooze)
		}
		return fmt.Errorf("reactivation run for lead %s: %w", job.Args.LeadID, err)
	}
	w.logger.Info().Str("run_id", run.ID).Str("lead_id", run.LeadID).Str("status", string(run.Status)).Msg("reactivation run finished")
	return nil
}

// Deps are the collaborators whose work the queue schedules
type Deps struct {
	Scheduler  Scheduler
	Aggregator Aggregator
	Tenants    TenantLister
	Agent      Reactivator
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// Workers registers one worker per job kind
func Workers(d Deps, config *QueueConfig) *river.Workers {
	logger := logging.For("jobqueue")
	workers := river.NewWorkers()
	river.AddWorker(workers, &TickWorker{scheduler: d.Scheduler, config: config, logger: logger})
	river.AddWorker(workers, &TenantJobWorker{scheduler: d.Scheduler, config: config})
	river.AddWorker(workers, &RollupWorker{tenants: d.Tenants, aggregator: d.Aggregator, config: config, now: time.Now, logger: logger})
	river.AddWorker(workers, &ReactivationWorker{agent: d.Agent, config: config, logger: logger})
	return workers
}

// PeriodicJobs schedules the hourly tick and the nightly rollup
func PeriodicJobs(config *QueueConfig) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(time.Hour),
			func() (river.JobArgs, *river.InsertOpts) { return TickJobArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: false},
		),
		river.NewPeriodicJob(
			DailyAt(config.RollupHourUTC, config.RollupMinuteUTC),
			func() (river.JobArgs, *river.InsertOpts) { return RollupJobArgs{}, nil },
			nil,
		),
	}
}

// NewJobQueue creates a new job queue instance over an open pool
func NewJobQueue(pool *pgxpool.Pool, d Deps, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = GetQueueConfig()
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       config.RiverQueueConfig(),
		Workers:      Workers(d, config),
		PeriodicJobs: PeriodicJobs(config),
		MaxAttempts:  config.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Migrate brings River's own tables up to date
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	return nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// QueueTenantJob queues one orchestrator job for one tenant
func (jq *JobQueue) QueueTenantJob(ctx context.Context, tenantID int64, job orchestrator.Job) error {
	_, err := jq.client.Insert(ctx, TenantJobArgs{TenantID: tenantID, Job: job}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue %s job: %w", job, err)
	}
	return nil
}

// QueueReactivation queues a reactivation run. A second insert for the same lead
// within the hour is dropped by River's uniqueness check.
func (jq *JobQueue) QueueReactivation(ctx context.Context, tenantID int64, leadID string) error {
	_, err := jq.client.Insert(ctx, ReactivationJobArgs{TenantID: tenantID, LeadID: leadID}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue reactivation job: %w", err)
	}
	return nil
}

// QueueRollup queues a learning rollup for one tenant, or all when tenantID is zero
func (jq *JobQueue) QueueRollup(ctx context.Context, tenantID int64) error {
	_, err := jq.client.Insert(ctx, RollupJobArgs{TenantID: tenantID}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue rollup job: %w", err)
	}
	return nil
}

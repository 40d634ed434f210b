package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/orchestrator"
	"github.com/leadpilot/pkg/models"
)

type fakeScheduler struct {
	ticks int
	jobs  []orchestrator.Job
	err   error
}

func (f *fakeScheduler) Tick(ctx context.Context) (*orchestrator.TickReport, error) {
	f.ticks++
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.TickReport{Ran: map[int64][]orchestrator.Job{1: {orchestrator.JobScheduledSends}}}, nil
}

func (f *fakeScheduler) RunJob(ctx context.Context, tenantID int64, job orchestrator.Job) error {
	f.jobs = append(f.jobs, job)
	return f.err
}

type fakeAggregator struct {
	daily, weekly, templates []int64
	failFor                  int64
}

func (f *fakeAggregator) RunDaily(ctx context.Context, tenantID int64, now time.Time) ([]models.LearningAggregate, error) {
	if tenantID == f.failFor {
		return nil, apperr.Storage("RunDaily", errors.New("down"))
	}
	f.daily = append(f.daily, tenantID)
	return nil, nil
}

func (f *fakeAggregator) RunWeekly(ctx context.Context, tenantID int64, now time.Time) ([]models.LearningAggregate, error) {
	f.weekly = append(f.weekly, tenantID)
	return nil, nil
}

func (f *fakeAggregator) RecomputeTemplates(ctx context.Context, tenantID int64) ([]models.TemplatePerformance, error) {
	f.templates = append(f.templates, tenantID)
	return nil, nil
}

type fakeTenants []models.Tenant

func (f fakeTenants) ListTenants(ctx context.Context) ([]models.Tenant, error) { return f, nil }

type fakeAgent struct {
	err error
}

func (f fakeAgent) Run(ctx context.Context, tenantID int64, leadID string) (*models.ReactivationRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ReactivationRun{ID: "run-1", TenantID: tenantID, LeadID: leadID, Status: models.RunCompleted}, nil
}

func TestTickWorker(t *testing.T) {
	s := &fakeScheduler{}
	w := &TickWorker{scheduler: s, config: DefaultQueueConfig(), logger: zerolog.Nop()}
	require.NoError(t, w.Work(context.Background(), &river.Job[TickJobArgs]{}))
	assert.Equal(t, 1, s.ticks)

	s.err = apperr.Storage("ListTenants", errors.New("down"))
	assert.Error(t, w.Work(context.Background(), &river.Job[TickJobArgs]{}))
}

func TestTenantJobWorkerCancelsInvalidJobs(t *testing.T) {
	s := &fakeScheduler{}
	w := &TenantJobWorker{scheduler: s, config: DefaultQueueConfig()}

	err := w.Work(context.Background(), &river.Job[TenantJobArgs]{Args: TenantJobArgs{Job: orchestrator.JobGhostScan}})
	require.Error(t, err)
	assert.Empty(t, s.jobs)

	require.NoError(t, w.Work(context.Background(), &river.Job[TenantJobArgs]{Args: TenantJobArgs{TenantID: 3, Job: orchestrator.JobGhostScan}}))
	assert.Equal(t, []orchestrator.Job{orchestrator.JobGhostScan}, s.jobs)
}

func TestRollupWorkerIsolatesTenantFailures(t *testing.T) {
	agg := &fakeAggregator{failFor: 2}
	w := &RollupWorker{
		tenants:    fakeTenants{{ID: 1}, {ID: 2}, {ID: 3}},
		aggregator: agg,
		config:     DefaultQueueConfig(),
		now:        func() time.Time { return time.Date(2026, 10, 12, 1, 15, 0, 0, time.UTC) },
		logger:     zerolog.Nop(),
	}
	require.NoError(t, w.Work(context.Background(), &river.Job[RollupJobArgs]{}))
	assert.Equal(t, []int64{1, 3}, agg.daily)
	assert.Equal(t, []int64{1, 3}, agg.weekly)
	assert.Equal(t, []int64{1, 3}, agg.templates)
}

func TestRollupWorkerFailsWhenEveryTenantFails(t *testing.T) {
	agg := &fakeAggregator{failFor: 2}
	w := &RollupWorker{
		tenants:    fakeTenants{{ID: 1}},
		aggregator: agg,
		config:     DefaultQueueConfig(),
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	assert.Error(t, w.Work(context.Background(), &river.Job[RollupJobArgs]{Args: RollupJobArgs{TenantID: 2}}))
	assert.Empty(t, agg.daily)
}

func TestReactivationWorker(t *testing.T) {
	cfg := DefaultQueueConfig()
	job := &river.Job[ReactivationJobArgs]{Args: ReactivationJobArgs{TenantID: 1, LeadID: "lead-1"}}

	w := &ReactivationWorker{agent: fakeAgent{}, config: cfg, logger: zerolog.Nop()}
	require.NoError(t, w.Work(context.Background(), job))

	w.agent = fakeAgent{err: apperr.NotFound("GetLead", "lead")}
	assert.Error(t, w.Work(context.Background(), job))

	w.agent = fakeAgent{err: apperr.E(apperr.KindConflict, "quota", errors.New("busy"))}
	assert.Error(t, w.Work(context.Background(), job))

	w.agent = fakeAgent{err: apperr.External("Generate", errors.New("llm down"))}
	err := w.Work(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lead-1")
}

func TestDailyAt(t *testing.T) {
	s := DailyAt(1, 15)
	before := time.Date(2026, 10, 15, 0, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 15, 1, 15, 0, 0, time.UTC), s.Next(before))

	exact := time.Date(2026, 10, 15, 1, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 16, 1, 15, 0, 0, time.UTC), s.Next(exact))

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	local := time.Date(2026, 10, 15, 2, 0, 0, 0, berlin) // 00:00 UTC
	assert.Equal(t, time.Date(2026, 10, 15, 1, 15, 0, 0, time.UTC), s.Next(local))

	assert.Equal(t, DailyAt(0, 0), DailyAt(99, -1))
}

func TestRiverQueueConfig(t *testing.T) {
	cfg := DefaultQueueConfig().WithMaxWorkers(4)
	queues := cfg.RiverQueueConfig()
	assert.Equal(t, 4, queues[river.QueueDefault].MaxWorkers)
	assert.Equal(t, 5, queues[QueueReactivation].MaxWorkers)
	assert.Equal(t, 10, DefaultQueueConfig().WithMaxWorkers(0).MaxWorkers)
}

func TestReactivationArgsUseOwnQueue(t *testing.T) {
	opts := ReactivationJobArgs{}.InsertOpts()
	assert.Equal(t, QueueReactivation, opts.Queue)
	assert.True(t, opts.UniqueOpts.ByArgs)
}

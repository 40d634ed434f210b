package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/internal/autopilot"
	"github.com/leadpilot/internal/reactivation"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

// Tuesday, inside the default 08:00-20:00 window
var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, lead models.Lead, ch models.Channel, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, content)
	return fmt.Sprintf("ext-%d", len(f.sent)), nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeNotifier struct {
	mu    sync.Mutex
	kinds []models.NotificationKind
}

func (f *fakeNotifier) Notify(_ context.Context, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, n.Kind)
	return nil
}

type fakeReactivator struct {
	mu    sync.Mutex
	calls []int64
}

func (f *fakeReactivator) ReactivateDormant(_ context.Context, tenantID int64, minDays, maxLeads int) ([]reactivation.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tenantID)
	return []reactivation.BatchResult{{LeadID: "l1"}}, nil
}

type harness struct {
	orch     *Orchestrator
	store    *storage.MemoryStore
	sender   *fakeSender
	notifier *fakeNotifier
	react    *fakeReactivator
}

func newHarness(t *testing.T, at time.Time) *harness {
	t.Helper()
	h := &harness{
		store:    storage.NewMemoryStore(),
		sender:   &fakeSender{},
		notifier: &fakeNotifier{},
		react:    &fakeReactivator{},
	}
	h.store.SetClock(func() time.Time { return at })
	h.orch = New(Deps{Store: h.store, Sender: h.sender, Notifier: h.notifier, Reactivator: h.react}, Options{})
	h.orch.SetClock(func() time.Time { return at })
	h.settings(t, func(s *models.AutopilotSettings) {})
	return h
}

func (h *harness) settings(t *testing.T, mutate func(s *models.AutopilotSettings)) {
	t.Helper()
	s := models.DefaultSettings(1)
	s.Timezone = "UTC"
	mutate(&s)
	require.NoError(t, h.store.SaveSettings(context.Background(), s))
}

func (h *harness) lead(t *testing.T, ext string, mutate func(l *models.Lead)) *models.Lead {
	t.Helper()
	ctx := context.Background()
	l, _, err := h.store.FindOrCreateLead(ctx, 1, models.ChannelInstagram, ext, "Anna Schmidt")
	require.NoError(t, err)
	l.Status = models.LeadStatusContacted
	mutate(l)
	require.NoError(t, h.store.UpdateLead(ctx, l))
	return l
}

func (h *harness) task(t *testing.T, leadID, reason, content string) *models.FollowUpTask {
	t.Helper()
	task := &models.FollowUpTask{TenantID: 1, LeadID: leadID, Reason: reason, Content: content, ScheduledFor: now.Add(-time.Hour)}
	require.NoError(t, h.store.ScheduleFollowUp(context.Background(), task))
	return task
}

func (h *harness) pendingDrafts(t *testing.T, leadID string) []models.Draft {
	t.Helper()
	ds, err := h.store.ListDrafts(context.Background(), 1, storage.DraftFilter{Status: models.DraftPending, LeadID: leadID})
	require.NoError(t, err)
	return ds
}

func (h *harness) due(t *testing.T) []models.FollowUpTask {
	t.Helper()
	tasks, err := h.store.DueFollowUps(context.Background(), 1, now)
	require.NoError(t, err)
	return tasks
}

func TestFollowUpDraftsWithoutAutoFollowups(t *testing.T) {
	h := newHarness(t, now)
	lead := h.lead(t, "ig-1", func(l *models.Lead) {})
	h.task(t, lead.ID, string(models.IntentTimeObjection), "")

	rep, err := h.orch.RunFollowUps(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Drafted)
	assert.Zero(t, h.sender.count())

	drafts := h.pendingDrafts(t, lead.ID)
	require.Len(t, drafts, 1)
	assert.Equal(t, models.DraftSourceOrchestrator, drafts[0].Source)
	assert.True(t, strings.HasPrefix(drafts[0].TemplateID, "followup_"))
	assert.True(t, strings.HasPrefix(drafts[0].Content, "Hallo Anna Schmidt,"))
	assert.Empty(t, h.due(t))
	assert.Contains(t, h.notifier.kinds, models.NotifyDraftWaiting)
}

func TestFollowUpAutoSendCompletesTask(t *testing.T) {
	h := newHarness(t, now)
	h.settings(t, func(s *models.AutopilotSettings) { s.AutoFollowups = true })
	lead := h.lead(t, "ig-1", func(l *models.Lead) {})
	h.task(t, lead.ID, string(models.IntentTimeObjection), "")

	rep, err := h.orch.RunFollowUps(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sent)
	require.Equal(t, 1, h.sender.count())
	text, _ := FollowUpMessage(*lead)
	assert.Equal(t, text, h.sender.sent[0])
	assert.Empty(t, h.pendingDrafts(t, lead.ID))
	assert.Empty(t, h.due(t))

	msgs, err := h.store.ListMessages(context.Background(), 1, storage.MessageFilter{LeadID: lead.ID, Direction: models.DirectionOutbound})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].AutoSent)
}

func TestFollowUpRotationIsStablePerLead(t *testing.T) {
	for _, id := range []string{"a", "lead-42", "0f8fad5b-d9cb-469f-a165-70867728950e"} {
		h := fnv.New32a()
		_, _ = h.Write([]byte(id))
		want := int(h.Sum32() % 3)
		assert.Equal(t, want, rotationIndex(id, 3))

		lead := models.Lead{ID: id, Name: "Max", PersonaType: models.PersonaSolopreneur}
		t1, id1 := FollowUpMessage(lead)
		t2, id2 := FollowUpMessage(lead)
		assert.Equal(t, t1, t2)
		assert.Equal(t, id1, id2)
		assert.Equal(t, followUpTemplates[models.FormalityDu][want].ID, id1)
	}
	assert.Equal(t, 0, rotationIndex("x", 1))
}

func TestFollowUpEmailCarriesUnsubscribe(t *testing.T) {
	lead := models.Lead{ID: "l1", Name: "Dr. Weber", Channel: models.ChannelEmail, PersonaType: models.PersonaCorporate}
	text, _ := FollowUpMessage(lead)
	assert.Contains(t, text, "abmelden")
	assert.Contains(t, text, "Sie möchten")
}

func TestScheduledSendDispatch(t *testing.T) {
	h := newHarness(t, now)
	lead := h.lead(t, "ig-1", func(l *models.Lead) {})
	parked := "Hallo Anna,\n\nder Termin am Dienstag passt."
	h.task(t, lead.ID, autopilot.ReasonScheduledSend, parked)
	h.task(t, lead.ID, string(models.IntentTimeObjection), "")

	rep, err := h.orch.DispatchScheduledSends(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Sent)
	require.Equal(t, 1, h.sender.count())
	assert.Equal(t, parked, h.sender.sent[0])

	left := h.due(t)
	require.Len(t, left, 1)
	assert.Equal(t, string(models.IntentTimeObjection), left[0].Reason)
}

func TestFollowUpFallbacks(t *testing.T) {
	t.Run("observer drafts parked replies", func(t *testing.T) {
		h := newHarness(t, now)
		h.settings(t, func(s *models.AutopilotSettings) { s.AutonomyLevel = models.AutonomyObserver })
		lead := h.lead(t, "ig-1", func(l *models.Lead) {})
		h.task(t, lead.ID, autopilot.ReasonScheduledSend, "Hallo Anna")

		rep, err := h.orch.DispatchScheduledSends(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Drafted)
		assert.Zero(t, h.sender.count())
	})

	t.Run("send failure drafts", func(t *testing.T) {
		h := newHarness(t, now)
		h.settings(t, func(s *models.AutopilotSettings) { s.AutoFollowups = true })
		h.sender.err = errors.New("channel down")
		lead := h.lead(t, "ig-1", func(l *models.Lead) {})
		h.task(t, lead.ID, string(models.IntentTimeObjection), "")

		rep, err := h.orch.RunFollowUps(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Drafted)
		assert.Len(t, h.pendingDrafts(t, lead.ID), 1)
	})

	t.Run("closed lead cancels", func(t *testing.T) {
		h := newHarness(t, now)
		lead := h.lead(t, "ig-1", func(l *models.Lead) { l.Status = models.LeadStatusWon })
		h.task(t, lead.ID, string(models.IntentTimeObjection), "")

		rep, err := h.orch.RunFollowUps(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Cancelled)
		assert.Empty(t, h.due(t))
	})

	t.Run("weekend defers auto send", func(t *testing.T) {
		saturday := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
		h := newHarness(t, saturday)
		h.settings(t, func(s *models.AutopilotSettings) { s.AutoFollowups = true })
		lead := h.lead(t, "ig-1", func(l *models.Lead) {})
		h.task(t, lead.ID, string(models.IntentTimeObjection), "")

		rep, err := h.orch.RunFollowUps(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Deferred)
		assert.Zero(t, h.sender.count())
		assert.Len(t, h.due(t), 1)
	})
}

func TestClassifyGhost(t *testing.T) {
	o := New(Deps{Store: storage.NewMemoryStore()}, Options{})
	tests := []struct {
		days int
		want GhostKind
	}{
		{4, ""},
		{5, GhostSoft},
		{9, GhostSoft},
		{10, GhostHard},
		{30, GhostHard},
		{31, GhostExpired},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, o.ClassifyGhost(tt.days), "days=%d", tt.days)
	}
}

func silentFor(days int) func(l *models.Lead) {
	return func(l *models.Lead) {
		at := now.Add(-time.Duration(days)*24*time.Hour - time.Hour)
		l.LastOutboundAt = &at
		l.WaitingForReply = true
	}
}

func TestScanGhostsNeverSends(t *testing.T) {
	h := newHarness(t, now)
	h.settings(t, func(s *models.AutopilotSettings) {
		s.AutonomyLevel = models.AutonomyFullAuto
		s.AutoFollowups = true
	})
	soft := h.lead(t, "ig-soft", silentFor(6))
	hard := h.lead(t, "ig-hard", silentFor(12))
	gone := h.lead(t, "ig-gone", silentFor(40))
	h.lead(t, "ig-fresh", silentFor(2))

	ctx := context.Background()
	rep, err := h.orch.ScanGhosts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Scanned)
	assert.Equal(t, 1, rep.Soft)
	assert.Equal(t, 1, rep.Hard)
	assert.Equal(t, 1, rep.Archived)
	assert.Zero(t, h.sender.count())

	sd := h.pendingDrafts(t, soft.ID)
	require.Len(t, sd, 1)
	assert.Equal(t, "ghost_soft_sie", sd[0].TemplateID)
	hd := h.pendingDrafts(t, hard.ID)
	require.Len(t, hd, 1)
	assert.Equal(t, "ghost_hard_sie", hd[0].TemplateID)

	archived, err := h.store.GetLead(ctx, 1, gone.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusArchived, archived.Status)
	assert.Equal(t, GhostArchiveReason, archived.StatusReason)

	again, err := h.orch.ScanGhosts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Skipped)
	assert.Zero(t, again.Soft+again.Hard)
	assert.Equal(t, sd[0].ID, h.pendingDrafts(t, soft.ID)[0].ID)
}

func TestScanGhostsKeepsHumanDraft(t *testing.T) {
	h := newHarness(t, now)
	lead := h.lead(t, "ig-1", silentFor(7))
	_, err := h.store.SaveDraft(context.Background(), &models.Draft{TenantID: 1, LeadID: lead.ID, Source: models.DraftSourceAutopilot, Content: "Antwort", TemplateID: "std_scheduling_sie"})
	require.NoError(t, err)

	rep, err := h.orch.ScanGhosts(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	drafts := h.pendingDrafts(t, lead.ID)
	require.Len(t, drafts, 1)
	assert.Equal(t, "std_scheduling_sie", drafts[0].TemplateID)
}

func TestExpireDrafts(t *testing.T) {
	h := newHarness(t, now)
	lead := h.lead(t, "ig-1", func(l *models.Lead) {})
	_, err := h.store.SaveDraft(context.Background(), &models.Draft{TenantID: 1, LeadID: lead.ID, Content: "x", CreatedAt: now.AddDate(0, 0, -8), ExpiresAt: now.AddDate(0, 0, -1)})
	require.NoError(t, err)

	n, err := h.orch.ExpireDrafts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.pendingDrafts(t, lead.ID))
}

func TestBriefingWindow(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	morning := time.Date(2026, 3, 10, 7, 0, 0, 0, loc)
	from, to := BriefingWindow(BriefingMorning, morning, loc)
	assert.Equal(t, time.Date(2026, 3, 9, 19, 0, 0, 0, loc), from)
	assert.Equal(t, morning, to)

	evening := time.Date(2026, 3, 10, 19, 0, 0, 0, loc)
	from, _ = BriefingWindow(BriefingEvening, evening, loc)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, loc), from)
}

func TestBuildBriefing(t *testing.T) {
	evening := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	h := newHarness(t, evening)
	ctx := context.Background()
	hot := h.lead(t, "ig-hot", func(l *models.Lead) {
		l.Temperature = models.TemperatureHot
		l.EstimatedValue = 3000
	})
	h.lead(t, "ig-warm", func(l *models.Lead) {
		l.Temperature = models.TemperatureWarm
		l.EstimatedValue = 1000
	})

	for i, a := range []models.Action{models.ActionAutoSend, models.ActionHumanNeeded} {
		require.NoError(t, h.store.AppendAction(ctx, &models.ActionLog{
			TenantID:     1,
			LeadID:       hot.ID,
			Action:       a,
			Intent:       models.IntentScheduling,
			ResponseSent: a == models.ActionAutoSend,
			CreatedAt:    evening.Add(-time.Duration(i+1) * time.Hour),
		}))
	}
	for i, dir := range []models.Direction{models.DirectionInbound, models.DirectionInbound, models.DirectionOutbound} {
		_, _, err := h.store.AppendMessage(ctx, &models.Message{
			TenantID:   1,
			LeadID:     hot.ID,
			Channel:    models.ChannelInstagram,
			Direction:  dir,
			Text:       "Nachricht",
			ExternalID: fmt.Sprintf("m-%d", i),
			AutoSent:   dir == models.DirectionOutbound,
			Timestamp:  evening.Add(-time.Duration(i+1) * time.Hour),
		})
		require.NoError(t, err)
	}
	require.NoError(t, h.store.AppendEvent(ctx, &models.LearningEvent{
		TenantID:  1,
		EventType: models.EventOutcome,
		LeadID:    hot.ID,
		Outcome:   &models.Outcome{DealClosed: true, DealValue: 2500, AppointmentBooked: true},
		CreatedAt: evening.Add(-30 * time.Minute),
	}))

	b, err := h.orch.BuildBriefing(ctx, 1, BriefingEvening)
	require.NoError(t, err)
	assert.Equal(t, 2, b.NewInbound)
	assert.Equal(t, 1, b.Sent)
	assert.Equal(t, 1, b.AutoSent)
	assert.Equal(t, 1, b.AutoReplied)
	assert.Equal(t, 1, b.AutoBooked)
	assert.Equal(t, 1, b.HumanNeeded)
	assert.Equal(t, 1, b.HotLeads)
	assert.Equal(t, 4000.0, b.PipelineEstimate)
	assert.Equal(t, 1, b.Deals)
	assert.Equal(t, 2500.0, b.Revenue)
	assert.Equal(t, 1, b.Appointments)
	assert.Equal(t, 5, b.ManualMinutes)
	assert.Equal(t, 5, b.UserMinutes)

	_, err = h.orch.SendBriefing(ctx, 1, BriefingEvening)
	require.NoError(t, err)
	assert.Contains(t, h.notifier.kinds, models.NotifyBriefing)

	_, err = h.orch.BuildBriefing(ctx, 1, "noon")
	assert.Error(t, err)
}

func TestBuildBriefingCountsBeyondOnePage(t *testing.T) {
	evening := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	h := newHarness(t, evening)
	ctx := context.Background()
	lead := h.lead(t, "ig-busy", func(l *models.Lead) {})

	const inbound, handovers = 2*scanLimit + 37, scanLimit + 1
	for i := 0; i < inbound; i++ {
		_, _, err := h.store.AppendMessage(ctx, &models.Message{
			TenantID:   1,
			LeadID:     lead.ID,
			Channel:    models.ChannelInstagram,
			Direction:  models.DirectionInbound,
			Text:       "Nachricht",
			ExternalID: fmt.Sprintf("bulk-%d", i),
			Timestamp:  evening.Add(-time.Duration(i+1) * time.Second),
		})
		require.NoError(t, err)
	}
	for i := 0; i < handovers; i++ {
		require.NoError(t, h.store.AppendAction(ctx, &models.ActionLog{
			TenantID:  1,
			LeadID:    lead.ID,
			Action:    models.ActionHumanNeeded,
			Intent:    models.IntentUnclear,
			CreatedAt: evening.Add(-time.Duration(i+1) * time.Second),
		}))
	}

	b, err := h.orch.BuildBriefing(ctx, 1, BriefingEvening)
	require.NoError(t, err)
	assert.Equal(t, inbound, b.NewInbound)
	assert.Equal(t, handovers, b.HumanNeeded)
	assert.Equal(t, handovers*handoverMinutes, b.UserMinutes)
}

func TestDueJobs(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	tests := []struct {
		name string
		at   time.Time
		want []Job
	}{
		{"local morning", time.Date(2026, 3, 10, 6, 10, 0, 0, time.UTC), []Job{JobScheduledSends, JobMorning, JobGhostScan}},
		{"local follow-ups", time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), []Job{JobScheduledSends, JobFollowUps}},
		{"local reactivation", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), []Job{JobScheduledSends, JobReactivation}},
		{"local evening", time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC), []Job{JobScheduledSends, JobEvening, JobGhostScan}},
		{"quiet hour", time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), []Job{JobScheduledSends}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DueJobs(tt.at, berlin))
		})
	}
}

func TestTickRunsTenantJobs(t *testing.T) {
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	h := newHarness(t, at)
	ctx := context.Background()
	require.NoError(t, h.store.CreateTenant(ctx, &models.Tenant{ID: 1, Name: "acme"}))

	rep, err := h.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Job{JobScheduledSends, JobReactivation}, rep.Ran[1])
	assert.Empty(t, rep.Failed[1])
	assert.Equal(t, []int64{1}, h.react.calls)

	assert.Error(t, h.orch.RunJob(ctx, 1, "bogus"))
}

package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

var day = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) // a Monday

func newService(t *testing.T, now time.Time) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	store.SetClock(func() time.Time { return now })
	svc := NewService(store)
	svc.SetClock(func() time.Time { return now })
	return svc, store
}

func TestAnonymize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Schreib mir an max@firma.de", "Schreib mir an [EMAIL]"},
		{"Ruf an: +49 170 1234567 bitte", "Ruf an: [PHONE] bitte"},
		{"Festnetz 0170/1234567", "Festnetz [PHONE]"},
		{"Infos auf https://firma.de/preise?x=1 und www.firma.de", "Infos auf [URL] und [URL]"},
		{"Termin am 14.03.2026 um 14 Uhr", "Termin am 14.03.2026 um 14 Uhr"},
		{"Budget 5000 Euro", "Budget 5000 Euro"},
		{"Durchwahl 030 12", "Durchwahl 030 12"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Anonymize(tt.in))
		})
	}
}

func TestRecordValidatesAndAnonymizes(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, day)

	lead, _, err := store.FindOrCreateLead(ctx, 1, models.ChannelInstagram, "ig-1", "Anna")
	require.NoError(t, err)
	lead.Temperature = models.TemperatureWarm
	lead.Status = models.LeadStatusInterested
	require.NoError(t, store.UpdateLead(ctx, lead))

	e := &models.LearningEvent{
		TenantID:  1,
		EventType: models.EventDecisionMade,
		LeadID:    lead.ID,
		AIDecision: models.AIDecision{
			Intent:      models.IntentPriceInquiry,
			Confidence:  0.8,
			MessageText: "Schick mir die Preise an anna@firma.de",
		},
	}
	require.NoError(t, svc.Record(ctx, e))

	got, err := store.GetEvent(ctx, 1, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Schick mir die Preise an [EMAIL]", got.AIDecision.MessageText)
	assert.Equal(t, 6, got.AIDecision.WordCount)
	assert.Equal(t, models.LeadStatusInterested, got.LeadStatus)
	assert.Equal(t, models.TemperatureWarm, got.LeadTemperature)
	assert.Equal(t, models.ContextManual, got.ContextType)
	assert.Equal(t, string(models.IntentPriceInquiry), got.TemplateCategory)
	assert.Equal(t, day, got.CreatedAt)

	invalid := []*models.LearningEvent{
		nil,
		{EventType: models.EventOutcome},
		{TenantID: 1, EventType: "bogus"},
		{TenantID: 1, EventType: models.EventOutcome, ContextType: "bogus"},
		{TenantID: 1, EventType: models.EventOutcome, AIDecision: models.AIDecision{Confidence: 1.5}},
	}
	for i, ev := range invalid {
		err := svc.Record(ctx, ev)
		assert.True(t, errors.Is(err, apperr.ErrInvalid), "case %d: %v", i, err)
	}
}

func TestAttachOutcomeIsOneShot(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, day)

	id, err := svc.TrackTemplateUsed(ctx, 1, TemplateUse{LeadID: "l1", TemplateID: "pricing_info:Sie"})
	require.NoError(t, err)

	require.NoError(t, svc.AttachOutcome(ctx, 1, id, models.Outcome{GotResponse: true, Converted: true}))
	err = svc.AttachOutcome(ctx, 1, id, models.Outcome{GotResponse: true})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	err = svc.AttachOutcome(ctx, 1, id, models.Outcome{Positive: true, Negative: true})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))

	_, err = svc.TrackOutcome(ctx, 1, "", "", "", models.Outcome{})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestReviewEvent(t *testing.T) {
	d := models.Draft{
		ID:         "d1",
		TenantID:   1,
		LeadID:     "l1",
		Source:     models.DraftSourceReactivation,
		Channel:    models.ChannelLinkedIn,
		Content:    "Hallo Anna, wie läuft es bei Nordlicht? Ich würde mich freuen, wieder von Ihnen zu hören.",
		Confidence: 0.7,
		RunID:      "run-1",
	}

	d.Status = models.DraftApproved
	e, err := ReviewEvent(d, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.EventDraftApproved, e.EventType)
	assert.Equal(t, models.ContextReactivation, e.ContextType)
	assert.Equal(t, "approve", e.UserAction.Kind)
	assert.False(t, e.IsSignificant)
	assert.Equal(t, "run-1", e.LearningSignals["run_id"])

	d.Status = models.DraftEdited
	d.EditedContent = d.Content
	e, err = ReviewEvent(d, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, e.LearningSignals["edit_distance"])
	assert.False(t, e.IsSignificant)

	d.EditedContent = "Servus, kurze Frage zum Angebot von letzter Woche: sollen wir das Projekt im Herbst starten?"
	e, err = ReviewEvent(d, "u1")
	require.NoError(t, err)
	assert.Greater(t, e.LearningSignals["edit_distance"].(int), significantEditDistance)
	assert.True(t, e.IsSignificant)

	d.Status = models.DraftRejected
	e, err = ReviewEvent(d, "")
	require.NoError(t, err)
	assert.Equal(t, models.EventDraftRejected, e.EventType)
	assert.True(t, e.IsSignificant)

	d.Status = models.DraftPending
	_, err = ReviewEvent(d, "")
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func seedDay(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	channels := []models.Channel{models.ChannelInstagram, models.ChannelWhatsApp}
	for i := 0; i < 100; i++ {
		e := &models.LearningEvent{
			TenantID:         1,
			EventType:        models.EventDecisionMade,
			ContextType:      models.ContextInbound,
			LeadID:           fmt.Sprintf("lead-%d", i%20),
			TemplateID:       fmt.Sprintf("tpl-%d", i%3),
			TemplateCategory: "pricing",
			Channel:          channels[i%2],
			CreatedAt:        day.Add(time.Duration(i) * 14 * time.Minute),
		}
		if i%4 == 0 {
			e.Outcome = &models.Outcome{GotResponse: true, ResponseTimeHours: 2, Positive: true}
		}
		if i%10 == 0 {
			e.Outcome = &models.Outcome{GotResponse: true, ResponseTimeHours: 5, Converted: true, DealClosed: true, DealValue: 1200}
		}
		require.NoError(t, svc.Record(ctx, e))
	}
}

func TestDailyAggregateIsDeterministic(t *testing.T) {
	ctx := context.Background()
	now := day.Add(30 * time.Hour)
	svc, store := newService(t, now)
	seedDay(t, svc)

	first, err := svc.RunDaily(ctx, 1, now)
	require.NoError(t, err)
	second, err := svc.RunDaily(ctx, 1, now)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("aggregate changed between runs (-first +second):\n%s", diff)
	}
	b1, err := json.Marshal(first)
	require.NoError(t, err)
	b2, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))

	require.Len(t, first, 4)
	overall := first[0]
	assert.Equal(t, "", overall.TemplateID)
	assert.Equal(t, day, overall.PeriodStart)
	assert.Equal(t, 100, overall.TotalEvents)
	assert.Equal(t, 3, overall.UniqueTemplates)
	assert.Equal(t, 20, overall.UniqueLeads)
	// every 4th event plus the i%10 events not divisible by 4
	assert.Equal(t, 30, overall.ResponsesReceived)
	assert.Equal(t, 30.0, overall.ResponseRate)
	assert.Equal(t, 10.0, overall.ConversionRate)
	assert.Equal(t, 10, overall.DealsClosed)
	assert.Equal(t, 12000.0, overall.TotalDealValue)
	assert.InDelta(t, (20*2.0+10*5.0)/30, overall.AvgResponseTimeHours, 0.01)
	assert.Equal(t, map[string]int{"pricing": 100}, overall.CategoryBreakdown)

	keys := make([]models.Channel, 0, len(overall.ChannelBreakdown))
	for k := range overall.ChannelBreakdown {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []models.Channel{models.ChannelInstagram, models.ChannelWhatsApp}, keys)
	assert.Equal(t, 50, overall.ChannelBreakdown[models.ChannelInstagram].Sent)

	stored, err := store.ListAggregates(ctx, 1, storage.AggregateFilter{Granularity: models.GranularityDaily})
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestAggregateToleratesLateEvents(t *testing.T) {
	ctx := context.Background()
	now := day.Add(30 * time.Hour)
	svc, _ := newService(t, now)
	seedDay(t, svc)

	key := models.AggregateKey{TenantID: 1, Granularity: models.GranularityDaily, PeriodStart: day, PeriodEnd: day.AddDate(0, 0, 1)}
	before, err := svc.ComputeAggregate(ctx, key)
	require.NoError(t, err)

	late := &models.LearningEvent{TenantID: 1, EventType: models.EventResponseReceived, LeadID: "lead-1", Channel: models.ChannelTelegram, CreatedAt: day.Add(time.Hour)}
	require.NoError(t, svc.Record(ctx, late))

	after, err := svc.ComputeAggregate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, before.TotalEvents+1, after.TotalEvents)
	assert.Equal(t, before.ResponsesReceived+1, after.ResponsesReceived)
	assert.Contains(t, after.ChannelBreakdown, models.ChannelTelegram)

	_, err = svc.ComputeAggregate(ctx, models.AggregateKey{TenantID: 1, Granularity: models.GranularityDaily, PeriodStart: day, PeriodEnd: day})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestWeeklyRunsOnlyOnMonday(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, day)
	seedDay(t, svc)

	rows, err := svc.RunWeekly(ctx, 1, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Nil(t, rows)

	rows, err = svc.RunWeekly(ctx, 1, day.AddDate(0, 0, 7).Add(2*time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, day, rows[0].PeriodStart)
	assert.Equal(t, day.AddDate(0, 0, 7), rows[0].PeriodEnd)
	assert.Equal(t, 100, rows[0].TotalEvents)
}

func TestQualityScore(t *testing.T) {
	now := day
	last := now
	assert.InDelta(t, 39.0, QualityScore(50, 10, 25, &last, now), 0.001)

	old := now.AddDate(0, 0, -45)
	assert.InDelta(t, 100*(0.35+0.40+0.15), QualityScore(100, 100, 80, &old, now), 0.001)
	assert.InDelta(t, 0.0, QualityScore(0, 0, 0, nil, now), 0.001)
	assert.LessOrEqual(t, QualityScore(250, 300, 1000, &last, now), 100.0)
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name string
		p    models.TemplatePerformance
		want models.Trend
	}{
		{"both up", models.TemplatePerformance{ResponseRate: 20, ConversionRate: 10, ResponseRate30d: 30, ConversionRate30d: 12}, models.TrendImproving},
		{"only response up", models.TemplatePerformance{ResponseRate: 20, ConversionRate: 10, ResponseRate30d: 30, ConversionRate30d: 10}, models.TrendStable},
		{"both down", models.TemplatePerformance{ResponseRate: 20, ConversionRate: 10, ResponseRate30d: 10, ConversionRate30d: 5}, models.TrendDeclining},
		{"no data", models.TemplatePerformance{}, models.TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrendOf(tt.p))
		})
	}
}

func TestPerformanceFrom(t *testing.T) {
	now := day
	var events []models.LearningEvent
	add := func(typ models.LearningEventType, at time.Time, o *models.Outcome) {
		events = append(events, models.LearningEvent{TenantID: 1, EventType: typ, TemplateID: "t1", TemplateCategory: "pricing", CreatedAt: at, Outcome: o})
	}
	for i := 0; i < 4; i++ {
		add(models.EventDecisionMade, now.AddDate(0, 0, -40), nil)
	}
	for i := 0; i < 6; i++ {
		add(models.EventDecisionMade, now.AddDate(0, 0, -2), nil)
	}
	add(models.EventResponseReceived, now.AddDate(0, 0, -1), nil)
	add(models.EventResponseReceived, now.AddDate(0, 0, -1), nil)
	add(models.EventOutcome, now.AddDate(0, 0, -1), &models.Outcome{Converted: true})

	perf := PerformanceFrom(1, events, now)
	require.Len(t, perf, 1)
	p := perf[0]
	assert.Equal(t, 10, p.TotalUses)
	assert.Equal(t, 6, p.Uses30d)
	assert.Equal(t, 20.0, p.ResponseRate)
	assert.Equal(t, 33.33, p.ResponseRate30d)
	assert.Equal(t, 10.0, p.ConversionRate)
	assert.Equal(t, 16.67, p.ConversionRate30d)
	assert.Equal(t, models.TrendImproving, p.Trend)
	require.NotNil(t, p.LastUsedAt)
	assert.Equal(t, now.AddDate(0, 0, -2), *p.LastUsedAt)
	assert.Equal(t, "pricing", p.Category)
}

func TestRankTemplatesNeedsFiveUses(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, day)
	for _, p := range []models.TemplatePerformance{
		{TenantID: 1, TemplateID: "a", Category: "pricing", Uses30d: 4, QualityScore: 95},
		{TenantID: 1, TemplateID: "b", Category: "pricing", Uses30d: 5, QualityScore: 60},
		{TenantID: 1, TemplateID: "c", Category: "scheduling", Uses30d: 30, QualityScore: 80},
	} {
		p := p
		require.NoError(t, store.UpsertTemplatePerformance(ctx, &p))
	}

	ranked, err := svc.RankTemplates(ctx, 1, "", 0)
	require.NoError(t, err)
	ids := []string{}
	for _, p := range ranked {
		ids = append(ids, p.TemplateID)
	}
	assert.Equal(t, []string{"c", "b"}, ids)

	ranked, err = svc.RankTemplates(ctx, 1, "pricing", 10)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "b", ranked[0].TemplateID)
}

func TestRecomputeTemplatesStoresPerformance(t *testing.T) {
	ctx := context.Background()
	now := day.Add(30 * time.Hour)
	svc, _ := newService(t, now)
	seedDay(t, svc)

	perf, err := svc.RecomputeTemplates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, perf, 3)

	got, err := svc.Template(ctx, 1, "tpl-0")
	require.NoError(t, err)
	assert.Equal(t, 34, got.TotalUses)
	assert.Greater(t, got.QualityScore, 0.0)

	_, err = svc.Template(ctx, 1, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRecomputeTemplatesSeesLateOutcomes(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, day)

	used := &models.LearningEvent{
		TenantID:   1,
		EventType:  models.EventDecisionMade,
		TemplateID: "tpl-late",
		Channel:    models.ChannelInstagram,
		CreatedAt:  day.Add(-20 * time.Hour),
	}
	require.NoError(t, store.AppendEvent(ctx, used))

	_, err := svc.RunDaily(ctx, 1, day)
	require.NoError(t, err)
	require.NoError(t, store.AttachOutcome(ctx, 1, used.ID, models.Outcome{GotResponse: true, Converted: true}))

	perf, err := svc.RecomputeTemplates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, 1, perf[0].TotalUses)
	assert.Equal(t, 1, perf[0].Conversions)
	assert.Equal(t, 100.0, perf[0].ConversionRate30d)

	rows, err := store.ListAggregates(ctx, 1, storage.AggregateFilter{TemplateID: "tpl-late"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Zero(t, rows[0].ConversionRate, "the daily row predates the outcome")
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	now := day.Add(12 * time.Hour)
	svc, store := newService(t, now)
	for i, a := range []models.Action{models.ActionAutoSend, models.ActionAutoSend, models.ActionDraftReview, models.ActionArchive} {
		require.NoError(t, store.AppendAction(ctx, &models.ActionLog{
			TenantID:     1,
			LeadID:       fmt.Sprintf("l%d", i),
			Action:       a,
			Intent:       models.IntentPriceInquiry,
			Confidence:   80 + i,
			ResponseSent: a == models.ActionAutoSend,
			CreatedAt:    day.Add(time.Duration(i) * time.Hour),
		}))
	}

	st, err := svc.Stats(ctx, 1, PeriodToday)
	require.NoError(t, err)
	assert.Equal(t, 4, st.TotalActions)
	assert.Equal(t, 2, st.ByAction[models.ActionAutoSend])
	assert.Equal(t, 2, st.ResponsesSent)
	assert.Equal(t, 50.0, st.AutoSendRate)
	assert.Equal(t, 81.5, st.AvgConfidence)

	_, err = svc.Stats(ctx, 1, "year")
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestSubscriberRecordsBusEvents(t *testing.T) {
	svc, store := newService(t, day)
	bus := eventbus.New(16)
	svc.Subscribe(bus)

	bus.Publish(eventbus.Event{Topic: eventbus.TopicDecisionMade, TenantID: 1, LeadID: "l1", Data: models.LearningEvent{
		TenantID:    1,
		EventType:   models.EventDecisionMade,
		ContextType: models.ContextInbound,
		LeadID:      "l1",
		CreatedAt:   day,
	}})
	reviewed := time.Date(2026, 3, 9, 1, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.Event{Topic: eventbus.TopicDraftReviewed, TenantID: 1, LeadID: "l1", Data: Review{
		Draft:  models.Draft{ID: "d1", TenantID: 1, LeadID: "l1", Status: models.DraftRejected, Content: "x", ReviewedAt: &reviewed},
		UserID: "u1",
	}})
	bus.Publish(eventbus.Event{Topic: eventbus.TopicDraftSuperseded, TenantID: 1, LeadID: "l1", Data: &models.Draft{ID: "d0", TenantID: 1, LeadID: "l1", Status: models.DraftSuperseded}})
	bus.Publish(eventbus.Event{Topic: eventbus.TopicLearningEvent, TenantID: 1, Data: "garbage"})
	bus.Publish(eventbus.Event{Topic: eventbus.TopicNotification, TenantID: 1, Data: models.LearningEvent{TenantID: 1, EventType: models.EventOutcome}})
	bus.Close()

	events, err := store.ListEvents(context.Background(), 1, storage.EventFilter{})
	require.NoError(t, err)
	types := []models.LearningEventType{}
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.ElementsMatch(t, []models.LearningEventType{models.EventDecisionMade, models.EventDraftRejected, models.EventDraftSuperseded}, types)
	for _, e := range events {
		if e.EventType == models.EventDraftRejected {
			assert.Equal(t, "u1", e.UserID)
			assert.Equal(t, reviewed, e.CreatedAt)
		}
	}
}

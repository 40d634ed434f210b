package learning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(n) / float64(total) * 100)
}

func responded(e *models.LearningEvent) bool {
	return e.EventType == models.EventResponseReceived || (e.Outcome != nil && e.Outcome.GotResponse)
}

func converted(e *models.LearningEvent) bool {
	return e.Outcome != nil && e.Outcome.Converted
}

// Rollup derives the metrics of one aggregate from events. It is pure: the same
// events in the same order give the same aggregate.
func Rollup(key models.AggregateKey, events []models.LearningEvent) models.LearningAggregate {
	agg := models.LearningAggregate{
		AggregateKey:      storage.NormalizeKey(key),
		ChannelBreakdown:  map[models.Channel]models.ChannelStats{},
		CategoryBreakdown: map[string]int{},
	}
	templates := map[string]bool{}
	leads := map[string]bool{}
	var responseHours float64
	var timedResponses int
	var conversions int

	for i := range events {
		e := &events[i]
		agg.TotalEvents++
		if e.TemplateID != "" {
			templates[e.TemplateID] = true
		}
		if e.LeadID != "" {
			leads[e.LeadID] = true
		}
		if e.TemplateCategory != "" {
			agg.CategoryBreakdown[e.TemplateCategory]++
		}
		didRespond := responded(e)
		didConvert := converted(e)
		if didRespond {
			agg.ResponsesReceived++
			if e.Outcome != nil && e.Outcome.ResponseTimeHours > 0 {
				responseHours += e.Outcome.ResponseTimeHours
				timedResponses++
			}
		}
		if didConvert {
			conversions++
		}
		if o := e.Outcome; o != nil {
			if o.Positive {
				agg.PositiveOutcomes++
			}
			if o.Negative {
				agg.NegativeOutcomes++
			}
			if o.AppointmentBooked {
				agg.AppointmentsBooked++
			}
			if o.DealClosed {
				agg.DealsClosed++
				agg.TotalDealValue += o.DealValue
			}
		}
		if e.Channel != "" {
			cs := agg.ChannelBreakdown[e.Channel]
			cs.Sent++
			if didRespond {
				cs.Responses++
			}
			if didConvert {
				cs.Conversions++
			}
			agg.ChannelBreakdown[e.Channel] = cs
		}
	}

	agg.UniqueTemplates = len(templates)
	agg.UniqueLeads = len(leads)
	agg.ResponseRate = percent(agg.ResponsesReceived, agg.TotalEvents)
	agg.ConversionRate = percent(conversions, agg.TotalEvents)
	if timedResponses > 0 {
		agg.AvgResponseTimeHours = round2(responseHours / float64(timedResponses))
	}
	agg.TotalDealValue = round2(agg.TotalDealValue)
	return agg
}

func matchesKey(key models.AggregateKey, e *models.LearningEvent) bool {
	if key.Channel != "" && e.Channel != key.Channel {
		return false
	}
	if key.Vertical != "" && e.Vertical != key.Vertical {
		return false
	}
	return true
}

// ComputeAggregate rescans the events of the key's period and upserts the
// rollup. Running it twice over the same window writes the same row, and late
// events are picked up by the next run.
func (s *Service) ComputeAggregate(ctx context.Context, key models.AggregateKey) (*models.LearningAggregate, error) {
	const op = "learning.ComputeAggregate"
	if key.TenantID <= 0 {
		return nil, apperr.Invalid(op, "tenant_id is required")
	}
	if !key.PeriodEnd.After(key.PeriodStart) {
		return nil, apperr.Invalid(op, "period_end must be after period_start")
	}
	switch key.Granularity {
	case models.GranularityDaily, models.GranularityWeekly, models.GranularityMonthly:
	default:
		return nil, apperr.Invalid(op, "unknown granularity %q", key.Granularity)
	}

	events, err := s.store.ListEvents(ctx, key.TenantID, storage.EventFilter{
		From:       key.PeriodStart,
		To:         key.PeriodEnd,
		TemplateID: key.TemplateID,
		UserID:     key.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("list events for aggregate: %w", err)
	}
	filtered := events[:0]
	for i := range events {
		if matchesKey(key, &events[i]) {
			filtered = append(filtered, events[i])
		}
	}

	agg := Rollup(key, filtered)
	if err := s.store.UpsertAggregate(ctx, &agg); err != nil {
		return nil, fmt.Errorf("upsert aggregate: %w", err)
	}
	return &agg, nil
}

// DayBounds returns the UTC day containing t
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// WeekBounds returns the UTC week (Monday to Monday) containing t
func WeekBounds(t time.Time) (time.Time, time.Time) {
	start, _ := DayBounds(t)
	offset := (int(start.Weekday()) + 6) % 7
	start = start.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}

// MonthBounds returns the UTC calendar month containing t
func MonthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// RunDaily aggregates the day before now for the tenant, once overall and once
// per template seen that day
func (s *Service) RunDaily(ctx context.Context, tenantID int64, now time.Time) ([]models.LearningAggregate, error) {
	start, end := DayBounds(now.UTC().AddDate(0, 0, -1))
	return s.runPeriod(ctx, tenantID, models.GranularityDaily, start, end)
}

// RunWeekly aggregates the closing week. It only does work on the first day of
// the week and returns nil otherwise.
func (s *Service) RunWeekly(ctx context.Context, tenantID int64, now time.Time) ([]models.LearningAggregate, error) {
	if now.UTC().Weekday() != time.Monday {
		return nil, nil
	}
	start, end := WeekBounds(now.UTC().AddDate(0, 0, -7))
	return s.runPeriod(ctx, tenantID, models.GranularityWeekly, start, end)
}

func (s *Service) runPeriod(ctx context.Context, tenantID int64, g models.Granularity, start, end time.Time) ([]models.LearningAggregate, error) {
	key := models.AggregateKey{TenantID: tenantID, Granularity: g, PeriodStart: start, PeriodEnd: end}
	overall, err := s.ComputeAggregate(ctx, key)
	if err != nil {
		return nil, err
	}
	out := []models.LearningAggregate{*overall}

	events, err := s.store.ListEvents(ctx, tenantID, storage.EventFilter{From: start, To: end})
	if err != nil {
		return out, fmt.Errorf("list events for template aggregates: %w", err)
	}
	seen := map[string]bool{}
	var ids []string
	for _, e := range events {
		if e.TemplateID != "" && !seen[e.TemplateID] {
			seen[e.TemplateID] = true
			ids = append(ids, e.TemplateID)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		k := key
		k.TemplateID = id
		agg, err := s.ComputeAggregate(ctx, k)
		if err != nil {
			s.logger.Warn().Err(err).Str("reason", apperr.ReasonAggregateFailed).Str("template_id", id).Msg("template aggregate skipped")
			continue
		}
		out = append(out, *agg)
	}
	s.logger.Info().Int64("tenant_id", tenantID).Str("granularity", string(g)).Time("period_start", start).Int("rows", len(out)).Msg("aggregates computed")
	return out, nil
}

// Period is a named reporting window used by the stats and dashboard endpoints
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Bounds resolves the period relative to now. Unknown periods are invalid.
func (p Period) Bounds(now time.Time) (time.Time, time.Time, models.Granularity, error) {
	switch p {
	case PeriodToday, "":
		start, end := DayBounds(now)
		return start, end, models.GranularityDaily, nil
	case PeriodWeek:
		start, end := WeekBounds(now)
		return start, end, models.GranularityWeekly, nil
	case PeriodMonth:
		start, end := MonthBounds(now)
		return start, end, models.GranularityMonthly, nil
	}
	return time.Time{}, time.Time{}, "", apperr.Invalid("learning.Period", "unknown period %q", p)
}

// Dashboard is the analytics overview for one period
type Dashboard struct {
	Period       Period                       `json:"period"`
	Aggregate    models.LearningAggregate     `json:"aggregate"`
	TopTemplates []models.TemplatePerformance `json:"top_templates"`
}

// Dashboard computes the current period's aggregate live, without storing it, and
// adds the best ranked templates
func (s *Service) Dashboard(ctx context.Context, tenantID int64, p Period, topN int) (*Dashboard, error) {
	start, end, g, err := p.Bounds(s.now())
	if err != nil {
		return nil, err
	}
	if p == "" {
		p = PeriodToday
	}
	events, err := s.store.ListEvents(ctx, tenantID, storage.EventFilter{From: start, To: end})
	if err != nil {
		return nil, fmt.Errorf("list events for dashboard: %w", err)
	}
	agg := Rollup(models.AggregateKey{TenantID: tenantID, Granularity: g, PeriodStart: start, PeriodEnd: end}, events)
	top, err := s.RankTemplates(ctx, tenantID, "", topN)
	if err != nil {
		return nil, err
	}
	return &Dashboard{Period: p, Aggregate: agg, TopTemplates: top}, nil
}

// Aggregates lists stored aggregates
func (s *Service) Aggregates(ctx context.Context, tenantID int64, f storage.AggregateFilter) ([]models.LearningAggregate, error) {
	return s.store.ListAggregates(ctx, tenantID, f)
}

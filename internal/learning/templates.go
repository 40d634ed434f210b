package learning

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

const (
	qualityWindow = 30 * 24 * time.Hour

	weightResponse   = 0.35
	weightConversion = 0.40
	weightUsage      = 0.15
	weightRecency    = 0.10

	usageSaturation = 50
	// MinRankingUses is how many uses in the last 30 days a template needs before
	// its quality score takes part in ranking
	MinRankingUses = 5
)

// usage events are the ones that put a template in front of a lead
var usageEvents = map[models.LearningEventType]bool{
	models.EventTemplateUsed:      true,
	models.EventDecisionMade:      true,
	models.EventReactivationDraft: true,
	models.EventReactivationSent:  true,
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// QualityScore is the weighted 0-100 score of a template from its 30 day rates
// (percentages) and its recent usage
func QualityScore(responseRate30d, conversionRate30d float64, uses30d int, lastUsed *time.Time, now time.Time) float64 {
	recency := 0.0
	if lastUsed != nil {
		days := now.Sub(*lastUsed).Hours() / 24
		recency = 1 - days/30
	}
	score := weightResponse*clampUnit(responseRate30d/100) +
		weightConversion*clampUnit(conversionRate30d/100) +
		weightUsage*clampUnit(float64(uses30d)/usageSaturation) +
		weightRecency*clampUnit(recency)
	return round2(score * 100)
}

// TrendOf compares the 30 day rates against lifetime rates. Both rates have to
// move by more than ten percent in the same direction.
func TrendOf(p models.TemplatePerformance) models.Trend {
	switch {
	case p.ResponseRate30d > p.ResponseRate*1.10 && p.ConversionRate30d > p.ConversionRate*1.10:
		return models.TrendImproving
	case p.ResponseRate30d < p.ResponseRate*0.90 && p.ConversionRate30d < p.ConversionRate*0.90:
		return models.TrendDeclining
	}
	return models.TrendStable
}

type templateTally struct {
	category                           string
	uses, responses, conversions       int
	uses30, responses30, conversions30 int
	lastUsed                           *time.Time
}

// rate caps at 100 since responses tracked on their own events can outnumber uses
func rate(n, uses int) float64 {
	if uses == 0 {
		return 0
	}
	if n > uses {
		n = uses
	}
	return percent(n, uses)
}

// PerformanceFrom derives per-template performance from the tenant's events
func PerformanceFrom(tenantID int64, events []models.LearningEvent, now time.Time) []models.TemplatePerformance {
	since := now.Add(-qualityWindow)
	tallies := map[string]*templateTally{}
	for i := range events {
		e := &events[i]
		if e.TemplateID == "" {
			continue
		}
		t := tallies[e.TemplateID]
		if t == nil {
			t = &templateTally{}
			tallies[e.TemplateID] = t
		}
		if t.category == "" {
			t.category = e.TemplateCategory
		}
		recent := !e.CreatedAt.Before(since)
		if usageEvents[e.EventType] {
			t.uses++
			if recent {
				t.uses30++
			}
			if t.lastUsed == nil || e.CreatedAt.After(*t.lastUsed) {
				at := e.CreatedAt
				t.lastUsed = &at
			}
		}
		if responded(e) {
			t.responses++
			if recent {
				t.responses30++
			}
		}
		if converted(e) {
			t.conversions++
			if recent {
				t.conversions30++
			}
		}
	}

	ids := make([]string, 0, len(tallies))
	for id := range tallies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.TemplatePerformance, 0, len(ids))
	for _, id := range ids {
		t := tallies[id]
		p := models.TemplatePerformance{
			TenantID:          tenantID,
			TemplateID:        id,
			Category:          t.category,
			TotalUses:         t.uses,
			Responses:         t.responses,
			Conversions:       t.conversions,
			Uses30d:           t.uses30,
			Responses30d:      t.responses30,
			Conversions30d:    t.conversions30,
			ResponseRate:      rate(t.responses, t.uses),
			ConversionRate:    rate(t.conversions, t.uses),
			ResponseRate30d:   rate(t.responses30, t.uses30),
			ConversionRate30d: rate(t.conversions30, t.uses30),
			LastUsedAt:        t.lastUsed,
			UpdatedAt:         now,
		}
		p.QualityScore = QualityScore(p.ResponseRate30d, p.ConversionRate30d, p.Uses30d, p.LastUsedAt, now)
		p.Trend = TrendOf(p)
		out = append(out, p)
	}
	return out
}

// RecomputeTemplates rebuilds template performance for the tenant from its full
// event history. Meant to run nightly. Stored aggregates are not used: they count
// all events instead of template uses, and a daily row is not rewritten when an
// outcome is attached to one of its events later.
func (s *Service) RecomputeTemplates(ctx context.Context, tenantID int64) ([]models.TemplatePerformance, error) {
	events, err := s.store.ListEvents(ctx, tenantID, storage.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("list events for template quality: %w", err)
	}
	perf := PerformanceFrom(tenantID, events, s.now())
	for i := range perf {
		if err := s.store.UpsertTemplatePerformance(ctx, &perf[i]); err != nil {
			return nil, fmt.Errorf("upsert template %s: %w", perf[i].TemplateID, err)
		}
	}
	s.logger.Info().Int64("tenant_id", tenantID).Int("templates", len(perf)).Msg("template quality recomputed")
	return perf, nil
}

// RankTemplates returns templates eligible for ranking, best first. Templates
// with fewer than MinRankingUses uses in 30 days are left out.
func (s *Service) RankTemplates(ctx context.Context, tenantID int64, category string, limit int) ([]models.TemplatePerformance, error) {
	all, err := s.store.ListTemplatePerformance(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ranked := make([]models.TemplatePerformance, 0, len(all))
	for _, p := range all {
		if p.Uses30d < MinRankingUses {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		ranked = append(ranked, p)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].QualityScore == ranked[j].QualityScore {
			return ranked[i].TemplateID < ranked[j].TemplateID
		}
		return ranked[i].QualityScore > ranked[j].QualityScore
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// Templates lists template performance, optionally restricted to a category and
// to templates used within the last days
func (s *Service) Templates(ctx context.Context, tenantID int64, category string, days, limit int) ([]models.TemplatePerformance, error) {
	all, err := s.store.ListTemplatePerformance(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var cutoff time.Time
	if days > 0 {
		cutoff = s.now().AddDate(0, 0, -days)
	}
	out := make([]models.TemplatePerformance, 0, len(all))
	for _, p := range all {
		if category != "" && p.Category != category {
			continue
		}
		if !cutoff.IsZero() && (p.LastUsedAt == nil || p.LastUsedAt.Before(cutoff)) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QualityScore > out[j].QualityScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Template returns the performance of one template
func (s *Service) Template(ctx context.Context, tenantID int64, templateID string) (*models.TemplatePerformance, error) {
	if templateID == "" {
		return nil, apperr.Invalid("learning.Template", "template id is required")
	}
	return s.store.GetTemplatePerformance(ctx, tenantID, templateID)
}

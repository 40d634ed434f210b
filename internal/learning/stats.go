package learning

import (
	"context"
	"fmt"

	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

// maxStatsActions bounds the audit rows scanned for one stats request
const maxStatsActions = 500

// Stats summarizes autopilot decisions over a period
type Stats struct {
	Period         Period                `json:"period"`
	TotalActions   int                   `json:"total_actions"`
	ByAction       map[models.Action]int `json:"by_action"`
	ByIntent       map[models.Intent]int `json:"by_intent"`
	ResponsesSent  int                   `json:"responses_sent"`
	AvgConfidence  float64               `json:"avg_confidence"`
	AutoSendRate   float64               `json:"auto_send_rate"`
	ResponseRate   float64               `json:"response_rate"`
	ConversionRate float64               `json:"conversion_rate"`
}

// Stats counts the tenant's autopilot actions for the period and adds the live
// response and conversion rates from learning events
func (s *Service) Stats(ctx context.Context, tenantID int64, p Period) (*Stats, error) {
	start, end, g, err := p.Bounds(s.now())
	if err != nil {
		return nil, err
	}
	if p == "" {
		p = PeriodToday
	}
	actions, err := s.store.ListActions(ctx, tenantID, storage.ActionFilter{Since: start, Limit: maxStatsActions})
	if err != nil {
		return nil, fmt.Errorf("list actions for stats: %w", err)
	}
	st := &Stats{Period: p, ByAction: map[models.Action]int{}, ByIntent: map[models.Intent]int{}}
	confSum := 0
	for _, a := range actions {
		if !a.CreatedAt.Before(end) {
			continue
		}
		st.TotalActions++
		st.ByAction[a.Action]++
		if a.Intent != "" {
			st.ByIntent[a.Intent]++
		}
		if a.ResponseSent {
			st.ResponsesSent++
		}
		confSum += a.Confidence
	}
	if st.TotalActions > 0 {
		st.AvgConfidence = round2(float64(confSum) / float64(st.TotalActions))
	}
	st.AutoSendRate = percent(st.ByAction[models.ActionAutoSend], st.TotalActions)

	events, err := s.store.ListEvents(ctx, tenantID, storage.EventFilter{From: start, To: end})
	if err != nil {
		return nil, fmt.Errorf("list events for stats: %w", err)
	}
	agg := Rollup(models.AggregateKey{TenantID: tenantID, Granularity: g, PeriodStart: start, PeriodEnd: end}, events)
	st.ResponseRate = agg.ResponseRate
	st.ConversionRate = agg.ConversionRate
	return st, nil
}

package signals

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/pkg/models"
)

var typeWeights = map[models.SignalType]float64{
	models.SignalIntent:        1.0,
	models.SignalFunding:       0.9,
	models.SignalJobChange:     0.85,
	models.SignalWebsiteChange: 0.7,
	models.SignalNews:          0.6,
}

const (
	companyBoost = 0.10
	personBoost  = 0.15
	minRecency   = 0.3
	recencyDays  = 30.0

	// ActionableRelevance is the score a non-intent signal must exceed to keep a
	// reactivation run going
	ActionableRelevance = 0.5
)

// DefaultCollectorTimeout bounds each collector call
const DefaultCollectorTimeout = 10 * time.Second

// Weight returns the base weight of a signal type
func Weight(t models.SignalType) float64 {
	return typeWeights[t]
}

// Recency decays linearly over 30 days down to a floor of 0.3
func Recency(detected, now time.Time) float64 {
	if detected.IsZero() || detected.After(now) {
		return 1
	}
	days := now.Sub(detected).Hours() / 24
	return math.Max(minRecency, 1-days/recencyDays)
}

// Score computes the relevance of s for t
func Score(s models.Signal, t Target, now time.Time) float64 {
	score := Weight(s.Type) * Recency(s.DetectedAt, now)
	text := strings.ToLower(s.Title + " " + s.Summary)
	if c := strings.ToLower(strings.TrimSpace(t.Company)); c != "" && strings.Contains(text, c) {
		score += companyBoost
	}
	if n := strings.ToLower(strings.TrimSpace(t.Name)); n != "" && strings.Contains(text, n) {
		score += personBoost
	}
	return math.Min(1, score)
}

// Detector fans out to every collector in parallel
type Detector struct {
	collectors []Collector
	timeout    time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

func NewDetector(timeout time.Duration, collectors ...Collector) *Detector {
	if timeout <= 0 {
		timeout = DefaultCollectorTimeout
	}
	return &Detector{
		collectors: collectors,
		timeout:    timeout,
		now:        time.Now,
		logger:     log.With().Str("component", "signals").Logger(),
	}
}

// SetClock replaces the clock used for recency
func (d *Detector) SetClock(now func() time.Time) { d.now = now }

// Detect runs all collectors, each under its own timeout. A failing collector
// is logged and contributes nothing. The result is scored and sorted by
// relevance, highest first.
func (d *Detector) Detect(ctx context.Context, t Target) []models.Signal {
	results := make([][]models.Signal, len(d.collectors))
	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	for i, c := range d.collectors {
		eg.Go(func() error {
			cctx, cancel := context.WithTimeout(egCtx, d.timeout)
			defer cancel()
			sigs, err := d.collect(cctx, c, t)
			if err != nil {
				d.logger.Warn().Err(err).
					Str("reason", apperr.ReasonCollectorFailed).
					Str("collector", c.Name()).
					Str("lead_id", t.LeadID).
					Msg("signal collector failed")
				return nil
			}
			mu.Lock()
			results[i] = sigs
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	now := d.now()
	var out []models.Signal
	for _, sigs := range results {
		for _, s := range sigs {
			s.RelevanceScore = Score(s, t, now)
			if s.DetectedAt.IsZero() {
				s.DetectedAt = now
			}
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].RelevanceScore > out[b].RelevanceScore
	})
	return out
}

// collect shields the fan-out from a collector that panics
func (d *Detector) collect(ctx context.Context, c Collector, t Target) (sigs []models.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collector %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Collect(ctx, t)
}

// Actionable reports whether any signal justifies continuing a reactivation:
// an intent signal or one scoring above ActionableRelevance
func Actionable(sigs []models.Signal) bool {
	for _, s := range sigs {
		if s.Type == models.SignalIntent || s.RelevanceScore > ActionableRelevance {
			return true
		}
	}
	return false
}

// Primary returns the most relevant signal, or nil
func Primary(sigs []models.Signal) *models.Signal {
	if len(sigs) == 0 {
		return nil
	}
	best := sigs[0]
	for _, s := range sigs[1:] {
		if s.RelevanceScore > best.RelevanceScore {
			best = s
		}
	}
	return &best
}

// Summarize renders the top signals as one short paragraph
func Summarize(sigs []models.Signal, n int) string {
	if len(sigs) == 0 {
		return "Keine aktuellen Signale."
	}
	if n <= 0 || n > len(sigs) {
		n = len(sigs)
	}
	parts := make([]string, 0, n)
	for _, s := range sigs[:n] {
		parts = append(parts, fmt.Sprintf("%s (%s, %.2f): %s", s.Title, s.Type, s.RelevanceScore, s.Summary))
	}
	return strings.Join(parts, "; ")
}

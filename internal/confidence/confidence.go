// Package confidence turns an intent analysis and a candidate response into a 0-100
// trust score and maps that score to an action.
package confidence

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/leadpilot/internal/intent"
	"github.com/leadpilot/pkg/models"
)

// KnowledgeLevel grades how well a response is backed by tenant knowledge
type KnowledgeLevel string

const (
	KnowledgeExact    KnowledgeLevel = "exact"
	KnowledgeSimilar  KnowledgeLevel = "similar"
	KnowledgePartial  KnowledgeLevel = "partial"
	KnowledgeInferred KnowledgeLevel = "inferred"
	KnowledgeNone     KnowledgeLevel = "none"
)

// RiskLevel is the business risk of answering without a human
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AutoSendFloor is the score below which a human is always pulled in
const AutoSendFloor = 70

// KnowledgeMatch is the best knowledge hit backing a response
type KnowledgeMatch struct {
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// Breakdown holds the four sub-scores
type Breakdown struct {
	KnowledgeMatch int            `json:"knowledge_match"`
	KnowledgeLevel KnowledgeLevel `json:"knowledge_level"`
	IntentClarity  int            `json:"intent_clarity"`
	ResponseFit    int            `json:"response_fit"`
	Risk           int            `json:"risk"`
	RiskLevel      RiskLevel      `json:"risk_level"`
}

// Result is the output of Calculate
type Result struct {
	Score           int           `json:"score"`
	Breakdown       Breakdown     `json:"breakdown"`
	Action          models.Action `json:"action"`
	Threshold       int           `json:"threshold"`
	Reasoning       string        `json:"reasoning"`
	Recommendations []string      `json:"recommendations"`
	RiskFactors     []string      `json:"risk_factors"`
}

// LevelFor grades a similarity in [0,1]
func LevelFor(similarity float64) KnowledgeLevel {
	switch {
	case similarity >= 0.95:
		return KnowledgeExact
	case similarity >= 0.8:
		return KnowledgeSimilar
	case similarity >= 0.6:
		return KnowledgePartial
	case similarity >= 0.4:
		return KnowledgeInferred
	default:
		return KnowledgeNone
	}
}

var knowledgePoints = map[KnowledgeLevel]int{
	KnowledgeExact:    30,
	KnowledgeSimilar:  20,
	KnowledgePartial:  15,
	KnowledgeInferred: 10,
	KnowledgeNone:     5,
}

var riskPoints = map[RiskLevel]int{
	RiskLow:    20,
	RiskMedium: 10,
	RiskHigh:   0,
}

var clearIntents = map[models.Intent]bool{
	models.IntentPriceInquiry:  true,
	models.IntentReadyToBuy:    true,
	models.IntentNotInterested: true,
	models.IntentScheduling:    true,
}

// Calculate scores a candidate response. km and o may be nil.
func Calculate(a intent.IntentAnalysis, response string, lc models.LeadContext, km *KnowledgeMatch, settings models.AutopilotSettings, o *models.LeadOverride) Result {
	var b Breakdown
	var factors []string

	b.KnowledgeLevel = KnowledgeNone
	if km != nil {
		b.KnowledgeLevel = LevelFor(km.Similarity)
	}
	b.KnowledgeMatch = knowledgePoints[b.KnowledgeLevel]

	b.IntentClarity = intentClarity(a.Intent, a.Confidence)

	vip := lc.IsVIP || (o != nil && o.IsVIP)
	b.ResponseFit = responseFit(response, lc.InteractionCount, vip)

	b.RiskLevel, factors = risk(a.Intent, lc, vip, o)
	b.Risk = riskPoints[b.RiskLevel]

	score := b.KnowledgeMatch + b.IntentClarity + b.ResponseFit + b.Risk
	threshold := EffectiveThreshold(settings.ConfidenceThreshold, o)
	action := DecideAction(score, settings.ConfidenceThreshold, o)

	return Result{
		Score:           score,
		Breakdown:       b,
		Action:          action,
		Threshold:       threshold,
		Reasoning:       reasoning(score, threshold, action, b, o),
		Recommendations: recommendations(b, a),
		RiskFactors:     factors,
	}
}

// DecideAction maps a score to an action. It is a pure function of its inputs.
func DecideAction(score, threshold int, o *models.LeadOverride) models.Action {
	if o != nil {
		switch o.Mode {
		case models.OverrideDisabled:
			return models.ActionHumanNeeded
		case models.OverrideCareful:
			return models.ActionDraftReview
		}
	}
	t := EffectiveThreshold(threshold, o)
	switch {
	case score >= t:
		return models.ActionAutoSend
	case score >= AutoSendFloor:
		return models.ActionDraftReview
	default:
		return models.ActionHumanNeeded
	}
}

// EffectiveThreshold clamps the tenant threshold to [50,100] and applies the
// aggressive override, which lowers it by 15 but never below AutoSendFloor.
func EffectiveThreshold(threshold int, o *models.LeadOverride) int {
	if threshold < 50 {
		threshold = 50
	}
	if threshold > 100 {
		threshold = 100
	}
	if o != nil && o.Mode == models.OverrideAggressive {
		threshold -= 15
		if threshold < AutoSendFloor {
			threshold = AutoSendFloor
		}
	}
	return threshold
}

func intentClarity(in models.Intent, conf float64) int {
	var pts int
	switch {
	case conf >= 0.9:
		pts = 25
	case conf >= 0.8:
		pts = 20
	case conf >= 0.7:
		pts = 15
	case conf >= 0.5:
		pts = 10
	default:
		pts = 5
	}
	if clearIntents[in] && conf > 0.7 {
		pts += 5
	}
	if pts > 25 {
		pts = 25
	}
	return pts
}

func responseFit(response string, interactions int, vip bool) int {
	n := utf8.RuneCountInString(strings.TrimSpace(response))
	pts := 15
	if interactions == 0 && n > 200 {
		pts = 20
	}
	if interactions > 5 {
		pts = 22
	}
	if n < 20 && pts > 10 {
		pts = 10
	}
	if n > 500 && pts > 12 {
		pts = 12
	}
	if vip && pts > 15 {
		pts = 15
	}
	return pts
}

func baseRisk(in models.Intent) RiskLevel {
	switch in {
	case models.IntentComplexObjection, models.IntentCancellation:
		return RiskHigh
	case models.IntentPriceObjection, models.IntentTimeObjection, models.IntentTrustObjection,
		models.IntentReadyToBuy, models.IntentNotInterested, models.IntentUnclear:
		return RiskMedium
	default:
		return RiskLow
	}
}

func raise(r RiskLevel) RiskLevel {
	if r == RiskLow {
		return RiskMedium
	}
	return RiskHigh
}

func risk(in models.Intent, lc models.LeadContext, vip bool, o *models.LeadOverride) (RiskLevel, []string) {
	level := baseRisk(in)
	factors := []string{}
	if level != RiskLow {
		factors = append(factors, fmt.Sprintf("intent %s carries %s risk", in, level))
	}
	if lc.EstimatedValue > 1000 {
		level = raise(level)
		factors = append(factors, fmt.Sprintf("estimated value %.0f above 1000", lc.EstimatedValue))
	}
	if vip {
		level = raise(level)
		factors = append(factors, "VIP lead")
	}
	if lc.HasComplaints {
		level = raise(level)
		factors = append(factors, "lead has open complaints")
	}
	if o != nil && o.Mode == models.OverrideCareful {
		level = raise(level)
		factors = append(factors, "lead override requires careful handling")
	}
	return level, factors
}

func reasoning(score, threshold int, action models.Action, b Breakdown, o *models.LeadOverride) string {
	parts := fmt.Sprintf("score %d (knowledge %d/%s, clarity %d, fit %d, risk %d/%s)",
		score, b.KnowledgeMatch, b.KnowledgeLevel, b.IntentClarity, b.ResponseFit, b.Risk, b.RiskLevel)
	if o != nil && (o.Mode == models.OverrideDisabled || o.Mode == models.OverrideCareful) {
		return fmt.Sprintf("%s; override %s forces %s", parts, o.Mode, action)
	}
	switch action {
	case models.ActionAutoSend:
		return fmt.Sprintf("%s reaches threshold %d", parts, threshold)
	case models.ActionDraftReview:
		return fmt.Sprintf("%s below threshold %d", parts, threshold)
	default:
		return fmt.Sprintf("%s below %d", parts, AutoSendFloor)
	}
}

func recommendations(b Breakdown, a intent.IntentAnalysis) []string {
	out := []string{}
	if b.KnowledgeLevel == KnowledgeNone || b.KnowledgeLevel == KnowledgeInferred {
		out = append(out, "add knowledge base content covering this question")
	}
	if b.IntentClarity <= 10 {
		out = append(out, "ask a clarifying question before answering")
	}
	if b.ResponseFit <= 12 {
		out = append(out, "adjust response length for this lead")
	}
	if b.RiskLevel == RiskHigh {
		out = append(out, "handle personally")
	}
	if a.Temperature == models.TemperatureHot {
		out = append(out, "prioritize this hot lead")
	}
	return out
}

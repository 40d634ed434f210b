package confidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leadpilot/internal/intent"
	"github.com/leadpilot/pkg/models"
)

func analysis(in models.Intent, conf float64) intent.IntentAnalysis {
	return intent.IntentAnalysis{Intent: in, Confidence: conf, Temperature: intent.TemperatureFor(in)}
}

func TestDecideActionIsTotalAndPure(t *testing.T) {
	overrides := []*models.LeadOverride{
		nil,
		{Mode: models.OverrideNormal},
		{Mode: models.OverrideAggressive},
		{Mode: models.OverrideCareful},
		{Mode: models.OverrideDisabled},
	}
	for _, o := range overrides {
		for threshold := 50; threshold <= 100; threshold += 5 {
			for score := 0; score <= 100; score++ {
				first := DecideAction(score, threshold, o)
				assert.Equal(t, first, DecideAction(score, threshold, o))
				assert.Contains(t, []models.Action{models.ActionAutoSend, models.ActionDraftReview, models.ActionHumanNeeded}, first)
			}
		}
	}
}

func TestDecideActionPolicy(t *testing.T) {
	tests := []struct {
		name      string
		score     int
		threshold int
		override  *models.LeadOverride
		want      models.Action
	}{
		{"at threshold", 90, 90, nil, models.ActionAutoSend},
		{"between floor and threshold", 89, 90, nil, models.ActionDraftReview},
		{"at floor", 70, 90, nil, models.ActionDraftReview},
		{"below floor", 69, 90, nil, models.ActionHumanNeeded},
		{"disabled wins", 100, 50, &models.LeadOverride{Mode: models.OverrideDisabled}, models.ActionHumanNeeded},
		{"careful wins", 100, 50, &models.LeadOverride{Mode: models.OverrideCareful}, models.ActionDraftReview},
		{"aggressive lowers threshold", 75, 90, &models.LeadOverride{Mode: models.OverrideAggressive}, models.ActionAutoSend},
		{"aggressive floored", 70, 80, &models.LeadOverride{Mode: models.OverrideAggressive}, models.ActionAutoSend},
		{"aggressive floor holds", 69, 80, &models.LeadOverride{Mode: models.OverrideAggressive}, models.ActionHumanNeeded},
		{"low threshold", 60, 50, nil, models.ActionAutoSend},
		{"threshold clamped", 55, 10, nil, models.ActionAutoSend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecideAction(tt.score, tt.threshold, tt.override))
		})
	}
}

func TestKnowledgeMonotonicity(t *testing.T) {
	settings := models.DefaultSettings(1)
	lc := models.DefaultLeadContext()
	resp := strings.Repeat("a", 250)
	a := analysis(models.IntentSimpleInfo, 0.82)

	prev := Calculate(a, resp, lc, nil, settings, nil).Score
	for _, sim := range []float64{0.4, 0.6, 0.8, 0.95, 1.0} {
		got := Calculate(a, resp, lc, &KnowledgeMatch{Similarity: sim}, settings, nil).Score
		assert.GreaterOrEqual(t, got, prev, "similarity %.2f", sim)
		prev = got
	}
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, KnowledgeExact, LevelFor(0.97))
	assert.Equal(t, KnowledgeSimilar, LevelFor(0.8))
	assert.Equal(t, KnowledgePartial, LevelFor(0.6))
	assert.Equal(t, KnowledgeInferred, LevelFor(0.45))
	assert.Equal(t, KnowledgeNone, LevelFor(0.1))
}

func TestCalculateInfoRequestGoesToReview(t *testing.T) {
	settings := models.DefaultSettings(1)
	lc := models.DefaultLeadContext()
	resp := strings.Repeat("x", 260)

	got := Calculate(analysis(models.IntentSimpleInfo, 0.82), resp, lc, &KnowledgeMatch{Similarity: 0.6, Source: "template"}, settings, nil)
	assert.Equal(t, Breakdown{
		KnowledgeMatch: 15,
		KnowledgeLevel: KnowledgePartial,
		IntentClarity:  20,
		ResponseFit:    20,
		Risk:           20,
		RiskLevel:      RiskLow,
	}, got.Breakdown)
	assert.Equal(t, 75, got.Score)
	assert.Equal(t, models.ActionDraftReview, got.Action)
	assert.Contains(t, got.Reasoning, "below threshold 90")
}

func TestCalculateCarefulOverrideForcesReview(t *testing.T) {
	settings := models.DefaultSettings(1)
	lc := models.DefaultLeadContext()
	o := &models.LeadOverride{Mode: models.OverrideCareful}

	got := Calculate(analysis(models.IntentScheduling, 1.0), strings.Repeat("y", 230), lc, &KnowledgeMatch{Similarity: 0.97}, settings, o)
	assert.Equal(t, 85, got.Score)
	assert.Equal(t, RiskMedium, got.Breakdown.RiskLevel)
	assert.Equal(t, models.ActionDraftReview, got.Action)
	assert.Contains(t, got.RiskFactors, "lead override requires careful handling")
}

func TestIntentClarityBands(t *testing.T) {
	assert.Equal(t, 25, intentClarity(models.IntentSimpleInfo, 0.95))
	assert.Equal(t, 20, intentClarity(models.IntentSimpleInfo, 0.82))
	assert.Equal(t, 25, intentClarity(models.IntentPriceInquiry, 0.82))
	assert.Equal(t, 15, intentClarity(models.IntentSimpleInfo, 0.7))
	assert.Equal(t, 15, intentClarity(models.IntentScheduling, 0.7))
	assert.Equal(t, 10, intentClarity(models.IntentSimpleInfo, 0.5))
	assert.Equal(t, 5, intentClarity(models.IntentUnclear, 0.3))
}

func TestResponseFit(t *testing.T) {
	assert.Equal(t, 15, responseFit(strings.Repeat("a", 100), 2, false))
	assert.Equal(t, 20, responseFit(strings.Repeat("a", 201), 0, false))
	assert.Equal(t, 22, responseFit(strings.Repeat("a", 100), 6, false))
	assert.Equal(t, 10, responseFit("kurz", 6, false))
	assert.Equal(t, 12, responseFit(strings.Repeat("a", 501), 0, false))
	assert.Equal(t, 15, responseFit(strings.Repeat("a", 250), 0, true))
}

func TestRiskUpgrades(t *testing.T) {
	lc := models.DefaultLeadContext()

	level, _ := risk(models.IntentSimpleInfo, lc, false, nil)
	assert.Equal(t, RiskLow, level)

	lc.EstimatedValue = 5000
	level, factors := risk(models.IntentSimpleInfo, lc, false, nil)
	assert.Equal(t, RiskMedium, level)
	assert.Len(t, factors, 1)

	level, _ = risk(models.IntentSimpleInfo, lc, true, nil)
	assert.Equal(t, RiskHigh, level)

	lc = models.DefaultLeadContext()
	lc.HasComplaints = true
	level, _ = risk(models.IntentScheduling, lc, false, nil)
	assert.Equal(t, RiskMedium, level)

	level, _ = risk(models.IntentCancellation, models.DefaultLeadContext(), false, nil)
	assert.Equal(t, RiskHigh, level)
}

func TestRiskLevelsForComplaintsAndCarefulMode(t *testing.T) {
	complaints := models.DefaultLeadContext()
	complaints.HasComplaints = true
	careful := &models.LeadOverride{Mode: models.OverrideCareful}

	tests := []struct {
		name   string
		intent models.Intent
		lc     models.LeadContext
		o      *models.LeadOverride
		want   RiskLevel
	}{
		{"complaints on low risk intent", models.IntentSimpleInfo, complaints, nil, RiskMedium},
		{"complaints on medium risk intent", models.IntentPriceObjection, complaints, nil, RiskHigh},
		{"careful on low risk intent", models.IntentScheduling, models.DefaultLeadContext(), careful, RiskMedium},
		{"careful on medium risk intent", models.IntentReadyToBuy, models.DefaultLeadContext(), careful, RiskHigh},
		{"complaints and careful", models.IntentSimpleInfo, complaints, careful, RiskHigh},
		{"aggressive leaves risk alone", models.IntentSimpleInfo, models.DefaultLeadContext(), &models.LeadOverride{Mode: models.OverrideAggressive}, RiskLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, _ := risk(tt.intent, tt.lc, false, tt.o)
			assert.Equal(t, tt.want, level)
		})
	}
}

package intent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/pkg/models"
)

func TestAnalyzeScenarios(t *testing.T) {
	d := New(nil)
	lc := models.DefaultLeadContext()

	tests := []struct {
		name        string
		text        string
		intent      models.Intent
		minConf     float64
		maxConf     float64
		temperature models.Temperature
	}{
		{"info request", "Hey, erzähl mal mehr über euer Produkt", models.IntentSimpleInfo, 0.8, 0.9, models.TemperatureWarm},
		{"price inquiry", "Was kostet das?", models.IntentPriceInquiry, 0.91, 1.0, models.TemperatureHot},
		{"spam", "BTC gains 500% this week https://x", models.IntentSpam, 0.9, 1.0, models.TemperatureDead},
		{"scheduling", "Ja, Dienstag 14 Uhr passt", models.IntentScheduling, 0.9, 1.0, models.TemperatureHot},
		{"not interested", "Danke, aber kein Interesse mehr", models.IntentNotInterested, 0.9, 1.0, models.TemperatureCold},
		{"price objection", "Das ist mir echt zu teuer", models.IntentPriceObjection, 0.9, 1.0, models.TemperatureWarm},
		{"reschedule", "Können wir den Call verschieben", models.IntentReschedule, 0.9, 1.0, models.TemperatureWarm},
		{"ready to buy", "Ich möchte es kaufen, schick mir die Rechnung", models.IntentReadyToBuy, 0.95, 1.0, models.TemperatureHot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Analyze(tt.text, nil, lc)
			assert.Equal(t, tt.intent, got.Intent)
			assert.GreaterOrEqual(t, got.Confidence, tt.minConf)
			assert.LessOrEqual(t, got.Confidence, tt.maxConf)
			assert.Equal(t, tt.temperature, got.Temperature)
		})
	}
}

func TestAnalyzePercentagesAreNotSpam(t *testing.T) {
	d := New(nil)
	lc := models.DefaultLeadContext()

	tests := []struct {
		text   string
		intent models.Intent
	}{
		{"Ich bin zu 100% überzeugt, ich möchte bestellen", models.IntentReadyToBuy},
		{"Ja, ich will kaufen! 100 % dabei", models.IntentReadyToBuy},
		{"Wir haben 250 Mitarbeiter und 100% Remote, was kostet das?", models.IntentPriceInquiry},
		{"Garantiert 300% Rendite im Monat", models.IntentSpam},
		{"Nur heute 500% gewinn, klick hier", models.IntentSpam},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := d.Analyze(tt.text, nil, lc)
			assert.Equal(t, tt.intent, got.Intent)
			assert.Equal(t, SourcePattern, got.Source)
		})
	}
}

func TestAnalyzeBuyingPatternBeatsSpam(t *testing.T) {
	got := New(nil).Analyze("Bitcoin? Egal, ich möchte jetzt bestellen", nil, models.DefaultLeadContext())
	assert.Equal(t, models.IntentReadyToBuy, got.Intent)
	assert.Equal(t, models.TemperatureHot, got.Temperature)
	assert.Contains(t, got.BuyingSignals, "bestellen")
}

func TestAnalyzeInfoRequestHasNoKeywordBoost(t *testing.T) {
	got := New(nil).Analyze("Hey, erzähl mal mehr über euer Produkt", nil, models.DefaultLeadContext())
	assert.Equal(t, SourcePattern, got.Source)
	assert.InDelta(t, 0.82, got.Confidence, 1e-9)
}

func TestAnalyzeShortMessages(t *testing.T) {
	d := New(nil)
	lc := models.DefaultLeadContext()

	tests := []struct {
		text        string
		intent      models.Intent
		temperature models.Temperature
	}{
		{"ja", models.IntentScheduling, models.TemperatureWarm},
		{"Ok!", models.IntentScheduling, models.TemperatureWarm},
		{"nein", models.IntentNotInterested, models.TemperatureCold},
		{"Hi", models.IntentSimpleInfo, models.TemperatureWarm},
		{"Moin.", models.IntentSimpleInfo, models.TemperatureWarm},
		{"Hallo", models.IntentSimpleInfo, models.TemperatureWarm},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := d.Analyze(tt.text, nil, lc)
			assert.Equal(t, tt.intent, got.Intent)
			assert.Equal(t, tt.temperature, got.Temperature)
			assert.Equal(t, SourceShort, got.Source)
		})
	}

	greeting := d.Analyze("hey", nil, lc)
	assert.Less(t, greeting.Confidence, 0.5)
}

func TestAnalyzeShortAffirmativeAfterProposal(t *testing.T) {
	history := []models.Message{
		{Direction: models.DirectionInbound, Text: "Klingt gut"},
		{Direction: models.DirectionOutbound, Text: "Wie wäre ein Termin am Donnerstag um 10 Uhr?"},
	}
	got := New(nil).Analyze("ja", history, models.DefaultLeadContext())
	assert.Equal(t, models.IntentScheduling, got.Intent)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
}

func TestAnalyzeUnclear(t *testing.T) {
	d := New(nil)
	lc := models.DefaultLeadContext()

	for _, text := range []string{"", "   ", "Was?", "Lorem ipsum dolor sit amet"} {
		got := d.Analyze(text, nil, lc)
		assert.Equal(t, models.IntentUnclear, got.Intent, text)
		assert.InDelta(t, 0.3, got.Confidence, 1e-9, text)
		assert.Equal(t, models.TemperatureWarm, got.Temperature, text)
	}
}

func TestAnalyzeKeywordFallback(t *testing.T) {
	// no regex fires; two fallback keywords of price_inquiry do
	got := New(nil).Analyze("Tarif und Paket für Firmen", nil, models.DefaultLeadContext())
	assert.Equal(t, models.IntentPriceInquiry, got.Intent)
	assert.Equal(t, SourceKeyword, got.Source)
	assert.InDelta(t, 0.6, got.Confidence, 1e-9)
	assert.ElementsMatch(t, []string{"paket", "tarif"}, got.Keywords)
}

func TestAnalyzeSentimentAndUrgency(t *testing.T) {
	d := New(nil)
	lc := models.DefaultLeadContext()

	pos := d.Analyze("Super, klingt interessant 😊", nil, lc)
	assert.Equal(t, SentimentPositive, pos.Sentiment)

	neg := d.Analyze("Leider zu teuer, echt schade 👎", nil, lc)
	assert.Equal(t, SentimentNegative, neg.Sentiment)

	neutral := d.Analyze("Dienstag 14 Uhr", nil, lc)
	assert.Equal(t, SentimentNeutral, neutral.Sentiment)
	assert.Equal(t, UrgencyMedium, neutral.Urgency)

	urgent := d.Analyze("Was kostet das, ich brauche es dringend", nil, lc)
	assert.Equal(t, models.IntentPriceInquiry, urgent.Intent)
	assert.Equal(t, UrgencyHigh, urgent.Urgency)

	low := d.Analyze("Erzähl mal was über euch", nil, lc)
	assert.Equal(t, UrgencyLow, low.Urgency)
}

func TestAnalyzeBuyingSignals(t *testing.T) {
	got := New(nil).Analyze("Was kostet das?", nil, models.DefaultLeadContext())
	assert.Contains(t, got.BuyingSignals, "kostet")

	none := New(nil).Analyze("Hey, erzähl mal mehr über euer Produkt", nil, models.DefaultLeadContext())
	assert.Empty(t, none.BuyingSignals)
}

func TestAnalyzeKeepsHotLeadHot(t *testing.T) {
	lc := models.DefaultLeadContext()
	lc.Temperature = models.TemperatureHot
	got := New(nil).Analyze("Erzähl mal mehr über das Coaching", nil, lc)
	assert.Equal(t, models.IntentSimpleInfo, got.Intent)
	assert.Equal(t, models.TemperatureHot, got.Temperature)
}

func TestContainsWordRespectsUmlautBoundaries(t *testing.T) {
	assert.True(t, containsWord("das ist zu teuer.", "teuer"))
	assert.False(t, containsWord("steuerberater", "teuer"))
	assert.False(t, containsWord("überteuert", "teuer"))
	assert.True(t, containsWord("preis: 100 €", "€"))
	assert.True(t, containsWord("top👍", "👍"))
}

func TestCompileRejectsUnknownIntent(t *testing.T) {
	_, err := Compile(TableDef{Entries: []PatternDef{{Intent: "shopping", Patterns: []string{"x"}}}})
	require.Error(t, err)

	_, err = Compile(TableDef{Entries: []PatternDef{{Intent: models.IntentSpam, Patterns: []string{"("}}}})
	require.Error(t, err)
}

func TestSwapTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.json")
	def := `{"entries":[{"intent":"irrelevant","patterns":["wetter"],"priority":5}],"short":{}}`
	require.NoError(t, os.WriteFile(path, []byte(def), 0o600))

	table, err := LoadTable(path)
	require.NoError(t, err)

	d := New(nil)
	d.Swap(table)
	got := d.Analyze("Wie ist das Wetter bei euch", nil, models.DefaultLeadContext())
	assert.Equal(t, models.IntentIrrelevant, got.Intent)
	assert.Equal(t, models.TemperatureDead, got.Temperature)
}

package compliance

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/pkg/models"
)

const cleanSie = "Hallo Frau Berger,\n\nich habe gelesen, dass Ihr Team gerade wächst. Passt Ihnen ein kurzes Gespräch nächste Woche?\n\nViele Grüße\nMara Vogt"

func TestCheckCleanLinkedInMessagePasses(t *testing.T) {
	c := New(nil)
	res := c.Check(Input{Text: cleanSie, Channel: models.ChannelLinkedIn, Formality: models.FormalitySie, Confidence: 0.95})

	assert.True(t, res.Passed)
	assert.Empty(t, res.Issues)
	assert.False(t, res.RequiresReview)
}

func TestCheckLiabilityPatterns(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		issue string
	}{
		{"guarantee", "Wir liefern garantiert Ergebnisse.", "liability: guarantee claim"},
		{"health", "Unser Programm heilt Rückenschmerzen.", "liability: health claim"},
		{"income", "Mit uns wird passives Einkommen Realität.", "liability: income promise"},
		{"aggressive", "Kaufen Sie sofort, bevor es zu spät ist.", "tone: aggressive directive"},
		{"urgency", "Das ist Ihre letzte Chance auf den Rabatt.", "tone: urgency pressure"},
	}
	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Check(Input{Text: tt.text, Channel: models.ChannelLinkedIn, Formality: models.FormalitySie, Confidence: 1})
			assert.False(t, res.Passed)
			assert.Contains(t, res.Issues, tt.issue)
			assert.True(t, res.RequiresReview)
		})
	}
}

func TestCheckRulesAreSwappable(t *testing.T) {
	c := New([]Rule{{ID: "promo", Issue: "custom: promo code", Pattern: regexp.MustCompile(`(?i)promo`)}})

	res := c.Check(Input{Text: "Wir liefern garantiert. Code PROMO10", Channel: models.ChannelLinkedIn, Confidence: 1})
	assert.Equal(t, []string{"custom: promo code"}, res.Issues)
}

func TestCheckFormality(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  models.Formality
		issue string
	}{
		{"sie expected, du found", "Hast du nächste Woche Zeit?", models.FormalitySie, "formality: informal address, expected Sie"},
		{"du expected, sie found", "Haben Sie nächste Woche Zeit?", models.FormalityDu, "formality: formal address, expected Du"},
		{"mixed", "Haben Sie Zeit? Ich melde mich bei dir.", models.FormalitySie, "formality: mixed Sie and Du address"},
		{"du consistent", "Hast du nächste Woche Zeit?", models.FormalityDu, ""},
		{"lowercase sie is not address", "Hast du gesehen, wie sie das gelöst haben?", models.FormalityDu, ""},
	}
	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Check(Input{Text: tt.text, Channel: models.ChannelLinkedIn, Formality: tt.want, Confidence: 1})
			if tt.issue == "" {
				assert.True(t, res.Passed, "issues: %v", res.Issues)
				return
			}
			assert.Equal(t, []string{tt.issue}, res.Issues)
		})
	}
}

func TestCheckEmailNeedsUnsubscribeAndReview(t *testing.T) {
	c := New(nil)

	res := c.Check(Input{Text: cleanSie, Channel: models.ChannelEmail, Formality: models.FormalitySie, Confidence: 0.99})
	assert.Contains(t, res.Issues, "email: missing unsubscribe notice")

	res = c.Check(Input{Text: cleanSie + UnsubscribeFooter(models.FormalitySie), Channel: models.ChannelEmail, Formality: models.FormalitySie, Confidence: 0.99})
	assert.True(t, res.Passed, "issues: %v", res.Issues)
	assert.True(t, res.RequiresReview, "email always goes through review")
}

func TestUnsubscribeFooterMatchesFormality(t *testing.T) {
	c := New(nil)
	du := "Hey Jonas,\n\nhast du kurz Zeit für einen Call?" + UnsubscribeFooter(models.FormalityDu)

	res := c.Check(Input{Text: du, Channel: models.ChannelEmail, Formality: models.FormalityDu, Confidence: 1})
	assert.True(t, res.Passed, "issues: %v", res.Issues)
	assert.True(t, HasUnsubscribe(du))
}

// An email can only skip review by failing nothing; every message that skips
// review therefore carries an unsubscribe marker.
func TestEmailWithoutReviewAlwaysHasUnsubscribe(t *testing.T) {
	c := New(nil)
	texts := []string{
		cleanSie,
		cleanSie + UnsubscribeFooter(models.FormalitySie),
		"Kurze Frage zu Ihrem Angebot.",
		"Bitte austragen aus dem Verteiler, danke.",
		strings.Repeat("Guten Tag. ", 250) + "abmelden",
	}
	for _, text := range texts {
		for _, conf := range []float64{0.2, 0.9, 1} {
			res := c.Check(Input{Text: text, Channel: models.ChannelEmail, Formality: models.FormalitySie, Confidence: conf})
			if !res.RequiresReview {
				assert.True(t, HasUnsubscribe(text), "unreviewed email without unsubscribe: %q", text)
			}
			assert.True(t, res.RequiresReview)
		}
	}
}

func TestCheckSensitiveData(t *testing.T) {
	c := New(nil)

	res := c.Check(Input{Text: "Zugang für die Demo: password: Sommer2026!", Channel: models.ChannelLinkedIn, Confidence: 1})
	assert.Contains(t, res.Issues, "sensitive: credential exposure")

	res = c.Check(Input{Text: "Unser Einkaufspreis liegt bei 40 Euro.", Channel: models.ChannelLinkedIn, Confidence: 1})
	assert.Contains(t, res.Issues, "sensitive: internal pricing mentioned")
}

func TestCheckLength(t *testing.T) {
	c := New(nil)
	long := strings.Repeat("ä", MaxLinkedInLength+1)

	res := c.Check(Input{Text: long, Channel: models.ChannelLinkedIn, Confidence: 1})
	assert.Equal(t, []string{"length: linkedin message too long"}, res.Issues)

	res = c.Check(Input{Text: strings.Repeat("ä", MaxLinkedInLength), Channel: models.ChannelLinkedIn, Confidence: 1})
	assert.True(t, res.Passed)

	res = c.Check(Input{Text: strings.Repeat("a", MaxEmailLength) + " abmelden", Channel: models.ChannelEmail, Confidence: 1})
	require.NotEmpty(t, res.Issues)
	assert.Contains(t, res.Issues, "length: email too long")
}

func TestRequiresReviewBelowConfidence(t *testing.T) {
	res := New(nil).Check(Input{Text: cleanSie, Channel: models.ChannelLinkedIn, Formality: models.FormalitySie, Confidence: 0.89})
	assert.True(t, res.Passed)
	assert.True(t, res.RequiresReview)
}

// Package compliance runs the deterministic post-generation checks a drafted
// outbound message must pass before it can leave the system.
package compliance

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/leadpilot/pkg/models"
)

// Rule is one liability pattern. Rules are data so tenants in other regions
// can swap the table.
type Rule struct {
	ID      string
	Issue   string
	Pattern *regexp.Regexp
}

// DACHRules is the default liability table for German-speaking markets
var DACHRules = []Rule{
	{
		ID:      "guarantee",
		Issue:   "liability: guarantee claim",
		Pattern: regexp.MustCompile(`(?i)\b(garantiert|garantie|100\s?%\s*(sicher|erfolg)|guaranteed|risikofrei)\b`),
	},
	{
		ID:      "health",
		Issue:   "liability: health claim",
		Pattern: regexp.MustCompile(`(?i)\b(heilt|heilung|geheilt|gesundheitsversprechen|schmerzfrei|cures?)\b`),
	},
	{
		ID:      "income",
		Issue:   "liability: income promise",
		Pattern: regexp.MustCompile(`(?i)(verdienen sie (sicher|garantiert)|passives einkommen|reich werden|(\d[\d.]*\s?(€|euro))\s+(im monat|pro monat|monatlich)\s+(sicher|garantiert))`),
	},
	{
		ID:      "aggressive",
		Issue:   "tone: aggressive directive",
		Pattern: regexp.MustCompile(`(?i)\b(sie müssen jetzt|du musst jetzt|kaufen sie sofort|kauf jetzt|zögern sie nicht länger)\b`),
	},
	{
		ID:      "urgency",
		Issue:   "tone: urgency pressure",
		Pattern: regexp.MustCompile(`(?i)(nur noch heute|letzte chance|nur noch \d+ plätze|angebot endet heute|sofort zugreifen)`),
	},
}

var (
	// Sie markers need the capital S; lowercase "sie" is the pronoun "they"
	formalMarkers   = regexp.MustCompile(`\b(Sie|Ihnen|Ihr|Ihre|Ihren|Ihrem|Ihrer)\b`)
	informalMarkers = regexp.MustCompile(`(?i)\b(du|dich|dir|dein|deine|deinen|deinem|deiner|euch|euer)\b`)
	unsubscribe     = regexp.MustCompile(`(?i)(abmeld|abbestell|unsubscribe|austragen)`)
	internalPricing = regexp.MustCompile(`(?i)(einkaufspreis|interne[rn]? (preis|kalkulation|marge)|internal pricing|marge von \d+)`)
	credentialish   = regexp.MustCompile(`(?i)(passwor[dt]|password|api[_-]?key|secret|token)\s*[:=]\s*\S{6,}`)
)

// Length limits per channel, counted in characters
const (
	MaxLinkedInLength = 1000
	MaxEmailLength    = 2000
)

// AutoSendConfidence is the confidence below which a passed message still needs review
const AutoSendConfidence = 0.9

// Result is the outcome of a check
type Result struct {
	Passed         bool     `json:"passed"`
	Issues         []string `json:"issues"`
	RequiresReview bool     `json:"requires_review"`
}

// Input is what a check looks at
type Input struct {
	Text       string
	Channel    models.Channel
	Formality  models.Formality
	Confidence float64
}

// Checker is safe for concurrent use
type Checker struct {
	rules []Rule

	once     sync.Once
	detector *detect.Detector
}

// New returns a checker using rules, or DACHRules when rules is nil
func New(rules []Rule) *Checker {
	if rules == nil {
		rules = DACHRules
	}
	return &Checker{rules: rules}
}

// Check runs every rule. Passed is true exactly when no issue was found.
func (c *Checker) Check(in Input) Result {
	var issues []string
	for _, r := range c.rules {
		if r.Pattern.MatchString(in.Text) {
			issues = append(issues, r.Issue)
		}
	}
	issues = append(issues, formalityIssues(in.Text, in.Formality)...)

	if in.Channel == models.ChannelEmail && !unsubscribe.MatchString(in.Text) {
		issues = append(issues, "email: missing unsubscribe notice")
	}
	if c.hasCredential(in.Text) {
		issues = append(issues, "sensitive: credential exposure")
	}
	if internalPricing.MatchString(in.Text) {
		issues = append(issues, "sensitive: internal pricing mentioned")
	}

	n := utf8.RuneCountInString(in.Text)
	switch {
	case in.Channel == models.ChannelLinkedIn && n > MaxLinkedInLength:
		issues = append(issues, "length: linkedin message too long")
	case in.Channel == models.ChannelEmail && n > MaxEmailLength:
		issues = append(issues, "length: email too long")
	}

	passed := len(issues) == 0
	return Result{
		Passed:         passed,
		Issues:         issues,
		RequiresReview: !passed || in.Confidence < AutoSendConfidence || in.Channel == models.ChannelEmail,
	}
}

func formalityIssues(text string, want models.Formality) []string {
	formal := formalMarkers.MatchString(text)
	informal := informalMarkers.MatchString(text)
	switch {
	case formal && informal:
		return []string{"formality: mixed Sie and Du address"}
	case want == models.FormalitySie && informal:
		return []string{"formality: informal address, expected Sie"}
	case want == models.FormalityDu && formal:
		return []string{"formality: formal address, expected Du"}
	}
	return nil
}

// hasCredential matches the local credential pattern and then the gitleaks
// default ruleset, when the detector could be built
func (c *Checker) hasCredential(text string) bool {
	c.once.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			log.Warn().Err(err).Str("component", "compliance").Msg("gitleaks detector unavailable, using fallback pattern")
			return
		}
		c.detector = d
	})
	if credentialish.MatchString(text) {
		return true
	}
	if c.detector == nil || strings.TrimSpace(text) == "" {
		return false
	}
	return len(c.detector.DetectString(text)) > 0
}

// UnsubscribeFooter returns the opt-out line appended to outbound email in the
// lead's address form
func UnsubscribeFooter(f models.Formality) string {
	if f == models.FormalityDu {
		return "\n\nKeine weiteren Nachrichten gewünscht? Antworte einfach mit \"abmelden\"."
	}
	return "\n\nSie möchten keine weiteren Nachrichten erhalten? Antworten Sie mit \"abmelden\"."
}

// HasUnsubscribe reports whether text carries an unsubscribe marker
func HasUnsubscribe(text string) bool {
	return unsubscribe.MatchString(text)
}

package intent

import (
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/leadpilot/pkg/models"
)

// MinTextLength is the rune count below which only the short-message table applies
const MinTextLength = 5

const (
	unclearConfidence = 0.3
	acceptConfidence  = 0.4
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// Source tells which stage produced a classification
type Source string

const (
	SourceShort   Source = "short"
	SourcePattern Source = "pattern"
	SourceKeyword Source = "keyword"
	SourceNone    Source = "none"
)

// Candidate is one stage's proposal, kept for explainability
type Candidate struct {
	Intent     models.Intent `json:"intent"`
	Confidence float64       `json:"confidence"`
	Source     Source        `json:"source"`
}

// IntentAnalysis is the detector output for one message
type IntentAnalysis struct {
	Intent        models.Intent      `json:"intent"`
	Confidence    float64            `json:"confidence"`
	Temperature   models.Temperature `json:"lead_temperature"`
	Sentiment     Sentiment          `json:"sentiment"`
	Urgency       Urgency            `json:"urgency"`
	Keywords      []string           `json:"keywords"`
	BuyingSignals []string           `json:"buying_signals"`
	Source        Source             `json:"source"`
	Candidates    []Candidate        `json:"candidates,omitempty"`
}

// Detector runs the deterministic classifier. The table can be swapped at runtime.
type Detector struct {
	table atomic.Pointer[Table]
}

// New returns a detector over t, or over the default table when t is nil
func New(t *Table) *Detector {
	if t == nil {
		t = DefaultTable()
	}
	d := &Detector{}
	d.table.Store(t)
	return d
}

// Swap replaces the pattern table used by subsequent calls
func (d *Detector) Swap(t *Table) {
	if t != nil {
		d.table.Store(t)
	}
}

// Analyze classifies text. history is the recent conversation, oldest first.
func (d *Detector) Analyze(text string, history []models.Message, lc models.LeadContext) IntentAnalysis {
	t := d.table.Load()
	clean := strings.TrimSpace(text)
	lower := strings.ToLower(clean)

	res := IntentAnalysis{
		Keywords:      []string{},
		BuyingSignals: []string{},
	}
	var winner *entry

	if rule, ok := t.shortRule(lower); ok {
		res.Intent = rule.Intent
		res.Confidence = rule.Confidence
		res.Temperature = rule.Temperature
		res.Source = SourceShort
		if rule.Intent == models.IntentScheduling && proposedAppointment(history) {
			res.Confidence = math.Max(res.Confidence, 0.8)
		}
		res.Candidates = append(res.Candidates, Candidate{Intent: rule.Intent, Confidence: res.Confidence, Source: SourceShort})
	} else if utf8.RuneCountInString(clean) < MinTextLength {
		res.Intent = models.IntentUnclear
		res.Confidence = unclearConfidence
		res.Source = SourceNone
	} else {
		pm, pOK := t.matchPatterns(lower)
		fb, fOK := t.matchFallback(lower)
		if pOK {
			res.Candidates = append(res.Candidates, Candidate{Intent: pm.entry.intent, Confidence: pm.score, Source: SourcePattern})
		}
		if fOK {
			res.Candidates = append(res.Candidates, Candidate{Intent: fb.intent, Confidence: fb.score, Source: SourceKeyword})
		}

		switch {
		case pOK && pm.score > acceptConfidence && (!fOK || pm.score >= fb.score):
			winner = pm.entry
			res.Intent = pm.entry.intent
			res.Confidence = pm.score
			res.Temperature = pm.entry.temperature
			res.Source = SourcePattern
		case fOK && fb.score > acceptConfidence:
			res.Intent = fb.intent
			res.Confidence = fb.score
			res.Source = SourceKeyword
		default:
			res.Intent = models.IntentUnclear
			res.Confidence = unclearConfidence
			res.Source = SourceNone
		}
		res.Keywords = mergeKeywords(pm.keywords, fb.keywords)
	}

	res.Confidence = math.Min(1.0, res.Confidence)
	res.Sentiment = t.sentiment(lower)
	res.Urgency = t.urgency(res.Intent, lower)
	res.BuyingSignals = t.matchBuyingSignals(lower, winner)
	if res.Temperature == "" {
		res.Temperature = TemperatureFor(res.Intent)
	}
	// an already hot lead is not cooled by a neutral message
	if lc.Temperature == models.TemperatureHot && res.Temperature == models.TemperatureWarm {
		res.Temperature = models.TemperatureHot
	}
	return res
}

// TemperatureFor maps an intent to its default lead temperature
func TemperatureFor(in models.Intent) models.Temperature {
	switch in {
	case models.IntentReadyToBuy, models.IntentPriceInquiry, models.IntentBookingRequest, models.IntentScheduling:
		return models.TemperatureHot
	case models.IntentNotInterested, models.IntentCancellation:
		return models.TemperatureCold
	case models.IntentSpam, models.IntentIrrelevant:
		return models.TemperatureDead
	default:
		return models.TemperatureWarm
	}
}

func baselineUrgency(in models.Intent) Urgency {
	switch in {
	case models.IntentReadyToBuy, models.IntentBookingRequest, models.IntentCancellation:
		return UrgencyHigh
	case models.IntentPriceInquiry, models.IntentScheduling, models.IntentReschedule,
		models.IntentSpecificQuestion, models.IntentComplexObjection, models.IntentTrustObjection:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

func (t *Table) shortRule(lower string) (ShortRule, bool) {
	key := strings.TrimFunc(lower, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	rule, ok := t.short[key]
	return rule, ok
}

type patternMatch struct {
	entry    *entry
	score    float64
	keywords []string
}

// matchPatterns returns the best scoring entry. Spam never outranks an entry
// whose pattern signals a purchase.
func (t *Table) matchPatterns(lower string) (patternMatch, bool) {
	var best, buying patternMatch
	found := false
	for i := range t.entries {
		e := &t.entries[i]
		hit := false
		for _, re := range e.patterns {
			if re.MatchString(lower) {
				hit = true
				break
			}
		}
		kws := matchedWords(lower, e.keywords)
		var score float64
		switch {
		case hit:
			score = 0.8 + float64(e.priority)/500
			if len(kws) > 0 {
				score += 0.1
			}
			score = math.Min(1.0, score)
		case len(kws) > 0:
			score = math.Min(0.6, float64(len(kws))*0.15)
		default:
			continue
		}
		m := patternMatch{entry: e, score: score, keywords: kws}
		if hit && e.buyingSignal && (buying.entry == nil || outranks(m, buying)) {
			buying = m
		}
		if !found || outranks(m, best) {
			best = m
			found = true
		}
	}
	if found && best.entry.intent == models.IntentSpam && buying.entry != nil {
		return buying, true
	}
	return best, found
}

func outranks(a, b patternMatch) bool {
	return a.score > b.score || (a.score == b.score && a.entry.priority > b.entry.priority)
}

type fallbackMatch struct {
	intent   models.Intent
	score    float64
	keywords []string
}

func (t *Table) matchFallback(lower string) (fallbackMatch, bool) {
	var best fallbackMatch
	for _, in := range t.fallbackOrder {
		kws := matchedWords(lower, t.fallback[in])
		if len(kws) > len(best.keywords) {
			best = fallbackMatch{intent: in, keywords: kws}
		}
	}
	if len(best.keywords) == 0 {
		return best, false
	}
	best.score = math.Min(0.7, 0.3+0.15*float64(len(best.keywords)))
	return best, true
}

func (t *Table) sentiment(lower string) Sentiment {
	pos := len(matchedWords(lower, t.positive))
	neg := len(matchedWords(lower, t.negative))
	switch {
	case pos > neg:
		return SentimentPositive
	case neg > pos:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

func (t *Table) urgency(in models.Intent, lower string) Urgency {
	u := baselineUrgency(in)
	if t.urgent != nil && t.urgent.MatchString(lower) {
		return UrgencyHigh
	}
	return u
}

func (t *Table) matchBuyingSignals(lower string, winner *entry) []string {
	out := matchedWords(lower, t.buyingSignals)
	if winner != nil && winner.buyingSignal && len(out) == 0 {
		out = append(out, string(winner.intent))
	}
	return out
}

// proposedAppointment reports whether our last outbound message proposed a date
func proposedAppointment(history []models.Message) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Direction != models.DirectionOutbound {
			continue
		}
		last := strings.ToLower(history[i].Text)
		return strings.Contains(last, "termin") || strings.Contains(last, "uhr") || strings.Contains(last, "call")
	}
	return false
}

// matchedWords returns the words of kws found in text. Boundaries are only enforced
// on the sides of a keyword that start or end with a letter or digit.
func matchedWords(text string, kws []string) []string {
	out := []string{}
	for _, kw := range kws {
		if kw != "" && containsWord(text, kw) {
			out = append(out, kw)
		}
	}
	return out
}

func containsWord(text, kw string) bool {
	first, _ := utf8.DecodeRuneInString(kw)
	last, _ := utf8.DecodeLastRuneInString(kw)
	checkStart := isWordRune(first)
	checkEnd := isWordRune(last)
	from := 0
	for from <= len(text) {
		idx := strings.Index(text[from:], kw)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(kw)
		ok := true
		if checkStart && start > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:start])
			ok = !isWordRune(prev)
		}
		if ok && checkEnd && end < len(text) {
			next, _ := utf8.DecodeRuneInString(text[end:])
			ok = !isWordRune(next)
		}
		if ok {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func mergeKeywords(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, k := range list {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Package intent classifies inbound message text into the closed intent taxonomy.
// Classification is deterministic: a short-message table, a priority-ranked pattern
// table and a keyword fallback, all held in a Table compiled once at startup.
package intent

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/leadpilot/pkg/models"
)

// PatternDef is the serializable form of one pattern table entry
type PatternDef struct {
	Intent       models.Intent      `json:"intent"`
	Patterns     []string           `json:"patterns"`
	Keywords     []string           `json:"keywords"`
	Temperature  models.Temperature `json:"temperature,omitempty"`
	BuyingSignal bool               `json:"buying_signal"`
	Priority     int                `json:"priority"`
}

// ShortRule is the fixed answer for a message shorter than MinTextLength
type ShortRule struct {
	Intent      models.Intent      `json:"intent"`
	Temperature models.Temperature `json:"temperature"`
	Confidence  float64            `json:"confidence"`
}

// TableDef is the serializable form of a whole table
type TableDef struct {
	Entries       []PatternDef               `json:"entries"`
	Short         map[string]ShortRule       `json:"short"`
	Fallback      map[models.Intent][]string `json:"fallback"`
	Positive      []string                   `json:"positive"`
	Negative      []string                   `json:"negative"`
	Urgent        []string                   `json:"urgent"`
	BuyingSignals []string                   `json:"buying_signals"`
}

type entry struct {
	intent       models.Intent
	patterns     []*regexp.Regexp
	keywords     []string
	temperature  models.Temperature
	buyingSignal bool
	priority     int
}

// Table is a compiled, read-only pattern table. It is safe for concurrent use.
type Table struct {
	entries       []entry
	short         map[string]ShortRule
	fallback      map[models.Intent][]string
	fallbackOrder []models.Intent
	positive      []string
	negative      []string
	urgent        *regexp.Regexp
	buyingSignals []string
}

// Compile validates def and precompiles its regexes
func Compile(def TableDef) (*Table, error) {
	t := &Table{
		short:    make(map[string]ShortRule, len(def.Short)),
		fallback: make(map[models.Intent][]string, len(def.Fallback)),
		positive: lowerAll(def.Positive),
		negative: lowerAll(def.Negative),
	}
	for i, d := range def.Entries {
		if !d.Intent.Valid() {
			return nil, fmt.Errorf("entry %d: unknown intent %q", i, d.Intent)
		}
		e := entry{
			intent:       d.Intent,
			keywords:     lowerAll(d.Keywords),
			temperature:  d.Temperature,
			buyingSignal: d.BuyingSignal,
			priority:     d.Priority,
		}
		for _, p := range d.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("entry %d (%s): %w", i, d.Intent, err)
			}
			e.patterns = append(e.patterns, re)
		}
		t.entries = append(t.entries, e)
	}
	for k, v := range def.Short {
		if !v.Intent.Valid() {
			return nil, fmt.Errorf("short rule %q: unknown intent %q", k, v.Intent)
		}
		t.short[strings.ToLower(k)] = v
	}
	// iterate intents in taxonomy order so fallback ties resolve deterministically
	for _, in := range models.AllIntents {
		if kws, ok := def.Fallback[in]; ok {
			t.fallback[in] = lowerAll(kws)
			t.fallbackOrder = append(t.fallbackOrder, in)
		}
	}
	if len(def.Urgent) > 0 {
		quoted := make([]string, 0, len(def.Urgent))
		for _, u := range def.Urgent {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(u)))
		}
		t.urgent = regexp.MustCompile(`(?i)(^|[^\p{L}])(` + strings.Join(quoted, "|") + `)([^\p{L}]|$)`)
	}
	t.buyingSignals = lowerAll(def.BuyingSignals)
	return t, nil
}

// LoadTable reads a JSON table definition from path and compiles it
func LoadTable(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern table: %w", err)
	}
	var def TableDef
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse pattern table: %w", err)
	}
	return Compile(def)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

var defaultTable = func() *Table {
	t, err := Compile(DefaultTableDef())
	if err != nil {
		panic(fmt.Sprintf("intent: default table: %v", err))
	}
	return t
}()

// DefaultTable returns the built-in DACH pattern table
func DefaultTable() *Table { return defaultTable }

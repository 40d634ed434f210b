package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// RepairStats records which repairs were needed to parse a model reply
type RepairStats struct {
	OriginalBytes int      `json:"original_bytes"`
	RepairedBytes int      `json:"repaired_bytes"`
	Strategies    []string `json:"strategies"`
	WasRepaired   bool     `json:"was_repaired"`
}

var (
	trailingObjectComma = regexp.MustCompile(`,\s*}`)
	trailingArrayComma  = regexp.MustCompile(`,\s*]`)
)

// ParseJSON extracts the first JSON document from a model reply, repairs it when
// needed and decodes it into target
func ParseJSON(raw string, target any) (RepairStats, error) {
	doc := extractJSON(raw)
	if doc == "" {
		return RepairStats{OriginalBytes: len(raw)}, fmt.Errorf("no JSON found in model reply")
	}
	repaired, stats, err := RepairJSON(doc)
	if err != nil {
		return stats, err
	}
	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return stats, fmt.Errorf("decode repaired JSON: %w", err)
	}
	return stats, nil
}

// RepairJSON tries cheap local fixes first and falls back to jsonrepair
func RepairJSON(raw string) (string, RepairStats, error) {
	stats := RepairStats{OriginalBytes: len(raw)}
	if json.Valid([]byte(raw)) {
		stats.RepairedBytes = len(raw)
		return raw, stats, nil
	}
	stats.WasRepaired = true
	repaired := raw

	if trailingObjectComma.MatchString(repaired) || trailingArrayComma.MatchString(repaired) {
		repaired = trailingObjectComma.ReplaceAllString(repaired, "}")
		repaired = trailingArrayComma.ReplaceAllString(repaired, "]")
		stats.Strategies = append(stats.Strategies, "trailing_commas")
	}

	if open := unclosed(repaired); open != "" {
		repaired += open
		stats.Strategies = append(stats.Strategies, "completion")
	}

	if !json.Valid([]byte(repaired)) {
		fixed, err := jsonrepair.JSONRepair(repaired)
		if err == nil {
			repaired = fixed
			stats.Strategies = append(stats.Strategies, "jsonrepair_library")
		}
	}

	stats.RepairedBytes = len(repaired)
	if !json.Valid([]byte(repaired)) {
		return repaired, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.Strategies))
	}
	return repaired, stats, nil
}

// unclosed returns the closing brackets missing at the end of s, innermost first.
// Brackets inside string literals are ignored.
func unclosed(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		return ""
	}
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// extractJSON pulls a JSON document out of a reply that may carry prose or code fences
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	if strings.Contains(raw, "```") {
		var lines []string
		inBlock := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if inBlock {
					break
				}
				inBlock = true
				continue
			}
			if inBlock {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			return strings.TrimSpace(strings.Join(lines, "\n"))
		}
	}

	start := strings.IndexAny(raw, "{[")
	if start == -1 {
		return ""
	}
	open := raw[start]
	closeChar := byte('}')
	if open == '[' {
		closeChar = ']'
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case open:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return raw[start:]
}

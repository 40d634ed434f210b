package learning

import (
	"regexp"
	"strings"
)

var (
	urlPattern   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"']+`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// phone numbers start with + or a leading zero; dots are excluded so dates stay intact
	phonePattern = regexp.MustCompile(`(?:\+|\b0)\d[\d \-/()]{4,}\d`)
)

const minPhoneDigits = 7

// Anonymize replaces urls, email addresses and phone numbers with placeholders.
// URLs go first because they may contain @ or digit runs.
func Anonymize(text string) string {
	if text == "" {
		return text
	}
	text = urlPattern.ReplaceAllString(text, "[URL]")
	text = emailPattern.ReplaceAllString(text, "[EMAIL]")
	text = phonePattern.ReplaceAllStringFunc(text, func(m string) string {
		digits := 0
		for _, r := range m {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits < minPhoneDigits {
			return m
		}
		return "[PHONE]"
	})
	return text
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

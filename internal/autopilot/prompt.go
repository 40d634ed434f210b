package autopilot

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leadpilot/internal/intent"
	"github.com/leadpilot/pkg/models"
)

const replySystemPrompt = `Du bist Vertriebsassistent und beantwortest Nachrichten von Interessenten im Namen des Absenders.
Regeln:
- Antworte auf Deutsch, freundlich und konkret, in 2 bis 5 Sätzen.
- Verwende die angegebene Anrede (Sie oder Du) durchgehend.
- Erfinde keine Preise, Termine oder Zusagen.
- Verwende niemals Platzhalter wie [Name], [Ihr Name] oder {name}.
- Unterschreibe mit dem angegebenen Absendernamen, falls einer angegeben ist.
- Gib nur den Nachrichtentext aus, ohne Betreffzeile und ohne Erklärungen.`

// maxHistoryInPrompt bounds how many earlier messages are quoted to the model
const maxHistoryInPrompt = 6

// buildPrompts assembles the system and user prompt for a generated reply
func buildPrompts(lc models.LeadContext, a intent.IntentAnalysis, text, sender string) (string, string) {
	var b strings.Builder

	b.WriteString("## Lead\n")
	if lc.Name != "" && !IsPlaceholderName(lc.Name) {
		b.WriteString(fmt.Sprintf("Name: %s\n", lc.Name))
	}
	if lc.Company != "" {
		b.WriteString(fmt.Sprintf("Firma: %s\n", lc.Company))
	}
	if lc.Industry != "" {
		b.WriteString(fmt.Sprintf("Branche: %s\n", lc.Industry))
	}
	formality := lc.PreferredFormality
	if formality != models.FormalityDu {
		formality = models.FormalitySie
	}
	b.WriteString(fmt.Sprintf("Anrede: %s\n", formality))
	b.WriteString(fmt.Sprintf("Status: %s, Temperatur: %s\n", lc.Status, a.Temperature))
	if len(lc.PainPoints) > 0 {
		b.WriteString("Herausforderungen: " + strings.Join(lc.PainPoints, ", ") + "\n")
	}
	if len(lc.Objections) > 0 {
		b.WriteString("Bisherige Einwände: " + strings.Join(lc.Objections, ", ") + "\n")
	}

	history := lc.RecentMessages
	if len(history) > maxHistoryInPrompt {
		history = history[len(history)-maxHistoryInPrompt:]
	}
	if len(history) > 0 {
		b.WriteString("\n## Verlauf\n")
		for _, m := range history {
			who := "Lead"
			if m.Direction == models.DirectionOutbound {
				who = "Wir"
			}
			b.WriteString(fmt.Sprintf("%s: %s\n", who, strings.TrimSpace(m.Text)))
		}
	}

	b.WriteString("\n## Neue Nachricht\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n\n## Einordnung\n")
	b.WriteString(fmt.Sprintf("Absicht: %s (Sicherheit %.2f), Stimmung: %s, Dringlichkeit: %s\n", a.Intent, a.Confidence, a.Sentiment, a.Urgency))
	if len(a.BuyingSignals) > 0 {
		b.WriteString("Kaufsignale: " + strings.Join(a.BuyingSignals, ", ") + "\n")
	}

	b.WriteString("\n## Absender\n")
	if sender = strings.TrimSpace(sender); sender != "" {
		b.WriteString(sender + "\n")
	} else {
		b.WriteString("(kein Name, ohne Unterschrift antworten)\n")
	}
	return replySystemPrompt, b.String()
}

var (
	bracketPlaceholder = regexp.MustCompile(`(?i)[\[{<]\s*(dein|ihr|your)?\s*(vor)?name[^\]}>]{0,20}[\]}>]`)
	blankLines         = regexp.MustCompile(`\n{3,}`)
)

// sanitizeGenerated removes leftover name placeholders. Signature placeholders
// become the sender name; any other placeholder is dropped.
func sanitizeGenerated(text, sender string) string {
	text = strings.TrimSpace(text)
	sender = strings.TrimSpace(sender)
	text = bracketPlaceholder.ReplaceAllStringFunc(text, func(m string) string {
		lower := strings.ToLower(m)
		if sender != "" && (strings.Contains(lower, "ihr") || strings.Contains(lower, "dein") || strings.Contains(lower, "your")) {
			return sender
		}
		return ""
	})
	text = strings.ReplaceAll(text, " ,", ",")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

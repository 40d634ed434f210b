package reactivation

import (
	"fmt"
	"strings"

	"github.com/leadpilot/pkg/models"
)

const reasoningSystemPrompt = `Du bewertest, ob ein ruhender B2B-Lead jetzt wieder angeschrieben werden sollte.
Antworte ausschließlich mit einem JSON-Objekt:
{"should_reactivate": bool, "strategy": "signal_reference|value_reminder|relationship_rebuild|soft_check_in",
 "confidence": Zahl zwischen 0 und 1, "tone": "professional|casual|urgent", "reasoning": "ein bis zwei Sätze"}`

type reasoningReply struct {
	ShouldReactivate *bool    `json:"should_reactivate"`
	Strategy         Strategy `json:"strategy"`
	Confidence       *float64 `json:"confidence"`
	Tone             Tone     `json:"tone"`
	Reasoning        string   `json:"reasoning"`
}

func reasoningPrompt(s State) string {
	p := s.perception()
	var b strings.Builder
	fmt.Fprintf(&b, "## Lead\nName: %s\nFirma: %s\nBranche: %s\nPersona: %s\nTage ohne Kontakt: %d\nInteraktionen: %d\n",
		p.Name, p.Company, p.Industry, p.PersonaType, p.DaysDormant, p.InteractionCount)
	fmt.Fprintf(&b, "Letzte Interaktion: %s\n", p.LastInteractionSummary)
	if len(p.PainPoints) > 0 {
		fmt.Fprintf(&b, "Pain Points: %s\n", strings.Join(p.PainPoints, ", "))
	}
	if len(p.Objections) > 0 {
		fmt.Fprintf(&b, "Einwände: %s\n", strings.Join(p.Objections, ", "))
	}
	fmt.Fprintf(&b, "\n## Erinnerung\n%s\n", s.MemorySummary)
	fmt.Fprintf(&b, "\n## Signale\n%s\n", s.SignalSummary)
	return b.String()
}

var strategyBriefs = map[Strategy]string{
	StrategySignalReference:     "Beziehe dich konkret auf das aktuelle Signal und verbinde es mit dem früheren Gespräch.",
	StrategyValueReminder:       "Erinnere an den besprochenen Nutzen und biete ein kurzes Update an.",
	StrategyRelationshipRebuild: "Knüpfe persönlich wieder an, ohne Verkaufsdruck.",
	StrategySoftCheckIn:         "Frage kurz und unverbindlich nach, ob das Thema noch aktuell ist.",
}

func generationSystemPrompt(s State, channel models.Channel) string {
	p := s.perception()
	limit := 1000
	if channel == models.ChannelEmail {
		limit = 2000
	}
	address := "Sie (förmlich)"
	if p.PreferredFormality == models.FormalityDu {
		address = "du (informell)"
	}
	return fmt.Sprintf(`Du schreibst eine kurze Reaktivierungsnachricht auf Deutsch für %s.
Anrede: %s. Bleib durchgehend bei dieser Anrede.
Ton: %s. Höchstens %d Zeichen.
Strategie: %s
Keine Garantien, keine Heilversprechen, kein Zeitdruck, keine internen Preise.
Keine Platzhalter in eckigen Klammern. Gib nur den Nachrichtentext aus.`,
		channel, address, s.MessageTone, limit, strategyBriefs[s.Strategy])
}

func generationUserPrompt(s State, examples []string) string {
	var b strings.Builder
	b.WriteString(reasoningPrompt(s))
	fmt.Fprintf(&b, "\n## Begründung\n%s\n", s.ReasoningExplanation)
	if len(examples) > 0 {
		b.WriteString("\n## Freigegebene Beispiele\n")
		for i, ex := range examples {
			fmt.Fprintf(&b, "Beispiel %d:\n%s\n\n", i+1, ex)
		}
	}
	return b.String()
}

// templateMessage is the message used when no generator is configured or the
// generator fails
func templateMessage(s State) string {
	p := s.perception()
	du := p.PreferredFormality == models.FormalityDu
	greeting := "Hallo,"
	if name := strings.TrimSpace(p.Name); name != "" {
		greeting = "Hallo " + name + ","
	}
	topic := "unser letztes Gespräch"
	if len(p.PainPoints) > 0 {
		topic = p.PainPoints[0]
	}
	company := p.Company
	if company == "" {
		company = "Ihrem Team"
		if du {
			company = "euch"
		}
	}

	var body string
	switch s.Strategy {
	case StrategySignalReference:
		title := "eine Neuigkeit"
		if s.PrimarySignal != nil && s.PrimarySignal.Title != "" {
			title = s.PrimarySignal.Title
		}
		if du {
			body = fmt.Sprintf("ich habe gerade gelesen: %s. Da musste ich an unser Gespräch denken. Hast du Lust, dass wir uns kurz austauschen, wie das zu deinen aktuellen Plänen passt?", title)
		} else {
			body = fmt.Sprintf("ich habe gerade gelesen: %s. Da musste ich an unser Gespräch denken. Passt es Ihnen, wenn wir uns kurz austauschen, wie das zu Ihren aktuellen Plänen passt?", title)
		}
	case StrategyValueReminder:
		if du {
			body = fmt.Sprintf("bei unserem letzten Austausch ging es um %s. Dazu haben wir inzwischen einiges Neues. Soll ich dir ein kurzes Update schicken?", topic)
		} else {
			body = fmt.Sprintf("bei unserem letzten Austausch ging es um %s. Dazu haben wir inzwischen einiges Neues. Darf ich Ihnen ein kurzes Update schicken?", topic)
		}
	case StrategyRelationshipRebuild:
		if du {
			body = fmt.Sprintf("es ist eine Weile her seit unserem letzten Austausch. Wie läuft es bei %s? Ich würde mich freuen, wieder von dir zu hören.", company)
		} else {
			body = fmt.Sprintf("es ist eine Weile her seit unserem letzten Austausch. Wie läuft es bei %s? Ich würde mich freuen, wieder von Ihnen zu hören.", company)
		}
	default:
		if du {
			body = "ich wollte mich kurz melden und fragen, ob das Thema bei dir noch aktuell ist. Falls ja, melde dich gern."
		} else {
			body = "ich wollte mich kurz melden und fragen, ob das Thema bei Ihnen noch aktuell ist. Falls ja, melden Sie sich gern."
		}
	}
	return greeting + "\n\n" + body + "\n\nViele Grüße"
}

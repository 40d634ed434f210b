package autopilot

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leadpilot/pkg/models"
)

// Template is a deterministic reply for one intent and address form
type Template struct {
	ID     string
	Intent models.Intent
	Body   string
}

// Bodies start right after the opener ("Hallo," or "Hallo Anna,") and end before
// the signature, so the opener decides personalization and the signature carries
// the sender's display name.
var standardTemplates = map[models.Intent]map[models.Formality]Template{
	models.IntentSimpleInfo: {
		models.FormalitySie: {ID: "std_simple_info_sie", Body: "vielen Dank für Ihr Interesse! Gerne erzähle ich Ihnen mehr. " +
			"Kurz gesagt: Wir helfen Ihnen dabei, Anfragen schneller zu beantworten und keinen Interessenten mehr zu verlieren. " +
			"Damit ich Ihnen genau die passenden Informationen schicken kann: Worum geht es Ihnen gerade am meisten? " +
			"Dann melde ich mich mit den Details, die für Sie wirklich relevant sind."},
		models.FormalityDu: {ID: "std_simple_info_du", Body: "danke für dein Interesse! Ich erzähle dir gern mehr. " +
			"Kurz gesagt: Wir helfen dir dabei, Anfragen schneller zu beantworten und keinen Interessenten mehr zu verlieren. " +
			"Damit ich dir genau die passenden Infos schicken kann: Worum geht es dir gerade am meisten? " +
			"Dann melde ich mich mit den Details, die für dich wirklich relevant sind."},
	},
	models.IntentPriceInquiry: {
		models.FormalitySie: {ID: "std_price_inquiry_sie", Body: "danke für Ihre Frage zu den Preisen! Unsere Pakete richten sich nach Ihrem Bedarf, " +
			"deshalb nenne ich ungern eine Pauschalzahl, die am Ende nicht passt. " +
			"In einem kurzen Gespräch von 15 Minuten klären wir, was Sie brauchen, und Sie bekommen direkt ein konkretes Angebot. " +
			"Wann passt es Ihnen diese Woche? Ich schicke Ihnen gern zwei, drei Terminvorschläge."},
		models.FormalityDu: {ID: "std_price_inquiry_du", Body: "danke für deine Frage zu den Preisen! Unsere Pakete richten sich nach deinem Bedarf, " +
			"deshalb nenne ich ungern eine Pauschalzahl, die am Ende nicht passt. " +
			"In einem kurzen Gespräch von 15 Minuten klären wir, was du brauchst, und du bekommst direkt ein konkretes Angebot. " +
			"Wann passt es dir diese Woche? Ich schicke dir gern zwei, drei Terminvorschläge."},
	},
	models.IntentTimeObjection: {
		models.FormalitySie: {ID: "std_time_objection_sie", Body: "völlig verständlich, im Moment haben Sie sicher viel um die Ohren. " +
			"Ich möchte Ihnen nichts aufdrängen. Ich melde mich einfach in ein paar Tagen noch einmal kurz bei Ihnen, " +
			"dann schauen wir, ob es besser passt. Falls Sie vorher Fragen haben, schreiben Sie mir jederzeit, ich antworte gerne."},
		models.FormalityDu: {ID: "std_time_objection_du", Body: "völlig verständlich, im Moment hast du sicher viel um die Ohren. " +
			"Ich möchte dir nichts aufdrängen. Ich melde mich einfach in ein paar Tagen noch einmal kurz bei dir, " +
			"dann schauen wir, ob es besser passt. Falls du vorher Fragen hast, schreib mir jederzeit, ich antworte gerne."},
	},
	models.IntentScheduling: {
		models.FormalitySie: {ID: "std_scheduling_sie", Body: "perfekt, vielen Dank für Ihre Rückmeldung! Ich habe mir den Termin vorgemerkt " +
			"und schicke Ihnen gleich eine Bestätigung mit allen Details und dem Link zum Gespräch. " +
			"Falls sich bei Ihnen etwas ändert, geben Sie mir einfach kurz Bescheid, dann finden wir gemeinsam einen neuen Zeitpunkt. " +
			"Ich freue mich auf unser Gespräch!"},
		models.FormalityDu: {ID: "std_scheduling_du", Body: "perfekt, danke für deine Rückmeldung! Ich habe mir den Termin vorgemerkt " +
			"und schicke dir gleich eine Bestätigung mit allen Details und dem Link zum Gespräch. " +
			"Falls sich bei dir etwas ändert, sag mir einfach kurz Bescheid, dann finden wir gemeinsam einen neuen Zeitpunkt. " +
			"Ich freue mich auf unser Gespräch!"},
	},
}

func init() {
	for in, byForm := range standardTemplates {
		for f, t := range byForm {
			t.Intent = in
			byForm[f] = t
		}
	}
}

// TemplateFor returns the standard template for an intent, if one exists
func TemplateFor(in models.Intent, f models.Formality) (Template, bool) {
	byForm, ok := standardTemplates[in]
	if !ok {
		return Template{}, false
	}
	if f != models.FormalityDu {
		f = models.FormalitySie
	}
	t, ok := byForm[f]
	return t, ok
}

var placeholderName = regexp.MustCompile(`^Lead [0-9A-Za-z._:+-]{1,8}$`)

// IsPlaceholderName reports whether name is the generated "Lead XXXXXXXX" label
func IsPlaceholderName(name string) bool {
	return placeholderName.MatchString(strings.TrimSpace(name))
}

// Render personalizes t for the lead and signs it with the sender's display name
func (t Template) Render(lc models.LeadContext, sender string) string {
	var b strings.Builder
	b.WriteString(opener(lc))
	b.WriteString("\n\n")
	b.WriteString(t.Body)
	if sender = strings.TrimSpace(sender); sender != "" {
		b.WriteString("\n\nViele Grüße\n")
		b.WriteString(sender)
	}
	return b.String()
}

func opener(lc models.LeadContext) string {
	name := strings.TrimSpace(lc.Name)
	if name == "" || IsPlaceholderName(name) {
		return "Hallo,"
	}
	if lc.PreferredFormality == models.FormalityDu {
		name = strings.Fields(name)[0]
	}
	return fmt.Sprintf("Hallo %s,", name)
}

// userPrompt is the short review hint shown next to a draft
func userPrompt(lc models.LeadContext, in models.Intent, score int) string {
	who := strings.TrimSpace(lc.Name)
	if who == "" {
		who = "Lead"
	}
	return fmt.Sprintf("Antwort an %s (%s, Konfidenz %d%%) prüfen und freigeben oder bearbeiten.", who, in, score)
}

package orchestrator

import (
	"hash/fnv"
	"strings"

	"github.com/leadpilot/internal/autopilot"
	"github.com/leadpilot/internal/compliance"
	"github.com/leadpilot/internal/reactivation"
	"github.com/leadpilot/pkg/models"
)

type message struct {
	ID   string
	Body string
}

// followUpTemplates rotate per lead so one lead keeps getting the same voice
var followUpTemplates = map[models.Formality][]message{
	models.FormalitySie: {
		{ID: "followup_1_sie", Body: "ich wollte kurz nachhaken, ob Sie schon Gelegenheit hatten, sich meine letzte Nachricht anzusehen. Falls noch Fragen offen sind, beantworte ich sie gern."},
		{ID: "followup_2_sie", Body: "nur eine kurze Erinnerung an unser Gespräch. Passt es Ihnen, wenn wir diese Woche kurz telefonieren? Ich richte mich gern nach Ihrem Kalender."},
		{ID: "followup_3_sie", Body: "ich melde mich noch einmal, weil ich Ihnen gern weiterhelfen möchte. Ist das Thema für Sie noch aktuell, oder soll ich mich zu einem späteren Zeitpunkt melden?"},
	},
	models.FormalityDu: {
		{ID: "followup_1_du", Body: "ich wollte kurz nachhaken, ob du schon dazu gekommen bist, dir meine letzte Nachricht anzusehen. Wenn noch Fragen offen sind, beantworte ich sie dir gern."},
		{ID: "followup_2_du", Body: "nur eine kurze Erinnerung an unser Gespräch. Passt es dir, wenn wir diese Woche kurz telefonieren? Ich richte mich gern nach deinem Kalender."},
		{ID: "followup_3_du", Body: "ich melde mich noch einmal, weil ich dir gern weiterhelfen möchte. Ist das Thema für dich noch aktuell, oder soll ich mich später nochmal melden?"},
	},
}

var ghostTemplates = map[GhostKind]map[models.Formality]message{
	GhostSoft: {
		models.FormalitySie: {ID: "ghost_soft_sie", Body: "ich hoffe, bei Ihnen ist alles gut! Ich wollte mich kurz in Erinnerung rufen. Wenn es gerade nicht passt, ist das völlig in Ordnung. Sagen Sie mir einfach, wann ich mich wieder melden darf."},
		models.FormalityDu:  {ID: "ghost_soft_du", Body: "ich hoffe, bei dir ist alles gut! Ich wollte mich kurz in Erinnerung rufen. Wenn es gerade nicht passt, ist das völlig in Ordnung. Sag mir einfach, wann ich mich wieder melden darf."},
	},
	GhostHard: {
		models.FormalitySie: {ID: "ghost_hard_sie", Body: "ich habe länger nichts von Ihnen gehört und möchte Sie nicht mit Nachrichten überhäufen. Das ist meine letzte Nachricht zu diesem Thema. Falls Sie später darauf zurückkommen möchten, melden Sie sich jederzeit gern."},
		models.FormalityDu:  {ID: "ghost_hard_du", Body: "ich habe länger nichts von dir gehört und möchte dich nicht mit Nachrichten überhäufen. Das ist meine letzte Nachricht zu diesem Thema. Falls du später darauf zurückkommen willst, melde dich jederzeit gern."},
	},
}

// rotationIndex picks a stable template slot for a lead
func rotationIndex(leadID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(leadID))
	return int(h.Sum32() % uint32(n))
}

func formalityOf(lead models.Lead) models.Formality {
	if lead.PreferredFormality == models.FormalityDu || lead.PreferredFormality == models.FormalitySie {
		return lead.PreferredFormality
	}
	return reactivation.DeriveFormality(lead.PersonaType, lead.Industry)
}

func greeting(lead models.Lead, f models.Formality) string {
	name := strings.TrimSpace(lead.Name)
	if name == "" || autopilot.IsPlaceholderName(name) {
		return "Hallo,"
	}
	if f == models.FormalityDu {
		name = strings.Fields(name)[0]
	}
	return "Hallo " + name + ","
}

// render builds the final text. Email gets the unsubscribe footer in the lead's
// address form.
func render(lead models.Lead, f models.Formality, body string) string {
	text := greeting(lead, f) + "\n\n" + body + "\n\nViele Grüße"
	if lead.Channel == models.ChannelEmail && !compliance.HasUnsubscribe(text) {
		text += compliance.UnsubscribeFooter(f)
	}
	return text
}

// FollowUpMessage returns the rotating follow-up text for the lead and its template id
func FollowUpMessage(lead models.Lead) (text, templateID string) {
	f := formalityOf(lead)
	set := followUpTemplates[f]
	m := set[rotationIndex(lead.ID, len(set))]
	return render(lead, f, m.Body), m.ID
}

// GhostMessage returns the re-engagement text for the ghost kind
func GhostMessage(lead models.Lead, kind GhostKind) (text, templateID string) {
	f := formalityOf(lead)
	m := ghostTemplates[kind][f]
	return render(lead, f, m.Body), m.ID
}

package intent

import "github.com/leadpilot/pkg/models"

// word boundary that also treats umlauts and ß as letters
const (
	wb  = `(^|[^\p{L}\d])`
	wbe = `([^\p{L}\d]|$)`
)

const weekdays = `(montag|dienstag|mittwoch|donnerstag|freitag|samstag|sonntag|monday|tuesday|wednesday|thursday|friday)`

// DefaultTableDef is the built-in DACH table. Higher priority wins ties.
func DefaultTableDef() TableDef {
	return TableDef{
		Entries: []PatternDef{
			{
				Intent: models.IntentSpam,
				Patterns: []string{
					wb + `(btc|bitcoin|crypto|krypto|forex|casino|lottery|lotto)` + wbe,
					`\d{3,}\s?%\s*(rendite|gewinn|profit|return|gains)`,
					`(garantiert|guaranteed)e?r?\s+(rendite|gewinn|return)`,
					wb + `(gains|profit garantiert|passives einkommen|make money fast)` + wbe,
					`(bit\.ly|t\.me)/`,
				},
				Keywords:    []string{"gewinn", "investment", "airdrop", "click here", "klick hier"},
				Temperature: models.TemperatureDead,
				Priority:    110,
			},
			{
				Intent: models.IntentReadyToBuy,
				Patterns: []string{
					`ich (will|möchte|würde gerne?) (es |das )?(jetzt |direkt |gleich )?(kaufen|bestellen|buchen|starten)`,
					wb + `(jetzt|direkt|gleich|sofort) (kaufen|bestellen)` + wbe,
					wb + `(bin dabei|deal|wir machen das|lass uns starten|lass uns loslegen)` + wbe,
					`wo kann ich (be)?zahlen`,
					`(schick|send)(e)? (mir )?(die |eine )?rechnung`,
				},
				Keywords:     []string{"kaufen", "bestellen", "vertrag", "rechnung", "loslegen", "überzeugt"},
				Temperature:  models.TemperatureHot,
				BuyingSignal: true,
				Priority:     100,
			},
			{
				Intent: models.IntentNotInterested,
				Patterns: []string{
					`kein(e)? (interesse|bedarf)`,
					`nicht (mehr )?interessiert`,
					wb + `nein,? danke` + wbe,
					`(lass|lassen sie) mich in ruhe`,
					`not interested`,
					`(bitte )?(nicht mehr|keine nachrichten mehr) (schreiben|kontaktieren|anschreiben)`,
				},
				Keywords:    []string{"kein interesse", "abmelden", "stop", "unsubscribe"},
				Temperature: models.TemperatureCold,
				Priority:    98,
			},
			{
				Intent: models.IntentBookingRequest,
				Patterns: []string{
					`termin (buchen|vereinbaren|ausmachen|machen)`,
					`(kann|können) (ich|wir) (einen |ein )?(termin|call|gespräch|meeting)`,
					`(book|schedule) (a )?(call|meeting|demo)`,
					`(demo|beratung|erstgespräch) (buchen|vereinbaren)`,
				},
				Keywords:     []string{"termin", "call", "kalender", "demo", "beratung", "meeting"},
				Temperature:  models.TemperatureHot,
				BuyingSignal: true,
				Priority:     95,
			},
			{
				Intent: models.IntentPriceObjection,
				Patterns: []string{
					wb + `(zu|viel zu|ziemlich|echt|sehr) teuer` + wbe,
					`(kann|können) (ich|wir) (mir|uns) (das )?nicht leisten`,
					`(günstiger|billiger)e?s? (angebot|alternative)`,
					`too expensive`,
					`(kein|zu wenig) budget`,
				},
				Keywords: []string{"teuer", "budget", "rabatt", "günstiger", "preisnachlass"},
				Priority: 92,
			},
			{
				Intent: models.IntentCancellation,
				Patterns: []string{
					`(termin|vertrag|abo|bestellung|buchung) (absagen|stornieren|kündigen)`,
					wb + `(absagen|stornieren|kündigen|cancel)` + wbe,
					`(muss|möchte) (leider )?absagen`,
				},
				Keywords:    []string{"absage", "storno", "kündigung", "cancel"},
				Temperature: models.TemperatureCold,
				Priority:    90,
			},
			{
				Intent: models.IntentReschedule,
				Patterns: []string{
					wb + `(verschieben|umbuchen|umlegen|reschedule)` + wbe,
					`(anderen|neuen) termin`,
					`(schaffe|schaff) (es )?(doch )?nicht`,
					`klappt (doch )?nicht`,
				},
				Keywords: []string{"verschieben", "später", "anderer tag", "neuer termin"},
				Priority: 88,
			},
			{
				Intent: models.IntentScheduling,
				Patterns: []string{
					wb + weekdays + wbe,
					`\d{1,2}([:.]\d{2})?\s*uhr`,
					wb + `(passt|geht klar|klingt gut|bin verfügbar|habe zeit|hab zeit)` + wbe,
					wb + `(morgen|übermorgen|nächste woche)` + wbe,
				},
				Keywords:    []string{"uhr", "termin", "zeit", "passt", "datum"},
				Temperature: models.TemperatureHot,
				Priority:    85,
			},
			{
				Intent: models.IntentPriceInquiry,
				Patterns: []string{
					`was (kostet|kosten)`,
					wb + `(preis|preise|kosten|kostet|pricing|price)` + wbe,
					`wie (teuer|viel) (ist|sind|kostet)`,
					`(angebot|konditionen|pakete?) (schicken|senden|zusenden)`,
				},
				Keywords:     []string{"kostet", "preis", "kosten", "euro", "€", "angebot"},
				Temperature:  models.TemperatureHot,
				BuyingSignal: true,
				Priority:     80,
			},
			{
				Intent: models.IntentTrustObjection,
				Patterns: []string{
					`(ist das|klingt) (seriös|unseriös|nach betrug|zu gut)`,
					wb + `(betrug|abzocke|scam|schneeballsystem)` + wbe,
					`(referenzen|erfahrungen|bewertungen) (von|anderer|anderen)`,
				},
				Keywords: []string{"seriös", "referenzen", "erfahrungen", "vertrauen", "skeptisch"},
				Priority: 78,
			},
			{
				Intent: models.IntentTimeObjection,
				Patterns: []string{
					`(keine|kaum|wenig) zeit`,
					`(gerade|momentan|aktuell|zurzeit) (zu )?(viel los|stressig|ungünstig|schlecht)`,
					`(später|nächsten monat|nach dem urlaub) (nochmal|melden|reden)`,
					`no time`,
				},
				Keywords: []string{"stress", "beschäftigt", "später", "busy"},
				Priority: 75,
			},
			{
				Intent: models.IntentComplexObjection,
				Patterns: []string{
					`(muss|müsste) (das )?(erst|noch) (mit|meinem|meiner)`,
					`(partner|chef|geschäftsführung|steuerberater|frau|mann) (fragen|besprechen|absprechen)`,
					`(bin mir|ich bin) (nicht|noch nicht) sicher`,
					`(vertrag|agb|datenschutz|dsgvo) (prüfen|durchlesen|klären)`,
				},
				Keywords: []string{"unsicher", "bedenken", "überlegen", "nachdenken", "dsgvo"},
				Priority: 70,
			},
			{
				Intent: models.IntentSpecificQuestion,
				Patterns: []string{
					`\?`,
					`^(wie|wo|wann|warum|wieso|weshalb|welche[rsnm]?|gibt es|kann man|funktioniert)` + wbe,
				},
				Keywords: []string{"frage", "funktioniert", "möglich", "unterschied"},
				Priority: 40,
			},
			{
				Intent: models.IntentIrrelevant,
				Patterns: []string{
					`falsche (nummer|person)`,
					`wrong (number|person)`,
					`(wer ist da|wer sind sie|kenne ich sie)`,
				},
				Temperature: models.TemperatureDead,
				Priority:    20,
			},
			{
				Intent: models.IntentSimpleInfo,
				Patterns: []string{
					`erzähl(en sie)? (mal )?(mehr|was)`,
					`(mehr )?info(s|rmationen)? (zu|über|bitte)`,
					`was (macht|bietet|ist) (ihr|du|sie|euer|ihre)`,
					`(klingt|hört sich) interessant`,
				},
				Keywords: []string{"informationen", "infos", "interessant", "neugierig"},
				Priority: 10,
			},
		},
		Short: map[string]ShortRule{
			"ja":     {Intent: models.IntentScheduling, Temperature: models.TemperatureWarm, Confidence: 0.6},
			"jo":     {Intent: models.IntentScheduling, Temperature: models.TemperatureWarm, Confidence: 0.55},
			"jep":    {Intent: models.IntentScheduling, Temperature: models.TemperatureWarm, Confidence: 0.55},
			"ok":     {Intent: models.IntentScheduling, Temperature: models.TemperatureWarm, Confidence: 0.6},
			"okay":   {Intent: models.IntentScheduling, Temperature: models.TemperatureWarm, Confidence: 0.6},
			"yes":    {Intent: models.IntentScheduling, Temperature: models.TemperatureWarm, Confidence: 0.6},
			"gern":   {Intent: models.IntentScheduling, Temperature: models.TemperatureWarm, Confidence: 0.6},
			"👍":      {Intent: models.IntentScheduling, Temperature: models.TemperatureWarm, Confidence: 0.5},
			"nein":   {Intent: models.IntentNotInterested, Temperature: models.TemperatureCold, Confidence: 0.7},
			"nö":     {Intent: models.IntentNotInterested, Temperature: models.TemperatureCold, Confidence: 0.6},
			"no":     {Intent: models.IntentNotInterested, Temperature: models.TemperatureCold, Confidence: 0.6},
			"hi":     {Intent: models.IntentSimpleInfo, Temperature: models.TemperatureWarm, Confidence: 0.4},
			"hey":    {Intent: models.IntentSimpleInfo, Temperature: models.TemperatureWarm, Confidence: 0.4},
			"moin":   {Intent: models.IntentSimpleInfo, Temperature: models.TemperatureWarm, Confidence: 0.4},
			"hallo":  {Intent: models.IntentSimpleInfo, Temperature: models.TemperatureWarm, Confidence: 0.4},
			"servus": {Intent: models.IntentSimpleInfo, Temperature: models.TemperatureWarm, Confidence: 0.4},
		},
		Fallback: map[models.Intent][]string{
			models.IntentPriceInquiry:     {"preis", "kosten", "kostet", "euro", "tarif", "paket"},
			models.IntentReadyToBuy:       {"kaufen", "bestellen", "zahlen", "anmelden", "starten"},
			models.IntentScheduling:       {"termin", "uhr", "kalender", "zeitpunkt"},
			models.IntentSimpleInfo:       {"info", "produkt", "angebot", "erzähl", "mehr wissen"},
			models.IntentSpecificQuestion: {"wie", "warum", "welche", "frage"},
			models.IntentTimeObjection:    {"zeit", "später", "stress"},
			models.IntentPriceObjection:   {"teuer", "budget", "rabatt"},
			models.IntentTrustObjection:   {"seriös", "vertrauen", "betrug"},
			models.IntentNotInterested:    {"nein", "kein", "nicht"},
		},
		Positive: []string{
			"super", "toll", "klasse", "perfekt", "gerne", "gern", "danke", "cool", "genial", "spannend",
			"interessant", "great", "thanks", "😊", "🙂", "😀", "😍", "👍", "🙏", "🔥", "❤️",
		},
		Negative: []string{
			"schlecht", "nervig", "teuer", "enttäuscht", "ärgerlich", "schade", "leider", "nie wieder",
			"betrug", "spam", "bad", "annoying", "😠", "😡", "👎", "🙄", "😞",
		},
		Urgent: []string{
			"sofort", "dringend", "jetzt", "heute noch", "asap", "now", "immediately", "urgent", "eilig",
		},
		BuyingSignals: []string{
			"kaufen", "bestellen", "preis", "kostet", "rechnung", "vertrag", "loslegen", "starten",
			"termin", "demo", "angebot", "zahlen",
		},
	}
}

package apperr

import "strings"

var messages = map[string]map[string]string{
	"de": {
		ErrUnparseable.Code:     "Die Nachricht konnte nicht gelesen werden.",
		ErrNoTenantMapping.Code: "Für dieses Konto ist kein Arbeitsbereich verknüpft.",
		ErrStorage.Code:         "Der Speicher ist vorübergehend nicht erreichbar. Bitte später erneut versuchen.",
		ErrExternal.Code:        "Ein externer Dienst hat nicht geantwortet.",
		ErrCompliance.Code:      "Die Nachricht verstößt gegen eine Compliance-Regel und wurde nicht gespeichert.",
		ErrConflict.Code:        "Es gibt bereits einen offenen Entwurf für diesen Lead.",
		ErrTimeout.Code:         "Die Verarbeitung hat zu lange gedauert.",
		ErrNotFound.Code:        "Der Eintrag wurde nicht gefunden.",
		ErrInvalid.Code:         "Die Anfrage ist ungültig.",
		ErrUnauthorized.Code:    "Bitte melde dich erneut an.",
		ErrInternal.Code:        "Ein interner Fehler ist aufgetreten.",
	},
	"en": {
		ErrUnparseable.Code:     "The message could not be parsed.",
		ErrNoTenantMapping.Code: "No workspace is linked to this account.",
		ErrStorage.Code:         "Storage is temporarily unavailable. Please retry later.",
		ErrExternal.Code:        "An external service did not respond.",
		ErrCompliance.Code:      "The message violates a compliance rule and was not stored.",
		ErrConflict.Code:        "A pending draft already exists for this lead.",
		ErrTimeout.Code:         "Processing took too long.",
		ErrNotFound.Code:        "The record was not found.",
		ErrInvalid.Code:         "The request is invalid.",
		ErrUnauthorized.Code:    "Please sign in again.",
		ErrInternal.Code:        "An internal error occurred.",
	},
}

// Message returns the localized user message for code. Unknown languages fall back to German.
func Message(code, lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_,;"); i > 0 {
		lang = lang[:i]
	}
	table, ok := messages[lang]
	if !ok {
		table = messages["de"]
	}
	if msg, ok := table[code]; ok {
		return msg
	}
	return table[ErrInternal.Code]
}

// Reason codes for errors that are logged and deliberately not propagated
const (
	ReasonNotifyFailed        = "notify_failed"
	ReasonKnowledgeFailed     = "knowledge_lookup_failed"
	ReasonGenerationFailed    = "generation_failed"
	ReasonEventPublishFailed  = "event_publish_failed"
	ReasonFollowUpFailed      = "followup_schedule_failed"
	ReasonCollectorFailed     = "signal_collector_failed"
	ReasonMemoryFailed        = "memory_retrieval_failed"
	ReasonFewShotFailed       = "few_shot_lookup_failed"
	ReasonCheckpointFailed    = "checkpoint_write_failed"
	ReasonLeadStatusFailed    = "lead_status_update_failed"
	ReasonForwardFailed       = "event_forward_failed"
	ReasonUnknownAccount      = "unknown_external_account"
	ReasonUnparseable         = "unparseable_payload"
	ReasonSendFailed          = "channel_send_failed"
	ReasonOutboundPersist     = "outbound_persist_failed"
	ReasonDraftWriteFailed    = "draft_write_failed"
	ReasonActionLogFailed     = "action_log_failed"
	ReasonLeadContextFailed   = "lead_context_failed"
	ReasonTenantLookupFailed  = "tenant_lookup_failed"
	ReasonEventRecordFailed   = "learning_event_record_failed"
	ReasonAggregateFailed     = "aggregate_compute_failed"
	ReasonSignatureInvalid    = "webhook_signature_invalid"
	ReasonFollowUpSendFailed  = "followup_send_failed"
	ReasonGhostHandlingFailed = "ghost_handling_failed"
	ReasonJobFailed           = "scheduled_job_failed"
	ReasonLockReleaseFailed   = "lead_lock_release_failed"
)

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

type GhostKind string

const (
	GhostSoft    GhostKind = "soft"
	GhostHard    GhostKind = "hard"
	GhostExpired GhostKind = "expired"
)

// GhostArchiveReason is recorded on leads archived after going silent
const GhostArchiveReason = "ghost_timeout"

// ClassifyGhost maps days since the last outbound message to a ghost kind. It
// returns "" when the lead is not a ghost yet.
func (o *Orchestrator) ClassifyGhost(days int) GhostKind {
	switch {
	case days < o.opts.GhostAfterDays:
		return ""
	case days < o.opts.GhostHardDays:
		return GhostSoft
	case days <= o.opts.GhostArchiveDays:
		return GhostHard
	}
	return GhostExpired
}

// GhostReport counts what one ghost scan did
type GhostReport struct {
	TenantID int64 `json:"tenant_id"`
	Scanned  int   `json:"scanned"`
	Soft     int   `json:"soft"`
	Hard     int   `json:"hard"`
	Archived int   `json:"archived"`
	Skipped  int   `json:"skipped"`
	Failed   int   `json:"failed"`
}

// ScanGhosts drafts re-engagement messages for leads that stopped answering and
// archives the ones silent for too long. It never sends.
func (o *Orchestrator) ScanGhosts(ctx context.Context, tenantID int64) (*GhostReport, error) {
	now := o.now()
	cutoff := now.Add(-time.Duration(o.opts.GhostAfterDays) * 24 * time.Hour)
	leads, err := o.store.GhostCandidates(ctx, tenantID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list ghost candidates: %w", err)
	}
	report := &GhostReport{TenantID: tenantID}
	for _, lead := range leads {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		days := int(now.Sub(*lead.LastOutboundAt).Hours() / 24)
		kind := o.ClassifyGhost(days)
		switch kind {
		case "":
			report.Skipped++
		case GhostExpired:
			if err := o.store.ArchiveLead(ctx, tenantID, lead.ID, GhostArchiveReason); err != nil {
				o.logger.Warn().Err(err).Str("reason", apperr.ReasonGhostHandlingFailed).Str("lead_id", lead.ID).Msg("ghost not archived")
				report.Failed++
				continue
			}
			report.Archived++
		default:
			drafted, err := o.draftGhost(ctx, lead, kind, days)
			if err != nil {
				o.logger.Warn().Err(err).Str("reason", apperr.ReasonGhostHandlingFailed).Str("lead_id", lead.ID).Msg("ghost draft not saved")
				report.Failed++
				continue
			}
			if !drafted {
				report.Skipped++
			} else if kind == GhostSoft {
				report.Soft++
			} else {
				report.Hard++
			}
		}
	}
	if report.Scanned > 0 {
		o.logger.Info().Int64("tenant_id", tenantID).Int("scanned", report.Scanned).Int("soft", report.Soft).Int("hard", report.Hard).Int("archived", report.Archived).Msg("ghost scan finished")
	}
	return report, nil
}

// draftGhost leaves a lead alone when a pending draft already addresses it: a
// human-facing draft or an earlier ghost draft of the same kind. A soft draft is
// replaced once the lead turns hard.
func (o *Orchestrator) draftGhost(ctx context.Context, lead models.Lead, kind GhostKind, days int) (bool, error) {
	pending, err := o.store.ListDrafts(ctx, lead.TenantID, storage.DraftFilter{Status: models.DraftPending, LeadID: lead.ID, Limit: 1})
	if err != nil {
		return false, err
	}
	text, templateID := GhostMessage(lead, kind)
	if len(pending) > 0 {
		cur := pending[0]
		if !strings.HasPrefix(cur.TemplateID, "ghost_") || cur.TemplateID == templateID {
			return false, nil
		}
	}
	prompt := fmt.Sprintf("%s hat seit %d Tagen nicht geantwortet. Nachricht prüfen und freigeben.", displayName(lead), days)
	if kind == GhostHard {
		prompt = fmt.Sprintf("Letzte Nachricht an %s (seit %d Tagen keine Antwort) prüfen und freigeben.", displayName(lead), days)
	}
	d, err := o.saveDraft(ctx, lead, text, templateID, prompt)
	if err != nil {
		return false, err
	}
	o.recordDecision(lead, models.ContextGhost, models.ActionDraftReview, templateID, text, map[string]any{"ghost_kind": string(kind), "days_silent": days, "draft_id": d.ID})
	return true, nil
}

// ExpireDrafts marks pending drafts past their expiry as expired
func (o *Orchestrator) ExpireDrafts(ctx context.Context) (int, error) {
	n, err := o.store.ExpireDrafts(ctx, o.now())
	if err != nil {
		return 0, fmt.Errorf("expire drafts: %w", err)
	}
	if n > 0 {
		o.logger.Info().Int("expired", n).Msg("stale drafts expired")
	}
	return n, nil
}

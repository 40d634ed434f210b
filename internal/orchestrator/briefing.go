package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/leadpilot/internal/autopilot"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

type BriefingKind string

const (
	BriefingMorning BriefingKind = "morning"
	BriefingEvening BriefingKind = "evening"
)

// Minutes per message used for the time-saved estimate
const (
	manualMinutesPerMessage = 5
	reviewMinutesPerDraft   = 1
	handoverMinutes         = 5
	// scanLimit is the page size for list scans; the store caps pages at 500
	scanLimit = 500
)

// Briefing is a snapshot for one tenant. Morning covers the night since
// 19:00 local, evening covers the day since local midnight.
type Briefing struct {
	TenantID int64        `json:"tenant_id"`
	Kind     BriefingKind `json:"kind"`
	From     time.Time    `json:"from"`
	To       time.Time    `json:"to"`

	NewInbound       int     `json:"new_inbound"`
	AutoReplied      int     `json:"auto_replied"`
	DraftsPending    int     `json:"drafts_pending"`
	HumanNeeded      int     `json:"human_needed"`
	AutoBooked       int     `json:"auto_booked"`
	HotLeads         int     `json:"hot_leads"`
	PipelineEstimate float64 `json:"pipeline_estimate"`
	OpenTasks        int     `json:"open_tasks"`

	Sent          int     `json:"sent"`
	AutoSent      int     `json:"auto_sent"`
	Approved      int     `json:"approved"`
	FollowUps     int     `json:"followups"`
	NewReplies    int     `json:"new_replies"`
	Appointments  int     `json:"appointments"`
	Deals         int     `json:"deals"`
	Revenue       float64 `json:"revenue"`
	UserMinutes   int     `json:"user_minutes"`
	ManualMinutes int     `json:"manual_minutes"`
}

// BriefingWindow returns the period a briefing covers, in the tenant's timezone
func BriefingWindow(kind BriefingKind, now time.Time, loc *time.Location) (time.Time, time.Time) {
	if kind == BriefingMorning {
		from := autopilot.LocalAt(now, loc, 19, 0)
		if !from.Before(now) {
			from = from.AddDate(0, 0, -1)
		}
		return from, now
	}
	return autopilot.LocalAt(now, loc, 0, 0), now
}

var bookingIntents = map[models.Intent]bool{
	models.IntentScheduling:     true,
	models.IntentBookingRequest: true,
	models.IntentReschedule:     true,
}

// BuildBriefing computes the briefing for the tenant at now
func (o *Orchestrator) BuildBriefing(ctx context.Context, tenantID int64, kind BriefingKind) (*Briefing, error) {
	if kind != BriefingMorning && kind != BriefingEvening {
		return nil, fmt.Errorf("unknown briefing kind %q", kind)
	}
	settings, err := o.store.LoadSettings(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	from, to := BriefingWindow(kind, o.now(), settings.Location())
	b := &Briefing{TenantID: tenantID, Kind: kind, From: from, To: to}

	actions, err := scanAll(func(offset int) ([]models.ActionLog, error) {
		return o.store.ListActions(ctx, tenantID, storage.ActionFilter{Since: from, Limit: scanLimit, Offset: offset})
	})
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	for _, a := range actions {
		if a.CreatedAt.After(to) {
			continue
		}
		switch a.Action {
		case models.ActionAutoSend:
			if a.ResponseSent {
				b.AutoReplied++
				if bookingIntents[a.Intent] {
					b.AutoBooked++
				}
			}
		case models.ActionHumanNeeded:
			b.HumanNeeded++
		}
	}

	msgs, err := scanAll(func(offset int) ([]models.Message, error) {
		return o.store.ListMessages(ctx, tenantID, storage.MessageFilter{Since: from, Limit: scanLimit, Offset: offset})
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for _, m := range msgs {
		if m.Timestamp.After(to) {
			continue
		}
		if m.Direction == models.DirectionInbound {
			b.NewInbound++
			continue
		}
		b.Sent++
		if m.AutoSent {
			b.AutoSent++
		}
	}
	b.NewReplies = b.NewInbound

	pending, err := scanAll(func(offset int) ([]models.Draft, error) {
		return o.store.ListDrafts(ctx, tenantID, storage.DraftFilter{Status: models.DraftPending, Limit: scanLimit, Offset: offset})
	})
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	b.DraftsPending = len(pending)

	for _, st := range []models.DraftStatus{models.DraftApproved, models.DraftEdited} {
		drafts, err := scanAll(func(offset int) ([]models.Draft, error) {
			return o.store.ListDrafts(ctx, tenantID, storage.DraftFilter{Status: st, Limit: scanLimit, Offset: offset})
		})
		if err != nil {
			return nil, fmt.Errorf("list reviewed drafts: %w", err)
		}
		for _, d := range drafts {
			if d.ReviewedAt != nil && !d.ReviewedAt.Before(from) && !d.ReviewedAt.After(to) {
				b.Approved++
			}
		}
	}

	hot, err := scanAll(func(offset int) ([]models.Lead, error) {
		return o.store.ListLeads(ctx, tenantID, storage.LeadFilter{Temperature: models.TemperatureHot, Limit: scanLimit, Offset: offset})
	})
	if err != nil {
		return nil, fmt.Errorf("list hot leads: %w", err)
	}
	warm, err := scanAll(func(offset int) ([]models.Lead, error) {
		return o.store.ListLeads(ctx, tenantID, storage.LeadFilter{Temperature: models.TemperatureWarm, Limit: scanLimit, Offset: offset})
	})
	if err != nil {
		return nil, fmt.Errorf("list warm leads: %w", err)
	}
	for _, l := range append(hot, warm...) {
		if l.Status == models.LeadStatusArchived || l.Status == models.LeadStatusLost || l.Status == models.LeadStatusWon {
			continue
		}
		if l.Temperature == models.TemperatureHot {
			b.HotLeads++
		}
		b.PipelineEstimate += l.EstimatedValue
	}

	endOfDay := autopilot.LocalAt(to, settings.Location(), 23, 59)
	tasks, err := o.store.DueFollowUps(ctx, tenantID, endOfDay)
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	b.OpenTasks = len(tasks)

	events, err := o.store.ListEvents(ctx, tenantID, storage.EventFilter{From: from, To: to.Add(time.Nanosecond)})
	if err != nil {
		return nil, fmt.Errorf("list learning events: %w", err)
	}
	for _, e := range events {
		if e.ContextType == models.ContextFollowUp && e.AIDecision.Action == models.ActionAutoSend {
			b.FollowUps++
		}
		if e.Outcome == nil {
			continue
		}
		if e.Outcome.AppointmentBooked {
			b.Appointments++
		}
		if e.Outcome.DealClosed {
			b.Deals++
			b.Revenue += e.Outcome.DealValue
		}
	}

	b.ManualMinutes = b.Sent * manualMinutesPerMessage
	b.UserMinutes = b.Approved*reviewMinutesPerDraft + b.HumanNeeded*handoverMinutes
	return b, nil
}

// scanAll reads every page of a list until a short page comes back
func scanAll[T any](list func(offset int) ([]T, error)) ([]T, error) {
	var out []T
	for offset := 0; ; offset += scanLimit {
		rows, err := list(offset)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
		if len(rows) < scanLimit {
			return out, nil
		}
	}
}

// SendBriefing builds the briefing and hands it to the notifier when the tenant
// asked for daily summaries
func (o *Orchestrator) SendBriefing(ctx context.Context, tenantID int64, kind BriefingKind) (*Briefing, error) {
	b, err := o.BuildBriefing(ctx, tenantID, kind)
	if err != nil {
		return nil, err
	}
	settings, err := o.store.LoadSettings(ctx, tenantID)
	if err != nil {
		return b, fmt.Errorf("load settings: %w", err)
	}
	if !settings.NotifyDailySummary {
		return b, nil
	}
	o.notify(ctx, models.Notification{
		TenantID: tenantID,
		Kind:     models.NotifyBriefing,
		Title:    briefingTitle(kind),
		Body:     briefingBody(b),
		Data:     map[string]any{"briefing": b},
	})
	return b, nil
}

func briefingTitle(kind BriefingKind) string {
	if kind == BriefingMorning {
		return "Guten Morgen: dein Autopilot-Briefing"
	}
	return "Tagesabschluss: dein Autopilot-Briefing"
}

func briefingBody(b *Briefing) string {
	if b.Kind == BriefingMorning {
		return fmt.Sprintf("%d neue Nachrichten, %d automatisch beantwortet, %d Entwürfe offen, %d brauchen dich. %d heiße Leads, Pipeline %.0f €. %d Aufgaben heute.",
			b.NewInbound, b.AutoReplied, b.DraftsPending, b.HumanNeeded, b.HotLeads, b.PipelineEstimate, b.OpenTasks)
	}
	return fmt.Sprintf("%d Nachrichten gesendet (%d automatisch, %d freigegeben, %d Follow-ups), %d neue Antworten, %d Termine, %d Abschlüsse (%.0f €). Zeitaufwand %d statt %d Minuten.",
		b.Sent, b.AutoSent, b.Approved, b.FollowUps, b.NewReplies, b.Appointments, b.Deals, b.Revenue, b.UserMinutes, b.ManualMinutes)
}

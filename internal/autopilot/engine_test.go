package autopilot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/internal/knowledge"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

func TestInfoRequestIsDraftedForReview(t *testing.T) {
	h := newHarness(t, s1Settings(), Deps{}, Options{})
	ctx := context.Background()

	res, err := h.engine.ProcessInbound(ctx, 1, inbound("m-1", "ig-user-0001", "Hey, erzähl mal mehr über euer Produkt"))
	require.NoError(t, err)

	assert.Equal(t, models.IntentSimpleInfo, res.Intent)
	assert.Equal(t, 75, res.Confidence)
	assert.Equal(t, models.ActionDraftReview, res.Action)
	assert.False(t, res.ResponseSent)
	assert.True(t, strings.HasPrefix(res.Response, "Hallo,\n\n"), "placeholder names get the generic opener")
	assert.NotContains(t, res.Response, "[Name]")
	assert.True(t, strings.HasSuffix(res.Response, "Mara Vogt"))

	var b map[string]any
	require.NoError(t, json.Unmarshal(res.Breakdown, &b))
	assert.Equal(t, "partial", b["knowledge_level"])

	drafts, err := h.store.ListDrafts(ctx, 1, storage.DraftFilter{Status: models.DraftPending})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, res.DraftID, drafts[0].ID)
	assert.Equal(t, models.DraftSourceAutopilot, drafts[0].Source)
	assert.Equal(t, "std_simple_info_sie", drafts[0].TemplateID)
	assert.InDelta(t, 0.75, drafts[0].Confidence, 1e-9)
	assert.True(t, drafts[0].RequiresReview)
	assert.NotEmpty(t, drafts[0].UserPrompt)
	assert.Equal(t, weekdayMorning.Add(models.DraftTTL), drafts[0].ExpiresAt)

	assert.Zero(t, h.sender.count())
	assert.Equal(t, []models.NotificationKind{models.NotifyDraftWaiting}, h.notifier.got())
	assert.Contains(t, h.bus.topics(), eventbus.TopicDecisionMade)

	tasks, err := h.store.DueFollowUps(ctx, 1, weekdayMorning.Add(49*time.Hour))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, string(models.IntentSimpleInfo), tasks[0].Reason)
	assert.True(t, tasks[0].ScheduledFor.Equal(weekdayMorning.Add(48*time.Hour)))
}

func TestPriceInquiryIsSentAutomatically(t *testing.T) {
	h := newHarness(t, s2Settings(), Deps{}, Options{})
	ctx := context.Background()

	res, err := h.engine.ProcessInbound(ctx, 1, inbound("m-1", "ig-user-0002", "Was kostet das?"))
	require.NoError(t, err)

	assert.Equal(t, models.IntentPriceInquiry, res.Intent)
	assert.GreaterOrEqual(t, res.Confidence, 70)
	assert.Equal(t, models.ActionAutoSend, res.Action)
	assert.True(t, res.ResponseSent)
	assert.Contains(t, res.Response, "Terminvorschläge")

	out, err := h.store.ListMessages(ctx, 1, storage.MessageFilter{LeadID: res.LeadID, Direction: models.DirectionOutbound})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].AutoSent)
	assert.Equal(t, res.Response, out[0].Text)
	assert.NotEmpty(t, out[0].ExternalID)

	assert.Equal(t, 1, h.sender.count())
	assert.Contains(t, h.notifier.got(), models.NotifyHotLeadAlert)

	lead, err := h.store.GetLead(ctx, 1, res.LeadID)
	require.NoError(t, err)
	assert.Equal(t, models.TemperatureHot, lead.Temperature)
	assert.True(t, lead.WaitingForReply)

	drafts, err := h.store.ListDrafts(ctx, 1, storage.DraftFilter{})
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestSpamIsArchived(t *testing.T) {
	h := newHarness(t, s1Settings(), Deps{}, Options{})
	ctx := context.Background()

	res, err := h.engine.ProcessInbound(ctx, 1, inbound("m-1", "ig-user-0003", "BTC gains 500% this week https://x"))
	require.NoError(t, err)

	assert.Equal(t, models.IntentSpam, res.Intent)
	assert.Equal(t, models.ActionArchive, res.Action)
	assert.Empty(t, res.Response)
	assert.Zero(t, h.sender.count())
	assert.Empty(t, h.notifier.got())

	lead, err := h.store.GetLead(ctx, 1, res.LeadID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusArchived, lead.Status)
	assert.Equal(t, ArchiveReason, lead.StatusReason)

	out, err := h.store.ListMessages(ctx, 1, storage.MessageFilter{LeadID: res.LeadID, Direction: models.DirectionOutbound})
	require.NoError(t, err)
	assert.Empty(t, out)

	tasks, err := h.store.DueFollowUps(ctx, 1, weekdayMorning.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestEnthusiasticBuyerIsNotArchived(t *testing.T) {
	h := newHarness(t, s2Settings(), Deps{}, Options{})
	ctx := context.Background()

	res, err := h.engine.ProcessInbound(ctx, 1, inbound("m-1", "ig-user-0004", "Ich bin zu 100% überzeugt, ich möchte bestellen"))
	require.NoError(t, err)

	assert.Equal(t, models.IntentReadyToBuy, res.Intent)
	assert.NotEqual(t, models.ActionArchive, res.Action)
	assert.NotEmpty(t, h.notifier.got())

	lead, err := h.store.GetLead(ctx, 1, res.LeadID)
	require.NoError(t, err)
	assert.NotEqual(t, models.LeadStatusArchived, lead.Status)
	assert.Equal(t, models.TemperatureHot, lead.Temperature)
}

func TestCarefulOverrideForcesReview(t *testing.T) {
	hits := []knowledge.Match{{Similarity: 0.97, Content: "Termine werden per Kalenderlink bestätigt", Source: "faq"}}
	h := newHarness(t, s2Settings(), Deps{Knowledge: fakeSearcher{hits: hits}}, Options{})
	ctx := context.Background()

	lead, _, err := h.store.FindOrCreateLead(ctx, 1, models.ChannelInstagram, "ig-user-0004", "Jonas Weber")
	require.NoError(t, err)
	require.NoError(t, h.store.SaveOverride(ctx, &models.LeadOverride{TenantID: 1, LeadID: lead.ID, Mode: models.OverrideCareful}))

	res, err := h.engine.ProcessInbound(ctx, 1, inbound("m-1", "ig-user-0004", "Ja, Dienstag 14 Uhr passt"))
	require.NoError(t, err)

	assert.Equal(t, models.IntentScheduling, res.Intent)
	assert.Equal(t, models.ActionDraftReview, res.Action)
	assert.True(t, strings.HasPrefix(res.Response, "Hallo Jonas Weber,"))
	assert.Zero(t, h.sender.count())

	var b map[string]any
	require.NoError(t, json.Unmarshal(res.Breakdown, &b))
	assert.Equal(t, "exact", b["knowledge_level"])
	assert.Equal(t, "medium", b["risk_level"])
}

func TestDuplicateInboundIsProcessedOnce(t *testing.T) {
	h := newHarness(t, s1Settings(), Deps{}, Options{})
	ctx := context.Background()
	msg := inbound("m-dup", "ig-user-0005", "Hey, erzähl mal mehr über euer Produkt")

	first, err := h.engine.ProcessInbound(ctx, 1, msg)
	require.NoError(t, err)
	second, err := h.engine.ProcessInbound(ctx, 1, msg)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Empty(t, second.Action)

	in, err := h.store.ListMessages(ctx, 1, storage.MessageFilter{LeadID: first.LeadID, Direction: models.DirectionInbound})
	require.NoError(t, err)
	assert.Len(t, in, 1)
	actions, err := h.store.ListActions(ctx, 1, storage.ActionFilter{LeadID: first.LeadID})
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestSecondDraftSupersedesFirst(t *testing.T) {
	h := newHarness(t, s1Settings(), Deps{}, Options{})
	ctx := context.Background()

	_, err := h.engine.ProcessInbound(ctx, 1, inbound("m-1", "ig-user-0006", "Hey, erzähl mal mehr über euer Produkt"))
	require.NoError(t, err)
	res, err := h.engine.ProcessInbound(ctx, 1, inbound("m-2", "ig-user-0006", "Was kostet das?"))
	require.NoError(t, err)
	require.Equal(t, models.ActionDraftReview, res.Action)

	pending, err := h.store.ListDrafts(ctx, 1, storage.DraftFilter{LeadID: res.LeadID, Status: models.DraftPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.DraftID, pending[0].ID)

	superseded, err := h.store.ListDrafts(ctx, 1, storage.DraftFilter{LeadID: res.LeadID, Status: models.DraftSuperseded})
	require.NoError(t, err)
	assert.Len(t, superseded, 1)
	assert.Contains(t, h.bus.topics(), eventbus.TopicDraftSuperseded)
}

func TestCapabilityGateDowngradesToDraft(t *testing.T) {
	settings := s2Settings()
	settings.AutoPriceReplies = false
	h := newHarness(t, settings, Deps{}, Options{})

	res, err := h.engine.ProcessInbound(context.Background(), 1, inbound("m-1", "ig-user-0007", "Was kostet das?"))
	require.NoError(t, err)

	assert.Equal(t, models.ActionDraftReview, res.Action)
	assert.Contains(t, res.Reasoning, "auto_price_replies disabled")
	assert.Zero(t, h.sender.count())
}

func TestObserverModeNeverSends(t *testing.T) {
	settings := s2Settings()
	settings.AutonomyLevel = models.AutonomyObserver
	h := newHarness(t, settings, Deps{}, Options{})

	res, err := h.engine.ProcessInbound(context.Background(), 1, inbound("m-1", "ig-user-0008", "Was kostet das?"))
	require.NoError(t, err)
	assert.Equal(t, models.ActionDraftReview, res.Action)
	assert.Zero(t, h.sender.count())
}

func TestCapabilityFor(t *testing.T) {
	s := models.AutopilotSettings{AutoObjectionHandling: true}
	flag, ok := CapabilityFor(models.IntentTimeObjection, s)
	assert.Equal(t, "auto_objection_handling", flag)
	assert.True(t, ok)

	flag, ok = CapabilityFor(models.IntentReadyToBuy, s)
	assert.Equal(t, "auto_closing", flag)
	assert.False(t, ok)

	for _, in := range []models.Intent{models.IntentBookingRequest, models.IntentCancellation, models.IntentUnclear} {
		flag, ok := CapabilityFor(in, models.AutopilotSettings{AutoScheduling: true, AutoCalendarBooking: true})
		assert.Empty(t, flag, in)
		assert.False(t, ok, in)
	}
}

func TestOutsideWindowSchedulesSend(t *testing.T) {
	h := newHarness(t, s2Settings(), Deps{}, Options{})
	saturday := time.Date(2026, 10, 17, 10, 0, 0, 0, berlin)
	h.engine.SetClock(func() time.Time { return saturday })
	ctx := context.Background()

	res, err := h.engine.ProcessInbound(ctx, 1, inbound("m-1", "ig-user-0009", "Was kostet das?"))
	require.NoError(t, err)

	assert.Equal(t, models.ActionSchedule, res.Action)
	assert.False(t, res.ResponseSent)
	require.NotNil(t, res.ScheduledFor)
	monday := time.Date(2026, 10, 19, 8, 0, 0, 0, berlin)
	assert.True(t, res.ScheduledFor.Equal(monday), "got %s", res.ScheduledFor)
	assert.Zero(t, h.sender.count())

	tasks, err := h.store.DueFollowUps(ctx, 1, monday)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, ReasonScheduledSend, tasks[0].Reason)
	assert.Equal(t, res.Response, tasks[0].Content)
}

func TestSendFailureFallsBackToDraft(t *testing.T) {
	sender := &fakeSender{err: apperr.External("channels.Send", errSendRejected)}
	h := newHarness(t, s2Settings(), Deps{Sender: sender}, Options{})
	ctx := context.Background()

	res, err := h.engine.ProcessInbound(ctx, 1, inbound("m-1", "ig-user-0010", "Was kostet das?"))
	require.NoError(t, err)

	assert.Equal(t, models.ActionDraftReview, res.Action)
	assert.False(t, res.ResponseSent)
	assert.NotEmpty(t, res.DraftID)
	assert.Contains(t, res.Reasoning, "channel send failed")
}

func TestGeneratedReplyIsSanitized(t *testing.T) {
	gen := &fakeGenerator{reply: "Hallo [Name],\n\nklar, wir finden gern einen neuen Termin. Welcher Tag passt Ihnen?\n\nViele Grüße\n[Ihr Name]"}
	h := newHarness(t, s1Settings(), Deps{Generator: gen}, Options{})

	res, err := h.engine.ProcessInbound(context.Background(), 1, inbound("m-1", "ig-user-0011", "Können wir den Call verschieben"))
	require.NoError(t, err)

	assert.Equal(t, models.IntentReschedule, res.Intent)
	assert.Equal(t, "Hallo,\n\nklar, wir finden gern einen neuen Termin. Welcher Tag passt Ihnen?\n\nViele Grüße\nMara Vogt", res.Response)
	assert.NotContains(t, res.Response, "[")
}

func TestGenerationFailureNeedsHuman(t *testing.T) {
	gen := &fakeGenerator{err: apperr.External("llm.Generate", errors.New("model overloaded"))}
	h := newHarness(t, s1Settings(), Deps{Generator: gen}, Options{})

	res, err := h.engine.ProcessInbound(context.Background(), 1, inbound("m-1", "ig-user-0012", "Können wir den Call verschieben"))
	require.NoError(t, err)

	assert.Equal(t, models.ActionHumanNeeded, res.Action)
	assert.Equal(t, "E_EXTERNAL", res.ErrorCode)
	assert.Empty(t, res.Response)
	assert.Equal(t, []models.NotificationKind{models.NotifyHumanNeededAlert}, h.notifier.got())
}

type flagAll struct{ calls int }

func (f *flagAll) Screen(context.Context, string) (bool, float64) {
	f.calls++
	return true, 0.93
}

func TestFlaggedInboundSkipsGeneration(t *testing.T) {
	gen := &fakeGenerator{reply: "Klar, gern."}
	guard := &flagAll{}
	h := newHarness(t, s1Settings(), Deps{Generator: gen, Guard: guard}, Options{})

	res, err := h.engine.ProcessInbound(context.Background(), 1, inbound("m-1", "ig-user-0013", "Können wir den Call verschieben"))
	require.NoError(t, err)

	assert.Equal(t, 1, guard.calls)
	assert.Equal(t, models.ActionHumanNeeded, res.Action)
	assert.Equal(t, apperr.ErrCompliance.Code, res.ErrorCode)
	assert.Empty(t, res.Response)
	assert.Zero(t, h.sender.count())
}

func TestPipelineTimeoutFallsBackToHuman(t *testing.T) {
	gen := &fakeGenerator{block: true}
	h := newHarness(t, s1Settings(), Deps{Generator: gen}, Options{PipelineTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	res, err := h.engine.ProcessInbound(ctx, 1, inbound("m-1", "ig-user-0013", "Können wir den Call verschieben"))
	require.NoError(t, err)

	assert.Equal(t, models.ActionHumanNeeded, res.Action)
	assert.Equal(t, "E_TIMEOUT", res.ErrorCode)
	assert.Contains(t, h.bus.topics(), eventbus.TopicTimeoutFallback)
	assert.Contains(t, h.notifier.got(), models.NotifyHumanNeededAlert)

	actions, err := h.store.ListActions(ctx, 1, storage.ActionFilter{LeadID: res.LeadID})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionHumanNeeded, actions[0].Action)
}

func TestCancellationIsRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &fakeGenerator{block: true, onCall: cancel}
	h := newHarness(t, s1Settings(), Deps{Generator: gen}, Options{})

	res, err := h.engine.ProcessInbound(ctx, 1, inbound("m-1", "ig-user-0014", "Können wir den Call verschieben"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTimeout))
	require.NotNil(t, res)
	assert.Equal(t, models.ActionCancelled, res.Action)

	bg := context.Background()
	actions, err := h.store.ListActions(bg, 1, storage.ActionFilter{LeadID: res.LeadID})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionCancelled, actions[0].Action)

	in, err := h.store.ListMessages(bg, 1, storage.MessageFilter{LeadID: res.LeadID})
	require.NoError(t, err)
	assert.Len(t, in, 1)
	assert.Zero(t, h.sender.count())
	drafts, err := h.store.ListDrafts(bg, 1, storage.DraftFilter{LeadID: res.LeadID})
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestInteractionCountExcludesCurrentMessage(t *testing.T) {
	h := newHarness(t, s1Settings(), Deps{}, Options{})
	ctx := context.Background()

	// a fresh lead gets the new-lead response bonus on its first message only
	first, err := h.engine.ProcessInbound(ctx, 1, inbound("m-1", "ig-user-0015", "Hey, erzähl mal mehr über euer Produkt"))
	require.NoError(t, err)
	second, err := h.engine.ProcessInbound(ctx, 1, inbound("m-2", "ig-user-0015", "Hey, erzähl mal mehr über euer Produkt"))
	require.NoError(t, err)

	assert.Equal(t, 75, first.Confidence)
	assert.Equal(t, 70, second.Confidence)
}

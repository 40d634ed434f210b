package autopilot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/internal/knowledge"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

var berlin = mustLoad("Europe/Berlin")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// wednesday 10:00 in Berlin, inside the default sending window
var weekdayMorning = time.Date(2026, 10, 14, 10, 0, 0, 0, berlin)

type sentMessage struct {
	LeadID  string
	Channel models.Channel
	Content string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, lead models.Lead, ch models.Channel, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{LeadID: lead.ID, Channel: ch, Content: content})
	return fmt.Sprintf("out-%s-%d", lead.ID, len(f.sent)), nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeNotifier struct {
	mu    sync.Mutex
	kinds []models.NotificationKind
}

func (f *fakeNotifier) Notify(_ context.Context, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, n.Kind)
	return nil
}

func (f *fakeNotifier) got() []models.NotificationKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.NotificationKind(nil), f.kinds...)
}

type fakeBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (f *fakeBus) Publish(ev eventbus.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeBus) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Topic)
	}
	return out
}

type fakeSearcher struct {
	hits []knowledge.Match
	err  error
}

func (f fakeSearcher) Search(context.Context, int64, string, int) ([]knowledge.Match, error) {
	return f.hits, f.err
}

type fakeGenerator struct {
	reply string
	err   error
	// block waits for ctx to end before returning
	block bool
	// onCall runs before the reply is produced
	onCall func()
}

func (f *fakeGenerator) Generate(ctx context.Context, _, _ string, _ int) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

var errSendRejected = errors.New("recipient blocked")

type harness struct {
	store    *storage.MemoryStore
	sender   *fakeSender
	notifier *fakeNotifier
	bus      *fakeBus
	engine   *Engine
}

func newHarness(t *testing.T, settings models.AutopilotSettings, d Deps, opts Options) *harness {
	t.Helper()
	h := &harness{
		store:    storage.NewMemoryStore(),
		sender:   &fakeSender{},
		notifier: &fakeNotifier{},
		bus:      &fakeBus{},
	}
	ctx := context.Background()
	require.NoError(t, h.store.CreateTenant(ctx, &models.Tenant{ID: settings.TenantID, Name: "acme", DisplayName: "Mara Vogt"}))
	require.NoError(t, h.store.SaveSettings(ctx, settings))

	d.Store = h.store
	if d.Sender == nil {
		d.Sender = h.sender
	}
	d.Notifier = h.notifier
	d.Bus = h.bus
	h.engine = NewEngine(d, opts)
	h.engine.SetClock(func() time.Time { return weekdayMorning })
	return h
}

func inbound(externalID, leadID, text string) models.InboundMessage {
	return models.InboundMessage{
		Channel:        models.ChannelInstagram,
		ExternalID:     externalID,
		LeadExternalID: leadID,
		ContentType:    "text",
		Text:           text,
		Timestamp:      weekdayMorning,
	}
}

func s1Settings() models.AutopilotSettings {
	s := models.DefaultSettings(1)
	s.AutonomyLevel = models.AutonomyAssistant
	s.ConfidenceThreshold = 90
	s.AutoInfoReplies = true
	return s
}

func s2Settings() models.AutopilotSettings {
	s := s1Settings()
	s.AutoPriceReplies = true
	s.ConfidenceThreshold = 70
	return s
}

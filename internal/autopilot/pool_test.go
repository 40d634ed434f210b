package autopilot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestShardForIsStable(t *testing.T) {
	a := ShardFor(1, models.ChannelWhatsApp, "4917612345678", 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, ShardFor(1, models.ChannelWhatsApp, "4917612345678", 8))
	}
	for i := 0; i < 100; i++ {
		s := ShardFor(int64(i), models.ChannelTelegram, fmt.Sprint(i), 3)
		assert.True(t, s >= 0 && s < 3)
	}
}

func TestPoolKeepsPerLeadOrder(t *testing.T) {
	h := newHarness(t, s1Settings(), Deps{}, Options{})
	var tick atomic.Int64
	h.engine.SetClock(func() time.Time {
		return weekdayMorning.Add(time.Duration(tick.Add(1)) * time.Millisecond)
	})
	p := NewPool(h.engine, 4, 2)

	var wg sync.WaitGroup
	texts := []string{"Was kostet das?", "Hey, erzähl mal mehr über euer Produkt", "Können wir den Call verschieben"}
	for i := 0; i < 6; i++ {
		for _, lead := range []string{"lead-a", "lead-b", "lead-c"} {
			msg := inbound(fmt.Sprintf("%s-%d", lead, i), lead, texts[i%len(texts)])
			msg.Timestamp = weekdayMorning.Add(time.Duration(i) * time.Second)
			wg.Add(1)
			require.NoError(t, p.Submit(context.Background(), Job{
				TenantID: 1,
				Message:  msg,
				Done:     func(*models.ProcessingResult, error) { wg.Done() },
			}))
		}
	}
	wg.Wait()
	p.Close()

	ctx := context.Background()
	msgs, err := h.store.ListMessages(ctx, 1, storage.MessageFilter{Direction: models.DirectionInbound, Limit: 100})
	require.NoError(t, err)
	sentAt := map[string]time.Time{}
	for _, m := range msgs {
		sentAt[m.ID] = m.Timestamp
	}

	actions, err := h.store.ListActions(ctx, 1, storage.ActionFilter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, actions, 18)
	byLead := map[string][]models.ActionLog{}
	for _, a := range actions {
		byLead[a.LeadID] = append(byLead[a.LeadID], a)
	}
	require.Len(t, byLead, 3)
	for lead, logs := range byLead {
		sort.Slice(logs, func(i, j int) bool { return sentAt[logs[i].MessageID].Before(sentAt[logs[j].MessageID]) })
		for i := 1; i < len(logs); i++ {
			assert.False(t, logs[i].CreatedAt.Before(logs[i-1].CreatedAt), "lead %s out of order at %d", lead, i)
		}
	}

	pending, err := h.store.ListDrafts(ctx, 1, storage.DraftFilter{Status: models.DraftPending})
	require.NoError(t, err)
	perLead := map[string]int{}
	for _, d := range pending {
		perLead[d.LeadID]++
	}
	for lead, n := range perLead {
		assert.LessOrEqual(t, n, 1, lead)
	}
}

func TestPoolRejectsAfterClose(t *testing.T) {
	p := NewPool(stubProcessor{}, 2, 1)
	p.Close()
	p.Close()
	err := p.Submit(context.Background(), Job{TenantID: 1})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolSubmitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(stubProcessor{block: block}, 1, 1)
	defer p.Close()
	defer close(block)

	// the worker holds the first job, the second fills the queue
	require.NoError(t, p.Submit(context.Background(), Job{TenantID: 1}))
	require.NoError(t, p.Submit(context.Background(), Job{TenantID: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Submit(ctx, Job{TenantID: 1}), context.DeadlineExceeded)
}

type stubProcessor struct {
	block chan struct{}
}

func (s stubProcessor) ProcessInbound(ctx context.Context, _ int64, _ models.InboundMessage) (*models.ProcessingResult, error) {
	if s.block != nil {
		<-s.block
	}
	return &models.ProcessingResult{}, nil
}

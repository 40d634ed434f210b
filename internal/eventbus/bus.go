// Package eventbus fans decision outcomes out to in-process subscribers. Publishing
// never blocks the producer; each subscriber drains its own buffered queue.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leadpilot/internal/apperr"
)

// Topics published by the core
const (
	TopicDecisionMade    = "decision_made"
	TopicDraftSuperseded = "draft_superseded"
	TopicDraftReviewed   = "draft_reviewed"
	TopicTimeoutFallback = "timeout_fallback"
	TopicLearningEvent   = "learning_event"
	TopicNotification    = "notification"
	TopicReactivation    = "reactivation"
)

// Event is what travels over the bus. Data holds a models value matching the topic.
type Event struct {
	Topic    string    `json:"topic"`
	TenantID int64     `json:"tenant_id"`
	LeadID   string    `json:"lead_id,omitempty"`
	Data     any       `json:"data,omitempty"`
	At       time.Time `json:"at"`
}

// Handler consumes events for one subscriber. Handlers run on the subscriber's goroutine.
type Handler func(ctx context.Context, ev Event)

// Publisher is the producer side used by the engine, orchestrator and agent
type Publisher interface {
	Publish(ev Event) bool
}

type subscriber struct {
	name   string
	topics map[string]bool
	queue  chan Event
	h      Handler
}

func (s *subscriber) wants(topic string) bool {
	return len(s.topics) == 0 || s.topics[topic]
}

type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	buffer int
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a bus whose subscribers buffer up to buffer events each
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{buffer: buffer, ctx: ctx, cancel: cancel}
}

// Subscribe registers h for the given topics (all topics when none are given)
func (b *Bus) Subscribe(name string, h Handler, topics ...string) {
	sub := &subscriber{name: name, queue: make(chan Event, b.buffer), h: h, topics: make(map[string]bool)}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.drain(sub)
}

func (b *Bus) drain(sub *subscriber) {
	defer b.wg.Done()
	for ev := range sub.queue {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("subscriber", sub.name).Str("topic", ev.Topic).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	sub.h(b.ctx, ev)
}

// Publish enqueues ev for every interested subscriber. A full queue drops the event
// for that subscriber; the return value reports whether every subscriber accepted it.
func (b *Bus) Publish(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	ok := true
	for _, sub := range b.subs {
		if !sub.wants(ev.Topic) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			ok = false
			log.Warn().
				Str("reason", apperr.ReasonEventPublishFailed).
				Str("subscriber", sub.name).
				Str("topic", ev.Topic).
				Msg("subscriber queue full, event dropped")
		}
	}
	return ok
}

// Close stops accepting events, lets subscribers drain their queues and waits for them
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
	b.cancel()
}

// Discard is a Publisher that drops everything
type Discard struct{}

func (Discard) Publish(Event) bool { return true }

package learning

import (
	"context"
	"fmt"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/pkg/models"
)

// Review is the payload of a draft_reviewed event
type Review struct {
	Draft  models.Draft `json:"draft"`
	UserID string       `json:"user_id,omitempty"`
}

// Topics consumed by the learning subscriber
var Topics = []string{
	eventbus.TopicDecisionMade,
	eventbus.TopicLearningEvent,
	eventbus.TopicTimeoutFallback,
	eventbus.TopicDraftSuperseded,
	eventbus.TopicDraftReviewed,
}

// Subscribe registers the service as an asynchronous consumer of the bus
func (s *Service) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe("learning", s.Handle, Topics...)
}

// Handle records the learning event carried by ev. Failures are logged; the
// producer has already moved on.
func (s *Service) Handle(ctx context.Context, ev eventbus.Event) {
	e, err := eventFrom(ev)
	if err != nil {
		s.logger.Warn().Err(err).Str("reason", apperr.ReasonEventRecordFailed).Str("topic", ev.Topic).Msg("bus event has no learning payload")
		return
	}
	if e.TenantID == 0 {
		e.TenantID = ev.TenantID
	}
	if e.LeadID == "" {
		e.LeadID = ev.LeadID
	}
	if err := s.Record(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("reason", apperr.ReasonEventRecordFailed).Str("topic", ev.Topic).Str("event_type", string(e.EventType)).Msg("learning event not recorded")
	}
}

func eventFrom(ev eventbus.Event) (*models.LearningEvent, error) {
	switch d := ev.Data.(type) {
	case models.LearningEvent:
		return &d, nil
	case *models.LearningEvent:
		if d == nil {
			break
		}
		cp := *d
		return &cp, nil
	case models.Draft:
		return ReviewEvent(d, "")
	case *models.Draft:
		if d == nil {
			break
		}
		return ReviewEvent(*d, "")
	case Review:
		return ReviewEvent(d.Draft, d.UserID)
	case *Review:
		if d == nil {
			break
		}
		return ReviewEvent(d.Draft, d.UserID)
	}
	return nil, fmt.Errorf("unexpected payload %T", ev.Data)
}

package eventbus

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/leadpilot/internal/apperr"
)

// MessageWriter is the subset of *kafka.Writer used by the forwarder
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder mirrors bus events onto a Kafka topic, keyed by lead so that a
// lead's events stay on one partition.
type KafkaForwarder struct {
	w       MessageWriter
	timeout time.Duration
}

// NewKafkaWriter builds the writer used in production
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewKafkaForwarder(w MessageWriter) *KafkaForwarder {
	return &KafkaForwarder{w: w, timeout: 5 * time.Second}
}

// Handle is a bus Handler. Forwarding failures are logged and never reach the producer.
func (f *KafkaForwarder) Handle(ctx context.Context, ev Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("reason", apperr.ReasonForwardFailed).Str("topic", ev.Topic).Msg("encode event")
		return
	}
	key := ev.LeadID
	if key == "" {
		key = strconv.FormatInt(ev.TenantID, 10)
	}
	writeCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	err = f.w.WriteMessages(writeCtx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "topic", Value: []byte(ev.Topic)}},
		Time:    ev.At,
	})
	if err != nil {
		log.Warn().Err(err).Str("reason", apperr.ReasonForwardFailed).Str("topic", ev.Topic).Msg("forward event to kafka")
	}
}

func (f *KafkaForwarder) Close() error { return f.w.Close() }

// Package events emits persisted tracking events and fallback records to
// downstream consumers (order tracking, analytics) over Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/enviora/carrier/internal/storage"
	"github.com/enviora/carrier/pkg/carrier"
	"github.com/segmentio/kafka-go"
)

// Publisher is the event side-channel. Persisting state is the source of
// truth; publishing is best-effort and must never fail a request.
type Publisher interface {
	PublishTrackingEvent(ctx context.Context, e *carrier.TrackingEvent) error
	PublishFallbackRecord(ctx context.Context, r *storage.FallbackRecord) error
	Close() error
}

// envelope is the wire format consumers receive.
type envelope struct {
	Kind      string    `json:"kind"` // "tracking_event" | "fallback_record"
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

type trackingPayload struct {
	TrackingNumber string    `json:"tracking_number"`
	Status         string    `json:"status"`
	NativeStatus   string    `json:"native_status,omitempty"`
	Location       string    `json:"location,omitempty"`
	Source         string    `json:"source"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// KafkaPublisher writes events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// PublishTrackingEvent emits one canonical tracking event, keyed by
// tracking number so per-shipment ordering survives partitioning.
func (p *KafkaPublisher) PublishTrackingEvent(ctx context.Context, e *carrier.TrackingEvent) error {
	value, err := json.Marshal(envelope{
		Kind:      "tracking_event",
		Timestamp: time.Now(),
		Payload: trackingPayload{
			TrackingNumber: e.TrackingNumber,
			Status:         string(e.Status),
			NativeStatus:   e.NativeStatus,
			Location:       e.Location,
			Source:         string(e.Source),
			OccurredAt:     e.Timestamp,
		},
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.TrackingNumber),
		Value: value,
	})
}

// PublishFallbackRecord emits one fallback audit record.
func (p *KafkaPublisher) PublishFallbackRecord(ctx context.Context, r *storage.FallbackRecord) error {
	value, err := json.Marshal(envelope{
		Kind:      "fallback_record",
		Timestamp: time.Now(),
		Payload:   r,
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.RouteKey),
		Value: value,
	})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards all events; used in tests and when Kafka is disabled.
type Nop struct{}

func (Nop) PublishTrackingEvent(context.Context, *carrier.TrackingEvent) error   { return nil }
func (Nop) PublishFallbackRecord(context.Context, *storage.FallbackRecord) error { return nil }
func (Nop) Close() error                                                         { return nil }

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = Nop{}
)

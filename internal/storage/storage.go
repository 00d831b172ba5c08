// Package storage defines the persistence interfaces for the engine's
// durable state, with PostgreSQL and in-memory implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/enviora/carrier/pkg/carrier"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// WebhookStatus is the processing state of one inbound webhook event.
type WebhookStatus string

const (
	WebhookReceived   WebhookStatus = "received"
	WebhookProcessing WebhookStatus = "processing"
	WebhookProcessed  WebhookStatus = "processed"
	WebhookDeadLetter WebhookStatus = "dead_letter"
)

// WebhookEvent tracks one inbound carrier webhook through the pipeline.
// Created on receipt; mutated only by the pipeline's state transitions.
type WebhookEvent struct {
	ID          string // dedup key: carrier event ID or payload hash
	Carrier     string
	PayloadHash string
	Payload     []byte
	SignatureOK bool
	Status      WebhookStatus
	RetryCount  int
	LastError   string
	ReceivedAt  time.Time
	UpdatedAt   time.Time
}

// FallbackRecord is one entry in the fallback audit trail: which carrier
// was attempted, which one (if any) eventually served the route, and why
// the attempt failed.
type FallbackRecord struct {
	RouteKey  string    `json:"route_key"`
	Attempted string    `json:"attempted"`
	Succeeded string    `json:"succeeded,omitempty"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ShipmentStore persists booked shipments.
type ShipmentStore interface {
	Create(ctx context.Context, s *carrier.Shipment) error
	Get(ctx context.Context, trackingNumber string) (*carrier.Shipment, error)
	MarkCancelled(ctx context.Context, trackingNumber string) error
}

// TrackingEventStore is the append-only tracking event log. Events are
// never mutated; current status is derived from the log.
type TrackingEventStore interface {
	Append(ctx context.Context, e *carrier.TrackingEvent) error
	ByTrackingNumber(ctx context.Context, trackingNumber string) ([]*carrier.TrackingEvent, error)
}

// WebhookEventStore persists webhook pipeline state. Claim must be an
// atomic check-and-set so two concurrent deliveries of the same event
// cannot both pass the "not yet processing" check.
type WebhookEventStore interface {
	// Claim inserts the event if its ID is unseen and returns true; an
	// existing row in any state means a duplicate delivery and returns
	// false.
	Claim(ctx context.Context, e *WebhookEvent) (bool, error)

	// Update transitions an existing event's processing state.
	Update(ctx context.Context, e *WebhookEvent) error

	Get(ctx context.Context, id string) (*WebhookEvent, error)

	// Pending lists events still awaiting processing (received or
	// processing). Retry timers do not survive a restart; startup recovery
	// re-drives these from the stored payload.
	Pending(ctx context.Context) ([]*WebhookEvent, error)

	// DeadLetters lists events parked for manual inspection.
	DeadLetters(ctx context.Context) ([]*WebhookEvent, error)
}

// FallbackRecordStore is the append-only fallback audit trail.
type FallbackRecordStore interface {
	Append(ctx context.Context, r *FallbackRecord) error
	ByRoute(ctx context.Context, routeKey string) ([]*FallbackRecord, error)
}

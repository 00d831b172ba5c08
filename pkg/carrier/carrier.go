// Package carrier provides the provider-agnostic abstraction over shipping carriers.
package carrier

import (
	"context"
	"net/http"
)

// Capability identifies an operation a carrier supports.
type Capability string

const (
	CapQuote  Capability = "quote"
	CapLabel  Capability = "label"
	CapTrack  Capability = "track"
	CapPickup Capability = "pickup"
	CapCancel Capability = "cancel"
)

// Environment selects which carrier endpoint set and credentials are used.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// Credential is a decrypted, time-boxed secret bundle handed to an adapter
// for a single call. Adapters must never persist it.
type Credential struct {
	Carrier string
	Env     Environment
	Secrets map[string]string
}

// Secret returns a named secret, or "" if absent.
func (c *Credential) Secret(key string) string {
	if c == nil {
		return ""
	}
	return c.Secrets[key]
}

// Adapter is the uniform interface every carrier integration implements.
//
// Adapters isolate vendor-specific auth, payload shape, and error codes.
// They never retry internally; retry and backoff policy belongs to the
// caller so it is uniform across carriers. Every call honors ctx deadlines.
type Adapter interface {
	// Name returns the carrier code (e.g. "dhl", "fedex", "servientrega").
	Name() string

	// Capabilities returns the operations this carrier supports.
	Capabilities() CapabilitySet

	// Authenticate exchanges credentials for a session. Adapters cache
	// sessions internally and refresh at 90% of the stated lifetime, so
	// callers may invoke this on every operation.
	Authenticate(ctx context.Context, cred *Credential) (*Session, error)

	// Quote returns priced shipping offers for a normalized request.
	Quote(ctx context.Context, req *QuoteRequest, session *Session) ([]*Quote, error)

	// CreateLabel redeems a quote reference into a booked shipment.
	CreateLabel(ctx context.Context, ref string, details *ShipmentDetails, session *Session) (*Shipment, error)

	// Track returns the carrier's event history for a tracking number.
	Track(ctx context.Context, trackingNumber string, session *Session) ([]*TrackingEvent, error)

	// Cancel voids a shipment with the carrier.
	Cancel(ctx context.Context, trackingNumber string, session *Session) error

	// ValidateWebhookSignature checks the authenticity of an inbound
	// webhook using the carrier's documented scheme.
	ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool

	// ParseWebhookEvent decodes a verified webhook body into a tracking
	// event plus the carrier-provided event ID when one exists.
	ParseWebhookEvent(body []byte) (*WebhookDelivery, error)
}

// PickupScheduler is implemented by adapters whose carrier supports
// scheduling pickups.
type PickupScheduler interface {
	SchedulePickup(ctx context.Context, req *PickupRequest, session *Session) (*Pickup, error)
}

// CapabilitySet is the set of operations a carrier supports.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set contains the capability.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the capabilities in a stable order.
func (s CapabilitySet) List() []Capability {
	order := []Capability{CapQuote, CapLabel, CapTrack, CapPickup, CapCancel}
	result := make([]Capability, 0, len(s))
	for _, c := range order {
		if s.Has(c) {
			result = append(result, c)
		}
	}
	return result
}

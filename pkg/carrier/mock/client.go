// Package mock provides a configurable mock carrier adapter for testing.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/enviora/carrier/pkg/carrier"
)

// Client is a mock carrier adapter. Zero value behavior returns canned
// successful responses; tests override fields to inject failures, latency,
// or custom results.
type Client struct {
	CarrierName string
	Caps        carrier.CapabilitySet

	// Err, when set, is returned by every operation.
	Err error

	// Latency delays every operation (honoring ctx cancellation).
	Latency time.Duration

	// QuotePrice and QuoteTransitDays shape the canned quote.
	QuotePrice       float64
	QuoteCurrency    string
	QuoteTransitDays int

	// OnQuote, OnCreateLabel, OnTrack override the canned behavior.
	OnQuote       func(ctx context.Context, req *carrier.QuoteRequest) ([]*carrier.Quote, error)
	OnCreateLabel func(ctx context.Context, ref string, details *carrier.ShipmentDetails) (*carrier.Shipment, error)
	OnTrack       func(ctx context.Context, trackingNumber string) ([]*carrier.TrackingEvent, error)

	// WebhookSecretValid controls signature validation outcome when no
	// real HMAC check is wanted; nil means do the real HMAC check.
	WebhookSecretValid *bool

	calls atomic.Int64
}

// New creates a mock adapter with all capabilities.
func New(name string) *Client {
	return &Client{
		CarrierName: name,
		Caps: carrier.NewCapabilitySet(
			carrier.CapQuote, carrier.CapLabel, carrier.CapTrack,
			carrier.CapPickup, carrier.CapCancel,
		),
		QuotePrice:       15.50,
		QuoteCurrency:    "USD",
		QuoteTransitDays: 3,
	}
}

// Calls returns how many operations were invoked.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

func (c *Client) begin(ctx context.Context) error {
	c.calls.Add(1)
	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.Err
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return c.CarrierName
}

// Capabilities returns the configured capability set.
func (c *Client) Capabilities() carrier.CapabilitySet {
	return c.Caps
}

// Authenticate returns a non-expiring mock session.
func (c *Client) Authenticate(ctx context.Context, cred *carrier.Credential) (*carrier.Session, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	return &carrier.Session{Token: c.CarrierName + "-session"}, nil
}

// Quote returns a single canned rate.
func (c *Client) Quote(ctx context.Context, req *carrier.QuoteRequest, _ *carrier.Session) ([]*carrier.Quote, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	if c.OnQuote != nil {
		return c.OnQuote(ctx, req)
	}
	now := time.Now()
	return []*carrier.Quote{{
		ID:          fmt.Sprintf("%s-quote-%d", c.CarrierName, now.UnixNano()),
		Carrier:     c.CarrierName,
		ServiceCode: "STANDARD",
		ServiceName: c.CarrierName + " Standard",
		TotalPrice:  carrier.Money{Amount: c.QuotePrice, Currency: c.QuoteCurrency},
		TransitDays: c.QuoteTransitDays,
		ValidUntil:  now.Add(30 * time.Minute),
		Ref:         fmt.Sprintf("%s-ref-%d", c.CarrierName, now.UnixNano()),
	}}, nil
}

// CreateLabel books a mock shipment.
func (c *Client) CreateLabel(ctx context.Context, ref string, details *carrier.ShipmentDetails, _ *carrier.Session) (*carrier.Shipment, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	if c.OnCreateLabel != nil {
		return c.OnCreateLabel(ctx, ref, details)
	}
	now := time.Now()
	return &carrier.Shipment{
		TrackingNumber: fmt.Sprintf("MK%s%d", c.CarrierName[:2], now.UnixNano()%1e9),
		Carrier:        c.CarrierName,
		ServiceName:    c.CarrierName + " Standard",
		Label:          carrier.Label{Format: carrier.LabelPDF, Data: []byte("%PDF-mock")},
		Cost:           carrier.Money{Amount: c.QuotePrice, Currency: c.QuoteCurrency},
		CreatedAt:      now,
		OrderRef:       details.OrderRef,
	}, nil
}

// Track returns a single in_transit event.
func (c *Client) Track(ctx context.Context, trackingNumber string, _ *carrier.Session) ([]*carrier.TrackingEvent, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	if c.OnTrack != nil {
		return c.OnTrack(ctx, trackingNumber)
	}
	return []*carrier.TrackingEvent{{
		TrackingNumber: trackingNumber,
		Status:         carrier.StatusInTransit,
		NativeStatus:   "IN_TRANSIT",
		Timestamp:      time.Now(),
		Source:         carrier.SourcePolled,
	}}, nil
}

// Cancel acknowledges cancellation.
func (c *Client) Cancel(ctx context.Context, trackingNumber string, _ *carrier.Session) error {
	return c.begin(ctx)
}

// SchedulePickup books a mock pickup.
func (c *Client) SchedulePickup(ctx context.Context, req *carrier.PickupRequest, _ *carrier.Session) (*carrier.Pickup, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	return &carrier.Pickup{
		ConfirmationID: fmt.Sprintf("PU-%s-%d", c.CarrierName, time.Now().UnixNano()),
		Carrier:        c.CarrierName,
		Date:           req.Date,
		Window:         req.ReadyTime + "-" + req.CloseTime,
	}, nil
}

// ValidateWebhookSignature checks the standard HMAC scheme unless
// WebhookSecretValid forces an outcome.
func (c *Client) ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool {
	if c.WebhookSecretValid != nil {
		return *c.WebhookSecretValid
	}
	ts := headers.Get("X-Mock-Timestamp")
	sig := headers.Get("X-Mock-Signature")
	return carrier.VerifyWebhookSignature(secret, ts, body, sig)
}

// webhookPayload is the wire shape the mock adapter accepts.
type webhookPayload struct {
	EventID        string `json:"event_id"`
	TrackingNumber string `json:"tracking_number"`
	Status         string `json:"status"`
	Location       string `json:"location"`
	Timestamp      string `json:"timestamp"`
}

// ParseWebhookEvent decodes the mock webhook JSON shape.
func (c *Client) ParseWebhookEvent(body []byte) (*carrier.WebhookDelivery, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, carrier.NewError(c.CarrierName, carrier.ClassValidation, "BAD_PAYLOAD", "malformed webhook body").WithCause(err)
	}
	ts, _ := time.Parse(time.RFC3339, p.Timestamp)
	if ts.IsZero() {
		ts = time.Now()
	}
	return &carrier.WebhookDelivery{
		EventID: p.EventID,
		Event: carrier.TrackingEvent{
			TrackingNumber: p.TrackingNumber,
			Status:         carrier.Status(p.Status),
			NativeStatus:   p.Status,
			Location:       p.Location,
			Timestamp:      ts,
			Source:         carrier.SourceWebhook,
		},
	}, nil
}

var (
	_ carrier.Adapter         = (*Client)(nil)
	_ carrier.PickupScheduler = (*Client)(nil)
)

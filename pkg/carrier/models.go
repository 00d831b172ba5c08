package carrier

import (
	"time"
)

// ServiceLevel represents the requested shipping service class.
type ServiceLevel string

const (
	ServiceStandard ServiceLevel = "standard"
	ServiceExpress  ServiceLevel = "express"
	ServicePriority ServiceLevel = "priority"
	ServiceEconomy  ServiceLevel = "economy"
)

// WeightUnit represents weight measurement unit.
type WeightUnit string

const (
	WeightKG WeightUnit = "kg"
	WeightLB WeightUnit = "lb"
)

// DimensionUnit represents dimension measurement unit.
type DimensionUnit string

const (
	DimensionCM DimensionUnit = "cm"
	DimensionIN DimensionUnit = "in"
)

// LabelFormat represents the format of shipping labels.
type LabelFormat string

const (
	LabelPDF LabelFormat = "pdf"
	LabelPNG LabelFormat = "png"
	LabelZPL LabelFormat = "zpl"
)

// EventSource distinguishes polled tracking events from webhook-delivered ones.
type EventSource string

const (
	SourcePolled  EventSource = "polled"
	SourceWebhook EventSource = "webhook"
)

// Address represents a shipping address.
type Address struct {
	Name         string
	Company      string
	Line1        string
	Line2        string
	City         string
	Region       string // province/state/departamento code
	PostalCode   string
	CountryCode  string // ISO 3166-1 alpha-2
	Phone        string
	Email        string
	Instructions string
	Residential  bool
}

// Contact represents sender or recipient contact info.
type Contact struct {
	Name    string
	Company string
	Phone   string
	Email   string
	TaxID   string // for customs on international shipments
}

// Package represents one package in a shipment.
type Package struct {
	Length        float64
	Width         float64
	Height        float64
	DimensionUnit DimensionUnit
	Weight        float64
	WeightUnit    WeightUnit
	Description   string
	DeclaredValue Money
}

// Money represents a monetary amount.
type Money struct {
	Amount   float64
	Currency string
}

// QuoteRequest is the normalized shipment parameter set fanned out to
// carriers. Immutable once built.
type QuoteRequest struct {
	Origin       Address
	Destination  Address
	Packages     []Package
	ServiceLevel ServiceLevel
	Currency     string // currency quotes should be normalized into
}

// TotalWeightKG returns the combined package weight in kilograms.
func (r *QuoteRequest) TotalWeightKG() float64 {
	var total float64
	for _, p := range r.Packages {
		w := p.Weight
		if p.WeightUnit == WeightLB {
			w *= 0.453592
		}
		total += w
	}
	return total
}

// PriceComponent is one line of a quote's price breakdown.
type PriceComponent struct {
	Code   string
	Amount Money
}

// Quote is a priced, time-bounded shipping offer from one carrier.
//
// Ref is a carrier-opaque reference token needed to book a label later;
// it is single-use by carrier-side contract.
type Quote struct {
	ID          string
	Carrier     string
	ServiceCode string
	ServiceName string
	TotalPrice  Money
	Breakdown   []PriceComponent
	TransitDays int
	ValidUntil  time.Time
	Ref         string

	// Score and Recommended are set by the aggregator, not adapters.
	Score       float64
	Recommended bool
}

// Expired reports whether the quote's validity window has elapsed.
func (q *Quote) Expired(now time.Time) bool {
	return !q.ValidUntil.IsZero() && now.After(q.ValidUntil)
}

// Label is the carrier-generated label artifact.
type Label struct {
	Format LabelFormat
	Data   []byte // raw artifact bytes
	URL    string // carrier-hosted alternative, when offered
}

// ShipmentDetails carries booking information beyond what the quote holds.
type ShipmentDetails struct {
	Sender           Contact
	SenderAddress    Address
	Recipient        Contact
	RecipientAddress Address
	Packages         []Package
	OrderRef         string
	Instructions     string
	LabelFormat      LabelFormat
}

// Shipment is a booked label. Immutable after creation except Cancelled.
type Shipment struct {
	TrackingNumber string
	Carrier        string
	ServiceName    string
	Label          Label
	Cost           Money
	CreatedAt      time.Time
	OrderRef       string
	Cancelled      bool
}

// TrackingEvent is one entry in a shipment's append-only event log.
// NativeStatus preserves the carrier's own vocabulary for audit.
type TrackingEvent struct {
	TrackingNumber string
	Status         Status
	NativeStatus   string
	Description    string
	Location       string
	Timestamp      time.Time
	Source         EventSource
}

// WebhookDelivery is the decoded form of one inbound carrier webhook.
// EventID is the carrier-provided delivery identifier when the carrier
// supplies one; empty otherwise.
type WebhookDelivery struct {
	EventID string
	Event   TrackingEvent
}

// PickupRequest asks a carrier to collect packages at an address.
type PickupRequest struct {
	Address      Address
	Contact      Contact
	Packages     []Package
	Date         time.Time
	ReadyTime    string // HH:MM
	CloseTime    string // HH:MM
	Instructions string
}

// Pickup is a confirmed pickup booking.
type Pickup struct {
	ConfirmationID string
	Carrier        string
	Date           time.Time
	Window         string
}

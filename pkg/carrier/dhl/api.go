package dhl

import (
	"context"
	"fmt"
)

// APIClient defines the interface for DHL Express API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// GetToken exchanges client credentials for an OAuth2 access token
	GetToken(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error)

	// GetRates fetches product rates for a shipment
	GetRates(ctx context.Context, token string, req *RatesRequest) (*RatesResponse, error)

	// CreateShipment books a shipment and returns the label
	CreateShipment(ctx context.Context, token string, req *ShipmentRequest) (*ShipmentResponse, error)

	// GetTracking retrieves tracking events for a shipment
	GetTracking(ctx context.Context, token string, trackingNumber string) (*TrackingResponse, error)

	// CancelShipment voids a booked shipment
	CancelShipment(ctx context.Context, token string, trackingNumber string) error

	// SchedulePickup books a courier pickup
	SchedulePickup(ctx context.Context, token string, req *PickupRequest) (*PickupResponse, error)
}

// ============================================================================
// API Request/Response Types (match MyDHL API Express structure)
// ============================================================================

// TokenResponse is the OAuth2 token grant response.
// POST /auth/v1/token (grant_type=client_credentials)
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// RatesRequest represents a DHL rating request.
// POST /rates endpoint
type RatesRequest struct {
	CustomerDetails CustomerDetails `json:"customerDetails"`
	PlannedShipping string          `json:"plannedShippingDateAndTime"` // RFC3339
	UnitOfMeasure   string          `json:"unitOfMeasurement"`          // "metric" or "imperial"
	IsCustomsDecl   bool            `json:"isCustomsDeclarable"`
	Packages        []Package       `json:"packages"`
}

// CustomerDetails groups shipper and receiver addresses.
type CustomerDetails struct {
	ShipperDetails  PostalAddress `json:"shipperDetails"`
	ReceiverDetails PostalAddress `json:"receiverDetails"`
}

// PostalAddress is a DHL address block.
type PostalAddress struct {
	PostalCode  string `json:"postalCode"`
	CityName    string `json:"cityName"`
	CountryCode string `json:"countryCode"`
	AddressLine string `json:"addressLine1,omitempty"`
}

// Package is one piece in a rating or shipment request.
type Package struct {
	Weight     float64    `json:"weight"` // kg
	Dimensions Dimensions `json:"dimensions"`
}

// Dimensions in centimeters.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RatesResponse represents the DHL rating response.
type RatesResponse struct {
	Products []Product `json:"products"`
}

// Product is one priced service option.
type Product struct {
	ProductName  string       `json:"productName"`
	ProductCode  string       `json:"productCode"`
	TotalPrice   []Price      `json:"totalPrice"`
	Breakdown    []PriceItem  `json:"detailedPriceBreakdown,omitempty"`
	DeliveryCaps DeliveryCaps `json:"deliveryCapabilities"`
	PricingDate  string       `json:"pricingDate,omitempty"`
}

// Price is a currency-qualified amount.
type Price struct {
	CurrencyType string  `json:"currencyType"` // "BILLC", "PULCL", "BASEC"
	Currency     string  `json:"priceCurrency"`
	Price        float64 `json:"price"`
}

// PriceItem is one line of the detailed breakdown.
type PriceItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// DeliveryCaps carries transit estimates for a product.
type DeliveryCaps struct {
	EstimatedDelivery string `json:"estimatedDeliveryDateAndTime"`
	TotalTransitDays  int    `json:"totalTransitDays"`
}

// ShipmentRequest represents a DHL shipment creation request.
// POST /shipments endpoint
type ShipmentRequest struct {
	PlannedShipping string          `json:"plannedShippingDateAndTime"`
	ProductCode     string          `json:"productCode"`
	RateRef         string          `json:"rateRequestId,omitempty"` // quote redemption reference
	Pickup          *PickupDetails  `json:"pickup,omitempty"`
	OutputImage     OutputImage     `json:"outputImageProperties"`
	CustomerDetails ContactDetails  `json:"customerDetails"`
	Content         ShipmentContent `json:"content"`
	CustomerRefs    []CustomerRef   `json:"customerReferences,omitempty"`
}

// PickupDetails requests pickup as part of shipment creation.
type PickupDetails struct {
	IsRequested bool   `json:"isRequested"`
	CloseTime   string `json:"closeTime,omitempty"` // HH:MM
}

// OutputImage controls the label artifact format.
type OutputImage struct {
	Encoding string `json:"encodingFormat"` // "pdf", "zpl"
	DPI      int    `json:"printerDPI,omitempty"`
}

// ContactDetails groups full shipper and receiver records.
type ContactDetails struct {
	ShipperDetails  Party `json:"shipperDetails"`
	ReceiverDetails Party `json:"receiverDetails"`
}

// Party is an address plus contact person.
type Party struct {
	PostalAddress PostalAddress `json:"postalAddress"`
	ContactInfo   ContactInfo   `json:"contactInformation"`
}

// ContactInfo identifies the person at a party.
type ContactInfo struct {
	FullName    string `json:"fullName"`
	CompanyName string `json:"companyName,omitempty"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
}

// ShipmentContent describes the pieces being shipped.
type ShipmentContent struct {
	Packages      []Package `json:"packages"`
	IsCustomsDecl bool      `json:"isCustomsDeclarable"`
	Description   string    `json:"description"`
	Incoterm      string    `json:"incoterm,omitempty"`
	UnitOfMeasure string    `json:"unitOfMeasurement"`
}

// CustomerRef attaches caller references to the shipment.
type CustomerRef struct {
	Value    string `json:"value"`
	TypeCode string `json:"typeCode"` // "CU" = customer reference
}

// ShipmentResponse represents the DHL shipment creation response.
type ShipmentResponse struct {
	TrackingNumber string     `json:"shipmentTrackingNumber"`
	TrackingURL    string     `json:"trackingUrl,omitempty"`
	Documents      []Document `json:"documents"`
	ShipmentCharge []Price    `json:"shipmentCharges,omitempty"`
}

// Document is one generated artifact (label, invoice, receipt).
type Document struct {
	TypeCode    string `json:"typeCode"`    // "label", "invoice"
	ImageFormat string `json:"imageFormat"` // "PDF", "ZPL"
	Content     string `json:"content"`     // base64
}

// TrackingResponse represents shipment tracking information.
// GET /shipments/{trackingNumber}/tracking
type TrackingResponse struct {
	Shipments []TrackedShipment `json:"shipments"`
}

// TrackedShipment is the event history for one tracking number.
type TrackedShipment struct {
	TrackingNumber string  `json:"shipmentTrackingNumber"`
	Status         string  `json:"status"`
	Events         []Event `json:"events"`
}

// Event is one tracking scan.
type Event struct {
	Date        string `json:"date"`     // YYYY-MM-DD
	Time        string `json:"time"`     // HH:MM:SS
	TypeCode    string `json:"typeCode"` // PU, AF, OD, OK, RT...
	Description string `json:"description"`
	Location    string `json:"serviceArea,omitempty"`
}

// PickupRequest books a courier pickup.
// POST /pickups endpoint
type PickupRequest struct {
	PlannedPickup string    `json:"plannedPickupDateAndTime"` // RFC3339
	CloseTime     string    `json:"closeTime"`                // HH:MM
	Location      Party     `json:"customerDetails"`
	Packages      []Package `json:"packages"`
	Remark        string    `json:"specialInstructions,omitempty"`
}

// PickupResponse confirms a booked pickup.
type PickupResponse struct {
	ConfirmationNumbers []string `json:"dispatchConfirmationNumbers"`
	ReadyByTime         string   `json:"readyByTime,omitempty"`
	NextPickupDate      string   `json:"nextPickupDate,omitempty"`
}

// WebhookPayload is the push notification body DHL posts for shipment
// events.
type WebhookPayload struct {
	EventID        string `json:"eventId"`
	TrackingNumber string `json:"trackingNumber"`
	Status         string `json:"status"` // typeCode vocabulary
	Description    string `json:"description"`
	Location       string `json:"location,omitempty"`
	Timestamp      string `json:"timestamp"` // RFC3339
}

// APIError represents an error from the DHL API.
type APIError struct {
	StatusCode int    `json:"-"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP_%d: %s: %s", e.StatusCode, e.Title, e.Detail)
}

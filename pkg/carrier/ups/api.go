package ups

import (
	"context"
	"fmt"
)

// APIClient defines the interface for UPS API operations.
type APIClient interface {
	// GetToken exchanges client credentials for an OAuth2 access token
	GetToken(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error)

	// ShopRates fetches rates for all available services
	ShopRates(ctx context.Context, token string, req *RateRequest) (*RateResponse, error)

	// CreateShipment books a shipment and returns the label
	CreateShipment(ctx context.Context, token string, req *ShipRequest) (*ShipResponse, error)

	// GetTracking retrieves tracking activity for a shipment
	GetTracking(ctx context.Context, token string, trackingNumber string) (*TrackResponse, error)

	// VoidShipment cancels a booked shipment
	VoidShipment(ctx context.Context, token string, trackingNumber string) error
}

// ============================================================================
// API Request/Response Types (match UPS REST API structure)
// ============================================================================

// TokenResponse is the OAuth2 token grant response.
// POST /security/v1/oauth/token
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   string `json:"expires_in"` // UPS returns seconds as a string
}

// RateRequest represents a UPS Shop rating request.
// POST /api/rating/v2403/Shop
type RateRequest struct {
	Shipment RateShipment `json:"Shipment"`
}

// RateShipment describes the shipment being priced.
type RateShipment struct {
	Shipper   RateParty     `json:"Shipper"`
	ShipTo    RateParty     `json:"ShipTo"`
	Packages  []RatePackage `json:"Package"`
}

// RateParty is a rating address.
type RateParty struct {
	Name    string      `json:"Name,omitempty"`
	Address RateAddress `json:"Address"`
}

// RateAddress is a UPS address block.
type RateAddress struct {
	AddressLine       []string `json:"AddressLine,omitempty"`
	City              string   `json:"City"`
	StateProvinceCode string   `json:"StateProvinceCode,omitempty"`
	PostalCode        string   `json:"PostalCode"`
	CountryCode       string   `json:"CountryCode"`
}

// RatePackage is one piece in the rating request.
type RatePackage struct {
	PackagingType CodeDescription `json:"PackagingType"`
	Dimensions    RateDimensions  `json:"Dimensions"`
	PackageWeight RateWeight      `json:"PackageWeight"`
}

// CodeDescription is UPS's code+description pair.
type CodeDescription struct {
	Code        string `json:"Code"`
	Description string `json:"Description,omitempty"`
}

// RateDimensions in the stated unit.
type RateDimensions struct {
	UnitOfMeasurement CodeDescription `json:"UnitOfMeasurement"`
	Length            string          `json:"Length"`
	Width             string          `json:"Width"`
	Height            string          `json:"Height"`
}

// RateWeight is a unit-qualified weight.
type RateWeight struct {
	UnitOfMeasurement CodeDescription `json:"UnitOfMeasurement"`
	Weight            string          `json:"Weight"`
}

// RateResponse represents the UPS Shop rating response.
type RateResponse struct {
	RateResponse RateResponseBody `json:"RateResponse"`
}

// RateResponseBody wraps the rated shipments.
type RateResponseBody struct {
	RatedShipments []RatedShipment `json:"RatedShipment"`
}

// RatedShipment is one priced service option.
type RatedShipment struct {
	Service            CodeDescription `json:"Service"`
	TotalCharges       Charges         `json:"TotalCharges"`
	GuaranteedDelivery *Guaranteed     `json:"GuaranteedDelivery,omitempty"`
}

// Charges is a currency-qualified amount.
type Charges struct {
	CurrencyCode  string `json:"CurrencyCode"`
	MonetaryValue string `json:"MonetaryValue"`
}

// Guaranteed carries transit commitment information.
type Guaranteed struct {
	BusinessDaysInTransit string `json:"BusinessDaysInTransit,omitempty"`
}

// ShipRequest represents a UPS shipment creation request.
// POST /api/shipments/v2403/ship
type ShipRequest struct {
	ShipmentRequest ShipmentRequestBody `json:"ShipmentRequest"`
}

// ShipmentRequestBody wraps the shipment and label spec.
type ShipmentRequestBody struct {
	Shipment           ShipShipment       `json:"Shipment"`
	LabelSpecification LabelSpecification `json:"LabelSpecification"`
}

// ShipShipment describes the shipment being booked.
type ShipShipment struct {
	Description string        `json:"Description,omitempty"`
	Shipper     ShipParty     `json:"Shipper"`
	ShipTo      ShipParty     `json:"ShipTo"`
	Service     CodeDescription `json:"Service"`
	Packages    []RatePackage `json:"Package"`
	ReferenceNumber []CodeValue `json:"ReferenceNumber,omitempty"`
}

// ShipParty is a full shipping party.
type ShipParty struct {
	Name          string      `json:"Name"`
	AttentionName string      `json:"AttentionName,omitempty"`
	Phone         ShipPhone   `json:"Phone"`
	Address       RateAddress `json:"Address"`
}

// ShipPhone wraps a phone number.
type ShipPhone struct {
	Number string `json:"Number"`
}

// CodeValue attaches caller references.
type CodeValue struct {
	Code  string `json:"Code"`
	Value string `json:"Value"`
}

// LabelSpecification controls the label artifact.
type LabelSpecification struct {
	LabelImageFormat CodeDescription `json:"LabelImageFormat"`
}

// ShipResponse represents the UPS shipment creation response.
type ShipResponse struct {
	ShipmentResponse ShipmentResponseBody `json:"ShipmentResponse"`
}

// ShipmentResponseBody wraps the shipment results.
type ShipmentResponseBody struct {
	ShipmentResults ShipmentResults `json:"ShipmentResults"`
}

// ShipmentResults carries the tracking number, charges, and labels.
type ShipmentResults struct {
	ShipmentIdentificationNumber string          `json:"ShipmentIdentificationNumber"`
	ShipmentCharges              *ShipmentCharges `json:"ShipmentCharges,omitempty"`
	PackageResults               []PackageResult `json:"PackageResults"`
}

// ShipmentCharges is the total charge block.
type ShipmentCharges struct {
	TotalCharges Charges `json:"TotalCharges"`
}

// PackageResult is one labelled piece.
type PackageResult struct {
	TrackingNumber string        `json:"TrackingNumber"`
	ShippingLabel  ShippingLabel `json:"ShippingLabel"`
}

// ShippingLabel is the label artifact.
type ShippingLabel struct {
	ImageFormat   CodeDescription `json:"ImageFormat"`
	GraphicImage  string          `json:"GraphicImage"` // base64
}

// TrackResponse represents tracking information.
// GET /api/track/v1/details/{trackingNumber}
type TrackResponse struct {
	TrackResponse TrackResponseBody `json:"trackResponse"`
}

// TrackResponseBody wraps the tracked shipments.
type TrackResponseBody struct {
	Shipment []TrackShipment `json:"shipment"`
}

// TrackShipment holds the packages for one inquiry.
type TrackShipment struct {
	Package []TrackPackage `json:"package"`
}

// TrackPackage is one tracked parcel.
type TrackPackage struct {
	TrackingNumber string     `json:"trackingNumber"`
	Activity       []Activity `json:"activity"`
}

// Activity is one tracking scan.
type Activity struct {
	Status   ActivityStatus   `json:"status"`
	Location ActivityLocation `json:"location"`
	Date     string           `json:"date"` // YYYYMMDD
	Time     string           `json:"time"` // HHMMSS
}

// ActivityStatus carries the scan type and description.
type ActivityStatus struct {
	Type        string `json:"type"` // "M", "P", "I", "O", "D", "X", "RS"
	Description string `json:"description"`
	Code        string `json:"code,omitempty"`
}

// ActivityLocation is where the scan happened.
type ActivityLocation struct {
	Address RateAddress `json:"address"`
}

// WebhookPayload is the push notification body UPS posts for tracking
// events.
type WebhookPayload struct {
	DeliveryID     string `json:"deliveryId"`
	TrackingNumber string `json:"trackingNumber"`
	ActivityType   string `json:"activityType"`
	Description    string `json:"description,omitempty"`
	Location       string `json:"location,omitempty"`
	ActivityAt     string `json:"activityTimestamp"` // RFC3339
}

// APIError represents an error from the UPS API.
type APIError struct {
	StatusCode int `json:"-"`
	Response   struct {
		Errors []ErrorItem `json:"errors"`
	} `json:"response"`
}

// ErrorItem is one error entry in a UPS error response.
type ErrorItem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if len(e.Response.Errors) > 0 {
		return fmt.Sprintf("HTTP_%d: %s: %s", e.StatusCode, e.Response.Errors[0].Code, e.Response.Errors[0].Message)
	}
	return fmt.Sprintf("HTTP_%d", e.StatusCode)
}

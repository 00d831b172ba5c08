package fedex

import (
	"context"
	"fmt"
)

// APIClient defines the interface for FedEx API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// GetToken exchanges client credentials for an OAuth2 access token
	GetToken(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error)

	// GetRates fetches rate quotes for a shipment
	GetRates(ctx context.Context, token string, req *RatesRequest) (*RatesResponse, error)

	// CreateShipment books a shipment and returns the label
	CreateShipment(ctx context.Context, token string, req *ShipmentRequest) (*ShipmentResponse, error)

	// GetTracking retrieves tracking events for a shipment
	GetTracking(ctx context.Context, token string, trackingNumber string) (*TrackingResponse, error)

	// CancelShipment voids a booked shipment
	CancelShipment(ctx context.Context, token string, trackingNumber string) (*CancelResponse, error)
}

// ============================================================================
// API Request/Response Types (match FedEx REST API structure)
// ============================================================================

// TokenResponse is the OAuth2 token grant response.
// POST /oauth/token (grant_type=client_credentials)
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
	Scope       string `json:"scope,omitempty"`
}

// RatesRequest represents a FedEx rate quote request.
// POST /rate/v1/rates/quotes
type RatesRequest struct {
	AccountNumber      AccountNumber      `json:"accountNumber"`
	RequestedShipment  RequestedShipment  `json:"requestedShipment"`
	RateRequestControl RateRequestControl `json:"rateRequestControlParameters,omitempty"`
}

// AccountNumber wraps the FedEx account identifier.
type AccountNumber struct {
	Value string `json:"value"`
}

// RequestedShipment describes the shipment being priced or booked.
type RequestedShipment struct {
	Shipper               Party              `json:"shipper"`
	Recipient             Party              `json:"recipient"`
	ServiceType           string             `json:"serviceType,omitempty"`
	PackagingType         string             `json:"packagingType"`
	PickupType            string             `json:"pickupType"`
	RateTypes             []string           `json:"rateRequestType,omitempty"`
	RequestedPackages     []RequestedPackage `json:"requestedPackageLineItems"`
	LabelSpecification    *LabelSpec         `json:"labelSpecification,omitempty"`
	ShippingChargesPayment *Payment          `json:"shippingChargesPayment,omitempty"`
}

// Party is an address plus optional contact.
type Party struct {
	Address Address  `json:"address"`
	Contact *Contact `json:"contact,omitempty"`
}

// Address is a FedEx address block.
type Address struct {
	StreetLines []string `json:"streetLines,omitempty"`
	City        string   `json:"city"`
	StateCode   string   `json:"stateOrProvinceCode,omitempty"`
	PostalCode  string   `json:"postalCode"`
	CountryCode string   `json:"countryCode"`
	Residential bool     `json:"residential,omitempty"`
}

// Contact identifies a person at a party.
type Contact struct {
	PersonName  string `json:"personName"`
	CompanyName string `json:"companyName,omitempty"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"emailAddress,omitempty"`
}

// RequestedPackage is one piece in the shipment.
type RequestedPackage struct {
	Weight     Weight      `json:"weight"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
}

// Weight is a unit-qualified weight.
type Weight struct {
	Units string  `json:"units"` // "KG" or "LB"
	Value float64 `json:"value"`
}

// Dimensions in the stated unit.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Units  string  `json:"units"` // "CM" or "IN"
}

// LabelSpec controls the label artifact.
type LabelSpec struct {
	ImageType string `json:"imageType"` // "PDF", "ZPL", "PNG"
	StockType string `json:"labelStockType"`
}

// Payment designates who pays shipping charges.
type Payment struct {
	PaymentType string `json:"paymentType"` // "SENDER"
}

// RateRequestControl tunes the rate response.
type RateRequestControl struct {
	ReturnTransitTimes bool `json:"returnTransitTimes"`
}

// RatesResponse represents the FedEx rate quote response.
type RatesResponse struct {
	Output RatesOutput `json:"output"`
}

// RatesOutput wraps the rate reply details.
type RatesOutput struct {
	RateReplyDetails []RateReplyDetail `json:"rateReplyDetails"`
	QuoteDate        string            `json:"quoteDate,omitempty"`
}

// RateReplyDetail is one priced service option.
type RateReplyDetail struct {
	ServiceType        string              `json:"serviceType"`
	ServiceName        string              `json:"serviceName"`
	RatedShipments     []RatedShipment     `json:"ratedShipmentDetails"`
	Commit             *CommitDetail       `json:"commit,omitempty"`
	OperationalDetail  *OperationalDetail  `json:"operationalDetail,omitempty"`
}

// RatedShipment is the charge summary for one rate type.
type RatedShipment struct {
	RateType       string       `json:"rateType"` // "ACCOUNT", "LIST"
	TotalNetCharge float64      `json:"totalNetCharge"`
	Currency       string       `json:"currency"`
	Surcharges     []Surcharge  `json:"shipmentRateDetail,omitempty"`
}

// Surcharge is one additional charge line.
type Surcharge struct {
	Type   string  `json:"surchargeType"`
	Amount float64 `json:"amount"`
}

// CommitDetail carries delivery commitment information.
type CommitDetail struct {
	DateDetail CommitDate `json:"dateDetail"`
}

// CommitDate is the committed delivery day.
type CommitDate struct {
	DayOfWeek string `json:"dayOfWeek,omitempty"`
	DayFormat string `json:"dayCxsFormat,omitempty"` // RFC3339
}

// OperationalDetail carries transit time.
type OperationalDetail struct {
	TransitTime string `json:"transitTime,omitempty"` // "THREE_DAYS"
}

// ShipmentRequest represents a FedEx shipment creation request.
// POST /ship/v1/shipments
type ShipmentRequest struct {
	AccountNumber     AccountNumber     `json:"accountNumber"`
	RequestedShipment RequestedShipment `json:"requestedShipment"`
	ShipAction        string            `json:"shipAction,omitempty"` // "CONFIRM"
}

// ShipmentResponse represents the FedEx shipment creation response.
type ShipmentResponse struct {
	Output ShipmentOutput `json:"output"`
}

// ShipmentOutput wraps the transaction shipments.
type ShipmentOutput struct {
	TransactionShipments []TransactionShipment `json:"transactionShipments"`
}

// TransactionShipment is one booked shipment.
type TransactionShipment struct {
	MasterTrackingNumber string         `json:"masterTrackingNumber"`
	ServiceName          string         `json:"serviceName"`
	PieceResponses       []PieceResponse `json:"pieceResponses"`
	TotalNetCharge       float64        `json:"totalNetCharge,omitempty"`
	Currency             string         `json:"currency,omitempty"`
}

// PieceResponse is one labelled piece.
type PieceResponse struct {
	TrackingNumber  string          `json:"trackingNumber"`
	PackageDocuments []PackageDocument `json:"packageDocuments"`
}

// PackageDocument is a generated label artifact.
type PackageDocument struct {
	ContentType string `json:"contentType"` // "LABEL"
	DocType     string `json:"docType"`     // "PDF", "ZPL"
	EncodedLabel string `json:"encodedLabel"` // base64
	URL         string `json:"url,omitempty"`
}

// TrackingResponse represents tracking information.
// POST /track/v1/trackingnumbers
type TrackingResponse struct {
	Output TrackingOutput `json:"output"`
}

// TrackingOutput wraps the complete track results.
type TrackingOutput struct {
	CompleteTrackResults []CompleteTrackResult `json:"completeTrackResults"`
}

// CompleteTrackResult is the result set for one tracking number.
type CompleteTrackResult struct {
	TrackingNumber string        `json:"trackingNumber"`
	TrackResults   []TrackResult `json:"trackResults"`
}

// TrackResult is one tracked parcel's state and history.
type TrackResult struct {
	LatestStatusDetail StatusDetail `json:"latestStatusDetail"`
	ScanEvents         []ScanEvent  `json:"scanEvents"`
}

// StatusDetail is the current status summary.
type StatusDetail struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ScanEvent is one tracking scan.
type ScanEvent struct {
	Date             string       `json:"date"` // RFC3339
	EventType        string       `json:"eventType"`
	EventDescription string       `json:"eventDescription"`
	ScanLocation     ScanLocation `json:"scanLocation"`
}

// ScanLocation is where a scan happened.
type ScanLocation struct {
	City        string `json:"city"`
	StateCode   string `json:"stateOrProvinceCode,omitempty"`
	CountryCode string `json:"countryCode"`
}

// CancelResponse represents the shipment cancellation response.
// PUT /ship/v1/shipments/cancel
type CancelResponse struct {
	Output CancelOutput `json:"output"`
}

// CancelOutput reports whether the cancellation took effect.
type CancelOutput struct {
	CancelledShipment bool `json:"cancelledShipment"`
}

// WebhookPayload is the push notification body FedEx posts for tracking
// events.
type WebhookPayload struct {
	NotificationID   string `json:"notificationId"`
	TrackingNumber   string `json:"trackingNumber"`
	EventType        string `json:"eventType"`
	EventDescription string `json:"eventDescription,omitempty"`
	Location         string `json:"location,omitempty"`
	OccurredAt       string `json:"occurredAt"` // RFC3339
}

// APIError represents an error from the FedEx API.
type APIError struct {
	StatusCode int         `json:"-"`
	Errors     []ErrorItem `json:"errors"`
}

// ErrorItem is one error entry in a FedEx error response.
type ErrorItem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("HTTP_%d: %s: %s", e.StatusCode, e.Errors[0].Code, e.Errors[0].Message)
	}
	return fmt.Sprintf("HTTP_%d", e.StatusCode)
}

package servientrega

import (
	"context"
	"fmt"
)

// APIClient defines the interface for Servientrega web service operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// Login exchanges the account credentials for a service token
	Login(ctx context.Context, user, password string) (*LoginResponse, error)

	// GetQuote fetches liquidation prices for a shipment
	GetQuote(ctx context.Context, token string, req *QuoteRequest) (*QuoteResponse, error)

	// CreateGuide generates a shipping guide (waybill) with label
	CreateGuide(ctx context.Context, token string, req *GuideRequest) (*GuideResponse, error)

	// GetTracking retrieves guide movements
	GetTracking(ctx context.Context, token string, guideNumber string) (*TrackingResponse, error)

	// CancelGuide annuls a generated guide
	CancelGuide(ctx context.Context, token string, guideNumber string) error

	// SchedulePickup books a collection at origin
	SchedulePickup(ctx context.Context, token string, req *PickupRequest) (*PickupResponse, error)
}

// ============================================================================
// API Request/Response Types (Servientrega SOAP web service)
// ============================================================================

// LoginResponse carries the service token issued by GeneraToken.
type LoginResponse struct {
	Token        string
	LifetimeSecs int
}

// QuoteRequest represents a Servientrega liquidation request.
type QuoteRequest struct {
	OriginCity       string  // DANE city code or name
	OriginCountry    string
	DestCity         string
	DestCountry      string
	Pieces           int
	WeightKG         float64
	HeightCM         float64
	LengthCM         float64
	WidthCM          float64
	DeclaredValue    float64
}

// QuoteResponse represents the liquidation response.
type QuoteResponse struct {
	Options []QuoteOption
}

// QuoteOption is one priced product.
type QuoteOption struct {
	ProductCode  string
	ProductName  string
	Total        float64
	Currency     string
	DeliveryDays int
}

// GuideRequest represents a guide generation request.
type GuideRequest struct {
	ProductCode     string
	Quote           QuoteRequest
	SenderName      string
	SenderPhone     string
	SenderAddress   string
	ReceiverName    string
	ReceiverPhone   string
	ReceiverAddress string
	Reference       string
	Observations    string
}

// GuideResponse represents the generated guide.
type GuideResponse struct {
	GuideNumber string
	Total       float64
	Currency    string
	LabelData   string // base64 PDF
}

// TrackingResponse represents guide movement history.
type TrackingResponse struct {
	GuideNumber string
	State       string
	Movements   []Movement
}

// Movement is one tracked guide movement.
type Movement struct {
	State       string // Servientrega state vocabulary, Spanish
	Description string
	City        string
	Date        string // "2006-01-02 15:04:05"
}

// PickupRequest books a collection.
type PickupRequest struct {
	Address      string
	City         string
	ContactName  string
	ContactPhone string
	Date         string // YYYY-MM-DD
	TimeWindow   string // "08:00-12:00"
	Pieces       int
	Observations string
}

// PickupResponse confirms a booked collection.
type PickupResponse struct {
	Confirmation string
}

// WebhookPayload is the notification body Servientrega posts for guide
// movements.
type WebhookPayload struct {
	IDNovedad   string `json:"idNovedad"`
	NumeroGuia  string `json:"numeroGuia"`
	Estado      string `json:"estado"`
	Descripcion string `json:"descripcion,omitempty"`
	Ciudad      string `json:"ciudad,omitempty"`
	Fecha       string `json:"fecha"` // RFC3339
}

// APIError represents an error from the Servientrega web service.
type APIError struct {
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

package interrapidisimo

import (
	"context"
	"fmt"
)

// APIClient defines the interface for InterRapidísimo API operations.
type APIClient interface {
	// GetQuote fetches shipping prices
	GetQuote(ctx context.Context, apiKey string, req *QuoteRequest) (*QuoteResponse, error)

	// CreateShipment generates a shipment with label
	CreateShipment(ctx context.Context, apiKey string, req *ShipmentRequest) (*ShipmentResponse, error)

	// GetTracking retrieves shipment states
	GetTracking(ctx context.Context, apiKey string, shipmentNumber string) (*TrackingResponse, error)

	// SchedulePickup books a collection at origin
	SchedulePickup(ctx context.Context, apiKey string, req *PickupRequest) (*PickupResponse, error)
}

// ============================================================================
// API Request/Response Types (InterRapidísimo REST API)
// ============================================================================

// QuoteRequest represents a price inquiry.
// POST /api/cotizar
type QuoteRequest struct {
	OriginCity      string  `json:"ciudadOrigen"`
	DestCity        string  `json:"ciudadDestino"`
	Pieces          int     `json:"numeroPiezas"`
	WeightKG        float64 `json:"peso"`
	DeclaredValue   float64 `json:"valorDeclarado"`
	PickupPointCode string  `json:"codigoPuntoEntrega,omitempty"` // deliver to pickup point
}

// QuoteResponse represents the price inquiry response.
type QuoteResponse struct {
	Services []Service `json:"servicios"`
}

// Service is one priced service option.
type Service struct {
	Code         string  `json:"codigo"`
	Name         string  `json:"nombre"`
	Total        float64 `json:"valorTotal"`
	Currency     string  `json:"moneda"`
	DeliveryDays int     `json:"diasEntrega"`
}

// ShipmentRequest represents a shipment creation request.
// POST /api/envios
type ShipmentRequest struct {
	ServiceCode     string  `json:"codigoServicio"`
	OriginCity      string  `json:"ciudadOrigen"`
	DestCity        string  `json:"ciudadDestino"`
	Pieces          int     `json:"numeroPiezas"`
	WeightKG        float64 `json:"peso"`
	DeclaredValue   float64 `json:"valorDeclarado"`
	SenderName      string  `json:"nombreRemitente"`
	SenderPhone     string  `json:"telefonoRemitente"`
	SenderAddress   string  `json:"direccionRemitente"`
	ReceiverName    string  `json:"nombreDestinatario"`
	ReceiverPhone   string  `json:"telefonoDestinatario"`
	ReceiverAddress string  `json:"direccionDestinatario"`
	Reference       string  `json:"referencia,omitempty"`
	PickupPointCode string  `json:"codigoPuntoEntrega,omitempty"`
}

// ShipmentResponse represents the shipment creation response.
type ShipmentResponse struct {
	ShipmentNumber string  `json:"numeroEnvio"`
	Total          float64 `json:"valorTotal"`
	Currency       string  `json:"moneda"`
	LabelURL       string  `json:"urlRotulo"`
}

// TrackingResponse represents shipment state history.
// GET /api/envios/{shipmentNumber}/estados
type TrackingResponse struct {
	ShipmentNumber string  `json:"numeroEnvio"`
	States         []State `json:"estados"`
}

// State is one tracked shipment state.
type State struct {
	Code        string `json:"codigo"` // vocabulary below
	Description string `json:"descripcion"`
	City        string `json:"ciudad,omitempty"`
	PickupPoint string `json:"puntoEntrega,omitempty"`
	Date        string `json:"fecha"` // RFC3339
}

// PickupRequest books a collection.
// POST /api/recolecciones
type PickupRequest struct {
	Address      string `json:"direccion"`
	City         string `json:"ciudad"`
	ContactName  string `json:"nombreContacto"`
	ContactPhone string `json:"telefonoContacto"`
	Date         string `json:"fecha"`  // YYYY-MM-DD
	TimeWindow   string `json:"franja"` // "08:00-12:00"
	Pieces       int    `json:"numeroPiezas"`
}

// PickupResponse confirms a booked collection.
type PickupResponse struct {
	Confirmation string `json:"numeroRecoleccion"`
}

// WebhookPayload is the notification body InterRapidísimo posts for
// shipment states.
type WebhookPayload struct {
	EventID        string `json:"idEvento"`
	ShipmentNumber string `json:"numeroEnvio"`
	StateCode      string `json:"codigoEstado"`
	Description    string `json:"descripcion,omitempty"`
	City           string `json:"ciudad,omitempty"`
	Date           string `json:"fecha"` // RFC3339
}

// APIError represents an error from the InterRapidísimo API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"codigo"`
	Message    string `json:"mensaje"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP_%d: %s: %s", e.StatusCode, e.Code, e.Message)
}

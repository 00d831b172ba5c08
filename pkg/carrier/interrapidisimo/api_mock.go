package interrapidisimo

import (
	"context"
	"fmt"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetQuote       func(ctx context.Context, apiKey string, req *QuoteRequest) (*QuoteResponse, error)
	OnCreateShipment func(ctx context.Context, apiKey string, req *ShipmentRequest) (*ShipmentResponse, error)
	OnGetTracking    func(ctx context.Context, apiKey string, shipmentNumber string) (*TrackingResponse, error)
	OnSchedulePickup func(ctx context.Context, apiKey string, req *PickupRequest) (*PickupResponse, error)
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

func (m *MockAPIClient) simulate() error {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return &APIError{StatusCode: 503, Code: "MOCK_ERROR", Message: "Simulated API error"}
	}
	return nil
}

// GetQuote returns mock shipping prices.
func (m *MockAPIClient) GetQuote(ctx context.Context, apiKey string, req *QuoteRequest) (*QuoteResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetQuote != nil {
		return m.OnGetQuote(ctx, apiKey, req)
	}

	return &QuoteResponse{
		Services: []Service{
			{Code: "ESTANDAR", Name: "Envío Estándar", Total: 11200, Currency: "COP", DeliveryDays: 3},
			{Code: "HOY", Name: "Llega Hoy", Total: 24500, Currency: "COP", DeliveryDays: 1},
		},
	}, nil
}

// CreateShipment generates a mock shipment.
func (m *MockAPIClient) CreateShipment(ctx context.Context, apiKey string, req *ShipmentRequest) (*ShipmentResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, apiKey, req)
	}

	shipmentNumber := fmt.Sprintf("IR%012d", time.Now().UnixNano()%1000000000000)
	return &ShipmentResponse{
		ShipmentNumber: shipmentNumber,
		Total:          11200,
		Currency:       "COP",
		LabelURL:       "https://api.interrapidisimo.com/rotulos/" + shipmentNumber + ".pdf",
	}, nil
}

// GetTracking returns mock shipment states.
func (m *MockAPIClient) GetTracking(ctx context.Context, apiKey string, shipmentNumber string) (*TrackingResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, apiKey, shipmentNumber)
	}

	now := time.Now()
	return &TrackingResponse{
		ShipmentNumber: shipmentNumber,
		States: []State{
			{
				Code:        "RECOGIDO",
				Description: "Envío recogido",
				City:        "BOGOTA",
				Date:        now.Add(-20 * time.Hour).Format(time.RFC3339),
			},
			{
				Code:        "EN_PUNTO",
				Description: "Disponible en punto de entrega",
				City:        "CALI",
				PickupPoint: "Punto Inter Cali Norte",
				Date:        now.Add(-2 * time.Hour).Format(time.RFC3339),
			},
		},
	}, nil
}

// SchedulePickup books a mock collection.
func (m *MockAPIClient) SchedulePickup(ctx context.Context, apiKey string, req *PickupRequest) (*PickupResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnSchedulePickup != nil {
		return m.OnSchedulePickup(ctx, apiKey, req)
	}

	return &PickupResponse{
		Confirmation: fmt.Sprintf("RC-%d", time.Now().UnixNano()%1000000),
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)

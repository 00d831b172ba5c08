package dhl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetToken       func(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error)
	OnGetRates       func(ctx context.Context, token string, req *RatesRequest) (*RatesResponse, error)
	OnCreateShipment func(ctx context.Context, token string, req *ShipmentRequest) (*ShipmentResponse, error)
	OnGetTracking    func(ctx context.Context, token string, trackingNumber string) (*TrackingResponse, error)
	OnCancelShipment func(ctx context.Context, token string, trackingNumber string) error
	OnSchedulePickup func(ctx context.Context, token string, req *PickupRequest) (*PickupResponse, error)
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
		return &APIError{StatusCode: 503, Title: "MOCK_ERROR", Detail: "Simulated API error"}
	}
	return nil
}

// GetToken returns a mock access token.
func (m *MockAPIClient) GetToken(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetToken != nil {
		return m.OnGetToken(ctx, clientID, clientSecret)
	}

	return &TokenResponse{
		AccessToken: "dhl-token-" + uuid.New().String()[:8],
		TokenType:   "Bearer",
		ExpiresIn:   3600,
	}, nil
}

// GetRates returns mock product rates.
func (m *MockAPIClient) GetRates(ctx context.Context, token string, req *RatesRequest) (*RatesResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, token, req)
	}

	delivery := time.Now().AddDate(0, 0, 3).Format(time.RFC3339)
	return &RatesResponse{
		Products: []Product{
			{
				ProductName: "EXPRESS WORLDWIDE",
				ProductCode: "P",
				TotalPrice:  []Price{{CurrencyType: "BILLC", Currency: "USD", Price: 95.00}},
				Breakdown: []PriceItem{
					{Name: "EXPRESS WORLDWIDE", Price: 82.10},
					{Name: "FUEL SURCHARGE", Price: 12.90},
				},
				DeliveryCaps: DeliveryCaps{EstimatedDelivery: delivery, TotalTransitDays: 3},
			},
			{
				ProductName: "EXPRESS 12:00",
				ProductCode: "T",
				TotalPrice:  []Price{{CurrencyType: "BILLC", Currency: "USD", Price: 128.40}},
				DeliveryCaps: DeliveryCaps{
					EstimatedDelivery: time.Now().AddDate(0, 0, 2).Format(time.RFC3339),
					TotalTransitDays:  2,
				},
			},
		},
	}, nil
}

// CreateShipment books a mock shipment.
func (m *MockAPIClient) CreateShipment(ctx context.Context, token string, req *ShipmentRequest) (*ShipmentResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, token, req)
	}

	trackingNumber := fmt.Sprintf("%d", 1000000000+time.Now().UnixNano()%9000000000)
	return &ShipmentResponse{
		TrackingNumber: trackingNumber,
		TrackingURL:    "https://www.dhl.com/track?tracking-id=" + trackingNumber,
		Documents: []Document{
			{TypeCode: "label", ImageFormat: "PDF", Content: "JVBERi0xLjQKJdP="},
		},
		ShipmentCharge: []Price{{CurrencyType: "BILLC", Currency: "USD", Price: 95.00}},
	}, nil
}

// GetTracking returns mock tracking events.
func (m *MockAPIClient) GetTracking(ctx context.Context, token string, trackingNumber string) (*TrackingResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, token, trackingNumber)
	}

	now := time.Now()
	return &TrackingResponse{
		Shipments: []TrackedShipment{
			{
				TrackingNumber: trackingNumber,
				Status:         "transit",
				Events: []Event{
					{
						Date:        now.Add(-48 * time.Hour).Format("2006-01-02"),
						Time:        "09:12:00",
						TypeCode:    "PU",
						Description: "Shipment picked up",
						Location:    "BOG",
					},
					{
						Date:        now.Add(-24 * time.Hour).Format("2006-01-02"),
						Time:        "18:40:00",
						TypeCode:    "AF",
						Description: "Arrived at DHL facility",
						Location:    "MIA",
					},
				},
			},
		},
	}, nil
}

// CancelShipment voids a mock shipment.
func (m *MockAPIClient) CancelShipment(ctx context.Context, token string, trackingNumber string) error {
	if err := m.simulate(); err != nil {
		return err
	}
	if m.OnCancelShipment != nil {
		return m.OnCancelShipment(ctx, token, trackingNumber)
	}
	return nil
}

// SchedulePickup books a mock pickup.
func (m *MockAPIClient) SchedulePickup(ctx context.Context, token string, req *PickupRequest) (*PickupResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnSchedulePickup != nil {
		return m.OnSchedulePickup(ctx, token, req)
	}

	return &PickupResponse{
		ConfirmationNumbers: []string{"PRG" + uuid.New().String()[:9]},
		ReadyByTime:         "10:00",
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)

package ups

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
	OnShopRates      func(ctx context.Context, token string, req *RateRequest) (*RateResponse, error)
	OnCreateShipment func(ctx context.Context, token string, req *ShipRequest) (*ShipResponse, error)
	OnGetTracking    func(ctx context.Context, token string, trackingNumber string) (*TrackResponse, error)
	OnVoidShipment   func(ctx context.Context, token string, trackingNumber string) error
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
		err := &APIError{StatusCode: 503}
		err.Response.Errors = []ErrorItem{{Code: "MOCK_ERROR", Message: "Simulated API error"}}
		return err
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
		AccessToken: "ups-token-" + uuid.New().String()[:8],
		TokenType:   "Bearer",
		ExpiresIn:   "14399",
	}, nil
}

// ShopRates returns mock rates.
func (m *MockAPIClient) ShopRates(ctx context.Context, token string, req *RateRequest) (*RateResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnShopRates != nil {
		return m.OnShopRates(ctx, token, req)
	}

	return &RateResponse{
		RateResponse: RateResponseBody{
			RatedShipments: []RatedShipment{
				{
					Service:            CodeDescription{Code: "08", Description: "UPS Worldwide Expedited"},
					TotalCharges:       Charges{CurrencyCode: "USD", MonetaryValue: "92.40"},
					GuaranteedDelivery: &Guaranteed{BusinessDaysInTransit: "4"},
				},
				{
					Service:            CodeDescription{Code: "07", Description: "UPS Worldwide Express"},
					TotalCharges:       Charges{CurrencyCode: "USD", MonetaryValue: "131.80"},
					GuaranteedDelivery: &Guaranteed{BusinessDaysInTransit: "2"},
				},
			},
		},
	}, nil
}

// CreateShipment books a mock shipment.
func (m *MockAPIClient) CreateShipment(ctx context.Context, token string, req *ShipRequest) (*ShipResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, token, req)
	}

	trackingNumber := fmt.Sprintf("1Z999AA1%010d", time.Now().UnixNano()%10000000000)
	return &ShipResponse{
		ShipmentResponse: ShipmentResponseBody{
			ShipmentResults: ShipmentResults{
				ShipmentIdentificationNumber: trackingNumber,
				ShipmentCharges: &ShipmentCharges{
					TotalCharges: Charges{CurrencyCode: "USD", MonetaryValue: "92.40"},
				},
				PackageResults: []PackageResult{
					{
						TrackingNumber: trackingNumber,
						ShippingLabel: ShippingLabel{
							ImageFormat:  CodeDescription{Code: "PDF"},
							GraphicImage: "JVBERi0xLjQKJdP=",
						},
					},
				},
			},
		},
	}, nil
}

// GetTracking returns mock tracking activity.
func (m *MockAPIClient) GetTracking(ctx context.Context, token string, trackingNumber string) (*TrackResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, token, trackingNumber)
	}

	now := time.Now()
	return &TrackResponse{
		TrackResponse: TrackResponseBody{
			Shipment: []TrackShipment{
				{
					Package: []TrackPackage{
						{
							TrackingNumber: trackingNumber,
							Activity: []Activity{
								{
									Status:   ActivityStatus{Type: "I", Description: "Arrived at Facility"},
									Location: ActivityLocation{Address: RateAddress{City: "Louisville", StateProvinceCode: "KY", CountryCode: "US"}},
									Date:     now.Add(-24 * time.Hour).Format("20060102"),
									Time:     "063000",
								},
								{
									Status:   ActivityStatus{Type: "P", Description: "Pickup Scan"},
									Location: ActivityLocation{Address: RateAddress{City: "Bogota", CountryCode: "CO"}},
									Date:     now.Add(-48 * time.Hour).Format("20060102"),
									Time:     "141500",
								},
							},
						},
					},
				},
			},
		},
	}, nil
}

// VoidShipment cancels a mock shipment.
func (m *MockAPIClient) VoidShipment(ctx context.Context, token string, trackingNumber string) error {
	if err := m.simulate(); err != nil {
		return err
	}
	if m.OnVoidShipment != nil {
		return m.OnVoidShipment(ctx, token, trackingNumber)
	}
	return nil
}

var _ APIClient = (*MockAPIClient)(nil)

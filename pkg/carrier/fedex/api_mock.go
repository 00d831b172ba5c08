package fedex

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
	OnCancelShipment func(ctx context.Context, token string, trackingNumber string) (*CancelResponse, error)
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
		return &APIError{
			StatusCode: 503,
			Errors:     []ErrorItem{{Code: "MOCK_ERROR", Message: "Simulated API error"}},
		}
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
		AccessToken: "fedex-token-" + uuid.New().String()[:8],
		TokenType:   "bearer",
		ExpiresIn:   3599,
	}, nil
}

// GetRates returns mock rate quotes.
func (m *MockAPIClient) GetRates(ctx context.Context, token string, req *RatesRequest) (*RatesResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, token, req)
	}

	return &RatesResponse{
		Output: RatesOutput{
			RateReplyDetails: []RateReplyDetail{
				{
					ServiceType: "INTERNATIONAL_ECONOMY",
					ServiceName: "FedEx International Economy",
					RatedShipments: []RatedShipment{
						{RateType: "ACCOUNT", TotalNetCharge: 89.00, Currency: "USD"},
					},
					OperationalDetail: &OperationalDetail{TransitTime: "FOUR_DAYS"},
				},
				{
					ServiceType: "INTERNATIONAL_PRIORITY",
					ServiceName: "FedEx International Priority",
					RatedShipments: []RatedShipment{
						{RateType: "ACCOUNT", TotalNetCharge: 124.50, Currency: "USD"},
					},
					OperationalDetail: &OperationalDetail{TransitTime: "TWO_DAYS"},
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

	trackingNumber := fmt.Sprintf("%d", 770000000000+time.Now().UnixNano()%9999999999)
	return &ShipmentResponse{
		Output: ShipmentOutput{
			TransactionShipments: []TransactionShipment{
				{
					MasterTrackingNumber: trackingNumber,
					ServiceName:          "FedEx International Economy",
					TotalNetCharge:       89.00,
					Currency:             "USD",
					PieceResponses: []PieceResponse{
						{
							TrackingNumber: trackingNumber,
							PackageDocuments: []PackageDocument{
								{ContentType: "LABEL", DocType: "PDF", EncodedLabel: "JVBERi0xLjQKJdP="},
							},
						},
					},
				},
			},
		},
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
		Output: TrackingOutput{
			CompleteTrackResults: []CompleteTrackResult{
				{
					TrackingNumber: trackingNumber,
					TrackResults: []TrackResult{
						{
							LatestStatusDetail: StatusDetail{Code: "IT", Description: "In transit"},
							ScanEvents: []ScanEvent{
								{
									Date:             now.Add(-36 * time.Hour).Format(time.RFC3339),
									EventType:        "PU",
									EventDescription: "Picked up",
									ScanLocation:     ScanLocation{City: "BOGOTA", CountryCode: "CO"},
								},
								{
									Date:             now.Add(-12 * time.Hour).Format(time.RFC3339),
									EventType:        "IT",
									EventDescription: "In transit",
									ScanLocation:     ScanLocation{City: "MEMPHIS", StateCode: "TN", CountryCode: "US"},
								},
							},
						},
					},
				},
			},
		},
	}, nil
}

// CancelShipment voids a mock shipment.
func (m *MockAPIClient) CancelShipment(ctx context.Context, token string, trackingNumber string) (*CancelResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCancelShipment != nil {
		return m.OnCancelShipment(ctx, token, trackingNumber)
	}

	return &CancelResponse{Output: CancelOutput{CancelledShipment: true}}, nil
}

var _ APIClient = (*MockAPIClient)(nil)

package servientrega

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

	OnLogin          func(ctx context.Context, user, password string) (*LoginResponse, error)
	OnGetQuote       func(ctx context.Context, token string, req *QuoteRequest) (*QuoteResponse, error)
	OnCreateGuide    func(ctx context.Context, token string, req *GuideRequest) (*GuideResponse, error)
	OnGetTracking    func(ctx context.Context, token string, guideNumber string) (*TrackingResponse, error)
	OnCancelGuide    func(ctx context.Context, token string, guideNumber string) error
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
		return &APIError{Code: "MOCK_ERROR", Description: "Simulated API error"}
	}
	return nil
}

// Login returns a mock service token.
func (m *MockAPIClient) Login(ctx context.Context, user, password string) (*LoginResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnLogin != nil {
		return m.OnLogin(ctx, user, password)
	}

	return &LoginResponse{
		Token:        "sv-token-" + uuid.New().String()[:8],
		LifetimeSecs: 3600,
	}, nil
}

// GetQuote returns mock liquidation prices.
func (m *MockAPIClient) GetQuote(ctx context.Context, token string, req *QuoteRequest) (*QuoteResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetQuote != nil {
		return m.OnGetQuote(ctx, token, req)
	}

	return &QuoteResponse{
		Options: []QuoteOption{
			{
				ProductCode:  "2",
				ProductName:  "Mercancía Premier",
				Total:        18500,
				Currency:     "COP",
				DeliveryDays: 2,
			},
			{
				ProductCode:  "6",
				ProductName:  "Mercancía Industrial",
				Total:        12900,
				Currency:     "COP",
				DeliveryDays: 4,
			},
		},
	}, nil
}

// CreateGuide generates a mock guide.
func (m *MockAPIClient) CreateGuide(ctx context.Context, token string, req *GuideRequest) (*GuideResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateGuide != nil {
		return m.OnCreateGuide(ctx, token, req)
	}

	return &GuideResponse{
		GuideNumber: fmt.Sprintf("%d", 2000000000+time.Now().UnixNano()%999999999),
		Total:       18500,
		Currency:    "COP",
		LabelData:   "JVBERi0xLjQKJdP=",
	}, nil
}

// GetTracking returns mock guide movements.
func (m *MockAPIClient) GetTracking(ctx context.Context, token string, guideNumber string) (*TrackingResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, token, guideNumber)
	}

	now := time.Now()
	return &TrackingResponse{
		GuideNumber: guideNumber,
		State:       "EN TRANSPORTE",
		Movements: []Movement{
			{
				State:       "RECOGIDO",
				Description: "Envío recogido en origen",
				City:        "BOGOTA",
				Date:        now.Add(-30 * time.Hour).Format("2006-01-02 15:04:05"),
			},
			{
				State:       "EN TRANSPORTE",
				Description: "Envío en ruta hacia destino",
				City:        "MEDELLIN",
				Date:        now.Add(-6 * time.Hour).Format("2006-01-02 15:04:05"),
			},
		},
	}, nil
}

// CancelGuide annuls a mock guide.
func (m *MockAPIClient) CancelGuide(ctx context.Context, token string, guideNumber string) error {
	if err := m.simulate(); err != nil {
		return err
	}
	if m.OnCancelGuide != nil {
		return m.OnCancelGuide(ctx, token, guideNumber)
	}
	return nil
}

// SchedulePickup books a mock collection.
func (m *MockAPIClient) SchedulePickup(ctx context.Context, token string, req *PickupRequest) (*PickupResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnSchedulePickup != nil {
		return m.OnSchedulePickup(ctx, token, req)
	}

	return &PickupResponse{
		Confirmation: fmt.Sprintf("REC-%d", time.Now().UnixNano()%1000000),
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)

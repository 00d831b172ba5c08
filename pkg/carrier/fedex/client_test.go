package fedex_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/enviora/carrier/pkg/carrier"
	"github.com/enviora/carrier/pkg/carrier/fedex"
)

func newTestClient(mockClient *fedex.MockAPIClient) *fedex.Client {
	logger := otelzap.New(zap.NewNop())
	return fedex.NewWithAPIClient(fedex.Config{AccountNumber: "740561073"}, mockClient, logger, nil)
}

func authenticate(t *testing.T, client *fedex.Client) *carrier.Session {
	t.Helper()
	session, err := client.Authenticate(context.Background(), &carrier.Credential{
		Carrier: "fedex",
		Env:     carrier.EnvSandbox,
		Secrets: map[string]string{"client_id": "id", "client_secret": "secret"},
	})
	require.NoError(t, err)
	return session
}

func TestClient_Quote_Success(t *testing.T) {
	mockAPI := fedex.NewMockAPIClient()
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	quotes, err := client.Quote(context.Background(), &carrier.QuoteRequest{
		Origin:      carrier.Address{City: "Bogota", CountryCode: "CO"},
		Destination: carrier.Address{City: "Miami", CountryCode: "US"},
		Packages:    []carrier.Package{{Length: 30, Width: 20, Height: 10, Weight: 2}},
	}, session)

	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "fedex", quotes[0].Carrier)
	assert.Equal(t, "INTERNATIONAL_ECONOMY", quotes[0].ServiceCode)
	assert.Equal(t, 89.00, quotes[0].TotalPrice.Amount)
	assert.Equal(t, 4, quotes[0].TransitDays) // FOUR_DAYS
	assert.Equal(t, "INTERNATIONAL_PRIORITY", quotes[1].ServiceCode)
	assert.Equal(t, 2, quotes[1].TransitDays)
}

func TestClient_CreateLabel_Success(t *testing.T) {
	mockAPI := fedex.NewMockAPIClient()
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	shipment, err := client.CreateLabel(context.Background(), "INTERNATIONAL_ECONOMY", &carrier.ShipmentDetails{
		Sender:           carrier.Contact{Name: "Sender"},
		SenderAddress:    carrier.Address{City: "Bogota", CountryCode: "CO"},
		Recipient:        carrier.Contact{Name: "Receiver"},
		RecipientAddress: carrier.Address{City: "Miami", CountryCode: "US"},
		Packages:         []carrier.Package{{Weight: 2}},
	}, session)

	require.NoError(t, err)
	assert.NotEmpty(t, shipment.TrackingNumber)
	assert.Equal(t, "fedex", shipment.Carrier)
	assert.Equal(t, 89.00, shipment.Cost.Amount)
	assert.NotEmpty(t, shipment.Label.Data)
}

func TestClient_Track_NormalizesStatuses(t *testing.T) {
	mockAPI := fedex.NewMockAPIClient()
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	events, err := client.Track(context.Background(), "770000000001", session)

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, carrier.StatusPickedUp, events[0].Status)
	assert.Equal(t, carrier.StatusInTransit, events[1].Status)
}

func TestClient_Cancel_Rejected(t *testing.T) {
	mockAPI := fedex.NewMockAPIClient()
	mockAPI.OnCancelShipment = func(ctx context.Context, token, trackingNumber string) (*fedex.CancelResponse, error) {
		return &fedex.CancelResponse{}, nil
	}
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	err := client.Cancel(context.Background(), "770000000001", session)

	require.Error(t, err)
	assert.Equal(t, carrier.ClassValidation, carrier.ClassOf(err))
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       carrier.ErrorClass
	}{
		{"unauthorized", 401, carrier.ClassAuth},
		{"forbidden", 403, carrier.ClassAuth},
		{"not found", 404, carrier.ClassNotFound},
		{"bad request", 400, carrier.ClassValidation},
		{"server error", 500, carrier.ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAPI := fedex.NewMockAPIClient()
			mockAPI.OnGetTracking = func(ctx context.Context, token, trackingNumber string) (*fedex.TrackingResponse, error) {
				return nil, &fedex.APIError{StatusCode: tt.statusCode}
			}
			client := newTestClient(mockAPI)
			session := authenticate(t, client)

			_, err := client.Track(context.Background(), "770000000001", session)

			require.Error(t, err)
			assert.Equal(t, tt.want, carrier.ClassOf(err))
		})
	}
}

func TestClient_WebhookRoundTrip(t *testing.T) {
	client := newTestClient(fedex.NewMockAPIClient())

	secret := "hook-secret"
	body := []byte(`{"notificationId":"n-1","trackingNumber":"770000000001","eventType":"DL","eventDescription":"Delivered","occurredAt":"2026-08-20T14:30:00Z"}`)
	headers := http.Header{}
	headers.Set("X-FedEx-Timestamp", "1724800000")
	headers.Set("X-FedEx-Signature", carrier.WebhookSignature(secret, "1724800000", body))

	require.True(t, client.ValidateWebhookSignature(body, headers, secret))

	delivery, err := client.ParseWebhookEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "n-1", delivery.EventID)
	assert.Equal(t, carrier.StatusDelivered, delivery.Event.Status)
	assert.Equal(t, "DL", delivery.Event.NativeStatus)
}

func TestClient_Capabilities(t *testing.T) {
	client := newTestClient(fedex.NewMockAPIClient())

	caps := client.Capabilities()
	assert.True(t, caps.Has(carrier.CapQuote))
	assert.True(t, caps.Has(carrier.CapCancel))
	assert.False(t, caps.Has(carrier.CapPickup))
	assert.Equal(t, "fedex", client.Name())
}

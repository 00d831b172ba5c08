package servientrega_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/enviora/carrier/pkg/carrier"
	"github.com/enviora/carrier/pkg/carrier/servientrega"
)

func newTestClient(mockClient *servientrega.MockAPIClient) *servientrega.Client {
	logger := otelzap.New(zap.NewNop())
	return servientrega.NewWithAPIClient(servientrega.Config{}, mockClient, logger, nil)
}

func testCredential() *carrier.Credential {
	return &carrier.Credential{
		Carrier: "servientrega",
		Env:     carrier.EnvSandbox,
		Secrets: map[string]string{
			"username": "test-user",
			"password": "test-pass",
		},
	}
}

func authenticate(t *testing.T, client *servientrega.Client) *carrier.Session {
	t.Helper()
	session, err := client.Authenticate(context.Background(), testCredential())
	require.NoError(t, err)
	return session
}

func TestClient_Authenticate_PassesAccountCredentials(t *testing.T) {
	mockAPI := servientrega.NewMockAPIClient()
	client := newTestClient(mockAPI)

	var gotUser, gotPass string
	mockAPI.OnLogin = func(ctx context.Context, user, password string) (*servientrega.LoginResponse, error) {
		gotUser, gotPass = user, password
		return &servientrega.LoginResponse{Token: "sv-token", LifetimeSecs: 3600}, nil
	}

	session := authenticate(t, client)

	assert.Equal(t, "test-user", gotUser)
	assert.Equal(t, "test-pass", gotPass)
	assert.Equal(t, "sv-token", session.Token)
	assert.True(t, session.Valid(time.Now(), time.Hour))
}

func TestClient_Authenticate_LoginFailureClassifiesAuth(t *testing.T) {
	mockAPI := servientrega.NewMockAPIClient()
	client := newTestClient(mockAPI)

	mockAPI.OnLogin = func(ctx context.Context, user, password string) (*servientrega.LoginResponse, error) {
		return nil, &servientrega.APIError{Code: "AUTH_FAILED", Description: "Usuario o clave incorrectos"}
	}

	_, err := client.Authenticate(context.Background(), testCredential())

	require.Error(t, err)
	assert.Equal(t, carrier.ClassAuth, carrier.ClassOf(err))
}

func TestClient_Quote_Success(t *testing.T) {
	mockAPI := servientrega.NewMockAPIClient()
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	req := &carrier.QuoteRequest{
		Origin:      carrier.Address{City: "Bogota", CountryCode: "CO"},
		Destination: carrier.Address{City: "Medellin", CountryCode: "CO"},
		Packages: []carrier.Package{
			{Length: 30, Width: 20, Height: 10, Weight: 2, WeightUnit: carrier.WeightKG},
		},
	}

	quotes, err := client.Quote(context.Background(), req, session)

	require.NoError(t, err)
	require.Len(t, quotes, 2) // Mock returns 2 products
	assert.Equal(t, "servientrega", quotes[0].Carrier)
	assert.Equal(t, "Mercancía Premier", quotes[0].ServiceName)
	assert.Equal(t, 18500.0, quotes[0].TotalPrice.Amount)
	assert.Equal(t, "COP", quotes[0].TotalPrice.Currency)
	assert.Equal(t, 2, quotes[0].TransitDays)
	assert.Equal(t, "2", quotes[0].Ref) // Ref is the product code
}

func TestClient_CreateLabel_Success(t *testing.T) {
	mockAPI := servientrega.NewMockAPIClient()
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	var gotReq *servientrega.GuideRequest
	mockAPI.OnCreateGuide = func(ctx context.Context, token string, req *servientrega.GuideRequest) (*servientrega.GuideResponse, error) {
		gotReq = req
		return &servientrega.GuideResponse{
			GuideNumber: "2012345678",
			Total:       18500,
			Currency:    "COP",
			LabelData:   "JVBERi0xLjQ=",
		}, nil
	}

	details := &carrier.ShipmentDetails{
		Sender:           carrier.Contact{Name: "Tienda Enviora", Phone: "6011234567"},
		SenderAddress:    carrier.Address{Line1: "Calle 100 # 10-20", City: "Bogota", CountryCode: "CO"},
		Recipient:        carrier.Contact{Name: "Ana Gomez", Phone: "3001234567"},
		RecipientAddress: carrier.Address{Line1: "Carrera 43A # 1-50", City: "Medellin", CountryCode: "CO"},
		Packages: []carrier.Package{
			{Length: 30, Width: 20, Height: 10, Weight: 2, WeightUnit: carrier.WeightKG},
		},
		OrderRef: "ORD-9001",
	}

	shipment, err := client.CreateLabel(context.Background(), "2", details, session)

	require.NoError(t, err)
	assert.Equal(t, "2012345678", shipment.TrackingNumber)
	assert.Equal(t, "servientrega", shipment.Carrier)
	assert.Equal(t, carrier.LabelPDF, shipment.Label.Format)
	assert.NotEmpty(t, shipment.Label.Data) // base64 payload decoded
	assert.Equal(t, "ORD-9001", shipment.OrderRef)

	require.NotNil(t, gotReq)
	assert.Equal(t, "2", gotReq.ProductCode)
	assert.Equal(t, "Ana Gomez", gotReq.ReceiverName)
	assert.Contains(t, gotReq.ReceiverAddress, "Medellin")
}

func TestClient_Track_NormalizesSpanishStatuses(t *testing.T) {
	mockAPI := servientrega.NewMockAPIClient()
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	events, err := client.Track(context.Background(), "2012345678", session)

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, carrier.StatusPickedUp, events[0].Status)
	assert.Equal(t, "RECOGIDO", events[0].NativeStatus)
	assert.Equal(t, carrier.StatusInTransit, events[1].Status)
	assert.Equal(t, "MEDELLIN", events[1].Location)
	assert.Equal(t, carrier.SourcePolled, events[0].Source)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestClient_Track_PickupPointStatus(t *testing.T) {
	mockAPI := servientrega.NewMockAPIClient()
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	mockAPI.OnGetTracking = func(ctx context.Context, token, guideNumber string) (*servientrega.TrackingResponse, error) {
		return &servientrega.TrackingResponse{
			GuideNumber: guideNumber,
			State:       "EN CENTRO DE SOLUCION",
			Movements: []servientrega.Movement{
				{State: "EN CENTRO DE SOLUCION", City: "CALI", Date: "2026-08-20 14:30:00"},
			},
		}, nil
	}

	events, err := client.Track(context.Background(), "2012345678", session)

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, carrier.StatusAtPickupPoint, events[0].Status)
}

func TestClient_Track_NoMovements(t *testing.T) {
	mockAPI := servientrega.NewMockAPIClient()
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	mockAPI.OnGetTracking = func(ctx context.Context, token, guideNumber string) (*servientrega.TrackingResponse, error) {
		return &servientrega.TrackingResponse{GuideNumber: guideNumber}, nil
	}

	_, err := client.Track(context.Background(), "9999999999", session)

	require.Error(t, err)
	assert.Equal(t, carrier.ClassNotFound, carrier.ClassOf(err))
}

func TestClient_Cancel_Success(t *testing.T) {
	mockAPI := servientrega.NewMockAPIClient()
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	err := client.Cancel(context.Background(), "2012345678", session)

	assert.NoError(t, err)
}

func TestClient_Cancel_Rejected(t *testing.T) {
	mockAPI := servientrega.NewMockAPIClient()
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	mockAPI.OnCancelGuide = func(ctx context.Context, token, guideNumber string) error {
		return &servientrega.APIError{Code: "CANCEL_REJECTED", Description: "La guía ya fue despachada"}
	}

	err := client.Cancel(context.Background(), "2012345678", session)

	require.Error(t, err)
	assert.Equal(t, carrier.ClassValidation, carrier.ClassOf(err))
}

func TestClient_SchedulePickup_Success(t *testing.T) {
	mockAPI := servientrega.NewMockAPIClient()
	client := newTestClient(mockAPI)
	session := authenticate(t, client)

	req := &carrier.PickupRequest{
		Address:   carrier.Address{Line1: "Calle 100 # 10-20", City: "Bogota", CountryCode: "CO"},
		Contact:   carrier.Contact{Name: "Tienda Enviora", Phone: "6011234567"},
		Date:      time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		ReadyTime: "08:00",
		CloseTime: "18:00",
		Packages: []carrier.Package{
			{Weight: 2, WeightUnit: carrier.WeightKG},
		},
	}

	pickup, err := client.SchedulePickup(context.Background(), req, session)

	require.NoError(t, err)
	assert.NotEmpty(t, pickup.ConfirmationID)
	assert.Equal(t, "servientrega", pickup.Carrier)
	assert.Equal(t, "08:00-18:00", pickup.Window)
}

func TestClient_WebhookRoundTrip(t *testing.T) {
	client := newTestClient(servientrega.NewMockAPIClient())

	payload := servientrega.WebhookPayload{
		IDNovedad:   "nov-123",
		NumeroGuia:  "2012345678",
		Estado:      "ENTREGADO",
		Descripcion: "Entregado al destinatario",
		Ciudad:      "MEDELLIN",
		Fecha:       "2026-08-21T16:45:00Z",
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	secret := "webhook-secret"
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	headers := http.Header{}
	headers.Set("X-Servientrega-Fecha", timestamp)
	headers.Set("X-Servientrega-Firma", carrier.WebhookSignature(secret, timestamp, body))

	assert.True(t, client.ValidateWebhookSignature(body, headers, secret))

	headers.Set("X-Servientrega-Firma", carrier.WebhookSignature("wrong-secret", timestamp, body))
	assert.False(t, client.ValidateWebhookSignature(body, headers, secret))

	delivery, err := client.ParseWebhookEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "nov-123", delivery.EventID)
	assert.Equal(t, "2012345678", delivery.Event.TrackingNumber)
	assert.Equal(t, carrier.StatusDelivered, delivery.Event.Status)
	assert.Equal(t, carrier.SourceWebhook, delivery.Event.Source)
	assert.Equal(t, time.Date(2026, 8, 21, 16, 45, 0, 0, time.UTC), delivery.Event.Timestamp.UTC())
}

func TestClient_ParseWebhookEvent_Malformed(t *testing.T) {
	client := newTestClient(servientrega.NewMockAPIClient())

	_, err := client.ParseWebhookEvent([]byte("<xml>no</xml>"))
	require.Error(t, err)
	assert.Equal(t, carrier.ClassValidation, carrier.ClassOf(err))

	_, err = client.ParseWebhookEvent([]byte(`{"estado":"ENTREGADO"}`))
	require.Error(t, err)
	assert.Equal(t, carrier.ClassValidation, carrier.ClassOf(err))
}

func TestClient_Capabilities(t *testing.T) {
	client := newTestClient(servientrega.NewMockAPIClient())

	caps := client.Capabilities()
	assert.True(t, caps.Has(carrier.CapQuote))
	assert.True(t, caps.Has(carrier.CapPickup))
	assert.True(t, caps.Has(carrier.CapCancel))
}

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/enviora/carrier/internal/auth"
	"github.com/enviora/carrier/internal/breaker"
	"github.com/enviora/carrier/internal/events"
	"github.com/enviora/carrier/internal/fallback"
	"github.com/enviora/carrier/internal/quote"
	"github.com/enviora/carrier/internal/ratelimit"
	"github.com/enviora/carrier/internal/server"
	"github.com/enviora/carrier/internal/storage"
	"github.com/enviora/carrier/internal/telemetry"
	"github.com/enviora/carrier/internal/vault"
	"github.com/enviora/carrier/internal/webhook"
	"github.com/enviora/carrier/pkg/carrier"
	"github.com/enviora/carrier/pkg/carrier/mock"
)

// Metrics register against the default Prometheus registry, so the test
// binary shares one instance.
var testMetrics = telemetry.NewMetrics()

const webhookSecret = "server-test-webhook-secret"

// capturingPublisher records published tracking events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []*carrier.TrackingEvent
}

func (p *capturingPublisher) PublishTrackingEvent(_ context.Context, e *carrier.TrackingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturingPublisher) PublishFallbackRecord(context.Context, *storage.FallbackRecord) error {
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func (p *capturingPublisher) statuses() []carrier.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]carrier.Status, len(p.events))
	for i, e := range p.events {
		out[i] = e.Status
	}
	return out
}

type testServer struct {
	handler   http.Handler
	breaker   *breaker.Breaker
	store     *storage.Memory
	published *capturingPublisher
	token     string
}

func newTestServer(t *testing.T, adapters ...*mock.Client) *testServer {
	return newTestServerWithAuth(t, "", adapters...)
}

func newTestServerWithAuth(t *testing.T, authSecret string, adapters ...*mock.Client) *testServer {
	t.Helper()
	logger := otelzap.New(zap.NewNop())

	registry := carrier.NewRegistry()
	keys, err := vault.NewLocalKeyManager(filepath.Join(t.TempDir(), "keys.json"))
	require.NoError(t, err)
	v := vault.New(keys, vault.NewMemoryStore())

	routes := map[string][]string{"default": {}}
	for _, a := range adapters {
		registry.Register(a)
		err := v.Put(context.Background(), a.Name(), carrier.EnvSandbox, map[string]string{
			"api_key":         "test-key",
			webhook.SecretKey: webhookSecret,
		}, time.Time{})
		require.NoError(t, err)
		routes["default"] = append(routes["default"], a.Name())
	}

	brk := breaker.New(breaker.Config{}, logger, nil)
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 1000, DefaultBurst: 1000}, carrier.EnvSandbox)
	store := storage.NewMemory()
	quotes := quote.NewStore()
	agg := quote.New(quote.Config{}, registry, brk, limiter, v, carrier.EnvSandbox, logger, testMetrics)
	sel := fallback.New(routes, registry, brk, limiter, v, carrier.EnvSandbox, store.Fallbacks(), events.Nop{}, logger, testMetrics)
	pipe := webhook.New(webhook.Config{}, registry, v, carrier.EnvSandbox, store.Webhooks(), store, events.Nop{}, logger, testMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	go pipe.Run(ctx)
	t.Cleanup(cancel)

	published := &capturingPublisher{}
	verifier := auth.NewVerifier(authSecret)
	srv := server.New(server.Config{}, server.Deps{
		Registry:   registry,
		Aggregator: agg,
		Quotes:     quotes,
		Selector:   sel,
		Pipeline:   pipe,
		Breaker:    brk,
		Limiter:    limiter,
		Vault:      v,
		Env:        carrier.EnvSandbox,
		Shipments:  store,
		Tracking:   store,
		Events:     published,
		Verifier:   verifier,
	}, logger, testMetrics)

	ts := &testServer{handler: srv.Router(), breaker: brk, store: store, published: published}
	if authSecret != "" {
		token, err := verifier.Sign("ops@enviora", time.Hour)
		require.NoError(t, err)
		ts.token = token
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func quoteRequestBody() map[string]any {
	return map[string]any{
		"origin": map[string]any{
			"name": "Tienda Enviora", "line1": "Calle 100 # 10-20",
			"city": "Bogota", "country_code": "CO",
		},
		"destination": map[string]any{
			"name": "Jane Roe", "line1": "100 Biscayne Blvd",
			"city": "Miami", "country_code": "US",
		},
		"packages": []map[string]any{
			{"length": 30, "width": 20, "height": 10, "weight": 2},
		},
	}
}

func labelRequestBody(quoteRef string) map[string]any {
	return map[string]any{
		"quote_ref":         quoteRef,
		"sender":            map[string]any{"name": "Tienda Enviora", "phone": "6011234567"},
		"sender_address":    quoteRequestBody()["origin"],
		"recipient":         map[string]any{"name": "Jane Roe", "phone": "3051234567"},
		"recipient_address": quoteRequestBody()["destination"],
		"packages":          quoteRequestBody()["packages"],
		"order_ref":         "ORD-500",
	}
}

type quotesResponse struct {
	Quotes []struct {
		Carrier     string  `json:"carrier"`
		Ref         string  `json:"quote_ref"`
		Score       float64 `json:"score"`
		Recommended bool    `json:"recommended"`
	} `json:"quotes"`
}

// requestQuote runs the quote flow and returns the recommended quote's ref.
func requestQuote(t *testing.T, ts *testServer) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/quotes", quoteRequestBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp quotesResponse
	decodeJSON(t, rec, &resp)
	require.NotEmpty(t, resp.Quotes)
	require.True(t, resp.Quotes[0].Recommended)
	return resp.Quotes[0].Ref
}

func TestServer_Quotes_RanksAcrossCarriers(t *testing.T) {
	dhl := mock.New("dhl")
	dhl.QuotePrice = 12
	fedex := mock.New("fedex")
	fedex.QuotePrice = 18
	ts := newTestServer(t, dhl, fedex)

	rec := ts.do(t, http.MethodPost, "/quotes", quoteRequestBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp quotesResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Quotes, 2)
	assert.Equal(t, "dhl", resp.Quotes[0].Carrier)
	assert.True(t, resp.Quotes[0].Recommended)
	assert.False(t, resp.Quotes[1].Recommended)
	assert.NotEmpty(t, resp.Quotes[0].Ref)
	assert.LessOrEqual(t, resp.Quotes[0].Score, resp.Quotes[1].Score)
}

func TestServer_Quotes_ValidationError(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))

	body := quoteRequestBody()
	body["packages"] = []map[string]any{}
	rec := ts.do(t, http.MethodPost, "/quotes", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Quotes_MalformedJSON(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))

	rec := ts.do(t, http.MethodPost, "/quotes", []byte("{not json"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid json")
}

func TestServer_CreateLabel_RedeemsQuote(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))
	ref := requestQuote(t, ts)

	rec := ts.do(t, http.MethodPost, "/labels", labelRequestBody(ref))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var shipment struct {
		TrackingNumber string `json:"tracking_number"`
		Carrier        string `json:"carrier"`
		OrderRef       string `json:"order_ref"`
		Cancelled      bool   `json:"cancelled"`
	}
	decodeJSON(t, rec, &shipment)
	assert.NotEmpty(t, shipment.TrackingNumber)
	assert.Equal(t, "dhl", shipment.Carrier)
	assert.Equal(t, "ORD-500", shipment.OrderRef)
	assert.False(t, shipment.Cancelled)

	// A quote books exactly once.
	rec = ts.do(t, http.MethodPost, "/labels", labelRequestBody(ref))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ALREADY_REDEEMED")
}

func TestServer_CreateLabel_UnknownRef(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))

	rec := ts.do(t, http.MethodPost, "/labels", labelRequestBody("no-such-ref"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CreateLabel_MissingRef(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))

	rec := ts.do(t, http.MethodPost, "/labels", labelRequestBody(""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_QUOTE_REF")
}

func TestServer_CreateLabel_AllFailedReleasesQuote(t *testing.T) {
	dhl := mock.New("dhl")
	ts := newTestServer(t, dhl)
	ref := requestQuote(t, ts)

	dhl.OnCreateLabel = func(ctx context.Context, ref string, details *carrier.ShipmentDetails) (*carrier.Shipment, error) {
		return nil, carrier.NewError("dhl", carrier.ClassTransient, "HTTP_503", "upstream down")
	}
	rec := ts.do(t, http.MethodPost, "/labels", labelRequestBody(ref))

	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	var resp struct {
		Code     string `json:"code"`
		Failures []struct {
			Carrier string `json:"carrier"`
			Reason  string `json:"reason"`
		} `json:"failures"`
	}
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ALL_CARRIERS_FAILED", resp.Code)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "dhl", resp.Failures[0].Carrier)
	assert.Contains(t, resp.Failures[0].Reason, "HTTP_503")

	// The failed attempt released the quote, so retrying the same ref works.
	dhl.OnCreateLabel = nil
	rec = ts.do(t, http.MethodPost, "/labels", labelRequestBody(ref))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestServer_Tracking_MergesPolledEvents(t *testing.T) {
	dhl := mock.New("dhl")
	ts := newTestServer(t, dhl)
	ref := requestQuote(t, ts)

	rec := ts.do(t, http.MethodPost, "/labels", labelRequestBody(ref))
	require.Equal(t, http.StatusCreated, rec.Code)
	var shipment struct {
		TrackingNumber string `json:"tracking_number"`
	}
	decodeJSON(t, rec, &shipment)

	rec = ts.do(t, http.MethodGet, "/tracking/"+shipment.TrackingNumber, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		TrackingNumber string `json:"tracking_number"`
		Carrier        string `json:"carrier"`
		Status         string `json:"status"`
		Events         []struct {
			Status string `json:"status"`
			Source string `json:"source"`
		} `json:"events"`
	}
	decodeJSON(t, rec, &resp)
	assert.Equal(t, shipment.TrackingNumber, resp.TrackingNumber)
	assert.Equal(t, "dhl", resp.Carrier)
	// The booking seeds a created event; the on-demand poll adds in_transit.
	assert.Equal(t, string(carrier.StatusInTransit), resp.Status)
	require.GreaterOrEqual(t, len(resp.Events), 2)
	assert.Equal(t, string(carrier.StatusCreated), resp.Events[0].Status)
}

func TestServer_TrackingEventsReachPublisher(t *testing.T) {
	dhl := mock.New("dhl")
	ts := newTestServer(t, dhl)
	ref := requestQuote(t, ts)

	rec := ts.do(t, http.MethodPost, "/labels", labelRequestBody(ref))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var shipment struct {
		TrackingNumber string `json:"tracking_number"`
	}
	decodeJSON(t, rec, &shipment)

	// Booking seeds a created event; downstream consumers see it too, not
	// just the tracking store.
	require.Equal(t, []carrier.Status{carrier.StatusCreated}, ts.published.statuses())

	rec = ts.do(t, http.MethodGet, "/tracking/"+shipment.TrackingNumber, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The on-demand poll persisted an in_transit event and published it.
	assert.Equal(t, []carrier.Status{carrier.StatusCreated, carrier.StatusInTransit}, ts.published.statuses())
}

func TestServer_Tracking_Unknown(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))

	rec := ts.do(t, http.MethodGet, "/tracking/NOPE-123", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "tracking number not found")
}

func TestServer_Cancel_Idempotent(t *testing.T) {
	dhl := mock.New("dhl")
	ts := newTestServer(t, dhl)
	ref := requestQuote(t, ts)

	rec := ts.do(t, http.MethodPost, "/labels", labelRequestBody(ref))
	require.Equal(t, http.StatusCreated, rec.Code)
	var shipment struct {
		TrackingNumber string `json:"tracking_number"`
	}
	decodeJSON(t, rec, &shipment)

	rec = ts.do(t, http.MethodPost, "/shipments/"+shipment.TrackingNumber+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"cancelled":true`)

	// The second cancel is a no-op served from storage, not a carrier call.
	before := dhl.Calls()
	rec = ts.do(t, http.MethodPost, "/shipments/"+shipment.TrackingNumber+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancelled":true`)
	assert.Equal(t, before, dhl.Calls())
}

func TestServer_Cancel_UnknownShipment(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))

	rec := ts.do(t, http.MethodPost, "/shipments/NOPE-1/cancel", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Cancel_BreakerOpen(t *testing.T) {
	dhl := mock.New("dhl")
	ts := newTestServer(t, dhl)
	ref := requestQuote(t, ts)

	rec := ts.do(t, http.MethodPost, "/labels", labelRequestBody(ref))
	require.Equal(t, http.StatusCreated, rec.Code)
	var shipment struct {
		TrackingNumber string `json:"tracking_number"`
	}
	decodeJSON(t, rec, &shipment)

	for i := 0; i < 5; i++ {
		ts.breaker.RecordFailure("dhl", 0)
	}

	rec = ts.do(t, http.MethodPost, "/shipments/"+shipment.TrackingNumber+"/cancel", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Pickup(t *testing.T) {
	ts := newTestServer(t, mock.New("servientrega"))

	rec := ts.do(t, http.MethodPost, "/pickups", map[string]any{
		"address":    map[string]any{"name": "Tienda Enviora", "line1": "Calle 100 # 10-20", "city": "Bogota", "country_code": "CO"},
		"contact":    map[string]any{"name": "Tienda Enviora", "phone": "6011234567"},
		"packages":   quoteRequestBody()["packages"],
		"date":       time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"ready_time": "08:00",
		"close_time": "18:00",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var pickup struct {
		ConfirmationID string `json:"confirmation_id"`
		Carrier        string `json:"carrier"`
		Window         string `json:"window"`
	}
	decodeJSON(t, rec, &pickup)
	assert.NotEmpty(t, pickup.ConfirmationID)
	assert.Equal(t, "servientrega", pickup.Carrier)
	assert.Equal(t, "08:00-18:00", pickup.Window)
}

func TestServer_CarrierStatus(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"), mock.New("fedex"))

	for i := 0; i < 5; i++ {
		ts.breaker.RecordFailure("dhl", 0)
	}

	rec := ts.do(t, http.MethodGet, "/carriers/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Carriers []struct {
			Carrier             string     `json:"carrier"`
			Capabilities        []string   `json:"capabilities"`
			State               string     `json:"state"`
			ConsecutiveFailures int        `json:"consecutive_failures"`
			NextRetry           *time.Time `json:"next_retry"`
			RateLimitSaturation float64    `json:"rate_limit_saturation"`
		} `json:"carriers"`
	}
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Carriers, 2)

	byName := make(map[string]int)
	for i, c := range resp.Carriers {
		byName[c.Carrier] = i
	}
	dhl := resp.Carriers[byName["dhl"]]
	fedex := resp.Carriers[byName["fedex"]]

	assert.Equal(t, "open", dhl.State)
	assert.Equal(t, 5, dhl.ConsecutiveFailures)
	assert.NotNil(t, dhl.NextRetry)
	assert.Equal(t, "closed", fedex.State)
	assert.NotEmpty(t, fedex.Capabilities)
	assert.Zero(t, fedex.RateLimitSaturation)
}

func TestServer_Credentials(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))

	rec := ts.do(t, http.MethodPut, "/credentials/dhl", map[string]any{
		"secrets": map[string]string{"api_key": "fresh-key"},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPut, "/credentials/ghost", map[string]any{
		"secrets": map[string]string{"api_key": "k"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPut, "/credentials/dhl", map[string]any{
		"secrets": map[string]string{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "EMPTY_SECRETS")

	rec = ts.do(t, http.MethodPost, "/credentials/dhl/rotate", map[string]any{
		"secrets": map[string]string{"api_key": "rotated-key"},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestServer_ExpiringCredentials(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))

	expiry := time.Now().Add(48 * time.Hour).UTC()
	rec := ts.do(t, http.MethodPut, "/credentials/dhl", map[string]any{
		"secrets":    map[string]string{"api_key": "short-lived"},
		"expires_at": expiry.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/credentials/expiring?within_hours=72", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Expiring []struct {
			Carrier   string    `json:"carrier"`
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"expiring"`
	}
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Expiring, 1)
	assert.Equal(t, "dhl", resp.Expiring[0].Carrier)
	assert.WithinDuration(t, expiry, resp.Expiring[0].ExpiresAt, time.Second)
}

func signedWebhook(eventID, trackingNumber, status string) ([]byte, http.Header) {
	body := []byte(`{"event_id":"` + eventID + `","tracking_number":"` + trackingNumber +
		`","status":"` + status + `","timestamp":"2026-08-28T12:00:00Z"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	headers := http.Header{}
	headers.Set("X-Mock-Timestamp", ts)
	headers.Set("X-Mock-Signature", carrier.WebhookSignature(webhookSecret, ts, body))
	return body, headers
}

func (ts *testServer) postWebhook(t *testing.T, carrierName string, body []byte, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+carrierName, bytes.NewReader(body))
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Webhook_AcceptedAndIngested(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))
	body, headers := signedWebhook("evt-http-1", "TRK-HTTP-1", "delivered")

	rec := ts.postWebhook(t, "dhl", body, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), string(webhook.OutcomeAccepted))

	require.Eventually(t, func() bool {
		evts, err := ts.store.ByTrackingNumber(context.Background(), "TRK-HTTP-1")
		return err == nil && len(evts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Webhook-only tracking numbers are still queryable.
	rec = ts.do(t, http.MethodGet, "/tracking/TRK-HTTP-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"delivered"`)
}

func TestServer_Webhook_MissingSignature(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))
	body, _ := signedWebhook("evt-http-2", "TRK-HTTP-2", "delivered")

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	rec := ts.postWebhook(t, "dhl", body, headers)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_Webhook_InvalidSignatureAcked(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))
	body, headers := signedWebhook("evt-http-3", "TRK-HTTP-3", "delivered")
	headers.Set("X-Mock-Signature", carrier.WebhookSignature("wrong-secret", headers.Get("X-Mock-Timestamp"), body))

	rec := ts.postWebhook(t, "dhl", body, headers)

	// Acked so the carrier stops redelivering; the payload is discarded.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(webhook.OutcomeInvalidSignature))
}

func TestServer_Webhook_UnknownCarrier(t *testing.T) {
	ts := newTestServer(t, mock.New("dhl"))
	body, headers := signedWebhook("evt-http-4", "TRK-HTTP-4", "delivered")

	rec := ts.postWebhook(t, "ghost", body, headers)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Auth_GatesOperatorRoutes(t *testing.T) {
	ts := newTestServerWithAuth(t, "api-shared-secret", mock.New("dhl"))

	// No token.
	req := httptest.NewRequest(http.MethodGet, "/carriers/status", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	// Garbage token.
	req = httptest.NewRequest(http.MethodGet, "/carriers/status", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Signed token.
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/carriers/status", nil).Code)
}

func TestServer_Auth_HealthAndWebhooksStayOpen(t *testing.T) {
	ts := newTestServerWithAuth(t, "api-shared-secret", mock.New("dhl"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	// Carriers authenticate deliveries with HMAC, never bearer tokens.
	body, headers := signedWebhook("evt-http-5", "TRK-HTTP-5", "in_transit")
	rec = ts.postWebhook(t, "dhl", body, headers)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(webhook.OutcomeAccepted))
}

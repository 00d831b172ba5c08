// Package interrapidisimo provides integration with the InterRapidísimo
// REST API. InterRapidísimo is the pickup-point carrier: shipments can
// terminate at a punto de entrega instead of a door.
package interrapidisimo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/enviora/carrier/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const carrierName = "interrapidisimo"

// Config holds InterRapidísimo configuration.
type Config struct {
	BaseURL string
	UseMock bool // When true, uses mock API client
}

// Client is the InterRapidísimo carrier adapter.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new InterRapidísimo client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL: cfg.BaseURL,
			Timeout: 30 * time.Second,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new InterRapidísimo client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// Capabilities returns the operations InterRapidísimo supports.
// Cancellation is not offered by the API.
func (c *Client) Capabilities() carrier.CapabilitySet {
	return carrier.NewCapabilitySet(
		carrier.CapQuote,
		carrier.CapLabel,
		carrier.CapTrack,
		carrier.CapPickup,
	)
}

// Authenticate passes the static API key through as a non-expiring session.
func (c *Client) Authenticate(ctx context.Context, cred *carrier.Credential) (*carrier.Session, error) {
	key := cred.Secret("api_key")
	if key == "" {
		return nil, carrier.NewError(carrierName, carrier.ClassAuth, "AUTH_FAILED", "no API key provisioned")
	}
	return &carrier.Session{Token: key}, nil
}

// Quote returns priced shipping offers from InterRapidísimo.
func (c *Client) Quote(ctx context.Context, req *carrier.QuoteRequest, session *carrier.Session) ([]*carrier.Quote, error) {
	c.logger.Info("Getting InterRapidísimo prices",
		zap.String("origin_city", req.Origin.City),
		zap.String("destination_city", req.Destination.City),
		zap.Int("package_count", len(req.Packages)),
	)

	apiReq := &QuoteRequest{
		OriginCity: req.Origin.City,
		DestCity:   req.Destination.City,
		Pieces:     len(req.Packages),
		WeightKG:   req.TotalWeightKG(),
	}
	for _, p := range req.Packages {
		apiReq.DeclaredValue += p.DeclaredValue.Amount
	}

	apiResp, err := c.apiClient.GetQuote(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("InterRapidísimo API error", zap.Error(err))
		return nil, c.classify("RATES_FAILED", err)
	}

	validUntil := time.Now().Add(30 * time.Minute)
	quotes := make([]*carrier.Quote, len(apiResp.Services))
	for i, s := range apiResp.Services {
		quotes[i] = &carrier.Quote{
			ID:          carrierName + "-" + s.Code,
			Carrier:     carrierName,
			ServiceCode: s.Code,
			ServiceName: s.Name,
			TotalPrice:  carrier.Money{Amount: s.Total, Currency: s.Currency},
			TransitDays: s.DeliveryDays,
			ValidUntil:  validUntil,
			Ref:         s.Code,
		}
	}
	return quotes, nil
}

// CreateLabel generates a shipment with InterRapidísimo.
func (c *Client) CreateLabel(ctx context.Context, ref string, details *carrier.ShipmentDetails, session *carrier.Session) (*carrier.Shipment, error) {
	c.logger.Info("Creating InterRapidísimo shipment",
		zap.String("service_ref", ref),
		zap.String("recipient", details.Recipient.Name),
	)

	apiReq := &ShipmentRequest{
		ServiceCode:     serviceCodeFromRef(ref),
		OriginCity:      details.SenderAddress.City,
		DestCity:        details.RecipientAddress.City,
		Pieces:          len(details.Packages),
		SenderName:      details.Sender.Name,
		SenderPhone:     details.Sender.Phone,
		SenderAddress:   joinAddress(details.SenderAddress),
		ReceiverName:    details.Recipient.Name,
		ReceiverPhone:   details.Recipient.Phone,
		ReceiverAddress: joinAddress(details.RecipientAddress),
		Reference:       details.OrderRef,
	}
	for _, p := range details.Packages {
		w := p.Weight
		if p.WeightUnit == carrier.WeightLB {
			w *= 0.453592
		}
		apiReq.WeightKG += w
		apiReq.DeclaredValue += p.DeclaredValue.Amount
	}

	apiResp, err := c.apiClient.CreateShipment(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("InterRapidísimo API error", zap.Error(err))
		return nil, c.classify("SHIPMENT_FAILED", err)
	}

	return &carrier.Shipment{
		TrackingNumber: apiResp.ShipmentNumber,
		Carrier:        carrierName,
		Label:          carrier.Label{Format: carrier.LabelPDF, URL: apiResp.LabelURL},
		Cost:           carrier.Money{Amount: apiResp.Total, Currency: apiResp.Currency},
		CreatedAt:      time.Now(),
		OrderRef:       details.OrderRef,
	}, nil
}

// Track returns InterRapidísimo's shipment states.
func (c *Client) Track(ctx context.Context, trackingNumber string, session *carrier.Session) ([]*carrier.TrackingEvent, error) {
	apiResp, err := c.apiClient.GetTracking(ctx, session.Token, trackingNumber)
	if err != nil {
		c.logger.Error("InterRapidísimo API error", zap.Error(err))
		return nil, c.classify("TRACKING_FAILED", err)
	}

	events := make([]*carrier.TrackingEvent, len(apiResp.States))
	for i, s := range apiResp.States {
		events[i] = stateToModel(trackingNumber, s)
	}
	if len(events) == 0 {
		return nil, carrier.NewError(carrierName, carrier.ClassNotFound, "TRACKING_NOT_FOUND", "no states for shipment "+trackingNumber)
	}
	return events, nil
}

// Cancel is not supported by InterRapidísimo.
func (c *Client) Cancel(ctx context.Context, trackingNumber string, session *carrier.Session) error {
	return carrier.ErrCapabilityUnsupported
}

// SchedulePickup books a collection with InterRapidísimo.
func (c *Client) SchedulePickup(ctx context.Context, req *carrier.PickupRequest, session *carrier.Session) (*carrier.Pickup, error) {
	apiReq := &PickupRequest{
		Address:      joinAddress(req.Address),
		City:         req.Address.City,
		ContactName:  req.Contact.Name,
		ContactPhone: req.Contact.Phone,
		Date:         req.Date.Format("2006-01-02"),
		TimeWindow:   req.ReadyTime + "-" + req.CloseTime,
		Pieces:       len(req.Packages),
	}

	apiResp, err := c.apiClient.SchedulePickup(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("InterRapidísimo API error", zap.Error(err))
		return nil, c.classify("PICKUP_FAILED", err)
	}

	return &carrier.Pickup{
		ConfirmationID: apiResp.Confirmation,
		Carrier:        carrierName,
		Date:           req.Date,
		Window:         apiReq.TimeWindow,
	}, nil
}

// ValidateWebhookSignature checks the X-Inter-Firma header: HMAC-SHA256
// over "<X-Inter-Fecha>.<body>" with the shared webhook secret.
func (c *Client) ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool {
	return carrier.VerifyWebhookSignature(
		secret,
		headers.Get("X-Inter-Fecha"),
		body,
		headers.Get("X-Inter-Firma"),
	)
}

// ParseWebhookEvent decodes an InterRapidísimo state notification body.
func (c *Client) ParseWebhookEvent(body []byte) (*carrier.WebhookDelivery, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, carrier.NewError(carrierName, carrier.ClassValidation, "WEBHOOK_MALFORMED", "webhook body is not valid JSON").WithCause(err)
	}
	if payload.ShipmentNumber == "" {
		return nil, carrier.NewError(carrierName, carrier.ClassValidation, "WEBHOOK_MALFORMED", "webhook body has no shipment number")
	}

	ts, err := time.Parse(time.RFC3339, payload.Date)
	if err != nil {
		ts = time.Now()
	}

	return &carrier.WebhookDelivery{
		EventID: payload.EventID,
		Event: carrier.TrackingEvent{
			TrackingNumber: payload.ShipmentNumber,
			Status:         carrier.NormalizeStatus(statusTable, payload.StateCode),
			NativeStatus:   payload.StateCode,
			Description:    payload.Description,
			Location:       payload.City,
			Timestamp:      ts,
			Source:         carrier.SourceWebhook,
		},
	}, nil
}

// classify maps a raw API failure to a classified carrier error.
func (c *Client) classify(code string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		class := carrier.ClassTransient
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			class = carrier.ClassAuth
		case apiErr.StatusCode == http.StatusNotFound:
			class = carrier.ClassNotFound
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			class = carrier.ClassValidation
		}
		return carrier.NewError(carrierName, class, code, apiErr.Message).WithCause(err)
	}
	return carrier.NewError(carrierName, carrier.ClassTransient, code, "InterRapidísimo request failed").WithCause(err)
}

// ============================================================================
// Conversion helpers
// ============================================================================

// statusTable maps InterRapidísimo state codes to the canonical
// vocabulary. EN_PUNTO is the pickup-point state.
var statusTable = map[string]carrier.Status{
	"ADMITIDO":   carrier.StatusCreated,
	"RECOGIDO":   carrier.StatusPickedUp,
	"EN_RUTA":    carrier.StatusInTransit,
	"EN_BODEGA":  carrier.StatusInTransit,
	"EN_PUNTO":   carrier.StatusAtPickupPoint,
	"EN_REPARTO": carrier.StatusOutForDelivery,
	"ENTREGADO":  carrier.StatusDelivered,
	"DEVUELTO":   carrier.StatusReturned,
	"NOVEDAD":    carrier.StatusFailed,
}

func joinAddress(a carrier.Address) string {
	parts := []string{a.Line1}
	if a.Line2 != "" {
		parts = append(parts, a.Line2)
	}
	parts = append(parts, a.City)
	return strings.Join(parts, ", ")
}

// serviceCodeFromRef recovers the service code from a rate reference.
// InterRapidísimo rate references are the service code itself.
func serviceCodeFromRef(ref string) string {
	if ref == "" {
		return "ESTANDAR"
	}
	return ref
}

func stateToModel(trackingNumber string, s State) *carrier.TrackingEvent {
	ts, err := time.Parse(time.RFC3339, s.Date)
	if err != nil {
		ts = time.Now()
	}
	location := s.City
	if s.PickupPoint != "" {
		location = s.PickupPoint + ", " + s.City
	}
	return &carrier.TrackingEvent{
		TrackingNumber: trackingNumber,
		Status:         carrier.NormalizeStatus(statusTable, s.Code),
		NativeStatus:   s.Code,
		Description:    s.Description,
		Location:       location,
		Timestamp:      ts,
		Source:         carrier.SourcePolled,
	}
}

// Interface conformance
var (
	_ carrier.Adapter         = (*Client)(nil)
	_ carrier.PickupScheduler = (*Client)(nil)
)

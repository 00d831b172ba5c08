// Package servientrega provides integration with the Servientrega SOAP
// web service (the Colombian domestic carrier).
package servientrega

import (
	"context"
	"encoding/base64"
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

const carrierName = "servientrega"

// Config holds Servientrega configuration.
type Config struct {
	WSDLURL string
	UseMock bool // When true, uses mock API client
}

// Client is the Servientrega carrier adapter.
type Client struct {
	config    Config
	apiClient APIClient
	sessions  *carrier.SessionCache
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Servientrega client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewSOAPAPIClient(SOAPAPIClientConfig{
			WSDLURL: cfg.WSDLURL,
			Timeout: 30 * time.Second,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Servientrega client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		sessions:  carrier.NewSessionCache(),
		logger:    logger,
		tracer:    tracer,
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// Capabilities returns the operations Servientrega supports.
func (c *Client) Capabilities() carrier.CapabilitySet {
	return carrier.NewCapabilitySet(
		carrier.CapQuote,
		carrier.CapLabel,
		carrier.CapTrack,
		carrier.CapPickup,
		carrier.CapCancel,
	)
}

// Authenticate exchanges account credentials for a service token.
func (c *Client) Authenticate(ctx context.Context, cred *carrier.Credential) (*carrier.Session, error) {
	return c.sessions.Get(ctx, func(ctx context.Context) (*carrier.Session, error) {
		login, err := c.apiClient.Login(ctx, cred.Secret("username"), cred.Secret("password"))
		if err != nil {
			c.logger.Error("Servientrega login failed", zap.Error(err))
			return nil, c.classify("AUTH_FAILED", err)
		}
		return &carrier.Session{
			Token:     login.Token,
			ExpiresAt: time.Now().Add(time.Duration(login.LifetimeSecs) * time.Second),
		}, nil
	})
}

// Quote returns priced shipping offers from Servientrega.
func (c *Client) Quote(ctx context.Context, req *carrier.QuoteRequest, session *carrier.Session) ([]*carrier.Quote, error) {
	c.logger.Info("Getting Servientrega liquidation",
		zap.String("origin_city", req.Origin.City),
		zap.String("destination_city", req.Destination.City),
		zap.Int("package_count", len(req.Packages)),
	)

	apiResp, err := c.apiClient.GetQuote(ctx, session.Token, quoteToAPI(req))
	if err != nil {
		c.logger.Error("Servientrega API error", zap.Error(err))
		return nil, c.classify("RATES_FAILED", err)
	}

	validUntil := time.Now().Add(30 * time.Minute)
	quotes := make([]*carrier.Quote, len(apiResp.Options))
	for i, opt := range apiResp.Options {
		quotes[i] = &carrier.Quote{
			ID:          carrierName + "-" + opt.ProductCode,
			Carrier:     carrierName,
			ServiceCode: opt.ProductCode,
			ServiceName: opt.ProductName,
			TotalPrice:  carrier.Money{Amount: opt.Total, Currency: opt.Currency},
			TransitDays: opt.DeliveryDays,
			ValidUntil:  validUntil,
			Ref:         opt.ProductCode,
		}
	}
	return quotes, nil
}

// CreateLabel generates a guide (waybill) with Servientrega.
func (c *Client) CreateLabel(ctx context.Context, ref string, details *carrier.ShipmentDetails, session *carrier.Session) (*carrier.Shipment, error) {
	c.logger.Info("Generating Servientrega guide",
		zap.String("product_ref", ref),
		zap.String("recipient", details.Recipient.Name),
	)

	apiReq := &GuideRequest{
		ProductCode:     productCodeFromRef(ref),
		Quote:           *shipmentToQuoteAPI(details),
		SenderName:      details.Sender.Name,
		SenderPhone:     details.Sender.Phone,
		SenderAddress:   joinAddress(details.SenderAddress),
		ReceiverName:    details.Recipient.Name,
		ReceiverPhone:   details.Recipient.Phone,
		ReceiverAddress: joinAddress(details.RecipientAddress),
		Reference:       details.OrderRef,
		Observations:    details.Instructions,
	}

	apiResp, err := c.apiClient.CreateGuide(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("Servientrega API error", zap.Error(err))
		return nil, c.classify("SHIPMENT_FAILED", err)
	}

	var label carrier.Label
	if data, err := base64.StdEncoding.DecodeString(apiResp.LabelData); err == nil {
		label = carrier.Label{Format: carrier.LabelPDF, Data: data}
	}

	return &carrier.Shipment{
		TrackingNumber: apiResp.GuideNumber,
		Carrier:        carrierName,
		Label:          label,
		Cost:           carrier.Money{Amount: apiResp.Total, Currency: apiResp.Currency},
		CreatedAt:      time.Now(),
		OrderRef:       details.OrderRef,
	}, nil
}

// Track returns Servientrega's guide movements.
func (c *Client) Track(ctx context.Context, trackingNumber string, session *carrier.Session) ([]*carrier.TrackingEvent, error) {
	apiResp, err := c.apiClient.GetTracking(ctx, session.Token, trackingNumber)
	if err != nil {
		c.logger.Error("Servientrega API error", zap.Error(err))
		return nil, c.classify("TRACKING_FAILED", err)
	}

	events := make([]*carrier.TrackingEvent, len(apiResp.Movements))
	for i, m := range apiResp.Movements {
		events[i] = movementToModel(trackingNumber, m)
	}
	if len(events) == 0 {
		return nil, carrier.NewError(carrierName, carrier.ClassNotFound, "TRACKING_NOT_FOUND", "no movements for guide "+trackingNumber)
	}
	return events, nil
}

// Cancel annuls a guide with Servientrega.
func (c *Client) Cancel(ctx context.Context, trackingNumber string, session *carrier.Session) error {
	c.logger.Info("Annulling Servientrega guide", zap.String("tracking_number", trackingNumber))

	if err := c.apiClient.CancelGuide(ctx, session.Token, trackingNumber); err != nil {
		c.logger.Error("Servientrega API error", zap.Error(err))
		return c.classify("CANCEL_FAILED", err)
	}
	return nil
}

// SchedulePickup books a collection with Servientrega.
func (c *Client) SchedulePickup(ctx context.Context, req *carrier.PickupRequest, session *carrier.Session) (*carrier.Pickup, error) {
	apiReq := &PickupRequest{
		Address:      joinAddress(req.Address),
		City:         req.Address.City,
		ContactName:  req.Contact.Name,
		ContactPhone: req.Contact.Phone,
		Date:         req.Date.Format("2006-01-02"),
		TimeWindow:   req.ReadyTime + "-" + req.CloseTime,
		Pieces:       len(req.Packages),
		Observations: req.Instructions,
	}

	apiResp, err := c.apiClient.SchedulePickup(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("Servientrega API error", zap.Error(err))
		return nil, c.classify("PICKUP_FAILED", err)
	}

	return &carrier.Pickup{
		ConfirmationID: apiResp.Confirmation,
		Carrier:        carrierName,
		Date:           req.Date,
		Window:         apiReq.TimeWindow,
	}, nil
}

// ValidateWebhookSignature checks the X-Servientrega-Firma header:
// HMAC-SHA256 over "<X-Servientrega-Fecha>.<body>" with the shared secret.
func (c *Client) ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool {
	return carrier.VerifyWebhookSignature(
		secret,
		headers.Get("X-Servientrega-Fecha"),
		body,
		headers.Get("X-Servientrega-Firma"),
	)
}

// ParseWebhookEvent decodes a Servientrega movement notification body.
func (c *Client) ParseWebhookEvent(body []byte) (*carrier.WebhookDelivery, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, carrier.NewError(carrierName, carrier.ClassValidation, "WEBHOOK_MALFORMED", "webhook body is not valid JSON").WithCause(err)
	}
	if payload.NumeroGuia == "" {
		return nil, carrier.NewError(carrierName, carrier.ClassValidation, "WEBHOOK_MALFORMED", "webhook body has no guide number")
	}

	ts, err := time.Parse(time.RFC3339, payload.Fecha)
	if err != nil {
		ts = time.Now()
	}

	return &carrier.WebhookDelivery{
		EventID: payload.IDNovedad,
		Event: carrier.TrackingEvent{
			TrackingNumber: payload.NumeroGuia,
			Status:         carrier.NormalizeStatus(statusTable, payload.Estado),
			NativeStatus:   payload.Estado,
			Description:    payload.Descripcion,
			Location:       payload.Ciudad,
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
		switch apiErr.Code {
		case "AUTH_FAILED", "HTTP_401", "HTTP_403":
			class = carrier.ClassAuth
			c.sessions.Invalidate()
		case "CANCEL_REJECTED", "GUIDE_FAILED", "HTTP_400":
			class = carrier.ClassValidation
		case "TRACKING_NOT_FOUND", "HTTP_404":
			class = carrier.ClassNotFound
		}
		return carrier.NewError(carrierName, class, code, apiErr.Description).WithCause(err)
	}
	return carrier.NewError(carrierName, carrier.ClassTransient, code, "Servientrega request failed").WithCause(err)
}

// ============================================================================
// Conversion helpers
// ============================================================================

// statusTable maps Servientrega movement states to the canonical
// vocabulary. Servientrega reports states in Spanish.
var statusTable = map[string]carrier.Status{
	"GUIA GENERADA":         carrier.StatusCreated,
	"RECOGIDO":              carrier.StatusPickedUp,
	"EN BODEGA":             carrier.StatusInTransit,
	"EN TRANSPORTE":         carrier.StatusInTransit,
	"EN CENTRO DE SOLUCION": carrier.StatusAtPickupPoint,
	"EN REPARTO":            carrier.StatusOutForDelivery,
	"ENTREGADO":             carrier.StatusDelivered,
	"DEVUELTO":              carrier.StatusReturned,
	"SINIESTRADO":           carrier.StatusFailed,
}

func quoteToAPI(req *carrier.QuoteRequest) *QuoteRequest {
	api := &QuoteRequest{
		OriginCity:    req.Origin.City,
		OriginCountry: req.Origin.CountryCode,
		DestCity:      req.Destination.City,
		DestCountry:   req.Destination.CountryCode,
		Pieces:        len(req.Packages),
		WeightKG:      req.TotalWeightKG(),
	}
	for _, p := range req.Packages {
		api.HeightCM = max(api.HeightCM, p.Height)
		api.LengthCM = max(api.LengthCM, p.Length)
		api.WidthCM = max(api.WidthCM, p.Width)
		api.DeclaredValue += p.DeclaredValue.Amount
	}
	return api
}

func shipmentToQuoteAPI(details *carrier.ShipmentDetails) *QuoteRequest {
	req := &carrier.QuoteRequest{
		Origin:      details.SenderAddress,
		Destination: details.RecipientAddress,
		Packages:    details.Packages,
	}
	return quoteToAPI(req)
}

func joinAddress(a carrier.Address) string {
	parts := []string{a.Line1}
	if a.Line2 != "" {
		parts = append(parts, a.Line2)
	}
	parts = append(parts, a.City)
	return strings.Join(parts, ", ")
}

// productCodeFromRef recovers the product code from a rate reference.
// Servientrega rate references are the product code itself.
func productCodeFromRef(ref string) string {
	if ref == "" {
		return "2" // Mercancía Premier
	}
	return ref
}

func movementToModel(trackingNumber string, m Movement) *carrier.TrackingEvent {
	ts, err := time.Parse("2006-01-02 15:04:05", m.Date)
	if err != nil {
		ts = time.Now()
	}
	return &carrier.TrackingEvent{
		TrackingNumber: trackingNumber,
		Status:         carrier.NormalizeStatus(statusTable, m.State),
		NativeStatus:   m.State,
		Description:    m.Description,
		Location:       m.City,
		Timestamp:      ts,
		Source:         carrier.SourcePolled,
	}
}

// Interface conformance
var (
	_ carrier.Adapter         = (*Client)(nil)
	_ carrier.PickupScheduler = (*Client)(nil)
)

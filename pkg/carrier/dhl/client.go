// Package dhl provides integration with the DHL Express API.
package dhl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/enviora/carrier/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const carrierName = "dhl"

// Config holds DHL configuration.
type Config struct {
	BaseURL string
	UseMock bool // When true, uses mock API client
}

// Client is the DHL carrier adapter.
// It implements the carrier.Adapter interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	sessions  *carrier.SessionCache
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new DHL client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
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

// NewWithAPIClient creates a new DHL client with a custom API client.
// This is useful for injecting mock clients in tests.
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

// Capabilities returns the operations DHL supports.
func (c *Client) Capabilities() carrier.CapabilitySet {
	return carrier.NewCapabilitySet(
		carrier.CapQuote,
		carrier.CapLabel,
		carrier.CapTrack,
		carrier.CapPickup,
		carrier.CapCancel,
	)
}

// Authenticate exchanges client credentials for an OAuth2 bearer token.
// Tokens are cached and refreshed before expiry.
func (c *Client) Authenticate(ctx context.Context, cred *carrier.Credential) (*carrier.Session, error) {
	return c.sessions.Get(ctx, func(ctx context.Context) (*carrier.Session, error) {
		token, err := c.apiClient.GetToken(ctx, cred.Secret("client_id"), cred.Secret("client_secret"))
		if err != nil {
			c.logger.Error("DHL token exchange failed", zap.Error(err))
			return nil, c.classify("AUTH_FAILED", err)
		}
		return &carrier.Session{
			Token:     token.AccessToken,
			ExpiresAt: time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
		}, nil
	})
}

// Quote returns priced shipping offers from DHL.
func (c *Client) Quote(ctx context.Context, req *carrier.QuoteRequest, session *carrier.Session) ([]*carrier.Quote, error) {
	c.logger.Info("Getting DHL rates",
		zap.String("origin_city", req.Origin.City),
		zap.String("destination_city", req.Destination.City),
		zap.Int("package_count", len(req.Packages)),
	)

	apiReq := &RatesRequest{
		CustomerDetails: CustomerDetails{
			ShipperDetails:  addressToAPI(req.Origin),
			ReceiverDetails: addressToAPI(req.Destination),
		},
		PlannedShipping: time.Now().Format(time.RFC3339),
		UnitOfMeasure:   "metric",
		IsCustomsDecl:   req.Origin.CountryCode != req.Destination.CountryCode,
		Packages:        packagesToAPI(req.Packages),
	}

	apiResp, err := c.apiClient.GetRates(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("DHL API error", zap.Error(err))
		return nil, c.classify("RATES_FAILED", err)
	}

	return productsToQuotes(apiResp.Products), nil
}

// CreateLabel redeems a rate reference into a booked shipment with label.
func (c *Client) CreateLabel(ctx context.Context, ref string, details *carrier.ShipmentDetails, session *carrier.Session) (*carrier.Shipment, error) {
	c.logger.Info("Creating DHL shipment",
		zap.String("rate_ref", ref),
		zap.String("recipient", details.Recipient.Name),
	)

	format := string(details.LabelFormat)
	if format == "" {
		format = "pdf"
	}

	apiReq := &ShipmentRequest{
		PlannedShipping: time.Now().Format(time.RFC3339),
		ProductCode:     productCodeFromRef(ref),
		RateRef:         ref,
		OutputImage:     OutputImage{Encoding: format},
		CustomerDetails: ContactDetails{
			ShipperDetails:  partyToAPI(details.SenderAddress, details.Sender),
			ReceiverDetails: partyToAPI(details.RecipientAddress, details.Recipient),
		},
		Content: ShipmentContent{
			Packages:      packagesToAPI(details.Packages),
			IsCustomsDecl: details.SenderAddress.CountryCode != details.RecipientAddress.CountryCode,
			Description:   contentDescription(details.Packages),
			UnitOfMeasure: "metric",
		},
	}
	if details.OrderRef != "" {
		apiReq.CustomerRefs = []CustomerRef{{Value: details.OrderRef, TypeCode: "CU"}}
	}

	apiResp, err := c.apiClient.CreateShipment(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("DHL API error", zap.Error(err))
		return nil, c.classify("SHIPMENT_FAILED", err)
	}

	return shipmentToModel(apiResp, details.OrderRef), nil
}

// Track returns DHL's tracking events for a shipment.
func (c *Client) Track(ctx context.Context, trackingNumber string, session *carrier.Session) ([]*carrier.TrackingEvent, error) {
	apiResp, err := c.apiClient.GetTracking(ctx, session.Token, trackingNumber)
	if err != nil {
		c.logger.Error("DHL API error", zap.Error(err))
		return nil, c.classify("TRACKING_FAILED", err)
	}

	var events []*carrier.TrackingEvent
	for _, s := range apiResp.Shipments {
		if s.TrackingNumber != trackingNumber {
			continue
		}
		for _, e := range s.Events {
			events = append(events, eventToModel(trackingNumber, e))
		}
	}
	if events == nil {
		return nil, carrier.NewError(carrierName, carrier.ClassNotFound, "TRACKING_NOT_FOUND", "no tracking information for "+trackingNumber)
	}
	return events, nil
}

// Cancel voids a shipment with DHL.
func (c *Client) Cancel(ctx context.Context, trackingNumber string, session *carrier.Session) error {
	c.logger.Info("Cancelling DHL shipment", zap.String("tracking_number", trackingNumber))

	if err := c.apiClient.CancelShipment(ctx, session.Token, trackingNumber); err != nil {
		c.logger.Error("DHL API error", zap.Error(err))
		return c.classify("CANCEL_FAILED", err)
	}
	return nil
}

// SchedulePickup books a courier pickup with DHL.
func (c *Client) SchedulePickup(ctx context.Context, req *carrier.PickupRequest, session *carrier.Session) (*carrier.Pickup, error) {
	apiReq := &PickupRequest{
		PlannedPickup: req.Date.Format(time.RFC3339),
		CloseTime:     req.CloseTime,
		Location:      partyToAPI(req.Address, req.Contact),
		Packages:      packagesToAPI(req.Packages),
		Remark:        req.Instructions,
	}

	apiResp, err := c.apiClient.SchedulePickup(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("DHL API error", zap.Error(err))
		return nil, c.classify("PICKUP_FAILED", err)
	}

	confirmation := ""
	if len(apiResp.ConfirmationNumbers) > 0 {
		confirmation = apiResp.ConfirmationNumbers[0]
	}
	return &carrier.Pickup{
		ConfirmationID: confirmation,
		Carrier:        carrierName,
		Date:           req.Date,
		Window:         req.ReadyTime + "-" + req.CloseTime,
	}, nil
}

// ValidateWebhookSignature checks the DHL-Signature header: HMAC-SHA256
// over "<DHL-Timestamp>.<body>" with the shared webhook secret.
func (c *Client) ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool {
	return carrier.VerifyWebhookSignature(
		secret,
		headers.Get("DHL-Timestamp"),
		body,
		headers.Get("DHL-Signature"),
	)
}

// ParseWebhookEvent decodes a DHL push notification body.
func (c *Client) ParseWebhookEvent(body []byte) (*carrier.WebhookDelivery, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, carrier.NewError(carrierName, carrier.ClassValidation, "WEBHOOK_MALFORMED", "webhook body is not valid JSON").WithCause(err)
	}
	if payload.TrackingNumber == "" {
		return nil, carrier.NewError(carrierName, carrier.ClassValidation, "WEBHOOK_MALFORMED", "webhook body has no tracking number")
	}

	ts, err := time.Parse(time.RFC3339, payload.Timestamp)
	if err != nil {
		ts = time.Now()
	}

	return &carrier.WebhookDelivery{
		EventID: payload.EventID,
		Event: carrier.TrackingEvent{
			TrackingNumber: payload.TrackingNumber,
			Status:         carrier.NormalizeStatus(statusTable, payload.Status),
			NativeStatus:   payload.Status,
			Description:    payload.Description,
			Location:       payload.Location,
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
			c.sessions.Invalidate()
		case apiErr.StatusCode == http.StatusNotFound:
			class = carrier.ClassNotFound
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			class = carrier.ClassValidation
		}
		return carrier.NewError(carrierName, class, code, apiErr.Title).WithCause(err)
	}
	return carrier.NewError(carrierName, carrier.ClassTransient, code, "DHL request failed").WithCause(err)
}

// ============================================================================
// Conversion helpers
// ============================================================================

// statusTable maps DHL event type codes to the canonical vocabulary.
var statusTable = map[string]carrier.Status{
	"SD":        carrier.StatusCreated,
	"PU":        carrier.StatusPickedUp,
	"AF":        carrier.StatusInTransit,
	"DF":        carrier.StatusInTransit,
	"PL":        carrier.StatusInTransit,
	"transit":   carrier.StatusInTransit,
	"WC":        carrier.StatusOutForDelivery,
	"OD":        carrier.StatusOutForDelivery,
	"OK":        carrier.StatusDelivered,
	"delivered": carrier.StatusDelivered,
	"RT":        carrier.StatusReturned,
	"CM":        carrier.StatusFailed,
	"failure":   carrier.StatusFailed,
}

func addressToAPI(a carrier.Address) PostalAddress {
	return PostalAddress{
		PostalCode:  a.PostalCode,
		CityName:    a.City,
		CountryCode: a.CountryCode,
		AddressLine: a.Line1,
	}
}

func partyToAPI(a carrier.Address, contact carrier.Contact) Party {
	return Party{
		PostalAddress: addressToAPI(a),
		ContactInfo: ContactInfo{
			FullName:    contact.Name,
			CompanyName: contact.Company,
			Phone:       contact.Phone,
			Email:       contact.Email,
		},
	}
}

func packagesToAPI(pkgs []carrier.Package) []Package {
	result := make([]Package, len(pkgs))
	for i, p := range pkgs {
		weight := p.Weight
		if p.WeightUnit == carrier.WeightLB {
			weight *= 0.453592
		}
		result[i] = Package{
			Weight: weight,
			Dimensions: Dimensions{
				Length: p.Length,
				Width:  p.Width,
				Height: p.Height,
			},
		}
	}
	return result
}

func contentDescription(pkgs []carrier.Package) string {
	for _, p := range pkgs {
		if p.Description != "" {
			return p.Description
		}
	}
	return "General merchandise"
}

func productsToQuotes(products []Product) []*carrier.Quote {
	validUntil := time.Now().Add(30 * time.Minute)
	quotes := make([]*carrier.Quote, 0, len(products))
	for _, p := range products {
		price, ok := billingPrice(p.TotalPrice)
		if !ok {
			continue
		}

		breakdown := make([]carrier.PriceComponent, len(p.Breakdown))
		for i, item := range p.Breakdown {
			breakdown[i] = carrier.PriceComponent{
				Code:   item.Name,
				Amount: carrier.Money{Amount: item.Price, Currency: price.Currency},
			}
		}

		quotes = append(quotes, &carrier.Quote{
			ID:          carrierName + "-" + p.ProductCode,
			Carrier:     carrierName,
			ServiceCode: p.ProductCode,
			ServiceName: p.ProductName,
			TotalPrice:  carrier.Money{Amount: price.Price, Currency: price.Currency},
			Breakdown:   breakdown,
			TransitDays: p.DeliveryCaps.TotalTransitDays,
			ValidUntil:  validUntil,
			Ref:         p.ProductCode,
		})
	}
	return quotes
}

func billingPrice(prices []Price) (Price, bool) {
	for _, p := range prices {
		if p.CurrencyType == "BILLC" {
			return p, true
		}
	}
	if len(prices) > 0 {
		return prices[0], true
	}
	return Price{}, false
}

// productCodeFromRef recovers the product code from a rate reference.
// DHL rate references are the product code itself.
func productCodeFromRef(ref string) string {
	if ref == "" {
		return "P"
	}
	return ref
}

func shipmentToModel(resp *ShipmentResponse, orderRef string) *carrier.Shipment {
	var label carrier.Label
	for _, doc := range resp.Documents {
		if doc.TypeCode != "label" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(doc.Content)
		if err != nil {
			continue
		}
		label = carrier.Label{
			Format: labelFormat(doc.ImageFormat),
			Data:   data,
		}
		break
	}

	var cost carrier.Money
	if p, ok := billingPrice(resp.ShipmentCharge); ok {
		cost = carrier.Money{Amount: p.Price, Currency: p.Currency}
	}

	return &carrier.Shipment{
		TrackingNumber: resp.TrackingNumber,
		Carrier:        carrierName,
		Label:          label,
		Cost:           cost,
		CreatedAt:      time.Now(),
		OrderRef:       orderRef,
	}
}

func labelFormat(format string) carrier.LabelFormat {
	switch format {
	case "ZPL", "zpl":
		return carrier.LabelZPL
	case "PNG", "png":
		return carrier.LabelPNG
	default:
		return carrier.LabelPDF
	}
}

func eventToModel(trackingNumber string, e Event) *carrier.TrackingEvent {
	ts, err := time.Parse("2006-01-02 15:04:05", e.Date+" "+e.Time)
	if err != nil {
		ts = time.Now()
	}
	return &carrier.TrackingEvent{
		TrackingNumber: trackingNumber,
		Status:         carrier.NormalizeStatus(statusTable, e.TypeCode),
		NativeStatus:   e.TypeCode,
		Description:    e.Description,
		Location:       e.Location,
		Timestamp:      ts,
		Source:         carrier.SourcePolled,
	}
}

// Interface conformance
var (
	_ carrier.Adapter         = (*Client)(nil)
	_ carrier.PickupScheduler = (*Client)(nil)
)

// Package ups provides integration with the UPS REST API.
package ups

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/enviora/carrier/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const carrierName = "ups"

// Config holds UPS configuration.
type Config struct {
	BaseURL string
	UseMock bool // When true, uses mock API client
}

// Client is the UPS carrier adapter.
type Client struct {
	config    Config
	apiClient APIClient
	sessions  *carrier.SessionCache
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new UPS client.
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

// NewWithAPIClient creates a new UPS client with a custom API client.
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

// Capabilities returns the operations UPS supports.
func (c *Client) Capabilities() carrier.CapabilitySet {
	return carrier.NewCapabilitySet(
		carrier.CapQuote,
		carrier.CapLabel,
		carrier.CapTrack,
		carrier.CapCancel,
	)
}

// Authenticate exchanges client credentials for an OAuth2 bearer token.
func (c *Client) Authenticate(ctx context.Context, cred *carrier.Credential) (*carrier.Session, error) {
	return c.sessions.Get(ctx, func(ctx context.Context) (*carrier.Session, error) {
		token, err := c.apiClient.GetToken(ctx, cred.Secret("client_id"), cred.Secret("client_secret"))
		if err != nil {
			c.logger.Error("UPS token exchange failed", zap.Error(err))
			return nil, c.classify("AUTH_FAILED", err)
		}
		lifetime, _ := strconv.Atoi(token.ExpiresIn)
		if lifetime == 0 {
			lifetime = 14400
		}
		return &carrier.Session{
			Token:     token.AccessToken,
			ExpiresAt: time.Now().Add(time.Duration(lifetime) * time.Second),
		}, nil
	})
}

// Quote returns priced shipping offers from UPS.
func (c *Client) Quote(ctx context.Context, req *carrier.QuoteRequest, session *carrier.Session) ([]*carrier.Quote, error) {
	c.logger.Info("Getting UPS rates",
		zap.String("origin_city", req.Origin.City),
		zap.String("destination_city", req.Destination.City),
		zap.Int("package_count", len(req.Packages)),
	)

	apiReq := &RateRequest{
		Shipment: RateShipment{
			Shipper:  RateParty{Address: addressToAPI(req.Origin)},
			ShipTo:   RateParty{Address: addressToAPI(req.Destination)},
			Packages: packagesToAPI(req.Packages),
		},
	}

	apiResp, err := c.apiClient.ShopRates(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("UPS API error", zap.Error(err))
		return nil, c.classify("RATES_FAILED", err)
	}

	return ratedToQuotes(apiResp.RateResponse.RatedShipments), nil
}

// CreateLabel books a shipment with UPS using a previously quoted service.
func (c *Client) CreateLabel(ctx context.Context, ref string, details *carrier.ShipmentDetails, session *carrier.Session) (*carrier.Shipment, error) {
	c.logger.Info("Creating UPS shipment",
		zap.String("service_ref", ref),
		zap.String("recipient", details.Recipient.Name),
	)

	imageCode := "PDF"
	if details.LabelFormat == carrier.LabelZPL {
		imageCode = "ZPL"
	}

	apiReq := &ShipRequest{
		ShipmentRequest: ShipmentRequestBody{
			Shipment: ShipShipment{
				Shipper:  shipPartyToAPI(details.SenderAddress, details.Sender),
				ShipTo:   shipPartyToAPI(details.RecipientAddress, details.Recipient),
				Service:  CodeDescription{Code: serviceCodeFromRef(ref)},
				Packages: packagesToAPI(details.Packages),
			},
			LabelSpecification: LabelSpecification{
				LabelImageFormat: CodeDescription{Code: imageCode},
			},
		},
	}
	if details.OrderRef != "" {
		apiReq.ShipmentRequest.Shipment.ReferenceNumber = []CodeValue{{Code: "PO", Value: details.OrderRef}}
	}

	apiResp, err := c.apiClient.CreateShipment(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("UPS API error", zap.Error(err))
		return nil, c.classify("SHIPMENT_FAILED", err)
	}

	return resultsToModel(&apiResp.ShipmentResponse.ShipmentResults, details.OrderRef), nil
}

// Track returns UPS's tracking activity for a shipment.
func (c *Client) Track(ctx context.Context, trackingNumber string, session *carrier.Session) ([]*carrier.TrackingEvent, error) {
	apiResp, err := c.apiClient.GetTracking(ctx, session.Token, trackingNumber)
	if err != nil {
		c.logger.Error("UPS API error", zap.Error(err))
		return nil, c.classify("TRACKING_FAILED", err)
	}

	var events []*carrier.TrackingEvent
	for _, shipment := range apiResp.TrackResponse.Shipment {
		for _, pkg := range shipment.Package {
			if pkg.TrackingNumber != trackingNumber {
				continue
			}
			for _, a := range pkg.Activity {
				events = append(events, activityToModel(trackingNumber, a))
			}
		}
	}
	if events == nil {
		return nil, carrier.NewError(carrierName, carrier.ClassNotFound, "TRACKING_NOT_FOUND", "no tracking information for "+trackingNumber)
	}
	return events, nil
}

// Cancel voids a shipment with UPS.
func (c *Client) Cancel(ctx context.Context, trackingNumber string, session *carrier.Session) error {
	c.logger.Info("Voiding UPS shipment", zap.String("tracking_number", trackingNumber))

	if err := c.apiClient.VoidShipment(ctx, session.Token, trackingNumber); err != nil {
		c.logger.Error("UPS API error", zap.Error(err))
		return c.classify("CANCEL_FAILED", err)
	}
	return nil
}

// ValidateWebhookSignature checks the UPS-Signature header: HMAC-SHA256
// over "<UPS-Timestamp>.<body>" with the shared webhook secret.
func (c *Client) ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool {
	return carrier.VerifyWebhookSignature(
		secret,
		headers.Get("UPS-Timestamp"),
		body,
		headers.Get("UPS-Signature"),
	)
}

// ParseWebhookEvent decodes a UPS push notification body.
func (c *Client) ParseWebhookEvent(body []byte) (*carrier.WebhookDelivery, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, carrier.NewError(carrierName, carrier.ClassValidation, "WEBHOOK_MALFORMED", "webhook body is not valid JSON").WithCause(err)
	}
	if payload.TrackingNumber == "" {
		return nil, carrier.NewError(carrierName, carrier.ClassValidation, "WEBHOOK_MALFORMED", "webhook body has no tracking number")
	}

	ts, err := time.Parse(time.RFC3339, payload.ActivityAt)
	if err != nil {
		ts = time.Now()
	}

	return &carrier.WebhookDelivery{
		EventID: payload.DeliveryID,
		Event: carrier.TrackingEvent{
			TrackingNumber: payload.TrackingNumber,
			Status:         carrier.NormalizeStatus(statusTable, payload.ActivityType),
			NativeStatus:   payload.ActivityType,
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
		msg := "UPS request failed"
		if len(apiErr.Response.Errors) > 0 {
			msg = apiErr.Response.Errors[0].Message
		}
		return carrier.NewError(carrierName, class, code, msg).WithCause(err)
	}
	return carrier.NewError(carrierName, carrier.ClassTransient, code, "UPS request failed").WithCause(err)
}

// ============================================================================
// Conversion helpers
// ============================================================================

// statusTable maps UPS activity type codes to the canonical vocabulary.
var statusTable = map[string]carrier.Status{
	"M":  carrier.StatusCreated,
	"P":  carrier.StatusPickedUp,
	"I":  carrier.StatusInTransit,
	"O":  carrier.StatusOutForDelivery,
	"D":  carrier.StatusDelivered,
	"X":  carrier.StatusFailed,
	"RS": carrier.StatusReturned,
}

// serviceNames maps UPS service codes to display names.
var serviceNames = map[string]string{
	"07": "UPS Worldwide Express",
	"08": "UPS Worldwide Expedited",
	"11": "UPS Standard",
	"54": "UPS Worldwide Express Plus",
	"65": "UPS Worldwide Saver",
}

func addressToAPI(a carrier.Address) RateAddress {
	var lines []string
	if a.Line1 != "" {
		lines = append(lines, a.Line1)
	}
	if a.Line2 != "" {
		lines = append(lines, a.Line2)
	}
	return RateAddress{
		AddressLine:       lines,
		City:              a.City,
		StateProvinceCode: a.Region,
		PostalCode:        a.PostalCode,
		CountryCode:       a.CountryCode,
	}
}

func shipPartyToAPI(a carrier.Address, contact carrier.Contact) ShipParty {
	name := contact.Company
	if name == "" {
		name = contact.Name
	}
	return ShipParty{
		Name:          name,
		AttentionName: contact.Name,
		Phone:         ShipPhone{Number: contact.Phone},
		Address:       addressToAPI(a),
	}
}

func packagesToAPI(pkgs []carrier.Package) []RatePackage {
	result := make([]RatePackage, len(pkgs))
	for i, p := range pkgs {
		weightUnit := "KGS"
		if p.WeightUnit == carrier.WeightLB {
			weightUnit = "LBS"
		}
		dimUnit := "CM"
		if p.DimensionUnit == carrier.DimensionIN {
			dimUnit = "IN"
		}
		result[i] = RatePackage{
			PackagingType: CodeDescription{Code: "02", Description: "Package"},
			Dimensions: RateDimensions{
				UnitOfMeasurement: CodeDescription{Code: dimUnit},
				Length:            formatFloat(p.Length),
				Width:             formatFloat(p.Width),
				Height:            formatFloat(p.Height),
			},
			PackageWeight: RateWeight{
				UnitOfMeasurement: CodeDescription{Code: weightUnit},
				Weight:            formatFloat(p.Weight),
			},
		}
	}
	return result
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func ratedToQuotes(rated []RatedShipment) []*carrier.Quote {
	validUntil := time.Now().Add(30 * time.Minute)
	quotes := make([]*carrier.Quote, 0, len(rated))
	for _, r := range rated {
		amount, err := strconv.ParseFloat(r.TotalCharges.MonetaryValue, 64)
		if err != nil {
			continue
		}

		transitDays := 0
		if r.GuaranteedDelivery != nil {
			transitDays, _ = strconv.Atoi(r.GuaranteedDelivery.BusinessDaysInTransit)
		}

		name := r.Service.Description
		if name == "" {
			name = serviceNames[r.Service.Code]
		}

		quotes = append(quotes, &carrier.Quote{
			ID:          carrierName + "-" + r.Service.Code,
			Carrier:     carrierName,
			ServiceCode: r.Service.Code,
			ServiceName: name,
			TotalPrice:  carrier.Money{Amount: amount, Currency: r.TotalCharges.CurrencyCode},
			TransitDays: transitDays,
			ValidUntil:  validUntil,
			Ref:         r.Service.Code,
		})
	}
	return quotes
}

// serviceCodeFromRef recovers the service code from a rate reference.
// UPS rate references are the service code itself.
func serviceCodeFromRef(ref string) string {
	if ref == "" {
		return "08"
	}
	return ref
}

func resultsToModel(results *ShipmentResults, orderRef string) *carrier.Shipment {
	var label carrier.Label
	trackingNumber := results.ShipmentIdentificationNumber
	for _, pkg := range results.PackageResults {
		if trackingNumber == "" {
			trackingNumber = pkg.TrackingNumber
		}
		data, err := base64.StdEncoding.DecodeString(pkg.ShippingLabel.GraphicImage)
		if err != nil {
			continue
		}
		format := carrier.LabelPDF
		if pkg.ShippingLabel.ImageFormat.Code == "ZPL" {
			format = carrier.LabelZPL
		}
		label = carrier.Label{Format: format, Data: data}
		break
	}

	var cost carrier.Money
	if results.ShipmentCharges != nil {
		amount, _ := strconv.ParseFloat(results.ShipmentCharges.TotalCharges.MonetaryValue, 64)
		cost = carrier.Money{Amount: amount, Currency: results.ShipmentCharges.TotalCharges.CurrencyCode}
	}

	return &carrier.Shipment{
		TrackingNumber: trackingNumber,
		Carrier:        carrierName,
		Label:          label,
		Cost:           cost,
		CreatedAt:      time.Now(),
		OrderRef:       orderRef,
	}
}

func activityToModel(trackingNumber string, a Activity) *carrier.TrackingEvent {
	ts, err := time.Parse("20060102 150405", a.Date+" "+a.Time)
	if err != nil {
		ts = time.Now()
	}
	location := a.Location.Address.City
	if a.Location.Address.StateProvinceCode != "" {
		location += ", " + a.Location.Address.StateProvinceCode
	}
	return &carrier.TrackingEvent{
		TrackingNumber: trackingNumber,
		Status:         carrier.NormalizeStatus(statusTable, a.Status.Type),
		NativeStatus:   a.Status.Type,
		Description:    a.Status.Description,
		Location:       location,
		Timestamp:      ts,
		Source:         carrier.SourcePolled,
	}
}

var _ carrier.Adapter = (*Client)(nil)

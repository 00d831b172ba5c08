// Package fedex provides integration with the FedEx REST API.
package fedex

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

const carrierName = "fedex"

// Config holds FedEx configuration.
type Config struct {
	BaseURL       string
	AccountNumber string
	UseMock       bool // When true, uses mock API client
}

// Client is the FedEx carrier adapter.
type Client struct {
	config    Config
	apiClient APIClient
	sessions  *carrier.SessionCache
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new FedEx client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:       cfg.BaseURL,
			AccountNumber: cfg.AccountNumber,
			Timeout:       30 * time.Second,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new FedEx client with a custom API client.
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

// Capabilities returns the operations FedEx supports.
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
			c.logger.Error("FedEx token exchange failed", zap.Error(err))
			return nil, c.classify("AUTH_FAILED", err)
		}
		return &carrier.Session{
			Token:     token.AccessToken,
			ExpiresAt: time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
		}, nil
	})
}

// Quote returns priced shipping offers from FedEx.
func (c *Client) Quote(ctx context.Context, req *carrier.QuoteRequest, session *carrier.Session) ([]*carrier.Quote, error) {
	c.logger.Info("Getting FedEx rates",
		zap.String("origin_city", req.Origin.City),
		zap.String("destination_city", req.Destination.City),
		zap.Int("package_count", len(req.Packages)),
	)

	apiReq := &RatesRequest{
		RequestedShipment: RequestedShipment{
			Shipper:           Party{Address: addressToAPI(req.Origin)},
			Recipient:         Party{Address: addressToAPI(req.Destination)},
			PackagingType:     "YOUR_PACKAGING",
			PickupType:        "DROPOFF_AT_FEDEX_LOCATION",
			RateTypes:         []string{"ACCOUNT"},
			RequestedPackages: packagesToAPI(req.Packages),
		},
		RateRequestControl: RateRequestControl{ReturnTransitTimes: true},
	}

	apiResp, err := c.apiClient.GetRates(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("FedEx API error", zap.Error(err))
		return nil, c.classify("RATES_FAILED", err)
	}

	return repliesToQuotes(apiResp.Output.RateReplyDetails), nil
}

// CreateLabel books a shipment with FedEx using a previously quoted service.
func (c *Client) CreateLabel(ctx context.Context, ref string, details *carrier.ShipmentDetails, session *carrier.Session) (*carrier.Shipment, error) {
	c.logger.Info("Creating FedEx shipment",
		zap.String("service_ref", ref),
		zap.String("recipient", details.Recipient.Name),
	)

	imageType := strings.ToUpper(string(details.LabelFormat))
	if imageType == "" {
		imageType = "PDF"
	}

	apiReq := &ShipmentRequest{
		RequestedShipment: RequestedShipment{
			Shipper:   partyToAPI(details.SenderAddress, details.Sender),
			Recipient: partyToAPI(details.RecipientAddress, details.Recipient),
			ServiceType:   serviceTypeFromRef(ref),
			PackagingType: "YOUR_PACKAGING",
			PickupType:    "DROPOFF_AT_FEDEX_LOCATION",
			RequestedPackages: packagesToAPI(details.Packages),
			LabelSpecification: &LabelSpec{ImageType: imageType, StockType: "PAPER_85X11_TOP_HALF_LABEL"},
			ShippingChargesPayment: &Payment{PaymentType: "SENDER"},
		},
		ShipAction: "CONFIRM",
	}

	apiResp, err := c.apiClient.CreateShipment(ctx, session.Token, apiReq)
	if err != nil {
		c.logger.Error("FedEx API error", zap.Error(err))
		return nil, c.classify("SHIPMENT_FAILED", err)
	}

	if len(apiResp.Output.TransactionShipments) == 0 {
		return nil, carrier.NewError(carrierName, carrier.ClassTransient, "SHIPMENT_EMPTY", "no shipment in response")
	}
	return shipmentToModel(&apiResp.Output.TransactionShipments[0], details.OrderRef), nil
}

// Track returns FedEx's tracking events for a shipment.
func (c *Client) Track(ctx context.Context, trackingNumber string, session *carrier.Session) ([]*carrier.TrackingEvent, error) {
	apiResp, err := c.apiClient.GetTracking(ctx, session.Token, trackingNumber)
	if err != nil {
		c.logger.Error("FedEx API error", zap.Error(err))
		return nil, c.classify("TRACKING_FAILED", err)
	}

	var events []*carrier.TrackingEvent
	for _, result := range apiResp.Output.CompleteTrackResults {
		if result.TrackingNumber != trackingNumber {
			continue
		}
		for _, tr := range result.TrackResults {
			for _, scan := range tr.ScanEvents {
				events = append(events, scanToModel(trackingNumber, scan))
			}
		}
	}
	if events == nil {
		return nil, carrier.NewError(carrierName, carrier.ClassNotFound, "TRACKING_NOT_FOUND", "no tracking information for "+trackingNumber)
	}
	return events, nil
}

// Cancel voids a shipment with FedEx.
func (c *Client) Cancel(ctx context.Context, trackingNumber string, session *carrier.Session) error {
	c.logger.Info("Cancelling FedEx shipment", zap.String("tracking_number", trackingNumber))

	apiResp, err := c.apiClient.CancelShipment(ctx, session.Token, trackingNumber)
	if err != nil {
		c.logger.Error("FedEx API error", zap.Error(err))
		return c.classify("CANCEL_FAILED", err)
	}
	if !apiResp.Output.CancelledShipment {
		return carrier.NewError(carrierName, carrier.ClassValidation, "CANCEL_REJECTED", "shipment could not be cancelled")
	}
	return nil
}

// ValidateWebhookSignature checks the X-FedEx-Signature header: HMAC-SHA256
// over "<X-FedEx-Timestamp>.<body>" with the shared webhook secret.
func (c *Client) ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool {
	return carrier.VerifyWebhookSignature(
		secret,
		headers.Get("X-FedEx-Timestamp"),
		body,
		headers.Get("X-FedEx-Signature"),
	)
}

// ParseWebhookEvent decodes a FedEx push notification body.
func (c *Client) ParseWebhookEvent(body []byte) (*carrier.WebhookDelivery, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, carrier.NewError(carrierName, carrier.ClassValidation, "WEBHOOK_MALFORMED", "webhook body is not valid JSON").WithCause(err)
	}
	if payload.TrackingNumber == "" {
		return nil, carrier.NewError(carrierName, carrier.ClassValidation, "WEBHOOK_MALFORMED", "webhook body has no tracking number")
	}

	ts, err := time.Parse(time.RFC3339, payload.OccurredAt)
	if err != nil {
		ts = time.Now()
	}

	return &carrier.WebhookDelivery{
		EventID: payload.NotificationID,
		Event: carrier.TrackingEvent{
			TrackingNumber: payload.TrackingNumber,
			Status:         carrier.NormalizeStatus(statusTable, payload.EventType),
			NativeStatus:   payload.EventType,
			Description:    payload.EventDescription,
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
		msg := "FedEx request failed"
		if len(apiErr.Errors) > 0 {
			msg = apiErr.Errors[0].Message
		}
		return carrier.NewError(carrierName, class, code, msg).WithCause(err)
	}
	return carrier.NewError(carrierName, carrier.ClassTransient, code, "FedEx request failed").WithCause(err)
}

// ============================================================================
// Conversion helpers
// ============================================================================

// statusTable maps FedEx event type codes to the canonical vocabulary.
// HL (hold at location) maps to the pickup-point state.
var statusTable = map[string]carrier.Status{
	"OC": carrier.StatusCreated,
	"PU": carrier.StatusPickedUp,
	"IT": carrier.StatusInTransit,
	"AR": carrier.StatusInTransit,
	"DP": carrier.StatusInTransit,
	"HL": carrier.StatusAtPickupPoint,
	"OD": carrier.StatusOutForDelivery,
	"DL": carrier.StatusDelivered,
	"DE": carrier.StatusFailed,
	"CA": carrier.StatusFailed,
	"RS": carrier.StatusReturned,
}

// transitDaysTable decodes FedEx transit time enums.
var transitDaysTable = map[string]int{
	"ONE_DAY":    1,
	"TWO_DAYS":   2,
	"THREE_DAYS": 3,
	"FOUR_DAYS":  4,
	"FIVE_DAYS":  5,
	"SIX_DAYS":   6,
	"SEVEN_DAYS": 7,
}

func addressToAPI(a carrier.Address) Address {
	var streets []string
	if a.Line1 != "" {
		streets = append(streets, a.Line1)
	}
	if a.Line2 != "" {
		streets = append(streets, a.Line2)
	}
	return Address{
		StreetLines: streets,
		City:        a.City,
		StateCode:   a.Region,
		PostalCode:  a.PostalCode,
		CountryCode: a.CountryCode,
		Residential: a.Residential,
	}
}

func partyToAPI(a carrier.Address, contact carrier.Contact) Party {
	return Party{
		Address: addressToAPI(a),
		Contact: &Contact{
			PersonName:  contact.Name,
			CompanyName: contact.Company,
			PhoneNumber: contact.Phone,
			Email:       contact.Email,
		},
	}
}

func packagesToAPI(pkgs []carrier.Package) []RequestedPackage {
	result := make([]RequestedPackage, len(pkgs))
	for i, p := range pkgs {
		units := "KG"
		if p.WeightUnit == carrier.WeightLB {
			units = "LB"
		}
		dimUnits := "CM"
		if p.DimensionUnit == carrier.DimensionIN {
			dimUnits = "IN"
		}
		result[i] = RequestedPackage{
			Weight: Weight{Units: units, Value: p.Weight},
			Dimensions: &Dimensions{
				Length: p.Length,
				Width:  p.Width,
				Height: p.Height,
				Units:  dimUnits,
			},
		}
	}
	return result
}

func repliesToQuotes(replies []RateReplyDetail) []*carrier.Quote {
	validUntil := time.Now().Add(30 * time.Minute)
	quotes := make([]*carrier.Quote, 0, len(replies))
	for _, r := range replies {
		rated, ok := accountRate(r.RatedShipments)
		if !ok {
			continue
		}

		transitDays := 0
		if r.OperationalDetail != nil {
			transitDays = transitDaysTable[r.OperationalDetail.TransitTime]
		}

		quotes = append(quotes, &carrier.Quote{
			ID:          carrierName + "-" + r.ServiceType,
			Carrier:     carrierName,
			ServiceCode: r.ServiceType,
			ServiceName: r.ServiceName,
			TotalPrice:  carrier.Money{Amount: rated.TotalNetCharge, Currency: rated.Currency},
			TransitDays: transitDays,
			ValidUntil:  validUntil,
			Ref:         r.ServiceType,
		})
	}
	return quotes
}

func accountRate(rated []RatedShipment) (RatedShipment, bool) {
	for _, r := range rated {
		if r.RateType == "ACCOUNT" {
			return r, true
		}
	}
	if len(rated) > 0 {
		return rated[0], true
	}
	return RatedShipment{}, false
}

// serviceTypeFromRef recovers the service type from a rate reference.
// FedEx rate references are the service type itself.
func serviceTypeFromRef(ref string) string {
	if ref == "" {
		return "INTERNATIONAL_ECONOMY"
	}
	return ref
}

func shipmentToModel(ts *TransactionShipment, orderRef string) *carrier.Shipment {
	var label carrier.Label
	trackingNumber := ts.MasterTrackingNumber
	for _, piece := range ts.PieceResponses {
		if trackingNumber == "" {
			trackingNumber = piece.TrackingNumber
		}
		for _, doc := range piece.PackageDocuments {
			if doc.ContentType != "LABEL" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(doc.EncodedLabel)
			if err != nil {
				continue
			}
			label = carrier.Label{
				Format: labelFormat(doc.DocType),
				Data:   data,
				URL:    doc.URL,
			}
			break
		}
	}

	return &carrier.Shipment{
		TrackingNumber: trackingNumber,
		Carrier:        carrierName,
		ServiceName:    ts.ServiceName,
		Label:          label,
		Cost:           carrier.Money{Amount: ts.TotalNetCharge, Currency: ts.Currency},
		CreatedAt:      time.Now(),
		OrderRef:       orderRef,
	}
}

func labelFormat(docType string) carrier.LabelFormat {
	switch docType {
	case "ZPL":
		return carrier.LabelZPL
	case "PNG":
		return carrier.LabelPNG
	default:
		return carrier.LabelPDF
	}
}

func scanToModel(trackingNumber string, scan ScanEvent) *carrier.TrackingEvent {
	ts, err := time.Parse(time.RFC3339, scan.Date)
	if err != nil {
		ts = time.Now()
	}
	location := scan.ScanLocation.City
	if scan.ScanLocation.StateCode != "" {
		location += ", " + scan.ScanLocation.StateCode
	}
	return &carrier.TrackingEvent{
		TrackingNumber: trackingNumber,
		Status:         carrier.NormalizeStatus(statusTable, scan.EventType),
		NativeStatus:   scan.EventType,
		Description:    scan.EventDescription,
		Location:       location,
		Timestamp:      ts,
		Source:         carrier.SourcePolled,
	}
}

var _ carrier.Adapter = (*Client)(nil)

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/enviora/carrier/internal/fallback"
	"github.com/enviora/carrier/internal/storage"
	"github.com/enviora/carrier/internal/webhook"
	"github.com/enviora/carrier/pkg/carrier"
)

const maxBodyBytes = 1 << 20

// ============================================================================
// Request/response types
// ============================================================================

type addressDTO struct {
	Name         string `json:"name"`
	Company      string `json:"company,omitempty"`
	Line1        string `json:"line1"`
	Line2        string `json:"line2,omitempty"`
	City         string `json:"city"`
	Region       string `json:"region,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	CountryCode  string `json:"country_code"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Residential  bool   `json:"residential,omitempty"`
}

type contactDTO struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
}

type moneyDTO struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type packageDTO struct {
	Length        float64   `json:"length"`
	Width         float64   `json:"width"`
	Height        float64   `json:"height"`
	DimensionUnit string    `json:"dimension_unit,omitempty"`
	Weight        float64   `json:"weight"`
	WeightUnit    string    `json:"weight_unit,omitempty"`
	Description   string    `json:"description,omitempty"`
	DeclaredValue *moneyDTO `json:"declared_value,omitempty"`
}

type quoteRequestDTO struct {
	Origin       addressDTO   `json:"origin"`
	Destination  addressDTO   `json:"destination"`
	Packages     []packageDTO `json:"packages"`
	ServiceLevel string       `json:"service_level,omitempty"`
	Currency     string       `json:"currency,omitempty"`
}

type priceComponentDTO struct {
	Code   string   `json:"code"`
	Amount moneyDTO `json:"amount"`
}

type quoteDTO struct {
	ID          string              `json:"quote_id"`
	Carrier     string              `json:"carrier"`
	ServiceCode string              `json:"service_code"`
	ServiceName string              `json:"service_name"`
	TotalPrice  moneyDTO            `json:"total_price"`
	Breakdown   []priceComponentDTO `json:"breakdown,omitempty"`
	TransitDays int                 `json:"transit_days"`
	ValidUntil  time.Time           `json:"valid_until"`
	Ref         string              `json:"quote_ref"`
	Score       float64             `json:"score"`
	Recommended bool                `json:"recommended"`
}

type labelRequestDTO struct {
	QuoteRef         string       `json:"quote_ref"`
	Sender           contactDTO   `json:"sender"`
	SenderAddress    addressDTO   `json:"sender_address"`
	Recipient        contactDTO   `json:"recipient"`
	RecipientAddress addressDTO   `json:"recipient_address"`
	Packages         []packageDTO `json:"packages"`
	OrderRef         string       `json:"order_ref,omitempty"`
	Instructions     string       `json:"instructions,omitempty"`
	LabelFormat      string       `json:"label_format,omitempty"`
}

type shipmentDTO struct {
	TrackingNumber string    `json:"tracking_number"`
	Carrier        string    `json:"carrier"`
	ServiceName    string    `json:"service_name"`
	LabelFormat    string    `json:"label_format,omitempty"`
	LabelData      []byte    `json:"label_data,omitempty"`
	LabelURL       string    `json:"label_url,omitempty"`
	Cost           moneyDTO  `json:"cost"`
	CreatedAt      time.Time `json:"created_at"`
	OrderRef       string    `json:"order_ref,omitempty"`
	Cancelled      bool      `json:"cancelled"`
}

type trackingEventDTO struct {
	Status       string    `json:"status"`
	NativeStatus string    `json:"native_status,omitempty"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
}

type trackingResponseDTO struct {
	TrackingNumber string             `json:"tracking_number"`
	Carrier        string             `json:"carrier,omitempty"`
	Status         string             `json:"status"`
	Cancelled      bool               `json:"cancelled,omitempty"`
	Events         []trackingEventDTO `json:"events"`
}

type pickupRequestDTO struct {
	Address      addressDTO   `json:"address"`
	Contact      contactDTO   `json:"contact"`
	Packages     []packageDTO `json:"packages"`
	Date         time.Time    `json:"date"`
	ReadyTime    string       `json:"ready_time,omitempty"`
	CloseTime    string       `json:"close_time,omitempty"`
	Instructions string       `json:"instructions,omitempty"`
}

type pickupDTO struct {
	ConfirmationID string    `json:"confirmation_id"`
	Carrier        string    `json:"carrier"`
	Date           time.Time `json:"date"`
	Window         string    `json:"window,omitempty"`
}

type carrierStatusDTO struct {
	Carrier             string     `json:"carrier"`
	Capabilities        []string   `json:"capabilities"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
	NextRetry           *time.Time `json:"next_retry,omitempty"`
	LatencyP50Ms        float64    `json:"latency_p50_ms"`
	LatencyP95Ms        float64    `json:"latency_p95_ms"`
	RateLimitSaturation float64    `json:"rate_limit_saturation"`
	CredentialExpiresAt *time.Time `json:"credential_expires_at,omitempty"`
}

type credentialsRequestDTO struct {
	Environment string            `json:"environment,omitempty"`
	Secrets     map[string]string `json:"secrets"`
	ExpiresAt   time.Time         `json:"expires_at,omitzero"`
}

type errorResponse struct {
	Error    string       `json:"error"`
	Code     string       `json:"code,omitempty"`
	Failures []failureDTO `json:"failures,omitempty"`
}

type failureDTO struct {
	Carrier string `json:"carrier"`
	Reason  string `json:"reason"`
}

// ============================================================================
// Quotes
// ============================================================================

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	var req quoteRequestDTO
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.deps.Aggregator.Aggregate(r.Context(), &carrier.QuoteRequest{
		Origin:       addressFromDTO(req.Origin),
		Destination:  addressFromDTO(req.Destination),
		Packages:     packagesFromDTO(req.Packages),
		ServiceLevel: carrier.ServiceLevel(req.ServiceLevel),
		Currency:     req.Currency,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.deps.Quotes.Add(result)

	quotes := make([]quoteDTO, len(result))
	for i, q := range result {
		quotes[i] = quoteToDTO(q)
	}
	s.respond(w, http.StatusOK, map[string]any{"quotes": quotes})
}

// ============================================================================
// Labels
// ============================================================================

func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequestDTO
	if !s.decode(w, r, &req) {
		return
	}
	if req.QuoteRef == "" {
		s.writeError(w, carrier.NewError("", carrier.ClassValidation, "MISSING_QUOTE_REF", "quote_ref required"))
		return
	}

	q, err := s.deps.Quotes.Redeem(req.QuoteRef)
	if err != nil {
		s.writeError(w, err)
		return
	}

	details := &carrier.ShipmentDetails{
		Sender:           contactFromDTO(req.Sender),
		SenderAddress:    addressFromDTO(req.SenderAddress),
		Recipient:        contactFromDTO(req.Recipient),
		RecipientAddress: addressFromDTO(req.RecipientAddress),
		Packages:         packagesFromDTO(req.Packages),
		OrderRef:         req.OrderRef,
		Instructions:     req.Instructions,
		LabelFormat:      carrier.LabelFormat(req.LabelFormat),
	}
	routeKey := fallback.RouteKey(details.SenderAddress, details.RecipientAddress)

	shipment, err := s.deps.Selector.CreateLabel(r.Context(), routeKey, q.Carrier, q.Ref, details)
	if err != nil {
		// The quote stays bookable after a failed attempt.
		s.deps.Quotes.Release(req.QuoteRef)
		s.writeError(w, err)
		return
	}

	if err := s.deps.Shipments.Create(r.Context(), shipment); err != nil {
		s.logger.Error("Failed to persist shipment",
			zap.String("tracking_number", shipment.TrackingNumber),
			zap.Error(err),
		)
	}
	created := &carrier.TrackingEvent{
		TrackingNumber: shipment.TrackingNumber,
		Status:         carrier.StatusCreated,
		NativeStatus:   "CREATED",
		Description:    "Shipment label created",
		Timestamp:      shipment.CreatedAt,
		Source:         carrier.SourcePolled,
	}
	if err := s.deps.Tracking.Append(r.Context(), created); err != nil {
		s.logger.Error("Failed to seed tracking log", zap.Error(err))
	} else if err := s.deps.Events.PublishTrackingEvent(r.Context(), created); err != nil {
		s.logger.Warn("Tracking event publish failed",
			zap.String("tracking_number", created.TrackingNumber),
			zap.Error(err),
		)
	}

	s.respond(w, http.StatusCreated, shipmentToDTO(shipment))
}

// ============================================================================
// Tracking
// ============================================================================

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	trackingNumber := chi.URLParam(r, "trackingNumber")

	shipment, err := s.deps.Shipments.Get(r.Context(), trackingNumber)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, err)
		return
	}

	if shipment != nil {
		// Poll on demand; webhook-delivered events usually arrive first but
		// polling covers carriers with flaky notifications. A poll failure
		// degrades to the stored log.
		if err := s.pollTracking(r, shipment); err != nil {
			s.logger.Warn("Tracking poll failed, serving stored events",
				zap.String("carrier", shipment.Carrier),
				zap.String("tracking_number", trackingNumber),
				zap.Error(err),
			)
		}
	}

	events, err := s.deps.Tracking.ByTrackingNumber(r.Context(), trackingNumber)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if shipment == nil && len(events) == 0 {
		s.writeError(w, carrier.NewError("", carrier.ClassNotFound, "UNKNOWN_TRACKING_NUMBER", "tracking number not found"))
		return
	}

	resp := trackingResponseDTO{
		TrackingNumber: trackingNumber,
		Status:         string(carrier.CurrentStatus(events)),
		Events:         make([]trackingEventDTO, len(events)),
	}
	if shipment != nil {
		resp.Carrier = shipment.Carrier
		resp.Cancelled = shipment.Cancelled
	}
	for i, e := range events {
		resp.Events[i] = trackingEventDTO{
			Status:       string(e.Status),
			NativeStatus: e.NativeStatus,
			Description:  e.Description,
			Location:     e.Location,
			Timestamp:    e.Timestamp,
			Source:       string(e.Source),
		}
	}
	s.respond(w, http.StatusOK, resp)
}

// pollTracking fetches the carrier's current event history and appends any
// events the log has not seen yet.
func (s *Server) pollTracking(r *http.Request, shipment *carrier.Shipment) error {
	ctx := r.Context()
	stored, err := s.deps.Tracking.ByTrackingNumber(ctx, shipment.TrackingNumber)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(stored))
	for _, e := range stored {
		seen[e.NativeStatus+"|"+e.Timestamp.UTC().Format(time.RFC3339)] = struct{}{}
	}

	return s.carrierCall(ctx, "track", shipment.Carrier, func(cc *callContext) error {
		events, err := cc.adapter.Track(ctx, shipment.TrackingNumber, cc.session)
		if err != nil {
			return err
		}
		for _, e := range events {
			key := e.NativeStatus + "|" + e.Timestamp.UTC().Format(time.RFC3339)
			if _, ok := seen[key]; ok {
				continue
			}
			e.TrackingNumber = shipment.TrackingNumber
			e.Source = carrier.SourcePolled
			if err := s.deps.Tracking.Append(ctx, e); err != nil {
				return err
			}
			// Persisted is the source of truth; publishing is best-effort.
			if err := s.deps.Events.PublishTrackingEvent(ctx, e); err != nil {
				s.logger.Warn("Tracking event publish failed",
					zap.String("tracking_number", e.TrackingNumber),
					zap.Error(err),
				)
			}
			seen[key] = struct{}{}
		}
		return nil
	})
}

// ============================================================================
// Cancellation
// ============================================================================

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	trackingNumber := chi.URLParam(r, "trackingNumber")

	shipment, err := s.deps.Shipments.Get(r.Context(), trackingNumber)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if shipment.Cancelled {
		s.respond(w, http.StatusOK, shipmentToDTO(shipment))
		return
	}

	err = s.carrierCall(r.Context(), "cancel", shipment.Carrier, func(cc *callContext) error {
		return cc.adapter.Cancel(r.Context(), trackingNumber, cc.session)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Shipments.MarkCancelled(r.Context(), trackingNumber); err != nil {
		s.writeError(w, err)
		return
	}
	shipment.Cancelled = true
	s.respond(w, http.StatusOK, shipmentToDTO(shipment))
}

// ============================================================================
// Pickups
// ============================================================================

func (s *Server) handlePickup(w http.ResponseWriter, r *http.Request) {
	var req pickupRequestDTO
	if !s.decode(w, r, &req) {
		return
	}

	pickupReq := &carrier.PickupRequest{
		Address:      addressFromDTO(req.Address),
		Contact:      contactFromDTO(req.Contact),
		Packages:     packagesFromDTO(req.Packages),
		Date:         req.Date,
		ReadyTime:    req.ReadyTime,
		CloseTime:    req.CloseTime,
		Instructions: req.Instructions,
	}
	// Pickups are domestic to the collection address.
	routeKey := pickupReq.Address.CountryCode + "-" + pickupReq.Address.CountryCode

	pickup, err := s.deps.Selector.SchedulePickup(r.Context(), routeKey, pickupReq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, pickupDTO{
		ConfirmationID: pickup.ConfirmationID,
		Carrier:        pickup.Carrier,
		Date:           pickup.Date,
		Window:         pickup.Window,
	})
}

// ============================================================================
// Operator status
// ============================================================================

func (s *Server) handleCarrierStatus(w http.ResponseWriter, r *http.Request) {
	expiring := make(map[string]time.Time)
	hints, err := s.deps.Vault.ExpiringSoon(r.Context(), 30*24*time.Hour)
	if err != nil {
		s.logger.Warn("Credential expiry scan failed", zap.Error(err))
	}
	for _, h := range hints {
		if h.Env == s.deps.Env {
			expiring[h.Carrier] = h.ExpiresAt
		}
	}

	adapters := s.deps.Registry.All()
	statuses := make([]carrierStatusDTO, len(adapters))
	for i, adapter := range adapters {
		name := adapter.Name()
		snap := s.deps.Breaker.Snapshot(name)

		caps := adapter.Capabilities().List()
		capNames := make([]string, len(caps))
		for j, c := range caps {
			capNames[j] = string(c)
		}

		dto := carrierStatusDTO{
			Carrier:             name,
			Capabilities:        capNames,
			State:               string(snap.State),
			ConsecutiveFailures: snap.ConsecutiveFailures,
			LatencyP50Ms:        float64(snap.LatencyP50) / float64(time.Millisecond),
			LatencyP95Ms:        float64(snap.LatencyP95) / float64(time.Millisecond),
			RateLimitSaturation: s.deps.Limiter.Saturation(name),
		}
		if !snap.LastFailure.IsZero() {
			dto.LastFailure = &snap.LastFailure
		}
		if !snap.NextRetry.IsZero() {
			dto.NextRetry = &snap.NextRetry
		}
		if exp, ok := expiring[name]; ok {
			dto.CredentialExpiresAt = &exp
		}
		statuses[i] = dto
	}
	s.respond(w, http.StatusOK, map[string]any{"carriers": statuses})
}

// ============================================================================
// Credentials
// ============================================================================

func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	s.provisionCredentials(w, r, s.deps.Vault.Put)
}

func (s *Server) handleRotateCredentials(w http.ResponseWriter, r *http.Request) {
	s.provisionCredentials(w, r, s.deps.Vault.Rotate)
}

func (s *Server) provisionCredentials(w http.ResponseWriter, r *http.Request, put func(ctx context.Context, carrierName string, env carrier.Environment, secrets map[string]string, expiresAt time.Time) error) {
	carrierName := chi.URLParam(r, "carrier")
	if _, err := s.deps.Registry.Get(carrierName); err != nil {
		s.writeError(w, err)
		return
	}

	var req credentialsRequestDTO
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Secrets) == 0 {
		s.writeError(w, carrier.NewError(carrierName, carrier.ClassValidation, "EMPTY_SECRETS", "at least one secret required"))
		return
	}
	env := s.deps.Env
	if req.Environment != "" {
		env = carrier.Environment(req.Environment)
	}

	if err := put(r.Context(), carrierName, env, req.Secrets, req.ExpiresAt); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExpiringCredentials(w http.ResponseWriter, r *http.Request) {
	within := 30 * 24 * time.Hour
	if hours := r.URL.Query().Get("within_hours"); hours != "" {
		if n, err := strconv.Atoi(hours); err == nil && n > 0 {
			within = time.Duration(n) * time.Hour
		}
	}
	hints, err := s.deps.Vault.ExpiringSoon(r.Context(), within)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"expiring": hints})
}

// ============================================================================
// Webhooks
// ============================================================================

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	outcome := s.deps.Pipeline.Receive(r.Context(), chi.URLParam(r, "carrier"), body, r.Header)
	switch outcome {
	case webhook.OutcomeMissingSignature:
		s.respond(w, http.StatusUnauthorized, map[string]any{"outcome": outcome})
	case webhook.OutcomeUnavailable:
		s.respond(w, http.StatusServiceUnavailable, map[string]any{"outcome": outcome})
	default:
		// Accepted, duplicate, malformed, and invalid-signature deliveries
		// are all acknowledged so the carrier stops redelivering.
		s.respond(w, http.StatusOK, map[string]any{"outcome": outcome})
	}
}

// ============================================================================
// Direct carrier calls (track, cancel)
// ============================================================================

type callContext struct {
	adapter carrier.Adapter
	session *carrier.Session
}

// carrierCall wraps a single-carrier operation with breaker, rate-limit,
// vault, and metrics plumbing. Unlike quoting and booking there is no
// fallback: tracking and cancellation are bound to the booking carrier.
func (s *Server) carrierCall(ctx context.Context, op, name string, call func(*callContext) error) error {
	adapter, err := s.deps.Registry.Get(name)
	if err != nil {
		return err
	}
	if err := s.deps.Breaker.Allow(name); err != nil {
		return err
	}
	if err := s.deps.Limiter.Acquire(name); err != nil {
		s.deps.Breaker.RecordFailure(name, 0)
		s.metrics.RateLimitRejects.WithLabelValues(name).Inc()
		return err
	}

	handle, err := s.deps.Vault.Get(ctx, name, s.deps.Env)
	if err != nil {
		// The carrier was never called; hand back any half-open probe slot.
		s.deps.Breaker.ReleaseProbe(name)
		return err
	}
	cred, err := handle.Credential()
	if err != nil {
		s.deps.Breaker.ReleaseProbe(name)
		return err
	}

	start := time.Now()
	session, err := adapter.Authenticate(ctx, cred)
	if err == nil {
		err = call(&callContext{adapter: adapter, session: session})
	}
	if err != nil {
		if carrier.ClassOf(err) == carrier.ClassTransient {
			s.deps.Breaker.RecordFailure(name, time.Since(start))
		} else {
			s.deps.Breaker.ReleaseProbe(name)
		}
		s.metrics.RecordError(name, string(carrier.ClassOf(err)))
		s.metrics.RecordRequest(op, name, "error", time.Since(start).Seconds())
		return err
	}
	s.deps.Breaker.RecordSuccess(name, time.Since(start))
	s.metrics.RecordRequest(op, name, "ok", time.Since(start).Seconds())
	return nil
}

// ============================================================================
// Encoding and error mapping
// ============================================================================

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps engine errors onto HTTP statuses. An aggregate failure
// always carries the per-carrier breakdown; it is never collapsed into a
// bare "service unavailable".
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var all *carrier.AllFailedError
	if errors.As(err, &all) {
		failures := make([]failureDTO, len(all.Failures))
		for i, f := range all.Failures {
			failures[i] = failureDTO{Carrier: f.Carrier, Reason: f.Reason.Error()}
		}
		s.respond(w, http.StatusBadGateway, errorResponse{
			Error:    "all carriers failed",
			Code:     "ALL_CARRIERS_FAILED",
			Failures: failures,
		})
		return
	}

	switch {
	case errors.Is(err, carrier.ErrQuoteNotFound),
		errors.Is(err, carrier.ErrCarrierNotFound),
		errors.Is(err, storage.ErrNotFound):
		s.respond(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, carrier.ErrAlreadyRedeemed):
		s.respond(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "ALREADY_REDEEMED"})
		return
	case errors.Is(err, carrier.ErrQuoteExpired):
		s.respond(w, http.StatusGone, errorResponse{Error: err.Error(), Code: "QUOTE_EXPIRED"})
		return
	case errors.Is(err, carrier.ErrCapabilityUnsupported):
		s.respond(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "CAPABILITY_UNSUPPORTED"})
		return
	case errors.Is(err, carrier.ErrBreakerOpen), errors.Is(err, carrier.ErrWouldBlock):
		s.respond(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	var ce *carrier.Error
	if errors.As(err, &ce) {
		switch ce.Class {
		case carrier.ClassValidation:
			s.respond(w, http.StatusBadRequest, errorResponse{Error: ce.Message, Code: ce.Code})
		case carrier.ClassNotFound:
			s.respond(w, http.StatusNotFound, errorResponse{Error: ce.Message, Code: ce.Code})
		case carrier.ClassAuth, carrier.ClassTransient:
			s.respond(w, http.StatusBadGateway, errorResponse{Error: ce.Message, Code: ce.Code})
		default:
			s.respond(w, http.StatusInternalServerError, errorResponse{Error: ce.Message, Code: ce.Code})
		}
		return
	}

	s.logger.Error("Unhandled request error", zap.Error(err))
	s.respond(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// ============================================================================
// Model conversion
// ============================================================================

func addressFromDTO(a addressDTO) carrier.Address {
	return carrier.Address{
		Name:         a.Name,
		Company:      a.Company,
		Line1:        a.Line1,
		Line2:        a.Line2,
		City:         a.City,
		Region:       a.Region,
		PostalCode:   a.PostalCode,
		CountryCode:  a.CountryCode,
		Phone:        a.Phone,
		Email:        a.Email,
		Instructions: a.Instructions,
		Residential:  a.Residential,
	}
}

func contactFromDTO(c contactDTO) carrier.Contact {
	return carrier.Contact{
		Name:    c.Name,
		Company: c.Company,
		Phone:   c.Phone,
		Email:   c.Email,
		TaxID:   c.TaxID,
	}
}

func packagesFromDTO(pkgs []packageDTO) []carrier.Package {
	result := make([]carrier.Package, len(pkgs))
	for i, p := range pkgs {
		pkg := carrier.Package{
			Length:        p.Length,
			Width:         p.Width,
			Height:        p.Height,
			DimensionUnit: carrier.DimensionUnit(p.DimensionUnit),
			Weight:        p.Weight,
			WeightUnit:    carrier.WeightUnit(p.WeightUnit),
			Description:   p.Description,
		}
		if pkg.DimensionUnit == "" {
			pkg.DimensionUnit = carrier.DimensionCM
		}
		if pkg.WeightUnit == "" {
			pkg.WeightUnit = carrier.WeightKG
		}
		if p.DeclaredValue != nil {
			pkg.DeclaredValue = carrier.Money{Amount: p.DeclaredValue.Amount, Currency: p.DeclaredValue.Currency}
		}
		result[i] = pkg
	}
	return result
}

func quoteToDTO(q *carrier.Quote) quoteDTO {
	breakdown := make([]priceComponentDTO, len(q.Breakdown))
	for i, c := range q.Breakdown {
		breakdown[i] = priceComponentDTO{
			Code:   c.Code,
			Amount: moneyDTO{Amount: c.Amount.Amount, Currency: c.Amount.Currency},
		}
	}
	return quoteDTO{
		ID:          q.ID,
		Carrier:     q.Carrier,
		ServiceCode: q.ServiceCode,
		ServiceName: q.ServiceName,
		TotalPrice:  moneyDTO{Amount: q.TotalPrice.Amount, Currency: q.TotalPrice.Currency},
		Breakdown:   breakdown,
		TransitDays: q.TransitDays,
		ValidUntil:  q.ValidUntil,
		Ref:         q.Ref,
		Score:       q.Score,
		Recommended: q.Recommended,
	}
}

func shipmentToDTO(sh *carrier.Shipment) shipmentDTO {
	return shipmentDTO{
		TrackingNumber: sh.TrackingNumber,
		Carrier:        sh.Carrier,
		ServiceName:    sh.ServiceName,
		LabelFormat:    string(sh.Label.Format),
		LabelData:      sh.Label.Data,
		LabelURL:       sh.Label.URL,
		Cost:           moneyDTO{Amount: sh.Cost.Amount, Currency: sh.Cost.Currency},
		CreatedAt:      sh.CreatedAt,
		OrderRef:       sh.OrderRef,
		Cancelled:      sh.Cancelled,
	}
}

// Package fallback chooses which carrier actually books a label or pickup,
// advancing through a route-priority list when carriers fail.
package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/enviora/carrier/internal/breaker"
	"github.com/enviora/carrier/internal/events"
	"github.com/enviora/carrier/internal/ratelimit"
	"github.com/enviora/carrier/internal/storage"
	"github.com/enviora/carrier/internal/telemetry"
	"github.com/enviora/carrier/internal/vault"
	"github.com/enviora/carrier/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Selector books label-creation and pickup operations against the
// highest-priority healthy carrier for a route. Priority is configured
// independently of quote scoring: operational reliability can outrank
// price here.
type Selector struct {
	routes   map[string][]string
	registry *carrier.Registry
	breaker  *breaker.Breaker
	limiter  *ratelimit.Limiter
	vault    *vault.Vault
	env      carrier.Environment
	records  storage.FallbackRecordStore
	publish  events.Publisher
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
}

// New creates a fallback selector.
func New(routes map[string][]string, registry *carrier.Registry, b *breaker.Breaker, l *ratelimit.Limiter, v *vault.Vault, env carrier.Environment, records storage.FallbackRecordStore, publish events.Publisher, logger *otelzap.Logger, metrics *telemetry.Metrics) *Selector {
	return &Selector{
		routes:   routes,
		registry: registry,
		breaker:  b,
		limiter:  l,
		vault:    v,
		env:      env,
		records:  records,
		publish:  publish,
		logger:   logger,
		metrics:  metrics,
	}
}

// RouteKey derives the priority-lookup key for an origin/destination pair.
func RouteKey(origin, destination carrier.Address) string {
	return origin.CountryCode + "-" + destination.CountryCode
}

// priority returns the ordered carrier list for a route, falling back to
// the "default" route when the key is unconfigured.
func (s *Selector) priority(routeKey string) []string {
	if carriers, ok := s.routes[routeKey]; ok {
		return carriers
	}
	return s.routes["default"]
}

// CreateLabel books a shipment. When quoteCarrier is non-empty (the caller
// redeemed a quote), that carrier is attempted first with the quote's
// reference token; fallback carriers book at their current rate.
func (s *Selector) CreateLabel(ctx context.Context, routeKey, quoteCarrier, quoteRef string, details *carrier.ShipmentDetails) (*carrier.Shipment, error) {
	if details == nil || details.RecipientAddress.CountryCode == "" {
		return nil, carrier.NewError("", carrier.ClassValidation, "MISSING_RECIPIENT", "recipient address required")
	}

	var shipment *carrier.Shipment
	err := s.attempt(ctx, "label", routeKey, quoteCarrier, carrier.CapLabel, func(ctx context.Context, adapter carrier.Adapter, session *carrier.Session) error {
		ref := ""
		if adapter.Name() == quoteCarrier {
			ref = quoteRef
		}
		sh, err := adapter.CreateLabel(ctx, ref, details, session)
		if err != nil {
			return err
		}
		shipment = sh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

// SchedulePickup books a pickup with the highest-priority carrier that
// implements pickup scheduling.
func (s *Selector) SchedulePickup(ctx context.Context, routeKey string, req *carrier.PickupRequest) (*carrier.Pickup, error) {
	if req == nil || req.Address.CountryCode == "" {
		return nil, carrier.NewError("", carrier.ClassValidation, "MISSING_ADDRESS", "pickup address required")
	}

	var pickup *carrier.Pickup
	err := s.attempt(ctx, "pickup", routeKey, "", carrier.CapPickup, func(ctx context.Context, adapter carrier.Adapter, session *carrier.Session) error {
		scheduler, ok := adapter.(carrier.PickupScheduler)
		if !ok {
			return fmt.Errorf("%s: %w", adapter.Name(), carrier.ErrCapabilityUnsupported)
		}
		p, err := scheduler.SchedulePickup(ctx, req, session)
		if err != nil {
			return err
		}
		pickup = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pickup, nil
}

// attempt walks the priority list, skipping open breakers, recording a
// FallbackRecord per failed attempt, until one carrier succeeds. When all
// configured carriers fail, the aggregate error lists each carrier's
// failure reason.
func (s *Selector) attempt(ctx context.Context, op, routeKey, preferred string, cap carrier.Capability, call func(context.Context, carrier.Adapter, *carrier.Session) error) error {
	order := s.priority(routeKey)
	if preferred != "" {
		dedup := []string{preferred}
		for _, name := range order {
			if name != preferred {
				dedup = append(dedup, name)
			}
		}
		order = dedup
	}
	if len(order) == 0 {
		return &carrier.AllFailedError{Op: op, Failures: []carrier.AttemptFailure{
			{Carrier: "*", Reason: fmt.Errorf("no carriers configured for route %s", routeKey)},
		}}
	}

	var failures []carrier.AttemptFailure
	for _, name := range order {
		err := s.attemptOne(ctx, op, name, cap, call)
		if err == nil {
			// One audit record per carrier that had to be skipped over.
			for _, f := range failures {
				s.record(ctx, routeKey, f.Carrier, name, f.Reason)
			}
			return nil
		}
		failures = append(failures, carrier.AttemptFailure{Carrier: name, Reason: err})
		s.metrics.FallbacksTotal.WithLabelValues(name, routeKey).Inc()
		s.logger.Warn("Carrier attempt failed, advancing to fallback",
			zap.String("operation", op),
			zap.String("route", routeKey),
			zap.String("carrier", name),
			zap.Error(err),
		)
	}
	for _, f := range failures {
		s.record(ctx, routeKey, f.Carrier, "", f.Reason)
	}
	return &carrier.AllFailedError{Op: op, Failures: failures}
}

func (s *Selector) attemptOne(ctx context.Context, op, name string, cap carrier.Capability, call func(context.Context, carrier.Adapter, *carrier.Session) error) error {
	adapter, err := s.registry.Get(name)
	if err != nil {
		return err
	}
	if !adapter.Capabilities().Has(cap) {
		return fmt.Errorf("%s: %w", name, carrier.ErrCapabilityUnsupported)
	}
	if err := s.breaker.Allow(name); err != nil {
		return err
	}
	// Label creation keeps customer-facing latency bounded: no queueing,
	// a depleted bucket is a transient failure and we move on.
	if err := s.limiter.Acquire(name); err != nil {
		s.breaker.RecordFailure(name, 0)
		s.metrics.RateLimitRejects.WithLabelValues(name).Inc()
		return err
	}

	handle, err := s.vault.Get(ctx, name, s.env)
	if err != nil {
		// The carrier was never called; hand back any half-open probe slot.
		s.breaker.ReleaseProbe(name)
		return err
	}
	cred, err := handle.Credential()
	if err != nil {
		s.breaker.ReleaseProbe(name)
		return err
	}

	start := time.Now()
	session, err := adapter.Authenticate(ctx, cred)
	if err == nil {
		err = call(ctx, adapter, session)
	}
	if err != nil {
		if carrier.ClassOf(err) != carrier.ClassAuth && carrier.ClassOf(err) != carrier.ClassValidation {
			s.breaker.RecordFailure(name, time.Since(start))
		} else {
			s.breaker.ReleaseProbe(name)
		}
		s.metrics.RecordError(name, string(carrier.ClassOf(err)))
		s.metrics.RecordRequest(op, name, "error", time.Since(start).Seconds())
		return err
	}
	s.breaker.RecordSuccess(name, time.Since(start))
	s.metrics.RecordRequest(op, name, "ok", time.Since(start).Seconds())
	return nil
}

// record appends one fallback audit entry; persistence failures are logged
// and swallowed so they never break a booking.
func (s *Selector) record(ctx context.Context, routeKey, attempted, succeeded string, reason error) {
	rec := &storage.FallbackRecord{
		RouteKey:  routeKey,
		Attempted: attempted,
		Succeeded: succeeded,
		Reason:    reason.Error(),
		Timestamp: time.Now(),
	}
	if err := s.records.Append(ctx, rec); err != nil {
		s.logger.Error("Failed to persist fallback record", zap.Error(err))
		return
	}
	if err := s.publish.PublishFallbackRecord(ctx, rec); err != nil {
		s.logger.Warn("Failed to publish fallback record", zap.Error(err))
	}
}

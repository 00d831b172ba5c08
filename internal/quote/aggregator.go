// Package quote fans a normalized quote request out to eligible carriers,
// normalizes and scores the results, and keeps booked-quote references
// single-use.
package quote

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/enviora/carrier/internal/breaker"
	"github.com/enviora/carrier/internal/ratelimit"
	"github.com/enviora/carrier/internal/telemetry"
	"github.com/enviora/carrier/internal/vault"
	"github.com/enviora/carrier/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// queueGrace is how long quoting waits for a rate-limit token before
// counting the carrier out. Quoting favors a short queued wait; label
// creation (the fallback selector) rejects immediately instead.
const queueGrace = 2 * time.Second

// Config holds aggregation policy.
type Config struct {
	// Timeout bounds each adapter call (default 10s).
	Timeout time.Duration

	// PriceWeight and TransitWeight shape the score:
	// score = PriceWeight*norm(price) + TransitWeight*norm(transit_days).
	// Lower scores rank higher. Defaults 0.6/0.4.
	PriceWeight   float64
	TransitWeight float64

	// Currency is the basis all quotes are normalized into.
	Currency string

	// Rates maps currency code to its USD-base multiplier.
	Rates map[string]float64

	// Priority breaks score ties: carriers earlier in the list win.
	Priority []string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.PriceWeight == 0 && c.TransitWeight == 0 {
		c.PriceWeight, c.TransitWeight = 0.6, 0.4
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	return c
}

// Aggregator fans quote requests out to healthy carriers concurrently.
type Aggregator struct {
	cfg      Config
	registry *carrier.Registry
	breaker  *breaker.Breaker
	limiter  *ratelimit.Limiter
	vault    *vault.Vault
	env      carrier.Environment
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
}

// New creates a quote aggregator.
func New(cfg Config, registry *carrier.Registry, b *breaker.Breaker, l *ratelimit.Limiter, v *vault.Vault, env carrier.Environment, logger *otelzap.Logger, metrics *telemetry.Metrics) *Aggregator {
	return &Aggregator{
		cfg:      cfg.withDefaults(),
		registry: registry,
		breaker:  b,
		limiter:  l,
		vault:    v,
		env:      env,
		logger:   logger,
		metrics:  metrics,
	}
}

type carrierResult struct {
	name   string
	quotes []*carrier.Quote
	err    error
}

// Aggregate returns all valid quotes sorted by score, best first, with the
// top quote marked recommended. Partial carrier failure is normal; the
// request fails only when zero carriers return a usable quote, with an
// AllFailedError carrying every carrier's reason.
func (a *Aggregator) Aggregate(ctx context.Context, req *carrier.QuoteRequest) ([]*carrier.Quote, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	candidates := a.candidates()
	if len(candidates) == 0 {
		return nil, &carrier.AllFailedError{Op: "quote", Failures: []carrier.AttemptFailure{
			{Carrier: "*", Reason: carrier.ErrCarrierNotFound},
		}}
	}

	results := make(chan carrierResult, len(candidates))
	for _, adapter := range candidates {
		go a.fetchOne(ctx, adapter, req, results)
	}

	var quotes []*carrier.Quote
	var failures []carrier.AttemptFailure
	for range candidates {
		select {
		case <-ctx.Done():
			// Caller timed out: abandon in-flight calls. Their late
			// results still reach the breaker inside fetchOne.
			return nil, ctx.Err()
		case res := <-results:
			if res.err != nil {
				failures = append(failures, carrier.AttemptFailure{Carrier: res.name, Reason: res.err})
				continue
			}
			quotes = append(quotes, res.quotes...)
		}
	}

	now := time.Now()
	valid := quotes[:0]
	for _, q := range quotes {
		if !q.Expired(now) {
			valid = append(valid, q)
		}
	}
	if len(valid) == 0 {
		return nil, &carrier.AllFailedError{Op: "quote", Failures: failures}
	}

	a.normalize(valid)
	a.rank(valid)
	return valid, nil
}

// candidates filters registered carriers by quote capability and breaker
// eligibility. An open breaker removes a carrier before fan-out; a stale
// read here only risks one wasted call.
func (a *Aggregator) candidates() []carrier.Adapter {
	all := a.registry.WithCapability(carrier.CapQuote)
	eligible := make([]carrier.Adapter, 0, len(all))
	for _, adapter := range all {
		if a.breaker.Eligible(adapter.Name()) {
			eligible = append(eligible, adapter)
		}
	}
	return eligible
}

// fetchOne calls a single carrier under its own timeout, detached from the
// caller's cancellation so a late result still updates breaker health.
func (a *Aggregator) fetchOne(parent context.Context, adapter carrier.Adapter, req *carrier.QuoteRequest, results chan<- carrierResult) {
	name := adapter.Name()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), a.cfg.Timeout)
	defer cancel()

	if err := a.breaker.Allow(name); err != nil {
		results <- carrierResult{name: name, err: err}
		return
	}
	if err := a.limiter.Wait(ctx, name, queueGrace); err != nil {
		// A depleted bucket counts against the breaker as a transient
		// failure so sustained saturation eventually sheds the carrier.
		a.breaker.RecordFailure(name, 0)
		a.metrics.RateLimitRejects.WithLabelValues(name).Inc()
		results <- carrierResult{name: name, err: err}
		return
	}

	handle, err := a.vault.Get(ctx, name, a.env)
	if err != nil {
		// Credential problems are operator work, not carrier health. The
		// carrier was never called, so hand back any half-open probe slot.
		a.breaker.ReleaseProbe(name)
		results <- carrierResult{name: name, err: err}
		return
	}
	cred, err := handle.Credential()
	if err != nil {
		a.breaker.ReleaseProbe(name)
		results <- carrierResult{name: name, err: err}
		return
	}

	start := time.Now()
	session, err := adapter.Authenticate(ctx, cred)
	if err == nil {
		var quotes []*carrier.Quote
		quotes, err = adapter.Quote(ctx, req, session)
		if err == nil {
			a.breaker.RecordSuccess(name, time.Since(start))
			a.metrics.RecordRequest("quote", name, "ok", time.Since(start).Seconds())
			results <- carrierResult{name: name, quotes: quotes}
			return
		}
	}

	if carrier.ClassOf(err) != carrier.ClassAuth {
		a.breaker.RecordFailure(name, time.Since(start))
	} else {
		a.breaker.ReleaseProbe(name)
	}
	a.metrics.RecordError(name, string(carrier.ClassOf(err)))
	a.logger.Warn("Carrier quote failed",
		zap.String("carrier", name),
		zap.Error(err),
	)
	results <- carrierResult{name: name, err: err}
}

// normalize converts every quote into the configured currency basis.
func (a *Aggregator) normalize(quotes []*carrier.Quote) {
	target := strings.ToUpper(a.cfg.Currency)
	targetRate, ok := a.cfg.Rates[target]
	if !ok || targetRate <= 0 {
		return
	}
	for _, q := range quotes {
		from := strings.ToUpper(q.TotalPrice.Currency)
		if from == target {
			continue
		}
		rate, ok := a.cfg.Rates[from]
		if !ok || rate <= 0 {
			continue
		}
		q.TotalPrice = carrier.Money{
			Amount:   q.TotalPrice.Amount * rate / targetRate,
			Currency: target,
		}
	}
}

// rank scores and sorts quotes best-first and marks the winner recommended.
// Scoring is deterministic for fixed weights and fixed carrier responses.
func (a *Aggregator) rank(quotes []*carrier.Quote) {
	minPrice, maxPrice := quotes[0].TotalPrice.Amount, quotes[0].TotalPrice.Amount
	minDays, maxDays := quotes[0].TransitDays, quotes[0].TransitDays
	for _, q := range quotes[1:] {
		if q.TotalPrice.Amount < minPrice {
			minPrice = q.TotalPrice.Amount
		}
		if q.TotalPrice.Amount > maxPrice {
			maxPrice = q.TotalPrice.Amount
		}
		if q.TransitDays < minDays {
			minDays = q.TransitDays
		}
		if q.TransitDays > maxDays {
			maxDays = q.TransitDays
		}
	}

	norm := func(v, lo, hi float64) float64 {
		if hi <= lo {
			return 0
		}
		return (v - lo) / (hi - lo)
	}
	for _, q := range quotes {
		q.Score = a.cfg.PriceWeight*norm(q.TotalPrice.Amount, minPrice, maxPrice) +
			a.cfg.TransitWeight*norm(float64(q.TransitDays), float64(minDays), float64(maxDays))
		q.Recommended = false
	}

	priorityIdx := func(name string) int {
		for i, p := range a.cfg.Priority {
			if p == name {
				return i
			}
		}
		return len(a.cfg.Priority)
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		if quotes[i].Score != quotes[j].Score {
			return quotes[i].Score < quotes[j].Score
		}
		pi, pj := priorityIdx(quotes[i].Carrier), priorityIdx(quotes[j].Carrier)
		if pi != pj {
			return pi < pj
		}
		return quotes[i].Carrier < quotes[j].Carrier
	})
	quotes[0].Recommended = true
}

func validate(req *carrier.QuoteRequest) error {
	switch {
	case req == nil:
		return carrier.NewError("", carrier.ClassValidation, "EMPTY_REQUEST", "quote request required")
	case req.Origin.CountryCode == "" || req.Destination.CountryCode == "":
		return carrier.NewError("", carrier.ClassValidation, "MISSING_COUNTRY", "origin and destination country codes required")
	case len(req.Packages) == 0:
		return carrier.NewError("", carrier.ClassValidation, "NO_PACKAGES", "at least one package required")
	}
	for _, p := range req.Packages {
		if p.Weight <= 0 {
			return carrier.NewError("", carrier.ClassValidation, "BAD_WEIGHT", "package weight must be positive")
		}
	}
	return nil
}

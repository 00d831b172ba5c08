// Package breaker implements the per-carrier circuit breaker and health
// monitor gating calls to carrier adapters.
package breaker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/enviora/carrier/internal/telemetry"
	"github.com/enviora/carrier/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// State is a breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds breaker thresholds. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold opens the breaker after this many consecutive
	// failures (default 5).
	FailureThreshold int

	// Window is how many recent calls feed the error-rate check (default 20).
	Window int

	// ErrorRate opens the breaker when the failure fraction over Window
	// exceeds it (default 0.5). Only applies once the window is full.
	ErrorRate float64

	// Cooldown is the initial open duration (default 60s). It doubles on
	// each re-open up to MaxCooldown (default 15m).
	Cooldown    time.Duration
	MaxCooldown time.Duration

	// Now overrides the clock for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Window <= 0 {
		c.Window = 20
	}
	if c.ErrorRate <= 0 {
		c.ErrorRate = 0.5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 15 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

const latencySamples = 128

// circuit is the mutable state for one carrier. All fields are guarded by
// the owning Breaker's per-circuit mutex.
type circuit struct {
	mu sync.Mutex

	state               State
	consecutiveFailures int
	lastFailure         time.Time
	nextRetry           time.Time
	reopenCount         int
	probeInFlight       bool

	// outcomes is a ring of recent call results (true = failure).
	outcomes  []bool
	outcomeAt int
	outcomeN  int

	// latencies is a ring of recent call durations.
	latencies []time.Duration
	latencyAt int
	latencyN  int
}

// Snapshot is a read-only view of one carrier's breaker.
type Snapshot struct {
	Carrier             string        `json:"carrier"`
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastFailure         time.Time     `json:"last_failure,omitzero"`
	NextRetry           time.Time     `json:"next_retry,omitzero"`
	LatencyP50          time.Duration `json:"latency_p50_ns"`
	LatencyP95          time.Duration `json:"latency_p95_ns"`
}

// Breaker tracks failure state per carrier. Reads for eligibility checks
// are cheap; a slightly stale read only risks one extra wasted call.
type Breaker struct {
	cfg     Config
	mu      sync.RWMutex
	byName  map[string]*circuit
	logger  *otelzap.Logger
	metrics *telemetry.Metrics
}

// New creates a breaker with the given thresholds.
func New(cfg Config, logger *otelzap.Logger, metrics *telemetry.Metrics) *Breaker {
	return &Breaker{
		cfg:     cfg.withDefaults(),
		byName:  make(map[string]*circuit),
		logger:  logger,
		metrics: metrics,
	}
}

func (b *Breaker) circuit(name string) *circuit {
	b.mu.RLock()
	c, ok := b.byName[name]
	b.mu.RUnlock()
	if ok {
		return c
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.byName[name]; ok {
		return c
	}
	c = &circuit{
		state:     StateClosed,
		outcomes:  make([]bool, b.cfg.Window),
		latencies: make([]time.Duration, latencySamples),
	}
	b.byName[name] = c
	return c
}

// Allow reports whether a call to the carrier may proceed. In the open
// state it returns ErrBreakerOpen until the cooldown expires, after which
// exactly one caller claims the half-open probe slot; everyone else keeps
// getting ErrBreakerOpen until the probe resolves.
func (b *Breaker) Allow(name string) error {
	c := b.circuit(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.cfg.Now().Before(c.nextRetry) {
			return fmt.Errorf("%s: %w", name, carrier.ErrBreakerOpen)
		}
		b.transition(name, c, StateHalfOpen)
		c.probeInFlight = true
		return nil
	case StateHalfOpen:
		if c.probeInFlight {
			return fmt.Errorf("%s: %w", name, carrier.ErrBreakerOpen)
		}
		c.probeInFlight = true
		return nil
	}
	return nil
}

// ReleaseProbe returns a claimed half-open probe slot without recording an
// outcome. Every caller that passes Allow but never reaches the carrier
// (missing credentials, rejected input) must release here; otherwise the
// slot leaks and the circuit stays half-open with no probe ever resolving.
func (b *Breaker) ReleaseProbe(name string) {
	c := b.circuit(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateHalfOpen {
		c.probeInFlight = false
	}
}

// Eligible is a lock-light read used for fan-out candidate filtering.
func (b *Breaker) Eligible(name string) bool {
	c := b.circuit(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateOpen {
		return !b.cfg.Now().Before(c.nextRetry)
	}
	return true
}

// RecordSuccess records a successful call. Results arriving after the
// caller abandoned the request must still be recorded here.
func (b *Breaker) RecordSuccess(name string, latency time.Duration) {
	c := b.circuit(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordOutcome(false)
	c.recordLatency(latency)
	c.consecutiveFailures = 0

	if c.state == StateHalfOpen {
		c.probeInFlight = false
		c.reopenCount = 0
		b.transition(name, c, StateClosed)
	}
}

// RecordFailure records a failed call and opens the breaker when the
// consecutive-failure or error-rate threshold trips.
func (b *Breaker) RecordFailure(name string, latency time.Duration) {
	c := b.circuit(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := b.cfg.Now()
	c.recordOutcome(true)
	c.recordLatency(latency)
	c.consecutiveFailures++
	c.lastFailure = now

	switch c.state {
	case StateHalfOpen:
		c.probeInFlight = false
		c.reopenCount++
		b.open(name, c, now)
	case StateClosed:
		if c.consecutiveFailures >= b.cfg.FailureThreshold || c.errorRate() > b.cfg.ErrorRate {
			b.open(name, c, now)
		}
	}
}

// open transitions to the open state with an exponentially growing cooldown.
func (b *Breaker) open(name string, c *circuit, now time.Time) {
	cooldown := b.cfg.Cooldown
	for i := 0; i < c.reopenCount; i++ {
		cooldown *= 2
		if cooldown >= b.cfg.MaxCooldown {
			cooldown = b.cfg.MaxCooldown
			break
		}
	}
	c.nextRetry = now.Add(cooldown)
	b.transition(name, c, StateOpen)
}

func (b *Breaker) transition(name string, c *circuit, to State) {
	from := c.state
	c.state = to
	if b.logger != nil {
		b.logger.Info("Breaker transition",
			zap.String("carrier", name),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Int("consecutive_failures", c.consecutiveFailures),
		)
	}
	if b.metrics != nil {
		b.metrics.BreakerTransitions.WithLabelValues(name, string(to)).Inc()
		b.metrics.BreakerState.WithLabelValues(name).Set(stateGauge(to))
	}
}

func stateGauge(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	}
	return 0
}

// errorRate returns the failure fraction over the window, or 0 until the
// window has filled.
func (c *circuit) errorRate() float64 {
	if c.outcomeN < len(c.outcomes) {
		return 0
	}
	failures := 0
	for _, failed := range c.outcomes {
		if failed {
			failures++
		}
	}
	return float64(failures) / float64(len(c.outcomes))
}

func (c *circuit) recordOutcome(failed bool) {
	c.outcomes[c.outcomeAt] = failed
	c.outcomeAt = (c.outcomeAt + 1) % len(c.outcomes)
	if c.outcomeN < len(c.outcomes) {
		c.outcomeN++
	}
}

func (c *circuit) recordLatency(d time.Duration) {
	if d <= 0 {
		return
	}
	c.latencies[c.latencyAt] = d
	c.latencyAt = (c.latencyAt + 1) % len(c.latencies)
	if c.latencyN < len(c.latencies) {
		c.latencyN++
	}
}

// percentile computes the given percentile over the recorded samples.
func (c *circuit) percentile(p float64) time.Duration {
	if c.latencyN == 0 {
		return 0
	}
	samples := make([]time.Duration, c.latencyN)
	copy(samples, c.latencies[:c.latencyN])
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	idx := int(p * float64(c.latencyN-1))
	return samples[idx]
}

// Snapshot returns the current view of one carrier's breaker.
func (b *Breaker) Snapshot(name string) Snapshot {
	c := b.circuit(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Carrier:             name,
		State:               c.state,
		ConsecutiveFailures: c.consecutiveFailures,
		LastFailure:         c.lastFailure,
		NextRetry:           c.nextRetry,
		LatencyP50:          c.percentile(0.50),
		LatencyP95:          c.percentile(0.95),
	}
}

// Snapshots returns views for every carrier seen so far, sorted by name.
func (b *Breaker) Snapshots() []Snapshot {
	b.mu.RLock()
	names := make([]string, 0, len(b.byName))
	for name := range b.byName {
		names = append(names, name)
	}
	b.mu.RUnlock()
	sort.Strings(names)

	result := make([]Snapshot, len(names))
	for i, name := range names {
		result[i] = b.Snapshot(name)
	}
	return result
}

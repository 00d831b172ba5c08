package breaker

import (
	"context"
	"time"

	"github.com/enviora/carrier/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ProbeFunc performs one lightweight health-check call against a carrier.
// A nil error counts as a breaker success.
type ProbeFunc func(ctx context.Context, carrier string) error

// Monitor proactively probes open breakers on a fixed schedule so that a
// recovered carrier closes again even without live traffic. It talks to
// the breaker only through its public Allow/Record API.
type Monitor struct {
	breaker  *Breaker
	carriers func() []string
	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	logger   *otelzap.Logger
}

// NewMonitor creates a health monitor. carriers supplies the carrier set on
// each tick so late registrations are picked up.
func NewMonitor(b *Breaker, carriers func() []string, probe ProbeFunc, interval time.Duration, logger *otelzap.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		breaker:  b,
		carriers: carriers,
		probe:    probe,
		interval: interval,
		timeout:  10 * time.Second,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, probing unhealthy carriers each tick.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	for _, name := range m.carriers() {
		snap := m.breaker.Snapshot(name)
		if snap.State == StateClosed {
			continue
		}
		// Allow claims the half-open probe slot; skip if the cooldown has
		// not expired or live traffic already holds the probe.
		if err := m.breaker.Allow(name); err != nil {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		err := m.probe(probeCtx, name)
		cancel()

		if err != nil {
			// Credential problems are operator work, not carrier health:
			// release the probe slot without an outcome so the circuit can
			// close as soon as credentials are fixed.
			if carrier.ClassOf(err) == carrier.ClassAuth {
				m.breaker.ReleaseProbe(name)
			} else {
				m.breaker.RecordFailure(name, time.Since(start))
			}
			m.logger.Info("Health probe failed",
				zap.String("carrier", name),
				zap.Error(err),
			)
			continue
		}
		m.breaker.RecordSuccess(name, time.Since(start))
		m.logger.Info("Health probe recovered carrier", zap.String("carrier", name))
	}
}

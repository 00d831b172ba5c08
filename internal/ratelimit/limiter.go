// Package ratelimit throttles outbound carrier calls with one token bucket
// per (carrier, environment), sized to each carrier's published API limits.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/enviora/carrier/pkg/carrier"
	"golang.org/x/time/rate"
)

// Config sizes the buckets.
type Config struct {
	// DefaultRPS and DefaultBurst apply to carriers without an override.
	DefaultRPS   float64
	DefaultBurst int

	// Overrides maps carrier code to (rps, burst).
	Overrides map[string][2]float64
}

// Limiter holds the per-carrier token buckets.
type Limiter struct {
	cfg Config
	env carrier.Environment

	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
}

// New creates a limiter for one carrier environment.
func New(cfg Config, env carrier.Environment) *Limiter {
	if cfg.DefaultRPS <= 0 {
		cfg.DefaultRPS = 10
	}
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 20
	}
	return &Limiter{
		cfg:     cfg,
		env:     env,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) bucket(name string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[name]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[name]; ok {
		return b
	}
	rps, burst := l.cfg.DefaultRPS, l.cfg.DefaultBurst
	if o, ok := l.cfg.Overrides[name]; ok {
		rps, burst = o[0], int(o[1])
	}
	b = rate.NewLimiter(rate.Limit(rps), burst)
	l.buckets[name] = b
	return b
}

// Acquire takes a token without blocking. Returns ErrWouldBlock when the
// bucket is empty; the caller decides whether to queue or treat it as a
// transient carrier failure.
func (l *Limiter) Acquire(name string) error {
	if !l.bucket(name).Allow() {
		return fmt.Errorf("%s: %w", name, carrier.ErrWouldBlock)
	}
	return nil
}

// Wait blocks up to grace for a token. Used by call sites that prefer a
// short queued wait (quoting) over an immediate reject (label creation).
func (l *Limiter) Wait(ctx context.Context, name string, grace time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := l.bucket(name).Wait(waitCtx); err != nil {
		return fmt.Errorf("%s: %w", name, carrier.ErrWouldBlock)
	}
	return nil
}

// Saturation reports how depleted a carrier's bucket currently is, in
// [0, 1], for the operator status endpoint.
func (l *Limiter) Saturation(name string) float64 {
	b := l.bucket(name)
	tokens := b.Tokens()
	burst := float64(b.Burst())
	if burst <= 0 {
		return 0
	}
	s := 1 - tokens/burst
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

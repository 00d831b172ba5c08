// Package retry centralizes the retry/backoff policy applied at the
// aggregator, selector, and webhook-pipeline call sites. Adapters never
// retry; this is the single place that decides when a classified error is
// worth another attempt and how long to wait.
package retry

import (
	"time"

	"github.com/enviora/carrier/pkg/carrier"
)

// webhookSchedule matches common carrier redelivery expectations.
var webhookSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
}

// Policy decides retryability and delay per attempt.
type Policy struct {
	// Schedule is the per-attempt delay table. Attempts beyond its length
	// reuse the last entry.
	Schedule []time.Duration

	// MaxAttempts caps total tries; 0 means len(Schedule).
	MaxAttempts int
}

// WebhookPolicy returns the backoff policy for webhook processing:
// 1m, 5m, 15m, 1h, 6h, then dead-letter.
func WebhookPolicy() Policy {
	return Policy{Schedule: webhookSchedule, MaxAttempts: len(webhookSchedule)}
}

// Backoff returns the delay before the given retry attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if len(p.Schedule) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(p.Schedule) {
		attempt = len(p.Schedule)
	}
	return p.Schedule[attempt-1]
}

// Exhausted reports whether the attempt count has used up the policy.
func (p Policy) Exhausted(attempts int) bool {
	max := p.MaxAttempts
	if max == 0 {
		max = len(p.Schedule)
	}
	return attempts >= max
}

// Retryable reports whether the error classification permits a retry.
// Auth and validation failures never retry; transient ones do.
func Retryable(err error) bool {
	return carrier.Retryable(err)
}

package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/enviora/carrier/internal/retry"
	"github.com/enviora/carrier/pkg/carrier"
)

func TestWebhookPolicy_Schedule(t *testing.T) {
	p := retry.WebhookPolicy()

	assert.Equal(t, 1*time.Minute, p.Backoff(1))
	assert.Equal(t, 5*time.Minute, p.Backoff(2))
	assert.Equal(t, 15*time.Minute, p.Backoff(3))
	assert.Equal(t, 1*time.Hour, p.Backoff(4))
	assert.Equal(t, 6*time.Hour, p.Backoff(5))
}

func TestPolicy_BackoffClampsAttempt(t *testing.T) {
	p := retry.Policy{Schedule: []time.Duration{time.Second, time.Minute}}

	assert.Equal(t, time.Second, p.Backoff(0), "attempts below 1 use the first delay")
	assert.Equal(t, time.Minute, p.Backoff(10), "attempts past the table reuse the last delay")
	assert.Equal(t, time.Duration(0), retry.Policy{}.Backoff(1))
}

func TestPolicy_Exhausted(t *testing.T) {
	p := retry.WebhookPolicy()

	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))

	capped := retry.Policy{Schedule: []time.Duration{time.Second}, MaxAttempts: 3}
	assert.False(t, capped.Exhausted(2))
	assert.True(t, capped.Exhausted(3))

	// MaxAttempts 0 falls back to the schedule length.
	implied := retry.Policy{Schedule: []time.Duration{time.Second, time.Second}}
	assert.True(t, implied.Exhausted(2))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retry.Retryable(carrier.NewError("dhl", carrier.ClassTransient, "HTTP_503", "down")))
	assert.True(t, retry.Retryable(errors.New("net: timeout")))
	assert.False(t, retry.Retryable(carrier.NewError("dhl", carrier.ClassAuth, "HTTP_401", "bad key")))
	assert.False(t, retry.Retryable(carrier.NewError("dhl", carrier.ClassValidation, "HTTP_400", "bad request")))
}

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviora/carrier/internal/ratelimit"
	"github.com/enviora/carrier/pkg/carrier"
)

func TestLimiter_AcquireDrainsBurst(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{DefaultRPS: 0.001, DefaultBurst: 3}, carrier.EnvSandbox)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire("dhl"), "token %d", i+1)
	}

	err := l.Acquire("dhl")
	assert.ErrorIs(t, err, carrier.ErrWouldBlock)
	assert.Contains(t, err.Error(), "dhl")
}

func TestLimiter_BucketsAreIndependent(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{DefaultRPS: 0.001, DefaultBurst: 1}, carrier.EnvSandbox)

	require.NoError(t, l.Acquire("dhl"))
	require.ErrorIs(t, l.Acquire("dhl"), carrier.ErrWouldBlock)

	// Draining dhl's bucket leaves fedex untouched.
	assert.NoError(t, l.Acquire("fedex"))
}

func TestLimiter_Overrides(t *testing.T) {
	cfg := ratelimit.Config{
		DefaultRPS:   0.001,
		DefaultBurst: 1,
		Overrides:    map[string][2]float64{"ups": {0.001, 5}},
	}
	l := ratelimit.New(cfg, carrier.EnvSandbox)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire("ups"), "override burst token %d", i+1)
	}
	assert.ErrorIs(t, l.Acquire("ups"), carrier.ErrWouldBlock)
}

func TestLimiter_WaitQueuesForToken(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{DefaultRPS: 50, DefaultBurst: 1}, carrier.EnvSandbox)

	require.NoError(t, l.Acquire("dhl"))

	// The bucket refills at 50 rps, so a ~20ms wait gets a token inside
	// the grace window.
	err := l.Wait(context.Background(), "dhl", 500*time.Millisecond)
	assert.NoError(t, err)
}

func TestLimiter_WaitGivesUpAfterGrace(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{DefaultRPS: 0.001, DefaultBurst: 1}, carrier.EnvSandbox)

	require.NoError(t, l.Acquire("dhl"))

	start := time.Now()
	err := l.Wait(context.Background(), "dhl", 20*time.Millisecond)

	assert.ErrorIs(t, err, carrier.ErrWouldBlock)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimiter_Saturation(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{DefaultRPS: 0.001, DefaultBurst: 4}, carrier.EnvSandbox)

	assert.InDelta(t, 0.0, l.Saturation("dhl"), 0.01, "full bucket")

	require.NoError(t, l.Acquire("dhl"))
	require.NoError(t, l.Acquire("dhl"))
	assert.InDelta(t, 0.5, l.Saturation("dhl"), 0.01, "half drained")

	require.NoError(t, l.Acquire("dhl"))
	require.NoError(t, l.Acquire("dhl"))
	assert.InDelta(t, 1.0, l.Saturation("dhl"), 0.01, "empty bucket")
}

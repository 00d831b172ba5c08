package quote_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/enviora/carrier/internal/breaker"
	"github.com/enviora/carrier/internal/quote"
	"github.com/enviora/carrier/internal/ratelimit"
	"github.com/enviora/carrier/internal/telemetry"
	"github.com/enviora/carrier/internal/vault"
	"github.com/enviora/carrier/pkg/carrier"
	"github.com/enviora/carrier/pkg/carrier/mock"
)

// Metrics register against the default Prometheus registry, so the test
// binary shares one instance.
var testMetrics = telemetry.NewMetrics()

type testEngine struct {
	registry *carrier.Registry
	breaker  *breaker.Breaker
	agg      *quote.Aggregator
}

func newTestEngine(t *testing.T, cfg quote.Config, adapters ...*mock.Client) *testEngine {
	t.Helper()
	logger := otelzap.New(zap.NewNop())

	registry := carrier.NewRegistry()
	keys, err := vault.NewLocalKeyManager(filepath.Join(t.TempDir(), "keys.json"))
	require.NoError(t, err)
	v := vault.New(keys, vault.NewMemoryStore())
	for _, a := range adapters {
		registry.Register(a)
		err := v.Put(context.Background(), a.Name(), carrier.EnvSandbox,
			map[string]string{"api_key": "test-key"}, time.Time{})
		require.NoError(t, err)
	}

	brk := breaker.New(breaker.Config{}, logger, nil)
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 1000, DefaultBurst: 1000}, carrier.EnvSandbox)
	agg := quote.New(cfg, registry, brk, limiter, v, carrier.EnvSandbox, logger, testMetrics)

	return &testEngine{registry: registry, breaker: brk, agg: agg}
}

func validRequest() *carrier.QuoteRequest {
	return &carrier.QuoteRequest{
		Origin:      carrier.Address{City: "Bogota", CountryCode: "CO"},
		Destination: carrier.Address{City: "Miami", CountryCode: "US"},
		Packages: []carrier.Package{
			{Length: 30, Width: 20, Height: 10, Weight: 2, WeightUnit: carrier.WeightKG},
		},
	}
}

func TestAggregator_RanksByWeightedScore(t *testing.T) {
	dhl := mock.New("dhl")
	dhl.QuotePrice, dhl.QuoteTransitDays = 95.00, 3
	fedex := mock.New("fedex")
	fedex.QuotePrice, fedex.QuoteTransitDays = 89.00, 4

	eng := newTestEngine(t, quote.Config{}, dhl, fedex)

	quotes, err := eng.agg.Aggregate(context.Background(), validRequest())

	require.NoError(t, err)
	require.Len(t, quotes, 2)

	// FedEx is cheapest (norm price 0) but slowest (norm transit 1):
	// 0.6*0 + 0.4*1 = 0.4. DHL: 0.6*1 + 0.4*0 = 0.6. FedEx wins.
	assert.Equal(t, "fedex", quotes[0].Carrier)
	assert.InDelta(t, 0.4, quotes[0].Score, 1e-9)
	assert.True(t, quotes[0].Recommended)
	assert.Equal(t, "dhl", quotes[1].Carrier)
	assert.InDelta(t, 0.6, quotes[1].Score, 1e-9)
	assert.False(t, quotes[1].Recommended)
}

func TestAggregator_TieBreaksByPriority(t *testing.T) {
	ups := mock.New("ups")
	dhl := mock.New("dhl")
	// Identical price and transit: both normalize to score 0.

	eng := newTestEngine(t, quote.Config{Priority: []string{"ups", "dhl"}}, ups, dhl)

	quotes, err := eng.agg.Aggregate(context.Background(), validRequest())

	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, quotes[0].Score, quotes[1].Score)
	assert.Equal(t, "ups", quotes[0].Carrier)
	assert.True(t, quotes[0].Recommended)
}

func TestAggregator_NormalizesCurrency(t *testing.T) {
	servientrega := mock.New("servientrega")
	servientrega.QuotePrice, servientrega.QuoteCurrency = 40000, "COP"
	dhl := mock.New("dhl")
	dhl.QuotePrice = 12.00

	cfg := quote.Config{
		Currency: "USD",
		Rates:    map[string]float64{"USD": 1, "COP": 0.00025},
	}
	eng := newTestEngine(t, cfg, servientrega, dhl)

	quotes, err := eng.agg.Aggregate(context.Background(), validRequest())

	require.NoError(t, err)
	require.Len(t, quotes, 2)
	// 40000 COP at 0.00025 = 10 USD, cheaper than DHL's 12 USD.
	assert.Equal(t, "servientrega", quotes[0].Carrier)
	assert.Equal(t, "USD", quotes[0].TotalPrice.Currency)
	assert.InDelta(t, 10.00, quotes[0].TotalPrice.Amount, 1e-9)
}

func TestAggregator_PartialFailureStillReturnsQuotes(t *testing.T) {
	healthy := mock.New("dhl")
	broken := mock.New("fedex")
	broken.Err = carrier.NewError("fedex", carrier.ClassTransient, "HTTP_503", "upstream down")

	eng := newTestEngine(t, quote.Config{}, healthy, broken)

	quotes, err := eng.agg.Aggregate(context.Background(), validRequest())

	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "dhl", quotes[0].Carrier)
}

func TestAggregator_AllFailedCarriesBreakdown(t *testing.T) {
	dhl := mock.New("dhl")
	dhl.Err = carrier.NewError("dhl", carrier.ClassTransient, "HTTP_500", "boom")
	fedex := mock.New("fedex")
	fedex.Err = carrier.NewError("fedex", carrier.ClassAuth, "HTTP_401", "bad key")

	eng := newTestEngine(t, quote.Config{}, dhl, fedex)

	_, err := eng.agg.Aggregate(context.Background(), validRequest())

	var all *carrier.AllFailedError
	require.ErrorAs(t, err, &all)
	assert.Equal(t, "quote", all.Op)
	require.Len(t, all.Failures, 2)

	reasons := map[string]error{}
	for _, f := range all.Failures {
		reasons[f.Carrier] = f.Reason
	}
	assert.Equal(t, carrier.ClassTransient, carrier.ClassOf(reasons["dhl"]))
	assert.Equal(t, carrier.ClassAuth, carrier.ClassOf(reasons["fedex"]))
}

func TestAggregator_AuthFailureDoesNotFeedBreaker(t *testing.T) {
	dhl := mock.New("dhl")
	dhl.Err = carrier.NewError("dhl", carrier.ClassAuth, "HTTP_401", "bad key")

	eng := newTestEngine(t, quote.Config{}, dhl)

	_, err := eng.agg.Aggregate(context.Background(), validRequest())

	require.Error(t, err)
	assert.Equal(t, 0, eng.breaker.Snapshot("dhl").ConsecutiveFailures)
}

func TestAggregator_SkipsOpenBreaker(t *testing.T) {
	dhl := mock.New("dhl")
	fedex := mock.New("fedex")

	eng := newTestEngine(t, quote.Config{}, dhl, fedex)
	for i := 0; i < 5; i++ {
		eng.breaker.RecordFailure("dhl", time.Millisecond)
	}

	quotes, err := eng.agg.Aggregate(context.Background(), validRequest())

	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "fedex", quotes[0].Carrier)
	assert.Zero(t, dhl.Calls(), "open breaker must shed the carrier before fan-out")
}

func TestAggregator_MissingCredentials(t *testing.T) {
	dhl := mock.New("dhl")
	eng := newTestEngine(t, quote.Config{}, dhl)

	// Register a second carrier without provisioning its credentials.
	ghost := mock.New("ghost")
	eng.registry.Register(ghost)

	quotes, err := eng.agg.Aggregate(context.Background(), validRequest())

	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "dhl", quotes[0].Carrier)
	assert.Zero(t, ghost.Calls(), "no credentials means no carrier call")
}

func TestAggregator_MissingCredentialsDoesNotWedgeHalfOpen(t *testing.T) {
	logger := otelzap.New(zap.NewNop())
	clock := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	registry := carrier.NewRegistry()
	registry.Register(mock.New("dhl"))
	keys, err := vault.NewLocalKeyManager(filepath.Join(t.TempDir(), "keys.json"))
	require.NoError(t, err)
	v := vault.New(keys, vault.NewMemoryStore())

	brk := breaker.New(breaker.Config{Now: func() time.Time { return clock }}, logger, nil)
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 1000, DefaultBurst: 1000}, carrier.EnvSandbox)
	agg := quote.New(quote.Config{}, registry, brk, limiter, v, carrier.EnvSandbox, logger, testMetrics)

	for i := 0; i < 5; i++ {
		brk.RecordFailure("dhl", time.Millisecond)
	}
	clock = clock.Add(61 * time.Second)

	// The half-open probe slot is claimed but the carrier is never called
	// because credentials are missing. The slot must come back, or the
	// circuit can never close.
	_, err = agg.Aggregate(context.Background(), validRequest())
	require.Error(t, err)
	assert.Equal(t, breaker.StateHalfOpen, brk.Snapshot("dhl").State)

	err = v.Put(context.Background(), "dhl", carrier.EnvSandbox,
		map[string]string{"api_key": "test-key"}, time.Time{})
	require.NoError(t, err)

	quotes, err := agg.Aggregate(context.Background(), validRequest())
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, breaker.StateClosed, brk.Snapshot("dhl").State)
}

func TestAggregator_RejectsInvalidRequest(t *testing.T) {
	eng := newTestEngine(t, quote.Config{}, mock.New("dhl"))

	tests := []struct {
		name string
		req  *carrier.QuoteRequest
	}{
		{"nil request", nil},
		{"missing country", &carrier.QuoteRequest{
			Packages: []carrier.Package{{Weight: 1}},
		}},
		{"no packages", &carrier.QuoteRequest{
			Origin:      carrier.Address{CountryCode: "CO"},
			Destination: carrier.Address{CountryCode: "US"},
		}},
		{"zero weight", &carrier.QuoteRequest{
			Origin:      carrier.Address{CountryCode: "CO"},
			Destination: carrier.Address{CountryCode: "US"},
			Packages:    []carrier.Package{{Weight: 0}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.agg.Aggregate(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, carrier.ClassValidation, carrier.ClassOf(err))
		})
	}
}

func TestAggregator_DropsExpiredQuotes(t *testing.T) {
	stale := mock.New("dhl")
	stale.OnQuote = func(ctx context.Context, req *carrier.QuoteRequest) ([]*carrier.Quote, error) {
		return []*carrier.Quote{{
			ID:         "dhl-stale",
			Carrier:    "dhl",
			TotalPrice: carrier.Money{Amount: 10, Currency: "USD"},
			ValidUntil: time.Now().Add(-time.Minute),
			Ref:        "stale",
		}}, nil
	}

	eng := newTestEngine(t, quote.Config{}, stale)

	_, err := eng.agg.Aggregate(context.Background(), validRequest())

	var all *carrier.AllFailedError
	require.ErrorAs(t, err, &all)
}

func TestAggregator_NoCarriersRegistered(t *testing.T) {
	eng := newTestEngine(t, quote.Config{})

	_, err := eng.agg.Aggregate(context.Background(), validRequest())

	var all *carrier.AllFailedError
	require.ErrorAs(t, err, &all)
	assert.ErrorIs(t, err, carrier.ErrCarrierNotFound)
}

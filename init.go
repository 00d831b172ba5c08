package main

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/enviora/carrier/internal/auth"
	"github.com/enviora/carrier/internal/breaker"
	"github.com/enviora/carrier/internal/config"
	"github.com/enviora/carrier/internal/events"
	"github.com/enviora/carrier/internal/fallback"
	"github.com/enviora/carrier/internal/quote"
	"github.com/enviora/carrier/internal/ratelimit"
	"github.com/enviora/carrier/internal/retry"
	"github.com/enviora/carrier/internal/server"
	"github.com/enviora/carrier/internal/storage"
	"github.com/enviora/carrier/internal/telemetry"
	"github.com/enviora/carrier/internal/vault"
	"github.com/enviora/carrier/internal/webhook"
	"github.com/enviora/carrier/pkg/carrier"
	"github.com/enviora/carrier/pkg/carrier/dhl"
	"github.com/enviora/carrier/pkg/carrier/fedex"
	"github.com/enviora/carrier/pkg/carrier/interrapidisimo"
	"github.com/enviora/carrier/pkg/carrier/servientrega"
	"github.com/enviora/carrier/pkg/carrier/ups"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

func initTracer(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return func(context.Context) error { return nil }, nil
	}

	_, shutdown, err := telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version)
	return shutdown, err
}

// engine bundles the running components and their shutdown hook.
type engine struct {
	registry *carrier.Registry
	server   *server.Server
	pipeline *webhook.Pipeline
	monitor  *breaker.Monitor
	cleanup  func()
}

func initEngine(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (*engine, error) {
	metrics := telemetry.NewMetrics()
	env := carrier.Environment(cfg.Environment)
	tracer := otel.GetTracerProvider().Tracer(cfg.ServiceName)

	registry := initRegistry(cfg, logger, tracer)

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Persistence: Postgres when a DSN is configured, in-memory otherwise.
	var (
		shipments  storage.ShipmentStore
		tracking   storage.TrackingEventStore
		webhooks   storage.WebhookEventStore
		fallbacks  storage.FallbackRecordStore
		credsStore vault.RecordStore
	)
	if cfg.PostgresDSN != "" {
		pg, err := storage.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, func() { pg.Close() })
		shipments, tracking = pg, pg
		webhooks, fallbacks = pg.Webhooks(), pg.Fallbacks()
		credsStore = pg.Credentials()
	} else {
		mem := storage.NewMemory()
		shipments, tracking = mem, mem
		webhooks, fallbacks = mem.Webhooks(), mem.Fallbacks()
		credsStore = vault.NewMemoryStore()
	}

	keys, err := vault.NewLocalKeyManager(cfg.VaultKeystorePath)
	if err != nil {
		cleanup()
		return nil, err
	}
	v := vault.New(keys, credsStore)
	seedMockCredentials(ctx, cfg, v, env, logger)

	brk := breaker.New(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Window:           cfg.BreakerErrorRateWindow,
		ErrorRate:        cfg.BreakerErrorRate,
		Cooldown:         time.Duration(cfg.BreakerCooldownSeconds) * time.Second,
		MaxCooldown:      time.Duration(cfg.BreakerMaxCooldownSeconds) * time.Second,
	}, logger, metrics)

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimitDefaultRPS,
		DefaultBurst: cfg.RateLimitDefaultBurst,
		Overrides:    cfg.RateOverrides(),
	}, env)

	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaEnabled {
		kafka := events.NewKafkaPublisher(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
		cleanups = append(cleanups, func() { kafka.Close() })
		publisher = kafka
	}

	routes := cfg.Routes()
	aggregator := quote.New(quote.Config{
		Timeout:       time.Duration(cfg.QuoteTimeoutSeconds) * time.Second,
		PriceWeight:   cfg.QuotePriceWeight,
		TransitWeight: cfg.QuoteTransitWeight,
		Currency:      cfg.QuoteCurrency,
		Rates:         cfg.Rates(),
		Priority:      routes["default"],
	}, registry, brk, limiter, v, env, logger, metrics)
	quotes := quote.NewStore()

	selector := fallback.New(routes, registry, brk, limiter, v, env, fallbacks, publisher, logger, metrics)

	policy := retry.WebhookPolicy()
	if cfg.WebhookMaxRetries > 0 {
		policy.MaxAttempts = cfg.WebhookMaxRetries
	}
	pipeline := webhook.New(webhook.Config{
		Workers:   cfg.WebhookWorkers,
		QueueSize: cfg.WebhookQueueSize,
		Policy:    policy,
	}, registry, v, env, webhooks, tracking, publisher, logger, metrics)

	monitor := breaker.NewMonitor(brk, registry.Names, healthProbe(registry, v, env),
		time.Duration(cfg.HealthCheckIntervalSeconds)*time.Second, logger)

	srv := server.New(server.Config{Port: cfg.Port}, server.Deps{
		Registry:   registry,
		Aggregator: aggregator,
		Quotes:     quotes,
		Selector:   selector,
		Pipeline:   pipeline,
		Breaker:    brk,
		Limiter:    limiter,
		Vault:      v,
		Env:        env,
		Shipments:  shipments,
		Tracking:   tracking,
		Events:     publisher,
		Verifier:   auth.NewVerifier(cfg.JWTSecret),
	}, logger, metrics)

	return &engine{
		registry: registry,
		server:   srv,
		pipeline: pipeline,
		monitor:  monitor,
		cleanup:  cleanup,
	}, nil
}

func initRegistry(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) *carrier.Registry {
	registry := carrier.NewRegistry()

	if cfg.DHLEnabled {
		registry.Register(dhl.New(dhl.Config{
			BaseURL: cfg.DHLBaseURL,
			UseMock: cfg.DHLUseMock,
		}, logger, tracer))
	}

	if cfg.FedExEnabled {
		registry.Register(fedex.New(fedex.Config{
			BaseURL:       cfg.FedExBaseURL,
			AccountNumber: cfg.FedExAccountNumber,
			UseMock:       cfg.FedExUseMock,
		}, logger, tracer))
	}

	if cfg.UPSEnabled {
		registry.Register(ups.New(ups.Config{
			BaseURL: cfg.UPSBaseURL,
			UseMock: cfg.UPSUseMock,
		}, logger, tracer))
	}

	if cfg.ServientregaEnabled {
		registry.Register(servientrega.New(servientrega.Config{
			WSDLURL: cfg.ServientregaWSDLURL,
			UseMock: cfg.ServientregaUseMock,
		}, logger, tracer))
	}

	if cfg.InterRapidisimoEnabled {
		registry.Register(interrapidisimo.New(interrapidisimo.Config{
			BaseURL: cfg.InterRapidisimoBaseURL,
			UseMock: cfg.InterRapidisimoUseMock,
		}, logger, tracer))
	}

	return registry
}

// healthProbe authenticates against a carrier to verify it is reachable.
// The breaker monitor calls it only for open circuits. Vault errors come
// back auth-classed so the monitor treats them as a credential problem
// rather than carrier health.
func healthProbe(registry *carrier.Registry, v *vault.Vault, env carrier.Environment) breaker.ProbeFunc {
	return func(ctx context.Context, name string) error {
		adapter, err := registry.Get(name)
		if err != nil {
			return err
		}
		handle, err := v.Get(ctx, name, env)
		if err != nil {
			return carrier.NewError(name, carrier.ClassAuth, "CREDENTIALS_UNAVAILABLE", "credentials unavailable").WithCause(err)
		}
		cred, err := handle.Credential()
		if err != nil {
			return carrier.NewError(name, carrier.ClassAuth, "CREDENTIALS_UNAVAILABLE", "credentials unavailable").WithCause(err)
		}
		_, err = adapter.Authenticate(ctx, cred)
		return err
	}
}

// seedMockCredentials provisions placeholder secrets for carriers running
// against their mock API clients, so a fresh dev environment works without
// operator provisioning. Real environments always go through the
// credentials API.
func seedMockCredentials(ctx context.Context, cfg *config.Config, v *vault.Vault, env carrier.Environment, logger *otelzap.Logger) {
	mocked := map[string]bool{
		"dhl":             cfg.DHLEnabled && cfg.DHLUseMock,
		"fedex":           cfg.FedExEnabled && cfg.FedExUseMock,
		"ups":             cfg.UPSEnabled && cfg.UPSUseMock,
		"servientrega":    cfg.ServientregaEnabled && cfg.ServientregaUseMock,
		"interrapidisimo": cfg.InterRapidisimoEnabled && cfg.InterRapidisimoUseMock,
	}
	secrets := map[string]string{
		"client_id":       "mock-client-id",
		"client_secret":   "mock-client-secret",
		"api_key":         "mock-api-key",
		"username":        "mock-user",
		"password":        "mock-password",
		webhook.SecretKey: "mock-webhook-secret",
	}
	for name, useMock := range mocked {
		if !useMock {
			continue
		}
		if _, err := v.Get(ctx, name, env); err == nil {
			continue
		}
		if err := v.Put(ctx, name, env, secrets, time.Time{}); err != nil {
			logger.Warn("Failed to seed mock credentials",
				zap.String("carrier", name),
				zap.Error(err),
			)
		}
	}
}

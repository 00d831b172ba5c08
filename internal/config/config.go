package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"80"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Carrier environment: "sandbox" or "production".
	Environment string `envconfig:"CARRIER_ENVIRONMENT" default:"sandbox"`

	// DHL
	DHLEnabled bool   `envconfig:"DHL_ENABLED" default:"true"`
	DHLBaseURL string `envconfig:"DHL_BASE_URL" default:"https://api-mock.dhl.com/mydhlapi"`
	DHLUseMock bool   `envconfig:"DHL_USE_MOCK" default:"false"`

	// FedEx
	FedExEnabled       bool   `envconfig:"FEDEX_ENABLED" default:"true"`
	FedExBaseURL       string `envconfig:"FEDEX_BASE_URL" default:"https://apis-sandbox.fedex.com"`
	FedExAccountNumber string `envconfig:"FEDEX_ACCOUNT_NUMBER" default:""`
	FedExUseMock       bool   `envconfig:"FEDEX_USE_MOCK" default:"false"`

	// UPS
	UPSEnabled bool   `envconfig:"UPS_ENABLED" default:"true"`
	UPSBaseURL string `envconfig:"UPS_BASE_URL" default:"https://wwwcie.ups.com/api"`
	UPSUseMock bool   `envconfig:"UPS_USE_MOCK" default:"false"`

	// Servientrega (SOAP)
	ServientregaEnabled bool   `envconfig:"SERVIENTREGA_ENABLED" default:"true"`
	ServientregaWSDLURL string `envconfig:"SERVIENTREGA_WSDL_URL" default:"https://web.servientrega.com/GeneracionGuias.asmx"`
	ServientregaUseMock bool   `envconfig:"SERVIENTREGA_USE_MOCK" default:"false"`

	// InterRapidísimo (REST + pickup points)
	InterRapidisimoEnabled bool   `envconfig:"INTERRAPIDISIMO_ENABLED" default:"true"`
	InterRapidisimoBaseURL string `envconfig:"INTERRAPIDISIMO_BASE_URL" default:"https://api.interrapidisimo.co/v2"`
	InterRapidisimoUseMock bool   `envconfig:"INTERRAPIDISIMO_USE_MOCK" default:"false"`

	// Circuit breaker. Operational knobs, not contracts.
	BreakerFailureThreshold    int     `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerErrorRateWindow     int     `envconfig:"BREAKER_ERROR_RATE_WINDOW" default:"20"`
	BreakerErrorRate           float64 `envconfig:"BREAKER_ERROR_RATE" default:"0.5"`
	BreakerCooldownSeconds     int     `envconfig:"BREAKER_COOLDOWN_SECONDS" default:"60"`
	BreakerMaxCooldownSeconds  int     `envconfig:"BREAKER_MAX_COOLDOWN_SECONDS" default:"900"`
	HealthCheckIntervalSeconds int     `envconfig:"HEALTH_CHECK_INTERVAL_SECONDS" default:"30"`

	// Quote aggregation
	QuoteTimeoutSeconds int     `envconfig:"QUOTE_TIMEOUT_SECONDS" default:"10"`
	QuotePriceWeight    float64 `envconfig:"QUOTE_PRICE_WEIGHT" default:"0.6"`
	QuoteTransitWeight  float64 `envconfig:"QUOTE_TRANSIT_WEIGHT" default:"0.4"`
	QuoteCurrency       string  `envconfig:"QUOTE_CURRENCY" default:"USD"`

	// ConversionRates maps currency code to its USD-base multiplier, e.g.
	// "COP:0.00025,CAD:0.73". Fed by the external exchange-rate service.
	ConversionRates string `envconfig:"CONVERSION_RATES" default:"USD:1.0,COP:0.00025,CAD:0.73"`

	// RoutePriorities maps route keys to ordered carrier lists, e.g.
	// "CO-US:dhl,fedex,ups;CO-CO:servientrega,interrapidisimo".
	RoutePriorities string `envconfig:"ROUTE_PRIORITIES" default:"CO-US:dhl,fedex,ups;CO-CO:servientrega,interrapidisimo;default:dhl,fedex,ups,servientrega,interrapidisimo"`

	// Rate limiting (per carrier, per environment)
	RateLimitDefaultRPS   float64 `envconfig:"RATE_LIMIT_DEFAULT_RPS" default:"10"`
	RateLimitDefaultBurst int     `envconfig:"RATE_LIMIT_DEFAULT_BURST" default:"20"`
	// RateLimitOverrides, e.g. "dhl:5:10,servientrega:2:4" (carrier:rps:burst).
	RateLimitOverrides string `envconfig:"RATE_LIMIT_OVERRIDES" default:""`

	// Webhook pipeline
	WebhookWorkers    int `envconfig:"WEBHOOK_WORKERS" default:"8"`
	WebhookQueueSize  int `envconfig:"WEBHOOK_QUEUE_SIZE" default:"512"`
	WebhookMaxRetries int `envconfig:"WEBHOOK_MAX_RETRIES" default:"5"`

	// Credential vault
	VaultKeystorePath string `envconfig:"VAULT_KEYSTORE_PATH" default:"/var/lib/carrier/keystore.json"`

	// Persistence. Empty DSN selects the in-memory stores (dev/mock mode).
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Event side-channel
	KafkaEnabled bool   `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"carrier.tracking-events"`

	// Auth (bearer tokens issued by the external auth service).
	// Empty secret disables the bearer check (dev mode).
	JWTSecret string `envconfig:"JWT_SECRET" default:""`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"true"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://jaeger-collector.observability.svc.cluster.local:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"enviora-carrier"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Routes parses RoutePriorities into route key -> ordered carrier codes.
func (c *Config) Routes() map[string][]string {
	routes := make(map[string][]string)
	for _, entry := range strings.Split(c.RoutePriorities, ";") {
		key, list, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || key == "" {
			continue
		}
		var carriers []string
		for _, name := range strings.Split(list, ",") {
			if name = strings.TrimSpace(name); name != "" {
				carriers = append(carriers, name)
			}
		}
		if len(carriers) > 0 {
			routes[key] = carriers
		}
	}
	return routes
}

// Rates parses ConversionRates into currency code -> USD-base multiplier.
func (c *Config) Rates() map[string]float64 {
	rates := make(map[string]float64)
	for _, entry := range strings.Split(c.ConversionRates, ",") {
		code, val, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil && f > 0 {
			rates[strings.ToUpper(code)] = f
		}
	}
	return rates
}

// RateOverrides parses RateLimitOverrides into carrier -> (rps, burst).
func (c *Config) RateOverrides() map[string][2]float64 {
	overrides := make(map[string][2]float64)
	for _, entry := range strings.Split(c.RateLimitOverrides, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			continue
		}
		rps, err1 := strconv.ParseFloat(parts[1], 64)
		burst, err2 := strconv.ParseFloat(parts[2], 64)
		if err1 == nil && err2 == nil && rps > 0 && burst > 0 {
			overrides[parts[0]] = [2]float64{rps, burst}
		}
	}
	return overrides
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.String("carrier.environment", c.Environment),
		attribute.Bool("dhl.enabled", c.DHLEnabled),
		attribute.Bool("fedex.enabled", c.FedExEnabled),
		attribute.Bool("ups.enabled", c.UPSEnabled),
		attribute.Bool("servientrega.enabled", c.ServientregaEnabled),
		attribute.Bool("interrapidisimo.enabled", c.InterRapidisimoEnabled),
	}
}

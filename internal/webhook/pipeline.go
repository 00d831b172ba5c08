// Package webhook ingests asynchronous carrier event notifications:
// signature verification, deduplication, and guaranteed-eventually-
// delivered processing into canonical tracking events.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/enviora/carrier/internal/events"
	"github.com/enviora/carrier/internal/retry"
	"github.com/enviora/carrier/internal/storage"
	"github.com/enviora/carrier/internal/telemetry"
	"github.com/enviora/carrier/internal/vault"
	"github.com/enviora/carrier/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// SecretKey is the vault secret entry holding a carrier's webhook secret.
const SecretKey = "webhook_secret"

// Outcome is the transport-level result of one webhook receipt.
type Outcome string

const (
	// OutcomeAccepted means the event passed verification and dedup and
	// was enqueued for processing.
	OutcomeAccepted Outcome = "accepted"

	// OutcomeDuplicate means an identical delivery was already seen.
	// Carriers redeliver idempotently; duplicates are acknowledged.
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeInvalidSignature means the HMAC check failed. The delivery
	// is acknowledged at transport level but discarded and logged for
	// security review.
	OutcomeInvalidSignature Outcome = "invalid_signature"

	// OutcomeMissingSignature means the request carried no signature
	// headers at all; the transport answers 401.
	OutcomeMissingSignature Outcome = "missing_signature"

	// OutcomeMalformed means the signature checked out but the body did
	// not parse. Acknowledged and logged.
	OutcomeMalformed Outcome = "malformed"

	// OutcomeUnavailable means the engine could not evaluate the event
	// (unknown carrier, vault unavailable).
	OutcomeUnavailable Outcome = "unavailable"
)

// Config sizes the pipeline.
type Config struct {
	Workers   int
	QueueSize int
	Policy    retry.Policy
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if len(c.Policy.Schedule) == 0 {
		c.Policy = retry.WebhookPolicy()
	}
	return c
}

type task struct {
	record   *storage.WebhookEvent
	delivery *carrier.WebhookDelivery
}

// Pipeline verifies, deduplicates, and asynchronously processes inbound
// carrier webhooks.
type Pipeline struct {
	cfg      Config
	registry *carrier.Registry
	vault    *vault.Vault
	env      carrier.Environment
	store    storage.WebhookEventStore
	tracking storage.TrackingEventStore
	publish  events.Publisher
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics

	queue  chan task
	wg     sync.WaitGroup
	timers sync.WaitGroup
}

// New creates a webhook pipeline.
func New(cfg Config, registry *carrier.Registry, v *vault.Vault, env carrier.Environment, store storage.WebhookEventStore, tracking storage.TrackingEventStore, publish events.Publisher, logger *otelzap.Logger, metrics *telemetry.Metrics) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		vault:    v,
		env:      env,
		store:    store,
		tracking: tracking,
		publish:  publish,
		logger:   logger,
		metrics:  metrics,
		queue:    make(chan task, cfg.QueueSize),
	}
}

// Run starts the worker pool, re-enqueues any events stranded in a
// non-terminal state by a previous run, and blocks until ctx is
// cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.recover(ctx)
	<-ctx.Done()
	p.wg.Wait()
}

// recover re-drives events left in received or processing state. Retry
// timers live only in memory, so anything pending at shutdown would
// otherwise sit in the store forever. The payload was signature-verified
// at receipt; it only needs re-parsing.
func (p *Pipeline) recover(ctx context.Context) {
	pending, err := p.store.Pending(ctx)
	if err != nil {
		p.logger.Error("Webhook recovery scan failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}
	for _, record := range pending {
		adapter, err := p.registry.Get(record.Carrier)
		if err != nil {
			p.logger.Error("Webhook recovery skipped unknown carrier",
				zap.String("carrier", record.Carrier),
				zap.String("event_id", record.ID),
			)
			continue
		}
		delivery, err := adapter.ParseWebhookEvent(record.Payload)
		if err != nil {
			record.Status = storage.WebhookDeadLetter
			record.LastError = err.Error()
			if err := p.store.Update(ctx, record); err != nil {
				p.logger.Error("Webhook dead-letter transition failed", zap.Error(err))
			}
			p.count(record.Carrier, "dead_letter")
			continue
		}
		record.Status = storage.WebhookReceived
		p.enqueue(task{record: record, delivery: delivery})
	}
	p.logger.Info("Webhook recovery re-enqueued pending events",
		zap.Int("count", len(pending)),
	)
}

// Receive handles one inbound webhook delivery synchronously through
// signature check and dedup enqueue. The carrier gets its acknowledgement
// as soon as the event is queued, not after full processing.
func (p *Pipeline) Receive(ctx context.Context, carrierName string, body []byte, headers http.Header) Outcome {
	adapter, err := p.registry.Get(carrierName)
	if err != nil {
		p.count(carrierName, OutcomeUnavailable)
		return OutcomeUnavailable
	}

	if !hasSignatureHeaders(headers) {
		p.count(carrierName, OutcomeMissingSignature)
		return OutcomeMissingSignature
	}

	secret, err := p.webhookSecret(ctx, carrierName)
	if err != nil {
		p.logger.Error("Webhook secret unavailable",
			zap.String("carrier", carrierName),
			zap.Error(err),
		)
		p.count(carrierName, OutcomeUnavailable)
		return OutcomeUnavailable
	}

	if !adapter.ValidateWebhookSignature(body, headers, secret) {
		p.logger.Warn("Webhook signature verification failed",
			zap.String("carrier", carrierName),
			zap.String("payload_hash", payloadHash(body)),
		)
		p.count(carrierName, OutcomeInvalidSignature)
		return OutcomeInvalidSignature
	}

	delivery, err := adapter.ParseWebhookEvent(body)
	if err != nil {
		p.logger.Warn("Webhook body did not parse",
			zap.String("carrier", carrierName),
			zap.Error(err),
		)
		p.count(carrierName, OutcomeMalformed)
		return OutcomeMalformed
	}

	// Dedup key: carrier event ID when present, payload hash otherwise.
	// Claim is an atomic check-and-set, so two concurrent deliveries of
	// the same event cannot both get through.
	hash := payloadHash(body)
	id := carrierName + ":" + delivery.EventID
	if delivery.EventID == "" {
		id = carrierName + ":" + hash
	}
	record := &storage.WebhookEvent{
		ID:          id,
		Carrier:     carrierName,
		PayloadHash: hash,
		Payload:     body,
		SignatureOK: true,
		Status:      storage.WebhookReceived,
		ReceivedAt:  time.Now(),
	}
	claimed, err := p.store.Claim(ctx, record)
	if err != nil {
		p.logger.Error("Webhook dedup store failed",
			zap.String("carrier", carrierName),
			zap.Error(err),
		)
		p.count(carrierName, OutcomeUnavailable)
		return OutcomeUnavailable
	}
	if !claimed {
		p.count(carrierName, OutcomeDuplicate)
		return OutcomeDuplicate
	}

	p.enqueue(task{record: record, delivery: delivery})
	p.count(carrierName, OutcomeAccepted)
	return OutcomeAccepted
}

// enqueue hands a task to the worker pool, or schedules the first retry
// when the queue is saturated so the event is never lost.
func (p *Pipeline) enqueue(t task) {
	select {
	case p.queue <- t:
		p.metrics.WebhookQueueDepth.Set(float64(len(p.queue)))
	default:
		p.scheduleRetry(t, 1)
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			p.metrics.WebhookQueueDepth.Set(float64(len(p.queue)))
			p.process(ctx, t)
		}
	}
}

// process normalizes and persists one event, marking it processed. A
// failure schedules a retry with exponential backoff until the policy is
// exhausted, after which the event dead-letters. Dead-lettering one event
// never blocks others.
func (p *Pipeline) process(ctx context.Context, t task) {
	t.record.Status = storage.WebhookProcessing
	if err := p.store.Update(ctx, t.record); err != nil {
		p.logger.Error("Webhook state transition failed", zap.Error(err))
	}

	event := t.delivery.Event
	event.Source = carrier.SourceWebhook

	err := p.tracking.Append(ctx, &event)
	if err != nil {
		p.fail(ctx, t, err)
		return
	}
	if err := p.publish.PublishTrackingEvent(ctx, &event); err != nil {
		// The stored event is the source of truth; a publish failure is
		// logged, not retried through the pipeline.
		p.logger.Warn("Tracking event publish failed",
			zap.String("tracking_number", event.TrackingNumber),
			zap.Error(err),
		)
	}

	t.record.Status = storage.WebhookProcessed
	if err := p.store.Update(ctx, t.record); err != nil {
		p.logger.Error("Webhook state transition failed", zap.Error(err))
	}
	p.count(t.record.Carrier, "processed")
}

func (p *Pipeline) fail(ctx context.Context, t task, cause error) {
	t.record.RetryCount++
	t.record.LastError = cause.Error()

	if p.cfg.Policy.Exhausted(t.record.RetryCount) {
		t.record.Status = storage.WebhookDeadLetter
		if err := p.store.Update(ctx, t.record); err != nil {
			p.logger.Error("Webhook dead-letter transition failed", zap.Error(err))
		}
		p.logger.Error("Webhook event dead-lettered",
			zap.String("carrier", t.record.Carrier),
			zap.String("event_id", t.record.ID),
			zap.Int("attempts", t.record.RetryCount),
			zap.Error(cause),
		)
		p.count(t.record.Carrier, "dead_letter")
		return
	}

	t.record.Status = storage.WebhookReceived
	if err := p.store.Update(ctx, t.record); err != nil {
		p.logger.Error("Webhook state transition failed", zap.Error(err))
	}
	p.scheduleRetry(t, t.record.RetryCount)
}

func (p *Pipeline) scheduleRetry(t task, attempt int) {
	delay := p.cfg.Policy.Backoff(attempt)
	p.timers.Add(1)
	time.AfterFunc(delay, func() {
		defer p.timers.Done()
		p.enqueue(t)
	})
	p.logger.Info("Webhook processing retry scheduled",
		zap.String("carrier", t.record.Carrier),
		zap.String("event_id", t.record.ID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)
}

func (p *Pipeline) webhookSecret(ctx context.Context, carrierName string) (string, error) {
	handle, err := p.vault.Get(ctx, carrierName, p.env)
	if err != nil {
		return "", err
	}
	cred, err := handle.Credential()
	if err != nil {
		return "", err
	}
	return cred.Secret(SecretKey), nil
}

func (p *Pipeline) count(carrierName string, outcome Outcome) {
	p.metrics.WebhooksTotal.WithLabelValues(carrierName, string(outcome)).Inc()
}

func payloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// hasSignatureHeaders reports whether any carrier signature header is
// present, regardless of carrier-specific naming. Colombian carriers use
// "Firma" where the internationals use "Signature".
func hasSignatureHeaders(headers http.Header) bool {
	for name := range headers {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "signature") || strings.Contains(lower, "firma") {
			return true
		}
	}
	return false
}

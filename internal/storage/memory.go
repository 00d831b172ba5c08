package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/enviora/carrier/pkg/carrier"
)

// Memory bundles in-memory implementations of every store, used in tests
// and mock mode (empty POSTGRES_DSN).
type Memory struct {
	mu        sync.RWMutex
	shipments map[string]*carrier.Shipment
	events    map[string][]*carrier.TrackingEvent
	webhooks  map[string]*WebhookEvent
	fallbacks []*FallbackRecord
}

// NewMemory creates the in-memory store bundle.
func NewMemory() *Memory {
	return &Memory{
		shipments: make(map[string]*carrier.Shipment),
		events:    make(map[string][]*carrier.TrackingEvent),
		webhooks:  make(map[string]*WebhookEvent),
	}
}

// Create stores a shipment.
func (m *Memory) Create(_ context.Context, s *carrier.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shipments[s.TrackingNumber]; ok {
		return fmt.Errorf("shipment %s already exists", s.TrackingNumber)
	}
	cp := *s
	m.shipments[s.TrackingNumber] = &cp
	return nil
}

// Get fetches a shipment.
func (m *Memory) Get(_ context.Context, trackingNumber string) (*carrier.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.shipments[trackingNumber]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: shipment %s", ErrNotFound, trackingNumber)
}

// MarkCancelled flips the shipment's cancellation flag.
func (m *Memory) MarkCancelled(_ context.Context, trackingNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[trackingNumber]
	if !ok {
		return fmt.Errorf("%w: shipment %s", ErrNotFound, trackingNumber)
	}
	s.Cancelled = true
	return nil
}

// Append adds a tracking event to the log.
func (m *Memory) Append(_ context.Context, e *carrier.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events[e.TrackingNumber] = append(m.events[e.TrackingNumber], &cp)
	return nil
}

// ByTrackingNumber returns the event log ordered by timestamp.
func (m *Memory) ByTrackingNumber(_ context.Context, trackingNumber string) ([]*carrier.TrackingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[trackingNumber]
	result := make([]*carrier.TrackingEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

// Claim atomically inserts an unseen webhook event.
func (m *Memory) Claim(_ context.Context, e *WebhookEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[e.ID]; ok {
		return false, nil
	}
	cp := *e
	m.webhooks[e.ID] = &cp
	return true, nil
}

// Update transitions a webhook event's state.
func (m *Memory) Update(_ context.Context, e *WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[e.ID]; !ok {
		return fmt.Errorf("%w: webhook event %s", ErrNotFound, e.ID)
	}
	cp := *e
	cp.UpdatedAt = time.Now()
	m.webhooks[e.ID] = &cp
	return nil
}

// Get fetches a webhook event.
func (m *Memory) GetWebhook(_ context.Context, id string) (*WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.webhooks[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: webhook event %s", ErrNotFound, id)
}

// Pending lists webhook events still awaiting processing.
func (m *Memory) Pending(_ context.Context) ([]*WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*WebhookEvent
	for _, e := range m.webhooks {
		if e.Status == WebhookReceived || e.Status == WebhookProcessing {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

// DeadLetters lists parked webhook events.
func (m *Memory) DeadLetters(_ context.Context) ([]*WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*WebhookEvent
	for _, e := range m.webhooks {
		if e.Status == WebhookDeadLetter {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

// AppendFallback adds a fallback audit record.
func (m *Memory) AppendFallback(_ context.Context, r *FallbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.fallbacks = append(m.fallbacks, &cp)
	return nil
}

// ByRoute lists fallback records for a route key.
func (m *Memory) ByRoute(_ context.Context, routeKey string) ([]*FallbackRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*FallbackRecord
	for _, r := range m.fallbacks {
		if r.RouteKey == routeKey {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

// memoryWebhookStore adapts Memory to WebhookEventStore (Get name clash).
type memoryWebhookStore struct{ *Memory }

func (s memoryWebhookStore) Get(ctx context.Context, id string) (*WebhookEvent, error) {
	return s.GetWebhook(ctx, id)
}

// Webhooks returns the WebhookEventStore view.
func (m *Memory) Webhooks() WebhookEventStore {
	return memoryWebhookStore{m}
}

// memoryFallbackStore adapts Memory to FallbackRecordStore.
type memoryFallbackStore struct{ *Memory }

func (s memoryFallbackStore) Append(ctx context.Context, r *FallbackRecord) error {
	return s.AppendFallback(ctx, r)
}

// Fallbacks returns the FallbackRecordStore view.
func (m *Memory) Fallbacks() FallbackRecordStore {
	return memoryFallbackStore{m}
}

var (
	_ ShipmentStore      = (*Memory)(nil)
	_ TrackingEventStore = (*Memory)(nil)
)

package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviora/carrier/internal/storage"
	"github.com/enviora/carrier/pkg/carrier"
)

func TestMemory_ShipmentLifecycle(t *testing.T) {
	m := storage.NewMemory()
	ctx := context.Background()

	shipment := &carrier.Shipment{
		TrackingNumber: "TRK-1",
		Carrier:        "dhl",
		Cost:           carrier.Money{Amount: 95, Currency: "USD"},
		CreatedAt:      time.Now(),
	}
	require.NoError(t, m.Create(ctx, shipment))

	got, err := m.Get(ctx, "TRK-1")
	require.NoError(t, err)
	assert.Equal(t, "dhl", got.Carrier)
	assert.False(t, got.Cancelled)

	require.NoError(t, m.MarkCancelled(ctx, "TRK-1"))
	got, err = m.Get(ctx, "TRK-1")
	require.NoError(t, err)
	assert.True(t, got.Cancelled)
}

func TestMemory_CreateDuplicateShipment(t *testing.T) {
	m := storage.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, &carrier.Shipment{TrackingNumber: "TRK-1"}))
	assert.Error(t, m.Create(ctx, &carrier.Shipment{TrackingNumber: "TRK-1"}))
}

func TestMemory_GetMissingShipment(t *testing.T) {
	m := storage.NewMemory()

	_, err := m.Get(context.Background(), "TRK-none")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = m.MarkCancelled(context.Background(), "TRK-none")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemory_TrackingEventsSortedByTimestamp(t *testing.T) {
	m := storage.NewMemory()
	ctx := context.Background()
	now := time.Now()

	// Append out of chronological order; reads come back sorted.
	require.NoError(t, m.Append(ctx, &carrier.TrackingEvent{
		TrackingNumber: "TRK-1", Status: carrier.StatusInTransit, Timestamp: now,
	}))
	require.NoError(t, m.Append(ctx, &carrier.TrackingEvent{
		TrackingNumber: "TRK-1", Status: carrier.StatusCreated, Timestamp: now.Add(-time.Hour),
	}))

	events, err := m.ByTrackingNumber(ctx, "TRK-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, carrier.StatusCreated, events[0].Status)
	assert.Equal(t, carrier.StatusInTransit, events[1].Status)
}

func TestMemory_ClaimIsAtomic(t *testing.T) {
	m := storage.NewMemory()
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	claims := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := m.Claim(ctx, &storage.WebhookEvent{
				ID: "dhl:evt-1", Carrier: "dhl", Status: storage.WebhookReceived,
			})
			require.NoError(t, err)
			claims <- claimed
		}()
	}
	wg.Wait()
	close(claims)

	winners := 0
	for claimed := range claims {
		if claimed {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent delivery may claim an event")
}

func TestMemory_WebhookUpdateAndDeadLetters(t *testing.T) {
	m := storage.NewMemory()
	ctx := context.Background()

	event := &storage.WebhookEvent{ID: "dhl:evt-1", Carrier: "dhl", Status: storage.WebhookReceived}
	claimed, err := m.Claim(ctx, event)
	require.NoError(t, err)
	require.True(t, claimed)

	event.Status = storage.WebhookDeadLetter
	event.RetryCount = 5
	require.NoError(t, m.Update(ctx, event))

	got, err := m.GetWebhook(ctx, "dhl:evt-1")
	require.NoError(t, err)
	assert.Equal(t, storage.WebhookDeadLetter, got.Status)
	assert.False(t, got.UpdatedAt.IsZero())

	dead, err := m.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 5, dead[0].RetryCount)
}

func TestMemory_UpdateUnknownWebhook(t *testing.T) {
	m := storage.NewMemory()

	err := m.Update(context.Background(), &storage.WebhookEvent{ID: "ghost"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemory_FallbackAuditByRoute(t *testing.T) {
	m := storage.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.AppendFallback(ctx, &storage.FallbackRecord{
		RouteKey: "CO-US", Attempted: "dhl", Succeeded: "fedex", Reason: "HTTP_503", Timestamp: time.Now(),
	}))
	require.NoError(t, m.AppendFallback(ctx, &storage.FallbackRecord{
		RouteKey: "CO-CO", Attempted: "servientrega", Reason: "circuit breaker open", Timestamp: time.Now(),
	}))

	records, err := m.ByRoute(ctx, "CO-US")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "dhl", records[0].Attempted)
	assert.Equal(t, "fedex", records[0].Succeeded)
}

func TestMemory_ReadsReturnCopies(t *testing.T) {
	m := storage.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, &carrier.Shipment{TrackingNumber: "TRK-1", Carrier: "dhl"}))

	got, err := m.Get(ctx, "TRK-1")
	require.NoError(t, err)
	got.Carrier = "mutated"

	again, err := m.Get(ctx, "TRK-1")
	require.NoError(t, err)
	assert.Equal(t, "dhl", again.Carrier, "callers must not reach the stored copy")
}

package carrier_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/enviora/carrier/pkg/carrier"
)

func TestResolveStatus_NeverRegresses(t *testing.T) {
	tests := []struct {
		name     string
		current  carrier.Status
		incoming carrier.Status
		want     carrier.Status
	}{
		{"empty adopts incoming", "", carrier.StatusCreated, carrier.StatusCreated},
		{"forward progression", carrier.StatusCreated, carrier.StatusPickedUp, carrier.StatusPickedUp},
		{"late event keeps delivered", carrier.StatusDelivered, carrier.StatusInTransit, carrier.StatusDelivered},
		{"out of order keeps highest", carrier.StatusOutForDelivery, carrier.StatusPickedUp, carrier.StatusOutForDelivery},
		{"pickup point and out_for_delivery are peers", carrier.StatusAtPickupPoint, carrier.StatusOutForDelivery, carrier.StatusAtPickupPoint},
		{"failed displaces in_transit", carrier.StatusInTransit, carrier.StatusFailed, carrier.StatusFailed},
		{"returned displaces out_for_delivery", carrier.StatusOutForDelivery, carrier.StatusReturned, carrier.StatusReturned},
		{"delivered does not displace returned", carrier.StatusReturned, carrier.StatusDelivered, carrier.StatusReturned},
		{"failed does not displace delivered", carrier.StatusDelivered, carrier.StatusFailed, carrier.StatusDelivered},
		{"returned does not displace delivered", carrier.StatusDelivered, carrier.StatusReturned, carrier.StatusDelivered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, carrier.ResolveStatus(tt.current, tt.incoming))
		})
	}
}

func TestCurrentStatus_FoldsOutOfOrderLog(t *testing.T) {
	now := time.Now()
	events := []*carrier.TrackingEvent{
		{Status: carrier.StatusCreated, Timestamp: now.Add(-3 * time.Hour)},
		{Status: carrier.StatusDelivered, Timestamp: now.Add(-10 * time.Minute)},
		// Arrives after the delivery confirmation but describes an
		// earlier scan; display must stay delivered.
		{Status: carrier.StatusInTransit, Timestamp: now.Add(-2 * time.Hour)},
	}

	assert.Equal(t, carrier.StatusDelivered, carrier.CurrentStatus(events))
	assert.Equal(t, carrier.Status(""), carrier.CurrentStatus(nil))
}

func TestNormalizeStatus_UnknownMapsToInTransit(t *testing.T) {
	table := map[string]carrier.Status{
		"DL": carrier.StatusDelivered,
	}

	assert.Equal(t, carrier.StatusDelivered, carrier.NormalizeStatus(table, "DL"))
	assert.Equal(t, carrier.StatusInTransit, carrier.NormalizeStatus(table, "SOME_NEW_CODE"))
	assert.Equal(t, carrier.StatusInTransit, carrier.NormalizeStatus(table, ""))
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, carrier.StatusDelivered.Terminal())
	assert.True(t, carrier.StatusFailed.Terminal())
	assert.True(t, carrier.StatusReturned.Terminal())
	assert.False(t, carrier.StatusOutForDelivery.Terminal())
	assert.False(t, carrier.StatusCreated.Terminal())
}

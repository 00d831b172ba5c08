package carrier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviora/carrier/pkg/carrier"
	"github.com/enviora/carrier/pkg/carrier/mock"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := carrier.NewRegistry()
	registry.Register(mock.New("dhl"))
	registry.Register(mock.New("ups"))

	adapter, err := registry.Get("dhl")
	require.NoError(t, err)
	assert.Equal(t, "dhl", adapter.Name())
	assert.Equal(t, 2, registry.Count())
}

func TestRegistry_GetUnknown(t *testing.T) {
	registry := carrier.NewRegistry()

	_, err := registry.Get("ghost")
	assert.ErrorIs(t, err, carrier.ErrCarrierNotFound)
	assert.Contains(t, err.Error(), "ghost")
}

func TestRegistry_AllSortedByName(t *testing.T) {
	registry := carrier.NewRegistry()
	registry.Register(mock.New("ups"))
	registry.Register(mock.New("dhl"))
	registry.Register(mock.New("fedex"))

	assert.Equal(t, []string{"dhl", "fedex", "ups"}, registry.Names())
}

func TestRegistry_WithCapability(t *testing.T) {
	registry := carrier.NewRegistry()
	registry.Register(mock.New("servientrega"))

	noPickup := mock.New("fedex")
	noPickup.Caps = carrier.NewCapabilitySet(carrier.CapQuote, carrier.CapLabel, carrier.CapTrack, carrier.CapCancel)
	registry.Register(noPickup)

	withPickup := registry.WithCapability(carrier.CapPickup)
	require.Len(t, withPickup, 1)
	assert.Equal(t, "servientrega", withPickup[0].Name())

	assert.Len(t, registry.WithCapability(carrier.CapQuote), 2)
}

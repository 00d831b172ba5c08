package carrier_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviora/carrier/pkg/carrier"
)

func TestSession_Valid_RefreshesAtNinetyPercent(t *testing.T) {
	issued := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	session := &carrier.Session{Token: "tok", ExpiresAt: issued.Add(time.Hour)}

	// A 1h session is considered stale after 54m.
	assert.True(t, session.Valid(issued.Add(53*time.Minute), time.Hour))
	assert.False(t, session.Valid(issued.Add(54*time.Minute), time.Hour))
	assert.False(t, session.Valid(issued.Add(2*time.Hour), time.Hour))
}

func TestSession_Valid_NonExpiring(t *testing.T) {
	session := &carrier.Session{Token: "api-key"}
	assert.True(t, session.Valid(time.Now().Add(1000*time.Hour), 0))
}

func TestSession_Valid_EmptyOrNil(t *testing.T) {
	var nilSession *carrier.Session
	assert.False(t, nilSession.Valid(time.Now(), time.Hour))
	assert.False(t, (&carrier.Session{}).Valid(time.Now(), time.Hour))
}

func TestSessionCache_ReusesAndRefreshes(t *testing.T) {
	cache := carrier.NewSessionCache()
	calls := 0

	fetch := func(ctx context.Context) (*carrier.Session, error) {
		calls++
		return &carrier.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	first, err := cache.Get(context.Background(), fetch)
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), fetch)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestSessionCache_Invalidate(t *testing.T) {
	cache := carrier.NewSessionCache()
	calls := 0

	fetch := func(ctx context.Context) (*carrier.Session, error) {
		calls++
		return &carrier.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	_, err := cache.Get(context.Background(), fetch)
	require.NoError(t, err)

	cache.Invalidate()

	_, err = cache.Get(context.Background(), fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestSessionCache_ErrorNotCached(t *testing.T) {
	cache := carrier.NewSessionCache()
	boom := errors.New("login failed")
	calls := 0

	_, err := cache.Get(context.Background(), func(ctx context.Context) (*carrier.Session, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return &carrier.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
	assert.ErrorIs(t, err, boom)

	session, err := cache.Get(context.Background(), func(ctx context.Context) (*carrier.Session, error) {
		calls++
		return &carrier.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "tok", session.Token)
	assert.Equal(t, 2, calls)
}

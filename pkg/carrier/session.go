package carrier

import (
	"context"
	"sync"
	"time"
)

// Session is an authenticated carrier session (an OAuth access token, a
// SOAP auth header value, or a pass-through API key).
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the session can still be used at the given time.
// Sessions are refreshed at 90% of their stated lifetime, so a session
// issued for 1h is considered stale after 54m.
func (s *Session) Valid(now time.Time, issuedFor time.Duration) bool {
	if s == nil || s.Token == "" {
		return false
	}
	if s.ExpiresAt.IsZero() {
		return true // non-expiring credentials (static API keys)
	}
	refreshAt := s.ExpiresAt.Add(-issuedFor / 10)
	return now.Before(refreshAt)
}

// SessionCache caches one session per adapter and refreshes it before
// expiry. It is the only mutable state an adapter holds.
type SessionCache struct {
	mu       sync.Mutex
	session  *Session
	lifetime time.Duration
	now      func() time.Time
}

// NewSessionCache creates an empty session cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{now: time.Now}
}

// Get returns the cached session, authenticating via fn when the cache is
// empty or the session has passed its refresh threshold. Concurrent callers
// serialize so only one refresh runs at a time.
func (c *SessionCache) Get(ctx context.Context, fn func(context.Context) (*Session, error)) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Valid(c.now(), c.lifetime) {
		return c.session, nil
	}

	s, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	c.session = s
	if !s.ExpiresAt.IsZero() {
		c.lifetime = s.ExpiresAt.Sub(c.now())
	}
	return s, nil
}

// Invalidate drops the cached session, forcing re-authentication.
func (c *SessionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
}

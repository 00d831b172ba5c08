package quote

import (
	"sync"
	"time"

	"github.com/enviora/carrier/pkg/carrier"
)

// Store caches quotes for the duration of their validity window and
// enforces single-use redemption of the carrier-opaque reference token.
// Carriers treat the token as single-use; the engine must never attempt
// concurrent redemption of the same quote.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	quote    *carrier.Quote
	redeemed bool
}

// NewStore creates an empty quote store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Add caches quotes by their reference token, pruning expired entries.
func (s *Store) Add(quotes []*carrier.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for ref, e := range s.entries {
		if e.quote.Expired(now) {
			delete(s.entries, ref)
		}
	}
	for _, q := range quotes {
		if q.Ref != "" {
			s.entries[q.Ref] = &entry{quote: q}
		}
	}
}

// Redeem atomically claims a quote reference for booking. The second
// redemption attempt for the same reference fails with ErrAlreadyRedeemed;
// expired quotes fail with ErrQuoteExpired.
func (s *Store) Redeem(ref string) (*carrier.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ref]
	if !ok {
		return nil, carrier.ErrQuoteNotFound
	}
	if e.redeemed {
		return nil, carrier.ErrAlreadyRedeemed
	}
	if e.quote.Expired(s.now()) {
		return nil, carrier.ErrQuoteExpired
	}
	e.redeemed = true
	return e.quote, nil
}

// Release un-claims a reference after a failed booking so the caller may
// retry the same quote.
func (s *Store) Release(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[ref]; ok {
		e.redeemed = false
	}
}

// Package vault provides encrypted storage for per-carrier, per-environment
// credentials using envelope encryption: each record's secret map is sealed
// with its own random data key, which is in turn wrapped by a versioned
// master key.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/enviora/carrier/pkg/carrier"
)

// ErrNotFound indicates no credentials exist for the (carrier, env) key.
var ErrNotFound = errors.New("credentials not found")

// handleTTL bounds how long a decrypted handle stays usable in memory.
const handleTTL = 5 * time.Minute

// Record is an encrypted credential bundle at rest. Owned exclusively by
// the vault; nothing outside this package sees the plaintext.
type Record struct {
	Carrier    string
	Env        carrier.Environment
	WrappedKey string // master-wrapped data key
	Ciphertext []byte // data-key-sealed JSON secret map
	CreatedAt  time.Time
	RotatedAt  time.Time
	ExpiresAt  time.Time // expiry hint for operator alerts; zero = none
}

// RecordStore persists encrypted credential records.
type RecordStore interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, carrierName string, env carrier.Environment) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
}

// Handle is a decrypted, time-boxed credential view. Callers use it for a
// single operation and never persist it.
type Handle struct {
	cred       *carrier.Credential
	validUntil time.Time
}

// Credential returns the decrypted credential, or an error once the handle
// has expired.
func (h *Handle) Credential() (*carrier.Credential, error) {
	if time.Now().After(h.validUntil) {
		return nil, errors.New("credential handle expired")
	}
	return h.cred, nil
}

// Vault stores and retrieves carrier credentials. Concurrent reads share
// the store freely; writes are serialized per (carrier, env) key.
type Vault struct {
	keys  KeyManager
	store RecordStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a vault over the given key manager and record store.
func New(keys KeyManager, store RecordStore) *Vault {
	return &Vault{
		keys:  keys,
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func (v *Vault) writeLock(carrierName string, env carrier.Environment) *sync.Mutex {
	key := carrierName + "/" + string(env)
	v.mu.Lock()
	defer v.mu.Unlock()
	if l, ok := v.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	v.locks[key] = l
	return l
}

// Put encrypts and stores a secret map for (carrier, env).
func (v *Vault) Put(ctx context.Context, carrierName string, env carrier.Environment, secrets map[string]string, expiresAt time.Time) error {
	return v.put(ctx, carrierName, env, secrets, expiresAt, false)
}

// Rotate replaces the secret map for (carrier, env), stamping RotatedAt.
func (v *Vault) Rotate(ctx context.Context, carrierName string, env carrier.Environment, secrets map[string]string, expiresAt time.Time) error {
	return v.put(ctx, carrierName, env, secrets, expiresAt, true)
}

func (v *Vault) put(ctx context.Context, carrierName string, env carrier.Environment, secrets map[string]string, expiresAt time.Time, rotation bool) error {
	lock := v.writeLock(carrierName, env)
	lock.Lock()
	defer lock.Unlock()

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("vault: marshal secrets: %w", err)
	}

	dataKey := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return fmt.Errorf("vault: generate data key: %w", err)
	}

	ciphertext, err := gcmSeal(dataKey, plaintext)
	if err != nil {
		return fmt.Errorf("vault: seal secrets: %w", err)
	}
	wrapped, err := v.keys.Wrap(dataKey)
	if err != nil {
		return err
	}

	now := time.Now()
	rec := &Record{
		Carrier:    carrierName,
		Env:        env,
		WrappedKey: wrapped,
		Ciphertext: ciphertext,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}
	if rotation {
		if prev, err := v.store.Get(ctx, carrierName, env); err == nil {
			rec.CreatedAt = prev.CreatedAt
		}
		rec.RotatedAt = now
	}
	return v.store.Put(ctx, rec)
}

// Get decrypts the credentials for (carrier, env) and returns a short-lived
// handle. A decrypt failure is fatal for that carrier's calls until an
// operator re-provisions credentials; it is not a breaker-visible error.
func (v *Vault) Get(ctx context.Context, carrierName string, env carrier.Environment) (*Handle, error) {
	rec, err := v.store.Get(ctx, carrierName, env)
	if err != nil {
		return nil, err
	}

	dataKey, err := v.keys.Unwrap(rec.WrappedKey)
	if err != nil {
		return nil, carrier.NewError(carrierName, carrier.ClassAuth, "VAULT_DECRYPT", "credential decrypt failed, re-provision required").WithCause(err)
	}
	plaintext, err := gcmOpen(dataKey, rec.Ciphertext)
	if err != nil {
		return nil, carrier.NewError(carrierName, carrier.ClassAuth, "VAULT_DECRYPT", "credential decrypt failed, re-provision required").WithCause(err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, carrier.NewError(carrierName, carrier.ClassAuth, "VAULT_DECODE", "credential bundle corrupted").WithCause(err)
	}

	return &Handle{
		cred: &carrier.Credential{
			Carrier: carrierName,
			Env:     env,
			Secrets: secrets,
		},
		validUntil: time.Now().Add(handleTTL),
	}, nil
}

// ExpiryHint describes a credential approaching its expiry, for operator
// alerting.
type ExpiryHint struct {
	Carrier   string              `json:"carrier"`
	Env       carrier.Environment `json:"env"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// ExpiringSoon lists credentials expiring within the window.
func (v *Vault) ExpiringSoon(ctx context.Context, within time.Duration) ([]ExpiryHint, error) {
	records, err := v.store.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(within)
	var hints []ExpiryHint
	for _, rec := range records {
		if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(cutoff) {
			hints = append(hints, ExpiryHint{Carrier: rec.Carrier, Env: rec.Env, ExpiresAt: rec.ExpiresAt})
		}
	}
	return hints, nil
}

// MemoryStore is an in-memory RecordStore for tests and mock mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func memKey(carrierName string, env carrier.Environment) string {
	return carrierName + "/" + string(env)
}

// Put stores a record.
func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[memKey(rec.Carrier, rec.Env)] = rec
	return nil
}

// Get fetches a record or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, carrierName string, env carrier.Environment) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[memKey(carrierName, env)]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, carrierName, env)
}

// List returns all records.
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, rec)
	}
	return result, nil
}

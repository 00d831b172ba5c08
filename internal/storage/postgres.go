package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/enviora/carrier/internal/vault"
	"github.com/enviora/carrier/pkg/carrier"
	_ "github.com/lib/pq"
)

// Schema is the relational schema for the engine's durable state.
const Schema = `
CREATE TABLE IF NOT EXISTS shipments (
    tracking_number TEXT PRIMARY KEY,
    carrier         TEXT NOT NULL,
    service_name    TEXT NOT NULL DEFAULT '',
    label_format    TEXT NOT NULL DEFAULT '',
    label_data      BYTEA,
    label_url       TEXT NOT NULL DEFAULT '',
    cost_amount     DOUBLE PRECISION NOT NULL DEFAULT 0,
    cost_currency   TEXT NOT NULL DEFAULT '',
    order_ref       TEXT NOT NULL DEFAULT '',
    cancelled       BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tracking_events (
    id              BIGSERIAL PRIMARY KEY,
    tracking_number TEXT NOT NULL,
    status          TEXT NOT NULL,
    native_status   TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    location        TEXT NOT NULL DEFAULT '',
    source          TEXT NOT NULL,
    occurred_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tracking_events_tn_idx ON tracking_events (tracking_number, occurred_at);

CREATE TABLE IF NOT EXISTS webhook_events (
    id           TEXT PRIMARY KEY,
    carrier      TEXT NOT NULL,
    payload_hash TEXT NOT NULL,
    payload      BYTEA NOT NULL,
    signature_ok BOOLEAN NOT NULL,
    status       TEXT NOT NULL,
    retry_count  INT NOT NULL DEFAULT 0,
    last_error   TEXT NOT NULL DEFAULT '',
    received_at  TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS fallback_records (
    id         BIGSERIAL PRIMARY KEY,
    route_key  TEXT NOT NULL,
    attempted  TEXT NOT NULL,
    succeeded  TEXT NOT NULL DEFAULT '',
    reason     TEXT NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS fallback_records_route_idx ON fallback_records (route_key, occurred_at);

CREATE TABLE IF NOT EXISTS carrier_credentials (
    carrier     TEXT NOT NULL,
    env         TEXT NOT NULL,
    wrapped_key TEXT NOT NULL,
    ciphertext  BYTEA NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    rotated_at  TIMESTAMPTZ,
    expires_at  TIMESTAMPTZ,
    PRIMARY KEY (carrier, env)
);
`

// Postgres implements every store against a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// Open connects to PostgreSQL and applies the schema.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Create stores a shipment.
func (p *Postgres) Create(ctx context.Context, s *carrier.Shipment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO shipments (tracking_number, carrier, service_name, label_format, label_data, label_url, cost_amount, cost_currency, order_ref, cancelled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.TrackingNumber, s.Carrier, s.ServiceName, s.Label.Format, s.Label.Data, s.Label.URL,
		s.Cost.Amount, s.Cost.Currency, s.OrderRef, s.Cancelled, s.CreatedAt,
	)
	return err
}

// Get fetches a shipment by tracking number.
func (p *Postgres) Get(ctx context.Context, trackingNumber string) (*carrier.Shipment, error) {
	var s carrier.Shipment
	err := p.db.QueryRowContext(ctx, `
		SELECT tracking_number, carrier, service_name, label_format, label_data, label_url, cost_amount, cost_currency, order_ref, cancelled, created_at
		FROM shipments WHERE tracking_number = $1`, trackingNumber,
	).Scan(&s.TrackingNumber, &s.Carrier, &s.ServiceName, &s.Label.Format, &s.Label.Data, &s.Label.URL,
		&s.Cost.Amount, &s.Cost.Currency, &s.OrderRef, &s.Cancelled, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: shipment %s", ErrNotFound, trackingNumber)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkCancelled flips the cancellation flag.
func (p *Postgres) MarkCancelled(ctx context.Context, trackingNumber string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE shipments SET cancelled = TRUE WHERE tracking_number = $1`, trackingNumber)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: shipment %s", ErrNotFound, trackingNumber)
	}
	return nil
}

// Append adds a tracking event to the append-only log.
func (p *Postgres) Append(ctx context.Context, e *carrier.TrackingEvent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tracking_events (tracking_number, status, native_status, description, location, source, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.TrackingNumber, e.Status, e.NativeStatus, e.Description, e.Location, e.Source, e.Timestamp,
	)
	return err
}

// ByTrackingNumber returns the event log ordered by timestamp.
func (p *Postgres) ByTrackingNumber(ctx context.Context, trackingNumber string) ([]*carrier.TrackingEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tracking_number, status, native_status, description, location, source, occurred_at
		FROM tracking_events WHERE tracking_number = $1 ORDER BY occurred_at`, trackingNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*carrier.TrackingEvent
	for rows.Next() {
		var e carrier.TrackingEvent
		if err := rows.Scan(&e.TrackingNumber, &e.Status, &e.NativeStatus, &e.Description, &e.Location, &e.Source, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// webhookStore implements WebhookEventStore.
type webhookStore struct{ db *sql.DB }

// Webhooks returns the WebhookEventStore view.
func (p *Postgres) Webhooks() WebhookEventStore {
	return &webhookStore{db: p.db}
}

// Claim inserts the event if unseen. ON CONFLICT DO NOTHING makes the
// check-and-set atomic across concurrent deliveries.
func (s *webhookStore) Claim(ctx context.Context, e *WebhookEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, carrier, payload_hash, payload, signature_ok, status, retry_count, last_error, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Carrier, e.PayloadHash, e.Payload, e.SignatureOK, e.Status, e.RetryCount, e.LastError, e.ReceivedAt, e.ReceivedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Update transitions an event's processing state.
func (s *webhookStore) Update(ctx context.Context, e *WebhookEvent) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = $2, retry_count = $3, last_error = $4, updated_at = $5
		WHERE id = $1`,
		e.ID, e.Status, e.RetryCount, e.LastError, time.Now(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: webhook event %s", ErrNotFound, e.ID)
	}
	return nil
}

// Get fetches a webhook event.
func (s *webhookStore) Get(ctx context.Context, id string) (*WebhookEvent, error) {
	var e WebhookEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, carrier, payload_hash, payload, signature_ok, status, retry_count, last_error, received_at, updated_at
		FROM webhook_events WHERE id = $1`, id,
	).Scan(&e.ID, &e.Carrier, &e.PayloadHash, &e.Payload, &e.SignatureOK, &e.Status, &e.RetryCount, &e.LastError, &e.ReceivedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: webhook event %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Pending lists events still awaiting processing, oldest first.
func (s *webhookStore) Pending(ctx context.Context) ([]*WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, carrier, payload_hash, payload, signature_ok, status, retry_count, last_error, received_at, updated_at
		FROM webhook_events WHERE status IN ($1, $2) ORDER BY received_at`, WebhookReceived, WebhookProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWebhookEvents(rows)
}

// DeadLetters lists parked events.
func (s *webhookStore) DeadLetters(ctx context.Context) ([]*WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, carrier, payload_hash, payload, signature_ok, status, retry_count, last_error, received_at, updated_at
		FROM webhook_events WHERE status = $1 ORDER BY updated_at`, WebhookDeadLetter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWebhookEvents(rows)
}

func scanWebhookEvents(rows *sql.Rows) ([]*WebhookEvent, error) {
	var events []*WebhookEvent
	for rows.Next() {
		var e WebhookEvent
		if err := rows.Scan(&e.ID, &e.Carrier, &e.PayloadHash, &e.Payload, &e.SignatureOK, &e.Status, &e.RetryCount, &e.LastError, &e.ReceivedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// fallbackStore implements FallbackRecordStore.
type fallbackStore struct{ db *sql.DB }

// Fallbacks returns the FallbackRecordStore view.
func (p *Postgres) Fallbacks() FallbackRecordStore {
	return &fallbackStore{db: p.db}
}

// Append adds a fallback audit record.
func (s *fallbackStore) Append(ctx context.Context, r *FallbackRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fallback_records (route_key, attempted, succeeded, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		r.RouteKey, r.Attempted, r.Succeeded, r.Reason, r.Timestamp,
	)
	return err
}

// ByRoute lists fallback records for a route key.
func (s *fallbackStore) ByRoute(ctx context.Context, routeKey string) ([]*FallbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT route_key, attempted, succeeded, reason, occurred_at
		FROM fallback_records WHERE route_key = $1 ORDER BY occurred_at`, routeKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*FallbackRecord
	for rows.Next() {
		var r FallbackRecord
		if err := rows.Scan(&r.RouteKey, &r.Attempted, &r.Succeeded, &r.Reason, &r.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// credentialStore implements vault.RecordStore.
type credentialStore struct{ db *sql.DB }

// Credentials returns the vault record store view.
func (p *Postgres) Credentials() vault.RecordStore {
	return &credentialStore{db: p.db}
}

// Put upserts an encrypted credential record.
func (s *credentialStore) Put(ctx context.Context, rec *vault.Record) error {
	rotated := sql.NullTime{Time: rec.RotatedAt, Valid: !rec.RotatedAt.IsZero()}
	expires := sql.NullTime{Time: rec.ExpiresAt, Valid: !rec.ExpiresAt.IsZero()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carrier_credentials (carrier, env, wrapped_key, ciphertext, created_at, rotated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (carrier, env) DO UPDATE
		SET wrapped_key = EXCLUDED.wrapped_key, ciphertext = EXCLUDED.ciphertext,
		    rotated_at = EXCLUDED.rotated_at, expires_at = EXCLUDED.expires_at`,
		rec.Carrier, rec.Env, rec.WrappedKey, rec.Ciphertext, rec.CreatedAt, rotated, expires,
	)
	return err
}

// Get fetches an encrypted credential record.
func (s *credentialStore) Get(ctx context.Context, carrierName string, env carrier.Environment) (*vault.Record, error) {
	var rec vault.Record
	var rotated, expires sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT carrier, env, wrapped_key, ciphertext, created_at, rotated_at, expires_at
		FROM carrier_credentials WHERE carrier = $1 AND env = $2`, carrierName, env,
	).Scan(&rec.Carrier, &rec.Env, &rec.WrappedKey, &rec.Ciphertext, &rec.CreatedAt, &rotated, &expires)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", vault.ErrNotFound, carrierName, env)
	}
	if err != nil {
		return nil, err
	}
	if rotated.Valid {
		rec.RotatedAt = rotated.Time
	}
	if expires.Valid {
		rec.ExpiresAt = expires.Time
	}
	return &rec, nil
}

// List returns all encrypted credential records.
func (s *credentialStore) List(ctx context.Context) ([]*vault.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT carrier, env, wrapped_key, ciphertext, created_at, rotated_at, expires_at
		FROM carrier_credentials`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*vault.Record
	for rows.Next() {
		var rec vault.Record
		var rotated, expires sql.NullTime
		if err := rows.Scan(&rec.Carrier, &rec.Env, &rec.WrappedKey, &rec.Ciphertext, &rec.CreatedAt, &rotated, &expires); err != nil {
			return nil, err
		}
		if rotated.Valid {
			rec.RotatedAt = rotated.Time
		}
		if expires.Valid {
			rec.ExpiresAt = expires.Time
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

var (
	_ ShipmentStore      = (*Postgres)(nil)
	_ TrackingEventStore = (*Postgres)(nil)
	_ WebhookEventStore  = (*webhookStore)(nil)
	_ FallbackRecordStore = (*fallbackStore)(nil)
	_ vault.RecordStore  = (*credentialStore)(nil)
)

// Copyright 2025 Certen Protocol

package anchorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/certen/btc-identity-core/pkg/anchor"
	"github.com/certen/btc-identity-core/pkg/coreerr"
)

// Postgres is a durable Index backed by lib/pq, connection-pooled the way
// the teacher's database client is: one *sql.DB shared across goroutines,
// bounded by MaxOpenConns/MaxIdleConns set at construction.
type Postgres struct {
	db             *sql.DB
	pendingCeiling int64
}

// PostgresOption configures a Postgres index at construction.
type PostgresOption func(*Postgres)

// WithMaxOpenConns bounds the underlying pool's open connections.
func WithMaxOpenConns(n int) PostgresOption {
	return func(p *Postgres) { p.db.SetMaxOpenConns(n) }
}

// WithMaxIdleConns bounds the underlying pool's idle connections.
func WithMaxIdleConns(n int) PostgresOption {
	return func(p *Postgres) { p.db.SetMaxIdleConns(n) }
}

// NewPostgres opens a pooled connection to dsn and prepares the schema.
// pendingCeiling has the same meaning as in NewMemory.
func NewPostgres(ctx context.Context, dsn string, pendingCeiling int64, opts ...PostgresOption) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "anchorindex.NewPostgres", "open", err)
	}
	p := &Postgres{db: db, pendingCeiling: pendingCeiling}
	for _, opt := range opts {
		opt(p)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "anchorindex.NewPostgres", "ping", err)
	}
	if err := p.migrate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS anchor_entries (
	key            TEXT PRIMARY KEY,
	reference      JSONB NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS anchor_observations (
	id             BIGSERIAL PRIMARY KEY,
	key            TEXT NOT NULL REFERENCES anchor_entries(key) ON DELETE CASCADE,
	observed_at    TIMESTAMPTZ NOT NULL,
	confirmations  BIGINT NOT NULL,
	block_height   BIGINT
);

CREATE INDEX IF NOT EXISTS anchor_observations_key_idx ON anchor_observations(key, observed_at);
`

func (p *Postgres) migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return coreerr.Wrap(coreerr.Fatal, "anchorindex.migrate", "schema", err)
	}
	return nil
}

func encodeReference(ref *anchor.Reference) ([]byte, error) {
	return json.Marshal(ref)
}

func decodeReference(raw []byte) (*anchor.Reference, error) {
	var ref anchor.Reference
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (p *Postgres) Put(ctx context.Context, key string, ref *anchor.Reference) error {
	encoded, err := encodeReference(ref)
	if err != nil {
		return coreerr.Wrap(coreerr.InvalidInput, "anchorindex.Put", "encode reference", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return coreerr.Wrap(coreerr.TransportError, "anchorindex.Put", "begin", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO anchor_entries (key, reference)
		VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING`, key, encoded)
	if err != nil {
		return coreerr.Wrap(coreerr.TransportError, "anchorindex.Put", "insert entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coreerr.New(coreerr.Conflict, "anchorindex.Put", "key already anchored")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO anchor_observations (key, observed_at, confirmations, block_height)
		VALUES ($1, $2, $3, $4)`,
		key, ref.AnchoredAt, ref.Confirmations, blockHeightOf(ref)); err != nil {
		return coreerr.Wrap(coreerr.TransportError, "anchorindex.Put", "insert observation", err)
	}

	if err := tx.Commit(); err != nil {
		return coreerr.Wrap(coreerr.TransportError, "anchorindex.Put", "commit", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (*Entry, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT reference FROM anchor_entries WHERE key = $1`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, coreerr.New(coreerr.NotFound, "anchorindex.Get", "no entry for key")
	}
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "anchorindex.Get", "select entry", err)
	}
	ref, err := decodeReference(raw)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Fatal, "anchorindex.Get", "decode reference", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT observed_at, confirmations, block_height
		FROM anchor_observations WHERE key = $1 ORDER BY observed_at ASC`, key)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "anchorindex.Get", "select observations", err)
	}
	defer rows.Close()

	var obs []Observation
	for rows.Next() {
		var o Observation
		var blockHeight sql.NullInt64
		if err := rows.Scan(&o.ObservedAt, &o.Confirmations, &blockHeight); err != nil {
			return nil, coreerr.Wrap(coreerr.Fatal, "anchorindex.Get", "scan observation", err)
		}
		if blockHeight.Valid {
			h := blockHeight.Int64
			o.BlockHeight = &h
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "anchorindex.Get", "iterate observations", err)
	}

	return &Entry{Key: key, Reference: ref, Observations: obs}, nil
}

func (p *Postgres) PendingReferences(ctx context.Context) ([]anchor.StoreEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT key, reference FROM anchor_entries
		WHERE (reference->>'Orphaned')::boolean IS TRUE
		   OR COALESCE((reference->>'Confirmations')::bigint, 0) < $1`, p.pendingCeiling)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "anchorindex.PendingReferences", "select", err)
	}
	defer rows.Close()

	var out []anchor.StoreEntry
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, coreerr.Wrap(coreerr.Fatal, "anchorindex.PendingReferences", "scan", err)
		}
		ref, err := decodeReference(raw)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.Fatal, "anchorindex.PendingReferences", "decode reference", err)
		}
		out = append(out, anchor.StoreEntry{Key: key, Ref: ref})
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateReference(ctx context.Context, key string, ref *anchor.Reference) error {
	encoded, err := encodeReference(ref)
	if err != nil {
		return coreerr.Wrap(coreerr.InvalidInput, "anchorindex.UpdateReference", "encode reference", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return coreerr.Wrap(coreerr.TransportError, "anchorindex.UpdateReference", "begin", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE anchor_entries SET reference = $2, updated_at = now() WHERE key = $1`, key, encoded)
	if err != nil {
		return coreerr.Wrap(coreerr.TransportError, "anchorindex.UpdateReference", "update entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coreerr.New(coreerr.NotFound, "anchorindex.UpdateReference", "no entry for key")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO anchor_observations (key, observed_at, confirmations, block_height)
		VALUES ($1, $2, $3, $4)`,
		key, time.Now(), ref.Confirmations, blockHeightOf(ref)); err != nil {
		return coreerr.Wrap(coreerr.TransportError, "anchorindex.UpdateReference", "insert observation", err)
	}

	if err := tx.Commit(); err != nil {
		return coreerr.Wrap(coreerr.TransportError, "anchorindex.UpdateReference", "commit", err)
	}
	return nil
}

// Compact drops observations older than horizon for each key, always
// keeping, regardless of age, the most recent observation with at least
// one confirmation (the most recent observation when none has one).
func (p *Postgres) Compact(ctx context.Context, horizon time.Duration) error {
	cutoff := time.Now().Add(-horizon)
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM anchor_observations o
		WHERE o.observed_at < $1
		  AND o.id <> (
		      SELECT id FROM anchor_observations o2
		      WHERE o2.key = o.key
		      ORDER BY (o2.confirmations > 0) DESC, o2.observed_at DESC LIMIT 1
		  )`, cutoff)
	if err != nil {
		return coreerr.Wrap(coreerr.TransportError, "anchorindex.Compact", "delete", err)
	}
	return nil
}

var _ Index = (*Postgres)(nil)

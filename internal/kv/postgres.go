package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres stores documents in the kv_store table (see migrations).
type Postgres struct {
	db *sqlx.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an open database handle.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

type kvRow struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

const upsertKV = `INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2::jsonb, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.GetContext(ctx, &value, `SELECT value FROM kv_store WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	if _, err := p.db.ExecContext(ctx, upsertKV, key, string(value)); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) Del(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
		return fmt.Errorf("kv del %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var rows []kvRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT key, value FROM kv_store WHERE key = ANY($1)`, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("kv mget: %w", err)
	}
	byKey := make(map[string][]byte, len(rows))
	for _, r := range rows {
		byKey[r.Key] = r.Value
	}
	for i, k := range keys {
		out[i] = byKey[k]
	}
	return out, nil
}

func (p *Postgres) MSet(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv mset begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, upsertKV, k, string(v)); err != nil {
			return fmt.Errorf("kv mset %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) MDel(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ANY($1)`, pq.Array(keys)); err != nil {
		return fmt.Errorf("kv mdel: %w", err)
	}
	return nil
}

func (p *Postgres) GetByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	var rows []kvRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT key, value FROM kv_store WHERE key LIKE $1 ESCAPE '\' ORDER BY key`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("kv prefix %s: %w", prefix, err)
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{Key: r.Key, Value: r.Value}
	}
	return out, nil
}

// Update takes a transaction-scoped advisory lock on the key so that
// concurrent updates of a key that does not exist yet are serialised too.
func (p *Postgres) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv update begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("kv update lock %s: %w", key, err)
	}

	var current []byte
	exists := true
	err = tx.GetContext(ctx, &current, `SELECT value FROM kv_store WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("kv update read %s: %w", key, err)
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	if next == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
			return fmt.Errorf("kv update delete %s: %w", key, err)
		}
	} else if _, err := tx.ExecContext(ctx, upsertKV, key, string(next)); err != nil {
		return fmt.Errorf("kv update write %s: %w", key, err)
	}
	return tx.Commit()
}

package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pglocator/pglocator/supabase/client"
)

// Supabase stores documents in a PostgREST table with key and value columns.
// PostgREST offers no row locking, so Update is only atomic within this
// process.
type Supabase struct {
	client *client.Client
	table  string
	locks  keyLocks
}

var _ Store = (*Supabase)(nil)

// NewSupabase uses the given table, kv_store by default.
func NewSupabase(c *client.Client, table string) *Supabase {
	if table == "" {
		table = "kv_store"
	}
	return &Supabase{client: c, table: table}
}

type supabaseRow struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (s *Supabase) rows(ctx context.Context, q *client.QueryBuilder) ([]supabaseRow, error) {
	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var rows []supabaseRow
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

func (s *Supabase) Get(ctx context.Context, key string) ([]byte, error) {
	rows, err := s.rows(ctx, s.client.From(s.table).Select("key,value").Eq("key", key).Limit(1))
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].Value, nil
}

func (s *Supabase) Set(ctx context.Context, key string, value []byte) error {
	return s.MSet(ctx, map[string][]byte{key: value})
}

func (s *Supabase) Del(ctx context.Context, key string) error {
	return s.MDel(ctx, []string{key})
}

func (s *Supabase) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := s.rows(ctx, s.client.From(s.table).Select("key,value").In("key", keys))
	if err != nil {
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

func (s *Supabase) MSet(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	rows := make([]supabaseRow, 0, len(values))
	for k, v := range values {
		if !json.Valid(v) {
			return fmt.Errorf("kv set %s: value is not valid JSON", k)
		}
		rows = append(rows, supabaseRow{Key: k, Value: v})
	}
	resp, err := s.client.From(s.table).OnConflict("key").Upsert(ctx, rows)
	if err != nil {
		return fmt.Errorf("kv mset: %w", err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("kv mset: %w", err)
	}
	return nil
}

func (s *Supabase) MDel(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	resp, err := s.client.From(s.table).In("key", keys).Delete(ctx)
	if err != nil {
		return fmt.Errorf("kv mdel: %w", err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("kv mdel: %w", err)
	}
	return nil
}

func (s *Supabase) GetByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.rows(ctx, s.client.From(s.table).Select("key,value").Like("key", escapeLike(prefix)+"*").Order("key", true))
	if err != nil {
		return nil, fmt.Errorf("kv prefix %s: %w", prefix, err)
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{Key: r.Key, Value: r.Value}
	}
	return out, nil
}

func (s *Supabase) Update(ctx context.Context, key string, fn UpdateFunc) error {
	unlock := s.locks.lock(key)
	defer unlock()

	cur, err := s.Get(ctx, key)
	exists := true
	if errors.Is(err, ErrNotFound) {
		exists = false
	} else if err != nil {
		return err
	}
	next, err := fn(cur, exists)
	if err != nil {
		return err
	}
	if next == nil {
		if !exists {
			return nil
		}
		return s.Del(ctx, key)
	}
	return s.Set(ctx, key, next)
}

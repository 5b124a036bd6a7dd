// Package kv is the key-value document store that holds profiles, listings,
// bookings, reviews, notifications and favorites as JSON values.
package kv

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("kv: key not found")

// Entry is one key with its value.
type Entry struct {
	Key   string
	Value []byte
}

// UpdateFunc computes a new value from the current one. Returning a nil
// slice deletes the key. It may run more than once on optimistic backends
// and must not have side effects.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
	// MGet returns values in key order with nil for missing keys.
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	MSet(ctx context.Context, values map[string][]byte) error
	MDel(ctx context.Context, keys []string) error
	// GetByPrefix returns entries sorted by key.
	GetByPrefix(ctx context.Context, prefix string) ([]Entry, error)
	// Update applies fn atomically for the key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

// uniqueKeys drops repeated keys and keeps first-seen order.
func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// escapeLike escapes LIKE wildcards so a prefix matches literally.
func escapeLike(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}

// keyLocks serialises updates per key inside one process.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

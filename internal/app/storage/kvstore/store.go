// Package kvstore implements the document stores on top of a kv.Store using
// the fixed key layout shared with the original deployment.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pglocator/pglocator/internal/app/storage"
	"github.com/pglocator/pglocator/internal/kv"
)

// Key prefixes.
const (
	prefixUser          = "user:"
	prefixListing       = "pg:"
	prefixBooking       = "booking:"
	prefixUserBookings  = "user-bookings:"
	prefixReview        = "review:"
	prefixListingReview = "pg-reviews:"
	prefixNotifications = "notifications:"
	prefixFavorites     = "favorites:"
)

// Store implements the document storage interfaces.
type Store struct {
	kv kv.Store
}

var (
	_ storage.ProfileStore      = (*Store)(nil)
	_ storage.ListingStore      = (*Store)(nil)
	_ storage.BookingStore      = (*Store)(nil)
	_ storage.ReviewStore       = (*Store)(nil)
	_ storage.NotificationStore = (*Store)(nil)
	_ storage.FavoriteStore     = (*Store)(nil)
)

// New wraps a key-value backend.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

// KV exposes the underlying backend.
func (s *Store) KV() kv.Store { return s.kv }

func getDoc[T any](ctx context.Context, store kv.Store, key string) (T, error) {
	var out T
	raw, err := store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return out, storage.ErrNotFound
	}
	if err != nil {
		return out, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

func putDoc(ctx context.Context, store kv.Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// listDocs decodes every value under prefix. Values that do not decode are
// skipped so one corrupt document does not hide the rest.
func listDocs[T any](ctx context.Context, store kv.Store, prefix string) ([]T, error) {
	entries, err := store.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var doc T
		if err := json.Unmarshal(e.Value, &doc); err != nil {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func getDocs[T any](ctx context.Context, store kv.Store, keys []string) ([]T, error) {
	if len(keys) == 0 {
		return []T{}, nil
	}
	values, err := store.MGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	out := make([]T, 0, len(values))
	for _, raw := range values {
		if raw == nil {
			continue
		}
		var doc T
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// updateDoc runs fn on the decoded document inside kv.Update. When mustExist
// is set a missing key yields storage.ErrNotFound; otherwise fn starts from
// the zero value.
func updateDoc[T any](ctx context.Context, store kv.Store, key string, mustExist bool, fn func(*T) error) (T, error) {
	var out T
	err := store.Update(ctx, key, func(cur []byte, exists bool) ([]byte, error) {
		var doc T
		if !exists {
			if mustExist {
				return nil, storage.ErrNotFound
			}
		} else if err := json.Unmarshal(cur, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if err := fn(&doc); err != nil {
			return nil, err
		}
		next, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		out = doc
		return next, nil
	})
	return out, err
}

func del(ctx context.Context, store kv.Store, key string) error {
	if err := store.Del(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

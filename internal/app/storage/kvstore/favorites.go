package kvstore

import (
	"context"
	"errors"

	"github.com/pglocator/pglocator/internal/app/storage"
)

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func (s *Store) ListFavorites(ctx context.Context, userID string) ([]string, error) {
	out, err := getDoc[[]string](ctx, s.kv, prefixFavorites+userID)
	if isNotFound(err) || (err == nil && out == nil) {
		return []string{}, nil
	}
	return out, err
}

func (s *Store) AddFavorite(ctx context.Context, userID, pgID string) ([]string, error) {
	return updateDoc(ctx, s.kv, prefixFavorites+userID, false, func(ids *[]string) error {
		for _, id := range *ids {
			if id == pgID {
				return nil
			}
		}
		*ids = append(*ids, pgID)
		return nil
	})
}

func (s *Store) RemoveFavorite(ctx context.Context, userID, pgID string) ([]string, error) {
	return updateDoc(ctx, s.kv, prefixFavorites+userID, false, func(ids *[]string) error {
		next := make([]string, 0, len(*ids))
		for _, id := range *ids {
			if id != pgID {
				next = append(next, id)
			}
		}
		*ids = next
		return nil
	})
}

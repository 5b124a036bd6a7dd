package kvstore

import (
	"context"

	"github.com/pglocator/pglocator/internal/app/domain/review"
)

// AddReview stores review:<id>, appends the id to pg-reviews:<pgId> and
// returns every review of the listing in insertion order.
func (s *Store) AddReview(ctx context.Context, r review.Review) ([]review.Review, error) {
	if err := putDoc(ctx, s.kv, prefixReview+r.ID, r); err != nil {
		return nil, err
	}
	ids, err := updateDoc(ctx, s.kv, prefixListingReview+r.PGID, false, func(ids *[]string) error {
		*ids = append(*ids, r.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.reviewsByID(ctx, ids)
}

func (s *Store) ListReviews(ctx context.Context, pgID string) ([]review.Review, error) {
	ids, err := getDoc[[]string](ctx, s.kv, prefixListingReview+pgID)
	if isNotFound(err) {
		return []review.Review{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.reviewsByID(ctx, ids)
}

func (s *Store) reviewsByID(ctx context.Context, ids []string) ([]review.Review, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = prefixReview + id
	}
	return getDocs[review.Review](ctx, s.kv, keys)
}

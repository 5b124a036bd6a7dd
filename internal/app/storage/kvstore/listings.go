package kvstore

import (
	"context"
	"sort"

	"github.com/pglocator/pglocator/internal/app/domain/listing"
)

func (s *Store) GetListing(ctx context.Context, id string) (listing.Listing, error) {
	return getDoc[listing.Listing](ctx, s.kv, prefixListing+id)
}

func (s *Store) SaveListing(ctx context.Context, l listing.Listing) error {
	return putDoc(ctx, s.kv, prefixListing+l.ID, l)
}

func (s *Store) DeleteListing(ctx context.Context, id string) error {
	return del(ctx, s.kv, prefixListing+id)
}

// ListListings returns every listing ordered by creation time, then id.
func (s *Store) ListListings(ctx context.Context) ([]listing.Listing, error) {
	out, err := listDocs[listing.Listing](ctx, s.kv, prefixListing)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetListings(ctx context.Context, ids []string) ([]listing.Listing, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = prefixListing + id
	}
	return getDocs[listing.Listing](ctx, s.kv, keys)
}

func (s *Store) UpdateListing(ctx context.Context, id string, fn func(*listing.Listing) error) (listing.Listing, error) {
	return updateDoc(ctx, s.kv, prefixListing+id, true, fn)
}

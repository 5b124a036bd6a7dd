package favorites

import (
	"context"
	"errors"

	"github.com/pglocator/pglocator/internal/app/domain/listing"
	"github.com/pglocator/pglocator/internal/app/storage"
	svcerrors "github.com/pglocator/pglocator/internal/errors"
	"github.com/pglocator/pglocator/internal/logging"
)

// Service keeps each student's list of favourite listings.
type Service struct {
	favorites storage.FavoriteStore
	listings  storage.ListingStore
	log       *logging.Logger
}

func New(favorites storage.FavoriteStore, listings storage.ListingStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("favorites")
	}
	return &Service{favorites: favorites, listings: listings, log: log}
}

// List resolves the stored ids to listings students may see. Deleted and
// unpublished listings are skipped.
func (s *Service) List(ctx context.Context, userID string) ([]listing.Listing, error) {
	ids, err := s.favorites.ListFavorites(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []listing.Listing{}, nil
	}
	found, err := s.listings.GetListings(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]listing.Listing, 0, len(found))
	for _, l := range found {
		if l.Public() {
			out = append(out, l)
		}
	}
	return out, nil
}

// Add stores pgID as a favourite and returns the updated id list.
func (s *Service) Add(ctx context.Context, userID, pgID string) ([]string, error) {
	if _, err := s.listings.GetListing(ctx, pgID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, svcerrors.NotFound("PG not found")
		}
		return nil, err
	}
	ids, err := s.favorites.AddFavorite(ctx, userID, pgID)
	if err != nil {
		return nil, err
	}
	s.log.WithContext(ctx).WithField("pg_id", pgID).Debug("favorite added")
	return ids, nil
}

// Remove drops pgID from the favourites. Removing an absent id is not an error.
func (s *Service) Remove(ctx context.Context, userID, pgID string) ([]string, error) {
	return s.favorites.RemoveFavorite(ctx, userID, pgID)
}

package reviews

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/pglocator/pglocator/internal/app/domain/listing"
	"github.com/pglocator/pglocator/internal/app/domain/review"
	"github.com/pglocator/pglocator/internal/app/storage"
	svcerrors "github.com/pglocator/pglocator/internal/errors"
	"github.com/pglocator/pglocator/internal/logging"
)

const maxRatingSyncs = 16

// Service records student reviews and keeps listing ratings current.
type Service struct {
	reviews  storage.ReviewStore
	listings storage.ListingStore
	profiles storage.ProfileStore
	log      *logging.Logger
	now      func() time.Time
}

func New(reviews storage.ReviewStore, listings storage.ListingStore, profiles storage.ProfileStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("reviews")
	}
	return &Service{reviews: reviews, listings: listings, profiles: profiles, log: log, now: time.Now}
}

// Input is the body of POST /reviews.
type Input struct {
	PGID    string `json:"pgId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// Create stores the review and recomputes the listing's rating and count.
func (s *Service) Create(ctx context.Context, userID string, in Input) (review.Review, error) {
	in.PGID = strings.TrimSpace(in.PGID)
	if in.PGID == "" || in.Rating == 0 {
		return review.Review{}, svcerrors.BadRequest("Missing required fields")
	}
	if in.Rating < 1 || in.Rating > 5 {
		return review.Review{}, svcerrors.Validation("Rating must be between 1 and 5", map[string]string{"rating": "must be between 1 and 5"})
	}
	if _, err := s.listings.GetListing(ctx, in.PGID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return review.Review{}, svcerrors.NotFound("PG not found")
		}
		return review.Review{}, err
	}

	name := "Anonymous"
	if p, err := s.profiles.GetProfile(ctx, userID); err == nil && strings.TrimSpace(p.Name) != "" {
		name = p.Name
	}
	r := review.Review{
		ID:        review.NewID(),
		PGID:      in.PGID,
		UserID:    userID,
		UserName:  name,
		Rating:    in.Rating,
		Comment:   strings.TrimSpace(in.Comment),
		CreatedAt: s.now().UTC(),
	}
	all, err := s.reviews.AddReview(ctx, r)
	if err != nil {
		return review.Review{}, err
	}
	if err := s.syncRating(ctx, in.PGID, all); err != nil {
		return review.Review{}, err
	}
	s.log.WithContext(ctx).WithFields(map[string]interface{}{"pg_id": in.PGID, "rating": in.Rating}).Info("review added")
	return r, nil
}

// syncRating writes the rating and count of all onto the listing, then
// re-reads the reviews and writes again while a concurrent Create has
// appended since. Review ids only grow, so the last writer always stores the
// complete list.
func (s *Service) syncRating(ctx context.Context, pgID string, all []review.Review) error {
	for attempt := 0; attempt < maxRatingSyncs; attempt++ {
		_, err := s.listings.UpdateListing(ctx, pgID, func(l *listing.Listing) error {
			l.Rating = review.Average(all)
			l.Reviews = len(all)
			return nil
		})
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		latest, err := s.reviews.ListReviews(ctx, pgID)
		if err != nil {
			return err
		}
		if len(latest) == len(all) {
			return nil
		}
		all = latest
	}
	s.log.WithContext(ctx).WithField("pg_id", pgID).Warn("listing rating still changing after retries")
	return nil
}

// ListForListing returns the reviews of a listing in the order they were written.
func (s *Service) ListForListing(ctx context.Context, pgID string) ([]review.Review, error) {
	return s.reviews.ListReviews(ctx, pgID)
}

// ListForOwner returns the reviews of every listing the owner has, newest first.
func (s *Service) ListForOwner(ctx context.Context, ownerID string) ([]review.OwnerView, error) {
	all, err := s.listings.ListListings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]review.OwnerView, 0)
	for _, l := range all {
		if l.OwnerID != ownerID {
			continue
		}
		list, err := s.reviews.ListReviews(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range list {
			out = append(out, review.OwnerView{Review: r, PGName: l.Name})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

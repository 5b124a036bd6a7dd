package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pglocator/pglocator/internal/app/domain/account"
	"github.com/pglocator/pglocator/internal/app/domain/listing"
	"github.com/pglocator/pglocator/internal/app/domain/notification"
	"github.com/pglocator/pglocator/internal/app/storage"
	svcerrors "github.com/pglocator/pglocator/internal/errors"
	"github.com/pglocator/pglocator/internal/logging"
	"github.com/pglocator/pglocator/internal/validation"
)

// Notifier delivers owner notifications.
type Notifier interface {
	Notify(ctx context.Context, n notification.Notification) error
}

// RoomCleaner removes the rooms of a deleted listing.
type RoomCleaner interface {
	DeleteForListing(ctx context.Context, pgID string) (int, error)
}

const (
	errNotFound     = "PG not found"
	errNotPublic    = "PG not found or not yet verified"
	errNotOwner     = "Unauthorized"
	defaultRejected = "No reason provided"
)

// Service manages PG listings for students, owners and admins.
type Service struct {
	listings storage.ListingStore
	rooms    RoomCleaner
	notifier Notifier
	log      *logging.Logger
	now      func() time.Time
}

// New constructs a listing service. rooms and notifier may be nil.
func New(listings storage.ListingStore, rooms RoomCleaner, notifier Notifier, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("listings")
	}
	return &Service{listings: listings, rooms: rooms, notifier: notifier, log: log, now: time.Now}
}

// Viewer identifies the caller of an optionally authenticated read.
type Viewer struct {
	UserID string
	Role   account.Role
}

// Input is the body of an owner create.
type Input struct {
	Name        string             `json:"name" validate:"required,notblank"`
	Description string             `json:"description"`
	Price       float64            `json:"price" validate:"gte=0"`
	Location    string             `json:"location" validate:"required,notblank"`
	Distance    float64            `json:"distance" validate:"gte=0"`
	Gender      listing.Gender     `json:"gender" validate:"required,oneof=male female both"`
	Images      []string           `json:"images" validate:"max=5,dive,url"`
	Amenities   []string           `json:"amenities" validate:"dive,notblank"`
	OwnerName   string             `json:"ownerName"`
	OwnerPhone  string             `json:"ownerPhone"`
	RoomTypes   []listing.RoomType `json:"roomTypes" validate:"dive"`
}

// Patch is the body of an owner update. Nil fields are left unchanged.
type Patch struct {
	Name        *string            `json:"name" validate:"omitempty,notblank"`
	Description *string            `json:"description"`
	Price       *float64           `json:"price" validate:"omitempty,gt=0"`
	Location    *string            `json:"location" validate:"omitempty,notblank"`
	Distance    *float64           `json:"distance" validate:"omitempty,gte=0"`
	Gender      *listing.Gender    `json:"gender" validate:"omitempty,oneof=male female both"`
	Images      []string           `json:"images" validate:"omitempty,max=5,dive,url"`
	Amenities   []string           `json:"amenities" validate:"omitempty,dive,notblank"`
	OwnerName   *string            `json:"ownerName"`
	OwnerPhone  *string            `json:"ownerPhone"`
	RoomTypes   []listing.RoomType `json:"roomTypes" validate:"omitempty,dive"`
}

// ListPublic returns verified, active listings matching the filter.
func (s *Service) ListPublic(ctx context.Context, f listing.Filter) ([]listing.Listing, error) {
	all, err := s.listings.ListListings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]listing.Listing, 0, len(all))
	for _, l := range all {
		if l.Public() && f.Matches(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

// Get returns a listing. Unverified or inactive listings are visible only to
// admins and their owner.
func (s *Service) Get(ctx context.Context, id string, viewer Viewer) (listing.Listing, error) {
	l, err := s.listings.GetListing(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return listing.Listing{}, svcerrors.NotFound(errNotFound)
	}
	if err != nil {
		return listing.Listing{}, err
	}
	if l.Public() || viewer.Role == account.RoleAdmin || (viewer.UserID != "" && viewer.UserID == l.OwnerID) {
		return l, nil
	}
	return listing.Listing{}, svcerrors.NotFound(errNotPublic)
}

// Create stores a new listing for the owner. It starts pending and inactive.
func (s *Service) Create(ctx context.Context, ownerID string, in Input) (listing.Listing, error) {
	if err := validation.Struct(in, "Invalid PG details"); err != nil {
		return listing.Listing{}, err
	}
	price := in.Price
	if price <= 0 && len(in.RoomTypes) > 0 {
		price = in.RoomTypes[0].Price
	}
	if price <= 0 {
		return listing.Listing{}, svcerrors.Validation("Invalid PG details", map[string]string{"price": "must be greater than 0"})
	}

	l := listing.Listing{
		ID:                 listing.NewID(),
		OwnerID:            ownerID,
		Name:               strings.TrimSpace(in.Name),
		Description:        in.Description,
		Price:              price,
		Location:           strings.TrimSpace(in.Location),
		Distance:           in.Distance,
		Gender:             in.Gender,
		Images:             nonNil(in.Images),
		Amenities:          nonNil(in.Amenities),
		OwnerName:          in.OwnerName,
		OwnerPhone:         in.OwnerPhone,
		RoomTypes:          in.RoomTypes,
		Verified:           false,
		VerificationStatus: listing.StatusPending,
		Active:             false,
		CreatedAt:          s.now().UTC(),
	}
	if l.RoomTypes == nil {
		l.RoomTypes = []listing.RoomType{}
	}
	if err := s.listings.SaveListing(ctx, l); err != nil {
		return listing.Listing{}, err
	}
	s.log.WithContext(ctx).WithField("pg_id", l.ID).Info("listing created")
	return l, nil
}

// ListByOwner returns the owner's listings in any status.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]listing.Listing, error) {
	all, err := s.listings.ListListings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]listing.Listing, 0)
	for _, l := range all {
		if l.OwnerID == ownerID {
			out = append(out, l)
		}
	}
	return out, nil
}

// Update merges p into the owner's listing. Verification state, rating and
// ownership cannot be changed here.
func (s *Service) Update(ctx context.Context, ownerID, id string, p Patch) (listing.Listing, error) {
	if err := validation.Struct(p, "Invalid PG details"); err != nil {
		return listing.Listing{}, err
	}
	l, err := s.listings.UpdateListing(ctx, id, func(l *listing.Listing) error {
		if l.OwnerID != ownerID {
			return svcerrors.Forbidden(errNotOwner)
		}
		apply(l, p)
		now := s.now().UTC()
		l.UpdatedAt = &now
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return listing.Listing{}, svcerrors.NotFound(errNotFound)
	}
	return l, err
}

func apply(l *listing.Listing, p Patch) {
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setString(&l.Name, p.Name)
	setString(&l.Location, p.Location)
	setString(&l.OwnerName, p.OwnerName)
	setString(&l.OwnerPhone, p.OwnerPhone)
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Price != nil {
		l.Price = *p.Price
	}
	if p.Distance != nil {
		l.Distance = *p.Distance
	}
	if p.Gender != nil {
		l.Gender = *p.Gender
	}
	if p.Images != nil {
		l.Images = p.Images
	}
	if p.Amenities != nil {
		l.Amenities = p.Amenities
	}
	if p.RoomTypes != nil {
		l.RoomTypes = p.RoomTypes
	}
}

// Delete removes the owner's listing together with its rooms.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	l, err := s.listings.GetListing(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return svcerrors.NotFound(errNotFound)
	}
	if err != nil {
		return err
	}
	if l.OwnerID != ownerID {
		s.log.LogSecurityEvent(ctx, "listing_delete_denied", map[string]interface{}{"pg_id": id})
		return svcerrors.Forbidden(errNotOwner)
	}
	if err := s.listings.DeleteListing(ctx, id); err != nil {
		return err
	}
	if s.rooms != nil {
		n, err := s.rooms.DeleteForListing(ctx, id)
		if err != nil {
			return fmt.Errorf("delete rooms of %s: %w", id, err)
		}
		s.log.WithContext(ctx).WithFields(map[string]interface{}{"pg_id": id, "rooms": n}).Info("listing deleted")
	}
	return nil
}

// ListAll returns every listing for admins.
func (s *Service) ListAll(ctx context.Context) ([]listing.Listing, error) {
	return s.listings.ListListings(ctx)
}

// Verify publishes a listing.
func (s *Service) Verify(ctx context.Context, adminID, id string) (listing.Listing, error) {
	l, err := s.listings.UpdateListing(ctx, id, func(l *listing.Listing) error {
		now := s.now().UTC()
		l.Verified = true
		l.VerificationStatus = listing.StatusVerified
		l.Active = true
		l.VerifiedAt = &now
		l.VerifiedBy = adminID
		l.UpdatedAt = &now
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return listing.Listing{}, svcerrors.NotFound(errNotFound)
	}
	if err != nil {
		return listing.Listing{}, err
	}
	s.notify(ctx, l, "PG Verified", fmt.Sprintf("Your PG %s has been verified and is now visible to students", l.Name))
	return l, nil
}

// Reject hides a listing from students and records the reason.
func (s *Service) Reject(ctx context.Context, adminID, id, reason string) (listing.Listing, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultRejected
	}
	l, err := s.listings.UpdateListing(ctx, id, func(l *listing.Listing) error {
		now := s.now().UTC()
		l.Verified = false
		l.VerificationStatus = listing.StatusRejected
		l.Active = false
		l.RejectionReason = reason
		l.RejectedAt = &now
		l.RejectedBy = adminID
		l.UpdatedAt = &now
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return listing.Listing{}, svcerrors.NotFound(errNotFound)
	}
	if err != nil {
		return listing.Listing{}, err
	}
	s.notify(ctx, l, "PG Rejected", fmt.Sprintf("Your PG %s was rejected: %s", l.Name, reason))
	return l, nil
}

func (s *Service) notify(ctx context.Context, l listing.Listing, title, message string) {
	if s.notifier == nil || l.OwnerID == "" {
		return
	}
	err := s.notifier.Notify(ctx, notification.Notification{
		UserID:  l.OwnerID,
		Type:    notification.TypeVerification,
		Title:   title,
		Message: message,
		PGID:    l.ID,
	})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("notify owner")
	}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

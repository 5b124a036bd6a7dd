// Package storage declares the persistence contracts used by the services.
// Documents (profiles, listings, bookings, reviews, notifications and
// favorites) live in the key-value store; rooms and amenities live in
// relational tables.
package storage

import (
	"context"
	"errors"

	"github.com/pglocator/pglocator/internal/app/domain/account"
	"github.com/pglocator/pglocator/internal/app/domain/booking"
	"github.com/pglocator/pglocator/internal/app/domain/listing"
	"github.com/pglocator/pglocator/internal/app/domain/notification"
	"github.com/pglocator/pglocator/internal/app/domain/review"
	"github.com/pglocator/pglocator/internal/app/domain/room"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a write collides with existing data.
	ErrConflict = errors.New("storage: conflict")
	// ErrNoBeds is returned by AdjustBeds when a room has no free bed.
	ErrNoBeds = errors.New("storage: no beds available")
)

// ProfileStore persists user profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (account.Profile, error)
	SaveProfile(ctx context.Context, p account.Profile) error
	DeleteProfile(ctx context.Context, id string) error
	ListProfiles(ctx context.Context) ([]account.Profile, error)
	// UpdateProfile applies fn atomically to an existing profile.
	UpdateProfile(ctx context.Context, id string, fn func(*account.Profile) error) (account.Profile, error)
}

// ListingStore persists PG listings.
type ListingStore interface {
	GetListing(ctx context.Context, id string) (listing.Listing, error)
	SaveListing(ctx context.Context, l listing.Listing) error
	DeleteListing(ctx context.Context, id string) error
	ListListings(ctx context.Context) ([]listing.Listing, error)
	// GetListings returns the listings that exist, in id order, skipping the rest.
	GetListings(ctx context.Context, ids []string) ([]listing.Listing, error)
	UpdateListing(ctx context.Context, id string, fn func(*listing.Listing) error) (listing.Listing, error)
}

// BookingStore persists bookings and the per-student index.
type BookingStore interface {
	// CreateBooking stores the booking and appends it to the student's index.
	CreateBooking(ctx context.Context, b booking.Booking) error
	GetBooking(ctx context.Context, id string) (booking.Booking, error)
	ListBookings(ctx context.Context) ([]booking.Booking, error)
	ListUserBookings(ctx context.Context, userID string) ([]booking.Booking, error)
	UpdateBooking(ctx context.Context, id string, fn func(*booking.Booking) error) (booking.Booking, error)
}

// ReviewStore persists reviews grouped by listing.
type ReviewStore interface {
	// AddReview appends the review and returns every review of the listing.
	AddReview(ctx context.Context, r review.Review) ([]review.Review, error)
	ListReviews(ctx context.Context, pgID string) ([]review.Review, error)
}

// NotificationStore persists per-user inboxes, newest first.
type NotificationStore interface {
	// PushNotification prepends n and trims the inbox to limit entries.
	PushNotification(ctx context.Context, n notification.Notification, limit int) error
	ListNotifications(ctx context.Context, userID string) ([]notification.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) (notification.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
}

// FavoriteStore persists the listing ids a student saved.
type FavoriteStore interface {
	ListFavorites(ctx context.Context, userID string) ([]string, error)
	AddFavorite(ctx context.Context, userID, pgID string) ([]string, error)
	RemoveFavorite(ctx context.Context, userID, pgID string) ([]string, error)
}

// RoomStore persists the rooms of listings.
type RoomStore interface {
	// ListRooms returns the rooms of a listing ordered by room number.
	ListRooms(ctx context.Context, pgID string) ([]room.Room, error)
	GetRoom(ctx context.Context, id string) (room.Room, error)
	// CreateRoom fails with ErrConflict when the room number is taken.
	CreateRoom(ctx context.Context, r room.Room) (room.Room, error)
	UpdateRoom(ctx context.Context, r room.Room) (room.Room, error)
	DeleteRoom(ctx context.Context, id string) error
	DeleteRoomsByPG(ctx context.Context, pgID string) (int, error)
	// AdjustBeds adds delta to beds_available within [0, beds_total] and sets
	// the status to booked at zero and available otherwise. A negative delta
	// on a full room returns ErrNoBeds.
	AdjustBeds(ctx context.Context, id string, delta int) (room.Room, error)
}

// AmenityStore persists the amenity catalog.
type AmenityStore interface {
	ListAmenities(ctx context.Context) ([]room.Amenity, error)
	UpsertAmenities(ctx context.Context, amenities []room.Amenity) error
}

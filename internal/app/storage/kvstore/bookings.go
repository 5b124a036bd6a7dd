package kvstore

import (
	"context"
	"sort"

	"github.com/pglocator/pglocator/internal/app/domain/booking"
)

// CreateBooking writes booking:<id> and then appends the id to the
// student's user-bookings index.
func (s *Store) CreateBooking(ctx context.Context, b booking.Booking) error {
	if err := putDoc(ctx, s.kv, prefixBooking+b.ID, b); err != nil {
		return err
	}
	_, err := updateDoc(ctx, s.kv, prefixUserBookings+b.UserID, false, func(ids *[]string) error {
		for _, id := range *ids {
			if id == b.ID {
				return nil
			}
		}
		*ids = append(*ids, b.ID)
		return nil
	})
	return err
}

func (s *Store) GetBooking(ctx context.Context, id string) (booking.Booking, error) {
	return getDoc[booking.Booking](ctx, s.kv, prefixBooking+id)
}

func (s *Store) ListBookings(ctx context.Context) ([]booking.Booking, error) {
	return listDocs[booking.Booking](ctx, s.kv, prefixBooking)
}

// ListUserBookings resolves the student's index, skipping ids whose booking
// document is gone, newest first.
func (s *Store) ListUserBookings(ctx context.Context, userID string) ([]booking.Booking, error) {
	ids, err := getDoc[[]string](ctx, s.kv, prefixUserBookings+userID)
	if err != nil {
		if isNotFound(err) {
			return []booking.Booking{}, nil
		}
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = prefixBooking + id
	}
	out, err := getDocs[booking.Booking](ctx, s.kv, keys)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateBooking(ctx context.Context, id string, fn func(*booking.Booking) error) (booking.Booking, error) {
	return updateDoc(ctx, s.kv, prefixBooking+id, true, fn)
}

package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pglocator/pglocator/internal/app/domain/booking"
	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/app/realtime"
	"github.com/pglocator/pglocator/internal/app/storage"
	svcerrors "github.com/pglocator/pglocator/internal/errors"
	"github.com/pglocator/pglocator/internal/logging"
	"github.com/pglocator/pglocator/internal/validation"
)

// Publisher receives every room change made through the service.
type Publisher interface {
	Publish(c realtime.Change)
}

const (
	errRoomNotFound = "Room not found"
	errPGNotFound   = "PG not found"
	errNotOwner     = "Unauthorized"
	errInvalidRoom  = "Invalid room details"
)

// Service manages the rooms of listings and the amenity catalog.
type Service struct {
	rooms     storage.RoomStore
	amenities storage.AmenityStore
	listings  storage.ListingStore
	bookings  storage.BookingStore
	publisher Publisher
	log       *logging.Logger
}

// New constructs a room service. publisher may be nil.
func New(rooms storage.RoomStore, amenities storage.AmenityStore, listings storage.ListingStore, bookings storage.BookingStore, publisher Publisher, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("rooms")
	}
	return &Service{rooms: rooms, amenities: amenities, listings: listings, bookings: bookings, publisher: publisher, log: log}
}

// Input is the body of a room create.
type Input struct {
	RoomNumber    string        `json:"room_number" validate:"required,notblank"`
	Type          room.Type     `json:"type" validate:"omitempty,oneof=single double triple dormitory"`
	BathroomType  room.Bathroom `json:"bathroom_type" validate:"omitempty,oneof=common attached"`
	Rent          float64       `json:"rent" validate:"gt=0"`
	BedsTotal     int           `json:"beds_total" validate:"gte=1"`
	BedsAvailable *int          `json:"beds_available" validate:"omitempty,gte=0"`
	Amenities     []string      `json:"amenities"`
}

// Patch is the body of a room update. Nil fields are left unchanged.
type Patch struct {
	RoomNumber    *string        `json:"room_number" validate:"omitempty,notblank"`
	Type          *room.Type     `json:"type" validate:"omitempty,oneof=single double triple dormitory"`
	BathroomType  *room.Bathroom `json:"bathroom_type" validate:"omitempty,oneof=common attached"`
	Rent          *float64       `json:"rent" validate:"omitempty,gt=0"`
	BedsTotal     *int           `json:"beds_total" validate:"omitempty,gte=1"`
	BedsAvailable *int           `json:"beds_available" validate:"omitempty,gte=0"`
	Amenities     []string       `json:"amenities"`
	Status        *room.Status   `json:"status" validate:"omitempty,oneof=available booked"`
}

// List returns the rooms of a listing ordered by room number.
func (s *Service) List(ctx context.Context, pgID string) ([]room.Room, error) {
	return s.rooms.ListRooms(ctx, pgID)
}

// Amenities returns the amenity catalog ordered by name.
func (s *Service) Amenities(ctx context.Context) ([]room.Amenity, error) {
	return s.amenities.ListAmenities(ctx)
}

func (s *Service) requireOwner(ctx context.Context, ownerID, pgID string) error {
	l, err := s.listings.GetListing(ctx, pgID)
	if errors.Is(err, storage.ErrNotFound) {
		return svcerrors.NotFound(errPGNotFound)
	}
	if err != nil {
		return err
	}
	if l.OwnerID != ownerID {
		s.log.LogSecurityEvent(ctx, "room_access_denied", map[string]interface{}{"pg_id": pgID})
		return svcerrors.Forbidden(errNotOwner)
	}
	return nil
}

func (s *Service) roomOf(ctx context.Context, pgID, roomID string) (room.Room, error) {
	r, err := s.rooms.GetRoom(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && r.PGID != pgID) {
		return room.Room{}, svcerrors.NotFound(errRoomNotFound)
	}
	return r, err
}

func checkBeds(total, available int) error {
	if available > total {
		return svcerrors.Validation(errInvalidRoom, map[string]string{"beds_available": "must not exceed beds_total"})
	}
	return nil
}

// Create adds a room to the owner's listing.
func (s *Service) Create(ctx context.Context, ownerID, pgID string, in Input) (room.Room, error) {
	if err := s.requireOwner(ctx, ownerID, pgID); err != nil {
		return room.Room{}, err
	}
	if err := validation.Struct(in, errInvalidRoom); err != nil {
		return room.Room{}, err
	}
	available := in.BedsTotal
	if in.BedsAvailable != nil {
		available = *in.BedsAvailable
	}
	if err := checkBeds(in.BedsTotal, available); err != nil {
		return room.Room{}, err
	}
	r := room.Room{
		PGID:          pgID,
		RoomNumber:    strings.TrimSpace(in.RoomNumber),
		Type:          in.Type,
		BathroomType:  in.BathroomType,
		Rent:          in.Rent,
		BedsTotal:     in.BedsTotal,
		BedsAvailable: available,
		Amenities:     in.Amenities,
		Status:        room.StatusAvailable,
	}
	if r.Type == "" {
		r.Type = room.TypeSingle
	}
	if r.BathroomType == "" {
		r.BathroomType = room.BathroomCommon
	}
	created, err := s.rooms.CreateRoom(ctx, r)
	if errors.Is(err, storage.ErrConflict) {
		return room.Room{}, svcerrors.Conflict(fmt.Sprintf("Room %s already exists in this PG", r.RoomNumber))
	}
	if err != nil {
		return room.Room{}, err
	}
	s.publish(realtime.EventInsert, &created, nil)
	return created, nil
}

// Update applies a partial change to a room of the owner's listing.
func (s *Service) Update(ctx context.Context, ownerID, pgID, roomID string, p Patch) (room.Room, error) {
	if err := s.requireOwner(ctx, ownerID, pgID); err != nil {
		return room.Room{}, err
	}
	if err := validation.Struct(p, errInvalidRoom); err != nil {
		return room.Room{}, err
	}
	old, err := s.roomOf(ctx, pgID, roomID)
	if err != nil {
		return room.Room{}, err
	}
	next := old
	if p.RoomNumber != nil {
		next.RoomNumber = strings.TrimSpace(*p.RoomNumber)
	}
	if p.Type != nil {
		next.Type = *p.Type
	}
	if p.BathroomType != nil {
		next.BathroomType = *p.BathroomType
	}
	if p.Rent != nil {
		next.Rent = *p.Rent
	}
	if p.BedsTotal != nil {
		next.BedsTotal = *p.BedsTotal
		if p.BedsAvailable == nil && next.BedsAvailable > next.BedsTotal {
			next.BedsAvailable = next.BedsTotal
		}
	}
	if p.BedsAvailable != nil {
		next.BedsAvailable = *p.BedsAvailable
	}
	if p.Amenities != nil {
		next.Amenities = p.Amenities
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	if err := checkBeds(next.BedsTotal, next.BedsAvailable); err != nil {
		return room.Room{}, err
	}
	updated, err := s.rooms.UpdateRoom(ctx, next)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return room.Room{}, svcerrors.Conflict(fmt.Sprintf("Room %s already exists in this PG", next.RoomNumber))
	case errors.Is(err, storage.ErrNotFound):
		return room.Room{}, svcerrors.NotFound(errRoomNotFound)
	case err != nil:
		return room.Room{}, err
	}
	s.publish(realtime.EventUpdate, &updated, &old)
	return updated, nil
}

// Toggle flips a room between available and booked.
func (s *Service) Toggle(ctx context.Context, ownerID, pgID, roomID string) (room.Room, error) {
	if err := s.requireOwner(ctx, ownerID, pgID); err != nil {
		return room.Room{}, err
	}
	old, err := s.roomOf(ctx, pgID, roomID)
	if err != nil {
		return room.Room{}, err
	}
	next := old
	next.Status = old.Status.Toggled()
	updated, err := s.rooms.UpdateRoom(ctx, next)
	if err != nil {
		return room.Room{}, err
	}
	s.publish(realtime.EventUpdate, &updated, &old)
	return updated, nil
}

// Delete removes a room that no pending or approved booking refers to.
func (s *Service) Delete(ctx context.Context, ownerID, pgID, roomID string) error {
	if err := s.requireOwner(ctx, ownerID, pgID); err != nil {
		return err
	}
	old, err := s.roomOf(ctx, pgID, roomID)
	if err != nil {
		return err
	}
	all, err := s.bookings.ListBookings(ctx)
	if err != nil {
		return err
	}
	active := 0
	for _, b := range all {
		if b.RoomID == roomID && (b.Status == booking.StatusPending || b.Status == booking.StatusApproved) {
			active++
		}
	}
	if active > 0 {
		return svcerrors.Conflict(fmt.Sprintf("Cannot delete room with %d active booking(s). Please cancel bookings first.", active))
	}
	if err := s.rooms.DeleteRoom(ctx, roomID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerrors.NotFound(errRoomNotFound)
		}
		return err
	}
	s.publish(realtime.EventDelete, nil, &old)
	return nil
}

// DeleteForListing removes every room of a deleted listing.
func (s *Service) DeleteForListing(ctx context.Context, pgID string) (int, error) {
	rooms, err := s.rooms.ListRooms(ctx, pgID)
	if err != nil {
		return 0, err
	}
	n, err := s.rooms.DeleteRoomsByPG(ctx, pgID)
	if err != nil {
		return 0, err
	}
	for i := range rooms {
		s.publish(realtime.EventDelete, nil, &rooms[i])
	}
	return n, nil
}

// Room returns a room of the listing for booking checks.
func (s *Service) Room(ctx context.Context, pgID, roomID string) (room.Room, error) {
	return s.roomOf(ctx, pgID, roomID)
}

// TakeBed reserves one bed of the room.
func (s *Service) TakeBed(ctx context.Context, roomID string) (room.Room, error) {
	return s.adjust(ctx, roomID, -1)
}

// ReleaseBed frees one bed of the room.
func (s *Service) ReleaseBed(ctx context.Context, roomID string) (room.Room, error) {
	return s.adjust(ctx, roomID, 1)
}

func (s *Service) adjust(ctx context.Context, roomID string, delta int) (room.Room, error) {
	old, err := s.rooms.GetRoom(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return room.Room{}, svcerrors.NotFound(errRoomNotFound)
	}
	if err != nil {
		return room.Room{}, err
	}
	updated, err := s.rooms.AdjustBeds(ctx, roomID, delta)
	switch {
	case errors.Is(err, storage.ErrNoBeds):
		return room.Room{}, svcerrors.Conflict("No beds available in this room")
	case errors.Is(err, storage.ErrNotFound):
		return room.Room{}, svcerrors.NotFound(errRoomNotFound)
	case err != nil:
		return room.Room{}, err
	}
	s.publish(realtime.EventUpdate, &updated, &old)
	return updated, nil
}

func (s *Service) publish(ev realtime.Event, next, old *room.Room) {
	if s.publisher == nil {
		return
	}
	c := realtime.Change{Event: ev, New: next, Old: old}
	if next != nil {
		c.PGID = next.PGID
	} else if old != nil {
		c.PGID = old.PGID
	}
	s.publisher.Publish(c)
}

// Package supabase stores rooms and amenities in Supabase tables through
// PostgREST. It is used when the rooms table is owned by a Supabase project
// whose realtime feed other clients also watch.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/app/storage"
	"github.com/pglocator/pglocator/supabase/client"
)

const (
	roomsTable     = "rooms"
	amenitiesTable = "amenities"
	// adjustAttempts bounds the compare-and-set loop of AdjustBeds.
	adjustAttempts = 8
)

// Store implements RoomStore and AmenityStore over PostgREST.
type Store struct {
	client *client.Client
	now    func() time.Time
}

var (
	_ storage.RoomStore    = (*Store)(nil)
	_ storage.AmenityStore = (*Store)(nil)
)

// New wraps a Supabase client.
func New(c *client.Client) *Store {
	return &Store{client: c, now: func() time.Time { return time.Now().UTC() }}
}

func decode[T any](resp *client.Response, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if err := resp.Err(); err != nil {
		return out, err
	}
	if err := resp.JSON(&out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func isConflict(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusConflict || apiErr.Code == "23505")
}

func normalize(rooms []room.Room) []room.Room {
	for i := range rooms {
		if rooms[i].Amenities == nil {
			rooms[i].Amenities = []string{}
		}
	}
	return rooms
}

func (s *Store) ListRooms(ctx context.Context, pgID string) ([]room.Room, error) {
	rooms, err := decode[[]room.Room](s.client.From(roomsTable).Select("*").Eq("pg_id", pgID).Order("room_number", true).Execute(ctx))
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if rooms == nil {
		rooms = []room.Room{}
	}
	return normalize(rooms), nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (room.Room, error) {
	rooms, err := decode[[]room.Room](s.client.From(roomsTable).Select("*").Eq("id", id).Limit(1).Execute(ctx))
	if err != nil {
		return room.Room{}, fmt.Errorf("get room: %w", err)
	}
	if len(rooms) == 0 {
		return room.Room{}, storage.ErrNotFound
	}
	return normalize(rooms)[0], nil
}

func (s *Store) CreateRoom(ctx context.Context, r room.Room) (room.Room, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	if r.Amenities == nil {
		r.Amenities = []string{}
	}
	rooms, err := decode[[]room.Room](s.client.From(roomsTable).Insert(ctx, r))
	if isConflict(err) {
		return room.Room{}, storage.ErrConflict
	}
	if err != nil {
		return room.Room{}, fmt.Errorf("create room: %w", err)
	}
	if len(rooms) == 0 {
		return r, nil
	}
	return normalize(rooms)[0], nil
}

type roomPatch struct {
	RoomNumber    string    `json:"room_number"`
	Type          room.Type `json:"type"`
	BathroomType  string    `json:"bathroom_type"`
	Rent          float64   `json:"rent"`
	BedsTotal     int       `json:"beds_total"`
	BedsAvailable int       `json:"beds_available"`
	Amenities     []string  `json:"amenities"`
	Status        string    `json:"status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Store) UpdateRoom(ctx context.Context, r room.Room) (room.Room, error) {
	if r.Amenities == nil {
		r.Amenities = []string{}
	}
	patch := roomPatch{
		RoomNumber:    r.RoomNumber,
		Type:          r.Type,
		BathroomType:  string(r.BathroomType),
		Rent:          r.Rent,
		BedsTotal:     r.BedsTotal,
		BedsAvailable: r.BedsAvailable,
		Amenities:     r.Amenities,
		Status:        string(r.Status),
		UpdatedAt:     s.now(),
	}
	rooms, err := decode[[]room.Room](s.client.From(roomsTable).Eq("id", r.ID).Update(ctx, patch))
	if isConflict(err) {
		return room.Room{}, storage.ErrConflict
	}
	if err != nil {
		return room.Room{}, fmt.Errorf("update room: %w", err)
	}
	if len(rooms) == 0 {
		return room.Room{}, storage.ErrNotFound
	}
	return normalize(rooms)[0], nil
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	rooms, err := decode[[]room.Room](s.client.From(roomsTable).Eq("id", id).Delete(ctx))
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if len(rooms) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRoomsByPG(ctx context.Context, pgID string) (int, error) {
	rooms, err := decode[[]room.Room](s.client.From(roomsTable).Eq("pg_id", pgID).Delete(ctx))
	if err != nil {
		return 0, fmt.Errorf("delete rooms of %s: %w", pgID, err)
	}
	return len(rooms), nil
}

// AdjustBeds patches the row only while beds_available still holds the value
// it read, retrying when another writer got there first.
func (s *Store) AdjustBeds(ctx context.Context, id string, delta int) (room.Room, error) {
	for attempt := 0; attempt < adjustAttempts; attempt++ {
		cur, err := s.GetRoom(ctx, id)
		if err != nil {
			return room.Room{}, err
		}
		next := cur.BedsAvailable + delta
		if next < 0 {
			return room.Room{}, storage.ErrNoBeds
		}
		if next > cur.BedsTotal {
			next = cur.BedsTotal
		}
		status := room.StatusAvailable
		if next == 0 {
			status = room.StatusBooked
		}
		patch := map[string]any{
			"beds_available": next,
			"status":         status,
			"updated_at":     s.now(),
		}
		rooms, err := decode[[]room.Room](s.client.From(roomsTable).
			Eq("id", id).
			Eq("beds_available", cur.BedsAvailable).
			Update(ctx, patch))
		if err != nil {
			return room.Room{}, fmt.Errorf("adjust beds: %w", err)
		}
		if len(rooms) > 0 {
			return normalize(rooms)[0], nil
		}
	}
	return room.Room{}, fmt.Errorf("adjust beds %s: %w", id, storage.ErrConflict)
}

func (s *Store) ListAmenities(ctx context.Context) ([]room.Amenity, error) {
	out, err := decode[[]room.Amenity](s.client.From(amenitiesTable).Select("id,name").Order("name", true).Execute(ctx))
	if err != nil {
		return nil, fmt.Errorf("list amenities: %w", err)
	}
	if out == nil {
		out = []room.Amenity{}
	}
	return out, nil
}

func (s *Store) UpsertAmenities(ctx context.Context, amenities []room.Amenity) error {
	if len(amenities) == 0 {
		return nil
	}
	rows := make([]room.Amenity, len(amenities))
	for i, a := range amenities {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.Name = strings.TrimSpace(a.Name)
		rows[i] = a
	}
	_, err := decode[[]room.Amenity](s.client.From(amenitiesTable).OnConflict("name").Upsert(ctx, rows))
	if err != nil {
		return fmt.Errorf("upsert amenities: %w", err)
	}
	return nil
}

// Package memory keeps rooms and the amenity catalog in process memory. It is
// safe for concurrent use and backs the memory storage mode and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/app/storage"
)

// Store is an in-memory RoomStore and AmenityStore.
type Store struct {
	mu        sync.RWMutex
	rooms     map[string]room.Room
	amenities map[string]room.Amenity
	now       func() time.Time
}

var (
	_ storage.RoomStore    = (*Store)(nil)
	_ storage.AmenityStore = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		rooms:     make(map[string]room.Room),
		amenities: make(map[string]room.Amenity),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func cloneRoom(r room.Room) room.Room {
	r.Amenities = append([]string{}, r.Amenities...)
	return r
}

func (s *Store) ListRooms(_ context.Context, pgID string) ([]room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]room.Room, 0)
	for _, r := range s.rooms {
		if r.PGID == pgID {
			out = append(out, cloneRoom(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomNumber < out[j].RoomNumber })
	return out, nil
}

func (s *Store) GetRoom(_ context.Context, id string) (room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return room.Room{}, storage.ErrNotFound
	}
	return cloneRoom(r), nil
}

func (s *Store) numberTakenLocked(r room.Room) bool {
	for _, other := range s.rooms {
		if other.ID != r.ID && other.PGID == r.PGID && other.RoomNumber == r.RoomNumber {
			return true
		}
	}
	return false
}

func (s *Store) CreateRoom(_ context.Context, r room.Room) (room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := s.rooms[r.ID]; exists || s.numberTakenLocked(r) {
		return room.Room{}, storage.ErrConflict
	}
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Amenities == nil {
		r.Amenities = []string{}
	}
	s.rooms[r.ID] = cloneRoom(r)
	return cloneRoom(r), nil
}

func (s *Store) UpdateRoom(_ context.Context, r room.Room) (room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rooms[r.ID]
	if !ok {
		return room.Room{}, storage.ErrNotFound
	}
	if s.numberTakenLocked(r) {
		return room.Room{}, storage.ErrConflict
	}
	r.PGID = existing.PGID
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = s.now()
	if r.Amenities == nil {
		r.Amenities = []string{}
	}
	s.rooms[r.ID] = cloneRoom(r)
	return cloneRoom(r), nil
}

func (s *Store) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.rooms, id)
	return nil
}

func (s *Store) DeleteRoomsByPG(_ context.Context, pgID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.rooms {
		if r.PGID == pgID {
			delete(s.rooms, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) AdjustBeds(_ context.Context, id string, delta int) (room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return room.Room{}, storage.ErrNotFound
	}
	next := r.BedsAvailable + delta
	if next < 0 {
		return room.Room{}, storage.ErrNoBeds
	}
	if next > r.BedsTotal {
		next = r.BedsTotal
	}
	r.BedsAvailable = next
	if next == 0 {
		r.Status = room.StatusBooked
	} else {
		r.Status = room.StatusAvailable
	}
	r.UpdatedAt = s.now()
	s.rooms[id] = r
	return cloneRoom(r), nil
}

// ListAmenities returns the catalog ordered by name.
func (s *Store) ListAmenities(_ context.Context) ([]room.Amenity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]room.Amenity, 0, len(s.amenities))
	for _, a := range s.amenities {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (s *Store) UpsertAmenities(_ context.Context, amenities []room.Amenity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range amenities {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		for id, existing := range s.amenities {
			if id != a.ID && strings.EqualFold(existing.Name, a.Name) {
				delete(s.amenities, id)
			}
		}
		s.amenities[a.ID] = a
	}
	return nil
}

// Package postgres stores rooms and the amenity catalog in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/app/storage"
)

// Store implements RoomStore and AmenityStore on the tables created by the
// 0002 migration.
type Store struct {
	db *sqlx.DB
}

var (
	_ storage.RoomStore    = (*Store)(nil)
	_ storage.AmenityStore = (*Store)(nil)
)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const roomColumns = `id, pg_id, room_number, type, bathroom_type, rent, beds_total, beds_available, amenities, status, created_at, updated_at`

type roomRow struct {
	ID            string         `db:"id"`
	PGID          string         `db:"pg_id"`
	RoomNumber    string         `db:"room_number"`
	Type          string         `db:"type"`
	BathroomType  string         `db:"bathroom_type"`
	Rent          float64        `db:"rent"`
	BedsTotal     int            `db:"beds_total"`
	BedsAvailable int            `db:"beds_available"`
	Amenities     pq.StringArray `db:"amenities"`
	Status        string         `db:"status"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r roomRow) domain() room.Room {
	amenities := []string(r.Amenities)
	if amenities == nil {
		amenities = []string{}
	}
	return room.Room{
		ID:            r.ID,
		PGID:          r.PGID,
		RoomNumber:    r.RoomNumber,
		Type:          room.Type(r.Type),
		BathroomType:  room.Bathroom(r.BathroomType),
		Rent:          r.Rent,
		BedsTotal:     r.BedsTotal,
		BedsAvailable: r.BedsAvailable,
		Amenities:     amenities,
		Status:        room.Status(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- RoomStore ---------------------------------------------------------------

func (s *Store) ListRooms(ctx context.Context, pgID string) ([]room.Room, error) {
	var rows []roomRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+roomColumns+` FROM rooms WHERE pg_id = $1 ORDER BY room_number ASC`, pgID); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]room.Room, len(rows))
	for i, r := range rows {
		out[i] = r.domain()
	}
	return out, nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (room.Room, error) {
	var row roomRow
	err := s.db.GetContext(ctx, &row, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return room.Room{}, storage.ErrNotFound
	}
	if err != nil {
		return room.Room{}, fmt.Errorf("get room: %w", err)
	}
	return row.domain(), nil
}

func (s *Store) CreateRoom(ctx context.Context, r room.Room) (room.Room, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	var row roomRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO rooms (id, pg_id, room_number, type, bathroom_type, rent, beds_total, beds_available, amenities, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING `+roomColumns,
		r.ID, r.PGID, r.RoomNumber, string(r.Type), string(r.BathroomType), r.Rent,
		r.BedsTotal, r.BedsAvailable, pq.Array(r.Amenities), string(r.Status))
	if isUniqueViolation(err) {
		return room.Room{}, storage.ErrConflict
	}
	if err != nil {
		return room.Room{}, fmt.Errorf("create room: %w", err)
	}
	return row.domain(), nil
}

func (s *Store) UpdateRoom(ctx context.Context, r room.Room) (room.Room, error) {
	var row roomRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE rooms
		SET room_number = $2, type = $3, bathroom_type = $4, rent = $5, beds_total = $6,
		    beds_available = $7, amenities = $8, status = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING `+roomColumns,
		r.ID, r.RoomNumber, string(r.Type), string(r.BathroomType), r.Rent,
		r.BedsTotal, r.BedsAvailable, pq.Array(r.Amenities), string(r.Status))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return room.Room{}, storage.ErrNotFound
	case isUniqueViolation(err):
		return room.Room{}, storage.ErrConflict
	case err != nil:
		return room.Room{}, fmt.Errorf("update room: %w", err)
	}
	return row.domain(), nil
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRoomsByPG(ctx context.Context, pgID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE pg_id = $1`, pgID)
	if err != nil {
		return 0, fmt.Errorf("delete rooms of %s: %w", pgID, err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// AdjustBeds changes the free bed count in one statement so concurrent
// approvals cannot oversell a room.
func (s *Store) AdjustBeds(ctx context.Context, id string, delta int) (room.Room, error) {
	var row roomRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE rooms
		SET beds_available = LEAST(beds_total, beds_available + $2),
		    status = CASE WHEN LEAST(beds_total, beds_available + $2) = 0 THEN 'booked' ELSE 'available' END,
		    updated_at = NOW()
		WHERE id = $1 AND beds_available + $2 >= 0
		RETURNING `+roomColumns, id, delta)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetRoom(ctx, id); getErr != nil {
			return room.Room{}, getErr
		}
		return room.Room{}, storage.ErrNoBeds
	}
	if err != nil {
		return room.Room{}, fmt.Errorf("adjust beds: %w", err)
	}
	return row.domain(), nil
}

// --- AmenityStore ------------------------------------------------------------

func (s *Store) ListAmenities(ctx context.Context) ([]room.Amenity, error) {
	out := []room.Amenity{}
	if err := s.db.SelectContext(ctx, &out, `SELECT id, name FROM amenities ORDER BY name ASC`); err != nil {
		return nil, fmt.Errorf("list amenities: %w", err)
	}
	return out, nil
}

func (s *Store) UpsertAmenities(ctx context.Context, amenities []room.Amenity) error {
	if len(amenities) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert amenities begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for _, a := range amenities {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO amenities (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`, a.ID, a.Name); err != nil {
			return fmt.Errorf("upsert amenity %s: %w", a.Name, err)
		}
	}
	return tx.Commit()
}

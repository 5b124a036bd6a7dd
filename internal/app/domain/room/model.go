package room

import "time"

// Type is the occupancy class of a room.
type Type string

const (
	TypeSingle    Type = "single"
	TypeDouble    Type = "double"
	TypeTriple    Type = "triple"
	TypeDormitory Type = "dormitory"
)

// Bathroom describes the bathroom arrangement.
type Bathroom string

const (
	BathroomCommon   Bathroom = "common"
	BathroomAttached Bathroom = "attached"
)

// Status is whether the room can take more students.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBooked    Status = "booked"
)

// Room is a physical room of a listing, kept in the rooms table.
type Room struct {
	ID            string    `json:"id" db:"id"`
	PGID          string    `json:"pg_id" db:"pg_id"`
	RoomNumber    string    `json:"room_number" db:"room_number"`
	Type          Type      `json:"type" db:"type"`
	BathroomType  Bathroom  `json:"bathroom_type" db:"bathroom_type"`
	Rent          float64   `json:"rent" db:"rent"`
	BedsTotal     int       `json:"beds_total" db:"beds_total"`
	BedsAvailable int       `json:"beds_available" db:"beds_available"`
	Amenities     []string  `json:"amenities" db:"amenities"`
	Status        Status    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Toggled returns the opposite status.
func (s Status) Toggled() Status {
	if s == StatusAvailable {
		return StatusBooked
	}
	return StatusAvailable
}

// Amenity is an entry of the amenity catalog.
type Amenity struct {
	ID   string `json:"id" db:"id" yaml:"id"`
	Name string `json:"name" db:"name" yaml:"name"`
}

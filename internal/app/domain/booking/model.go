package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/pglocator/pglocator/internal/app/domain/listing"
)

// Status is the lifecycle state of a booking request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
)

// Holding reports whether the booking still occupies (or may occupy) a room.
func (s Status) Holding() bool {
	return s == StatusPending || s == StatusApproved
}

// Booking is a student's request for a listing, stored under booking:<id>.
type Booking struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	PGID         string            `json:"pgId"`
	OwnerID      string            `json:"ownerId,omitempty"`
	RoomType     string            `json:"roomType"`
	RoomID       string            `json:"roomId,omitempty"`
	SelectedRoom *listing.RoomType `json:"selectedRoom,omitempty"`
	CheckIn      string            `json:"checkIn"`
	Duration     int               `json:"duration"`
	TotalAmount  float64           `json:"totalAmount"`
	Status       Status            `json:"status"`
	PGSnapshot   *listing.Snapshot `json:"pgSnapshot,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    *time.Time        `json:"updatedAt,omitempty"`
}

// View is a booking enriched for display. PG holds the live listing, the
// snapshot or a placeholder; User is only set on owner views.
type View struct {
	Booking
	PG   any `json:"pg"`
	User any `json:"user,omitempty"`
}

// StudentPlaceholder is shown to students when neither the listing nor a
// snapshot is available.
type StudentPlaceholder struct {
	Name       string   `json:"name"`
	Location   string   `json:"location"`
	Images     []string `json:"images"`
	OwnerName  string   `json:"ownerName"`
	OwnerPhone string   `json:"ownerPhone"`
}

// OwnerPGPlaceholder and UserPlaceholder fill owner views.
type OwnerPGPlaceholder struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

type UserPlaceholder struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

var (
	MissingPGForStudent = StudentPlaceholder{
		Name:       "PG (Details not found)",
		Location:   "Location unknown",
		Images:     []string{},
		OwnerName:  "Unknown",
		OwnerPhone: "N/A",
	}
	MissingPGForOwner = OwnerPGPlaceholder{Name: "Unknown PG", Location: "N/A"}
	MissingUser       = UserPlaceholder{Name: "Unknown User", Email: "N/A", Phone: "N/A"}
)

// NewID returns a fresh booking identifier.
func NewID() string {
	return "booking-" + uuid.NewString()
}

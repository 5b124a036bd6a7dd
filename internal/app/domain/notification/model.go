package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification for the client.
type Type string

const (
	TypeBooking      Type = "booking"
	TypeVerification Type = "verification"
)

// Notification is one inbox entry; a user's inbox lives under notifications:<uid>.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	BookingID string    `json:"bookingId,omitempty"`
	PGID      string    `json:"pgId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewID returns a fresh notification identifier.
func NewID() string {
	return "notification-" + uuid.NewString()
}

package listing

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Gender restricts who a listing accepts.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderBoth   Gender = "both"
)

// VerificationStatus tracks the admin review of a listing.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusRejected VerificationStatus = "rejected"
)

// MaxImages is the number of image URLs a listing may carry.
const MaxImages = 5

// RoomType is a priced room category advertised on the listing.
type RoomType struct {
	Type      string  `json:"type" yaml:"type" validate:"required,notblank"`
	Price     float64 `json:"price" yaml:"price" validate:"gt=0"`
	Available int     `json:"available" yaml:"available" validate:"gte=0"`
}

// Listing is a PG accommodation stored under pg:<id>.
type Listing struct {
	ID                 string             `json:"id" yaml:"id"`
	OwnerID            string             `json:"ownerId" yaml:"ownerId"`
	Name               string             `json:"name" yaml:"name"`
	Description        string             `json:"description" yaml:"description"`
	Price              float64            `json:"price" yaml:"price"`
	Location           string             `json:"location" yaml:"location"`
	Distance           float64            `json:"distance" yaml:"distance"`
	Gender             Gender             `json:"gender" yaml:"gender"`
	Images             []string           `json:"images" yaml:"images"`
	Amenities          []string           `json:"amenities" yaml:"amenities"`
	Rating             float64            `json:"rating" yaml:"rating"`
	Reviews            int                `json:"reviews" yaml:"reviews"`
	Verified           bool               `json:"verified" yaml:"verified"`
	VerificationStatus VerificationStatus `json:"verificationStatus" yaml:"verificationStatus"`
	Active             bool               `json:"active" yaml:"active"`
	OwnerName          string             `json:"ownerName,omitempty" yaml:"ownerName"`
	OwnerPhone         string             `json:"ownerPhone,omitempty" yaml:"ownerPhone"`
	RoomTypes          []RoomType         `json:"roomTypes" yaml:"roomTypes"`
	CreatedAt          time.Time          `json:"createdAt" yaml:"-"`
	UpdatedAt          *time.Time         `json:"updatedAt,omitempty" yaml:"-"`
	VerifiedAt         *time.Time         `json:"verifiedAt,omitempty" yaml:"-"`
	VerifiedBy         string             `json:"verifiedBy,omitempty" yaml:"-"`
	RejectionReason    string             `json:"rejectionReason,omitempty" yaml:"-"`
	RejectedAt         *time.Time         `json:"rejectedAt,omitempty" yaml:"-"`
	RejectedBy         string             `json:"rejectedBy,omitempty" yaml:"-"`
}

// Public reports whether students may see the listing.
func (l Listing) Public() bool {
	return l.Verified && l.Active
}

// RoomTypeNamed finds a room type by name, ignoring case.
func (l Listing) RoomTypeNamed(name string) (RoomType, bool) {
	for _, rt := range l.RoomTypes {
		if strings.EqualFold(strings.TrimSpace(rt.Type), strings.TrimSpace(name)) {
			return rt, true
		}
	}
	return RoomType{}, false
}

// HasAmenity reports whether the listing offers the amenity, ignoring case.
func (l Listing) HasAmenity(name string) bool {
	for _, a := range l.Amenities {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// Snapshot is the copy of a listing kept on a booking so the booking stays
// readable after the listing is edited or deleted.
type Snapshot struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Rating  float64  `json:"rating"`
	Reviews int      `json:"reviews"`
	Images  []string `json:"images"`
}

// Snapshot captures the listing with at most two images.
func (l Listing) Snapshot() Snapshot {
	images := l.Images
	if len(images) > 2 {
		images = images[:2]
	}
	return Snapshot{
		ID:      l.ID,
		Name:    l.Name,
		Rating:  l.Rating,
		Reviews: l.Reviews,
		Images:  append([]string{}, images...),
	}
}

// Filter narrows the public listing.
type Filter struct {
	Query     string
	MinPrice  float64
	MaxPrice  float64
	Gender    Gender
	Amenities []string
}

// Matches applies the filter. A zero MaxPrice means no upper bound.
func (f Filter) Matches(l Listing) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(l.Name), q) && !strings.Contains(strings.ToLower(l.Location), q) {
			return false
		}
	}
	if l.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && l.Price > f.MaxPrice {
		return false
	}
	if f.Gender != "" && f.Gender != GenderBoth && l.Gender != f.Gender && l.Gender != GenderBoth {
		return false
	}
	for _, a := range f.Amenities {
		if !l.HasAmenity(a) {
			return false
		}
	}
	return true
}

// NewID returns a fresh listing identifier.
func NewID() string {
	return "pg-" + uuid.NewString()
}

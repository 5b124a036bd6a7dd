package review

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Review is a student's rating of a listing. Reviews of one listing are kept
// together under pg-reviews:<pgId>.
type Review struct {
	ID        string    `json:"id"`
	PGID      string    `json:"pgId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

// OwnerView adds the listing name for the owner dashboard.
type OwnerView struct {
	Review
	PGName string `json:"pgName"`
}

// Average returns the mean rating rounded to one decimal, or 0 for none.
func Average(reviews []Review) float64 {
	if len(reviews) == 0 {
		return 0
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	return math.Round(float64(sum)/float64(len(reviews))*10) / 10
}

// NewID returns a fresh review identifier.
func NewID() string {
	return "review-" + uuid.NewString()
}

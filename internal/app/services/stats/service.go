package stats

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pglocator/pglocator/internal/app/domain/account"
	"github.com/pglocator/pglocator/internal/app/domain/booking"
	"github.com/pglocator/pglocator/internal/app/domain/listing"
	"github.com/pglocator/pglocator/internal/app/storage"
	"github.com/pglocator/pglocator/internal/logging"
)

const (
	topAmenities    = 6
	topListings     = 5
	analyticsMonths = 6
)

// Service computes dashboard figures for owners and admins.
type Service struct {
	listings storage.ListingStore
	bookings storage.BookingStore
	profiles storage.ProfileStore
	log      *logging.Logger
	now      func() time.Time
}

func New(listings storage.ListingStore, bookings storage.BookingStore, profiles storage.ProfileStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("stats")
	}
	return &Service{listings: listings, bookings: bookings, profiles: profiles, log: log, now: time.Now}
}

type OwnerStats struct {
	TotalPGs        int     `json:"totalPGs"`
	TotalBookings   int     `json:"totalBookings"`
	PendingBookings int     `json:"pendingBookings"`
	MonthlyEarnings float64 `json:"monthlyEarnings"`
	TotalEarnings   float64 `json:"totalEarnings"`
	AverageRating   float64 `json:"averageRating"`
}

type AdminStats struct {
	TotalPGs            int     `json:"totalPGs"`
	PendingVerification int     `json:"pendingVerification"`
	VerifiedPGs         int     `json:"verifiedPGs"`
	RejectedPGs         int     `json:"rejectedPGs"`
	TotalUsers          int     `json:"totalUsers"`
	TotalBookings       int     `json:"totalBookings"`
	RevenueThisMonth    float64 `json:"revenueThisMonth"`
}

type AmenityCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type TopPG struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Bookings int     `json:"bookings"`
	Revenue  float64 `json:"revenue"`
}

type MonthData struct {
	Month    string  `json:"month"`
	Bookings int     `json:"bookings"`
	Revenue  float64 `json:"revenue"`
	Users    int     `json:"users"`
}

type UserDistribution struct {
	Students int `json:"students"`
	Owners   int `json:"owners"`
	Admins   int `json:"admins"`
}

type Analytics struct {
	TotalRevenue     float64          `json:"totalRevenue"`
	RevenueGrowth    float64          `json:"revenueGrowth"`
	TotalBookings    int              `json:"totalBookings"`
	BookingsGrowth   float64          `json:"bookingsGrowth"`
	TotalUsers       int              `json:"totalUsers"`
	NewUsers         int              `json:"newUsers"`
	UsersGrowth      float64          `json:"usersGrowth"`
	TotalPGs         int              `json:"totalPGs"`
	ActivePGs        int              `json:"activePGs"`
	PGGrowth         float64          `json:"pgGrowth"`
	PopularAmenities []AmenityCount   `json:"popularAmenities"`
	TopPGs           []TopPG          `json:"topPGs"`
	UserDistribution UserDistribution `json:"userDistribution"`
	MonthlyData      []MonthData      `json:"monthlyData"`
}

type snapshot struct {
	listings []listing.Listing
	bookings []booking.Booking
	profiles []account.Profile
}

func (s *Service) load(ctx context.Context, withProfiles bool) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.listings, err = s.listings.ListListings(gctx)
		return err
	})
	g.Go(func() (err error) {
		snap.bookings, err = s.bookings.ListBookings(gctx)
		return err
	})
	if withProfiles {
		g.Go(func() (err error) {
			snap.profiles, err = s.profiles.ListProfiles(gctx)
			return err
		})
	}
	return snap, g.Wait()
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Owner returns the caller's listing and earnings figures. Earnings count
// approved bookings only.
func (s *Service) Owner(ctx context.Context, ownerID string) (OwnerStats, error) {
	snap, err := s.load(ctx, false)
	if err != nil {
		return OwnerStats{}, err
	}
	now := s.now().UTC()
	var out OwnerStats
	owned := make(map[string]struct{})
	var ratingSum float64
	rated := 0
	for _, l := range snap.listings {
		if l.OwnerID != ownerID {
			continue
		}
		owned[l.ID] = struct{}{}
		out.TotalPGs++
		if l.Rating > 0 {
			ratingSum += l.Rating
			rated++
		}
	}
	if rated > 0 {
		out.AverageRating = round1(ratingSum / float64(rated))
	}
	for _, b := range snap.bookings {
		if _, ok := owned[b.PGID]; !ok {
			continue
		}
		out.TotalBookings++
		switch b.Status {
		case booking.StatusPending:
			out.PendingBookings++
		case booking.StatusApproved:
			out.TotalEarnings += b.TotalAmount
			if sameMonth(b.CreatedAt.UTC(), now) {
				out.MonthlyEarnings += b.TotalAmount
			}
		}
	}
	return out, nil
}

// Admin returns platform-wide counts.
func (s *Service) Admin(ctx context.Context) (AdminStats, error) {
	snap, err := s.load(ctx, true)
	if err != nil {
		return AdminStats{}, err
	}
	now := s.now().UTC()
	out := AdminStats{
		TotalPGs:      len(snap.listings),
		TotalUsers:    len(snap.profiles),
		TotalBookings: len(snap.bookings),
	}
	for _, l := range snap.listings {
		switch {
		case l.Verified:
			out.VerifiedPGs++
		case l.VerificationStatus == listing.StatusRejected:
		default:
			out.PendingVerification++
		}
		if l.VerificationStatus == listing.StatusRejected {
			out.RejectedPGs++
		}
	}
	for _, b := range snap.bookings {
		if b.Status == booking.StatusApproved && sameMonth(b.CreatedAt.UTC(), now) {
			out.RevenueThisMonth += b.TotalAmount
		}
	}
	return out, nil
}

// Analytics returns revenue, growth and popularity figures for the admin
// dashboard. Growth is the change against the previous calendar month in
// percent, or 0 when the previous month is empty.
func (s *Service) Analytics(ctx context.Context) (Analytics, error) {
	snap, err := s.load(ctx, true)
	if err != nil {
		return Analytics{}, err
	}
	now := s.now().UTC()
	out := Analytics{
		TotalBookings: len(snap.bookings),
		TotalUsers:    len(snap.profiles),
		TotalPGs:      len(snap.listings),
	}

	months := make([]MonthData, analyticsMonths)
	index := make(map[string]int, analyticsMonths)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < analyticsMonths; i++ {
		key := monthKey(first.AddDate(0, i-analyticsMonths+1, 0))
		months[i] = MonthData{Month: key}
		index[key] = i
	}
	pgMonths := make(map[string]int)

	perPG := make(map[string]*TopPG)
	for _, b := range snap.bookings {
		i, tracked := index[monthKey(b.CreatedAt)]
		if tracked {
			months[i].Bookings++
		}
		top := perPG[b.PGID]
		if top == nil {
			top = &TopPG{ID: b.PGID}
			perPG[b.PGID] = top
		}
		top.Bookings++
		if b.Status == booking.StatusApproved {
			out.TotalRevenue += b.TotalAmount
			top.Revenue += b.TotalAmount
			if tracked {
				months[i].Revenue += b.TotalAmount
			}
		}
	}

	for _, p := range snap.profiles {
		switch p.Role {
		case account.RoleStudent:
			out.UserDistribution.Students++
		case account.RoleOwner:
			out.UserDistribution.Owners++
		case account.RoleAdmin:
			out.UserDistribution.Admins++
		}
		if sameMonth(p.CreatedAt.UTC(), now) {
			out.NewUsers++
		}
		if i, ok := index[monthKey(p.CreatedAt)]; ok {
			months[i].Users++
		}
	}

	amenities := make(map[string]int)
	var top []TopPG
	for _, l := range snap.listings {
		for _, a := range l.Amenities {
			amenities[a]++
		}
		pgMonths[monthKey(l.CreatedAt)]++
		if !l.Verified {
			continue
		}
		out.ActivePGs++
		entry := TopPG{ID: l.ID, Name: l.Name}
		if counted := perPG[l.ID]; counted != nil {
			entry.Bookings = counted.Bookings
			entry.Revenue = counted.Revenue
		}
		top = append(top, entry)
	}

	out.PopularAmenities = rankAmenities(amenities)
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Bookings != top[j].Bookings {
			return top[i].Bookings > top[j].Bookings
		}
		return top[i].Name < top[j].Name
	})
	if len(top) > topListings {
		top = top[:topListings]
	}
	if top == nil {
		top = []TopPG{}
	}
	out.TopPGs = top
	out.MonthlyData = months

	cur, prev := months[analyticsMonths-1], months[analyticsMonths-2]
	out.RevenueGrowth = growth(cur.Revenue, prev.Revenue)
	out.BookingsGrowth = growth(float64(cur.Bookings), float64(prev.Bookings))
	out.UsersGrowth = growth(float64(cur.Users), float64(prev.Users))
	out.PGGrowth = growth(float64(pgMonths[cur.Month]), float64(pgMonths[prev.Month]))
	return out, nil
}

func rankAmenities(counts map[string]int) []AmenityCount {
	out := make([]AmenityCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, AmenityCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > topAmenities {
		out = out[:topAmenities]
	}
	return out
}

func growth(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return round1((cur - prev) / prev * 100)
}

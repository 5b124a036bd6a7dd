package bookings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pglocator/pglocator/internal/app/domain/account"
	"github.com/pglocator/pglocator/internal/app/domain/booking"
	"github.com/pglocator/pglocator/internal/app/domain/listing"
	"github.com/pglocator/pglocator/internal/app/domain/notification"
	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/app/metrics"
	"github.com/pglocator/pglocator/internal/app/storage"
	svcerrors "github.com/pglocator/pglocator/internal/errors"
	"github.com/pglocator/pglocator/internal/logging"
)

// RoomKeeper looks up rooms and moves their bed counts.
type RoomKeeper interface {
	Room(ctx context.Context, pgID, roomID string) (room.Room, error)
	TakeBed(ctx context.Context, roomID string) (room.Room, error)
	ReleaseBed(ctx context.Context, roomID string) (room.Room, error)
}

// Notifier delivers booking notifications.
type Notifier interface {
	Notify(ctx context.Context, n notification.Notification) error
}

const (
	errBookingNotFound = "Booking not found"
	errPGNotFound      = "PG not found"
	errNotOwner        = "Unauthorized"
)

// Service handles booking requests between students and owners.
type Service struct {
	bookings storage.BookingStore
	listings storage.ListingStore
	profiles storage.ProfileStore
	rooms    RoomKeeper
	notifier Notifier
	log      *logging.Logger
	now      func() time.Time
}

// New constructs a booking service. rooms and notifier may be nil.
func New(bookings storage.BookingStore, listings storage.ListingStore, profiles storage.ProfileStore, rooms RoomKeeper, notifier Notifier, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("bookings")
	}
	return &Service{
		bookings: bookings,
		listings: listings,
		profiles: profiles,
		rooms:    rooms,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// CreateInput is the body of POST /bookings.
type CreateInput struct {
	PGID        string   `json:"pgId"`
	RoomType    string   `json:"roomType"`
	RoomID      string   `json:"roomId,omitempty"`
	CheckIn     string   `json:"checkIn"`
	Duration    int      `json:"duration"`
	TotalAmount *float64 `json:"totalAmount,omitempty"`
}

// Create files a pending booking request and tells the owner.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (booking.Booking, error) {
	in.PGID = strings.TrimSpace(in.PGID)
	in.RoomType = strings.TrimSpace(in.RoomType)
	in.CheckIn = strings.TrimSpace(in.CheckIn)
	if in.PGID == "" || in.RoomType == "" || in.CheckIn == "" || in.Duration <= 0 {
		return booking.Booking{}, svcerrors.BadRequest("Missing required fields")
	}

	pg, err := s.listings.GetListing(ctx, in.PGID)
	if errors.Is(err, storage.ErrNotFound) {
		return booking.Booking{}, svcerrors.NotFound(errPGNotFound)
	}
	if err != nil {
		return booking.Booking{}, err
	}
	if in.RoomID != "" && s.rooms != nil {
		if _, err := s.rooms.Room(ctx, pg.ID, in.RoomID); err != nil {
			return booking.Booking{}, err
		}
	}

	b := booking.Booking{
		ID:        booking.NewID(),
		UserID:    userID,
		PGID:      pg.ID,
		OwnerID:   pg.OwnerID,
		RoomType:  in.RoomType,
		RoomID:    in.RoomID,
		CheckIn:   in.CheckIn,
		Duration:  in.Duration,
		Status:    booking.StatusPending,
		CreatedAt: s.now().UTC(),
	}
	snap := pg.Snapshot()
	b.PGSnapshot = &snap
	unit := pg.Price
	if rt, ok := pg.RoomTypeNamed(in.RoomType); ok {
		b.SelectedRoom = &rt
		unit = rt.Price
	}
	if in.TotalAmount != nil && *in.TotalAmount > 0 {
		b.TotalAmount = *in.TotalAmount
	} else {
		b.TotalAmount = unit * float64(in.Duration)
	}

	if err := s.bookings.CreateBooking(ctx, b); err != nil {
		return booking.Booking{}, err
	}
	metrics.RecordBookingTransition(string(booking.StatusPending))
	s.notify(ctx, pg.OwnerID, "New Booking Request", fmt.Sprintf("You have a new booking request for %s", pg.Name), b)
	s.log.WithContext(ctx).WithFields(map[string]interface{}{"booking_id": b.ID, "pg_id": b.PGID}).Info("booking requested")
	return b, nil
}

// ListForStudent returns the student's bookings, newest first, each with the
// best available description of its listing.
func (s *Service) ListForStudent(ctx context.Context, userID string) ([]booking.View, error) {
	list, err := s.bookings.ListUserBookings(ctx, userID)
	if err != nil {
		return nil, err
	}
	pgs, err := s.listingsByID(ctx, pgIDs(list))
	if err != nil {
		return nil, err
	}
	sortNewestFirst(list)
	out := make([]booking.View, 0, len(list))
	for _, b := range list {
		v := booking.View{Booking: b}
		pg, ok := pgs[b.PGID]
		switch {
		case ok:
			v.PG = pg
		case b.PGSnapshot != nil:
			v.PG = b.PGSnapshot
		default:
			v.PG = booking.MissingPGForStudent
		}
		if v.SelectedRoom == nil && ok {
			if rt, found := pg.RoomTypeNamed(b.RoomType); found {
				v.SelectedRoom = &rt
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// Cancel withdraws a pending or approved booking on behalf of its student and
// frees the room bed it held.
func (s *Service) Cancel(ctx context.Context, userID, id string) (booking.Booking, error) {
	current, err := s.bookings.GetBooking(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return booking.Booking{}, svcerrors.NotFound(errBookingNotFound)
	}
	if err != nil {
		return booking.Booking{}, err
	}
	if current.UserID != userID {
		return booking.Booking{}, svcerrors.Forbidden(errNotOwner)
	}
	if !current.Status.Holding() {
		return booking.Booking{}, svcerrors.Conflict(fmt.Sprintf("Booking is already %s", current.Status))
	}

	prev := current.Status
	updated, err := s.bookings.UpdateBooking(ctx, id, func(b *booking.Booking) error {
		if b.Status != prev {
			return storage.ErrConflict
		}
		now := s.now().UTC()
		b.Status = booking.StatusCancelled
		b.UpdatedAt = &now
		return nil
	})
	if errors.Is(err, storage.ErrConflict) {
		return booking.Booking{}, svcerrors.Conflict("Booking was changed, please retry")
	}
	if err != nil {
		return booking.Booking{}, err
	}
	if prev == booking.StatusApproved {
		s.releaseBed(ctx, updated)
	}
	metrics.RecordBookingTransition(string(booking.StatusCancelled))
	s.notify(ctx, updated.OwnerID, "Booking Cancelled", fmt.Sprintf("A booking for %s was cancelled by the student", s.pgName(ctx, updated)), updated)
	return updated, nil
}

// ListForOwner returns bookings of the owner's listings with listing and
// student details, newest first.
func (s *Service) ListForOwner(ctx context.Context, ownerID string) ([]booking.View, error) {
	var (
		all      []listing.Listing
		bookings []booking.Booking
		profiles []account.Profile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		all, err = s.listings.ListListings(gctx)
		return err
	})
	g.Go(func() (err error) {
		bookings, err = s.bookings.ListBookings(gctx)
		return err
	})
	g.Go(func() (err error) {
		profiles, err = s.profiles.ListProfiles(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	owned := make(map[string]listing.Listing)
	for _, l := range all {
		if l.OwnerID == ownerID {
			owned[l.ID] = l
		}
	}
	users := make(map[string]account.Profile, len(profiles))
	for _, p := range profiles {
		users[p.ID] = p
	}

	out := make([]booking.View, 0)
	for _, b := range bookings {
		pg, ok := owned[b.PGID]
		if !ok && !(b.OwnerID == ownerID && b.OwnerID != "") {
			continue
		}
		v := booking.View{Booking: b}
		switch {
		case ok:
			v.PG = pg
		case b.PGSnapshot != nil:
			v.PG = b.PGSnapshot
		default:
			v.PG = booking.MissingPGForOwner
		}
		if u, found := users[b.UserID]; found {
			v.User = u
		} else {
			v.User = booking.MissingUser
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Decide approves or declines a booking of one of the owner's listings.
func (s *Service) Decide(ctx context.Context, ownerID, id string, status booking.Status) (booking.Booking, error) {
	if status != booking.StatusApproved && status != booking.StatusDeclined {
		return booking.Booking{}, svcerrors.BadRequest("Invalid status")
	}
	current, err := s.bookings.GetBooking(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return booking.Booking{}, svcerrors.NotFound(errBookingNotFound)
	}
	if err != nil {
		return booking.Booking{}, err
	}

	pgOwner := current.OwnerID
	pg, err := s.listings.GetListing(ctx, current.PGID)
	switch {
	case err == nil:
		pgOwner = pg.OwnerID
	case !errors.Is(err, storage.ErrNotFound):
		return booking.Booking{}, err
	}
	if pgOwner != ownerID {
		s.log.LogSecurityEvent(ctx, "booking_decision_denied", map[string]interface{}{"booking_id": id})
		return booking.Booking{}, svcerrors.Forbidden(errNotOwner)
	}
	if current.Status == booking.StatusCancelled {
		return booking.Booking{}, svcerrors.Conflict("Booking has been cancelled")
	}
	if current.Status == status {
		return current, nil
	}

	prev := current.Status
	tookBed := false
	if status == booking.StatusApproved && current.RoomID != "" && s.rooms != nil {
		if _, err := s.rooms.TakeBed(ctx, current.RoomID); err != nil {
			return booking.Booking{}, err
		}
		tookBed = true
	}

	updated, err := s.bookings.UpdateBooking(ctx, id, func(b *booking.Booking) error {
		if b.Status != prev {
			return storage.ErrConflict
		}
		now := s.now().UTC()
		b.Status = status
		b.UpdatedAt = &now
		return nil
	})
	if err != nil {
		if tookBed {
			s.releaseBed(ctx, current)
		}
		if errors.Is(err, storage.ErrConflict) {
			return booking.Booking{}, svcerrors.Conflict("Booking was changed, please retry")
		}
		return booking.Booking{}, err
	}
	if status == booking.StatusDeclined && prev == booking.StatusApproved {
		s.releaseBed(ctx, updated)
	}
	metrics.RecordBookingTransition(string(status))

	name := s.pgName(ctx, updated)
	if status == booking.StatusApproved {
		s.notify(ctx, updated.UserID, "Congratulations! 🎉", fmt.Sprintf("Your booking is confirmed for %s", name), updated)
	} else {
		s.notify(ctx, updated.UserID, fmt.Sprintf("Booking %s", status), fmt.Sprintf("Your booking for %s has been %s", name, status), updated)
	}
	s.log.WithContext(ctx).WithFields(map[string]interface{}{"booking_id": id, "status": status}).Info("booking decided")
	return updated, nil
}

// BackfillResult summarises a backfill run.
type BackfillResult struct {
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// Backfill fills in selectedRoom and pgSnapshot on bookings written before
// those fields existed.
func (s *Service) Backfill(ctx context.Context) (BackfillResult, error) {
	start := time.Now()
	res := BackfillResult{Errors: []string{}}
	all, err := s.bookings.ListBookings(ctx)
	if err != nil {
		metrics.RecordBackfill(time.Since(start), false)
		return res, err
	}
	for _, b := range all {
		if b.ID == "" {
			continue
		}
		if b.SelectedRoom != nil && b.PGSnapshot != nil {
			res.Skipped++
			continue
		}
		pg, err := s.listings.GetListing(ctx, b.PGID)
		if errors.Is(err, storage.ErrNotFound) {
			res.Skipped++
			continue
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", b.ID, err))
			continue
		}
		_, err = s.bookings.UpdateBooking(ctx, b.ID, func(doc *booking.Booking) error {
			changed := false
			if doc.SelectedRoom == nil {
				if rt, ok := pg.RoomTypeNamed(doc.RoomType); ok {
					doc.SelectedRoom = &rt
					changed = true
				}
			}
			if doc.PGSnapshot == nil {
				snap := pg.Snapshot()
				doc.PGSnapshot = &snap
				changed = true
			}
			if !changed {
				return errBackfillUnchanged
			}
			return nil
		})
		if errors.Is(err, errBackfillUnchanged) {
			res.Skipped++
			continue
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", b.ID, err))
			continue
		}
		res.Updated++
	}
	metrics.RecordBackfill(time.Since(start), len(res.Errors) == 0)
	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"updated": res.Updated,
		"skipped": res.Skipped,
		"errors":  len(res.Errors),
	}).Info("booking backfill finished")
	return res, nil
}

// errBackfillUnchanged aborts a backfill write that would not change the booking.
var errBackfillUnchanged = errors.New("booking already backfilled")

func (s *Service) releaseBed(ctx context.Context, b booking.Booking) {
	if b.RoomID == "" || s.rooms == nil {
		return
	}
	if _, err := s.rooms.ReleaseBed(ctx, b.RoomID); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("room_id", b.RoomID).Warn("release bed")
	}
}

func (s *Service) pgName(ctx context.Context, b booking.Booking) string {
	if pg, err := s.listings.GetListing(ctx, b.PGID); err == nil {
		return pg.Name
	}
	if b.PGSnapshot != nil && b.PGSnapshot.Name != "" {
		return b.PGSnapshot.Name
	}
	return "your PG"
}

func (s *Service) notify(ctx context.Context, userID, title, message string, b booking.Booking) {
	if s.notifier == nil || userID == "" {
		return
	}
	err := s.notifier.Notify(ctx, notification.Notification{
		UserID:    userID,
		Type:      notification.TypeBooking,
		Title:     title,
		Message:   message,
		BookingID: b.ID,
		PGID:      b.PGID,
	})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("send booking notification")
	}
}

func (s *Service) listingsByID(ctx context.Context, ids []string) (map[string]listing.Listing, error) {
	out := make(map[string]listing.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	found, err := s.listings.GetListings(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, l := range found {
		out[l.ID] = l
	}
	return out, nil
}

func pgIDs(list []booking.Booking) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, b := range list {
		if _, ok := seen[b.PGID]; ok || b.PGID == "" {
			continue
		}
		seen[b.PGID] = struct{}{}
		out = append(out, b.PGID)
	}
	return out
}

func sortNewestFirst(list []booking.Booking) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
}

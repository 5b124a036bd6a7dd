package bookings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pglocator/pglocator/internal/app/domain/account"
	"github.com/pglocator/pglocator/internal/app/domain/booking"
	"github.com/pglocator/pglocator/internal/app/domain/listing"
	"github.com/pglocator/pglocator/internal/app/domain/notification"
	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/app/services/rooms"
	"github.com/pglocator/pglocator/internal/app/storage/kvstore"
	"github.com/pglocator/pglocator/internal/app/storage/memory"
	svcerrors "github.com/pglocator/pglocator/internal/errors"
	"github.com/pglocator/pglocator/internal/kv"
	"github.com/pglocator/pglocator/internal/logging"
)

type inbox struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (i *inbox) Notify(_ context.Context, n notification.Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sent = append(i.sent, n)
	return nil
}

func (i *inbox) last() notification.Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sent[len(i.sent)-1]
}

type fixture struct {
	svc   *Service
	docs  *kvstore.Store
	rooms *rooms.Service
	inbox *inbox
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	docs := kvstore.New(kv.NewMemory())
	mem := memory.New()
	roomSvc := rooms.New(mem, mem, docs, docs, nil, logging.Discard())
	box := &inbox{}

	require.NoError(t, docs.SaveListing(ctx, listing.Listing{
		ID: "pg-1", OwnerID: "owner-1", Name: "Green Nest", Price: 7000,
		Images:    []string{"a", "b", "c"},
		RoomTypes: []listing.RoomType{{Type: "Single", Price: 6000, Available: 2}},
		Verified:  true, Active: true,
	}))
	require.NoError(t, docs.SaveProfile(ctx, account.Profile{ID: "student-1", Name: "Riya", Email: "riya@example.com"}))

	return fixture{
		svc:   New(docs, docs, docs, roomSvc, box, logging.Discard()),
		docs:  docs,
		rooms: roomSvc,
		inbox: box,
	}
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "student-1", CreateInput{PGID: "pg-1"})
	assert.Equal(t, "Missing required fields", svcerrors.GetServiceError(err).Message)
	_, err = f.svc.Create(ctx, "student-1", CreateInput{PGID: "pg-x", RoomType: "single", CheckIn: "2026-07-01", Duration: 1})
	assert.Equal(t, errPGNotFound, svcerrors.GetServiceError(err).Message)

	b, err := f.svc.Create(ctx, "student-1", CreateInput{PGID: "pg-1", RoomType: "single", CheckIn: "2026-07-01", Duration: 3})
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, b.Status)
	assert.Equal(t, "owner-1", b.OwnerID)
	require.NotNil(t, b.SelectedRoom)
	assert.Equal(t, 18000.0, b.TotalAmount)
	require.NotNil(t, b.PGSnapshot)
	assert.Len(t, b.PGSnapshot.Images, 2)

	n := f.inbox.last()
	assert.Equal(t, "owner-1", n.UserID)
	assert.Equal(t, "New Booking Request", n.Title)
	assert.Equal(t, "You have a new booking request for Green Nest", n.Message)
	assert.Equal(t, b.ID, n.BookingID)

	total := 100.0
	b, err = f.svc.Create(ctx, "student-1", CreateInput{PGID: "pg-1", RoomType: "suite", CheckIn: "2026-07-01", Duration: 2, TotalAmount: &total})
	require.NoError(t, err)
	assert.Nil(t, b.SelectedRoom)
	assert.Equal(t, 100.0, b.TotalAmount)

	b, err = f.svc.Create(ctx, "student-1", CreateInput{PGID: "pg-1", RoomType: "suite", CheckIn: "2026-07-01", Duration: 2})
	require.NoError(t, err)
	assert.Equal(t, 14000.0, b.TotalAmount)
}

func TestStudentListFallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, f.docs.CreateBooking(ctx, booking.Booking{ID: "b-live", UserID: "student-1", PGID: "pg-1", RoomType: "single", CreatedAt: now.Add(-3 * time.Hour)}))
	require.NoError(t, f.docs.CreateBooking(ctx, booking.Booking{ID: "b-snap", UserID: "student-1", PGID: "pg-gone", PGSnapshot: &listing.Snapshot{ID: "pg-gone", Name: "Old PG"}, CreatedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, f.docs.CreateBooking(ctx, booking.Booking{ID: "b-none", UserID: "student-1", PGID: "pg-void", CreatedAt: now.Add(-time.Hour)}))

	views, err := f.svc.ListForStudent(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, views, 3)

	assert.Equal(t, "b-none", views[0].ID)
	assert.Equal(t, booking.MissingPGForStudent, views[0].PG)
	assert.Equal(t, "Old PG", views[1].PG.(*listing.Snapshot).Name)
	assert.Equal(t, "Green Nest", views[2].PG.(listing.Listing).Name)
	require.NotNil(t, views[2].SelectedRoom)
	assert.Equal(t, 6000.0, views[2].SelectedRoom.Price)
}

func TestOwnerListAndDecide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.rooms.Create(ctx, "owner-1", "pg-1", rooms.Input{RoomNumber: "101", Rent: 6000, BedsTotal: 1})
	require.NoError(t, err)

	first, err := f.svc.Create(ctx, "student-1", CreateInput{PGID: "pg-1", RoomType: "single", RoomID: r.ID, CheckIn: "2026-07-01", Duration: 1})
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, "student-2", CreateInput{PGID: "pg-1", RoomType: "single", RoomID: r.ID, CheckIn: "2026-07-01", Duration: 1})
	require.NoError(t, err)

	views, err := f.svc.ListForOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	byID := map[string]booking.View{}
	for _, v := range views {
		byID[v.ID] = v
	}
	assert.Equal(t, "Riya", byID[first.ID].User.(account.Profile).Name)
	assert.Equal(t, booking.MissingUser, byID[second.ID].User)

	others, err := f.svc.ListForOwner(ctx, "owner-2")
	require.NoError(t, err)
	assert.Empty(t, others)

	_, err = f.svc.Decide(ctx, "owner-2", first.ID, booking.StatusApproved)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeForbidden))
	_, err = f.svc.Decide(ctx, "owner-1", first.ID, "maybe")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeBadRequest))
	_, err = f.svc.Decide(ctx, "owner-1", "booking-missing", booking.StatusApproved)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))

	approved, err := f.svc.Decide(ctx, "owner-1", first.ID, booking.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusApproved, approved.Status)
	assert.Equal(t, "Congratulations! 🎉", f.inbox.last().Title)
	assert.Equal(t, "student-1", f.inbox.last().UserID)

	got, err := f.rooms.Room(ctx, "pg-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.BedsAvailable)
	assert.Equal(t, room.StatusBooked, got.Status)

	_, err = f.svc.Decide(ctx, "owner-1", second.ID, booking.StatusApproved)
	assert.Equal(t, "No beds available in this room", svcerrors.GetServiceError(err).Message)
	still, err := f.docs.GetBooking(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, still.Status)

	declined, err := f.svc.Decide(ctx, "owner-1", first.ID, booking.StatusDeclined)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusDeclined, declined.Status)
	assert.Equal(t, "Booking declined", f.inbox.last().Title)
	assert.Equal(t, "Your booking for Green Nest has been declined", f.inbox.last().Message)

	got, err = f.rooms.Room(ctx, "pg-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.BedsAvailable)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.rooms.Create(ctx, "owner-1", "pg-1", rooms.Input{RoomNumber: "101", Rent: 6000, BedsTotal: 1})
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, "student-1", CreateInput{PGID: "pg-1", RoomType: "single", RoomID: r.ID, CheckIn: "2026-07-01", Duration: 1})
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, "owner-1", b.ID, booking.StatusApproved)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "student-2", b.ID)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeForbidden))

	cancelled, err := f.svc.Cancel(ctx, "student-1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
	assert.Equal(t, "owner-1", f.inbox.last().UserID)

	got, err := f.rooms.Room(ctx, "pg-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.BedsAvailable)

	_, err = f.svc.Cancel(ctx, "student-1", b.ID)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConflict))
	_, err = f.svc.Decide(ctx, "owner-1", b.ID, booking.StatusApproved)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConflict))
}

func TestBackfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.docs.CreateBooking(ctx, booking.Booking{ID: "b1", UserID: "s", PGID: "pg-1", RoomType: "SINGLE"}))
	require.NoError(t, f.docs.CreateBooking(ctx, booking.Booking{ID: "b2", UserID: "s", PGID: "pg-gone"}))
	require.NoError(t, f.docs.CreateBooking(ctx, booking.Booking{ID: "b3", UserID: "s", PGID: "pg-1",
		SelectedRoom: &listing.RoomType{Type: "Single"}, PGSnapshot: &listing.Snapshot{ID: "pg-1"}}))
	require.NoError(t, f.docs.CreateBooking(ctx, booking.Booking{ID: "b4", UserID: "s", PGID: "pg-1", RoomType: "Penthouse",
		PGSnapshot: &listing.Snapshot{ID: "pg-1"}}))

	res, err := f.svc.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 3, res.Skipped)
	assert.Empty(t, res.Errors)

	res, err = f.svc.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 4, res.Skipped)

	b4, err := f.docs.GetBooking(ctx, "b4")
	require.NoError(t, err)
	assert.Nil(t, b4.SelectedRoom)

	b, err := f.docs.GetBooking(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, b.SelectedRoom)
	assert.Equal(t, "Single", b.SelectedRoom.Type)
	require.NotNil(t, b.PGSnapshot)
	assert.Equal(t, "Green Nest", b.PGSnapshot.Name)
}

func TestDecideAfterListingDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, "student-1", CreateInput{PGID: "pg-1", RoomType: "single", CheckIn: "2026-07-01", Duration: 1})
	require.NoError(t, err)
	require.NoError(t, f.docs.DeleteListing(ctx, "pg-1"))

	_, err = f.svc.Decide(ctx, "owner-2", b.ID, booking.StatusApproved)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeForbidden))

	declined, err := f.svc.Decide(ctx, "owner-1", b.ID, booking.StatusDeclined)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusDeclined, declined.Status)
}

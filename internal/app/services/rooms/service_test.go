package rooms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pglocator/pglocator/internal/app/domain/booking"
	"github.com/pglocator/pglocator/internal/app/domain/listing"
	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/app/realtime"
	"github.com/pglocator/pglocator/internal/app/storage/kvstore"
	"github.com/pglocator/pglocator/internal/app/storage/memory"
	svcerrors "github.com/pglocator/pglocator/internal/errors"
	"github.com/pglocator/pglocator/internal/kv"
	"github.com/pglocator/pglocator/internal/logging"
)

type changeLog struct{ changes []realtime.Change }

func (c *changeLog) Publish(ch realtime.Change) { c.changes = append(c.changes, ch) }

func setup(t *testing.T) (*Service, *kvstore.Store, *changeLog) {
	t.Helper()
	docs := kvstore.New(kv.NewMemory())
	rooms := memory.New()
	log := &changeLog{}
	require.NoError(t, docs.SaveListing(context.Background(), listing.Listing{ID: "pg-1", OwnerID: "owner-1"}))
	return New(rooms, rooms, docs, docs, log, logging.Discard()), docs, log
}

func intPtr(v int) *int { return &v }

func TestCreateRoom(t *testing.T) {
	svc, _, changes := setup(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "owner-2", "pg-1", Input{RoomNumber: "101", Rent: 5000, BedsTotal: 2})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeForbidden))
	_, err = svc.Create(ctx, "owner-1", "pg-x", Input{RoomNumber: "101", Rent: 5000, BedsTotal: 2})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))

	_, err = svc.Create(ctx, "owner-1", "pg-1", Input{RoomNumber: "", Rent: 0, BedsTotal: 0})
	se := svcerrors.GetServiceError(err)
	require.NotNil(t, se)
	fields := se.Details["fields"].(map[string]string)
	assert.Contains(t, fields, "room_number")
	assert.Contains(t, fields, "rent")
	assert.Contains(t, fields, "beds_total")

	_, err = svc.Create(ctx, "owner-1", "pg-1", Input{RoomNumber: "101", Rent: 5000, BedsTotal: 2, BedsAvailable: intPtr(3)})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeValidation))

	r, err := svc.Create(ctx, "owner-1", "pg-1", Input{RoomNumber: "101", Rent: 5000, BedsTotal: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, r.BedsAvailable)
	assert.Equal(t, room.StatusAvailable, r.Status)
	assert.Equal(t, room.TypeSingle, r.Type)
	assert.Equal(t, room.BathroomCommon, r.BathroomType)

	_, err = svc.Create(ctx, "owner-1", "pg-1", Input{RoomNumber: "101", Rent: 5000, BedsTotal: 1})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConflict))

	require.Len(t, changes.changes, 1)
	assert.Equal(t, realtime.EventInsert, changes.changes[0].Event)
	assert.Equal(t, "pg-1", changes.changes[0].PGID)
}

func TestUpdateToggleAndBeds(t *testing.T) {
	svc, _, changes := setup(t)
	ctx := context.Background()
	r, err := svc.Create(ctx, "owner-1", "pg-1", Input{RoomNumber: "101", Rent: 5000, BedsTotal: 2})
	require.NoError(t, err)

	rent := 5500.0
	total := 1
	updated, err := svc.Update(ctx, "owner-1", "pg-1", r.ID, Patch{Rent: &rent, BedsTotal: &total})
	require.NoError(t, err)
	assert.Equal(t, 5500.0, updated.Rent)
	assert.Equal(t, 1, updated.BedsAvailable)

	_, err = svc.Update(ctx, "owner-1", "pg-1", "missing", Patch{Rent: &rent})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))

	toggled, err := svc.Toggle(ctx, "owner-1", "pg-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusBooked, toggled.Status)
	toggled, err = svc.Toggle(ctx, "owner-1", "pg-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusAvailable, toggled.Status)

	taken, err := svc.TakeBed(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, taken.BedsAvailable)
	assert.Equal(t, room.StatusBooked, taken.Status)
	_, err = svc.TakeBed(ctx, r.ID)
	assert.Equal(t, "No beds available in this room", svcerrors.GetServiceError(err).Message)

	released, err := svc.ReleaseBed(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, released.BedsAvailable)
	assert.Equal(t, room.StatusAvailable, released.Status)

	for _, c := range changes.changes[1:] {
		assert.Equal(t, realtime.EventUpdate, c.Event)
	}
}

func TestDeleteRefusesActiveBookings(t *testing.T) {
	svc, docs, changes := setup(t)
	ctx := context.Background()
	r, err := svc.Create(ctx, "owner-1", "pg-1", Input{RoomNumber: "101", Rent: 5000, BedsTotal: 2})
	require.NoError(t, err)

	require.NoError(t, docs.CreateBooking(ctx, booking.Booking{ID: "b1", UserID: "s1", PGID: "pg-1", RoomID: r.ID, Status: booking.StatusPending}))
	require.NoError(t, docs.CreateBooking(ctx, booking.Booking{ID: "b2", UserID: "s1", PGID: "pg-1", RoomID: r.ID, Status: booking.StatusDeclined}))

	err = svc.Delete(ctx, "owner-1", "pg-1", r.ID)
	require.Error(t, err)
	assert.Equal(t, "Cannot delete room with 1 active booking(s). Please cancel bookings first.", svcerrors.GetServiceError(err).Message)

	_, err = docs.UpdateBooking(ctx, "b1", func(b *booking.Booking) error {
		b.Status = booking.StatusCancelled
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "owner-1", "pg-1", r.ID))
	assert.Equal(t, realtime.EventDelete, changes.changes[len(changes.changes)-1].Event)

	rooms, err := svc.List(ctx, "pg-1")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestDeleteForListing(t *testing.T) {
	svc, _, changes := setup(t)
	ctx := context.Background()
	for _, n := range []string{"101", "102"} {
		_, err := svc.Create(ctx, "owner-1", "pg-1", Input{RoomNumber: n, Rent: 5000, BedsTotal: 1})
		require.NoError(t, err)
	}
	n, err := svc.DeleteForListing(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, changes.changes, 4)
}

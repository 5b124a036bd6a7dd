package listings

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pglocator/pglocator/internal/app/domain/account"
	"github.com/pglocator/pglocator/internal/app/domain/listing"
	"github.com/pglocator/pglocator/internal/app/domain/notification"
	"github.com/pglocator/pglocator/internal/app/storage/kvstore"
	svcerrors "github.com/pglocator/pglocator/internal/errors"
	"github.com/pglocator/pglocator/internal/kv"
	"github.com/pglocator/pglocator/internal/logging"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

type roomCleaner struct{ deleted []string }

func (c *roomCleaner) DeleteForListing(_ context.Context, pgID string) (int, error) {
	c.deleted = append(c.deleted, pgID)
	return 2, nil
}

func sampleInput() Input {
	return Input{
		Name:      "Green Nest",
		Location:  "Jalukbari",
		Gender:    listing.GenderBoth,
		Images:    []string{"https://example.com/a.jpg"},
		Amenities: []string{"WiFi", "Laundry"},
		RoomTypes: []listing.RoomType{{Type: "Single", Price: 6000, Available: 2}},
	}
}

func newService() (*Service, *recordingNotifier, *roomCleaner) {
	n := &recordingNotifier{}
	c := &roomCleaner{}
	return New(kvstore.New(kv.NewMemory()), c, n, logging.Discard()), n, c
}

func TestCreateStartsPending(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	l, err := svc.Create(ctx, "owner-1", sampleInput())
	require.NoError(t, err)
	assert.Contains(t, l.ID, "pg-")
	assert.Equal(t, "owner-1", l.OwnerID)
	assert.Equal(t, 6000.0, l.Price)
	assert.Equal(t, listing.StatusPending, l.VerificationStatus)
	assert.False(t, l.Verified)
	assert.False(t, l.Active)

	public, err := svc.ListPublic(ctx, listing.Filter{})
	require.NoError(t, err)
	assert.Empty(t, public)

	mine, err := svc.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService()
	in := sampleInput()
	in.Name = "  "
	in.Gender = "any"
	in.Images = []string{"1", "2", "3", "4", "5", "6"}

	_, err := svc.Create(context.Background(), "owner-1", in)
	se := svcerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, svcerrors.CodeValidation, se.Code)
	fields := se.Details["fields"].(map[string]string)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "gender")
	assert.Contains(t, fields, "images")

	in = sampleInput()
	in.RoomTypes = nil
	_, err = svc.Create(context.Background(), "owner-1", in)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeValidation))
}

func TestVisibilityRules(t *testing.T) {
	svc, notes, _ := newService()
	ctx := context.Background()
	l, err := svc.Create(ctx, "owner-1", sampleInput())
	require.NoError(t, err)

	_, err = svc.Get(ctx, l.ID, Viewer{})
	assert.Equal(t, errNotPublic, svcerrors.GetServiceError(err).Message)
	_, err = svc.Get(ctx, l.ID, Viewer{UserID: "owner-1", Role: account.RoleOwner})
	assert.NoError(t, err)
	_, err = svc.Get(ctx, l.ID, Viewer{UserID: "a", Role: account.RoleAdmin})
	assert.NoError(t, err)
	_, err = svc.Get(ctx, "pg-missing", Viewer{})
	assert.Equal(t, errNotFound, svcerrors.GetServiceError(err).Message)

	verified, err := svc.Verify(ctx, "admin-1", l.ID)
	require.NoError(t, err)
	assert.True(t, verified.Public())
	assert.Equal(t, "admin-1", verified.VerifiedBy)
	require.Len(t, notes.sent, 1)
	assert.Equal(t, "owner-1", notes.sent[0].UserID)
	assert.Equal(t, notification.TypeVerification, notes.sent[0].Type)

	public, err := svc.ListPublic(ctx, listing.Filter{Amenities: []string{"wifi"}})
	require.NoError(t, err)
	assert.Len(t, public, 1)
	public, err = svc.ListPublic(ctx, listing.Filter{MaxPrice: 5000})
	require.NoError(t, err)
	assert.Empty(t, public)

	rejected, err := svc.Reject(ctx, "admin-1", l.ID, "")
	require.NoError(t, err)
	assert.Equal(t, defaultRejected, rejected.RejectionReason)
	assert.False(t, rejected.Active)
	assert.Equal(t, listing.StatusRejected, rejected.VerificationStatus)

	_, err = svc.Verify(ctx, "admin-1", "pg-missing")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))
}

func TestUpdateKeepsProtectedFields(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()
	l, err := svc.Create(ctx, "owner-1", sampleInput())
	require.NoError(t, err)

	name := "Greener Nest"
	updated, err := svc.Update(ctx, "owner-1", l.ID, Patch{Name: &name, Amenities: []string{"AC"}})
	require.NoError(t, err)
	assert.Equal(t, "Greener Nest", updated.Name)
	assert.Equal(t, []string{"AC"}, updated.Amenities)
	assert.Equal(t, "Jalukbari", updated.Location)
	assert.False(t, updated.Verified)
	assert.Equal(t, listing.StatusPending, updated.VerificationStatus)
	assert.NotNil(t, updated.UpdatedAt)

	_, err = svc.Update(ctx, "owner-2", l.ID, Patch{Name: &name})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeForbidden))
	_, err = svc.Update(ctx, "owner-1", "pg-missing", Patch{Name: &name})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))
}

func TestDeleteCascadesRooms(t *testing.T) {
	svc, _, cleaner := newService()
	ctx := context.Background()
	l, err := svc.Create(ctx, "owner-1", sampleInput())
	require.NoError(t, err)

	assert.True(t, svcerrors.IsCode(svc.Delete(ctx, "owner-2", l.ID), svcerrors.CodeForbidden))
	require.NoError(t, svc.Delete(ctx, "owner-1", l.ID))
	assert.Equal(t, []string{l.ID}, cleaner.deleted)
	assert.True(t, svcerrors.IsCode(svc.Delete(ctx, "owner-1", l.ID), svcerrors.CodeNotFound))
}

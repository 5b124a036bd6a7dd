package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/logging"
	"github.com/pglocator/pglocator/supabase/client"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHubDeliversPerListing(t *testing.T) {
	hub := NewHub(4, logging.Discard())
	a, cancelA := hub.Subscribe("pg-1")
	b, cancelB := hub.Subscribe("pg-2")
	defer cancelB()

	hub.Publish(Change{Event: EventInsert, PGID: "pg-1", New: &room.Room{ID: "r1", PGID: "pg-1"}})

	select {
	case c := <-a:
		assert.Equal(t, "r1", c.New.ID)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
	select {
	case c := <-b:
		t.Fatalf("unexpected change %+v", c)
	default:
	}

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("pg-1"))
	assert.Equal(t, 1, hub.Subscribers("pg-2"))
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1, logging.Discard())
	ch, cancel := hub.Subscribe("pg-1")
	defer cancel()

	hub.Publish(Change{Event: EventUpdate, PGID: "pg-1"})
	hub.Publish(Change{Event: EventUpdate, PGID: "pg-1"})

	assert.Equal(t, 0, hub.Subscribers("pg-1"))
	_, ok := <-ch
	assert.True(t, ok)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestHubClose(t *testing.T) {
	hub := NewHub(0, logging.Discard())
	ch, _ := hub.Subscribe("pg-1")
	hub.Close()
	_, ok := <-ch
	assert.False(t, ok)

	late, _ := hub.Subscribe("pg-1")
	_, ok = <-late
	assert.False(t, ok)
}

type fakeSource struct {
	handler client.ChangeHandler
	left    string
	closed  bool
	cfg     client.PostgresChangesConfig
}

func (f *fakeSource) Connect(context.Context) error { return nil }

func (f *fakeSource) SubscribeToPostgresChanges(_ context.Context, cfg client.PostgresChangesConfig, h client.ChangeHandler) (string, error) {
	f.cfg = cfg
	f.handler = h
	return "realtime:public:rooms", nil
}

func (f *fakeSource) Unsubscribe(topic string) error {
	f.left = topic
	return nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func TestBridgeRepublishes(t *testing.T) {
	hub := NewHub(4, logging.Discard())
	src := &fakeSource{}
	bridge := NewBridge(src, hub, logging.Discard())
	require.NoError(t, bridge.Start(context.Background()))
	assert.Equal(t, "rooms", src.cfg.Table)

	ch, cancel := hub.Subscribe("pg-9")
	defer cancel()

	rec, _ := json.Marshal(room.Room{ID: "r1", PGID: "pg-9", RoomNumber: "101"})
	src.handler(client.ChangeEvent{Type: "DELETE", Table: "rooms", OldRecord: rec})
	src.handler(client.ChangeEvent{Type: "INSERT", Table: "bookings", Record: rec})

	c := <-ch
	assert.Equal(t, EventDelete, c.Event)
	require.NotNil(t, c.Old)
	assert.Equal(t, "101", c.Old.RoomNumber)
	assert.Nil(t, c.New)
	assert.Len(t, ch, 0)

	require.NoError(t, bridge.Stop(context.Background()))
	assert.Equal(t, "realtime:public:rooms", src.left)
	assert.True(t, src.closed)
}

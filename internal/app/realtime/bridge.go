package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/logging"
	"github.com/pglocator/pglocator/supabase/client"
)

// ChangeSource is the part of the Supabase realtime client the bridge uses.
type ChangeSource interface {
	Connect(ctx context.Context) error
	SubscribeToPostgresChanges(ctx context.Context, cfg client.PostgresChangesConfig, handler client.ChangeHandler) (string, error)
	Unsubscribe(topic string) error
	Close() error
}

// Bridge republishes rooms table changes seen by Supabase Realtime into the
// hub, so rooms edited outside this service still reach live subscribers.
type Bridge struct {
	source ChangeSource
	hub    *Hub
	log    *logging.Logger

	mu    sync.Mutex
	topic string
}

func NewBridge(source ChangeSource, hub *Hub, log *logging.Logger) *Bridge {
	if log == nil {
		log = logging.NewDefault("realtime-bridge")
	}
	return &Bridge{source: source, hub: hub, log: log}
}

func (b *Bridge) Name() string { return "realtime-bridge" }

func (b *Bridge) Start(ctx context.Context) error {
	if err := b.source.Connect(ctx); err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}
	topic, err := b.source.SubscribeToPostgresChanges(ctx, client.PostgresChangesConfig{
		Event:  "*",
		Schema: "public",
		Table:  "rooms",
	}, b.handle)
	if err != nil {
		_ = b.source.Close()
		return fmt.Errorf("subscribe rooms: %w", err)
	}
	b.mu.Lock()
	b.topic = topic
	b.mu.Unlock()
	b.log.WithField("topic", topic).Info("realtime bridge subscribed")
	return nil
}

func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	topic := b.topic
	b.topic = ""
	b.mu.Unlock()
	if topic != "" {
		if err := b.source.Unsubscribe(topic); err != nil {
			b.log.WithError(err).Warn("leave realtime channel")
		}
	}
	return b.source.Close()
}

func (b *Bridge) handle(ev client.ChangeEvent) {
	change, ok := toChange(ev)
	if !ok {
		b.log.WithField("type", ev.Type).Debug("ignored realtime event")
		return
	}
	b.hub.Publish(change)
}

func toChange(ev client.ChangeEvent) (Change, bool) {
	if ev.Table != "rooms" {
		return Change{}, false
	}
	c := Change{Event: Event(ev.Type)}
	decode := func(raw json.RawMessage) *room.Room {
		if len(raw) == 0 {
			return nil
		}
		var r room.Room
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil
		}
		return &r
	}
	c.New = decode(ev.Record)
	c.Old = decode(ev.OldRecord)
	switch {
	case c.New != nil && c.New.PGID != "":
		c.PGID = c.New.PGID
	case c.Old != nil && c.Old.PGID != "":
		c.PGID = c.Old.PGID
	default:
		return Change{}, false
	}
	switch c.Event {
	case EventInsert, EventUpdate, EventDelete:
		return c, true
	}
	return Change{}, false
}

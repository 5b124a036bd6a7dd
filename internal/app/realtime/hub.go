// Package realtime fans room changes out to live subscribers of a listing.
package realtime

import (
	"sync"

	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/app/metrics"
	"github.com/pglocator/pglocator/internal/logging"
)

// Event is the kind of row change.
type Event string

const (
	EventInsert Event = "INSERT"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
)

// Change is one room change of a listing.
type Change struct {
	Event Event      `json:"event"`
	PGID  string     `json:"pg_id"`
	New   *room.Room `json:"new,omitempty"`
	Old   *room.Room `json:"old,omitempty"`
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

type subscriber struct {
	ch chan Change
}

// Hub delivers changes to the subscribers of each listing. Publish never
// blocks: a subscriber whose queue is full is disconnected.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	closed bool
	log    *logging.Logger
}

// NewHub creates a hub. A non-positive buffer uses DefaultBuffer.
func NewHub(buffer int, log *logging.Logger) *Hub {
	if log == nil {
		log = logging.NewDefault("realtime")
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), buffer: buffer, log: log}
}

// Subscribe registers for changes of pgID. The channel is closed when the
// returned cancel func runs, when the subscriber falls behind, or when the
// hub closes. cancel is safe to call more than once.
func (h *Hub) Subscribe(pgID string) (<-chan Change, func()) {
	sub := &subscriber{ch: make(chan Change, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	set, ok := h.subs[pgID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[pgID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.SubscriberJoined()

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.removeLocked(pgID, sub)
	}
}

func (h *Hub) removeLocked(pgID string, sub *subscriber) bool {
	set, ok := h.subs[pgID]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, pgID)
	}
	close(sub.ch)
	metrics.SubscriberLeft()
	return true
}

// Publish delivers c to the listing's subscribers.
func (h *Hub) Publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[c.PGID] {
		select {
		case sub.ch <- c:
		default:
			h.removeLocked(c.PGID, sub)
			metrics.SubscriberDropped()
			h.log.WithField("pg_id", c.PGID).Warn("dropped slow room feed subscriber")
		}
	}
}

// Subscribers returns the number of live subscribers of pgID.
func (h *Hub) Subscribers(pgID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[pgID])
}

// Close disconnects every subscriber. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for pgID, set := range h.subs {
		for sub := range set {
			h.removeLocked(pgID, sub)
		}
	}
}

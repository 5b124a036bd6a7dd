package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/app/realtime"
	"github.com/pglocator/pglocator/internal/app/services/rooms"
)

const (
	liveWriteWait = 10 * time.Second
	liveReadLimit = 4 << 10
)

// liveMessage is one frame of the room feed.
type liveMessage struct {
	Type  string         `json:"type"`
	PGID  string         `json:"pg_id"`
	Rooms []room.Room    `json:"rooms,omitempty"`
	Event realtime.Event `json:"event,omitempty"`
	New   *room.Room     `json:"new,omitempty"`
	Old   *room.Room     `json:"old,omitempty"`
}

func (h *handler) listRooms(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Rooms.List(r.Context(), pathVar(r, "pgId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) listAmenities(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Rooms.Amenities(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var in rooms.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	rm, err := h.app.Rooms.Create(r.Context(), caller(r).ID, pathVar(r, "pgId"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rm)
}

func (h *handler) updateRoom(w http.ResponseWriter, r *http.Request) {
	var in rooms.Patch
	if !decodeJSON(w, r, &in) {
		return
	}
	rm, err := h.app.Rooms.Update(r.Context(), caller(r).ID, pathVar(r, "pgId"), pathVar(r, "roomId"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

func (h *handler) toggleRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := h.app.Rooms.Toggle(r.Context(), caller(r).ID, pathVar(r, "pgId"), pathVar(r, "roomId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

func (h *handler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Rooms.Delete(r.Context(), caller(r).ID, pathVar(r, "pgId"), pathVar(r, "roomId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("Room deleted successfully"))
}

func (h *handler) upgrader() *websocket.Upgrader {
	allowed := h.opts.AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) {
					return true
				}
			}
			return false
		},
	}
}

// liveRooms streams the room list of a listing: one snapshot frame, then
// one frame per change until either side goes away.
func (h *handler) liveRooms(w http.ResponseWriter, r *http.Request) {
	pgID := pathVar(r, "pgId")

	changes, cancel := h.app.Hub.Subscribe(pgID)
	defer cancel()

	snapshot, err := h.app.Rooms.List(r.Context(), pgID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Debug("room feed upgrade failed")
		return
	}
	defer conn.Close()
	log := h.log.WithContext(r.Context()).WithField("pg_id", pgID)

	if snapshot == nil {
		snapshot = []room.Room{}
	}
	if err := h.writeFrame(conn, liveMessage{Type: "snapshot", PGID: pgID, Rooms: snapshot}); err != nil {
		return
	}

	// The read pump only notices the client closing; inbound frames are ignored.
	gone := make(chan struct{})
	conn.SetReadLimit(liveReadLimit)
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.opts.LivePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case c, ok := <-changes:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"),
					time.Now().Add(liveWriteWait))
				log.Debug("room feed closed by hub")
				return
			}
			frame := liveMessage{Type: "change", PGID: c.PGID, Event: c.Event, New: c.New, Old: c.Old}
			if err := h.writeFrame(conn, frame); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *handler) writeFrame(conn *websocket.Conn, msg liveMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return conn.WriteJSON(msg)
}

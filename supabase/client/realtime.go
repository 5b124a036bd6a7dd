package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const heartbeatInterval = 30 * time.Second

// ErrNotConnected is returned when subscribing before Connect.
var ErrNotConnected = errors.New("realtime client not connected")

// ChangeEvent is one row change delivered by Realtime.
type ChangeEvent struct {
	Type      string          `json:"type"` // INSERT, UPDATE or DELETE
	Schema    string          `json:"schema"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

// ChangeHandler receives row changes. It runs on the read goroutine and
// must not block.
type ChangeHandler func(ChangeEvent)

// PostgresChangesConfig selects the rows to listen to.
type PostgresChangesConfig struct {
	Event  string // INSERT, UPDATE, DELETE or *
	Schema string
	Table  string
	Filter string // e.g. "pg_id=eq.42"
}

type subscription struct {
	topic   string
	cfg     PostgresChangesConfig
	handler ChangeHandler
}

// RealtimeClient speaks the Phoenix channel protocol used by Supabase Realtime.
type RealtimeClient struct {
	url string

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*subscription
	ref     int
	done    chan struct{}
	wg      sync.WaitGroup

	heartbeat time.Duration
}

// NewRealtimeClient builds a client for the project at supabaseURL.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := strings.TrimSuffix(supabaseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	wsURL += "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:       wsURL,
		subs:      make(map[string]*subscription),
		heartbeat: heartbeatInterval,
	}
}

// Connect dials the websocket and starts the read and heartbeat loops.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})
	r.wg.Add(2)
	go r.readLoop(conn, r.done)
	go r.heartbeatLoop(r.done)
	return nil
}

// Close leaves every channel, closes the socket and waits for the loops.
func (r *RealtimeClient) Close() error {
	r.mu.Lock()
	conn := r.conn
	if conn == nil {
		r.mu.Unlock()
		return nil
	}
	close(r.done)
	r.conn = nil
	r.mu.Unlock()

	r.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	r.writeMu.Unlock()
	err := conn.Close()
	r.wg.Wait()
	return err
}

// SubscribeToPostgresChanges joins a channel for the given table changes.
func (r *RealtimeClient) SubscribeToPostgresChanges(ctx context.Context, cfg PostgresChangesConfig, handler ChangeHandler) (string, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = "*"
	}
	topic := fmt.Sprintf("realtime:%s:%s", cfg.Schema, cfg.Table)
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}

	r.mu.Lock()
	if r.conn == nil {
		r.mu.Unlock()
		return "", ErrNotConnected
	}
	r.subs[topic] = &subscription{topic: topic, cfg: cfg, handler: handler}
	ref := r.nextRefLocked()
	r.mu.Unlock()

	change := map[string]any{"event": cfg.Event, "schema": cfg.Schema, "table": cfg.Table}
	if cfg.Filter != "" {
		change["filter"] = cfg.Filter
	}
	join := map[string]any{
		"topic": topic,
		"event": "phx_join",
		"payload": map[string]any{
			"config": map[string]any{"postgres_changes": []any{change}},
		},
		"ref":      ref,
		"join_ref": ref,
	}
	if err := r.send(join); err != nil {
		return "", fmt.Errorf("send join: %w", err)
	}
	return topic, nil
}

// Unsubscribe leaves a channel.
func (r *RealtimeClient) Unsubscribe(topic string) error {
	r.mu.Lock()
	if _, ok := r.subs[topic]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.subs, topic)
	ref := r.nextRefLocked()
	r.mu.Unlock()

	return r.send(map[string]any{"topic": topic, "event": "phx_leave", "payload": map[string]any{}, "ref": ref})
}

func (r *RealtimeClient) nextRefLocked() string {
	r.ref++
	return strconv.Itoa(r.ref)
}

func (r *RealtimeClient) send(msg any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (r *RealtimeClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer r.wg.Done()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case <-done:
			return
		default:
		}
		r.dispatch(message)
	}
}

// dispatch routes a frame to its subscription. Both the current
// "postgres_changes" envelope and the older per-event envelope are accepted.
func (r *RealtimeClient) dispatch(message []byte) {
	if !gjson.ValidBytes(message) {
		return
	}
	msg := gjson.ParseBytes(message)
	topic := msg.Get("topic").String()

	r.mu.Lock()
	sub := r.subs[topic]
	r.mu.Unlock()
	if sub == nil {
		return
	}

	var data gjson.Result
	switch event := msg.Get("event").String(); event {
	case "postgres_changes":
		data = msg.Get("payload.data")
	case "INSERT", "UPDATE", "DELETE":
		data = msg.Get("payload")
	default:
		return
	}

	ev, ok := ParseChangeEvent(data.Raw)
	if !ok {
		return
	}
	if sub.cfg.Event != "*" && !strings.EqualFold(sub.cfg.Event, ev.Type) {
		return
	}
	sub.handler(ev)
}

// ParseChangeEvent decodes the change body of a Realtime frame.
func ParseChangeEvent(raw string) (ChangeEvent, bool) {
	if raw == "" || !gjson.Valid(raw) {
		return ChangeEvent{}, false
	}
	data := gjson.Parse(raw)
	ev := ChangeEvent{
		Type:   strings.ToUpper(data.Get("type").String()),
		Schema: data.Get("schema").String(),
		Table:  data.Get("table").String(),
	}
	switch ev.Type {
	case "INSERT", "UPDATE", "DELETE":
	default:
		return ChangeEvent{}, false
	}
	if rec := data.Get("record"); rec.IsObject() {
		ev.Record = json.RawMessage(rec.Raw)
	}
	if old := data.Get("old_record"); old.IsObject() {
		ev.OldRecord = json.RawMessage(old.Raw)
	}
	return ev, true
}

func (r *RealtimeClient) heartbeatLoop(done chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			ref := r.nextRefLocked()
			r.mu.Unlock()
			_ = r.send(map[string]any{"topic": "phoenix", "event": "heartbeat", "payload": map[string]any{}, "ref": ref})
		}
	}
}

package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL + "/", APIKey: "service-key"})
	require.NoError(t, err)
	return c
}

func TestNewRequiresURLAndKey(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://x"})
	assert.Error(t, err)
}

func TestSelectBuildsPostgRESTQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rooms", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "*", q.Get("select"))
		assert.Equal(t, "eq.pg-1", q.Get("pg_id"))
		assert.Equal(t, "room_number.asc", q.Get("order"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":"r1"}]`))
	})

	resp, err := c.From("rooms").Select("*").Eq("pg_id", "pg-1").Order("room_number", true).Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	var rows []map[string]string
	require.NoError(t, resp.JSON(&rows))
	assert.Equal(t, "r1", rows[0]["id"])
}

func TestUpsertSendsPreferAndConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.URL.Query().Get("on_conflict"))
		assert.Contains(t, r.Header.Get("Prefer"), "resolution=merge-duplicates")
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"key":"pg:1","value":{"a":1}}`, string(body))
		w.WriteHeader(http.StatusCreated)
	})

	resp, err := c.From("kv_store").OnConflict("key").Upsert(context.Background(), map[string]any{
		"key":   "pg:1",
		"value": json.RawMessage(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestInFilterQuotesValues(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `in.("a","b,c")`, r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := c.From("kv_store").In("key", []string{"a", "b,c"}).Execute(context.Background())
	require.NoError(t, err)
}

func TestResponseErrParsesMessageShapes(t *testing.T) {
	cases := map[string]string{
		`{"msg":"User already registered","error_code":"email_exists"}`: "User already registered",
		`{"message":"duplicate key","code":"23505"}`:                    "duplicate key",
		`{"error":"invalid_grant","error_description":"Invalid login"}`: "Invalid login",
		`not json`: "Bad Request",
	}
	for body, want := range cases {
		err := (&Response{StatusCode: http.StatusBadRequest, Body: []byte(body)}).Err()
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr, body)
		assert.Equal(t, want, apiErr.Message, body)
	}
	assert.NoError(t, (&Response{StatusCode: http.StatusOK}).Err())
}

func TestAdminListUsersPages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/admin/users", r.URL.Path)
		_, _ = w.Write([]byte(`{"users":[{"id":"u1","email":"a@example.com","user_metadata":{"role":"owner"}}],"aud":"authenticated"}`))
	})

	users, err := c.Auth().AdminListAllUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "owner", users[0].UserMetadata["role"])
}

func TestAdminCreateUserError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"email_confirm":true`)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":422,"error_code":"email_exists","msg":"A user with this email address has already been registered"}`))
	})

	_, err := c.Auth().AdminCreateUser(context.Background(), AdminUserAttributes{
		Email: "a@example.com", Password: "secret", EmailConfirm: true,
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "email_exists", apiErr.Code)
}

func TestGetUserUsesAccessToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"u1","email":"s@example.com"}`))
	})
	user, err := c.Auth().GetUser(context.Background(), "user-token")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestParseChangeEvent(t *testing.T) {
	ev, ok := ParseChangeEvent(`{"type":"update","schema":"public","table":"rooms","record":{"id":"r1"},"old_record":{"id":"r1"}}`)
	require.True(t, ok)
	assert.Equal(t, "UPDATE", ev.Type)
	assert.JSONEq(t, `{"id":"r1"}`, string(ev.Record))

	_, ok = ParseChangeEvent(`{"type":"TRUNCATE"}`)
	assert.False(t, ok)
	_, ok = ParseChangeEvent("")
	assert.False(t, ok)
}

func TestRealtimeDeliversPostgresChanges(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/realtime/v1/websocket"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join map[string]any
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{
			"topic": join["topic"],
			"event": "postgres_changes",
			"payload": map[string]any{
				"data": map[string]any{
					"type":   "INSERT",
					"schema": "public",
					"table":  "rooms",
					"record": map[string]any{"id": "r1", "pg_id": "pg-1"},
				},
			},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rt := NewRealtimeClient(srv.URL, "anon")
	require.NoError(t, rt.Connect(context.Background()))

	var (
		mu  sync.Mutex
		got []ChangeEvent
	)
	received := make(chan struct{}, 1)
	topic, err := rt.SubscribeToPostgresChanges(context.Background(), PostgresChangesConfig{Table: "rooms"}, func(ev ChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		received <- struct{}{}
	})
	require.NoError(t, err)
	assert.Equal(t, "realtime:public:rooms", topic)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}

	require.NoError(t, rt.Close())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "INSERT", got[0].Type)
}

func TestSubscribeBeforeConnect(t *testing.T) {
	rt := NewRealtimeClient("https://demo.supabase.co", "anon")
	_, err := rt.SubscribeToPostgresChanges(context.Background(), PostgresChangesConfig{Table: "rooms"}, func(ChangeEvent) {})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, strings.HasPrefix(rt.url, "wss://demo.supabase.co/realtime/v1/websocket"))
}

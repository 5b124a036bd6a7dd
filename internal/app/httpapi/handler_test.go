package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	app "github.com/pglocator/pglocator/internal/app"
	"github.com/pglocator/pglocator/internal/identity"
	"github.com/pglocator/pglocator/internal/kv"
	"github.com/pglocator/pglocator/internal/logging"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	t       *testing.T
	app     *app.Application
	handler http.Handler
	audit   *bytes.Buffer
	base    string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	backend := kv.NewMemory()
	idp := identity.NewLocal(backend, testSecret, time.Hour, identity.WithBcryptCost(bcrypt.MinCost))
	code, err := bcrypt.GenerateFromPassword([]byte("invite-me"), bcrypt.MinCost)
	require.NoError(t, err)

	application, err := app.New(idp, app.DocumentStores(backend), app.Options{AdminInviteCode: string(code)}, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	audit := &bytes.Buffer{}
	opts.AuditOutput = audit
	opts.Version = "test"
	return &testEnv{
		t:       t,
		app:     application,
		handler: NewHandler(application, opts, logging.Discard()),
		audit:   audit,
		base:    opts.BasePath,
	}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, e.base+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]any](t, rec)["error"].(string)
}

// register signs a user up and returns the id and an access token.
func (e *testEnv) register(email, name, role string) (string, string) {
	e.t.Helper()
	body := map[string]any{"email": email, "password": "123456", "name": name, "role": role}
	if role == "admin" {
		body["adminCode"] = "invite-me"
	}
	rec := e.do(http.MethodPost, "/auth/signup", "", body)
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[map[string]any](e.t, rec)["userId"].(string)

	rec = e.do(http.MethodPost, "/auth/login", "", map[string]any{"email": email, "password": "123456"})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	return id, decode[identity.Session](e.t, rec).AccessToken
}

func samplePG() map[string]any {
	return map[string]any{
		"name":        "Green Nest",
		"description": "Near campus",
		"location":    "Jalukbari",
		"distance":    0.5,
		"gender":      "both",
		"amenities":   []string{"WiFi", "Meals"},
		"roomTypes": []map[string]any{
			{"type": "Single", "price": 8000, "available": 2},
			{"type": "Double", "price": 5500, "available": 4},
		},
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "pglocator", body["service"])
	assert.Equal(t, "test", body["version"])
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	rec = env.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pglocator_http_requests_total")

	rec = env.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasePathAndCORS(t *testing.T) {
	env := newTestEnv(t, Options{BasePath: "/make-server-2c39c550"})

	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodOptions, "/make-server-2c39c550/owner/pgs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	out := httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusNoContent, out.Code)
	assert.Equal(t, "*", out.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	out = httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusNotFound, out.Code)
}

func TestAuthGuards(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, student := env.register("s@example.com", "Stu", "student")

	rec := env.do(http.MethodGet, "/user/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized - No token provided", errorOf(t, rec))

	rec = env.do(http.MethodGet, "/user/profile", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized - Invalid token", errorOf(t, rec))

	rec = env.do(http.MethodGet, "/admin/stats", student, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, errAdminRequired, errorOf(t, rec))

	rec = env.do(http.MethodGet, "/owner/pgs", student, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, errOwnerRequired, errorOf(t, rec))

	rec = env.do(http.MethodPost, "/auth/signup", "", map[string]any{"email": "s@example.com", "password": "123456", "name": "Dup", "role": "student"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User with this email already exists", errorOf(t, rec))

	rec = env.do(http.MethodGet, "/init-data", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfileRoundTrip(t *testing.T) {
	env := newTestEnv(t, Options{})
	id, token := env.register("riya@example.com", "Riya", "student")

	rec := env.do(http.MethodGet, "/user/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[map[string]any](t, rec)
	assert.Equal(t, id, profile["id"])
	assert.Equal(t, "student", profile["role"])

	rec = env.do(http.MethodPut, "/user/profile", token, map[string]any{"phone": "+91 90000 00000", "role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	profile = decode[map[string]any](t, rec)
	assert.Equal(t, "+91 90000 00000", profile["phone"])
	assert.Equal(t, "student", profile["role"])
}

func TestMarketplaceFlow(t *testing.T) {
	env := newTestEnv(t, Options{})
	ownerID, owner := env.register("owner@example.com", "Olivia", "owner")
	studentID, student := env.register("student@example.com", "Sam", "student")
	adminID, admin := env.register("admin@example.com", "Ada", "admin")

	rec := env.do(http.MethodPost, "/owner/pgs", owner, samplePG())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[map[string]map[string]any](t, rec)["pg"]
	pgID := created["id"].(string)
	assert.Equal(t, ownerID, created["ownerId"])
	assert.Equal(t, false, created["verified"])
	assert.EqualValues(t, 8000, created["price"])

	rec = env.do(http.MethodPost, "/owner/pgs", owner, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/pgs", "", nil)
	assert.Len(t, decode[[]any](t, rec), 0)
	rec = env.do(http.MethodGet, "/pgs/"+pgID, student, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PG not found or not yet verified", errorOf(t, rec))
	rec = env.do(http.MethodGet, "/pgs/"+pgID, owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/admin/pgs/"+pgID+"/verify", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, adminID, decode[map[string]map[string]any](t, rec)["pg"]["verifiedBy"])
	assert.Contains(t, env.audit.String(), `"route":"/admin/pgs/{pgId}/verify"`)

	rec = env.do(http.MethodGet, "/pgs?q=green&maxPrice=9000&amenities=wifi", "", nil)
	assert.Len(t, decode[[]any](t, rec), 1)
	rec = env.do(http.MethodGet, "/pgs?minPrice=9000", "", nil)
	assert.Len(t, decode[[]any](t, rec), 0)
	rec = env.do(http.MethodGet, "/pgs?minPrice=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/user/favorites/"+pgID, student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/user/favorites", student, nil)
	assert.Len(t, decode[[]any](t, rec), 1)

	rec = env.do(http.MethodPost, "/owner/pgs/"+pgID+"/rooms", owner, map[string]any{
		"room_number": "101", "type": "double", "rent": 5500, "beds_total": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	roomID := decode[map[string]any](t, rec)["id"].(string)

	rec = env.do(http.MethodPost, "/bookings", student, map[string]any{
		"pgId": pgID, "roomType": "double", "roomId": roomID, "checkIn": "2026-07-01", "duration": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[map[string]map[string]any](t, rec)["booking"]
	bookingID := b["id"].(string)
	assert.EqualValues(t, 16500, b["totalAmount"])
	assert.Equal(t, "pending", b["status"])

	rec = env.do(http.MethodGet, "/user/notifications", owner, nil)
	notes := decode[[]map[string]any](t, rec)
	require.Len(t, notes, 2)
	titles := []any{notes[0]["title"], notes[1]["title"]}
	assert.ElementsMatch(t, []any{"PG Verified", "New Booking Request"}, titles)

	rec = env.do(http.MethodPut, "/owner/bookings/"+bookingID, owner, map[string]any{"status": "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/pgs/"+pgID+"/rooms", "", nil)
	rooms := decode[[]map[string]any](t, rec)
	require.Len(t, rooms, 1)
	assert.EqualValues(t, 1, rooms[0]["beds_available"])

	rec = env.do(http.MethodGet, "/user/notifications", student, nil)
	notes = decode[[]map[string]any](t, rec)
	require.NotEmpty(t, notes)
	assert.Equal(t, "Congratulations! 🎉", notes[0]["title"])
	noteID := notes[0]["id"].(string)
	rec = env.do(http.MethodPost, "/user/notifications/"+noteID+"/read", student, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/user/notifications/missing/read", student, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodDelete, "/owner/pgs/"+pgID+"/rooms/"+roomID, owner, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodGet, "/owner/bookings", owner, nil)
	views := decode[[]map[string]any](t, rec)
	require.Len(t, views, 1)
	assert.Equal(t, "Sam", views[0]["user"].(map[string]any)["name"])

	rec = env.do(http.MethodGet, "/user/bookings", student, nil)
	mine := decode[[]map[string]any](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, "Green Nest", mine[0]["pg"].(map[string]any)["name"])

	rec = env.do(http.MethodPost, "/reviews", student, map[string]any{"pgId": pgID, "rating": 4, "comment": "Nice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(http.MethodPost, "/reviews", student, map[string]any{"pgId": pgID, "rating": 9, "comment": "Nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodGet, "/pgs/"+pgID+"/reviews", "", nil)
	assert.Len(t, decode[[]any](t, rec), 1)
	rec = env.do(http.MethodGet, "/owner/reviews", owner, nil)
	assert.Equal(t, "Green Nest", decode[[]map[string]any](t, rec)[0]["pgName"])

	rec = env.do(http.MethodGet, "/owner/stats", owner, nil)
	stats := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, stats["totalPGs"])
	assert.EqualValues(t, 16500, stats["totalEarnings"])

	rec = env.do(http.MethodGet, "/admin/stats", admin, nil)
	assert.EqualValues(t, 3, decode[map[string]any](t, rec)["totalUsers"])
	rec = env.do(http.MethodGet, "/admin/analytics", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/user/bookings/"+bookingID+"/cancel", student, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(http.MethodPost, "/user/bookings/"+bookingID+"/cancel", student, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/admin/migrate-bookings", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mig := decode[map[string]any](t, rec)
	assert.Equal(t, "Migration complete", mig["message"])
	assert.EqualValues(t, 1, mig["skipped"])

	rec = env.do(http.MethodPost, "/admin/users/"+studentID+"/toggle-status", admin, map[string]any{"isActive": false})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/user/profile", student, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Account deactivated", errorOf(t, rec))

	rec = env.do(http.MethodPost, "/admin/users/"+adminID+"/toggle-status", admin, map[string]any{"isActive": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/admin/audit?limit=2", admin, nil)
	assert.Len(t, decode[[]any](t, rec), 2)

	rec = env.do(http.MethodDelete, "/owner/pgs/"+pgID, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/pgs/"+pgID+"/rooms", "", nil)
	assert.Len(t, decode[[]any](t, rec), 0)
}

func TestOwnerCannotTouchOthersListing(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, owner := env.register("o1@example.com", "One", "owner")
	_, other := env.register("o2@example.com", "Two", "owner")

	rec := env.do(http.MethodPost, "/owner/pgs", owner, samplePG())
	require.Equal(t, http.StatusOK, rec.Code)
	pgID := decode[map[string]map[string]any](t, rec)["pg"]["id"].(string)

	rec = env.do(http.MethodPut, "/owner/pgs/"+pgID, other, map[string]any{"name": "Mine now"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(http.MethodDelete, "/owner/pgs/"+pgID, other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(http.MethodPost, "/owner/pgs/"+pgID+"/rooms", other, map[string]any{"room_number": "1", "rent": 100, "beds_total": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(http.MethodPut, "/owner/pgs/missing", owner, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDemoEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{DemoEndpoints: true})

	rec := env.do(http.MethodPost, "/init-demo-users", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[map[string][]map[string]any](t, rec)["results"]
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, "created", r["status"])
	}

	rec = env.do(http.MethodPost, "/init-data", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 6, decode[map[string]any](t, rec)["count"])

	rec = env.do(http.MethodGet, "/pgs", "", nil)
	assert.Len(t, decode[[]any](t, rec), 4)
	rec = env.do(http.MethodGet, "/amenities", "", nil)
	assert.Len(t, decode[[]any](t, rec), 10)

	rec = env.do(http.MethodGet, "/diagnose-demo-users", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	diag := decode[map[string]any](t, rec)
	assert.EqualValues(t, 3, diag["totalAuthUsers"])

	rec = env.do(http.MethodPost, "/auth/login", "", map[string]any{"email": "admin@example.com", "password": "akash97"})
	require.Equal(t, http.StatusOK, rec.Code)
	admin := decode[identity.Session](t, rec).AccessToken
	rec = env.do(http.MethodGet, "/admin/pgs", admin, nil)
	assert.Len(t, decode[[]any](t, rec), 6)
}

func TestLiveRoomFeed(t *testing.T) {
	env := newTestEnv(t, Options{LivePingInterval: 50 * time.Millisecond})
	_, owner := env.register("live@example.com", "Live", "owner")
	rec := env.do(http.MethodPost, "/owner/pgs", owner, samplePG())
	require.Equal(t, http.StatusOK, rec.Code)
	pgID := decode[map[string]map[string]any](t, rec)["pg"]["id"].(string)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/pgs/" + pgID + "/rooms/live"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame liveMessage
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "snapshot", frame.Type)
	assert.Empty(t, frame.Rooms)

	require.Eventually(t, func() bool { return env.app.Hub.Subscribers(pgID) == 1 }, time.Second, 10*time.Millisecond)

	rec = env.do(http.MethodPost, "/owner/pgs/"+pgID+"/rooms", owner, map[string]any{"room_number": "201", "rent": 7000, "beds_total": 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "change", frame.Type)
	assert.Equal(t, "INSERT", string(frame.Event))
	require.NotNil(t, frame.New)
	assert.Equal(t, "201", frame.New.RoomNumber)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.app.Hub.Subscribers(pgID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

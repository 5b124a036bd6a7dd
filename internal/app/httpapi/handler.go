// Package httpapi exposes the application services as the PG Locator REST API.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/pglocator/pglocator/internal/app"
	"github.com/pglocator/pglocator/internal/app/domain/account"
	"github.com/pglocator/pglocator/internal/app/metrics"
	svcerrors "github.com/pglocator/pglocator/internal/errors"
	"github.com/pglocator/pglocator/internal/httputil"
	"github.com/pglocator/pglocator/internal/identity"
	"github.com/pglocator/pglocator/internal/logging"
	"github.com/pglocator/pglocator/internal/middleware"
)

const (
	errAdminRequired = "Unauthorized - Admin access required"
	errOwnerRequired = "Unauthorized - Owner access required"
)

// Options configures the router.
type Options struct {
	// BasePath prefixes every route, e.g. "/make-server-2c39c550".
	BasePath       string
	ServiceName    string
	Version        string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	// RateLimiter replaces the limiter built from RateLimitRPS and
	// RateLimitBurst. The caller owns its cleanup loop.
	RateLimiter   *middleware.RateLimiter
	DemoEndpoints bool
	// AuditOutput receives admin audit lines. Nil means stderr.
	AuditOutput io.Writer
	// LivePingInterval defaults to 30s.
	LivePingInterval time.Duration
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	log   *logging.Logger
	opts  Options
	audit *auditLog
	now   func() time.Time
}

// NewHandler returns the complete API with its middleware stack.
func NewHandler(application *app.Application, opts Options, log *logging.Logger) http.Handler {
	if log == nil {
		log = logging.NewDefault("http")
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "pglocator"
	}
	if opts.LivePingInterval <= 0 {
		opts.LivePingInterval = 30 * time.Second
	}
	h := &handler{
		app:   application,
		log:   log,
		opts:  opts,
		audit: newAuditLog(200, opts.AuditOutput),
		now:   time.Now,
	}

	root := mux.NewRouter()
	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, r, "Not found")
	})
	root.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, string(svcerrors.CodeBadRequest), "Method not allowed", nil)
	})
	root.Use(metrics.InstrumentHandler)

	r := root
	if opts.BasePath != "" {
		r = root.PathPrefix(opts.BasePath).Subrouter()
	}
	h.routes(r)

	var out http.Handler = root
	out = middleware.BodyLimit(httputil.MaxRequestBodyBytes)(out)
	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log.Named("ratelimit"))
	}
	out = limiter.Handler(out)
	out = middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler(out)
	out = middleware.NewTracingMiddleware(log).Handler(out)
	return out
}

func (h *handler) routes(r *mux.Router) {
	auth := middleware.NewAuthMiddleware(h.app.Identity, h.app.Accounts, h.log.Named("auth"))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/auth/signup", h.signup).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	r.HandleFunc("/pgs", h.listPublicPGs).Methods(http.MethodGet)
	r.Handle("/pgs/{pgId}", auth.Optional(http.HandlerFunc(h.getPG))).Methods(http.MethodGet)
	r.HandleFunc("/pgs/{pgId}/reviews", h.listPGReviews).Methods(http.MethodGet)
	r.HandleFunc("/pgs/{pgId}/rooms", h.listRooms).Methods(http.MethodGet)
	r.HandleFunc("/pgs/{pgId}/rooms/live", h.liveRooms).Methods(http.MethodGet)
	r.HandleFunc("/amenities", h.listAmenities).Methods(http.MethodGet)

	if h.opts.DemoEndpoints {
		r.HandleFunc("/diagnose-demo-users", h.diagnoseDemoUsers).Methods(http.MethodGet)
		r.HandleFunc("/init-demo-users", h.initDemoUsers).Methods(http.MethodPost)
		r.HandleFunc("/init-data", h.initData).Methods(http.MethodPost)
	}

	user := r.NewRoute().Subrouter()
	user.Use(auth.Handler)
	user.HandleFunc("/user/profile", h.getProfile).Methods(http.MethodGet)
	user.HandleFunc("/user/profile", h.updateProfile).Methods(http.MethodPut)
	user.HandleFunc("/user/favorites", h.listFavorites).Methods(http.MethodGet)
	user.HandleFunc("/user/favorites/{pgId}", h.addFavorite).Methods(http.MethodPost)
	user.HandleFunc("/user/favorites/{pgId}", h.removeFavorite).Methods(http.MethodDelete)
	user.HandleFunc("/user/bookings", h.listStudentBookings).Methods(http.MethodGet)
	user.HandleFunc("/user/bookings/{id}/cancel", h.cancelBooking).Methods(http.MethodPost)
	user.HandleFunc("/user/notifications", h.listNotifications).Methods(http.MethodGet)
	user.HandleFunc("/user/notifications/read-all", h.markAllNotificationsRead).Methods(http.MethodPost)
	user.HandleFunc("/user/notifications/{id}/read", h.markNotificationRead).Methods(http.MethodPost)
	user.HandleFunc("/bookings", h.createBooking).Methods(http.MethodPost)
	user.HandleFunc("/reviews", h.createReview).Methods(http.MethodPost)

	owner := r.PathPrefix("/owner").Subrouter()
	owner.Use(auth.Handler, middleware.RequireRole(h.log, errOwnerRequired, account.RoleOwner, account.RoleAdmin))
	owner.HandleFunc("/stats", h.ownerStats).Methods(http.MethodGet)
	owner.HandleFunc("/pgs", h.listOwnerPGs).Methods(http.MethodGet)
	owner.HandleFunc("/pgs", h.createPG).Methods(http.MethodPost)
	owner.HandleFunc("/pgs/{pgId}", h.updatePG).Methods(http.MethodPut)
	owner.HandleFunc("/pgs/{pgId}", h.deletePG).Methods(http.MethodDelete)
	owner.HandleFunc("/pgs/{pgId}/rooms", h.createRoom).Methods(http.MethodPost)
	owner.HandleFunc("/pgs/{pgId}/rooms/{roomId}", h.updateRoom).Methods(http.MethodPut)
	owner.HandleFunc("/pgs/{pgId}/rooms/{roomId}", h.deleteRoom).Methods(http.MethodDelete)
	owner.HandleFunc("/pgs/{pgId}/rooms/{roomId}/toggle", h.toggleRoom).Methods(http.MethodPost)
	owner.HandleFunc("/bookings", h.listOwnerBookings).Methods(http.MethodGet)
	owner.HandleFunc("/bookings/{id}", h.decideBooking).Methods(http.MethodPut)
	owner.HandleFunc("/reviews", h.listOwnerReviews).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(auth.Handler, middleware.RequireRole(h.log, errAdminRequired, account.RoleAdmin), h.audit.middleware)
	admin.HandleFunc("/stats", h.adminStats).Methods(http.MethodGet)
	admin.HandleFunc("/analytics", h.adminAnalytics).Methods(http.MethodGet)
	admin.HandleFunc("/pgs", h.listAllPGs).Methods(http.MethodGet)
	admin.HandleFunc("/pgs/{pgId}/verify", h.verifyPG).Methods(http.MethodPost)
	admin.HandleFunc("/pgs/{pgId}/reject", h.rejectPG).Methods(http.MethodPost)
	admin.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/toggle-status", h.toggleUserStatus).Methods(http.MethodPost)
	admin.HandleFunc("/migrate-bookings", h.migrateBookings).Methods(http.MethodPost)
	admin.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   h.opts.ServiceName,
		"version":   h.opts.Version,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// caller returns the authenticated identity. Routes behind auth.Handler
// always have one.
func caller(r *http.Request) identity.Identity {
	who, _ := middleware.IdentityFrom(r.Context())
	return who
}

func callerRole(r *http.Request) account.Role {
	return account.Role(middleware.GetUserRole(r.Context()))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := httputil.DecodeJSON(r, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.Is(err, httputil.ErrBodyTooLarge) || errors.As(err, &tooLarge) {
			httputil.WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, string(svcerrors.CodeBadRequest), "Request body too large", nil)
			return false
		}
		httputil.BadRequest(w, r, "Invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	httputil.WriteJSON(w, status, v)
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, r, h.log, err)
}

func message(text string, kv ...interface{}) map[string]interface{} {
	out := map[string]interface{}{"message": text}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			out[k] = kv[i+1]
		}
	}
	return out
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func badRequest(msg string) error {
	return svcerrors.BadRequest(msg)
}

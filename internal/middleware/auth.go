// Package middleware provides HTTP middleware for the PG Locator API
package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pglocator/pglocator/internal/app/domain/account"
	"github.com/pglocator/pglocator/internal/errors"
	internalhttputil "github.com/pglocator/pglocator/internal/httputil"
	"github.com/pglocator/pglocator/internal/identity"
	"github.com/pglocator/pglocator/internal/logging"
)

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	UserFromToken(ctx context.Context, token string) (identity.Identity, error)
}

// PrincipalResolver returns the stored role and active flag of an identity.
type PrincipalResolver interface {
	Principal(ctx context.Context, who identity.Identity) (account.Role, bool, error)
}

type identityKey struct{}

// AuthMiddleware authenticates bearer tokens against the identity provider
type AuthMiddleware struct {
	verifier   TokenVerifier
	principals PrincipalResolver
	logger     *logging.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verifier TokenVerifier, principals PrincipalResolver, logger *logging.Logger) *AuthMiddleware {
	if logger == nil {
		logger = logging.NewDefault("auth")
	}
	return &AuthMiddleware{verifier: verifier, principals: principals, logger: logger}
}

// Handler rejects requests without a valid token.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := internalhttputil.BearerToken(r)
		if token == "" {
			m.respondError(w, r, "missing_token", errors.Unauthorized("Unauthorized - No token provided"))
			return
		}
		ctx, err := m.authenticate(r.Context(), token)
		if err != nil {
			m.respondError(w, r, "invalid_token", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches the caller when a valid token is present and otherwise
// serves the request anonymously.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := internalhttputil.BearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx, err := m.authenticate(r.Context(), token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Debug("ignoring invalid optional token")
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticate(ctx context.Context, token string) (context.Context, error) {
	who, err := m.verifier.UserFromToken(ctx, token)
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	var role account.Role
	if m.principals != nil {
		r, active, err := m.principals.Principal(ctx, who)
		if err != nil {
			return nil, errors.Internal("Internal server error", err)
		}
		if !active {
			return nil, errors.Forbidden("Account deactivated").WithDetails("userId", who.ID)
		}
		role = r
	}

	ctx = logging.WithUser(ctx, who.ID, string(role))
	ctx = context.WithValue(ctx, identityKey{}, who)
	m.logger.WithContext(ctx).Debug("authentication successful")
	return ctx, nil
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, event string, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Internal server error", err)
	}
	if serviceErr.HTTPStatus == http.StatusForbidden {
		event = "deactivated_user"
	}
	if serviceErr.HTTPStatus >= http.StatusInternalServerError {
		m.logger.WithContext(r.Context()).WithError(err).Error("authentication lookup failed")
	} else {
		m.logger.LogSecurityEvent(r.Context(), event, map[string]interface{}{
			"path":   r.URL.Path,
			"method": r.Method,
			"status": serviceErr.HTTPStatus,
		})
	}
	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, nil)
}

// RequireRole admits only callers whose stored role is one of roles. It must
// run after AuthMiddleware.Handler.
func RequireRole(logger *logging.Logger, message string, roles ...account.Role) mux.MiddlewareFunc {
	if logger == nil {
		logger = logging.NewDefault("auth")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := account.Role(GetUserRole(r.Context()))
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.LogSecurityEvent(r.Context(), "role_denied", map[string]interface{}{
				"path":     r.URL.Path,
				"role":     string(role),
				"required": roles,
			})
			internalhttputil.Forbidden(w, r, message)
		})
	}
}

// IdentityFrom returns the identity attached by the auth middleware.
func IdentityFrom(ctx context.Context) (identity.Identity, bool) {
	who, ok := ctx.Value(identityKey{}).(identity.Identity)
	return who, ok
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

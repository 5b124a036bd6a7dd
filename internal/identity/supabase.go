package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pglocator/pglocator/supabase/client"
)

// Supabase delegates to GoTrue. Tokens are verified with the project JWT
// secret when one is configured and through GET /auth/v1/user otherwise.
type Supabase struct {
	auth      *client.AuthClient
	jwtSecret []byte
	now       func() time.Time
}

var _ Provider = (*Supabase)(nil)

// NewSupabase wraps a client built with the service-role key.
func NewSupabase(c *client.Client, jwtSecret string) *Supabase {
	s := &Supabase{auth: c.Auth(), now: time.Now}
	if jwtSecret != "" {
		s.jwtSecret = []byte(jwtSecret)
	}
	return s
}

func (s *Supabase) Name() string { return "supabase" }

func fromSupabase(u *client.User) Identity {
	if u == nil {
		return Identity{}
	}
	out := Identity{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != "",
		Metadata:       u.UserMetadata,
	}
	if t, err := time.Parse(time.RFC3339Nano, u.CreatedAt); err == nil {
		out.CreatedAt = t
	}
	return out
}

func apiError(err error) (*client.APIError, bool) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func isDuplicateEmail(err error) bool {
	apiErr, ok := apiError(err)
	if !ok {
		return false
	}
	if apiErr.Code == "email_exists" || apiErr.Code == "user_already_exists" {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "already been registered") || strings.Contains(msg, "already exists")
}

func (s *Supabase) CreateUser(ctx context.Context, params CreateUserParams) (Identity, error) {
	if len(params.Password) < MinPasswordLength {
		return Identity{}, ErrWeakPassword
	}
	u, err := s.auth.AdminCreateUser(ctx, client.AdminUserAttributes{
		Email:        params.Email,
		Password:     params.Password,
		EmailConfirm: params.EmailConfirm,
		UserMetadata: params.Metadata,
	})
	if isDuplicateEmail(err) {
		return Identity{}, ErrUserExists
	}
	if err != nil {
		return Identity{}, fmt.Errorf("create auth user: %w", err)
	}
	return fromSupabase(u), nil
}

func (s *Supabase) UpdateUser(ctx context.Context, id string, params UpdateUserParams) (Identity, error) {
	metadata := params.Metadata
	if len(metadata) > 0 {
		current, err := s.auth.AdminGetUser(ctx, id)
		if apiErr, ok := apiError(err); ok && apiErr.StatusCode == http.StatusNotFound {
			return Identity{}, ErrUserNotFound
		}
		if err != nil {
			return Identity{}, fmt.Errorf("get auth user: %w", err)
		}
		metadata = mergeMetadata(mergeMetadata(nil, current.UserMetadata), params.Metadata)
	}
	u, err := s.auth.AdminUpdateUser(ctx, id, client.AdminUserAttributes{
		Password:     params.Password,
		EmailConfirm: params.EmailConfirm,
		UserMetadata: metadata,
	})
	if apiErr, ok := apiError(err); ok && apiErr.StatusCode == http.StatusNotFound {
		return Identity{}, ErrUserNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("update auth user: %w", err)
	}
	return fromSupabase(u), nil
}

func (s *Supabase) ListUsers(ctx context.Context) ([]Identity, error) {
	users, err := s.auth.AdminListAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list auth users: %w", err)
	}
	out := make([]Identity, len(users))
	for i := range users {
		out[i] = fromSupabase(&users[i])
	}
	return out, nil
}

func (s *Supabase) UserFromToken(ctx context.Context, token string) (Identity, error) {
	if len(s.jwtSecret) > 0 {
		if id, err := parseToken(s.jwtSecret, token, s.now); err == nil {
			return id, nil
		}
	}
	u, err := s.auth.GetUser(ctx, token)
	if apiErr, ok := apiError(err); ok && apiErr.StatusCode < http.StatusInternalServerError {
		return Identity{}, fmt.Errorf("%w: %s", ErrInvalidToken, apiErr.Message)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}
	if u.ID == "" {
		return Identity{}, ErrInvalidToken
	}
	return fromSupabase(u), nil
}

func (s *Supabase) SignIn(ctx context.Context, email, password string) (Session, error) {
	resp, err := s.auth.SignIn(ctx, email, password)
	if apiErr, ok := apiError(err); ok && apiErr.StatusCode < http.StatusInternalServerError {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("sign in: %w", err)
	}
	return Session{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresIn:   resp.ExpiresIn,
		User:        fromSupabase(resp.User),
	}, nil
}

// Package identity abstracts the service that owns credentials and issues
// access tokens: Supabase GoTrue in production or a local provider backed by
// the key-value store for development and tests.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUserExists         = errors.New("identity: user already exists")
	ErrInvalidToken       = errors.New("identity: invalid token")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrUserNotFound       = errors.New("identity: user not found")
	ErrWeakPassword       = errors.New("identity: password must be at least 6 characters")
)

// MinPasswordLength matches the GoTrue default.
const MinPasswordLength = 6

// Identity is a user as known to the identity provider.
type Identity struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	EmailConfirmed bool           `json:"emailConfirmed"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// MetadataString returns a string metadata value or "".
func (i Identity) MetadataString(key string) string {
	if i.Metadata == nil {
		return ""
	}
	s, _ := i.Metadata[key].(string)
	return s
}

// CreateUserParams is the input of Provider.CreateUser.
type CreateUserParams struct {
	Email        string
	Password     string
	EmailConfirm bool
	Metadata     map[string]any
}

// UpdateUserParams is the input of Provider.UpdateUser. Empty fields are left
// unchanged and metadata keys are merged.
type UpdateUserParams struct {
	Password     string
	EmailConfirm bool
	Metadata     map[string]any
}

// Session is the result of a password sign-in.
type Session struct {
	AccessToken string   `json:"accessToken"`
	TokenType   string   `json:"tokenType"`
	ExpiresIn   int      `json:"expiresIn"`
	User        Identity `json:"user"`
}

// Provider is implemented by every identity backend.
type Provider interface {
	Name() string
	CreateUser(ctx context.Context, params CreateUserParams) (Identity, error)
	UpdateUser(ctx context.Context, id string, params UpdateUserParams) (Identity, error)
	ListUsers(ctx context.Context) ([]Identity, error)
	UserFromToken(ctx context.Context, token string) (Identity, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
}

// tokenClaims mirrors the claims GoTrue puts in its access tokens.
type tokenClaims struct {
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

func issueToken(secret []byte, id Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := tokenClaims{
		Email:        id.Email,
		Role:         "authenticated",
		UserMetadata: id.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// parseToken verifies an HS256 token and returns the identity it names.
func parseToken(secret []byte, token string, now func() time.Time) (Identity, error) {
	claims := &tokenClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	out := Identity{
		ID:             claims.Subject,
		Email:          claims.Email,
		EmailConfirmed: true,
		Metadata:       claims.UserMetadata,
	}
	if claims.IssuedAt != nil {
		out.CreatedAt = claims.IssuedAt.Time
	}
	return out, nil
}

func mergeMetadata(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

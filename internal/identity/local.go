package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pglocator/pglocator/internal/kv"
)

const (
	localUserPrefix  = "auth-user:"
	localEmailPrefix = "auth-email:"
)

// Local keeps identities in the key-value store and issues its own tokens.
type Local struct {
	store  kv.Store
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

var _ Provider = (*Local)(nil)

// LocalOption customises a Local provider.
type LocalOption func(*Local)

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) LocalOption {
	return func(l *Local) { l.cost = cost }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) { l.now = now }
}

// NewLocal creates a provider signing tokens with secret.
func NewLocal(store kv.Store, secret string, ttl time.Duration, opts ...LocalOption) *Local {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := &Local{
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type localRecord struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	PasswordHash   string         `json:"passwordHash"`
	EmailConfirmed bool           `json:"emailConfirmed"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"createdAt"`
}

func (r localRecord) identity() Identity {
	return Identity{
		ID:             r.ID,
		Email:          r.Email,
		EmailConfirmed: r.EmailConfirmed,
		Metadata:       r.Metadata,
		CreatedAt:      r.CreatedAt,
	}
}

func emailKey(email string) string {
	return localEmailPrefix + strings.ToLower(strings.TrimSpace(email))
}

func (l *Local) Name() string { return "local" }

func (l *Local) CreateUser(ctx context.Context, params CreateUserParams) (Identity, error) {
	if strings.TrimSpace(params.Email) == "" {
		return Identity{}, fmt.Errorf("email is required")
	}
	if len(params.Password) < MinPasswordLength {
		return Identity{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), l.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	rec := localRecord{
		ID:             uuid.NewString(),
		Email:          strings.TrimSpace(params.Email),
		PasswordHash:   string(hash),
		EmailConfirmed: params.EmailConfirm,
		Metadata:       mergeMetadata(nil, params.Metadata),
		CreatedAt:      l.now().UTC(),
	}

	err = l.store.Update(ctx, emailKey(rec.Email), func(_ []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, ErrUserExists
		}
		return json.Marshal(rec.ID)
	})
	if err != nil {
		return Identity{}, err
	}
	if err := l.save(ctx, rec); err != nil {
		return Identity{}, err
	}
	return rec.identity(), nil
}

func (l *Local) save(ctx context.Context, rec localRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, localUserPrefix+rec.ID, raw)
}

func (l *Local) load(ctx context.Context, id string) (localRecord, error) {
	raw, err := l.store.Get(ctx, localUserPrefix+id)
	if errors.Is(err, kv.ErrNotFound) {
		return localRecord{}, ErrUserNotFound
	}
	if err != nil {
		return localRecord{}, err
	}
	var rec localRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return localRecord{}, fmt.Errorf("decode identity %s: %w", id, err)
	}
	return rec, nil
}

func (l *Local) loadByEmail(ctx context.Context, email string) (localRecord, error) {
	raw, err := l.store.Get(ctx, emailKey(email))
	if errors.Is(err, kv.ErrNotFound) {
		return localRecord{}, ErrUserNotFound
	}
	if err != nil {
		return localRecord{}, err
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return localRecord{}, fmt.Errorf("decode email index: %w", err)
	}
	return l.load(ctx, id)
}

func (l *Local) UpdateUser(ctx context.Context, id string, params UpdateUserParams) (Identity, error) {
	var out localRecord
	err := l.store.Update(ctx, localUserPrefix+id, func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ErrUserNotFound
		}
		var rec localRecord
		if err := json.Unmarshal(cur, &rec); err != nil {
			return nil, err
		}
		if params.Password != "" {
			if len(params.Password) < MinPasswordLength {
				return nil, ErrWeakPassword
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), l.cost)
			if err != nil {
				return nil, err
			}
			rec.PasswordHash = string(hash)
		}
		if params.EmailConfirm {
			rec.EmailConfirmed = true
		}
		rec.Metadata = mergeMetadata(rec.Metadata, params.Metadata)
		out = rec
		return json.Marshal(rec)
	})
	if err != nil {
		return Identity{}, err
	}
	return out.identity(), nil
}

func (l *Local) ListUsers(ctx context.Context) ([]Identity, error) {
	entries, err := l.store.GetByPrefix(ctx, localUserPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Identity, 0, len(entries))
	for _, e := range entries {
		var rec localRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			continue
		}
		out = append(out, rec.identity())
	}
	return out, nil
}

// UserFromToken verifies the signature and that the identity still exists.
func (l *Local) UserFromToken(ctx context.Context, token string) (Identity, error) {
	claimed, err := parseToken(l.secret, token, l.now)
	if err != nil {
		return Identity{}, err
	}
	rec, err := l.load(ctx, claimed.ID)
	if errors.Is(err, ErrUserNotFound) {
		return Identity{}, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	}
	if err != nil {
		return Identity{}, err
	}
	return rec.identity(), nil
}

func (l *Local) SignIn(ctx context.Context, email, password string) (Session, error) {
	rec, err := l.loadByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		return Session{}, ErrInvalidCredentials
	}
	token, err := issueToken(l.secret, rec.identity(), l.ttl, l.now())
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(l.ttl.Seconds()),
		User:        rec.identity(),
	}, nil
}

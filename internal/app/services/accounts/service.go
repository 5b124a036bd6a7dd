package accounts

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pglocator/pglocator/internal/app/domain/account"
	"github.com/pglocator/pglocator/internal/app/storage"
	svcerrors "github.com/pglocator/pglocator/internal/errors"
	"github.com/pglocator/pglocator/internal/identity"
	"github.com/pglocator/pglocator/internal/logging"
	"github.com/pglocator/pglocator/internal/validation"
)

// DefaultAdminCode is the invitation code admins sign up with unless one is
// configured.
const DefaultAdminCode = "ADTU-ADMIN-2024"

// Service manages signups, profiles and admin user management.
type Service struct {
	idp           identity.Provider
	profiles      storage.ProfileStore
	adminCodeHash []byte
	log           *logging.Logger
	now           func() time.Time
}

// New constructs an account service. adminCode may be plain text or a bcrypt
// hash of the invitation code.
func New(idp identity.Provider, profiles storage.ProfileStore, adminCode string, log *logging.Logger) (*Service, error) {
	if log == nil {
		log = logging.NewDefault("accounts")
	}
	if adminCode == "" {
		adminCode = DefaultAdminCode
	}
	hash := []byte(adminCode)
	if _, err := bcrypt.Cost(hash); err != nil {
		hash, err = bcrypt.GenerateFromPassword([]byte(adminCode), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
	}
	return &Service{idp: idp, profiles: profiles, adminCodeHash: hash, log: log, now: time.Now}, nil
}

// SignupInput is the body of POST /auth/signup.
type SignupInput struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	AdminCode    string `json:"adminCode,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Avatar       string `json:"avatar,omitempty"`
	Course       string `json:"course,omitempty"`
	RollNo       string `json:"rollNo,omitempty"`
	Gender       string `json:"gender,omitempty"`
	BusinessName string `json:"businessName,omitempty"`
}

const errUserExists = "User with this email already exists"

// Signup creates the identity and its profile and returns the new user id.
func (s *Service) Signup(ctx context.Context, in SignupInput) (string, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if in.Email == "" || in.Password == "" || in.Name == "" || in.Role == "" {
		return "", svcerrors.BadRequest("Missing required fields")
	}
	role := account.Role(in.Role)
	if !role.Valid() {
		return "", svcerrors.BadRequest("Invalid role")
	}

	existing, err := s.findByEmail(ctx, in.Email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", svcerrors.BadRequest(errUserExists)
	}

	if role == account.RoleAdmin && bcrypt.CompareHashAndPassword(s.adminCodeHash, []byte(in.AdminCode)) != nil {
		s.log.LogSecurityEvent(ctx, "admin_signup_rejected", map[string]interface{}{"email": in.Email})
		return "", svcerrors.BadRequest("Invalid admin invitation code")
	}

	ident, err := s.idp.CreateUser(ctx, identity.CreateUserParams{
		Email:        in.Email,
		Password:     in.Password,
		EmailConfirm: true,
		Metadata:     map[string]any{"name": in.Name, "role": string(role)},
	})
	switch {
	case errors.Is(err, identity.ErrUserExists):
		return "", svcerrors.BadRequest(errUserExists)
	case errors.Is(err, identity.ErrWeakPassword):
		return "", svcerrors.BadRequest("Password must be at least 6 characters")
	case err != nil:
		return "", svcerrors.Internal("Internal server error during signup", err)
	}

	profile := account.Profile{
		ID:           ident.ID,
		Email:        in.Email,
		Name:         in.Name,
		Role:         role,
		Phone:        in.Phone,
		Avatar:       in.Avatar,
		Course:       in.Course,
		RollNo:       in.RollNo,
		Gender:       in.Gender,
		BusinessName: in.BusinessName,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		return "", err
	}
	s.log.WithContext(ctx).WithField("role", role).Infof("user %s signed up", ident.ID)
	return ident.ID, nil
}

// Login signs in through the identity provider and refuses deactivated users.
func (s *Service) Login(ctx context.Context, email, password string) (identity.Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return identity.Session{}, svcerrors.BadRequest("Missing required fields")
	}
	session, err := s.idp.SignIn(ctx, strings.TrimSpace(email), password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		s.log.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"email": email})
		return identity.Session{}, svcerrors.Unauthorized("Invalid login credentials")
	}
	if err != nil {
		return identity.Session{}, err
	}
	profile, err := s.profiles.GetProfile(ctx, session.User.ID)
	if err == nil && !profile.Active() {
		s.log.LogSecurityEvent(ctx, "deactivated_login", map[string]interface{}{"user_id": session.User.ID})
		return identity.Session{}, svcerrors.Forbidden("Account deactivated")
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return identity.Session{}, err
	}
	return session, nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (*account.Profile, error) {
	all, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if account.SameEmail(all[i].Email, email) {
			return &all[i], nil
		}
	}
	return nil, nil
}

// Profile resolves the caller's profile. A profile stored under another id
// with the same email is moved to the caller's id, and a caller with no
// profile at all gets one built from identity metadata.
func (s *Service) Profile(ctx context.Context, who identity.Identity) (account.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, who.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return account.Profile{}, err
	}

	if who.Email != "" {
		match, err := s.findByEmail(ctx, who.Email)
		if err != nil {
			return account.Profile{}, err
		}
		if match != nil {
			oldID := match.ID
			moved := *match
			moved.ID = who.ID
			moved.Email = who.Email
			if err := s.profiles.SaveProfile(ctx, moved); err != nil {
				return account.Profile{}, err
			}
			if oldID != who.ID {
				if err := s.profiles.DeleteProfile(ctx, oldID); err != nil {
					s.log.WithContext(ctx).WithError(err).Warnf("remove stale profile %s", oldID)
				}
			}
			s.log.WithContext(ctx).Infof("profile %s re-keyed to %s", oldID, who.ID)
			return moved, nil
		}
	}

	if who.ID == "" {
		return account.Profile{}, svcerrors.NotFound("User profile not found")
	}
	name := who.MetadataString("name")
	if name == "" {
		name = "User"
	}
	role := account.Role(who.MetadataString("role"))
	if !role.Valid() {
		role = account.RoleStudent
	}
	p = account.Profile{
		ID:        who.ID,
		Email:     who.Email,
		Name:      name,
		Role:      role,
		CreatedAt: s.now().UTC(),
	}
	if err := s.profiles.SaveProfile(ctx, p); err != nil {
		return account.Profile{}, err
	}
	return p, nil
}

// Principal returns the stored role and active flag for an authenticated
// identity. A caller without a stored profile is active but has no role, so
// role-gated routes refuse it until GET /user/profile creates one.
func (s *Service) Principal(ctx context.Context, who identity.Identity) (account.Role, bool, error) {
	p, err := s.profiles.GetProfile(ctx, who.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", true, nil
	}
	if err != nil {
		return "", false, err
	}
	return p.Role, p.Active(), nil
}

// ProfileUpdate lists the fields a user may change on their own profile.
type ProfileUpdate struct {
	Name         *string `json:"name" validate:"omitempty,notblank"`
	Phone        *string `json:"phone"`
	Avatar       *string `json:"avatar" validate:"omitempty,url"`
	Course       *string `json:"course"`
	RollNo       *string `json:"rollNo"`
	Gender       *string `json:"gender" validate:"omitempty,oneof=male female other"`
	BusinessName *string `json:"businessName"`
}

// UpdateProfile merges the update into the stored profile. Identity fields
// and the active flag cannot be changed here.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (account.Profile, error) {
	if err := validation.Struct(in, "Invalid profile details"); err != nil {
		return account.Profile{}, err
	}
	p, err := s.profiles.UpdateProfile(ctx, id, func(p *account.Profile) error {
		set := func(dst *string, v *string) {
			if v != nil {
				*dst = strings.TrimSpace(*v)
			}
		}
		set(&p.Name, in.Name)
		set(&p.Phone, in.Phone)
		set(&p.Avatar, in.Avatar)
		set(&p.Course, in.Course)
		set(&p.RollNo, in.RollNo)
		set(&p.Gender, in.Gender)
		set(&p.BusinessName, in.BusinessName)
		now := s.now().UTC()
		p.UpdatedAt = &now
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return account.Profile{}, svcerrors.NotFound("User profile not found")
	}
	return p, err
}

// ListUsers returns every profile ordered by creation time.
func (s *Service) ListUsers(ctx context.Context) ([]account.Profile, error) {
	users, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].SetActive(users[i].Active())
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

// SetActive activates or deactivates a user. Admins cannot deactivate
// themselves.
func (s *Service) SetActive(ctx context.Context, actorID, userID string, active bool) (account.Profile, error) {
	if actorID == userID && !active {
		return account.Profile{}, svcerrors.BadRequest("You cannot deactivate your own account")
	}
	p, err := s.profiles.UpdateProfile(ctx, userID, func(p *account.Profile) error {
		p.SetActive(active)
		now := s.now().UTC()
		p.UpdatedAt = &now
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return account.Profile{}, svcerrors.NotFound("User not found")
	}
	if err != nil {
		return account.Profile{}, err
	}
	s.log.WithContext(ctx).WithFields(map[string]interface{}{"target": userID, "active": active}).Info("user status changed")
	return p, nil
}

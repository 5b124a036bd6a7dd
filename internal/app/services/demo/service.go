// Package demo seeds the demo accounts, sample listings and amenity catalog
// used by the PG Locator client during development.
package demo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pglocator/pglocator/internal/app/domain/account"
	"github.com/pglocator/pglocator/internal/app/domain/listing"
	"github.com/pglocator/pglocator/internal/app/domain/room"
	"github.com/pglocator/pglocator/internal/app/storage"
	"github.com/pglocator/pglocator/internal/identity"
	"github.com/pglocator/pglocator/internal/logging"
)

//go:embed fixtures.yaml
var embeddedFixtures []byte

// User is a demo account.
type User struct {
	Email        string `yaml:"email"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	Phone        string `yaml:"phone"`
	Course       string `yaml:"course"`
	RollNo       string `yaml:"rollNo"`
	Gender       string `yaml:"gender"`
	BusinessName string `yaml:"businessName"`
}

// Fixtures is the seed data set.
type Fixtures struct {
	OwnerFallbackID string            `yaml:"ownerFallbackId"`
	Users           []User            `yaml:"users"`
	Amenities       []room.Amenity    `yaml:"amenities"`
	Listings        []listing.Listing `yaml:"listings"`
}

// ParseFixtures decodes a fixtures document.
func ParseFixtures(data []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	if len(f.Users) == 0 {
		return Fixtures{}, errors.New("parse fixtures: no users")
	}
	return f, nil
}

// DefaultFixtures returns the embedded data set.
func DefaultFixtures() (Fixtures, error) {
	return ParseFixtures(embeddedFixtures)
}

// Service seeds and inspects demo data.
type Service struct {
	idp       identity.Provider
	profiles  storage.ProfileStore
	listings  storage.ListingStore
	amenities storage.AmenityStore
	fixtures  Fixtures
	log       *logging.Logger
	now       func() time.Time
}

func New(idp identity.Provider, profiles storage.ProfileStore, listings storage.ListingStore, amenities storage.AmenityStore, fixtures Fixtures, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("demo")
	}
	return &Service{
		idp:       idp,
		profiles:  profiles,
		listings:  listings,
		amenities: amenities,
		fixtures:  fixtures,
		log:       log,
		now:       time.Now,
	}
}

// Diagnosis describes one demo account.
type Diagnosis struct {
	Email          string         `json:"email"`
	InAuth         bool           `json:"inAuth"`
	AuthUserID     string         `json:"authUserId,omitempty"`
	EmailConfirmed bool           `json:"emailConfirmed"`
	AuthMetadata   map[string]any `json:"authMetadata,omitempty"`
	InKVStore      bool           `json:"inKVStore"`
	ProfileRole    string         `json:"profileRole,omitempty"`
	ProfileID      string         `json:"profileId,omitempty"`
}

// Report is the result of Diagnose.
type Report struct {
	Results        []Diagnosis `json:"results"`
	TotalAuthUsers int         `json:"totalAuthUsers"`
}

// Diagnose reports whether each demo account exists in the identity
// provider and has a stored profile.
func (s *Service) Diagnose(ctx context.Context) (Report, error) {
	idents, err := s.idp.ListUsers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list identities: %w", err)
	}
	profiles, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Results: make([]Diagnosis, 0, len(s.fixtures.Users)), TotalAuthUsers: len(idents)}
	for _, u := range s.fixtures.Users {
		d := Diagnosis{Email: u.Email}
		if ident, ok := findIdentity(idents, u.Email); ok {
			d.InAuth = true
			d.AuthUserID = ident.ID
			d.EmailConfirmed = ident.EmailConfirmed
			d.AuthMetadata = ident.Metadata
		}
		for _, p := range profiles {
			if (d.AuthUserID != "" && p.ID == d.AuthUserID) || account.SameEmail(p.Email, u.Email) {
				d.InKVStore = true
				d.ProfileRole = string(p.Role)
				d.ProfileID = p.ID
				break
			}
		}
		report.Results = append(report.Results, d)
	}
	return report, nil
}

// UserResult is the outcome for one demo account.
type UserResult struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	UserID string `json:"userId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// InitUsers creates each demo identity, or resets the password and metadata
// of an existing one, and writes its profile.
func (s *Service) InitUsers(ctx context.Context) []UserResult {
	results := make([]UserResult, 0, len(s.fixtures.Users))
	for _, u := range s.fixtures.Users {
		res, err := s.initUser(ctx, u)
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("email", u.Email).Warn("demo user init failed")
			res = UserResult{Email: u.Email, Status: "error", Error: err.Error()}
		}
		results = append(results, res)
	}
	return results
}

func (s *Service) initUser(ctx context.Context, u User) (UserResult, error) {
	meta := map[string]any{"name": u.Name, "role": u.Role}
	status := "created"
	ident, err := s.idp.CreateUser(ctx, identity.CreateUserParams{
		Email:        u.Email,
		Password:     u.Password,
		EmailConfirm: true,
		Metadata:     meta,
	})
	if errors.Is(err, identity.ErrUserExists) {
		status = "updated"
		idents, listErr := s.idp.ListUsers(ctx)
		if listErr != nil {
			return UserResult{}, fmt.Errorf("list identities: %w", listErr)
		}
		existing, ok := findIdentity(idents, u.Email)
		if !ok {
			return UserResult{}, fmt.Errorf("user %s exists but could not be found in user list", u.Email)
		}
		ident, err = s.idp.UpdateUser(ctx, existing.ID, identity.UpdateUserParams{
			Password:     u.Password,
			EmailConfirm: true,
			Metadata:     meta,
		})
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("email", u.Email).Warn("update demo identity")
			ident = existing
			err = nil
		}
	}
	if err != nil {
		return UserResult{}, err
	}

	profile := account.Profile{
		ID:           ident.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         account.Role(u.Role),
		Phone:        u.Phone,
		Course:       u.Course,
		RollNo:       u.RollNo,
		Gender:       u.Gender,
		BusinessName: u.BusinessName,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		return UserResult{}, err
	}
	return UserResult{Email: u.Email, Status: status, UserID: ident.ID}, nil
}

// InitData writes the sample listings, owned by the demo owner when that
// account exists, and the amenity catalog. It returns the listing count.
func (s *Service) InitData(ctx context.Context) (int, error) {
	ownerID := s.fixtures.OwnerFallbackID
	if id, ok := s.demoOwnerID(ctx); ok {
		ownerID = id
	}
	now := s.now().UTC()
	for _, l := range s.fixtures.Listings {
		l.OwnerID = ownerID
		l.CreatedAt = now
		if l.Images == nil {
			l.Images = []string{}
		}
		if err := s.listings.SaveListing(ctx, l); err != nil {
			return 0, fmt.Errorf("seed listing %s: %w", l.ID, err)
		}
	}
	if s.amenities != nil && len(s.fixtures.Amenities) > 0 {
		if err := s.amenities.UpsertAmenities(ctx, s.fixtures.Amenities); err != nil {
			return 0, fmt.Errorf("seed amenities: %w", err)
		}
	}
	s.log.WithContext(ctx).WithField("owner_id", ownerID).Infof("seeded %d listings", len(s.fixtures.Listings))
	return len(s.fixtures.Listings), nil
}

func (s *Service) demoOwnerID(ctx context.Context) (string, bool) {
	var email string
	for _, u := range s.fixtures.Users {
		if u.Role == string(account.RoleOwner) {
			email = u.Email
			break
		}
	}
	if email == "" {
		return "", false
	}
	idents, err := s.idp.ListUsers(ctx)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("look up demo owner")
		return "", false
	}
	ident, ok := findIdentity(idents, email)
	return ident.ID, ok
}

func findIdentity(idents []identity.Identity, email string) (identity.Identity, bool) {
	for _, ident := range idents {
		if account.SameEmail(ident.Email, email) {
			return ident, true
		}
	}
	return identity.Identity{}, false
}

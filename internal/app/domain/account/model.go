package account

import (
	"strings"
	"time"
)

// Role is the stored role of a profile.
type Role string

const (
	RoleStudent Role = "student"
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleOwner, RoleAdmin:
		return true
	}
	return false
}

// Profile is the application-side user record stored under user:<id>.
type Profile struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	Phone        string     `json:"phone,omitempty"`
	Avatar       string     `json:"avatar,omitempty"`
	Course       string     `json:"course,omitempty"`
	RollNo       string     `json:"rollNo,omitempty"`
	Gender       string     `json:"gender,omitempty"`
	BusinessName string     `json:"businessName,omitempty"`
	Verified     bool       `json:"verified,omitempty"`
	IsActive     *bool      `json:"isActive,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

// Active reports whether the account may use the API. Profiles written
// before the flag existed count as active.
func (p Profile) Active() bool {
	return p.IsActive == nil || *p.IsActive
}

// SetActive stores the flag explicitly.
func (p *Profile) SetActive(active bool) {
	p.IsActive = &active
}

// SameEmail compares addresses case-insensitively.
func SameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

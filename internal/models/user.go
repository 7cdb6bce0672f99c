package models

import (
	"strings"
	"time"
)

// User represents an application user stored in the users table. Role names
// are loaded from the membership table and attached by the repository.
type User struct {
	ID             string     `db:"id"`
	Email          string     `db:"email"`
	PasswordHash   string     `db:"password_hash"`
	FirstName      string     `db:"first_name"`
	LastName       string     `db:"last_name"`
	PhoneNumber    string     `db:"phone_number"`
	Active         bool       `db:"active"`
	EmailConfirmed bool       `db:"email_confirmed"`
	FailedLogins   int        `db:"failed_logins"`
	LockedUntil    *time.Time `db:"locked_until"`
	LastLogin      *time.Time `db:"last_login"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`

	Roles []string `db:"-"`
}

// FullName joins the name parts for display.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsLocked reports whether the lockout window is still open.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Active    *bool
	Role      string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
}

// UserInfo is the outward-facing projection of a User.
type UserInfo struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	PhoneNumber string     `json:"phoneNumber,omitempty"`
	Active      bool       `json:"active"`
	Roles       []string   `json:"roles"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// NewUserInfo projects a User onto its transport shape.
func NewUserInfo(u *User) UserInfo {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return UserInfo{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		PhoneNumber: u.PhoneNumber,
		Active:      u.Active,
		Roles:       roles,
		LastLogin:   u.LastLogin,
		CreatedAt:   u.CreatedAt,
	}
}

// UserPage bundles a page of users with its pagination metadata.
type UserPage struct {
	Items      []UserInfo `json:"items"`
	Pagination Pagination `json:"pagination"`
}

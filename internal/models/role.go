package models

import "time"

// Well-known role names seeded by the migrations.
const (
	RoleUser  = "User"
	RoleAdmin = "Admin"
)

// Role represents a named role with independent lifecycle. Users relate to
// roles many-to-many through the user_roles table.
type Role struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description *string   `db:"description"`
	Active      bool      `db:"active"`
	CreatedAt   time.Time `db:"created_at"`
}

// RoleInfo is the outward-facing projection of a Role.
type RoleInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewRoleInfo projects a Role onto its transport shape.
func NewRoleInfo(r *Role) RoleInfo {
	info := RoleInfo{
		ID:        r.ID,
		Name:      r.Name,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
	}
	if r.Description != nil {
		info.Description = *r.Description
	}
	return info
}

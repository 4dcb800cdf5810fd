package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// UserProfile is the per-user record. Role and Credits are admin-writable.
type UserProfile struct {
	UserID      string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	Credits     int64     `json:"credits"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Account is a login identity held by the local identity store.
type Account struct {
	UID          string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity is a verified caller.
type Identity struct {
	UID     string
	Email   string
	IsAdmin bool
}

// Maintenance is the process-wide banner flag.
type Maintenance struct {
	IsEnabled bool      `json:"isEnabled"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

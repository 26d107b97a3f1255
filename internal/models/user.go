package models

import "time"

// UserRole identifies what a participant is allowed to do inside the app.
type UserRole string

const (
	RoleUser      UserRole = "USER"
	RoleCounselor UserRole = "COUNSELOR"
	RoleAdmin     UserRole = "ADMIN"
)

// User represents a participant created during onboarding. The hybrid store
// owns the canonical copy; LastSeen is mutated only by the presence heartbeat.
type User struct {
	ID       string    `json:"id"`
	Nickname string    `json:"nickname"`
	Role     UserRole  `json:"role"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

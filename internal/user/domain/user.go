package domain

import "time"

// User is the core user entity. A user is created on first successful
// authentication via any provider; Email may be back-filled later by linking.
type User struct {
	ID              string
	Email           string // optional; unique when present
	EmailVerifiedAt *time.Time
	Role            Role
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

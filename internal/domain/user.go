// Package domain contains core domain types for the clue hunt application.
package domain

import (
	"time"
)

// Role is the capability set a session token grants.
type Role string

const (
	// RoleTeacher may author activities and read attempt reports.
	RoleTeacher Role = "teacher"
	// RoleLearner may view activities and submit answers.
	RoleLearner Role = "learner"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleLearner
}

// User represents an authenticated participant.
type User struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanAuthor returns true if the user may edit activities.
func (u *User) CanAuthor() bool {
	return u.Role == RoleTeacher
}

// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a login identity owned by the backend auth service.
//
// Application code never sees PasswordHash — the json:"-" tag keeps it out of
// every response, including /api/auth/check.
//
// WHY GitHubID *int64?
// Password users have no GitHub account. A nil pointer stores as NULL, and
// SQLite's UNIQUE constraint ignores NULLs, so many password users can coexist
// while each GitHub account still maps to exactly one user.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	GitHubID     *int64    `json:"githubId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

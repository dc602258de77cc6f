package model

import "time"

// Profile is the public face of a user account.
//
// ID is the auth user's ID, so a profile and its login share one key.
// Username and Email are both UNIQUE in the profiles table; the auth state
// store looks profiles up by email because that's what the session carries.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

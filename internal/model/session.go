package model

import "time"

// Session is a backend-issued login session.
//
// The row stores only the refresh token; AccessToken is a signed JWT minted on
// sign-in and on every refresh and is never persisted. Its "jti" claim is the
// session ID, so revoking the row invalidates every access token issued for it.
type Session struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
}

// Active reports whether the session can still be used at time now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Package auth holds the credential primitives behind the backend auth API:
// signed access tokens, refresh tokens, bcrypt password hashing, the GitHub
// OAuth provider and the HTTP middleware that reads tokens off requests.
//
// SESSION MODEL:
//  1. Sign-in creates a session row and returns two tokens
//  2. The access token is a short-lived JWT; its "jti" claim is the session ID
//  3. The refresh token is an opaque random string stored on the session row
//  4. Refreshing rotates the refresh token and mints a new access token
//  5. Sign-out revokes the row, which kills every access token issued for it
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims → {"sub":"userID","jti":"sessionID","email":"…","exp":…}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
//
// The signature and expiry are checked here without a DB lookup. Whether the
// session behind the token is still alive is the backend's call.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/snippet-share/internal/apperror"
)

const issuer = "snippet-share"

// DefaultAccessTTL is how long an access token lives before it must be
// refreshed.
const DefaultAccessTTL = 15 * time.Minute

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret key used to sign and verify tokens. The backend
// API key from config doubles as this secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret. A ttl of
// zero means DefaultAccessTTL.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: token secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// Claims is the access token payload.
//
// Subject is the user ID and ID ("jti") the session ID. Email rides along
// because the auth state store looks the profile up by email.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// SessionID returns the session the token was issued for.
func (c *Claims) SessionID() string { return c.ID }

// UserID returns the user the token was issued to.
func (c *Claims) UserID() string { return c.Subject }

// Generate signs a new access token for the session and returns it together
// with its expiry.
//
// Signing algorithm: HS256 (HMAC-SHA256), symmetric, same key for signing
// and verifying.
func (s *TokenService) Generate(userID, sessionID, email string) (string, time.Time, error) {
	return s.generate(userID, sessionID, email, s.ttl)
}

func (s *TokenService) generate(userID, sessionID, email string, d time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(d)

	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    issuer,
		},
		Email: email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, expires, nil
}

// Validate parses and verifies an access token.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired
//   - Issuer matches (prevents tokens from other apps)
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
//
// Every failure is an apperror.ErrUnauthorized so handlers answer 401.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &apperror.AppError{Err: apperror.ErrUnauthorized, Message: "session expired", Cause: err}
		}
		return nil, &apperror.AppError{Err: apperror.ErrUnauthorized, Message: "invalid session token", Cause: err}
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperror.Unauthorized("invalid session token")
	}
	if c.Subject == "" || c.ID == "" {
		return nil, apperror.Unauthorized("session token has no subject")
	}

	return c, nil
}

// NewRefreshToken returns 32 random bytes, hex encoded.
//
// Refresh tokens are bearer secrets and must not be guessable, unlike xid IDs.
func NewRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

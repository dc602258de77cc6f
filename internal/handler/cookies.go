package handler

import (
	"net/http"
	"time"

	"github.com/sakif/snippet-share/internal/auth"
	"github.com/sakif/snippet-share/internal/backend"
)

const (
	oauthStateCookie = "oauth_state"
	oauthNextCookie  = "oauth_next"

	// oauthCookieTTL is long enough to approve the app on GitHub.
	oauthCookieTTL = 10 * time.Minute
)

// CookieConfig controls the session cookies.
type CookieConfig struct {
	// Secure marks cookies HTTPS-only. Leave false for local development.
	Secure bool
}

// setSession stores the access and refresh tokens as HttpOnly cookies.
//
// HttpOnly = JavaScript cannot read the cookie (XSS protection).
// SameSite=Lax = sent on top-level navigations but not cross-site POSTs.
func (c CookieConfig) setSession(w http.ResponseWriter, resp *backend.AuthResponse) {
	now := time.Now()
	http.SetCookie(w, c.cookie(auth.AccessCookie, resp.Session.AccessToken, resp.AccessExpiresAt.Sub(now)))
	http.SetCookie(w, c.cookie(auth.RefreshCookie, resp.Session.RefreshToken, resp.Session.ExpiresAt.Sub(now)))
}

func (c CookieConfig) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(auth.AccessCookie, "", -1))
	http.SetCookie(w, c.cookie(auth.RefreshCookie, "", -1))
}

// cookie builds an HttpOnly cookie. A negative ttl deletes it.
func (c CookieConfig) cookie(name, value string, ttl time.Duration) *http.Cookie {
	maxAge := int(ttl.Seconds())
	if ttl < 0 {
		maxAge = -1
	} else if maxAge == 0 {
		maxAge = 1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

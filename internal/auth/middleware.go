package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Cookie names. The access token cookie keeps the name "token" so existing
// browser sessions and the /api/auth/check consumer keep working.
const (
	AccessCookie  = "token"
	RefreshCookie = "refresh_token"
)

// contextKey is an unexported type so no other package can read or shadow
// the values stored here.
type contextKey string

const (
	claimsKey contextKey = "claims"
	tokenKey  contextKey = "accessToken"
)

// RequireAuth rejects requests without a valid access token with 401.
//
// The token is read from the "token" HttpOnly cookie, or from an
// "Authorization: Bearer" header for non-browser clients. Only signature and
// expiry are checked here; whether the session has been revoked is answered
// by the backend when the handler loads the auth state.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, claims, err := extract(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "unauthorized",
					"message": "valid authentication required",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), raw, claims)))
		})
	}
}

// OptionalAuth attaches the session if a valid token is present but never
// blocks the request. Used on the feed, where anonymous readers are welcome
// but signed-in users also see their own votes.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw, claims, err := extract(r, tokens); err == nil {
				r = r.WithContext(withSession(r.Context(), raw, claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext returns the validated token claims, or (nil, false) for
// an anonymous request.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// AccessTokenFromContext returns the raw access token the request carried.
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok && t != ""
}

// TokenFromRequest reads the access token from the cookie or the
// Authorization header without validating it.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func withSession(ctx context.Context, raw string, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, tokenKey, raw)
	return context.WithValue(ctx, claimsKey, claims)
}

func extract(r *http.Request, tokens *TokenService) (string, *Claims, error) {
	raw := TokenFromRequest(r)
	if raw == "" {
		return "", nil, http.ErrNoCookie
	}
	claims, err := tokens.Validate(raw)
	if err != nil {
		return "", nil, err
	}
	return raw, claims, nil
}

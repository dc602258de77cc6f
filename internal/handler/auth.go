package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/auth"
	"github.com/sakif/snippet-share/internal/authstate"
	"github.com/sakif/snippet-share/internal/service"
)

// AuthHandler serves the account forms, the session endpoints and the
// GitHub OAuth flow.
//
// DEPENDENCY CHAIN:
//   - accounts → form flows (register, sign in, password, profile)
//   - states   → per-session auth state, for the profile endpoints
//   - oauth    → builds the GitHub authorize URL (nil when not configured)
type AuthHandler struct {
	accounts *service.AccountService
	states   *authstate.Manager
	oauth    auth.OAuthProvider
	cookies  CookieConfig
	logger   *slog.Logger
}

func NewAuthHandler(
	accounts *service.AccountService,
	states *authstate.Manager,
	oauth auth.OAuthProvider,
	cookies CookieConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		states:   states,
		oauth:    oauth,
		cookies:  cookies,
		logger:   logger,
	}
}

// CheckResponse is the body of GET /api/auth/check.
type CheckResponse struct {
	Authenticated bool   `json:"authenticated"`
	User          any    `json:"user,omitempty"`
	Error         string `json:"error,omitempty"`
}

// HandleCheck reports whether the request carries a live session.
//
// HTTP: GET /api/auth/check
//
//	200 {"authenticated": true, "user": {...}}
//	401 {"authenticated": false, "error": "..."}
//	500 {"error": "Internal Server Error"}
//
// The backend is asked directly, so a revoked session reads as signed out
// even while its access token is unexpired.
func (h *AuthHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.CurrentUser(r.Context(), auth.TokenFromRequest(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, CheckResponse{Authenticated: true, User: user})
	case errors.Is(err, apperror.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, CheckResponse{Error: apperror.UserMessage(err, "")})
	default:
		h.logger.Error("session check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
}

// HandleCheckEmail validates the register form's email as the user types.
//
// HTTP: POST /api/auth/check-email {"email": "..."}
func (h *AuthHandler) HandleCheckEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err, "")
		return
	}
	if err := h.accounts.CheckEmail(body.Email); err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleRegister creates an account and its profile. The user signs in
// afterwards.
//
// HTTP: POST /api/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var form service.RegisterForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, err, "")
		return
	}

	profile, err := h.accounts.Register(r.Context(), form)
	if err != nil {
		writeError(w, err, "An error occurred during registration")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"profile": profile,
		"message": "Registration successful! You can now sign in.",
	})
}

// HandleSignIn signs in with email and password and sets the session
// cookies.
//
// HTTP: POST /api/auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var form service.SignInForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, err, "")
		return
	}

	resp, err := h.accounts.SignIn(r.Context(), form)
	if err != nil {
		writeError(w, err, "An error occurred during sign in")
		return
	}

	h.cookies.setSession(w, resp)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      resp.User,
		"expiresAt": resp.AccessExpiresAt,
	})
}

// HandleSignOut revokes the session and clears the cookies. Clearing
// happens even if the backend call fails, so the browser is signed out
// either way.
//
// HTTP: POST /api/auth/signout
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	err := h.accounts.SignOut(r.Context(), auth.TokenFromRequest(r))
	h.cookies.clearSession(w)
	if err != nil && !errors.Is(err, apperror.ErrUnauthorized) {
		writeError(w, err, "Failed to sign out")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

// HandleRefresh trades the refresh cookie for a new pair of tokens.
//
// HTTP: POST /api/auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if c, err := r.Cookie(auth.RefreshCookie); err == nil {
		refreshToken = c.Value
	}

	resp, err := h.accounts.RefreshSession(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			h.cookies.clearSession(w)
		}
		writeError(w, err, "Failed to refresh session")
		return
	}

	h.cookies.setSession(w, resp)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      resp.User,
		"expiresAt": resp.AccessExpiresAt,
	})
}

// HandleChangePassword changes the signed-in user's password.
//
// HTTP: POST /api/auth/password
// Auth: Required
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var form service.PasswordForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, err, "")
		return
	}

	token, _ := auth.AccessTokenFromContext(r.Context())
	if err := h.accounts.ChangePassword(r.Context(), token, form); err != nil {
		writeError(w, err, "Failed to change password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

// HandleProfile returns the session's auth state: user, session, profile
// and the pool counters.
//
// HTTP: GET /api/profile
// Auth: Required
func (h *AuthHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	st, ok := currentState(r, h.states)
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"), "")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleUpdateProfile changes username and name, then refreshes the
// session's auth state so the next read sees the change.
//
// HTTP: PUT /api/profile
// Auth: Required
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var form service.ProfileForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, err, "")
		return
	}

	token, _ := auth.AccessTokenFromContext(r.Context())
	profile, err := h.accounts.UpdateProfile(r.Context(), token, form)
	if err != nil {
		writeError(w, err, "Failed to update profile")
		return
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		if st, found := h.states.Lookup(claims.SessionID()); found {
			if err := st.Refresh(r.Context()); err != nil {
				h.logger.Warn("refreshing auth state after profile update", slog.String("error", err.Error()))
			}
		}
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login?next=/profile
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived cookie and into the authorize URL.
// The callback only proceeds when the two match. next is remembered in a
// second cookie so the callback can send the user back where they started.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		http.Redirect(w, r, "/signin?error=oauth_unavailable", http.StatusSeeOther)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, h.cookies.cookie(oauthStateCookie, state, oauthCookieTTL))
	if next := safeNext(r.URL.Query().Get("next")); next != "/" {
		http.SetCookie(w, h.cookies.cookie(oauthNextCookie, url.QueryEscape(next), oauthCookieTTL))
	}

	http.Redirect(w, r, h.oauth.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes an OAuth sign-in.
//
// HTTP: GET /auth/callback?code=xxx&state=yyy&next=/profile
//
// FLOW:
//  1. Check the state against the cookie (CSRF)
//  2. Exchange the code for a session (and a profile on first sign-in)
//  3. Set the session cookies
//  4. Redirect to next, or "/"
//
// Any failure redirects to /signin. No code at all just goes home.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	next := q.Get("next")
	if c, err := r.Cookie(oauthNextCookie); next == "" && err == nil {
		next, _ = url.QueryUnescape(c.Value)
	}
	next = safeNext(next)

	stateCookie, stateErr := r.Cookie(oauthStateCookie)
	http.SetCookie(w, h.cookies.cookie(oauthStateCookie, "", -1))
	http.SetCookie(w, h.cookies.cookie(oauthNextCookie, "", -1))

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("auth callback: provider returned an error", slog.String("error", errParam))
		http.Redirect(w, r, "/signin", http.StatusSeeOther)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.logger.Info("auth callback: no code provided")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if stateErr != nil || stateCookie.Value == "" || q.Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Redirect(w, r, "/signin", http.StatusSeeOther)
		return
	}

	resp, err := h.accounts.CompleteOAuth(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: exchange failed", slog.String("error", err.Error()))
		http.Redirect(w, r, "/signin", http.StatusSeeOther)
		return
	}

	h.logger.Info("user authenticated via OAuth", slog.String("userID", resp.User.ID))
	h.cookies.setSession(w, resp)
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// safeNext keeps redirects on this site: only absolute local paths are
// allowed, and "//host" or "/\host" (protocol-relative) are not.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

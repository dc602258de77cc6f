package handler

import (
	"net/http"

	"github.com/sakif/snippet-share/internal/auth"
	"github.com/sakif/snippet-share/internal/authstate"
)

// currentState loads the auth state for the request's session. ok is false
// for anonymous requests and for sessions the backend no longer accepts.
//
// It relies on RequireAuth or OptionalAuth having put the claims in the
// context.
func currentState(r *http.Request, states *authstate.Manager) (authstate.State, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return authstate.State{}, false
	}
	token, _ := auth.AccessTokenFromContext(r.Context())
	st := states.Load(r.Context(), claims.SessionID(), token).State()
	return st, st.Authenticated()
}

// viewerName is the signed-in user's username, or "" for anonymous readers
// and users who haven't created a profile yet.
func viewerName(r *http.Request, states *authstate.Manager) string {
	st, ok := currentState(r, states)
	if !ok || st.Profile == nil {
		return ""
	}
	return st.Profile.Username
}

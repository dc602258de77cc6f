package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPages(t *testing.T) {
	e := newEnv(t)
	token := e.signIn(t).Session.AccessToken

	h, err := NewPageHandler(e.states, true, testLogger())
	require.NoError(t, err)

	tests := []struct {
		name     string
		handle   http.HandlerFunc
		path     string
		signedIn bool
		status   int
		location string
		contains string
	}{
		{"index", h.HandleIndex, "/", false, http.StatusOK, "", "<title>Snippets · Snippet Share</title>"},
		{"signin", h.HandleSignIn, "/signin", false, http.StatusOK, "", "Sign in"},
		{"signin when signed in", h.HandleSignIn, "/signin", true, http.StatusSeeOther, "/", ""},
		{"register", h.HandleRegister, "/register", false, http.StatusOK, "", "Register"},
		{"profile signed out", h.HandleProfile, "/profile", false, http.StatusSeeOther, "/signin", ""},
		{"profile signed in", h.HandleProfile, "/profile", true, http.StatusOK, "", "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.signedIn {
				req = e.withAuth(req, token)
			}
			rec := httptest.NewRecorder()
			tt.handle(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.location != "" {
				assert.Equal(t, tt.location, rec.Header().Get("Location"))
			}
			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}
		})
	}
}

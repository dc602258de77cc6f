// Package handler contains the HTTP request handlers.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming HTTP request (query params, body, cookies)
//  2. Call the service layer
//  3. Write the HTTP response (status code, headers, body)
//
// Handlers hold no business rules: they are the glue between HTTP and the
// services, and the place where error kinds become status codes.
package handler

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/sakif/snippet-share/internal/authstate"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

// PageHandler renders the HTML pages. The pages are thin: they render the
// auth state into the layout and leave the rest to the JSON API.
//
// TEMPLATE COMPOSITION:
// Every page is parsed together with base.html. base.html defines the
// layout with a {{template "content" .}} placeholder, and each page file
// fills it with {{define "content"}}...{{end}}.
type PageHandler struct {
	pages        map[string]*template.Template
	states       *authstate.Manager
	oauthEnabled bool
	logger       *slog.Logger
}

// PageData is what every page template receives.
type PageData struct {
	Title        string
	State        authstate.State
	SignedIn     bool
	OAuthEnabled bool
	Languages    []string
	Limits       map[string]int
	Next         string
	Error        string
}

func NewPageHandler(states *authstate.Manager, oauthEnabled bool, logger *slog.Logger) (*PageHandler, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{"index", "signin", "register", "profile"} {
		tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, err
		}
		pages[name] = tmpl
	}

	return &PageHandler{
		pages:        pages,
		states:       states,
		oauthEnabled: oauthEnabled,
		logger:       logger,
	}, nil
}

// HandleIndex serves the feed page.
func (h *PageHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "index", "Snippets")
}

// HandleSignIn serves the sign-in form. Signed-in users go home.
func (h *PageHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentState(r, h.states); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.render(w, r, "signin", "Sign in")
}

// HandleRegister serves the registration form.
func (h *PageHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "register", "Register")
}

// HandleProfile serves the profile page. It is the one protected page:
// anyone without a live session is sent to /signin.
func (h *PageHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentState(r, h.states); !ok {
		http.Redirect(w, r, "/signin", http.StatusSeeOther)
		return
	}
	h.render(w, r, "profile", "Profile")
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, page, title string) {
	st, signedIn := currentState(r, h.states)
	data := PageData{
		Title:        title + " · Snippet Share",
		State:        st,
		SignedIn:     signedIn,
		OAuthEnabled: h.oauthEnabled,
		Languages:    model.Languages,
		Limits: map[string]int{
			"title":       service.MaxTitleLength,
			"description": service.MaxDescriptionLength,
			"code":        service.MaxCodeLength,
			"comment":     service.MaxCommentLength,
		},
		Next:  safeNext(r.URL.Query().Get("next")),
		Error: r.URL.Query().Get("error"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.pages[page].ExecuteTemplate(w, "base", data); err != nil {
		h.logger.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

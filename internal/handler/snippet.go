package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/snippet-share/internal/authstate"
	"github.com/sakif/snippet-share/internal/feed"
	"github.com/sakif/snippet-share/internal/service"
)

// SnippetHandler serves snippet CRUD, votes and comments.
//
// Ownership is by username: the handler resolves the signed-in user's
// profile through the auth state and hands the username to the services,
// which enforce owner-only edits.
type SnippetHandler struct {
	snippets *service.SnippetService
	comments *service.CommentService
	voter    *feed.Voter
	states   *authstate.Manager
	logger   *slog.Logger
}

func NewSnippetHandler(
	snippets *service.SnippetService,
	comments *service.CommentService,
	voter *feed.Voter,
	states *authstate.Manager,
	logger *slog.Logger,
) *SnippetHandler {
	return &SnippetHandler{
		snippets: snippets,
		comments: comments,
		voter:    voter,
		states:   states,
		logger:   logger,
	}
}

// HandleList returns one page of snippets.
//
// HTTP: GET /api/snippets?limit=20&offset=0
func (h *SnippetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	snippets, err := h.snippets.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err, "Failed to load snippets")
		return
	}
	writeJSON(w, http.StatusOK, snippets)
}

// HandleGetByID returns one snippet.
//
// HTTP: GET /api/snippets/{id}
func (h *SnippetHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	snippet, err := h.snippets.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "Failed to load snippet")
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleCreate saves a new snippet owned by the signed-in user.
//
// HTTP: POST /api/snippets
// Auth: Required
func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	form, err := decodeSnippetForm(w, r)
	if err != nil {
		writeError(w, err, "")
		return
	}

	snippet, err := h.snippets.Create(r.Context(), viewerName(r, h.states), form)
	if err != nil {
		writeError(w, err, "Failed to create snippet")
		return
	}
	writeJSON(w, http.StatusCreated, snippet)
}

// HandleUpdate edits a snippet. Only its owner may.
//
// HTTP: PUT /api/snippets/{id}
// Auth: Required
func (h *SnippetHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	form, err := decodeSnippetForm(w, r)
	if err != nil {
		writeError(w, err, "")
		return
	}

	snippet, err := h.snippets.Update(r.Context(), viewerName(r, h.states), chi.URLParam(r, "id"), form)
	if err != nil {
		writeError(w, err, "Failed to update snippet")
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleDelete removes a snippet with its votes and comments.
//
// HTTP: DELETE /api/snippets/{id}
// Auth: Required
func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.snippets.Delete(r.Context(), viewerName(r, h.states), chi.URLParam(r, "id")); err != nil {
		writeError(w, err, "Failed to delete snippet")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VoteRequest is the body of a vote. Sending the same polarity twice takes
// the vote back.
type VoteRequest struct {
	IsUpvote bool `json:"isUpvote"`
}

// HandleVote casts the signed-in user's vote and returns the new tally.
//
// HTTP: POST /api/snippets/{id}/vote {"isUpvote": true}
// Auth: Required
func (h *SnippetHandler) HandleVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, "")
		return
	}

	tally, err := h.voter.Vote(r.Context(), viewerName(r, h.states), chi.URLParam(r, "id"), req.IsUpvote)
	if err != nil {
		writeError(w, err, "Failed to record vote")
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

// HandleListComments returns a snippet's comments, oldest first.
//
// HTTP: GET /api/snippets/{id}/comments
func (h *SnippetHandler) HandleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.comments.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "Failed to load comments")
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// HandleAddComment posts a comment.
//
// HTTP: POST /api/snippets/{id}/comments {"content": "..."}
// Auth: Required
func (h *SnippetHandler) HandleAddComment(w http.ResponseWriter, r *http.Request) {
	var form service.CommentForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, err, "")
		return
	}

	comment, err := h.comments.Add(r.Context(), viewerName(r, h.states), chi.URLParam(r, "id"), form)
	if err != nil {
		writeError(w, err, "Failed to post comment")
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// HandleDeleteComment removes a comment. Only its author may.
//
// HTTP: DELETE /api/comments/{id}
// Auth: Required
func (h *SnippetHandler) HandleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := h.comments.Delete(r.Context(), viewerName(r, h.states), chi.URLParam(r, "id")); err != nil {
		writeError(w, err, "Failed to delete comment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// snippetBody accepts tags either as a list or as the comma separated text
// the form's input produces.
type snippetBody struct {
	service.SnippetForm
	TagsText string `json:"tagsText"`
}

func decodeSnippetForm(w http.ResponseWriter, r *http.Request) (service.SnippetForm, error) {
	var body snippetBody
	if err := decodeJSON(w, r, &body); err != nil {
		return service.SnippetForm{}, err
	}
	if body.TagsText != "" {
		body.Tags = append(body.Tags, service.ParseTags(body.TagsText)...)
	}
	return body.SnippetForm, nil
}

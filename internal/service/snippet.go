package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/backend"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/repository"
)

// Validation constants.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxCodeLength        = 100000 // ~100KB of code
	MaxTags              = 20
	MaxTagLength         = 50
	DefaultListLimit     = 20
	MaxListLimit         = 100
)

// SnippetForm is the new/edit snippet form. Tags may arrive as a list or,
// from a plain text input, as one comma separated string (see ParseTags).
type SnippetForm struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=2000"`
	Code        string   `json:"code" validate:"required,max=100000"`
	Language    string   `json:"language" validate:"required,language"`
	Tags        []string `json:"tags" validate:"max=20,dive,max=50"`
}

// SnippetService handles business logic for code snippets.
type SnippetService struct {
	pool   Pool
	logger *slog.Logger
}

func NewSnippetService(p Pool, logger *slog.Logger) *SnippetService {
	return &SnippetService{
		pool:   p,
		logger: logger.With(slog.String("component", "snippets")),
	}
}

// Create validates, cleans and saves a new snippet owned by username.
func (s *SnippetService) Create(ctx context.Context, username string, form SnippetForm) (*model.Snippet, error) {
	if username == "" {
		return nil, apperror.Unauthorized("You must be logged in to submit a snippet")
	}
	form, err := prepare(form)
	if err != nil {
		return nil, err
	}

	snippet := &model.Snippet{
		Title:       form.Title,
		Description: form.Description,
		Code:        form.Code,
		Language:    form.Language,
		Tags:        form.Tags,
		Username:    username,
	}

	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (*model.Snippet, error) {
		if err := be.Snippets().Create(ctx, snippet); err != nil {
			s.logger.Error("failed to create snippet",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("service: creating snippet: %w", err)
		}

		s.logger.Info("snippet created",
			slog.String("id", snippet.ID),
			slog.String("username", username),
		)
		return snippet, nil
	})
}

// Get returns one snippet.
func (s *SnippetService) Get(ctx context.Context, id string) (*model.Snippet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "snippet ID is required")
	}
	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (*model.Snippet, error) {
		return be.Snippets().GetByID(ctx, id)
	})
}

// List returns one page of snippets, newest first. limit is clamped to
// 1..MaxListLimit and defaults to DefaultListLimit.
func (s *SnippetService) List(ctx context.Context, limit, offset int) ([]model.Snippet, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) ([]model.Snippet, error) {
		snippets, err := be.Snippets().List(ctx, repository.ListOptions{Limit: limit, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("service: listing snippets: %w", err)
		}
		return snippets, nil
	})
}

// Update replaces the editable fields of a snippet. Only its owner may.
func (s *SnippetService) Update(ctx context.Context, username, id string, form SnippetForm) (*model.Snippet, error) {
	if username == "" {
		return nil, apperror.Unauthorized("Sign in to edit snippets")
	}
	form, err := prepare(form)
	if err != nil {
		return nil, err
	}

	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (*model.Snippet, error) {
		snippet, err := be.Snippets().GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if snippet.Username != username {
			return nil, apperror.Forbidden("You can only edit your own snippets")
		}

		snippet.Title = form.Title
		snippet.Description = form.Description
		snippet.Code = form.Code
		snippet.Language = form.Language
		snippet.Tags = form.Tags

		if err := be.Snippets().Update(ctx, snippet); err != nil {
			s.logger.Error("failed to update snippet",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("service: updating snippet: %w", err)
		}

		s.logger.Info("snippet updated", slog.String("id", id))
		return snippet, nil
	})
}

// Delete removes a snippet along with its votes and comments. Only its
// owner may.
func (s *SnippetService) Delete(ctx context.Context, username, id string) error {
	if username == "" {
		return apperror.Unauthorized("Sign in to delete snippets")
	}

	_, err := withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (struct{}, error) {
		snippet, err := be.Snippets().GetByID(ctx, id)
		if err != nil {
			return struct{}{}, err
		}
		if snippet.Username != username {
			return struct{}{}, apperror.Forbidden("You can only delete your own snippets")
		}
		if err := be.Snippets().Delete(ctx, id); err != nil {
			return struct{}{}, fmt.Errorf("service: deleting snippet: %w", err)
		}

		s.logger.Info("snippet deleted", slog.String("id", id))
		return struct{}{}, nil
	})
	return err
}

// prepare trims, cleans and validates a snippet form.
func prepare(form SnippetForm) (SnippetForm, error) {
	form.Title = strings.TrimSpace(form.Title)
	form.Description = strings.TrimSpace(form.Description)
	form.Language = strings.TrimSpace(form.Language)
	form.Tags = CleanTags(form.Tags)
	if strings.TrimSpace(form.Code) == "" {
		form.Code = ""
	}

	if err := check(form); err != nil {
		return form, err
	}
	form.Code = SanitizeCode(form.Code)
	return form, nil
}

// setStatement matches a line that starts with a SQL SET command.
var setStatement = regexp.MustCompile(`(?im)^\s*set\s+`)

// SanitizeCode puts every statement on its own line and comments out SET
// commands, which the backend refuses to store.
//
//	"set x = 1; select 1;" → "-- set x = 1;\n select 1;"
func SanitizeCode(code string) string {
	code = strings.ReplaceAll(code, ";", ";\n")
	code = setStatement.ReplaceAllString(code, "-- set ")
	return strings.TrimSpace(code)
}

// CleanTags trims tags and drops blanks and duplicates, keeping the first
// occurrence's position.
func CleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ParseTags splits a comma separated tag input and cleans the result.
func ParseTags(s string) []string {
	return CleanTags(strings.Split(s, ","))
}

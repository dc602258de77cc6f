package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/backend"
	"github.com/sakif/snippet-share/internal/model"
)

const MaxCommentLength = 2000

type CommentForm struct {
	Content string `json:"content" validate:"required,max=2000"`
}

// CommentService lists, posts and deletes snippet comments.
type CommentService struct {
	pool   Pool
	logger *slog.Logger
}

func NewCommentService(p Pool, logger *slog.Logger) *CommentService {
	return &CommentService{
		pool:   p,
		logger: logger.With(slog.String("component", "comments")),
	}
}

// List returns a snippet's comments, oldest first.
func (s *CommentService) List(ctx context.Context, snippetID string) ([]model.Comment, error) {
	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) ([]model.Comment, error) {
		comments, err := be.Comments().ListBySnippet(ctx, snippetID)
		if err != nil {
			return nil, fmt.Errorf("service: listing comments: %w", err)
		}
		return comments, nil
	})
}

// Add posts a comment by username on a snippet.
func (s *CommentService) Add(ctx context.Context, username, snippetID string, form CommentForm) (*model.Comment, error) {
	if username == "" {
		return nil, apperror.Unauthorized("Sign in to comment")
	}
	form.Content = strings.TrimSpace(form.Content)
	if err := check(form); err != nil {
		return nil, err
	}

	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (*model.Comment, error) {
		if _, err := be.Snippets().GetByID(ctx, snippetID); err != nil {
			return nil, err
		}

		comment := &model.Comment{SnippetID: snippetID, Username: username, Content: form.Content}
		if err := be.Comments().Create(ctx, comment); err != nil {
			return nil, fmt.Errorf("service: posting comment: %w", err)
		}

		s.logger.Info("comment posted",
			slog.String("id", comment.ID),
			slog.String("snippetID", snippetID),
		)
		return comment, nil
	})
}

// Delete removes a comment. Only its author may.
func (s *CommentService) Delete(ctx context.Context, username, id string) error {
	if username == "" {
		return apperror.Unauthorized("Sign in to delete comments")
	}

	_, err := withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (struct{}, error) {
		comment, err := be.Comments().GetByID(ctx, id)
		if err != nil {
			return struct{}{}, err
		}
		if comment.Username != username {
			return struct{}{}, apperror.Forbidden("You can only delete your own comments")
		}
		if err := be.Comments().Delete(ctx, id); err != nil {
			return struct{}{}, fmt.Errorf("service: deleting comment: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

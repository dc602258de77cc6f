// Package repository declares the table-level contracts of the backend data
// service. The sqlite subpackage implements all of them on one *sqlite.DB.
package repository

import (
	"context"
	"time"

	"github.com/sakif/snippet-share/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// SnippetRepository is the snippets table. List returns newest first.
type SnippetRepository interface {
	Create(ctx context.Context, snippet *model.Snippet) error
	GetByID(ctx context.Context, id string) (*model.Snippet, error)
	List(ctx context.Context, opts ListOptions) ([]model.Snippet, error)
	Update(ctx context.Context, snippet *model.Snippet) error
	Delete(ctx context.Context, id string) error
}

// VoteRepository is the snippet_votes table.
// Upsert writes with ON CONFLICT(snippet_id, username), so there's never more
// than one row per pair.
type VoteRepository interface {
	Upsert(ctx context.Context, vote *model.Vote) error
	Get(ctx context.Context, snippetID, username string) (*model.Vote, error)
	Delete(ctx context.Context, snippetID, username string) error
	ListAll(ctx context.Context) ([]model.Vote, error)
	ListBySnippet(ctx context.Context, snippetID string) ([]model.Vote, error)
}

// CommentRepository is the snippet_comments table. ListBySnippet returns
// oldest first.
type CommentRepository interface {
	Create(ctx context.Context, comment *model.Comment) error
	GetByID(ctx context.Context, id string) (*model.Comment, error)
	ListBySnippet(ctx context.Context, snippetID string) ([]model.Comment, error)
	ListAll(ctx context.Context) ([]model.Comment, error)
	Delete(ctx context.Context, id string) error
}

// ProfileRepository is the profiles table.
type ProfileRepository interface {
	Create(ctx context.Context, profile *model.Profile) error
	GetByID(ctx context.Context, id string) (*model.Profile, error)
	GetByEmail(ctx context.Context, email string) (*model.Profile, error)
	GetByUsername(ctx context.Context, username string) (*model.Profile, error)
	Update(ctx context.Context, profile *model.Profile) error
}

// UserRepository holds auth identities. Only the backend auth API uses it.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	LinkGitHub(ctx context.Context, id string, githubID int64) error
}

// SessionRepository holds login sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*model.Session, error)
	RotateRefreshToken(ctx context.Context, id, refreshToken string, expiresAt time.Time) error
	RevokeSession(ctx context.Context, id string, at time.Time) error
}

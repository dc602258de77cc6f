// Package backend is the data service the app talks to: an auth API plus the
// profiles, snippets, snippet_votes and snippet_comments tables.
//
// The app treats it as an external collaborator and only ever sees the
// Service interface. Client is the one concrete implementation, running on
// embedded SQLite so the whole thing starts with a single binary.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/snippet-share/internal/auth"
	"github.com/sakif/snippet-share/internal/repository"
	"github.com/sakif/snippet-share/internal/repository/sqlite"
)

// Service is everything the app may call on the backend. One value is
// shared by every lease the pool hands out, so implementations must be safe
// for concurrent use.
type Service interface {
	Auth() AuthAPI
	Snippets() repository.SnippetRepository
	Votes() repository.VoteRepository
	Comments() repository.CommentRepository
	Profiles() repository.ProfileRepository
}

// Config describes how to reach the backend.
type Config struct {
	// URL is the SQLite database path, e.g. "data/snippets.db" or ":memory:".
	URL string
	// APIKey signs session access tokens.
	APIKey string

	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	BcryptCost          int
	AllowedEmailDomains []string
	Retry               RetryPolicy
}

// Client implements Service.
type Client struct {
	db       *sqlite.DB
	auth     *Auth
	tokens   *auth.TokenService
	snippets repository.SnippetRepository
	votes    repository.VoteRepository
	comments repository.CommentRepository
	profiles repository.ProfileRepository
}

var _ Service = (*Client)(nil)

// New opens the database and wires the auth API. oauth may be nil.
func New(cfg Config, oauth auth.OAuthProvider, logger *slog.Logger) (*Client, error) {
	tokens, err := auth.NewTokenService(cfg.APIKey, cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}

	db, err := sqlite.New(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}

	logger = logger.With(slog.String("component", "backend"))
	policy := cfg.Retry
	if policy.Attempts == 0 {
		policy = DefaultRetryPolicy
	}

	a := NewAuth(
		db.Users(),
		db.Sessions(),
		tokens,
		auth.NewPasswordService(cfg.BcryptCost),
		AuthOptions{
			AllowedEmailDomains: cfg.AllowedEmailDomains,
			RefreshTTL:          cfg.RefreshTTL,
			OAuth:               oauth,
		},
		logger,
	)

	return &Client{
		db:       db,
		auth:     a,
		tokens:   tokens,
		snippets: retryingSnippets{SnippetRepository: db.Snippets(), policy: policy, logger: logger},
		votes:    retryingVotes{VoteRepository: db.Votes(), policy: policy, logger: logger},
		comments: retryingComments{CommentRepository: db.Comments(), policy: policy, logger: logger},
		profiles: retryingProfiles{ProfileRepository: db.Profiles(), policy: policy, logger: logger},
	}, nil
}

func (c *Client) Auth() AuthAPI { return c.auth }
func (c *Client) Snippets() repository.SnippetRepository { return c.snippets }
func (c *Client) Votes() repository.VoteRepository { return c.votes }
func (c *Client) Comments() repository.CommentRepository { return c.comments }
func (c *Client) Profiles() repository.ProfileRepository { return c.profiles }

// Tokens returns the service that validates access tokens. The HTTP
// middleware uses it to read sessions off requests without a round trip.
func (c *Client) Tokens() *auth.TokenService { return c.tokens }

// Ping checks the backend is reachable.
func (c *Client) Ping(ctx context.Context) error { return c.db.Ping(ctx) }

// Close stops event delivery and closes the database.
func (c *Client) Close() error {
	c.auth.close()
	return c.db.Close()
}

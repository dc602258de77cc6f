package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/repository"
)

// RetryPolicy controls how read operations are retried.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy: three attempts, one second base, doubling.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: time.Second}

// retryRead runs op until it succeeds, fails with a non-transient error, or
// runs out of attempts. Only connection and timeout kinds are retried; a
// not-found or validation error comes straight back.
func retryRead[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, name string, op func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !apperror.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		if attempt < attempts {
			logger.Warn("backend read failed, retrying",
				slog.String("op", name),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)))

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if err != nil && ctx.Err() != nil && !errors.As(err, new(*apperror.AppError)) {
		return v, apperror.Timeout(name, err)
	}
	return v, err
}

// The wrappers below embed a table and override its reads. Writes pass
// through untouched: retrying a write that may have landed is not safe.

type retryingSnippets struct {
	repository.SnippetRepository
	policy RetryPolicy
	logger *slog.Logger
}

func (r retryingSnippets) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	return retryRead(ctx, r.policy, r.logger, "snippets.get", func(ctx context.Context) (*model.Snippet, error) {
		return r.SnippetRepository.GetByID(ctx, id)
	})
}

func (r retryingSnippets) List(ctx context.Context, opts repository.ListOptions) ([]model.Snippet, error) {
	return retryRead(ctx, r.policy, r.logger, "snippets.list", func(ctx context.Context) ([]model.Snippet, error) {
		return r.SnippetRepository.List(ctx, opts)
	})
}

type retryingVotes struct {
	repository.VoteRepository
	policy RetryPolicy
	logger *slog.Logger
}

func (r retryingVotes) Get(ctx context.Context, snippetID, username string) (*model.Vote, error) {
	return retryRead(ctx, r.policy, r.logger, "votes.get", func(ctx context.Context) (*model.Vote, error) {
		return r.VoteRepository.Get(ctx, snippetID, username)
	})
}

func (r retryingVotes) ListAll(ctx context.Context) ([]model.Vote, error) {
	return retryRead(ctx, r.policy, r.logger, "votes.list", r.VoteRepository.ListAll)
}

func (r retryingVotes) ListBySnippet(ctx context.Context, snippetID string) ([]model.Vote, error) {
	return retryRead(ctx, r.policy, r.logger, "votes.list_by_snippet", func(ctx context.Context) ([]model.Vote, error) {
		return r.VoteRepository.ListBySnippet(ctx, snippetID)
	})
}

type retryingComments struct {
	repository.CommentRepository
	policy RetryPolicy
	logger *slog.Logger
}

func (r retryingComments) GetByID(ctx context.Context, id string) (*model.Comment, error) {
	return retryRead(ctx, r.policy, r.logger, "comments.get", func(ctx context.Context) (*model.Comment, error) {
		return r.CommentRepository.GetByID(ctx, id)
	})
}

func (r retryingComments) ListBySnippet(ctx context.Context, snippetID string) ([]model.Comment, error) {
	return retryRead(ctx, r.policy, r.logger, "comments.list_by_snippet", func(ctx context.Context) ([]model.Comment, error) {
		return r.CommentRepository.ListBySnippet(ctx, snippetID)
	})
}

func (r retryingComments) ListAll(ctx context.Context) ([]model.Comment, error) {
	return retryRead(ctx, r.policy, r.logger, "comments.list", r.CommentRepository.ListAll)
}

type retryingProfiles struct {
	repository.ProfileRepository
	policy RetryPolicy
	logger *slog.Logger
}

func (r retryingProfiles) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	return retryRead(ctx, r.policy, r.logger, "profiles.get", func(ctx context.Context) (*model.Profile, error) {
		return r.ProfileRepository.GetByID(ctx, id)
	})
}

func (r retryingProfiles) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	return retryRead(ctx, r.policy, r.logger, "profiles.get_by_email", func(ctx context.Context) (*model.Profile, error) {
		return r.ProfileRepository.GetByEmail(ctx, email)
	})
}

func (r retryingProfiles) GetByUsername(ctx context.Context, username string) (*model.Profile, error) {
	return retryRead(ctx, r.policy, r.logger, "profiles.get_by_username", func(ctx context.Context) (*model.Profile, error) {
		return r.ProfileRepository.GetByUsername(ctx, username)
	})
}

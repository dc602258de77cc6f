package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/backend"
	"github.com/sakif/snippet-share/internal/model"
)

// Voter records votes.
type Voter struct {
	pool   Pool
	logger *slog.Logger
}

func NewVoter(p Pool, logger *slog.Logger) *Voter {
	return &Voter{pool: p, logger: logger.With(slog.String("component", "voter"))}
}

// Vote casts viewer's vote on a snippet.
//
// Voting the same way twice takes the vote back. Voting the other way, or
// for the first time, upserts on (snippet, username), so there is never more
// than one row per pair. The returned tally is computed from the snippet's
// votes as re-read after the write, never adjusted locally.
func (v *Voter) Vote(ctx context.Context, viewer, snippetID string, up bool) (Tally, error) {
	if viewer == "" {
		return Tally{}, apperror.Unauthorized("Sign in to vote")
	}

	return withLease(ctx, v.pool, func(ctx context.Context, be backend.Service) (Tally, error) {
		if _, err := be.Snippets().GetByID(ctx, snippetID); err != nil {
			return Tally{}, fmt.Errorf("feed: voting: %w", err)
		}

		existing, err := be.Votes().Get(ctx, snippetID, viewer)
		switch {
		case err == nil && existing.IsUpvote == up:
			if err := be.Votes().Delete(ctx, snippetID, viewer); err != nil && !errors.Is(err, apperror.ErrNotFound) {
				return Tally{}, fmt.Errorf("feed: removing vote: %w", err)
			}
		case err == nil || errors.Is(err, apperror.ErrNotFound):
			vote := &model.Vote{SnippetID: snippetID, Username: viewer, IsUpvote: up}
			if err := be.Votes().Upsert(ctx, vote); err != nil {
				return Tally{}, fmt.Errorf("feed: recording vote: %w", err)
			}
		default:
			return Tally{}, fmt.Errorf("feed: reading vote: %w", err)
		}

		votes, err := be.Votes().ListBySnippet(ctx, snippetID)
		if err != nil {
			return Tally{}, fmt.Errorf("feed: re-reading votes: %w", err)
		}
		t := TallyVotes(votes, viewer)[snippetID]

		v.logger.Debug("vote recorded",
			slog.String("snippetID", snippetID),
			slog.String("username", viewer),
			slog.String("userVote", string(t.Mine)),
		)
		return t, nil
	})
}

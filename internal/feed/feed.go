// Package feed assembles the snippet feed: the snippets themselves, their
// vote tallies and their comment counts, plus the filtering and voting that
// happen on top.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/backend"
	"github.com/sakif/snippet-share/internal/metrics"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/pool"
	"github.com/sakif/snippet-share/internal/repository"
)

// DefaultFetchTimeout bounds the snippet fetch.
const DefaultFetchTimeout = 30 * time.Second

// MsgRequestTimedOut is the snippet section's error when FetchTimeout fires.
const MsgRequestTimedOut = "Request timed out"

// Pool is the lease pool the aggregator borrows the backend from.
type Pool interface {
	Acquire(ctx context.Context) (*pool.Lease[backend.Service], error)
	Release(l *pool.Lease[backend.Service])
}

// Feed is one load of the three sections. Each section has its own error;
// a failed section leaves its data empty and the others intact.
type Feed struct {
	Snippets      []model.Snippet  `json:"snippets"`
	SnippetsError string           `json:"snippetsError,omitempty"`
	Tallies       map[string]Tally `json:"tallies"`
	TalliesError  string           `json:"talliesError,omitempty"`
	Comments      map[string]int   `json:"commentCounts"`
	CommentsError string           `json:"commentsError,omitempty"`
}

// Item is a snippet joined with its tally and comment count.
type Item struct {
	model.Snippet
	Tally    Tally `json:"tally"`
	Comments int   `json:"commentCount"`
}

// Items joins the sections for the snippets that pass c.
func (f *Feed) Items(c Criteria) []Item {
	filtered := Filter(f.Snippets, c)
	out := make([]Item, 0, len(filtered))
	for _, s := range filtered {
		out = append(out, Item{Snippet: s, Tally: f.Tallies[s.ID], Comments: f.Comments[s.ID]})
	}
	return out
}

// OK reports whether every section loaded.
func (f *Feed) OK() bool {
	return f.SnippetsError == "" && f.TalliesError == "" && f.CommentsError == ""
}

// Aggregator loads the feed.
type Aggregator struct {
	pool         Pool
	fetchTimeout time.Duration
	logger       *slog.Logger
}

func NewAggregator(p Pool, fetchTimeout time.Duration, logger *slog.Logger) *Aggregator {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Aggregator{
		pool:         p,
		fetchTimeout: fetchTimeout,
		logger:       logger.With(slog.String("component", "feed")),
	}
}

// Load fetches the three sections concurrently, each under its own lease.
// viewer is the signed-in username, or empty for anonymous readers; it only
// decides Tally.Mine.
//
// Load itself never fails: section errors are reported on the Feed so the
// page can render what did arrive and offer a retry for the rest.
func (a *Aggregator) Load(ctx context.Context, viewer string) *Feed {
	f := &Feed{
		Snippets: []model.Snippet{},
		Tallies:  map[string]Tally{},
		Comments: map[string]int{},
	}

	// A plain Group, not WithContext: one failing section must not cancel
	// the other two.
	var g errgroup.Group

	g.Go(func() error {
		snippets, err := a.fetchSnippets(ctx)
		if err != nil {
			f.SnippetsError = a.sectionError("snippets", err, "Failed to load snippets")
			return nil
		}
		f.Snippets = snippets
		return nil
	})

	g.Go(func() error {
		votes, err := withLease(ctx, a.pool, func(ctx context.Context, be backend.Service) ([]model.Vote, error) {
			return be.Votes().ListAll(ctx)
		})
		if err != nil {
			f.TalliesError = a.sectionError("votes", err, "Failed to load votes")
			return nil
		}
		f.Tallies = TallyVotes(votes, viewer)
		return nil
	})

	g.Go(func() error {
		comments, err := withLease(ctx, a.pool, func(ctx context.Context, be backend.Service) ([]model.Comment, error) {
			return be.Comments().ListAll(ctx)
		})
		if err != nil {
			f.CommentsError = a.sectionError("comments", err, "Failed to load comments")
			return nil
		}
		f.Comments = CountComments(comments)
		return nil
	})

	g.Wait()
	return f
}

// fetchSnippets races the list call against fetchTimeout.
func (a *Aggregator) fetchSnippets(ctx context.Context) ([]model.Snippet, error) {
	ctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()

	snippets, err := withLease(ctx, a.pool, func(ctx context.Context, be backend.Service) ([]model.Snippet, error) {
		return be.Snippets().List(ctx, repository.ListOptions{})
	})
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &apperror.AppError{Err: apperror.ErrTimeout, Message: MsgRequestTimedOut, Cause: err}
	}
	return snippets, err
}

func (a *Aggregator) sectionError(section string, err error, fallback string) string {
	metrics.FeedSectionErrors.WithLabelValues(section).Inc()
	a.logger.Warn("feed section failed",
		slog.String("section", section),
		slog.String("error", err.Error()),
	)
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Message == MsgRequestTimedOut {
		return MsgRequestTimedOut
	}
	return apperror.UserMessage(err, fallback)
}

// withLease runs fn with a leased backend and always releases the lease.
func withLease[T any](ctx context.Context, p Pool, fn func(context.Context, backend.Service) (T, error)) (T, error) {
	lease, err := p.Acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer p.Release(lease)
	return fn(ctx, lease.Client())
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/repository"
)

var _ repository.VoteRepository = (*VoteStore)(nil)

// VoteStore is the snippet_votes table.
type VoteStore struct {
	conn *sql.DB
}

// Votes returns the snippet_votes table.
func (db *DB) Votes() *VoteStore {
	return &VoteStore{conn: db.conn}
}

// Upsert records a vote, replacing any earlier vote by the same user.
//
// ON CONFLICT ... DO UPDATE:
// The primary key is (snippet_id, username). A second vote by the same user
// hits the conflict target and flips is_upvote in place instead of adding a
// row. created_at keeps the time of the first vote.
func (st *VoteStore) Upsert(ctx context.Context, vote *model.Vote) error {
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = time.Now()
	}

	_, err := st.conn.ExecContext(ctx,
		`INSERT INTO snippet_votes (snippet_id, username, is_upvote, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(snippet_id, username) DO UPDATE SET is_upvote = excluded.is_upvote`,
		vote.SnippetID,
		vote.Username,
		vote.IsUpvote,
		vote.CreatedAt,
	)
	if err != nil {
		return classify(fmt.Sprintf("upserting vote on %s", vote.SnippetID), err)
	}
	return nil
}

// Get returns the user's vote on a snippet, or apperror.ErrNotFound.
func (st *VoteStore) Get(ctx context.Context, snippetID, username string) (*model.Vote, error) {
	var v model.Vote
	err := st.conn.QueryRowContext(ctx,
		`SELECT snippet_id, username, is_upvote, created_at
		 FROM snippet_votes WHERE snippet_id = ? AND username = ?`,
		snippetID, username,
	).Scan(&v.SnippetID, &v.Username, &v.IsUpvote, &v.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("vote", snippetID+"/"+username)
		}
		return nil, classify(fmt.Sprintf("getting vote on %s", snippetID), err)
	}
	return &v, nil
}

// Delete removes the user's vote on a snippet.
func (st *VoteStore) Delete(ctx context.Context, snippetID, username string) error {
	result, err := st.conn.ExecContext(ctx,
		`DELETE FROM snippet_votes WHERE snippet_id = ? AND username = ?`,
		snippetID, username,
	)
	if err != nil {
		return classify(fmt.Sprintf("deleting vote on %s", snippetID), err)
	}
	return rowsAffected(result, "vote", snippetID+"/"+username)
}

// ListAll returns every vote row. The feed tallies them in memory.
func (st *VoteStore) ListAll(ctx context.Context) ([]model.Vote, error) {
	return st.query(ctx, "listing votes",
		`SELECT snippet_id, username, is_upvote, created_at FROM snippet_votes`)
}

// ListBySnippet returns the votes on one snippet.
func (st *VoteStore) ListBySnippet(ctx context.Context, snippetID string) ([]model.Vote, error) {
	return st.query(ctx, "listing votes for "+snippetID,
		`SELECT snippet_id, username, is_upvote, created_at
		 FROM snippet_votes WHERE snippet_id = ?`, snippetID)
}

func (st *VoteStore) query(ctx context.Context, op, q string, args ...any) ([]model.Vote, error) {
	rows, err := st.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	votes := make([]model.Vote, 0)
	for rows.Next() {
		var v model.Vote
		if err := rows.Scan(&v.SnippetID, &v.Username, &v.IsUpvote, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning vote row: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return votes, nil
}

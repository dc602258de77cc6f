package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/repository"
)

var _ repository.CommentRepository = (*CommentStore)(nil)

// CommentStore is the snippet_comments table.
type CommentStore struct {
	conn *sql.DB
}

// Comments returns the snippet_comments table.
func (db *DB) Comments() *CommentStore {
	return &CommentStore{conn: db.conn}
}

const commentColumns = `id, snippet_id, username, content, created_at, updated_at`

func (st *CommentStore) Create(ctx context.Context, comment *model.Comment) error {
	comment.ID = xid.New().String()
	now := time.Now()
	comment.CreatedAt = now
	comment.UpdatedAt = now

	_, err := st.conn.ExecContext(ctx,
		`INSERT INTO snippet_comments (`+commentColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		comment.ID,
		comment.SnippetID,
		comment.Username,
		comment.Content,
		comment.CreatedAt,
		comment.UpdatedAt,
	)
	if err != nil {
		return classify("creating comment", err)
	}
	return nil
}

func (st *CommentStore) GetByID(ctx context.Context, id string) (*model.Comment, error) {
	var c model.Comment
	err := st.conn.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM snippet_comments WHERE id = ?`, id,
	).Scan(&c.ID, &c.SnippetID, &c.Username, &c.Content, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("comment", id)
		}
		return nil, classify(fmt.Sprintf("getting comment %s", id), err)
	}
	return &c, nil
}

// ListBySnippet returns a snippet's comments, oldest first.
func (st *CommentStore) ListBySnippet(ctx context.Context, snippetID string) ([]model.Comment, error) {
	return st.query(ctx, "listing comments for "+snippetID,
		`SELECT `+commentColumns+` FROM snippet_comments
		 WHERE snippet_id = ?
		 ORDER BY created_at ASC, id ASC`, snippetID)
}

// ListAll returns every comment. The feed only counts them.
func (st *CommentStore) ListAll(ctx context.Context) ([]model.Comment, error) {
	return st.query(ctx, "listing comments",
		`SELECT `+commentColumns+` FROM snippet_comments`)
}

func (st *CommentStore) Delete(ctx context.Context, id string) error {
	result, err := st.conn.ExecContext(ctx, `DELETE FROM snippet_comments WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Sprintf("deleting comment %s", id), err)
	}
	return rowsAffected(result, "comment", id)
}

func (st *CommentStore) query(ctx context.Context, op, q string, args ...any) ([]model.Comment, error) {
	rows, err := st.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	comments := make([]model.Comment, 0)
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.SnippetID, &c.Username, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning comment row: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return comments, nil
}

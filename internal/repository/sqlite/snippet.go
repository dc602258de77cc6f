package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// If *SnippetStore stops implementing repository.SnippetRepository, this line
// fails to compile — long before anything tries to use it.
var _ repository.SnippetRepository = (*SnippetStore)(nil)

// SnippetStore is the snippets table.
//
// WHY ONE STRUCT PER TABLE?
// Snippets and comments both want methods called Create, GetByID and Delete.
// A single *DB type can't have two methods with the same name, so each table
// gets a thin struct sharing the same connection pool.
type SnippetStore struct {
	conn *sql.DB
}

// Snippets returns the snippets table.
func (db *DB) Snippets() *SnippetStore {
	return &SnippetStore{conn: db.conn}
}

const snippetColumns = `id, title, description, code, language, tags, username, created_at, updated_at`

// Create inserts a new snippet. ID and timestamps are filled in on the
// caller's struct (pointer receiver!).
//
// TAGS AS JSON:
// SQLite has no array type. Tags are stored as a JSON array in a TEXT column
// and decoded on the way out; nil becomes "[]" so readers never see null.
func (st *SnippetStore) Create(ctx context.Context, snippet *model.Snippet) error {
	snippet.ID = xid.New().String()

	now := time.Now()
	snippet.CreatedAt = now
	snippet.UpdatedAt = now

	tags, err := encodeTags(snippet.Tags)
	if err != nil {
		return err
	}

	_, err = st.conn.ExecContext(ctx,
		`INSERT INTO snippets (`+snippetColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snippet.ID,
		snippet.Title,
		snippet.Description,
		snippet.Code,
		snippet.Language,
		tags,
		snippet.Username,
		snippet.CreatedAt,
		snippet.UpdatedAt,
	)
	if err != nil {
		return classify("creating snippet", err)
	}

	return nil
}

// GetByID retrieves a single snippet. sql.ErrNoRows becomes apperror.NotFound
// so the handler can answer 404.
func (st *SnippetStore) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	row := st.conn.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE id = ?`,
		id,
	)

	snippet, err := scanSnippet(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, classify(fmt.Sprintf("getting snippet %s", id), err)
	}

	return snippet, nil
}

// List returns snippets newest first.
//
// A Limit of zero means "everything": the feed loads the full list and filters
// it in memory.
func (st *SnippetStore) List(ctx context.Context, opts repository.ListOptions) ([]model.Snippet, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: LIMIT -1 means no limit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := st.conn.QueryContext(ctx,
		`SELECT `+snippetColumns+`
		 FROM snippets
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, classify("listing snippets", err)
	}
	// CRITICAL: always close rows when done!
	defer rows.Close()

	snippets := make([]model.Snippet, 0)
	for rows.Next() {
		s, err := scanSnippet(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning snippet row: %w", err)
		}
		snippets = append(snippets, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("iterating snippets", err)
	}

	return snippets, nil
}

// Update rewrites the editable fields. id, username and created_at never change.
func (st *SnippetStore) Update(ctx context.Context, snippet *model.Snippet) error {
	snippet.UpdatedAt = time.Now()

	tags, err := encodeTags(snippet.Tags)
	if err != nil {
		return err
	}

	result, err := st.conn.ExecContext(ctx,
		`UPDATE snippets
		 SET title = ?, description = ?, code = ?, language = ?, tags = ?, updated_at = ?
		 WHERE id = ?`,
		snippet.Title,
		snippet.Description,
		snippet.Code,
		snippet.Language,
		tags,
		snippet.UpdatedAt,
		snippet.ID,
	)
	if err != nil {
		return classify(fmt.Sprintf("updating snippet %s", snippet.ID), err)
	}

	return rowsAffected(result, "snippet", snippet.ID)
}

// Delete removes a snippet. Its votes and comments go with it (ON DELETE CASCADE).
func (st *SnippetStore) Delete(ctx context.Context, id string) error {
	result, err := st.conn.ExecContext(ctx, `DELETE FROM snippets WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Sprintf("deleting snippet %s", id), err)
	}

	return rowsAffected(result, "snippet", id)
}

// scanner is satisfied by both *sql.Row and *sql.Rows, so one scan function
// serves GetByID and List.
type scanner interface {
	Scan(dest ...any) error
}

func scanSnippet(row scanner) (*model.Snippet, error) {
	var (
		s    model.Snippet
		tags string
	)
	if err := row.Scan(
		&s.ID, &s.Title, &s.Description, &s.Code, &s.Language,
		&tags, &s.Username, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &s.Tags); err != nil {
		return nil, fmt.Errorf("sqlite: decoding tags for snippet %s: %w", s.ID, err)
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	return &s, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("sqlite: encoding tags: %w", err)
	}
	return string(b), nil
}

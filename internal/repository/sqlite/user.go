package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/repository"
)

// compile-time check that *UserStore implements repository.UserRepository
var _ repository.UserRepository = (*UserStore)(nil)

// UserStore is the users table (login identities).
type UserStore struct {
	conn *sql.DB
}

// Users returns the users table.
func (db *DB) Users() *UserStore {
	return &UserStore{conn: db.conn}
}

const userColumns = `id, email, password_hash, github_id, created_at, updated_at`

// CreateUser inserts a new identity. Emails are stored lower-cased so lookups
// don't depend on how the user typed them.
func (st *UserStore) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.ID = xid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := st.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.GitHubID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return classify("creating user", err)
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (st *UserStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return st.getBy(ctx, "id", id, id)
}

func (st *UserStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return st.getBy(ctx, "email", email, email)
}

func (st *UserStore) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	return st.getBy(ctx, "github_id", githubID, fmt.Sprintf("github:%d", githubID))
}

func (st *UserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := st.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now(), id,
	)
	if err != nil {
		return classify(fmt.Sprintf("updating password for %s", id), err)
	}
	return rowsAffected(result, "user", id)
}

// LinkGitHub attaches a GitHub account to an existing email identity.
func (st *UserStore) LinkGitHub(ctx context.Context, id string, githubID int64) error {
	result, err := st.conn.ExecContext(ctx,
		`UPDATE users SET github_id = ?, updated_at = ? WHERE id = ?`,
		githubID, time.Now(), id,
	)
	if err != nil {
		return classify(fmt.Sprintf("linking github account to %s", id), err)
	}
	return rowsAffected(result, "user", id)
}

func (st *UserStore) getBy(ctx context.Context, column string, value any, label string) (*model.User, error) {
	var (
		u        model.User
		githubID sql.NullInt64
	)
	err := st.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &githubID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", label)
		}
		return nil, classify(fmt.Sprintf("getting user by %s", column), err)
	}
	if githubID.Valid {
		id := githubID.Int64
		u.GitHubID = &id
	}
	return &u, nil
}

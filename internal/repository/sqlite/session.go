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

var _ repository.SessionRepository = (*SessionStore)(nil)

// SessionStore is the sessions table.
type SessionStore struct {
	conn *sql.DB
}

// Sessions returns the sessions table.
func (db *DB) Sessions() *SessionStore {
	return &SessionStore{conn: db.conn}
}

const sessionColumns = `id, user_id, refresh_token, expires_at, created_at, revoked_at`

// CreateSession stores a session. The caller chooses ID and refresh token.
func (st *SessionStore) CreateSession(ctx context.Context, session *model.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	_, err := st.conn.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.RefreshToken,
		session.ExpiresAt,
		session.CreatedAt,
		session.RevokedAt,
	)
	if err != nil {
		return classify("creating session", err)
	}
	return nil
}

func (st *SessionStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return st.getBy(ctx, "id", id)
}

func (st *SessionStore) GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*model.Session, error) {
	return st.getBy(ctx, "refresh_token", refreshToken)
}

// RotateRefreshToken replaces the refresh token and extends the expiry.
// Revoked sessions are left alone and reported as not found.
func (st *SessionStore) RotateRefreshToken(ctx context.Context, id, refreshToken string, expiresAt time.Time) error {
	result, err := st.conn.ExecContext(ctx,
		`UPDATE sessions SET refresh_token = ?, expires_at = ?
		 WHERE id = ? AND revoked_at IS NULL`,
		refreshToken, expiresAt, id,
	)
	if err != nil {
		return classify(fmt.Sprintf("rotating session %s", id), err)
	}
	return rowsAffected(result, "session", id)
}

// RevokeSession marks a session as signed out. Revoking twice is a no-op.
func (st *SessionStore) RevokeSession(ctx context.Context, id string, at time.Time) error {
	_, err := st.conn.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		at, id,
	)
	if err != nil {
		return classify(fmt.Sprintf("revoking session %s", id), err)
	}
	return nil
}

func (st *SessionStore) getBy(ctx context.Context, column, value string) (*model.Session, error) {
	var (
		s       model.Session
		revoked sql.NullTime
	)
	err := st.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE `+column+` = ?`, value,
	).Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt, &revoked)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("session", value)
		}
		return nil, classify(fmt.Sprintf("getting session by %s", column), err)
	}
	if revoked.Valid {
		t := revoked.Time
		s.RevokedAt = &t
	}
	return &s, nil
}

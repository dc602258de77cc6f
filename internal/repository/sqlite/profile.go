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

var _ repository.ProfileRepository = (*ProfileStore)(nil)

// ProfileStore is the profiles table.
type ProfileStore struct {
	conn *sql.DB
}

// Profiles returns the profiles table.
func (db *DB) Profiles() *ProfileStore {
	return &ProfileStore{conn: db.conn}
}

// Create inserts a profile. The caller sets ID to the auth user's ID.
// A taken username or email comes back as apperror.ErrConflict.
func (st *ProfileStore) Create(ctx context.Context, profile *model.Profile) error {
	if profile.ID == "" {
		return apperror.ValidationFailed("id", "profile ID is required")
	}
	profile.CreatedAt = time.Now()

	_, err := st.conn.ExecContext(ctx,
		`INSERT INTO profiles (id, username, name, email, created_at) VALUES (?, ?, ?, ?, ?)`,
		profile.ID,
		profile.Username,
		profile.Name,
		profile.Email,
		profile.CreatedAt,
	)
	if err != nil {
		return classify("creating profile", err)
	}
	return nil
}

func (st *ProfileStore) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	return st.getBy(ctx, "id", id)
}

func (st *ProfileStore) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	return st.getBy(ctx, "email", email)
}

func (st *ProfileStore) GetByUsername(ctx context.Context, username string) (*model.Profile, error) {
	return st.getBy(ctx, "username", username)
}

// Update changes username and name. Email is the lookup key and stays put.
func (st *ProfileStore) Update(ctx context.Context, profile *model.Profile) error {
	result, err := st.conn.ExecContext(ctx,
		`UPDATE profiles SET username = ?, name = ? WHERE id = ?`,
		profile.Username,
		profile.Name,
		profile.ID,
	)
	if err != nil {
		return classify(fmt.Sprintf("updating profile %s", profile.ID), err)
	}
	return rowsAffected(result, "profile", profile.ID)
}

// getBy looks a profile up by one of its unique columns. column is always a
// constant from this file, never user input.
func (st *ProfileStore) getBy(ctx context.Context, column, value string) (*model.Profile, error) {
	var p model.Profile
	err := st.conn.QueryRowContext(ctx,
		`SELECT id, username, name, email, created_at FROM profiles WHERE `+column+` = ?`,
		value,
	).Scan(&p.ID, &p.Username, &p.Name, &p.Email, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("profile", value)
		}
		return nil, classify(fmt.Sprintf("getting profile by %s", column), err)
	}
	return &p, nil
}

package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/model"
)

func createTestProfile(t *testing.T, db *DB, username, email string) *model.Profile {
	t.Helper()
	user := createTestUser(t, db, email)
	p := &model.Profile{ID: user.ID, Username: username, Name: username, Email: user.Email}
	if err := db.Profiles().Create(context.Background(), p); err != nil {
		t.Fatalf("failed to create test profile: %v", err)
	}
	return p
}

func TestProfileLookups(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := createTestProfile(t, db, "alice", "alice@cribl.io")

	lookups := []struct {
		name string
		get  func() (*model.Profile, error)
	}{
		{"by id", func() (*model.Profile, error) { return db.Profiles().GetByID(ctx, p.ID) }},
		{"by email", func() (*model.Profile, error) { return db.Profiles().GetByEmail(ctx, "alice@cribl.io") }},
		{"by username", func() (*model.Profile, error) { return db.Profiles().GetByUsername(ctx, "alice") }},
	}

	for _, tt := range lookups {
		t.Run(tt.name, func(t *testing.T) {
			found, err := tt.get()
			if err != nil {
				t.Fatalf("lookup error = %v", err)
			}
			if found.ID != p.ID || found.Username != "alice" {
				t.Errorf("got %+v, want alice", found)
			}
		})
	}
}

func TestProfileCreate_RequiresID(t *testing.T) {
	db := newTestDB(t)

	err := db.Profiles().Create(context.Background(), &model.Profile{Username: "x", Email: "x@cribl.io"})

	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Create() error = %v, want ErrValidation", err)
	}
}

func TestProfileCreate_UsernameTaken(t *testing.T) {
	db := newTestDB(t)
	createTestProfile(t, db, "alice", "alice@cribl.io")
	other := createTestUser(t, db, "alice2@cribl.io")

	err := db.Profiles().Create(context.Background(), &model.Profile{ID: other.ID, Username: "alice", Email: other.Email})

	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Create() error = %v, want ErrConflict", err)
	}
}

func TestProfileUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := createTestProfile(t, db, "alice", "alice@cribl.io")

	p.Username = "alice_k"
	p.Name = "Alice K"
	if err := db.Profiles().Update(ctx, p); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	found, err := db.Profiles().GetByEmail(ctx, "alice@cribl.io")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if found.Username != "alice_k" || found.Name != "Alice K" {
		t.Errorf("got %q/%q, want alice_k/Alice K", found.Username, found.Name)
	}

	if _, err := db.Profiles().GetByUsername(ctx, "alice"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("old username lookup error = %v, want ErrNotFound", err)
	}
}

package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/model"
)

func createTestUser(t *testing.T, db *DB, email string) *model.User {
	t.Helper()
	user := &model.User{Email: email, PasswordHash: "$2a$10$hash"}
	if err := db.Users().CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// USER TESTS
// =========================================================================

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{Email: "  Alice@Cribl.io ", PasswordHash: "hash"}
	if err := db.Users().CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	if user.ID == "" {
		t.Error("CreateUser() did not set user.ID")
	}
	if user.Email != "alice@cribl.io" {
		t.Errorf("Email = %q, want it normalised to %q", user.Email, "alice@cribl.io")
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "alice@cribl.io")

	err := db.Users().CreateUser(context.Background(), &model.User{Email: "ALICE@cribl.io"})

	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("CreateUser() error = %v, want ErrConflict", err)
	}
}

func TestGetUserByEmail_CaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "alice@cribl.io")

	found, err := db.Users().GetUserByEmail(context.Background(), "Alice@Cribl.IO")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}
	if found.GitHubID != nil {
		t.Errorf("GitHubID = %v, want nil for a password user", *found.GitHubID)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Users().GetUserByID(ctx, "nope"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
	if _, err := db.Users().GetUserByEmail(ctx, "nobody@cribl.io"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByEmail() error = %v, want ErrNotFound", err)
	}
	if _, err := db.Users().GetUserByGitHubID(ctx, 42); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByGitHubID() error = %v, want ErrNotFound", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice@cribl.io")

	if err := db.Users().UpdatePassword(ctx, user.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}

	found, err := db.Users().GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if found.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q, want %q", found.PasswordHash, "new-hash")
	}

	if err := db.Users().UpdatePassword(ctx, "missing", "x"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdatePassword(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLinkGitHub(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice@cribl.io")

	if err := db.Users().LinkGitHub(ctx, user.ID, 12345); err != nil {
		t.Fatalf("LinkGitHub() error = %v", err)
	}

	found, err := db.Users().GetUserByGitHubID(ctx, 12345)
	if err != nil {
		t.Fatalf("GetUserByGitHubID() error = %v", err)
	}
	if found.ID != user.ID {
		t.Errorf("ID = %q, want %q", found.ID, user.ID)
	}
	if found.GitHubID == nil || *found.GitHubID != 12345 {
		t.Errorf("GitHubID = %v, want 12345", found.GitHubID)
	}
}

func TestLinkGitHub_AlreadyLinkedElsewhere(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "alice@cribl.io")
	bob := createTestUser(t, db, "bob@cribl.io")

	if err := db.Users().LinkGitHub(ctx, alice.ID, 7); err != nil {
		t.Fatalf("LinkGitHub() error = %v", err)
	}

	err := db.Users().LinkGitHub(ctx, bob.ID, 7)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("LinkGitHub() error = %v, want ErrConflict", err)
	}
}

// =========================================================================
// SESSION TESTS
// =========================================================================

func createTestSession(t *testing.T, db *DB, userID, id, refresh string) *model.Session {
	t.Helper()
	s := &model.Session{
		ID:           id,
		UserID:       userID,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := db.Sessions().CreateSession(context.Background(), s); err != nil {
		t.Fatalf("failed to create test session: %v", err)
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice@cribl.io")
	createTestSession(t, db, user.ID, "sess-1", "refresh-1")

	got, err := db.Sessions().GetSessionByRefreshToken(ctx, "refresh-1")
	if err != nil {
		t.Fatalf("GetSessionByRefreshToken() error = %v", err)
	}
	if got.ID != "sess-1" || got.UserID != user.ID {
		t.Errorf("got session %q for %q, want sess-1 for %q", got.ID, got.UserID, user.ID)
	}
	if !got.Active(time.Now()) {
		t.Error("fresh session should be active")
	}

	newExpiry := time.Now().Add(2 * time.Hour)
	if err := db.Sessions().RotateRefreshToken(ctx, "sess-1", "refresh-2", newExpiry); err != nil {
		t.Fatalf("RotateRefreshToken() error = %v", err)
	}
	if _, err := db.Sessions().GetSessionByRefreshToken(ctx, "refresh-1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("old refresh token error = %v, want ErrNotFound", err)
	}

	if err := db.Sessions().RevokeSession(ctx, "sess-1", time.Now()); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}
	revoked, err := db.Sessions().GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if revoked.RevokedAt == nil {
		t.Fatal("RevokedAt = nil after RevokeSession")
	}
	if revoked.Active(time.Now()) {
		t.Error("revoked session should not be active")
	}

	// Revoking twice is fine, rotating a revoked session is not.
	if err := db.Sessions().RevokeSession(ctx, "sess-1", time.Now()); err != nil {
		t.Errorf("second RevokeSession() error = %v", err)
	}
	if err := db.Sessions().RotateRefreshToken(ctx, "sess-1", "refresh-3", newExpiry); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("RotateRefreshToken() on revoked session error = %v, want ErrNotFound", err)
	}
}

func TestCreateSession_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	err := db.Sessions().CreateSession(context.Background(), &model.Session{
		ID: "s", UserID: "ghost", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour),
	})

	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("CreateSession() error = %v, want ErrConflict from the foreign key", err)
	}
}

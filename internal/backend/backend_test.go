package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	identity *auth.Identity
	err      error
}

func (f *fakeProvider) AuthURL(state string) string { return "https://example.test/authorize?state=" + state }

func (f *fakeProvider) Exchange(ctx context.Context, code string) (*auth.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

func newTestClient(t *testing.T, provider auth.OAuthProvider) *Client {
	t.Helper()
	c, err := New(Config{
		URL:                 ":memory:",
		APIKey:              "test-api-key-0123456789",
		BcryptCost:          bcrypt.MinCost,
		AllowedEmailDomains: []string{"cribl.io"},
		Retry:               RetryPolicy{Attempts: 1},
	}, provider, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func signUpAndIn(t *testing.T, c *Client, email, password string) *AuthResponse {
	t.Helper()
	ctx := context.Background()
	_, err := c.Auth().SignUp(ctx, email, password)
	require.NoError(t, err)
	resp, err := c.Auth().SignInWithPassword(ctx, email, password)
	require.NoError(t, err)
	return resp
}

func TestEmailDomainAllowed(t *testing.T) {
	tests := []struct {
		email   string
		domains []string
		want    bool
	}{
		{"alice@cribl.io", []string{"cribl.io"}, true},
		{"alice@CRIBL.IO", []string{"cribl.io"}, true},
		{"alice@gmail.com", []string{"cribl.io"}, false},
		{"alice@evil-cribl.io", []string{"cribl.io"}, false},
		{"no-at-sign", []string{"cribl.io"}, false},
		{"anyone@anywhere.com", nil, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EmailDomainAllowed(tt.email, tt.domains), tt.email)
	}
}

func TestSignUp(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	user, err := c.Auth().SignUp(ctx, "alice@cribl.io", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)

	_, err = c.Auth().SignUp(ctx, "alice@cribl.io", "again")
	assert.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, "User already registered", apperror.UserMessage(err, ""))

	_, err = c.Auth().SignUp(ctx, "mallory@gmail.com", "hunter22")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestSignInWithPassword(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()
	resp := signUpAndIn(t, c, "alice@cribl.io", "hunter22")

	assert.NotEmpty(t, resp.Session.AccessToken)
	assert.NotEmpty(t, resp.Session.RefreshToken)
	assert.True(t, resp.AccessExpiresAt.After(time.Now()))

	user, err := c.Auth().GetUser(ctx, resp.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, user.ID)

	session, err := c.Auth().GetSession(ctx, resp.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.Session.ID, session.ID)

	t.Run("wrong password", func(t *testing.T) {
		_, err := c.Auth().SignInWithPassword(ctx, "alice@cribl.io", "nope")
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})
	t.Run("unknown email", func(t *testing.T) {
		_, err := c.Auth().SignInWithPassword(ctx, "bob@cribl.io", "hunter22")
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})
}

func TestSignOut_RevokesSession(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()
	resp := signUpAndIn(t, c, "alice@cribl.io", "hunter22")

	require.NoError(t, c.Auth().SignOut(ctx, resp.Session.AccessToken))

	// The JWT itself is still well-formed and unexpired, but its session is gone.
	_, err := c.Auth().GetUser(ctx, resp.Session.AccessToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, err = c.Auth().RefreshSession(ctx, resp.Session.RefreshToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestRefreshSession_RotatesToken(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()
	resp := signUpAndIn(t, c, "alice@cribl.io", "hunter22")

	refreshed, err := c.Auth().RefreshSession(ctx, resp.Session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, resp.Session.ID, refreshed.Session.ID)
	assert.NotEqual(t, resp.Session.RefreshToken, refreshed.Session.RefreshToken)

	_, err = c.Auth().GetUser(ctx, refreshed.Session.AccessToken)
	assert.NoError(t, err)

	_, err = c.Auth().RefreshSession(ctx, resp.Session.RefreshToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized, "old refresh token must stop working")
}

func TestUpdatePassword(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()
	resp := signUpAndIn(t, c, "alice@cribl.io", "hunter22")

	require.NoError(t, c.Auth().UpdatePassword(ctx, resp.Session.AccessToken, "correct-horse"))

	_, err := c.Auth().SignInWithPassword(ctx, "alice@cribl.io", "hunter22")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	_, err = c.Auth().SignInWithPassword(ctx, "alice@cribl.io", "correct-horse")
	assert.NoError(t, err)
}

func TestExchangeCodeForSession(t *testing.T) {
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		c := newTestClient(t, nil)
		_, err := c.Auth().ExchangeCodeForSession(ctx, "code")
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("new user", func(t *testing.T) {
		c := newTestClient(t, &fakeProvider{identity: &auth.Identity{ProviderID: 7, Login: "alice", Email: "alice@cribl.io"}})

		resp, err := c.Auth().ExchangeCodeForSession(ctx, "code")
		require.NoError(t, err)
		require.NotNil(t, resp.Identity)
		assert.Equal(t, "alice", resp.Identity.Login)
		require.NotNil(t, resp.User.GitHubID)
		assert.Equal(t, int64(7), *resp.User.GitHubID)

		again, err := c.Auth().ExchangeCodeForSession(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, resp.User.ID, again.User.ID, "second login reuses the user")
	})

	t.Run("links existing password account", func(t *testing.T) {
		c := newTestClient(t, &fakeProvider{identity: &auth.Identity{ProviderID: 9, Login: "bob", Email: "bob@cribl.io"}})
		existing, err := c.Auth().SignUp(ctx, "bob@cribl.io", "hunter22")
		require.NoError(t, err)

		resp, err := c.Auth().ExchangeCodeForSession(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, existing.ID, resp.User.ID)
	})

	t.Run("outside allowed domain", func(t *testing.T) {
		c := newTestClient(t, &fakeProvider{identity: &auth.Identity{ProviderID: 3, Login: "eve", Email: "eve@gmail.com"}})
		_, err := c.Auth().ExchangeCodeForSession(ctx, "code")
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("provider failure", func(t *testing.T) {
		c := newTestClient(t, &fakeProvider{err: errors.New("bad code")})
		_, err := c.Auth().ExchangeCodeForSession(ctx, "code")
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})
}

func TestOnAuthStateChange(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		kinds []EventKind
	)
	sub := c.Auth().OnAuthStateChange(func(ev AuthEvent) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
	})

	resp := signUpAndIn(t, c, "alice@cribl.io", "hunter22")
	_, err := c.Auth().RefreshSession(ctx, resp.Session.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, c.Auth().SignOut(ctx, resp.Session.AccessToken))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []EventKind{SignedIn, TokenRefreshed, SignedOut}, kinds)
	mu.Unlock()

	sub.Unsubscribe()
	sub.Unsubscribe()
	signUpAndIn(t, c, "bob@cribl.io", "hunter22")
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, kinds, 3, "no events after unsubscribe")
}

func TestBrokerPublish_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := newBroker(discardLogger())
	release := make(chan struct{})

	var (
		mu        sync.Mutex
		delivered int
	)
	b.subscribe(func(AuthEvent) {
		<-release
		mu.Lock()
		defer mu.Unlock()
		delivered++
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			b.publish(AuthEvent{Kind: SignedIn})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	close(release)
	b.close()

	// One event may already be in the handler when the buffer fills.
	assert.GreaterOrEqual(t, delivered, subscriberBuffer)
	assert.LessOrEqual(t, delivered, subscriberBuffer+1)
}

// Package authstate keeps track of who is signed in.
//
// A Store holds the user, session and profile for one backend session and
// refreshes them from the backend. The Manager owns one Store per session
// and keeps them current by listening to the backend's auth events.
package authstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/backend"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/pool"
)

// Pool is the lease pool the store borrows the backend from.
type Pool interface {
	Acquire(ctx context.Context) (*pool.Lease[backend.Service], error)
	Release(l *pool.Lease[backend.Service])
	Stats() pool.Stats
}

// State is a snapshot of a Store. Error is the user-facing message of the
// last failed operation, empty after a clean refresh.
type State struct {
	User    *model.User    `json:"user"`
	Session *model.Session `json:"session"`
	Profile *model.Profile `json:"profile"`
	Loading bool           `json:"loading"`
	Error   string         `json:"error,omitempty"`
	Pool    pool.Stats     `json:"connectionStats"`
}

// Authenticated reports whether the snapshot has a signed-in user.
func (s State) Authenticated() bool { return s.User != nil }

// Store is safe for concurrent use.
//
// ORDERING:
// Every Refresh and SignOut takes a ticket from seq before it starts. Its
// result is published only if no operation with a later ticket has published
// already, so a slow refresh can't overwrite a newer one.
type Store struct {
	pool   Pool
	logger *slog.Logger

	seq atomic.Uint64

	mu          sync.RWMutex
	accessToken string
	state       State
	published   uint64
}

// NewStore creates a store for the session behind accessToken. It starts in
// the loading state; call Refresh to populate it.
func NewStore(p Pool, accessToken string, logger *slog.Logger) *Store {
	return &Store{
		pool:        p,
		logger:      logger,
		accessToken: accessToken,
		state:       State{Loading: true},
	}
}

// State returns the current snapshot with fresh pool counters.
func (s *Store) State() State {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()
	st.Pool = s.pool.Stats()
	return st
}

// expired reports whether the loaded session has passed its expiry. A store
// that has not loaded a session yet is not expired.
func (s *Store) expired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Session != nil && !now.Before(s.state.Session.ExpiresAt)
}

// SetAccessToken swaps in a new token after the session was refreshed.
func (s *Store) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
}

// AccessToken returns the token the store refreshes with.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// Refresh re-reads user and session concurrently, then the profile by the
// user's email.
//
// An unauthorized answer clears the identity: the session is gone. Any other
// failure keeps the identity fields from the previous refresh and records
// the error.
func (s *Store) Refresh(ctx context.Context) error {
	ticket := s.seq.Add(1)
	token := s.AccessToken()

	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		s.fail(ticket, err)
		return err
	}
	defer s.pool.Release(lease)
	be := lease.Client()

	var (
		user    *model.User
		session *model.Session
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := be.Auth().GetUser(gctx, token)
		user = u
		return err
	})
	g.Go(func() error {
		sess, err := be.Auth().GetSession(gctx, token)
		session = sess
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			s.publish(ticket, State{Error: apperror.UserMessage(err, "")})
			return err
		}
		s.fail(ticket, err)
		return err
	}

	next := State{User: user, Session: session}

	profile, err := be.Profiles().GetByEmail(ctx, user.Email)
	switch {
	case err == nil:
		next.Profile = profile
	case errors.Is(err, apperror.ErrNotFound):
		// Signed in but no profile yet (first OAuth login in flight).
	default:
		next.Error = apperror.UserMessage(err, "Failed to load profile")
		s.logger.Warn("profile lookup failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publish(ticket, next)
	return nil
}

// SignOut ends the backend session and clears the store. The store is
// cleared even when the backend call fails.
func (s *Store) SignOut(ctx context.Context) error {
	ticket := s.seq.Add(1)
	token := s.AccessToken()

	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		s.fail(ticket, err)
		return err
	}
	defer s.pool.Release(lease)

	err = lease.Client().Auth().SignOut(ctx, token)
	if err != nil && !errors.Is(err, apperror.ErrUnauthorized) {
		s.publish(ticket, State{Error: apperror.UserMessage(err, "Failed to sign out")})
		return err
	}
	s.Clear()
	return nil
}

// Clear drops the identity without calling the backend. Used when the
// backend reports the session signed out.
func (s *Store) Clear() {
	s.publish(s.seq.Add(1), State{})
}

func (s *Store) fail(ticket uint64, err error) {
	s.logger.Warn("auth refresh failed", slog.String("error", err.Error()))

	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket < s.published {
		return
	}
	s.published = ticket
	s.state.Loading = false
	s.state.Error = apperror.UserMessage(err, "Failed to load session")
}

// publish installs st if ticket is newer than the last published one and
// reports whether it did.
func (s *Store) publish(ticket uint64, st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket < s.published {
		s.logger.Debug("discarding stale auth state",
			slog.Uint64("ticket", ticket),
			slog.Uint64("published", s.published),
		)
		return false
	}
	s.published = ticket
	st.Loading = false
	s.state = st
	return true
}

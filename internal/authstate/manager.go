package authstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/snippet-share/internal/backend"
)

// eventRefreshTimeout bounds a refresh triggered by an auth event, which has
// no request context to inherit a deadline from.
const eventRefreshTimeout = 30 * time.Second

// sweepInterval is how often Start's background sweep drops stores whose
// session has expired.
const sweepInterval = time.Minute

// PrewarmPool is a Pool that can fill its idle set ahead of demand.
type PrewarmPool interface {
	Pool
	Prewarm()
}

// Manager owns one Store per backend session.
type Manager struct {
	pool   PrewarmPool
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store // by session ID
	sub    *backend.Subscription
	ctx    context.Context
	stop   chan struct{}
	done   chan struct{}

	now func() time.Time
}

func NewManager(p PrewarmPool, logger *slog.Logger) *Manager {
	return &Manager{
		pool:   p,
		logger: logger.With(slog.String("component", "authstate")),
		stores: make(map[string]*Store),
		now:    time.Now,
	}
}

// Start prewarms the pool, subscribes to the backend's auth events and starts
// sweeping expired sessions. ctx bounds the subscription call and is the
// parent of event-driven refreshes.
func (m *Manager) Start(ctx context.Context) error {
	m.pool.Prewarm()

	lease, err := m.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Release(lease)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = context.WithoutCancel(ctx)
	m.sub = lease.Client().Auth().OnAuthStateChange(m.handle)
	if m.stop == nil {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.sweepLoop(m.stop, m.done)
	}
	m.logger.Info("listening for auth events")
	return nil
}

// Close stops listening for auth events and stops the sweep.
func (m *Manager) Close() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	if stop != nil {
		close(stop)
		<-done
	}
}

func (m *Manager) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.sweep(); n > 0 {
				m.logger.Debug("expired auth states dropped", slog.Int("count", n))
			}
		case <-stop:
			return
		}
	}
}

// sweep drops every store whose session has expired and returns how many it
// dropped.
func (m *Manager) sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, st := range m.stores {
		if st.expired(now) {
			delete(m.stores, id)
			n++
		}
	}
	return n
}

// Load returns the store for a session, creating it and running the initial
// refresh the first time the session is seen. A token that differs from the
// store's (after a refresh elsewhere) is swapped in and re-read.
//
// A session the backend doesn't recognise is not kept, and neither is one
// whose refresh says it is no longer valid.
func (m *Manager) Load(ctx context.Context, sessionID, accessToken string) *Store {
	m.mu.Lock()
	st, ok := m.stores[sessionID]
	if ok && st.expired(m.now()) {
		delete(m.stores, sessionID)
		ok = false
	}
	if !ok {
		st = NewStore(m.pool, accessToken, m.logger.With(slog.String("sessionID", sessionID)))
		m.stores[sessionID] = st
	}
	m.mu.Unlock()

	if ok && st.AccessToken() == accessToken && !st.State().Loading {
		return st
	}
	st.SetAccessToken(accessToken)
	if err := st.Refresh(ctx); err != nil {
		// Also recorded in the store's State.Error.
		m.logger.Debug("auth state refresh failed",
			slog.String("sessionID", sessionID),
			slog.String("error", err.Error()),
		)
	}

	if !st.State().Authenticated() {
		m.drop(sessionID, st)
	}
	return st
}

// Lookup returns the store for a session without creating one. An expired
// session's store is dropped and not returned.
func (m *Manager) Lookup(sessionID string) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stores[sessionID]
	if ok && st.expired(m.now()) {
		delete(m.stores, sessionID)
		return nil, false
	}
	return st, ok
}

func (m *Manager) drop(sessionID string, st *Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stores[sessionID] == st {
		delete(m.stores, sessionID)
	}
}

// handle reacts to one auth event. Events for a session arrive in order.
func (m *Manager) handle(ev backend.AuthEvent) {
	log := m.logger.With(
		slog.String("event", string(ev.Kind)),
		slog.String("sessionID", ev.SessionID),
	)

	switch ev.Kind {
	case backend.SignedIn, backend.TokenRefreshed:
		m.mu.Lock()
		parent := m.ctx
		m.mu.Unlock()
		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := context.WithTimeout(parent, eventRefreshTimeout)
		defer cancel()

		st := m.Load(ctx, ev.SessionID, ev.AccessToken)
		log.Debug("auth state refreshed", slog.Bool("authenticated", st.State().Authenticated()))

	case backend.SignedOut:
		m.mu.Lock()
		st, ok := m.stores[ev.SessionID]
		delete(m.stores, ev.SessionID)
		m.mu.Unlock()
		if ok {
			st.Clear()
		}
		log.Debug("auth state cleared")
	}
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/auth"
	"github.com/sakif/snippet-share/internal/backend"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/pool"
	"github.com/sakif/snippet-share/internal/repository"
)

// =========================================================================
// FAKE BACKEND
// =========================================================================
//
// fakeBackend implements backend.Service in memory. Every accessor call is
// counted, so a test can assert that a flow was rejected before it touched
// the backend at all.

type fakeBackend struct {
	mu    sync.Mutex
	calls int

	auth     *fakeAuth
	snippets *fakeSnippets
	votes    *fakeVotes
	comments *fakeComments
	profiles *fakeProfiles
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		auth:     newFakeAuth(),
		snippets: &fakeSnippets{rows: map[string]*model.Snippet{}},
		votes:    &fakeVotes{},
		comments: &fakeComments{rows: map[string]*model.Comment{}},
		profiles: &fakeProfiles{rows: map[string]*model.Profile{}},
	}
}

func (f *fakeBackend) touch() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) Auth() backend.AuthAPI { f.touch(); return f.auth }
func (f *fakeBackend) Snippets() repository.SnippetRepository { f.touch(); return f.snippets }
func (f *fakeBackend) Votes() repository.VoteRepository { f.touch(); return f.votes }
func (f *fakeBackend) Comments() repository.CommentRepository { f.touch(); return f.comments }
func (f *fakeBackend) Profiles() repository.ProfileRepository { f.touch(); return f.profiles }

// ---- auth ----

type fakeUser struct {
	user     model.User
	password string
}

type fakeAuth struct {
	mu       sync.Mutex
	nextID   int
	users    map[string]*fakeUser // by email
	sessions map[string]string    // access token → email
	revoked  map[string]bool
	identity *backendIdentity // returned by ExchangeCodeForSession
	updated  map[string]string
}

// backendIdentity is what the fake OAuth exchange signs in as.
type backendIdentity struct {
	email string
	login string
	name  string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		users:    map[string]*fakeUser{},
		sessions: map[string]string{},
		revoked:  map[string]bool{},
		updated:  map[string]string{},
	}
}

func (a *fakeAuth) SignUp(_ context.Context, email, password string) (*model.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[email]; ok {
		return nil, apperror.Conflict("user", email)
	}
	a.nextID++
	u := &fakeUser{user: model.User{ID: fmt.Sprintf("user-%d", a.nextID), Email: email}, password: password}
	a.users[email] = u
	copied := u.user
	return &copied, nil
}

func (a *fakeAuth) openSession(u *fakeUser) *backend.AuthResponse {
	a.nextID++
	token := fmt.Sprintf("token-%d", a.nextID)
	a.sessions[token] = u.user.Email
	copied := u.user
	return &backend.AuthResponse{
		User:            &copied,
		Session:         &model.Session{ID: token, UserID: u.user.ID, AccessToken: token, RefreshToken: "r" + token},
		AccessExpiresAt: time.Now().Add(time.Hour),
	}
}

func (a *fakeAuth) SignInWithPassword(_ context.Context, email, password string) (*backend.AuthResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[email]
	if !ok || u.password != password {
		return nil, apperror.Unauthorized("Invalid login credentials")
	}
	return a.openSession(u), nil
}

func (a *fakeAuth) SignOut(_ context.Context, accessToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked[accessToken] = true
	return nil
}

func (a *fakeAuth) userFor(accessToken string) (*fakeUser, error) {
	email, ok := a.sessions[accessToken]
	if !ok || a.revoked[accessToken] {
		return nil, apperror.Unauthorized("invalid session")
	}
	return a.users[email], nil
}

func (a *fakeAuth) GetUser(_ context.Context, accessToken string) (*model.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, err := a.userFor(accessToken)
	if err != nil {
		return nil, err
	}
	copied := u.user
	return &copied, nil
}

func (a *fakeAuth) GetSession(_ context.Context, accessToken string) (*model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, err := a.userFor(accessToken)
	if err != nil {
		return nil, err
	}
	return &model.Session{ID: accessToken, UserID: u.user.ID, AccessToken: accessToken}, nil
}

func (a *fakeAuth) RefreshSession(_ context.Context, refreshToken string) (*backend.AuthResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	access := refreshToken[1:]
	u, err := a.userFor(access)
	if err != nil {
		return nil, err
	}
	return a.openSession(u), nil
}

func (a *fakeAuth) UpdatePassword(_ context.Context, accessToken, newPassword string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, err := a.userFor(accessToken)
	if err != nil {
		return err
	}
	u.password = newPassword
	a.updated[u.user.Email] = newPassword
	return nil
}

func (a *fakeAuth) ExchangeCodeForSession(_ context.Context, code string) (*backend.AuthResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if code != "good-code" || a.identity == nil {
		return nil, apperror.Unauthorized("invalid code")
	}
	u, ok := a.users[a.identity.email]
	if !ok {
		a.nextID++
		u = &fakeUser{user: model.User{ID: fmt.Sprintf("user-%d", a.nextID), Email: a.identity.email}}
		a.users[a.identity.email] = u
	}
	resp := a.openSession(u)
	resp.Identity = &auth.Identity{Login: a.identity.login, Name: a.identity.name, Email: a.identity.email}
	return resp, nil
}

func (a *fakeAuth) OnAuthStateChange(func(backend.AuthEvent)) *backend.Subscription {
	return nil
}

// ---- snippets ----

type fakeSnippets struct {
	mu     sync.Mutex
	nextID int
	rows   map[string]*model.Snippet
	err    error // returned by Create/Update when set
	opts   repository.ListOptions
}

func (f *fakeSnippets) Create(_ context.Context, s *model.Snippet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.nextID++
	s.ID = fmt.Sprintf("snip-%d", f.nextID)
	stored := *s
	f.rows[s.ID] = &stored
	return nil
}

func (f *fakeSnippets) GetByID(_ context.Context, id string) (*model.Snippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, apperror.NotFound("snippet", id)
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSnippets) List(_ context.Context, opts repository.ListOptions) ([]model.Snippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	out := make([]model.Snippet, 0, len(f.rows))
	for _, s := range f.rows {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if opts.Offset >= len(out) {
		return []model.Snippet{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeSnippets) Update(_ context.Context, s *model.Snippet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.rows[s.ID]; !ok {
		return apperror.NotFound("snippet", s.ID)
	}
	stored := *s
	f.rows[s.ID] = &stored
	return nil
}

func (f *fakeSnippets) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return apperror.NotFound("snippet", id)
	}
	delete(f.rows, id)
	return nil
}

// ---- votes ----

type fakeVotes struct {
	mu   sync.Mutex
	rows []model.Vote
}

func (f *fakeVotes) Upsert(_ context.Context, v *model.Vote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].SnippetID == v.SnippetID && f.rows[i].Username == v.Username {
			f.rows[i] = *v
			return nil
		}
	}
	f.rows = append(f.rows, *v)
	return nil
}

func (f *fakeVotes) Get(_ context.Context, snippetID, username string) (*model.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.rows {
		if v.SnippetID == snippetID && v.Username == username {
			copied := v
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("vote", snippetID)
}

func (f *fakeVotes) Delete(_ context.Context, snippetID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range f.rows {
		if v.SnippetID == snippetID && v.Username == username {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("vote", snippetID)
}

func (f *fakeVotes) ListAll(context.Context) ([]model.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Vote(nil), f.rows...), nil
}

func (f *fakeVotes) ListBySnippet(_ context.Context, snippetID string) ([]model.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Vote, 0)
	for _, v := range f.rows {
		if v.SnippetID == snippetID {
			out = append(out, v)
		}
	}
	return out, nil
}

// ---- comments ----

type fakeComments struct {
	mu     sync.Mutex
	nextID int
	rows   map[string]*model.Comment
}

func (f *fakeComments) Create(_ context.Context, c *model.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = fmt.Sprintf("comment-%d", f.nextID)
	c.CreatedAt = time.Unix(int64(f.nextID), 0)
	stored := *c
	f.rows[c.ID] = &stored
	return nil
}

func (f *fakeComments) GetByID(_ context.Context, id string) (*model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return nil, apperror.NotFound("comment", id)
	}
	copied := *c
	return &copied, nil
}

func (f *fakeComments) ListBySnippet(_ context.Context, snippetID string) ([]model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Comment, 0)
	for _, c := range f.rows {
		if c.SnippetID == snippetID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeComments) ListAll(ctx context.Context) ([]model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Comment, 0, len(f.rows))
	for _, c := range f.rows {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeComments) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return apperror.NotFound("comment", id)
	}
	delete(f.rows, id)
	return nil
}

// ---- profiles ----

type fakeProfiles struct {
	mu   sync.Mutex
	rows map[string]*model.Profile // by ID
}

func (f *fakeProfiles) Create(_ context.Context, p *model.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.Username == p.Username || existing.ID == p.ID {
			return apperror.Conflict("profile", p.Username)
		}
	}
	stored := *p
	f.rows[p.ID] = &stored
	return nil
}

func (f *fakeProfiles) find(match func(*model.Profile) bool, key string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if match(p) {
			copied := *p
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("profile", key)
}

func (f *fakeProfiles) GetByID(_ context.Context, id string) (*model.Profile, error) {
	return f.find(func(p *model.Profile) bool { return p.ID == id }, id)
}

func (f *fakeProfiles) GetByEmail(_ context.Context, email string) (*model.Profile, error) {
	return f.find(func(p *model.Profile) bool { return p.Email == email }, email)
}

func (f *fakeProfiles) GetByUsername(_ context.Context, username string) (*model.Profile, error) {
	return f.find(func(p *model.Profile) bool { return p.Username == username }, username)
}

func (f *fakeProfiles) Update(_ context.Context, p *model.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.ID != p.ID && existing.Username == p.Username {
			return apperror.Conflict("profile", p.Username)
		}
	}
	if _, ok := f.rows[p.ID]; !ok {
		return apperror.NotFound("profile", p.ID)
	}
	stored := *p
	f.rows[p.ID] = &stored
	return nil
}

// =========================================================================
// TEST HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestPool(t *testing.T, be backend.Service) *pool.Pool[backend.Service] {
	t.Helper()
	p := pool.New[backend.Service](be, pool.Config{Name: t.Name(), MaxActive: 2}, testLogger())
	t.Cleanup(p.Close)
	return p
}

// assertReleased fails the test if a flow leaked a lease.
func assertReleased(t *testing.T, p *pool.Pool[backend.Service]) {
	t.Helper()
	if active := p.Stats().Active; active != 0 {
		t.Errorf("pool has %d active leases after the flow, want 0", active)
	}
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/auth"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/repository"
)

// DefaultRefreshTTL is how long a session survives without a refresh.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// AuthAPI is the backend's authentication surface. Every method that takes
// an access token rejects revoked or expired sessions with
// apperror.ErrUnauthorized.
type AuthAPI interface {
	SignUp(ctx context.Context, email, password string) (*model.User, error)
	SignInWithPassword(ctx context.Context, email, password string) (*AuthResponse, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*model.User, error)
	GetSession(ctx context.Context, accessToken string) (*model.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*AuthResponse, error)
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
	ExchangeCodeForSession(ctx context.Context, code string) (*AuthResponse, error)
	OnAuthStateChange(fn func(AuthEvent)) *Subscription
}

// AuthResponse is what a successful sign-in, refresh or code exchange
// returns. Identity is only set for OAuth sign-ins.
type AuthResponse struct {
	User            *model.User
	Session         *model.Session
	AccessExpiresAt time.Time
	Identity        *auth.Identity
}

// Auth implements AuthAPI on the users and sessions tables.
//
// DEPENDENCY CHAIN:
//   - users     → identities
//   - sessions  → session rows and refresh tokens
//   - tokens    → signs and checks access tokens
//   - passwords → bcrypt
//   - oauth     → code exchange (nil when OAuth isn't configured)
type Auth struct {
	users      repository.UserRepository
	sessions   repository.SessionRepository
	tokens     *auth.TokenService
	passwords  *auth.PasswordService
	oauth      auth.OAuthProvider
	domains    []string
	refreshTTL time.Duration
	events     *broker
	logger     *slog.Logger
	now        func() time.Time
}

var _ AuthAPI = (*Auth)(nil)

// AuthOptions tunes an Auth. Zero values pick the defaults.
type AuthOptions struct {
	// AllowedEmailDomains restricts which emails may create an account.
	// Empty allows any domain.
	AllowedEmailDomains []string
	RefreshTTL          time.Duration
	OAuth               auth.OAuthProvider
}

// NewAuth wires the auth API. All dependencies are injected here.
func NewAuth(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	opts AuthOptions,
	logger *slog.Logger,
) *Auth {
	ttl := opts.RefreshTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return &Auth{
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		passwords:  passwords,
		oauth:      opts.OAuth,
		domains:    opts.AllowedEmailDomains,
		refreshTTL: ttl,
		events:     newBroker(logger),
		logger:     logger,
		now:        time.Now,
	}
}

// EmailDomainAllowed reports whether email's domain is in domains. An empty
// list allows everything. Comparison is case-insensitive.
func EmailDomainAllowed(email string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range domains {
		if strings.EqualFold(domain, strings.TrimSpace(d)) {
			return true
		}
	}
	return false
}

// SignUp creates a password identity. Emails are confirmed on creation.
func (a *Auth) SignUp(ctx context.Context, email, password string) (*model.User, error) {
	if !EmailDomainAllowed(email, a.domains) {
		return nil, apperror.ValidationFailed("email", "Signups not allowed for this email domain")
	}

	hash, err := a.passwords.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{Email: email, PasswordHash: hash}
	if err := a.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{Err: apperror.ErrConflict, Message: "User already registered", Cause: err}
		}
		return nil, fmt.Errorf("backend/auth: signing up: %w", err)
	}

	a.logger.Info("user signed up", slog.String("userID", user.ID))
	return user, nil
}

// SignInWithPassword checks the credentials and opens a new session.
//
// Unknown email and wrong password produce the same error so the response
// doesn't reveal which accounts exist.
func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*AuthResponse, error) {
	invalid := apperror.Unauthorized("Invalid login credentials")

	user, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("backend/auth: looking up user: %w", err)
	}
	if user.PasswordHash == "" {
		return nil, invalid
	}
	if err := a.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, invalid
		}
		return nil, fmt.Errorf("backend/auth: verifying password: %w", err)
	}

	return a.openSession(ctx, user, nil)
}

// SignOut revokes the session behind the access token.
func (a *Auth) SignOut(ctx context.Context, accessToken string) error {
	claims, err := a.tokens.Validate(accessToken)
	if err != nil {
		return err
	}
	if err := a.sessions.RevokeSession(ctx, claims.SessionID(), a.now()); err != nil {
		return fmt.Errorf("backend/auth: revoking session: %w", err)
	}

	a.logger.Info("user signed out",
		slog.String("userID", claims.UserID()),
		slog.String("sessionID", claims.SessionID()),
	)
	a.events.publish(AuthEvent{Kind: SignedOut, SessionID: claims.SessionID(), UserID: claims.UserID()})
	return nil
}

// GetUser returns the user behind a live session.
func (a *Auth) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	session, err := a.GetSession(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	user, err := a.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("User not found")
		}
		return nil, fmt.Errorf("backend/auth: getting user: %w", err)
	}
	return user, nil
}

// GetSession returns the live session an access token belongs to, with the
// token filled in.
func (a *Auth) GetSession(ctx context.Context, accessToken string) (*model.Session, error) {
	claims, err := a.tokens.Validate(accessToken)
	if err != nil {
		return nil, err
	}
	session, err := a.sessions.GetSession(ctx, claims.SessionID())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("Session not found")
		}
		return nil, fmt.Errorf("backend/auth: getting session: %w", err)
	}
	if !session.Active(a.now()) {
		return nil, apperror.Unauthorized("Session expired")
	}
	session.AccessToken = accessToken
	return session, nil
}

// RefreshSession rotates the refresh token and mints a new access token.
// The old refresh token stops working immediately.
func (a *Auth) RefreshSession(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	if refreshToken == "" {
		return nil, apperror.Unauthorized("Refresh token required")
	}
	session, err := a.sessions.GetSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("Invalid refresh token")
		}
		return nil, fmt.Errorf("backend/auth: looking up refresh token: %w", err)
	}
	if !session.Active(a.now()) {
		return nil, apperror.Unauthorized("Session expired")
	}

	user, err := a.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("backend/auth: getting user for refresh: %w", err)
	}

	next, err := auth.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	expires := a.now().Add(a.refreshTTL)
	if err := a.sessions.RotateRefreshToken(ctx, session.ID, next, expires); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("Session expired")
		}
		return nil, fmt.Errorf("backend/auth: rotating refresh token: %w", err)
	}
	session.RefreshToken = next
	session.ExpiresAt = expires

	access, accessExp, err := a.tokens.Generate(user.ID, session.ID, user.Email)
	if err != nil {
		return nil, err
	}
	session.AccessToken = access

	a.events.publish(AuthEvent{Kind: TokenRefreshed, SessionID: session.ID, UserID: user.ID, AccessToken: access})
	return &AuthResponse{User: user, Session: session, AccessExpiresAt: accessExp}, nil
}

// UpdatePassword sets a new password for the signed-in user. Callers that
// want the current password checked sign in with it first.
func (a *Auth) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	user, err := a.GetUser(ctx, accessToken)
	if err != nil {
		return err
	}
	hash, err := a.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := a.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("backend/auth: updating password: %w", err)
	}
	a.logger.Info("password updated", slog.String("userID", user.ID))
	return nil
}

// ExchangeCodeForSession completes an OAuth sign-in.
//
// The provider identity is matched by provider ID first, then by email (an
// existing password account gets the provider linked). Otherwise a new
// password-less user is created, subject to the same domain rule as SignUp.
func (a *Auth) ExchangeCodeForSession(ctx context.Context, code string) (*AuthResponse, error) {
	if a.oauth == nil {
		return nil, apperror.ValidationFailed("provider", "OAuth sign-in is not configured")
	}
	if code == "" {
		return nil, apperror.ValidationFailed("code", "Missing auth code")
	}

	id, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, &apperror.AppError{Err: apperror.ErrUnauthorized, Message: "Could not verify sign-in with provider", Cause: err}
	}

	user, err := a.resolveIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.openSession(ctx, user, id)
}

func (a *Auth) resolveIdentity(ctx context.Context, id *auth.Identity) (*model.User, error) {
	user, err := a.users.GetUserByGitHubID(ctx, id.ProviderID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("backend/auth: looking up provider identity: %w", err)
	}

	user, err = a.users.GetUserByEmail(ctx, id.Email)
	switch {
	case err == nil:
		if err := a.users.LinkGitHub(ctx, user.ID, id.ProviderID); err != nil {
			return nil, fmt.Errorf("backend/auth: linking provider identity: %w", err)
		}
		providerID := id.ProviderID
		user.GitHubID = &providerID
		return user, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("backend/auth: looking up user by email: %w", err)
	}

	if !EmailDomainAllowed(id.Email, a.domains) {
		return nil, apperror.ValidationFailed("email", "Signups not allowed for this email domain")
	}
	providerID := id.ProviderID
	user = &model.User{Email: id.Email, GitHubID: &providerID}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("backend/auth: creating user from provider: %w", err)
	}
	a.logger.Info("user signed up via provider",
		slog.String("userID", user.ID),
		slog.String("login", id.Login),
	)
	return user, nil
}

func (a *Auth) openSession(ctx context.Context, user *model.User, id *auth.Identity) (*AuthResponse, error) {
	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	session := &model.Session{
		ID:           xid.New().String(),
		UserID:       user.ID,
		RefreshToken: refresh,
		ExpiresAt:    a.now().Add(a.refreshTTL),
		CreatedAt:    a.now(),
	}
	if err := a.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("backend/auth: creating session: %w", err)
	}

	access, accessExp, err := a.tokens.Generate(user.ID, session.ID, user.Email)
	if err != nil {
		return nil, err
	}
	session.AccessToken = access

	a.logger.Info("user signed in",
		slog.String("userID", user.ID),
		slog.String("sessionID", session.ID),
	)
	a.events.publish(AuthEvent{Kind: SignedIn, SessionID: session.ID, UserID: user.ID, AccessToken: access})

	return &AuthResponse{User: user, Session: session, AccessExpiresAt: accessExp, Identity: id}, nil
}

// OnAuthStateChange registers fn for every auth event. fn runs on its own
// goroutine, one event at a time.
func (a *Auth) OnAuthStateChange(fn func(AuthEvent)) *Subscription {
	return a.events.subscribe(fn)
}

func (a *Auth) close() {
	a.events.close()
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/backend"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/repository"
)

// maxUsernameAttempts bounds how many suffixed usernames an OAuth sign-in
// tries before giving up.
const maxUsernameAttempts = 5

type RegisterForm struct {
	Username        string `json:"username" validate:"required,min=3,max=30,username"`
	Name            string `json:"name" validate:"required,max=100"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

type SignInForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type PasswordForm struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

type ProfileForm struct {
	Username string `json:"username" validate:"required,min=3,max=30,username"`
	Name     string `json:"name" validate:"required,max=100"`
}

// AccountService runs the registration, sign-in, password and profile forms.
type AccountService struct {
	pool    Pool
	domains []string
	logger  *slog.Logger
}

// NewAccountService creates an AccountService. domains restricts which
// email addresses may register; empty allows any.
func NewAccountService(p Pool, domains []string, logger *slog.Logger) *AccountService {
	return &AccountService{
		pool:    p,
		domains: domains,
		logger:  logger.With(slog.String("component", "accounts")),
	}
}

// DomainError is the message shown when an email is outside the allowlist.
func (s *AccountService) DomainError() string {
	return fmt.Sprintf("Email must be a %s domain", strings.Join(s.domains, " or "))
}

// CheckEmail is the inline check the register form runs as the user types.
// It never touches the backend.
func (s *AccountService) CheckEmail(email string) error {
	if !backend.EmailDomainAllowed(strings.TrimSpace(email), s.domains) {
		return apperror.ValidationFailed("email", s.DomainError())
	}
	return nil
}

// Register signs the user up and creates their profile.
//
// The domain and password checks run before the lease is acquired: an
// out-of-domain email or a typo in the confirmation never reaches the
// backend.
func (s *AccountService) Register(ctx context.Context, form RegisterForm) (*model.Profile, error) {
	form.Username = strings.TrimSpace(form.Username)
	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.TrimSpace(form.Email)

	if err := s.CheckEmail(form.Email); err != nil {
		return nil, err
	}
	if form.Password != form.ConfirmPassword {
		return nil, apperror.ValidationFailed("confirmPassword", "Passwords do not match")
	}
	if err := check(form); err != nil {
		return nil, err
	}

	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (*model.Profile, error) {
		// The user row commits before the profile does, so a taken username
		// has to be caught first or the email is spent on a half account.
		if err := usernameFree(ctx, be, form.Username); err != nil {
			return nil, err
		}

		user, err := be.Auth().SignUp(ctx, form.Email, form.Password)
		if err != nil {
			return nil, fmt.Errorf("service: signing up: %w", err)
		}

		profile := &model.Profile{
			ID:       user.ID,
			Username: form.Username,
			Name:     form.Name,
			Email:    user.Email,
		}
		if err := be.Profiles().Create(ctx, profile); err != nil {
			return nil, usernameTaken(err)
		}

		s.logger.Info("account registered",
			slog.String("userID", user.ID),
			slog.String("username", profile.Username),
		)
		return profile, nil
	})
}

// SignIn signs in with email and password and confirms the new session by
// fetching the user it belongs to.
func (s *AccountService) SignIn(ctx context.Context, form SignInForm) (*backend.AuthResponse, error) {
	form.Email = strings.TrimSpace(form.Email)
	if err := check(form); err != nil {
		return nil, err
	}

	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (*backend.AuthResponse, error) {
		resp, err := be.Auth().SignInWithPassword(ctx, form.Email, form.Password)
		if err != nil {
			return nil, fmt.Errorf("service: signing in: %w", err)
		}
		if _, err := be.Auth().GetUser(ctx, resp.Session.AccessToken); err != nil {
			return nil, fmt.Errorf("service: verifying session: %w", err)
		}

		s.logger.Info("signed in", slog.String("userID", resp.User.ID))
		return resp, nil
	})
}

// SignOut revokes the session behind accessToken.
func (s *AccountService) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	_, err := withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (struct{}, error) {
		return struct{}{}, be.Auth().SignOut(ctx, accessToken)
	})
	if err != nil {
		return fmt.Errorf("service: signing out: %w", err)
	}
	return nil
}

// CurrentUser asks the backend who accessToken belongs to. A revoked or
// expired session is apperror.ErrUnauthorized.
func (s *AccountService) CurrentUser(ctx context.Context, accessToken string) (*model.User, error) {
	if accessToken == "" {
		return nil, apperror.Unauthorized("Auth session missing")
	}
	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (*model.User, error) {
		return be.Auth().GetUser(ctx, accessToken)
	})
}

// RefreshSession trades a refresh token for a new access token.
func (s *AccountService) RefreshSession(ctx context.Context, refreshToken string) (*backend.AuthResponse, error) {
	if refreshToken == "" {
		return nil, apperror.Unauthorized("Session expired, please sign in again")
	}
	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (*backend.AuthResponse, error) {
		resp, err := be.Auth().RefreshSession(ctx, refreshToken)
		if err != nil {
			return nil, fmt.Errorf("service: refreshing session: %w", err)
		}
		return resp, nil
	})
}

// ChangePassword verifies the current password by signing in with it, then
// sets the new one. The verification session is revoked straight away.
func (s *AccountService) ChangePassword(ctx context.Context, accessToken string, form PasswordForm) error {
	if form.NewPassword != form.ConfirmPassword {
		return apperror.ValidationFailed("confirmPassword", "New passwords do not match")
	}
	if err := check(form); err != nil {
		return err
	}

	_, err := withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (struct{}, error) {
		user, err := be.Auth().GetUser(ctx, accessToken)
		if err != nil {
			return struct{}{}, fmt.Errorf("service: loading user: %w", err)
		}
		if user.Email == "" {
			return struct{}{}, apperror.ValidationFailed("email", "Unable to retrieve user email")
		}

		verify, err := be.Auth().SignInWithPassword(ctx, user.Email, form.CurrentPassword)
		if errors.Is(err, apperror.ErrUnauthorized) {
			return struct{}{}, apperror.ValidationFailed("currentPassword", "Current password is incorrect")
		}
		if err != nil {
			return struct{}{}, fmt.Errorf("service: verifying password: %w", err)
		}
		if err := be.Auth().SignOut(ctx, verify.Session.AccessToken); err != nil {
			s.logger.Warn("revoking verification session failed", slog.String("error", err.Error()))
		}

		if err := be.Auth().UpdatePassword(ctx, accessToken, form.NewPassword); err != nil {
			return struct{}{}, fmt.Errorf("service: updating password: %w", err)
		}

		s.logger.Info("password changed", slog.String("userID", user.ID))
		return struct{}{}, nil
	})
	return err
}

// RenameLockedMessage is returned when a user with snippets, votes or
// comments tries to change their username.
const RenameLockedMessage = "Username can't be changed after you have posted, voted or commented"

// UpdateProfile changes the signed-in user's username and name. The profile
// is found by the session's email; a user without one (registration cut
// short) gets it created here.
//
// Snippets, votes and comments are keyed by username, so the username is
// fixed once the user has any of them.
func (s *AccountService) UpdateProfile(ctx context.Context, accessToken string, form ProfileForm) (*model.Profile, error) {
	form.Username = strings.TrimSpace(form.Username)
	form.Name = strings.TrimSpace(form.Name)
	if err := check(form); err != nil {
		return nil, err
	}

	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (*model.Profile, error) {
		user, err := be.Auth().GetUser(ctx, accessToken)
		if err != nil {
			return nil, fmt.Errorf("service: loading user: %w", err)
		}

		profile, err := be.Profiles().GetByEmail(ctx, user.Email)
		if errors.Is(err, apperror.ErrNotFound) {
			profile = &model.Profile{ID: user.ID, Username: form.Username, Name: form.Name, Email: user.Email}
			if err := be.Profiles().Create(ctx, profile); err != nil {
				return nil, usernameTaken(err)
			}
			s.logger.Info("missing profile created",
				slog.String("userID", user.ID),
				slog.String("username", profile.Username),
			)
			return profile, nil
		}
		if err != nil {
			return nil, fmt.Errorf("service: loading profile: %w", err)
		}

		if profile.Username != form.Username {
			owns, err := hasContent(ctx, be, profile.Username)
			if err != nil {
				return nil, err
			}
			if owns {
				return nil, apperror.ValidationFailed("username", RenameLockedMessage)
			}
		}

		profile.Username = form.Username
		profile.Name = form.Name
		if err := be.Profiles().Update(ctx, profile); err != nil {
			return nil, usernameTaken(err)
		}

		s.logger.Info("profile updated",
			slog.String("userID", user.ID),
			slog.String("username", profile.Username),
		)
		return profile, nil
	})
}

// CompleteOAuth exchanges the auth code from the provider callback for a
// session. On a first sign-in it also creates the profile, named after the
// provider login.
func (s *AccountService) CompleteOAuth(ctx context.Context, code string) (*backend.AuthResponse, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperror.ValidationFailed("code", "Missing authorization code")
	}

	return withLease(ctx, s.pool, func(ctx context.Context, be backend.Service) (*backend.AuthResponse, error) {
		resp, err := be.Auth().ExchangeCodeForSession(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("service: exchanging code: %w", err)
		}
		if err := s.ensureProfile(ctx, be, resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
}

func (s *AccountService) ensureProfile(ctx context.Context, be backend.Service, resp *backend.AuthResponse) error {
	_, err := be.Profiles().GetByID(ctx, resp.User.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service: loading profile: %w", err)
	}

	base, name := profileSeed(resp)
	profile := &model.Profile{ID: resp.User.ID, Name: name, Email: resp.User.Email}
	for i := 0; i < maxUsernameAttempts; i++ {
		profile.Username = base
		if i > 0 {
			profile.Username = fmt.Sprintf("%s-%d", base, i+1)
		}
		err = be.Profiles().Create(ctx, profile)
		if err == nil {
			s.logger.Info("profile created for oauth user",
				slog.String("userID", resp.User.ID),
				slog.String("username", profile.Username),
			)
			return nil
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return fmt.Errorf("service: creating profile: %w", err)
		}
	}
	return usernameTaken(err)
}

// profileSeed picks a starting username and display name for a new OAuth
// user: the provider login if there is one, else the email's local part.
func profileSeed(resp *backend.AuthResponse) (username, name string) {
	local, _, _ := strings.Cut(resp.User.Email, "@")
	username, name = local, local
	if id := resp.Identity; id != nil {
		if id.Login != "" {
			username = id.Login
		}
		if id.Name != "" {
			name = id.Name
		} else if id.Login != "" {
			name = id.Login
		}
	}
	return username, name
}

// usernameFree returns the username-taken error if a profile already uses
// username.
func usernameFree(ctx context.Context, be backend.Service, username string) error {
	_, err := be.Profiles().GetByUsername(ctx, username)
	switch {
	case err == nil:
		return usernameTaken(apperror.Conflict("profile", username))
	case errors.Is(err, apperror.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("service: checking username: %w", err)
	}
}

// hasContent reports whether username owns a snippet, vote or comment.
func hasContent(ctx context.Context, be backend.Service, username string) (bool, error) {
	snippets, err := be.Snippets().List(ctx, repository.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("service: listing snippets: %w", err)
	}
	for _, sn := range snippets {
		if sn.Username == username {
			return true, nil
		}
	}

	votes, err := be.Votes().ListAll(ctx)
	if err != nil {
		return false, fmt.Errorf("service: listing votes: %w", err)
	}
	for _, v := range votes {
		if v.Username == username {
			return true, nil
		}
	}

	comments, err := be.Comments().ListAll(ctx)
	if err != nil {
		return false, fmt.Errorf("service: listing comments: %w", err)
	}
	for _, c := range comments {
		if c.Username == username {
			return true, nil
		}
	}
	return false, nil
}

// usernameTaken rewrites a profiles conflict into a message for the
// username field. Other errors pass through wrapped.
func usernameTaken(err error) error {
	if errors.Is(err, apperror.ErrConflict) {
		return &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: "Username is already taken",
			Field:   "username",
			Cause:   err,
		}
	}
	return fmt.Errorf("service: saving profile: %w", err)
}

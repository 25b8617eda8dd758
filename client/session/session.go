// Package session owns the signed-in identity of the client.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"dmchat/client/backend"
	"dmchat/models"
)

// ErrInvalidCredentials replaces the provider's credential errors with one
// message that does not reveal whether the account exists.
var ErrInvalidCredentials = errors.New("Incorrect Email or Password")

// ErrSignedOut is returned by operations that need a signed-in user
var ErrSignedOut = errors.New("not signed in")

var credentialCodes = map[string]bool{
	"auth/invalid-credential": true,
	"auth/user-not-found":     true,
	"auth/wrong-password":     true,
}

// Identity is the external identity service
type Identity interface {
	SignIn(ctx context.Context, email, password string) (*models.User, error)
	SignUp(ctx context.Context, email, password, displayName string) (*models.User, error)
	SignOut(ctx context.Context) error
	Me(ctx context.Context) (*models.User, error)
	UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.User, error)
	SetPresence(ctx context.Context, online bool) (*models.User, error)
}

// Session is created once at startup and passed to whatever needs the
// current user. It starts out loading until Restore, SignIn or SignUp.
type Session struct {
	identity Identity
	logger   *slog.Logger

	mu        sync.Mutex
	user      *models.User
	loading   bool
	listeners []func(*models.User)
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger for presence write failures
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func New(identity Identity, opts ...Option) *Session {
	s := &Session{
		identity: identity,
		logger:   slog.Default(),
		loading:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// User returns the signed-in user, nil when signed out
func (s *Session) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Loading reports whether the initial session check is still pending
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// OnChange registers fn for sign-in, sign-out and profile changes
func (s *Session) OnChange(fn func(*models.User)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) set(user *models.User) {
	s.mu.Lock()
	s.user = user
	s.loading = false
	listeners := append([]func(*models.User){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(user)
	}
}

// Restore resumes an existing session and marks it online. A rejected
// token leaves the session signed out without an error.
func (s *Session) Restore(ctx context.Context) error {
	return s.restore(ctx, true)
}

// Check resolves an existing session like Restore but leaves presence alone
func (s *Session) Check(ctx context.Context) error {
	return s.restore(ctx, false)
}

func (s *Session) restore(ctx context.Context, online bool) error {
	user, err := s.identity.Me(ctx)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			s.set(nil)
			return nil
		}
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		return err
	}
	if online {
		user = s.markOnline(ctx, user)
	}
	s.set(user)
	return nil
}

// SignIn authenticates and marks the profile online
func (s *Session) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.identity.SignIn(ctx, email, password)
	if err != nil {
		return nil, authError(err)
	}
	user = s.markOnline(ctx, user)
	s.set(user)
	return s.User(), nil
}

// SignUp registers a new account; its profile starts online
func (s *Session) SignUp(ctx context.Context, email, password, displayName string) (*models.User, error) {
	user, err := s.identity.SignUp(ctx, email, password, displayName)
	if err != nil {
		return nil, authError(err)
	}
	s.set(user)
	return s.User(), nil
}

// SignOut writes the profile offline, then ends the session. Local state
// is torn down even when the server calls fail.
func (s *Session) SignOut(ctx context.Context) error {
	if s.User() == nil {
		return ErrSignedOut
	}
	if _, err := s.identity.SetPresence(ctx, false); err != nil {
		s.logger.Warn("set presence offline", "error", err)
	}
	err := s.identity.SignOut(ctx)
	s.set(nil)
	return err
}

// UpdateProfile changes the display name, and the avatar when photoURL is
// not empty
func (s *Session) UpdateProfile(ctx context.Context, displayName, photoURL string) (*models.User, error) {
	if s.User() == nil {
		return nil, ErrSignedOut
	}
	user, err := s.identity.UpdateProfile(ctx, models.ProfileUpdate{DisplayName: displayName, PhotoURL: photoURL})
	if err != nil {
		return nil, err
	}
	s.set(user)
	return s.User(), nil
}

func (s *Session) markOnline(ctx context.Context, user *models.User) *models.User {
	updated, err := s.identity.SetPresence(ctx, true)
	if err != nil {
		s.logger.Warn("set presence online", "error", err)
		return user
	}
	return updated
}

func authError(err error) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && credentialCodes[apiErr.Code] {
		return ErrInvalidCredentials
	}
	return err
}

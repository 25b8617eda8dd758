package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmchat/client/backend"
	"dmchat/models"
)

type fakeIdentity struct {
	calls      []string
	user       *models.User
	signInErr  error
	meErr      error
	presErr    error
	signOutErr error
}

func (f *fakeIdentity) SignIn(_ context.Context, email, _ string) (*models.User, error) {
	f.calls = append(f.calls, "signin")
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	f.user = &models.User{ID: "u1", Email: email, DisplayName: "Ana"}
	return f.user, nil
}

func (f *fakeIdentity) SignUp(_ context.Context, email, _, name string) (*models.User, error) {
	f.calls = append(f.calls, "signup")
	f.user = &models.User{ID: "u1", Email: email, DisplayName: name, IsOnline: true}
	return f.user, nil
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.calls = append(f.calls, "signout")
	return f.signOutErr
}

func (f *fakeIdentity) Me(context.Context) (*models.User, error) {
	f.calls = append(f.calls, "me")
	if f.meErr != nil {
		return nil, f.meErr
	}
	return f.user, nil
}

func (f *fakeIdentity) UpdateProfile(_ context.Context, update models.ProfileUpdate) (*models.User, error) {
	f.calls = append(f.calls, "profile")
	u := *f.user
	u.DisplayName = update.DisplayName
	if update.PhotoURL != "" {
		u.PhotoURL = update.PhotoURL
	}
	f.user = &u
	return f.user, nil
}

func (f *fakeIdentity) SetPresence(_ context.Context, online bool) (*models.User, error) {
	if online {
		f.calls = append(f.calls, "online")
	} else {
		f.calls = append(f.calls, "offline")
	}
	if f.presErr != nil {
		return nil, f.presErr
	}
	u := *f.user
	u.IsOnline = online
	f.user = &u
	return f.user, nil
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSignInMarksOnline(t *testing.T) {
	id := &fakeIdentity{}
	s := New(id, quiet())
	assert.True(t, s.Loading())

	var changes []*models.User
	s.OnChange(func(u *models.User) { changes = append(changes, u) })

	u, err := s.SignIn(context.Background(), "ana@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	assert.False(t, s.Loading())
	assert.Equal(t, []string{"signin", "online"}, id.calls)
	assert.Len(t, changes, 1)
}

func TestCredentialErrorsAreGeneric(t *testing.T) {
	for _, code := range []string{"auth/invalid-credential", "auth/user-not-found", "auth/wrong-password"} {
		id := &fakeIdentity{signInErr: &backend.APIError{Status: 401, Code: code, Message: "raw"}}
		_, err := New(id).SignIn(context.Background(), "a@b.c", "pw")
		assert.ErrorIs(t, err, ErrInvalidCredentials, code)
		assert.Equal(t, "Incorrect Email or Password", err.Error())
	}
}

func TestOtherErrorsAreVerbatim(t *testing.T) {
	raw := &backend.APIError{Status: 429, Code: "auth/too-many-requests", Message: "Too many requests"}
	id := &fakeIdentity{signInErr: raw}
	_, err := New(id).SignIn(context.Background(), "a@b.c", "pw")
	assert.Equal(t, raw, err)
}

func TestSignOutWritesOfflineFirst(t *testing.T) {
	id := &fakeIdentity{}
	s := New(id, quiet())
	_, err := s.SignIn(context.Background(), "ana@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, s.SignOut(context.Background()))
	assert.Equal(t, []string{"signin", "online", "offline", "signout"}, id.calls)
	assert.Nil(t, s.User())

	assert.ErrorIs(t, s.SignOut(context.Background()), ErrSignedOut)
}

func TestSignOutTearsDownOnFailure(t *testing.T) {
	id := &fakeIdentity{}
	s := New(id, quiet())
	_, err := s.SignIn(context.Background(), "ana@example.com", "pw")
	require.NoError(t, err)

	id.presErr = errors.New("offline write failed")
	id.signOutErr = errors.New("network")
	assert.ErrorIs(t, s.SignOut(context.Background()), id.signOutErr)
	assert.Nil(t, s.User())
}

func TestRestore(t *testing.T) {
	id := &fakeIdentity{user: &models.User{ID: "u1", DisplayName: "Ana"}}
	s := New(id, quiet())
	require.NoError(t, s.Restore(context.Background()))
	require.NotNil(t, s.User())
	assert.True(t, s.User().IsOnline)
	assert.False(t, s.Loading())

	checked := &fakeIdentity{user: &models.User{ID: "u1", DisplayName: "Ana"}}
	s = New(checked, quiet())
	require.NoError(t, s.Check(context.Background()))
	assert.Equal(t, []string{"me"}, checked.calls, "check leaves presence alone")
	assert.False(t, s.User().IsOnline)

	expired := &fakeIdentity{meErr: &backend.APIError{Status: http.StatusUnauthorized, Code: "auth/invalid-session"}}
	s = New(expired)
	require.NoError(t, s.Restore(context.Background()))
	assert.Nil(t, s.User())
	assert.False(t, s.Loading())

	broken := &fakeIdentity{meErr: errors.New("dial tcp: refused")}
	s = New(broken)
	assert.Error(t, s.Restore(context.Background()))
	assert.False(t, s.Loading())
}

func TestSignUpAndUpdateProfile(t *testing.T) {
	id := &fakeIdentity{}
	s := New(id, quiet())

	_, err := s.UpdateProfile(context.Background(), "X", "")
	assert.ErrorIs(t, err, ErrSignedOut)

	u, err := s.SignUp(context.Background(), "ana@example.com", "secret123", "Ana")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.DisplayName)

	u, err = s.UpdateProfile(context.Background(), "Ana B", "https://img/a.png")
	require.NoError(t, err)
	assert.Equal(t, "Ana B", u.DisplayName)
	assert.Equal(t, "https://img/a.png", u.PhotoURL)

	u, err = s.UpdateProfile(context.Background(), "Ana C", "")
	require.NoError(t, err)
	assert.Equal(t, "https://img/a.png", u.PhotoURL)
}

package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmchat/config"
	"dmchat/database"
	"dmchat/handlers"
	"dmchat/models"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "dmchat-backend")
	if err != nil {
		panic(err)
	}
	if err := database.Initialize(filepath.Join(dir, "test.db")); err != nil {
		panic(err)
	}
	go handlers.RunHub()

	code := m.Run()

	database.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

func newBackend(t *testing.T) *config.Client {
	t.Helper()
	srv := httptest.NewServer(handlers.NewRouter(&config.Server{
		APIKey:            "key",
		ProjectID:         "proj",
		SessionTTL:        time.Hour,
		AuthRatePerMinute: 1000,
	}))
	t.Cleanup(srv.Close)
	return &config.Client{APIURL: srv.URL, APIKey: "key", ProjectID: "proj"}
}

func newUser(t *testing.T, cfg *config.Client, name string) (*Client, *models.User) {
	t.Helper()
	c := New(cfg)
	t.Cleanup(c.Close)
	u, err := c.SignUp(context.Background(), name+"-"+uuid.NewString()[:8]+"@example.com", "secret123", name)
	require.NoError(t, err)
	return c, u
}

func TestAPIErrorDecoding(t *testing.T) {
	cfg := newBackend(t)
	c := New(cfg)

	_, err := c.SignIn(context.Background(), "nobody@example.com", "secret123")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "auth/invalid-credential", apiErr.Code)
	assert.Equal(t, apiErr.Message, err.Error())
}

func TestWrongProject(t *testing.T) {
	cfg := newBackend(t)
	cfg.ProjectID = "other"
	_, err := New(cfg).ListUsers(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "app/project-not-found", apiErr.Code)
}

func TestIdentityRoundTrip(t *testing.T) {
	cfg := newBackend(t)
	ctx := context.Background()
	c, u := newUser(t, cfg, "Ana")
	require.NotEmpty(t, c.Token())

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, u.ID, me.ID)

	updated, err := c.UpdateProfile(ctx, models.ProfileUpdate{DisplayName: "Ana Z"})
	require.NoError(t, err)
	assert.Equal(t, "Ana Z", updated.DisplayName)

	off, err := c.SetPresence(ctx, false)
	require.NoError(t, err)
	assert.False(t, off.IsOnline)

	require.NoError(t, c.SignOut(ctx))
	assert.Empty(t, c.Token())

	_, err = c.Me(ctx)
	assert.Error(t, err)

	resumed := New(cfg, WithToken("stale"))
	_, err = resumed.Me(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "auth/invalid-session", apiErr.Code)
}

func TestMessagesRoundTrip(t *testing.T) {
	cfg := newBackend(t)
	ctx := context.Background()
	ana, anaUser := newUser(t, cfg, "Ana")
	ben, benUser := newUser(t, cfg, "Ben")

	msg, err := ana.CreateMessage(ctx, models.NewMessage{ReceiverID: benUser.ID, Content: "hi"})
	require.NoError(t, err)

	reactions := models.ToggleReaction(nil, "👍", benUser.ID)
	_, err = ben.UpdateMessage(ctx, msg.ID, models.MessagePatch{Reactions: &reactions})
	require.NoError(t, err)

	cleared := models.ToggleReaction(reactions, "👍", benUser.ID)
	require.Empty(t, cleared)
	got, err := ben.UpdateMessage(ctx, msg.ID, models.MessagePatch{Reactions: &cleared})
	require.NoError(t, err, "an empty reaction array is a valid replacement")
	assert.Empty(t, got.Reactions)

	require.NoError(t, ben.MarkRead(ctx, []string{msg.ID}))
	require.NoError(t, ben.MarkRead(ctx, nil))

	conv, err := ana.GetConversation(ctx, benUser.ID)
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.True(t, conv[0].Read)

	users, err := ben.ListUsers(ctx)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, u := range users {
		ids[u.ID] = true
	}
	assert.True(t, ids[anaUser.ID])
	assert.False(t, ids[benUser.ID])
}

type recorder struct {
	mu    sync.Mutex
	snaps [][]models.Message
}

func (r *recorder) add(m []models.Message) {
	r.mu.Lock()
	r.snaps = append(r.snaps, m)
	r.mu.Unlock()
}

func (r *recorder) last() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func TestSubscribeConversation(t *testing.T) {
	cfg := newBackend(t)
	ctx := context.Background()
	ana, _ := newUser(t, cfg, "Ana")
	ben, benUser := newUser(t, cfg, "Ben")
	anaUser, err := ana.Me(ctx)
	require.NoError(t, err)

	rec := &recorder{}
	sub, err := ben.SubscribeConversation(ctx, anaUser.ID, rec.add)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, rec.last())

	_, err = ana.CreateMessage(ctx, models.NewMessage{ReceiverID: benUser.ID, Content: "live"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.last()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "live", rec.last()[0].Content)

	sub.Unsubscribe()
	sub.Unsubscribe()
	before := rec.count()

	_, err = ana.CreateMessage(ctx, models.NewMessage{ReceiverID: benUser.ID, Content: "after"})
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, rec.count(), "no snapshots after unsubscribe")
}

func TestSubscribeUsers(t *testing.T) {
	cfg := newBackend(t)
	ctx := context.Background()
	ana, anaUser := newUser(t, cfg, "Ana")

	var mu sync.Mutex
	var latest []models.User
	sub, err := ana.SubscribeUsers(ctx, func(users []models.User) {
		mu.Lock()
		latest = users
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, benUser := newUser(t, cfg, "Ben")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, u := range latest {
			if u.ID == anaUser.ID {
				return false
			}
			if u.ID == benUser.ID {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubscribeRequiresSession(t *testing.T) {
	cfg := newBackend(t)
	_, err := New(cfg).SubscribeUsers(context.Background(), func([]models.User) {})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

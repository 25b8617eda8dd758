package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmchat/models"
)

func setup(t *testing.T) {
	t.Helper()
	require.NoError(t, Initialize(filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(func() { Close() })
}

func mustUser(t *testing.T, email, name string) *models.User {
	t.Helper()
	u, err := CreateUser(email, "hash", name)
	require.NoError(t, err)
	return u
}

func TestCreateUser(t *testing.T) {
	setup(t)

	u := mustUser(t, "ana@example.com", "Ana")
	assert.NotEmpty(t, u.ID)
	assert.True(t, u.IsOnline)
	assert.False(t, u.CreatedAt.IsZero())

	_, err := CreateUser("ana@example.com", "hash", "Other")
	assert.Error(t, err, "email must be unique")

	byEmail, err := GetUserByEmail("ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
	assert.Equal(t, "hash", byEmail.Password)

	_, err = GetUserByID("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUsersExcept(t *testing.T) {
	setup(t)

	a := mustUser(t, "a@example.com", "Ana")
	b := mustUser(t, "b@example.com", "Bea")
	c := mustUser(t, "c@example.com", "Cy")

	users, err := ListUsersExcept(a.ID)
	require.NoError(t, err)
	require.Len(t, users, 2)
	ids := []string{users[0].ID, users[1].ID}
	assert.ElementsMatch(t, []string{b.ID, c.ID}, ids)
}

func TestPresenceAndProfile(t *testing.T) {
	setup(t)
	u := mustUser(t, "a@example.com", "Ana")

	off, err := SetPresence(u.ID, false)
	require.NoError(t, err)
	assert.False(t, off.IsOnline)
	assert.False(t, off.LastSeen.Before(u.LastSeen))

	updated, err := UpdateProfile(u.ID, "Ana B", "")
	require.NoError(t, err)
	assert.Equal(t, "Ana B", updated.DisplayName)
	assert.Equal(t, "", updated.PhotoURL)

	updated, err = UpdateProfile(u.ID, "Ana B", "https://img/a.png")
	require.NoError(t, err)
	assert.Equal(t, "https://img/a.png", updated.PhotoURL)

	_, err = SetPresence("missing", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessions(t *testing.T) {
	setup(t)
	u := mustUser(t, "a@example.com", "Ana")

	require.NoError(t, CreateSession("live", u.ID, time.Now().Add(time.Hour)))
	require.NoError(t, CreateSession("stale", u.ID, time.Now().Add(-time.Hour)))

	s, err := GetSession("live")
	require.NoError(t, err)
	assert.Equal(t, u.ID, s.UserID)

	_, err = GetSession("stale")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := DeleteExpiredSessions()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, DeleteSession("live"))
	_, err = GetSession("live")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateMessageDefaults(t *testing.T) {
	setup(t)
	a := mustUser(t, "a@example.com", "Ana")
	b := mustUser(t, "b@example.com", "Bea")

	m, err := CreateMessage(a.ID, b.ID, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Content)
	assert.False(t, m.Read)
	assert.False(t, m.Edited)
	assert.False(t, m.Deleted)
	assert.Empty(t, m.Reactions)
	assert.Nil(t, m.RepliedTo)
	assert.False(t, m.Timestamp.IsZero())

	reply, err := CreateMessage(b.ID, a.ID, "hey", &models.ReplyRef{ID: m.ID, Content: "hi", SenderDisplayName: "Ana"})
	require.NoError(t, err)
	require.NotNil(t, reply.RepliedTo)
	assert.Equal(t, m.ID, reply.RepliedTo.ID)
	assert.Equal(t, "Ana", reply.RepliedTo.SenderDisplayName)
}

func TestGetMessagesBetweenUsers(t *testing.T) {
	setup(t)
	a := mustUser(t, "a@example.com", "Ana")
	b := mustUser(t, "b@example.com", "Bea")
	c := mustUser(t, "c@example.com", "Cy")

	m1, _ := CreateMessage(a.ID, b.ID, "one", nil)
	_, _ = CreateMessage(a.ID, c.ID, "elsewhere", nil)
	m2, _ := CreateMessage(b.ID, a.ID, "two", nil)
	m3, _ := CreateMessage(a.ID, b.ID, "three", nil)

	msgs, err := GetMessagesBetweenUsers(b.ID, a.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestUpdateMessage(t *testing.T) {
	setup(t)
	a := mustUser(t, "a@example.com", "Ana")
	b := mustUser(t, "b@example.com", "Bea")
	m, _ := CreateMessage(a.ID, b.ID, "hi", nil)

	content := "hello"
	edited, err := UpdateMessage(m.ID, models.MessagePatch{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Content)
	assert.True(t, edited.Edited)
	require.NotNil(t, edited.EditedAt)

	reactions := []models.Reaction{{Emoji: "👍", Users: []string{b.ID}}}
	reacted, err := UpdateMessage(m.ID, models.MessagePatch{Reactions: &reactions})
	require.NoError(t, err)
	assert.Equal(t, reactions, reacted.Reactions)

	empty := []models.Reaction{}
	cleared, err := UpdateMessage(m.ID, models.MessagePatch{Reactions: &empty})
	require.NoError(t, err)
	assert.Empty(t, cleared.Reactions)

	yes := true
	deleted, err := UpdateMessage(m.ID, models.MessagePatch{Deleted: &yes})
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	require.NotNil(t, deleted.DeletedAt)
	assert.Equal(t, "hello", deleted.Content, "soft delete keeps stored content")
	assert.Equal(t, m.Timestamp, deleted.Timestamp)

	_, err = UpdateMessage("missing", models.MessagePatch{Read: &yes})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkMessagesRead(t *testing.T) {
	setup(t)
	a := mustUser(t, "a@example.com", "Ana")
	b := mustUser(t, "b@example.com", "Bea")

	m1, _ := CreateMessage(a.ID, b.ID, "one", nil)
	m2, _ := CreateMessage(a.ID, b.ID, "two", nil)
	mine, _ := CreateMessage(b.ID, a.ID, "mine", nil)

	senders, err := MarkMessagesRead(b.ID, []string{m1.ID, m2.ID, mine.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, senders)

	for _, id := range []string{m1.ID, m2.ID} {
		m, err := GetMessageByID(id)
		require.NoError(t, err)
		assert.True(t, m.Read)
	}
	untouched, _ := GetMessageByID(mine.ID)
	assert.False(t, untouched.Read, "only the receiver's messages are marked")

	senders, err = MarkMessagesRead(b.ID, []string{m1.ID})
	require.NoError(t, err)
	assert.Empty(t, senders, "already read messages do not change")
}

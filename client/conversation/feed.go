// Package conversation keeps the live, reconciled view of one two-party
// conversation and exposes the writes a user can make to it.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dmchat/client/backend"
	"dmchat/client/notify"
	"dmchat/models"
)

var (
	// ErrNoConversation is returned by writes issued before Open
	ErrNoConversation = errors.New("no conversation open")
	// ErrEmptyContent is returned when sending or editing blank text
	ErrEmptyContent = errors.New("message content is empty")
	// ErrMessageNotFound is returned when reacting to a message that is
	// not in the current snapshot
	ErrMessageNotFound = errors.New("message not in conversation")
)

const markReadTimeout = 10 * time.Second

// Store is the document store the feed reads from and writes to
type Store interface {
	SubscribeConversation(ctx context.Context, peerID string, fn func([]models.Message)) (backend.Subscription, error)
	CreateMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error)
	UpdateMessage(ctx context.Context, id string, patch models.MessagePatch) (*models.Message, error)
	MarkRead(ctx context.Context, ids []string) error
}

// Notifier shows a new-message notification. It must not block.
type Notifier interface {
	Notify(title, body string) *notify.Notification
}

// Feed is the conversation between the local user and one remote user.
// Writes never touch the local list: the next snapshot is the only way a
// change becomes visible.
type Feed struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	local    models.User

	mu        sync.Mutex
	gen       uint64
	sub       backend.Subscription
	state     *State
	remote    *models.User
	messages  []models.Message
	loading   bool
	listeners []func([]models.Message)

	marks sync.WaitGroup
}

// Option configures a Feed
type Option func(*Feed)

// WithNotifier sets where new-message notifications go
func WithNotifier(n Notifier) Option {
	return func(f *Feed) {
		f.notifier = n
	}
}

// WithLogger sets the logger for background failures
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		f.logger = logger
	}
}

// WithClock replaces time.Now for the watermark start
func WithClock(now func() time.Time) Option {
	return func(f *Feed) {
		f.now = now
	}
}

// New creates a feed for local. Nothing is subscribed until Open.
func New(store Store, local models.User, opts ...Option) *Feed {
	f := &Feed{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		local:  local,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open switches the feed to the conversation with remote. The previous
// live query is cancelled first and the reconciliation state starts over.
func (f *Feed) Open(ctx context.Context, remote models.User) error {
	f.mu.Lock()
	if f.sub != nil {
		f.sub.Unsubscribe()
		f.sub = nil
	}
	f.gen++
	gen := f.gen
	f.state = NewState(f.now())
	f.remote = &remote
	f.messages = nil
	f.loading = true
	f.mu.Unlock()

	sub, err := f.store.SubscribeConversation(ctx, remote.ID, func(messages []models.Message) {
		f.onSnapshot(gen, messages)
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		if gen == f.gen {
			f.loading = false
		}
		return fmt.Errorf("open conversation with %s: %w", remote.ID, err)
	}
	if gen != f.gen {
		// Open or Close ran while we were subscribing
		sub.Unsubscribe()
		return nil
	}
	f.sub = sub
	return nil
}

// Close cancels the live query. Snapshots still in flight are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	if f.sub != nil {
		f.sub.Unsubscribe()
		f.sub = nil
	}
}

// Wait blocks until background mark-read writes have finished
func (f *Feed) Wait() {
	f.marks.Wait()
}

func (f *Feed) onSnapshot(gen uint64, messages []models.Message) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	fresh, unread := f.state.Reconcile(messages, f.local.ID, f.remote.ID)
	f.messages = messages
	f.loading = false
	title := "New message from " + f.remote.Label()
	listeners := append([]func([]models.Message){}, f.listeners...)
	f.mu.Unlock()

	if f.notifier != nil {
		for _, m := range fresh {
			f.notifier.Notify(title, m.Content)
		}
	}

	if len(unread) > 0 {
		f.marks.Add(1)
		go f.markBatch(unread)
	}

	for _, fn := range listeners {
		fn(messages)
	}
}

func (f *Feed) markBatch(ids []string) {
	defer f.marks.Done()
	ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
	defer cancel()
	if err := f.store.MarkRead(ctx, ids); err != nil {
		f.logger.Error("mark messages read", "count", len(ids), "error", err)
	}
}

// OnUpdate registers fn to receive every reconciled snapshot
func (f *Feed) OnUpdate(fn func([]models.Message)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Messages returns the latest snapshot, oldest first
func (f *Feed) Messages() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.messages...)
}

// Loading reports whether the current conversation has no snapshot yet
func (f *Feed) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// Remote returns the other party, nil before Open
func (f *Feed) Remote() *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return nil
	}
	r := *f.remote
	return &r
}

// Local returns the signed-in party
func (f *Feed) Local() models.User {
	return f.local
}

// Send writes a new message to the remote user. reply, when set, is
// copied into the message as a snapshot.
func (f *Feed) Send(ctx context.Context, content string, reply *models.Message) (*models.Message, error) {
	remote := f.Remote()
	if remote == nil {
		return nil, ErrNoConversation
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	msg := models.NewMessage{ReceiverID: remote.ID, Content: content}
	if reply != nil {
		sender := remote.Label()
		if reply.SenderID == f.local.ID {
			sender = f.local.Label()
		}
		msg.RepliedTo = &models.ReplyRef{
			ID:                reply.ID,
			Content:           reply.Content,
			SenderDisplayName: sender,
		}
	}

	created, err := f.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return created, nil
}

// Delete soft-deletes a message. The server stamps deleted_at.
func (f *Feed) Delete(ctx context.Context, id string) error {
	deleted := true
	if _, err := f.store.UpdateMessage(ctx, id, models.MessagePatch{Deleted: &deleted}); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Edit replaces a message's content. The server marks it edited.
func (f *Feed) Edit(ctx context.Context, id, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if _, err := f.store.UpdateMessage(ctx, id, models.MessagePatch{Content: &content}); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// React toggles the local user on the emoji entry of a message. The new
// reactions are computed from the current snapshot and written as a whole,
// so a concurrent reaction from the other party can be overwritten.
func (f *Feed) React(ctx context.Context, id, emoji string) error {
	f.mu.Lock()
	var current *models.Message
	for i := range f.messages {
		if f.messages[i].ID == id {
			current = &f.messages[i]
			break
		}
	}
	if current == nil {
		f.mu.Unlock()
		return ErrMessageNotFound
	}
	reactions := models.ToggleReaction(current.Reactions, emoji, f.local.ID)
	f.mu.Unlock()

	if _, err := f.store.UpdateMessage(ctx, id, models.MessagePatch{Reactions: &reactions}); err != nil {
		return fmt.Errorf("react to message: %w", err)
	}
	return nil
}

// MarkRead flags one message read. Failures are logged only.
func (f *Feed) MarkRead(ctx context.Context, id string) {
	read := true
	if _, err := f.store.UpdateMessage(ctx, id, models.MessagePatch{Read: &read}); err != nil {
		f.logger.Error("mark message read", "id", id, "error", err)
	}
}

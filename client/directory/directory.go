// Package directory keeps the live list of other registered users.
package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"dmchat/client/backend"
	"dmchat/models"
)

// Store delivers live snapshots of every user except the caller
type Store interface {
	SubscribeUsers(ctx context.Context, fn func([]models.User)) (backend.Subscription, error)
}

// Feed replaces its list on every snapshot
type Feed struct {
	store Store

	mu        sync.Mutex
	sub       backend.Subscription
	users     []models.User
	loaded    bool
	listeners []func([]models.User)
}

func New(store Store) *Feed {
	return &Feed{store: store}
}

// Open subscribes to the directory. Calling it again is a no-op.
func (f *Feed) Open(ctx context.Context) error {
	f.mu.Lock()
	if f.sub != nil {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	sub, err := f.store.SubscribeUsers(ctx, f.onSnapshot)
	if err != nil {
		return fmt.Errorf("subscribe to users: %w", err)
	}

	f.mu.Lock()
	f.sub = sub
	f.mu.Unlock()
	return nil
}

func (f *Feed) onSnapshot(users []models.User) {
	f.mu.Lock()
	f.users = users
	f.loaded = true
	listeners := append([]func([]models.User){}, f.listeners...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(users)
	}
}

// Close cancels the subscription
func (f *Feed) Close() {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// OnUpdate registers fn for every snapshot
func (f *Feed) OnUpdate(fn func([]models.User)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Users returns the latest snapshot
func (f *Feed) Users() []models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.User(nil), f.users...)
}

// Loaded reports whether a snapshot has arrived
func (f *Feed) Loaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

// Find looks a user up by id, email or display name, case-insensitively.
// A display name prefix matches when exactly one user has it.
func (f *Feed) Find(query string) (*models.User, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, false
	}

	users := f.Users()
	for i := range users {
		u := &users[i]
		if u.ID == query || strings.ToLower(u.Email) == q || strings.ToLower(u.DisplayName) == q {
			return u, true
		}
	}

	var match *models.User
	for i := range users {
		if strings.HasPrefix(strings.ToLower(users[i].DisplayName), q) {
			if match != nil {
				return nil, false
			}
			match = &users[i]
		}
	}
	return match, match != nil
}

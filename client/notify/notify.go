// Package notify shows desktop-style notifications for incoming messages.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// Permission is the platform's answer to a notification request
type Permission string

const (
	Granted Permission = "granted"
	Denied  Permission = "denied"
	Default Permission = "default"
)

// DefaultDismissAfter is how long a notification stays up
const DefaultDismissAfter = 4 * time.Second

// Platform is the host notification capability
type Platform interface {
	RequestPermission() Permission
	Show(title, body string) (Handle, error)
	Focus()
}

// Handle dismisses a shown notification
type Handle interface {
	Close()
}

// Notifier asks for permission once per process and caches the answer
type Notifier struct {
	platform     Platform
	logger       *slog.Logger
	dismissAfter time.Duration

	once       sync.Once
	permission Permission
}

// Option configures a Notifier
type Option func(*Notifier)

// WithLogger sets the logger for swallowed platform failures
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// WithDismissAfter overrides the auto-dismiss interval
func WithDismissAfter(d time.Duration) Option {
	return func(n *Notifier) {
		n.dismissAfter = d
	}
}

// New creates a Notifier on top of platform
func New(platform Platform, opts ...Option) *Notifier {
	n := &Notifier{
		platform:     platform,
		logger:       slog.Default(),
		dismissAfter: DefaultDismissAfter,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Permission returns the cached permission, requesting it on first use
func (n *Notifier) Permission() Permission {
	n.once.Do(func() {
		n.permission = Denied
		defer func() {
			if r := recover(); r != nil {
				n.logger.Warn("notification permission request failed", "panic", r)
			}
		}()
		n.permission = n.platform.RequestPermission()
	})
	return n.permission
}

// Notify shows a notification when permitted. It never panics and
// returns nil when nothing was shown.
func (n *Notifier) Notify(title, body string) *Notification {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("notification failed", "panic", r)
		}
	}()

	if n.Permission() != Granted {
		return nil
	}

	handle, err := n.platform.Show(title, body)
	if err != nil {
		n.logger.Warn("notification failed", "error", err)
		return nil
	}

	notification := &Notification{
		Title:    title,
		Body:     body,
		handle:   handle,
		platform: n.platform,
	}
	notification.mu.Lock()
	notification.timer = time.AfterFunc(n.dismissAfter, notification.Close)
	notification.mu.Unlock()
	return notification
}

// Notification is one shown notification
type Notification struct {
	Title string
	Body  string

	handle   Handle
	platform Platform
	timer    *time.Timer

	mu     sync.Mutex
	closed bool
}

// Click focuses the application and dismisses the notification early
func (n *Notification) Click() {
	n.platform.Focus()
	n.Close()
}

// Close dismisses the notification. Calling it again does nothing.
func (n *Notification) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	timer := n.timer
	n.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	n.handle.Close()
}

// Closed reports whether the notification has been dismissed
func (n *Notification) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Terminal prints notifications as a bell plus a banner line. Permission
// is granted only when the output is a terminal.
type Terminal struct {
	Out io.Writer
	Fd  int

	mu sync.Mutex
}

// NewTerminal writes to stderr
func NewTerminal() *Terminal {
	return &Terminal{Out: os.Stderr, Fd: int(os.Stderr.Fd())}
}

func (t *Terminal) RequestPermission() Permission {
	if term.IsTerminal(t.Fd) {
		return Granted
	}
	return Denied
}

func (t *Terminal) Show(title, body string) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.Out, "\a🔔 %s: %s\n", title, body); err != nil {
		return nil, err
	}
	return nopHandle{}, nil
}

// Focus is a no-op; the terminal already has focus when the user reads it
func (t *Terminal) Focus() {}

type nopHandle struct{}

func (nopHandle) Close() {}

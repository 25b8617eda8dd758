// Package backend talks to the dmchat backing service: identity calls,
// document store writes and live query subscriptions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"dmchat/config"
	"dmchat/models"
)

// APIError is a non-2xx response from the backing service
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// Client is safe for concurrent use. One Client holds one session token and
// at most one live connection.
type Client struct {
	baseURL   string
	apiKey    string
	projectID string
	http      *http.Client
	logger    *slog.Logger

	mu    sync.Mutex
	token string
	live  *liveConn
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger used for live connection events
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithToken resumes a previously issued session
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// New creates a Client for the configured backend
func New(cfg *config.Client, opts ...Option) *Client {
	c := &Client{
		baseURL:   cfg.APIURL,
		apiKey:    cfg.APIKey,
		projectID: cfg.ProjectID,
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current session token, empty when signed out
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	h.Set("X-Api-Key", c.apiKey)
	h.Set("X-Project-Id", c.projectID)
	if token := c.Token(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}

// Identity

// SignIn authenticates and keeps the issued session token
func (c *Client) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	var auth models.AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &auth)
	if err != nil {
		return nil, err
	}
	c.setToken(auth.Token)
	return &auth.User, nil
}

// SignUp registers a new account, which also signs it in
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*models.User, error) {
	var auth models.AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/signup", map[string]string{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	}, &auth)
	if err != nil {
		return nil, err
	}
	c.setToken(auth.Token)
	return &auth.User, nil
}

// SignOut ends the session and drops the live connection. The local token
// is cleared even when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)

	c.mu.Lock()
	c.token = ""
	live := c.live
	c.live = nil
	c.mu.Unlock()

	if live != nil {
		live.close()
	}
	return err
}

// Me returns the signed-in user
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile changes the display name, and the avatar when one is given
func (c *Client) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodPatch, "/api/users/me", update, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SetPresence writes the online flag; the server stamps last seen
func (c *Client) SetPresence(ctx context.Context, online bool) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodPut, "/api/users/me/presence", map[string]bool{"online": online}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Document store

// ListUsers returns the directory once, without subscribing
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetConversation returns the conversation with peerID once, oldest first
func (c *Client) GetConversation(ctx context.Context, peerID string) ([]models.Message, error) {
	var messages []models.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+peerID, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateMessage stores a new message; the server assigns the timestamp
func (c *Client) CreateMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	var created models.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", msg, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateMessage applies a partial update to one message
func (c *Client) UpdateMessage(ctx context.Context, id string, patch models.MessagePatch) (*models.Message, error) {
	var updated models.Message
	if err := c.do(ctx, http.MethodPatch, "/api/messages/"+id, patch, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// MarkRead flags a batch of messages read in a single write
func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/api/messages/read", models.MarkReadRequest{IDs: ids}, nil)
}

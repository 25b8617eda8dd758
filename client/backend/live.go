package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dmchat/models"
)

const writeWait = 10 * time.Second

// ErrLiveClosed is returned when subscribing on a connection that has shut down
var ErrLiveClosed = errors.New("live connection closed")

// Subscription is the cancellation handle of a live query
type Subscription interface {
	Unsubscribe()
}

// liveConn multiplexes every live query of a Client over one websocket.
// A single reader goroutine dispatches snapshots, so the snapshots of one
// subscription reach its handler in the order the server sent them.
type liveConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]func(models.Snapshot)

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) liveConnection(ctx context.Context) (*liveConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live != nil && !c.live.closed() {
		return c.live, nil
	}
	if c.token == "" {
		return nil, &APIError{Status: http.StatusUnauthorized, Code: "auth/unauthenticated", Message: "Not signed in"}
	}

	header := http.Header{}
	header.Set("X-Api-Key", c.apiKey)
	header.Set("X-Project-Id", c.projectID)
	header.Set("Authorization", "Bearer "+c.token)

	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode}
			var payload struct {
				Error string `json:"error"`
				Code  string `json:"code"`
			}
			if json.NewDecoder(resp.Body).Decode(&payload) == nil {
				apiErr.Code = payload.Code
				apiErr.Message = payload.Error
			}
			return nil, apiErr
		}
		return nil, fmt.Errorf("dial live connection: %w", err)
	}

	live := &liveConn{
		conn:     conn,
		logger:   c.logger,
		handlers: make(map[string]func(models.Snapshot)),
		done:     make(chan struct{}),
	}
	go live.readLoop()

	c.live = live
	return live, nil
}

// Close drops the live connection. Open subscriptions stop receiving.
func (c *Client) Close() {
	c.mu.Lock()
	live := c.live
	c.live = nil
	c.mu.Unlock()

	if live != nil {
		live.close()
	}
}

// SubscribeConversation opens a live query over the conversation with
// peerID. fn receives the full ordered message list immediately and after
// every change.
func (c *Client) SubscribeConversation(ctx context.Context, peerID string, fn func([]models.Message)) (Subscription, error) {
	return c.subscribe(ctx, models.Subscription{
		Collection: models.CollectionMessages,
		PeerID:     peerID,
	}, func(s models.Snapshot) {
		fn(s.Messages)
	})
}

// SubscribeUsers opens a live query over every user except the caller
func (c *Client) SubscribeUsers(ctx context.Context, fn func([]models.User)) (Subscription, error) {
	return c.subscribe(ctx, models.Subscription{
		Collection: models.CollectionUsers,
	}, func(s models.Snapshot) {
		fn(s.Users)
	})
}

func (c *Client) subscribe(ctx context.Context, sub models.Subscription, handler func(models.Snapshot)) (Subscription, error) {
	live, err := c.liveConnection(ctx)
	if err != nil {
		return nil, err
	}

	sub.SubID = uuid.NewString()
	live.mu.Lock()
	live.handlers[sub.SubID] = handler
	live.mu.Unlock()

	if err := live.send(models.FrameSubscribe, sub); err != nil {
		live.remove(sub.SubID)
		return nil, fmt.Errorf("subscribe %s: %w", sub.Collection, err)
	}
	return &subscription{live: live, id: sub.SubID}, nil
}

type subscription struct {
	live *liveConn
	id   string
	once sync.Once
}

// Unsubscribe is idempotent. No snapshot is dispatched to the handler
// once it returns, apart from one already being delivered.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.live.remove(s.id)
		if s.live.closed() {
			return
		}
		if err := s.live.send(models.FrameUnsubscribe, models.Subscription{SubID: s.id}); err != nil {
			s.live.logger.Debug("unsubscribe failed", "sub_id", s.id, "error", err)
		}
	})
}

func (l *liveConn) send(frameType string, payload interface{}) error {
	data, err := models.NewFrame(frameType, payload)
	if err != nil {
		return err
	}
	if l.closed() {
		return ErrLiveClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

func (l *liveConn) remove(id string) {
	l.mu.Lock()
	delete(l.handlers, id)
	l.mu.Unlock()
}

func (l *liveConn) handler(id string) func(models.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlers[id]
}

func (l *liveConn) readLoop() {
	defer l.close()

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if !l.closed() {
				l.logger.Warn("live connection lost", "error", err)
			}
			return
		}

		var frame models.WebSocketMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			l.logger.Warn("malformed live frame", "error", err)
			continue
		}

		switch frame.Type {
		case models.FrameSnapshot:
			var snap models.Snapshot
			if err := json.Unmarshal(frame.Payload, &snap); err != nil {
				l.logger.Warn("malformed snapshot", "error", err)
				continue
			}
			if h := l.handler(snap.SubID); h != nil {
				h(snap)
			}
		case models.FrameError:
			var payload models.FrameErrorPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				continue
			}
			l.logger.Error("live query rejected", "sub_id", payload.SubID, "error", payload.Error)
			l.remove(payload.SubID)
		}
	}
}

func (l *liveConn) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *liveConn) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.writeMu.Lock()
		l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		l.writeMu.Unlock()
		l.conn.Close()
	})
}

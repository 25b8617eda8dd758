package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"dmchat/database"
	"dmchat/middleware"
	"dmchat/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // API key and session already checked
	},
}

// Client is one live query connection. subs is owned by the hub goroutine.
type Client struct {
	Conn   *websocket.Conn
	Send   chan []byte
	UserID string
	subs   map[string]models.Subscription
}

type subscribeRequest struct {
	client *Client
	sub    models.Subscription
}

type unsubscribeRequest struct {
	client *Client
	subID  string
}

// change describes a write. For messages, a and b are the two parties.
type change struct {
	collection string
	a, b       string
}

// Hub keeps the live queries and re-runs them after every write.
// All subscription state is touched only by the RunHub goroutine, so
// snapshots of one subscription leave in the order they were produced.
type Hub struct {
	clients     map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscribeRequest
	unsubscribe chan unsubscribeRequest
	changes     chan change
}

var hub = &Hub{
	clients:     make(map[*Client]bool),
	register:    make(chan *Client),
	unregister:  make(chan *Client),
	subscribe:   make(chan subscribeRequest),
	unsubscribe: make(chan unsubscribeRequest),
	changes:     make(chan change, 256),
}

// RunHub starts the live query hub
func RunHub() {
	for {
		select {
		case client := <-hub.register:
			hub.clients[client] = true
			connectedClients.Inc()
			log.Printf("Client connected: UserID %s", client.UserID)

		case client := <-hub.unregister:
			if _, ok := hub.clients[client]; ok {
				hub.drop(client)
			}
			log.Printf("Client disconnected: UserID %s", client.UserID)

		case req := <-hub.subscribe:
			if _, ok := hub.clients[req.client]; !ok {
				continue
			}
			if _, exists := req.client.subs[req.sub.SubID]; !exists {
				liveSubscriptions.Inc()
			}
			req.client.subs[req.sub.SubID] = req.sub
			hub.push(req.client, req.sub)

		case req := <-hub.unsubscribe:
			if _, ok := req.client.subs[req.subID]; ok {
				delete(req.client.subs, req.subID)
				liveSubscriptions.Dec()
			}

		case c := <-hub.changes:
			for client := range hub.clients {
				for _, sub := range client.subs {
					if affects(c, client.UserID, sub) {
						hub.push(client, sub)
					}
				}
			}
		}
	}
}

func affects(c change, userID string, sub models.Subscription) bool {
	if c.collection != sub.Collection {
		return false
	}
	if c.collection == models.CollectionUsers {
		return true
	}
	return (userID == c.a && sub.PeerID == c.b) || (userID == c.b && sub.PeerID == c.a)
}

// push runs the subscription's query and queues the full snapshot
func (h *Hub) push(client *Client, sub models.Subscription) {
	if !h.clients[client] {
		return
	}
	snapshot := models.Snapshot{SubID: sub.SubID}

	switch sub.Collection {
	case models.CollectionMessages:
		messages, err := database.GetMessagesBetweenUsers(client.UserID, sub.PeerID)
		if err != nil {
			log.Printf("Error running live query %s: %v", sub.SubID, err)
			return
		}
		snapshot.Messages = redactAll(messages)
	case models.CollectionUsers:
		users, err := database.ListUsersExcept(client.UserID)
		if err != nil {
			log.Printf("Error running live query %s: %v", sub.SubID, err)
			return
		}
		snapshot.Users = users
	}

	data, err := models.NewFrame(models.FrameSnapshot, snapshot)
	if err != nil {
		log.Printf("Error marshaling snapshot: %v", err)
		return
	}

	select {
	case client.Send <- data:
		snapshotsSent.WithLabelValues(sub.Collection).Inc()
	default:
		// Send buffer full: the client is dropped
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	liveSubscriptions.Sub(float64(len(client.subs)))
	connectedClients.Dec()
	client.subs = map[string]models.Subscription{}
	close(client.Send)
}

// NotifyConversation re-runs the live queries watching the pair a, b
func NotifyConversation(a, b string) {
	hub.changes <- change{collection: models.CollectionMessages, a: a, b: b}
}

// NotifyUsers re-runs every directory live query
func NotifyUsers() {
	hub.changes <- change{collection: models.CollectionUsers}
}

// HandleWebSocket upgrades an authenticated request to a live query connection
func HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		Conn:   conn,
		Send:   make(chan []byte, 256),
		UserID: user.ID,
		subs:   make(map[string]models.Subscription),
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var frame models.WebSocketMessage
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case models.FrameSubscribe:
			var sub models.Subscription
			if err := json.Unmarshal(frame.Payload, &sub); err != nil {
				continue
			}
			if reason := validateSubscription(sub); reason != "" {
				c.reject(sub.SubID, reason)
				continue
			}
			hub.subscribe <- subscribeRequest{client: c, sub: sub}

		case models.FrameUnsubscribe:
			var sub models.Subscription
			if err := json.Unmarshal(frame.Payload, &sub); err != nil {
				continue
			}
			hub.unsubscribe <- unsubscribeRequest{client: c, subID: sub.SubID}
		}
	}
}

func validateSubscription(sub models.Subscription) string {
	if sub.SubID == "" {
		return "sub_id is required"
	}
	switch sub.Collection {
	case models.CollectionUsers:
		return ""
	case models.CollectionMessages:
		if sub.PeerID == "" {
			return "peer_id is required"
		}
		if _, err := database.GetUserByID(sub.PeerID); err != nil {
			return "unknown peer"
		}
		return ""
	default:
		return "unknown collection"
	}
}

// reject tells the client its subscription was refused. The write goes
// straight to the socket through the send queue without involving the hub.
func (c *Client) reject(subID, reason string) {
	data, err := models.NewFrame(models.FrameError, models.FrameErrorPayload{SubID: subID, Error: reason})
	if err != nil {
		return
	}
	defer func() {
		// Send may already be closed by the hub
		recover()
	}()
	select {
	case c.Send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

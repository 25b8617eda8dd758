package models

import (
	"encoding/json"
	"time"
)

// Message represents a direct message between two users
type Message struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"sender_id"`
	ReceiverID string     `json:"receiver_id"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	Read       bool       `json:"read"`
	Edited     bool       `json:"edited,omitempty"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	Deleted    bool       `json:"deleted,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	Reactions  []Reaction `json:"reactions,omitempty"`
	RepliedTo  *ReplyRef  `json:"replied_to,omitempty"`
}

// ReplyRef is a snapshot of the replied-to message taken at send time.
// It is not updated when the original message changes.
type ReplyRef struct {
	ID                string `json:"id"`
	Content           string `json:"content"`
	SenderDisplayName string `json:"sender_display_name"`
}

// Between reports whether the message belongs to the conversation of a and b
func (m *Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Redacted returns a copy safe to hand to readers: a deleted message keeps
// its id and timestamps but loses its content.
func (m Message) Redacted() Message {
	if m.Deleted {
		m.Content = ""
	}
	return m
}

// NewMessage is the payload for creating a message
type NewMessage struct {
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	RepliedTo  *ReplyRef `json:"replied_to,omitempty"`
}

// MessagePatch is a partial update. Nil fields are left untouched;
// Reactions replaces the whole array when set.
type MessagePatch struct {
	Content   *string     `json:"content,omitempty"`
	Deleted   *bool       `json:"deleted,omitempty"`
	Reactions *[]Reaction `json:"reactions,omitempty"`
	Read      *bool       `json:"read,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p MessagePatch) Empty() bool {
	return p.Content == nil && p.Deleted == nil && p.Reactions == nil && p.Read == nil
}

// MarkReadRequest marks a batch of messages as read
type MarkReadRequest struct {
	IDs []string `json:"ids"`
}

// Live query collections
const (
	CollectionMessages = "messages"
	CollectionUsers    = "users"
)

// Frame types exchanged on the live query socket
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSnapshot    = "snapshot"
	FrameError       = "error"
)

// WebSocketMessage is the envelope for live query frames
type WebSocketMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewFrame encodes payload into an envelope of the given type
func NewFrame(frameType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebSocketMessage{Type: frameType, Payload: raw})
}

// Subscription registers a live query on the socket. PeerID is required
// for the messages collection.
type Subscription struct {
	SubID      string `json:"sub_id"`
	Collection string `json:"collection"`
	PeerID     string `json:"peer_id,omitempty"`
}

// Snapshot is the full current result set of a live query
type Snapshot struct {
	SubID    string    `json:"sub_id"`
	Messages []Message `json:"messages,omitempty"`
	Users    []User    `json:"users,omitempty"`
}

// FrameErrorPayload reports a rejected subscription
type FrameErrorPayload struct {
	SubID string `json:"sub_id,omitempty"`
	Error string `json:"error"`
}

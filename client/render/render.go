// Package render turns conversation and directory state into terminal text.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"dmchat/models"
)

// EmojiOptions is the fixed reaction picker
var EmojiOptions = []string{"👍", "❤️", "😂", "😮", "😢", "😡"}

const (
	EmptyConversation = "No messages yet. Start the conversation!"
	DeletedByYou      = "You deleted this message"
	DeletedByOther    = "This message was deleted"
)

// ValidEmoji reports whether emoji is one of EmojiOptions
func ValidEmoji(emoji string) bool {
	for _, e := range EmojiOptions {
		if e == emoji {
			return true
		}
	}
	return false
}

// RelTime formats t relative to now, e.g. "3 minutes ago"
func RelTime(t, now time.Time) string {
	if t.IsZero() {
		return "just now"
	}
	if now.Sub(t) < time.Second && t.Sub(now) < time.Second {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// ReactionTooltip describes who reacted, e.g. "2 people reacted with 👍"
func ReactionTooltip(r models.Reaction) string {
	if len(r.Users) == 1 {
		return "1 person reacted with " + r.Emoji
	}
	return fmt.Sprintf("%d people reacted with %s", len(r.Users), r.Emoji)
}

// Ticks is the read receipt shown on the local user's own messages
func Ticks(m models.Message) string {
	if m.Read {
		return "✓✓"
	}
	return "✓"
}

// Message renders one message. index is the 1-based position used by the
// chat commands.
func Message(index int, m models.Message, local, remote *models.User, now time.Time) string {
	own := m.SenderID == local.ID
	when := RelTime(m.Timestamp, now)

	if m.Deleted {
		placeholder := DeletedByOther
		if own {
			placeholder = DeletedByYou
		}
		return fmt.Sprintf("[%d] %s  %s", index, when, placeholder)
	}

	author := remote.Label()
	if own {
		author = "You"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s · %s", index, author, when)
	if m.RepliedTo != nil {
		fmt.Fprintf(&b, "\n    ↪ %s: %s", m.RepliedTo.SenderDisplayName, m.RepliedTo.Content)
	}
	b.WriteString("\n    " + m.Content)
	if m.Edited {
		b.WriteString(" (edited)")
	}
	if len(m.Reactions) > 0 {
		parts := make([]string, 0, len(m.Reactions))
		for _, r := range m.Reactions {
			part := fmt.Sprintf("%s %d", r.Emoji, len(r.Users))
			if models.HasReacted(m.Reactions, r.Emoji, local.ID) {
				part += "*"
			}
			parts = append(parts, part)
		}
		b.WriteString("\n    " + strings.Join(parts, "  "))
	}
	if own {
		b.WriteString("\n    " + Ticks(m))
	}
	return b.String()
}

// Conversation renders every message, or the empty state
func Conversation(messages []models.Message, local, remote *models.User, now time.Time) string {
	if len(messages) == 0 {
		return EmptyConversation
	}
	blocks := make([]string, len(messages))
	for i, m := range messages {
		blocks[i] = Message(i+1, m, local, remote, now)
	}
	return strings.Join(blocks, "\n")
}

// User renders one directory entry with presence
func User(u models.User, now time.Time) string {
	if u.IsOnline {
		return fmt.Sprintf("● %s <%s> online", u.Label(), u.Email)
	}
	return fmt.Sprintf("○ %s <%s> last seen %s", u.Label(), u.Email, RelTime(u.LastSeen, now))
}

// Users renders the directory
func Users(users []models.User, now time.Time) string {
	if len(users) == 0 {
		return "No other users yet."
	}
	lines := make([]string, len(users))
	for i, u := range users {
		lines[i] = User(u, now)
	}
	return strings.Join(lines, "\n")
}

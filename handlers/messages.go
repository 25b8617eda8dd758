package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"dmchat/database"
	"dmchat/middleware"
	"dmchat/models"
)

const maxBatchRead = 500

// GetMessages returns the conversation between the caller and another user
func GetMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "auth/unauthenticated", "Unauthorized")
		return
	}

	otherUserID := mux.Vars(r)["userId"]
	if _, err := database.GetUserByID(otherUserID); err != nil {
		writeError(w, http.StatusNotFound, "users/not-found", "User not found")
		return
	}

	messages, err := database.GetMessagesBetweenUsers(user.ID, otherUserID)
	if err != nil {
		log.Printf("Error loading conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, redactAll(messages))
}

// SendMessage creates a new message
func SendMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "auth/unauthenticated", "Unauthorized")
		return
	}

	var req models.NewMessage
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "messages/empty-content", "Message content is required")
		return
	}
	if req.ReceiverID == user.ID {
		writeError(w, http.StatusBadRequest, "messages/invalid-receiver", "Cannot message yourself")
		return
	}

	receiver, err := database.GetUserByID(req.ReceiverID)
	if err != nil {
		writeError(w, http.StatusNotFound, "users/not-found", "Recipient not found")
		return
	}

	message, err := database.CreateMessage(user.ID, receiver.ID, req.Content, req.RepliedTo)
	if err != nil {
		log.Printf("Error creating message: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to send message")
		return
	}

	messageWrites.WithLabelValues("create").Inc()
	NotifyConversation(user.ID, receiver.ID)
	writeJSON(w, http.StatusCreated, message)
}

// UpdateMessage applies a partial update to one message
func UpdateMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "auth/unauthenticated", "Unauthorized")
		return
	}

	var patch models.MessagePatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "messages/empty-update", "Nothing to update")
		return
	}

	current, err := database.GetMessageByID(mux.Vars(r)["id"])
	if err != nil || (current.SenderID != user.ID && current.ReceiverID != user.ID) {
		writeError(w, http.StatusNotFound, "messages/not-found", "Message not found")
		return
	}

	if status, code, msg := checkPatch(user.ID, current, patch); status != 0 {
		writeError(w, status, code, msg)
		return
	}

	updated, err := database.UpdateMessage(current.ID, patch)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "messages/not-found", "Message not found")
		return
	}
	if err != nil {
		log.Printf("Error updating message: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to update message")
		return
	}

	messageWrites.WithLabelValues(patchOp(patch)).Inc()
	NotifyConversation(updated.SenderID, updated.ReceiverID)
	writeJSON(w, http.StatusOK, updated.Redacted())
}

// MarkRead flags a batch of messages addressed to the caller as read
func MarkRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "auth/unauthenticated", "Unauthorized")
		return
	}

	var req models.MarkReadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if len(req.IDs) > maxBatchRead {
		writeError(w, http.StatusBadRequest, "messages/batch-too-large", "Too many messages in one batch")
		return
	}

	senders, err := database.MarkMessagesRead(user.ID, req.IDs)
	if err != nil {
		log.Printf("Error marking messages read: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to mark as read")
		return
	}

	messageWrites.WithLabelValues("read_batch").Inc()
	for _, sender := range senders {
		NotifyConversation(sender, user.ID)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// checkPatch enforces who may change what. A zero status means allowed.
func checkPatch(userID string, current *models.Message, patch models.MessagePatch) (int, string, string) {
	isSender := current.SenderID == userID

	if patch.Content != nil {
		if !isSender {
			return http.StatusForbidden, "messages/forbidden", "Only the sender can edit a message"
		}
		if current.Deleted {
			return http.StatusConflict, "messages/deleted", "Deleted messages cannot be edited"
		}
		if strings.TrimSpace(*patch.Content) == "" {
			return http.StatusBadRequest, "messages/empty-content", "Message content is required"
		}
	}
	if patch.Deleted != nil {
		if !*patch.Deleted {
			return http.StatusBadRequest, "messages/undelete", "Deleted messages cannot be restored"
		}
		if !isSender {
			return http.StatusForbidden, "messages/forbidden", "Only the sender can delete a message"
		}
	}
	if patch.Read != nil {
		if !*patch.Read {
			return http.StatusBadRequest, "messages/unread", "Messages cannot be marked unread"
		}
		if current.ReceiverID != userID {
			return http.StatusForbidden, "messages/forbidden", "Only the receiver can mark a message read"
		}
	}
	if patch.Reactions != nil {
		for _, reaction := range *patch.Reactions {
			if reaction.Emoji == "" || len(reaction.Users) == 0 {
				return http.StatusBadRequest, "messages/invalid-reaction", "Reactions need an emoji and at least one user"
			}
		}
	}
	return 0, "", ""
}

func patchOp(patch models.MessagePatch) string {
	switch {
	case patch.Deleted != nil:
		return "delete"
	case patch.Content != nil:
		return "edit"
	case patch.Reactions != nil:
		return "react"
	default:
		return "read"
	}
}

func redactAll(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	for i, m := range messages {
		out[i] = m.Redacted()
	}
	return out
}

package handlers

import (
	"log"
	"net/http"

	"dmchat/database"
	"dmchat/middleware"
)

// GetUsers returns every registered user except the caller
func GetUsers(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "auth/unauthenticated", "Unauthorized")
		return
	}

	users, err := database.ListUsersExcept(user.ID)
	if err != nil {
		log.Printf("Error listing users: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to get users")
		return
	}

	writeJSON(w, http.StatusOK, users)
}

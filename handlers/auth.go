package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dmchat/database"
	"dmchat/middleware"
	"dmchat/models"
)

// SessionTTL is how long an issued session token stays valid
var SessionTTL = 7 * 24 * time.Hour

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type presenceRequest struct {
	Online bool `json:"online"`
}

// Signup handles user registration
func Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.DisplayName = strings.TrimSpace(req.DisplayName)

	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "auth/invalid-email", "The email address is badly formatted.")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "auth/weak-password", "Password should be at least 6 characters")
		return
	}
	if req.DisplayName == "" || len(req.DisplayName) > 50 {
		writeError(w, http.StatusBadRequest, "auth/invalid-display-name", "Display name must be 1-50 characters")
		return
	}

	if _, err := database.GetUserByEmail(req.Email); err == nil {
		writeError(w, http.StatusConflict, "auth/email-already-in-use", "The email address is already in use by another account.")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Server error")
		return
	}

	user, err := database.CreateUser(req.Email, string(hashedPassword), req.DisplayName)
	if err != nil {
		log.Printf("Error creating user: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to create user")
		return
	}

	token, err := startSession(w, user.ID)
	if err != nil {
		log.Printf("Error creating session: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to create session")
		return
	}

	NotifyUsers()
	writeJSON(w, http.StatusCreated, models.AuthResponse{Token: token, User: *user})
}

// Login handles user authentication
func Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	user, err := database.GetUserByEmail(strings.TrimSpace(strings.ToLower(req.Email)))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "auth/invalid-credential", "Invalid email or password")
		return
	}
	if err != nil {
		log.Printf("Error loading user: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Server error")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "auth/invalid-credential", "Invalid email or password")
		return
	}

	token, err := startSession(w, user.ID)
	if err != nil {
		log.Printf("Error creating session: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, models.AuthResponse{Token: token, User: *user})
}

// Logout terminates the current session
func Logout(w http.ResponseWriter, r *http.Request) {
	if session := middleware.GetSessionFromContext(r); session != nil {
		if err := database.DeleteSession(session.ID); err != nil {
			log.Printf("Error deleting session: %v", err)
			writeError(w, http.StatusInternalServerError, "internal", "Failed to end session")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me returns the current authenticated user
func Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "auth/unauthenticated", "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile changes the caller's display name and avatar
func UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "auth/unauthenticated", "Not authenticated")
		return
	}

	var req models.ProfileUpdate
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" || len(req.DisplayName) > 50 {
		writeError(w, http.StatusBadRequest, "auth/invalid-display-name", "Display name must be 1-50 characters")
		return
	}

	updated, err := database.UpdateProfile(user.ID, req.DisplayName, strings.TrimSpace(req.PhotoURL))
	if err != nil {
		log.Printf("Error updating profile: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to update profile")
		return
	}

	NotifyUsers()
	writeJSON(w, http.StatusOK, updated)
}

// SetPresence records whether the caller is online and stamps last seen
func SetPresence(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "auth/unauthenticated", "Not authenticated")
		return
	}

	var req presenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	updated, err := database.SetPresence(user.ID, req.Online)
	if err != nil {
		log.Printf("Error updating presence: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to update presence")
		return
	}

	NotifyUsers()
	writeJSON(w, http.StatusOK, updated)
}

func startSession(w http.ResponseWriter, userID string) (string, error) {
	sessionID := generateSessionID()
	expiresAt := time.Now().Add(SessionTTL)
	if err := database.CreateSession(sessionID, userID, expiresAt); err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    sessionID,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sessionID, nil
}

func generateSessionID() string {
	bytes := make([]byte, 32)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"dmchat/database"
	"dmchat/models"
)

type contextKey string

const (
	UserContextKey    contextKey = "user"
	SessionContextKey contextKey = "session"
)

// Header names for the project credentials every API call must carry
const (
	APIKeyHeader    = "X-Api-Key"
	ProjectIDHeader = "X-Project-Id"
)

// SessionToken extracts the session token from the Authorization header,
// falling back to the session cookie
func SessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if cookie, err := r.Cookie("session"); err == nil {
		return cookie.Value
	}
	return ""
}

// Auth middleware checks for valid session and adds user to context
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := SessionToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "auth/unauthenticated", "Unauthorized")
			return
		}

		session, err := database.GetSession(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "auth/invalid-session", "Invalid session")
			return
		}

		user, err := database.GetUserByID(session.UserID)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "auth/user-not-found", "User not found")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		ctx = context.WithValue(ctx, SessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserFromContext retrieves the user from the request context
func GetUserFromContext(r *http.Request) *models.User {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetSessionFromContext retrieves the session from the request context
func GetSessionFromContext(r *http.Request) *models.Session {
	session, ok := r.Context().Value(SessionContextKey).(*models.Session)
	if !ok {
		return nil
	}
	return session
}

// RequireProject rejects requests that do not present the configured
// API key and project id
func RequireProject(apiKey, projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			project := r.Header.Get(ProjectIDHeader)
			// Browsers cannot set headers on the websocket handshake
			if key == "" && project == "" {
				key = r.URL.Query().Get("api_key")
				project = r.URL.Query().Get("project_id")
			}

			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				writeJSONError(w, http.StatusForbidden, "app/invalid-api-key", "Invalid API key")
				return
			}
			if project != projectID {
				writeJSONError(w, http.StatusNotFound, "app/project-not-found", "Unknown project")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error": "` + message + `", "code": "` + code + `"}`))
}

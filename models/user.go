package models

import "time"

// User represents a registered account and its profile record
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Password    string    `json:"-"` // Never send password in JSON
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeen    time.Time `json:"last_seen"`
	IsOnline    bool      `json:"is_online"`
}

// Label is the name shown for the user in lists and notifications
func (u *User) Label() string {
	if u == nil || u.DisplayName == "" {
		return "User"
	}
	return u.DisplayName
}

// Session is an issued login token
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthResponse is returned by signup and login
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// ProfileUpdate carries the editable profile fields
type ProfileUpdate struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

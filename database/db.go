package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"dmchat/models"
)

var DB *sql.DB

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Initialize opens the SQLite database at path and creates tables
func Initialize(path string) error {
	var err error
	DB, err = sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := DB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite has a single writer; one connection keeps transactions from
	// tripping over each other.
	DB.SetMaxOpenConns(1)

	if err := createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	log.Println("Database initialized successfully")
	return nil
}

// Close releases the database handle
func Close() error {
	if DB == nil {
		return nil
	}
	return DB.Close()
}

func createTables() error {
	tables := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		photo_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL,
		is_online BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		read BOOLEAN NOT NULL DEFAULT 0,
		edited BOOLEAN NOT NULL DEFAULT 0,
		edited_at TIMESTAMP,
		deleted BOOLEAN NOT NULL DEFAULT 0,
		deleted_at TIMESTAMP,
		reactions TEXT NOT NULL DEFAULT '[]',
		reply_id TEXT,
		reply_content TEXT,
		reply_sender_name TEXT,
		FOREIGN KEY (sender_id) REFERENCES users(id),
		FOREIGN KEY (receiver_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	`

	_, err := DB.Exec(tables)
	return err
}

func now() time.Time {
	return time.Now().UTC()
}

// User queries

const userColumns = "id, email, password, display_name, photo_url, created_at, last_seen, is_online"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Password, &user.DisplayName, &user.PhotoURL,
		&user.CreatedAt, &user.LastSeen, &user.IsOnline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser inserts a new user profile. The account starts online.
func CreateUser(email, passwordHash, displayName string) (*models.User, error) {
	t := now()
	id := uuid.NewString()
	_, err := DB.Exec(
		"INSERT INTO users (id, email, password, display_name, created_at, last_seen, is_online) VALUES (?, ?, ?, ?, ?, ?, 1)",
		id, email, passwordHash, displayName, t, t,
	)
	if err != nil {
		return nil, err
	}
	return GetUserByID(id)
}

// GetUserByID retrieves a user by their ID
func GetUserByID(id string) (*models.User, error) {
	return scanUser(DB.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetUserByEmail retrieves a user by their email
func GetUserByEmail(email string) (*models.User, error) {
	return scanUser(DB.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ?", email))
}

// ListUsersExcept returns every registered user other than userID
func ListUsersExcept(userID string) ([]models.User, error) {
	rows, err := DB.Query(
		"SELECT "+userColumns+" FROM users WHERE id != ? ORDER BY display_name, created_at",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// UpdateProfile changes the display name, and the photo URL when one is given
func UpdateProfile(userID, displayName, photoURL string) (*models.User, error) {
	var (
		result sql.Result
		err    error
	)
	if photoURL != "" {
		result, err = DB.Exec("UPDATE users SET display_name = ?, photo_url = ? WHERE id = ?", displayName, photoURL, userID)
	} else {
		result, err = DB.Exec("UPDATE users SET display_name = ? WHERE id = ?", displayName, userID)
	}
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return GetUserByID(userID)
}

// SetPresence records the online flag and stamps last_seen
func SetPresence(userID string, online bool) (*models.User, error) {
	result, err := DB.Exec("UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?", online, now(), userID)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return GetUserByID(userID)
}

// Session queries

// CreateSession creates a new session for a user
func CreateSession(sessionID, userID string, expiresAt time.Time) error {
	_, err := DB.Exec(
		"INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)",
		sessionID, userID, now(), expiresAt.UTC(),
	)
	return err
}

// GetSession retrieves an unexpired session by its ID
func GetSession(sessionID string) (*models.Session, error) {
	session := &models.Session{}
	err := DB.QueryRow(
		"SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = ?",
		sessionID,
	).Scan(&session.ID, &session.UserID, &session.CreatedAt, &session.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !session.ExpiresAt.After(now()) {
		return nil, ErrNotFound
	}
	return session, nil
}

// DeleteSession removes a session
func DeleteSession(sessionID string) error {
	_, err := DB.Exec("DELETE FROM sessions WHERE id = ?", sessionID)
	return err
}

// DeleteExpiredSessions removes sessions past their expiry
func DeleteExpiredSessions() (int64, error) {
	result, err := DB.Exec("DELETE FROM sessions WHERE expires_at <= ?", now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Message queries

const messageColumns = `id, sender_id, receiver_id, content, timestamp, read, edited, edited_at,
	deleted, deleted_at, reactions, reply_id, reply_content, reply_sender_name`

func scanMessage(row scanner) (*models.Message, error) {
	var (
		msg                          models.Message
		editedAt, deletedAt          sql.NullTime
		reactions                    string
		replyID, replyContent, reply sql.NullString
	)
	err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.Timestamp,
		&msg.Read, &msg.Edited, &editedAt, &msg.Deleted, &deletedAt, &reactions,
		&replyID, &replyContent, &reply)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		msg.DeletedAt = &t
	}
	if reactions != "" {
		if err := json.Unmarshal([]byte(reactions), &msg.Reactions); err != nil {
			return nil, fmt.Errorf("message %s: decode reactions: %w", msg.ID, err)
		}
	}
	if replyID.Valid {
		msg.RepliedTo = &models.ReplyRef{
			ID:                replyID.String,
			Content:           replyContent.String,
			SenderDisplayName: reply.String,
		}
	}
	return &msg, nil
}

// CreateMessage inserts an unread, unedited, undeleted message with no
// reactions. The timestamp is assigned here.
func CreateMessage(senderID, receiverID, content string, reply *models.ReplyRef) (*models.Message, error) {
	id := uuid.NewString()

	var replyID, replyContent, replySender interface{}
	if reply != nil {
		replyID, replyContent, replySender = reply.ID, reply.Content, reply.SenderDisplayName
	}

	_, err := DB.Exec(
		`INSERT INTO messages (id, sender_id, receiver_id, content, timestamp, reactions, reply_id, reply_content, reply_sender_name)
		VALUES (?, ?, ?, ?, ?, '[]', ?, ?, ?)`,
		id, senderID, receiverID, content, now(), replyID, replyContent, replySender,
	)
	if err != nil {
		return nil, err
	}
	return GetMessageByID(id)
}

// GetMessageByID retrieves a message by its ID
func GetMessageByID(id string) (*models.Message, error) {
	return scanMessage(DB.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = ?", id))
}

// GetMessagesBetweenUsers returns the whole conversation of two users,
// oldest first
func GetMessagesBetweenUsers(userID1, userID2 string) ([]models.Message, error) {
	rows, err := DB.Query(
		`SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY timestamp ASC, rowid ASC`,
		userID1, userID2, userID2, userID1,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// UpdateMessage applies a partial update and returns the stored result.
// Setting content marks the message edited; setting deleted stamps deleted_at.
func UpdateMessage(id string, patch models.MessagePatch) (*models.Message, error) {
	var (
		sets []string
		args []interface{}
	)
	t := now()

	if patch.Content != nil {
		sets = append(sets, "content = ?", "edited = 1", "edited_at = ?")
		args = append(args, *patch.Content, t)
	}
	if patch.Deleted != nil {
		if *patch.Deleted {
			sets = append(sets, "deleted = 1", "deleted_at = ?")
			args = append(args, t)
		} else {
			sets = append(sets, "deleted = 0", "deleted_at = NULL")
		}
	}
	if patch.Reactions != nil {
		reactions := *patch.Reactions
		if reactions == nil {
			reactions = []models.Reaction{}
		}
		encoded, err := json.Marshal(reactions)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "reactions = ?")
		args = append(args, string(encoded))
	}
	if patch.Read != nil {
		sets = append(sets, "read = ?")
		args = append(args, *patch.Read)
	}
	if len(sets) == 0 {
		return GetMessageByID(id)
	}

	args = append(args, id)
	result, err := DB.Exec("UPDATE messages SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return GetMessageByID(id)
}

// MarkMessagesRead flags the given messages read in one transaction.
// Only messages addressed to receiverID are touched. It returns the
// distinct senders whose messages changed.
func MarkMessagesRead(receiverID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE messages SET read = 1 WHERE id = ? AND receiver_id = ? AND read = 0 RETURNING sender_id")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	seen := make(map[string]bool)
	var senders []string
	for _, id := range ids {
		var sender string
		err := stmt.QueryRow(id, receiverID).Scan(&sender)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !seen[sender] {
			seen[sender] = true
			senders = append(senders, sender)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return senders, nil
}

// Package notify owns the in-app notification store and the out-of-band
// email dispatcher. Everything in this package is a side effect of the
// primary messaging operations: failures are logged and swallowed so the
// message and conversation paths never block on it.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Notification types, matching the marketplace's notification center.
const (
	TypeMessage = "message"
)

// ThreadLink builds the deep link into a conversation thread. Both the
// creator and the clearer go through this helper so the cross-entity
// "opening a thread clears its notification" rule cannot drift.
func ThreadLink(conversationID string) string {
	return "/mensajes?id=" + conversationID
}

// Notification is one in-app notification row.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages in-app notifications in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a notification store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a notification.
func (s *Store) Create(ctx context.Context, n Notification) error {
	const query = `
		INSERT INTO notifications (user_id, type, title, message, link)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query, n.UserID, n.Type, n.Title, n.Message, n.Link)
	if err != nil {
		return fmt.Errorf("notify: insert: %w", err)
	}
	return nil
}

// ConversationStarted creates the "new conversation" notification for the
// counterparty of a freshly created conversation. Implements
// directory.Notifier.
func (s *Store) ConversationStarted(ctx context.Context, recipientID, conversationID string) error {
	return s.Create(ctx, Notification{
		UserID:  recipientID,
		Type:    TypeMessage,
		Title:   "Nuevo Mensaje",
		Message: "Un usuario ha iniciado una conversación contigo.",
		Link:    ThreadLink(conversationID),
	})
}

// MarkRead marks a single notification as read.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	const query = `UPDATE notifications SET read = true WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}
	return nil
}

// MarkThreadRead clears every standing unread notification pointing at the
// given conversation for the given user. Implements
// messagelog.NotificationClearer.
func (s *Store) MarkThreadRead(ctx context.Context, userID, conversationID string) error {
	const query = `
		UPDATE notifications
		SET read = true
		WHERE user_id = $1 AND link = $2 AND NOT read`

	if _, err := s.db.ExecContext(ctx, query, userID, ThreadLink(conversationID)); err != nil {
		return fmt.Errorf("notify: mark thread read: %w", err)
	}
	return nil
}

// ListForUser returns the user's most recent notifications, newest first.
func (s *Store) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT id, user_id, type, title, message, link, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: list rows: %w", err)
	}
	return out, nil
}

package messagelog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PGStore is the Postgres-backed message store.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a message store backed by the given database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// List returns a conversation's messages ascending by (created_at, id).
func (s *PGStore) List(ctx context.Context, conversationID string) ([]Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, content, read, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("messagelog: list: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messagelog: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messagelog: list rows: %w", err)
	}
	return msgs, nil
}

// Insert appends a message and bumps the conversation's last-activity
// timestamp in the same transaction.
func (s *PGStore) Insert(ctx context.Context, conversationID, senderID, content string) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("messagelog: begin: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO messages (conversation_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, conversation_id, sender_id, content, read, created_at`

	var m Message
	err = tx.QueryRowContext(ctx, insert, conversationID, senderID, content).
		Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Read, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("messagelog: insert: %w", err)
	}

	const bump = `UPDATE conversations SET updated_at = now() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, bump, conversationID); err != nil {
		return Message{}, fmt.Errorf("messagelog: bump activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("messagelog: commit: %w", err)
	}
	return m, nil
}

// UnreadIDs returns the ids of currently-unread messages in the conversation
// that were not sent by readerID, in creation order.
func (s *PGStore) UnreadIDs(ctx context.Context, conversationID, readerID string) ([]string, error) {
	const query = `
		SELECT id
		FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND NOT read
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("messagelog: unread ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("messagelog: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messagelog: unread rows: %w", err)
	}
	return ids, nil
}

// MarkReadByIDs flips read=true for exactly the given id set.
func (s *PGStore) MarkReadByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	const query = `UPDATE messages SET read = true WHERE id = ANY($1) AND NOT read`
	res, err := s.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("messagelog: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("messagelog: rows affected: %w", err)
	}
	return int(n), nil
}

// UnreadCountForUser counts unread messages addressed to the user across all
// their conversations.
func (s *PGStore) UnreadCountForUser(ctx context.Context, userID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.participant_a = $1 OR c.participant_b = $1)
		  AND m.sender_id <> $1
		  AND NOT m.read`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("messagelog: unread count: %w", err)
	}
	return count, nil
}

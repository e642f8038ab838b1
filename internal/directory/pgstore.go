package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PGStore is the Postgres-backed conversation store.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a conversation store backed by the given database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Lookup finds the conversation for a canonical pair.
func (s *PGStore) Lookup(ctx context.Context, participantA, participantB string) (Conversation, error) {
	const query = `
		SELECT id, participant_a, participant_b, initiator_id, created_at, updated_at
		FROM conversations
		WHERE participant_a = $1 AND participant_b = $2`

	return s.scanOne(s.db.QueryRowContext(ctx, query, participantA, participantB))
}

// Insert creates a conversation row for a canonical pair. A unique-constraint
// violation on the pair maps to ErrDuplicatePair so the caller can re-query
// the winner.
func (s *PGStore) Insert(ctx context.Context, participantA, participantB, initiatorID string) (Conversation, error) {
	const query = `
		INSERT INTO conversations (participant_a, participant_b, initiator_id)
		VALUES ($1, $2, $3)
		RETURNING id, participant_a, participant_b, initiator_id, created_at, updated_at`

	conv, err := s.scanOne(s.db.QueryRowContext(ctx, query, participantA, participantB, initiatorID))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Conversation{}, ErrDuplicatePair
		}
		return Conversation{}, err
	}
	return conv, nil
}

// Get returns a conversation by id.
func (s *PGStore) Get(ctx context.Context, id string) (Conversation, error) {
	const query = `
		SELECT id, participant_a, participant_b, initiator_id, created_at, updated_at
		FROM conversations
		WHERE id = $1`

	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// ListForUser returns the user's conversations joined with the counterparty's
// profile and the user's unread count, most recently active first.
func (s *PGStore) ListForUser(ctx context.Context, userID string) ([]Summary, error) {
	const query = `
		SELECT c.id, c.participant_a, c.participant_b, c.initiator_id, c.created_at, c.updated_at,
		       CASE WHEN c.participant_a = $1 THEN c.participant_b ELSE c.participant_a END,
		       COALESCE(trim(p.first_name || ' ' || p.last_name), ''),
		       COALESCE(p.avatar_url, ''),
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND NOT m.read)
		FROM conversations c
		LEFT JOIN profiles p
		  ON p.user_id = CASE WHEN c.participant_a = $1 THEN c.participant_b ELSE c.participant_a END
		WHERE c.participant_a = $1 OR c.participant_b = $1
		ORDER BY c.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("directory: list for user: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		err := rows.Scan(
			&sum.ID, &sum.ParticipantA, &sum.ParticipantB, &sum.InitiatorID,
			&sum.CreatedAt, &sum.UpdatedAt,
			&sum.CounterpartyID, &sum.CounterpartyName, &sum.CounterpartyAvatar,
			&sum.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("directory: scan summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: list rows: %w", err)
	}
	return summaries, nil
}

func (s *PGStore) scanOne(row *sql.Row) (Conversation, error) {
	var conv Conversation
	err := row.Scan(
		&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &conv.InitiatorID,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("directory: scan conversation: %w", err)
	}
	return conv, nil
}

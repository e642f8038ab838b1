// Package messagelog owns the append-only per-conversation message store:
// ordering, read-state tracking, and the fan-out side effects of a durable
// append (realtime publish, notification dispatch).
package messagelog

import (
	"errors"
	"time"
	"unicode/utf8"
)

// ErrEmptyMessage is returned when the trimmed message content is empty.
// Rejected before any mutation, optimistic or durable.
var ErrEmptyMessage = errors.New("messagelog: empty message")

// ErrNotParticipant is returned when the sender or reader is not one of the
// conversation's two participants.
var ErrNotParticipant = errors.New("messagelog: user is not a conversation participant")

// Content limits, checked before any write.
const (
	MaxContentBytes = 4096
	MaxContentChars = 2000
)

// ErrContentTooLong is returned when the content exceeds MaxContentBytes or
// MaxContentChars.
var ErrContentTooLong = errors.New("messagelog: message content too long")

// ErrInvalidContent is returned for content that is not valid UTF-8.
var ErrInvalidContent = errors.New("messagelog: message content is not valid UTF-8")

// validateContent checks the trimmed content against the size and encoding
// limits.
func validateContent(content string) error {
	if len(content) > MaxContentBytes {
		return ErrContentTooLong
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return ErrContentTooLong
	}
	if !utf8.ValidString(content) {
		return ErrInvalidContent
	}
	return nil
}

// Message is a single chat message. Immutable once created except for the
// read flag, which transitions false to true exactly once.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Package directory resolves and creates conversations between two
// marketplace users. Conversations are stored under a canonical unordered
// participant pair so that at most one exists per pair of users, no matter
// which side initiates contact.
package directory

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("directory: conversation not found")

// ErrDuplicatePair is returned by Store.Insert when the canonical pair
// already exists. FindOrCreate handles it internally; callers never see it.
var ErrDuplicatePair = errors.New("directory: conversation pair already exists")

// ErrSelfConversation is returned when both participant ids are the same user.
var ErrSelfConversation = errors.New("directory: cannot start a conversation with yourself")

// Conversation is a persistent pairing of exactly two users. ParticipantA is
// always the lexicographically smaller user id; InitiatorID records which of
// the two first made contact.
type Conversation struct {
	ID           string
	ParticipantA string
	ParticipantB string
	InitiatorID  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Summary is a conversation as shown in a user's conversation list, joined
// with the counterparty's display profile and the viewer's unread count.
type Summary struct {
	Conversation
	CounterpartyID     string
	CounterpartyName   string
	CounterpartyAvatar string // opaque URL, passed through untouched
	UnreadCount        int
}

// CounterpartyOf returns the other participant's user id, or "" if selfID is
// not a participant. This is the single place "which side am I" is answered.
func CounterpartyOf(c Conversation, selfID string) string {
	switch selfID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

// IsParticipant reports whether the user is one of the conversation's two sides.
func IsParticipant(c Conversation, userID string) bool {
	return userID == c.ParticipantA || userID == c.ParticipantB
}

// canonicalPair orders two user ids into the stored (participant_a,
// participant_b) form.
func canonicalPair(x, y string) (string, string) {
	if x < y {
		return x, y
	}
	return y, x
}

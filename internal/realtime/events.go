package realtime

import "time"

// Message event kinds.
const (
	MessageNew  = "new"
	MessageRead = "read"
)

// Presence event kinds.
const (
	PresenceJoin      = "join"
	PresenceLeave     = "leave"
	PresenceHeartbeat = "heartbeat"
)

// MessageEvent is the payload published on messages.<conversation_id>.
// Kind "new" carries a freshly appended message; kind "read" carries the
// batch of message ids a reader just marked read.
type MessageEvent struct {
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	ID             string    `json:"id,omitempty"` // new
	SenderID       string    `json:"sender_id,omitempty"`
	Content        string    `json:"content,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	ReaderID       string    `json:"reader_id,omitempty"` // read
	MessageIDs     []string  `json:"message_ids,omitempty"`
}

// ConversationEvent is the payload published on conversations.<user_id>
// whenever one of the user's conversations is created or touched. Receivers
// re-fetch the authoritative list rather than patching local state.
type ConversationEvent struct {
	ConversationID string `json:"conversation_id"`
	Created        bool   `json:"created,omitempty"`
}

// PresenceEvent is the payload on the shared presence subject.
type PresenceEvent struct {
	Kind   string `json:"kind"` // join | leave | heartbeat
	UserID string `json:"user_id"`
	At     int64  `json:"at"` // unix seconds
}

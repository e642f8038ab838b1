// Package protocol defines the WebSocket message types and structures used
// for communication between the client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pawnecta/messaging/internal/directory"
	"github.com/pawnecta/messaging/internal/messagelog"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAuth              = "auth"
	TypeContact           = "contact"
	TypeOpenThread        = "open_thread"
	TypeCloseThread       = "close_thread"
	TypeSendMessage       = "send_message"
	TypeMarkRead          = "mark_read"
	TypeListConversations = "list_conversations"
	TypePing              = "ping"
)

// Server -> Client message types.
const (
	TypeAuthed           = "authed"
	TypeThread           = "thread"
	TypeMessageNew       = "message_new"
	TypeMessageConfirmed = "message_confirmed"
	TypeSendFailed       = "send_failed"
	TypeConversations    = "conversations"
	TypeNotification     = "notification"
	TypeError            = "error"
	TypePong             = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AuthMsg is the first message on a fresh connection: it binds the connection
// to a signed-in user via a session token.
type AuthMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// ContactMsg asks to resolve or create the conversation with another user
// ("contact this sitter/client").
type ContactMsg struct {
	Type           string `json:"type"`
	CounterpartyID string `json:"counterparty_id"`
}

// OpenThreadMsg is sent when the client opens a conversation view. The server
// replies with the full message list, marks the counterparty's unread
// messages read, and starts pushing the live tail.
type OpenThreadMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// CloseThreadMsg stops the live tail for a conversation view.
type CloseThreadMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// SendMessageMsg submits a new message. ClientRef is the sender's temp id for
// its optimistic entry; the server echoes it back on confirmation or failure
// so the client can reconcile without guessing by content.
type SendMessageMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	ClientRef      string `json:"client_ref"`
	Text           string `json:"text"`
}

// MarkReadMsg flips all currently-unread counterparty messages in the
// conversation to read.
type MarkReadMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ListConversationsMsg requests the authoritative conversation list.
type ListConversationsMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// AuthedMsg confirms authentication and tells the client who it is.
type AuthedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// ThreadMsg is the full ordered message list for an opened conversation.
type ThreadMsg struct {
	Type           string               `json:"type"`
	ConversationID string               `json:"conversation_id"`
	Messages       []messagelog.Message `json:"messages"`
}

// MessageNewMsg pushes a newly appended message to every open view of its
// conversation. Clients must dedupe by message id; deliveries can repeat.
type MessageNewMsg struct {
	Type    string             `json:"type"`
	Message messagelog.Message `json:"message"`
}

// MessageConfirmedMsg tells the sender its optimistic entry is durable.
// ClientRef matches the SendMessageMsg that produced it.
type MessageConfirmedMsg struct {
	Type      string             `json:"type"`
	ClientRef string             `json:"client_ref"`
	Message   messagelog.Message `json:"message"`
}

// SendFailedMsg tells the sender its optimistic entry must be rolled back and
// the typed text restored.
type SendFailedMsg struct {
	Type      string `json:"type"`
	ClientRef string `json:"client_ref"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// ConversationsMsg is the authoritative conversation list, most recent
// activity first.
type ConversationsMsg struct {
	Type          string              `json:"type"`
	Conversations []directory.Summary `json:"conversations"`
}

// NotificationMsg pushes an in-app notification (e.g. a new conversation was
// started with this user).
type NotificationMsg struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Link    string `json:"link"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuth:
		var m AuthMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeContact:
		var m ContactMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOpenThread:
		var m OpenThreadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCloseThread:
		var m CloseThreadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeListConversations:
		var m ListConversationsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

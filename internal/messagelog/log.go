package messagelog

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pawnecta/messaging/internal/directory"
	"github.com/pawnecta/messaging/internal/metrics"
	"github.com/pawnecta/messaging/internal/realtime"
)

// Store is the persistence contract for messages.
type Store interface {
	// List returns a conversation's messages ascending by (created_at, id).
	List(ctx context.Context, conversationID string) ([]Message, error)
	// Insert appends a message and bumps the conversation's last activity
	// in the same transaction.
	Insert(ctx context.Context, conversationID, senderID, content string) (Message, error)
	// UnreadIDs returns the ids of messages in the conversation that were
	// not sent by readerID and are currently unread, in creation order.
	UnreadIDs(ctx context.Context, conversationID, readerID string) ([]string, error)
	// MarkReadByIDs flips read=true for exactly the given id set and
	// returns how many rows changed. Never flips read back to false.
	MarkReadByIDs(ctx context.Context, ids []string) (int, error)
	// UnreadCountForUser counts unread messages addressed to the user
	// across all their conversations.
	UnreadCountForUser(ctx context.Context, userID string) (int, error)
}

// ConversationSource resolves conversation identity for participant checks.
// Satisfied by *directory.Directory.
type ConversationSource interface {
	Get(ctx context.Context, id string) (directory.Conversation, error)
}

// Publisher fans message events out to subscribed views. Satisfied by
// *realtime.Bus. Publish failures are logged and swallowed: realtime
// delivery is best-effort on top of the durable write.
type Publisher interface {
	PublishMessageEvent(conversationID string, ev realtime.MessageEvent) error
	PublishConversationEvent(userID string, ev realtime.ConversationEvent) error
}

// MessageDispatcher decides whether an appended message needs an out-of-band
// nudge. Implementations must isolate their own failures.
type MessageDispatcher interface {
	MessageSent(ctx context.Context, conv directory.Conversation, msg Message)
}

// NotificationClearer marks the standing in-app notification for a thread as
// read when the user opens it.
type NotificationClearer interface {
	MarkThreadRead(ctx context.Context, userID, conversationID string) error
}

// Log is the message log service. The bus, dispatcher and notifications
// collaborators may each be nil; every side effect degrades to a no-op.
type Log struct {
	store         Store
	convs         ConversationSource
	bus           Publisher
	dispatcher    MessageDispatcher
	notifications NotificationClearer
	events        *Events
}

// New creates a message log over the given store and collaborators.
func New(store Store, convs ConversationSource, bus Publisher, dispatcher MessageDispatcher, notifications NotificationClearer) *Log {
	return &Log{
		store:         store,
		convs:         convs,
		bus:           bus,
		dispatcher:    dispatcher,
		notifications: notifications,
		events:        NewEvents(),
	}
}

// Events exposes the in-process read-event registry.
func (l *Log) Events() *Events {
	return l.events
}

// List returns the conversation's messages in authoritative order.
func (l *Log) List(ctx context.Context, conversationID string) ([]Message, error) {
	return l.store.List(ctx, conversationID)
}

// Append durably writes a message. Preconditions: trimmed content non-empty
// and within the content limits, sender a participant; all checked before
// any write. On success
// the conversation's last activity is bumped, the message fans out on the
// realtime bus, and the notification dispatcher decides on an email nudge.
func (l *Log) Append(ctx context.Context, conversationID, senderID, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyMessage
	}
	if err := validateContent(content); err != nil {
		return Message{}, err
	}

	conv, err := l.convs.Get(ctx, conversationID)
	if err != nil {
		return Message{}, fmt.Errorf("messagelog: resolve conversation: %w", err)
	}
	if !directory.IsParticipant(conv, senderID) {
		return Message{}, ErrNotParticipant
	}

	start := time.Now()
	msg, err := l.store.Insert(ctx, conversationID, senderID, content)
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SendFailures.Inc()
		return Message{}, fmt.Errorf("messagelog: append: %w", err)
	}
	metrics.MessagesSent.Inc()

	l.publishNew(conv, msg)

	if l.dispatcher != nil {
		l.dispatcher.MessageSent(ctx, conv, msg)
	}

	return msg, nil
}

// MarkRead flips all currently-unread counterparty messages in the
// conversation to read in one batch. The update is scoped to the ids read at
// call time: messages arriving concurrently stay unread. Opening a thread
// also clears the standing in-app notification pointing at it. Returns the
// number of messages marked; an empty set is a no-op, never an error.
func (l *Log) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	conv, err := l.convs.Get(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("messagelog: resolve conversation: %w", err)
	}
	if !directory.IsParticipant(conv, readerID) {
		return 0, ErrNotParticipant
	}

	// Snapshot first, then update exactly that id set.
	ids, err := l.store.UnreadIDs(ctx, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("messagelog: unread snapshot: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := l.store.MarkReadByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("messagelog: mark read: %w", err)
	}
	metrics.MessagesMarkedRead.Add(float64(n))

	if l.notifications != nil {
		if err := l.notifications.MarkThreadRead(ctx, readerID, conversationID); err != nil {
			log.Printf("[messagelog] clear thread notification conv=%s reader=%s: %v", conversationID, readerID, err)
		}
	}

	if l.bus != nil {
		err := l.bus.PublishMessageEvent(conversationID, realtime.MessageEvent{
			Kind:           realtime.MessageRead,
			ConversationID: conversationID,
			ReaderID:       readerID,
			MessageIDs:     ids,
		})
		if err != nil {
			log.Printf("[messagelog] publish read event conv=%s: %v", conversationID, err)
		}
	}

	l.events.PublishRead(ReadEvent{
		ConversationID: conversationID,
		ReaderID:       readerID,
		MessageIDs:     ids,
	})

	return n, nil
}

// UnreadCount returns the number of unread messages addressed to the user
// across all their conversations (badge source).
func (l *Log) UnreadCount(ctx context.Context, userID string) (int, error) {
	return l.store.UnreadCountForUser(ctx, userID)
}

func (l *Log) publishNew(conv directory.Conversation, msg Message) {
	if l.bus == nil {
		return
	}

	err := l.bus.PublishMessageEvent(conv.ID, realtime.MessageEvent{
		Kind:           realtime.MessageNew,
		ConversationID: conv.ID,
		ID:             msg.ID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		log.Printf("[messagelog] publish message conv=%s: %v", conv.ID, err)
	}

	// Both participants' conversation lists re-order on new activity.
	for _, userID := range []string{conv.ParticipantA, conv.ParticipantB} {
		err := l.bus.PublishConversationEvent(userID, realtime.ConversationEvent{
			ConversationID: conv.ID,
		})
		if err != nil {
			log.Printf("[messagelog] publish conversation event user=%s: %v", userID, err)
		}
	}
}

package client

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/pawnecta/messaging/internal/messagelog"
	"github.com/pawnecta/messaging/internal/realtime"
)

// UnreadCounter is the slice of the message log the badge needs.
// Satisfied by *messagelog.Log.
type UnreadCounter interface {
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// UnreadBadge tracks the user's total unread message count across all
// conversations. It refreshes on the in-process read event bus (a thread
// view in the same session just marked messages read) and on realtime
// conversation activity (a new message somewhere), so it never needs a
// polling loop.
type UnreadBadge struct {
	selfID  string
	counter UnreadCounter
	events  *messagelog.Events
	feed    ConversationFeed
	subKey  string

	mu         sync.Mutex
	count      int
	open       bool
	cancelRead func()
}

// NewUnreadBadge creates a closed badge; call Open to count and subscribe.
func NewUnreadBadge(selfID string, counter UnreadCounter, events *messagelog.Events, feed ConversationFeed) *UnreadBadge {
	return &UnreadBadge{
		selfID:  selfID,
		counter: counter,
		events:  events,
		feed:    feed,
		subKey:  "badge-" + selfID + "-" + uuid.NewString(),
	}
}

// Open reads the initial count and subscribes to both refresh triggers.
func (b *UnreadBadge) Open(ctx context.Context) error {
	if err := b.refresh(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	wasOpen := b.open
	b.open = true
	b.mu.Unlock()
	if wasOpen {
		return nil
	}

	b.mu.Lock()
	b.cancelRead = b.events.SubscribeRead(func(ev messagelog.ReadEvent) {
		if ev.ReaderID != b.selfID {
			return
		}
		if err := b.refresh(context.Background()); err != nil {
			log.Printf("[client] badge refresh user=%s: %v", b.selfID, err)
		}
	})
	b.mu.Unlock()

	if err := b.feed.SubscribeConversations(b.selfID, b.subKey, func(realtime.ConversationEvent) {
		if err := b.refresh(context.Background()); err != nil {
			log.Printf("[client] badge refresh user=%s: %v", b.selfID, err)
		}
	}); err != nil {
		return err
	}
	return nil
}

// Close tears down both subscriptions.
func (b *UnreadBadge) Close() {
	b.mu.Lock()
	wasOpen := b.open
	b.open = false
	cancel := b.cancelRead
	b.cancelRead = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasOpen {
		if err := b.feed.UnsubscribeConversations(b.subKey); err != nil {
			log.Printf("[client] unsubscribe badge user=%s: %v", b.selfID, err)
		}
	}
}

// Count returns the last observed unread total. Never negative.
func (b *UnreadBadge) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *UnreadBadge) refresh(ctx context.Context) error {
	n, err := b.counter.UnreadCount(ctx, b.selfID)
	if err != nil {
		return err
	}
	if n < 0 {
		n = 0
	}
	b.mu.Lock()
	b.count = n
	b.mu.Unlock()
	return nil
}

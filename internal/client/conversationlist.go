package client

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/pawnecta/messaging/internal/directory"
	"github.com/pawnecta/messaging/internal/realtime"
)

// DirectoryService is the slice of the conversation directory the list
// controller needs. Satisfied by *directory.Directory.
type DirectoryService interface {
	FindOrCreate(ctx context.Context, selfID, counterpartyID string) (directory.Conversation, bool, error)
	ListForUser(ctx context.Context, userID string) ([]directory.Summary, error)
}

// ConversationFeed delivers conversation-level activity events for a user.
// Satisfied by *realtime.Bus.
type ConversationFeed interface {
	SubscribeConversations(userID, key string, handler func(realtime.ConversationEvent)) error
	UnsubscribeConversations(key string) error
}

// ConversationList is the controller for a user's conversation overview.
// Live events trigger a re-fetch of the authoritative list rather than local
// patching, since deliveries missed while disconnected are never replayed.
type ConversationList struct {
	selfID string
	dir    DirectoryService
	feed   ConversationFeed
	subKey string

	mu    sync.Mutex
	items []directory.Summary
	open  bool
}

// NewConversationList creates a closed list; call Open to fetch and subscribe.
func NewConversationList(selfID string, dir DirectoryService, feed ConversationFeed) *ConversationList {
	return &ConversationList{
		selfID: selfID,
		dir:    dir,
		feed:   feed,
		subKey: "convlist-" + selfID + "-" + uuid.NewString(),
	}
}

// Open fetches the list and subscribes to activity events.
func (l *ConversationList) Open(ctx context.Context) error {
	if err := l.Refresh(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	wasOpen := l.open
	l.open = true
	l.mu.Unlock()

	if !wasOpen {
		if err := l.feed.SubscribeConversations(l.selfID, l.subKey, l.handleEvent); err != nil {
			return err
		}
	}
	return nil
}

// Close tears down the subscription.
func (l *ConversationList) Close() {
	l.mu.Lock()
	wasOpen := l.open
	l.open = false
	l.mu.Unlock()

	if wasOpen {
		if err := l.feed.UnsubscribeConversations(l.subKey); err != nil {
			log.Printf("[client] unsubscribe conversations user=%s: %v", l.selfID, err)
		}
	}
}

// Refresh re-reads the authoritative list. On failure the previous snapshot
// is kept so an unrelated view does not blank out on a transient error.
func (l *ConversationList) Refresh(ctx context.Context) error {
	items, err := l.dir.ListForUser(ctx, l.selfID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.items = items
	l.mu.Unlock()
	return nil
}

// Conversations returns a snapshot ordered by most recent activity.
func (l *ConversationList) Conversations() []directory.Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]directory.Summary, len(l.items))
	copy(out, l.items)
	return out
}

// SelectByCounterparty resolves or creates the conversation with the given
// user, refreshes the list so a fresh conversation appears in it, and
// returns the conversation to navigate to. Both directions of the same pair
// land on the same conversation.
func (l *ConversationList) SelectByCounterparty(ctx context.Context, counterpartyID string) (directory.Conversation, error) {
	conv, created, err := l.dir.FindOrCreate(ctx, l.selfID, counterpartyID)
	if err != nil {
		return directory.Conversation{}, err
	}
	if created {
		if err := l.Refresh(ctx); err != nil {
			log.Printf("[client] refresh after create user=%s: %v", l.selfID, err)
		}
	}
	return conv, nil
}

func (l *ConversationList) handleEvent(realtime.ConversationEvent) {
	if err := l.Refresh(context.Background()); err != nil {
		log.Printf("[client] refresh conversations user=%s: %v", l.selfID, err)
	}
}

package directory

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/pawnecta/messaging/internal/realtime"
)

// Store is the persistence contract for conversations.
type Store interface {
	// Lookup finds the conversation for a canonical pair. Returns ErrNotFound
	// if no row exists.
	Lookup(ctx context.Context, participantA, participantB string) (Conversation, error)
	// Insert creates a conversation for a canonical pair. Returns
	// ErrDuplicatePair if a concurrent creator won the race.
	Insert(ctx context.Context, participantA, participantB, initiatorID string) (Conversation, error)
	// Get returns a conversation by id, or ErrNotFound.
	Get(ctx context.Context, id string) (Conversation, error)
	// ListForUser returns the user's conversations, most recently active first.
	ListForUser(ctx context.Context, userID string) ([]Summary, error)
}

// Notifier delivers the in-app "new conversation" notification to the
// counterparty. Failures are logged and swallowed; conversation creation
// never depends on it.
type Notifier interface {
	ConversationStarted(ctx context.Context, recipientID, conversationID string) error
}

// Publisher fans conversation lifecycle events out to subscribed list views.
// Satisfied by *realtime.Bus.
type Publisher interface {
	PublishConversationEvent(userID string, ev realtime.ConversationEvent) error
}

// Directory is the conversation lookup/creation service.
type Directory struct {
	store    Store
	notifier Notifier
	bus      Publisher
}

// New creates a Directory. notifier and bus may be nil when the in-app
// notification or realtime collaborator is not wired (tests, offline tooling).
func New(store Store, notifier Notifier, bus Publisher) *Directory {
	return &Directory{store: store, notifier: notifier, bus: bus}
}

// FindOrCreate resolves the conversation between selfID and counterpartyID,
// creating it if it does not exist. Under a race between two near-simultaneous
// contact actions both callers converge on the same conversation: the loser of
// the insert re-queries and returns the winner's row.
//
// The returned bool is true only for the caller that actually created the row;
// that caller also triggers the counterparty's new-conversation notification.
func (d *Directory) FindOrCreate(ctx context.Context, selfID, counterpartyID string) (Conversation, bool, error) {
	if selfID == "" || counterpartyID == "" {
		return Conversation{}, false, fmt.Errorf("directory: find or create: empty participant id")
	}
	if selfID == counterpartyID {
		return Conversation{}, false, ErrSelfConversation
	}

	a, b := canonicalPair(selfID, counterpartyID)

	conv, err := d.store.Lookup(ctx, a, b)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, false, fmt.Errorf("directory: lookup pair: %w", err)
	}

	conv, err = d.store.Insert(ctx, a, b, selfID)
	if err == nil {
		d.notifyCounterparty(ctx, counterpartyID, conv.ID)
		d.publishCreated(selfID, counterpartyID, conv.ID)
		return conv, true, nil
	}
	if !errors.Is(err, ErrDuplicatePair) {
		return Conversation{}, false, fmt.Errorf("directory: insert pair: %w", err)
	}

	// A concurrent creator won the race between our lookup and insert.
	conv, err = d.store.Lookup(ctx, a, b)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("directory: lookup after duplicate: %w", err)
	}
	return conv, false, nil
}

// Get returns a conversation by id.
func (d *Directory) Get(ctx context.Context, id string) (Conversation, error) {
	return d.store.Get(ctx, id)
}

// ListForUser returns the user's conversation summaries ordered by most
// recent activity.
func (d *Directory) ListForUser(ctx context.Context, userID string) ([]Summary, error) {
	return d.store.ListForUser(ctx, userID)
}

func (d *Directory) notifyCounterparty(ctx context.Context, recipientID, conversationID string) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.ConversationStarted(ctx, recipientID, conversationID); err != nil {
		log.Printf("[directory] conversation notification to %s failed: %v", recipientID, err)
	}
}

// publishCreated tells the counterparty's open list views that a new
// conversation appeared, and touches the creator's own views so other tabs
// refresh. Only the caller that actually created the row publishes.
func (d *Directory) publishCreated(creatorID, counterpartyID, conversationID string) {
	if d.bus == nil {
		return
	}
	ev := realtime.ConversationEvent{ConversationID: conversationID, Created: true}
	if err := d.bus.PublishConversationEvent(counterpartyID, ev); err != nil {
		log.Printf("[directory] conversation event to %s failed: %v", counterpartyID, err)
	}
	if err := d.bus.PublishConversationEvent(creatorID, realtime.ConversationEvent{ConversationID: conversationID}); err != nil {
		log.Printf("[directory] conversation event to %s failed: %v", creatorID, err)
	}
}

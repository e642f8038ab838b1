// Package client holds the per-session controllers that orchestrate the
// directory, message log, and realtime feed for a single signed-in user:
// an open thread view with optimistic sends, the conversation list, and the
// global unread badge. Controllers are constructed at session start and
// explicitly closed at session end; none of them touch ambient global state.
package client

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pawnecta/messaging/internal/messagelog"
	"github.com/pawnecta/messaging/internal/realtime"
)

// EntryState tracks a thread entry through its lifecycle. A pending entry is
// an optimistic local copy awaiting the durable write; confirmation replaces
// it with the authoritative row, failure discards it.
type EntryState int

const (
	StatePending EntryState = iota
	StateConfirmed
)

func (s EntryState) String() string {
	if s == StatePending {
		return "pending"
	}
	return "confirmed"
}

// Entry is one message as held by an open thread view: the message plus its
// reconciliation state. Pending entries carry a temp id and the local clock.
type Entry struct {
	Message messagelog.Message
	State   EntryState
}

// MessageService is the slice of the message log a thread view needs.
// Satisfied by *messagelog.Log.
type MessageService interface {
	List(ctx context.Context, conversationID string) ([]messagelog.Message, error)
	Append(ctx context.Context, conversationID, senderID, content string) (messagelog.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)
}

// ThreadFeed delivers live message events for a conversation.
// Satisfied by *realtime.Bus.
type ThreadFeed interface {
	SubscribeThread(conversationID, key string, handler func(realtime.MessageEvent)) error
	UnsubscribeThread(key string) error
}

// ThreadView is the controller for one open conversation. It owns the local
// entry list, the compose draft, and the realtime subscription, and it keeps
// the list consistent under optimistic sends, duplicate deliveries, and
// read-receipt events arriving in any order.
type ThreadView struct {
	conversationID string
	selfID         string
	svc            MessageService
	feed           ThreadFeed
	subKey         string

	mu      sync.Mutex
	entries []Entry
	draft   string
	open    bool
}

// NewThreadView creates a closed view; call Open to fetch and subscribe.
func NewThreadView(conversationID, selfID string, svc MessageService, feed ThreadFeed) *ThreadView {
	return &ThreadView{
		conversationID: conversationID,
		selfID:         selfID,
		svc:            svc,
		feed:           feed,
		subKey:         "thread-" + selfID + "-" + uuid.NewString(),
	}
}

// Open fetches the authoritative message list, marks the counterparty's
// unread messages read (which also clears any standing notification for the
// thread), and subscribes to the live tail. Safe to call again after Close;
// calling it on an already open view just re-fetches.
func (v *ThreadView) Open(ctx context.Context) error {
	msgs, err := v.svc.List(ctx, v.conversationID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.entries = v.entries[:0]
	for _, m := range msgs {
		v.entries = append(v.entries, Entry{Message: m, State: StateConfirmed})
	}
	wasOpen := v.open
	v.open = true
	v.mu.Unlock()

	if _, err := v.svc.MarkRead(ctx, v.conversationID, v.selfID); err != nil {
		log.Printf("[client] mark read conv=%s: %v", v.conversationID, err)
	}

	if !wasOpen {
		if err := v.feed.SubscribeThread(v.conversationID, v.subKey, v.handleEvent); err != nil {
			// The view is not live without the subscription. Flip the flag
			// back so a retried Open attempts to subscribe again.
			v.mu.Lock()
			v.open = false
			v.mu.Unlock()
			return err
		}
	}
	return nil
}

// Close tears down the realtime subscription. The entry snapshot remains
// readable but stops updating.
func (v *ThreadView) Close() {
	v.mu.Lock()
	wasOpen := v.open
	v.open = false
	v.mu.Unlock()

	if wasOpen {
		if err := v.feed.UnsubscribeThread(v.subKey); err != nil {
			log.Printf("[client] unsubscribe thread conv=%s: %v", v.conversationID, err)
		}
	}
}

// SetDraft replaces the compose draft.
func (v *ThreadView) SetDraft(text string) {
	v.mu.Lock()
	v.draft = text
	v.mu.Unlock()
}

// Draft returns the current compose draft.
func (v *ThreadView) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// Messages returns a snapshot of the entry list in display order.
func (v *ThreadView) Messages() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// Send submits the current draft. The caller immediately sees a pending
// entry at the tail of the list and an emptied draft; the durable write then
// runs. On success the pending entry is replaced by the authoritative row
// and the list re-sorted. On failure the pending entry is removed and the
// draft restored, so nothing typed is ever lost. Empty drafts are rejected
// before any local mutation.
func (v *ThreadView) Send(ctx context.Context) (messagelog.Message, error) {
	v.mu.Lock()
	text := v.draft
	if strings.TrimSpace(text) == "" {
		v.mu.Unlock()
		return messagelog.Message{}, messagelog.ErrEmptyMessage
	}

	tempID := "temp-" + uuid.NewString()
	v.entries = append(v.entries, Entry{
		Message: messagelog.Message{
			ID:             tempID,
			ConversationID: v.conversationID,
			SenderID:       v.selfID,
			Content:        strings.TrimSpace(text),
			CreatedAt:      time.Now(),
		},
		State: StatePending,
	})
	v.draft = ""
	v.mu.Unlock()

	msg, err := v.svc.Append(ctx, v.conversationID, v.selfID, text)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.removeEntry(tempID)
	if err != nil {
		v.draft = text
		return messagelog.Message{}, err
	}
	v.insertConfirmed(msg)
	return msg, nil
}

// handleEvent applies a live event to the local list. Deliveries may be
// duplicated or arrive out of order relative to the Send round trip, so new
// messages dedupe by id and read updates only ever flip flags one way.
func (v *ThreadView) handleEvent(ev realtime.MessageEvent) {
	switch ev.Kind {
	case realtime.MessageNew:
		v.mu.Lock()
		fromCounterparty := ev.SenderID != v.selfID
		v.insertConfirmed(messagelog.Message{
			ID:             ev.ID,
			ConversationID: ev.ConversationID,
			SenderID:       ev.SenderID,
			Content:        ev.Content,
			CreatedAt:      ev.CreatedAt,
		})
		open := v.open
		v.mu.Unlock()

		// The viewer is looking at the thread, so a counterparty message
		// landing in it has been seen.
		if open && fromCounterparty {
			if _, err := v.svc.MarkRead(context.Background(), v.conversationID, v.selfID); err != nil {
				log.Printf("[client] mark read conv=%s: %v", v.conversationID, err)
			}
		}
	case realtime.MessageRead:
		v.mu.Lock()
		for _, id := range ev.MessageIDs {
			for i := range v.entries {
				if v.entries[i].Message.ID == id {
					v.entries[i].Message.Read = true
				}
			}
		}
		v.mu.Unlock()
	}
}

// insertConfirmed adds a confirmed message unless its id is already present,
// then restores creation-time order. Callers hold v.mu.
func (v *ThreadView) insertConfirmed(msg messagelog.Message) {
	for i := range v.entries {
		if v.entries[i].Message.ID == msg.ID {
			return
		}
	}
	v.entries = append(v.entries, Entry{Message: msg, State: StateConfirmed})
	sort.SliceStable(v.entries, func(i, j int) bool {
		a, b := v.entries[i].Message, v.entries[j].Message
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// removeEntry drops the entry with the given id, if present. Callers hold v.mu.
func (v *ThreadView) removeEntry(id string) {
	for i := range v.entries {
		if v.entries[i].Message.ID == id {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			return
		}
	}
}

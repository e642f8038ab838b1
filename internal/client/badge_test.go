package client

import (
	"context"
	"testing"

	"github.com/pawnecta/messaging/internal/messagelog"
	"github.com/pawnecta/messaging/internal/realtime"
)

func TestBadgeInitialCount(t *testing.T) {
	svc := &fakeMessages{unread: 4}
	events := messagelog.NewEvents()
	b := NewUnreadBadge("alice", svc, events, newMemFeed())

	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	if got := b.Count(); got != 4 {
		t.Fatalf("count = %d, want 4", got)
	}
}

func TestBadgeRefreshOnReadEvent(t *testing.T) {
	svc := &fakeMessages{unread: 4}
	events := messagelog.NewEvents()
	b := NewUnreadBadge("alice", svc, events, newMemFeed())
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	svc.setUnread(1)
	events.PublishRead(messagelog.ReadEvent{ConversationID: "c1", ReaderID: "alice", MessageIDs: []string{"m1"}})
	if got := b.Count(); got != 1 {
		t.Fatalf("count after own read event = %d, want 1", got)
	}

	// Another user's read event changes nothing for this badge.
	svc.setUnread(9)
	events.PublishRead(messagelog.ReadEvent{ConversationID: "c1", ReaderID: "bob", MessageIDs: []string{"m2"}})
	if got := b.Count(); got != 1 {
		t.Fatalf("count after foreign read event = %d, want unchanged 1", got)
	}
}

func TestBadgeRefreshOnConversationActivity(t *testing.T) {
	svc := &fakeMessages{}
	events := messagelog.NewEvents()
	feed := newMemFeed()
	b := NewUnreadBadge("alice", svc, events, feed)
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	svc.setUnread(2)
	feed.emitConversation(realtime.ConversationEvent{ConversationID: "c1"})
	if got := b.Count(); got != 2 {
		t.Fatalf("count after activity = %d, want 2", got)
	}
}

func TestBadgeNeverNegative(t *testing.T) {
	svc := &fakeMessages{unread: -3}
	events := messagelog.NewEvents()
	b := NewUnreadBadge("alice", svc, events, newMemFeed())
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	if got := b.Count(); got != 0 {
		t.Fatalf("count = %d, want clamped to 0", got)
	}
}

func TestBadgeCloseStopsRefresh(t *testing.T) {
	svc := &fakeMessages{unread: 5}
	events := messagelog.NewEvents()
	feed := newMemFeed()
	b := NewUnreadBadge("alice", svc, events, feed)
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	b.Close()

	svc.setUnread(0)
	events.PublishRead(messagelog.ReadEvent{ReaderID: "alice"})
	feed.emitConversation(realtime.ConversationEvent{ConversationID: "c1"})

	if got := b.Count(); got != 5 {
		t.Fatalf("count after close = %d, want frozen 5", got)
	}
}

package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pawnecta/messaging/internal/messagelog"
	"github.com/pawnecta/messaging/internal/realtime"
)

func seededMessages(t0 time.Time) *fakeMessages {
	return &fakeMessages{
		next: 2,
		msgs: []messagelog.Message{
			{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hola", CreatedAt: t0},
			{ID: "m2", ConversationID: "c1", SenderID: "bob", Content: "buenas", CreatedAt: t0.Add(time.Second)},
		},
	}
}

func TestOpenFetchesAndMarksRead(t *testing.T) {
	svc := seededMessages(time.Now().Add(-time.Minute))
	feed := newMemFeed()
	v := NewThreadView("c1", "bob", svc, feed)

	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()

	entries := v.Messages()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.State != StateConfirmed {
			t.Errorf("entry %s state = %v, want confirmed", e.Message.ID, e.State)
		}
	}
	if calls := svc.readCalls(); len(calls) != 1 || calls[0] != "c1:bob" {
		t.Errorf("mark read calls = %v, want [c1:bob]", calls)
	}
	if feed.threadSubs() != 1 {
		t.Errorf("thread subscriptions = %d, want 1", feed.threadSubs())
	}
}

func TestOpenRetriesSubscribeAfterFailure(t *testing.T) {
	svc := seededMessages(time.Now().Add(-time.Minute))
	feed := newMemFeed()
	feed.threadSubFails = 1
	v := NewThreadView("c1", "bob", svc, feed)

	if err := v.Open(context.Background()); err == nil {
		t.Fatal("open with a broken feed must report the error")
	}
	if feed.threadSubs() != 0 {
		t.Fatalf("thread subscriptions after failed open = %d, want 0", feed.threadSubs())
	}

	// The failed open must not poison the retry: the second call has to
	// subscribe again instead of assuming the view is already live.
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("retried open: %v", err)
	}
	defer v.Close()

	if feed.threadSubs() != 1 {
		t.Fatalf("thread subscriptions after retry = %d, want 1", feed.threadSubs())
	}

	feed.emitThread(realtime.MessageEvent{
		Kind:           realtime.MessageNew,
		ConversationID: "c1",
		ID:             "m3",
		SenderID:       "alice",
		Content:        "sigues ahí?",
		CreatedAt:      time.Now(),
	})

	entries := v.Messages()
	if len(entries) != 3 {
		t.Fatalf("got %d entries after live event, want 3", len(entries))
	}
	if entries[2].Message.ID != "m3" {
		t.Errorf("last entry = %q, want m3", entries[2].Message.ID)
	}
}

func TestSendOptimisticThenConfirmed(t *testing.T) {
	svc := &fakeMessages{}
	feed := newMemFeed()
	v := NewThreadView("c1", "alice", svc, feed)
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()

	// Observe the provisional entry while the durable write is in flight.
	var midFlight []Entry
	svc.appendHook = func(messagelog.Message) { midFlight = v.Messages() }

	v.SetDraft("hola bob")
	msg, err := v.Send(context.Background())
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(midFlight) != 1 {
		t.Fatalf("mid-flight entries = %d, want 1", len(midFlight))
	}
	if midFlight[0].State != StatePending {
		t.Errorf("mid-flight state = %v, want pending", midFlight[0].State)
	}
	if !strings.HasPrefix(midFlight[0].Message.ID, "temp-") {
		t.Errorf("mid-flight id = %q, want temp- prefix", midFlight[0].Message.ID)
	}

	entries := v.Messages()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Message.ID != msg.ID || entries[0].State != StateConfirmed {
		t.Errorf("entry = %+v, want confirmed %s", entries[0], msg.ID)
	}
	if v.Draft() != "" {
		t.Errorf("draft = %q, want empty after send", v.Draft())
	}
}

func TestSendFailureRollsBackAndRestoresDraft(t *testing.T) {
	svc := &fakeMessages{appendErr: errors.New("db down")}
	feed := newMemFeed()
	v := NewThreadView("c1", "alice", svc, feed)
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()

	v.SetDraft("hola bob")
	if _, err := v.Send(context.Background()); err == nil {
		t.Fatal("send succeeded, want failure")
	}

	if entries := v.Messages(); len(entries) != 0 {
		t.Errorf("got %d entries after failed send, want 0", len(entries))
	}
	if v.Draft() != "hola bob" {
		t.Errorf("draft = %q, want original text restored", v.Draft())
	}
}

func TestSendRejectsEmptyDraft(t *testing.T) {
	svc := &fakeMessages{}
	v := NewThreadView("c1", "alice", svc, newMemFeed())

	v.SetDraft("   ")
	if _, err := v.Send(context.Background()); !errors.Is(err, messagelog.ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if entries := v.Messages(); len(entries) != 0 {
		t.Errorf("empty send left %d entries, want 0", len(entries))
	}
}

func TestRealtimeInsertDedupes(t *testing.T) {
	svc := &fakeMessages{}
	feed := newMemFeed()
	v := NewThreadView("c1", "alice", svc, feed)
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()

	ev := realtime.MessageEvent{
		Kind:           realtime.MessageNew,
		ConversationID: "c1",
		ID:             "m9",
		SenderID:       "bob",
		Content:        "hola",
		CreatedAt:      time.Now(),
	}
	feed.emitThread(ev)
	feed.emitThread(ev)

	if entries := v.Messages(); len(entries) != 1 {
		t.Fatalf("duplicate delivery produced %d entries, want 1", len(entries))
	}
}

func TestEarlyRealtimeEchoDoesNotDuplicateSend(t *testing.T) {
	svc := &fakeMessages{}
	feed := newMemFeed()
	v := NewThreadView("c1", "alice", svc, feed)
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()

	// The bus echo of our own append lands before Append returns.
	svc.appendHook = func(m messagelog.Message) {
		feed.emitThread(realtime.MessageEvent{
			Kind:           realtime.MessageNew,
			ConversationID: m.ConversationID,
			ID:             m.ID,
			SenderID:       m.SenderID,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		})
	}

	v.SetDraft("hola")
	msg, err := v.Send(context.Background())
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	entries := v.Messages()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Message.ID != msg.ID {
		t.Errorf("entry id = %q, want %q", entries[0].Message.ID, msg.ID)
	}
}

func TestReconcileResortsByCreationTime(t *testing.T) {
	svc := &fakeMessages{}
	feed := newMemFeed()
	v := NewThreadView("c1", "alice", svc, feed)
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()

	// A counterparty message with a later server timestamp arrives while our
	// own append is still in flight. Display order must follow creation time,
	// not arrival order.
	svc.appendHook = func(m messagelog.Message) {
		feed.emitThread(realtime.MessageEvent{
			Kind:           realtime.MessageNew,
			ConversationID: "c1",
			ID:             "z9",
			SenderID:       "bob",
			Content:        "later",
			CreatedAt:      m.CreatedAt.Add(time.Second),
		})
	}

	v.SetDraft("earlier")
	msg, err := v.Send(context.Background())
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	entries := v.Messages()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message.ID != msg.ID || entries[1].Message.ID != "z9" {
		t.Errorf("order = [%s %s], want [%s z9]", entries[0].Message.ID, entries[1].Message.ID, msg.ID)
	}
}

func TestReadEventFlipsFlagsOneWay(t *testing.T) {
	svc := seededMessages(time.Now().Add(-time.Minute))
	feed := newMemFeed()
	v := NewThreadView("c1", "alice", svc, feed)
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()

	feed.emitThread(realtime.MessageEvent{
		Kind:           realtime.MessageRead,
		ConversationID: "c1",
		ReaderID:       "bob",
		MessageIDs:     []string{"m1"},
	})

	for _, e := range v.Messages() {
		switch e.Message.ID {
		case "m1":
			if !e.Message.Read {
				t.Error("m1 not flipped to read")
			}
		case "m2":
			if e.Message.Read {
				t.Error("m2 flipped without being in the batch")
			}
		}
	}
}

func TestIncomingWhileOpenIsMarkedRead(t *testing.T) {
	svc := &fakeMessages{}
	feed := newMemFeed()
	v := NewThreadView("c1", "bob", svc, feed)
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()

	feed.emitThread(realtime.MessageEvent{
		Kind:           realtime.MessageNew,
		ConversationID: "c1",
		ID:             "m5",
		SenderID:       "alice",
		Content:        "hola",
		CreatedAt:      time.Now(),
	})

	// Open marks once, the incoming counterparty message marks again.
	if calls := svc.readCalls(); len(calls) != 2 {
		t.Errorf("mark read calls = %v, want 2 calls", calls)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	svc := &fakeMessages{}
	feed := newMemFeed()
	v := NewThreadView("c1", "alice", svc, feed)
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	v.Close()
	if feed.threadSubs() != 0 {
		t.Fatalf("thread subscriptions after close = %d, want 0", feed.threadSubs())
	}

	feed.emitThread(realtime.MessageEvent{
		Kind:           realtime.MessageNew,
		ConversationID: "c1",
		ID:             "m9",
		SenderID:       "bob",
		CreatedAt:      time.Now(),
	})
	if entries := v.Messages(); len(entries) != 0 {
		t.Errorf("closed view received %d entries, want 0", len(entries))
	}
}

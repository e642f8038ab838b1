package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pawnecta/messaging/internal/directory"
	"github.com/pawnecta/messaging/internal/messagelog"
	"github.com/pawnecta/messaging/internal/realtime"
)

// memFeed is a synchronous in-memory stand-in for *realtime.Bus.
type memFeed struct {
	mu      sync.Mutex
	threads map[string]func(realtime.MessageEvent)
	convs   map[string]func(realtime.ConversationEvent)

	// threadSubFails makes the next N SubscribeThread calls fail, simulating
	// a broken bus connection.
	threadSubFails int
}

func newMemFeed() *memFeed {
	return &memFeed{
		threads: make(map[string]func(realtime.MessageEvent)),
		convs:   make(map[string]func(realtime.ConversationEvent)),
	}
}

func (f *memFeed) SubscribeThread(_, key string, handler func(realtime.MessageEvent)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.threadSubFails > 0 {
		f.threadSubFails--
		return errors.New("bus unavailable")
	}
	f.threads[key] = handler
	return nil
}

func (f *memFeed) UnsubscribeThread(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.threads, key)
	return nil
}

func (f *memFeed) SubscribeConversations(_, key string, handler func(realtime.ConversationEvent)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[key] = handler
	return nil
}

func (f *memFeed) UnsubscribeConversations(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.convs, key)
	return nil
}

func (f *memFeed) emitThread(ev realtime.MessageEvent) {
	f.mu.Lock()
	handlers := make([]func(realtime.MessageEvent), 0, len(f.threads))
	for _, h := range f.threads {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (f *memFeed) emitConversation(ev realtime.ConversationEvent) {
	f.mu.Lock()
	handlers := make([]func(realtime.ConversationEvent), 0, len(f.convs))
	for _, h := range f.convs {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (f *memFeed) threadSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.threads)
}

// fakeMessages is an in-memory stand-in for *messagelog.Log.
type fakeMessages struct {
	mu            sync.Mutex
	msgs          []messagelog.Message
	next          int
	appendErr     error
	appendHook    func(messagelog.Message) // runs after the id is assigned, before Append returns
	markReadCalls []string
	unread        int
	unreadErr     error
}

func (s *fakeMessages) List(_ context.Context, conversationID string) ([]messagelog.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []messagelog.Message
	for _, m := range s.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeMessages) Append(_ context.Context, conversationID, senderID, content string) (messagelog.Message, error) {
	s.mu.Lock()
	if s.appendErr != nil {
		err := s.appendErr
		s.mu.Unlock()
		return messagelog.Message{}, err
	}
	s.next++
	m := messagelog.Message{
		ID:             fmt.Sprintf("m%d", s.next),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	s.msgs = append(s.msgs, m)
	hook := s.appendHook
	s.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	return m, nil
}

func (s *fakeMessages) MarkRead(_ context.Context, conversationID, readerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markReadCalls = append(s.markReadCalls, conversationID+":"+readerID)
	return 0, nil
}

func (s *fakeMessages) UnreadCount(context.Context, string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unreadErr != nil {
		return 0, s.unreadErr
	}
	return s.unread, nil
}

func (s *fakeMessages) readCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.markReadCalls))
	copy(out, s.markReadCalls)
	return out
}

func (s *fakeMessages) setUnread(n int) {
	s.mu.Lock()
	s.unread = n
	s.mu.Unlock()
}

// fakeDirectory is an in-memory stand-in for *directory.Directory.
type fakeDirectory struct {
	mu        sync.Mutex
	pairs     map[string]directory.Conversation
	summaries []directory.Summary
	listErr   error
	listCalls int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{pairs: make(map[string]directory.Conversation)}
}

func (d *fakeDirectory) FindOrCreate(_ context.Context, selfID, counterpartyID string) (directory.Conversation, bool, error) {
	a, b := selfID, counterpartyID
	if b < a {
		a, b = b, a
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if conv, ok := d.pairs[a+"|"+b]; ok {
		return conv, false, nil
	}
	conv := directory.Conversation{
		ID:           fmt.Sprintf("conv-%d", len(d.pairs)+1),
		ParticipantA: a,
		ParticipantB: b,
		InitiatorID:  selfID,
	}
	d.pairs[a+"|"+b] = conv
	return conv, true, nil
}

func (d *fakeDirectory) ListForUser(context.Context, string) ([]directory.Summary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls++
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]directory.Summary, len(d.summaries))
	copy(out, d.summaries)
	return out, nil
}

func (d *fakeDirectory) setSummaries(items []directory.Summary) {
	d.mu.Lock()
	d.summaries = items
	d.mu.Unlock()
}

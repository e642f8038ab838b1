package messagelog

import "sync"

// ReadEvent is broadcast in-process whenever a batch of messages is marked
// read, so other open views (unread badges, conversation lists) can refresh
// without a full re-fetch cycle through the realtime transport.
type ReadEvent struct {
	ConversationID string
	ReaderID       string
	MessageIDs     []string
}

// Events is a typed observer registry owned by the Log. Subscribers and
// payloads are statically known; delivery is synchronous on the marking
// goroutine.
type Events struct {
	mu   sync.Mutex
	subs map[int]func(ReadEvent)
	next int
}

// NewEvents creates an empty registry.
func NewEvents() *Events {
	return &Events{subs: make(map[int]func(ReadEvent))}
}

// SubscribeRead registers a handler for read events and returns a cancel
// function. Cancel is idempotent.
func (e *Events) SubscribeRead(handler func(ReadEvent)) (cancel func()) {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = handler
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// PublishRead delivers an event to every current subscriber. The Log calls
// this after a successful mark-read batch.
func (e *Events) PublishRead(ev ReadEvent) {
	e.mu.Lock()
	handlers := make([]func(ReadEvent), 0, len(e.subs))
	for _, h := range e.subs {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

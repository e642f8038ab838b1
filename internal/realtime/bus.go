// Package realtime provides a NATS client wrapper delivering row-change and
// presence events to connected chat clients. It handles connection lifecycle,
// keyed subject subscriptions, and JSON payload encoding.
//
// Delivery is at-least-once and unordered across reconnects: handlers must be
// idempotent, and subscribers should re-fetch authoritative state on
// (re)connect rather than rely on catch-up events.
package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	SubjectMessages      = "messages"      // + .<conversation_id>
	SubjectConversations = "conversations" // + .<user_id>
	SubjectPresence      = "presence.events"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "pawnecta-messaging",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Bus wraps the NATS connection with helper methods for the messaging
// subjects. Subscriptions are stored under caller-supplied keys so that
// several views on the same server can watch the same subject without
// overwriting each other.
type Bus struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Connect establishes the NATS connection and returns a ready Bus.
func Connect(config Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[realtime] disconnected: %v", err)
			} else {
				log.Printf("[realtime] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[realtime] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[realtime] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("realtime: connect: %w", err)
	}

	log.Printf("[realtime] connected to %s", nc.ConnectedUrl())

	return &Bus{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishMessageEvent publishes a message append/read-update event on the
// conversation's subject.
func (b *Bus) PublishMessageEvent(conversationID string, ev MessageEvent) error {
	return b.publishJSON(SubjectMessages+"."+conversationID, ev)
}

// SubscribeThread registers a handler for one conversation's message events.
// The subscription is stored under key so the same conversation can be
// watched by several sessions on the same server.
func (b *Bus) SubscribeThread(conversationID, key string, handler func(MessageEvent)) error {
	subject := SubjectMessages + "." + conversationID
	return subscribeTyped(b, subject, "thread:"+key, handler)
}

// UnsubscribeThread tears down a thread subscription by key.
func (b *Bus) UnsubscribeThread(key string) error {
	return b.unsubscribe("thread:" + key)
}

// PublishConversationEvent notifies one user that a conversation of theirs
// was created or touched.
func (b *Bus) PublishConversationEvent(userID string, ev ConversationEvent) error {
	return b.publishJSON(SubjectConversations+"."+userID, ev)
}

// SubscribeConversations registers a handler for a user's conversation events.
func (b *Bus) SubscribeConversations(userID, key string, handler func(ConversationEvent)) error {
	subject := SubjectConversations + "." + userID
	return subscribeTyped(b, subject, "convs:"+key, handler)
}

// UnsubscribeConversations tears down a conversation-list subscription by key.
func (b *Bus) UnsubscribeConversations(key string) error {
	return b.unsubscribe("convs:" + key)
}

// PublishPresenceEvent publishes a presence join/leave/heartbeat event on the
// shared presence subject.
func (b *Bus) PublishPresenceEvent(ev PresenceEvent) error {
	return b.publishJSON(SubjectPresence, ev)
}

// SubscribePresence registers a handler for the shared presence subject.
func (b *Bus) SubscribePresence(key string, handler func(PresenceEvent)) error {
	return subscribeTyped(b, SubjectPresence, "presence:"+key, handler)
}

// UnsubscribePresence tears down a presence subscription by key.
func (b *Bus) UnsubscribePresence(key string) error {
	return b.unsubscribe("presence:" + key)
}

// Close drains all active subscriptions and closes the NATS connection.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[realtime] drain %s: %v", key, err)
		}
	}
	b.subs = make(map[string]*nats.Subscription)

	if err := b.conn.Drain(); err != nil {
		log.Printf("[realtime] connection drain: %v", err)
	}

	log.Printf("[realtime] bus closed")
}

func (b *Bus) publishJSON(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s: %w", subject, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", subject, err)
	}
	return nil
}

func subscribeTyped[T any](b *Bus, subject, key string, handler func(T)) error {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev T
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[realtime] unmarshal %s: %v", subject, err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("realtime: subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	if old, ok := b.subs[key]; ok {
		// Replacing a live subscription under the same key would leak it.
		_ = old.Unsubscribe()
	}
	b.subs[key] = sub
	b.mu.Unlock()
	return nil
}

func (b *Bus) unsubscribe(key string) error {
	b.mu.Lock()
	sub, ok := b.subs[key]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("realtime: no subscription for key %s", key)
	}
	delete(b.subs, key)
	b.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("realtime: unsubscribe %s: %w", key, err)
	}
	return nil
}

package notify

import (
	"context"
	"log"
	"unicode/utf8"

	"github.com/pawnecta/messaging/internal/directory"
	"github.com/pawnecta/messaging/internal/messagelog"
	"github.com/pawnecta/messaging/internal/metrics"
)

// previewLimit is the maximum preview length in runes; longer content is
// clipped with an ellipsis.
const previewLimit = 50

// Presence answers whether a user currently has a live connection.
// Satisfied by *presence.Tracker.
type Presence interface {
	Online(userID string) bool
}

// ProfileLookup resolves a user's display name and contact address.
type ProfileLookup interface {
	// Profile returns (displayName, email). A user without a known address
	// returns an empty email and no error.
	Profile(ctx context.Context, userID string) (string, string, error)
}

// Dispatcher decides, on each new message, whether the recipient needs an
// out-of-band email in addition to the in-app realtime delivery. It is a
// best-effort optimization: every failure on this path is logged and
// swallowed, and the message send path never blocks on it.
type Dispatcher struct {
	presence Presence
	emails   EmailSender
	profiles ProfileLookup
	baseURL  string // public site URL the deep link is appended to
}

// NewDispatcher creates a dispatcher. baseURL may be empty, leaving relative
// links.
func NewDispatcher(presence Presence, emails EmailSender, profiles ProfileLookup, baseURL string) *Dispatcher {
	return &Dispatcher{
		presence: presence,
		emails:   emails,
		profiles: profiles,
		baseURL:  baseURL,
	}
}

// MessageSent implements messagelog.MessageDispatcher. If the recipient is
// absent from the presence set and has a known address, exactly one email
// goes out with a truncated preview and a deep link back to the thread. A
// present recipient gets nothing: the in-app realtime delivery suffices.
func (d *Dispatcher) MessageSent(ctx context.Context, conv directory.Conversation, msg messagelog.Message) {
	recipient := directory.CounterpartyOf(conv, msg.SenderID)
	if recipient == "" {
		log.Printf("[notify] sender %s is not a participant of %s", msg.SenderID, conv.ID)
		return
	}

	if d.presence != nil && d.presence.Online(recipient) {
		metrics.EmailsDispatched.WithLabelValues("skipped_online").Inc()
		return
	}

	recipientName, recipientEmail, err := d.profiles.Profile(ctx, recipient)
	if err != nil {
		metrics.EmailsDispatched.WithLabelValues("failed").Inc()
		log.Printf("[notify] resolve recipient %s: %v", recipient, err)
		return
	}
	if recipientEmail == "" {
		metrics.EmailsDispatched.WithLabelValues("skipped_no_address").Inc()
		return
	}

	senderName, _, err := d.profiles.Profile(ctx, msg.SenderID)
	if err != nil || senderName == "" {
		senderName = "Un usuario"
	}

	data := map[string]string{
		"recipientName":  recipientName,
		"senderName":     senderName,
		"messagePreview": Preview(msg.Content),
		"chatUrl":        d.baseURL + ThreadLink(conv.ID),
	}

	if err := d.emails.Send(ctx, TemplateNewMessage, recipientEmail, data); err != nil {
		metrics.EmailsDispatched.WithLabelValues("failed").Inc()
		log.Printf("[notify] email to %s for conv=%s: %v", recipient, conv.ID, err)
		return
	}
	metrics.EmailsDispatched.WithLabelValues("sent").Inc()
}

// Preview clips message content to previewLimit runes, appending an ellipsis
// when clipped. Multi-byte content is never split mid-rune.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLimit]) + "…"
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// Direction identifies whether a message was received, sent, or only drafted.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionDraft    Direction = "draft"
)

// Contact is a correspondent, keyed by email address.
type Contact struct {
	// ID is the internal unique identifier for this contact.
	ID string `json:"id" db:"id"`

	// Email is the lower-cased address; unique across the store.
	Email string `json:"email" db:"email"`

	// Name is the display name taken from the first message that carried one.
	Name string `json:"name" db:"name"`

	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// Conversation maps one provider thread to one contact.
type Conversation struct {
	// ID is the internal unique identifier for this conversation.
	ID string `json:"id" db:"id"`

	// ContactID is the owning contact.
	ContactID string `json:"contact_id" db:"contact_id"`

	// ThreadID is the provider-level thread identifier; unique across the store.
	ThreadID string `json:"thread_id" db:"thread_id"`

	// Subject is the subject line of the first message in the thread.
	Subject string `json:"subject" db:"subject"`

	// LastActivityAt is bumped on every recorded message.
	LastActivityAt time.Time `json:"last_activity_at" db:"last_activity_at"`
}

// Message is an immutable record of one email in a conversation.
type Message struct {
	// Seq is the insertion sequence. It breaks ties between messages that
	// share a timestamp.
	Seq int64 `json:"seq" db:"seq"`

	// ID is the internal unique identifier for this message.
	ID string `json:"id" db:"id"`

	ConversationID string `json:"conversation_id" db:"conversation_id"`

	// ProviderID is the identifier assigned by the mail provider
	// (the Message-ID header for IMAP/SMTP); unique across the store.
	ProviderID string `json:"provider_id" db:"provider_id"`

	Direction Direction `json:"direction" db:"direction"`
	Subject   string    `json:"subject" db:"subject"`
	Body      string    `json:"body" db:"body"`
	Sender    string    `json:"sender" db:"sender"`
	Receiver  string    `json:"receiver" db:"receiver"`

	// Timestamp is when the engine recorded the message, not the
	// provider's Date header. Cancellation compares it to the creation
	// time of scheduled rows, so both come from the same clock.
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// String renders the message the way it is presented to language models
// and in logs: one header per line followed by the content.
func (m Message) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("timestamp:%s\n", m.Timestamp.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("from:%s\n", m.Sender))
	sb.WriteString(fmt.Sprintf("to:%s\n", m.Receiver))
	sb.WriteString(fmt.Sprintf("subject:%s\n", m.Subject))
	sb.WriteString(fmt.Sprintf("content: %s\n\n", m.Body))
	return sb.String()
}

// After reports whether m sorts after other in conversation order:
// by timestamp, then by insertion sequence.
func (m Message) After(other Message) bool {
	if m.Timestamp.Equal(other.Timestamp) {
		return m.Seq > other.Seq
	}
	return m.Timestamp.After(other.Timestamp)
}

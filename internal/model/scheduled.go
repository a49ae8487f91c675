package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrTerminalState is returned when a transition is attempted on a
// scheduled message that is already sent or canceled.
var ErrTerminalState = errors.New("scheduled message is in a terminal state")

// Disposition is the lifecycle state of a scheduled message.
type Disposition string

const (
	DispositionPending  Disposition = "pending"
	DispositionSent     Disposition = "sent"
	DispositionCanceled Disposition = "canceled"
)

// Terminal reports whether no further transition is allowed.
func (d Disposition) Terminal() bool {
	return d == DispositionSent || d == DispositionCanceled
}

// Valid reports whether d is one of the known dispositions.
func (d Disposition) Valid() bool {
	switch d {
	case DispositionPending, DispositionSent, DispositionCanceled:
		return true
	}
	return false
}

// Kind tells a reply apart from a follow-up.
type Kind string

const (
	KindReply    Kind = "reply"
	KindFollowup Kind = "followup"
)

// ScheduledMessage is a pending effect on a conversation: a drafted reply
// or follow-up that is released at SendAt unless newer activity cancels it.
type ScheduledMessage struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`
	Kind           Kind   `json:"kind" db:"kind"`

	// SourceMessageID is the provider id of the inbound message that
	// produced this schedule. Replies are threaded onto it.
	SourceMessageID string `json:"source_message_id" db:"source_message_id"`

	Subject string `json:"subject" db:"subject"`
	Body    string `json:"body" db:"body"`

	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	SendAt    time.Time   `json:"send_at" db:"send_at"`
	State     Disposition `json:"state" db:"state"`

	// Urgent and Stuck carry the latency estimate that produced SendAt.
	Urgent bool `json:"urgent" db:"urgent"`
	Stuck  bool `json:"stuck" db:"stuck"`

	// Attempts counts failed dispatch attempts; LastError holds the most recent.
	Attempts  int    `json:"attempts" db:"attempts"`
	LastError string `json:"last_error,omitempty" db:"last_error"`

	// ResolvedAt is set when the row reaches a terminal state.
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	// SentMessageID is the provider id returned by the transport on send.
	SentMessageID string `json:"sent_message_id,omitempty" db:"sent_message_id"`

	ClaimToken   string     `json:"-" db:"claim_token"`
	ClaimedUntil *time.Time `json:"-" db:"claimed_until"`
}

// Due reports whether the row is pending and its send time has passed.
func (s ScheduledMessage) Due(now time.Time) bool {
	return s.State == DispositionPending && !s.SendAt.After(now)
}

// Transition moves the row to next. Only pending → sent and
// pending → canceled are legal.
func (s *ScheduledMessage) Transition(next Disposition, at time.Time) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, s.ID, s.State)
	}
	if !next.Terminal() {
		return fmt.Errorf("illegal transition %s -> %s for %s", s.State, next, s.ID)
	}
	s.State = next
	s.ResolvedAt = &at
	s.ClaimToken = ""
	s.ClaimedUntil = nil
	return nil
}

// Notification is an operator alert about a conversation that needs a
// human, raised when the latency estimate flags it as urgent or stuck.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id" db:"id"`

	// ConversationID links this notification to the originating conversation.
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	// Message is the human-readable notification text.
	Message string `json:"message" db:"message"`

	// Read indicates whether an operator has seen this notification.
	Read bool `json:"read" db:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/replypacer/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrNotPending is returned by the conditional state updates when the
	// scheduled message is no longer pending or no longer held by the
	// caller's claim.
	ErrNotPending = errors.New("scheduled message not pending or not claimed")

	// ErrAlreadyScheduled is returned by CreateScheduled when a row of the
	// same kind already exists for the source message.
	ErrAlreadyScheduled = errors.New("source message already scheduled")
)

// IncomingRecord is an inbound message as handed to the store.
type IncomingRecord struct {
	ProviderID string
	ThreadID   string
	Subject    string
	Body       string
	Sender     string
	SenderName string
	Receiver   string
	Timestamp  time.Time
}

// RecordResult is the outcome of RecordIncoming.
type RecordResult struct {
	Contact      model.Contact
	Conversation model.Conversation
	Message      model.Message

	// Duplicate is true when a message with the same provider id already
	// existed; nothing was written in that case and only Message.ProviderID
	// is set.
	Duplicate bool
}

// ScheduledFilter controls filtering and pagination for scheduled message
// queries.
type ScheduledFilter struct {
	State          *model.Disposition // nil for all states
	ConversationID *string
	SortDesc       bool // by send_at
	Limit          int
	Offset         int
}

// QueueEntry is a scheduled message joined with its recipient and thread.
type QueueEntry struct {
	model.ScheduledMessage
	ContactEmail string `db:"contact_email"`
	ThreadID     string `db:"thread_id"`
}

// Store defines the persistence interface for contacts, conversations,
// messages, scheduled messages and operator notifications.
type Store interface {
	// === Conversations ===

	// RecordIncoming upserts the contact and conversation and inserts the
	// message in one transaction. If the provider id is already known the
	// transaction is rolled back and the result is marked Duplicate.
	RecordIncoming(ctx context.Context, rec IncomingRecord) (*RecordResult, error)
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetConversationByThread(ctx context.Context, threadID string) (*model.Conversation, error)

	// === Messages ===

	// GetConversationMessages returns the conversation history in
	// chronological order (timestamp, then insertion sequence).
	GetConversationMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// LatestMessage returns the newest message of the conversation, or
	// ErrNotFound for an empty conversation.
	LatestMessage(ctx context.Context, conversationID string) (*model.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	GetMessageByProviderID(ctx context.Context, providerID string) (*model.Message, error)

	// === Scheduled messages ===

	// CreateScheduled inserts the given rows in one transaction. Every row
	// must be pending. At most one row per kind may reference a source
	// message; a second one fails with ErrAlreadyScheduled.
	CreateScheduled(ctx context.Context, items ...model.ScheduledMessage) error

	// HasScheduled reports whether any row references the source message.
	HasScheduled(ctx context.Context, sourceMessageID string) (bool, error)
	GetScheduled(ctx context.Context, id string) (*model.ScheduledMessage, error)
	ListScheduled(ctx context.Context, filter ScheduledFilter) ([]QueueEntry, error)
	CountScheduled(ctx context.Context) (map[model.Disposition]int, error)

	// DueScheduled returns pending, unclaimed rows with send_at <= now.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]model.ScheduledMessage, error)

	// ClaimScheduled takes a lease on a pending row until the given time.
	// It reports false when the row is terminal or held by another claim.
	ClaimScheduled(ctx context.Context, id, token string, now, until time.Time) (bool, error)

	// CancelScheduled moves a claimed pending row to canceled.
	CancelScheduled(ctx context.Context, id, token string, at time.Time) error

	// CompleteScheduled records the sent message and moves the claimed
	// pending row to sent, atomically.
	CompleteScheduled(ctx context.Context, id, token string, sent model.Message) error

	// ReleaseClaim drops the lease after a failed dispatch, recording the
	// failure; the row stays pending.
	ReleaseClaim(ctx context.Context, id, token, cause string) error

	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) error
	GetUnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	Close() error
}

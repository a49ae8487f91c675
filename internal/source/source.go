package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AuthError indicates that the mail provider rejected our credentials.
// It is returned by transport clients when IMAP LOGIN or SMTP AUTH fails.
type AuthError struct {
	Protocol string // "imap" or "smtp"
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Protocol, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RawMessage is an unread message as listed by the transport, before its
// content has been fetched.
type RawMessage struct {
	// ID is the transport handle used by FetchDetail and MarkRead
	// (the IMAP UID for the email transport).
	ID string

	// ProviderID is the stable provider identifier (Message-ID header).
	ProviderID string
}

// MessageDetail is the full content of an inbound message.
type MessageDetail struct {
	// ID is the transport handle, as in RawMessage.
	ID string

	// ProviderID is unique across the mailbox and is used for deduplication.
	ProviderID string

	// ThreadID groups the message with its conversation.
	ThreadID string

	Subject  string
	From     string
	FromName string
	To       string
	Body     string

	// Date is the provider's Date header; display only.
	Date time.Time

	// InReplyTo is the provider id this message answers, if any.
	InReplyTo string
}

// Outgoing is a message to send or draft. ThreadID and InReplyTo carry the
// continuation context so the provider keeps the reply in its thread.
type Outgoing struct {
	To        string
	Subject   string
	Body      string
	ThreadID  string
	InReplyTo string
}

// Transport defines the contract that every mail integration must implement.
type Transport interface {
	// FetchUnread lists the unread messages of the watched mailbox.
	FetchUnread(ctx context.Context) ([]RawMessage, error)

	// FetchDetail retrieves the full content of a listed message.
	FetchDetail(ctx context.Context, id string) (*MessageDetail, error)

	// MarkRead flags a listed message as seen.
	MarkRead(ctx context.Context, id string) error

	// Send delivers the message and returns its provider id.
	Send(ctx context.Context, msg Outgoing) (string, error)

	// CreateDraft stores the message as a draft and returns the draft id.
	CreateDraft(ctx context.Context, msg Outgoing) (string, error)
}

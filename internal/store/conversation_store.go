package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/replypacer/internal/model"
)

const messageColumns = `seq, id, conversation_id, provider_id, direction,
	subject, body, sender, receiver, timestamp`

// RecordIncoming upserts the contact by email, upserts the conversation by
// thread id and inserts the message if its provider id is new. All three
// happen in one transaction; a known provider id rolls everything back.
func (s *SQLiteStore) RecordIncoming(
	ctx context.Context,
	rec IncomingRecord,
) (*RecordResult, error) {
	email := strings.ToLower(strings.TrimSpace(rec.Sender))
	if email == "" {
		return nil, fmt.Errorf("incoming message %s has no sender", rec.ProviderID)
	}
	if rec.ProviderID == "" || rec.ThreadID == "" {
		return nil, fmt.Errorf("incoming message needs provider id and thread id")
	}

	ts := rec.Timestamp.UTC()
	if rec.Timestamp.IsZero() {
		ts = time.Now().UTC()
	}

	result := &RecordResult{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contacts (id, email, name, first_seen_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(email) DO UPDATE SET
				last_seen_at = excluded.last_seen_at,
				name = CASE WHEN contacts.name = '' THEN excluded.name ELSE contacts.name END`,
			uuid.New().String(), email, rec.SenderName, ts, ts,
		)
		if err != nil {
			return fmt.Errorf("upserting contact %s: %w", email, err)
		}
		if err := tx.GetContext(ctx, &result.Contact,
			"SELECT * FROM contacts WHERE email = ?", email); err != nil {
			return fmt.Errorf("loading contact %s: %w", email, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversations (id, contact_id, thread_id, subject, last_activity_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(thread_id) DO UPDATE SET
				last_activity_at = excluded.last_activity_at`,
			uuid.New().String(), result.Contact.ID, rec.ThreadID, rec.Subject, ts,
		)
		if err != nil {
			return fmt.Errorf("upserting conversation %s: %w", rec.ThreadID, err)
		}
		if err := tx.GetContext(ctx, &result.Conversation,
			"SELECT * FROM conversations WHERE thread_id = ?", rec.ThreadID); err != nil {
			return fmt.Errorf("loading conversation %s: %w", rec.ThreadID, err)
		}

		msg := model.Message{
			ID:             uuid.New().String(),
			ConversationID: result.Conversation.ID,
			ProviderID:     rec.ProviderID,
			Direction:      model.DirectionIncoming,
			Subject:        rec.Subject,
			Body:           rec.Body,
			Sender:         email,
			Receiver:       rec.Receiver,
			Timestamp:      ts,
		}
		inserted, err := insertMessage(ctx, tx, &msg)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicate
		}
		result.Message = msg
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return &RecordResult{
			Message:   model.Message{ProviderID: rec.ProviderID},
			Duplicate: true,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// errDuplicate aborts the RecordIncoming transaction; it never leaves this file.
var errDuplicate = errors.New("duplicate provider id")

// insertMessage inserts m unless its provider id already exists. It sets
// m.Seq on success and reports whether a row was written.
func insertMessage(ctx context.Context, tx *sqlx.Tx, m *model.Message) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, provider_id, direction,
			subject, body, sender, receiver, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id) DO NOTHING`,
		m.ID, m.ConversationID, m.ProviderID, string(m.Direction),
		m.Subject, m.Body, m.Sender, m.Receiver, m.Timestamp.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("inserting message %s: %w", m.ProviderID, err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return false, nil
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("reading message sequence: %w", err)
	}
	m.Seq = seq
	return true, nil
}

// GetContact retrieves a single contact by ID.
func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	var c model.Contact
	if err := s.db.GetContext(ctx, &c, "SELECT * FROM contacts WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("getting contact %s: %w", id, notFound(err))
	}
	return &c, nil
}

// GetConversation retrieves a single conversation by ID.
func (s *SQLiteStore) GetConversation(
	ctx context.Context,
	id string,
) (*model.Conversation, error) {
	var c model.Conversation
	if err := s.db.GetContext(ctx, &c, "SELECT * FROM conversations WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("getting conversation %s: %w", id, notFound(err))
	}
	return &c, nil
}

// GetConversationByThread retrieves a conversation by provider thread id.
func (s *SQLiteStore) GetConversationByThread(
	ctx context.Context,
	threadID string,
) (*model.Conversation, error) {
	var c model.Conversation
	err := s.db.GetContext(ctx, &c,
		"SELECT * FROM conversations WHERE thread_id = ?", threadID)
	if err != nil {
		return nil, fmt.Errorf("getting conversation for thread %s: %w", threadID, notFound(err))
	}
	return &c, nil
}

// GetConversationMessages returns every message of the conversation,
// oldest first.
func (s *SQLiteStore) GetConversationMessages(
	ctx context.Context,
	conversationID string,
) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.SelectContext(ctx, &msgs,
		"SELECT "+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages for %s: %w", conversationID, err)
	}
	return msgs, nil
}

// LatestMessage returns the newest message of the conversation by
// timestamp, with the insertion sequence breaking ties.
func (s *SQLiteStore) LatestMessage(
	ctx context.Context,
	conversationID string,
) (*model.Message, error) {
	var m model.Message
	err := s.db.GetContext(ctx, &m,
		"SELECT "+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC, seq DESC
		LIMIT 1`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting latest message for %s: %w", conversationID, notFound(err))
	}
	return &m, nil
}

// CountMessages returns the number of messages in the conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID)
	if err != nil {
		return 0, fmt.Errorf("counting messages for %s: %w", conversationID, err)
	}
	return count, nil
}

// GetMessageByProviderID retrieves a message by its provider id.
func (s *SQLiteStore) GetMessageByProviderID(
	ctx context.Context,
	providerID string,
) (*model.Message, error) {
	var m model.Message
	err := s.db.GetContext(ctx, &m,
		"SELECT "+messageColumns+" FROM messages WHERE provider_id = ?", providerID)
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", providerID, notFound(err))
	}
	return &m, nil
}

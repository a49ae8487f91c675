package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/replypacer/internal/model"
)

const scheduledColumns = `id, conversation_id, kind, source_message_id,
	subject, body, created_at, send_at, state, urgent, stuck,
	attempts, last_error, resolved_at, sent_message_id,
	COALESCE(claim_token, '') AS claim_token, claimed_until`

// CreateScheduled inserts pending scheduled messages in one transaction.
func (s *SQLiteStore) CreateScheduled(
	ctx context.Context,
	items ...model.ScheduledMessage,
) error {
	if len(items) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO scheduled_messages (
				id, conversation_id, kind, source_message_id,
				subject, body, created_at, send_at, state,
				urgent, stuck
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing scheduled insert: %w", err)
		}
		defer stmt.Close()

		for _, item := range items {
			if item.State != model.DispositionPending {
				return fmt.Errorf("scheduled message %s must be created pending, got %s",
					item.ID, item.State)
			}
			if strings.TrimSpace(item.Body) == "" {
				return fmt.Errorf("scheduled message %s has an empty body", item.ID)
			}

			_, err := stmt.ExecContext(ctx,
				item.ID, item.ConversationID, string(item.Kind), item.SourceMessageID,
				item.Subject, item.Body, item.CreatedAt.UTC(), item.SendAt.UTC(),
				string(item.State), boolToInt(item.Urgent), boolToInt(item.Stuck),
			)
			if err != nil {
				if uniqueViolation(err) {
					return fmt.Errorf("inserting %s for %s: %w",
						item.Kind, item.SourceMessageID, ErrAlreadyScheduled)
				}
				return fmt.Errorf("inserting scheduled message %s: %w", item.ID, err)
			}
		}
		return nil
	})
}

// HasScheduled reports whether a scheduled message references the given
// source message.
func (s *SQLiteStore) HasScheduled(ctx context.Context, sourceMessageID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM scheduled_messages WHERE source_message_id = ?", sourceMessageID)
	if err != nil {
		return false, fmt.Errorf("checking schedules for %s: %w", sourceMessageID, err)
	}
	return count > 0, nil
}

// GetScheduled retrieves a single scheduled message by ID.
func (s *SQLiteStore) GetScheduled(
	ctx context.Context,
	id string,
) (*model.ScheduledMessage, error) {
	var sm model.ScheduledMessage
	err := s.db.GetContext(ctx, &sm,
		"SELECT "+scheduledColumns+" FROM scheduled_messages WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting scheduled message %s: %w", id, notFound(err))
	}
	return &sm, nil
}

// ListScheduled retrieves scheduled messages with their recipient and
// thread, ordered by send time.
func (s *SQLiteStore) ListScheduled(
	ctx context.Context,
	filter ScheduledFilter,
) ([]QueueEntry, error) {
	var conditions []string
	var args []interface{}

	if filter.State != nil {
		conditions = append(conditions, "sm.state = ?")
		args = append(args, string(*filter.State))
	}
	if filter.ConversationID != nil {
		conditions = append(conditions, "sm.conversation_id = ?")
		args = append(args, *filter.ConversationID)
	}

	query := `SELECT
		sm.id, sm.conversation_id, sm.kind, sm.source_message_id,
		sm.subject, sm.body, sm.created_at, sm.send_at, sm.state,
		sm.urgent, sm.stuck, sm.attempts, sm.last_error, sm.resolved_at,
		sm.sent_message_id, COALESCE(sm.claim_token, '') AS claim_token,
		sm.claimed_until,
		ct.email AS contact_email, cv.thread_id AS thread_id
	FROM scheduled_messages sm
	JOIN conversations cv ON cv.id = sm.conversation_id
	JOIN contacts ct ON ct.id = cv.contact_id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY sm.send_at %s, sm.created_at %s", direction, direction)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var entries []QueueEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("querying scheduled messages: %w", err)
	}
	return entries, nil
}

// CountScheduled returns the number of scheduled messages per state.
func (s *SQLiteStore) CountScheduled(ctx context.Context) (map[model.Disposition]int, error) {
	var rows []struct {
		State string `db:"state"`
		Count int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT state, COUNT(*) AS count FROM scheduled_messages GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("counting scheduled messages: %w", err)
	}

	counts := map[model.Disposition]int{
		model.DispositionPending:  0,
		model.DispositionSent:     0,
		model.DispositionCanceled: 0,
	}
	for _, r := range rows {
		counts[model.Disposition(r.State)] = r.Count
	}
	return counts, nil
}

// DueScheduled returns pending rows whose send time has passed and that
// are not held by a live claim, oldest first.
func (s *SQLiteStore) DueScheduled(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]model.ScheduledMessage, error) {
	query := "SELECT " + scheduledColumns + ` FROM scheduled_messages
		WHERE state = 'pending'
			AND send_at <= ?
			AND (claimed_until IS NULL OR claimed_until <= ?)
		ORDER BY send_at ASC, created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var due []model.ScheduledMessage
	if err := s.db.SelectContext(ctx, &due, query, now.UTC(), now.UTC()); err != nil {
		return nil, fmt.Errorf("querying due scheduled messages: %w", err)
	}
	return due, nil
}

// ClaimScheduled leases a pending row to token until the given time. An
// expired lease can be taken over.
func (s *SQLiteStore) ClaimScheduled(
	ctx context.Context,
	id, token string,
	now, until time.Time,
) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET claim_token = ?, claimed_until = ?
		WHERE id = ?
			AND state = 'pending'
			AND (claimed_until IS NULL OR claimed_until <= ?)`,
		token, until.UTC(), id, now.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("claiming scheduled message %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// CancelScheduled moves a claimed pending row to canceled.
func (s *SQLiteStore) CancelScheduled(
	ctx context.Context,
	id, token string,
	at time.Time,
) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET state = 'canceled', resolved_at = ?,
			claim_token = NULL, claimed_until = NULL
		WHERE id = ? AND state = 'pending' AND claim_token = ?`,
		at.UTC(), id, token,
	)
	if err != nil {
		return fmt.Errorf("canceling scheduled message %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("canceling scheduled message %s: %w", id, ErrNotPending)
	}
	return nil
}

// CompleteScheduled appends the outgoing message and marks the claimed
// row sent in a single transaction.
func (s *SQLiteStore) CompleteScheduled(
	ctx context.Context,
	id, token string,
	sent model.Message,
) error {
	if sent.Direction != model.DirectionOutgoing {
		return fmt.Errorf("completing %s: recorded message must be outgoing, got %s",
			id, sent.Direction)
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE scheduled_messages
			SET state = 'sent', resolved_at = ?, sent_message_id = ?,
				claim_token = NULL, claimed_until = NULL
			WHERE id = ? AND state = 'pending' AND claim_token = ?`,
			sent.Timestamp.UTC(), sent.ProviderID, id, token,
		)
		if err != nil {
			return fmt.Errorf("marking scheduled message %s sent: %w", id, err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return fmt.Errorf("marking scheduled message %s sent: %w", id, ErrNotPending)
		}

		inserted, err := insertMessage(ctx, tx, &sent)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("recording sent message: provider id %s already exists",
				sent.ProviderID)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE conversations SET last_activity_at = ? WHERE id = ?",
			sent.Timestamp.UTC(), sent.ConversationID,
		)
		if err != nil {
			return fmt.Errorf("updating conversation activity: %w", err)
		}
		return nil
	})
}

// ReleaseClaim drops the caller's lease after a failed dispatch and
// records the failure. The row stays pending.
func (s *SQLiteStore) ReleaseClaim(
	ctx context.Context,
	id, token, cause string,
) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET claim_token = NULL, claimed_until = NULL,
			attempts = attempts + 1, last_error = ?
		WHERE id = ? AND state = 'pending' AND claim_token = ?`,
		cause, id, token,
	)
	if err != nil {
		return fmt.Errorf("releasing scheduled message %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("releasing scheduled message %s: %w", id, ErrNotPending)
	}
	return nil
}

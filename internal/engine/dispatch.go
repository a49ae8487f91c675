package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/nhle/replypacer/internal/metrics"
	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/source"
	"github.com/nhle/replypacer/internal/store"
)

// Outcome is what the dispatch sweep did with one due row.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeCanceled Outcome = "canceled"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped" // claimed by another sweep
)

// SweepResult summarizes a RunDue sweep.
type SweepResult struct {
	Due      int
	Sent     int
	Canceled int
	Failed   int
	Skipped  int
	Errors   []error
}

func (r *SweepResult) add(o Outcome, err error) {
	switch o {
	case OutcomeSent:
		r.Sent++
	case OutcomeCanceled:
		r.Canceled++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

// RunDue handles every pending row with send_at <= now: each is claimed,
// re-validated against the latest conversation activity, then sent or
// canceled. Rows are independent; one failure leaves only that row pending.
// Leases are taken and compared on the engine clock.
// Once ctx is cancelled no further rows are claimed.
func (e *Engine) RunDue(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("dispatch").Observe(time.Since(start).Seconds())
	}()

	var res SweepResult
	due, err := e.store.DueScheduled(ctx, now, e.opts.DueLimit)
	if err != nil {
		return res, fmt.Errorf("listing due messages: %w", err)
	}
	res.Due = len(due)
	if len(due) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(e.opts.Workers)
	for _, row := range due {
		if ctx.Err() != nil {
			break
		}
		p.Go(func() {
			outcome, err := e.dispatch(ctx, row)
			metrics.Dispatched.WithLabelValues(string(outcome)).Inc()

			mu.Lock()
			res.add(outcome, err)
			mu.Unlock()
		})
	}
	p.Wait()

	return res, ctx.Err()
}

func (e *Engine) dispatch(
	ctx context.Context,
	row model.ScheduledMessage,
) (Outcome, error) {
	log := e.log.With().
		Str("scheduled_id", row.ID).
		Str("conversation_id", row.ConversationID).
		Str("kind", string(row.Kind)).
		Logger()

	if ctx.Err() != nil {
		return OutcomeSkipped, nil
	}

	token := uuid.New().String()
	claimAt := e.now()
	claimed, err := e.store.ClaimScheduled(ctx, row.ID, token, claimAt, claimAt.Add(e.opts.ClaimTTL))
	if err != nil {
		return OutcomeFailed, fmt.Errorf("claiming %s: %w", row.ID, err)
	}
	if !claimed {
		log.Debug().Msg("row already claimed or resolved")
		return OutcomeSkipped, nil
	}

	// Past this point the claim is ours; store transitions must complete
	// even if the sweep is being cancelled.
	bg := context.WithoutCancel(ctx)

	release := func(cause error) (Outcome, error) {
		if err := e.store.ReleaseClaim(bg, row.ID, token, cause.Error()); err != nil {
			e.checkInvariant(log, err)
			log.Error().Err(err).Msg("releasing claim failed")
		}
		log.Warn().Err(cause).Int("attempt", row.Attempts+1).Msg("dispatch failed, will retry")
		return OutcomeFailed, fmt.Errorf("dispatching %s: %w", row.ID, cause)
	}

	latest, err := e.store.LatestMessage(bg, row.ConversationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return release(fmt.Errorf("loading latest message: %w", err))
	}

	if latest != nil &&
		latest.Direction == model.DirectionIncoming &&
		latest.Timestamp.After(row.CreatedAt) {
		if err := row.Transition(model.DispositionCanceled, e.now()); err != nil {
			e.checkInvariant(log, err)
			return release(err)
		}
		if err := e.store.CancelScheduled(bg, row.ID, token, *row.ResolvedAt); err != nil {
			e.checkInvariant(log, err)
			return OutcomeFailed, fmt.Errorf("canceling %s: %w", row.ID, err)
		}
		log.Info().
			Str("newer_message", latest.ProviderID).
			Msg("canceled: correspondent wrote since scheduling")
		return OutcomeCanceled, nil
	}

	conv, err := e.store.GetConversation(bg, row.ConversationID)
	if err != nil {
		return release(err)
	}
	contact, err := e.store.GetContact(bg, conv.ContactID)
	if err != nil {
		return release(err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.opts.TransportTimeout)
	providerID, err := e.transport.Send(sendCtx, source.Outgoing{
		To:        contact.Email,
		Subject:   row.Subject,
		Body:      row.Body,
		ThreadID:  conv.ThreadID,
		InReplyTo: row.SourceMessageID,
	})
	cancel()
	if err != nil {
		return release(err)
	}
	if providerID == "" {
		providerID = "<" + row.ID + "@replypacer>"
	}

	sent := model.Message{
		ID:             uuid.New().String(),
		ConversationID: row.ConversationID,
		ProviderID:     providerID,
		Direction:      model.DirectionOutgoing,
		Subject:        row.Subject,
		Body:           row.Body,
		Sender:         e.opts.Address,
		Receiver:       contact.Email,
		Timestamp:      e.now(),
	}
	if err := row.Transition(model.DispositionSent, sent.Timestamp); err != nil {
		e.checkInvariant(log, err)
		return OutcomeFailed, fmt.Errorf("completing %s: %w", row.ID, err)
	}
	if err := e.store.CompleteScheduled(bg, row.ID, token, sent); err != nil {
		// Sent but not recorded: the lease expires and the row is sent
		// again on a later sweep.
		e.checkInvariant(log, err)
		log.Error().Err(err).Str("provider_id", providerID).Msg("recording sent message failed")
		return OutcomeFailed, fmt.Errorf("completing %s: %w", row.ID, err)
	}

	log.Info().Str("provider_id", providerID).Str("to", contact.Email).Msg("sent")
	return OutcomeSent, nil
}

// checkInvariant reports a rejected transition on a row we held the claim
// for. It means something other than this engine resolved the row.
func (e *Engine) checkInvariant(log zerolog.Logger, err error) {
	if errors.Is(err, store.ErrNotPending) || errors.Is(err, model.ErrTerminalState) {
		metrics.InvariantViolations.Inc()
		log.Error().Err(err).Msg("invariant violation: claimed row is no longer pending")
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/replypacer/internal/metrics"
	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/source"
	"github.com/nhle/replypacer/internal/store"
)

// IngestResult describes what IngestIncoming did with one message.
type IngestResult struct {
	// Duplicate is set when the provider id was already recorded.
	Duplicate bool

	ConversationID string
	Message        model.Message

	// Reply and Followup are nil unless both rows were created.
	Reply    *model.ScheduledMessage
	Followup *model.ScheduledMessage

	Estimate       model.Estimate
	LatencyDefault bool
	DraftID        string
}

// IngestSweepResult summarizes an IngestUnread sweep.
type IngestSweepResult struct {
	Fetched    int
	Scheduled  int
	Duplicates int
	Failed     int
	Errors     []error
}

// IngestIncoming records an inbound message and schedules its reply and
// follow-up. A non-nil result with a non-nil error means the message was
// recorded but not scheduled; ingesting it again drafts and schedules it.
func (e *Engine) IngestIncoming(
	ctx context.Context,
	detail source.MessageDetail,
) (*IngestResult, error) {
	threadID := detail.ThreadID
	if threadID == "" {
		threadID = detail.ProviderID
	}
	log := e.log.With().
		Str("provider_id", detail.ProviderID).
		Str("thread_id", threadID).
		Logger()

	rec, err := e.store.RecordIncoming(ctx, store.IncomingRecord{
		ProviderID: detail.ProviderID,
		ThreadID:   threadID,
		Subject:    detail.Subject,
		Body:       detail.Body,
		Sender:     detail.From,
		SenderName: detail.FromName,
		Receiver:   detail.To,
		Timestamp:  e.now(),
	})
	if err != nil {
		metrics.Ingested.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("recording incoming message: %w", err)
	}
	if rec.Duplicate {
		resumed, err := e.unscheduled(ctx, detail.ProviderID)
		if err != nil {
			metrics.Ingested.WithLabelValues("error").Inc()
			return nil, err
		}
		if resumed == nil {
			log.Info().Msg("message already recorded, skipping")
			metrics.Ingested.WithLabelValues("duplicate").Inc()
			return &IngestResult{Duplicate: true, Message: rec.Message}, nil
		}
		log.Info().Msg("message recorded earlier without a schedule, drafting again")
		rec = resumed
	}

	msg := rec.Message
	result := &IngestResult{
		ConversationID: rec.Conversation.ID,
		Message:        msg,
	}
	log = log.With().Str("conversation_id", rec.Conversation.ID).Logger()

	history, err := e.store.GetConversationMessages(ctx, rec.Conversation.ID)
	if err != nil {
		metrics.Ingested.WithLabelValues("error").Inc()
		return result, fmt.Errorf("loading history: %w", err)
	}

	result.Estimate, result.LatencyDefault = e.estimate(ctx, msg, history)

	replyBody, err := e.composeReply(ctx, msg, history)
	if err != nil {
		metrics.Ingested.WithLabelValues("error").Inc()
		return result, err
	}
	followSubject, followBody, err := e.composeFollowup(ctx, history)
	if err != nil {
		metrics.Ingested.WithLabelValues("error").Inc()
		return result, err
	}
	followDelay := e.followupDelay(ctx, msg, history)

	createdAt := e.now()
	if createdAt.Before(msg.Timestamp) {
		createdAt = msg.Timestamp
	}

	subject := replySubject(rec.Conversation.Subject, detail.Subject)
	if strings.TrimSpace(followSubject) == "" {
		followSubject = subject
	}

	reply := model.ScheduledMessage{
		ID:              uuid.New().String(),
		ConversationID:  rec.Conversation.ID,
		Kind:            model.KindReply,
		SourceMessageID: msg.ProviderID,
		Subject:         subject,
		Body:            replyBody,
		CreatedAt:       createdAt,
		SendAt:          createdAt.Add(result.Estimate.Delay),
		State:           model.DispositionPending,
		Urgent:          result.Estimate.Urgent,
		Stuck:           result.Estimate.Stuck,
	}
	followup := model.ScheduledMessage{
		ID:              uuid.New().String(),
		ConversationID:  rec.Conversation.ID,
		Kind:            model.KindFollowup,
		SourceMessageID: msg.ProviderID,
		Subject:         followSubject,
		Body:            followBody,
		CreatedAt:       createdAt,
		SendAt:          createdAt.Add(followDelay),
		State:           model.DispositionPending,
	}

	if err := e.store.CreateScheduled(ctx, reply, followup); err != nil {
		if errors.Is(err, store.ErrAlreadyScheduled) {
			log.Info().Msg("scheduled concurrently, skipping")
			metrics.Ingested.WithLabelValues("duplicate").Inc()
			return &IngestResult{Duplicate: true, Message: msg}, nil
		}
		metrics.Ingested.WithLabelValues("error").Inc()
		return result, fmt.Errorf("scheduling reply and follow-up: %w", err)
	}
	result.Reply = &reply
	result.Followup = &followup
	metrics.Scheduled.WithLabelValues(string(model.KindReply)).Inc()
	metrics.Scheduled.WithLabelValues(string(model.KindFollowup)).Inc()
	metrics.Ingested.WithLabelValues("scheduled").Inc()

	log.Info().
		Time("reply_at", reply.SendAt).
		Time("followup_at", followup.SendAt).
		Bool("urgent", reply.Urgent).
		Bool("stuck", reply.Stuck).
		Msg("scheduled reply and follow-up")

	if e.opts.CreateDrafts {
		result.DraftID = e.createDraft(ctx, rec.Contact.Email, rec.Conversation.ThreadID, reply)
	}

	if result.Estimate.NeedsAttention() {
		e.notify(ctx, rec, result.Estimate)
	}

	return result, nil
}

// IngestUnread fetches unread messages and ingests each one. A failure on
// one message is recorded and the sweep moves on.
func (e *Engine) IngestUnread(ctx context.Context) (IngestSweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())
	}()

	var res IngestSweepResult

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.TransportTimeout)
	unread, err := e.transport.FetchUnread(fetchCtx)
	cancel()
	if err != nil {
		return res, fmt.Errorf("fetching unread messages: %w", err)
	}
	res.Fetched = len(unread)

	for _, raw := range unread {
		if ctx.Err() != nil {
			break
		}

		ir, err := e.ingestOne(ctx, raw)
		switch {
		case err != nil:
			res.Failed++
			res.Errors = append(res.Errors, err)
			e.log.Error().Err(err).Str("message", raw.ID).Msg("ingest failed")
		case ir.Duplicate:
			res.Duplicates++
		default:
			res.Scheduled++
		}
	}

	return res, ctx.Err()
}

func (e *Engine) ingestOne(ctx context.Context, raw source.RawMessage) (*IngestResult, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.TransportTimeout)
	detail, err := e.transport.FetchDetail(fetchCtx, raw.ID)
	cancel()
	if err != nil {
		metrics.Ingested.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetching message %s: %w", raw.ID, err)
	}
	if detail.ID == "" {
		detail.ID = raw.ID
	}
	if detail.ProviderID == "" {
		detail.ProviderID = raw.ProviderID
	}

	ir, err := e.IngestIncoming(ctx, *detail)
	if err != nil {
		// Left unread so the next sweep delivers it again.
		return nil, err
	}

	markCtx, cancel := context.WithTimeout(ctx, e.opts.TransportTimeout)
	defer cancel()
	if err := e.transport.MarkRead(markCtx, detail.ID); err != nil {
		e.log.Warn().Err(err).Str("provider_id", detail.ProviderID).Msg("mark read failed")
	}
	return ir, nil
}

// unscheduled returns the stored records of an inbound message that was
// recorded but never got its reply and follow-up, or nil when there is
// nothing to resume. A message that is no longer the latest in its
// conversation is not resumed: the newer one carries its own schedule.
func (e *Engine) unscheduled(ctx context.Context, providerID string) (*store.RecordResult, error) {
	msg, err := e.store.GetMessageByProviderID(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("loading recorded message: %w", err)
	}
	if msg.Direction != model.DirectionIncoming {
		return nil, nil
	}

	scheduled, err := e.store.HasScheduled(ctx, providerID)
	if err != nil || scheduled {
		return nil, err
	}

	latest, err := e.store.LatestMessage(ctx, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("loading latest message: %w", err)
	}
	if latest.ID != msg.ID {
		return nil, nil
	}

	conv, err := e.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	contact, err := e.store.GetContact(ctx, conv.ContactID)
	if err != nil {
		return nil, err
	}
	return &store.RecordResult{Contact: *contact, Conversation: *conv, Message: *msg}, nil
}

func (e *Engine) composeReply(
	ctx context.Context,
	msg model.Message,
	history []model.Message,
) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, e.opts.PolicyTimeout)
	defer cancel()

	body, err := e.composer.Reply(cctx, msg.Body, history)
	if err != nil {
		return "", fmt.Errorf("composing reply: %w", err)
	}
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("composing reply: empty body")
	}
	return body, nil
}

func (e *Engine) composeFollowup(
	ctx context.Context,
	history []model.Message,
) (string, string, error) {
	cctx, cancel := context.WithTimeout(ctx, e.opts.PolicyTimeout)
	defer cancel()

	subject, body, err := e.composer.Followup(cctx, history)
	if err != nil {
		return "", "", fmt.Errorf("composing follow-up: %w", err)
	}
	if strings.TrimSpace(body) == "" {
		return "", "", fmt.Errorf("composing follow-up: empty body")
	}
	return subject, body, nil
}

func (e *Engine) createDraft(
	ctx context.Context,
	to, threadID string,
	reply model.ScheduledMessage,
) string {
	dctx, cancel := context.WithTimeout(ctx, e.opts.TransportTimeout)
	defer cancel()

	id, err := e.transport.CreateDraft(dctx, source.Outgoing{
		To:        to,
		Subject:   reply.Subject,
		Body:      reply.Body,
		ThreadID:  threadID,
		InReplyTo: reply.SourceMessageID,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("scheduled_id", reply.ID).Msg("draft creation failed")
		return ""
	}
	return id
}

func (e *Engine) notify(ctx context.Context, rec *store.RecordResult, est model.Estimate) {
	text := fmt.Sprintf("%s (%s): %s", rec.Contact.Email, rec.Conversation.Subject, est.Summary())
	if est.Reasoning != "" {
		text += ". " + est.Reasoning
	}

	err := e.store.CreateNotification(ctx, model.Notification{
		ConversationID: rec.Conversation.ID,
		Message:        text,
		CreatedAt:      e.now(),
	})
	if err != nil {
		e.log.Warn().Err(err).Str("conversation_id", rec.Conversation.ID).Msg("notification failed")
	}
}

// replySubject prefixes the thread subject with "Re:" unless it already has it.
func replySubject(threadSubject, msgSubject string) string {
	subject := strings.TrimSpace(msgSubject)
	if subject == "" {
		subject = strings.TrimSpace(threadSubject)
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

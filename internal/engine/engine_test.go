package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/store"
)

func TestIngestCreatesRecordsAndPendingPair(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res := h.ingestAt(t, tStart, inbound(1, "thread-a", "Alice@Example.com"))
	require.False(t, res.Duplicate)
	require.NotNil(t, res.Reply)
	require.NotNil(t, res.Followup)

	assert.Equal(t, model.DispositionPending, res.Reply.State)
	assert.Equal(t, model.DispositionPending, res.Followup.State)
	assert.Equal(t, tStart.Add(replyDelay), res.Reply.SendAt)
	assert.Equal(t, tStart.Add(followupDelay), res.Followup.SendAt)
	assert.Equal(t, "Re: Project question", res.Reply.Subject)
	assert.Equal(t, "Checking in", res.Followup.Subject)
	assert.False(t, res.Reply.CreatedAt.Before(res.Message.Timestamp))

	conv, err := h.store.GetConversationByThread(ctx, "thread-a")
	require.NoError(t, err)
	contact, err := h.store.GetContact(ctx, conv.ContactID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", contact.Email)

	latest, err := h.store.LatestMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DirectionIncoming, latest.Direction)
	assert.Equal(t, "<m1@example.com>", latest.ProviderID)

	// The reply is also left as a draft in the mailbox.
	require.Len(t, h.transport.drafts, 1)
	assert.Equal(t, "alice@example.com", h.transport.drafts[0].To)
	assert.Equal(t, "<m1@example.com>", h.transport.drafts[0].InReplyTo)
}

func TestIngestIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first := h.ingestAt(t, tStart, inbound(1, "thread-a", "bob@example.com"))
	second := h.ingestAt(t, tStart.Add(time.Minute), inbound(1, "thread-a", "bob@example.com"))

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Reply)

	count, err := h.store.CountMessages(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	counts, err := h.store.CountScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.DispositionPending])
}

func TestConcurrentIngestOfSameMessage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*IngestResult, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.engine.IngestIncoming(ctx, inbound(1, "thread-a", "carol@example.com"))
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		if r != nil && !r.Duplicate {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	counts, err := h.store.CountScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.DispositionPending])
}

// Scenario A: no further activity, the reply goes out on time.
func TestReplySentWhenNoNewActivity(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res := h.ingestAt(t, tStart, inbound(1, "thread-a", "dave@example.com"))

	early := h.runDueAt(t, tStart.Add(replyDelay-time.Second))
	assert.Equal(t, 0, early.Due)
	assert.Equal(t, 0, h.transport.sentCount())

	sweep := h.runDueAt(t, tStart.Add(replyDelay))
	assert.Equal(t, 1, sweep.Sent)
	require.Equal(t, 1, h.transport.sentCount())

	out := h.transport.sent[0]
	assert.Equal(t, "dave@example.com", out.To)
	assert.Equal(t, "thread-a", out.ThreadID)
	assert.Equal(t, "<m1@example.com>", out.InReplyTo)

	reply := h.scheduled(t, res.Reply.ID)
	assert.Equal(t, model.DispositionSent, reply.State)
	assert.Equal(t, "<sent-1@fake>", reply.SentMessageID)

	latest, err := h.store.LatestMessage(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.DirectionOutgoing, latest.Direction)
	assert.Equal(t, "me@example.com", latest.Sender)

	// The follow-up is untouched until its own time.
	assert.Equal(t, model.DispositionPending, h.scheduled(t, res.Followup.ID).State)

	// With the correspondent silent, the follow-up goes out too.
	sweep = h.runDueAt(t, tStart.Add(followupDelay))
	assert.Equal(t, 1, sweep.Sent)
	assert.Equal(t, model.DispositionSent, h.scheduled(t, res.Followup.ID).State)
}

// Scenario B: a newer inbound message cancels the pending reply.
func TestNewerIncomingCancelsReply(t *testing.T) {
	h := newHarness(t, nil)

	first := h.ingestAt(t, tStart, inbound(1, "thread-a", "erin@example.com"))
	second := h.ingestAt(t, tStart.Add(10*time.Minute), inbound(2, "thread-a", "erin@example.com"))
	assert.Equal(t, first.ConversationID, second.ConversationID)

	sweep := h.runDueAt(t, tStart.Add(replyDelay))
	assert.Equal(t, 1, sweep.Canceled)
	assert.Equal(t, 0, h.transport.sentCount())

	r1 := h.scheduled(t, first.Reply.ID)
	assert.Equal(t, model.DispositionCanceled, r1.State)
	assert.NotNil(t, r1.ResolvedAt)

	// The second message's own reply is still sent.
	sweep = h.runDueAt(t, tStart.Add(10*time.Minute+replyDelay))
	assert.Equal(t, 1, sweep.Sent)
	assert.Equal(t, model.DispositionSent, h.scheduled(t, second.Reply.ID).State)
}

func TestOutgoingLatestDoesNotCancel(t *testing.T) {
	h := newHarness(t, nil)

	res := h.ingestAt(t, tStart, inbound(1, "thread-a", "frank@example.com"))
	h.runDueAt(t, tStart.Add(replyDelay))

	// Latest message is now our own reply: the follow-up is not canceled.
	sweep := h.runDueAt(t, tStart.Add(followupDelay))
	assert.Equal(t, 0, sweep.Canceled)
	assert.Equal(t, model.DispositionSent, h.scheduled(t, res.Followup.ID).State)
}

func TestIncomingAtCreationInstantDoesNotCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res := h.ingestAt(t, tStart, inbound(1, "thread-a", "gina@example.com"))

	// Another message in the thread stamped exactly at created_at.
	h.clock.Set(res.Reply.CreatedAt)
	_, err := h.store.RecordIncoming(ctx, store.IncomingRecord{
		ProviderID: "<same-instant@example.com>",
		ThreadID:   "thread-a",
		Sender:     "gina@example.com",
		Body:       "p.s.",
		Timestamp:  res.Reply.CreatedAt,
	})
	require.NoError(t, err)

	sweep := h.runDueAt(t, tStart.Add(replyDelay))
	assert.Equal(t, 1, sweep.Sent)
	assert.Equal(t, 0, sweep.Canceled)
}

// Scenario C: a second sweep at the same instant does nothing.
func TestRepeatedSweepIsSafe(t *testing.T) {
	h := newHarness(t, nil)

	h.ingestAt(t, tStart, inbound(1, "thread-a", "hank@example.com"))
	h.ingestAt(t, tStart, inbound(2, "thread-b", "ivy@example.com"))

	due := tStart.Add(replyDelay)
	first := h.runDueAt(t, due)
	assert.Equal(t, 2, first.Sent)

	second := h.runDueAt(t, due)
	assert.Equal(t, 0, second.Due)
	assert.Equal(t, 2, h.transport.sentCount())
}

func TestConcurrentSweepsSendOnce(t *testing.T) {
	h := newHarness(t, func(_ *Deps, o *Options) { o.Workers = 4 })
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		h.ingestAt(t, tStart, inbound(i, "thread-"+string(rune('a'+i)), "user@example.com"))
	}

	due := tStart.Add(replyDelay)
	h.clock.Set(due)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.RunDue(ctx, due)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, h.transport.sentCount())

	counts, err := h.store.CountScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, counts[model.DispositionSent])
	assert.Equal(t, 6, counts[model.DispositionPending], "follow-ups still pending")
}

func TestIncomingTimestampUsesEngineClock(t *testing.T) {
	h := newHarness(t, nil)
	d := inbound(1, "thread-a", "vic@example.com")
	d.Date = tStart.Add(-6 * time.Hour)

	res := h.ingestAt(t, tStart, d)
	assert.True(t, res.Message.Timestamp.Equal(tStart), "got %s", res.Message.Timestamp)

	stored, err := h.store.GetMessageByProviderID(context.Background(), d.ProviderID)
	require.NoError(t, err)
	assert.True(t, stored.Timestamp.Equal(tStart), "got %s", stored.Timestamp)
}

func TestLeaseOutlastsTransportTimeout(t *testing.T) {
	h := newHarness(t, func(_ *Deps, o *Options) {
		o.ClaimTTL = time.Minute
		o.TransportTimeout = 10 * time.Minute
	})
	assert.Greater(t, h.engine.opts.ClaimTTL, h.engine.opts.TransportTimeout)
}

func TestOverlappingSweepDuringSlowSendSendsOnce(t *testing.T) {
	h := newHarness(t, func(_ *Deps, o *Options) {
		o.ClaimTTL = time.Minute
		o.TransportTimeout = 10 * time.Minute
	})
	h.ingestAt(t, tStart, inbound(1, "thread-a", "vic@example.com"))
	h.transport.sendStarted = make(chan struct{}, 2)
	h.transport.sendGate = make(chan struct{})

	due := tStart.Add(replyDelay)
	h.clock.Set(due)
	done := make(chan SweepResult, 1)
	go func() {
		res, err := h.engine.RunDue(context.Background(), due)
		assert.NoError(t, err)
		done <- res
	}()
	<-h.transport.sendStarted

	// Two minutes into the send, a second sweep must leave the row alone.
	later := due.Add(2 * time.Minute)
	h.clock.Set(later)
	overlap, err := h.engine.RunDue(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, 0, overlap.Sent)

	close(h.transport.sendGate)
	first := <-done
	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, 0, first.Failed)
	assert.Equal(t, 1, h.transport.sentCount())
}

func TestTransportFailureLeavesRowPending(t *testing.T) {
	h := newHarness(t, nil)

	res := h.ingestAt(t, tStart, inbound(1, "thread-a", "jack@example.com"))
	h.transport.failSend["jack@example.com"] = true

	sweep := h.runDueAt(t, tStart.Add(replyDelay))
	assert.Equal(t, 1, sweep.Failed)
	require.Len(t, sweep.Errors, 1)
	assert.True(t, errors.Is(sweep.Errors[0], errUnavailable))

	reply := h.scheduled(t, res.Reply.ID)
	assert.Equal(t, model.DispositionPending, reply.State)
	assert.Equal(t, 1, reply.Attempts)
	assert.Contains(t, reply.LastError, errUnavailable.Error())

	count, err := h.store.CountMessages(context.Background(), res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "no outgoing message recorded")

	// The next sweep retries and succeeds.
	delete(h.transport.failSend, "jack@example.com")
	sweep = h.runDueAt(t, tStart.Add(replyDelay+time.Minute))
	assert.Equal(t, 1, sweep.Sent)
	assert.Equal(t, model.DispositionSent, h.scheduled(t, res.Reply.ID).State)
}

func TestFailureIsIsolatedPerConversation(t *testing.T) {
	h := newHarness(t, nil)

	bad := h.ingestAt(t, tStart, inbound(1, "thread-a", "down@example.com"))
	good := h.ingestAt(t, tStart, inbound(2, "thread-b", "up@example.com"))
	h.transport.failSend["down@example.com"] = true

	sweep := h.runDueAt(t, tStart.Add(replyDelay))
	assert.Equal(t, 1, sweep.Sent)
	assert.Equal(t, 1, sweep.Failed)

	assert.Equal(t, model.DispositionPending, h.scheduled(t, bad.Reply.ID).State)
	assert.Equal(t, model.DispositionSent, h.scheduled(t, good.Reply.ID).State)
}

func TestNeverBothSentAndCanceled(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.ingestAt(t, tStart, inbound(1, "thread-a", "kim@example.com"))
	h.ingestAt(t, tStart.Add(5*time.Minute), inbound(2, "thread-a", "kim@example.com"))
	h.ingestAt(t, tStart, inbound(3, "thread-b", "lee@example.com"))

	for _, at := range []time.Duration{replyDelay, time.Hour, followupDelay, followupDelay + time.Hour} {
		h.runDueAt(t, tStart.Add(at))
		h.runDueAt(t, tStart.Add(at))
	}

	entries, err := h.store.ListScheduled(ctx, store.ScheduledFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 6)
	for _, e := range entries {
		assert.True(t, e.State.Valid())
		assert.True(t, e.State.Terminal(), "row %s (%s) still %s", e.ID, e.Kind, e.State)
		if e.State == model.DispositionCanceled {
			assert.Empty(t, e.SentMessageID)
		}
	}
	// Sends match exactly the rows marked sent.
	counts, err := h.store.CountScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, counts[model.DispositionSent], h.transport.sentCount())
}

func TestLatencyFailureFallsBack(t *testing.T) {
	h := newHarness(t, func(d *Deps, o *Options) {
		d.Latency = fakeLatency{err: errUnavailable}
		d.Jitter = func(lo, hi time.Duration) time.Duration { return hi }
	})

	res := h.ingestAt(t, tStart, inbound(1, "thread-a", "mia@example.com"))
	assert.True(t, res.LatencyDefault)
	assert.Equal(t, tStart.Add(60*time.Minute), res.Reply.SendAt)
	assert.False(t, res.Reply.Urgent)
	assert.False(t, res.Reply.Stuck)
}

func TestFallbackDelayWithinBounds(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Latency = fakeLatency{err: context.DeadlineExceeded}
		d.Followup = fakeFollowup{err: errUnavailable}
	})

	for i := 1; i <= 20; i++ {
		res := h.ingestAt(t, tStart, inbound(i, "thread-"+time.Duration(i).String(), "nia@example.com"))
		delay := res.Reply.SendAt.Sub(res.Reply.CreatedAt)
		assert.GreaterOrEqual(t, delay, 30*time.Minute)
		assert.LessOrEqual(t, delay, 60*time.Minute)

		follow := res.Followup.SendAt.Sub(res.Followup.CreatedAt)
		assert.GreaterOrEqual(t, follow, 48*time.Hour)
		assert.LessOrEqual(t, follow, 120*time.Hour)
	}
}

func TestComposerFailureKeepsMessageWithoutSchedules(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Composer = fakeComposer{replyErr: errUnavailable}
	})
	ctx := context.Background()

	res, err := h.engine.IngestIncoming(ctx, inbound(1, "thread-a", "olga@example.com"))
	require.Error(t, err)
	require.NotNil(t, res, "message was recorded")
	assert.Nil(t, res.Reply)

	count, err := h.store.CountMessages(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	counts, err := h.store.CountScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[model.DispositionPending])

	// While the composer keeps failing, redelivery keeps failing too and
	// never records a second message.
	_, err = h.engine.IngestIncoming(ctx, inbound(1, "thread-a", "olga@example.com"))
	require.Error(t, err)
	count, err = h.store.CountMessages(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRedeliveryAfterComposerFailureSchedules(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Composer = fakeComposer{failFirst: failingOnce()}
	})
	ctx := context.Background()

	first, err := h.engine.IngestIncoming(ctx, inbound(1, "thread-a", "olga@example.com"))
	require.Error(t, err)
	require.NotNil(t, first)
	assert.Nil(t, first.Reply)

	h.clock.Set(tStart.Add(time.Minute))
	again, err := h.engine.IngestIncoming(ctx, inbound(1, "thread-a", "olga@example.com"))
	require.NoError(t, err)
	assert.False(t, again.Duplicate)
	require.NotNil(t, again.Reply)
	require.NotNil(t, again.Followup)
	assert.Equal(t, first.ConversationID, again.ConversationID)
	assert.Equal(t, "<m1@example.com>", again.Reply.SourceMessageID)

	// A third delivery finds the pair and is a plain duplicate.
	third, err := h.engine.IngestIncoming(ctx, inbound(1, "thread-a", "olga@example.com"))
	require.NoError(t, err)
	assert.True(t, third.Duplicate)

	counts, err := h.store.CountScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.DispositionPending])
}

func TestIngestUnreadRetriesAfterComposerFailure(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Composer = fakeComposer{failFirst: failingOnce()}
	})
	ctx := context.Background()
	h.transport.deliver(inbound(1, "thread-a", "olga@example.com"))

	res, err := h.engine.IngestUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, h.transport.marked, "failed message stays unread")

	res, err = h.engine.IngestUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Scheduled)
	assert.Equal(t, []string{"1"}, h.transport.marked)

	res, err = h.engine.IngestUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fetched)

	counts, err := h.store.CountScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.DispositionPending])
}

func TestOlderUnscheduledMessageIsNotResumed(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Composer = fakeComposer{failFirst: failingOnce()}
	})
	ctx := context.Background()

	_, err := h.engine.IngestIncoming(ctx, inbound(1, "thread-a", "olga@example.com"))
	require.Error(t, err)

	newer := h.ingestAt(t, tStart.Add(time.Minute), inbound(2, "thread-a", "olga@example.com"))
	require.NotNil(t, newer.Reply)

	again := h.ingestAt(t, tStart.Add(2*time.Minute), inbound(1, "thread-a", "olga@example.com"))
	assert.True(t, again.Duplicate)

	counts, err := h.store.CountScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.DispositionPending])
}

func TestUrgentEstimateRaisesNotification(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Latency = fakeLatency{est: model.Estimate{
			Delay: 5 * time.Minute, Urgent: true, Reasoning: "production outage",
		}}
	})

	res := h.ingestAt(t, tStart, inbound(1, "thread-a", "pat@example.com"))
	assert.True(t, res.Reply.Urgent)

	notes, err := h.store.GetUnreadNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, res.ConversationID, notes[0].ConversationID)
	assert.Contains(t, notes[0].Message, "urgent")
}

func TestDraftFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.draftErr = errUnavailable

	res := h.ingestAt(t, tStart, inbound(1, "thread-a", "quinn@example.com"))
	assert.Empty(t, res.DraftID)
	assert.NotNil(t, res.Reply)
}

func TestIngestUnreadMarksReadAndContinuesPastFailures(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.transport.deliver(inbound(1, "thread-a", "ray@example.com"))
	h.transport.deliver(inbound(2, "thread-b", "sue@example.com"))
	h.transport.deliver(inbound(3, "thread-c", "tom@example.com"))
	h.transport.failDetail["2"] = true

	res, err := h.engine.IngestUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 2, res.Scheduled)
	assert.Equal(t, 1, res.Failed)
	assert.ElementsMatch(t, []string{"1", "3"}, h.transport.marked)

	// The failed message is retried on the next sweep.
	delete(h.transport.failDetail, "2")
	res, err = h.engine.IngestUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Scheduled)
}

func TestCancelledContextStopsClaiming(t *testing.T) {
	h := newHarness(t, nil)

	h.ingestAt(t, tStart, inbound(1, "thread-a", "uma@example.com"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	due := tStart.Add(replyDelay)
	h.clock.Set(due)
	res, err := h.engine.RunDue(ctx, due)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 0, h.transport.sentCount())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/source"
	"github.com/nhle/replypacer/internal/store"
	"github.com/nhle/replypacer/tests/testutil"
)

var errUnavailable = errors.New("provider unavailable")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeTransport struct {
	mu      sync.Mutex
	unread  []source.RawMessage
	details map[string]*source.MessageDetail
	marked  []string
	sent    []source.Outgoing
	drafts  []source.Outgoing
	seq     int

	// failSend makes Send fail for the given recipient.
	failSend map[string]bool
	// failDetail makes FetchDetail fail for the given transport id.
	failDetail map[string]bool
	draftErr   error

	// When sendGate is set, Send signals sendStarted and blocks until
	// sendGate is closed.
	sendStarted chan struct{}
	sendGate    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		details:    map[string]*source.MessageDetail{},
		failSend:   map[string]bool{},
		failDetail: map[string]bool{},
	}
}

// deliver puts an unread message in the fake mailbox.
func (f *fakeTransport) deliver(d source.MessageDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread = append(f.unread, source.RawMessage{ID: d.ID, ProviderID: d.ProviderID})
	f.details[d.ID] = &d
}

func (f *fakeTransport) FetchUnread(context.Context) ([]source.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]source.RawMessage, len(f.unread))
	copy(out, f.unread)
	return out, nil
}

func (f *fakeTransport) FetchDetail(_ context.Context, id string) (*source.MessageDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDetail[id] {
		return nil, errUnavailable
	}
	d, ok := f.details[id]
	if !ok {
		return nil, fmt.Errorf("no message %s", id)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeTransport) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	kept := f.unread[:0]
	for _, r := range f.unread {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	f.unread = kept
	return nil
}

func (f *fakeTransport) Send(_ context.Context, msg source.Outgoing) (string, error) {
	if f.sendGate != nil {
		f.sendStarted <- struct{}{}
		<-f.sendGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend[msg.To] {
		return "", errUnavailable
	}
	f.seq++
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("<sent-%d@fake>", f.seq), nil
}

func (f *fakeTransport) CreateDraft(_ context.Context, msg source.Outgoing) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draftErr != nil {
		return "", f.draftErr
	}
	f.drafts = append(f.drafts, msg)
	return fmt.Sprintf("draft-%d", len(f.drafts)), nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeLatency struct {
	est model.Estimate
	err error
}

func (f fakeLatency) Estimate(context.Context, model.Message, []model.Message) (model.Estimate, error) {
	return f.est, f.err
}

type fakeFollowup struct {
	delay time.Duration
	err   error
}

func (f fakeFollowup) FollowupDelay(context.Context, model.Message, []model.Message) (time.Duration, error) {
	return f.delay, f.err
}

type fakeComposer struct {
	replyErr error

	// failFirst makes the first n Reply calls fail with errUnavailable.
	failFirst *atomic.Int32
}

func (f fakeComposer) Reply(_ context.Context, inbound string, _ []model.Message) (string, error) {
	if f.replyErr != nil {
		return "", f.replyErr
	}
	if f.failFirst != nil && f.failFirst.Add(-1) >= 0 {
		return "", errUnavailable
	}
	return "Thanks for your message: " + inbound, nil
}

func failingOnce() *atomic.Int32 {
	var n atomic.Int32
	n.Store(1)
	return &n
}

func (f fakeComposer) Followup(context.Context, []model.Message) (string, string, error) {
	return "Checking in", "Just checking in on my last message.", nil
}

const (
	replyDelay    = 40 * time.Minute
	followupDelay = 72 * time.Hour
)

var tStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	engine    *Engine
	store     *store.SQLiteStore
	transport *fakeTransport
	clock     *fakeClock
}

func newHarness(t *testing.T, mutate func(*Deps, *Options)) *harness {
	t.Helper()

	h := &harness{
		store:     testutil.NewTestStore(t),
		transport: newFakeTransport(),
		clock:     &fakeClock{t: tStart},
	}
	deps := Deps{
		Store:     h.store,
		Transport: h.transport,
		Latency:   fakeLatency{est: model.Estimate{Delay: replyDelay}},
		Followup:  fakeFollowup{delay: followupDelay},
		Composer:  fakeComposer{},
		Logger:    zerolog.Nop(),
		Now:       h.clock.Now,
	}
	opts := DefaultOptions()
	opts.Address = "me@example.com"
	if mutate != nil {
		mutate(&deps, &opts)
	}

	e, err := New(deps, opts)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	h.engine = e
	return h
}

// inbound builds a message on thread from sender with a unique id.
func inbound(n int, thread, from string) source.MessageDetail {
	return source.MessageDetail{
		ID:         fmt.Sprintf("%d", n),
		ProviderID: fmt.Sprintf("<m%d@example.com>", n),
		ThreadID:   thread,
		Subject:    "Project question",
		From:       from,
		To:         "me@example.com",
		Body:       fmt.Sprintf("message %d", n),
	}
}

// ingestAt ingests d with the clock set to at.
func (h *harness) ingestAt(t *testing.T, at time.Time, d source.MessageDetail) *IngestResult {
	t.Helper()
	h.clock.Set(at)
	res, err := h.engine.IngestIncoming(context.Background(), d)
	if err != nil {
		t.Fatalf("ingesting %s: %v", d.ProviderID, err)
	}
	return res
}

// runDueAt runs a dispatch sweep with the clock set to at.
func (h *harness) runDueAt(t *testing.T, at time.Time) SweepResult {
	t.Helper()
	h.clock.Set(at)
	res, err := h.engine.RunDue(context.Background(), at)
	if err != nil {
		t.Fatalf("running due sweep: %v", err)
	}
	return res
}

func (h *harness) scheduled(t *testing.T, id string) *model.ScheduledMessage {
	t.Helper()
	sm, err := h.store.GetScheduled(context.Background(), id)
	if err != nil {
		t.Fatalf("getting scheduled %s: %v", id, err)
	}
	return sm
}

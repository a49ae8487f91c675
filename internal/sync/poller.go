// Package sync runs the ingestion and dispatch sweeps on their own
// intervals and reports each result.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/replypacer/internal/engine"
	"github.com/nhle/replypacer/internal/source"
)

// Sweep names one of the two background loops.
type Sweep string

const (
	SweepIngest   Sweep = "ingest"
	SweepDispatch Sweep = "dispatch"
)

// State represents the current state of a sweep loop.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Status holds the state of a single sweep loop.
type Status struct {
	Sweep    Sweep
	State    State
	LastRun  time.Time
	Runs     int
	Interval time.Duration
	Error    error
}

// ResultMsg is a tea.Msg sent when a sweep completes. Exactly one of
// Ingest or Dispatch is set.
type ResultMsg struct {
	Sweep    Sweep
	Ingest   *engine.IngestSweepResult
	Dispatch *engine.SweepResult
	Error    error

	// AuthError is set when the provider rejected our credentials.
	AuthError bool
}

// Runner is the part of the engine the poller drives.
type Runner interface {
	IngestUnread(ctx context.Context) (engine.IngestSweepResult, error)
	RunDue(ctx context.Context, now time.Time) (engine.SweepResult, error)
}

// Poller orchestrates the background ingest and dispatch loops.
type Poller struct {
	runner    Runner
	log       zerolog.Logger
	now       func() time.Time
	intervals map[Sweep]time.Duration
	statuses  map[Sweep]*Status
	triggers  map[Sweep]chan struct{}
	resultCh  chan ResultMsg

	mu      gosync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      gosync.WaitGroup
}

// New creates a Poller. Non-positive intervals default to one minute.
func New(runner Runner, ingestEvery, dispatchEvery time.Duration, log zerolog.Logger) *Poller {
	p := &Poller{
		runner:    runner,
		log:       log.With().Str("component", "poller").Logger(),
		now:       time.Now,
		intervals: map[Sweep]time.Duration{},
		statuses:  map[Sweep]*Status{},
		triggers:  map[Sweep]chan struct{}{},
		resultCh:  make(chan ResultMsg, 16),
	}
	for sweep, every := range map[Sweep]time.Duration{
		SweepIngest:   ingestEvery,
		SweepDispatch: dispatchEvery,
	} {
		if every <= 0 {
			every = time.Minute
		}
		p.intervals[sweep] = every
		p.statuses[sweep] = &Status{Sweep: sweep, State: StateIdle, Interval: every}
		p.triggers[sweep] = make(chan struct{}, 1)
	}
	return p
}

// Start launches both loops; each sweeps immediately and then on its
// interval until ctx is done or Stop is called. Starting twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for _, sweep := range []Sweep{SweepIngest, SweepDispatch} {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx, sweep)
		}()
	}
}

// Stop halts both loops and waits for an in-flight sweep to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
}

// Run starts the loops and blocks until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
}

// Trigger requests an immediate sweep. A trigger already queued absorbs
// this one.
func (p *Poller) Trigger(sweep Sweep) {
	ch, ok := p.triggers[sweep]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// TriggerAll requests an immediate run of both sweeps.
func (p *Poller) TriggerAll() {
	p.Trigger(SweepIngest)
	p.Trigger(SweepDispatch)
}

// Statuses returns the current status of both loops, ingest first.
func (p *Poller) Statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return []Status{*p.statuses[SweepIngest], *p.statuses[SweepDispatch]}
}

// Results exposes sweep results to consumers outside Bubble Tea.
func (p *Poller) Results() <-chan ResultMsg {
	return p.resultCh
}

// WaitForNextResult returns a tea.Cmd that waits for the next sweep
// result. Call it again after handling each ResultMsg.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return func() tea.Msg {
		result, ok := <-p.resultCh
		if !ok {
			return nil
		}
		return result
	}
}

func (p *Poller) loop(ctx context.Context, sweep Sweep) {
	ticker := time.NewTicker(p.intervals[sweep])
	defer ticker.Stop()

	p.runOnce(ctx, sweep)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx, sweep)
		case <-p.triggers[sweep]:
			p.runOnce(ctx, sweep)
		}
	}
}

// runOnce performs one sweep and publishes its result.
func (p *Poller) runOnce(ctx context.Context, sweep Sweep) {
	p.setStatus(sweep, StateRunning, nil)

	msg := ResultMsg{Sweep: sweep}
	switch sweep {
	case SweepIngest:
		res, err := p.runner.IngestUnread(ctx)
		msg.Ingest, msg.Error = &res, err
		if res.Fetched > 0 || err != nil {
			p.log.Info().
				Int("fetched", res.Fetched).
				Int("scheduled", res.Scheduled).
				Int("duplicates", res.Duplicates).
				Int("failed", res.Failed).
				Msg("ingest sweep")
		}
	case SweepDispatch:
		res, err := p.runner.RunDue(ctx, p.now())
		msg.Dispatch, msg.Error = &res, err
		if res.Due > 0 || err != nil {
			p.log.Info().
				Int("due", res.Due).
				Int("sent", res.Sent).
				Int("canceled", res.Canceled).
				Int("failed", res.Failed).
				Int("skipped", res.Skipped).
				Msg("dispatch sweep")
		}
	}

	// Shutdown is not a sweep failure.
	if msg.Error != nil && ctx.Err() != nil {
		msg.Error = nil
	}

	if msg.Error != nil {
		msg.AuthError = source.IsAuthError(msg.Error)
		p.setStatus(sweep, StateError, msg.Error)
		p.log.Error().Err(msg.Error).Str("sweep", string(sweep)).
			Bool("auth", msg.AuthError).Msg("sweep failed")
	} else {
		p.setStatus(sweep, StateIdle, nil)
	}
	p.sendResult(msg)
}

func (p *Poller) setStatus(sweep Sweep, state State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := p.statuses[sweep]
	status.State = state
	status.Error = err
	if state != StateRunning {
		status.LastRun = p.now()
		status.Runs++
	}
}

// sendResult publishes msg without blocking; results are dropped when
// nobody is listening.
func (p *Poller) sendResult(msg ResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
	}
}

// String renders a one-line summary of a result.
func (m ResultMsg) String() string {
	switch {
	case m.Error != nil:
		return fmt.Sprintf("%s failed: %v", m.Sweep, m.Error)
	case m.Ingest != nil:
		return fmt.Sprintf("ingest: %d fetched, %d scheduled, %d duplicates, %d failed",
			m.Ingest.Fetched, m.Ingest.Scheduled, m.Ingest.Duplicates, m.Ingest.Failed)
	case m.Dispatch != nil:
		return fmt.Sprintf("dispatch: %d due, %d sent, %d canceled, %d failed",
			m.Dispatch.Due, m.Dispatch.Sent, m.Dispatch.Canceled, m.Dispatch.Failed)
	default:
		return string(m.Sweep)
	}
}

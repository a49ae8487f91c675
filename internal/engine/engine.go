// Package engine decides when drafted replies and follow-ups are sent and
// whether a scheduled message is still valid at send time.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/policy"
	"github.com/nhle/replypacer/internal/source"
	"github.com/nhle/replypacer/internal/store"
)

// LatencyPolicy estimates how long to wait before replying to msg.
type LatencyPolicy interface {
	Estimate(ctx context.Context, msg model.Message, history []model.Message) (model.Estimate, error)
}

// FollowupPolicy decides how long after an inbound message a follow-up
// goes out if the correspondent stays silent.
type FollowupPolicy interface {
	FollowupDelay(ctx context.Context, msg model.Message, history []model.Message) (time.Duration, error)
}

// Composer drafts reply and follow-up text.
type Composer interface {
	Reply(ctx context.Context, inbound string, history []model.Message) (string, error)
	Followup(ctx context.Context, history []model.Message) (subject, body string, err error)
}

// Deps are the collaborators of an Engine. Store, Transport, Latency,
// Followup and Composer are required.
type Deps struct {
	Store     store.Store
	Transport source.Transport
	Latency   LatencyPolicy
	Followup  FollowupPolicy
	Composer  Composer
	Logger    zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// Jitter returns a random duration in [lo, hi]. It defaults to
	// policy.Uniform.
	Jitter func(lo, hi time.Duration) time.Duration
}

// Options tune the engine. Zero values are replaced by DefaultOptions.
type Options struct {
	// Address is our own mailbox; it is recorded as the sender of
	// outgoing messages.
	Address string

	Workers  int
	DueLimit int

	TransportTimeout time.Duration
	PolicyTimeout    time.Duration
	ClaimTTL         time.Duration

	FallbackMin time.Duration
	FallbackMax time.Duration
	FollowupMin time.Duration
	FollowupMax time.Duration

	CreateDrafts bool
}

// claimMargin is the lease time reserved beyond TransportTimeout for the
// store round-trips of one dispatch.
const claimMargin = time.Minute

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Workers:          1,
		DueLimit:         100,
		TransportTimeout: 30 * time.Second,
		PolicyTimeout:    30 * time.Second,
		ClaimTTL:         5 * time.Minute,
		FallbackMin:      30 * time.Minute,
		FallbackMax:      60 * time.Minute,
		FollowupMin:      48 * time.Hour,
		FollowupMax:      120 * time.Hour,
		CreateDrafts:     true,
	}
}

// OptionsFromConfig maps the schedule section of the app config.
func OptionsFromConfig(cfg *model.AppConfig) Options {
	s := cfg.Schedule
	return Options{
		Address:          cfg.Mail.Address,
		Workers:          s.Workers,
		DueLimit:         100,
		TransportTimeout: s.TransportTimeout(),
		PolicyTimeout:    s.PolicyTimeout(),
		ClaimTTL:         s.ClaimTTL(),
		FallbackMin:      time.Duration(s.FallbackMinMinutes) * time.Minute,
		FallbackMax:      time.Duration(s.FallbackMaxMinutes) * time.Minute,
		FollowupMin:      time.Duration(s.FollowupMinDays) * 24 * time.Hour,
		FollowupMax:      time.Duration(s.FollowupMaxDays) * 24 * time.Hour,
		CreateDrafts:     s.CreateDrafts,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers < 1 {
		o.Workers = d.Workers
	}
	if o.DueLimit < 1 {
		o.DueLimit = d.DueLimit
	}
	if o.TransportTimeout <= 0 {
		o.TransportTimeout = d.TransportTimeout
	}
	if o.PolicyTimeout <= 0 {
		o.PolicyTimeout = d.PolicyTimeout
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = d.ClaimTTL
	}
	// The lease must outlast a send and the store writes around it.
	if floor := o.TransportTimeout + claimMargin; o.ClaimTTL < floor {
		o.ClaimTTL = floor
	}
	if o.FallbackMin <= 0 || o.FallbackMax < o.FallbackMin {
		o.FallbackMin, o.FallbackMax = d.FallbackMin, d.FallbackMax
	}
	if o.FollowupMin <= 0 || o.FollowupMax < o.FollowupMin {
		o.FollowupMin, o.FollowupMax = d.FollowupMin, d.FollowupMax
	}
	return o
}

// Engine runs ingestion and dispatch against the injected collaborators.
// It is safe for concurrent use; overlapping sweeps are serialized per
// row by the store's claim lease.
type Engine struct {
	store     store.Store
	transport source.Transport
	latency   LatencyPolicy
	followup  FollowupPolicy
	composer  Composer
	log       zerolog.Logger
	now       func() time.Time
	jitter    func(lo, hi time.Duration) time.Duration
	opts      Options
}

// New creates an Engine.
func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("engine: store is required")
	case deps.Transport == nil:
		return nil, errors.New("engine: transport is required")
	case deps.Latency == nil:
		return nil, errors.New("engine: latency policy is required")
	case deps.Followup == nil:
		return nil, errors.New("engine: follow-up policy is required")
	case deps.Composer == nil:
		return nil, errors.New("engine: composer is required")
	}

	e := &Engine{
		store:     deps.Store,
		transport: deps.Transport,
		latency:   deps.Latency,
		followup:  deps.Followup,
		composer:  deps.Composer,
		log:       deps.Logger.With().Str("component", "engine").Logger(),
		now:       deps.Now,
		jitter:    deps.Jitter,
		opts:      opts.withDefaults(),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.jitter == nil {
		e.jitter = policy.Uniform
	}
	return e, nil
}

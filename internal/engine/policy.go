package engine

import (
	"context"
	"time"

	"github.com/nhle/replypacer/internal/metrics"
	"github.com/nhle/replypacer/internal/model"
)

// estimate asks the latency policy for a decision. Any failure, including
// a timeout, becomes a random delay in [FallbackMin, FallbackMax] with
// both flags cleared; the second result reports that fallback.
func (e *Engine) estimate(
	ctx context.Context,
	msg model.Message,
	history []model.Message,
) (model.Estimate, bool) {
	pctx, cancel := context.WithTimeout(ctx, e.opts.PolicyTimeout)
	defer cancel()

	est, err := e.latency.Estimate(pctx, msg, history)
	if err != nil {
		metrics.PolicyFallbacks.WithLabelValues("latency").Inc()
		delay := e.jitter(e.opts.FallbackMin, e.opts.FallbackMax)
		e.log.Warn().Err(err).
			Str("provider_id", msg.ProviderID).
			Dur("delay", delay).
			Msg("latency policy failed, using fallback delay")
		return model.Estimate{Delay: delay}, true
	}
	if est.Delay < 0 {
		est.Delay = 0
	}
	return est, false
}

// followupDelay asks the follow-up policy, falling back to a random delay
// in [FollowupMin, FollowupMax].
func (e *Engine) followupDelay(
	ctx context.Context,
	msg model.Message,
	history []model.Message,
) time.Duration {
	pctx, cancel := context.WithTimeout(ctx, e.opts.PolicyTimeout)
	defer cancel()

	delay, err := e.followup.FollowupDelay(pctx, msg, history)
	if err != nil || delay <= 0 {
		metrics.PolicyFallbacks.WithLabelValues("followup").Inc()
		fallback := e.jitter(e.opts.FollowupMin, e.opts.FollowupMax)
		e.log.Warn().Err(err).
			Str("provider_id", msg.ProviderID).
			Dur("delay", fallback).
			Msg("follow-up policy gave no delay, using fallback")
		return fallback
	}
	return delay
}

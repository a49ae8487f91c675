package policy

import (
	"context"
	"time"

	"github.com/nhle/replypacer/internal/model"
)

// RandomFollowup waits a whole random number of days in [MinDays, MaxDays]
// before following up.
type RandomFollowup struct {
	MinDays int
	MaxDays int

	// Pick returns a random int in [0, n). Defaults to math/rand/v2.
	Pick func(n int) int
}

// FollowupDelay implements the follow-up policy.
func (r RandomFollowup) FollowupDelay(
	_ context.Context,
	_ model.Message,
	_ []model.Message,
) (time.Duration, error) {
	lo, hi := r.MinDays, r.MaxDays
	if lo < 1 {
		lo = 2
	}
	if hi < lo {
		hi = lo
	}
	days := lo + pick(r.Pick, hi-lo+1)
	return time.Duration(days) * 24 * time.Hour, nil
}

package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/replypacer/internal/model"
)

// 2025-03-10 is a Monday.
func at(day, hour, min int) time.Time {
	return time.Date(2025, 3, day, hour, min, 0, 0, time.UTC)
}

func TestBusinessHours(t *testing.T) {
	b := DefaultBusinessHours

	tests := []struct {
		name     string
		t        time.Time
		contains bool
		next     time.Time
	}{
		{"monday morning", at(10, 10, 0), true, at(10, 10, 0)},
		{"monday before opening", at(10, 7, 30), false, at(10, 9, 0)},
		{"monday evening", at(10, 18, 0), false, at(11, 9, 0)},
		{"friday evening", at(14, 17, 0), false, at(17, 9, 0)},
		{"saturday noon", at(15, 12, 0), false, at(17, 9, 0)},
		{"sunday early", at(16, 3, 0), false, at(17, 9, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.contains, b.Contains(tt.t))
			assert.Equal(t, tt.next, b.NextOpen(tt.t))
		})
	}
}

func fixedJitter(lo, _ time.Duration) time.Duration { return lo }

func TestHeuristicEstimate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		now    time.Time
		body   string
		delay  time.Duration
		urgent bool
		stuck  bool
	}{
		{"urgent", at(15, 22, 0), "The site is down, please help ASAP", 5 * time.Minute, true, false},
		{"working hours", at(10, 10, 0), "Can we meet next week?", 20 * time.Minute, false, false},
		{"after hours", at(10, 20, 0), "Can we meet next week?", 13*time.Hour + 15*time.Minute, false, false},
		{"stuck", at(10, 10, 0), "I'm waiting for legal to sign off", 2 * time.Hour, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Heuristic{
				Hours:  DefaultBusinessHours,
				Now:    func() time.Time { return tt.now },
				Jitter: fixedJitter,
			}
			msg := model.Message{Body: tt.body, Direction: model.DirectionIncoming}

			est, err := h.Estimate(ctx, msg, []model.Message{msg})
			require.NoError(t, err)
			assert.Equal(t, tt.delay, est.Delay)
			assert.Equal(t, tt.urgent, est.Urgent)
			assert.Equal(t, tt.stuck, est.Stuck)
			assert.NotEmpty(t, est.Reasoning)
		})
	}
}

func TestHeuristicFlagsUnansweredRun(t *testing.T) {
	h := &Heuristic{Hours: DefaultBusinessHours, Now: func() time.Time { return at(10, 10, 0) }, Jitter: fixedJitter}
	in := model.Message{Direction: model.DirectionIncoming, Body: "hello?"}
	out := model.Message{Direction: model.DirectionOutgoing}

	est, err := h.Estimate(context.Background(), in, []model.Message{out, in, in, in})
	require.NoError(t, err)
	assert.True(t, est.Stuck)

	est, err = h.Estimate(context.Background(), in, []model.Message{in, in, out, in})
	require.NoError(t, err)
	assert.False(t, est.Stuck)
}

func TestRandomFollowupRange(t *testing.T) {
	f := RandomFollowup{MinDays: 2, MaxDays: 5}
	for range 50 {
		d, err := f.FollowupDelay(context.Background(), model.Message{}, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, 48*time.Hour)
		assert.LessOrEqual(t, d, 120*time.Hour)
		assert.Zero(t, d%(24*time.Hour))
	}

	last := RandomFollowup{MinDays: 2, MaxDays: 5, Pick: func(n int) int { return n - 1 }}
	d, _ := last.FollowupDelay(context.Background(), model.Message{}, nil)
	assert.Equal(t, 120*time.Hour, d)
}

func TestTemplates(t *testing.T) {
	tpl := Templates{Pick: func(int) int { return 1 }}

	reply, err := tpl.Reply(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, replyTemplates[1], reply)

	subject, body, err := tpl.Followup(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Checking in", subject)
	assert.Equal(t, followupTemplates[1], body)
}

func TestUniform(t *testing.T) {
	assert.Equal(t, time.Minute, Uniform(time.Minute, time.Minute))
	assert.Equal(t, time.Minute, Uniform(time.Minute, time.Second))
	for range 100 {
		d := Uniform(30*time.Minute, 60*time.Minute)
		assert.True(t, d >= 30*time.Minute && d <= 60*time.Minute)
	}
}

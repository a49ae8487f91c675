package policy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/nhle/replypacer/internal/model"
)

var (
	urgentMarkers = []string{
		"urgent", "asap", "as soon as possible", "immediately",
		"emergency", "outage", "is down", "deadline today", "right away",
	}
	stuckMarkers = []string{
		"waiting for", "waiting on", "will get back", "get back to you",
		"once i hear", "after the meeting", "let you know", "on hold",
	}
)

// Heuristic estimates reply latency from keywords, business hours and
// weekends. Urgent messages are answered within minutes; otherwise the
// reply lands inside the next working window.
type Heuristic struct {
	Hours BusinessHours

	// Now defaults to time.Now and Jitter to a uniform random duration.
	Now    func() time.Time
	Jitter func(lo, hi time.Duration) time.Duration
}

// NewHeuristic creates a Heuristic for the given working window.
func NewHeuristic(hours BusinessHours) *Heuristic {
	return &Heuristic{Hours: hours}
}

// Estimate implements the latency policy.
func (h *Heuristic) Estimate(
	_ context.Context,
	msg model.Message,
	history []model.Message,
) (model.Estimate, error) {
	now := h.now()
	text := strings.ToLower(msg.Subject + "\n" + msg.Body)

	if containsAny(text, urgentMarkers) {
		return model.Estimate{
			Delay:     h.jitter(5*time.Minute, 15*time.Minute),
			Urgent:    true,
			Reasoning: "message contains urgency markers",
		}, nil
	}

	stuck := containsAny(text, stuckMarkers) || unanswered(history) >= 3
	open := h.Hours.NextOpen(now)
	wait := open.Sub(now)

	var est model.Estimate
	switch {
	case stuck:
		est = model.Estimate{
			Delay:     wait + h.jitter(2*time.Hour, 6*time.Hour),
			Stuck:     true,
			Reasoning: "conversation is waiting on an outside event",
		}
	case wait == 0:
		est = model.Estimate{
			Delay:     h.jitter(20*time.Minute, 90*time.Minute),
			Reasoning: "received during business hours",
		}
	default:
		est = model.Estimate{
			Delay:     wait + h.jitter(15*time.Minute, 60*time.Minute),
			Reasoning: fmt.Sprintf("received outside business hours, reply after %s", open.Format("Mon 15:04")),
		}
	}
	return est, nil
}

// unanswered counts trailing incoming messages with no reply in between.
func unanswered(history []model.Message) int {
	n := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Direction != model.DirectionIncoming {
			break
		}
		n++
	}
	return n
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func (h *Heuristic) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Heuristic) jitter(lo, hi time.Duration) time.Duration {
	if h.Jitter != nil {
		return h.Jitter(lo, hi)
	}
	return Uniform(lo, hi)
}

// Uniform returns a random duration in [lo, hi].
func Uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

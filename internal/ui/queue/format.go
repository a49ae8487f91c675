// Package queue renders the scheduled message queue, both as a static
// table for the CLI and as an interactive table for the dashboard.
package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/store"
)

// Filters are cycled in this order; nil shows every state.
var Filters = []*model.Disposition{
	ptr(model.DispositionPending),
	ptr(model.DispositionSent),
	ptr(model.DispositionCanceled),
	nil,
}

func ptr(d model.Disposition) *model.Disposition { return &d }

// FilterName labels a filter for headers.
func FilterName(f *model.Disposition) string {
	if f == nil {
		return "all"
	}
	return string(*f)
}

// Relative renders t against now as "in 40m" or "3h ago".
func Relative(t, now time.Time) string {
	d := t.Sub(now)
	switch {
	case d > -time.Minute && d < time.Minute:
		return "now"
	case d > 0:
		return "in " + shortDuration(d)
	default:
		return shortDuration(-d) + " ago"
	}
}

func shortDuration(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d >= time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) - h*60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%02dm", h, m)
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}

// Flags lists the urgent/stuck markers and the failure count of a row.
func Flags(e store.QueueEntry) string {
	var parts []string
	if e.Urgent {
		parts = append(parts, "urgent")
	}
	if e.Stuck {
		parts = append(parts, "stuck")
	}
	if e.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", e.Attempts))
	}
	return strings.Join(parts, ",")
}

// Truncate shortens s to at most n runes, marking the cut with "…".
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// when picks the time column of a row: send time while pending, the
// resolution time after.
func when(e store.QueueEntry, now time.Time) string {
	if e.State.Terminal() && e.ResolvedAt != nil {
		return Relative(*e.ResolvedAt, now)
	}
	return Relative(e.SendAt, now)
}

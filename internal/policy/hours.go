// Package policy holds the non-LLM latency, follow-up and composer
// policies used when no model is configured.
package policy

import "time"

// BusinessHours is a working window on working days, in the location of
// the times it is asked about.
type BusinessHours struct {
	Start int // hour of day, inclusive
	End   int // hour of day, exclusive
}

// DefaultBusinessHours is 9:00 to 17:00.
var DefaultBusinessHours = BusinessHours{Start: 9, End: 17}

// Weekend reports whether t falls on a Saturday or Sunday.
func Weekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Contains reports whether t is inside working hours on a working day.
func (b BusinessHours) Contains(t time.Time) bool {
	if Weekend(t) {
		return false
	}
	return b.Start <= t.Hour() && t.Hour() < b.End
}

// NextOpen returns t if it is inside working hours, otherwise the start
// of the next working window.
func (b BusinessHours) NextOpen(t time.Time) time.Time {
	if b.Contains(t) {
		return t
	}

	day := time.Date(t.Year(), t.Month(), t.Day(), b.Start, 0, 0, 0, t.Location())
	if t.Hour() >= b.Start {
		day = day.AddDate(0, 0, 1)
	}
	for Weekend(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

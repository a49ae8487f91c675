package model

import (
	"fmt"
	"time"
)

// Estimate is a latency decision for an inbound message: how long to wait
// before replying, and whether the conversation needs a human.
type Estimate struct {
	Delay  time.Duration `json:"delay"`
	Urgent bool          `json:"urgent"`
	Stuck  bool          `json:"stuck"`

	// Reasoning is the policy's explanation, kept for logs.
	Reasoning string `json:"reasoning,omitempty"`
}

// NeedsAttention reports whether an operator should be told.
func (e Estimate) NeedsAttention() bool {
	return e.Urgent || e.Stuck
}

// Summary renders the estimate for notifications and logs.
func (e Estimate) Summary() string {
	flags := ""
	switch {
	case e.Urgent && e.Stuck:
		flags = " [urgent, stuck]"
	case e.Urgent:
		flags = " [urgent]"
	case e.Stuck:
		flags = " [stuck]"
	}
	return fmt.Sprintf("reply in %s%s", e.Delay.Round(time.Minute), flags)
}

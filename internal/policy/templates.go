package policy

import (
	"context"
	"math/rand/v2"

	"github.com/nhle/replypacer/internal/model"
)

// FollowupSubject is the subject of template follow-ups.
const FollowupSubject = "Checking in"

var replyTemplates = []string{
	"Thanks for your message. Could you tell me more about that?",
	"I appreciate you sharing this. What else is important to you?",
	"That's interesting. How does this impact your daily life?",
	"I'd like to understand better. Can you elaborate on your goals?",
}

var followupTemplates = []string{
	"I wanted to follow up on our conversation. How are you doing?",
	"Just checking in to see if you had any thoughts on our last exchange.",
	"Hope you're well. I'm following up on our previous conversation.",
	"I was thinking about our discussion and wanted to check in with you.",
}

// Templates composes replies and follow-ups from fixed templates.
type Templates struct {
	// Pick returns a random int in [0, n). Defaults to math/rand/v2.
	Pick func(n int) int
}

// Reply returns a template reply.
func (t Templates) Reply(context.Context, string, []model.Message) (string, error) {
	return replyTemplates[pick(t.Pick, len(replyTemplates))], nil
}

// Followup returns the template follow-up subject and a template body.
func (t Templates) Followup(context.Context, []model.Message) (string, string, error) {
	return FollowupSubject, followupTemplates[pick(t.Pick, len(followupTemplates))], nil
}

func pick(fn func(int) int, n int) int {
	if fn != nil {
		return fn(n)
	}
	return rand.IntN(n)
}

package ai

import (
	"strings"

	"github.com/nhle/replypacer/internal/model"
)

const defaultTranscriptLimit = 20

// Transcript is the conversation history as shown to the model. Long
// threads are trimmed from the middle, keeping the first message (which
// usually states the topic) and the most recent ones.
type Transcript struct {
	messages []model.Message
	limit    int
}

// NewTranscript builds a transcript of history holding at most limit
// messages. A non-positive limit means 20.
func NewTranscript(history []model.Message, limit int) *Transcript {
	if limit <= 0 {
		limit = defaultTranscriptLimit
	}

	t := &Transcript{limit: limit}
	for _, m := range history {
		t.Add(m)
	}
	return t
}

// Add appends a message, trimming the oldest ones after the first when
// the limit is exceeded.
func (t *Transcript) Add(m model.Message) {
	t.messages = append(t.messages, m)

	if len(t.messages) > t.limit {
		trimmed := make([]model.Message, 0, t.limit)
		trimmed = append(trimmed, t.messages[0])
		excess := len(t.messages) - t.limit
		trimmed = append(trimmed, t.messages[1+excess:]...)
		t.messages = trimmed
	}
}

// Len returns the number of messages kept.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// String renders every kept message in order.
func (t *Transcript) String() string {
	if len(t.messages) == 0 {
		return "(no earlier messages)\n"
	}

	var sb strings.Builder
	for _, m := range t.messages {
		sb.WriteString(m.String())
	}
	return sb.String()
}

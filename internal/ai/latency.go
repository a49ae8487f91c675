package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/policy"
)

const latencySystemPrompt = `You decide how long a person would realistically wait before answering an email.
Consider the conversation so far, the tone and urgency of the latest message, the
current time, and whether it is business hours or a weekend. Replies sent too fast
look automated; replies to urgent messages should not wait long.
Flag the conversation as urgent when it needs immediate human action, and as stuck
when it is waiting on a follow-up or an outside event.
Always answer by calling the record_latency tool.`

var latencyTool = apiTool{
	Name:        "record_latency",
	Description: "Record the response latency decision for the latest message.",
	InputSchema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"reasoning": {"type": "string", "description": "The reasoning behind this latency determination"},
			"days": {"type": "integer", "minimum": 0, "description": "Response time in days"},
			"hours": {"type": "integer", "minimum": 0, "description": "Response time in hours"},
			"minutes": {"type": "integer", "minimum": 0, "description": "Response time in minutes (minimum 1)"},
			"urgent": {"type": "boolean", "description": "Whether the message requires immediate action"},
			"stuck": {"type": "boolean", "description": "Whether the conversation is waiting for a follow-up or an external event"}
		},
		"required": ["reasoning", "days", "hours", "minutes", "urgent", "stuck"]
	}`),
}

type latencyDetermination struct {
	Reasoning string `json:"reasoning"`
	Days      int    `json:"days"`
	Hours     int    `json:"hours"`
	Minutes   int    `json:"minutes"`
	Urgent    bool   `json:"urgent"`
	Stuck     bool   `json:"stuck"`
}

func (d latencyDetermination) delay() (time.Duration, error) {
	if d.Days < 0 || d.Hours < 0 || d.Minutes < 0 {
		return 0, fmt.Errorf("negative latency %dd %dh %dm", d.Days, d.Hours, d.Minutes)
	}
	delay := time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute
	if delay < time.Minute {
		delay = time.Minute
	}
	return delay, nil
}

// LatencyAgent asks Claude how long a human would wait before replying.
type LatencyAgent struct {
	client *Client
	hours  policy.BusinessHours

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewLatencyAgent creates a LatencyAgent.
func NewLatencyAgent(client *Client, hours policy.BusinessHours) *LatencyAgent {
	return &LatencyAgent{client: client, hours: hours}
}

// Estimate implements the latency policy.
func (a *LatencyAgent) Estimate(
	ctx context.Context,
	msg model.Message,
	history []model.Message,
) (model.Estimate, error) {
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}

	var d latencyDetermination
	err := a.client.ToolCall(ctx, latencySystemPrompt, latencyPrompt(msg, history, now, a.hours), latencyTool, &d)
	if err != nil {
		return model.Estimate{}, fmt.Errorf("determining latency: %w", err)
	}

	delay, err := d.delay()
	if err != nil {
		return model.Estimate{}, fmt.Errorf("determining latency: %w", err)
	}

	return model.Estimate{
		Delay:     delay,
		Urgent:    d.Urgent,
		Stuck:     d.Stuck,
		Reasoning: d.Reasoning,
	}, nil
}

func latencyPrompt(
	msg model.Message,
	history []model.Message,
	now time.Time,
	hours policy.BusinessHours,
) string {
	var sb strings.Builder
	sb.WriteString("Conversation history:\n")
	sb.WriteString(NewTranscript(history, 0).String())
	sb.WriteString("\nMessage to answer:\n")
	sb.WriteString(msg.String())
	sb.WriteString(fmt.Sprintf("Current time: %s\n", now.Format(time.RFC1123)))
	sb.WriteString(fmt.Sprintf("Business hours: %s\n", yesNo(hours.Contains(now))))
	sb.WriteString(fmt.Sprintf("Weekend: %s\n", yesNo(policy.Weekend(now))))
	return sb.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

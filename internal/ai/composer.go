package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nhle/replypacer/internal/model"
)

var followupTool = apiTool{
	Name:        "draft_followup",
	Description: "Draft a short follow-up email for a conversation that went quiet.",
	InputSchema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"subject": {"type": "string", "description": "Subject line of the follow-up"},
			"body": {"type": "string", "description": "Plain-text body of the follow-up"}
		},
		"required": ["subject", "body"]
	}`),
}

// Composer drafts replies and follow-ups with Claude.
type Composer struct {
	client *Client
	signer string
}

// NewComposer creates a Composer that writes on behalf of signer (a
// display name or address).
func NewComposer(client *Client, signer string) *Composer {
	return &Composer{client: client, signer: signer}
}

func (c *Composer) system() string {
	var sb strings.Builder
	sb.WriteString("You write email on behalf of ")
	if c.signer != "" {
		sb.WriteString(c.signer)
	} else {
		sb.WriteString("the mailbox owner")
	}
	sb.WriteString(". Write in a natural, friendly, concise tone. ")
	sb.WriteString("Plain text only: no subject line, no markdown, no placeholders.")
	return sb.String()
}

// Reply drafts the body of a reply to inbound.
func (c *Composer) Reply(
	ctx context.Context,
	inbound string,
	history []model.Message,
) (string, error) {
	prompt := "Conversation so far:\n" + NewTranscript(history, 0).String() +
		"\nWrite the reply to this latest message:\n" + inbound
	body, err := c.client.Text(ctx, c.system(), prompt)
	if err != nil {
		return "", fmt.Errorf("drafting reply: %w", err)
	}
	return body, nil
}

// Followup drafts a follow-up for a conversation with no answer.
func (c *Composer) Followup(
	ctx context.Context,
	history []model.Message,
) (string, string, error) {
	prompt := "Conversation so far:\n" + NewTranscript(history, 0).String() +
		"\nThe correspondent has not answered for a few days. " +
		"Draft a short, low-pressure follow-up by calling draft_followup."

	var out struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := c.client.ToolCall(ctx, c.system(), prompt, followupTool, &out); err != nil {
		return "", "", fmt.Errorf("drafting follow-up: %w", err)
	}
	if strings.TrimSpace(out.Body) == "" {
		return "", "", fmt.Errorf("drafting follow-up: empty body")
	}
	return strings.TrimSpace(out.Subject), strings.TrimSpace(out.Body), nil
}

package email

import "time"

// Envelope holds the header fields of a mailbox message needed to list
// and thread it.
type Envelope struct {
	UID       uint32
	MessageID string
	Subject   string
	From      string
	FromName  string
	To        []string
	Date      time.Time
}

// ParsedMessage holds the full parsed content of a message.
type ParsedMessage struct {
	Envelope   Envelope
	InReplyTo  []string
	References []string
	TextBody   string
	HTMLBody   string
}

// ThreadRoot returns the id of the first message in the thread: the first
// References entry, else the In-Reply-To target, else the message itself.
func (p *ParsedMessage) ThreadRoot() string {
	if len(p.References) > 0 {
		return p.References[0]
	}
	if len(p.InReplyTo) > 0 {
		return p.InReplyTo[0]
	}
	return p.Envelope.MessageID
}

// Body prefers the plain-text part and falls back to stripped HTML.
func (p *ParsedMessage) Body() string {
	if body := normalizeNewlines(p.TextBody); body != "" {
		return body
	}
	return stripHTML(p.HTMLBody)
}

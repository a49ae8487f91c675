package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/replypacer/internal/source"
)

// IMAPClient wraps go-imap v2 for the few mailbox operations the
// transport needs. Every call opens its own connection.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool

	// dial overrides how the connection is opened.
	dial func(addr string) (*imapclient.Client, error)
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(host, port, username, password string, tls bool) *IMAPClient {
	return &IMAPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout on the returned client.
func (c *IMAPClient) Connect(ctx context.Context) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error
	switch {
	case c.dial != nil:
		client, err = c.dial(addr)
	case c.tls:
		client, err = imapclient.DialTLS(addr, nil)
	default:
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			Protocol: "imap",
			Message:  fmt.Sprintf("authentication failed for %s: %v", c.username, err),
		}
	}

	return client, nil
}

// session connects and selects mailbox, running fn with the client.
func (c *IMAPClient) session(
	ctx context.Context,
	mailbox string,
	fn func(*imapclient.Client) error,
) error {
	client, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if mailbox != "" {
		if _, err := client.Select(mailbox, nil).Wait(); err != nil {
			return fmt.Errorf("selecting %s: %w", mailbox, err)
		}
	}
	return fn(client)
}

// Unread returns the envelopes of the unseen messages in mailbox, oldest
// first, capped at limit when limit > 0.
func (c *IMAPClient) Unread(ctx context.Context, mailbox string, limit int) ([]Envelope, error) {
	var envelopes []Envelope
	err := c.session(ctx, mailbox, func(client *imapclient.Client) error {
		criteria := &imap.SearchCriteria{
			NotFlag: []imap.Flag{imap.FlagSeen},
		}
		searchData, err := client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching unread messages: %w", err)
		}

		uids := searchData.AllUIDs()
		if len(uids) == 0 {
			return nil
		}
		if limit > 0 && len(uids) > limit {
			uids = uids[:limit]
		}

		fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
			Envelope: true,
			UID:      true,
		})
		defer fetchCmd.Close()

		for {
			msg := fetchCmd.Next()
			if msg == nil {
				break
			}
			buf, err := msg.Collect()
			if err != nil {
				continue
			}
			envelopes = append(envelopes, envelopeFromBuffer(buf))
		}

		if err := fetchCmd.Close(); err != nil {
			return fmt.Errorf("fetching envelopes: %w", err)
		}
		return nil
	})
	return envelopes, err
}

// FetchMessage fetches and parses the full message with the given UID
// without setting \Seen.
func (c *IMAPClient) FetchMessage(ctx context.Context, mailbox string, uid uint32) (*ParsedMessage, error) {
	var parsed *ParsedMessage
	err := c.session(ctx, mailbox, func(client *imapclient.Client) error {
		bodySection := &imap.FetchItemBodySection{Peek: true}
		fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
			Envelope:    true,
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{bodySection},
		})
		defer fetchCmd.Close()

		msg := fetchCmd.Next()
		if msg == nil {
			return fmt.Errorf("message UID %d not found", uid)
		}
		buf, err := msg.Collect()
		if err != nil {
			return fmt.Errorf("collecting message data: %w", err)
		}

		parsed = &ParsedMessage{Envelope: envelopeFromBuffer(buf)}
		if raw := buf.FindBodySection(bodySection); raw != nil {
			parseMessage(raw, parsed)
		}

		if err := fetchCmd.Close(); err != nil {
			return fmt.Errorf("closing fetch: %w", err)
		}
		return nil
	})
	return parsed, err
}

// MarkSeen adds the \Seen flag to the message with the given UID.
func (c *IMAPClient) MarkSeen(ctx context.Context, mailbox string, uid uint32) error {
	return c.session(ctx, mailbox, func(client *imapclient.Client) error {
		storeCmd := client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil)
		return storeCmd.Close()
	})
}

// AppendDraft stores raw in mailbox flagged as a draft and returns the
// UID the server assigned, or 0 when the server does not report one.
func (c *IMAPClient) AppendDraft(ctx context.Context, mailbox string, raw []byte) (uint32, error) {
	var uid uint32
	err := c.session(ctx, "", func(client *imapclient.Client) error {
		appendCmd := client.Append(mailbox, int64(len(raw)), &imap.AppendOptions{
			Flags: []imap.Flag{imap.FlagDraft, imap.FlagSeen},
			Time:  time.Now(),
		})
		if _, err := appendCmd.Write(raw); err != nil {
			_ = appendCmd.Close()
			return fmt.Errorf("writing draft: %w", err)
		}
		if err := appendCmd.Close(); err != nil {
			return fmt.Errorf("closing draft: %w", err)
		}
		data, err := appendCmd.Wait()
		if err != nil {
			return fmt.Errorf("appending draft to %s: %w", mailbox, err)
		}
		uid = uint32(data.UID)
		return nil
	})
	return uid, err
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{UID: uint32(buf.UID)}

	if buf.Envelope != nil {
		env.MessageID = trimID(buf.Envelope.MessageID)
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			env.From = strings.ToLower(from.Addr())
			env.FromName = from.Name
		}
		for _, to := range buf.Envelope.To {
			env.To = append(env.To, to.Addr())
		}
	}

	return env
}

// parseMessage fills the threading headers and bodies of p from a raw
// RFC 5322 message. Envelope fields already set are kept.
func parseMessage(raw []byte, p *ParsedMessage) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not MIME; treat the whole thing as plain text.
		p.TextBody = string(raw)
		return
	}
	defer mr.Close()

	h := mr.Header
	if p.Envelope.MessageID == "" {
		if id, err := h.MessageID(); err == nil {
			p.Envelope.MessageID = id
		}
	}
	if p.Envelope.Subject == "" {
		p.Envelope.Subject, _ = h.Subject()
	}
	if p.Envelope.From == "" {
		if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
			p.Envelope.From = strings.ToLower(from[0].Address)
			p.Envelope.FromName = from[0].Name
		}
	}
	if len(p.Envelope.To) == 0 {
		if to, err := h.AddressList("To"); err == nil {
			for _, a := range to {
				p.Envelope.To = append(p.Envelope.To, a.Address)
			}
		}
	}
	if p.Envelope.Date.IsZero() {
		p.Envelope.Date, _ = h.Date()
	}
	p.InReplyTo, _ = h.MsgIDList("In-Reply-To")
	p.References, _ = h.MsgIDList("References")

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		ih, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := ih.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && p.TextBody == "":
			p.TextBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && p.HTMLBody == "":
			p.HTMLBody = string(body)
		}
	}
}

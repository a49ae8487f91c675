// Package email implements the mail transport over IMAP (inbox, drafts)
// and SMTP (sending).
package email

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/source"
)

// Transport implements source.Transport for an IMAP/SMTP mailbox.
type Transport struct {
	imap   *IMAPClient
	smtp   *SMTPSender
	from   *mail.Address
	mbox   string
	drafts string
	limit  int

	// now stamps the Date header of outgoing mail.
	now func() time.Time
}

// NewTransport creates a transport for the configured mailbox. password
// authenticates both IMAP and SMTP as cfg.Username.
func NewTransport(cfg model.MailConfig, password string) *Transport {
	mbox := cfg.IMAP.Mailbox
	if mbox == "" {
		mbox = "INBOX"
	}
	return &Transport{
		imap: NewIMAPClient(cfg.IMAP.Host, cfg.IMAP.Port, cfg.Username, password, cfg.IMAP.TLS),
		smtp: NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.Username, password, cfg.SMTP.Security),
		from: &mail.Address{
			Name:    cfg.DisplayName,
			Address: cfg.Address,
		},
		mbox:   mbox,
		drafts: cfg.IMAP.DraftsMailbox,
		limit:  cfg.IMAP.FetchLimit,
		now:    time.Now,
	}
}

var _ source.Transport = (*Transport)(nil)

// ValidateConnection logs in to IMAP and selects the watched mailbox.
func (t *Transport) ValidateConnection(ctx context.Context) error {
	return t.imap.session(ctx, t.mbox, func(*imapclient.Client) error { return nil })
}

// FetchUnread lists the unseen messages of the watched mailbox.
func (t *Transport) FetchUnread(ctx context.Context) ([]source.RawMessage, error) {
	envelopes, err := t.imap.Unread(ctx, t.mbox, t.limit)
	if err != nil {
		return nil, fmt.Errorf("fetching unread mail: %w", err)
	}

	out := make([]source.RawMessage, 0, len(envelopes))
	for _, env := range envelopes {
		out = append(out, source.RawMessage{
			ID:         formatUID(env.UID),
			ProviderID: env.MessageID,
		})
	}
	return out, nil
}

// FetchDetail fetches and parses one message by UID.
func (t *Transport) FetchDetail(ctx context.Context, id string) (*source.MessageDetail, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	parsed, err := t.imap.FetchMessage(ctx, t.mbox, uid)
	if err != nil {
		return nil, fmt.Errorf("fetching mail %s: %w", id, err)
	}
	return detailFromParsed(id, parsed), nil
}

// MarkRead sets \Seen on a message by UID.
func (t *Transport) MarkRead(ctx context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	if err := t.imap.MarkSeen(ctx, t.mbox, uid); err != nil {
		return fmt.Errorf("marking mail %s read: %w", id, err)
	}
	return nil
}

// Send composes msg and submits it over SMTP. It returns the Message-ID
// of the sent mail.
func (t *Transport) Send(ctx context.Context, msg source.Outgoing) (string, error) {
	id := newMessageID(t.from.Address)
	raw, err := compose(t.from, msg, id, t.now())
	if err != nil {
		return "", err
	}
	if err := t.smtp.Send(ctx, t.from.Address, msg.To, raw); err != nil {
		return "", err
	}
	return id, nil
}

// CreateDraft appends msg to the drafts mailbox. The draft id is the
// assigned UID when the server reports one, otherwise the Message-ID.
func (t *Transport) CreateDraft(ctx context.Context, msg source.Outgoing) (string, error) {
	if t.drafts == "" {
		return "", fmt.Errorf("no drafts mailbox configured")
	}

	id := newMessageID(t.from.Address)
	raw, err := compose(t.from, msg, id, t.now())
	if err != nil {
		return "", err
	}
	uid, err := t.imap.AppendDraft(ctx, t.drafts, raw)
	if err != nil {
		return "", err
	}
	if uid == 0 {
		return id, nil
	}
	return formatUID(uid), nil
}

func detailFromParsed(id string, p *ParsedMessage) *source.MessageDetail {
	env := p.Envelope
	var inReplyTo string
	if len(p.InReplyTo) > 0 {
		inReplyTo = p.InReplyTo[0]
	}
	return &source.MessageDetail{
		ID:         id,
		ProviderID: env.MessageID,
		ThreadID:   p.ThreadRoot(),
		Subject:    env.Subject,
		From:       env.From,
		FromName:   env.FromName,
		To:         strings.Join(env.To, ", "),
		Body:       p.Body(),
		Date:       env.Date,
		InReplyTo:  inReplyTo,
	}
}

func formatUID(uid uint32) string {
	return strconv.FormatUint(uint64(uid), 10)
}

// parseUID converts a transport id to an IMAP UID.
func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mail UID %q: %w", id, err)
	}
	return uint32(uid), nil
}

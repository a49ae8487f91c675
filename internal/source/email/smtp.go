package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/replypacer/internal/source"
)

// SMTP security modes.
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityNone     = "none"
)

// SMTPSender submits messages to the outgoing server.
type SMTPSender struct {
	host     string
	port     string
	username string
	password string
	security string

	tlsConfig *tls.Config
}

// NewSMTPSender creates a sender. security is one of "tls", "starttls"
// or "none".
func NewSMTPSender(host, port, username, password, security string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		security:  security,
		tlsConfig: &tls.Config{ServerName: host},
	}
}

// connect dials the server honoring ctx for the connection phase and as
// the deadline of the whole exchange.
func (s *SMTPSender) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.host, s.port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing SMTP %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var client *smtp.Client
	switch s.security {
	case SecurityTLS:
		client = smtp.NewClient(tls.Client(conn, s.tlsConfig))
	case SecurityStartTLS:
		client, err = smtp.NewClientStartTLS(conn, s.tlsConfig)
	default:
		client = smtp.NewClient(conn)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("starting TLS with %s: %w", addr, err)
	}
	return client, nil
}

// Send submits raw from from to the single recipient to.
func (s *SMTPSender) Send(ctx context.Context, from, to string, raw []byte) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.username != "" {
		auth := sasl.NewPlainClient("", s.username, s.password)
		if err := client.Auth(auth); err != nil {
			return &source.AuthError{
				Protocol: "smtp",
				Message:  fmt.Sprintf("authentication failed for %s: %v", s.username, err),
			}
		}
	}

	if err := client.SendMail(from, []string{to}, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}
	return client.Quit()
}

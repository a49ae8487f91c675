package email

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/nhle/replypacer/internal/source"
)

// newMessageID returns a fresh Message-ID (without angle brackets) in the
// domain of address.
func newMessageID(address string) string {
	domain := "replypacer.local"
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		domain = address[at+1:]
	}
	return uuid.New().String() + "@" + domain
}

// compose renders out as a plain-text RFC 5322 message from from. The
// In-Reply-To and References headers keep the message in its thread.
func compose(from *mail.Address, out source.Outgoing, messageID string, date time.Time) ([]byte, error) {
	to, err := mail.ParseAddress(out.To)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient %q: %w", out.To, err)
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(out.Subject)
	h.SetMessageID(messageID)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	if parent := trimID(out.InReplyTo); parent != "" {
		h.SetMsgIDList("In-Reply-To", []string{parent})
	}
	if refs := references(out.ThreadID, out.InReplyTo); len(refs) > 0 {
		h.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("writing headers: %w", err)
	}
	if _, err := w.Write([]byte(out.Body)); err != nil {
		return nil, fmt.Errorf("writing body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message: %w", err)
	}
	return buf.Bytes(), nil
}

// references lists the thread root followed by the direct parent, skipping
// empties and repeats.
func references(threadID, inReplyTo string) []string {
	var refs []string
	for _, id := range []string{threadID, inReplyTo} {
		id = trimID(id)
		if id == "" {
			continue
		}
		if len(refs) > 0 && refs[len(refs)-1] == id {
			continue
		}
		refs = append(refs, id)
	}
	return refs
}

// trimID strips whitespace and the angle brackets around a message id.
func trimID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags and decodes common entities, giving a basic
// plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>"} {
		result = strings.ReplaceAll(result, tag, "\n")
	}
	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return normalizeNewlines(replacer.Replace(result))
}

// normalizeNewlines converts CRLF, collapses runs of blank lines and trims.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}

package mailer

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"sort"
	"strings"
	"time"
)

var (
	errNoRecipients = errors.New("mailer: at least one recipient required")
	errNoSender     = errors.New("mailer: from address required")
	errNoSubject    = errors.New("mailer: subject required")
	errNoBody       = errors.New("mailer: text or html body required")
)

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), addr)
}

func newMessageID(domain string) string {
	return fmt.Sprintf("<%s@%s>", randomHex(12), domain)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// buildMIMEMessage renders e as an RFC 5322 message. Bodies are
// quoted-printable so currency symbols survive 7-bit relays.
func buildMIMEMessage(e Email, messageIDDomain string, now time.Time) (string, error) {
	switch {
	case len(e.To) == 0 && len(e.Cc) == 0 && len(e.Bcc) == 0:
		return "", errNoRecipients
	case e.From == "":
		return "", errNoSender
	case e.Subject == "":
		return "", errNoSubject
	case e.TextBody == "" && e.HTMLBody == "":
		return "", errNoBody
	}

	var b strings.Builder
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", newMessageID(messageIDDomain))
	header("From", formatAddress(e.FromName, e.From))
	if len(e.To) > 0 {
		header("To", strings.Join(e.To, ", "))
	}
	if len(e.Cc) > 0 {
		header("Cc", strings.Join(e.Cc, ", "))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", e.Subject))
	header("MIME-Version", "1.0")

	keys := make([]string, 0, len(e.Headers))
	for k, v := range e.Headers {
		if k != "" && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		header(k, e.Headers[k])
	}

	if e.TextBody != "" && e.HTMLBody != "" {
		boundary := "alt-" + randomHex(12)
		header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
		b.WriteString("\r\n")
		for _, part := range []struct{ typ, body string }{
			{"text/plain", e.TextBody},
			{"text/html", e.HTMLBody},
		} {
			fmt.Fprintf(&b, "--%s\r\n", boundary)
			if err := writePart(&b, part.typ, part.body); err != nil {
				return "", err
			}
		}
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
		return b.String(), nil
	}

	typ, body := "text/plain", e.TextBody
	if e.HTMLBody != "" {
		typ, body = "text/html", e.HTMLBody
	}
	if err := writePart(&b, typ, body); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writePart(b *strings.Builder, contentType, body string) error {
	fmt.Fprintf(b, "Content-Type: %s; charset=UTF-8\r\n", contentType)
	b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	w := quotedprintable.NewWriter(b)
	if _, err := w.Write([]byte(body)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	b.WriteString("\r\n")
	return nil
}

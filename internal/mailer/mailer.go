package mailer

import "context"

// Service sends one email.
type Service interface {
	Send(ctx context.Context, e Email) error
}

type Email struct {
	FromName string
	From     string

	To  []string
	Cc  []string
	Bcc []string

	Subject string

	TextBody string
	HTMLBody string

	Headers map[string]string
}

// AllRecipients is every envelope recipient, Bcc included.
func (e Email) AllRecipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	out = append(out, e.Bcc...)
	return out
}

// WithDefaults fills the sender when the caller left it empty.
func (e Email) WithDefaults(from, fromName string) Email {
	if e.From == "" {
		e.From = from
	}
	if e.FromName == "" {
		e.FromName = fromName
	}
	return e
}

package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bradb345/t3test-sub001/internal/config"
)

// MailtrapMailer sends through Mailtrap's HTTP sending API.
type MailtrapMailer struct {
	apiURL   string
	apiToken string
	from     string
	fromName string
	client   *http.Client
}

type mailtrapAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailtrapPayload struct {
	From     mailtrapAddress   `json:"from"`
	To       []mailtrapAddress `json:"to"`
	Cc       []mailtrapAddress `json:"cc,omitempty"`
	Bcc      []mailtrapAddress `json:"bcc,omitempty"`
	Subject  string            `json:"subject"`
	Text     string            `json:"text,omitempty"`
	HTML     string            `json:"html,omitempty"`
	Category string            `json:"category,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

func NewMailtrapMailer(cfg config.MailtrapConfig, from, fromName string) *MailtrapMailer {
	return &MailtrapMailer{
		apiURL:   cfg.APIURL,
		apiToken: cfg.APIToken,
		from:     from,
		fromName: fromName,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *MailtrapMailer) Send(ctx context.Context, e Email) error {
	if m.apiURL == "" || m.apiToken == "" {
		return fmt.Errorf("mailtrap credentials not configured")
	}
	e = e.WithDefaults(m.from, m.fromName)
	if len(e.To) == 0 {
		return errNoRecipients
	}

	payload := mailtrapPayload{
		From:     mailtrapAddress{Email: e.From, Name: e.FromName},
		To:       addresses(e.To),
		Cc:       addresses(e.Cc),
		Bcc:      addresses(e.Bcc),
		Subject:  e.Subject,
		Text:     e.TextBody,
		HTML:     e.HTMLBody,
		Category: "Transactional",
		Headers:  e.Headers,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("mailtrap API error: %d: %s", res.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func addresses(in []string) []mailtrapAddress {
	if len(in) == 0 {
		return nil
	}
	out := make([]mailtrapAddress, len(in))
	for i, a := range in {
		out[i] = mailtrapAddress{Email: a}
	}
	return out
}

// Package mockprovider is an in-process payment provider for local
// development. Webhooks are signed with the same HMAC scheme the
// mockwebhook tool produces.
package mockprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bradb345/t3test-sub001/internal/modules/payments"
)

type Config struct {
	WebhookSecret string
	// CheckoutBaseURL is where fake hosted pages are served from.
	CheckoutBaseURL string
	// AutoOnboard marks an account complete once an onboarding link was issued.
	AutoOnboard bool
	Tolerance   time.Duration
}

type account struct {
	state      payments.AccountState
	linkIssued bool
}

type Provider struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	accounts map[string]*account
	intents  map[string]payments.PaymentIntent
	sessions map[string]payments.CheckoutSessionRequest
	idem     map[string]any
}

func New(cfg Config) *Provider {
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.CheckoutBaseURL == "" {
		cfg.CheckoutBaseURL = "http://localhost:8080/mock"
	}
	return &Provider{
		cfg:      cfg,
		now:      time.Now,
		accounts: map[string]*account{},
		intents:  map[string]payments.PaymentIntent{},
		sessions: map[string]payments.CheckoutSessionRequest{},
		idem:     map[string]any{},
	}
}

func (p *Provider) Name() string { return "mock" }

func (p *Provider) CreateCustomer(ctx context.Context, req payments.CreateCustomerRequest) (string, error) {
	if req.UserID == "" {
		return "", fmt.Errorf("user id required")
	}
	return "cus_" + shortID(), nil
}

func (p *Provider) CreateConnectedAccount(ctx context.Context, req payments.CreateAccountRequest) (payments.AccountState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := payments.AccountState{ExternalAccountID: "acct_" + shortID()}
	p.accounts[st.ExternalAccountID] = &account{state: st}
	return st, nil
}

func (p *Provider) GetConnectedAccount(ctx context.Context, id string) (payments.AccountState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.accounts[id]
	if !ok {
		return payments.AccountState{}, fmt.Errorf("no such account: %s", id)
	}
	if p.cfg.AutoOnboard && a.linkIssued {
		a.state.ChargesEnabled = true
		a.state.PayoutsEnabled = true
		a.state.DetailsSubmitted = true
	}
	return a.state, nil
}

// SetAccountState overrides an account's capabilities, as the dashboard would.
func (p *Provider) SetAccountState(st payments.AccountState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.accounts[st.ExternalAccountID]
	if !ok {
		a = &account{}
		p.accounts[st.ExternalAccountID] = a
	}
	a.state = st
}

func (p *Provider) CreateOnboardingLink(ctx context.Context, req payments.OnboardingLinkRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.accounts[req.ExternalAccountID]
	if !ok {
		return "", fmt.Errorf("no such account: %s", req.ExternalAccountID)
	}
	a.linkIssued = true

	q := url.Values{}
	q.Set("account", req.ExternalAccountID)
	q.Set("return_url", req.ReturnURL)
	q.Set("refresh_url", req.RefreshURL)
	return strings.TrimRight(p.cfg.CheckoutBaseURL, "/") + "/onboarding?" + q.Encode(), nil
}

func (p *Provider) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if err := validateSplit(lineTotal(req.LineItems), req.ApplicationFee, req.DestinationAccount); err != nil {
		return payments.CheckoutSession{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.IdempotencyKey != "" {
		if prev, ok := p.idem[req.IdempotencyKey].(payments.CheckoutSession); ok {
			return prev, nil
		}
	}
	id := "cs_" + shortID()
	sess := payments.CheckoutSession{
		ID:        id,
		URL:       strings.TrimRight(p.cfg.CheckoutBaseURL, "/") + "/checkout/" + id,
		ExpiresAt: req.ExpiresAt,
	}
	p.sessions[id] = req
	if req.IdempotencyKey != "" {
		p.idem[req.IdempotencyKey] = sess
	}
	return sess, nil
}

func (p *Provider) CreatePaymentIntent(ctx context.Context, req payments.PaymentIntentRequest) (payments.PaymentIntent, error) {
	if err := validateSplit(req.AmountMinor, req.ApplicationFee, req.DestinationAccount); err != nil {
		return payments.PaymentIntent{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.IdempotencyKey != "" {
		if prev, ok := p.idem[req.IdempotencyKey].(payments.PaymentIntent); ok {
			return prev, nil
		}
	}
	id := "pi_" + shortID()
	pi := payments.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret_" + shortID(),
		Status:       payments.IntentRequiresAction,
		AmountMinor:  req.AmountMinor,
		Currency:     strings.ToLower(req.Currency),
		Metadata:     req.Metadata,
	}
	p.intents[id] = pi
	if req.IdempotencyKey != "" {
		p.idem[req.IdempotencyKey] = pi
	}
	return pi, nil
}

func (p *Provider) GetPaymentIntent(ctx context.Context, id string) (payments.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pi, ok := p.intents[id]
	if !ok {
		return payments.PaymentIntent{}, fmt.Errorf("no such payment intent: %s", id)
	}
	return pi, nil
}

// SettleIntent moves an intent to a terminal state, as a real processor
// would after the customer pays.
func (p *Provider) SettleIntent(id string, status payments.IntentStatus, failure string) (payments.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pi, ok := p.intents[id]
	if !ok {
		return payments.PaymentIntent{}, fmt.Errorf("no such payment intent: %s", id)
	}
	pi.Status = status
	pi.FailureMessage = failure
	if status == payments.IntentSucceeded && pi.TransferID == "" {
		pi.TransferID = "tr_" + shortID()
	}
	p.intents[id] = pi
	return pi, nil
}

// Event is the wire format accepted on /webhooks/mock.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	CheckoutSessionID string `json:"checkout_session_id,omitempty"`
	PaymentIntentID   string `json:"payment_intent_id,omitempty"`
	TransferID        string `json:"transfer_id,omitempty"`
	PaymentStatus     string `json:"payment_status,omitempty"`
	FailureMessage    string `json:"failure_message,omitempty"`
	PaymentID         string `json:"payment_id,omitempty"`
	AccountID         string `json:"account_id,omitempty"`
	ChargesEnabled    bool   `json:"charges_enabled,omitempty"`
	PayoutsEnabled    bool   `json:"payouts_enabled,omitempty"`
}

func (p *Provider) VerifyAndParseWebhook(headers http.Header, body []byte) (payments.WebhookEvent, error) {
	if p.cfg.WebhookSecret == "" {
		return payments.WebhookEvent{}, fmt.Errorf("%w: webhook secret not configured", payments.ErrInvalidSignature)
	}
	if err := verify([]byte(p.cfg.WebhookSecret), headers.Get(SignatureHeader), body, p.now(), p.cfg.Tolerance); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrInvalidSignature, err)
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return payments.WebhookEvent{}, fmt.Errorf("%w: id and type are required", payments.ErrMalformedEvent)
	}

	return payments.WebhookEvent{
		EventID:           ev.ID,
		Type:              payments.EventType(ev.Type),
		CheckoutSessionID: ev.Data.CheckoutSessionID,
		PaymentIntentID:   ev.Data.PaymentIntentID,
		TransferID:        ev.Data.TransferID,
		PaymentStatus:     ev.Data.PaymentStatus,
		FailureMessage:    ev.Data.FailureMessage,
		PaymentID:         ev.Data.PaymentID,
		AccountID:         ev.Data.AccountID,
		ChargesEnabled:    ev.Data.ChargesEnabled,
		PayoutsEnabled:    ev.Data.PayoutsEnabled,
	}, nil
}

func validateSplit(gross, fee int64, destination string) error {
	if gross <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if fee < 0 || fee > gross {
		return fmt.Errorf("application fee %d out of range for amount %d", fee, gross)
	}
	if destination == "" {
		return fmt.Errorf("destination account required")
	}
	return nil
}

func lineTotal(items []payments.LineItem) int64 {
	var total int64
	for _, it := range items {
		total += it.AmountMinor
	}
	return total
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

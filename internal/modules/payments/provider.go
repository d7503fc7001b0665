package payments

import (
	"context"
	"net/http"
	"time"
)

// All amounts crossing the provider port are integer minor units with an
// ISO 4217 currency code.

type CreateCustomerRequest struct {
	UserID string
	Email  string
	Name   string
}

type CreateAccountRequest struct {
	LandlordID string
	Email      string
}

// AccountState is the provider's view of a connected account.
type AccountState struct {
	ExternalAccountID string
	ChargesEnabled    bool
	PayoutsEnabled    bool
	DetailsSubmitted  bool
}

func (s AccountState) Status() AccountStatus {
	return StatusFromCapabilities(s.ChargesEnabled, s.PayoutsEnabled)
}

type OnboardingLinkRequest struct {
	ExternalAccountID string
	RefreshURL        string
	ReturnURL         string
}

type LineItem struct {
	Name        string
	AmountMinor int64
}

type CheckoutSessionRequest struct {
	PaymentID          string
	CustomerID         string
	Currency           string
	LineItems          []LineItem
	ApplicationFee     int64
	DestinationAccount string
	SuccessURL         string
	CancelURL          string
	ExpiresAt          time.Time
	Metadata           map[string]string
	IdempotencyKey     string
}

type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

type PaymentIntentRequest struct {
	PaymentID          string
	CustomerID         string
	AmountMinor        int64
	Currency           string
	ApplicationFee     int64
	DestinationAccount string
	Description        string
	Metadata           map[string]string
	IdempotencyKey     string
}

type IntentStatus string

const (
	IntentRequiresAction IntentStatus = "requires_action"
	IntentProcessing     IntentStatus = "processing"
	IntentSucceeded      IntentStatus = "succeeded"
	IntentFailed         IntentStatus = "failed"
	IntentCanceled       IntentStatus = "canceled"
)

type PaymentIntent struct {
	ID             string
	ClientSecret   string
	Status         IntentStatus
	AmountMinor    int64
	Currency       string
	TransferID     string
	FailureMessage string
	Metadata       map[string]string
}

type EventType string

const (
	EventCheckoutCompleted          EventType = "checkout.session.completed"
	EventCheckoutAsyncSucceeded     EventType = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed        EventType = "checkout.session.async_payment_failed"
	EventCheckoutExpired            EventType = "checkout.session.expired"
	EventPaymentIntentSucceeded     EventType = "payment_intent.succeeded"
	EventPaymentIntentPaymentFailed EventType = "payment_intent.payment_failed"
	EventAccountUpdated             EventType = "account.updated"
)

// WebhookEvent is the provider-neutral form of an inbound notification.
// Only the fields relevant to Type are populated.
type WebhookEvent struct {
	EventID string
	Type    EventType

	CheckoutSessionID string
	PaymentIntentID   string
	TransferID        string
	PaymentStatus     string // checkout sessions: paid|unpaid|no_payment_required
	FailureMessage    string

	// metadata.payment_id as set at initiation; lets us match events whose
	// external ids were never persisted locally
	PaymentID string

	AccountID      string
	ChargesEnabled bool
	PayoutsEnabled bool
}

type Provider interface {
	Name() string

	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (string, error)
	CreateConnectedAccount(ctx context.Context, req CreateAccountRequest) (AccountState, error)
	GetConnectedAccount(ctx context.Context, externalAccountID string) (AccountState, error)
	CreateOnboardingLink(ctx context.Context, req OnboardingLinkRequest) (string, error)

	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (PaymentIntent, error)

	// Webhook: verify signature + parse event
	VerifyAndParseWebhook(headers http.Header, body []byte) (WebhookEvent, error)
}

// Package stripeprovider implements the payment provider port on Stripe
// Connect with destination charges.
package stripeprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/bradb345/t3test-sub001/internal/modules/payments"
)

// Stripe rejects checkout sessions that expire sooner than this.
const minSessionLifetime = 30 * time.Minute

type Config struct {
	SecretKey     string
	WebhookSecret string
	AccountType   string // express|standard|custom
	Country       string
}

type Provider struct {
	api *client.API
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Provider {
	if cfg.AccountType == "" {
		cfg.AccountType = string(stripe.AccountTypeExpress)
	}
	return &Provider{api: client.New(cfg.SecretKey, nil), cfg: cfg, now: time.Now}
}

func (p *Provider) Name() string { return "stripe" }

func (p *Provider) CreateCustomer(ctx context.Context, req payments.CreateCustomerRequest) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.AddMetadata("user_id", req.UserID)
	params.SetIdempotencyKey("customer:" + req.UserID)

	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (p *Provider) CreateConnectedAccount(ctx context.Context, req payments.CreateAccountRequest) (payments.AccountState, error) {
	params := &stripe.AccountParams{
		Type:    stripe.String(p.cfg.AccountType),
		Country: stripe.String(p.cfg.Country),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	params.AddMetadata("landlord_id", req.LandlordID)
	params.SetIdempotencyKey("account:" + req.LandlordID)

	a, err := p.api.Accounts.New(params)
	if err != nil {
		return payments.AccountState{}, err
	}
	return accountState(a), nil
}

func (p *Provider) GetConnectedAccount(ctx context.Context, id string) (payments.AccountState, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	a, err := p.api.Accounts.GetByID(id, params)
	if err != nil {
		return payments.AccountState{}, err
	}
	return accountState(a), nil
}

func (p *Provider) CreateOnboardingLink(ctx context.Context, req payments.OnboardingLinkRequest) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(req.ExternalAccountID),
		RefreshURL: stripe.String(req.RefreshURL),
		ReturnURL:  stripe.String(req.ReturnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx
	link, err := p.api.AccountLinks.New(params)
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

func (p *Provider) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	currency := strings.ToLower(req.Currency)
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.LineItems))
	for _, it := range req.LineItems {
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(it.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(it.Name),
				},
			},
		})
	}

	expiresAt, err := sessionExpiry(p.now(), req.ExpiresAt)
	if err != nil {
		return payments.CheckoutSession{}, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(req.PaymentID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ExpiresAt:         stripe.Int64(expiresAt),
		LineItems:         items,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(req.ApplicationFee),
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(req.DestinationAccount),
			},
			Metadata: req.Metadata,
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return payments.CheckoutSession{}, err
	}
	return payments.CheckoutSession{ID: s.ID, URL: s.URL, ExpiresAt: time.Unix(s.ExpiresAt, 0)}, nil
}

// sessionExpiry refuses expiries Stripe would reject. The caller's claim is
// held until exactly this instant, so it is never moved.
func sessionExpiry(now, requested time.Time) (int64, error) {
	if requested.IsZero() {
		return 0, errors.New("checkout session expiry is required")
	}
	if requested.Before(now.Add(minSessionLifetime)) {
		return 0, fmt.Errorf("checkout session expiry %s is less than %s away; raise the claim TTL",
			requested.Format(time.RFC3339), minSessionLifetime)
	}
	return requested.Unix(), nil
}

func (p *Provider) CreatePaymentIntent(ctx context.Context, req payments.PaymentIntentRequest) (payments.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(req.AmountMinor),
		Currency:             stripe.String(strings.ToLower(req.Currency)),
		Customer:             stripe.String(req.CustomerID),
		Description:          stripe.String(req.Description),
		ApplicationFeeAmount: stripe.Int64(req.ApplicationFee),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.DestinationAccount),
		},
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return payments.PaymentIntent{}, err
	}
	return intentOf(pi), nil
}

func (p *Provider) GetPaymentIntent(ctx context.Context, id string) (payments.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return payments.PaymentIntent{}, err
	}
	return intentOf(pi), nil
}

func (p *Provider) VerifyAndParseWebhook(headers http.Header, body []byte) (payments.WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(body, headers.Get("Stripe-Signature"), p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrInvalidSignature, err)
	}
	return translateEvent(ev)
}

// translateEvent flattens the event objects we act on. Other types pass
// through with only id and type set.
func translateEvent(ev stripe.Event) (payments.WebhookEvent, error) {
	out := payments.WebhookEvent{EventID: ev.ID, Type: payments.EventType(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}

	switch out.Type {
	case payments.EventCheckoutCompleted, payments.EventCheckoutAsyncSucceeded,
		payments.EventCheckoutAsyncFailed, payments.EventCheckoutExpired:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return out, fmt.Errorf("%w: checkout session: %v", payments.ErrMalformedEvent, err)
		}
		out.CheckoutSessionID = s.ID
		out.PaymentStatus = string(s.PaymentStatus)
		out.PaymentID = s.Metadata["payment_id"]
		if out.PaymentID == "" {
			out.PaymentID = s.ClientReferenceID
		}
		if s.PaymentIntent != nil {
			out.PaymentIntentID = s.PaymentIntent.ID
		}

	case payments.EventPaymentIntentSucceeded, payments.EventPaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return out, fmt.Errorf("%w: payment intent: %v", payments.ErrMalformedEvent, err)
		}
		in := intentOf(&pi)
		out.PaymentIntentID = in.ID
		out.TransferID = in.TransferID
		out.FailureMessage = in.FailureMessage
		out.PaymentID = pi.Metadata["payment_id"]

	case payments.EventAccountUpdated:
		var a stripe.Account
		if err := json.Unmarshal(ev.Data.Raw, &a); err != nil {
			return out, fmt.Errorf("%w: account: %v", payments.ErrMalformedEvent, err)
		}
		out.AccountID = a.ID
		out.ChargesEnabled = a.ChargesEnabled
		out.PayoutsEnabled = a.PayoutsEnabled
	}
	return out, nil
}

func accountState(a *stripe.Account) payments.AccountState {
	return payments.AccountState{
		ExternalAccountID: a.ID,
		ChargesEnabled:    a.ChargesEnabled,
		PayoutsEnabled:    a.PayoutsEnabled,
		DetailsSubmitted:  a.DetailsSubmitted,
	}
}

func intentOf(pi *stripe.PaymentIntent) payments.PaymentIntent {
	out := payments.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		out.Status = payments.IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		out.Status = payments.IntentCanceled
	case stripe.PaymentIntentStatusProcessing:
		out.Status = payments.IntentProcessing
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A declined attempt drops back here with the error attached.
		if pi.LastPaymentError != nil {
			out.Status = payments.IntentFailed
		} else {
			out.Status = payments.IntentRequiresAction
		}
	default:
		out.Status = payments.IntentRequiresAction
	}
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	if pi.LatestCharge != nil && pi.LatestCharge.Transfer != nil {
		out.TransferID = pi.LatestCharge.Transfer.ID
	}
	return out
}

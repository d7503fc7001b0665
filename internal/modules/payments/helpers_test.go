package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/bradb345/t3test-sub001/internal/shared/money"
	"github.com/bradb345/t3test-sub001/internal/testutil"
)

type fakeProvider struct {
	mu sync.Mutex

	customers     int
	sessions      []CheckoutSessionRequest
	intents       []PaymentIntentRequest
	accounts      map[string]AccountState
	links         int
	intentState   map[string]PaymentIntent
	checkoutErr   error
	intentErr     error
	customerErr   error
	panicCheckout bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{accounts: map[string]AccountState{}, intentState: map[string]PaymentIntent{}}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.customerErr != nil {
		return "", f.customerErr
	}
	f.customers++
	return fmt.Sprintf("cus_%d", f.customers), nil
}

func (f *fakeProvider) CreateConnectedAccount(ctx context.Context, req CreateAccountRequest) (AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := AccountState{ExternalAccountID: "acct_" + req.LandlordID}
	f.accounts[st.ExternalAccountID] = st
	return st, nil
}

func (f *fakeProvider) GetConnectedAccount(ctx context.Context, id string) (AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.accounts[id]
	if !ok {
		return AccountState{}, errors.New("no such account")
	}
	return st, nil
}

func (f *fakeProvider) setAccount(st AccountState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[st.ExternalAccountID] = st
}

func (f *fakeProvider) CreateOnboardingLink(ctx context.Context, req OnboardingLinkRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links++
	return "https://connect.example/onboard/" + req.ExternalAccountID, nil
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicCheckout {
		panic("provider exploded")
	}
	if f.checkoutErr != nil {
		return CheckoutSession{}, f.checkoutErr
	}
	f.sessions = append(f.sessions, req)
	id := fmt.Sprintf("cs_%d", len(f.sessions))
	return CheckoutSession{ID: id, URL: "https://pay.example/" + id, ExpiresAt: req.ExpiresAt}, nil
}

func (f *fakeProvider) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.intentErr != nil {
		return PaymentIntent{}, f.intentErr
	}
	f.intents = append(f.intents, req)
	id := fmt.Sprintf("pi_%d", len(f.intents))
	pi := PaymentIntent{ID: id, ClientSecret: id + "_secret", Status: IntentRequiresAction, AmountMinor: req.AmountMinor}
	f.intentState[id] = pi
	return pi, nil
}

func (f *fakeProvider) GetPaymentIntent(ctx context.Context, id string) (PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pi, ok := f.intentState[id]
	if !ok {
		return PaymentIntent{}, errors.New("no such intent")
	}
	return pi, nil
}

func (f *fakeProvider) VerifyAndParseWebhook(headers http.Header, body []byte) (WebhookEvent, error) {
	return WebhookEvent{}, errors.New("not used")
}

func (f *fakeProvider) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type sentNotification struct {
	UserID, Type, Message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(ctx context.Context, userID, typ, message string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{userID, typ, message})
	return nil
}

func (n *recordingNotifier) all() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotification(nil), n.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := event.(TransitionEvent); ok {
		p.events = append(p.events, ev)
	}
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

const (
	tenantID   = "11111111-1111-1111-1111-111111111111"
	landlordID = "22222222-2222-2222-2222-222222222222"
	leaseID    = "33333333-3333-3333-3333-333333333333"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.OpenDB(t, &Payment{}, &ConnectedAccount{}, &Customer{}, &Lease{}, &User{}, &ProviderEvent{})
}

func seedLease(t *testing.T, db *gorm.DB) {
	t.Helper()
	first := "Terry"
	for _, row := range []any{
		&User{ID: tenantID, Email: "tenant@example.com", FirstName: &first},
		&User{ID: landlordID, Email: "landlord@example.com"},
		&Lease{ID: leaseID, LandlordID: landlordID, TenantID: tenantID, Status: "active"},
	} {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func seedAccount(t *testing.T, db *gorm.DB, status AccountStatus) ConnectedAccount {
	t.Helper()
	enabled := status == AccountComplete
	now := time.Now()
	a := ConnectedAccount{
		ID:                "44444444-4444-4444-4444-444444444444",
		LandlordID:        landlordID,
		Provider:          "fake",
		ExternalAccountID: "acct_" + landlordID,
		Status:            status,
		ChargesEnabled:    enabled,
		PayoutsEnabled:    enabled,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

type paymentOpt func(*Payment)

func withStatus(s Status) paymentOpt       { return func(p *Payment) { p.Status = s } }
func withCurrency(c string) paymentOpt     { return func(p *Payment) { p.Currency = c } }
func withNotes(js string) paymentOpt       { return func(p *Payment) { p.Notes = datatypes.JSON(js) } }
func withKind(k Kind) paymentOpt           { return func(p *Payment) { p.Kind = k } }
func withSession(id string) paymentOpt     { return func(p *Payment) { p.CheckoutSessionID = &id } }
func withIntent(id string) paymentOpt      { return func(p *Payment) { p.PaymentIntentID = &id } }
func withClaimedAt(t time.Time) paymentOpt { return func(p *Payment) { p.ClaimedAt = &t } }
func withAmount(s string) paymentOpt {
	return func(p *Payment) { p.Amount = decimal.RequireFromString(s) }
}

func seedPayment(t *testing.T, db *gorm.DB, id string, opts ...paymentOpt) Payment {
	t.Helper()
	now := time.Now()
	p := Payment{
		ID:        id,
		PayerID:   tenantID,
		LeaseID:   leaseID,
		Amount:    decimal.RequireFromString("1000.00"),
		Currency:  "USD",
		Kind:      KindRent,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, o := range opts {
		o(&p)
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return p
}

func mustGet(t *testing.T, db *gorm.DB, id string) Payment {
	t.Helper()
	p, err := NewRepo(db).Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get payment %s: %v", id, err)
	}
	return p
}

func newTestService(t *testing.T, db *gorm.DB, p Provider) *Service {
	t.Helper()
	fees, err := money.NewFeeSchedule(money.DefaultFeeBasisPoints)
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	s := NewService(db, p, CheckoutConfig{
		Fees:                fees,
		SupportedCurrencies: []string{"usd", "EUR", "JPY"},
		ClaimTTL:            DefaultClaimTTL,
		SuccessURL:          "https://app.example/success",
		CancelURL:           "https://app.example/cancel",
	})
	s.SetLogger(testutil.Logger())
	return s
}

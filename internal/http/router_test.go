package http

import (
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bradb345/t3test-sub001/internal/http/middleware"
	"github.com/bradb345/t3test-sub001/internal/modules/notifications"
	"github.com/bradb345/t3test-sub001/internal/modules/payments"
	"github.com/bradb345/t3test-sub001/internal/modules/payments/mockprovider"
	"github.com/bradb345/t3test-sub001/internal/shared/money"
	"github.com/bradb345/t3test-sub001/internal/testutil"
)

const (
	tenantID   = "11111111-1111-1111-1111-111111111111"
	landlordID = "22222222-2222-2222-2222-222222222222"
	leaseID    = "33333333-3333-3333-3333-333333333333"
	paymentID  = "55555555-5555-5555-5555-555555555555"
	adminID    = "66666666-6666-6666-6666-666666666666"

	webhookSecret = "whsec_router_test"
)

var testAuth = middleware.AuthConfig{Secret: []byte("router-test-secret"), Issuer: "rentals-test"}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 42 * time.Second, nil
}

type fixture struct {
	db       *gorm.DB
	provider *mockprovider.Provider
	router   *gin.Engine
}

func newFixture(t *testing.T, limiter middleware.Limiter) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t,
		&payments.Payment{}, &payments.ConnectedAccount{}, &payments.Customer{},
		&payments.Lease{}, &payments.User{}, &payments.ProviderEvent{},
		&notifications.Notification{},
	)
	provider := mockprovider.New(mockprovider.Config{WebhookSecret: webhookSecret, AutoOnboard: true})

	fees, err := money.NewFeeSchedule(money.DefaultFeeBasisPoints)
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	paySvc := payments.NewService(db, provider, payments.CheckoutConfig{
		Fees:                fees,
		SupportedCurrencies: []string{"USD"},
		SuccessURL:          "https://app.example/success",
		CancelURL:           "https://app.example/cancel",
	})
	paySvc.SetLogger(testutil.Logger())

	notes := notifications.NewService(db)
	notes.SetLogger(testutil.Logger())

	wh := payments.NewWebhookService(db, provider, notes)
	wh.SetLogger(testutil.Logger())

	ob := payments.NewOnboardingService(db, provider, payments.OnboardingConfig{
		ReturnURL:  "https://app.example/onboarding/return",
		RefreshURL: "https://app.example/onboarding/refresh",
	})
	ob.SetLogger(testutil.Logger())

	router := NewRouter(Deps{
		Logger:        testutil.Logger(),
		DB:            db,
		Auth:          testAuth,
		Payments:      paySvc,
		Webhooks:      wh,
		Onboarding:    ob,
		Notifications: notes,
		Providers:     []payments.Provider{provider},
		Limiter:       limiter,
	})
	return &fixture{db: db, provider: provider, router: router}
}

func (f *fixture) seedPayable(t *testing.T) {
	t.Helper()
	now := time.Now()
	acct := payments.ConnectedAccount{
		ID:                "44444444-4444-4444-4444-444444444444",
		LandlordID:        landlordID,
		Provider:          "mock",
		ExternalAccountID: "acct_router",
		Status:            payments.AccountComplete,
		ChargesEnabled:    true,
		PayoutsEnabled:    true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	f.provider.SetAccountState(payments.AccountState{ExternalAccountID: "acct_router", ChargesEnabled: true, PayoutsEnabled: true})
	for _, row := range []any{
		&payments.User{ID: tenantID, Email: "tenant@example.com"},
		&payments.User{ID: landlordID, Email: "landlord@example.com"},
		&payments.Lease{ID: leaseID, LandlordID: landlordID, TenantID: tenantID, Status: "active"},
		&acct,
		&payments.Payment{
			ID: paymentID, PayerID: tenantID, LeaseID: leaseID,
			Amount: decimal.RequireFromString("1000.00"), Currency: "USD",
			Kind: payments.KindRent, Status: payments.StatusPending,
			CreatedAt: now, UpdatedAt: now,
		},
	} {
		if err := f.db.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func token(t *testing.T, id, role string) string {
	t.Helper()
	tok, err := middleware.IssueToken(testAuth, id, role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) webhook(t *testing.T, provider string, ev mockprovider.Event, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(nethttp.MethodPost, "/webhooks/"+provider, bytes.NewReader(body))
	sig := mockprovider.Sign([]byte("wrong"), time.Now(), body)
	if sign {
		sig = mockprovider.Sign([]byte(webhookSecret), time.Now(), body)
	}
	req.Header.Set(mockprovider.SignatureHeader, sig)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, nethttp.MethodGet, "/healthz", "", nil)
	if w.Code != nethttp.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get(middleware.HeaderRequestID) == "" {
		t.Fatalf("missing request id header")
	}
}

func TestCheckoutRequiresTenant(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPayable(t)
	body := map[string]string{"payment_id": paymentID}

	if w := f.do(t, nethttp.MethodPost, "/api/payments/checkout", "", body); w.Code != nethttp.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", w.Code)
	}
	if w := f.do(t, nethttp.MethodPost, "/api/payments/checkout", "not-a-jwt", body); w.Code != nethttp.StatusUnauthorized {
		t.Fatalf("garbage token status = %d", w.Code)
	}
	if w := f.do(t, nethttp.MethodPost, "/api/payments/checkout", token(t, landlordID, middleware.RoleLandlord), body); w.Code != nethttp.StatusForbidden {
		t.Fatalf("landlord status = %d", w.Code)
	}
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, nethttp.MethodPost, "/api/payments/checkout", token(t, tenantID, middleware.RoleTenant),
		map[string]string{"mode": "wire"})
	if w.Code != nethttp.StatusBadRequest {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	fields, _ := out["fields"].(map[string]any)
	if fields["payment_id"] == nil || fields["mode"] == nil {
		t.Fatalf("fields = %v", out["fields"])
	}
}

func TestCheckoutThenWebhookCompletes(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPayable(t)
	tenant := token(t, tenantID, middleware.RoleTenant)

	w := f.do(t, nethttp.MethodPost, "/api/payments/checkout", tenant, map[string]string{"payment_id": paymentID})
	if w.Code != nethttp.StatusOK {
		t.Fatalf("checkout status = %d body=%s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["checkout_url"] == "" || out["checkout_url"] == nil {
		t.Fatalf("no checkout url: %v", out)
	}
	if out["platform_fee"].(float64) != 3000 || out["landlord_payout"].(float64) != 97000 {
		t.Fatalf("split = %v / %v", out["platform_fee"], out["landlord_payout"])
	}

	if w := f.do(t, nethttp.MethodPost, "/api/payments/checkout", tenant, map[string]string{"payment_id": paymentID}); w.Code != nethttp.StatusConflict {
		t.Fatalf("second checkout status = %d", w.Code)
	}

	var p payments.Payment
	if err := f.db.First(&p, "id = ?", paymentID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.CheckoutSessionID == nil {
		t.Fatalf("session id not saved")
	}

	ev := mockprovider.Event{ID: "evt_router_1", Type: string(payments.EventCheckoutCompleted), Data: mockprovider.EventData{
		CheckoutSessionID: *p.CheckoutSessionID,
		PaymentIntentID:   "pi_router_1",
		PaymentStatus:     "paid",
	}}
	if w := f.webhook(t, "mock", ev, true); w.Code != nethttp.StatusOK {
		t.Fatalf("webhook status = %d body=%s", w.Code, w.Body.String())
	}
	if w := f.webhook(t, "mock", ev, true); w.Code != nethttp.StatusOK {
		t.Fatalf("duplicate webhook status = %d", w.Code)
	}

	w = f.do(t, nethttp.MethodGet, "/api/payments/"+paymentID, tenant, nil)
	if w.Code != nethttp.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if got := decode(t, w)["status"]; got != string(payments.StatusCompleted) {
		t.Fatalf("status = %v", got)
	}

	w = f.do(t, nethttp.MethodGet, "/api/notifications", tenant, nil)
	if w.Code != nethttp.StatusOK {
		t.Fatalf("notifications status = %d", w.Code)
	}
	feed := decode(t, w)
	items, _ := feed["items"].([]any)
	if len(items) != 1 || feed["unread"].(float64) != 1 {
		t.Fatalf("feed = %v", feed)
	}
	id := items[0].(map[string]any)["id"].(string)

	if w := f.do(t, nethttp.MethodPost, "/api/notifications/"+id+"/read", tenant, nil); w.Code != nethttp.StatusNoContent {
		t.Fatalf("mark read status = %d", w.Code)
	}
	if w := f.do(t, nethttp.MethodPost, "/api/notifications/"+id+"/read", token(t, landlordID, middleware.RoleLandlord), nil); w.Code != nethttp.StatusNotFound {
		t.Fatalf("foreign mark read status = %d", w.Code)
	}
}

func TestGetPaymentOfAnotherPayer(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPayable(t)
	w := f.do(t, nethttp.MethodGet, "/api/payments/"+paymentID, token(t, landlordID, middleware.RoleLandlord), nil)
	if w.Code != nethttp.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestWebhookRejections(t *testing.T) {
	f := newFixture(t, nil)
	ev := mockprovider.Event{ID: "evt_x", Type: string(payments.EventCheckoutExpired)}

	if w := f.webhook(t, "mock", ev, false); w.Code != nethttp.StatusBadRequest {
		t.Fatalf("bad signature status = %d", w.Code)
	}
	if w := f.webhook(t, "paypal", ev, true); w.Code != nethttp.StatusNotFound {
		t.Fatalf("unknown provider status = %d", w.Code)
	}
	if w := f.webhook(t, "mock", mockprovider.Event{Type: "account.updated"}, true); w.Code != nethttp.StatusBadRequest {
		t.Fatalf("malformed status = %d", w.Code)
	}
}

func TestCheckoutRateLimited(t *testing.T) {
	f := newFixture(t, denyLimiter{})
	f.seedPayable(t)
	w := f.do(t, nethttp.MethodPost, "/api/payments/checkout", token(t, tenantID, middleware.RoleTenant),
		map[string]string{"payment_id": paymentID})
	if w.Code != nethttp.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "42" {
		t.Fatalf("Retry-After = %q", got)
	}
}

func TestAdminSync(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPayable(t)

	if w := f.do(t, nethttp.MethodPost, "/api/admin/payments/"+paymentID+"/sync", token(t, tenantID, middleware.RoleTenant), nil); w.Code != nethttp.StatusForbidden {
		t.Fatalf("tenant status = %d", w.Code)
	}
	w := f.do(t, nethttp.MethodPost, "/api/admin/payments/"+paymentID+"/sync", token(t, adminID, middleware.RoleAdmin), nil)
	if w.Code != nethttp.StatusUnprocessableEntity {
		t.Fatalf("no-reference status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestLandlordOnboarding(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.db.Create(&payments.User{ID: landlordID, Email: "landlord@example.com"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	landlord := token(t, landlordID, middleware.RoleLandlord)

	w := f.do(t, nethttp.MethodGet, "/api/landlord/onboarding", landlord, nil)
	if w.Code != nethttp.StatusOK || decode(t, w)["status"] != string(payments.AccountNone) {
		t.Fatalf("initial status: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, nethttp.MethodPost, "/api/landlord/onboarding", landlord, nil)
	if w.Code != nethttp.StatusOK {
		t.Fatalf("start status = %d body=%s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["complete"] != false || out["url"] == nil {
		t.Fatalf("start = %v", out)
	}

	// the mock completes accounts once a link was handed out
	w = f.do(t, nethttp.MethodGet, "/api/landlord/onboarding", landlord, nil)
	if got := decode(t, w)["status"]; got != string(payments.AccountComplete) {
		t.Fatalf("status after link = %v", got)
	}
}

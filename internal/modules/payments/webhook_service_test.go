package payments

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bradb345/t3test-sub001/internal/testutil"
)

type memArchive struct {
	keys map[string][]byte
	err  error
}

func (a *memArchive) Archive(ctx context.Context, provider, eventID string, body []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if a.keys == nil {
		a.keys = map[string][]byte{}
	}
	key := provider + "/" + eventID + ".json"
	a.keys[key] = body
	return key, nil
}

type webhookFixture struct {
	svc      *WebhookService
	notifier *recordingNotifier
	events   *recordingPublisher
	provider *fakeProvider
}

func newWebhookFixture(t *testing.T) (*webhookFixture, func(id string, opts ...paymentOpt) Payment) {
	t.Helper()
	db := openDB(t)
	seedLease(t, db)
	fx := &webhookFixture{
		notifier: &recordingNotifier{},
		events:   &recordingPublisher{},
		provider: newFakeProvider(),
	}
	fx.svc = NewWebhookService(db, fx.provider, fx.notifier)
	fx.svc.SetEvents(fx.events)
	fx.svc.SetLogger(testutil.Logger())
	return fx, func(id string, opts ...paymentOpt) Payment { return seedPayment(t, db, id, opts...) }
}

func (fx *webhookFixture) handle(t *testing.T, ev WebhookEvent) {
	t.Helper()
	if err := fx.svc.Handle(context.Background(), "fake", ev, []byte(`{"id":"`+ev.EventID+`"}`)); err != nil {
		t.Fatalf("handle %s: %v", ev.EventID, err)
	}
}

func (fx *webhookFixture) payment(t *testing.T, id string) Payment {
	t.Helper()
	return mustGet(t, fx.svc.db, id)
}

func notificationTypes(ns []sentNotification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.UserID + ":" + n.Type
	}
	sort.Strings(out)
	return out
}

func TestCheckoutCompletedNotifiesBothParties(t *testing.T) {
	fx, seed := newWebhookFixture(t)
	seed("pay-1", withStatus(StatusProcessing), withSession("cs_1"),
		func(p *Payment) { p.LandlordPayout = decimal.NewNullDecimal(decimal.RequireFromString("970.00")) })

	fx.handle(t, WebhookEvent{EventID: "evt_1", Type: EventCheckoutCompleted, CheckoutSessionID: "cs_1", PaymentIntentID: "pi_1", PaymentStatus: "paid"})

	got := fx.payment(t, "pay-1")
	if got.Status != StatusCompleted || got.PaidAt == nil {
		t.Fatalf("not completed: %+v", got)
	}
	if got.PaymentIntentID == nil || *got.PaymentIntentID != "pi_1" {
		t.Fatalf("intent id not recorded: %v", got.PaymentIntentID)
	}

	want := []string{landlordID + ":" + NotifyPaymentReceived, tenantID + ":" + NotifyPaymentCompleted}
	sort.Strings(want)
	if got := notificationTypes(fx.notifier.all()); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for _, n := range fx.notifier.all() {
		if n.Type == NotifyPaymentReceived && !strings.Contains(n.Message, "$970.00") {
			t.Fatalf("payee message missing payout: %q", n.Message)
		}
	}
	if types := fx.events.types(); len(types) != 1 || types[0] != "payment.completed" {
		t.Fatalf("events = %v", types)
	}
}

func TestCompletionOrderIndependence(t *testing.T) {
	sessionDone := WebhookEvent{EventID: "evt_cs", Type: EventCheckoutCompleted, CheckoutSessionID: "cs_1", PaymentIntentID: "pi_1", PaymentStatus: "paid", PaymentID: "pay-1"}
	intentDone := WebhookEvent{EventID: "evt_pi", Type: EventPaymentIntentSucceeded, PaymentIntentID: "pi_1", TransferID: "tr_1", PaymentID: "pay-1"}

	for name, order := range map[string][]WebhookEvent{
		"session first": {sessionDone, intentDone},
		"intent first":  {intentDone, sessionDone},
	} {
		t.Run(name, func(t *testing.T) {
			fx, seed := newWebhookFixture(t)
			seed("pay-1", withStatus(StatusProcessing), withSession("cs_1"))

			for _, ev := range order {
				fx.handle(t, ev)
			}

			got := fx.payment(t, "pay-1")
			if got.Status != StatusCompleted {
				t.Fatalf("status = %s", got.Status)
			}
			if got.PaymentIntentID == nil || *got.PaymentIntentID != "pi_1" || got.TransferID == nil || *got.TransferID != "tr_1" {
				t.Fatalf("refs = %v/%v", got.PaymentIntentID, got.TransferID)
			}
			if n := len(fx.notifier.all()); n != 2 {
				t.Fatalf("expected one notification pair, got %d", n)
			}
			if n := len(fx.events.types()); n != 1 {
				t.Fatalf("expected one transition event, got %d", n)
			}
		})
	}
}

func TestDuplicateDeliveryIsNoop(t *testing.T) {
	fx, seed := newWebhookFixture(t)
	seed("pay-1", withStatus(StatusProcessing), withIntent("pi_1"))
	archive := &memArchive{}
	fx.svc.SetArchive(archive)

	ev := WebhookEvent{EventID: "evt_dup", Type: EventPaymentIntentPaymentFailed, PaymentIntentID: "pi_1", FailureMessage: "declined"}
	fx.handle(t, ev)
	fx.handle(t, ev)

	if n := len(fx.notifier.all()); n != 1 {
		t.Fatalf("expected a single notification, got %d", n)
	}
	var count int64
	fx.svc.db.Model(&ProviderEvent{}).Where("event_id = ?", "evt_dup").Count(&count)
	if count != 1 {
		t.Fatalf("provider_events rows = %d", count)
	}
	var pe ProviderEvent
	fx.svc.db.First(&pe, "event_id = ?", "evt_dup")
	if pe.ArchiveKey == nil || *pe.ArchiveKey != "fake/evt_dup.json" || pe.ProcessedAt == nil {
		t.Fatalf("provider event not recorded: %+v", pe)
	}
}

func TestArchiveFailureStoresPayloadInline(t *testing.T) {
	fx, _ := newWebhookFixture(t)
	fx.svc.SetArchive(&memArchive{err: errors.New("bucket gone")})

	fx.handle(t, WebhookEvent{EventID: "evt_x", Type: "customer.created"})

	var pe ProviderEvent
	if err := fx.svc.db.First(&pe, "event_id = ?", "evt_x").Error; err != nil {
		t.Fatalf("event not stored: %v", err)
	}
	if pe.ArchiveKey != nil || len(pe.PayloadJSON) == 0 {
		t.Fatalf("expected inline payload, got %+v", pe)
	}
}

func TestPaymentFailedNotifiesPayerOnly(t *testing.T) {
	fx, seed := newWebhookFixture(t)
	seed("pay-1", withStatus(StatusProcessing), withIntent("pi_1"))

	fx.handle(t, WebhookEvent{EventID: "evt_f", Type: EventPaymentIntentPaymentFailed, PaymentIntentID: "pi_1", FailureMessage: "Your card was declined."})

	got := fx.payment(t, "pay-1")
	if got.Status != StatusFailed || got.FailureReason == nil || *got.FailureReason != "Your card was declined." {
		t.Fatalf("unexpected row %+v", got)
	}
	ns := fx.notifier.all()
	if len(ns) != 1 || ns[0].UserID != tenantID || ns[0].Type != NotifyPaymentFailed {
		t.Fatalf("notifications = %+v", ns)
	}
}

func TestFailureAfterCompletionIgnored(t *testing.T) {
	fx, seed := newWebhookFixture(t)
	seed("pay-1", withStatus(StatusCompleted), withIntent("pi_1"))

	fx.handle(t, WebhookEvent{EventID: "evt_late", Type: EventPaymentIntentPaymentFailed, PaymentIntentID: "pi_1"})

	if got := fx.payment(t, "pay-1"); got.Status != StatusCompleted {
		t.Fatalf("completed payment regressed to %s", got.Status)
	}
	if n := len(fx.notifier.all()); n != 0 {
		t.Fatalf("unexpected notifications: %d", n)
	}
}

func TestCheckoutExpired(t *testing.T) {
	fx, seed := newWebhookFixture(t)
	seed("pay-1", withStatus(StatusProcessing), withSession("cs_new"))
	seed("pay-2", withStatus(StatusCompleted), withSession("cs_paid"))

	fx.handle(t, WebhookEvent{EventID: "evt_old", Type: EventCheckoutExpired, CheckoutSessionID: "cs_old"})
	if got := fx.payment(t, "pay-1"); got.Status != StatusProcessing {
		t.Fatalf("superseded session reset the claim: %s", got.Status)
	}

	fx.handle(t, WebhookEvent{EventID: "evt_paid", Type: EventCheckoutExpired, CheckoutSessionID: "cs_paid"})
	if got := fx.payment(t, "pay-2"); got.Status != StatusCompleted {
		t.Fatalf("completed payment reset: %s", got.Status)
	}

	fx.handle(t, WebhookEvent{EventID: "evt_new", Type: EventCheckoutExpired, CheckoutSessionID: "cs_new"})
	got := fx.payment(t, "pay-1")
	if got.Status != StatusPending || got.CheckoutSessionID != nil {
		t.Fatalf("expired session not reset: %+v", got)
	}
	if n := len(fx.notifier.all()); n != 0 {
		t.Fatalf("expiry must not notify, got %d", n)
	}
}

func TestUnpaidCheckoutOnlyRecordsIntent(t *testing.T) {
	fx, seed := newWebhookFixture(t)
	seed("pay-1", withStatus(StatusProcessing), withSession("cs_1"))

	fx.handle(t, WebhookEvent{EventID: "evt_1", Type: EventCheckoutCompleted, CheckoutSessionID: "cs_1", PaymentIntentID: "pi_ach", PaymentStatus: "unpaid"})
	got := fx.payment(t, "pay-1")
	if got.Status != StatusProcessing || got.PaymentIntentID == nil || *got.PaymentIntentID != "pi_ach" {
		t.Fatalf("unexpected row %+v", got)
	}

	fx.handle(t, WebhookEvent{EventID: "evt_2", Type: EventCheckoutAsyncSucceeded, CheckoutSessionID: "cs_1", PaymentIntentID: "pi_ach", PaymentStatus: "paid"})
	if got := fx.payment(t, "pay-1"); got.Status != StatusCompleted {
		t.Fatalf("async success not applied: %s", got.Status)
	}
}

func TestIntentSucceededFetchesMissingTransfer(t *testing.T) {
	fx, seed := newWebhookFixture(t)
	seed("pay-1", withStatus(StatusProcessing), withIntent("pi_1"))
	fx.provider.intentState["pi_1"] = PaymentIntent{ID: "pi_1", Status: IntentSucceeded, TransferID: "tr_1"}

	fx.handle(t, WebhookEvent{EventID: "evt_1", Type: EventPaymentIntentSucceeded, PaymentIntentID: "pi_1", PaymentID: "pay-1"})

	got := fx.payment(t, "pay-1")
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.TransferID == nil || *got.TransferID != "tr_1" {
		t.Fatalf("transfer id = %v, want tr_1", got.TransferID)
	}
}

func TestMetadataFallbackAndMiss(t *testing.T) {
	fx, seed := newWebhookFixture(t)
	seed("pay-1", withStatus(StatusProcessing))

	fx.handle(t, WebhookEvent{EventID: "evt_1", Type: EventPaymentIntentSucceeded, PaymentIntentID: "pi_unknown", PaymentID: "pay-1"})
	if got := fx.payment(t, "pay-1"); got.Status != StatusCompleted {
		t.Fatalf("metadata fallback not used: %s", got.Status)
	}

	// Nothing matches: success without side effects.
	fx.handle(t, WebhookEvent{EventID: "evt_2", Type: EventPaymentIntentSucceeded, PaymentIntentID: "pi_nowhere"})
	fx.handle(t, WebhookEvent{EventID: "evt_3", Type: "invoice.paid"})
	if n := len(fx.notifier.all()); n != 2 {
		t.Fatalf("notifications = %d", n)
	}
}

func TestAccountUpdatedFlipsStatus(t *testing.T) {
	fx, _ := newWebhookFixture(t)
	acct := seedAccount(t, fx.svc.db, AccountPending)

	fx.handle(t, WebhookEvent{EventID: "evt_1", Type: EventAccountUpdated, AccountID: acct.ExternalAccountID, ChargesEnabled: true, PayoutsEnabled: true})
	a, _ := NewRepo(fx.svc.db).FindAccountByLandlord(context.Background(), landlordID)
	if a.Status != AccountComplete {
		t.Fatalf("status = %s, want complete", a.Status)
	}

	fx.handle(t, WebhookEvent{EventID: "evt_2", Type: EventAccountUpdated, AccountID: acct.ExternalAccountID, ChargesEnabled: true, PayoutsEnabled: false})
	a, _ = NewRepo(fx.svc.db).FindAccountByLandlord(context.Background(), landlordID)
	if a.Status != AccountPending || a.PayoutsEnabled {
		t.Fatalf("status = %s, want pending", a.Status)
	}

	fx.handle(t, WebhookEvent{EventID: "evt_3", Type: EventAccountUpdated, AccountID: "acct_unknown", ChargesEnabled: true, PayoutsEnabled: true})
}

func TestHandleRejectsMalformed(t *testing.T) {
	fx, _ := newWebhookFixture(t)
	err := fx.svc.Handle(context.Background(), "fake", WebhookEvent{Type: EventAccountUpdated}, nil)
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
}

func TestSyncPayment(t *testing.T) {
	fx, seed := newWebhookFixture(t)
	seed("pay-1", withStatus(StatusProcessing), withIntent("pi_1"))
	seed("pay-2")
	fx.provider.intentState["pi_1"] = PaymentIntent{ID: "pi_1", Status: IntentRequiresAction}
	ctx := context.Background()

	got, err := fx.svc.SyncPayment(ctx, "pay-1")
	if err != nil || got.Status != StatusProcessing {
		t.Fatalf("non-terminal sync: %s %v", got.Status, err)
	}

	fx.provider.intentState["pi_1"] = PaymentIntent{ID: "pi_1", Status: IntentSucceeded, TransferID: "tr_9"}
	got, err = fx.svc.SyncPayment(ctx, "pay-1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got.Status != StatusCompleted || got.TransferID == nil || *got.TransferID != "tr_9" {
		t.Fatalf("sync did not complete: %+v", got)
	}
	if n := len(fx.notifier.all()); n != 2 {
		t.Fatalf("notifications = %d", n)
	}

	if _, err := fx.svc.SyncPayment(ctx, "pay-2"); !errors.Is(err, ErrNoProviderReference) {
		t.Fatalf("expected ErrNoProviderReference, got %v", err)
	}
	if _, err := fx.svc.SyncPayment(ctx, "missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

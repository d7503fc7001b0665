package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bradb345/t3test-sub001/internal/shared/money"
)

// ProviderEvent records every delivery we accepted, keyed by the provider's
// event id so redeliveries are dropped.
type ProviderEvent struct {
	ID          string         `gorm:"type:char(36);primaryKey"`
	Provider    string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_provider_events_provider_event,priority:1"`
	EventID     string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_provider_events_provider_event,priority:2"`
	EventType   string         `gorm:"type:varchar(64);not null"`
	PayloadJSON datatypes.JSON `gorm:"type:json"`
	ArchiveKey  *string        `gorm:"type:varchar(512)"`

	ReceivedAt  time.Time `gorm:"not null"`
	ProcessedAt *time.Time
}

func (ProviderEvent) TableName() string { return "provider_events" }

// Notifier delivers in-app notifications to users.
type Notifier interface {
	Notify(ctx context.Context, userID, typ, message string, data map[string]any) error
}

// PayloadArchive stores raw webhook bodies outside the database.
type PayloadArchive interface {
	Archive(ctx context.Context, provider, eventID string, body []byte) (string, error)
}

const (
	NotifyPaymentCompleted = "payment_completed"
	NotifyPaymentReceived  = "payment_received"
	NotifyPaymentFailed    = "payment_failed"
)

type notification struct {
	userID  string
	typ     string
	message string
	data    map[string]any
}

// effects are collected inside the transaction and dispatched after commit.
type effects struct {
	notifications []notification
	transitions   []TransitionEvent
}

// WebhookService reconciles provider notifications into payment records.
type WebhookService struct {
	db       *gorm.DB
	provider Provider
	notifier Notifier
	events   EventPublisher
	archive  PayloadArchive
	logger   *slog.Logger
	now      func() time.Time
}

func NewWebhookService(db *gorm.DB, p Provider, n Notifier) *WebhookService {
	return &WebhookService{
		db:       db,
		provider: p,
		notifier: n,
		events:   noopPublisher{},
		logger:   slog.Default(),
		now:      time.Now,
	}
}

func (s *WebhookService) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *WebhookService) SetEvents(p EventPublisher) {
	s.events = p
}

func (s *WebhookService) SetArchive(a PayloadArchive) {
	s.archive = a
}

// Handle applies a verified event exactly once. A redelivered event id is a
// no-op. Only persistence failures are returned so the provider retries.
func (s *WebhookService) Handle(ctx context.Context, providerName string, ev WebhookEvent, rawBody []byte) error {
	if ev.EventID == "" || ev.Type == "" {
		return fmt.Errorf("%w: missing event id or type", ErrMalformedEvent)
	}

	ev = s.withTransfer(ctx, ev)
	archiveKey := s.archivePayload(ctx, providerName, ev, rawBody)

	var fx effects
	duplicate := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pe := ProviderEvent{
			ID:         uuid.NewString(),
			Provider:   providerName,
			EventID:    ev.EventID,
			EventType:  string(ev.Type),
			ReceivedAt: s.now(),
		}
		if archiveKey == nil && len(rawBody) > 0 {
			pe.PayloadJSON = datatypes.JSON(rawBody)
		}
		pe.ArchiveKey = archiveKey

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&pe)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			duplicate = true
			return nil
		}

		if err := s.apply(ctx, NewRepo(tx), ev, &fx); err != nil {
			return err
		}

		return tx.Model(&ProviderEvent{}).
			Where("id = ?", pe.ID).
			Update("processed_at", s.now()).Error
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "webhook event failed", "provider", providerName, "event_id", ev.EventID, "type", ev.Type, "err", err)
		return err
	}
	if duplicate {
		s.logger.InfoContext(ctx, "webhook event deduplicated", "provider", providerName, "event_id", ev.EventID, "type", ev.Type)
		return nil
	}

	s.dispatch(ctx, fx)
	s.logger.InfoContext(ctx, "webhook event processed", "provider", providerName, "event_id", ev.EventID, "type", ev.Type)
	return nil
}

// SyncPayment pulls the payment intent from the provider and applies its
// terminal state, for deliveries that never arrived.
func (s *WebhookService) SyncPayment(ctx context.Context, paymentID string) (Payment, error) {
	repo := NewRepo(s.db)
	p, err := repo.Get(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if p.PaymentIntentID == nil || *p.PaymentIntentID == "" {
		return p, ErrNoProviderReference
	}

	pi, err := s.provider.GetPaymentIntent(ctx, *p.PaymentIntentID)
	if err != nil {
		return p, providerErr("get payment intent", err)
	}

	ev := WebhookEvent{
		EventID:         "sync:" + pi.ID,
		PaymentIntentID: pi.ID,
		TransferID:      pi.TransferID,
		FailureMessage:  pi.FailureMessage,
		PaymentID:       p.ID,
	}
	switch pi.Status {
	case IntentSucceeded:
		ev.Type = EventPaymentIntentSucceeded
	case IntentFailed, IntentCanceled:
		ev.Type = EventPaymentIntentPaymentFailed
	default:
		s.logger.InfoContext(ctx, "payment sync: intent not terminal", "payment_id", p.ID, "intent_status", pi.Status)
		return p, nil
	}

	var fx effects
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.apply(ctx, NewRepo(tx), ev, &fx)
	}); err != nil {
		return p, err
	}
	s.dispatch(ctx, fx)

	return repo.Get(ctx, p.ID)
}

func (s *WebhookService) apply(ctx context.Context, r *Repo, ev WebhookEvent, fx *effects) error {
	switch ev.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded:
		return s.onCheckoutCompleted(ctx, r, ev, fx)
	case EventCheckoutExpired:
		return s.onCheckoutExpired(ctx, r, ev)
	case EventPaymentIntentSucceeded:
		return s.onIntentSucceeded(ctx, r, ev, fx)
	case EventPaymentIntentPaymentFailed, EventCheckoutAsyncFailed:
		return s.onPaymentFailed(ctx, r, ev, fx)
	case EventAccountUpdated:
		return s.onAccountUpdated(ctx, r, ev)
	default:
		s.logger.InfoContext(ctx, "webhook event type ignored", "event_id", ev.EventID, "type", ev.Type)
		return nil
	}
}

func (s *WebhookService) onCheckoutCompleted(ctx context.Context, r *Repo, ev WebhookEvent, fx *effects) error {
	p, ok, err := s.locate(ctx, r, ev, r.FindByCheckoutSession, ev.CheckoutSessionID)
	if err != nil || !ok {
		return err
	}

	// Delayed payment methods complete the session before funds arrive.
	if ev.PaymentStatus == "unpaid" {
		s.logger.InfoContext(ctx, "checkout completed awaiting async payment", "payment_id", p.ID, "event_id", ev.EventID)
		return r.BackfillRefs(ctx, p.ID, ev.PaymentIntentID, "")
	}

	return s.complete(ctx, r, p, ev, fx)
}

// withTransfer fills the transfer id on intent success events whose payload
// carries the charge unexpanded. A failed lookup leaves it for SyncPayment.
func (s *WebhookService) withTransfer(ctx context.Context, ev WebhookEvent) WebhookEvent {
	if ev.Type != EventPaymentIntentSucceeded || ev.TransferID != "" || ev.PaymentIntentID == "" || s.provider == nil {
		return ev
	}
	pi, err := s.provider.GetPaymentIntent(ctx, ev.PaymentIntentID)
	if err != nil {
		s.logger.WarnContext(ctx, "transfer lookup failed", "event_id", ev.EventID, "payment_intent_id", ev.PaymentIntentID, "err", err)
		return ev
	}
	ev.TransferID = pi.TransferID
	return ev
}

func (s *WebhookService) onIntentSucceeded(ctx context.Context, r *Repo, ev WebhookEvent, fx *effects) error {
	p, ok, err := s.locate(ctx, r, ev, r.FindByPaymentIntent, ev.PaymentIntentID)
	if err != nil || !ok {
		return err
	}
	if p.Status == StatusCompleted {
		return r.BackfillRefs(ctx, p.ID, ev.PaymentIntentID, ev.TransferID)
	}
	return s.complete(ctx, r, p, ev, fx)
}

func (s *WebhookService) complete(ctx context.Context, r *Repo, p Payment, ev WebhookEvent, fx *effects) error {
	won, err := r.MarkCompleted(ctx, p.ID, Completion{
		PaidAt:          s.now(),
		PaymentIntentID: ev.PaymentIntentID,
		TransferID:      ev.TransferID,
	})
	if err != nil {
		return err
	}
	if !won {
		return r.BackfillRefs(ctx, p.ID, ev.PaymentIntentID, ev.TransferID)
	}

	s.logger.InfoContext(ctx, "payment completed", "payment_id", p.ID, "event_id", ev.EventID, "type", ev.Type)
	fx.transitions = append(fx.transitions, transitionOf(p, StatusCompleted, ""))

	amount := displayAmount(p.Amount, p.Currency)
	fx.notifications = append(fx.notifications, notification{
		userID:  p.PayerID,
		typ:     NotifyPaymentCompleted,
		message: fmt.Sprintf("Your payment of %s was received.", amount),
		data:    map[string]any{"payment_id": p.ID, "lease_id": p.LeaseID, "amount": p.Amount.StringFixed(2), "currency": p.Currency},
	})

	lease, err := r.GetLease(ctx, p.LeaseID)
	if errors.Is(err, ErrLeaseNotFound) {
		s.logger.WarnContext(ctx, "completed payment has no lease; payee not notified", "payment_id", p.ID, "lease_id", p.LeaseID)
		return nil
	}
	if err != nil {
		return err
	}
	payout := amount
	if p.LandlordPayout.Valid {
		payout = displayAmount(p.LandlordPayout.Decimal, p.Currency)
	}
	fx.notifications = append(fx.notifications, notification{
		userID:  lease.LandlordID,
		typ:     NotifyPaymentReceived,
		message: fmt.Sprintf("You received a payment of %s (payout %s).", amount, payout),
		data:    map[string]any{"payment_id": p.ID, "lease_id": p.LeaseID, "amount": p.Amount.StringFixed(2), "currency": p.Currency},
	})
	return nil
}

func (s *WebhookService) onCheckoutExpired(ctx context.Context, r *Repo, ev WebhookEvent) error {
	if ev.CheckoutSessionID == "" {
		s.logger.WarnContext(ctx, "reconciliation miss", "event_id", ev.EventID, "type", ev.Type, "reason", "no session id")
		return nil
	}
	p, err := r.FindByCheckoutSession(ctx, ev.CheckoutSessionID)
	if errors.Is(err, ErrPaymentNotFound) {
		// Also the case when a newer claim replaced the session.
		s.logger.InfoContext(ctx, "reconciliation miss", "event_id", ev.EventID, "type", ev.Type, "checkout_session_id", ev.CheckoutSessionID)
		return nil
	}
	if err != nil {
		return err
	}

	reset, err := r.ResetExpired(ctx, p.ID, ev.CheckoutSessionID)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "checkout session expired", "payment_id", p.ID, "reset", reset)
	return nil
}

func (s *WebhookService) onPaymentFailed(ctx context.Context, r *Repo, ev WebhookEvent, fx *effects) error {
	find, ref := r.FindByPaymentIntent, ev.PaymentIntentID
	if ref == "" {
		find, ref = r.FindByCheckoutSession, ev.CheckoutSessionID
	}
	p, ok, err := s.locate(ctx, r, ev, find, ref)
	if err != nil || !ok {
		return err
	}

	reason := ev.FailureMessage
	if reason == "" {
		reason = "payment failed"
	}
	failed, err := r.MarkFailed(ctx, p.ID, reason)
	if err != nil {
		return err
	}
	if !failed {
		return r.BackfillRefs(ctx, p.ID, ev.PaymentIntentID, "")
	}
	if err := r.BackfillRefs(ctx, p.ID, ev.PaymentIntentID, ""); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "payment failed", "payment_id", p.ID, "event_id", ev.EventID, "reason", reason)
	fx.transitions = append(fx.transitions, transitionOf(p, StatusFailed, reason))
	fx.notifications = append(fx.notifications, notification{
		userID:  p.PayerID,
		typ:     NotifyPaymentFailed,
		message: fmt.Sprintf("Your payment of %s failed: %s", displayAmount(p.Amount, p.Currency), reason),
		data:    map[string]any{"payment_id": p.ID, "lease_id": p.LeaseID, "reason": reason},
	})
	return nil
}

func (s *WebhookService) onAccountUpdated(ctx context.Context, r *Repo, ev WebhookEvent) error {
	acct, err := r.FindAccountByExternalID(ctx, ev.AccountID)
	if err != nil {
		return err
	}
	if acct == nil {
		s.logger.InfoContext(ctx, "reconciliation miss", "event_id", ev.EventID, "type", ev.Type, "account_id", ev.AccountID)
		return nil
	}

	updated, err := r.UpdateAccountState(ctx, acct.ID, AccountState{
		ExternalAccountID: ev.AccountID,
		ChargesEnabled:    ev.ChargesEnabled,
		PayoutsEnabled:    ev.PayoutsEnabled,
	})
	if err != nil {
		return err
	}
	if updated.Status != acct.Status {
		s.logger.InfoContext(ctx, "connected account status changed",
			"landlord_id", acct.LandlordID, "from", acct.Status, "to", updated.Status)
	}
	return nil
}

// locate finds the payment by its external reference, falling back to the
// payment id carried in event metadata. ok is false on a reconciliation miss.
func (s *WebhookService) locate(ctx context.Context, r *Repo, ev WebhookEvent, find func(context.Context, string) (Payment, error), ref string) (Payment, bool, error) {
	if ref != "" {
		p, err := find(ctx, ref)
		if err == nil {
			return p, true, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return Payment{}, false, err
		}
	}
	if ev.PaymentID != "" {
		p, err := r.Get(ctx, ev.PaymentID)
		if err == nil {
			return p, true, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return Payment{}, false, err
		}
	}

	s.logger.WarnContext(ctx, "reconciliation miss",
		"event_id", ev.EventID, "type", ev.Type, "ref", ref, "metadata_payment_id", ev.PaymentID)
	return Payment{}, false, nil
}

func (s *WebhookService) dispatch(ctx context.Context, fx effects) {
	ctx = context.WithoutCancel(ctx)
	for _, n := range fx.notifications {
		if s.notifier == nil {
			break
		}
		if err := s.notifier.Notify(ctx, n.userID, n.typ, n.message, n.data); err != nil {
			s.logger.WarnContext(ctx, "notification failed", "user_id", n.userID, "type", n.typ, "err", err)
		}
	}
	for _, t := range fx.transitions {
		if err := s.events.Publish(ctx, t.PaymentID, t); err != nil {
			s.logger.WarnContext(ctx, "failed to publish payment transition", "payment_id", t.PaymentID, "type", t.Type, "err", err)
		}
	}
}

func displayAmount(amount decimal.Decimal, currency string) string {
	minor, err := money.ToMinorUnits(amount, currency)
	if err != nil {
		return amount.StringFixed(2) + " " + currency
	}
	return money.Format(currency, minor)
}

func (s *WebhookService) archivePayload(ctx context.Context, providerName string, ev WebhookEvent, body []byte) *string {
	if s.archive == nil || len(body) == 0 {
		return nil
	}
	key, err := s.archive.Archive(ctx, providerName, ev.EventID, body)
	if err != nil {
		s.logger.WarnContext(ctx, "webhook payload archive failed; storing inline", "event_id", ev.EventID, "err", err)
		return nil
	}
	return &key
}

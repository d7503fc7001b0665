package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/bradb345/t3test-sub001/internal/shared/money"
)

type Mode string

const (
	ModeCheckout Mode = "checkout"
	ModeIntent   Mode = "intent"
)

// DefaultClaimTTL is how long a processing claim is held. Checkout sessions
// expire at claim time plus this TTL, so it must stay above the shortest
// session lifetime any provider accepts.
const DefaultClaimTTL = 35 * time.Minute

type CheckoutConfig struct {
	Fees                money.FeeSchedule
	SupportedCurrencies []string
	ClaimTTL            time.Duration
	SuccessURL          string
	CancelURL           string
}

// Service initiates split payments for tenants.
type Service struct {
	repo       *Repo
	provider   Provider
	cfg        CheckoutConfig
	currencies map[string]bool
	events     EventPublisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(db *gorm.DB, p Provider, cfg CheckoutConfig) *Service {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	currencies := make(map[string]bool, len(cfg.SupportedCurrencies))
	for _, c := range cfg.SupportedCurrencies {
		currencies[money.NormalizeCurrency(c)] = true
	}
	return &Service{
		repo:       NewRepo(db),
		provider:   p,
		cfg:        cfg,
		currencies: currencies,
		events:     noopPublisher{},
		logger:     slog.Default(),
		now:        time.Now,
	}
}

func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *Service) SetEvents(p EventPublisher) {
	s.events = p
}

type InitiateInput struct {
	PaymentID string
	PayerID   string
	Mode      Mode
}

type InitiateResult struct {
	PaymentID       string
	Mode            Mode
	CheckoutURL     string
	ClientSecret    string
	PaymentIntentID string
	PlatformFee     int64
	LandlordPayout  int64
}

// InitiatePayment claims the payment and creates a split checkout artifact at
// the provider. A claim that cannot finish is released back to pending.
func (s *Service) InitiatePayment(ctx context.Context, in InitiateInput) (res InitiateResult, err error) {
	if in.PaymentID == "" || in.PayerID == "" {
		return InitiateResult{}, ErrNotClaimable
	}
	mode := in.Mode
	if mode == "" {
		mode = ModeCheckout
	}
	if mode != ModeCheckout && mode != ModeIntent {
		return InitiateResult{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidMode, mode)
	}

	// Plain read: lets validation failures leave the row untouched.
	p, err := s.repo.GetForPayer(ctx, in.PaymentID, in.PayerID)
	if errors.Is(err, ErrPaymentNotFound) {
		return InitiateResult{}, ErrNotClaimable
	}
	if err != nil {
		return InitiateResult{}, err
	}
	if p.Status == StatusCompleted {
		return InitiateResult{}, ErrNotClaimable
	}
	if err := s.validate(p); err != nil {
		return InitiateResult{}, err
	}

	customerID, err := s.ensureCustomer(ctx, in.PayerID)
	if err != nil {
		return InitiateResult{}, err
	}

	now := s.now()
	claimed, ok, err := s.repo.Claim(ctx, p.ID, in.PayerID, now, now.Add(-s.cfg.ClaimTTL))
	if err != nil {
		return InitiateResult{}, err
	}
	if !ok {
		s.logger.InfoContext(ctx, "payment claim lost", "payment_id", p.ID, "payer_id", in.PayerID)
		return InitiateResult{}, ErrNotClaimable
	}

	defer func() {
		if r := recover(); r != nil {
			s.release(ctx, claimed.ID, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		if err != nil {
			s.release(ctx, claimed.ID, err)
		}
	}()

	return s.initiateClaimed(ctx, claimed, customerID, mode, now)
}

func (s *Service) initiateClaimed(ctx context.Context, p Payment, customerID string, mode Mode, now time.Time) (InitiateResult, error) {
	if err := s.validate(p); err != nil {
		return InitiateResult{}, err
	}

	lease, err := s.repo.GetLease(ctx, p.LeaseID)
	if err != nil {
		return InitiateResult{}, err
	}
	acct, err := s.repo.FindAccountByLandlord(ctx, lease.LandlordID)
	if err != nil {
		return InitiateResult{}, err
	}
	if acct == nil || acct.Status != AccountComplete {
		return InitiateResult{}, ErrPayeeNotOnboarded
	}

	plan, err := s.buildPlan(ctx, p)
	if err != nil {
		return InitiateResult{}, err
	}

	metadata := map[string]string{
		"payment_id":  p.ID,
		"lease_id":    p.LeaseID,
		"payer_id":    p.PayerID,
		"landlord_id": lease.LandlordID,
		"kind":        string(p.Kind),
	}
	idemKey := fmt.Sprintf("%s:%s:%d", mode, p.ID, claimStamp(p, now))

	res := InitiateResult{
		PaymentID:      p.ID,
		Mode:           mode,
		PlatformFee:    plan.Split.Fee,
		LandlordPayout: plan.Split.Payout,
	}
	var artifact CheckoutArtifact

	switch mode {
	case ModeIntent:
		pi, err := s.provider.CreatePaymentIntent(ctx, PaymentIntentRequest{
			PaymentID:          p.ID,
			CustomerID:         customerID,
			AmountMinor:        plan.Split.Gross,
			Currency:           p.Currency,
			ApplicationFee:     plan.Split.Fee,
			DestinationAccount: acct.ExternalAccountID,
			Description:        plan.Description,
			Metadata:           metadata,
			IdempotencyKey:     idemKey,
		})
		if err != nil {
			return InitiateResult{}, providerErr("create payment intent", err)
		}
		artifact.PaymentIntentID = pi.ID
		res.PaymentIntentID = pi.ID
		res.ClientSecret = pi.ClientSecret
	default:
		sess, err := s.provider.CreateCheckoutSession(ctx, CheckoutSessionRequest{
			PaymentID:          p.ID,
			CustomerID:         customerID,
			Currency:           p.Currency,
			LineItems:          plan.LineItems,
			ApplicationFee:     plan.Split.Fee,
			DestinationAccount: acct.ExternalAccountID,
			SuccessURL:         s.cfg.SuccessURL,
			CancelURL:          s.cfg.CancelURL,
			ExpiresAt:          now.Add(s.cfg.ClaimTTL),
			Metadata:           metadata,
			IdempotencyKey:     idemKey,
		})
		if err != nil {
			return InitiateResult{}, providerErr("create checkout session", err)
		}
		artifact.CheckoutSessionID = sess.ID
		res.CheckoutURL = sess.URL
	}

	if artifact.PlatformFee, err = money.ToMajorUnits(plan.Split.Fee, p.Currency); err != nil {
		return InitiateResult{}, err
	}
	if artifact.LandlordPayout, err = money.ToMajorUnits(plan.Split.Payout, p.Currency); err != nil {
		return InitiateResult{}, err
	}
	saved, err := s.repo.SaveCheckout(ctx, p.ID, artifact)
	if err != nil {
		return InitiateResult{}, err
	}
	if !saved {
		return InitiateResult{}, fmt.Errorf("%w: payment left processing before checkout was saved", ErrNotClaimable)
	}

	s.logger.InfoContext(ctx, "payment initiated",
		"payment_id", p.ID, "mode", mode, "fee", plan.Split.Fee, "payout", plan.Split.Payout,
		"checkout_session_id", artifact.CheckoutSessionID, "payment_intent_id", artifact.PaymentIntentID)
	s.publish(ctx, transitionOf(p, StatusProcessing, ""))

	return res, nil
}

// GetPayment returns a payment visible to its payer.
func (s *Service) GetPayment(ctx context.Context, id, payerID string) (Payment, error) {
	return s.repo.GetForPayer(ctx, id, payerID)
}

func (s *Service) validate(p Payment) error {
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, p.Amount.String())
	}
	if _, err := money.Exponent(p.Currency); err != nil || !s.currencies[money.NormalizeCurrency(p.Currency)] {
		return fmt.Errorf("%w: %s", ErrCurrencyUnsupported, p.Currency)
	}
	return nil
}

func (s *Service) ensureCustomer(ctx context.Context, userID string) (string, error) {
	existing, err := s.repo.FindCustomer(ctx, userID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ExternalCustomerID, nil
	}

	req := CreateCustomerRequest{UserID: userID}
	u, err := s.repo.GetUser(ctx, userID)
	switch {
	case err == nil:
		req.Email = u.Email
		req.Name = u.DisplayName()
	case errors.Is(err, ErrUserNotFound):
		s.logger.WarnContext(ctx, "payer has no user record; creating bare customer", "user_id", userID)
	default:
		return "", err
	}

	externalID, err := s.provider.CreateCustomer(ctx, req)
	if err != nil {
		return "", providerErr("create customer", err)
	}
	c, err := s.repo.CreateCustomer(ctx, userID, s.provider.Name(), externalID)
	if err != nil {
		return "", err
	}
	if c.ExternalCustomerID != externalID {
		s.logger.WarnContext(ctx, "concurrent customer creation; provider customer orphaned",
			"user_id", userID, "orphaned_customer_id", externalID)
	}
	return c.ExternalCustomerID, nil
}

func (s *Service) release(ctx context.Context, paymentID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	released, err := s.repo.Release(ctx, paymentID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to release payment claim", "payment_id", paymentID, "cause", cause, "err", err)
		return
	}
	s.logger.WarnContext(ctx, "payment claim released", "payment_id", paymentID, "released", released, "cause", cause)
}

func (s *Service) publish(ctx context.Context, ev TransitionEvent) {
	if err := s.events.Publish(ctx, ev.PaymentID, ev); err != nil {
		s.logger.WarnContext(ctx, "failed to publish payment transition", "payment_id", ev.PaymentID, "type", ev.Type, "err", err)
	}
}

func claimStamp(p Payment, fallback time.Time) int64 {
	if p.ClaimedAt != nil {
		return p.ClaimedAt.UnixNano()
	}
	return fallback.UnixNano()
}

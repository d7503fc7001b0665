package payments

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// WithTx returns a Repo bound to tx.
func (r *Repo) WithTx(tx *gorm.DB) *Repo { return &Repo{db: tx} }

// DB returns the underlying database connection for direct queries.
func (r *Repo) DB() *gorm.DB { return r.db }

// Claim moves a payment to processing in a single conditional UPDATE. A
// processing row is only reclaimable once its claim is older than
// staleBefore, so two concurrent callers can never both win.
func (r *Repo) Claim(ctx context.Context, paymentID, payerID string, now, staleBefore time.Time) (Payment, bool, error) {
	res := r.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND payer_id = ?", paymentID, payerID).
		Where(
			r.db.Where("status IN ?", []Status{StatusPending, StatusFailed}).
				Or("status = ? AND (claimed_at IS NULL OR claimed_at < ?)", StatusProcessing, staleBefore),
		).
		Updates(map[string]any{
			"status":         StatusProcessing,
			"claimed_at":     now,
			"failure_reason": nil,
			"updated_at":     now,
		})
	if res.Error != nil {
		return Payment{}, false, res.Error
	}
	if res.RowsAffected != 1 {
		return Payment{}, false, nil
	}

	p, err := r.Get(ctx, paymentID)
	if err != nil {
		return Payment{}, false, err
	}
	return p, true, nil
}

// Release hands a processing claim back to pending so the payer can retry.
func (r *Repo) Release(ctx context.Context, paymentID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND status = ?", paymentID, StatusProcessing).
		Updates(map[string]any{
			"status":              StatusPending,
			"checkout_session_id": nil,
			"claimed_at":          nil,
			"updated_at":          time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

type CheckoutArtifact struct {
	CheckoutSessionID string
	PaymentIntentID   string
	PlatformFee       decimal.Decimal
	LandlordPayout    decimal.Decimal
}

// SaveCheckout records the provider artifact while the claim is still held.
func (r *Repo) SaveCheckout(ctx context.Context, paymentID string, a CheckoutArtifact) (bool, error) {
	updates := map[string]any{
		"platform_fee":    decimal.NewNullDecimal(a.PlatformFee),
		"landlord_payout": decimal.NewNullDecimal(a.LandlordPayout),
		"updated_at":      time.Now(),
	}
	if a.CheckoutSessionID != "" {
		updates["checkout_session_id"] = a.CheckoutSessionID
	}
	if a.PaymentIntentID != "" {
		updates["payment_intent_id"] = a.PaymentIntentID
	}
	res := r.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND status = ?", paymentID, StatusProcessing).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

type Completion struct {
	PaidAt          time.Time
	PaymentIntentID string
	TransferID      string
}

// MarkCompleted transitions to completed unless the row already is. Only
// the caller that gets true performed the transition.
func (r *Repo) MarkCompleted(ctx context.Context, paymentID string, c Completion) (bool, error) {
	updates := map[string]any{
		"status":         StatusCompleted,
		"paid_at":        c.PaidAt,
		"failure_reason": nil,
		"updated_at":     time.Now(),
	}
	if c.PaymentIntentID != "" {
		updates["payment_intent_id"] = c.PaymentIntentID
	}
	if c.TransferID != "" {
		updates["transfer_id"] = c.TransferID
	}
	res := r.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND status <> ?", paymentID, StatusCompleted).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// BackfillRefs fills missing external references without touching status.
func (r *Repo) BackfillRefs(ctx context.Context, paymentID, paymentIntentID, transferID string) error {
	now := time.Now()
	if paymentIntentID != "" {
		if err := r.db.WithContext(ctx).Model(&Payment{}).
			Where("id = ? AND payment_intent_id IS NULL", paymentID).
			Updates(map[string]any{"payment_intent_id": paymentIntentID, "updated_at": now}).Error; err != nil {
			return err
		}
	}
	if transferID != "" {
		if err := r.db.WithContext(ctx).Model(&Payment{}).
			Where("id = ? AND transfer_id IS NULL", paymentID).
			Updates(map[string]any{"transfer_id": transferID, "updated_at": now}).Error; err != nil {
			return err
		}
	}
	return nil
}

// MarkFailed sets failed unless completed or already failed.
func (r *Repo) MarkFailed(ctx context.Context, paymentID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND status NOT IN ?", paymentID, []Status{StatusCompleted, StatusFailed}).
		Updates(map[string]any{
			"status":         StatusFailed,
			"failure_reason": truncate(reason, 250),
			"updated_at":     time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// ResetExpired puts a payment back to pending when its checkout session
// expired. The session id must still match so a stale expiry cannot undo a
// newer claim.
func (r *Repo) ResetExpired(ctx context.Context, paymentID, sessionID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND checkout_session_id = ? AND status <> ?", paymentID, sessionID, StatusCompleted).
		Updates(map[string]any{
			"status":              StatusPending,
			"checkout_session_id": nil,
			"claimed_at":          nil,
			"updated_at":          time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) Get(ctx context.Context, id string) (Payment, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *Repo) GetForPayer(ctx context.Context, id, payerID string) (Payment, error) {
	return r.first(ctx, "id = ? AND payer_id = ?", id, payerID)
}

func (r *Repo) FindByCheckoutSession(ctx context.Context, sessionID string) (Payment, error) {
	return r.first(ctx, "checkout_session_id = ?", sessionID)
}

func (r *Repo) FindByPaymentIntent(ctx context.Context, intentID string) (Payment, error) {
	return r.first(ctx, "payment_intent_id = ?", intentID)
}

func (r *Repo) first(ctx context.Context, query string, args ...any) (Payment, error) {
	var p Payment
	if err := r.db.WithContext(ctx).Where(query, args...).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	return p, nil
}

func (r *Repo) GetLease(ctx context.Context, id string) (Lease, error) {
	var l Lease
	if err := r.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Lease{}, ErrLeaseNotFound
		}
		return Lease{}, err
	}
	return l, nil
}

func (r *Repo) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

// Customers

func (r *Repo) FindCustomer(ctx context.Context, userID string) (*Customer, error) {
	var c Customer
	err := r.db.WithContext(ctx).First(&c, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCustomer inserts the mapping; on a concurrent duplicate it returns
// the row that won.
func (r *Repo) CreateCustomer(ctx context.Context, userID, provider, externalID string) (Customer, error) {
	c := Customer{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Provider:           provider,
		ExternalCustomerID: externalID,
		CreatedAt:          time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&c).Error; err != nil {
		if !isDup(err) {
			return Customer{}, err
		}
		existing, ferr := r.FindCustomer(ctx, userID)
		if ferr != nil {
			return Customer{}, ferr
		}
		if existing == nil {
			return Customer{}, err
		}
		return *existing, nil
	}
	return c, nil
}

// Connected accounts

func (r *Repo) FindAccountByLandlord(ctx context.Context, landlordID string) (*ConnectedAccount, error) {
	return r.findAccount(ctx, "landlord_id = ?", landlordID)
}

func (r *Repo) FindAccountByExternalID(ctx context.Context, externalID string) (*ConnectedAccount, error) {
	return r.findAccount(ctx, "external_account_id = ?", externalID)
}

func (r *Repo) findAccount(ctx context.Context, query string, args ...any) (*ConnectedAccount, error) {
	var a ConnectedAccount
	err := r.db.WithContext(ctx).Where(query, args...).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts the landlord's account; a concurrent duplicate
// returns the existing row instead.
func (r *Repo) CreateAccount(ctx context.Context, landlordID, provider string, st AccountState) (ConnectedAccount, error) {
	now := time.Now()
	a := ConnectedAccount{
		ID:                uuid.NewString(),
		LandlordID:        landlordID,
		Provider:          provider,
		ExternalAccountID: st.ExternalAccountID,
		Status:            st.Status(),
		ChargesEnabled:    st.ChargesEnabled,
		PayoutsEnabled:    st.PayoutsEnabled,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := r.db.WithContext(ctx).Create(&a).Error; err != nil {
		if !isDup(err) {
			return ConnectedAccount{}, err
		}
		existing, ferr := r.FindAccountByLandlord(ctx, landlordID)
		if ferr != nil {
			return ConnectedAccount{}, ferr
		}
		if existing == nil {
			return ConnectedAccount{}, err
		}
		return *existing, nil
	}
	return a, nil
}

func (r *Repo) UpdateAccountState(ctx context.Context, id string, st AccountState) (ConnectedAccount, error) {
	if err := r.db.WithContext(ctx).Model(&ConnectedAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          st.Status(),
			"charges_enabled": st.ChargesEnabled,
			"payouts_enabled": st.PayoutsEnabled,
			"updated_at":      time.Now(),
		}).Error; err != nil {
		return ConnectedAccount{}, err
	}
	a, err := r.findAccount(ctx, "id = ?", id)
	if err != nil {
		return ConnectedAccount{}, err
	}
	if a == nil {
		return ConnectedAccount{}, gorm.ErrRecordNotFound
	}
	return *a, nil
}

func isDup(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

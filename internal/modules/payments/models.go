package payments

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Kind string

const (
	KindRent   Kind = "rent"
	KindMoveIn Kind = "move_in"
)

type Payment struct {
	ID                string              `gorm:"type:char(36);primaryKey"`
	PayerID           string              `gorm:"type:char(36);not null;index:ix_payments_payer_id"`
	LeaseID           string              `gorm:"type:char(36);not null;index:ix_payments_lease_id"`
	Amount            decimal.Decimal     `gorm:"type:decimal(12,2);not null"`
	Currency          string              `gorm:"type:char(3);not null"`
	Kind              Kind                `gorm:"type:varchar(16);not null"`
	Status            Status              `gorm:"type:varchar(16);not null;index:ix_payments_status"`
	CheckoutSessionID *string             `gorm:"type:varchar(255);uniqueIndex:ux_payments_checkout_session"`
	PaymentIntentID   *string             `gorm:"type:varchar(255);uniqueIndex:ux_payments_payment_intent"`
	TransferID        *string             `gorm:"type:varchar(255)"`
	PlatformFee       decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	LandlordPayout    decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	Notes             datatypes.JSON      `gorm:"type:json"`
	FailureReason     *string             `gorm:"type:varchar(255)"`
	ClaimedAt         *time.Time
	PaidAt            *time.Time
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// MoveInBreakdown is the notes shape written by the move-in flow.
type MoveInBreakdown struct {
	Rent    decimal.Decimal `json:"rent"`
	Deposit decimal.Decimal `json:"deposit"`
}

// MoveInBreakdown decodes the rent/deposit split from notes. ok is false
// when the payment is not a move-in or the notes do not carry the shape.
func (p Payment) MoveInBreakdown() (MoveInBreakdown, bool) {
	if p.Kind != KindMoveIn || len(p.Notes) == 0 {
		return MoveInBreakdown{}, false
	}
	var raw struct {
		Rent    *decimal.Decimal `json:"rent"`
		Deposit *decimal.Decimal `json:"deposit"`
	}
	if err := json.Unmarshal(p.Notes, &raw); err != nil || raw.Rent == nil {
		return MoveInBreakdown{}, false
	}
	b := MoveInBreakdown{Rent: *raw.Rent}
	if raw.Deposit != nil {
		b.Deposit = *raw.Deposit
	}
	return b, true
}

type AccountStatus string

const (
	AccountNone     AccountStatus = "none"
	AccountPending  AccountStatus = "pending"
	AccountComplete AccountStatus = "complete"
)

// ConnectedAccount is the landlord's payee account at the provider.
type ConnectedAccount struct {
	ID                string        `gorm:"type:char(36);primaryKey"`
	LandlordID        string        `gorm:"type:char(36);not null;uniqueIndex:ux_connected_accounts_landlord"`
	Provider          string        `gorm:"type:varchar(32);not null"`
	ExternalAccountID string        `gorm:"type:varchar(255);not null;uniqueIndex:ux_connected_accounts_external"`
	Status            AccountStatus `gorm:"type:varchar(16);not null"`
	ChargesEnabled    bool          `gorm:"not null"`
	PayoutsEnabled    bool          `gorm:"not null"`
	CreatedAt         time.Time     `gorm:"not null"`
	UpdatedAt         time.Time     `gorm:"not null"`
}

func (ConnectedAccount) TableName() string { return "connected_accounts" }

// StatusFromCapabilities: complete iff both payouts and charges are enabled.
func StatusFromCapabilities(chargesEnabled, payoutsEnabled bool) AccountStatus {
	if chargesEnabled && payoutsEnabled {
		return AccountComplete
	}
	return AccountPending
}

// Customer maps a tenant to the provider's customer record.
type Customer struct {
	ID                 string    `gorm:"type:char(36);primaryKey"`
	UserID             string    `gorm:"type:char(36);not null;uniqueIndex:ux_payment_customers_user"`
	Provider           string    `gorm:"type:varchar(32);not null"`
	ExternalCustomerID string    `gorm:"type:varchar(255);not null"`
	CreatedAt          time.Time `gorm:"not null"`
}

func (Customer) TableName() string { return "payment_customers" }

// Lease is a read model; the leasing module owns the table.
type Lease struct {
	ID         string `gorm:"type:char(36);primaryKey"`
	LandlordID string `gorm:"type:char(36);not null"`
	TenantID   string `gorm:"type:char(36);not null"`
	Status     string `gorm:"type:varchar(32);not null"`
}

func (Lease) TableName() string { return "leases" }

// User is a read model over the identity module's users table.
type User struct {
	ID        string  `gorm:"type:char(36);primaryKey"`
	Email     string  `gorm:"type:varchar(255);not null"`
	FirstName *string `gorm:"type:varchar(100)"`
	LastName  *string `gorm:"type:varchar(100)"`
}

func (User) TableName() string { return "users" }

func (u User) DisplayName() string {
	name := ""
	if u.FirstName != nil {
		name = *u.FirstName
	}
	if u.LastName != nil && *u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += *u.LastName
	}
	return name
}

package payments

import (
	"context"
	"fmt"

	"github.com/bradb345/t3test-sub001/internal/shared/money"
)

// chargePlan is what we ask the provider to collect and how it splits.
type chargePlan struct {
	LineItems   []LineItem
	Split       money.Split
	Description string
}

// buildPlan fees only the rent portion of a move-in payment when the notes
// carry a consistent rent/deposit breakdown. Anything else, including a
// move-in without a usable breakdown, is one taxable line item.
func (s *Service) buildPlan(ctx context.Context, p Payment) (chargePlan, error) {
	gross, err := money.ToMinorUnits(p.Amount, p.Currency)
	if err != nil {
		return chargePlan{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	if b, ok := p.MoveInBreakdown(); ok {
		if plan, ok := s.moveInPlan(p, b, gross); ok {
			return plan, nil
		}
		s.logger.WarnContext(ctx, "move-in breakdown unusable; charging as a single item",
			"payment_id", p.ID, "amount", p.Amount.String(), "rent", b.Rent.String(), "deposit", b.Deposit.String())
	}

	split, err := s.cfg.Fees.SplitAll(gross)
	if err != nil {
		return chargePlan{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	name := "Rent payment"
	if p.Kind == KindMoveIn {
		name = "Move-in payment"
	}
	return chargePlan{
		LineItems:   []LineItem{{Name: name, AmountMinor: gross}},
		Split:       split,
		Description: name,
	}, nil
}

func (s *Service) moveInPlan(p Payment, b MoveInBreakdown, gross int64) (chargePlan, bool) {
	rent, err := money.ToMinorUnits(b.Rent, p.Currency)
	if err != nil {
		return chargePlan{}, false
	}
	var deposit int64
	if !b.Deposit.IsZero() {
		if deposit, err = money.ToMinorUnits(b.Deposit, p.Currency); err != nil {
			return chargePlan{}, false
		}
	}
	if rent+deposit != gross {
		return chargePlan{}, false
	}
	split, err := s.cfg.Fees.SplitMoveIn(rent, deposit)
	if err != nil {
		return chargePlan{}, false
	}

	items := []LineItem{{Name: "First month's rent", AmountMinor: rent}}
	if deposit > 0 {
		items = append(items, LineItem{Name: "Security deposit", AmountMinor: deposit})
	}
	return chargePlan{LineItems: items, Split: split, Description: "Move-in payment"}, true
}

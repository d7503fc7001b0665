package payments

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

func TestBuildPlanZeroDepositSkipsLine(t *testing.T) {
	db := openDB(t)
	s := newTestService(t, db, newFakeProvider())
	p := Payment{
		ID:       "pay-1",
		Amount:   decimal.RequireFromString("1200.00"),
		Currency: "USD",
		Kind:     KindMoveIn,
		Notes:    datatypes.JSON(`{"rent":"1200.00","deposit":"0"}`),
	}

	plan, err := s.buildPlan(context.Background(), p)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.LineItems) != 1 || plan.LineItems[0].Name != "First month's rent" {
		t.Fatalf("line items = %+v", plan.LineItems)
	}
	if plan.Split.Fee != 3600 || plan.Split.Payout != 116400 {
		t.Fatalf("split = %+v", plan.Split)
	}
}

func TestBuildPlanZeroDecimalCurrency(t *testing.T) {
	db := openDB(t)
	s := newTestService(t, db, newFakeProvider())
	p := Payment{ID: "pay-1", Amount: decimal.RequireFromString("85000"), Currency: "JPY", Kind: KindRent}

	plan, err := s.buildPlan(context.Background(), p)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Split.Gross != 85000 || plan.Split.Fee != 2550 || plan.Split.Payout != 82450 {
		t.Fatalf("split = %+v", plan.Split)
	}
}

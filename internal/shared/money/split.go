package money

import "fmt"

const DefaultFeeBasisPoints int64 = 300

// FeeSchedule computes the platform's cut in basis points (1/100 of a percent).
// All inputs and outputs are minor units; fee + payout always equals the
// taxable base.
type FeeSchedule struct {
	BasisPoints int64
}

func NewFeeSchedule(bps int64) (FeeSchedule, error) {
	if bps < 0 || bps > 10000 {
		return FeeSchedule{}, fmt.Errorf("money: fee basis points out of range: %d", bps)
	}
	return FeeSchedule{BasisPoints: bps}, nil
}

// PlatformFee rounds half up to the nearest minor unit.
func (f FeeSchedule) PlatformFee(minor int64) (int64, error) {
	if minor <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrNonPositive, minor)
	}
	return (minor*f.BasisPoints + 5000) / 10000, nil
}

func (f FeeSchedule) LandlordPayout(minor int64) (int64, error) {
	fee, err := f.PlatformFee(minor)
	if err != nil {
		return 0, err
	}
	return minor - fee, nil
}

// MoveInFee charges the fee on the rent portion only; deposits are never taxed.
func (f FeeSchedule) MoveInFee(rentMinor int64) (int64, error) {
	return f.PlatformFee(rentMinor)
}

// MoveInLandlordPayout is (rent - fee) + deposit.
func (f FeeSchedule) MoveInLandlordPayout(rentMinor, depositMinor int64) (int64, error) {
	if depositMinor < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeDeposit, depositMinor)
	}
	payout, err := f.LandlordPayout(rentMinor)
	if err != nil {
		return 0, err
	}
	return payout + depositMinor, nil
}

// Split is the outcome of fee computation for one charge.
type Split struct {
	Gross  int64
	Fee    int64
	Payout int64
}

// SplitAll treats the whole gross amount as the taxable base.
func (f FeeSchedule) SplitAll(gross int64) (Split, error) {
	fee, err := f.PlatformFee(gross)
	if err != nil {
		return Split{}, err
	}
	return Split{Gross: gross, Fee: fee, Payout: gross - fee}, nil
}

// SplitMoveIn taxes rent only and passes the deposit through.
func (f FeeSchedule) SplitMoveIn(rentMinor, depositMinor int64) (Split, error) {
	fee, err := f.MoveInFee(rentMinor)
	if err != nil {
		return Split{}, err
	}
	payout, err := f.MoveInLandlordPayout(rentMinor, depositMinor)
	if err != nil {
		return Split{}, err
	}
	return Split{Gross: rentMinor + depositMinor, Fee: fee, Payout: payout}, nil
}

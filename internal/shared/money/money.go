package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("money: invalid amount")
	ErrNonPositive     = errors.New("money: amount must be positive")
	ErrUnknownCurrency = errors.New("money: unknown currency")
	ErrNegativeDeposit = errors.New("money: deposit must not be negative")
)

// zeroDecimal lists ISO 4217 currencies without a minor unit.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) (int32, error) {
	c := NormalizeCurrency(currency)
	if len(c) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	if zeroDecimal[c] {
		return 0, nil
	}
	return 2, nil
}

func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ParseAmount parses a major-unit decimal string such as "1250.00".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// ToMinorUnits converts a major-unit amount into integer minor units.
// Sub-minor precision is rounded half away from zero.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	exp, err := Exponent(currency)
	if err != nil {
		return 0, err
	}
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s", ErrNonPositive, amount.String())
	}
	minor := amount.Shift(exp).Round(0)
	if !minor.IsPositive() {
		return 0, fmt.Errorf("%w: %s rounds to zero", ErrNonPositive, amount.String())
	}
	return minor.IntPart(), nil
}

// ToMajorUnits converts minor units back to a major-unit decimal.
func ToMajorUnits(minor int64, currency string) (decimal.Decimal, error) {
	exp, err := Exponent(currency)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.New(minor, -exp), nil
}

// Format renders minor units for notification text.
func Format(currency string, minor int64) string {
	c := NormalizeCurrency(currency)
	exp, err := Exponent(c)
	if err != nil {
		return fmt.Sprintf("%d %s", minor, currency)
	}
	major := decimal.New(minor, -exp).StringFixed(exp)
	switch c {
	case "USD", "CAD", "AUD":
		return "$" + major
	case "EUR":
		return "€" + major
	case "GBP":
		return "£" + major
	default:
		return major + " " + c
	}
}

package payments

import (
	"errors"
	"fmt"
)

var (
	ErrNotClaimable        = errors.New("payment not claimable")
	ErrCurrencyUnsupported = errors.New("currency not supported for online payment")
	ErrInvalidAmount       = errors.New("invalid payment amount")
	ErrInvalidMode         = errors.New("invalid payment mode")
	ErrPayeeNotOnboarded   = errors.New("payee has not completed onboarding")
	ErrLeaseNotFound       = errors.New("lease not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformedEvent      = errors.New("malformed webhook event")
	ErrNoProviderReference = errors.New("payment has no provider reference to sync")
)

// ProviderError marks a failure talking to the external processor.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Op: op, Err: err}
}

// IsValidation reports errors the caller can fix by changing input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrCurrencyUnsupported) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidMode)
}

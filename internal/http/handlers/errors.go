package handlers

import (
	"errors"

	"github.com/bradb345/t3test-sub001/internal/modules/notifications"
	"github.com/bradb345/t3test-sub001/internal/modules/payments"
	"github.com/bradb345/t3test-sub001/internal/shared/apperr"
)

// toAppErr maps domain errors onto HTTP-facing kinds. Anything unknown
// becomes an opaque 500.
func toAppErr(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}

	var pe *payments.ProviderError
	switch {
	case errors.Is(err, payments.ErrCurrencyUnsupported):
		return apperr.InvalidErr("This payment's currency is not supported for online payment.", nil).WithCause(err)
	case errors.Is(err, payments.ErrInvalidAmount):
		return apperr.InvalidErr("This payment has an invalid amount.", nil).WithCause(err)
	case errors.Is(err, payments.ErrInvalidMode):
		return apperr.InvalidErr("Unknown payment mode.", map[string]string{"mode": "Must be one of: checkout, intent."}).WithCause(err)
	case errors.Is(err, payments.ErrNotClaimable):
		return apperr.ConflictErr("This payment cannot be started right now.").WithCause(err)
	case errors.Is(err, payments.ErrPayeeNotOnboarded):
		return apperr.UnprocessableErr("The landlord has not finished payment setup yet.").WithCause(err)
	case errors.Is(err, payments.ErrNoProviderReference):
		return apperr.UnprocessableErr("This payment has nothing to sync with the provider.").WithCause(err)
	case errors.As(err, &pe):
		return apperr.UnavailableErr("The payment provider is unavailable. Please try again.", err)
	case errors.Is(err, payments.ErrPaymentNotFound):
		return apperr.NotFoundErr("Payment not found.").WithCause(err)
	case errors.Is(err, payments.ErrLeaseNotFound):
		return apperr.NotFoundErr("Lease not found.").WithCause(err)
	case errors.Is(err, payments.ErrUserNotFound):
		return apperr.NotFoundErr("User not found.").WithCause(err)
	case errors.Is(err, notifications.ErrNotFound):
		return apperr.NotFoundErr("Notification not found.").WithCause(err)
	}
	return apperr.Wrap(err)
}

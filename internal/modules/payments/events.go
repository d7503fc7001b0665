package payments

import (
	"context"
	"time"
)

// EventPublisher carries payment state transitions to other services.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

type TransitionEvent struct {
	Type       string    `json:"type"`
	PaymentID  string    `json:"payment_id"`
	LeaseID    string    `json:"lease_id"`
	PayerID    string    `json:"payer_id"`
	Status     Status    `json:"status"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func transitionOf(p Payment, to Status, reason string) TransitionEvent {
	return TransitionEvent{
		Type:       "payment." + string(to),
		PaymentID:  p.ID,
		LeaseID:    p.LeaseID,
		PayerID:    p.PayerID,
		Status:     to,
		Amount:     p.Amount.StringFixed(2),
		Currency:   p.Currency,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// Package events publishes checkout lifecycle events for downstream
// consumers (notifications, fulfilment). Publishing is best-effort:
// the order of record lives in Postgres and a lost event never aborts
// a committed transaction.
package events

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
)

const (
	KeyOrderCreated     = "order.created"
	KeyOrderCancelled   = "order.cancelled"
	KeyPaymentSucceeded = "payment.succeeded"
	KeyPaymentFailed    = "payment.failed"
	KeyRefundIssued     = "refund.issued"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type OrderCreated struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      uuid.UUID `json:"user_id"`
	TotalCents  int64     `json:"total_cents"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

type OrderCancelled struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type PaymentStatusChanged struct {
	OrderID     uuid.UUID `json:"order_id"`
	PaymentID   uuid.UUID `json:"payment_id"`
	Gateway     string    `json:"gateway"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type RefundIssued struct {
	OrderID     uuid.UUID `json:"order_id"`
	PaymentID   uuid.UUID `json:"payment_id"`
	RefundID    uuid.UUID `json:"refund_id"`
	AmountCents int64     `json:"amount_cents"`
	Restocked   bool      `json:"restocked"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Nop is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, routingKey string, event any) error { return nil }

func (Nop) Close() error { return nil }

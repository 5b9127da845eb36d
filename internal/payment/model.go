package payment

import (
	"time"

	"github.com/gofrs/uuid"

	"github.com/eytgaming/checkout-service/internal/money"
)

type PaymentStatus string

const (
	StatusCreated           PaymentStatus = "created"
	StatusSucceeded         PaymentStatus = "succeeded"
	StatusFailed            PaymentStatus = "failed"
	StatusRefunded          PaymentStatus = "refunded"
	StatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

func (ps PaymentStatus) String() string {
	return string(ps)
}

// Settled means money was captured: only these rows can be refunded,
// and the partial unique index on payments allows one of them per order.
func (ps PaymentStatus) Settled() bool {
	return ps == StatusSucceeded || ps == StatusRefunded || ps == StatusPartiallyRefunded
}

// A failed payment stays failed; retrying opens a fresh intent and a
// fresh payment row. The partially refunded self-edge covers repeated
// partial refunds.
var allowedTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	StatusCreated:           {StatusSucceeded: true, StatusFailed: true},
	StatusSucceeded:         {StatusRefunded: true, StatusPartiallyRefunded: true},
	StatusPartiallyRefunded: {StatusRefunded: true, StatusPartiallyRefunded: true},
	StatusFailed:            {},
	StatusRefunded:          {},
}

func CanTransition(from, to PaymentStatus) bool {
	return allowedTransitions[from][to]
}

// Payment tracks one gateway intent for an order. IntentRef is the
// gateway's identifier; ExternalTxnID arrives later, with the webhook
// that settles the payment.
type Payment struct {
	ID            uuid.UUID     `json:"id"`
	OrderID       uuid.UUID     `json:"order_id"`
	Gateway       string        `json:"gateway"`
	IntentRef     string        `json:"intent_ref"`
	ExternalTxnID string        `json:"external_txn_id,omitempty"`
	Amount        money.Amount  `json:"amount_cents"`
	Currency      string        `json:"currency"`
	Status        PaymentStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Refund struct {
	ID         uuid.UUID    `json:"id"`
	PaymentID  uuid.UUID    `json:"payment_id"`
	Amount     money.Amount `json:"amount_cents"`
	Reason     string       `json:"reason,omitempty"`
	Restock    bool         `json:"restock"`
	GatewayRef string       `json:"gateway_ref,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

package order

import (
	"time"

	"github.com/gofrs/uuid"

	"github.com/eytgaming/checkout-service/internal/money"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

func (os OrderStatus) String() string {
	return string(os)
}

// allowedTransitions is the whole lifecycle: orders move forward
// through fulfilment or get cancelled while still pending. Terminal
// states allow nothing.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

func CanTransition(from, to OrderStatus) bool {
	transitions, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return transitions[to]
}

func (os OrderStatus) Terminal() bool {
	return len(allowedTransitions[os]) == 0
}

type ShippingAddress struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Line snapshots the product name and price at purchase time. Later
// catalog edits never touch these rows.
type Line struct {
	ID          uuid.UUID    `json:"id"`
	OrderID     uuid.UUID    `json:"order_id"`
	ProductID   uuid.UUID    `json:"product_id"`
	ProductName string       `json:"product_name"`
	UnitPrice   money.Amount `json:"unit_price_cents"`
	Quantity    int          `json:"quantity"`
	LineTotal   money.Amount `json:"line_total_cents"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Order struct {
	ID        uuid.UUID       `json:"id"`
	Number    string          `json:"number"`
	UserID    uuid.UUID       `json:"user_id"`
	Status    OrderStatus     `json:"status"`
	Subtotal  money.Amount    `json:"subtotal_cents"`
	Shipping  money.Amount    `json:"shipping_cents"`
	Tax       money.Amount    `json:"tax_cents"`
	Total     money.Amount    `json:"total_cents"`
	Currency  string          `json:"currency"`
	Address   ShippingAddress `json:"shipping_address"`
	Lines     []Line          `json:"lines"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

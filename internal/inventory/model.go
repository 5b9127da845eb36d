package inventory

import (
	"time"

	"github.com/gofrs/uuid"
)

// Reservation records stock taken out of a product for one order line.
// It is written inside the order-creation transaction and flipped to
// released at most once when the order is cancelled or restocked.
type Reservation struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"order_id"`
	OrderLineID uuid.UUID `json:"order_line_id"`
	ProductID   uuid.UUID `json:"product_id"`
	Quantity    int       `json:"quantity"`
	Released    bool      `json:"released"`
	CreatedAt   time.Time `json:"created_at"`
}

type ReserveRequest struct {
	OrderID     uuid.UUID
	OrderLineID uuid.UUID
	ProductID   uuid.UUID
	Quantity    int
}

package catalog

import (
	"time"

	"github.com/gofrs/uuid"

	"github.com/eytgaming/checkout-service/internal/money"
)

// Product is the catalog entry. StockQuantity is owned by the inventory
// ledger; nothing in this package mutates it.
type Product struct {
	ID            uuid.UUID    `json:"id"`
	SKU           string       `json:"sku"`
	Name          string       `json:"name"`
	Price         money.Amount `json:"price_cents"`
	Currency      string       `json:"currency"`
	Active        bool         `json:"active"`
	StockQuantity int          `json:"stock_quantity"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

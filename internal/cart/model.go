package cart

import (
	"time"

	"github.com/gofrs/uuid"

	"github.com/eytgaming/checkout-service/internal/catalog"
	"github.com/eytgaming/checkout-service/internal/money"
)

// Cart belongs to exactly one owner: a logged-in user or an anonymous
// session. The database enforces the one-of rule and one cart per owner.
type Cart struct {
	ID         uuid.UUID  `json:"id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	SessionKey *string    `json:"session_key,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type Line struct {
	ID        uuid.UUID `json:"id"`
	CartID    uuid.UUID `json:"cart_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Owner identifies whose cart an operation targets.
type Owner struct {
	UserID     *uuid.UUID
	SessionKey *string
}

func OwnerForUser(userID uuid.UUID) Owner {
	return Owner{UserID: &userID}
}

func OwnerForSession(sessionKey string) Owner {
	return Owner{SessionKey: &sessionKey}
}

func (o Owner) Valid() bool {
	return (o.UserID != nil) != (o.SessionKey != nil && *o.SessionKey != "")
}

// View is a cart joined with current catalog data. Prices here are
// informational; the authoritative snapshot happens at checkout.
type View struct {
	Cart     Cart         `json:"cart"`
	Lines    []ViewLine   `json:"lines"`
	Subtotal money.Amount `json:"subtotal_cents"`
	Currency string       `json:"currency"`
}

type ViewLine struct {
	ProductID uuid.UUID    `json:"product_id"`
	Name      string       `json:"name"`
	UnitPrice money.Amount `json:"unit_price_cents"`
	Quantity  int          `json:"quantity"`
	LineTotal money.Amount `json:"line_total_cents"`
}

const (
	ProblemProductNotFound   = "product_not_found"
	ProblemProductInactive   = "product_inactive"
	ProblemInsufficientStock = "insufficient_stock"
)

// LineProblem is one reason a cart line cannot be checked out.
// Available is only meaningful for insufficient stock.
type LineProblem struct {
	ProductID uuid.UUID `json:"product_id"`
	Reason    string    `json:"reason"`
	Requested int       `json:"requested,omitempty"`
	Available int       `json:"available,omitempty"`
}

// Total sums line prices against the given catalog snapshot. Lines
// whose product is missing from the snapshot contribute zero; cart
// validation is where they get reported.
func Total(lines []Line, products map[uuid.UUID]catalog.Product) money.Amount {
	var subtotal money.Amount
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			continue
		}
		subtotal = subtotal.Add(product.Price.Mul(line.Quantity))
	}
	return subtotal
}

// FindProblems reports every line that would block a checkout, not just
// the first one. Pure over its inputs; the authoritative stock re-check
// still happens under row locks during order creation.
func FindProblems(lines []Line, products map[uuid.UUID]catalog.Product) []LineProblem {
	var problems []LineProblem
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			problems = append(problems, LineProblem{
				ProductID: line.ProductID,
				Reason:    ProblemProductNotFound,
			})
			continue
		}
		if !product.Active {
			problems = append(problems, LineProblem{
				ProductID: line.ProductID,
				Reason:    ProblemProductInactive,
			})
			continue
		}
		if product.StockQuantity < line.Quantity {
			problems = append(problems, LineProblem{
				ProductID: line.ProductID,
				Reason:    ProblemInsufficientStock,
				Requested: line.Quantity,
				Available: product.StockQuantity,
			})
		}
	}
	return problems
}
